package search

import (
	"regexp"

	"github.com/invertdex/invertdex/internal/segment"
)

// termMatcher is a function that checks if a term matches a pattern.
type termMatcher func(term string) bool

// segmentTermFinder extracts matching terms from a segment for a given field.
type segmentTermFinder func(seg *segment.Segment, field string) ([]string, error)

// regexSearch searches for documents containing terms that match the regex pattern.
func (s *Searcher) regexSearch(pattern, field string) ([]Result, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}

	return s.automatonSearch(field,
		func(seg *segment.Segment, f string) ([]string, error) {
			return seg.MatchingTerms(pattern, f)
		},
		func(term string) bool {
			return re.MatchString(term)
		},
	)
}

// fuzzySearch searches for documents containing terms within edit distance of the query.
func (s *Searcher) fuzzySearch(term string, fuzziness uint8, field string) ([]Result, error) {
	return s.automatonSearch(field,
		func(seg *segment.Segment, f string) ([]string, error) {
			return seg.FuzzyTerms(term, fuzziness, f)
		},
		func(candidate string) bool {
			return levenshteinDistance(term, candidate) <= int(fuzziness)
		},
	)
}

// automatonSearch resolves a regex/fuzzy query's matching term set and
// runs it as a multiTermWeight — the "conceptually a disjunction over
// matching terms" shape made literal, through the same runWeight Collector
// every other query type uses.
func (s *Searcher) automatonSearch(field string, segFinder segmentTermFinder, builderMatcher termMatcher) ([]Result, error) {
	terms := s.automatonTerms(field, segFinder, builderMatcher)
	if err := s.checkClauseCount(len(terms)); err != nil {
		return nil, err
	}
	if len(terms) == 0 {
		return nil, nil
	}
	return s.runWeight(&multiTermWeight{terms: terms, field: field}, field)
}

// automatonTerms collects every term across persisted segments and the
// in-memory builder satisfying segFinder/builderMatcher, for an automaton
// query (regex, fuzzy) to rewrite to a multiTermWeight.
func (s *Searcher) automatonTerms(field string, segFinder segmentTermFinder, builderMatcher termMatcher) []string {
	matchingTerms := make(map[string]bool)
	fields := s.getFieldsToSearch(field)

	for _, segSnap := range s.snapshot.Segments() {
		seg := segSnap.Segment()
		for _, f := range fields {
			terms, err := segFinder(seg, f)
			if err != nil {
				continue
			}
			for _, term := range terms {
				matchingTerms[term] = true
			}
		}
	}

	if builder := s.snapshot.Builder(); builder != nil {
		for _, f := range fields {
			if fieldTerms, ok := builder.Fields[f]; ok {
				for term := range fieldTerms {
					if builderMatcher(term) {
						matchingTerms[term] = true
					}
				}
			}
		}
	}

	terms := make([]string, 0, len(matchingTerms))
	for term := range matchingTerms {
		terms = append(terms, term)
	}
	return terms
}
