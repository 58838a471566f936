package search

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/invertdex/invertdex/internal/query"
	"github.com/invertdex/invertdex/internal/segment"
)

// Weight builds this query's Scorer against one postings source: a
// persisted segment (segIdx is its index into s.snapshot.Segments()) or
// the in-memory builder (segIdx == -1). It returns a nil Scorer, not an
// error, when the source has nothing matching.
type Weight interface {
	Scorer(s *Searcher, segIdx int) (Scorer, error)
}

// combineFields folds a clause's per-field (or per-term) Scorers into one:
// nil if there were none, the Scorer itself if there was exactly one,
// otherwise their disjunction.
func combineFields(subs []Scorer) Scorer {
	switch len(subs) {
	case 0:
		return nil
	case 1:
		return subs[0]
	default:
		return newDisjunctionScorer(subs)
	}
}

// filterDeletedBuilderPostings drops postings for docs the in-memory
// builder has marked deleted; persisted-segment postings are already
// filtered by SegmentSnapshot.Search against the segment's deletion bitmap,
// so the builder path needs the equivalent check inline.
func filterDeletedBuilderPostings(builder *segment.Builder, postings []segment.Posting) []segment.Posting {
	out := make([]segment.Posting, 0, len(postings))
	for _, p := range postings {
		if !builder.IsDeleted(p.DocNum) {
			out = append(out, p)
		}
	}
	return out
}

// mergeBuilderTerms merges every builder posting list for field whose term
// satisfies match, deduping by doc and summing frequencies/positions. It is
// the in-memory counterpart of segment.Segment.postingsInRange's
// FST-range merge, used by prefixWeight and rangeWeight's builder side so
// a doc matching several candidate terms scores once, not once per term.
func mergeBuilderTerms(builder *segment.Builder, field string, match func(term string) bool) []segment.Posting {
	fieldTerms, ok := builder.Fields[field]
	if !ok {
		return nil
	}

	byDoc := make(map[uint64]segment.Posting)
	for term, postings := range fieldTerms {
		if !match(term) {
			continue
		}
		for _, p := range postings {
			if builder.IsDeleted(p.DocNum) {
				continue
			}
			if existing, ok := byDoc[p.DocNum]; ok {
				existing.Frequency += p.Frequency
				existing.Positions = append(existing.Positions, p.Positions...)
				byDoc[p.DocNum] = existing
			} else {
				byDoc[p.DocNum] = p
			}
		}
	}

	out := make([]segment.Posting, 0, len(byDoc))
	for _, p := range byDoc {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocNum < out[j].DocNum })
	return out
}

// getFieldsToSearch resolves the candidate fields for a query: just field
// if it was given explicitly, otherwise every indexed field but _id.
func (s *Searcher) getFieldsToSearch(field string) []string {
	if field != "" {
		return []string{field}
	}

	fieldSet := make(map[string]bool)
	for _, segSnap := range s.snapshot.Segments() {
		for _, f := range segSnap.Segment().Fields() {
			if f != segment.IDField {
				fieldSet[f] = true
			}
		}
	}
	if builder := s.snapshot.Builder(); builder != nil {
		for f := range builder.Fields {
			if f != segment.IDField {
				fieldSet[f] = true
			}
		}
	}

	fields := make([]string, 0, len(fieldSet))
	for f := range fieldSet {
		fields = append(fields, f)
	}
	return fields
}

// termWeight is a single term, optionally scoped to one field; unscoped,
// it fans out across every candidate field and the per-field results are ORed.
type termWeight struct {
	term  string
	field string
}

func (w *termWeight) Scorer(s *Searcher, segIdx int) (Scorer, error) {
	fields := s.getFieldsToSearch(w.field)

	if segIdx >= 0 {
		segSnap := s.snapshot.Segments()[segIdx]
		subs := make([]Scorer, 0, len(fields))
		for _, f := range fields {
			postings, err := segSnap.Search(w.term, f)
			if err != nil {
				return nil, err
			}
			if len(postings) > 0 {
				subs = append(subs, newPostingsScorer(f, postings))
			}
		}
		return combineFields(subs), nil
	}

	builder := s.snapshot.Builder()
	if builder == nil {
		return nil, nil
	}
	subs := make([]Scorer, 0, len(fields))
	for _, f := range fields {
		fieldTerms, ok := builder.Fields[f]
		if !ok {
			continue
		}
		postings, ok := fieldTerms[w.term]
		if !ok {
			continue
		}
		postings = filterDeletedBuilderPostings(builder, postings)
		if len(postings) > 0 {
			subs = append(subs, newPostingsScorer(f, postings))
		}
	}
	return combineFields(subs), nil
}

// multiTermWeight ORs several concrete terms together — the shape a
// prefix/regex/fuzzy query rewrites to once its candidate terms are known.
type multiTermWeight struct {
	terms []string
	field string
}

func (w *multiTermWeight) Scorer(s *Searcher, segIdx int) (Scorer, error) {
	subs := make([]Scorer, 0, len(w.terms))
	for _, term := range w.terms {
		tw := &termWeight{term: term, field: w.field}
		sc, err := tw.Scorer(s, segIdx)
		if err != nil {
			return nil, err
		}
		if sc != nil {
			subs = append(subs, sc)
		}
	}
	return combineFields(subs), nil
}

// prefixWeight matches every term with the given prefix. Persisted
// segments resolve it in one FST range scan per field (Segment.PrefixPostings,
// already merged/summed across matching terms); the builder side merges
// the same way via mergeBuilderTerms so a doc isn't under-scored just
// because the in-memory segment has no FST yet.
type prefixWeight struct {
	prefix string
	field  string
}

func (w *prefixWeight) Scorer(s *Searcher, segIdx int) (Scorer, error) {
	fields := s.getFieldsToSearch(w.field)

	if segIdx >= 0 {
		segSnap := s.snapshot.Segments()[segIdx]
		seg := segSnap.Segment()
		subs := make([]Scorer, 0, len(fields))
		for _, f := range fields {
			postings, err := seg.PrefixPostings(w.prefix, f, segSnap.Deleted())
			if err != nil {
				continue
			}
			if len(postings) > 0 {
				subs = append(subs, newPostingsScorer(f, postings))
			}
		}
		return combineFields(subs), nil
	}

	builder := s.snapshot.Builder()
	if builder == nil {
		return nil, nil
	}
	subs := make([]Scorer, 0, len(fields))
	for _, f := range fields {
		postings := mergeBuilderTerms(builder, f, func(term string) bool {
			return strings.HasPrefix(term, w.prefix)
		})
		if len(postings) > 0 {
			subs = append(subs, newPostingsScorer(f, postings))
		}
	}
	return combineFields(subs), nil
}

// rangeWeight matches every term whose FST key falls within [low, high),
// used by both TermRangeQuery and NumericRangeQuery (the latter over
// sortably-encoded numeric terms). builderMatch re-tests the decoded/raw
// term against the original bounds for the in-memory side, which has no
// FST to range-scan.
type rangeWeight struct {
	field                      string
	low, high                  []byte
	includeLower, includeUpper bool
	builderMatch               func(term string) bool
}

func (w *rangeWeight) Scorer(s *Searcher, segIdx int) (Scorer, error) {
	fields := s.getFieldsToSearch(w.field)

	if segIdx >= 0 {
		segSnap := s.snapshot.Segments()[segIdx]
		seg := segSnap.Segment()
		subs := make([]Scorer, 0, len(fields))
		for _, f := range fields {
			postings, err := seg.RangePostings(w.low, w.high, w.includeLower, w.includeUpper, f, segSnap.Deleted())
			if err != nil {
				continue
			}
			if len(postings) > 0 {
				subs = append(subs, newPostingsScorer(f, postings))
			}
		}
		return combineFields(subs), nil
	}

	builder := s.snapshot.Builder()
	if builder == nil {
		return nil, nil
	}
	subs := make([]Scorer, 0, len(fields))
	for _, f := range fields {
		postings := mergeBuilderTerms(builder, f, w.builderMatch)
		if len(postings) > 0 {
			subs = append(subs, newPostingsScorer(f, postings))
		}
	}
	return combineFields(subs), nil
}

// phraseWeight conjuncts each term's per-field postings and verifies the
// position window via phraseScorer.
type phraseWeight struct {
	terms []string
	field string
	slop  uint64
}

func (w *phraseWeight) Scorer(s *Searcher, segIdx int) (Scorer, error) {
	fields := s.getFieldsToSearch(w.field)
	subs := make([]Scorer, 0, len(fields))

	for _, f := range fields {
		termScorers := make([]Scorer, 0, len(w.terms))

		if segIdx >= 0 {
			segSnap := s.snapshot.Segments()[segIdx]
			complete := true
			for _, term := range w.terms {
				postings, err := segSnap.Search(term, f)
				if err != nil || len(postings) == 0 {
					complete = false
					break
				}
				termScorers = append(termScorers, newPostingsScorer(f, postings))
			}
			if !complete {
				continue
			}
		} else {
			builder := s.snapshot.Builder()
			if builder == nil {
				return nil, nil
			}
			fieldTerms, ok := builder.Fields[f]
			if !ok {
				continue
			}
			complete := true
			for _, term := range w.terms {
				postings, ok := fieldTerms[term]
				if !ok {
					complete = false
					break
				}
				postings = filterDeletedBuilderPostings(builder, postings)
				if len(postings) == 0 {
					complete = false
					break
				}
				termScorers = append(termScorers, newPostingsScorer(f, postings))
			}
			if !complete {
				continue
			}
		}

		subs = append(subs, newPhraseScorer(termScorers, w.slop))
	}

	return combineFields(subs), nil
}

// matchAllWeight yields every live doc in the source at a neutral frequency
// of 1 — MatchAllQuery's binding.
type matchAllWeight struct{}

func (matchAllWeight) Scorer(s *Searcher, segIdx int) (Scorer, error) {
	if segIdx >= 0 {
		segSnap := s.snapshot.Segments()[segIdx]
		return newAllDocsScorer(segSnap.Segment().NumDocs(), segSnap.Deleted()), nil
	}
	builder := s.snapshot.Builder()
	if builder == nil {
		return nil, nil
	}
	return newAllDocsScorer(builder.TotalDocs(), builder.Deleted), nil
}

// multiPhraseWeight is phraseWeight with alternatives per slot: each slot's
// scorer is the disjunction of its terms' postings, so the slot's merged
// position list feeds the same ordered-window check a plain phrase uses.
type multiPhraseWeight struct {
	slots [][]string
	field string
	slop  uint64
}

func (w *multiPhraseWeight) Scorer(s *Searcher, segIdx int) (Scorer, error) {
	fields := s.getFieldsToSearch(w.field)
	subs := make([]Scorer, 0, len(fields))

	for _, f := range fields {
		slotScorers := make([]Scorer, 0, len(w.slots))
		complete := true

		for _, alts := range w.slots {
			altScorers := make([]Scorer, 0, len(alts))
			for _, term := range alts {
				if segIdx >= 0 {
					postings, err := s.snapshot.Segments()[segIdx].Search(term, f)
					if err != nil {
						return nil, err
					}
					if len(postings) > 0 {
						altScorers = append(altScorers, newPostingsScorer(f, postings))
					}
					continue
				}
				builder := s.snapshot.Builder()
				if builder == nil {
					return nil, nil
				}
				fieldTerms, ok := builder.Fields[f]
				if !ok {
					continue
				}
				postings := filterDeletedBuilderPostings(builder, fieldTerms[term])
				if len(postings) > 0 {
					altScorers = append(altScorers, newPostingsScorer(f, postings))
				}
			}
			slot := combineFields(altScorers)
			if slot == nil {
				complete = false
				break
			}
			slotScorers = append(slotScorers, slot)
		}

		if !complete {
			continue
		}
		if len(slotScorers) == 1 {
			subs = append(subs, slotScorers[0])
		} else {
			subs = append(subs, newPhraseScorer(slotScorers, w.slop))
		}
	}

	return combineFields(subs), nil
}

// boolWeight composes Must (conjunction), Should (disjunction) and MustNot
// (exclusion) child weights, following the classic Lucene BooleanScorer
// shape: a conjunction of Must and the Should-disjunction (when both are
// present), minus whatever MustNot's disjunction matches.
type boolWeight struct {
	must, should, mustNot []Weight
}

func (w *boolWeight) Scorer(s *Searcher, segIdx int) (Scorer, error) {
	var mustScorer Scorer
	if len(w.must) > 0 {
		subs := make([]Scorer, 0, len(w.must))
		for _, mw := range w.must {
			if mw == nil {
				return nil, nil
			}
			sc, err := mw.Scorer(s, segIdx)
			if err != nil {
				return nil, err
			}
			if sc == nil {
				return nil, nil
			}
			subs = append(subs, sc)
		}
		if len(subs) == 1 {
			mustScorer = subs[0]
		} else {
			mustScorer = newConjunctionScorer(subs)
		}
	}

	var shouldScorer Scorer
	if len(w.should) > 0 {
		subs := make([]Scorer, 0, len(w.should))
		for _, sw := range w.should {
			if sw == nil {
				continue
			}
			sc, err := sw.Scorer(s, segIdx)
			if err != nil {
				return nil, err
			}
			if sc != nil {
				subs = append(subs, sc)
			}
		}
		shouldScorer = combineFields(subs)
	}

	var base Scorer
	switch {
	case mustScorer != nil && shouldScorer != nil:
		base = newConjunctionScorer([]Scorer{mustScorer, shouldScorer})
	case mustScorer != nil:
		base = mustScorer
	case shouldScorer != nil:
		base = shouldScorer
	default:
		return nil, nil
	}

	if len(w.mustNot) == 0 {
		return base, nil
	}
	notSubs := make([]Scorer, 0, len(w.mustNot))
	for _, nw := range w.mustNot {
		if nw == nil {
			continue
		}
		sc, err := nw.Scorer(s, segIdx)
		if err != nil {
			return nil, err
		}
		if sc != nil {
			notSubs = append(notSubs, sc)
		}
	}
	excluded := combineFields(notSubs)
	if excluded == nil {
		return base, nil
	}
	return newExclusionScorer(base, excluded), nil
}

// weightFor translates a query AST node into the Weight that builds its
// Scorer, recursing into BoolQuery's clauses so an arbitrary nested query
// (e.g. a Should clause that is itself a phrase, or a Must clause that is
// itself a nested bool) composes into one Scorer tree rather than being
// executed and re-collected clause by clause.
func (s *Searcher) weightFor(q query.Query) (Weight, error) {
	if q == nil {
		return nil, nil
	}
	switch v := q.(type) {
	case *query.TermQuery:
		return &termWeight{term: v.Term, field: v.Field}, nil

	case *query.PhraseQuery:
		tokens := s.snapshot.Analyzer().Analyze(v.Phrase)
		if len(tokens) == 0 {
			return nil, nil
		}
		terms := make([]string, len(tokens))
		for i, t := range tokens {
			terms[i] = t.Token
		}
		if len(terms) == 1 {
			return &termWeight{term: terms[0], field: v.Field}, nil
		}
		return &phraseWeight{terms: terms, field: v.Field, slop: uint64(v.Slop)}, nil

	case *query.MultiPhraseQuery:
		if len(v.Positions) == 0 {
			return nil, nil
		}
		return &multiPhraseWeight{slots: v.Positions, field: v.Field, slop: uint64(v.Slop)}, nil

	case *query.PrefixQuery:
		return &prefixWeight{prefix: v.Prefix, field: v.Field}, nil

	case *query.RegexQuery:
		re, err := regexp.Compile(v.Pattern)
		if err != nil {
			return nil, err
		}
		terms := s.automatonTerms(v.Field,
			func(seg *segment.Segment, f string) ([]string, error) { return seg.MatchingTerms(v.Pattern, f) },
			func(term string) bool { return re.MatchString(term) },
		)
		if err := s.checkClauseCount(len(terms)); err != nil {
			return nil, err
		}
		if len(terms) == 0 {
			return nil, nil
		}
		return &multiTermWeight{terms: terms, field: v.Field}, nil

	case *query.FuzzyQuery:
		terms := s.automatonTerms(v.Field,
			func(seg *segment.Segment, f string) ([]string, error) { return seg.FuzzyTerms(v.Term, v.Fuzziness, f) },
			func(candidate string) bool { return levenshteinDistance(v.Term, candidate) <= int(v.Fuzziness) },
		)
		if err := s.checkClauseCount(len(terms)); err != nil {
			return nil, err
		}
		if len(terms) == 0 {
			return nil, nil
		}
		return &multiTermWeight{terms: terms, field: v.Field}, nil

	case *query.TermRangeQuery:
		var low, high []byte
		if !v.LowerUnbounded {
			low = []byte(v.Low)
		}
		if !v.UpperUnbounded {
			high = []byte(v.High)
		}
		return &rangeWeight{
			field: v.Field, low: low, high: high,
			includeLower: v.IncludeLower, includeUpper: v.IncludeUpper,
			builderMatch: func(term string) bool {
				return termInRange(term, v.Low, v.High, v.LowerUnbounded, v.UpperUnbounded, v.IncludeLower, v.IncludeUpper)
			},
		}, nil

	case *query.NumericRangeQuery:
		var low, high []byte
		if !v.LowerUnbounded {
			low = []byte(segment.EncodeNumeric(v.Low))
		}
		if !v.UpperUnbounded {
			high = []byte(segment.EncodeNumeric(v.High))
		}
		return &rangeWeight{
			field: v.Field, low: low, high: high,
			includeLower: v.IncludeLower, includeUpper: v.IncludeUpper,
			builderMatch: func(term string) bool {
				return numInRange(segment.DecodeNumeric(term), v.Low, v.High, v.LowerUnbounded, v.UpperUnbounded, v.IncludeLower, v.IncludeUpper)
			},
		}, nil

	case *query.BoolQuery:
		return s.boolWeightFor(v)

	case *query.SpanTermQuery, *query.SpanNearQuery:
		w, err := spanWeightFor(q, "")
		if err != nil {
			return nil, err
		}
		return w.(Weight), nil

	case *query.MatchAllQuery:
		return matchAllWeight{}, nil

	case *query.MatchNoneQuery:
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown query type: %T", q)
	}
}

// weightsFor converts each query in qs to a Weight, dropping any that
// resolve to nil (a clause that matched nothing).
func (s *Searcher) weightsFor(qs []query.Query) ([]Weight, error) {
	out := make([]Weight, 0, len(qs))
	for _, q := range qs {
		w, err := s.weightFor(q)
		if err != nil {
			return nil, err
		}
		if w != nil {
			out = append(out, w)
		}
	}
	return out, nil
}

// runWeight is the Collector: it walks w's Scorer across every segment
// (newest first) and the builder, translating each doc it yields to its
// external ID, deduping (an older segment's doc with the same external ID
// has been superseded and must not also appear), and handing the survivors
// to scoreAndSort.
func (s *Searcher) runWeight(w Weight, field string) ([]Result, error) {
	if w == nil {
		return nil, nil
	}

	seen := make(map[string]bool)
	var matches []searchMatch

	segments := s.snapshot.Segments()
	for i := len(segments) - 1; i >= 0; i-- {
		sc, err := w.Scorer(s, i)
		if err != nil {
			return nil, err
		}
		if sc == nil {
			continue
		}
		seg := segments[i].Segment()
		for sc.Next() {
			docNum := sc.DocNum()
			extID, ok := seg.ExternalID(docNum)
			if !ok || seen[extID] {
				continue
			}
			seen[extID] = true
			matchField := sc.Field()
			if matchField == "" {
				matchField = field
			}
			matches = append(matches, searchMatch{
				docID:       extID,
				tf:          float64(sc.Freq()),
				fieldLength: seg.FieldLength(matchField, docNum),
				field:       matchField,
			})
		}
	}

	if builder := s.snapshot.Builder(); builder != nil {
		sc, err := w.Scorer(s, -1)
		if err != nil {
			return nil, err
		}
		if sc != nil {
			for sc.Next() {
				docNum := sc.DocNum()
				if docNum >= uint64(len(builder.DocIDs)) {
					continue
				}
				extID := builder.DocIDs[docNum]
				if seen[extID] {
					continue
				}
				seen[extID] = true
				matchField := sc.Field()
				if matchField == "" {
					matchField = field
				}
				matches = append(matches, searchMatch{
					docID:       extID,
					tf:          float64(sc.Freq()),
					fieldLength: builder.FieldLength(matchField, docNum),
					field:       matchField,
				})
			}
		}
	}

	return s.scoreAndSort(matches, field), nil
}
