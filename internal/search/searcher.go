package search

import (
	"fmt"

	"github.com/invertdex/invertdex/internal/errs"
	"github.com/invertdex/invertdex/internal/index"
	"github.com/invertdex/invertdex/internal/query"
)

// Result represents a search hit with score.
type Result struct {
	DocID        string
	Score        float64
	Doc          map[string]any
	MatchedTerms []string
}

// DefaultMaxClauseCount bounds how many clauses a boolean query may carry
// and how many concrete terms an automaton query (regex, fuzzy) may expand
// to, matching the classic BooleanQuery.maxClauseCount default.
const DefaultMaxClauseCount = 1024

// Searcher performs searches on an index snapshot.
type Searcher struct {
	snapshot       *index.IndexSnapshot
	fieldCache     *FieldCache
	maxClauseCount int
}

// New creates a new searcher for a snapshot.
func New(snapshot *index.IndexSnapshot) *Searcher {
	return &Searcher{
		snapshot:       snapshot,
		fieldCache:     NewFieldCache(),
		maxClauseCount: DefaultMaxClauseCount,
	}
}

// SetMaxClauseCount overrides the clause-expansion limit; n < 1 is rejected.
func (s *Searcher) SetMaxClauseCount(n int) error {
	if n < 1 {
		return errs.New(errs.IllegalArgument, "max clause count must be positive")
	}
	s.maxClauseCount = n
	return nil
}

// checkClauseCount rejects a query whose clause or expanded-term count
// exceeds the configured limit.
func (s *Searcher) checkClauseCount(n int) error {
	if n > s.maxClauseCount {
		return errs.New(errs.IllegalArgument,
			fmt.Sprintf("query expands to %d clauses, over the %d limit", n, s.maxClauseCount))
	}
	return nil
}

// Close releases searcher resources.
func (s *Searcher) Close() error {
	return nil
}

// RunQueryString parses and executes a query string.
func (s *Searcher) RunQueryString(queryString string) ([]Result, error) {
	tokens, err := query.Tokenize(queryString)
	if err != nil {
		return nil, err
	}

	ast, err := query.Parse(tokens)
	if err != nil {
		return nil, err
	}

	return s.execute(ast)
}

// RunQuery executes a pre-parsed query AST.
func (s *Searcher) RunQuery(q query.Query) ([]Result, error) {
	return s.execute(q)
}

// Search runs a single-term query against an optional field, the
// convenience entry point used by the REPL's bare "search <word>" form.
func (s *Searcher) Search(term, field string) ([]Result, error) {
	return s.termSearch(term, field)
}

// AndSearch returns documents containing every term (conjunction).
func (s *Searcher) AndSearch(terms []string, field string) ([]Result, error) {
	return s.RunQuery(&query.BoolQuery{Must: termQueries(terms, field)})
}

// OrSearch returns documents containing any term (disjunction).
func (s *Searcher) OrSearch(terms []string, field string) ([]Result, error) {
	return s.RunQuery(&query.BoolQuery{Should: termQueries(terms, field)})
}

func termQueries(terms []string, field string) []query.Query {
	queries := make([]query.Query, len(terms))
	for i, t := range terms {
		queries[i] = &query.TermQuery{Term: t, Field: field}
	}
	return queries
}

// execute executes a query AST and returns the results.
func (s *Searcher) execute(q query.Query) ([]Result, error) {
	if q == nil {
		return nil, nil
	}
	switch v := q.(type) {
	case *query.TermQuery:
		return s.termSearch(v.Term, v.Field)
	case *query.PhraseQuery:
		return s.sloppyPhraseSearch(v.Phrase, v.Field, v.Slop)
	case *query.MultiPhraseQuery:
		if len(v.Positions) == 0 {
			return nil, nil
		}
		return s.runWeight(&multiPhraseWeight{slots: v.Positions, field: v.Field, slop: uint64(v.Slop)}, v.Field)
	case *query.SpanTermQuery:
		return s.spanSearch(v, v.Field)
	case *query.SpanNearQuery:
		return s.spanSearch(v, v.Field)
	case *query.PrefixQuery:
		return s.prefixSearch(v.Prefix, v.Field)
	case *query.RegexQuery:
		return s.regexSearch(v.Pattern, v.Field)
	case *query.FuzzyQuery:
		return s.fuzzySearch(v.Term, v.Fuzziness, v.Field)
	case *query.TermRangeQuery:
		return s.termRangeSearch(v)
	case *query.NumericRangeQuery:
		return s.numericRangeSearch(v)
	case *query.BoolQuery:
		return s.boolSearch(v)
	case *query.MatchAllQuery:
		return s.runWeight(matchAllWeight{}, "")
	case *query.MatchNoneQuery:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown query type: %T", q)
	}
}
