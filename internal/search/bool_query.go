package search

import (
	"fmt"

	"github.com/invertdex/invertdex/internal/query"
)

func (s *Searcher) boolSearch(q *query.BoolQuery) ([]Result, error) {
	w, err := s.boolWeightFor(q)
	if err != nil {
		return nil, err
	}
	return s.runWeight(w, "")
}

// flattenBoolQuery extracts nested MustNot clauses from Must/Should.
// For example, "A AND NOT B" parses as BoolQuery{Must: [A, BoolQuery{MustNot: [B]}]}
// This flattens it to Must: [A], MustNot: [B]
func flattenBoolQuery(q *query.BoolQuery) (must, mustNot, should []query.Query) {
	mustNot = append(mustNot, q.MustNot...)
	should = append(should, q.Should...)

	for _, m := range q.Must {
		if bq, ok := m.(*query.BoolQuery); ok {
			// Check if this is a pure MustNot query (no Must/Should)
			if len(bq.Must) == 0 && len(bq.Should) == 0 && len(bq.MustNot) > 0 {
				// Hoist the MustNot clauses to the parent
				mustNot = append(mustNot, bq.MustNot...)
				continue
			}
		}
		must = append(must, m)
	}

	return must, mustNot, should
}

// boolWeightFor flattens q and builds the boolWeight that composes its
// clauses' Scorers (conjunctionScorer for Must, disjunctionScorer for
// Should, exclusionScorer for MustNot). A Must clause that itself resolves
// to no Weight (matches nothing) empties the whole conjunction, mirroring
// the old "AND with empty = empty" short circuit.
func (s *Searcher) boolWeightFor(q *query.BoolQuery) (Weight, error) {
	must, mustNot, should := flattenBoolQuery(q)

	if err := s.checkClauseCount(len(must) + len(should) + len(mustNot)); err != nil {
		return nil, err
	}
	if len(must) == 0 && len(should) == 0 && len(mustNot) > 0 {
		return nil, fmt.Errorf("NOT queries require a positive clause")
	}

	mustWeights := make([]Weight, 0, len(must))
	for _, m := range must {
		w, err := s.weightFor(m)
		if err != nil {
			return nil, err
		}
		if w == nil {
			return nil, nil
		}
		mustWeights = append(mustWeights, w)
	}

	shouldWeights, err := s.weightsFor(should)
	if err != nil {
		return nil, err
	}
	mustNotWeights, err := s.weightsFor(mustNot)
	if err != nil {
		return nil, err
	}

	if len(mustWeights) == 0 && len(shouldWeights) == 0 {
		return nil, nil
	}

	return &boolWeight{must: mustWeights, should: shouldWeights, mustNot: mustNotWeights}, nil
}
