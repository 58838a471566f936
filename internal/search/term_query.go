package search

// searchMatch is one scored hit, gathered off a Scorer by runWeight (or,
// for bare term lookups below, assembled directly from postings) before
// scoreAndSort turns it into a Result.
type searchMatch struct {
	docID       string
	tf          float64
	fieldLength uint64
	field       string
}

// termSearch resolves a single term, optionally scoped to one field, via
// the shared Weight/Scorer/runWeight path every other query type uses.
func (s *Searcher) termSearch(term, field string) ([]Result, error) {
	return s.runWeight(&termWeight{term: term, field: field}, field)
}
