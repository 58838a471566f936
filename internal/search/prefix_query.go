package search

// prefixSearch matches every term with the given prefix, through the
// shared Weight/Scorer/runWeight path.
func (s *Searcher) prefixSearch(prefix, field string) ([]Result, error) {
	return s.runWeight(&prefixWeight{prefix: prefix, field: field}, field)
}
