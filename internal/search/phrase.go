package search

// PhraseSearch searches for an exact phrase in a field. If field is empty,
// searches all fields. Exported for direct callers (the REPL) that already
// have the raw phrase string; execute's query-AST dispatch goes through the
// unexported phraseSearch instead, matching termSearch/prefixSearch/
// regexSearch/fuzzySearch.
func (s *Searcher) PhraseSearch(phrase, field string) ([]Result, error) {
	return s.phraseSearch(phrase, field)
}

func (s *Searcher) phraseSearch(phrase, field string) ([]Result, error) {
	return s.sloppyPhraseSearch(phrase, field, 0)
}

func (s *Searcher) sloppyPhraseSearch(phrase, field string, slop int) ([]Result, error) {
	tokens := s.snapshot.Analyzer().Analyze(phrase)
	if len(tokens) == 0 {
		return nil, nil
	}

	terms := make([]string, len(tokens))
	for i, t := range tokens {
		terms[i] = t.Token
	}

	if len(terms) == 1 {
		return s.Search(terms[0], field)
	}

	return s.runWeight(&phraseWeight{terms: terms, field: field, slop: uint64(slop)}, field)
}

// phraseMatch reports whether positions (one slice per phrase slot, in
// phrase order) contain an in-order occurrence of every slot with at most
// slop extra positions spread across the gaps. Slop 0 demands an exactly
// consecutive run. The greedy earliest-next-occurrence walk finds the
// tightest window for a given starting occurrence.
func phraseMatch(positions [][]uint64, slop uint64) bool {
	if len(positions) == 0 {
		return false
	}

	for _, start := range positions[0] {
		prev := start
		ok := true
		for i := 1; i < len(positions); i++ {
			next, found := smallestAtLeast(positions[i], prev+1)
			if !found {
				ok = false
				break
			}
			prev = next
		}
		if ok && prev-start+1 <= uint64(len(positions))+slop {
			return true
		}
	}
	return false
}

// smallestAtLeast returns the smallest element >= target. The slice need
// not be sorted: a multi-phrase slot merges several terms' positions, and
// that merge concatenates rather than re-sorts.
func smallestAtLeast(positions []uint64, target uint64) (uint64, bool) {
	var best uint64
	found := false
	for _, p := range positions {
		if p >= target && (!found || p < best) {
			best, found = p, true
		}
	}
	return best, found
}
