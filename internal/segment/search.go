package segment

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/RoaringBitmap/roaring"
	"github.com/couchbase/vellum"
	"github.com/couchbase/vellum/levenshtein"
	"github.com/couchbase/vellum/regexp"
)

// getFieldMeta returns metadata for a field using O(1) map lookup.
func (s *Segment) getFieldMeta(fieldName string) *FieldMeta {
	return s.fieldMetaByName[fieldName]
}

// getFST returns the FST for a field, loading it lazily.
func (s *Segment) getFST(fieldName string) (*vellum.FST, error) {
	s.fstsMu.RLock()
	fst, ok := s.fsts[fieldName]
	s.fstsMu.RUnlock()
	if ok {
		return fst, nil
	}

	s.fstsMu.Lock()
	defer s.fstsMu.Unlock()

	// Double-check after acquiring write lock
	if fst, ok := s.fsts[fieldName]; ok {
		return fst, nil
	}

	meta := s.getFieldMeta(fieldName)
	if meta == nil {
		return nil, fmt.Errorf("field not found: %s", fieldName)
	}

	// FST data starts after the 8-byte size prefix
	fstOffset := meta.DictOffset
	fstSize := binary.BigEndian.Uint64(s.data[fstOffset:])
	fstData := s.data[fstOffset+8 : fstOffset+8+fstSize]

	fst, err := vellum.Load(fstData)
	if err != nil {
		return nil, fmt.Errorf("failed to load FST for field %s: %w", fieldName, err)
	}

	s.fsts[fieldName] = fst
	return fst, nil
}

// Search searches for a term in a specific field.
func (s *Segment) Search(term, fieldName string, deleted *roaring.Bitmap) ([]Posting, error) {
	fst, err := s.getFST(fieldName)
	if err != nil {
		return nil, err
	}

	val, exists, err := fst.Get([]byte(term))
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}

	meta := s.getFieldMeta(fieldName)
	postingsOffset := meta.PostingsOffset + val
	postings, err := decodePostings(s.data[postingsOffset:])
	if err != nil {
		return nil, err
	}

	// Filter deleted documents
	if deleted != nil && !deleted.IsEmpty() {
		filtered := make([]Posting, 0, len(postings))
		for _, p := range postings {
			if !deleted.Contains(uint32(p.DocNum)) {
				filtered = append(filtered, p)
			}
		}
		return filtered, nil
	}

	return postings, nil
}

// decodePostings decodes a posting list from segment data.
func decodePostings(data []byte) ([]Posting, error) {
	return DecodePostings(data)
}

// searchWithAutomaton is a helper that searches FST using any vellum automaton.
func (s *Segment) searchWithAutomaton(fieldName string, aut vellum.Automaton) ([]string, error) {
	fst, err := s.getFST(fieldName)
	if err != nil {
		return nil, err
	}

	iter, err := fst.Search(aut, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to search FST: %w", err)
	}

	var terms []string
	for err == nil {
		key, _ := iter.Current()
		terms = append(terms, string(key))
		err = iter.Next()
	}

	if err != vellum.ErrIteratorDone {
		return nil, err
	}

	return terms, nil
}

// MatchingTerms returns all terms in a field that match the given regex pattern.
func (s *Segment) MatchingTerms(pattern, fieldName string) ([]string, error) {
	aut, err := regexp.New(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex pattern: %w", err)
	}
	return s.searchWithAutomaton(fieldName, aut)
}

// FuzzyTerms returns all terms in a field within edit distance of the query.
func (s *Segment) FuzzyTerms(term string, fuzziness uint8, fieldName string) ([]string, error) {
	builder, err := levenshtein.NewLevenshteinAutomatonBuilder(fuzziness, true)
	if err != nil {
		return nil, fmt.Errorf("failed to create levenshtein builder: %w", err)
	}

	aut, err := builder.BuildDfa(term, fuzziness)
	if err != nil {
		return nil, fmt.Errorf("failed to build fuzzy automaton: %w", err)
	}

	return s.searchWithAutomaton(fieldName, aut)
}

// PrefixPostings returns all postings for terms matching the prefix.
// More efficient than a separate Search call per matching term.
func (s *Segment) PrefixPostings(prefix, fieldName string, deleted *roaring.Bitmap) ([]Posting, error) {
	start := []byte(prefix)
	end := prefixSuccessor(start)
	return s.postingsInRange(fieldName, start, end, deleted)
}

// RangePostings returns the merged postings for every term in fieldName
// whose FST key falls within [low, high), honoring IncludeLower/IncludeUpper
// by nudging a bound to its immediate successor key (the bound plus a zero
// byte — the smallest key strictly greater than it, so extensions of the
// bound term stay in or out correctly; prefixSuccessor would skip them).
// vellum's Iterator treats its end bound as exclusive. A nil bound means
// unbounded on that side.
func (s *Segment) RangePostings(low, high []byte, includeLower, includeUpper bool, fieldName string, deleted *roaring.Bitmap) ([]Posting, error) {
	start := low
	if start != nil && !includeLower {
		start = append(bytes.Clone(start), 0)
	}
	end := high
	if end != nil && includeUpper {
		end = append(bytes.Clone(end), 0)
	}
	return s.postingsInRange(fieldName, start, end, deleted)
}

// postingsInRange walks fieldName's FST between [start, end) and merges the
// postings of every matched term, deduping by doc and summing frequencies.
func (s *Segment) postingsInRange(fieldName string, start, end []byte, deleted *roaring.Bitmap) ([]Posting, error) {
	fst, err := s.getFST(fieldName)
	if err != nil {
		return nil, err
	}

	meta := s.getFieldMeta(fieldName)
	if meta == nil {
		return nil, fmt.Errorf("field not found: %s", fieldName)
	}

	iter, err := fst.Iterator(start, end)
	if err != nil {
		if err == vellum.ErrIteratorDone {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to create iterator: %w", err)
	}

	docPostings := make(map[uint64]Posting)

	for err == nil {
		_, val := iter.Current()

		postingsOffset := meta.PostingsOffset + val
		postings, decodeErr := decodePostings(s.data[postingsOffset:])
		if decodeErr == nil {
			for _, p := range postings {
				if deleted != nil && deleted.Contains(uint32(p.DocNum)) {
					continue
				}
				if existing, ok := docPostings[p.DocNum]; ok {
					existing.Frequency += p.Frequency
					docPostings[p.DocNum] = existing
				} else {
					docPostings[p.DocNum] = p
				}
			}
		}

		err = iter.Next()
	}

	if err != vellum.ErrIteratorDone {
		return nil, err
	}

	// Convert map to slice
	result := make([]Posting, 0, len(docPostings))
	for _, p := range docPostings {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].DocNum < result[j].DocNum })

	return result, nil
}

// VisitFieldTerms walks fieldName's full term dictionary in key order,
// invoking fn with each term and its decoded postings. Used to materialize
// per-doc value arrays (the field cache) without going through a query.
func (s *Segment) VisitFieldTerms(fieldName string, fn func(term string, postings []Posting) error) error {
	fst, err := s.getFST(fieldName)
	if err != nil {
		return err
	}
	meta := s.getFieldMeta(fieldName)
	if meta == nil {
		return fmt.Errorf("field not found: %s", fieldName)
	}

	iter, err := fst.Iterator(nil, nil)
	if err != nil {
		if err == vellum.ErrIteratorDone {
			return nil
		}
		return fmt.Errorf("failed to create iterator: %w", err)
	}

	for err == nil {
		key, val := iter.Current()
		postings, decodeErr := decodePostings(s.data[meta.PostingsOffset+val:])
		if decodeErr != nil {
			return decodeErr
		}
		if e := fn(string(key), postings); e != nil {
			return e
		}
		err = iter.Next()
	}
	if err != vellum.ErrIteratorDone {
		return err
	}
	return nil
}
