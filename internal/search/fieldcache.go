package search

import (
	"math"
	"sort"
	"sync"

	"github.com/invertdex/invertdex/internal/query"
	"github.com/invertdex/invertdex/internal/segment"
)

// FieldCache lazily materializes, per (segment, field), the dense per-doc
// numeric value array behind constant-per-doc range filtering. An entry is
// built once, under its own creation lock, by walking the field's term
// dictionary; concurrent callers block on that one entry and then share the
// result. The cache belongs to a Searcher and dies with its snapshot, so
// entries never outlive the segments they index into.
//
// Only numeric fields make sense here: the builder writes numeric values as
// 8-byte sortable keys, and that is the shape the scan decodes: any 8-byte
// term is decoded as a number, and docs with no such term stay NaN.
type FieldCache struct {
	mu      sync.Mutex
	entries map[fieldCacheKey]*fieldCacheEntry
}

type fieldCacheKey struct {
	segID string
	field string
}

type fieldCacheEntry struct {
	once sync.Once
	vals []float64
}

// NewFieldCache creates an empty cache.
func NewFieldCache() *FieldCache {
	return &FieldCache{entries: make(map[fieldCacheKey]*fieldCacheEntry)}
}

func (c *FieldCache) entry(segID, field string) *fieldCacheEntry {
	key := fieldCacheKey{segID: segID, field: field}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		e = &fieldCacheEntry{}
		c.entries[key] = e
	}
	return e
}

// Doubles returns seg's per-doc numeric values for field, indexed by docNum,
// with NaN at every slot that has no value. The first call scans the field's
// term dictionary; later calls return the cached array.
func (c *FieldCache) Doubles(seg *segment.Segment, field string) []float64 {
	e := c.entry(seg.ID(), field)
	e.once.Do(func() {
		vals := make([]float64, seg.NumDocs())
		for i := range vals {
			vals[i] = math.NaN()
		}
		seg.VisitFieldTerms(field, func(term string, postings []segment.Posting) error {
			if len(term) != 8 {
				return nil
			}
			v := segment.DecodeNumeric(term)
			for _, p := range postings {
				if p.DocNum < uint64(len(vals)) {
					vals[p.DocNum] = v
				}
			}
			return nil
		})
		e.vals = vals
	})
	return e.vals
}

// FilterNumericRange evaluates q as a non-scoring filter: external IDs of
// every live doc whose field value falls within the bounds, resolved in
// constant time per doc off the field cache instead of an FST range scan.
// Cheaper than numericRangeSearch when the same field is filtered repeatedly
// over one snapshot; results are sorted by ID for determinism, not by score.
func (s *Searcher) FilterNumericRange(q *query.NumericRangeQuery) ([]string, error) {
	inRange := func(v float64) bool {
		return !math.IsNaN(v) &&
			numInRange(v, q.Low, q.High, q.LowerUnbounded, q.UpperUnbounded, q.IncludeLower, q.IncludeUpper)
	}

	seen := make(map[string]bool)
	var ids []string

	segments := s.snapshot.Segments()
	for i := len(segments) - 1; i >= 0; i-- {
		segSnap := segments[i]
		seg := segSnap.Segment()
		vals := s.fieldCache.Doubles(seg, q.Field)
		deleted := segSnap.Deleted()
		for docNum, v := range vals {
			if deleted != nil && deleted.Contains(uint32(docNum)) {
				continue
			}
			if !inRange(v) {
				continue
			}
			extID, ok := seg.ExternalID(uint64(docNum))
			if !ok || seen[extID] {
				continue
			}
			seen[extID] = true
			ids = append(ids, extID)
		}
	}

	if builder := s.snapshot.Builder(); builder != nil {
		if fieldTerms, ok := builder.Fields[q.Field]; ok {
			for term, postings := range fieldTerms {
				if len(term) != 8 || !inRange(segment.DecodeNumeric(term)) {
					continue
				}
				for _, p := range postings {
					if builder.IsDeleted(p.DocNum) || p.DocNum >= uint64(len(builder.DocIDs)) {
						continue
					}
					extID := builder.DocIDs[p.DocNum]
					if seen[extID] {
						continue
					}
					seen[extID] = true
					ids = append(ids, extID)
				}
			}
		}
	}

	sort.Strings(ids)
	return ids, nil
}
