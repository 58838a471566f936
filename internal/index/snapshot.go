package index

import (
	"sync/atomic"

	"github.com/RoaringBitmap/roaring"

	"github.com/invertdex/invertdex/internal/analysis"
	"github.com/invertdex/invertdex/internal/segment"
)

// SegmentSnapshot represents a segment with its deletion bitmap.
type SegmentSnapshot struct {
	seg     *segment.Segment
	deleted *roaring.Bitmap
}

// Segment returns the underlying segment.
func (s *SegmentSnapshot) Segment() *segment.Segment { return s.seg }

// Deleted returns the deletion bitmap.
func (s *SegmentSnapshot) Deleted() *roaring.Bitmap { return s.deleted }

// ID returns the segment ID.
func (s *SegmentSnapshot) ID() string { return s.seg.ID() }

// Search searches for a term in a field.
func (s *SegmentSnapshot) Search(term, field string) ([]segment.Posting, error) {
	return s.seg.Search(term, field, s.deleted)
}

// IndexSnapshot represents a point-in-time view of the index for searching.
// It holds a reference to every segment it covers; Close releases them.
type IndexSnapshot struct {
	segments    []*SegmentSnapshot
	builder     *segment.Builder
	epoch       uint64
	analyzer    analysis.Analyzer
	scoringMode ScoringMode

	closed int32
}

// Segments returns the segment snapshots.
func (s *IndexSnapshot) Segments() []*SegmentSnapshot { return s.segments }

// Builder returns the in-memory segment builder (may be nil).
func (s *IndexSnapshot) Builder() *segment.Builder { return s.builder }

// Analyzer returns the index's analyzer.
func (s *IndexSnapshot) Analyzer() analysis.Analyzer { return s.analyzer }

// ScoringMode returns the scoring mode for this snapshot.
func (s *IndexSnapshot) ScoringMode() ScoringMode { return s.scoringMode }

// docSource is one postings source contributing live documents toward a
// snapshot-wide aggregate (TotalDocs, AvgFieldLength): either a persisted
// segment or the in-memory builder. Unifying the two here means TotalDocs
// and AvgFieldLength walk one list instead of each repeating a
// segments-then-builder loop.
type docSource interface {
	liveDocs() uint64
	avgFieldLength(field string) float64
}

func (s *SegmentSnapshot) liveDocs() uint64 {
	n := s.seg.NumDocs()
	if s.deleted != nil {
		n -= s.deleted.GetCardinality()
	}
	return n
}

func (s *SegmentSnapshot) avgFieldLength(field string) float64 {
	return s.seg.AvgFieldLength(field)
}

type builderSource struct{ b *segment.Builder }

func (bs builderSource) liveDocs() uint64                    { return bs.b.NumDocs() }
func (bs builderSource) avgFieldLength(field string) float64 { return bs.b.AvgFieldLength(field) }

func (s *IndexSnapshot) sources() []docSource {
	out := make([]docSource, 0, len(s.segments)+1)
	for _, seg := range s.segments {
		out = append(out, seg)
	}
	if s.builder != nil {
		out = append(out, builderSource{s.builder})
	}
	return out
}

// TotalDocs returns the total number of live documents across every segment
// and the in-memory builder.
func (s *IndexSnapshot) TotalDocs() uint64 {
	var total uint64
	for _, src := range s.sources() {
		total += src.liveDocs()
	}
	return total
}

// AvgFieldLength returns the average length of a field across every
// segment and the in-memory builder, weighted by each source's live doc
// count.
func (s *IndexSnapshot) AvgFieldLength(field string) float64 {
	var totalTokens, docCount uint64
	for _, src := range s.sources() {
		avg := src.avgFieldLength(field)
		if avg <= 0 {
			continue
		}
		n := src.liveDocs()
		totalTokens += uint64(avg * float64(n))
		docCount += n
	}
	if docCount == 0 {
		return 0
	}
	return float64(totalTokens) / float64(docCount)
}

// Close releases this snapshot's reference to every segment it covers.
func (s *IndexSnapshot) Close() error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil
	}
	for _, ss := range s.segments {
		ss.seg.Close()
	}
	return nil
}
