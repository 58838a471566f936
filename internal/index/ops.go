package index

import (
	"path/filepath"

	"github.com/RoaringBitmap/roaring"

	"github.com/invertdex/invertdex/internal/errs"
	"github.com/invertdex/invertdex/internal/manifest"
)

// getDeletions returns the live deletion bitmap for a manifest segment:
// whatever is already persisted to its .del file, unioned with any
// not-yet-flushed deletes buffered against it in this writer.
func (idx *Index) getDeletions(si manifest.SegmentInfo) (*roaring.Bitmap, error) {
	persisted, err := idx.readDeletions(si)
	if err != nil {
		return nil, err
	}
	if pending := idx.pendingDeletions[si.Name]; pending != nil {
		persisted.Or(pending)
	}
	return persisted, nil
}

func (idx *Index) segmentInfo(segID string) (manifest.SegmentInfo, bool) {
	for _, si := range idx.manifestState.Segments {
		if si.Name == segID {
			return si, true
		}
	}
	return manifest.SegmentInfo{}, false
}

// Snapshot returns a point-in-time view of the index for searching,
// reflecting every committed segment plus the still-buffered in-RAM
// builder, per spec §4.8.
func (idx *Index) Snapshot() (*IndexSnapshot, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.closed {
		return nil, errs.New(errs.AlreadyClosed, "index is closed")
	}

	snapshots := make([]*SegmentSnapshot, len(idx.segments))
	for i, seg := range idx.segments {
		si, _ := idx.segmentInfo(seg.ID())
		deleted, err := idx.getDeletions(si)
		if err != nil {
			for _, ss := range snapshots[:i] {
				ss.seg.Close()
			}
			return nil, err
		}
		seg.IncRef()
		snapshots[i] = &SegmentSnapshot{seg: seg, deleted: deleted}
	}

	return &IndexSnapshot{
		segments:    snapshots,
		builder:     idx.builder,
		epoch:       uint64(idx.manifestState.Generation),
		analyzer:    idx.analyzer,
		scoringMode: idx.scoringMode,
	}, nil
}

// NumSegments returns the number of live segments.
func (idx *Index) NumSegments() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.segments)
}

// SegmentInfo holds info about a segment, returned by Segments.
type SegmentInfo struct {
	ID      string
	Path    string
	NumDocs uint64
}

// Segments returns info about every live segment.
func (idx *Index) Segments() []SegmentInfo {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	info := make([]SegmentInfo, len(idx.segments))
	for i, seg := range idx.segments {
		info[i] = SegmentInfo{
			ID:      seg.ID(),
			Path:    filepath.Join(idx.dir, seg.ID()+".seg"),
			NumDocs: seg.NumDocs(),
		}
	}
	return info
}

// SegmentStats holds detailed stats for one segment.
type SegmentStats struct {
	NumDocs    uint64
	NumDeleted uint64
	Fields     []string
}

// SegmentStats returns detailed stats for a segment by name.
func (idx *Index) SegmentStats(segID string) (*SegmentStats, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	si, ok := idx.segmentInfo(segID)
	if !ok {
		return nil, errs.New(errs.IllegalArgument, "segment not found: "+segID)
	}
	for _, seg := range idx.segments {
		if seg.ID() == segID {
			deleted, err := idx.getDeletions(si)
			if err != nil {
				return nil, err
			}
			return &SegmentStats{
				NumDocs:    seg.NumDocs(),
				NumDeleted: deleted.GetCardinality(),
				Fields:     seg.Fields(),
			}, nil
		}
	}
	return nil, errs.New(errs.IllegalArgument, "segment not found: "+segID)
}

// LoadDoc loads a document from a segment by docNum.
func (idx *Index) LoadDoc(segID string, docNum uint64) (map[string]any, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	for _, seg := range idx.segments {
		if seg.ID() == segID {
			return seg.LoadDoc(docNum)
		}
	}
	return nil, errs.New(errs.IllegalArgument, "segment not found: "+segID)
}

// PostingEntry is one raw posting, returned by DumpPostings.
type PostingEntry struct {
	SegmentID string
	DocNum    uint64
	Freq      uint64
	Positions []uint64
}

// DumpPostings returns raw postings for a field:term across all segments.
func (idx *Index) DumpPostings(field, term string) ([]PostingEntry, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var results []PostingEntry
	for _, seg := range idx.segments {
		postings, err := seg.Search(term, field, nil)
		if err != nil {
			continue
		}
		for _, p := range postings {
			results = append(results, PostingEntry{
				SegmentID: seg.ID(),
				DocNum:    p.DocNum,
				Freq:      p.Frequency,
				Positions: p.Positions,
			})
		}
	}
	return results, nil
}

// DumpDeletions returns the deleted docNums for a segment.
func (idx *Index) DumpDeletions(segID string) ([]uint32, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	si, ok := idx.segmentInfo(segID)
	if !ok {
		return nil, errs.New(errs.IllegalArgument, "segment not found: "+segID)
	}
	deleted, err := idx.getDeletions(si)
	if err != nil {
		return nil, err
	}
	return deleted.ToArray(), nil
}
