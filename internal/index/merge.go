package index

import (
	"time"

	"github.com/invertdex/invertdex/internal/errs"
	"github.com/invertdex/invertdex/internal/manifest"
	"github.com/invertdex/invertdex/internal/mergepolicy"
	"github.com/invertdex/invertdex/internal/mergescheduler"
	"github.com/invertdex/invertdex/internal/segment"
)

// segmentByteSize asks the Directory for a segment's compound-file size,
// the SegmentSize callback mergepolicy.MergePolicy needs to bucket segments
// by size (spec §4.5).
func (idx *Index) segmentByteSize(si manifest.SegmentInfo) int64 {
	n, err := idx.fsDir.FileLength(si.SegmentFileName())
	if err != nil {
		return 0
	}
	return n
}

// scheduleMerges asks the merge policy for work over the current manifest
// and dispatches it to the merge scheduler. Callers must NOT hold idx.mu:
// each dispatched task acquires it itself inside Execute, and a
// SerialMergeScheduler runs tasks inline on the calling goroutine.
func (idx *Index) scheduleMerges() {
	idx.mu.Lock()
	if idx.closed {
		idx.mu.Unlock()
		return
	}
	spec := idx.mergePolicy.FindMerges(idx.manifestState.Segments, idx.registeredSegs, idx.segmentByteSize)
	tasks := idx.registerAndBuildTasks(spec)
	idx.mu.Unlock()

	if len(tasks) > 0 {
		idx.mergeScheduler.Schedule(tasks...)
	}
}

// registerAndBuildTasks marks every segment named in spec as registered (so
// a concurrent FindMerges call won't propose it again) and builds one
// MergeTask per OneMerge. Callers must hold idx.mu.
func (idx *Index) registerAndBuildTasks(spec *mergepolicy.MergeSpecification) []*mergescheduler.MergeTask {
	if spec == nil || len(spec.Merges) == 0 {
		return nil
	}
	tasks := make([]*mergescheduler.MergeTask, 0, len(spec.Merges))
	for _, m := range spec.Merges {
		merge := m
		for _, si := range merge.Segments {
			idx.registeredSegs[si.Name] = true
		}
		tasks = append(tasks, mergescheduler.NewMergeTask(mergeLabel(merge), func(aborted func() bool) error {
			return idx.runMerge(merge, aborted)
		}))
	}
	return tasks
}

func mergeLabel(m mergepolicy.OneMerge) string {
	label := "merge"
	for _, si := range m.Segments {
		label += ":" + si.Name
	}
	return label
}

// runMerge performs one OneMerge: it rebuilds a single segment from the
// live documents of m.Segments, commits the new manifest with the inputs
// replaced by the merged output at the position of the first input (per
// spec §4.4), persists doc-ID remappings, and reclaims the old segment and
// deletion-bitmap files. It acquires idx.mu itself so it can run either
// inline (SerialMergeScheduler) or on a scheduler worker goroutine
// (ConcurrentMergeScheduler) without the caller holding the lock.
func (idx *Index) runMerge(m mergepolicy.OneMerge, aborted func() bool) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.closed {
		return errs.New(errs.AlreadyClosed, "index is closed")
	}

	defer func() {
		for _, si := range m.Segments {
			delete(idx.registeredSegs, si.Name)
		}
	}()

	inputs := make(map[string]manifest.SegmentInfo, len(m.Segments))
	for _, si := range m.Segments {
		inputs[si.Name] = si
	}

	builder := segment.NewBuilder(idx.analyzer)
	checked := 0
	for _, si := range m.Segments {
		seg, err := idx.openSegmentForMerge(si)
		if err != nil {
			return err
		}
		deleted, err := idx.getDeletions(si)
		if err != nil {
			seg.Close()
			return err
		}

		for docNum := uint64(0); docNum < seg.NumDocs(); docNum++ {
			checked++
			if checked%10000 == 0 && aborted() {
				seg.Close()
				return errs.New(errs.MergeAborted, "merge aborted")
			}
			if deleted.Contains(uint32(docNum)) {
				continue
			}
			extID, ok := seg.ExternalID(docNum)
			if !ok {
				continue
			}
			doc, err := seg.LoadDoc(docNum)
			if err != nil {
				continue
			}
			builder.Add(extID, doc)
		}
		seg.Close()
	}

	next := idx.manifestState.Clone()
	newName := next.NewSegmentName()
	segFile, err := builder.Build(idx.fsDir, newName)
	if err != nil {
		return err
	}
	newInfo := manifest.SegmentInfo{
		Name:    newName,
		NumDocs: builder.NumDocs(),
		DelGen:  -1,
	}

	merged := make([]manifest.SegmentInfo, 0, len(next.Segments))
	inserted := false
	for _, si := range next.Segments {
		if _, ok := inputs[si.Name]; ok {
			if !inserted {
				merged = append(merged, newInfo)
				inserted = true
			}
			continue
		}
		merged = append(merged, si)
	}
	if !inserted {
		merged = append(merged, newInfo)
	}
	next.Segments = merged

	if err := next.Commit(idx.fsDir); err != nil {
		idx.fsDir.DeleteFile(segFile)
		return err
	}

	if idx.docIDs != nil {
		for docNum, extID := range builder.DocIDs {
			if err := idx.docIDs.SetDocMapping(extID, newName, uint64(docNum)); err != nil {
				idx.logger.Warnw("failed to persist doc-id mapping after merge", "docID", extID, "error", err)
			}
		}
	}

	idx.manifestState = next
	if err := idx.loadSegments(); err != nil {
		return err
	}

	for _, si := range m.Segments {
		idx.removeObsoleteSegmentFiles(si)
	}

	idx.commits = append(idx.commits, &commitRecord{
		gen:      next.Generation,
		files:    next.ReferencedFiles(),
		userData: next.UserData,
		ts:       time.Now(),
	})
	if err := idx.deletionPolicy.OnCommit(idx.asCommits()); err != nil {
		idx.logger.Warnw("deletion policy OnCommit failed after merge", "error", err)
	}
	idx.pruneDeletedCommits()

	idx.logger.Infow("merge finished", "output", newName, "inputs", len(m.Segments), "docs", newInfo.NumDocs)
	return nil
}

// openSegmentForMerge opens an input segment with its own handle,
// independent of idx.segments (which already reflects the post-merge
// manifest by the time a queued task runs).
func (idx *Index) openSegmentForMerge(si manifest.SegmentInfo) (*segment.Segment, error) {
	seg, err := segment.Open(idx.fsDir, si.SegmentFileName(), si.Name)
	if err != nil {
		return nil, errs.Wrap(err, errs.CorruptIndex, "open segment "+si.Name+" for merge")
	}
	return seg, nil
}

func (idx *Index) removeObsoleteSegmentFiles(si manifest.SegmentInfo) {
	if err := idx.fsDir.DeleteFile(si.SegmentFileName()); err != nil {
		idx.logger.Warnw("failed to delete merged segment file", "file", si.SegmentFileName(), "error", err)
	}
	if si.HasDeletions() {
		if err := idx.fsDir.DeleteFile(si.DelFileName()); err != nil {
			idx.logger.Warnw("failed to delete merged segment's deletion file", "file", si.DelFileName(), "error", err)
		}
	}
}

// ForceMerge synchronously merges down to at most maxSegments segments (a
// single argument; variadic only so callers can omit it to mean "optimize
// to one segment"), per spec §4.4's "optimize blocks until done".
func (idx *Index) ForceMerge(maxSegments ...int) error {
	max := 1
	if len(maxSegments) > 0 && maxSegments[0] > 0 {
		max = maxSegments[0]
	}

	for {
		idx.mu.Lock()
		if idx.closed {
			idx.mu.Unlock()
			return errs.New(errs.AlreadyClosed, "index is closed")
		}
		if len(idx.manifestState.Segments) <= max {
			idx.mu.Unlock()
			return nil
		}
		spec := idx.mergePolicy.FindMergesForOptimize(idx.manifestState.Segments, max, idx.registeredSegs)
		merges := append([]mergepolicy.OneMerge(nil), spec.Merges...)
		for _, m := range merges {
			for _, si := range m.Segments {
				idx.registeredSegs[si.Name] = true
			}
		}
		idx.mu.Unlock()

		if len(merges) == 0 {
			return nil
		}
		for _, m := range merges {
			if err := idx.runMerge(m, neverAborted); err != nil {
				return err
			}
		}
	}
}

func neverAborted() bool { return false }
