// Package index is the single-writer coordinator (spec §4.4): it binds the
// in-RAM doc-writer pipeline, the segments_N manifest, the pluggable merge
// policy/scheduler, and the deletion policy to a Directory under its
// write-lock. Grounded on the teacher's internal/index/{index.go,ops.go,
// merge.go,snapshot.go} for the coordinator shape, regeneralized onto
// internal/manifest, internal/mergepolicy, internal/mergescheduler and
// internal/deletepolicy instead of the teacher's Bolt-only bookkeeping.
package index

import (
	"os"
	"sync"

	"github.com/RoaringBitmap/roaring"
	"go.uber.org/zap"

	"github.com/invertdex/invertdex/internal/analysis"
	"github.com/invertdex/invertdex/internal/deletepolicy"
	"github.com/invertdex/invertdex/internal/directory"
	"github.com/invertdex/invertdex/internal/errs"
	"github.com/invertdex/invertdex/internal/manifest"
	"github.com/invertdex/invertdex/internal/mergepolicy"
	"github.com/invertdex/invertdex/internal/mergescheduler"
	"github.com/invertdex/invertdex/internal/segment"
	"github.com/invertdex/invertdex/internal/store"
)

// Index is the IndexWriter of spec §4.4: the single mutator for a
// directory, holding its write-lock for the Index's lifetime.
type Index struct {
	mu sync.RWMutex

	dir    string
	fsDir  directory.Directory
	lock   directory.Lock
	docIDs *store.Metadata // external ID -> (segment, docNum) reverse index; nil when running on a caller-supplied Directory

	threadStates *threadStatePool

	manifestState *manifest.SegmentInfos
	segments      []*segment.Segment
	builder       *segment.Builder

	pendingDeletions map[string]*roaring.Bitmap // segment name -> newly-deleted docNums, not yet written to a .del file

	commits        []*commitRecord
	registeredSegs map[string]bool // segment name -> currently an input to an in-flight merge

	commitUserData map[string]string // stamped into the next commit's manifest

	analyzer       analysis.Analyzer
	flushThreshold int
	ramBufferBytes uint64
	scoringMode    ScoringMode

	mergePolicy    mergepolicy.MergePolicy
	mergeScheduler mergescheduler.MergeScheduler
	deletionPolicy deletepolicy.DeletionPolicy

	logger *zap.SugaredLogger

	closed bool
}

// New opens or creates an index at config.Dir per config.OpenMode, acquiring
// the directory's write-lock. Only one Index may be open on a given
// directory at a time; a second New call fails with errs.LockObtainFailed
// once config.WriteLockTimeout elapses.
func New(config Config) (*Index, error) {
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	if config.FlushThreshold <= 0 && config.RAMBufferSizeMB <= 0 {
		return nil, errs.New(errs.IllegalArgument, "at least one of FlushThreshold and RAMBufferSizeMB must be enabled")
	}

	fsDir := config.Directory
	if fsDir == nil {
		if err := os.MkdirAll(config.Dir, 0755); err != nil {
			return nil, errs.Wrap(err, errs.Io, "create index directory "+config.Dir)
		}
		d, err := directory.NewFSDirectory(config.Dir)
		if err != nil {
			return nil, err
		}
		fsDir = d
	}

	lock, err := fsDir.ObtainLock("write.lock", config.WriteLockTimeout)
	if err != nil {
		fsDir.Close()
		return nil, err
	}

	// The Bolt-backed doc-ID side index needs an OS path of its own; on a
	// caller-supplied Directory the index runs without it and markObsolete
	// resolves IDs by FST lookup per segment instead.
	var docIDs *store.Metadata
	if config.Directory == nil {
		docIDs, err = store.NewMetadata(config.Dir)
		if err != nil {
			lock.Unlock()
			fsDir.Close()
			return nil, errs.Wrap(err, errs.Io, "open doc-id store")
		}
	}

	sis, err := openManifest(fsDir, config.OpenMode)
	if err != nil {
		if docIDs != nil {
			docIDs.Close()
		}
		lock.Unlock()
		fsDir.Close()
		return nil, err
	}

	mp := config.MergePolicy
	if mp == nil {
		mp = mergepolicy.DefaultLogByteSizeMergePolicy()
	}
	ms := config.MergeScheduler
	if ms == nil {
		ms = mergescheduler.NewSerialMergeScheduler(logger)
	}
	dp := config.DeletionPolicy
	if dp == nil {
		dp = deletepolicy.Default()
	}

	idx := &Index{
		dir:              config.Dir,
		fsDir:            fsDir,
		lock:             lock,
		docIDs:           docIDs,
		manifestState:    sis,
		pendingDeletions: make(map[string]*roaring.Bitmap),
		registeredSegs:   make(map[string]bool),
		analyzer:         config.Analyzer,
		flushThreshold:   config.FlushThreshold,
		ramBufferBytes:   ramBufferBytes(config.RAMBufferSizeMB),
		scoringMode:      config.ScoringMode,
		mergePolicy:      mp,
		mergeScheduler:   ms,
		deletionPolicy:   dp,
		logger:           logger,
	}
	idx.builder = segment.NewBuilder(idx.analyzer)
	idx.threadStates = newThreadStatePool(config.MaxThreadStates, idx.analyzer)

	if err := idx.loadSegments(); err != nil {
		if docIDs != nil {
			docIDs.Close()
		}
		lock.Unlock()
		fsDir.Close()
		return nil, err
	}

	idx.commits = discoverCommits(fsDir, logger)
	if err := idx.deletionPolicy.OnInit(idx.asCommits()); err != nil {
		logger.Warnw("deletion policy OnInit failed", "error", err)
	}
	idx.pruneDeletedCommits()

	return idx, nil
}

// ramBufferBytes converts the configured flush-by-RAM watermark to bytes;
// zero or negative disables it.
func ramBufferBytes(mb float64) uint64 {
	if mb <= 0 {
		return 0
	}
	return uint64(mb * 1024 * 1024)
}

// openManifest bootstraps the segments_N manifest per OpenMode.
func openManifest(dir directory.Directory, mode OpenMode) (*manifest.SegmentInfos, error) {
	switch mode {
	case Create:
		return manifest.New(), nil
	case Append:
		return manifest.Load(dir)
	default: // CreateOrAppend
		sis, err := manifest.Load(dir)
		if err != nil {
			if errs.Is(err, errs.FileNotFound) {
				return manifest.New(), nil
			}
			return nil, err
		}
		return sis, nil
	}
}

// loadSegments opens every segment named in the current manifest, releasing
// the writer's reference to the previous set. Segments still pinned by a
// live snapshot or reader stay mapped until that holder closes.
func (idx *Index) loadSegments() error {
	for _, seg := range idx.segments {
		seg.Close()
	}
	idx.segments = idx.segments[:0]
	for _, si := range idx.manifestState.Segments {
		seg, err := segment.Open(idx.fsDir, si.SegmentFileName(), si.Name)
		if err != nil {
			return errs.Wrap(err, errs.CorruptIndex, "open segment "+si.Name)
		}
		idx.segments = append(idx.segments, seg)
	}
	return nil
}

// Index indexes a document, replacing any prior document with the same ID
// (update_document semantics: spec §4.4's buffered delete-then-add, ordered
// so both become visible together at the next flush/commit).
func (idx *Index) Index(docID string, doc map[string]any) error {
	// Inversion runs inside a thread-state slot, not under idx.mu: slots
	// bound the number of concurrent inversions, and only the append below
	// needs the writer lock.
	ts := idx.threadStates.acquire()
	inv := ts.invert(doc)
	idx.threadStates.release(ts)

	idx.mu.Lock()

	if idx.closed {
		idx.mu.Unlock()
		return errs.New(errs.AlreadyClosed, "index is closed")
	}

	idx.builder.Delete(docID)
	idx.markObsolete(docID)
	idx.builder.AddInverted(docID, inv)

	shouldFlush := (idx.flushThreshold > 0 && idx.builder.NumDocs() >= uint64(idx.flushThreshold)) ||
		(idx.ramBufferBytes > 0 && idx.builder.RAMBytes() >= idx.ramBufferBytes)
	var err error
	if shouldFlush {
		err = idx.flushInternal()
	}
	idx.mu.Unlock()

	if shouldFlush && err == nil {
		idx.scheduleMerges()
	}
	return err
}

// SetCommitUserData stashes caller-supplied opaque key/value pairs to be
// recorded in the next commit's manifest and every one after it, until
// replaced. Readers recover it via CommitUserData after reopening.
func (idx *Index) SetCommitUserData(data map[string]string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.commitUserData = data
}

// CommitUserData returns the user data recorded by the current commit.
func (idx *Index) CommitUserData() map[string]string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.manifestState.UserData
}

// Delete buffers the removal of docID, visible at the next flush/commit.
func (idx *Index) Delete(docID string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.closed {
		return errs.New(errs.AlreadyClosed, "index is closed")
	}

	idx.builder.Delete(docID)
	idx.markObsolete(docID)
	return nil
}

// markObsolete finds docID in a previously-flushed segment and marks it
// pending-deleted there. With the Bolt doc-ID reverse index available the
// lookup is O(1); on a caller-supplied Directory (no Bolt) it falls back
// to one _id FST probe per segment, newest first.
func (idx *Index) markObsolete(docID string) {
	if idx.docIDs != nil {
		segName, docNum, found, err := idx.docIDs.GetDocMapping(docID)
		if err != nil || !found {
			return
		}
		idx.markPendingDeletion(segName, docNum)
		return
	}

	for i := len(idx.segments) - 1; i >= 0; i-- {
		seg := idx.segments[i]
		if docNum, ok := seg.DocNum(docID); ok {
			idx.markPendingDeletion(seg.ID(), docNum)
			return
		}
	}
}

func (idx *Index) markPendingDeletion(segName string, docNum uint64) {
	if idx.pendingDeletions[segName] == nil {
		idx.pendingDeletions[segName] = roaring.New()
	}
	idx.pendingDeletions[segName].Add(uint32(docNum))
}

// DeleteAll discards all buffered state and marks every existing segment
// fully deleted at the next commit.
func (idx *Index) DeleteAll() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.closed {
		return errs.New(errs.AlreadyClosed, "index is closed")
	}

	idx.builder = segment.NewBuilder(idx.analyzer)
	idx.pendingDeletions = make(map[string]*roaring.Bitmap)
	for _, seg := range idx.segments {
		bm := roaring.New()
		bm.AddRange(0, seg.NumDocs())
		idx.pendingDeletions[seg.ID()] = bm
	}
	return nil
}

// Close flushes nothing further, closes all open segments and the doc-ID
// store, stops the merge scheduler, and releases the write-lock.
func (idx *Index) Close() error {
	idx.mu.Lock()
	if idx.closed {
		idx.mu.Unlock()
		return nil
	}
	idx.closed = true
	idx.mu.Unlock()

	// Stop the scheduler outside idx.mu: it waits for in-flight merges, and
	// a running merge takes idx.mu itself. The closed flag above makes any
	// merge that wins the lock first bail out with AlreadyClosed.
	idx.mergeScheduler.Close()

	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.pendingDeletions = nil
	idx.builder = nil

	for _, seg := range idx.segments {
		seg.Close()
	}
	idx.segments = nil

	if idx.docIDs != nil {
		idx.docIDs.Close()
	}

	var err error
	if idx.lock != nil {
		err = idx.lock.Unlock()
	}
	if idx.fsDir != nil {
		idx.fsDir.Close()
	}
	return err
}

// Rollback discards all uncommitted changes; the directory returns to the
// last committed manifest.
func (idx *Index) Rollback() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.closed {
		return errs.New(errs.AlreadyClosed, "index is closed")
	}

	idx.builder = segment.NewBuilder(idx.analyzer)
	idx.pendingDeletions = make(map[string]*roaring.Bitmap)

	sis, err := manifest.Load(idx.fsDir)
	if err != nil {
		if !errs.Is(err, errs.FileNotFound) {
			return err
		}
		sis = manifest.New()
	}
	idx.manifestState = sis
	return idx.loadSegments()
}
