package index

import (
	"bytes"
	"fmt"
	"maps"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/RoaringBitmap/roaring"
	"go.uber.org/zap"

	"github.com/invertdex/invertdex/internal/deletepolicy"
	"github.com/invertdex/invertdex/internal/directory"
	"github.com/invertdex/invertdex/internal/errs"
	"github.com/invertdex/invertdex/internal/manifest"
	"github.com/invertdex/invertdex/internal/segment"
)

// commitRecord implements deletepolicy.Commit over one on-disk manifest
// generation, wide enough for IndexFileDeleter-style refcounting: it knows
// every file that generation references, so a commit marked Delete() by the
// policy can have its now-unreferenced files reclaimed.
type commitRecord struct {
	gen      int64
	files    []string
	userData map[string]string
	ts       time.Time
	deleted  bool
}

func (c *commitRecord) Generation() int64           { return c.gen }
func (c *commitRecord) UserData() map[string]string { return c.userData }
func (c *commitRecord) Timestamp() time.Time        { return c.ts }
func (c *commitRecord) Delete()                     { c.deleted = true }
func (c *commitRecord) IsDeleted() bool             { return c.deleted }

func (idx *Index) asCommits() []deletepolicy.Commit {
	out := make([]deletepolicy.Commit, len(idx.commits))
	for i, c := range idx.commits {
		out[i] = c
	}
	return out
}

// discoverCommits scans dir for every segments_N file present (spec §6
// allows "a directory may hold many commits") and loads each one into a
// commitRecord, oldest generation first, so a DeletionPolicy can inspect a
// real commit history even right after an unclean process restart.
func discoverCommits(dir directory.Directory, logger *zap.SugaredLogger) []*commitRecord {
	names, err := dir.ListAll()
	if err != nil {
		return nil
	}

	var gens []int64
	for _, n := range names {
		if !strings.HasPrefix(n, "segments_") {
			continue
		}
		g, err := strconv.ParseInt(strings.TrimPrefix(n, "segments_"), 36, 64)
		if err != nil {
			continue
		}
		gens = append(gens, g)
	}
	sort.Slice(gens, func(i, j int) bool { return gens[i] < gens[j] })

	records := make([]*commitRecord, 0, len(gens))
	for _, g := range gens {
		sis, err := manifest.Read(dir, g)
		if err != nil {
			logger.Warnw("skipping unparseable manifest generation", "generation", g, "error", err)
			continue
		}
		records = append(records, &commitRecord{
			gen:      g,
			files:    sis.ReferencedFiles(),
			userData: sis.UserData,
			ts:       time.Now(),
		})
	}
	return records
}

// pruneDeletedCommits physically removes every file referenced only by
// commits the deletion policy has marked Delete()d, then drops those
// records from idx.commits — the IndexFileDeleter mechanism of spec §4.7
// and §5's "Shared resources" paragraph, minus cross-process reader pins
// (out of scope for an in-process embedded library per spec §1).
func (idx *Index) pruneDeletedCommits() {
	live := make(map[string]bool)
	for _, c := range idx.commits {
		if c.deleted {
			continue
		}
		for _, f := range c.files {
			live[f] = true
		}
	}

	survivors := idx.commits[:0]
	for _, c := range idx.commits {
		if !c.deleted {
			survivors = append(survivors, c)
			continue
		}
		for _, f := range c.files {
			if !live[f] {
				if err := idx.fsDir.DeleteFile(f); err != nil {
					idx.logger.Warnw("failed to delete obsolete file", "file", f, "error", err)
				}
			}
		}
	}
	idx.commits = survivors
}

// Flush forces the buffered documents and deletes out to a new segment,
// without regard to the flush-trigger watermarks.
func (idx *Index) Flush() error {
	idx.mu.Lock()
	if idx.closed {
		idx.mu.Unlock()
		return errs.New(errs.AlreadyClosed, "index is closed")
	}
	err := idx.flushInternal()
	idx.mu.Unlock()

	if err == nil {
		idx.scheduleMerges()
	}
	return err
}

// Commit is an alias for Flush: in this port, every flush already durably
// commits a new segments_N generation (spec §4.4 distinguishes "flush" from
// "commit" for implementations that buffer multiple flushes between
// commits; this implementation always commits on flush, which still
// satisfies every ordering guarantee in spec §5).
func (idx *Index) Commit() error {
	return idx.Flush()
}

// flushInternal performs the flush-and-commit without taking idx.mu; callers
// must already hold the write lock.
func (idx *Index) flushInternal() error {
	userDataChanged := idx.commitUserData != nil && !maps.Equal(idx.commitUserData, idx.manifestState.UserData)
	if idx.builder.NumDocs() == 0 && len(idx.pendingDeletions) == 0 && !userDataChanged {
		return nil
	}

	next := idx.manifestState.Clone()
	if idx.commitUserData != nil {
		next.UserData = idx.commitUserData
	}

	var newSegInfo *manifest.SegmentInfo
	var segFile string
	if idx.builder.NumDocs() > 0 {
		name := next.NewSegmentName()
		f, err := idx.builder.Build(idx.fsDir, name)
		if err != nil {
			return err
		}
		segFile = f
		delGen := int64(-1)
		if !idx.builder.Deleted.IsEmpty() {
			delGen = 0
			if err := writeDelFile(idx.fsDir, name, delGen, idx.builder.Deleted); err != nil {
				idx.fsDir.DeleteFile(segFile)
				return err
			}
		}
		newSegInfo = &manifest.SegmentInfo{
			Name:     name,
			NumDocs:  idx.builder.NumDocs(),
			DelGen:   delGen,
			DelCount: idx.builder.Deleted.GetCardinality(),
			Diagnostics: map[string]string{
				"createdAt": time.Now().UTC().Format(time.RFC3339),
			},
		}
		next.Segments = append(next.Segments, *newSegInfo)
	}

	// Apply buffered deletes against already-committed segments by writing
	// a fresh generation of each affected segment's .del file.
	for i := range next.Segments {
		si := &next.Segments[i]
		pending := idx.pendingDeletions[si.Name]
		if pending == nil || pending.IsEmpty() {
			continue
		}
		existing, err := idx.readDeletions(*si)
		if err != nil {
			if segFile != "" {
				idx.fsDir.DeleteFile(segFile)
			}
			return err
		}
		existing.Or(pending)
		newGen := si.DelGen + 1
		if err := writeDelFile(idx.fsDir, si.Name, newGen, existing); err != nil {
			if segFile != "" {
				idx.fsDir.DeleteFile(segFile)
			}
			return err
		}
		si.DelGen = newGen
		si.DelCount = existing.GetCardinality()
	}

	if err := next.Commit(idx.fsDir); err != nil {
		if segFile != "" {
			idx.fsDir.DeleteFile(segFile)
		}
		return err
	}

	// Persist the new segment's doc-ID mappings for O(1) future lookups.
	if newSegInfo != nil && idx.docIDs != nil {
		for docNum, extID := range idx.builder.DocIDs {
			if err := idx.docIDs.SetDocMapping(extID, newSegInfo.Name, uint64(docNum)); err != nil {
				idx.logger.Warnw("failed to persist doc-id mapping", "docID", extID, "error", err)
			}
		}
	}

	idx.manifestState = next
	idx.pendingDeletions = make(map[string]*roaring.Bitmap)
	idx.builder = segment.NewBuilder(idx.analyzer)

	if err := idx.loadSegments(); err != nil {
		return err
	}

	idx.commits = append(idx.commits, &commitRecord{
		gen:      next.Generation,
		files:    next.ReferencedFiles(),
		userData: next.UserData,
		ts:       time.Now(),
	})
	if err := idx.deletionPolicy.OnCommit(idx.asCommits()); err != nil {
		idx.logger.Warnw("deletion policy OnCommit failed", "error", err)
	}
	idx.pruneDeletedCommits()

	idx.logger.Infow("commit finished", "generation", idx.manifestState.Generation, "segments", len(idx.manifestState.Segments))

	return nil
}

// readDeletions returns the persisted deletion bitmap for a manifest
// segment entry, or an empty bitmap if it has none.
func (idx *Index) readDeletions(si manifest.SegmentInfo) (*roaring.Bitmap, error) {
	if !si.HasDeletions() {
		return roaring.New(), nil
	}
	return readDelFile(idx.fsDir, si.DelFileName())
}

func delFileName(segName string, gen int64) string {
	return fmt.Sprintf("%s_%d.del", segName, gen)
}

func writeDelFile(dir directory.Directory, segName string, gen int64, bm *roaring.Bitmap) error {
	var buf bytes.Buffer
	if _, err := bm.WriteTo(&buf); err != nil {
		return errs.Wrap(err, errs.Io, "encode deletion bitmap")
	}
	name := delFileName(segName, gen)
	out, err := dir.CreateOutput(name)
	if err != nil {
		return err
	}
	if _, err := out.Write(buf.Bytes()); err != nil {
		out.Close()
		return errs.Wrap(err, errs.Io, "write "+name)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return errs.Wrap(err, errs.Io, "sync "+name)
	}
	return out.Close()
}

func readDelFile(dir directory.Directory, name string) (*roaring.Bitmap, error) {
	in, err := dir.OpenInput(name)
	if err != nil {
		return nil, err
	}
	defer in.Close()

	buf := make([]byte, in.Len())
	if _, err := in.ReadAt(buf, 0); err != nil {
		return nil, errs.Wrap(err, errs.Io, "read "+name)
	}

	bm := roaring.New()
	if _, err := bm.ReadFrom(bytes.NewReader(buf)); err != nil {
		return nil, errs.Wrap(err, errs.CorruptIndex, "decode deletion bitmap "+name)
	}
	return bm, nil
}
