package index

import (
	"fmt"
	"sync"
	"testing"

	"github.com/invertdex/invertdex/internal/directory"
	"github.com/invertdex/invertdex/internal/mergepolicy"
)

func newTestConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig(t.TempDir())
	cfg.FlushThreshold = 1000
	cfg.MergePolicy = mergepolicy.NoMerge{}
	return cfg
}

func TestIndexAndFlushCreatesSegment(t *testing.T) {
	idx, err := New(newTestConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer idx.Close()

	if err := idx.Index("doc1", map[string]any{"title": "hello world"}); err != nil {
		t.Fatalf("Index: %v", err)
	}
	if idx.NumSegments() != 0 {
		t.Fatalf("expected 0 segments before flush, got %d", idx.NumSegments())
	}

	if err := idx.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if idx.NumSegments() != 1 {
		t.Fatalf("expected 1 segment after flush, got %d", idx.NumSegments())
	}
}

func TestUpdateDocumentReplacesPriorVersion(t *testing.T) {
	idx, err := New(newTestConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer idx.Close()

	if err := idx.Index("doc1", map[string]any{"title": "v1"}); err != nil {
		t.Fatalf("Index: %v", err)
	}
	if err := idx.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := idx.Index("doc1", map[string]any{"title": "v2"}); err != nil {
		t.Fatalf("Index: %v", err)
	}
	if err := idx.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	snap, err := idx.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if got := snap.TotalDocs(); got != 1 {
		t.Fatalf("TotalDocs() = %d, want 1 (old version should be deleted)", got)
	}
}

func TestDeleteRemovesDocumentAcrossFlush(t *testing.T) {
	idx, err := New(newTestConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer idx.Close()

	if err := idx.Index("doc1", map[string]any{"title": "hello"}); err != nil {
		t.Fatalf("Index: %v", err)
	}
	if err := idx.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := idx.Delete("doc1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := idx.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	deleted, err := idx.DumpDeletions(idx.Segments()[0].ID)
	if err != nil {
		t.Fatalf("DumpDeletions: %v", err)
	}
	if len(deleted) != 1 {
		t.Fatalf("expected 1 deleted doc, got %d", len(deleted))
	}
}

func TestForceMergeCollapsesSegments(t *testing.T) {
	// ForceMerge must work even under the default LogByteSizeMergePolicy
	// (NoMerge would never propose a merge, defeating the point of the test).
	cfg := DefaultConfig(t.TempDir())
	idx, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer idx.Close()

	for i := 0; i < 3; i++ {
		if err := idx.Index(string(rune('a'+i)), map[string]any{"title": "doc"}); err != nil {
			t.Fatalf("Index: %v", err)
		}
		if err := idx.Flush(); err != nil {
			t.Fatalf("Flush: %v", err)
		}
	}
	if idx.NumSegments() != 3 {
		t.Fatalf("expected 3 segments before merge, got %d", idx.NumSegments())
	}

	if err := idx.ForceMerge(1); err != nil {
		t.Fatalf("ForceMerge: %v", err)
	}
	if idx.NumSegments() != 1 {
		t.Fatalf("expected 1 segment after ForceMerge(1), got %d", idx.NumSegments())
	}

	snap, err := idx.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if got := snap.TotalDocs(); got != 3 {
		t.Fatalf("TotalDocs() after merge = %d, want 3", got)
	}
}

func TestReopenExistingIndexSeesCommittedSegments(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.MergePolicy = mergepolicy.NoMerge{}

	idx, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := idx.Index("doc1", map[string]any{"title": "hello"}); err != nil {
		t.Fatalf("Index: %v", err)
	}
	if err := idx.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopenCfg := DefaultConfig(dir)
	reopenCfg.MergePolicy = mergepolicy.NoMerge{}
	reopened, err := New(reopenCfg)
	if err != nil {
		t.Fatalf("reopen New: %v", err)
	}
	defer reopened.Close()

	if reopened.NumSegments() != 1 {
		t.Fatalf("expected 1 segment after reopen, got %d", reopened.NumSegments())
	}
}

func TestRollbackDiscardsBufferedDocs(t *testing.T) {
	idx, err := New(newTestConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer idx.Close()

	if err := idx.Index("doc1", map[string]any{"title": "hello"}); err != nil {
		t.Fatalf("Index: %v", err)
	}
	if err := idx.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	snap, err := idx.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if got := snap.TotalDocs(); got != 0 {
		t.Fatalf("TotalDocs() after rollback = %d, want 0", got)
	}
}

func TestDeleteAllMarksEverySegmentDeleted(t *testing.T) {
	idx, err := New(newTestConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer idx.Close()

	if err := idx.Index("doc1", map[string]any{"title": "a"}); err != nil {
		t.Fatalf("Index: %v", err)
	}
	if err := idx.Index("doc2", map[string]any{"title": "b"}); err != nil {
		t.Fatalf("Index: %v", err)
	}
	if err := idx.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if err := idx.DeleteAll(); err != nil {
		t.Fatalf("DeleteAll: %v", err)
	}
	if err := idx.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	snap, err := idx.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if got := snap.TotalDocs(); got != 0 {
		t.Fatalf("TotalDocs() after DeleteAll = %d, want 0", got)
	}
}

func TestCommitUserDataRoundTrip(t *testing.T) {
	cfg := newTestConfig(t)
	idx, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := idx.Index("doc1", map[string]any{"title": "hello"}); err != nil {
		t.Fatalf("Index: %v", err)
	}
	if err := idx.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	idx.SetCommitUserData(map[string]string{"checkpoint": "42"})
	if err := idx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if got := idx.CommitUserData()["checkpoint"]; got != "42" {
		t.Fatalf("CommitUserData()[checkpoint] = %q, want 42", got)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := New(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if got := reopened.CommitUserData()["checkpoint"]; got != "42" {
		t.Fatalf("after reopen, CommitUserData()[checkpoint] = %q, want 42", got)
	}
}

func TestConfigRequiresAFlushTrigger(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	cfg.FlushThreshold = 0
	cfg.RAMBufferSizeMB = 0
	if _, err := New(cfg); err == nil {
		t.Fatal("expected config with no flush trigger to be rejected")
	}
}

func TestRAMBufferWatermarkTriggersFlush(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	cfg.FlushThreshold = 0
	cfg.RAMBufferSizeMB = 0.0001 // ~100 bytes, so a single document trips it
	cfg.MergePolicy = mergepolicy.NoMerge{}

	idx, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer idx.Close()

	if err := idx.Index("doc1", map[string]any{"title": "hello world hello world"}); err != nil {
		t.Fatalf("Index: %v", err)
	}
	if idx.NumSegments() != 1 {
		t.Fatalf("expected RAM watermark to flush a segment, got %d segments", idx.NumSegments())
	}
}

func TestIndexRunsOnRAMDirectory(t *testing.T) {
	cfg := DefaultConfig("")
	cfg.Directory = directory.NewRAMDirectory()
	cfg.FlushThreshold = 1000
	cfg.MergePolicy = mergepolicy.NoMerge{}

	idx, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer idx.Close()

	if err := idx.Index("doc1", map[string]any{"title": "hello world"}); err != nil {
		t.Fatalf("Index: %v", err)
	}
	if err := idx.Index("doc2", map[string]any{"title": "hello again"}); err != nil {
		t.Fatalf("Index: %v", err)
	}
	if err := idx.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if idx.NumSegments() != 1 {
		t.Fatalf("expected 1 segment on RAMDirectory, got %d", idx.NumSegments())
	}

	// Update resolution must work without the Bolt side index.
	if err := idx.Index("doc1", map[string]any{"title": "replaced"}); err != nil {
		t.Fatalf("Index (update): %v", err)
	}
	if err := idx.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	snap, err := idx.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	defer snap.Close()
	if got := snap.TotalDocs(); got != 2 {
		t.Fatalf("TotalDocs() = %d, want 2 (doc1 replaced, not duplicated)", got)
	}
}

func TestParallelAddsUseThreadStatePool(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.MaxThreadStates = 2

	idx, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer idx.Close()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if err := idx.Index(fmt.Sprintf("doc%d", n), map[string]any{"title": "concurrent add"}); err != nil {
				t.Errorf("Index: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if err := idx.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	snap, err := idx.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	defer snap.Close()
	if got := snap.TotalDocs(); got != 16 {
		t.Fatalf("TotalDocs() = %d, want 16", got)
	}
}
