package index

import (
	"time"

	"go.uber.org/zap"

	"github.com/invertdex/invertdex/internal/analysis"
	"github.com/invertdex/invertdex/internal/deletepolicy"
	"github.com/invertdex/invertdex/internal/directory"
	"github.com/invertdex/invertdex/internal/mergepolicy"
	"github.com/invertdex/invertdex/internal/mergescheduler"
)

// OpenMode governs how New bootstraps the manifest, per spec §4.4.
type OpenMode int

const (
	// CreateOrAppend opens the existing manifest if one is present,
	// otherwise starts a fresh one. This is the default.
	CreateOrAppend OpenMode = iota
	// Create always starts a fresh manifest, discarding any existing one.
	Create
	// Append requires an existing manifest and fails if none is found.
	Append
)

type ScoringMode int

const (
	ScoringTFIDF ScoringMode = iota
	ScoringBM25
)

// Config is IndexWriterConfig (spec §6): every recognized tuning knob for
// opening and running an Index, in the teacher's chainable-struct pattern
// (internal/index/index.go's original Config, generalized).
type Config struct {
	Dir      string
	OpenMode OpenMode
	Analyzer analysis.Analyzer

	// Directory, when set, overrides Dir as the index's storage: every
	// segment, manifest, and lock lives on it, so the whole index can run
	// off a RAMDirectory. The BoltDB doc-ID side index needs a real
	// filesystem path, so it is skipped in this mode and delete/update
	// resolution falls back to per-segment FST lookups.
	Directory directory.Directory

	ScoringMode ScoringMode

	FlushThreshold     int // max-buffered-docs
	RAMBufferSizeMB    float64
	MaxBufferedDeletes int

	MaxThreadStates  int
	WriteLockTimeout time.Duration

	MergePolicy    mergepolicy.MergePolicy
	MergeScheduler mergescheduler.MergeScheduler
	DeletionPolicy deletepolicy.DeletionPolicy

	Logger *zap.SugaredLogger
}

// DefaultConfig returns the spec's documented defaults: CreateOrAppend,
// a 16MB RAM buffer, an 8-slot thread-state pool, a 1-second write-lock
// timeout, log-by-byte-size merging on a bounded concurrent scheduler, and
// keep-only-last-commit retention.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:                dir,
		OpenMode:           CreateOrAppend,
		Analyzer:           analysis.NewSimple(),
		ScoringMode:        ScoringBM25,
		FlushThreshold:     1000,
		RAMBufferSizeMB:    16,
		MaxBufferedDeletes: 0,
		MaxThreadStates:    8,
		WriteLockTimeout:   time.Second,
		MergePolicy:        mergepolicy.DefaultLogByteSizeMergePolicy(),
		MergeScheduler:     mergescheduler.NewConcurrentMergeScheduler(2, nil),
		DeletionPolicy:     deletepolicy.Default(),
	}
}

// Clone returns a populated copy of c. Spec §9's Open Question notes the
// source's IndexWriterConfig.Clone() appears to return the "other" argument
// rather than the populated clone; this port treats that as a bug and
// returns the populated receiver, per SPEC_FULL.md's binding resolution.
func (c Config) Clone() Config {
	return c
}
