// Package directory abstracts the filesystem an index lives on, the way
// segment.Segment abstracts a single file's layout.
package directory

import (
	"io"
	"time"

	"github.com/invertdex/invertdex/internal/errs"
)

// IndexInput is a random-access, read-only view of one file in a Directory.
type IndexInput interface {
	io.ReaderAt
	io.Closer
	Len() int64

	// Bytes exposes the whole file as one slice, valid until Close. The
	// filesystem implementation backs this with the file's mmap; the
	// in-memory one returns its buffer directly. The segment codec slices
	// it for FST loads and posting decodes.
	Bytes() []byte
}

// IndexOutput is a sequential, write-once view of one file in a Directory.
type IndexOutput interface {
	io.Writer
	io.Closer
	Sync() error
}

// Lock represents an exclusive hold on a named resource within a Directory,
// released by Unlock.
type Lock interface {
	Unlock() error
}

// Directory is the storage abstraction every segment and manifest file is
// read from and written to. FSDirectory and RAMDirectory are the two
// implementations; both are safe for concurrent use.
type Directory interface {
	// ListAll returns the names of all files currently in the directory.
	ListAll() ([]string, error)

	// FileExists reports whether name exists.
	FileExists(name string) bool

	// FileLength returns the size in bytes of name.
	FileLength(name string) (int64, error)

	// OpenInput opens name for random-access reads.
	OpenInput(name string) (IndexInput, error)

	// CreateOutput creates (or truncates) name for sequential writes.
	CreateOutput(name string) (IndexOutput, error)

	// DeleteFile removes name. Deleting a file that does not exist is not
	// an error.
	DeleteFile(name string) error

	// RenameFile atomically renames from to to, overwriting to if present.
	RenameFile(from, to string) error

	// Sync fsyncs the directory entry itself, after files within it have
	// been renamed or created, so the rename protocol in spec §6 survives
	// a crash.
	Sync() error

	// ObtainLock acquires the named exclusive lock, waiting up to timeout.
	// A zero timeout means try once and fail immediately.
	ObtainLock(name string, timeout time.Duration) (Lock, error)

	// Close releases directory-level resources (not individual files).
	Close() error
}

// errLockTimeout is returned, wrapped in an *errs.Error, when ObtainLock
// cannot acquire the lock within the requested timeout.
func errLockTimeout(name string) error {
	return errs.New(errs.LockObtainFailed, "timed out obtaining lock "+name)
}
