package directory

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/edsrzf/mmap-go"
	"github.com/gofrs/flock"

	"github.com/invertdex/invertdex/internal/errs"
)

// FSDirectory stores files as regular OS files under a root path and serves
// random-access reads via mmap for every file the index owns; segment.Segment
// (internal/segment/segment.go) reads its file through these inputs.
type FSDirectory struct {
	root string

	mu    sync.Mutex
	locks map[string]*flock.Flock
}

// NewFSDirectory opens (creating if necessary) a directory rooted at path.
func NewFSDirectory(path string) (*FSDirectory, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, errs.Wrap(err, errs.Io, "create directory root "+path)
	}
	return &FSDirectory{root: path, locks: make(map[string]*flock.Flock)}, nil
}

func (d *FSDirectory) path(name string) string {
	return filepath.Join(d.root, name)
}

func (d *FSDirectory) ListAll() ([]string, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, errs.Wrap(err, errs.Io, "list directory")
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

func (d *FSDirectory) FileExists(name string) bool {
	_, err := os.Stat(d.path(name))
	return err == nil
}

func (d *FSDirectory) FileLength(name string) (int64, error) {
	info, err := os.Stat(d.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, errs.Wrap(err, errs.FileNotFound, name)
		}
		return 0, errs.Wrap(err, errs.Io, name)
	}
	return info.Size(), nil
}

func (d *FSDirectory) OpenInput(name string) (IndexInput, error) {
	f, err := os.Open(d.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.Wrap(err, errs.FileNotFound, name)
		}
		return nil, errs.Wrap(err, errs.Io, name)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errs.Wrap(err, errs.Io, name)
	}

	if info.Size() == 0 {
		// mmap.Map rejects zero-length files; serve an empty input directly.
		f.Close()
		return &emptyInput{}, nil
	}

	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, errs.Wrap(err, errs.Io, "mmap "+name)
	}

	return &fsInput{file: f, data: data}, nil
}

func (d *FSDirectory) CreateOutput(name string) (IndexOutput, error) {
	f, err := os.Create(d.path(name))
	if err != nil {
		return nil, errs.Wrap(err, errs.Io, "create "+name)
	}
	return &fsOutput{file: f}, nil
}

func (d *FSDirectory) DeleteFile(name string) error {
	err := os.Remove(d.path(name))
	if err != nil && !os.IsNotExist(err) {
		return errs.Wrap(err, errs.Io, "delete "+name)
	}
	return nil
}

func (d *FSDirectory) RenameFile(from, to string) error {
	if err := os.Rename(d.path(from), d.path(to)); err != nil {
		return errs.Wrap(err, errs.Io, fmt.Sprintf("rename %s -> %s", from, to))
	}
	return nil
}

func (d *FSDirectory) Sync() error {
	f, err := os.Open(d.root)
	if err != nil {
		return errs.Wrap(err, errs.Io, "open directory for sync")
	}
	defer f.Close()
	if err := f.Sync(); err != nil {
		// Not all platforms support fsync on a directory handle; treat
		// that as a soft failure rather than a hard error.
		if !os.IsPermission(err) {
			return errs.Wrap(err, errs.Io, "sync directory")
		}
	}
	return nil
}

// ObtainLock acquires an OS-level advisory lock on name under root, waiting
// up to timeout (zero means a single non-blocking attempt). No example in
// the retrieved corpus models directory locking, so this uses the flock
// ecosystem library directly per SPEC_FULL.md's domain stack.
func (d *FSDirectory) ObtainLock(name string, timeout time.Duration) (Lock, error) {
	fl := flock.New(d.path(name))

	locked, err := fl.TryLock()
	if err != nil {
		return nil, errs.Wrap(err, errs.LockObtainFailed, "obtain lock "+name)
	}

	if !locked && timeout > 0 {
		deadline := time.Now().Add(timeout)
		for time.Now().Before(deadline) {
			time.Sleep(25 * time.Millisecond)
			locked, err = fl.TryLock()
			if err != nil {
				return nil, errs.Wrap(err, errs.LockObtainFailed, "obtain lock "+name)
			}
			if locked {
				break
			}
		}
	}

	if !locked {
		return nil, errLockTimeout(name)
	}

	d.mu.Lock()
	d.locks[name] = fl
	d.mu.Unlock()

	return &fsLock{dir: d, name: name, fl: fl}, nil
}

func (d *FSDirectory) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for name, fl := range d.locks {
		fl.Unlock()
		delete(d.locks, name)
	}
	return nil
}

type fsLock struct {
	dir  *FSDirectory
	name string
	fl   *flock.Flock
}

func (l *fsLock) Unlock() error {
	l.dir.mu.Lock()
	delete(l.dir.locks, l.name)
	l.dir.mu.Unlock()
	return l.fl.Unlock()
}

type fsInput struct {
	file *os.File
	data mmap.MMap
}

func (i *fsInput) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(i.data)) {
		return 0, fmt.Errorf("offset %d out of range", off)
	}
	n := copy(p, i.data[off:])
	if n < len(p) {
		return n, fmt.Errorf("short read at offset %d", off)
	}
	return n, nil
}

func (i *fsInput) Len() int64 {
	return int64(len(i.data))
}

func (i *fsInput) Bytes() []byte { return i.data }

func (i *fsInput) Close() error {
	if i.data != nil {
		i.data.Unmap()
	}
	return i.file.Close()
}

type emptyInput struct{}

func (emptyInput) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 && off == 0 {
		return 0, nil
	}
	return 0, fmt.Errorf("empty file: no data at offset %d", off)
}
func (emptyInput) Len() int64    { return 0 }
func (emptyInput) Bytes() []byte { return nil }
func (emptyInput) Close() error  { return nil }

type fsOutput struct {
	file *os.File
}

func (o *fsOutput) Write(p []byte) (int, error) { return o.file.Write(p) }
func (o *fsOutput) Sync() error                 { return o.file.Sync() }
func (o *fsOutput) Close() error                { return o.file.Close() }
