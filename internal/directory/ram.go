package directory

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/invertdex/invertdex/internal/errs"
)

// RAMDirectory keeps every file in memory. Used for unit tests and for
// MergePolicy/DeletionPolicy snapshot scratch space that never needs to
// survive a restart.
type RAMDirectory struct {
	mu    sync.RWMutex
	files map[string][]byte
	locks map[string]struct{}
}

// NewRAMDirectory creates an empty in-memory directory.
func NewRAMDirectory() *RAMDirectory {
	return &RAMDirectory{
		files: make(map[string][]byte),
		locks: make(map[string]struct{}),
	}
}

func (d *RAMDirectory) ListAll() ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.files))
	for name := range d.files {
		names = append(names, name)
	}
	return names, nil
}

func (d *RAMDirectory) FileExists(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.files[name]
	return ok
}

func (d *RAMDirectory) FileLength(name string) (int64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	data, ok := d.files[name]
	if !ok {
		return 0, errs.New(errs.FileNotFound, name)
	}
	return int64(len(data)), nil
}

func (d *RAMDirectory) OpenInput(name string) (IndexInput, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	data, ok := d.files[name]
	if !ok {
		return nil, errs.New(errs.FileNotFound, name)
	}
	return &ramInput{data: data}, nil
}

func (d *RAMDirectory) CreateOutput(name string) (IndexOutput, error) {
	return &ramOutput{dir: d, name: name}, nil
}

func (d *RAMDirectory) DeleteFile(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.files, name)
	return nil
}

func (d *RAMDirectory) RenameFile(from, to string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	data, ok := d.files[from]
	if !ok {
		return errs.New(errs.FileNotFound, from)
	}
	d.files[to] = data
	delete(d.files, from)
	return nil
}

func (d *RAMDirectory) Sync() error { return nil }

func (d *RAMDirectory) ObtainLock(name string, timeout time.Duration) (Lock, error) {
	deadline := time.Now().Add(timeout)
	for {
		d.mu.Lock()
		if _, held := d.locks[name]; !held {
			d.locks[name] = struct{}{}
			d.mu.Unlock()
			return &ramLock{dir: d, name: name}, nil
		}
		d.mu.Unlock()
		if !time.Now().Before(deadline) {
			return nil, errLockTimeout(name)
		}
		time.Sleep(25 * time.Millisecond)
	}
}

func (d *RAMDirectory) Close() error { return nil }

type ramLock struct {
	dir  *RAMDirectory
	name string
}

func (l *ramLock) Unlock() error {
	l.dir.mu.Lock()
	defer l.dir.mu.Unlock()
	delete(l.dir.locks, l.name)
	return nil
}

type ramInput struct {
	data []byte
}

func (i *ramInput) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(i.data)) {
		return 0, fmt.Errorf("offset %d out of range", off)
	}
	n := copy(p, i.data[off:])
	if n < len(p) {
		return n, fmt.Errorf("short read at offset %d", off)
	}
	return n, nil
}

func (i *ramInput) Len() int64    { return int64(len(i.data)) }
func (i *ramInput) Bytes() []byte { return i.data }
func (i *ramInput) Close() error  { return nil }

type ramOutput struct {
	dir  *RAMDirectory
	name string
	buf  bytes.Buffer
}

func (o *ramOutput) Write(p []byte) (int, error) { return o.buf.Write(p) }
func (o *ramOutput) Sync() error                 { return nil }

func (o *ramOutput) Close() error {
	o.dir.mu.Lock()
	defer o.dir.mu.Unlock()
	o.dir.files[o.name] = bytes.Clone(o.buf.Bytes())
	return nil
}
