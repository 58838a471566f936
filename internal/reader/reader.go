// Package reader is the point-in-time, reference-counted read path of
// spec §4.8: a leaf reader per segment composed under a multi-reader with a
// prefix-sum doc-base array, independent of whatever IndexWriter does next.
// Grounded on the teacher's IndexSnapshot/SegmentSnapshot (internal/index),
// generalized toward the IndexReader contract described in
// original_source/include/FilterIndexReader.h and exercised by
// IndexReaderCloneTest.cpp's copy-on-write deletedDocs/norms semantics.
package reader

import (
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring"

	"github.com/invertdex/invertdex/internal/errs"
	"github.com/invertdex/invertdex/internal/index"
	"github.com/invertdex/invertdex/internal/segment"
)

// Leaf is the per-segment reader: an open segment, its live deletion
// bitmap, and a refcount shared by every Reader built over the same
// underlying snapshot segment.
type Leaf struct {
	seg     *segment.Segment
	deleted *roaring.Bitmap
	docBase uint64

	refs     *int32
	mu       *sync.Mutex
	writable bool
}

func newLeaf(ss *index.SegmentSnapshot, docBase uint64) *Leaf {
	ss.Segment().IncRef()
	one := int32(1)
	return &Leaf{
		seg:     ss.Segment(),
		deleted: ss.Deleted().Clone(),
		docBase: docBase,
		refs:    &one,
		mu:      &sync.Mutex{},
	}
}

// ID returns the segment ID this leaf is reading.
func (l *Leaf) ID() string { return l.seg.ID() }

// Deleted returns this leaf's live deletion bitmap. Callers must not mutate
// the returned bitmap; use DeleteDocument on a writable clone instead.
func (l *Leaf) Deleted() *roaring.Bitmap { return l.deleted }

// MaxDoc returns the total slot count in this leaf, including deleted docs.
func (l *Leaf) MaxDoc() uint64 { return l.seg.NumDocs() }

// NumDocs returns the count of live (non-deleted) docs in this leaf.
func (l *Leaf) NumDocs() uint64 {
	return l.seg.NumDocs() - l.deleted.GetCardinality()
}

// IsDeleted reports whether docNum (local to this leaf) is deleted.
func (l *Leaf) IsDeleted(docNum uint64) bool { return l.deleted.Contains(uint32(docNum)) }

// HasDeletions reports whether this leaf has any deleted docs.
func (l *Leaf) HasDeletions() bool { return !l.deleted.IsEmpty() }

// Document returns the stored fields for docNum (local to this leaf). The
// spec's enumerated field-selector strategies (Load/LazyLoad/...) collapse
// to a single eager load here, since segment.Segment's stored-fields codec
// has no lazy-field plumbing to select among.
func (l *Leaf) Document(docNum uint64) (map[string]any, error) {
	return l.seg.LoadDoc(docNum)
}

// Norms returns the per-document length-norm byte for field, one entry per
// doc slot (deleted slots included, as spec §4.8 describes).
func (l *Leaf) Norms(field string) []byte {
	n := l.seg.NumDocs()
	out := make([]byte, n)
	for i := uint64(0); i < n; i++ {
		out[i] = segment.EncodeNorm(l.seg.Norm(field, i))
	}
	return out
}

// TermDocs returns the docNums (local to this leaf) containing term in
// field, skipping deleted docs.
func (l *Leaf) TermDocs(field, term string) ([]segment.Posting, error) {
	return l.seg.Search(term, field, l.deleted)
}

// SetNorm rejects every call with errs.IllegalArgument: a read-only leaf
// reports "reader opened read-only", and a writable clone (Reader.Clone)
// reports that norm rewriting is not supported. The segment format this
// port writes is immutable once built, and norms are not changed through a
// reader, in memory or on disk.
func (l *Leaf) SetNorm(field string, docNum uint64, value float32) error {
	if !l.writable {
		return errs.New(errs.IllegalArgument, "reader opened read-only")
	}
	return errs.New(errs.IllegalArgument, "norm rewriting not supported by this segment codec")
}

// DeleteDocument marks docNum deleted in this writable clone's private
// bitmap; it does not affect the reader this clone was made from, or the
// Index that owns the segment, until the caller copies the change back
// through Index.Delete.
func (l *Leaf) DeleteDocument(docNum uint64) error {
	if !l.writable {
		return errs.New(errs.IllegalArgument, "reader opened read-only")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.deleted.Add(uint32(docNum))
	return nil
}

func (l *Leaf) incRef() { atomic.AddInt32(l.refs, 1) }

func (l *Leaf) decRef() {
	if atomic.AddInt32(l.refs, -1) == 0 {
		l.seg.Close()
	}
}

// Reader is a multi-reader: the leaves of one index.IndexSnapshot composed
// with a prefix-sum doc-base array, per spec §4.8.
type Reader struct {
	snapshot *index.IndexSnapshot
	leaves   []*Leaf
	writable bool

	closed int32
}

// Open builds a Reader over a fresh snapshot of idx.
func Open(idx *index.Index) (*Reader, error) {
	snap, err := idx.Snapshot()
	if err != nil {
		return nil, err
	}
	return fromSnapshot(snap), nil
}

func fromSnapshot(snap *index.IndexSnapshot) *Reader {
	leaves := make([]*Leaf, 0, len(snap.Segments()))
	var base uint64
	for _, ss := range snap.Segments() {
		leaves = append(leaves, newLeaf(ss, base))
		base += ss.Segment().NumDocs()
	}
	return &Reader{snapshot: snap, leaves: leaves}
}

// Leaves returns this reader's per-segment leaves, doc-base ascending.
func (r *Reader) Leaves() []*Leaf { return r.leaves }

// Leaf returns the leaf reading segment id, or nil if id is not part of
// this reader's view.
func (r *Reader) Leaf(id string) *Leaf {
	for _, l := range r.leaves {
		if l.ID() == id {
			return l
		}
	}
	return nil
}

// Snapshot returns the index.IndexSnapshot this reader was built over, for
// callers (such as search.Searcher) that need segment/builder access beyond
// the Leaf API.
func (r *Reader) Snapshot() *index.IndexSnapshot { return r.snapshot }

// MaxDoc returns the total slot count across every leaf.
func (r *Reader) MaxDoc() uint64 {
	var total uint64
	for _, l := range r.leaves {
		total += l.MaxDoc()
	}
	return total
}

// NumDocs returns the count of live docs across every leaf.
func (r *Reader) NumDocs() uint64 {
	var total uint64
	for _, l := range r.leaves {
		total += l.NumDocs()
	}
	return total
}

// HasDeletions reports whether any leaf has deletions.
func (r *Reader) HasDeletions() bool {
	for _, l := range r.leaves {
		if l.HasDeletions() {
			return true
		}
	}
	return false
}

// leafFor resolves a global docNum to its owning leaf and the docNum local
// to that leaf, via the prefix-sum doc-base array.
func (r *Reader) leafFor(docNum uint64) (*Leaf, uint64, bool) {
	for _, l := range r.leaves {
		if docNum < l.docBase+l.MaxDoc() {
			if docNum < l.docBase {
				return nil, 0, false
			}
			return l, docNum - l.docBase, true
		}
	}
	return nil, 0, false
}

// IsDeleted reports whether the global docNum is deleted.
func (r *Reader) IsDeleted(docNum uint64) bool {
	l, local, ok := r.leafFor(docNum)
	if !ok {
		return true
	}
	return l.IsDeleted(local)
}

// Document returns the stored fields for the global docNum.
func (r *Reader) Document(docNum uint64) (map[string]any, error) {
	l, local, ok := r.leafFor(docNum)
	if !ok {
		return nil, errs.New(errs.IllegalArgument, "doc number out of range")
	}
	return l.Document(local)
}

// Reopen returns a Reader reflecting idx's current commit: leaves for
// unchanged segments are shared (ref-counted) with r, leaves for new
// segments are opened fresh, and leaves for segments no longer present are
// dropped — spec §4.8's "reopen shares as many leaves as possible".
// Returns r itself, unchanged, if idx has not advanced since r was opened.
func (r *Reader) Reopen(idx *index.Index) (*Reader, error) {
	snap, err := idx.Snapshot()
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*Leaf, len(r.leaves))
	for _, l := range r.leaves {
		byID[l.seg.ID()] = l
	}

	newLeaves := make([]*Leaf, 0, len(snap.Segments()))
	var base uint64
	changed := len(snap.Segments()) != len(r.leaves)
	for _, ss := range snap.Segments() {
		old, ok := byID[ss.Segment().ID()]
		if ok && old.docBase == base && old.deleted.Equals(ss.Deleted()) {
			old.incRef()
			newLeaves = append(newLeaves, old)
		} else {
			changed = true
			newLeaves = append(newLeaves, newLeaf(ss, base))
		}
		base += ss.Segment().NumDocs()
	}

	if !changed {
		snap.Close()
		return r, nil
	}

	return &Reader{snapshot: snap, leaves: newLeaves}, nil
}

// Clone returns a writable-deletes copy of r: its own private deletion
// bitmaps per leaf (copy-on-write against r's), so DeleteDocument/SetNorm
// calls on the clone never disturb r, per spec §4.8.
func (r *Reader) Clone() *Reader {
	leaves := make([]*Leaf, len(r.leaves))
	for i, l := range r.leaves {
		l.incRef()
		leaves[i] = &Leaf{
			seg:      l.seg,
			deleted:  l.deleted.Clone(),
			docBase:  l.docBase,
			refs:     l.refs,
			mu:       &sync.Mutex{},
			writable: true,
		}
	}
	return &Reader{snapshot: r.snapshot, leaves: leaves, writable: true}
}

// Close releases this reader's reference to every leaf, closing any leaf
// whose refcount drops to zero.
func (r *Reader) Close() error {
	if !atomic.CompareAndSwapInt32(&r.closed, 0, 1) {
		return nil
	}
	for _, l := range r.leaves {
		l.decRef()
	}
	return r.snapshot.Close()
}
