package segment

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring"
	"github.com/couchbase/vellum"
	"github.com/golang/snappy"

	"github.com/invertdex/invertdex/internal/directory"
)

// Segment represents an immutable segment read through a Directory input
// (mmap-backed on a filesystem directory, a plain buffer in memory). A
// Segment is shared between the index that owns it, point-in-time
// snapshots, and readers; the refcount keeps the input alive until the
// last holder calls Close.
type Segment struct {
	id     string
	in     directory.IndexInput
	data   []byte
	footer Footer

	refs int32

	fieldMetaByName map[string]*FieldMeta

	fsts   map[string]*vellum.FST
	fstsMu sync.RWMutex
}

// Open opens an existing segment file by name within dir.
func Open(dir directory.Directory, name, segmentID string) (*Segment, error) {
	in, err := dir.OpenInput(name)
	if err != nil {
		return nil, fmt.Errorf("failed to open segment %s: %w", name, err)
	}

	data := in.Bytes()
	if len(data) < len(SegmentMagic)+4+8+16 {
		in.Close()
		return nil, fmt.Errorf("segment file too small: %s", name)
	}

	// Verify magic
	if string(data[:len(SegmentMagic)]) != SegmentMagic {
		in.Close()
		return nil, fmt.Errorf("invalid segment magic: %s", name)
	}

	// Read footer offset and size from end of file
	footerOffset := binary.BigEndian.Uint64(data[len(data)-16 : len(data)-8])
	footerSize := binary.BigEndian.Uint64(data[len(data)-8:])
	if footerOffset+footerSize > uint64(len(data)) {
		in.Close()
		return nil, fmt.Errorf("segment footer out of range: %s", name)
	}

	// Parse footer
	var footer Footer
	footerData := data[footerOffset : footerOffset+footerSize]
	if err := json.Unmarshal(footerData, &footer); err != nil {
		in.Close()
		return nil, fmt.Errorf("failed to parse segment footer: %w", err)
	}

	// Build O(1) field metadata lookup map
	fieldMetaByName := make(map[string]*FieldMeta, len(footer.FieldsMeta))
	for i := range footer.FieldsMeta {
		fieldMetaByName[footer.FieldsMeta[i].Name] = &footer.FieldsMeta[i]
	}

	return &Segment{
		id:              segmentID,
		in:              in,
		data:            data,
		footer:          footer,
		refs:            1,
		fieldMetaByName: fieldMetaByName,
		fsts:            make(map[string]*vellum.FST),
	}, nil
}

// IncRef adds a reference to this segment. Every IncRef must be paired with
// a Close; the final Close unmaps the file.
func (s *Segment) IncRef() { atomic.AddInt32(&s.refs, 1) }

// ID returns the segment ID.
func (s *Segment) ID() string { return s.id }

// NumDocs returns the total number of documents.
func (s *Segment) NumDocs() uint64 { return s.footer.NumDocs }

// Size returns the segment file's byte size.
func (s *Segment) Size() int64 { return int64(len(s.data)) }

// ExternalID returns the external ID for a given docNum.
func (s *Segment) ExternalID(docNum uint64) (string, bool) {
	if docNum >= s.footer.NumDocs {
		return "", false
	}
	return s.footer.DocIDs[docNum], true
}

// lookupDocNum resolves a single external ID against an already-opened _id
// FST. DocNum and DocNumbers both need this same lookup; DocNumbers does it
// in a loop over one FST instance rather than reopening it per ID. The _id
// field's FST value is a postings offset like any other field's (see
// Search), so the single posting at that offset carries the docNum.
func (s *Segment) lookupDocNum(fst *vellum.FST, externalID string) (uint64, bool) {
	val, exists, err := fst.Get([]byte(externalID))
	if err != nil || !exists {
		return 0, false
	}

	meta := s.getFieldMeta(IDField)
	if meta == nil {
		return 0, false
	}

	postings, err := decodePostings(s.data[meta.PostingsOffset+val:])
	if err != nil || len(postings) == 0 {
		return 0, false
	}
	return postings[0].DocNum, true
}

// DocNum returns the docNum for a single external ID via FST lookup on the
// _id field. Used by delete/update resolution and by query execution that
// materializes a result set back into docNums.
func (s *Segment) DocNum(externalID string) (uint64, bool) {
	fst, err := s.getFST(IDField)
	if err != nil {
		return 0, false
	}
	return s.lookupDocNum(fst, externalID)
}

// DocNumbers returns a bitmap of docNums for the given external IDs,
// reusing one _id FST across the whole batch via lookupDocNum.
func (s *Segment) DocNumbers(externalIDs []string) *roaring.Bitmap {
	bm := roaring.New()

	fst, err := s.getFST(IDField)
	if err != nil {
		return bm
	}

	for _, id := range externalIDs {
		if docNum, ok := s.lookupDocNum(fst, id); ok {
			bm.Add(uint32(docNum))
		}
	}
	return bm
}

// Fields returns the list of indexed field names.
func (s *Segment) Fields() []string {
	fields := make([]string, len(s.footer.FieldsMeta))
	for i, fm := range s.footer.FieldsMeta {
		fields[i] = fm.Name
	}
	return fields
}

// FieldLength returns the length of a field in a document.
func (s *Segment) FieldLength(field string, docNum uint64) uint64 {
	if s.footer.FieldLengths == nil {
		return 0
	}
	if lengths, ok := s.footer.FieldLengths[field]; ok && docNum < uint64(len(lengths)) {
		return lengths[docNum]
	}
	return 0
}

// AvgFieldLength returns the average length of a field.
func (s *Segment) AvgFieldLength(field string) float64 {
	meta, ok := s.fieldMetaByName[field]
	if !ok || meta.DocCount == 0 {
		return 0
	}
	return float64(meta.TotalTokens) / float64(meta.DocCount)
}

// Norm returns the decoded length-norm factor for a field/docNum, or 0 if
// the field has no norms (omitted, or docNum out of range). Built from the
// same per-doc field-length bookkeeping as FieldLength, just precomputed
// and quantized to one byte at flush time instead of read back as a raw
// token count.
func (s *Segment) Norm(field string, docNum uint64) float32 {
	bytes, ok := s.footer.Norms[field]
	if !ok || docNum >= uint64(len(bytes)) {
		return 0
	}
	return DecodeNorm(bytes[docNum])
}

// LoadDoc loads a document by docNum from stored fields.
func (s *Segment) LoadDoc(docNum uint64) (map[string]any, error) {
	if docNum >= s.footer.NumDocs {
		return nil, fmt.Errorf("docNum %d out of range", docNum)
	}

	// Find the chunk containing this document
	chunkIdx := docNum / ChunkSize
	if int(chunkIdx) >= len(s.footer.ChunkOffsets) {
		return nil, fmt.Errorf("chunk index out of range")
	}

	offset := s.footer.ChunkOffsets[chunkIdx]

	// Read chunk length
	chunkLen := binary.BigEndian.Uint32(s.data[offset:])
	compressedData := s.data[offset+4 : offset+4+uint64(chunkLen)]

	// Decompress
	decompressed, err := snappy.Decode(nil, compressedData)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress chunk: %w", err)
	}

	// Parse chunk
	var chunk []map[string]any
	if err := json.Unmarshal(decompressed, &chunk); err != nil {
		return nil, fmt.Errorf("failed to parse chunk: %w", err)
	}

	// Return the specific document
	docInChunk := docNum % ChunkSize
	if int(docInChunk) >= len(chunk) {
		return nil, fmt.Errorf("document index out of range in chunk")
	}

	return chunk[docInChunk], nil
}

// TermVector returns the term->frequency map stored for a field/docNum, or
// nil if the field does not store term vectors. Stored fields hold the
// document's raw JSON; TermVector is the analyzed-and-counted form for
// whichever fields opted into VectorFields at build time, so it's fetched
// the same way LoadDoc fetches stored fields: by docNum, straight off the
// footer, no decompression needed since term vectors aren't chunked.
func (s *Segment) TermVector(field string, docNum uint64) map[string]int {
	perDoc, ok := s.footer.TermVectors[field]
	if !ok || docNum >= uint64(len(perDoc)) {
		return nil
	}
	return perDoc[docNum]
}

// Close releases one reference to this segment, tearing down the FSTs and
// the backing input once the last reference is gone.
func (s *Segment) Close() error {
	if atomic.AddInt32(&s.refs, -1) > 0 {
		return nil
	}

	s.fstsMu.Lock()
	defer s.fstsMu.Unlock()

	for _, fst := range s.fsts {
		fst.Close()
	}
	s.fsts = nil
	s.data = nil

	if s.in != nil {
		return s.in.Close()
	}
	return nil
}
