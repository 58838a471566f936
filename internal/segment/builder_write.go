package segment

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"sort"

	"github.com/couchbase/vellum"
	"github.com/golang/snappy"
)

// segmentBuffer accumulates the segment image in memory before Build hands
// it to the Directory in one sync-then-rename write. Offset replaces the
// Seek(0, 1) position reads a file handle used to provide.
type segmentBuffer struct {
	buf bytes.Buffer
}

func newSegmentBuffer() *segmentBuffer { return &segmentBuffer{} }

func (w *segmentBuffer) Write(p []byte) (int, error) { return w.buf.Write(p) }
func (w *segmentBuffer) Offset() uint64              { return uint64(w.buf.Len()) }
func (w *segmentBuffer) Bytes() []byte               { return w.buf.Bytes() }

// writeStoredFields writes chunked, compressed stored documents.
func (b *Builder) writeStoredFields(w *segmentBuffer) ([]uint64, error) {
	var chunkOffsets []uint64

	for i := 0; i < len(b.Docs); i += ChunkSize {
		end := i + ChunkSize
		if end > len(b.Docs) {
			end = len(b.Docs)
		}
		chunk := b.Docs[i:end]

		// Serialize chunk
		chunkData, err := json.Marshal(chunk)
		if err != nil {
			return nil, err
		}

		// Compress with snappy
		compressed := snappy.Encode(nil, chunkData)

		// Record offset
		chunkOffsets = append(chunkOffsets, w.Offset())

		// Write length + compressed data
		if err := binary.Write(w, binary.BigEndian, uint32(len(compressed))); err != nil {
			return nil, err
		}
		if _, err := w.Write(compressed); err != nil {
			return nil, err
		}
	}

	return chunkOffsets, nil
}

// writeFieldsIndex writes the FST dictionary and postings for each field,
// plus the BM25/flag bookkeeping (TotalTokens, DocCount, FieldFlags) that
// used to be a second pass over the builder's FieldLengths after the fact —
// folded in here since writeFieldIndex already walks each field once.
func (b *Builder) writeFieldsIndex(w *segmentBuffer) ([]FieldMeta, error) {
	var fieldsMeta []FieldMeta

	// Get sorted field names
	fieldNames := make([]string, 0, len(b.Fields))
	for name := range b.Fields {
		fieldNames = append(fieldNames, name)
	}
	sort.Strings(fieldNames)

	for _, fieldName := range fieldNames {
		terms := b.Fields[fieldName]
		meta, err := b.writeFieldIndex(w, fieldName, terms)
		if err != nil {
			return nil, err
		}
		fieldsMeta = append(fieldsMeta, meta)
	}

	return fieldsMeta, nil
}

// writeFieldIndex writes FST and postings for a single field, and stamps its
// FieldMeta with the token-count/doc-count/flag bookkeeping Build needs for
// BM25 and for term-vector/stored-field presence, computed from the same
// field-length pass Build used to redo separately.
func (b *Builder) writeFieldIndex(w *segmentBuffer, fieldName string, terms map[string][]Posting) (FieldMeta, error) {
	meta := FieldMeta{Name: fieldName}

	// Get sorted terms
	termList := make([]string, 0, len(terms))
	for term := range terms {
		termList = append(termList, term)
	}
	sort.Strings(termList)

	// Write postings first, collect offsets
	meta.PostingsOffset = w.Offset()

	termOffsets := make(map[string]uint64)
	for _, term := range termList {
		postings := terms[term]

		// Sort postings by docNum
		sort.Slice(postings, func(i, j int) bool {
			return postings[i].DocNum < postings[j].DocNum
		})

		termOffsets[term] = w.Offset() - meta.PostingsOffset
		encoded := EncodePostings(postings)
		if _, err := w.Write(encoded); err != nil {
			return meta, err
		}
	}

	meta.PostingsSize = w.Offset() - meta.PostingsOffset

	// Write FST dictionary
	meta.DictOffset = w.Offset()

	var fstBuf bytes.Buffer
	fstBuilder, err := vellum.New(&fstBuf, nil)
	if err != nil {
		return meta, err
	}

	for _, term := range termList {
		if err := fstBuilder.Insert([]byte(term), termOffsets[term]); err != nil {
			return meta, err
		}
	}
	if err := fstBuilder.Close(); err != nil {
		return meta, err
	}

	// Write FST size and data
	binary.Write(w, binary.BigEndian, uint64(fstBuf.Len()))
	w.Write(fstBuf.Bytes())

	meta.DictSize = w.Offset() - meta.DictOffset

	b.stampFieldMeta(&meta, fieldName)

	return meta, nil
}

// stampFieldMeta fills in the per-field stats and flags that fall out of
// the builder's own bookkeeping rather than the on-disk layout just written:
// total/doc-count feed BM25's average field length, flags record which of
// the logical sub-files (stored/indexed/vectors) this field actually has.
func (b *Builder) stampFieldMeta(meta *FieldMeta, fieldName string) {
	if lengths, ok := b.FieldLengths[fieldName]; ok {
		var total, count uint64
		for docNum, l := range lengths {
			if l > 0 && !b.IsDeleted(uint64(docNum)) {
				total += l
				count++
			}
		}
		meta.TotalTokens = total
		meta.DocCount = count
		meta.Flags |= FieldIndexed
	}
	if fieldName != IDField {
		meta.Flags |= FieldStored
	}
	if b.VectorFields[fieldName] {
		meta.Flags |= FieldStoreTermVectors
	}
}
