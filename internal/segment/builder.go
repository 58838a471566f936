package segment

import (
	"encoding/binary"
	"encoding/json"

	"github.com/RoaringBitmap/roaring"

	"github.com/invertdex/invertdex/internal/analysis"
	"github.com/invertdex/invertdex/internal/directory"
)

// Builder accumulates documents before flushing to an immutable segment.
type Builder struct {
	Fields       map[string]map[string][]Posting // field -> term -> postings
	FieldLengths map[string][]uint64             // field -> docNum -> token count
	Docs         []map[string]any                // stored documents
	DocIDs       []string                        // external IDs by docNum
	Deleted      *roaring.Bitmap                 // deleted docNums
	numDocs      uint64
	ramBytes     uint64
	analyzer     analysis.Analyzer

	// VectorFields names fields for which per-document term-frequency
	// vectors are retained (spec §4.2 term vectors .tvx/.tvd/.tvf).
	VectorFields map[string]bool
}

// NewBuilder creates a new segment builder.
func NewBuilder(analyzer analysis.Analyzer) *Builder {
	return &Builder{
		Fields:       make(map[string]map[string][]Posting),
		FieldLengths: make(map[string][]uint64),
		Docs:         make([]map[string]any, 0),
		DocIDs:       make([]string, 0),
		Deleted:      roaring.New(),
		numDocs:      0,
		analyzer:     analyzer,
		VectorFields: make(map[string]bool),
	}
}

// IDField is the special field name used to store document IDs for lookup.
const IDField = "_id"

// InvertedDoc is one document's analyzed form: per-field term positions and
// token counts, ready to append to a Builder. Inversion is the expensive
// half of add_document, so a thread-state slot produces an InvertedDoc off
// the writer lock and the Builder appends it under a short critical
// section.
type InvertedDoc struct {
	Doc     map[string]any
	Terms   map[string]map[string][]uint64 // field -> term -> positions
	Lengths map[string]uint64              // field -> token count
}

// InvertDocument analyzes doc into its inverted form. Text fields are
// tokenized; numeric fields become a single sortably-encoded term (so
// NumericRangeQuery can FST-range-scan them like text, spec-style); other
// value kinds are stored but not indexed.
func InvertDocument(analyzer analysis.Analyzer, doc map[string]any) *InvertedDoc {
	inv := &InvertedDoc{
		Doc:     doc,
		Terms:   make(map[string]map[string][]uint64),
		Lengths: make(map[string]uint64),
	}

	for fieldName, value := range doc {
		text, ok := value.(string)
		if !ok {
			if n, isNumeric := ToNumeric(value); isNumeric {
				inv.Terms[fieldName] = map[string][]uint64{EncodeNumeric(n): {1}}
				inv.Lengths[fieldName] = 1
			}
			continue
		}

		tokens := analyzer.Analyze(text)
		termPositions := make(map[string][]uint64, len(tokens))
		for _, tp := range tokens {
			termPositions[tp.Token] = append(termPositions[tp.Token], tp.Position)
		}
		inv.Terms[fieldName] = termPositions
		inv.Lengths[fieldName] = uint64(len(tokens))
	}

	return inv
}

// Add analyzes and appends a document, returning its docNum.
func (b *Builder) Add(externalID string, doc map[string]any) uint64 {
	return b.AddInverted(externalID, InvertDocument(b.analyzer, doc))
}

// AddInverted appends an already-inverted document and returns its docNum.
// The caller hands over ownership of inv: its position slices become the
// builder's postings.
func (b *Builder) AddInverted(externalID string, inv *InvertedDoc) uint64 {
	docNum := b.numDocs
	b.numDocs++

	b.Docs = append(b.Docs, inv.Doc)
	b.DocIDs = append(b.DocIDs, externalID)

	// Index _id field for DocNumbers lookup via FST
	if b.Fields[IDField] == nil {
		b.Fields[IDField] = make(map[string][]Posting)
	}
	b.Fields[IDField][externalID] = []Posting{{
		DocNum:    docNum,
		Frequency: 1,
		Positions: []uint64{1},
	}}

	b.ramBytes += uint64(len(externalID)) + postingRAMCost

	for fieldName, termPositions := range inv.Terms {
		if b.Fields[fieldName] == nil {
			b.Fields[fieldName] = make(map[string][]Posting)
		}

		if b.FieldLengths[fieldName] == nil {
			b.FieldLengths[fieldName] = make([]uint64, 0)
		}
		for len(b.FieldLengths[fieldName]) <= int(docNum) {
			b.FieldLengths[fieldName] = append(b.FieldLengths[fieldName], 0)
		}
		b.FieldLengths[fieldName][docNum] = inv.Lengths[fieldName]
		b.ramBytes += uint64(len(fieldName))

		for term, positions := range termPositions {
			b.Fields[fieldName][term] = append(b.Fields[fieldName][term], Posting{
				DocNum:    docNum,
				Frequency: uint64(len(positions)),
				Positions: positions,
			})
			b.ramBytes += uint64(len(term)) + postingRAMCost + 8*uint64(len(positions))
		}
	}

	return docNum
}

// postingRAMCost is the rough per-posting bookkeeping overhead used by the
// RAM watermark: struct fields plus map/slice headers. The estimate only
// needs to grow proportionally with buffered state, not be exact.
const postingRAMCost = 64

// RAMBytes estimates the memory held by buffered documents and postings,
// for the flush-by-RAM watermark.
func (b *Builder) RAMBytes() uint64 {
	return b.ramBytes
}

// Delete marks a document as deleted. Returns true if found.
func (b *Builder) Delete(externalID string) bool {
	for i, id := range b.DocIDs {
		if id == externalID && !b.Deleted.Contains(uint32(i)) {
			b.Deleted.Add(uint32(i))
			return true
		}
	}
	return false
}

// IsDeleted checks if a docNum is deleted.
func (b *Builder) IsDeleted(docNum uint64) bool {
	return b.Deleted.Contains(uint32(docNum))
}

// DocNum returns the docNum for an external ID, scanning the in-memory
// buffer (used only pre-flush, where no FST exists yet).
func (b *Builder) DocNum(externalID string) (uint64, bool) {
	for i, id := range b.DocIDs {
		if id == externalID && !b.IsDeleted(uint64(i)) {
			return uint64(i), true
		}
	}
	return 0, false
}

// NumDocs returns the number of non-deleted documents in the builder.
func (b *Builder) NumDocs() uint64 {
	return b.numDocs - b.Deleted.GetCardinality()
}

// TotalDocs returns the total number of documents (including deleted) for persistence.
func (b *Builder) TotalDocs() uint64 {
	return b.numDocs
}

// FieldLength returns the length of a field in a document.
func (b *Builder) FieldLength(field string, docNum uint64) uint64 {
	if lengths, ok := b.FieldLengths[field]; ok && docNum < uint64(len(lengths)) {
		return lengths[docNum]
	}
	return 0
}

// AvgFieldLength returns the average length of a field.
func (b *Builder) AvgFieldLength(field string) float64 {
	lengths, ok := b.FieldLengths[field]
	if !ok || len(lengths) == 0 {
		return 0
	}
	var total uint64
	var count uint64
	for i, l := range lengths {
		if !b.IsDeleted(uint64(i)) && l > 0 {
			total += l
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return float64(total) / float64(count)
}

// buildNorms computes the per-document length-norm byte for each indexed
// field (spec §4.10 Similarity.encodeNorm/lengthNorm).
func (b *Builder) buildNorms() map[string][]byte {
	norms := make(map[string][]byte, len(b.FieldLengths))
	for field, lengths := range b.FieldLengths {
		encoded := make([]byte, len(lengths))
		for i, l := range lengths {
			encoded[i] = EncodeNorm(LengthNorm(l))
		}
		norms[field] = encoded
	}
	return norms
}

// buildTermVectors assembles per-document term->frequency maps for fields
// registered in VectorFields.
func (b *Builder) buildTermVectors() map[string][]map[string]int {
	if len(b.VectorFields) == 0 {
		return nil
	}
	vectors := make(map[string][]map[string]int, len(b.VectorFields))
	for field := range b.VectorFields {
		terms, ok := b.Fields[field]
		if !ok {
			continue
		}
		perDoc := make([]map[string]int, b.numDocs)
		for term, postings := range terms {
			for _, p := range postings {
				if perDoc[p.DocNum] == nil {
					perDoc[p.DocNum] = make(map[string]int)
				}
				perDoc[p.DocNum][term] = int(p.Frequency)
			}
		}
		vectors[field] = perDoc
	}
	return vectors
}

// Build assembles the segment image in memory, then writes it through dir
// under a temp name, fsyncs it, and renames it into place (the sync-then-
// rename half of the commit protocol). Returns the segment's file name
// within dir.
func (b *Builder) Build(dir directory.Directory, segmentID string) (string, error) {
	w := newSegmentBuffer()

	// Write header
	w.Write([]byte(SegmentMagic))
	binary.Write(w, binary.BigEndian, SegmentVersion)
	binary.Write(w, binary.BigEndian, b.TotalDocs())

	// Reserve space for offsets, patched below once they are known.
	offsetsPos := w.Offset()
	w.Write(make([]byte, 16))

	// Write stored fields
	storedFieldsOffset := w.Offset()
	chunkOffsets, err := b.writeStoredFields(w)
	if err != nil {
		return "", err
	}

	// Write fields index
	fieldsIndexOffset := w.Offset()
	fieldsMeta, err := b.writeFieldsIndex(w)
	if err != nil {
		return "", err
	}

	footerOffset := w.Offset()
	footer := Footer{
		StoredFieldsOffset: storedFieldsOffset,
		FieldsIndexOffset:  fieldsIndexOffset,
		ChunkOffsets:       chunkOffsets,
		FieldsMeta:         fieldsMeta,
		DocIDs:             b.DocIDs,
		NumDocs:            b.TotalDocs(),
		FieldLengths:       b.FieldLengths,
		Norms:              b.buildNorms(),
		TermVectors:        b.buildTermVectors(),
	}
	footerData, err := json.Marshal(footer)
	if err != nil {
		return "", err
	}
	w.Write(footerData)

	binary.Write(w, binary.BigEndian, footerOffset)
	binary.Write(w, binary.BigEndian, uint64(len(footerData)))

	img := w.Bytes()
	binary.BigEndian.PutUint64(img[offsetsPos:], storedFieldsOffset)
	binary.BigEndian.PutUint64(img[offsetsPos+8:], fieldsIndexOffset)

	name := segmentID + ".seg"
	tmpName := name + ".tmp"

	out, err := dir.CreateOutput(tmpName)
	if err != nil {
		return "", err
	}
	if _, err := out.Write(img); err != nil {
		out.Close()
		dir.DeleteFile(tmpName)
		return "", err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		dir.DeleteFile(tmpName)
		return "", err
	}
	if err := out.Close(); err != nil {
		dir.DeleteFile(tmpName)
		return "", err
	}

	if err := dir.RenameFile(tmpName, name); err != nil {
		return "", err
	}

	return name, nil
}
