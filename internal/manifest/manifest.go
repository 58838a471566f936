// Package manifest is the versioned commit record for an index directory:
// the ordered list of segments that make up a point-in-time view, persisted
// as segments_N per spec §6. It is grounded on the bluge-derived index
// snapshot file in _examples/other_examples (generation-file / commit-point
// shape) since the teacher repo keeps no such record of its own (it tracks
// segments in BoltDB instead — see internal/store).
package manifest

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/invertdex/invertdex/internal/directory"
	"github.com/invertdex/invertdex/internal/errs"
)

// magic is the negative-sentinel file format marker from spec §6.
const magic uint32 = 0xC0DEFEED

// formatVersion is bumped whenever the on-disk segments_N layout changes.
const formatVersion uint32 = 1

// genFileName is the pointer file recording the current generation.
const genFileName = "segments.gen"

// SegmentInfo is one segment's entry in the manifest: its name, doc count,
// and the generation counters for its mutable overlays (deletions, norms).
type SegmentInfo struct {
	Name        string
	NumDocs     uint64
	DelGen      int64 // -1 means "no deletions file"
	DelCount    uint64
	Diagnostics map[string]string
}

// HasDeletions reports whether this segment has a live deletion generation.
func (si SegmentInfo) HasDeletions() bool { return si.DelGen >= 0 }

// DelFileName returns the name of this segment's current deletion-bitmap
// file, or "" if it has none.
func (si SegmentInfo) DelFileName() string {
	if si.DelGen < 0 {
		return ""
	}
	return fmt.Sprintf("%s_%d.del", si.Name, si.DelGen)
}

// SegmentFileName returns the name of this segment's compound segment file.
func (si SegmentInfo) SegmentFileName() string {
	return si.Name + ".seg"
}

// SegmentInfos is the full manifest: an ordered segment list, the next
// segment number to assign, the current generation, and opaque user data
// stashed by the caller at commit time.
type SegmentInfos struct {
	Generation     int64
	NextSegmentNum uint64
	Segments       []SegmentInfo
	UserData       map[string]string
}

// Clone returns a deep copy safe to mutate independently.
func (sis *SegmentInfos) Clone() *SegmentInfos {
	out := &SegmentInfos{
		Generation:     sis.Generation,
		NextSegmentNum: sis.NextSegmentNum,
		Segments:       append([]SegmentInfo(nil), sis.Segments...),
	}
	if sis.UserData != nil {
		out.UserData = make(map[string]string, len(sis.UserData))
		for k, v := range sis.UserData {
			out.UserData[k] = v
		}
	}
	return out
}

// NewSegmentName allocates the next segment name and advances the counter.
func (sis *SegmentInfos) NewSegmentName() string {
	name := fmt.Sprintf("_%d", sis.NextSegmentNum)
	sis.NextSegmentNum++
	return name
}

// FileName returns the segments_N file name for this manifest's generation.
func (sis *SegmentInfos) FileName() string {
	return fileNameForGen(sis.Generation)
}

func fileNameForGen(gen int64) string {
	return "segments_" + strconv.FormatInt(gen, 36)
}

// ReferencedFiles returns every file name this manifest points to: its own
// segments_N file plus, for each segment, its compound file and (if
// present) its deletion-bitmap file.
func (sis *SegmentInfos) ReferencedFiles() []string {
	files := append([]string{sis.FileName()}, sis.segmentFileNames()...)
	for _, si := range sis.Segments {
		if si.HasDeletions() {
			files = append(files, si.DelFileName())
		}
	}
	return files
}

// New returns an empty manifest at generation 0, used by IndexWriter's
// Create open mode.
func New() *SegmentInfos {
	return &SegmentInfos{Generation: 0, NextSegmentNum: 0}
}

// Read loads the manifest at the given generation directly.
func Read(dir directory.Directory, gen int64) (*SegmentInfos, error) {
	return readGen(dir, gen)
}

func readGen(dir directory.Directory, gen int64) (*SegmentInfos, error) {
	name := fileNameForGen(gen)
	in, err := dir.OpenInput(name)
	if err != nil {
		return nil, err
	}
	defer in.Close()

	buf := make([]byte, in.Len())
	if _, err := in.ReadAt(buf, 0); err != nil {
		return nil, errs.Wrap(err, errs.Io, "read "+name)
	}

	return decode(buf, gen)
}

// Load finds and parses the current manifest per spec §6's recovery
// algorithm: trust segments.gen if it names a generation that parses
// cleanly, otherwise fall back to the highest-generation segments_N found
// by listing the directory.
func Load(dir directory.Directory) (*SegmentInfos, error) {
	if gen, ok := readGenPointer(dir); ok {
		if sis, err := readGen(dir, gen); err == nil {
			return sis, nil
		}
	}

	names, err := dir.ListAll()
	if err != nil {
		return nil, err
	}

	var best int64 = -1
	for _, n := range names {
		if !strings.HasPrefix(n, "segments_") {
			continue
		}
		g, err := strconv.ParseInt(strings.TrimPrefix(n, "segments_"), 36, 64)
		if err != nil {
			continue
		}
		if g > best {
			best = g
		}
	}

	if best < 0 {
		return nil, errs.New(errs.FileNotFound, "no segments_N manifest found")
	}

	return readGen(dir, best)
}

func readGenPointer(dir directory.Directory) (int64, bool) {
	in, err := dir.OpenInput(genFileName)
	if err != nil {
		return 0, false
	}
	defer in.Close()

	buf := make([]byte, in.Len())
	if _, err := in.ReadAt(buf, 0); err != nil || len(buf) < 8 {
		return 0, false
	}
	return int64(binary.BigEndian.Uint64(buf[:8])), true
}

// Commit durably persists the next generation of this manifest following
// spec §6's crash-safe protocol: write the new segments_N under a temp
// name, sync it, rename into place and sync the directory, then overwrite
// and sync segments.gen. The segment and .del files it references are
// synced by their own writers, not here. On success sis.Generation is
// advanced to the new, now-current generation.
func (sis *SegmentInfos) Commit(dir directory.Directory) error {
	nextGen := sis.Generation + 1
	finalName := fileNameForGen(nextGen)
	tmpName := finalName + ".tmp"

	encoded := sis.encode(nextGen)

	out, err := dir.CreateOutput(tmpName)
	if err != nil {
		return err
	}
	if _, err := out.Write(encoded); err != nil {
		out.Close()
		dir.DeleteFile(tmpName)
		return errs.Wrap(err, errs.Io, "write "+tmpName)
	}
	// The file's own content must be durable before the rename publishes
	// it; syncing only the directory entry afterwards is not enough.
	if err := out.Sync(); err != nil {
		out.Close()
		dir.DeleteFile(tmpName)
		return errs.Wrap(err, errs.Io, "sync "+tmpName)
	}
	if err := out.Close(); err != nil {
		dir.DeleteFile(tmpName)
		return errs.Wrap(err, errs.Io, "close "+tmpName)
	}

	if err := dir.RenameFile(tmpName, finalName); err != nil {
		return err
	}
	if err := dir.Sync(); err != nil {
		return err
	}

	if err := writeGenPointer(dir, nextGen); err != nil {
		return err
	}

	sis.Generation = nextGen
	return nil
}

func (sis *SegmentInfos) segmentFileNames() []string {
	names := make([]string, 0, len(sis.Segments))
	for _, si := range sis.Segments {
		names = append(names, si.SegmentFileName())
	}
	return names
}

func writeGenPointer(dir directory.Directory, gen int64) error {
	buf := make([]byte, 24)
	binary.BigEndian.PutUint64(buf[0:8], uint64(gen))
	binary.BigEndian.PutUint64(buf[8:16], uint64(gen))
	binary.BigEndian.PutUint64(buf[16:24], uint64(formatVersion))

	tmp := genFileName + ".tmp"
	out, err := dir.CreateOutput(tmp)
	if err != nil {
		return err
	}
	if _, err := out.Write(buf); err != nil {
		out.Close()
		dir.DeleteFile(tmp)
		return errs.Wrap(err, errs.Io, "write "+genFileName)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		dir.DeleteFile(tmp)
		return errs.Wrap(err, errs.Io, "sync "+genFileName)
	}
	if err := out.Close(); err != nil {
		return errs.Wrap(err, errs.Io, "close "+genFileName)
	}
	if err := dir.RenameFile(tmp, genFileName); err != nil {
		return err
	}
	return dir.Sync()
}

// encode serializes the manifest per spec §6's segments_N layout: magic,
// version, next-segment counter, segment count and entries, user-data map,
// trailing checksum.
func (sis *SegmentInfos) encode(gen int64) []byte {
	var sb strings.Builder
	w := bufio.NewWriter(&sb)

	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], magic)
	w.Write(hdr[:])
	binary.BigEndian.PutUint32(hdr[:], formatVersion)
	w.Write(hdr[:])

	writeUvarint(w, sis.NextSegmentNum)
	writeUvarint(w, uint64(len(sis.Segments)))

	for _, si := range sis.Segments {
		writeString(w, si.Name)
		writeUvarint(w, si.NumDocs)
		writeVarint(w, si.DelGen)
		writeUvarint(w, si.DelCount)
		writeUvarint(w, uint64(len(si.Diagnostics)))
		keys := make([]string, 0, len(si.Diagnostics))
		for k := range si.Diagnostics {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			writeString(w, k)
			writeString(w, si.Diagnostics[k])
		}
	}

	writeUvarint(w, uint64(len(sis.UserData)))
	udKeys := make([]string, 0, len(sis.UserData))
	for k := range sis.UserData {
		udKeys = append(udKeys, k)
	}
	sort.Strings(udKeys)
	for _, k := range udKeys {
		writeString(w, k)
		writeString(w, sis.UserData[k])
	}

	w.Flush()
	payload := []byte(sb.String())

	checksum := crc32Checksum(payload)
	var csBuf [4]byte
	binary.BigEndian.PutUint32(csBuf[:], checksum)

	return append(payload, csBuf[:]...)
}

func decode(buf []byte, gen int64) (*SegmentInfos, error) {
	if len(buf) < 4 {
		return nil, errs.New(errs.CorruptIndex, "segments_N truncated")
	}
	body, wantChecksum := buf[:len(buf)-4], binary.BigEndian.Uint32(buf[len(buf)-4:])
	if crc32Checksum(body) != wantChecksum {
		return nil, errs.New(errs.CorruptIndex, "segments_N checksum mismatch")
	}

	r := newByteReader(body)

	gotMagic, err := r.uint32()
	if err != nil || gotMagic != magic {
		return nil, errs.New(errs.CorruptIndex, "bad segments_N magic")
	}
	if _, err := r.uint32(); err != nil {
		return nil, errs.New(errs.CorruptIndex, "bad segments_N version")
	}

	next, err := r.uvarint()
	if err != nil {
		return nil, errs.Wrap(err, errs.CorruptIndex, "next segment counter")
	}

	count, err := r.uvarint()
	if err != nil {
		return nil, errs.Wrap(err, errs.CorruptIndex, "segment count")
	}

	sis := &SegmentInfos{Generation: gen, NextSegmentNum: next}
	sis.Segments = make([]SegmentInfo, 0, count)

	for i := uint64(0); i < count; i++ {
		name, err := r.string()
		if err != nil {
			return nil, errs.Wrap(err, errs.CorruptIndex, "segment name")
		}
		numDocs, err := r.uvarint()
		if err != nil {
			return nil, errs.Wrap(err, errs.CorruptIndex, "segment doc count")
		}
		delGen, err := r.varint()
		if err != nil {
			return nil, errs.Wrap(err, errs.CorruptIndex, "segment del gen")
		}
		delCount, err := r.uvarint()
		if err != nil {
			return nil, errs.Wrap(err, errs.CorruptIndex, "segment del count")
		}
		diagCount, err := r.uvarint()
		if err != nil {
			return nil, errs.Wrap(err, errs.CorruptIndex, "segment diagnostics count")
		}
		var diag map[string]string
		if diagCount > 0 {
			diag = make(map[string]string, diagCount)
			for j := uint64(0); j < diagCount; j++ {
				k, err := r.string()
				if err != nil {
					return nil, err
				}
				v, err := r.string()
				if err != nil {
					return nil, err
				}
				diag[k] = v
			}
		}
		sis.Segments = append(sis.Segments, SegmentInfo{
			Name: name, NumDocs: numDocs, DelGen: delGen, DelCount: delCount, Diagnostics: diag,
		})
	}

	udCount, err := r.uvarint()
	if err != nil {
		return nil, errs.Wrap(err, errs.CorruptIndex, "user data count")
	}
	if udCount > 0 {
		sis.UserData = make(map[string]string, udCount)
		for i := uint64(0); i < udCount; i++ {
			k, err := r.string()
			if err != nil {
				return nil, err
			}
			v, err := r.string()
			if err != nil {
				return nil, err
			}
			sis.UserData[k] = v
		}
	}

	return sis, nil
}
