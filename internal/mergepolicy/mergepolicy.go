// Package mergepolicy selects which segments to merge, per spec §4.5.
// LogByteSizeMergePolicy is grounded directly on
// _examples/original_source/include/LogByteSizeMergePolicy.h and
// LogMergePolicy.h (the level-grouping-by-log-of-byte-size algorithm);
// NoMerge mirrors original_source/include/NoMergePolicy.h.
package mergepolicy

import (
	"math"
	"sort"

	"github.com/invertdex/invertdex/internal/manifest"
)

// SegmentSize reports a segment's on-disk byte size; the caller (IndexWriter)
// supplies this since only it knows how to ask the Directory for file
// lengths.
type SegmentSize func(si manifest.SegmentInfo) int64

// OneMerge names a contiguous, policy-selected subset of segments to fold
// into a single new segment.
type OneMerge struct {
	Segments []manifest.SegmentInfo
}

// MergeSpecification is zero or more independent merges a policy wants run.
type MergeSpecification struct {
	Merges []OneMerge
}

func (ms *MergeSpecification) Add(m OneMerge) {
	ms.Merges = append(ms.Merges, m)
}

// MergePolicy decides which segments should be merged and whether a merge's
// output should use the compound-file layout.
type MergePolicy interface {
	// FindMerges is called after every flush (and on an explicit merge
	// request) to propose merges over segments not already registered for
	// another in-flight merge.
	FindMerges(segments []manifest.SegmentInfo, registered map[string]bool, size SegmentSize) *MergeSpecification

	// FindMergesForOptimize proposes merges to collapse segments down to at
	// most maxSegmentCount, for ForceMerge/optimize.
	FindMergesForOptimize(segments []manifest.SegmentInfo, maxSegmentCount int, registered map[string]bool) *MergeSpecification

	// UseCompoundFile reports whether a just-built segment should be written
	// in compound-file form.
	UseCompoundFile(segments []manifest.SegmentInfo, newSegment manifest.SegmentInfo) bool
}

// LogByteSizeMergePolicy levels segments into buckets of similar byte size
// on a logarithmic ladder (base LevelSizeBase) and proposes a merge of
// MergeFactor segments from the lowest non-singleton level whose total size
// is within MaxMergeMB, per spec §4.5.
type LogByteSizeMergePolicy struct {
	MergeFactor   int
	MinMergeMB    float64
	MaxMergeMB    float64
	LevelSizeBase float64
}

// DefaultLogByteSizeMergePolicy returns the spec's default tuning: merge
// factor 10, a 1.6MB minimum merge size, uncapped maximum, log base 1.6 —
// mirroring LogByteSizeMergePolicy.h's DEFAULT_* constants.
func DefaultLogByteSizeMergePolicy() *LogByteSizeMergePolicy {
	return &LogByteSizeMergePolicy{
		MergeFactor:   10,
		MinMergeMB:    1.6,
		MaxMergeMB:    math.Inf(1),
		LevelSizeBase: 1.6,
	}
}

func (p *LogByteSizeMergePolicy) sizeMB(si manifest.SegmentInfo, size SegmentSize) float64 {
	return float64(size(si)) / (1024 * 1024)
}

func (p *LogByteSizeMergePolicy) level(mb float64) float64 {
	if mb < p.MinMergeMB {
		mb = p.MinMergeMB
	}
	return math.Log(mb) / math.Log(p.LevelSizeBase)
}

// FindMerges implements the leveled bucketing: walk segments from smallest
// to largest, group consecutive segments whose level is at most 0.75 above
// the level of the first segment in the group, and emit a merge for any
// group that reaches MergeFactor members.
func (p *LogByteSizeMergePolicy) FindMerges(segments []manifest.SegmentInfo, registered map[string]bool, size SegmentSize) *MergeSpecification {
	spec := &MergeSpecification{}

	candidates := make([]manifest.SegmentInfo, 0, len(segments))
	for _, si := range segments {
		if !registered[si.Name] {
			candidates = append(candidates, si)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return p.sizeMB(candidates[i], size) < p.sizeMB(candidates[j], size)
	})

	i := 0
	for i < len(candidates) {
		groupLevel := p.level(p.sizeMB(candidates[i], size))
		j := i + 1
		totalMB := p.sizeMB(candidates[i], size)
		for j < len(candidates) {
			lvl := p.level(p.sizeMB(candidates[j], size))
			if lvl-groupLevel > 0.75 {
				break
			}
			nextMB := totalMB + p.sizeMB(candidates[j], size)
			if nextMB > p.MaxMergeMB {
				break
			}
			totalMB = nextMB
			j++
		}

		if j-i >= p.MergeFactor {
			group := append([]manifest.SegmentInfo(nil), candidates[i:i+p.MergeFactor]...)
			spec.Add(OneMerge{Segments: group})
			i += p.MergeFactor
			continue
		}
		i = j
	}

	return spec
}

// FindMergesForOptimize greedily merges the unregistered segments together
// in manifest order (not by size), MergeFactor at a time, until the segment
// count is at most maxSegmentCount.
func (p *LogByteSizeMergePolicy) FindMergesForOptimize(segments []manifest.SegmentInfo, maxSegmentCount int, registered map[string]bool) *MergeSpecification {
	spec := &MergeSpecification{}
	if maxSegmentCount < 1 {
		maxSegmentCount = 1
	}

	candidates := make([]manifest.SegmentInfo, 0, len(segments))
	for _, si := range segments {
		if !registered[si.Name] {
			candidates = append(candidates, si)
		}
	}

	remaining := len(segments)
	i := 0
	for remaining > maxSegmentCount && i < len(candidates) {
		factor := p.MergeFactor
		if factor < 2 {
			factor = 2
		}
		end := i + factor
		if end > len(candidates) {
			end = len(candidates)
		}
		if end-i < 2 {
			break
		}
		group := append([]manifest.SegmentInfo(nil), candidates[i:end]...)
		spec.Add(OneMerge{Segments: group})
		remaining -= (end - i) - 1
		i = end
	}

	return spec
}

// UseCompoundFile always returns true: SPEC_FULL.md's Open Question
// resolution #2 keeps the teacher's single-compound-file-per-segment shape
// as the only layout this port implements.
func (p *LogByteSizeMergePolicy) UseCompoundFile(segments []manifest.SegmentInfo, newSegment manifest.SegmentInfo) bool {
	return true
}

// NoMerge never proposes a merge, for tests and restricted embeddings, per
// original_source/include/NoMergePolicy.h.
type NoMerge struct{}

func (NoMerge) FindMerges(segments []manifest.SegmentInfo, registered map[string]bool, size SegmentSize) *MergeSpecification {
	return &MergeSpecification{}
}

func (NoMerge) FindMergesForOptimize(segments []manifest.SegmentInfo, maxSegmentCount int, registered map[string]bool) *MergeSpecification {
	return &MergeSpecification{}
}

func (NoMerge) UseCompoundFile(segments []manifest.SegmentInfo, newSegment manifest.SegmentInfo) bool {
	return true
}
