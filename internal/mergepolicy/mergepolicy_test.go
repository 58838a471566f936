package mergepolicy

import (
	"testing"

	"github.com/invertdex/invertdex/internal/manifest"
)

func uniformSizes(n int, mb int64) ([]manifest.SegmentInfo, SegmentSize) {
	segs := make([]manifest.SegmentInfo, n)
	sizes := make(map[string]int64, n)
	for i := 0; i < n; i++ {
		name := string(rune('a' + i))
		segs[i] = manifest.SegmentInfo{Name: name}
		sizes[name] = mb * 1024 * 1024
	}
	return segs, func(si manifest.SegmentInfo) int64 { return sizes[si.Name] }
}

func TestLogByteSizeMergePolicyGroupsByMergeFactor(t *testing.T) {
	p := DefaultLogByteSizeMergePolicy()
	p.MergeFactor = 4

	segs, size := uniformSizes(4, 2)
	spec := p.FindMerges(segs, map[string]bool{}, size)
	if len(spec.Merges) != 1 {
		t.Fatalf("expected 1 merge, got %d", len(spec.Merges))
	}
	if len(spec.Merges[0].Segments) != 4 {
		t.Fatalf("expected 4 segments in merge, got %d", len(spec.Merges[0].Segments))
	}
}

func TestLogByteSizeMergePolicySkipsRegistered(t *testing.T) {
	p := DefaultLogByteSizeMergePolicy()
	p.MergeFactor = 2

	segs, size := uniformSizes(2, 2)
	registered := map[string]bool{segs[0].Name: true, segs[1].Name: true}
	spec := p.FindMerges(segs, registered, size)
	if len(spec.Merges) != 0 {
		t.Fatalf("expected no merges over fully-registered segments, got %d", len(spec.Merges))
	}
}

func TestFindMergesForOptimizeReducesToTarget(t *testing.T) {
	p := DefaultLogByteSizeMergePolicy()
	p.MergeFactor = 3

	segs, _ := uniformSizes(6, 1)
	spec := p.FindMergesForOptimize(segs, 1, map[string]bool{})
	if len(spec.Merges) == 0 {
		t.Fatalf("expected at least one merge")
	}
}

func TestNoMergeNeverProposes(t *testing.T) {
	segs, size := uniformSizes(10, 5)
	spec := NoMerge{}.FindMerges(segs, map[string]bool{}, size)
	if len(spec.Merges) != 0 {
		t.Fatalf("NoMerge proposed %d merges", len(spec.Merges))
	}
}
