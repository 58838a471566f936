package segment

import (
	"math"
	"testing"

	"github.com/invertdex/invertdex/internal/analysis"
	"github.com/invertdex/invertdex/internal/directory"
)

func TestNormEncodeDecodeRoundTripsAllBytes(t *testing.T) {
	for b := 0; b < 256; b++ {
		got := EncodeNorm(DecodeNorm(byte(b)))
		if got != byte(b) {
			t.Fatalf("EncodeNorm(DecodeNorm(%#02x)) = %#02x", b, got)
		}
	}
}

func TestLengthNorm(t *testing.T) {
	if LengthNorm(0) != 0 {
		t.Errorf("LengthNorm(0) = %v, want 0", LengthNorm(0))
	}
	if LengthNorm(1) != 1 {
		t.Errorf("LengthNorm(1) = %v, want 1", LengthNorm(1))
	}
	if got := LengthNorm(4); math.Abs(float64(got)-0.5) > 1e-6 {
		t.Errorf("LengthNorm(4) = %v, want 0.5", got)
	}
}

func TestEncodeNormIsMonotonic(t *testing.T) {
	prev := EncodeNorm(LengthNorm(1000))
	for _, n := range []uint64{100, 10, 4, 1} {
		cur := EncodeNorm(LengthNorm(n))
		if cur < prev {
			t.Fatalf("norm byte for length %d (%#02x) sorted below a longer field (%#02x)", n, cur, prev)
		}
		prev = cur
	}
}

func TestSegmentNormMatchesFieldLength(t *testing.T) {
	seg := makeSegment(t, map[string]map[string]any{
		"doc1": {"title": "one two three four"},
	})
	defer seg.Close()

	got := seg.Norm("title", 0)
	want := DecodeNorm(EncodeNorm(LengthNorm(4)))
	if got != want {
		t.Errorf("Norm(title, 0) = %v, want %v", got, want)
	}
	if seg.Norm("title", 99) != 0 {
		t.Errorf("out-of-range docNum should have norm 0")
	}
	if seg.Norm("nope", 0) != 0 {
		t.Errorf("unknown field should have norm 0")
	}
}

func TestTermVectorsStoredForRegisteredFields(t *testing.T) {
	dir, err := directory.NewFSDirectory(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSDirectory error: %v", err)
	}
	b := NewBuilder(analysis.NewSimple())
	b.VectorFields["body"] = true
	b.Add("doc1", map[string]any{"body": "red fish blue fish"})

	name, err := b.Build(dir, "tv")
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	seg, err := Open(dir, name, "tv")
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer seg.Close()

	tv := seg.TermVector("body", 0)
	if tv == nil {
		t.Fatal("expected a term vector for body")
	}
	if tv["fish"] != 2 || tv["red"] != 1 || tv["blue"] != 1 {
		t.Errorf("term vector = %v, want fish:2 red:1 blue:1", tv)
	}
	if seg.TermVector("title", 0) != nil {
		t.Errorf("unregistered field should have no term vector")
	}
}
