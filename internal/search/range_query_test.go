package search

import (
	"testing"

	"github.com/invertdex/invertdex/internal/index"
	"github.com/invertdex/invertdex/internal/query"
)

func createNumericTestIndex(t *testing.T, flushThreshold int) (*index.Index, func()) {
	t.Helper()
	dir := t.TempDir()
	config := index.DefaultConfig(dir)
	config.FlushThreshold = flushThreshold

	idx, err := index.New(config)
	if err != nil {
		t.Fatalf("New index error: %v", err)
	}

	docs := []struct {
		id  string
		doc map[string]any
	}{
		{"doc1", map[string]any{"title": "one", "price": 10.0}},
		{"doc2", map[string]any{"title": "two", "price": 25.0}},
		{"doc3", map[string]any{"title": "three", "price": 50.0}},
		{"doc4", map[string]any{"title": "four", "price": 75.0}},
		{"doc5", map[string]any{"title": "five", "price": -5.0}},
	}
	for _, d := range docs {
		if err := idx.Index(d.id, d.doc); err != nil {
			t.Fatalf("Index error: %v", err)
		}
	}

	cleanup := func() { idx.Close() }
	return idx, cleanup
}

func resultDocIDs(results []Result) map[string]bool {
	ids := make(map[string]bool, len(results))
	for _, r := range results {
		ids[r.DocID] = true
	}
	return ids
}

func TestNumericRangeQuery_InclusiveBounds_Builder(t *testing.T) {
	idx, cleanup := createNumericTestIndex(t, 10000) // stays in the in-memory builder
	defer cleanup()

	s, sCleanup := createSearcher(t, idx)
	defer sCleanup()

	q := &query.NumericRangeQuery{Field: "price", Low: 10, High: 50, IncludeLower: true, IncludeUpper: true}
	results, err := s.RunQuery(q)
	if err != nil {
		t.Fatalf("RunQuery error: %v", err)
	}

	ids := resultDocIDs(results)
	if !ids["doc1"] || !ids["doc2"] || !ids["doc3"] {
		t.Errorf("expected doc1, doc2, doc3 in [10,50], got %v", ids)
	}
	if ids["doc4"] || ids["doc5"] {
		t.Errorf("expected doc4, doc5 excluded from [10,50], got %v", ids)
	}
}

func TestNumericRangeQuery_ExclusiveBounds_Builder(t *testing.T) {
	idx, cleanup := createNumericTestIndex(t, 10000)
	defer cleanup()

	s, sCleanup := createSearcher(t, idx)
	defer sCleanup()

	q := &query.NumericRangeQuery{Field: "price", Low: 10, High: 50, IncludeLower: false, IncludeUpper: false}
	results, err := s.RunQuery(q)
	if err != nil {
		t.Fatalf("RunQuery error: %v", err)
	}

	ids := resultDocIDs(results)
	if len(ids) != 1 || !ids["doc2"] {
		t.Errorf("expected only doc2 in (10,50), got %v", ids)
	}
}

func TestNumericRangeQuery_UnboundedUpper_Builder(t *testing.T) {
	idx, cleanup := createNumericTestIndex(t, 10000)
	defer cleanup()

	s, sCleanup := createSearcher(t, idx)
	defer sCleanup()

	q := &query.NumericRangeQuery{Field: "price", Low: 50, IncludeLower: true, UpperUnbounded: true}
	results, err := s.RunQuery(q)
	if err != nil {
		t.Fatalf("RunQuery error: %v", err)
	}

	ids := resultDocIDs(results)
	if !ids["doc3"] || !ids["doc4"] {
		t.Errorf("expected doc3, doc4 in [50,*), got %v", ids)
	}
	if ids["doc1"] || ids["doc2"] || ids["doc5"] {
		t.Errorf("unexpected docs in [50,*): %v", ids)
	}
}

func TestNumericRangeQuery_NegativeValues_Builder(t *testing.T) {
	idx, cleanup := createNumericTestIndex(t, 10000)
	defer cleanup()

	s, sCleanup := createSearcher(t, idx)
	defer sCleanup()

	q := &query.NumericRangeQuery{Field: "price", LowerUnbounded: true, High: 0, IncludeUpper: true}
	results, err := s.RunQuery(q)
	if err != nil {
		t.Fatalf("RunQuery error: %v", err)
	}

	ids := resultDocIDs(results)
	if len(ids) != 1 || !ids["doc5"] {
		t.Errorf("expected only doc5 in (*,0], got %v", ids)
	}
}

func TestNumericRangeQuery_AfterFlushToSegment(t *testing.T) {
	idx, cleanup := createNumericTestIndex(t, 1) // flushes every doc to a segment
	defer cleanup()

	s, sCleanup := createSearcher(t, idx)
	defer sCleanup()

	q := &query.NumericRangeQuery{Field: "price", Low: 10, High: 50, IncludeLower: true, IncludeUpper: true}
	results, err := s.RunQuery(q)
	if err != nil {
		t.Fatalf("RunQuery error: %v", err)
	}

	ids := resultDocIDs(results)
	if !ids["doc1"] || !ids["doc2"] || !ids["doc3"] {
		t.Errorf("expected doc1, doc2, doc3 in [10,50], got %v", ids)
	}
}

func TestTermRangeQuery_MatchesLexicalRange(t *testing.T) {
	idx, cleanup := createTestIndex(t)
	defer cleanup()

	s, sCleanup := createSearcher(t, idx)
	defer sCleanup()

	// title terms (lowercased by the analyzer): only doc5's "database"/"design"
	// fall in ["d", "dz"] -- "go" (doc2/doc3) sorts past "dz".
	q := &query.TermRangeQuery{Field: "title", Low: "d", High: "dz", IncludeLower: true, IncludeUpper: true}
	results, err := s.RunQuery(q)
	if err != nil {
		t.Fatalf("RunQuery error: %v", err)
	}

	ids := resultDocIDs(results)
	if len(ids) != 1 || !ids["doc5"] {
		t.Errorf("expected only doc5 in range [d,dz], got %v", ids)
	}
}

func TestQueryString_ParsesNumericRange(t *testing.T) {
	idx, cleanup := createNumericTestIndex(t, 10000)
	defer cleanup()

	s, sCleanup := createSearcher(t, idx)
	defer sCleanup()

	results, err := s.RunQueryString("price:[10 TO 50]")
	if err != nil {
		t.Fatalf("RunQueryString error: %v", err)
	}

	ids := resultDocIDs(results)
	if !ids["doc1"] || !ids["doc2"] || !ids["doc3"] {
		t.Errorf("expected doc1, doc2, doc3, got %v", ids)
	}
}

func TestQueryString_ParsesUnboundedRange(t *testing.T) {
	idx, cleanup := createNumericTestIndex(t, 10000)
	defer cleanup()

	s, sCleanup := createSearcher(t, idx)
	defer sCleanup()

	results, err := s.RunQueryString("price:[50 TO *]")
	if err != nil {
		t.Fatalf("RunQueryString error: %v", err)
	}

	ids := resultDocIDs(results)
	if !ids["doc3"] || !ids["doc4"] {
		t.Errorf("expected doc3, doc4, got %v", ids)
	}
}

func TestQueryString_ParsesExclusiveRange(t *testing.T) {
	idx, cleanup := createNumericTestIndex(t, 10000)
	defer cleanup()

	s, sCleanup := createSearcher(t, idx)
	defer sCleanup()

	results, err := s.RunQueryString("price:{10 TO 50}")
	if err != nil {
		t.Fatalf("RunQueryString error: %v", err)
	}

	ids := resultDocIDs(results)
	if len(ids) != 1 || !ids["doc2"] {
		t.Errorf("expected only doc2, got %v", ids)
	}
}

// Bound terms that are prefixes of other indexed terms are the tricky case
// for the segment-side FST scan: an exclusive lower bound must still admit
// extensions of the bound term, and an inclusive upper bound must not.
func TestTermRangeQuery_BoundIsPrefixOfLongerTerm(t *testing.T) {
	dir := t.TempDir()
	config := index.DefaultConfig(dir)
	config.FlushThreshold = 1 // force every doc into a flushed segment

	idx, err := index.New(config)
	if err != nil {
		t.Fatalf("New index error: %v", err)
	}
	defer idx.Close()

	for id, title := range map[string]string{
		"docA": "abc",
		"docB": "abcd",
		"docC": "abd",
	} {
		if err := idx.Index(id, map[string]any{"title": title}); err != nil {
			t.Fatalf("Index error: %v", err)
		}
	}

	s, sCleanup := createSearcher(t, idx)
	defer sCleanup()

	// Exclusive lower "abc" keeps its extension "abcd".
	q := &query.TermRangeQuery{Field: "title", Low: "abc", High: "z", IncludeUpper: true}
	results, err := s.RunQuery(q)
	if err != nil {
		t.Fatalf("RunQuery error: %v", err)
	}
	ids := resultDocIDs(results)
	if ids["docA"] || !ids["docB"] || !ids["docC"] {
		t.Errorf("expected docB and docC in (abc,z], got %v", ids)
	}

	// Inclusive upper "abc" keeps "abc" itself but not its extension.
	q = &query.TermRangeQuery{Field: "title", Low: "a", High: "abc", IncludeLower: true, IncludeUpper: true}
	results, err = s.RunQuery(q)
	if err != nil {
		t.Fatalf("RunQuery error: %v", err)
	}
	ids = resultDocIDs(results)
	if !ids["docA"] || ids["docB"] || ids["docC"] {
		t.Errorf("expected only docA in [a,abc], got %v", ids)
	}
}
