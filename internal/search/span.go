package search

import (
	"github.com/invertdex/invertdex/internal/errs"
	"github.com/invertdex/invertdex/internal/query"
	"github.com/invertdex/invertdex/internal/segment"
)

// Span is a half-open [Start, End) position window within one document.
type Span struct {
	Start, End uint64
}

// SpanScorer extends Scorer with the position spans backing the current
// doc, the extra surface the span query family is built on.
type SpanScorer interface {
	Scorer
	Spans() []Span
}

// spanWeight is Weight narrowed to scorers that expose spans, so
// spanNearWeight can compose sub-clauses without type assertions.
type spanWeight interface {
	SpanScorer(s *Searcher, segIdx int) (SpanScorer, error)
}

// spanTermScorer wraps a term's postings cursor, exposing each occurrence
// as a width-1 span.
type spanTermScorer struct {
	*postingsScorer
}

func (s *spanTermScorer) Spans() []Span {
	ps := s.Positions()
	out := make([]Span, len(ps))
	for i, p := range ps {
		out[i] = Span{Start: p, End: p + 1}
	}
	return out
}

// spanTermWeight resolves one term's postings in one field. Span queries
// always carry an explicit field: span composition is per-field by nature,
// so there is no all-fields fan-out here.
type spanTermWeight struct {
	field string
	term  string
}

func (w *spanTermWeight) SpanScorer(s *Searcher, segIdx int) (SpanScorer, error) {
	if segIdx >= 0 {
		segSnap := s.snapshot.Segments()[segIdx]
		postings, err := segSnap.Search(w.term, w.field)
		if err != nil || len(postings) == 0 {
			return nil, err
		}
		return &spanTermScorer{newPostingsScorer(w.field, postings)}, nil
	}

	builder := s.snapshot.Builder()
	if builder == nil {
		return nil, nil
	}
	fieldTerms, ok := builder.Fields[w.field]
	if !ok {
		return nil, nil
	}
	postings := filterDeletedBuilderPostings(builder, fieldTerms[w.term])
	if len(postings) == 0 {
		return nil, nil
	}
	return &spanTermScorer{newPostingsScorer(w.field, postings)}, nil
}

func (w *spanTermWeight) Scorer(s *Searcher, segIdx int) (Scorer, error) {
	sc, err := w.SpanScorer(s, segIdx)
	if sc == nil || err != nil {
		return nil, err
	}
	return sc, nil
}

// spanNearScorer conjuncts its sub-span-scorers on docNum and keeps only
// docs where one span per sub fits in a window with at most slop positions
// of slack, optionally in clause order.
type spanNearScorer struct {
	conj    *conjunctionScorer
	subs    []SpanScorer
	slop    uint64
	inOrder bool
	window  Span
}

func newSpanNearScorer(subs []SpanScorer, slop uint64, inOrder bool) *spanNearScorer {
	scorers := make([]Scorer, len(subs))
	for i, s := range subs {
		scorers[i] = s
	}
	return &spanNearScorer{conj: newConjunctionScorer(scorers), subs: subs, slop: slop, inOrder: inOrder}
}

func (n *spanNearScorer) match() bool {
	spanSets := make([][]Span, len(n.subs))
	for i, s := range n.subs {
		spanSets[i] = s.Spans()
	}
	window, ok := windowMatch(spanSets, n.slop, n.inOrder)
	if ok {
		n.window = window
	}
	return ok
}

func (n *spanNearScorer) Next() bool {
	for n.conj.Next() {
		if n.match() {
			return true
		}
	}
	return false
}

func (n *spanNearScorer) Advance(target uint64) bool {
	if !n.conj.Advance(target) {
		return false
	}
	if n.match() {
		return true
	}
	return n.Next()
}

func (n *spanNearScorer) DocNum() uint64 { return n.conj.DocNum() }
func (n *spanNearScorer) Freq() uint64   { return 1 }
func (n *spanNearScorer) Field() string {
	if len(n.subs) == 0 {
		return ""
	}
	return n.subs[0].Field()
}
func (n *spanNearScorer) Positions() []uint64 { return []uint64{n.window.Start} }
func (n *spanNearScorer) Spans() []Span       { return []Span{n.window} }

// windowMatch tries every combination of one span per set, accepting the
// first whose enclosing window has at most slop positions not covered by
// the chosen spans; inOrder additionally requires each chosen span to start
// at or after the previous one's end. Per-doc span sets are small (one
// entry per term occurrence), so the exhaustive walk stays cheap.
func windowMatch(spanSets [][]Span, slop uint64, inOrder bool) (Span, bool) {
	if len(spanSets) == 0 {
		return Span{}, false
	}
	chosen := make([]Span, len(spanSets))

	var rec func(i int) bool
	rec = func(i int) bool {
		if i == len(spanSets) {
			minStart, maxEnd := chosen[0].Start, chosen[0].End
			var width uint64
			for _, s := range chosen {
				if s.Start < minStart {
					minStart = s.Start
				}
				if s.End > maxEnd {
					maxEnd = s.End
				}
				width += s.End - s.Start
			}
			window := maxEnd - minStart
			return width <= window && window-width <= slop
		}
		for _, s := range spanSets[i] {
			if inOrder && i > 0 && s.Start < chosen[i-1].End {
				continue
			}
			chosen[i] = s
			if rec(i + 1) {
				return true
			}
		}
		return false
	}

	if !rec(0) {
		return Span{}, false
	}
	minStart, maxEnd := chosen[0].Start, chosen[0].End
	for _, s := range chosen {
		if s.Start < minStart {
			minStart = s.Start
		}
		if s.End > maxEnd {
			maxEnd = s.End
		}
	}
	return Span{Start: minStart, End: maxEnd}, true
}

// spanNearWeight builds one SpanScorer per clause and wraps them in a
// spanNearScorer; any clause with nothing to contribute empties the whole
// conjunction.
type spanNearWeight struct {
	clauses []spanWeight
	slop    uint64
	inOrder bool
}

func (w *spanNearWeight) SpanScorer(s *Searcher, segIdx int) (SpanScorer, error) {
	subs := make([]SpanScorer, 0, len(w.clauses))
	for _, cw := range w.clauses {
		sc, err := cw.SpanScorer(s, segIdx)
		if err != nil {
			return nil, err
		}
		if sc == nil {
			return nil, nil
		}
		subs = append(subs, sc)
	}
	if len(subs) == 1 {
		return subs[0], nil
	}
	return newSpanNearScorer(subs, w.slop, w.inOrder), nil
}

func (w *spanNearWeight) Scorer(s *Searcher, segIdx int) (Scorer, error) {
	sc, err := w.SpanScorer(s, segIdx)
	if sc == nil || err != nil {
		return nil, err
	}
	return sc, nil
}

// spanWeightFor translates a span-family AST node into its spanWeight,
// validating that the tree stays within the family and on one field.
func spanWeightFor(q query.Query, field string) (spanWeight, error) {
	switch v := q.(type) {
	case *query.SpanTermQuery:
		f := v.Field
		if f == "" {
			f = field
		}
		if f == "" || f == segment.IDField {
			return nil, errs.New(errs.IllegalArgument, "span queries require an explicit field")
		}
		return &spanTermWeight{field: f, term: v.Term}, nil

	case *query.SpanNearQuery:
		f := v.Field
		if f == "" {
			f = field
		}
		if f == "" {
			return nil, errs.New(errs.IllegalArgument, "span queries require an explicit field")
		}
		if len(v.Clauses) == 0 {
			return nil, errs.New(errs.IllegalArgument, "span near query needs at least one clause")
		}
		clauses := make([]spanWeight, len(v.Clauses))
		for i, c := range v.Clauses {
			cw, err := spanWeightFor(c, f)
			if err != nil {
				return nil, err
			}
			clauses[i] = cw
		}
		return &spanNearWeight{clauses: clauses, slop: uint64(v.Slop), inOrder: v.InOrder}, nil

	default:
		return nil, errs.New(errs.IllegalArgument, "span near clauses must be span queries")
	}
}

// spanSearch executes a span-family query through the shared runWeight
// Collector, like every other query type.
func (s *Searcher) spanSearch(q query.Query, field string) ([]Result, error) {
	w, err := spanWeightFor(q, "")
	if err != nil {
		return nil, err
	}
	return s.runWeight(w.(Weight), field)
}
