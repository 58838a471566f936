package search

import (
	"github.com/RoaringBitmap/roaring"

	"github.com/invertdex/invertdex/internal/segment"
)

// Scorer is a pull-based cursor over one source's hits for a query: a
// single field's posting list, or a composition of several. A runWeight
// call walks a Scorer forward with Next/Advance exactly as a Lucene-family
// Collector walks the Scorer its Weight produced; this is the retrieval
// core query types are built from, rather than the materialize-then-filter
// set algebra a bitmap-based docSet would use.
type Scorer interface {
	// Next advances to the next matching doc, reporting whether one exists.
	Next() bool
	// Advance skips forward to the first matching doc >= target, reporting
	// whether one exists. Implementations may assume target is larger than
	// any doc already yielded.
	Advance(target uint64) bool
	// DocNum returns the current doc. Valid only after Next/Advance
	// returned true.
	DocNum() uint64
	// Freq returns the term frequency backing the current doc's score.
	Freq() uint64
	// Field returns the field the current doc matched in. For composites
	// spanning several fields or terms, this is the field of whichever
	// branch is driving the current doc.
	Field() string
	// Positions returns the term positions at the current doc, or nil if
	// the underlying postings carry none or the scorer doesn't track them.
	Positions() []uint64
}

// postingsScorer walks a single field/term's posting list. Both
// writeFieldIndex (persisted segments) and Builder.Add (in-memory) append
// postings in increasing DocNum order, so a plain index cursor suffices.
type postingsScorer struct {
	field    string
	postings []segment.Posting
	idx      int
}

func newPostingsScorer(field string, postings []segment.Posting) *postingsScorer {
	return &postingsScorer{field: field, postings: postings, idx: -1}
}

func (p *postingsScorer) Next() bool {
	p.idx++
	return p.idx < len(p.postings)
}

func (p *postingsScorer) Advance(target uint64) bool {
	for p.idx++; p.idx < len(p.postings); p.idx++ {
		if p.postings[p.idx].DocNum >= target {
			return true
		}
	}
	return false
}

func (p *postingsScorer) DocNum() uint64      { return p.postings[p.idx].DocNum }
func (p *postingsScorer) Freq() uint64        { return p.postings[p.idx].Frequency }
func (p *postingsScorer) Field() string       { return p.field }
func (p *postingsScorer) Positions() []uint64 { return p.postings[p.idx].Positions }

// disjunctionScorer is the OR primitive: at each step it yields the lowest
// current doc among its subs, summing Freq across every sub tied at that
// doc (mirroring postingsInRange's merge-by-summed-frequency for postings
// drawn from several terms/fields landing on the same document).
type disjunctionScorer struct {
	subs      []Scorer
	cur       uint64
	freq      uint64
	field     string
	positions []uint64
}

func newDisjunctionScorer(subs []Scorer) *disjunctionScorer {
	d := &disjunctionScorer{subs: make([]Scorer, 0, len(subs))}
	for _, s := range subs {
		if s.Next() {
			d.subs = append(d.subs, s)
		}
	}
	return d
}

func (d *disjunctionScorer) Next() bool {
	if len(d.subs) == 0 {
		return false
	}
	min := d.subs[0].DocNum()
	for _, s := range d.subs[1:] {
		if s.DocNum() < min {
			min = s.DocNum()
		}
	}

	d.cur, d.freq, d.positions, d.field = min, 0, nil, ""
	remaining := d.subs[:0]
	for _, s := range d.subs {
		if s.DocNum() == min {
			d.freq += s.Freq()
			d.positions = append(d.positions, s.Positions()...)
			if d.field == "" {
				d.field = s.Field()
			}
			if s.Next() {
				remaining = append(remaining, s)
			}
			continue
		}
		remaining = append(remaining, s)
	}
	d.subs = remaining
	return true
}

func (d *disjunctionScorer) Advance(target uint64) bool {
	remaining := d.subs[:0]
	for _, s := range d.subs {
		if s.DocNum() >= target || s.Advance(target) {
			remaining = append(remaining, s)
		}
	}
	d.subs = remaining
	return d.Next()
}

func (d *disjunctionScorer) DocNum() uint64      { return d.cur }
func (d *disjunctionScorer) Freq() uint64        { return d.freq }
func (d *disjunctionScorer) Field() string       { return d.field }
func (d *disjunctionScorer) Positions() []uint64 { return d.positions }

// conjunctionScorer is the AND primitive: classic leapfrog join, repeatedly
// advancing every sub to the largest current doc among them until all
// subs land on the same doc.
type conjunctionScorer struct {
	subs    []Scorer
	cur     uint64
	started bool
}

func newConjunctionScorer(subs []Scorer) *conjunctionScorer {
	c := &conjunctionScorer{subs: subs}
	for _, s := range subs {
		if !s.Next() {
			c.subs = nil
			break
		}
	}
	return c
}

func (c *conjunctionScorer) Next() bool {
	if len(c.subs) == 0 {
		return false
	}
	if c.started {
		if !c.subs[0].Next() {
			c.subs = nil
			return false
		}
	}
	c.started = true
	return c.align()
}

func (c *conjunctionScorer) Advance(target uint64) bool {
	if len(c.subs) == 0 {
		return false
	}
	for _, s := range c.subs {
		if s.DocNum() < target && !s.Advance(target) {
			c.subs = nil
			return false
		}
	}
	c.started = true
	return c.align()
}

// align repeatedly advances every sub to the current maximum doc among
// them until they all agree, or one is exhausted.
func (c *conjunctionScorer) align() bool {
	for {
		max := c.subs[0].DocNum()
		for _, s := range c.subs[1:] {
			if s.DocNum() > max {
				max = s.DocNum()
			}
		}
		allMatch := true
		for _, s := range c.subs {
			if s.DocNum() < max {
				if !s.Advance(max) {
					c.subs = nil
					return false
				}
			}
			if s.DocNum() != max {
				allMatch = false
			}
		}
		if allMatch {
			c.cur = max
			return true
		}
	}
}

func (c *conjunctionScorer) DocNum() uint64 { return c.cur }

func (c *conjunctionScorer) Freq() uint64 {
	var total uint64
	for _, s := range c.subs {
		total += s.Freq()
	}
	return total
}

func (c *conjunctionScorer) Field() string {
	if len(c.subs) == 0 {
		return ""
	}
	return c.subs[0].Field()
}

func (c *conjunctionScorer) Positions() []uint64 { return nil }

// exclusionScorer is the AND NOT primitive: every doc accepted yields,
// except those also present in excluded.
type exclusionScorer struct {
	accepted          Scorer
	excluded          Scorer
	excludedExhausted bool
}

func newExclusionScorer(accepted, excluded Scorer) *exclusionScorer {
	e := &exclusionScorer{accepted: accepted, excluded: excluded}
	if excluded == nil || !excluded.Next() {
		e.excludedExhausted = true
	}
	return e
}

func (e *exclusionScorer) isExcluded(doc uint64) bool {
	if e.excludedExhausted {
		return false
	}
	if e.excluded.DocNum() == doc {
		return true
	}
	if e.excluded.DocNum() < doc {
		if !e.excluded.Advance(doc) {
			e.excludedExhausted = true
			return false
		}
		return e.excluded.DocNum() == doc
	}
	return false
}

func (e *exclusionScorer) Next() bool {
	for e.accepted.Next() {
		if !e.isExcluded(e.accepted.DocNum()) {
			return true
		}
	}
	return false
}

func (e *exclusionScorer) Advance(target uint64) bool {
	if !e.accepted.Advance(target) {
		return false
	}
	if !e.isExcluded(e.accepted.DocNum()) {
		return true
	}
	return e.Next()
}

func (e *exclusionScorer) DocNum() uint64      { return e.accepted.DocNum() }
func (e *exclusionScorer) Freq() uint64        { return e.accepted.Freq() }
func (e *exclusionScorer) Field() string       { return e.accepted.Field() }
func (e *exclusionScorer) Positions() []uint64 { return e.accepted.Positions() }

// phraseScorer conjuncts a phrase's per-term scorers on docNum, then
// verifies the terms occur in order within the slop window, per
// phraseMatch.
type phraseScorer struct {
	conj  *conjunctionScorer
	terms []Scorer
	slop  uint64
}

func newPhraseScorer(terms []Scorer, slop uint64) *phraseScorer {
	return &phraseScorer{conj: newConjunctionScorer(terms), terms: terms, slop: slop}
}

func (p *phraseScorer) Next() bool {
	for p.conj.Next() {
		if phraseMatch(p.termPositions(), p.slop) {
			return true
		}
	}
	return false
}

func (p *phraseScorer) Advance(target uint64) bool {
	if !p.conj.Advance(target) {
		return false
	}
	if phraseMatch(p.termPositions(), p.slop) {
		return true
	}
	return p.Next()
}

func (p *phraseScorer) termPositions() [][]uint64 {
	out := make([][]uint64, len(p.terms))
	for i, t := range p.terms {
		out[i] = t.Positions()
	}
	return out
}

func (p *phraseScorer) DocNum() uint64 { return p.conj.DocNum() }
func (p *phraseScorer) Freq() uint64   { return 1 }
func (p *phraseScorer) Field() string {
	if len(p.terms) == 0 {
		return ""
	}
	return p.terms[0].Field()
}
func (p *phraseScorer) Positions() []uint64 {
	if len(p.terms) == 0 {
		return nil
	}
	return p.terms[0].Positions()
}

// allDocsScorer yields every docNum in [0, maxDoc) not marked deleted, with
// a constant frequency of 1 — MatchAllQuery's scorer.
type allDocsScorer struct {
	maxDoc  uint64
	deleted *roaring.Bitmap
	cur     int64
}

func newAllDocsScorer(maxDoc uint64, deleted *roaring.Bitmap) *allDocsScorer {
	return &allDocsScorer{maxDoc: maxDoc, deleted: deleted, cur: -1}
}

func (a *allDocsScorer) Next() bool {
	for {
		a.cur++
		if uint64(a.cur) >= a.maxDoc {
			return false
		}
		if a.deleted == nil || !a.deleted.Contains(uint32(a.cur)) {
			return true
		}
	}
}

func (a *allDocsScorer) Advance(target uint64) bool {
	if int64(target)-1 > a.cur {
		a.cur = int64(target) - 1
	}
	return a.Next()
}

func (a *allDocsScorer) DocNum() uint64      { return uint64(a.cur) }
func (a *allDocsScorer) Freq() uint64        { return 1 }
func (a *allDocsScorer) Field() string       { return "" }
func (a *allDocsScorer) Positions() []uint64 { return nil }
