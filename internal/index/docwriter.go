package index

import (
	"github.com/invertdex/invertdex/internal/analysis"
	"github.com/invertdex/invertdex/internal/segment"
)

// threadStatePool bounds how many callers may invert documents at once:
// the fixed pool of thread-state slots from spec §4.3. Acquire blocks when
// every slot is busy; slots are pre-allocated and reused, never destroyed.
// Inversion (tokenizing, grouping terms, counting positions) is the
// expensive half of add_document and runs entirely inside a slot, off the
// writer lock — the shared builder append that follows is a short critical
// section, so add_document stays parallel across caller threads.
type threadStatePool struct {
	slots chan *threadState
}

// threadState is one slot's scratch. The inverted document it produces is
// handed to the builder wholesale, so the slot itself carries only the
// analyzer binding.
type threadState struct {
	analyzer analysis.Analyzer
}

func newThreadStatePool(n int, analyzer analysis.Analyzer) *threadStatePool {
	if n < 1 {
		n = 1
	}
	p := &threadStatePool{slots: make(chan *threadState, n)}
	for i := 0; i < n; i++ {
		p.slots <- &threadState{analyzer: analyzer}
	}
	return p
}

func (p *threadStatePool) acquire() *threadState { return <-p.slots }

func (p *threadStatePool) release(ts *threadState) { p.slots <- ts }

// invert analyzes doc within this slot.
func (ts *threadState) invert(doc map[string]any) *segment.InvertedDoc {
	return segment.InvertDocument(ts.analyzer, doc)
}
