package search

import (
	"math"

	"github.com/invertdex/invertdex/internal/index"
)

// BM25 scoring constants.
const (
	BM25_k1 = 1.2
	BM25_b  = 0.75
)

// similarity scores a single match, given the collection-wide document
// frequency df (number of matching docs) out of totalDocs, and the
// average length of the field it matched in. Swapping the implementation
// is how a snapshot's ScoringMode picks between BM25 and classic TF-IDF
// without scoreAndSort itself branching on the mode.
type similarity interface {
	score(m searchMatch, totalDocs, df uint64, avgFieldLength float64) float64
}

type bm25Similarity struct{}

func (bm25Similarity) score(m searchMatch, totalDocs, df uint64, avgFieldLength float64) float64 {
	idf := math.Log(1 + (float64(totalDocs)-float64(df)+0.5)/(float64(df)+0.5))

	fieldLen := float64(m.fieldLength)
	if fieldLen == 0 {
		fieldLen = avgFieldLength
	}
	tf := m.tf
	return idf * (tf * (BM25_k1 + 1)) / (tf + BM25_k1*(1-BM25_b+BM25_b*fieldLen/avgFieldLength))
}

type tfidfSimilarity struct{}

func (tfidfSimilarity) score(m searchMatch, totalDocs, df uint64, _ float64) float64 {
	idf := math.Log(float64(totalDocs+1)/float64(df+1)) + 1.0
	var tf float64
	if m.tf > 0 {
		tf = 1.0 + math.Log(m.tf)
	}
	return tf * idf
}

func similarityFor(mode index.ScoringMode) similarity {
	if mode == index.ScoringBM25 {
		return bm25Similarity{}
	}
	return tfidfSimilarity{}
}

// scoreAndSort turns raw matches into scored, descending Results. df is the
// number of distinct documents matched, used as each match's document
// frequency regardless of which field or term within a composite query
// actually produced it — matching how the BM25/TF-IDF formulas below
// always did before this was a Collector-fed call, not a single-term one.
func (s *Searcher) scoreAndSort(matches []searchMatch, field string) []Result {
	totalDocs := s.snapshot.TotalDocs()
	df := uint64(len(matches))
	sim := similarityFor(s.snapshot.ScoringMode())

	avgFieldLengthCache := make(map[string]float64)
	getAvgFieldLength := func(f string) float64 {
		if avg, ok := avgFieldLengthCache[f]; ok {
			return avg
		}
		avg := s.snapshot.AvgFieldLength(f)
		if avg == 0 {
			avg = 1
		}
		avgFieldLengthCache[f] = avg
		return avg
	}

	results := make([]Result, len(matches))
	for i, m := range matches {
		matchField := m.field
		if matchField == "" {
			matchField = field
		}
		results[i] = Result{
			DocID: m.docID,
			Score: sim.score(m, totalDocs, df, getAvgFieldLength(matchField)),
		}
	}

	sortByScore(results)
	return results
}
