package search

import (
	"github.com/invertdex/invertdex/internal/query"
	"github.com/invertdex/invertdex/internal/segment"
)

// termRangeSearch searches for documents whose term for a field falls
// within [Low, High] in byte order (spec §4.9 TermRangeQuery).
func (s *Searcher) termRangeSearch(q *query.TermRangeQuery) ([]Result, error) {
	var low, high []byte
	if !q.LowerUnbounded {
		low = []byte(q.Low)
	}
	if !q.UpperUnbounded {
		high = []byte(q.High)
	}
	w := &rangeWeight{
		field:        q.Field,
		low:          low,
		high:         high,
		includeLower: q.IncludeLower,
		includeUpper: q.IncludeUpper,
		builderMatch: func(term string) bool {
			return termInRange(term, q.Low, q.High, q.LowerUnbounded, q.UpperUnbounded, q.IncludeLower, q.IncludeUpper)
		},
	}
	return s.runWeight(w, q.Field)
}

// numericRangeSearch searches for documents whose numeric field value falls
// within [Low, High] (spec §4.9 NumericRangeQuery, §4.11 field cache
// precursor: values are encoded sortably so the same FST range scan applies).
func (s *Searcher) numericRangeSearch(q *query.NumericRangeQuery) ([]Result, error) {
	var low, high []byte
	if !q.LowerUnbounded {
		low = []byte(segment.EncodeNumeric(q.Low))
	}
	if !q.UpperUnbounded {
		high = []byte(segment.EncodeNumeric(q.High))
	}
	w := &rangeWeight{
		field:        q.Field,
		low:          low,
		high:         high,
		includeLower: q.IncludeLower,
		includeUpper: q.IncludeUpper,
		builderMatch: func(term string) bool {
			v := segment.DecodeNumeric(term)
			return numInRange(v, q.Low, q.High, q.LowerUnbounded, q.UpperUnbounded, q.IncludeLower, q.IncludeUpper)
		},
	}
	return s.runWeight(w, q.Field)
}

func termInRange(term, low, high string, lowerUnbounded, upperUnbounded, includeLower, includeUpper bool) bool {
	if !lowerUnbounded {
		if includeLower {
			if term < low {
				return false
			}
		} else if term <= low {
			return false
		}
	}
	if !upperUnbounded {
		if includeUpper {
			if term > high {
				return false
			}
		} else if term >= high {
			return false
		}
	}
	return true
}

func numInRange(v, low, high float64, lowerUnbounded, upperUnbounded, includeLower, includeUpper bool) bool {
	if !lowerUnbounded {
		if includeLower {
			if v < low {
				return false
			}
		} else if v <= low {
			return false
		}
	}
	if !upperUnbounded {
		if includeUpper {
			if v > high {
				return false
			}
		} else if v >= high {
			return false
		}
	}
	return true
}
