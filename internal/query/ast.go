package query

import (
	"fmt"
	"strings"
)

// Query is the interface for all query types.
type Query interface {
	queryNode()
	String() string
}

// TermQuery searches for a single term.
type TermQuery struct {
	Field string
	Term  string
}

func (q *TermQuery) queryNode() {}

func (q *TermQuery) String() string {
	if q.Field != "" {
		return fmt.Sprintf("term(%s:%s)", q.Field, q.Term)
	}
	return fmt.Sprintf("term(%s)", q.Term)
}

// PhraseQuery searches for a phrase: its terms in order, with at most Slop
// extra positions spread between them (0 means exactly adjacent).
type PhraseQuery struct {
	Field  string
	Phrase string
	Slop   int
}

func (q *PhraseQuery) queryNode() {}

func (q *PhraseQuery) String() string {
	suffix := ""
	if q.Slop > 0 {
		suffix = fmt.Sprintf("~%d", q.Slop)
	}
	if q.Field != "" {
		return fmt.Sprintf("phrase(%s:\"%s\"%s)", q.Field, q.Phrase, suffix)
	}
	return fmt.Sprintf("phrase(\"%s\"%s)", q.Phrase, suffix)
}

// PrefixQuery searches for terms starting with a prefix.
type PrefixQuery struct {
	Field  string
	Prefix string
}

func (q *PrefixQuery) queryNode() {}

func (q *PrefixQuery) String() string {
	if q.Field != "" {
		return fmt.Sprintf("prefix(%s:%s*)", q.Field, q.Prefix)
	}
	return fmt.Sprintf("prefix(%s*)", q.Prefix)
}

// RegexQuery searches for terms matching a regular expression.
type RegexQuery struct {
	Field   string
	Pattern string
}

func (q *RegexQuery) queryNode() {}

func (q *RegexQuery) String() string {
	if q.Field != "" {
		return fmt.Sprintf("regex(%s:/%s/)", q.Field, q.Pattern)
	}
	return fmt.Sprintf("regex(/%s/)", q.Pattern)
}

// FuzzyQuery searches for terms within Fuzziness edit distance of Term.
type FuzzyQuery struct {
	Field     string
	Term      string
	Fuzziness uint8
}

func (q *FuzzyQuery) queryNode() {}

func (q *FuzzyQuery) String() string {
	if q.Field != "" {
		return fmt.Sprintf("fuzzy(%s:%s~%d)", q.Field, q.Term, q.Fuzziness)
	}
	return fmt.Sprintf("fuzzy(%s~%d)", q.Term, q.Fuzziness)
}

// TermRangeQuery matches terms whose byte-order falls within [Low, High]
// (either bound optionally open and optionally exclusive) for a field.
type TermRangeQuery struct {
	Field                          string
	Low, High                      string
	LowerUnbounded, UpperUnbounded bool
	IncludeLower, IncludeUpper     bool
}

func (q *TermRangeQuery) queryNode() {}

func (q *TermRangeQuery) String() string {
	return fmt.Sprintf("range(%s%s)", q.Field, rangeBounds(q.Low, q.High, q.LowerUnbounded, q.UpperUnbounded, q.IncludeLower, q.IncludeUpper))
}

// NumericRangeQuery matches numeric field values within [Low, High].
type NumericRangeQuery struct {
	Field                          string
	Low, High                      float64
	LowerUnbounded, UpperUnbounded bool
	IncludeLower, IncludeUpper     bool
}

func (q *NumericRangeQuery) queryNode() {}

func (q *NumericRangeQuery) String() string {
	low, high := "*", "*"
	if !q.LowerUnbounded {
		low = fmt.Sprintf("%g", q.Low)
	}
	if !q.UpperUnbounded {
		high = fmt.Sprintf("%g", q.High)
	}
	return fmt.Sprintf("numeric_range(%s%s)", q.Field, rangeBounds(low, high, q.LowerUnbounded, q.UpperUnbounded, q.IncludeLower, q.IncludeUpper))
}

func rangeBounds(low, high string, lowerUnbounded, upperUnbounded, includeLower, includeUpper bool) string {
	open, close := "[", "]"
	if !includeLower {
		open = "{"
	}
	if !includeUpper {
		close = "}"
	}
	if lowerUnbounded {
		low = "*"
	}
	if upperUnbounded {
		high = "*"
	}
	return fmt.Sprintf("%s%s TO %s%s", open, low, high, close)
}

// BoolQuery combines multiple queries with boolean logic.
type BoolQuery struct {
	Must    []Query
	Should  []Query
	MustNot []Query
}

func (q *BoolQuery) queryNode() {}

func (q *BoolQuery) String() string {
	var parts []string

	if len(q.Must) > 0 {
		mustStrs := make([]string, len(q.Must))
		for i, m := range q.Must {
			mustStrs[i] = m.String()
		}
		parts = append(parts, fmt.Sprintf("AND(%s)", strings.Join(mustStrs, ", ")))
	}

	if len(q.Should) > 0 {
		shouldStrs := make([]string, len(q.Should))
		for i, s := range q.Should {
			shouldStrs[i] = s.String()
		}
		parts = append(parts, fmt.Sprintf("OR(%s)", strings.Join(shouldStrs, ", ")))
	}

	if len(q.MustNot) > 0 {
		notStrs := make([]string, len(q.MustNot))
		for i, n := range q.MustNot {
			notStrs[i] = n.String()
		}
		parts = append(parts, fmt.Sprintf("NOT(%s)", strings.Join(notStrs, ", ")))
	}

	if len(parts) == 0 {
		return "bool(empty)"
	}

	return fmt.Sprintf("bool(%s)", strings.Join(parts, " "))
}

// MultiPhraseQuery matches like PhraseQuery, but each position accepts any
// of a set of alternative terms.
type MultiPhraseQuery struct {
	Field     string
	Positions [][]string
	Slop      int
}

func (q *MultiPhraseQuery) queryNode() {}

func (q *MultiPhraseQuery) String() string {
	parts := make([]string, len(q.Positions))
	for i, alts := range q.Positions {
		parts[i] = "(" + strings.Join(alts, "|") + ")"
	}
	suffix := ""
	if q.Slop > 0 {
		suffix = fmt.Sprintf("~%d", q.Slop)
	}
	if q.Field != "" {
		return fmt.Sprintf("multi_phrase(%s:%s%s)", q.Field, strings.Join(parts, " "), suffix)
	}
	return fmt.Sprintf("multi_phrase(%s%s)", strings.Join(parts, " "), suffix)
}

// SpanTermQuery is the span family's leaf: every occurrence of Term in
// Field is a width-1 position span. Span queries always name a field.
type SpanTermQuery struct {
	Field string
	Term  string
}

func (q *SpanTermQuery) queryNode() {}

func (q *SpanTermQuery) String() string {
	return fmt.Sprintf("span_term(%s:%s)", q.Field, q.Term)
}

// SpanNearQuery matches documents where one span from each clause fits in a
// position window with at most Slop positions of slack, optionally in
// clause order. Clauses must themselves be span queries over Field.
type SpanNearQuery struct {
	Field   string
	Clauses []Query
	Slop    int
	InOrder bool
}

func (q *SpanNearQuery) queryNode() {}

func (q *SpanNearQuery) String() string {
	parts := make([]string, len(q.Clauses))
	for i, c := range q.Clauses {
		parts[i] = c.String()
	}
	return fmt.Sprintf("span_near(%s, slop=%d, inOrder=%t, [%s])", q.Field, q.Slop, q.InOrder, strings.Join(parts, ", "))
}

// MatchAllQuery matches all documents.
type MatchAllQuery struct{}

func (q *MatchAllQuery) queryNode() {}

func (q *MatchAllQuery) String() string {
	return "match_all"
}

// MatchNoneQuery matches no documents.
type MatchNoneQuery struct{}

func (q *MatchNoneQuery) queryNode() {}

func (q *MatchNoneQuery) String() string {
	return "match_none"
}
