package analysis

import (
	"strings"
	"unicode"
)

type TokenPosition struct {
	Token    string
	Position uint64
}

// Analyzer defines the interface for text analysis.
type Analyzer interface {
	Analyze(text string) []TokenPosition
}

// Simple performs basic tokenization: lowercasing and splitting on non-alphanumeric.
type Simple struct{}

func NewSimple() *Simple {
	return &Simple{}
}

// Analyze tokenizes text into tokens with positions.
func (a *Simple) Analyze(text string) []TokenPosition {
	return tokenizeFunc(text, func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsNumber(r)
	}, true)
}

// Whitespace splits only on whitespace, preserving punctuation and case.
// Useful for fields like identifiers or codes where Simple's folding is
// too aggressive.
type Whitespace struct{}

func NewWhitespace() *Whitespace {
	return &Whitespace{}
}

// Analyze tokenizes text into tokens with positions, splitting on whitespace only.
func (a *Whitespace) Analyze(text string) []TokenPosition {
	return tokenizeFunc(text, func(r rune) bool {
		return !unicode.IsSpace(r)
	}, false)
}

// tokenizeFunc is the shared token-scanning loop: accept collects runes that
// belong to a token, and lower controls case-folding.
func tokenizeFunc(text string, accept func(rune) bool, lower bool) []TokenPosition {
	var tokens []TokenPosition
	var currentToken strings.Builder
	var position uint64

	if lower {
		text = strings.ToLower(text)
	}

	for _, r := range text {
		if accept(r) {
			currentToken.WriteRune(r)
		} else {
			if currentToken.Len() > 0 {
				tokens = append(tokens, TokenPosition{
					Token:    currentToken.String(),
					Position: position,
				})
				position++
				currentToken.Reset()
			}
		}
	}

	if currentToken.Len() > 0 {
		tokens = append(tokens, TokenPosition{
			Token:    currentToken.String(),
			Position: position,
		})
	}

	return tokens
}
