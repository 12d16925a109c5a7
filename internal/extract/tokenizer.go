// Package extract tokenizes notification text and pulls candidate spans for
// transaction fields out of it. Every function is pure; a failed extraction
// is an empty result.
package extract

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/Veraticus/smsledger/internal/model"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Kind classifies a token.
type Kind int

// Token kinds.
const (
	KindWord Kind = iota
	KindNumber
	KindSymbol
	KindPunct
)

// Token is a lexical unit of a message. Text is message[Position:Position+len(Text)].
type Token struct {
	Text     string
	Position int
	Kind     Kind
}

// End returns the byte offset just past the token.
func (t Token) End() int {
	return t.Position + len(t.Text)
}

// Normalized returns the comparison form of the token.
func (t Token) Normalized() string {
	return Normalize(t.Text)
}

// contextWidth is the number of neighbouring tokens kept on each side of a span.
const contextWidth = 2

var digitMapper = runes.Map(func(r rune) rune {
	switch {
	case r >= '٠' && r <= '٩':
		return '0' + (r - '٠')
	case r >= '۰' && r <= '۹':
		return '0' + (r - '۰')
	case r == '٫':
		return '.'
	case r == '٬':
		return ','
	}
	return r
})

// NormalizeDigits maps Arabic-Indic digits and separators to ASCII.
// The result may be shorter than the input, so offsets into it must never be
// used against the original text.
func NormalizeDigits(s string) string {
	out, _, err := transform.String(digitMapper, s)
	if err != nil {
		return s
	}
	return out
}

// Normalize lowercases, NFKC-folds and digit-normalizes s for comparisons.
func Normalize(s string) string {
	return strings.ToLower(norm.NFKC.String(NormalizeDigits(strings.TrimSpace(s))))
}

// Tokenize splits text into words, numbers, currency symbols and punctuation.
// Numbers keep internal separators ("1,234.50"), words keep combining marks
// and never absorb digits, so "USD50" yields a word and a number.
func Tokenize(text string) []Token {
	var tokens []Token

	i := 0
	for i < len(text) {
		r, size := utf8.DecodeRuneInString(text[i:])

		switch {
		case unicode.IsSpace(r):
			i += size

		case unicode.IsLetter(r):
			start := i
			i += size
			for i < len(text) {
				next, n := utf8.DecodeRuneInString(text[i:])
				if !unicode.IsLetter(next) && !unicode.Is(unicode.Mn, next) {
					break
				}
				i += n
			}
			tokens = append(tokens, Token{Text: text[start:i], Position: start, Kind: KindWord})

		case unicode.IsDigit(r):
			start := i
			i += size
			for i < len(text) {
				next, n := utf8.DecodeRuneInString(text[i:])
				if unicode.IsDigit(next) {
					i += n
					continue
				}
				if isNumberSeparator(next) && i+n < len(text) {
					after, _ := utf8.DecodeRuneInString(text[i+n:])
					if unicode.IsDigit(after) {
						i += n
						continue
					}
				}
				break
			}
			tokens = append(tokens, Token{Text: text[start:i], Position: start, Kind: KindNumber})

		case unicode.Is(unicode.Sc, r):
			tokens = append(tokens, Token{Text: text[i : i+size], Position: i, Kind: KindSymbol})
			i += size

		default:
			tokens = append(tokens, Token{Text: text[i : i+size], Position: i, Kind: KindPunct})
			i += size
		}
	}

	return tokens
}

func isNumberSeparator(r rune) bool {
	return r == '.' || r == ',' || r == '٫' || r == '٬'
}

// Words returns the normalized word and number tokens of text.
func Words(text string) []string {
	tokens := Tokenize(text)
	words := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if tok.Kind == KindWord || tok.Kind == KindNumber {
			words = append(words, tok.Normalized())
		}
	}
	return words
}

// TokenTexts returns the normalized text of every token.
func TokenTexts(tokens []Token) []string {
	out := make([]string, len(tokens))
	for i, tok := range tokens {
		out[i] = tok.Normalized()
	}
	return out
}

// Positioned builds a PositionedToken for text[start:end] with the
// surrounding token context taken from tokens.
func Positioned(text string, tokens []Token, start, end int) model.PositionedToken {
	pt := model.PositionedToken{
		Token:    text[start:end],
		Position: start,
	}

	var before []string
	for i := len(tokens) - 1; i >= 0 && len(before) < contextWidth; i-- {
		if tokens[i].End() <= start {
			before = append([]string{tokens[i].Normalized()}, before...)
		}
	}

	var after []string
	for _, tok := range tokens {
		if len(after) >= contextWidth {
			break
		}
		if tok.Position >= end {
			after = append(after, tok.Normalized())
		}
	}

	pt.ContextBefore = before
	pt.ContextAfter = after
	return pt
}

// TokenIndex returns the index of the first token starting at or after pos.
func TokenIndex(tokens []Token, pos int) int {
	for i, tok := range tokens {
		if tok.Position >= pos || tok.End() > pos {
			return i
		}
	}
	return len(tokens)
}
