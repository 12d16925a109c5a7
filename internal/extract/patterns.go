package extract

import (
	"log/slog"
	"regexp"
	"sort"
	"unicode"
	"unicode/utf8"

	"github.com/Veraticus/smsledger/internal/common"
)

// patternSpec describes one extraction regex.
type patternSpec struct {
	expr string
	// group is the capture group holding the span; 0 is the whole match.
	group int
	rank  int
	// noLetterAround rejects matches glued to letters (needed for non-ASCII
	// words where \b does not apply).
	noLetterAround bool
	// noDigitAround rejects matches glued to digits.
	noDigitAround bool
}

type pattern struct {
	re *regexp.Regexp
	patternSpec
}

// span is a half-open byte range found by a pattern.
type span struct {
	start int
	end   int
	rank  int
}

func (s span) overlaps(o span) bool {
	return s.start < o.end && o.start < s.end
}

func (s span) contains(pos int) bool {
	return pos >= s.start && pos < s.end
}

// compilePatterns compiles specs, dropping any that fail to compile.
func compilePatterns(family string, specs []patternSpec) []pattern {
	compiled := make([]pattern, 0, len(specs))
	for _, spec := range specs {
		re, err := common.CompilePattern(spec.expr)
		if err != nil {
			slog.Debug("Skipping extraction pattern", "family", family, "error", err)
			continue
		}
		compiled = append(compiled, pattern{re: re, patternSpec: spec})
	}
	return compiled
}

// findSpans runs every pattern over text and returns non-overlapping spans,
// preferring longer and better-ranked matches, ordered by position.
func findSpans(text string, patterns []pattern) []span {
	var candidates []span
	for _, p := range patterns {
		for _, m := range p.re.FindAllStringSubmatchIndex(text, -1) {
			idx := 2 * p.group
			if idx+1 >= len(m) || m[idx] < 0 || m[idx] == m[idx+1] {
				continue
			}
			start, end := m[idx], m[idx+1]
			if p.noLetterAround && touches(text, start, end, unicode.IsLetter) {
				continue
			}
			if p.noDigitAround && touches(text, start, end, unicode.IsDigit) {
				continue
			}
			candidates = append(candidates, span{start: start, end: end, rank: p.rank})
		}
	}
	return selectSpans(candidates)
}

// selectSpans keeps a maximal set of non-overlapping spans.
func selectSpans(candidates []span) []span {
	sort.SliceStable(candidates, func(i, j int) bool {
		li := candidates[i].end - candidates[i].start
		lj := candidates[j].end - candidates[j].start
		if li != lj {
			return li > lj
		}
		if candidates[i].rank != candidates[j].rank {
			return candidates[i].rank < candidates[j].rank
		}
		return candidates[i].start < candidates[j].start
	})

	var kept []span
	for _, c := range candidates {
		clash := false
		for _, k := range kept {
			if c.overlaps(k) {
				clash = true
				break
			}
		}
		if !clash {
			kept = append(kept, c)
		}
	}

	sort.Slice(kept, func(i, j int) bool { return kept[i].start < kept[j].start })
	return kept
}

// touches reports whether the rune before start or at end satisfies pred.
func touches(text string, start, end int, pred func(rune) bool) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(text[:start])
		if pred(r) {
			return true
		}
	}
	if end < len(text) {
		r, _ := utf8.DecodeRuneInString(text[end:])
		if pred(r) {
			return true
		}
	}
	return false
}

func inAny(spans []span, pos int) bool {
	for _, s := range spans {
		if s.contains(pos) {
			return true
		}
	}
	return false
}
