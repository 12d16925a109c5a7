package template

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/Veraticus/smsledger/internal/extract"
	"github.com/Veraticus/smsledger/internal/model"
	"github.com/Veraticus/smsledger/internal/structure"
)

const (
	// positionTolerance is how far, as a fraction of message length, a
	// token may drift and still count as the same slot.
	positionTolerance = 0.15
	senderBonus       = 0.1

	structureBase          = 0.35
	structureCoverageScale = 0.4
	structureEntryScale    = 0.2
	structureSenderBonus   = 0.05
)

// roleFields are the variable roles a skeleton can hold.
var roleFields = []model.Field{
	model.FieldAmount,
	model.FieldCurrency,
	model.FieldDate,
	model.FieldAccount,
	model.FieldVendor,
}

// tokenView is a tokenized message with normalized texts.
type tokenView struct {
	tokens []extract.Token
	norm   []string
}

func newTokenView(message string) tokenView {
	tokens := extract.Tokenize(message)
	return tokenView{tokens: tokens, norm: extract.TokenTexts(tokens)}
}

// ordinal returns the relative position of token index i in [0, 1].
func (v tokenView) ordinal(i int) float64 {
	if len(v.tokens) <= 1 {
		return 0
	}
	return float64(i) / float64(len(v.tokens)-1)
}

// FindBestMatch scores every eligible entry against message and returns the
// best. Matched is set when the score reaches MinConfidenceThreshold.
func (s *Store) FindBestMatch(ctx context.Context, message, senderHint string) (model.MatchResult, error) {
	if strings.TrimSpace(message) == "" {
		return model.NoMatch(), nil
	}
	if err := ctx.Err(); err != nil {
		return model.NoMatch(), err
	}

	entries, err := s.eligible(ctx)
	if err != nil {
		return model.NoMatch(), err
	}
	if len(entries) == 0 {
		return model.NoMatch(), nil
	}

	now := s.clock()
	view := newTokenView(message)
	skeleton := structure.Skeleton(message)

	bestIdx := -1
	best := 0.0
	for i := range entries {
		e := &entries[i]
		score := matchScore(e, view, skeleton)
		if score == 0 {
			continue
		}
		if senderHint != "" && strings.EqualFold(strings.TrimSpace(e.SenderHint), strings.TrimSpace(senderHint)) {
			score += senderBonus
		}
		score = math.Min(1, score+recencyBonus(e, now))

		if bestIdx < 0 || score > best || (score == best && preferEntry(e, &entries[bestIdx])) {
			bestIdx, best = i, score
		}
	}

	if bestIdx < 0 {
		return model.NoMatch(), nil
	}

	entry := entries[bestIdx]
	result := model.MatchResult{
		Entry:      &entry,
		Confidence: best,
		Matched:    best >= s.opts.MinConfidenceThreshold,
	}
	if !result.Matched {
		tmpl := structure.BuildTemplate(&entry)
		result.FallbackTemplate = &tmpl
	}
	return result, nil
}

// preferEntry breaks score ties by recency, then ID.
func preferEntry(a, b *model.LearnedEntry) bool {
	la, lb := a.LastConfirmedAt(), b.LastConfirmedAt()
	if !la.Equal(lb) {
		return la.After(lb)
	}
	return a.ID < b.ID
}

// matchScore is the fraction of e's field tokens found in the message at
// compatible positions. Entries without field tokens only match an
// identical skeleton.
func matchScore(e *model.LearnedEntry, view tokenView, skeleton string) float64 {
	if e.FieldTokenMap.IsEmpty() {
		sig := e.StructureSignature
		if sig == "" {
			sig = structure.Skeleton(e.RawMessage)
		}
		if sig == skeleton {
			return 1
		}
		return 0
	}

	stored := newTokenView(e.RawMessage)
	total, found := 0, 0
	for _, f := range model.AllFields {
		for _, pt := range e.FieldTokenMap.Slot(f) {
			total++
			if tokenFound(pt, stored, view) {
				found++
			}
		}
	}
	return float64(found) / float64(total)
}

// tokenFound reports whether pt, taken from stored, occurs in view with the
// same normalized text and either a shared neighbour or a similar relative
// position.
func tokenFound(pt model.PositionedToken, stored, view tokenView) bool {
	want := extract.TokenTexts(extract.Tokenize(pt.Token))
	if len(want) == 0 {
		return false
	}
	storedOrdinal := stored.ordinal(extract.TokenIndex(stored.tokens, pt.Position))

	for j := 0; j+len(want) <= len(view.norm); j++ {
		if !equalSeq(view.norm[j:j+len(want)], want) {
			continue
		}
		if sharesContext(pt, view, j, j+len(want)) {
			return true
		}
		if math.Abs(view.ordinal(j)-storedOrdinal) <= positionTolerance {
			return true
		}
	}
	return false
}

func equalSeq(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sharesContext(pt model.PositionedToken, view tokenView, start, end int) bool {
	before := window(view.norm, start-2, start)
	after := window(view.norm, end, end+2)
	return intersects(pt.ContextBefore, before) || intersects(pt.ContextAfter, after)
}

func window(s []string, from, to int) []string {
	if from < 0 {
		from = 0
	}
	if to > len(s) {
		to = len(s)
	}
	if from >= to {
		return nil
	}
	return s[from:to]
}

func intersects(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

// StructureMatch is a learned entry whose template fits a new message.
type StructureMatch struct {
	Entry    *model.LearnedEntry
	Template model.StructureTemplate
	// Tokens holds the spans of the new message for each resolved role.
	Tokens     model.FieldTokenMap
	Coverage   float64
	Confidence float64
}

// MatchUsingTemplateStructure looks for entries sharing message's template
// hash and maps their field roles onto the new message. It returns nil when
// no candidate verifies.
func (s *Store) MatchUsingTemplateStructure(ctx context.Context, message, senderHint string) (*StructureMatch, error) {
	if strings.TrimSpace(message) == "" {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := s.eligible(ctx)
	if err != nil {
		return nil, err
	}

	hash := structure.ComputeTemplateHash(message)
	var candidates []*model.LearnedEntry
	for i := range entries {
		if entries[i].TemplateHash == hash {
			candidates = append(candidates, &entries[i])
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		ci, cj := candidates[i].ConfidenceValue(), candidates[j].ConfidenceValue()
		if ci != cj {
			return ci > cj
		}
		return preferEntry(candidates[i], candidates[j])
	})

	layout := structure.Layout(message)
	var best *StructureMatch
	for _, e := range candidates {
		m, ok := mapRoles(e, layout)
		if !ok {
			continue
		}
		conf := structureBase + structureCoverageScale*m.Coverage + structureEntryScale*e.ConfidenceValue()
		if senderHint != "" && strings.EqualFold(strings.TrimSpace(e.SenderHint), strings.TrimSpace(senderHint)) {
			conf += structureSenderBonus
		}
		m.Confidence = math.Min(1, conf)
		if best == nil || m.Confidence > best.Confidence {
			best = m
		}
	}
	return best, nil
}

// mapRoles places e's stored field tokens onto the slots of the new
// message's layout. The amount role must resolve and resolved roles must
// keep their stored order.
func mapRoles(e *model.LearnedEntry, layout []structure.Slot) (*StructureMatch, bool) {
	storedLayout := structure.Layout(e.RawMessage)
	if len(storedLayout) != len(layout) {
		return nil, false
	}
	for i := range layout {
		if storedLayout[i].Field != layout[i].Field {
			return nil, false
		}
	}

	type placed struct {
		field     model.Field
		storedPos int
		newPos    int
	}
	var resolved []placed
	var tokens model.FieldTokenMap
	expected := 0

	for _, f := range roleFields {
		stored := e.FieldTokenMap.Slot(f)
		if len(stored) == 0 {
			continue
		}
		expected++
		for k, slot := range storedLayout {
			if slot.Field != f || !overlaps(slot.Token, stored[0]) {
				continue
			}
			tokens.SetSlot(f, []model.PositionedToken{layout[k].Token})
			resolved = append(resolved, placed{field: f, storedPos: stored[0].Position, newPos: layout[k].Token.Position})
			break
		}
	}

	// An entry learned without an amount span still needs one: take the
	// amount slot in the same place of the layout.
	if len(tokens.Amount) == 0 {
		for k, slot := range layout {
			if slot.Field == model.FieldAmount {
				tokens.Amount = []model.PositionedToken{slot.Token}
				resolved = append(resolved, placed{field: model.FieldAmount, storedPos: storedLayout[k].Token.Position, newPos: slot.Token.Position})
				expected++
				break
			}
		}
	}
	if len(tokens.Amount) == 0 {
		return nil, false
	}
	if v, ok := extract.ParseAmount(tokens.Amount[0].Token); !ok || v.IsZero() {
		return nil, false
	}

	byStored := append([]placed(nil), resolved...)
	sort.Slice(byStored, func(i, j int) bool { return byStored[i].storedPos < byStored[j].storedPos })
	byNew := append([]placed(nil), resolved...)
	sort.Slice(byNew, func(i, j int) bool { return byNew[i].newPos < byNew[j].newPos })
	for i := range byStored {
		if byStored[i].field != byNew[i].field {
			return nil, false
		}
	}

	coverage := float64(len(resolved)) / float64(expected)
	entry := *e
	return &StructureMatch{
		Entry:    &entry,
		Template: structure.BuildTemplate(&entry),
		Tokens:   tokens,
		Coverage: math.Min(1, coverage),
	}, true
}

func overlaps(a, b model.PositionedToken) bool {
	return a.Position < b.End() && b.Position < a.End()
}

// RelocateRoles finds, in message, the amount and date spans playing the
// same role as in entry. A candidate whose preceding token matches the
// stored one wins, then the nearest relative position, then the first
// candidate.
func RelocateRoles(entry *model.LearnedEntry, message string) model.FieldTokenMap {
	var out model.FieldTokenMap
	stored := newTokenView(entry.RawMessage)
	view := newTokenView(message)

	relocate := func(f model.Field, candidates []model.PositionedToken) {
		if len(candidates) == 0 {
			return
		}
		slot := entry.FieldTokenMap.Slot(f)
		if len(slot) == 0 {
			out.SetSlot(f, candidates[:1])
			return
		}
		ref := slot[0]

		if n := len(ref.ContextBefore); n > 0 {
			last := ref.ContextBefore[n-1]
			for _, c := range candidates {
				if k := len(c.ContextBefore); k > 0 && c.ContextBefore[k-1] == last {
					out.SetSlot(f, []model.PositionedToken{c})
					return
				}
			}
		}

		refOrd := stored.ordinal(extract.TokenIndex(stored.tokens, ref.Position))
		bestIdx, bestDist := 0, math.Inf(1)
		for i, c := range candidates {
			d := math.Abs(view.ordinal(extract.TokenIndex(view.tokens, c.Position)) - refOrd)
			if d < bestDist {
				bestIdx, bestDist = i, d
			}
		}
		out.SetSlot(f, []model.PositionedToken{candidates[bestIdx]})
	}

	relocate(model.FieldAmount, extract.BareAmountTokens(message))
	relocate(model.FieldDate, extract.ExtractDateTokens(message))
	return out
}
