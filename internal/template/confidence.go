package template

import (
	"math"
	"time"

	"github.com/Veraticus/smsledger/internal/model"
)

const (
	baseConfidence      = 0.5
	userExplicitWeight  = 0.3
	autoWeight          = 0.15
	systemWeight        = 0.1
	migrationWeight     = 0.1
	recencyHalfLifeDays = 30.0
	frequencySaturation = 5.0
	maxRecencyBonus     = 0.05
)

// confidence replays history: every event closes part of the gap to 1.
func (s *Store) confidence(history []model.ConfirmationEvent) float64 {
	c := baseConfidence
	for _, ev := range history {
		c += (1 - c) * s.weight(ev.Source)
	}
	return math.Min(1, math.Max(0, c))
}

func (s *Store) weight(source model.ConfirmationSource) float64 {
	switch source {
	case model.SourceUserExplicit:
		return math.Min(1, userExplicitWeight*s.opts.UserConfirmationWeight)
	case model.SourceAuto:
		return autoWeight
	case model.SourceSystem:
		return systemWeight
	case model.SourceSystemMigration:
		return migrationWeight
	}
	return 0
}

// recencyBonus rewards entries confirmed recently and often, up to
// maxRecencyBonus.
func recencyBonus(e *model.LearnedEntry, now time.Time) float64 {
	days := now.Sub(e.LastConfirmedAt()).Hours() / 24
	if days < 0 {
		days = 0
	}
	recency := math.Exp(-days / recencyHalfLifeDays)
	frequency := math.Min(1, float64(e.Confirmations())/frequencySaturation)
	return maxRecencyBonus * (0.5*recency + 0.5*frequency)
}
