// Package memory implements the memory CRUD operations of spec §4.3:
// store, recall, update, delete, and the pure effective-confidence and
// retention formulas that govern default visibility.
package memory

import (
	"math"
	"time"

	"github.com/mnemex/mnemex/internal/types"
)

// Tuning constants for the effective-confidence formula (spec §4.3). The
// spec names the terms without fixing their coefficients; these values
// are chosen so that a memory untouched for ~90 days with no confirmations
// or contradictions drops out of the "high" retention bucket, matching
// the qualitative behavior the spec describes.
const (
	DecayPerDay           = 0.004
	ConfirmationBoost     = 0.05
	ContradictionPenalty  = 0.1
	ImportanceBoost       = 0.05
	ImportanceBoostCutoff = 0.7
	RecentAccessBoost     = 0.05

	// RetentionK is k in the Ebbinghaus-style retention formula.
	RetentionK = 0.5
	// RetentionThreshold hides memories below this retention from
	// default listings (spec §4.3).
	RetentionThreshold = 0.1

	// DefaultInitialConfidence is used when Store's caller doesn't
	// specify one.
	DefaultInitialConfidence = 0.7
	// MinConfidenceAfterContradiction is the floor Store clamps to after
	// lowering confidence for detected conflicts (spec §4.3 "Store").
	MinConfidenceAfterContradiction = 0.2
	// ConfidencePenaltyPerContradiction is the 0.1x-per-conflict factor
	// from spec §4.3 "Store".
	ConfidencePenaltyPerContradiction = 0.1

	MaxStrength = 10.0
	MinStrength = 0.1
)

// EffectiveConfidence computes spec §4.3's pure function of a memory row
// at instant now.
func EffectiveConfidence(m *types.Memory, now time.Time) float64 {
	days := now.Sub(m.LastAccessed).Hours() / 24
	conf := m.Confidence - days*DecayPerDay
	conf += float64(m.SourceCount-1) * ConfirmationBoost
	conf -= float64(m.ContradictionCount) * ContradictionPenalty
	if m.Importance > ImportanceBoostCutoff {
		conf += ImportanceBoost
	}
	return types.Clamp(conf, 0, 1)
}

// Retention computes the Ebbinghaus-style retention scalar from spec
// §4.3: exp(-hours_since_access * k / (strength * 24)).
func Retention(m *types.Memory, now time.Time) float64 {
	hours := now.Sub(m.LastAccessed).Hours()
	if hours < 0 {
		hours = 0
	}
	strength := m.Strength
	if strength <= 0 {
		strength = MinStrength
	}
	return math.Exp(-hours * RetentionK / (strength * 24))
}

// IsRetained reports whether m should appear in default listings.
func IsRetained(m *types.Memory, now time.Time) bool {
	return Retention(m, now) > RetentionThreshold
}

// RecallStrength computes the post-recall strength update of spec §4.3
// ("Recall"): strength' = min(10, strength + 0.2*ln(access_count+1)).
func RecallStrength(strength float64, newAccessCount int) float64 {
	s := strength + 0.2*math.Log(float64(newAccessCount)+1)
	if s > MaxStrength {
		return MaxStrength
	}
	return s
}
