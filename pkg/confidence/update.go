package confidence

import (
	"errors"
	"math"
)

// DefaultPower is used when evidence carries no statistical power record.
const DefaultPower = 0.8

// DefaultUpdateScale is the damping applied to every evidence-driven update.
const DefaultUpdateScale = 0.3

// Signal describes one piece of evidence as seen by an Updater.
//
// Strength is the mean confidence of the evidence node, Power its statistical
// power (DefaultPower when unknown), Novelty a lexical novelty estimate and
// Multiplier the relationship multiplier of the linking edge (negative for
// contradicting evidence).
type Signal struct {
	Strength   float64
	Power      float64
	Novelty    float64
	Multiplier float64
}

// Delta returns strength × power × novelty × scale × multiplier.
func (s Signal) Delta(scale float64) float64 {
	return s.Strength * s.Power * s.Novelty * scale * s.Multiplier
}

// Updater applies an evidence Signal to a confidence Vector.
//
// Implementations must be monotone in the sign of the signal: a positive
// Signal.Delta never lowers a component and a negative one never raises it.
// Results are always within [MinConfidence, MaxConfidence].
type Updater interface {
	Update(current Vector, s Signal) Vector
	Name() string
}

// MultiplicativeUpdater is the default surrogate update:
//
//	c' = clamp(c × (1 + delta), MinConfidence, MaxConfidence)
type MultiplicativeUpdater struct {
	Scale float64
}

// NewMultiplicativeUpdater returns an updater using DefaultUpdateScale.
func NewMultiplicativeUpdater() *MultiplicativeUpdater {
	return &MultiplicativeUpdater{Scale: DefaultUpdateScale}
}

// Name implements Updater.
func (u *MultiplicativeUpdater) Name() string { return "multiplicative" }

// Update implements Updater.
func (u *MultiplicativeUpdater) Update(current Vector, s Signal) Vector {
	delta := s.Delta(u.Scale)
	var out Vector
	for i, c := range current {
		out[i] = clamp(c*(1+delta), MinConfidence, MaxConfidence)
	}
	return out
}

// BetaUpdater treats every component as the mean of a Beta distribution with
// PriorStrength pseudo-observations and adds |delta| × Weight observations to
// the success or failure side depending on the sign of delta.
//
// Example:
//
//	u := &confidence.BetaUpdater{PriorStrength: 10, Weight: 10}
//	next := u.Update(confidence.Uniform(0.5), sig)
type BetaUpdater struct {
	PriorStrength float64
	Weight        float64
	Scale         float64
}

// NewBetaUpdater returns a BetaUpdater with 10 prior pseudo-observations.
func NewBetaUpdater() *BetaUpdater {
	return &BetaUpdater{PriorStrength: 10, Weight: 10, Scale: DefaultUpdateScale}
}

// Name implements Updater.
func (u *BetaUpdater) Name() string { return "beta" }

// Update implements Updater.
func (u *BetaUpdater) Update(current Vector, s Signal) Vector {
	delta := s.Delta(u.Scale)
	w := math.Abs(delta) * u.Weight
	var out Vector
	for i, c := range current {
		alpha := c * u.PriorStrength
		beta := (1 - c) * u.PriorStrength
		if delta >= 0 {
			alpha += w
		} else {
			beta += w
		}
		mean := c
		if alpha+beta > 0 {
			mean = alpha / (alpha + beta)
		}
		out[i] = clamp(mean, MinConfidence, MaxConfidence)
	}
	return out
}

// Variance returns the Beta variance of a component with the given mean
// after n pseudo-observations.
func Variance(mean, n float64) float64 {
	if n <= 0 {
		return 0
	}
	return mean * (1 - mean) / (n + 1)
}

// ErrInvalidMoments is returned by BetaParams for moments no Beta
// distribution can have.
var ErrInvalidMoments = errors.New("mean/variance pair has no beta distribution")

// BetaParams converts a mean/variance pair to Beta alpha and beta.
func BetaParams(mean, variance float64) (alpha, beta float64, err error) {
	if mean <= 0 || mean >= 1 || variance <= 0 || variance >= mean*(1-mean) {
		return 0, 0, ErrInvalidMoments
	}
	common := mean*(1-mean)/variance - 1
	return mean * common, (1 - mean) * common, nil
}

// RelationshipMultiplier maps an edge relationship name to its update
// multiplier. Unknown relationships use the neutral 0.3.
func RelationshipMultiplier(relationship string) float64 {
	switch relationship {
	case "Supportive":
		return 1.0
	case "Contradictory":
		return -1.0
	case "Correlative":
		return 0.5
	case "Causal":
		return 1.2
	default:
		return 0.3
	}
}
