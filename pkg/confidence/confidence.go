// Package confidence implements the four-component confidence model used by
// every node in a reasoning graph.
//
// A confidence Vector holds four probability-style scores:
//   - EmpiricalSupport: how well observations back the claim
//   - TheoreticalBasis: how well established theory backs the claim
//   - MethodologicalRigor: quality of the methods that produced it
//   - ConsensusAlignment: agreement with the wider field
//
// Vectors are created in [0,1] and, once an update has touched them, are kept
// inside [MinConfidence, MaxConfidence] so no component ever collapses to
// certainty in either direction.
//
// Example Usage:
//
//	v, err := confidence.Parse([]float64{0.8, 0.7, 0.6, 0.9})
//	if err != nil {
//		return err
//	}
//	fmt.Printf("mean: %.2f\n", v.Mean()) // mean: 0.75
//
//	updater := confidence.NewMultiplicativeUpdater()
//	next := updater.Update(v, confidence.Signal{
//		Strength: 0.9, Power: 0.8, Novelty: 1.0, Multiplier: 1.0,
//	})
package confidence

import (
	"errors"
	"fmt"
	"math"
)

// Components is the number of entries in a confidence Vector.
const Components = 4

const (
	// MinConfidence is the lower clamp applied after any update.
	MinConfidence = 0.01
	// MaxConfidence is the upper clamp applied after any update.
	MaxConfidence = 0.99
)

// ErrInvalidVector is returned when a vector has the wrong arity or a
// component outside [0,1].
var ErrInvalidVector = errors.New("invalid confidence vector")

// Component names, in Vector order.
var ComponentNames = [Components]string{
	"empirical_support",
	"theoretical_basis",
	"methodological_rigor",
	"consensus_alignment",
}

// Vector is a 4-component confidence score. It marshals to a JSON array.
type Vector [Components]float64

// Uniform returns a vector with every component set to v.
func Uniform(v float64) Vector {
	return Vector{v, v, v, v}
}

// Parse converts a caller-supplied slice into a Vector, rejecting anything
// that is not exactly four finite values in [0,1].
func Parse(values []float64) (Vector, error) {
	var v Vector
	if len(values) != Components {
		return v, fmt.Errorf("%w: expected %d components, got %d", ErrInvalidVector, Components, len(values))
	}
	copy(v[:], values)
	if err := v.Validate(); err != nil {
		return Vector{}, err
	}
	return v, nil
}

// Validate checks every component is a finite number in [0,1].
func (v Vector) Validate() error {
	for i, c := range v {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return fmt.Errorf("%w: %s is not a finite number", ErrInvalidVector, ComponentNames[i])
		}
		if c < 0 || c > 1 {
			return fmt.Errorf("%w: %s=%.4f outside [0,1]", ErrInvalidVector, ComponentNames[i], c)
		}
	}
	return nil
}

// Mean returns the arithmetic mean of the four components.
func (v Vector) Mean() float64 {
	var sum float64
	for _, c := range v {
		sum += c
	}
	return sum / Components
}

// Max returns the component-wise maximum of v and o.
func (v Vector) Max(o Vector) Vector {
	var out Vector
	for i := range v {
		out[i] = math.Max(v[i], o[i])
	}
	return out
}

// Scale multiplies every component by f.
func (v Vector) Scale(f float64) Vector {
	var out Vector
	for i := range v {
		out[i] = v[i] * f
	}
	return out
}

// Clamp bounds every component to [lo, hi].
func (v Vector) Clamp(lo, hi float64) Vector {
	var out Vector
	for i := range v {
		out[i] = clamp(v[i], lo, hi)
	}
	return out
}

// Bounded clamps to [MinConfidence, MaxConfidence].
func (v Vector) Bounded() Vector {
	return v.Clamp(MinConfidence, MaxConfidence)
}

// Slice returns the components as a plain slice, for transport layers.
func (v Vector) Slice() []float64 {
	out := make([]float64, Components)
	copy(out, v[:])
	return out
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
