// Package allocation computes the token allocation granted after a passed
// interview.
package allocation

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
)

// Params shapes the allocation curve. The peak sits at (IdealKnowledge,
// IdealVibe) and falls off with Sigma.
type Params struct {
	Base           float64
	Sigma          float64
	IdealKnowledge float64
	IdealVibe      float64
	JitterMin      float64
	JitterMax      float64
}

// DefaultParams returns the production curve.
func DefaultParams() Params {
	return Params{
		Base:           800,
		Sigma:          2,
		IdealKnowledge: 8,
		IdealVibe:      8,
		JitterMin:      0.85,
		JitterMax:      1.15,
	}
}

// Validate checks that the parameters describe a usable curve.
func (p Params) Validate() error {
	if p.Base <= 0 {
		return errors.New("allocation base must be positive")
	}
	if p.Sigma <= 0 {
		return errors.New("allocation sigma must be positive")
	}
	if p.JitterMin <= 0 || p.JitterMax < p.JitterMin {
		return fmt.Errorf("invalid jitter range [%v, %v]", p.JitterMin, p.JitterMax)
	}
	return nil
}

// Gaussian is the bell factor in (0, 1] for a score pair.
func (p Params) Gaussian(knowledge, vibe int) float64 {
	dk := float64(knowledge) - p.IdealKnowledge
	dv := float64(vibe) - p.IdealVibe
	return math.Exp(-(dk*dk + dv*dv) / (p.Sigma * p.Sigma))
}

// Multiplier boosts allocations that land away from the peak.
func (p Params) Multiplier(knowledge, vibe int) float64 {
	return 1 + 0.3*(1-p.Gaussian(knowledge, vibe))
}

// Compute is the deterministic core. u is a uniform draw in [0, 1) that is
// mapped onto the jitter range.
func (p Params) Compute(knowledge, vibe int, u float64) int64 {
	jitter := p.JitterMin + u*(p.JitterMax-p.JitterMin)
	return int64(math.Floor(p.Base * p.Multiplier(knowledge, vibe) * p.Gaussian(knowledge, vibe) * jitter))
}

// Source yields uniform floats in [0, 1). It must be safe for concurrent use.
type Source interface {
	Float64() float64
}

// SourceFunc adapts a function to Source.
type SourceFunc func() float64

// Float64 calls f.
func (f SourceFunc) Float64() float64 { return f() }

// Calculator draws allocations with an injected random source.
type Calculator struct {
	params Params
	rnd    Source
}

// New creates a calculator. A nil source uses the runtime's global generator.
func New(p Params, rnd Source) (*Calculator, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if rnd == nil {
		rnd = SourceFunc(rand.Float64)
	}
	return &Calculator{params: p, rnd: rnd}, nil
}

// Params returns the curve in use.
func (c *Calculator) Params() Params {
	return c.params
}

// Allocate returns the allocation for a passed candidate.
func (c *Calculator) Allocate(knowledge, vibe int) int64 {
	return c.params.Compute(knowledge, vibe, c.rnd.Float64())
}
