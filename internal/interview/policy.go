// Package interview implements the gatekeeping interview state machine.
package interview

import (
	"fmt"

	"github.com/ashureev/bouncer-ai/internal/domain"
)

// Threshold is the minimum (knowledge, vibe) pair needed to pass.
type Threshold struct {
	Knowledge int
	Vibe      int
}

// Met reports whether both scores reach the threshold.
func (t Threshold) Met(knowledge, vibe int) bool {
	return knowledge >= t.Knowledge && vibe >= t.Vibe
}

// Policy holds the turn-gated pass/fail rules.
//
// A turn is the number of questions already asked when an answer arrives.
// Below MinTurns nobody passes. At MinTurns the Early bar applies, from
// StandardTurns the Standard bar, and at MaxTurns the interview stops and
// the Ceiling bar decides between complete and failed.
type Policy struct {
	FailAtOrBelow int
	MinTurns      int
	StandardTurns int
	MaxTurns      int
	Early         Threshold
	Standard      Threshold
	Ceiling       Threshold
}

// DefaultPolicy returns the production thresholds.
func DefaultPolicy() Policy {
	return Policy{
		FailAtOrBelow: 1,
		MinTurns:      2,
		StandardTurns: 3,
		MaxTurns:      5,
		Early:         Threshold{Knowledge: 9, Vibe: 9},
		Standard:      Threshold{Knowledge: 7, Vibe: 8},
		Ceiling:       Threshold{Knowledge: 6, Vibe: 6},
	}
}

// Validate checks that the turn buckets are ordered and bars are in range.
func (p Policy) Validate() error {
	if p.MinTurns < 1 {
		return fmt.Errorf("min turns must be >= 1, got %d", p.MinTurns)
	}
	if p.StandardTurns < p.MinTurns {
		return fmt.Errorf("standard turns (%d) must be >= min turns (%d)", p.StandardTurns, p.MinTurns)
	}
	if p.MaxTurns < p.StandardTurns {
		return fmt.Errorf("max turns (%d) must be >= standard turns (%d)", p.MaxTurns, p.StandardTurns)
	}
	if p.FailAtOrBelow < domain.MinScore-1 || p.FailAtOrBelow >= domain.MaxScore {
		return fmt.Errorf("fail threshold %d out of range", p.FailAtOrBelow)
	}
	for name, t := range map[string]Threshold{"early": p.Early, "standard": p.Standard, "ceiling": p.Ceiling} {
		if !inRange(t.Knowledge) || !inRange(t.Vibe) {
			return fmt.Errorf("%s threshold out of range: %+v", name, t)
		}
	}
	return nil
}

// Decide applies the policy to one graded turn.
func (p Policy) Decide(turn, knowledge, vibe int) (domain.Decision, bool) {
	if knowledge <= p.FailAtOrBelow || vibe <= p.FailAtOrBelow {
		return domain.DecisionFailed, false
	}

	switch {
	case turn >= p.MaxTurns:
		if p.Ceiling.Met(knowledge, vibe) {
			return domain.DecisionComplete, false
		}
		return domain.DecisionFailed, false
	case turn >= p.StandardTurns:
		if p.Standard.Met(knowledge, vibe) {
			return domain.DecisionComplete, false
		}
	case turn >= p.MinTurns:
		if p.Early.Met(knowledge, vibe) {
			return domain.DecisionComplete, false
		}
	}
	return domain.DecisionPending, true
}

func inRange(score int) bool {
	return score >= domain.MinScore && score <= domain.MaxScore
}
