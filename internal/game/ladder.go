package game

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/clearstake/clearstake/internal/domain"
)

// Ladder defaults. Survival probability starts near even and decays per
// rung; the multiplier grows as the fair inverse of the survival chance.
const (
	DefaultLadderBaseSurvival = 0.92
	DefaultLadderStepDecay    = 0.02
	DefaultLadderMinSurvival  = 0.01
	DefaultLadderEdge         = 0.02
)

type ladderChoice struct {
	Climb bool `json:"climb"`
}

// Ladder is a leveled-multiplier curve: each successful rung compounds the
// session multiplier, a single failure busts the staked balance.
type Ladder struct {
	baseSurvival float64
	stepDecay    float64
	edge         float64
}

// LadderConfig tunes the survival schedule.
type LadderConfig struct {
	BaseSurvival float64
	StepDecay    float64
	Edge         float64
}

// NewLadder creates the curve with the given configuration.
func NewLadder(cfg *LadderConfig) *Ladder {
	l := &Ladder{
		baseSurvival: DefaultLadderBaseSurvival,
		stepDecay:    DefaultLadderStepDecay,
		edge:         DefaultLadderEdge,
	}
	if cfg != nil {
		if cfg.BaseSurvival > 0 {
			l.baseSurvival = cfg.BaseSurvival
		}
		if cfg.StepDecay > 0 {
			l.stepDecay = cfg.StepDecay
		}
		if cfg.Edge > 0 {
			l.edge = cfg.Edge
		}
	}
	return l
}

// Name returns the curve identifier.
func (l *Ladder) Name() string { return "ladder" }

// ValidateChoice checks the climb payload.
func (l *Ladder) ValidateChoice(choice json.RawMessage) error {
	var c ladderChoice
	if err := json.Unmarshal(choice, &c); err != nil {
		return fmt.Errorf("invalid choice payload: %w", err)
	}
	return nil
}

// SurvivalAt returns the survival probability for rung n.
func (l *Ladder) SurvivalAt(n uint64) float64 {
	p := l.baseSurvival - float64(n)*l.stepDecay
	if p < DefaultLadderMinSurvival {
		p = DefaultLadderMinSurvival
	}
	return p
}

// Play climbs one rung. A surviving climb pays bet*(1/p - 1) minus the
// edge and compounds the multiplier; a failed climb loses the bet and ends
// the session.
func (l *Ladder) Play(bet int64, choice json.RawMessage, roll float64, state State) (domain.Outcome, error) {
	var c ladderChoice
	if err := json.Unmarshal(choice, &c); err != nil {
		return domain.Outcome{}, fmt.Errorf("invalid choice payload: %w", err)
	}

	p := l.SurvivalAt(state.Round)
	out := domain.Outcome{Roll: roll, Multiplier: state.Multiplier}

	if roll >= p {
		out.Payout = -bet
		out.Continues = false
		return out, nil
	}

	stepMult := (1/p - 1) * (1 - l.edge)
	out.Win = true
	out.Payout = int64(math.Floor(float64(bet) * stepMult))
	mult := state.Multiplier
	if mult == 0 {
		mult = 1
	}
	out.Multiplier = mult * (1 + stepMult)
	out.Continues = true
	return out, nil
}
