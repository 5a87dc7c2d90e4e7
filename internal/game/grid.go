package game

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/clearstake/clearstake/internal/domain"
)

// Grid defaults: a 5x5 board with a configurable hidden-trap count.
const (
	DefaultGridSize  = 25
	DefaultGridTraps = 3
	DefaultGridEdge  = 0.02
)

type gridChoice struct {
	Cell  int `json:"cell"`
	Traps int `json:"traps,omitempty"`
}

// Grid is a reveal curve: each round uncovers one cell; a safe cell pays
// the inverse of the survival odds, a trap busts the bet and ends the
// session.
type Grid struct {
	size  int
	traps int
	edge  float64
}

// GridConfig tunes the board.
type GridConfig struct {
	Size  int
	Traps int
	Edge  float64
}

// NewGrid creates the curve with the given configuration.
func NewGrid(cfg *GridConfig) *Grid {
	g := &Grid{size: DefaultGridSize, traps: DefaultGridTraps, edge: DefaultGridEdge}
	if cfg != nil {
		if cfg.Size > 0 {
			g.size = cfg.Size
		}
		if cfg.Traps > 0 {
			g.traps = cfg.Traps
		}
		if cfg.Edge > 0 {
			g.edge = cfg.Edge
		}
	}
	return g
}

// Name returns the curve identifier.
func (g *Grid) Name() string { return "grid" }

// ValidateChoice checks the cell index and optional trap count.
func (g *Grid) ValidateChoice(choice json.RawMessage) error {
	var c gridChoice
	if err := json.Unmarshal(choice, &c); err != nil {
		return fmt.Errorf("invalid choice payload: %w", err)
	}
	if c.Cell < 0 || c.Cell >= g.size {
		return fmt.Errorf("cell must be in [0,%d)", g.size)
	}
	if c.Traps < 0 || c.Traps >= g.size {
		return fmt.Errorf("traps must be in [0,%d)", g.size)
	}
	return nil
}

// Play reveals one cell. With r cells already revealed, the survival
// probability is (size - r - traps) / (size - r).
func (g *Grid) Play(bet int64, choice json.RawMessage, roll float64, state State) (domain.Outcome, error) {
	var c gridChoice
	if err := json.Unmarshal(choice, &c); err != nil {
		return domain.Outcome{}, fmt.Errorf("invalid choice payload: %w", err)
	}

	traps := g.traps
	if c.Traps > 0 {
		traps = c.Traps
	}

	remaining := g.size - int(state.Round)
	if remaining <= traps {
		return domain.Outcome{}, fmt.Errorf("no safe cells remain")
	}

	p := float64(remaining-traps) / float64(remaining)
	out := domain.Outcome{Roll: roll, Multiplier: state.Multiplier}

	if roll >= p {
		out.Payout = -bet
		out.Continues = false
		return out, nil
	}

	stepMult := (1/p - 1) * (1 - g.edge)
	out.Win = true
	out.Payout = int64(math.Floor(float64(bet) * stepMult))
	mult := state.Multiplier
	if mult == 0 {
		mult = 1
	}
	out.Multiplier = mult * (1 + stepMult)
	// One revealed board per session: finishing the safe cells ends it.
	out.Continues = remaining-1 > traps
	return out, nil
}
