package game

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/clearstake/clearstake/internal/domain"
)

// DefaultHighLowEdge is the house edge taken off the even-money win
// probability.
const DefaultHighLowEdge = 0.01

var errInvalidGuess = errors.New(`guess must be "high" or "low"`)

type highLowChoice struct {
	Guess string `json:"guess"`
}

// HighLow is a single-wager even-money curve: the player calls high or low
// on the draw and wins the bet back doubled, minus the edge.
type HighLow struct {
	edge float64
}

// HighLowConfig tunes the house edge.
type HighLowConfig struct {
	Edge float64
}

// NewHighLow creates the curve with the given configuration.
func NewHighLow(cfg *HighLowConfig) *HighLow {
	edge := DefaultHighLowEdge
	if cfg != nil && cfg.Edge > 0 {
		edge = cfg.Edge
	}
	return &HighLow{edge: edge}
}

// Name returns the curve identifier.
func (h *HighLow) Name() string { return "highlow" }

// ValidateChoice checks the guess payload.
func (h *HighLow) ValidateChoice(choice json.RawMessage) error {
	var c highLowChoice
	if err := json.Unmarshal(choice, &c); err != nil {
		return fmt.Errorf("invalid choice payload: %w", err)
	}
	if c.Guess != "high" && c.Guess != "low" {
		return errInvalidGuess
	}
	return nil
}

// Play resolves one even-money round. Each side wins on slightly less than
// half of the draw range.
func (h *HighLow) Play(bet int64, choice json.RawMessage, roll float64, state State) (domain.Outcome, error) {
	var c highLowChoice
	if err := json.Unmarshal(choice, &c); err != nil {
		return domain.Outcome{}, fmt.Errorf("invalid choice payload: %w", err)
	}

	threshold := 0.5 - h.edge/2
	var win bool
	switch c.Guess {
	case "low":
		win = roll < threshold
	case "high":
		win = roll >= 1-threshold
	default:
		return domain.Outcome{}, errInvalidGuess
	}

	out := domain.Outcome{
		Win:        win,
		Multiplier: state.Multiplier,
		Continues:  true,
		Roll:       roll,
	}
	if win {
		out.Payout = bet
	} else {
		out.Payout = -bet
	}
	return out, nil
}
