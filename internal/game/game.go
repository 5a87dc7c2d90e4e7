// Package game defines the payout-curve interface and registry.
//
// The session orchestrator reduces every game to "round in, outcome out":
// a curve receives the bet, the player's choice payload, and the uniform
// draw derived from the house nonce, and returns payout, cumulative
// multiplier, and a continuation flag. Payout shapes stay game-specific
// configuration behind this interface.
package game

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/clearstake/clearstake/internal/domain"
)

// State is the per-session view a curve needs to price a round.
type State struct {
	Round      uint64
	Multiplier float64
	Balance    int64
}

// Curve turns one round into an outcome. Implementations must be
// deterministic in (bet, choice, roll, state): the roll carries all the
// randomness, already bound by the fairness commitments.
type Curve interface {
	// Name returns the curve identifier used by clients.
	Name() string

	// ValidateChoice rejects malformed or out-of-range choice payloads
	// before any commitment is acknowledged.
	ValidateChoice(choice json.RawMessage) error

	// Play prices the round from the uniform draw in [0,1).
	Play(bet int64, choice json.RawMessage, roll float64, state State) (domain.Outcome, error)
}

// Registry is a thread-safe curve lookup keyed by curve name.
type Registry struct {
	curves map[string]Curve
	mu     sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{curves: make(map[string]Curve)}
}

// Register adds a curve, replacing any previous curve with the same name.
func (r *Registry) Register(c Curve) error {
	if c == nil {
		return fmt.Errorf("cannot register nil curve")
	}
	if c.Name() == "" {
		return fmt.Errorf("curve name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.curves[c.Name()] = c
	return nil
}

// Get retrieves a curve by name.
func (r *Registry) Get(name string) (Curve, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.curves[name]
	return c, ok
}

// Names returns all registered curve names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.curves))
	for name := range r.curves {
		names = append(names, name)
	}
	return names
}

// Default returns a registry with every built-in curve registered.
func Default() *Registry {
	r := NewRegistry()
	_ = r.Register(NewHighLow(nil))
	_ = r.Register(NewLadder(nil))
	_ = r.Register(NewGrid(nil))
	return r
}
