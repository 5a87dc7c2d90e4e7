package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/clearstake/clearstake/internal/fairness"
)

// Ledger is an in-memory execution ledger implementing the registry and
// vault surface. This is for testing purposes only.
type Ledger struct {
	mu sync.Mutex

	sessions    map[string][32]byte // player -> session hash
	vaultAssets int64
	shares      map[string]int64
	totalShares int64
	allocations map[string]int64 // channel -> allocated amount

	operator string
	owner    string
}

// NewLedger creates an empty in-memory ledger.
func NewLedger() *Ledger {
	return &Ledger{
		sessions:    make(map[string][32]byte),
		shares:      make(map[string]int64),
		allocations: make(map[string]int64),
	}
}

// OpenSession records a session hash for a player.
func (l *Ledger) OpenSession(_ context.Context, sessionHash [32]byte, player string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.sessions[player]; exists {
		return "", fmt.Errorf("session already open for %s", player)
	}
	l.sessions[player] = sessionHash
	return txRef(), nil
}

// VerifySession checks a revealed seed against the stored hash and clears
// the session.
func (l *Ledger) VerifySession(_ context.Context, seed [32]byte, player string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	stored, exists := l.sessions[player]
	if !exists {
		return "", fmt.Errorf("no session for %s", player)
	}
	if fairness.SessionHash(fairness.Seed(seed), player) != stored {
		return "", fmt.Errorf("seed does not reproduce session hash for %s", player)
	}
	delete(l.sessions, player)
	return txRef(), nil
}

// SessionExists reports whether a player has an open session.
func (l *Ledger) SessionExists(_ context.Context, player string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, exists := l.sessions[player]
	return exists, nil
}

// GetSessionHash returns a player's stored session hash.
func (l *Ledger) GetSessionHash(_ context.Context, player string) ([32]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	stored, exists := l.sessions[player]
	if !exists {
		return [32]byte{}, fmt.Errorf("no session for %s", player)
	}
	return stored, nil
}

// AllocateToChannel moves vault assets to a channel allocation.
func (l *Ledger) AllocateToChannel(_ context.Context, channelID string, amount int64) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if amount <= 0 {
		return "", fmt.Errorf("allocation must be positive")
	}
	if amount > l.vaultAssets {
		return "", fmt.Errorf("vault holds %d, requested %d", l.vaultAssets, amount)
	}
	l.allocations[channelID] += amount
	l.vaultAssets -= amount
	return txRef(), nil
}

// SettleChannel returns channel funds to the vault.
func (l *Ledger) SettleChannel(_ context.Context, channelID string, returned int64) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.allocations[channelID]; !exists {
		return "", fmt.Errorf("unknown channel %s", channelID)
	}
	delete(l.allocations, channelID)
	l.vaultAssets += returned
	return txRef(), nil
}

// Deposit mints vault shares for a depositor.
func (l *Ledger) Deposit(depositor string, amount int64) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	var minted int64
	if l.totalShares == 0 || l.vaultAssets == 0 {
		minted = amount
	} else {
		minted = amount * l.totalShares / l.vaultAssets
	}
	l.vaultAssets += amount
	l.totalShares += minted
	l.shares[depositor] += minted
	return minted
}

// VaultAssets returns the current unallocated vault balance.
func (l *Ledger) VaultAssets() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.vaultAssets
}

func txRef() string {
	return "0x" + uuid.New().String()
}
