package domain

import (
	"encoding/json"
	"time"
)

// Phase represents the lifecycle phase of a wagering session
type Phase string

const (
	PhaseNoWallet     Phase = "no_wallet"
	PhaseIdle         Phase = "idle"
	PhaseConnecting   Phase = "connecting"
	PhaseCreating     Phase = "creating"
	PhaseActive       Phase = "active"
	PhasePlayingRound Phase = "playing_round"
	PhaseClosing      Phase = "closing"
	PhaseClosed       Phase = "closed"
	PhaseError        Phase = "error"
)

// Terminal reports whether the phase admits no further play.
func (p Phase) Terminal() bool {
	return p == PhaseClosed || p == PhaseError
}

// Session is the full record of one wagering session. Amounts are in
// integer base units of the session asset. The secret seed is kept out of
// the public record until the session closes.
type Session struct {
	ID         string `json:"id"`
	Player     string `json:"player"`
	Game       string `json:"game"`
	Deposit    int64  `json:"deposit"`
	Balance    int64  `json:"balance"`
	RoundCount uint64 `json:"round_count"`
	MaxRounds  uint64 `json:"max_rounds"`

	// Multiplier accumulates over winning rounds for ladder-style games.
	Multiplier float64 `json:"multiplier"`

	Phase     Phase  `json:"phase"`
	LastError string `json:"last_error,omitempty"`

	// SeedHash is public from open; Seed is empty until close.
	SeedHash string `json:"seed_hash"`
	Seed     string `json:"seed,omitempty"`

	ChannelID      string `json:"channel_id,omitempty"`
	AnchorCommitTx string `json:"anchor_commit_tx,omitempty"`
	AnchorRevealTx string `json:"anchor_reveal_tx,omitempty"`

	Rounds []Round `json:"rounds,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
}

// Round is one committed and revealed play within a session. Choice keeps
// the client payload bytes verbatim so the commitment can be recomputed
// byte-identically by any verifier.
type Round struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id"`
	Number    uint64          `json:"number"`
	Bet       int64           `json:"bet"`
	Choice    json.RawMessage `json:"choice,omitempty"`

	// Commitment is hash(choice || clientNonce), submitted before any
	// outcome is disclosed. HouseCommitment is hash(houseNonce), returned
	// in the bet ack; HouseNonce itself is disclosed with the result.
	Commitment      string `json:"commitment"`
	ClientNonce     string `json:"client_nonce,omitempty"`
	HouseCommitment string `json:"house_commitment"`
	HouseNonce      string `json:"house_nonce,omitempty"`

	Win      bool    `json:"win"`
	Payout   int64   `json:"payout"`
	Balance  int64   `json:"balance"`
	Finished bool    `json:"finished"`
	Detail   float64 `json:"detail,omitempty"`

	PlayedAt time.Time `json:"played_at"`
}

// Outcome is what a payout curve produces for a single round.
type Outcome struct {
	Win bool
	// Payout is the balance delta for the round (negative when the house
	// wins the bet).
	Payout int64
	// Multiplier is the cumulative multiplier after this round.
	Multiplier float64
	// Continues is false when the round ends the session (bust or a
	// terminal win for single-shot games).
	Continues bool
	// Roll is the deterministic draw in [0,1) the outcome was derived
	// from, disclosed for verification.
	Roll float64
}
