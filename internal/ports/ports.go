package ports

import (
	"context"
	"time"

	"github.com/clearstake/clearstake/internal/domain"
)

// SessionStore persists session records, including closed sessions kept
// for post-close verification.
type SessionStore interface {
	Save(ctx context.Context, session *domain.Session) error
	Get(ctx context.Context, id string) (*domain.Session, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*domain.Session, error)
}

// EventHandler processes one event delivered by the bus.
type EventHandler func(ctx context.Context, event domain.Event) error

// EventBus publishes and subscribes to session lifecycle events and
// anchor jobs.
type EventBus interface {
	Publish(ctx context.Context, topic string, event domain.Event) error
	Subscribe(ctx context.Context, topic string, handler EventHandler) error
}

// Allocation is one participant's balance inside a channel.
type Allocation struct {
	Participant string `json:"participant"`
	Asset       string `json:"asset"`
	Amount      int64  `json:"amount"`
}

// ChannelSigner produces one participant's signature over a channel
// payload. The player side is backed by the session key delegated at
// session open; tests back it with a local key.
type ChannelSigner interface {
	Address() string
	SignPayload(ctx context.Context, payload []byte) (string, error)
}

// ChannelOpenRequest describes the multi-party channel opened for one
// session: the player's deposit plus the pool's matched allocation.
// PlayerSigner co-signs the open payload; the platform signs last and
// submits.
type ChannelOpenRequest struct {
	RequestID    string
	Player       string
	Asset        string
	PlayerAmount int64
	PoolAmount   int64
	PlayerSigner ChannelSigner
}

// ChannelCloseRequest carries the final allocations the platform signs
// when closing a channel.
type ChannelCloseRequest struct {
	ChannelID        string
	FinalAllocations []Allocation
}

// ClearingNetwork is the off-chain clearing service consumed through its
// wire protocol. OpenChannel blocks until every participant has signed and
// the service confirms, or fails with the taxonomy errors.
type ClearingNetwork interface {
	OpenChannel(ctx context.Context, req ChannelOpenRequest) (channelID string, err error)
	CloseChannel(ctx context.Context, req ChannelCloseRequest) error
}

// ExecutionLedger is the on-chain surface: the session registry used for
// seed-hash anchoring plus the vault functions used for channel top-ups.
type ExecutionLedger interface {
	OpenSession(ctx context.Context, sessionHash [32]byte, player string) (txRef string, err error)
	VerifySession(ctx context.Context, seed [32]byte, player string) (txRef string, err error)
	SessionExists(ctx context.Context, player string) (bool, error)
	GetSessionHash(ctx context.Context, player string) ([32]byte, error)
	AllocateToChannel(ctx context.Context, channelID string, amount int64) (txRef string, err error)
	SettleChannel(ctx context.Context, channelID string, returned int64) (txRef string, err error)
}

// Anchor records the session commitment on chain before play and checks
// the revealed seed against it after close. Both calls are best-effort:
// failures surface to the caller but never block session progress.
type Anchor interface {
	Commit(ctx context.Context, sessionHash [32]byte, player string) (txRef string, err error)
	Reveal(ctx context.Context, seed [32]byte, player string) (txRef string, err error)
}

// Anchor operations as recorded on the session.
const (
	AnchorOpCommit = "commit"
	AnchorOpReveal = "reveal"
)

// AnchorTxRecorder attaches an anchor transaction reference to a session.
// Implementations must serialize the write against the session's own state
// transitions so a slow anchor job cannot clobber a concurrent update.
type AnchorTxRecorder interface {
	RecordAnchorTx(ctx context.Context, sessionID, op, txRef string) error
}

// MetricsCollector records operational metrics.
type MetricsCollector interface {
	RecordSessionOpened(status string)
	RecordSessionClosed(status string)
	RecordRound(game string, win bool)
	ObservePayout(game string, payout float64)
	ObserveRoundDuration(d time.Duration)
	RecordChannelOpen(status string)
	RecordChannelClose(status string)
	RecordAnchor(op, status string)
	SetPoolUtilization(ratio float64)
	SetActiveSessions(n int)
	RecordWorkerPoolStatus(idle, busy, stopped int)
}
