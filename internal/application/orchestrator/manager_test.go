package orchestrator

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clearstake/clearstake/internal/application/liquidity"
	"github.com/clearstake/clearstake/internal/domain"
	"github.com/clearstake/clearstake/internal/fairness"
	"github.com/clearstake/clearstake/internal/game"
	"github.com/clearstake/clearstake/internal/ports"
	eventsmem "github.com/clearstake/clearstake/pkg/adapters/events/memory"
	storagemem "github.com/clearstake/clearstake/pkg/adapters/storage/memory"
)

const (
	testOperator = "0xfeedfeedfeedfeedfeedfeedfeedfeedfeedfeed"
	testPlayer   = "0xabcabcabcabcabcabcabcabcabcabcabcabcabca"
)

type fakeClearing struct {
	mu       sync.Mutex
	openErr  error
	closeErr error
	opened   []ports.ChannelOpenRequest
	closed   []ports.ChannelCloseRequest
}

func (f *fakeClearing) OpenChannel(ctx context.Context, req ports.ChannelOpenRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return "", f.openErr
	}
	f.opened = append(f.opened, req)
	return "ch-" + req.RequestID, nil
}

func (f *fakeClearing) CloseChannel(ctx context.Context, req ports.ChannelCloseRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closeErr != nil {
		return f.closeErr
	}
	f.closed = append(f.closed, req)
	return nil
}

type noopMetrics struct{}

func (noopMetrics) RecordSessionOpened(string)           {}
func (noopMetrics) RecordSessionClosed(string)           {}
func (noopMetrics) RecordRound(string, bool)             {}
func (noopMetrics) ObservePayout(string, float64)        {}
func (noopMetrics) ObserveRoundDuration(time.Duration)   {}
func (noopMetrics) RecordChannelOpen(string)             {}
func (noopMetrics) RecordChannelClose(string)            {}
func (noopMetrics) RecordAnchor(string, string)          {}
func (noopMetrics) SetPoolUtilization(float64)           {}
func (noopMetrics) SetActiveSessions(int)                {}
func (noopMetrics) RecordWorkerPoolStatus(int, int, int) {}

type stubSigner struct{ addr string }

func (s stubSigner) Address() string { return s.addr }

func (s stubSigner) SignPayload(ctx context.Context, payload []byte) (string, error) {
	return "0xstubsig", nil
}

type testEnv struct {
	manager  *Manager
	pool     *liquidity.Pool
	clearing *fakeClearing
	store    *storagemem.SessionStore
	bus      *eventsmem.InMemoryEventBus
}

func newTestEnv(t *testing.T, poolDeposit int64) *testEnv {
	t.Helper()

	pool, err := liquidity.NewPool(liquidity.Config{
		Owner:                "0xowner",
		Operator:             testOperator,
		MaxAllocationPercent: 80,
	}, zap.NewNop())
	require.NoError(t, err)
	if poolDeposit > 0 {
		_, err = pool.Deposit("0xlp", poolDeposit)
		require.NoError(t, err)
	}

	clearing := &fakeClearing{}
	store := storagemem.NewSessionStore()
	bus := eventsmem.NewInMemoryEventBus()

	manager := NewManager(store, bus, clearing, pool, game.Default(),
		noopMetrics{}, testOperator, "usdc", zap.NewNop())

	return &testEnv{manager: manager, pool: pool, clearing: clearing, store: store, bus: bus}
}

func (e *testEnv) open(t *testing.T, deposit int64, maxRounds uint64) *domain.Session {
	t.Helper()
	session, err := e.manager.OpenSession(context.Background(), OpenRequest{
		Player:       testPlayer,
		Game:         "highlow",
		Deposit:      deposit,
		MaxRounds:    maxRounds,
		PlayerSigner: stubSigner{addr: testPlayer},
	})
	require.NoError(t, err)
	return session
}

// commitChoice builds a player commitment over the given choice bytes with
// a fresh client nonce, returning both hex strings.
func commitChoice(t *testing.T, choice []byte) (commitment, clientNonce string) {
	t.Helper()
	var nonce [32]byte
	_, err := rand.Read(nonce[:])
	require.NoError(t, err)
	return fairness.Hex(fairness.Commitment(choice, nonce)), fairness.Hex(nonce)
}

func TestOpenCloseKeepsDeposit(t *testing.T) {
	env := newTestEnv(t, 1_000_000)
	before := env.pool.Snapshot().Assets

	session := env.open(t, 1000, 0)
	assert.Equal(t, domain.PhaseActive, session.Phase)
	assert.NotEmpty(t, session.SeedHash)
	assert.Empty(t, session.Seed)
	assert.NotEmpty(t, session.ChannelID)

	closed, err := env.manager.CloseSession(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseClosed, closed.Phase)
	assert.Equal(t, int64(1000), closed.Balance)
	assert.NotEmpty(t, closed.Seed)

	report, err := fairness.VerifySession(closed)
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.True(t, report.SeedHashOK)

	// No rounds were played, so the pool comes out whole.
	assert.Equal(t, before, env.pool.Snapshot().Assets)
	assert.Zero(t, env.pool.Snapshot().TotalAllocated)

	require.Len(t, env.clearing.closed, 1)
	final := env.clearing.closed[0].FinalAllocations
	require.Len(t, final, 2)
	assert.Equal(t, int64(1000), final[0].Amount)
	assert.Equal(t, int64(1000), final[1].Amount)
}

func TestOpenRejectedWhenPoolCapExceeded(t *testing.T) {
	env := newTestEnv(t, 1000)

	_, err := env.manager.OpenSession(context.Background(), OpenRequest{
		Player:       testPlayer,
		Game:         "highlow",
		Deposit:      900,
		PlayerSigner: stubSigner{addr: testPlayer},
	})
	require.ErrorIs(t, err, domain.ErrInsufficientLiquidity)

	// Nothing was opened and nothing stays allocated.
	assert.Empty(t, env.clearing.opened)
	assert.Zero(t, env.pool.Snapshot().TotalAllocated)
}

func TestOpenRejectsUnknownGame(t *testing.T) {
	env := newTestEnv(t, 1_000_000)

	_, err := env.manager.OpenSession(context.Background(), OpenRequest{
		Player:       testPlayer,
		Game:         "roulette",
		Deposit:      100,
		PlayerSigner: stubSigner{addr: testPlayer},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown game")
}

func TestSecondRoundWhileInFlightRejected(t *testing.T) {
	env := newTestEnv(t, 1_000_000)
	session := env.open(t, 1000, 0)

	choice := json.RawMessage(`{"guess":"high"}`)
	commitment, _ := commitChoice(t, choice)

	_, err := env.manager.PlaceRound(context.Background(), session.ID, 100, commitment)
	require.NoError(t, err)

	_, err = env.manager.PlaceRound(context.Background(), session.ID, 100, commitment)
	require.ErrorIs(t, err, domain.ErrRoundInFlight)
}

func TestRevealMismatchVoidsRound(t *testing.T) {
	env := newTestEnv(t, 1_000_000)
	session := env.open(t, 1000, 0)

	choice := json.RawMessage(`{"guess":"high"}`)
	commitment, _ := commitChoice(t, choice)

	ack, err := env.manager.PlaceRound(context.Background(), session.ID, 100, commitment)
	require.NoError(t, err)

	// Reveal with a nonce that does not reproduce the commitment.
	_, wrongNonce := commitChoice(t, choice)
	_, err = env.manager.Reveal(context.Background(), session.ID, ack.ID, choice, wrongNonce)
	require.ErrorIs(t, err, domain.ErrCommitmentMismatch)

	got, err := env.manager.GetSession(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseActive, got.Phase)
	assert.Equal(t, int64(1000), got.Balance)
	assert.Empty(t, got.Rounds)

	// The voided round does not block a fresh one.
	commitment2, _ := commitChoice(t, choice)
	_, err = env.manager.PlaceRound(context.Background(), session.ID, 100, commitment2)
	require.NoError(t, err)
}

func TestRoundSettlesAndDisclosesNonce(t *testing.T) {
	env := newTestEnv(t, 1_000_000)
	session := env.open(t, 1000, 0)

	choice := json.RawMessage(`{"guess":"high"}`)
	commitment, clientNonce := commitChoice(t, choice)

	ack, err := env.manager.PlaceRound(context.Background(), session.ID, 100, commitment)
	require.NoError(t, err)
	assert.NotEmpty(t, ack.ID)
	assert.NotEmpty(t, ack.HouseCommitment)
	assert.Empty(t, ack.HouseNonce)

	round, err := env.manager.Reveal(context.Background(), session.ID, ack.ID, choice, clientNonce)
	require.NoError(t, err)

	// The disclosed nonce must reproduce the commitment from the ack.
	nonce, err := fairness.ParseDigest(round.HouseNonce)
	require.NoError(t, err)
	assert.Equal(t, ack.HouseCommitment, fairness.Hex(fairness.NonceCommitment(nonce)))
	assert.GreaterOrEqual(t, round.Detail, 0.0)
	assert.Less(t, round.Detail, 1.0)

	got, err := env.manager.GetSession(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000)+round.Payout, got.Balance)
	require.Len(t, got.Rounds, 1)
	assert.Equal(t, uint64(1), got.RoundCount)
}

func TestRevealResendReturnsStoredResult(t *testing.T) {
	env := newTestEnv(t, 1_000_000)
	session := env.open(t, 1000, 0)

	choice := json.RawMessage(`{"guess":"low"}`)
	commitment, clientNonce := commitChoice(t, choice)

	ack, err := env.manager.PlaceRound(context.Background(), session.ID, 100, commitment)
	require.NoError(t, err)

	first, err := env.manager.Reveal(context.Background(), session.ID, ack.ID, choice, clientNonce)
	require.NoError(t, err)

	second, err := env.manager.Reveal(context.Background(), session.ID, ack.ID, choice, clientNonce)
	require.NoError(t, err)
	assert.Equal(t, first.Payout, second.Payout)
	assert.Equal(t, first.HouseNonce, second.HouseNonce)

	got, err := env.manager.GetSession(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Len(t, got.Rounds, 1)
}

func TestMaxRoundsClosesSession(t *testing.T) {
	env := newTestEnv(t, 1_000_000)
	session := env.open(t, 1000, 1)

	choice := json.RawMessage(`{"guess":"high"}`)
	commitment, clientNonce := commitChoice(t, choice)

	ack, err := env.manager.PlaceRound(context.Background(), session.ID, 100, commitment)
	require.NoError(t, err)

	round, err := env.manager.Reveal(context.Background(), session.ID, ack.ID, choice, clientNonce)
	require.NoError(t, err)
	assert.True(t, round.Finished)

	got, err := env.manager.GetSession(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseClosed, got.Phase)
	assert.NotEmpty(t, got.Seed)

	report, err := fairness.VerifySession(got)
	require.NoError(t, err)
	assert.True(t, report.Valid)
	require.Len(t, report.Rounds, 1)
	assert.True(t, report.Rounds[0].NonceOK)
	assert.True(t, report.Rounds[0].CommitmentOK)
}

func TestChannelOpenFailureParksSessionInError(t *testing.T) {
	env := newTestEnv(t, 1_000_000)
	env.clearing.openErr = errors.New("clearing unavailable")

	_, err := env.manager.OpenSession(context.Background(), OpenRequest{
		Player:       testPlayer,
		Game:         "highlow",
		Deposit:      1000,
		PlayerSigner: stubSigner{addr: testPlayer},
	})
	require.Error(t, err)

	// The matched capital went back to the pool immediately.
	assert.Zero(t, env.pool.Snapshot().TotalAllocated)

	sessions, err := env.store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	parked := sessions[0]
	assert.Equal(t, domain.PhaseError, parked.Phase)
	assert.Contains(t, parked.LastError, "open")

	// Only an explicit reset leaves the error phase.
	_, err = env.manager.PlaceRound(context.Background(), parked.ID, 100, "00")
	var phaseErr *domain.PhaseMismatchError
	require.ErrorAs(t, err, &phaseErr)

	reset, err := env.manager.Reset(context.Background(), parked.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseClosed, reset.Phase)
}

func TestChannelCloseFailureParksSessionInError(t *testing.T) {
	env := newTestEnv(t, 1_000_000)
	session := env.open(t, 1000, 0)

	env.clearing.closeErr = errors.New("clearing unavailable")
	_, err := env.manager.CloseSession(context.Background(), session.ID)
	require.Error(t, err)

	got, err := env.manager.GetSession(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseError, got.Phase)

	// The seed stays secret while the channel is unresolved.
	assert.Empty(t, got.Seed)

	// Reset returns the allocation still held for the stuck channel.
	_, err = env.manager.Reset(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Zero(t, env.pool.Snapshot().TotalAllocated)
}

func TestBetBounds(t *testing.T) {
	env := newTestEnv(t, 1_000_000)
	session := env.open(t, 1000, 0)

	choice := json.RawMessage(`{"guess":"high"}`)
	commitment, _ := commitChoice(t, choice)

	for _, bet := range []int64{0, -5, 1001} {
		_, err := env.manager.PlaceRound(context.Background(), session.ID, bet, commitment)
		require.Error(t, err, fmt.Sprintf("bet %d", bet))
	}
}

func TestSessionEventsPublished(t *testing.T) {
	env := newTestEnv(t, 1_000_000)

	var mu sync.Mutex
	var types []domain.EventType
	err := env.bus.Subscribe(context.Background(), domain.TopicSessionEvents,
		func(ctx context.Context, event domain.Event) error {
			mu.Lock()
			types = append(types, event.Type)
			mu.Unlock()
			return nil
		})
	require.NoError(t, err)

	session := env.open(t, 1000, 0)
	_, err = env.manager.CloseSession(context.Background(), session.ID)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []domain.EventType{
		domain.EventTypeChannelOpened,
		domain.EventTypeSessionCreated,
		domain.EventTypeChannelClosed,
		domain.EventTypeSessionClosed,
	}, types)
}

func TestRecordAnchorTxDoesNotClobberLiveSession(t *testing.T) {
	env := newTestEnv(t, 1_000_000)
	session := env.open(t, 1000, 0)

	choice := []byte(`{"guess":"high"}`)
	commitment, clientNonce := commitChoice(t, choice)

	ack, err := env.manager.PlaceRound(context.Background(), session.ID, 100, commitment)
	require.NoError(t, err)

	// An anchor job finishing mid-round writes through the session owner
	// and must not reset the in-flight round state.
	require.NoError(t, env.manager.RecordAnchorTx(context.Background(), session.ID, ports.AnchorOpCommit, "0xcommit"))

	round, err := env.manager.Reveal(context.Background(), session.ID, ack.ID, choice, clientNonce)
	require.NoError(t, err)
	assert.True(t, round.Finished)

	live, err := env.manager.GetSession(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, "0xcommit", live.AnchorCommitTx)
	assert.Equal(t, domain.PhaseActive, live.Phase)
	assert.Equal(t, uint64(1), live.RoundCount)
}

func TestRecordAnchorTxAfterClose(t *testing.T) {
	env := newTestEnv(t, 1_000_000)
	session := env.open(t, 1000, 0)

	_, err := env.manager.CloseSession(context.Background(), session.ID)
	require.NoError(t, err)

	require.NoError(t, env.manager.RecordAnchorTx(context.Background(), session.ID, ports.AnchorOpReveal, "0xreveal"))

	closed, err := env.store.Get(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, "0xreveal", closed.AnchorRevealTx)
	assert.Equal(t, domain.PhaseClosed, closed.Phase)

	err = env.manager.RecordAnchorTx(context.Background(), "missing", ports.AnchorOpCommit, "0x0")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}
