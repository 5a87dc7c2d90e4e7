package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clearstake/clearstake/internal/application/liquidity"
	"github.com/clearstake/clearstake/internal/domain"
	"github.com/clearstake/clearstake/internal/fairness"
	"github.com/clearstake/clearstake/internal/game"
	"github.com/clearstake/clearstake/internal/ports"
)

// Manager coordinates wagering sessions: fairness commitments, liquidity
// allocation, clearing channels, and round settlement. Each session has
// its own lock so rounds serialize per session while sessions progress
// independently.
type Manager struct {
	store    ports.SessionStore
	eventBus ports.EventBus
	clearing ports.ClearingNetwork
	pool     *liquidity.Pool
	games    *game.Registry
	metrics  ports.MetricsCollector
	logger   *zap.Logger

	// operator is the identity the manager allocates and settles pool
	// capital under.
	operator string
	asset    string

	mu       sync.Mutex
	sessions map[string]*sessionState
}

// sessionState is the live in-process state of one session. The seed and
// any in-flight round never leave this struct until the session closes.
type sessionState struct {
	mu         sync.Mutex
	session    *domain.Session
	seed       fairness.Seed
	poolAmount int64
	pending    *pendingRound
}

// pendingRound is a committed round awaiting its reveal.
type pendingRound struct {
	round      domain.Round
	houseNonce [32]byte
	startedAt  time.Time
}

// OpenRequest carries everything needed to open a session.
type OpenRequest struct {
	Player    string
	Game      string
	Deposit   int64
	MaxRounds uint64

	// PlayerSigner co-signs the channel open with the session key the
	// player delegated for this session.
	PlayerSigner ports.ChannelSigner
}

// NewManager creates a new session manager
func NewManager(
	store ports.SessionStore,
	eventBus ports.EventBus,
	clearing ports.ClearingNetwork,
	pool *liquidity.Pool,
	games *game.Registry,
	metrics ports.MetricsCollector,
	operator, asset string,
	logger *zap.Logger,
) *Manager {
	return &Manager{
		store:    store,
		eventBus: eventBus,
		clearing: clearing,
		pool:     pool,
		games:    games,
		metrics:  metrics,
		operator: operator,
		asset:    asset,
		logger:   logger,
		sessions: make(map[string]*sessionState),
	}
}

// OpenSession creates a session: generates and commits the seed, matches
// the deposit from the liquidity pool, and opens the clearing channel. A
// failed open leaves the session in the error phase until Reset.
func (m *Manager) OpenSession(ctx context.Context, req OpenRequest) (*domain.Session, error) {
	if err := validateOpen(req); err != nil {
		return nil, err
	}
	curve, ok := m.games.Get(req.Game)
	if !ok {
		return nil, fmt.Errorf("unknown game %q", req.Game)
	}

	seed, err := fairness.NewSeed()
	if err != nil {
		return nil, fmt.Errorf("failed to generate seed: %w", err)
	}

	session := &domain.Session{
		ID:         uuid.New().String(),
		Player:     req.Player,
		Game:       curve.Name(),
		Deposit:    req.Deposit,
		Balance:    req.Deposit,
		MaxRounds:  req.MaxRounds,
		Multiplier: 1,
		Phase:      domain.PhaseCreating,
		SeedHash:   fairness.Hex(fairness.SeedHash(seed)),
		CreatedAt:  time.Now(),
	}

	state := &sessionState{
		session:    session,
		seed:       seed,
		poolAmount: req.Deposit,
	}
	state.mu.Lock()
	defer state.mu.Unlock()

	m.mu.Lock()
	m.sessions[session.ID] = state
	m.mu.Unlock()

	if err := m.pool.Allocate(m.operator, session.ID, state.poolAmount); err != nil {
		m.dropSession(session.ID)
		m.metrics.RecordSessionOpened("rejected")
		m.logger.Warn("session open rejected by pool",
			zap.String("session_id", session.ID),
			zap.String("player", session.Player),
			zap.Int64("deposit", req.Deposit),
			zap.Error(err))
		return nil, err
	}

	channelID, err := m.clearing.OpenChannel(ctx, ports.ChannelOpenRequest{
		RequestID:    session.ID,
		Player:       session.Player,
		Asset:        m.asset,
		PlayerAmount: session.Deposit,
		PoolAmount:   state.poolAmount,
		PlayerSigner: req.PlayerSigner,
	})
	if err != nil {
		// Return the matched capital, then park the session in the
		// error phase.
		if _, serr := m.pool.Settle(m.operator, session.ID, state.poolAmount); serr != nil {
			m.logger.Error("failed to return pool allocation after open failure",
				zap.String("session_id", session.ID),
				zap.Error(serr))
		}
		m.failSession(ctx, state, "open", err)
		m.metrics.RecordSessionOpened("failed")
		m.metrics.RecordChannelOpen("failed")
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	session.ChannelID = channelID
	session.Phase = domain.PhaseActive

	if err := m.store.Save(ctx, session); err != nil {
		m.logger.Error("failed to save session",
			zap.String("session_id", session.ID),
			zap.Error(err))
	}

	m.metrics.RecordSessionOpened("ok")
	m.metrics.RecordChannelOpen("ok")
	m.updateGauges()

	m.publish(ctx, domain.TopicSessionEvents, domain.Event{
		ID:        uuid.New().String(),
		Type:      domain.EventTypeChannelOpened,
		SessionID: session.ID,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"channel":       session.ChannelID,
			"player_amount": session.Deposit,
			"pool_amount":   state.poolAmount,
		},
	})
	m.publish(ctx, domain.TopicSessionEvents, domain.Event{
		ID:        uuid.New().String(),
		Type:      domain.EventTypeSessionCreated,
		SessionID: session.ID,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"player":    session.Player,
			"game":      session.Game,
			"deposit":   session.Deposit,
			"seed_hash": session.SeedHash,
			"channel":   session.ChannelID,
		},
	})
	m.publish(ctx, domain.TopicAnchorJobs, domain.Event{
		ID:        uuid.New().String(),
		Type:      domain.EventTypeAnchorCommit,
		SessionID: session.ID,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"player":       session.Player,
			"session_hash": fairness.Hex(fairness.SessionHash(seed, session.Player)),
		},
	})

	m.logger.Info("session opened",
		zap.String("session_id", session.ID),
		zap.String("player", session.Player),
		zap.String("game", session.Game),
		zap.Int64("deposit", session.Deposit),
		zap.String("channel_id", channelID))

	return snapshot(session), nil
}

// PlaceRound accepts a player's bet commitment and returns the server
// round id together with the house commitment for the round nonce. The
// session moves to playing_round until the reveal settles or voids it.
func (m *Manager) PlaceRound(ctx context.Context, sessionID string, bet int64, commitment string) (*domain.Round, error) {
	state, err := m.liveSession(sessionID)
	if err != nil {
		return nil, err
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	session := state.session
	if session.Phase == domain.PhasePlayingRound {
		return nil, domain.ErrRoundInFlight
	}
	if session.Phase != domain.PhaseActive {
		return nil, &domain.PhaseMismatchError{Op: "place_bet", Have: session.Phase, Want: domain.PhaseActive}
	}
	if bet <= 0 || bet > session.Balance {
		return nil, fmt.Errorf("bet %d out of range (balance %d)", bet, session.Balance)
	}
	if commitment == "" {
		return nil, &domain.ProtocolError{Method: "place_bet", Reason: "missing choice commitment"}
	}
	if _, err := fairness.ParseDigest(commitment); err != nil {
		return nil, &domain.ProtocolError{Method: "place_bet", Reason: "malformed choice commitment"}
	}

	number := session.RoundCount
	nonce := fairness.RoundNonce(state.seed, number)

	round := domain.Round{
		ID:              uuid.New().String(),
		SessionID:       session.ID,
		Number:          number,
		Bet:             bet,
		Commitment:      commitment,
		HouseCommitment: fairness.Hex(fairness.NonceCommitment(nonce)),
	}

	state.pending = &pendingRound{
		round:      round,
		houseNonce: nonce,
		startedAt:  time.Now(),
	}
	session.Phase = domain.PhasePlayingRound
	m.save(ctx, session)

	m.logger.Debug("round committed",
		zap.String("session_id", session.ID),
		zap.String("round_id", round.ID),
		zap.Uint64("number", number),
		zap.Int64("bet", bet))

	ack := round
	return &ack, nil
}

// Reveal settles the in-flight round: checks the player's commitment,
// discloses the house nonce, prices the outcome, and updates the balance.
// A commitment mismatch voids the round and returns the session to the
// active phase with the balance untouched.
func (m *Manager) Reveal(ctx context.Context, sessionID, roundID string, choice []byte, clientNonce string) (*domain.Round, error) {
	state, err := m.liveSession(sessionID)
	if err != nil {
		return nil, err
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	session := state.session
	if session.Phase != domain.PhasePlayingRound || state.pending == nil {
		// A reveal re-sent for an already settled round returns the
		// stored result instead of an error.
		if prior := findRound(session, roundID); prior != nil {
			return prior, nil
		}
		return nil, &domain.PhaseMismatchError{Op: "reveal", Have: session.Phase, Want: domain.PhasePlayingRound}
	}
	if state.pending.round.ID != roundID {
		return nil, &domain.ProtocolError{Method: "reveal", Reason: fmt.Sprintf("unknown round id %s", roundID)}
	}

	pending := state.pending

	nonce, err := fairness.ParseDigest(clientNonce)
	if err != nil {
		m.voidRound(ctx, state)
		return nil, &domain.ProtocolError{Method: "reveal", Reason: "malformed client nonce"}
	}
	if err := fairness.VerifyCommitment(choice, nonce, pending.round.Commitment); err != nil {
		m.voidRound(ctx, state)
		m.publish(ctx, domain.TopicSessionEvents, domain.Event{
			ID:        uuid.New().String(),
			Type:      domain.EventTypeFairnessViolation,
			SessionID: session.ID,
			Timestamp: time.Now(),
			Data:      map[string]interface{}{"round_id": roundID},
		})
		m.logger.Warn("commitment mismatch on reveal",
			zap.String("session_id", session.ID),
			zap.String("round_id", roundID))
		return nil, err
	}

	curve, ok := m.games.Get(session.Game)
	if !ok {
		m.voidRound(ctx, state)
		return nil, fmt.Errorf("unknown game %q", session.Game)
	}
	if err := curve.ValidateChoice(choice); err != nil {
		m.voidRound(ctx, state)
		return nil, &domain.ProtocolError{Method: "reveal", Reason: err.Error()}
	}

	roll := fairness.Roll(pending.houseNonce)
	outcome, err := curve.Play(pending.round.Bet, choice, roll, game.State{
		Round:      session.RoundCount,
		Multiplier: session.Multiplier,
		Balance:    session.Balance,
	})
	if err != nil {
		m.voidRound(ctx, state)
		return nil, fmt.Errorf("failed to price round: %w", err)
	}

	round := pending.round
	round.Choice = append([]byte(nil), choice...)
	round.ClientNonce = clientNonce
	round.HouseNonce = fairness.Hex(pending.houseNonce)
	round.Win = outcome.Win
	round.Payout = outcome.Payout
	round.Detail = outcome.Roll
	round.PlayedAt = time.Now()

	session.Balance += outcome.Payout
	if session.Balance < 0 {
		session.Balance = 0
	}
	session.RoundCount++
	session.Multiplier = outcome.Multiplier
	round.Balance = session.Balance

	done := !outcome.Continues || session.Balance == 0 ||
		(session.MaxRounds > 0 && session.RoundCount >= session.MaxRounds)
	round.Finished = done

	session.Rounds = append(session.Rounds, round)
	state.pending = nil
	session.Phase = domain.PhaseActive

	m.metrics.RecordRound(session.Game, round.Win)
	m.metrics.ObservePayout(session.Game, float64(round.Payout))
	m.metrics.ObserveRoundDuration(time.Since(pending.startedAt))

	m.publish(ctx, domain.TopicSessionEvents, domain.Event{
		ID:        uuid.New().String(),
		Type:      domain.EventTypeRoundPlayed,
		SessionID: session.ID,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"round_id": round.ID,
			"number":   round.Number,
			"win":      round.Win,
			"payout":   round.Payout,
			"balance":  round.Balance,
		},
	})

	m.logger.Info("round settled",
		zap.String("session_id", session.ID),
		zap.String("round_id", round.ID),
		zap.Uint64("number", round.Number),
		zap.Bool("win", round.Win),
		zap.Int64("payout", round.Payout),
		zap.Int64("balance", session.Balance))

	if done {
		if err := m.closeLocked(ctx, state, "finished"); err != nil {
			return &round, err
		}
	} else {
		m.save(ctx, session)
	}

	return &round, nil
}

// CloseSession cashes the player out: closes the clearing channel with
// the final balances, reveals the seed, and settles the pool allocation.
func (m *Manager) CloseSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	state, err := m.liveSession(sessionID)
	if err != nil {
		return nil, err
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	if state.session.Phase != domain.PhaseActive {
		return nil, &domain.PhaseMismatchError{Op: "close_session", Have: state.session.Phase, Want: domain.PhaseActive}
	}
	if err := m.closeLocked(ctx, state, "cashout"); err != nil {
		return nil, err
	}
	return snapshot(state.session), nil
}

// Reset clears a session stuck in the error phase. Any pool capital still
// allocated to it is returned before the record is marked closed.
func (m *Manager) Reset(ctx context.Context, sessionID string) (*domain.Session, error) {
	state, err := m.liveSession(sessionID)
	if err != nil {
		return nil, err
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	session := state.session
	if session.Phase != domain.PhaseError {
		return nil, &domain.PhaseMismatchError{Op: "reset", Have: session.Phase, Want: domain.PhaseError}
	}

	if allocated, ok := m.pool.Allocated(session.ID); ok {
		if _, err := m.pool.Settle(m.operator, session.ID, allocated); err != nil {
			m.logger.Error("failed to return pool allocation on reset",
				zap.String("session_id", session.ID),
				zap.Error(err))
		}
	}

	now := time.Now()
	session.Phase = domain.PhaseClosed
	session.ClosedAt = &now
	m.save(ctx, session)
	m.dropSession(session.ID)
	m.updateGauges()

	m.logger.Info("session reset",
		zap.String("session_id", session.ID),
		zap.String("last_error", session.LastError))

	return snapshot(session), nil
}

// GetSession returns the session record, live or persisted.
func (m *Manager) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	m.mu.Lock()
	state, ok := m.sessions[id]
	m.mu.Unlock()

	if ok {
		state.mu.Lock()
		defer state.mu.Unlock()
		return snapshot(state.session), nil
	}
	return m.store.Get(ctx, id)
}

// RecordAnchorTx attaches an anchor transaction reference to a session.
// For a live session the write goes through the session lock so it cannot
// race a phase transition; closed sessions have no writer left and take
// the plain read-modify-write path.
func (m *Manager) RecordAnchorTx(ctx context.Context, sessionID, op, txRef string) error {
	m.mu.Lock()
	state, live := m.sessions[sessionID]
	m.mu.Unlock()

	if live {
		state.mu.Lock()
		defer state.mu.Unlock()
		applyAnchorTx(state.session, op, txRef)
		m.save(ctx, state.session)
		return nil
	}

	session, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to load session for anchor tx: %w", err)
	}
	applyAnchorTx(session, op, txRef)
	if err := m.store.Save(ctx, session); err != nil {
		return fmt.Errorf("failed to save anchor tx: %w", err)
	}
	return nil
}

func applyAnchorTx(session *domain.Session, op, txRef string) {
	switch op {
	case ports.AnchorOpCommit:
		session.AnchorCommitTx = txRef
	case ports.AnchorOpReveal:
		session.AnchorRevealTx = txRef
	}
}

// closeLocked runs the close sequence. The caller holds the session lock.
// Channel close failures park the session in the error phase; pool
// settlement and seed disclosure only happen after the channel closed.
func (m *Manager) closeLocked(ctx context.Context, state *sessionState, reason string) error {
	session := state.session
	session.Phase = domain.PhaseClosing
	m.save(ctx, session)

	playerFinal := session.Balance
	poolFinal := session.Deposit + state.poolAmount - session.Balance

	err := m.clearing.CloseChannel(ctx, ports.ChannelCloseRequest{
		ChannelID: session.ChannelID,
		FinalAllocations: []ports.Allocation{
			{Participant: session.Player, Asset: m.asset, Amount: playerFinal},
			{Participant: m.operator, Asset: m.asset, Amount: poolFinal},
		},
	})
	if err != nil {
		m.failSession(ctx, state, "close", err)
		m.metrics.RecordChannelClose("failed")
		m.metrics.RecordSessionClosed("failed")
		return fmt.Errorf("failed to close channel: %w", err)
	}
	m.metrics.RecordChannelClose("ok")

	pnl, err := m.pool.Settle(m.operator, session.ID, poolFinal)
	if err != nil {
		m.logger.Error("failed to settle pool allocation",
			zap.String("session_id", session.ID),
			zap.Error(err))
	}

	now := time.Now()
	session.Seed = state.seed.Hex()
	session.Phase = domain.PhaseClosed
	session.ClosedAt = &now
	m.save(ctx, session)
	m.dropSession(session.ID)

	m.metrics.RecordSessionClosed("ok")
	m.updateGauges()

	m.publish(ctx, domain.TopicSessionEvents, domain.Event{
		ID:        uuid.New().String(),
		Type:      domain.EventTypeChannelClosed,
		SessionID: session.ID,
		Timestamp: now,
		Data: map[string]interface{}{
			"channel":      session.ChannelID,
			"player_final": playerFinal,
			"pool_final":   poolFinal,
			"pool_pnl":     pnl,
		},
	})
	m.publish(ctx, domain.TopicSessionEvents, domain.Event{
		ID:        uuid.New().String(),
		Type:      domain.EventTypeSessionClosed,
		SessionID: session.ID,
		Timestamp: now,
		Data: map[string]interface{}{
			"reason":  reason,
			"balance": session.Balance,
			"rounds":  session.RoundCount,
			"seed":    session.Seed,
		},
	})
	m.publish(ctx, domain.TopicAnchorJobs, domain.Event{
		ID:        uuid.New().String(),
		Type:      domain.EventTypeAnchorReveal,
		SessionID: session.ID,
		Timestamp: now,
		Data: map[string]interface{}{
			"player": session.Player,
			"seed":   session.Seed,
		},
	})

	m.logger.Info("session closed",
		zap.String("session_id", session.ID),
		zap.String("reason", reason),
		zap.Int64("final_balance", session.Balance),
		zap.Uint64("rounds", session.RoundCount),
		zap.Int64("pool_pnl", pnl))

	return nil
}

// voidRound drops the in-flight round without touching the balance and
// returns the session to the active phase.
func (m *Manager) voidRound(ctx context.Context, state *sessionState) {
	state.pending = nil
	state.session.Phase = domain.PhaseActive
	m.save(ctx, state.session)
}

// failSession parks a session in the error phase. Only Reset leaves it.
func (m *Manager) failSession(ctx context.Context, state *sessionState, op string, cause error) {
	state.pending = nil
	state.session.Phase = domain.PhaseError
	state.session.LastError = fmt.Sprintf("%s: %v", op, cause)
	m.save(ctx, state.session)
	m.updateGauges()
}

func (m *Manager) liveSession(id string) (*sessionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}
	return state, nil
}

func (m *Manager) dropSession(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

func (m *Manager) save(ctx context.Context, session *domain.Session) {
	if err := m.store.Save(ctx, session); err != nil {
		m.logger.Error("failed to save session",
			zap.String("session_id", session.ID),
			zap.Error(err))
	}
}

func (m *Manager) publish(ctx context.Context, topic string, event domain.Event) {
	if err := m.eventBus.Publish(ctx, topic, event); err != nil {
		m.logger.Error("failed to publish event",
			zap.String("topic", topic),
			zap.String("type", string(event.Type)),
			zap.String("session_id", event.SessionID),
			zap.Error(err))
	}
}

func (m *Manager) updateGauges() {
	m.mu.Lock()
	active := len(m.sessions)
	m.mu.Unlock()

	m.metrics.SetActiveSessions(active)
	m.metrics.SetPoolUtilization(m.pool.Snapshot().Utilization)
}

func findRound(session *domain.Session, roundID string) *domain.Round {
	for i := range session.Rounds {
		if session.Rounds[i].ID == roundID {
			round := session.Rounds[i]
			return &round
		}
	}
	return nil
}

func snapshot(in *domain.Session) *domain.Session {
	out := *in
	if in.Rounds != nil {
		out.Rounds = make([]domain.Round, len(in.Rounds))
		copy(out.Rounds, in.Rounds)
	}
	return &out
}
