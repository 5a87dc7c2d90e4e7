// Package anchor records session commitments on the execution ledger.
//
// Anchoring is informative: fairness stays independently verifiable
// off-chain once the seed is revealed, so every failure here is logged
// and surfaced but never blocks session progress.
package anchor

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/clearstake/clearstake/internal/domain"
	"github.com/clearstake/clearstake/internal/fairness"
	"github.com/clearstake/clearstake/internal/ports"
)

// ErrFraudSignal marks a reveal whose recomputed commitment contradicts
// the earlier on-chain anchor. Unlike a local error this is provable to
// third parties.
var ErrFraudSignal = fmt.Errorf("revealed seed contradicts anchored commitment")

// Service implements ports.Anchor over an execution ledger client.
type Service struct {
	ledger ports.ExecutionLedger
	logger *zap.Logger
}

// NewService creates the anchor service. A nil ledger is allowed: commits
// and reveals then fail with a ConfigurationError, which callers treat as
// non-fatal.
func NewService(ledger ports.ExecutionLedger, logger *zap.Logger) *Service {
	return &Service{ledger: ledger, logger: logger}
}

// Commit records the session hash before play begins.
func (s *Service) Commit(ctx context.Context, sessionHash [32]byte, player string) (string, error) {
	if s.ledger == nil {
		return "", &domain.ConfigurationError{Field: "execution ledger"}
	}

	txRef, err := s.ledger.OpenSession(ctx, sessionHash, player)
	if err != nil {
		return "", fmt.Errorf("anchor commit failed: %w", err)
	}

	s.logger.Info("session commitment anchored",
		zap.String("player", player),
		zap.String("tx", txRef))
	return txRef, nil
}

// Reveal checks the revealed seed against the anchored commitment and
// records the reveal. A hash mismatch is returned as ErrFraudSignal.
func (s *Service) Reveal(ctx context.Context, seed [32]byte, player string) (string, error) {
	if s.ledger == nil {
		return "", &domain.ConfigurationError{Field: "execution ledger"}
	}

	exists, err := s.ledger.SessionExists(ctx, player)
	if err != nil {
		return "", fmt.Errorf("anchor lookup failed: %w", err)
	}
	if exists {
		anchored, err := s.ledger.GetSessionHash(ctx, player)
		if err != nil {
			return "", fmt.Errorf("anchor lookup failed: %w", err)
		}
		recomputed := fairness.SessionHash(fairness.Seed(seed), player)
		if anchored != recomputed {
			s.logger.Error("anchored commitment mismatch",
				zap.String("player", player),
				zap.String("anchored", fairness.Hex(anchored)),
				zap.String("recomputed", fairness.Hex(recomputed)))
			return "", ErrFraudSignal
		}
	}

	txRef, err := s.ledger.VerifySession(ctx, seed, player)
	if err != nil {
		return "", fmt.Errorf("anchor reveal failed: %w", err)
	}

	s.logger.Info("session seed revealed on chain",
		zap.String("player", player),
		zap.String("tx", txRef))
	return txRef, nil
}
