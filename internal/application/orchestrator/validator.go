package orchestrator

import (
	"fmt"
	"strings"

	"github.com/clearstake/clearstake/internal/domain"
)

// maxRoundsCeiling bounds how many rounds a single session may request.
// Unbounded sessions would keep their seed and channel open forever.
const maxRoundsCeiling = 10_000

// validateOpen rejects malformed open requests before any state is
// created for them.
func validateOpen(req OpenRequest) error {
	if req.Player == "" {
		return &domain.ConfigurationError{Field: "player address"}
	}
	if !validAddress(req.Player) {
		return &domain.ProtocolError{Method: "create_session", Reason: fmt.Sprintf("malformed player address %q", req.Player)}
	}
	if req.Deposit <= 0 {
		return fmt.Errorf("deposit must be positive, got %d", req.Deposit)
	}
	if req.MaxRounds > maxRoundsCeiling {
		return fmt.Errorf("max rounds %d exceeds ceiling %d", req.MaxRounds, maxRoundsCeiling)
	}
	if req.PlayerSigner == nil {
		return &domain.ConfigurationError{Field: "player session signer"}
	}
	return nil
}

// validAddress accepts 0x-prefixed hex addresses.
func validAddress(addr string) bool {
	if !strings.HasPrefix(addr, "0x") || len(addr) < 4 {
		return false
	}
	for _, c := range strings.ToLower(addr[2:]) {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
