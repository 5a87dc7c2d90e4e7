package anchor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clearstake/clearstake/internal/domain"
	"github.com/clearstake/clearstake/internal/fairness"
	"github.com/clearstake/clearstake/pkg/adapters/anchor/memory"
)

func TestCommitRevealRoundTrip(t *testing.T) {
	ledger := memory.NewLedger()
	svc := NewService(ledger, zap.NewNop())

	seed, err := fairness.NewSeed()
	require.NoError(t, err)
	player := "0xabc123"

	tx, err := svc.Commit(context.Background(), fairness.SessionHash(seed, player), player)
	require.NoError(t, err)
	assert.NotEmpty(t, tx)

	tx, err = svc.Reveal(context.Background(), [32]byte(seed), player)
	require.NoError(t, err)
	assert.NotEmpty(t, tx)
}

func TestRevealFraudSignal(t *testing.T) {
	ledger := memory.NewLedger()
	svc := NewService(ledger, zap.NewNop())

	seed, err := fairness.NewSeed()
	require.NoError(t, err)
	player := "0xabc123"

	_, err = svc.Commit(context.Background(), fairness.SessionHash(seed, player), player)
	require.NoError(t, err)

	// A different seed cannot reproduce the anchored commitment.
	other, err := fairness.NewSeed()
	require.NoError(t, err)

	_, err = svc.Reveal(context.Background(), [32]byte(other), player)
	assert.ErrorIs(t, err, ErrFraudSignal)
}

func TestMissingLedgerIsConfigurationError(t *testing.T) {
	svc := NewService(nil, zap.NewNop())

	_, err := svc.Commit(context.Background(), [32]byte{}, "0xabc")
	var cfgErr *domain.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestVaultAllocationLifecycle(t *testing.T) {
	ledger := memory.NewLedger()
	ledger.Deposit("lp-1", 1_000)

	_, err := ledger.AllocateToChannel(context.Background(), "ch-1", 400)
	require.NoError(t, err)
	assert.Equal(t, int64(600), ledger.VaultAssets())

	// Over-allocation is rejected.
	_, err = ledger.AllocateToChannel(context.Background(), "ch-2", 700)
	assert.Error(t, err)

	_, err = ledger.SettleChannel(context.Background(), "ch-1", 450)
	require.NoError(t, err)
	assert.Equal(t, int64(1_050), ledger.VaultAssets())

	_, err = ledger.SettleChannel(context.Background(), "ch-1", 450)
	assert.Error(t, err)
}
