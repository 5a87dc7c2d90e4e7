package liquidity

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/clearstake/clearstake/internal/domain"
)

func newTestPool(t *testing.T, pct, perChannel int64) *Pool {
	t.Helper()
	pool, err := NewPool(Config{
		Owner:                "owner",
		Operator:             "operator",
		MaxAllocationPercent: pct,
		MaxPerChannel:        perChannel,
	}, zap.NewNop())
	require.NoError(t, err)
	return pool
}

func TestAllocationCap(t *testing.T) {
	pool := newTestPool(t, 80, 0)

	_, err := pool.Deposit("alice", 10)
	require.NoError(t, err)

	// 10 units at 80%: 8 allocate, the 9th is rejected.
	require.NoError(t, pool.Allocate("operator", "ch-1", 8))

	err = pool.Allocate("operator", "ch-2", 1)
	assert.ErrorIs(t, err, domain.ErrInsufficientLiquidity)
}

func TestPerChannelCap(t *testing.T) {
	pool := newTestPool(t, 100, 5)

	_, err := pool.Deposit("alice", 100)
	require.NoError(t, err)

	err = pool.Allocate("operator", "ch-1", 6)
	assert.ErrorIs(t, err, domain.ErrInsufficientLiquidity)
	require.NoError(t, pool.Allocate("operator", "ch-1", 5))
}

func TestDuplicateAllocationRejected(t *testing.T) {
	pool := newTestPool(t, 100, 0)

	_, err := pool.Deposit("alice", 100)
	require.NoError(t, err)

	require.NoError(t, pool.Allocate("operator", "ch-1", 10))
	assert.Error(t, pool.Allocate("operator", "ch-1", 10))

	// Settling frees the channel id for reuse.
	_, err = pool.Settle("operator", "ch-1", 10)
	require.NoError(t, err)
	assert.NoError(t, pool.Allocate("operator", "ch-1", 10))
}

func TestSettleAdjustsAssetsByPnL(t *testing.T) {
	pool := newTestPool(t, 100, 0)

	_, err := pool.Deposit("alice", 100)
	require.NoError(t, err)
	require.NoError(t, pool.Allocate("operator", "ch-1", 40))

	// House won 15.
	pnl, err := pool.Settle("operator", "ch-1", 55)
	require.NoError(t, err)
	assert.Equal(t, int64(15), pnl)

	status := pool.Snapshot()
	assert.Equal(t, int64(115), status.Assets)
	assert.Equal(t, int64(0), status.TotalAllocated)
	assert.Equal(t, 0, status.OpenChannels)

	_, allocated := pool.Allocated("ch-1")
	assert.False(t, allocated)
}

func TestSettleUnknownChannel(t *testing.T) {
	pool := newTestPool(t, 100, 0)

	_, err := pool.Settle("operator", "ghost", 10)
	assert.Error(t, err)
}

func TestRoleGating(t *testing.T) {
	pool := newTestPool(t, 100, 0)
	_, err := pool.Deposit("alice", 100)
	require.NoError(t, err)

	assert.Error(t, pool.Allocate("alice", "ch-1", 10))
	assert.Error(t, pool.SetOperator("operator", "mallory"))
	assert.Error(t, pool.SetMaxAllocationPercent("operator", 50))

	require.NoError(t, pool.SetOperator("owner", "ops2"))
	assert.Error(t, pool.Allocate("operator", "ch-1", 10))
	require.NoError(t, pool.Allocate("ops2", "ch-1", 10))

	assert.Error(t, pool.SetMaxAllocationPercent("owner", 101))
	require.NoError(t, pool.SetMaxAllocationPercent("owner", 50))
}

func TestShareAccounting(t *testing.T) {
	pool := newTestPool(t, 100, 0)

	shares, err := pool.Deposit("alice", 100)
	require.NoError(t, err)
	assert.Equal(t, int64(100), shares)

	// House profit doubles assets; bob's deposit mints half the shares per
	// unit alice got.
	require.NoError(t, pool.Allocate("operator", "ch-1", 50))
	_, err = pool.Settle("operator", "ch-1", 150)
	require.NoError(t, err)

	shares, err = pool.Deposit("bob", 100)
	require.NoError(t, err)
	assert.Equal(t, int64(50), shares)

	amount, err := pool.Redeem("bob", 50)
	require.NoError(t, err)
	assert.Equal(t, int64(100), amount)
}

func TestRedeemBoundedByUnallocated(t *testing.T) {
	pool := newTestPool(t, 100, 0)

	_, err := pool.Deposit("alice", 100)
	require.NoError(t, err)
	require.NoError(t, pool.Allocate("operator", "ch-1", 80))

	_, err = pool.Redeem("alice", 50)
	assert.ErrorIs(t, err, domain.ErrInsufficientLiquidity)
}

// The cap invariant must hold after any interleaving of deposits,
// allocations, and settlements.
func TestAllocationInvariant(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		pool, err := NewPool(Config{
			Owner:                "owner",
			Operator:             "operator",
			MaxAllocationPercent: rapid.Int64Range(0, 100).Draw(t, "pct"),
			MaxPerChannel:        rapid.Int64Range(0, 500).Draw(t, "per_channel"),
		}, zap.NewNop())
		require.NoError(t, err)

		type openAlloc struct {
			id     string
			amount int64
		}
		var open []openAlloc
		next := 0

		steps := rapid.IntRange(1, 60).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			switch rapid.IntRange(0, 2).Draw(t, "op") {
			case 0:
				_, _ = pool.Deposit("depositor", rapid.Int64Range(1, 1000).Draw(t, "amount"))
			case 1:
				id := fmt.Sprintf("ch-%d", next)
				next++
				amount := rapid.Int64Range(1, 1000).Draw(t, "alloc")
				if err := pool.Allocate("operator", id, amount); err == nil {
					open = append(open, openAlloc{id: id, amount: amount})
				}
			case 2:
				if len(open) > 0 {
					head := open[0]
					returned := rapid.Int64Range(0, 2*head.amount).Draw(t, "returned")
					pnl, err := pool.Settle("operator", head.id, returned)
					require.NoError(t, err)
					require.Equal(t, returned-head.amount, pnl)
					open = open[1:]
				}
			}

			status := pool.Snapshot()
			require.LessOrEqual(t, status.TotalAllocated,
				status.Assets*status.MaxAllocationPercent/100)

			var sum int64
			for _, a := range open {
				sum += a.amount
			}
			require.Equal(t, sum, status.TotalAllocated)
		}
	})
}
