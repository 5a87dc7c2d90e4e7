package liquidity

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/clearstake/clearstake/internal/domain"
)

// Allocation records pooled capital drawn by one open channel.
type Allocation struct {
	ChannelID string    `json:"channel_id"`
	Amount    int64     `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}

// Status is a point-in-time snapshot of the pool.
type Status struct {
	Assets               int64   `json:"assets"`
	TotalShares          int64   `json:"total_shares"`
	TotalAllocated       int64   `json:"total_allocated"`
	MaxAllocationPercent int64   `json:"max_allocation_percent"`
	MaxPerChannel        int64   `json:"max_per_channel"`
	OpenChannels         int     `json:"open_channels"`
	Utilization          float64 `json:"utilization"`
}

// Config holds the pool's initial caps and roles.
type Config struct {
	Owner                string
	Operator             string
	MaxAllocationPercent int64
	MaxPerChannel        int64
}

// Pool tracks pooled third-party capital, per-channel allocation caps, and
// settlement. All mutations are serialized under one mutex so the cap
// invariant holds at every observable instant: the sum of open-channel
// allocations never exceeds assets * maxAllocationPercent.
type Pool struct {
	mu sync.Mutex

	assets      int64
	totalShares int64
	shares      map[string]int64

	allocations    map[string]*Allocation
	totalAllocated int64

	maxAllocationPercent int64
	maxPerChannel        int64

	owner    string
	operator string

	logger *zap.Logger
}

// NewPool creates a pool with the given caps and roles.
func NewPool(cfg Config, logger *zap.Logger) (*Pool, error) {
	if cfg.Owner == "" {
		return nil, &domain.ConfigurationError{Field: "pool owner"}
	}
	if cfg.MaxAllocationPercent < 0 || cfg.MaxAllocationPercent > 100 {
		return nil, fmt.Errorf("max allocation percent must be in [0,100], got %d", cfg.MaxAllocationPercent)
	}

	operator := cfg.Operator
	if operator == "" {
		operator = cfg.Owner
	}

	return &Pool{
		shares:               make(map[string]int64),
		allocations:          make(map[string]*Allocation),
		maxAllocationPercent: cfg.MaxAllocationPercent,
		maxPerChannel:        cfg.MaxPerChannel,
		owner:                cfg.Owner,
		operator:             operator,
		logger:               logger,
	}, nil
}

// Deposit adds capital from a passive depositor and mints shares at the
// current share price.
func (p *Pool) Deposit(depositor string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("deposit must be positive, got %d", amount)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var minted int64
	if p.totalShares == 0 || p.assets == 0 {
		minted = amount
	} else {
		minted = amount * p.totalShares / p.assets
	}
	if minted <= 0 {
		return 0, fmt.Errorf("deposit of %d mints no shares", amount)
	}

	p.assets += amount
	p.totalShares += minted
	p.shares[depositor] += minted

	p.logger.Info("pool deposit",
		zap.String("depositor", depositor),
		zap.Int64("amount", amount),
		zap.Int64("shares", minted))

	return minted, nil
}

// Redeem burns shares for the depositor's proportional slice of unallocated
// assets.
func (p *Pool) Redeem(depositor string, shares int64) (int64, error) {
	if shares <= 0 {
		return 0, fmt.Errorf("shares must be positive, got %d", shares)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	held := p.shares[depositor]
	if shares > held {
		return 0, fmt.Errorf("depositor %s holds %d shares, requested %d", depositor, held, shares)
	}

	amount := shares * p.assets / p.totalShares
	if amount > p.assets-p.totalAllocated {
		return 0, fmt.Errorf("%w: %d requested, %d unallocated",
			domain.ErrInsufficientLiquidity, amount, p.assets-p.totalAllocated)
	}

	p.shares[depositor] -= shares
	if p.shares[depositor] == 0 {
		delete(p.shares, depositor)
	}
	p.totalShares -= shares
	p.assets -= amount

	p.logger.Info("pool redemption",
		zap.String("depositor", depositor),
		zap.Int64("shares", shares),
		zap.Int64("amount", amount))

	return amount, nil
}

// Allocate reserves pooled capital for a channel. Operator only. Fails
// with ErrInsufficientLiquidity when the amount would breach the
// percentage cap or the per-channel cap, and rejects channels that are
// already allocated while open.
func (p *Pool) Allocate(actor, channelID string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("allocation must be positive, got %d", amount)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if actor != p.operator {
		return fmt.Errorf("allocate requires the operator role, actor %s", actor)
	}
	if _, exists := p.allocations[channelID]; exists {
		return fmt.Errorf("channel %s is already allocated", channelID)
	}

	cap := p.assets * p.maxAllocationPercent / 100
	if amount > cap-p.totalAllocated {
		return fmt.Errorf("%w: %d requested, %d available under %d%% cap",
			domain.ErrInsufficientLiquidity, amount, cap-p.totalAllocated, p.maxAllocationPercent)
	}
	if p.maxPerChannel > 0 && amount > p.maxPerChannel {
		return fmt.Errorf("%w: %d exceeds per-channel cap %d",
			domain.ErrInsufficientLiquidity, amount, p.maxPerChannel)
	}

	p.allocations[channelID] = &Allocation{
		ChannelID: channelID,
		Amount:    amount,
		CreatedAt: time.Now(),
	}
	p.totalAllocated += amount

	p.logger.Info("channel allocation",
		zap.String("channel_id", channelID),
		zap.Int64("amount", amount),
		zap.Int64("total_allocated", p.totalAllocated))

	return nil
}

// Settle closes a channel's allocation. Operator only. The allocation is
// zeroed and pool assets move by exactly (returned - allocated): positive
// when the house won, negative when it lost.
func (p *Pool) Settle(actor, channelID string, returned int64) (int64, error) {
	if returned < 0 {
		return 0, fmt.Errorf("returned amount cannot be negative, got %d", returned)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if actor != p.operator {
		return 0, fmt.Errorf("settle requires the operator role, actor %s", actor)
	}

	alloc, exists := p.allocations[channelID]
	if !exists {
		return 0, fmt.Errorf("unknown channel %s", channelID)
	}

	pnl := returned - alloc.Amount
	delete(p.allocations, channelID)
	p.totalAllocated -= alloc.Amount
	p.assets += pnl

	p.logger.Info("channel settlement",
		zap.String("channel_id", channelID),
		zap.Int64("allocated", alloc.Amount),
		zap.Int64("returned", returned),
		zap.Int64("pnl", pnl))

	return pnl, nil
}

// Allocated returns the open allocation for a channel, if any.
func (p *Pool) Allocated(channelID string) (int64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	alloc, ok := p.allocations[channelID]
	if !ok {
		return 0, false
	}
	return alloc.Amount, true
}

// SetOperator changes the operator role. Owner only.
func (p *Pool) SetOperator(actor, operator string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if actor != p.owner {
		return fmt.Errorf("set operator requires the owner role, actor %s", actor)
	}
	if operator == "" {
		return fmt.Errorf("operator cannot be empty")
	}
	p.operator = operator
	return nil
}

// SetMaxAllocationPercent changes the percentage cap, bounded to [0,100].
// Owner only.
func (p *Pool) SetMaxAllocationPercent(actor string, pct int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if actor != p.owner {
		return fmt.Errorf("set allocation percent requires the owner role, actor %s", actor)
	}
	if pct < 0 || pct > 100 {
		return fmt.Errorf("allocation percent must be in [0,100], got %d", pct)
	}
	p.maxAllocationPercent = pct
	return nil
}

// SetMaxPerChannel changes the absolute per-channel cap. Owner only.
func (p *Pool) SetMaxPerChannel(actor string, amount int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if actor != p.owner {
		return fmt.Errorf("set per-channel cap requires the owner role, actor %s", actor)
	}
	if amount < 0 {
		return fmt.Errorf("per-channel cap cannot be negative, got %d", amount)
	}
	p.maxPerChannel = amount
	return nil
}

// Snapshot returns the pool's current status.
func (p *Pool) Snapshot() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	var utilization float64
	if cap := p.assets * p.maxAllocationPercent / 100; cap > 0 {
		utilization = float64(p.totalAllocated) / float64(cap)
	}

	return Status{
		Assets:               p.assets,
		TotalShares:          p.totalShares,
		TotalAllocated:       p.totalAllocated,
		MaxAllocationPercent: p.maxAllocationPercent,
		MaxPerChannel:        p.maxPerChannel,
		OpenChannels:         len(p.allocations),
		Utilization:          utilization,
	}
}
