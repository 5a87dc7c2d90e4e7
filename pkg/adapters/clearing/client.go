package clearing

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/clearstake/clearstake/internal/domain"
	"github.com/clearstake/clearstake/internal/ports"
)

// Config holds clearing client configuration.
type Config struct {
	URL     string
	AppName string
	Scope   string
	Asset   string

	// SessionTTL bounds the ephemeral key's validity announced at auth.
	SessionTTL time.Duration

	AuthTimeout       time.Duration
	OpenTimeout       time.Duration
	CoSignOpenTimeout time.Duration

	BalancePollInterval time.Duration
	BalancePollAttempts int
}

func (c *Config) applyDefaults() {
	if c.SessionTTL == 0 {
		c.SessionTTL = time.Hour
	}
	if c.AuthTimeout == 0 {
		c.AuthTimeout = defaultAuthTimeout
	}
	if c.OpenTimeout == 0 {
		c.OpenTimeout = defaultOpenTimeout
	}
	if c.CoSignOpenTimeout == 0 {
		c.CoSignOpenTimeout = defaultCoSignOpenTimeout
	}
	if c.BalancePollInterval == 0 {
		c.BalancePollInterval = defaultBalancePollInterval
	}
	if c.BalancePollAttempts == 0 {
		c.BalancePollAttempts = defaultBalancePollAttempts
	}
}

// Client implements ports.ClearingNetwork over one authenticated duplex
// connection owned by the platform identity.
type Client struct {
	cfg     Config
	conn    *Conn
	durable *Signer
	ledger  ports.ExecutionLedger
	logger  *zap.Logger

	mu        sync.Mutex
	ephemeral *Signer

	// Concurrent open attempts for the same identity coalesce to one
	// in-flight attempt.
	openGroup singleflight.Group
}

// NewClient creates a clearing client for the given durable identity.
func NewClient(cfg Config, durable *Signer, ledger ports.ExecutionLedger, logger *zap.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, &domain.ConfigurationError{Field: "clearing URL"}
	}
	if durable == nil {
		return nil, &domain.ConfigurationError{Field: "clearing identity key"}
	}
	cfg.applyDefaults()

	c := &Client{
		cfg:     cfg,
		durable: durable,
		ledger:  ledger,
		logger:  logger,
	}
	c.conn = NewConn(cfg.URL, logger)
	c.conn.SetReconnectHook(c.authenticate)
	return c, nil
}

// Connect dials the service and authenticates.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.conn.Connect(ctx); err != nil {
		return err
	}
	if err := c.authenticate(ctx); err != nil {
		// Auth failure is fatal for this attempt; tear the transport down.
		_ = c.conn.Close()
		return err
	}
	return nil
}

// Close tears down the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Address returns the platform's durable identity address.
func (c *Client) Address() string {
	return c.durable.Address()
}

// call builds, signs, and sends one request.
func (c *Client) call(ctx context.Context, method string, params interface{}, timeout time.Duration, signer *Signer) (*Frame, error) {
	msg, err := NewRequest(c.conn.NextID(), method, params)
	if err != nil {
		return nil, err
	}

	if signer != nil {
		payload, err := msg.Req.PayloadBytes()
		if err != nil {
			return nil, err
		}
		sig, err := signer.Sign(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to sign %s: %w", method, err)
		}
		msg.Sig = []string{sig}
	}

	return c.conn.Call(ctx, msg, timeout)
}

func (c *Client) sessionSigner() (*Signer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ephemeral == nil {
		return nil, &domain.AuthenticationError{
			Stage: "session",
			Err:   fmt.Errorf("no authenticated session"),
		}
	}
	return c.ephemeral, nil
}

type channelDefinition struct {
	Application  string   `json:"application"`
	Participants []string `json:"participants"`
	Weights      []int64  `json:"weights"`
	Quorum       int64    `json:"quorum"`
	Nonce        uint64   `json:"nonce"`
}

type createAppSessionParams struct {
	RequestID   string             `json:"request_id"`
	Definition  channelDefinition  `json:"definition"`
	Allocations []ports.Allocation `json:"allocations"`
}

type createAppSessionResult struct {
	AppSessionID string `json:"app_session_id"`
	Status       string `json:"status"`
}

type closeAppSessionParams struct {
	AppSessionID string             `json:"app_session_id"`
	Allocations  []ports.Allocation `json:"allocations"`
}

// OpenChannel opens a multi-party app session. Every participant signs the
// identical open payload with its own ephemeral key; signatures are
// concatenated in participant order and the platform, finishing last,
// submits the fully-signed message once.
func (c *Client) OpenChannel(ctx context.Context, req ports.ChannelOpenRequest) (string, error) {
	id, err, _ := c.openGroup.Do(req.Player, func() (interface{}, error) {
		return c.openChannel(ctx, req)
	})
	if err != nil {
		return "", err
	}
	return id.(string), nil
}

func (c *Client) openChannel(ctx context.Context, req ports.ChannelOpenRequest) (string, error) {
	if req.PlayerSigner == nil {
		return "", &domain.ConfigurationError{Field: "player channel signer"}
	}

	signer, err := c.sessionSigner()
	if err != nil {
		return "", err
	}

	// The open needs the counterparty's signature too, so the overall
	// budget is the longer one.
	ctx, cancel := context.WithTimeout(ctx, c.cfg.CoSignOpenTimeout)
	defer cancel()

	if err := c.ensureLedgerBalance(ctx, req); err != nil {
		return "", err
	}

	platform := c.durable.Address()
	params := createAppSessionParams{
		RequestID: req.RequestID,
		Definition: channelDefinition{
			Application:  c.cfg.AppName,
			Participants: []string{req.PlayerSigner.Address(), platform},
			Weights:      []int64{0, 100},
			Quorum:       100,
			Nonce:        uint64(time.Now().UnixMilli()),
		},
		Allocations: []ports.Allocation{
			{Participant: req.Player, Asset: req.Asset, Amount: req.PlayerAmount},
			{Participant: platform, Asset: req.Asset, Amount: req.PoolAmount},
		},
	}

	msg, err := NewRequest(c.conn.NextID(), MethodCreateAppSession, params)
	if err != nil {
		return "", err
	}
	payload, err := msg.Req.PayloadBytes()
	if err != nil {
		return "", err
	}

	playerSig, err := req.PlayerSigner.SignPayload(ctx, payload)
	if err != nil {
		return "", fmt.Errorf("player co-signature failed: %w", err)
	}
	platformSig, err := signer.Sign(payload)
	if err != nil {
		return "", fmt.Errorf("failed to sign open payload: %w", err)
	}

	// Ordered to match the participant list.
	msg.Sig = []string{playerSig, platformSig}

	res, err := c.conn.Call(ctx, msg, c.cfg.OpenTimeout)
	if err != nil {
		return "", err
	}

	var result createAppSessionResult
	if err := json.Unmarshal(res.Params, &result); err != nil {
		return "", &domain.ProtocolError{Method: MethodCreateAppSession, Reason: "malformed result"}
	}
	if result.AppSessionID == "" {
		return "", &domain.ProtocolError{Method: MethodCreateAppSession, Reason: "missing app session id"}
	}

	c.logger.Info("channel opened",
		zap.String("app_session_id", result.AppSessionID),
		zap.String("player", req.Player),
		zap.Int64("player_amount", req.PlayerAmount),
		zap.Int64("pool_amount", req.PoolAmount))

	return result.AppSessionID, nil
}

// CloseChannel closes an app session with the final allocations. The
// platform holds close authority since the player may be offline.
func (c *Client) CloseChannel(ctx context.Context, req ports.ChannelCloseRequest) error {
	signer, err := c.sessionSigner()
	if err != nil {
		return err
	}

	msg, err := NewRequest(c.conn.NextID(), MethodCloseAppSession, closeAppSessionParams{
		AppSessionID: req.ChannelID,
		Allocations:  req.FinalAllocations,
	})
	if err != nil {
		return err
	}
	payload, err := msg.Req.PayloadBytes()
	if err != nil {
		return err
	}
	sig, err := signer.Sign(payload)
	if err != nil {
		return fmt.Errorf("failed to sign close payload: %w", err)
	}
	msg.Sig = []string{sig}

	if _, err := c.conn.Call(ctx, msg, c.cfg.OpenTimeout); err != nil {
		return err
	}

	c.logger.Info("channel closed", zap.String("app_session_id", req.ChannelID))
	return nil
}

type ledgerBalancesParams struct {
	Participant string `json:"participant"`
}

type ledgerBalancesResult struct {
	LedgerBalances []struct {
		Asset  string `json:"asset"`
		Amount int64  `json:"amount"`
	} `json:"ledger_balances"`
}

// LedgerBalance returns the platform's clearing balance for one asset.
func (c *Client) LedgerBalance(ctx context.Context, asset string) (int64, error) {
	signer, err := c.sessionSigner()
	if err != nil {
		return 0, err
	}

	res, err := c.call(ctx, MethodGetLedgerBalance,
		ledgerBalancesParams{Participant: c.durable.Address()},
		c.cfg.OpenTimeout, signer)
	if err != nil {
		return 0, err
	}

	var result ledgerBalancesResult
	if err := json.Unmarshal(res.Params, &result); err != nil {
		return 0, &domain.ProtocolError{Method: MethodGetLedgerBalance, Reason: "malformed result"}
	}
	for _, b := range result.LedgerBalances {
		if b.Asset == asset {
			return b.Amount, nil
		}
	}
	return 0, nil
}

// ensureLedgerBalance tops the platform's clearing balance up on chain
// when it cannot cover the pool allocation, then polls at a fixed interval
// until the ledger catches up or the attempt budget is spent.
func (c *Client) ensureLedgerBalance(ctx context.Context, req ports.ChannelOpenRequest) error {
	balance, err := c.LedgerBalance(ctx, req.Asset)
	if err != nil {
		return err
	}
	if balance >= req.PoolAmount {
		return nil
	}

	shortfall := req.PoolAmount - balance
	c.logger.Info("clearing balance below required allocation, topping up",
		zap.Int64("balance", balance),
		zap.Int64("required", req.PoolAmount),
		zap.Int64("shortfall", shortfall))

	if c.ledger == nil {
		return &domain.ConfigurationError{Field: "execution ledger"}
	}
	if _, err := c.ledger.AllocateToChannel(ctx, req.RequestID, shortfall); err != nil {
		return fmt.Errorf("on-chain top-up failed: %w", err)
	}

	ticker := time.NewTicker(c.cfg.BalancePollInterval)
	defer ticker.Stop()

	for attempt := 0; attempt < c.cfg.BalancePollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		balance, err = c.LedgerBalance(ctx, req.Asset)
		if err != nil {
			return err
		}
		if balance >= req.PoolAmount {
			return nil
		}
	}

	return fmt.Errorf("%w after %d attempts", domain.ErrLedgerSyncTimeout, c.cfg.BalancePollAttempts)
}
