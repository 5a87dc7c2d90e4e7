// Package rpc implements the execution-ledger client over JSON-RPC/HTTP.
package rpc

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Registry and vault methods exposed by the execution-ledger gateway.
const (
	methodOpenSession       = "registry_openSession"
	methodVerifySession     = "registry_verifySession"
	methodSessionExists     = "registry_sessionExists"
	methodGetSessionHash    = "registry_getSessionHash"
	methodAllocateToChannel = "vault_allocateToChannel"
	methodSettleChannel     = "vault_settleChannel"
)

// Client talks JSON-RPC 2.0 to the execution-ledger gateway.
type Client struct {
	endpoint string
	http     *http.Client
	logger   *zap.Logger
	nextID   uint64
}

// NewClient creates a ledger client for the given endpoint.
func NewClient(endpoint string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (c *Client) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      atomic.AddUint64(&c.nextID, 1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s failed: %w", method, err)
	}
	defer resp.Body.Close()

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("%s rejected: %s (code %d)", method, rpcResp.Error.Message, rpcResp.Error.Code)
	}
	if result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("failed to decode %s result: %w", method, err)
		}
	}
	return nil
}

// OpenSession records a session hash for a player on chain.
func (c *Client) OpenSession(ctx context.Context, sessionHash [32]byte, player string) (string, error) {
	var txRef string
	err := c.call(ctx, methodOpenSession,
		[]interface{}{"0x" + hex.EncodeToString(sessionHash[:]), player}, &txRef)
	return txRef, err
}

// VerifySession submits the revealed seed for on-chain verification.
func (c *Client) VerifySession(ctx context.Context, seed [32]byte, player string) (string, error) {
	var txRef string
	err := c.call(ctx, methodVerifySession,
		[]interface{}{"0x" + hex.EncodeToString(seed[:]), player}, &txRef)
	return txRef, err
}

// SessionExists reports whether a player has an open anchored session.
func (c *Client) SessionExists(ctx context.Context, player string) (bool, error) {
	var exists bool
	err := c.call(ctx, methodSessionExists, []interface{}{player}, &exists)
	return exists, err
}

// GetSessionHash returns a player's anchored session hash.
func (c *Client) GetSessionHash(ctx context.Context, player string) ([32]byte, error) {
	var hashHex string
	if err := c.call(ctx, methodGetSessionHash, []interface{}{player}, &hashHex); err != nil {
		return [32]byte{}, err
	}

	raw, err := hex.DecodeString(strings.TrimPrefix(hashHex, "0x"))
	if err != nil || len(raw) != 32 {
		return [32]byte{}, fmt.Errorf("gateway returned malformed session hash %q", hashHex)
	}
	var out [32]byte
	copy(out[:], raw)
	return out, nil
}

// AllocateToChannel moves vault funds to a clearing channel.
func (c *Client) AllocateToChannel(ctx context.Context, channelID string, amount int64) (string, error) {
	var txRef string
	err := c.call(ctx, methodAllocateToChannel, []interface{}{channelID, amount}, &txRef)
	if err == nil {
		c.logger.Info("vault allocation submitted",
			zap.String("channel_id", channelID),
			zap.Int64("amount", amount),
			zap.String("tx", txRef))
	}
	return txRef, err
}

// SettleChannel returns channel funds to the vault.
func (c *Client) SettleChannel(ctx context.Context, channelID string, returned int64) (string, error) {
	var txRef string
	err := c.call(ctx, methodSettleChannel, []interface{}{channelID, returned}, &txRef)
	if err == nil {
		c.logger.Info("vault settlement submitted",
			zap.String("channel_id", channelID),
			zap.Int64("returned", returned),
			zap.String("tx", txRef))
	}
	return txRef, err
}
