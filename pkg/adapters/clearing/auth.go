package clearing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/clearstake/clearstake/internal/domain"
)

// Protocol timeouts and polling bounds.
const (
	defaultAuthTimeout         = 30 * time.Second
	defaultOpenTimeout         = 15 * time.Second
	defaultCoSignOpenTimeout   = 90 * time.Second
	defaultBalancePollInterval = 2 * time.Second
	defaultBalancePollAttempts = 20
)

type authRequestParams struct {
	Address    string `json:"address"`
	SessionKey string `json:"session_key"`
	AppName    string `json:"app_name"`
	Scope      string `json:"scope"`
	Expire     uint64 `json:"expire"`
}

type authChallengeParams struct {
	ChallengeMessage string `json:"challenge_message"`
}

type authVerifyParams struct {
	Challenge string `json:"challenge"`
	Signature string `json:"signature"`
}

type authResultParams struct {
	Success bool   `json:"success"`
	Address string `json:"address"`
}

// authenticate runs the three-step handshake on the current transport:
// announce the durable identity and a fresh ephemeral session key, sign
// the service's challenge with the durable key (never the ephemeral one),
// and confirm. On success the new ephemeral signer becomes the session
// signer for all channel traffic.
func (c *Client) authenticate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.AuthTimeout)
	defer cancel()

	ephemeral, err := NewSigner()
	if err != nil {
		return &domain.AuthenticationError{Stage: "session key", Err: err}
	}

	reqParams := authRequestParams{
		Address:    c.durable.Address(),
		SessionKey: ephemeral.PublicKeyHex(),
		AppName:    c.cfg.AppName,
		Scope:      c.cfg.Scope,
		Expire:     uint64(time.Now().Add(c.cfg.SessionTTL).Unix()),
	}

	res, err := c.call(ctx, MethodAuthRequest, reqParams, c.cfg.AuthTimeout, ephemeral)
	if err != nil {
		return &domain.AuthenticationError{Stage: MethodAuthRequest, Err: err}
	}
	if res.Method != MethodAuthChallenge {
		return &domain.AuthenticationError{
			Stage: MethodAuthRequest,
			Err:   &domain.ProtocolError{Method: res.Method, Reason: "expected auth_challenge"},
		}
	}

	var challenge authChallengeParams
	if err := json.Unmarshal(res.Params, &challenge); err != nil {
		return &domain.AuthenticationError{Stage: MethodAuthChallenge, Err: err}
	}
	if challenge.ChallengeMessage == "" {
		return &domain.AuthenticationError{
			Stage: MethodAuthChallenge,
			Err:   &domain.ProtocolError{Method: MethodAuthChallenge, Reason: "empty challenge"},
		}
	}

	// Only the durable key ever signs the challenge.
	sig, err := c.durable.Sign([]byte(challenge.ChallengeMessage))
	if err != nil {
		return &domain.AuthenticationError{Stage: MethodAuthVerify, Err: err}
	}

	res, err = c.call(ctx, MethodAuthVerify, authVerifyParams{
		Challenge: challenge.ChallengeMessage,
		Signature: sig,
	}, c.cfg.AuthTimeout, ephemeral)
	if err != nil {
		return &domain.AuthenticationError{Stage: MethodAuthVerify, Err: err}
	}

	var result authResultParams
	if err := json.Unmarshal(res.Params, &result); err != nil {
		return &domain.AuthenticationError{Stage: MethodAuthVerify, Err: err}
	}
	if !result.Success {
		return &domain.AuthenticationError{
			Stage: MethodAuthVerify,
			Err:   fmt.Errorf("service rejected the challenge signature"),
		}
	}

	c.mu.Lock()
	c.ephemeral = ephemeral
	c.mu.Unlock()

	c.logger.Info("authenticated with clearing service",
		zap.String("identity", c.durable.Address()),
		zap.String("session_key", ephemeral.Address()))

	return nil
}
