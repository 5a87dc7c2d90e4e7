package clearing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clearstake/clearstake/internal/domain"
	"github.com/clearstake/clearstake/internal/ports"
)

// fakeService is an in-process clearing service covering the handshake and
// channel methods the client exercises.
type fakeService struct {
	t *testing.T

	mu        sync.Mutex
	identity  string // registered durable address
	balances  map[string]int64
	sessions  map[string][]ports.Allocation
	challenge string

	// rejectAuth makes the service refuse every challenge signature.
	rejectAuth bool
}

func newFakeService(t *testing.T, identity string) *fakeService {
	return &fakeService{
		t:        t,
		identity: identity,
		balances: make(map[string]int64),
		sessions: make(map[string][]ports.Allocation),
	}
}

func (s *fakeService) serve(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	ws, err := upgrader.Upgrade(w, r, nil)
	require.NoError(s.t, err)
	defer ws.Close()

	for {
		var msg Message
		if err := ws.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Req == nil {
			continue
		}
		resp := s.handle(&msg)
		if err := ws.WriteJSON(resp); err != nil {
			return
		}
	}
}

func (s *fakeService) handle(msg *Message) *Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	req := msg.Req
	switch req.Method {
	case MethodAuthRequest:
		s.challenge = uuid.New().String()
		return respond(req.ID, MethodAuthChallenge, authChallengeParams{ChallengeMessage: s.challenge})

	case MethodAuthVerify:
		var p authVerifyParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return respondError(req.ID, "malformed auth_verify")
		}
		if s.rejectAuth || p.Challenge != s.challenge {
			return respondError(req.ID, "challenge mismatch")
		}
		if err := VerifySignature([]byte(p.Challenge), p.Signature, s.identity); err != nil {
			return respondError(req.ID, "bad challenge signature")
		}
		return respond(req.ID, MethodAuthVerify, authResultParams{Success: true, Address: s.identity})

	case MethodGetLedgerBalance:
		result := ledgerBalancesResult{}
		for asset, amount := range s.balances {
			result.LedgerBalances = append(result.LedgerBalances, struct {
				Asset  string `json:"asset"`
				Amount int64  `json:"amount"`
			}{asset, amount})
		}
		return respond(req.ID, MethodGetLedgerBalance, result)

	case MethodCreateAppSession:
		var p createAppSessionParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return respondError(req.ID, "malformed create_app_session")
		}
		// All participants must have signed the identical payload, in
		// participant order.
		if len(msg.Sig) != len(p.Definition.Participants) {
			return respondError(req.ID, "missing participant signatures")
		}
		payload, err := req.PayloadBytes()
		if err != nil {
			return respondError(req.ID, "unsignable payload")
		}
		for i, participant := range p.Definition.Participants {
			if err := VerifySignature(payload, msg.Sig[i], participant); err != nil {
				return respondError(req.ID, "signature does not match participant")
			}
		}
		id := uuid.New().String()
		s.sessions[id] = p.Allocations
		return respond(req.ID, MethodCreateAppSession, createAppSessionResult{AppSessionID: id, Status: "open"})

	case MethodCloseAppSession:
		var p closeAppSessionParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return respondError(req.ID, "malformed close_app_session")
		}
		if _, ok := s.sessions[p.AppSessionID]; !ok {
			return respondError(req.ID, "unknown app session")
		}
		delete(s.sessions, p.AppSessionID)
		return respond(req.ID, MethodCloseAppSession, map[string]string{"status": "closed"})

	default:
		return respondError(req.ID, "unknown method")
	}
}

func (s *fakeService) setBalance(asset string, amount int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[asset] = amount
}

func respond(id uint64, method string, result interface{}) *Message {
	raw, _ := json.Marshal(result)
	return &Message{Res: &Frame{
		ID:        id,
		Method:    method,
		Params:    raw,
		Timestamp: uint64(time.Now().UnixMilli()),
	}}
}

func respondError(id uint64, reason string) *Message {
	raw, _ := json.Marshal(ErrorParams{Error: reason})
	return &Message{Res: &Frame{
		ID:        id,
		Method:    MethodError,
		Params:    raw,
		Timestamp: uint64(time.Now().UnixMilli()),
	}}
}

// topUpLedger is an execution-ledger stub whose vault credits the clearing
// balance when AllocateToChannel lands.
type topUpLedger struct {
	service *fakeService
	asset   string
	target  int64

	mu    sync.Mutex
	calls int
}

func (l *topUpLedger) OpenSession(context.Context, [32]byte, string) (string, error) {
	return "", nil
}
func (l *topUpLedger) VerifySession(context.Context, [32]byte, string) (string, error) {
	return "", nil
}
func (l *topUpLedger) SessionExists(context.Context, string) (bool, error) { return false, nil }
func (l *topUpLedger) GetSessionHash(context.Context, string) ([32]byte, error) {
	return [32]byte{}, nil
}
func (l *topUpLedger) SettleChannel(context.Context, string, int64) (string, error) {
	return "", nil
}

func (l *topUpLedger) AllocateToChannel(_ context.Context, _ string, amount int64) (string, error) {
	l.mu.Lock()
	l.calls++
	l.mu.Unlock()
	l.service.setBalance(l.asset, l.target)
	return "0xtopup", nil
}

func newTestClient(t *testing.T, svc *fakeService, ledger ports.ExecutionLedger) (*Client, *Signer) {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(svc.serve))
	t.Cleanup(server.Close)

	durable, err := NewSigner()
	require.NoError(t, err)
	svc.identity = durable.Address()

	client, err := NewClient(Config{
		URL:                 "ws" + strings.TrimPrefix(server.URL, "http"),
		AppName:             "clearstake",
		Scope:               "app.create app.close",
		Asset:               "usdc",
		AuthTimeout:         2 * time.Second,
		OpenTimeout:         2 * time.Second,
		CoSignOpenTimeout:   5 * time.Second,
		BalancePollInterval: 10 * time.Millisecond,
		BalancePollAttempts: 5,
	}, durable, ledger, zap.NewNop())
	require.NoError(t, err)

	return client, durable
}

func TestAuthenticateHandshake(t *testing.T) {
	svc := newFakeService(t, "")
	client, _ := newTestClient(t, svc, nil)

	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()

	signer, err := client.sessionSigner()
	require.NoError(t, err)
	assert.NotEqual(t, client.Address(), signer.Address())
}

func TestAuthenticateRejected(t *testing.T) {
	svc := newFakeService(t, "")
	svc.rejectAuth = true
	client, _ := newTestClient(t, svc, nil)

	err := client.Connect(context.Background())
	require.Error(t, err)

	var authErr *domain.AuthenticationError
	assert.ErrorAs(t, err, &authErr)
}

func TestOpenChannelMultiPartySignatures(t *testing.T) {
	svc := newFakeService(t, "")
	svc.setBalance("usdc", 1_000)
	client, _ := newTestClient(t, svc, nil)

	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()

	playerKey, err := NewSigner()
	require.NoError(t, err)

	channelID, err := client.OpenChannel(context.Background(), ports.ChannelOpenRequest{
		RequestID:    uuid.New().String(),
		Player:       playerKey.Address(),
		Asset:        "usdc",
		PlayerAmount: 100,
		PoolAmount:   100,
		PlayerSigner: playerKey,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, channelID)

	// Close with final allocations.
	err = client.CloseChannel(context.Background(), ports.ChannelCloseRequest{
		ChannelID: channelID,
		FinalAllocations: []ports.Allocation{
			{Participant: playerKey.Address(), Asset: "usdc", Amount: 150},
			{Participant: client.Address(), Asset: "usdc", Amount: 50},
		},
	})
	require.NoError(t, err)
}

func TestOpenChannelSingleSignatureRejected(t *testing.T) {
	svc := newFakeService(t, "")
	svc.setBalance("usdc", 1_000)
	client, _ := newTestClient(t, svc, nil)

	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()

	signer, err := client.sessionSigner()
	require.NoError(t, err)
	playerKey, err := NewSigner()
	require.NoError(t, err)

	// Hand-build a submission carrying only the platform signature.
	msg, err := NewRequest(client.conn.NextID(), MethodCreateAppSession, createAppSessionParams{
		RequestID: uuid.New().String(),
		Definition: channelDefinition{
			Application:  "clearstake",
			Participants: []string{playerKey.Address(), client.Address()},
			Weights:      []int64{0, 100},
			Quorum:       100,
		},
	})
	require.NoError(t, err)
	payload, err := msg.Req.PayloadBytes()
	require.NoError(t, err)
	sig, err := signer.Sign(payload)
	require.NoError(t, err)
	msg.Sig = []string{sig}

	_, err = client.conn.Call(context.Background(), msg, 2*time.Second)
	require.Error(t, err)

	var protoErr *domain.ProtocolError
	require.ErrorAs(t, err, &protoErr)
	assert.Contains(t, protoErr.Reason, "signatures")
}

func TestOpenChannelTopsUpAndPolls(t *testing.T) {
	svc := newFakeService(t, "")
	svc.setBalance("usdc", 10)

	ledger := &topUpLedger{service: svc, asset: "usdc", target: 500}
	client, _ := newTestClient(t, svc, ledger)

	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()

	playerKey, err := NewSigner()
	require.NoError(t, err)

	channelID, err := client.OpenChannel(context.Background(), ports.ChannelOpenRequest{
		RequestID:    uuid.New().String(),
		Player:       playerKey.Address(),
		Asset:        "usdc",
		PlayerAmount: 100,
		PoolAmount:   200,
		PlayerSigner: playerKey,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, channelID)
	assert.Equal(t, 1, ledger.calls)
}

func TestOpenChannelLedgerSyncTimeout(t *testing.T) {
	svc := newFakeService(t, "")
	svc.setBalance("usdc", 10)

	// Vault allocation lands but the clearing balance never catches up.
	ledger := &topUpLedger{service: svc, asset: "usdc", target: 10}
	client, _ := newTestClient(t, svc, ledger)

	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()

	playerKey, err := NewSigner()
	require.NoError(t, err)

	_, err = client.OpenChannel(context.Background(), ports.ChannelOpenRequest{
		RequestID:    uuid.New().String(),
		Player:       playerKey.Address(),
		Asset:        "usdc",
		PlayerAmount: 100,
		PoolAmount:   200,
		PlayerSigner: playerKey,
	})
	assert.ErrorIs(t, err, domain.ErrLedgerSyncTimeout)
}

func TestFrameWireShape(t *testing.T) {
	msg, err := NewRequest(7, MethodGetConfig, map[string]string{"k": "v"})
	require.NoError(t, err)

	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	// The request must serialize as the 4-element array form.
	var envelope struct {
		Req []json.RawMessage `json:"req"`
	}
	require.NoError(t, json.Unmarshal(raw, &envelope))
	require.Len(t, envelope.Req, 4)

	var decoded Message
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.NotNil(t, decoded.Req)
	assert.Equal(t, uint64(7), decoded.Req.ID)
	assert.Equal(t, MethodGetConfig, decoded.Req.Method)
}

func TestSignatureRoundTrip(t *testing.T) {
	signer, err := NewSigner()
	require.NoError(t, err)

	payload := []byte("challenge-xyz")
	sig, err := signer.Sign(payload)
	require.NoError(t, err)

	require.NoError(t, VerifySignature(payload, sig, signer.Address()))

	other, err := NewSigner()
	require.NoError(t, err)
	assert.Error(t, VerifySignature(payload, sig, other.Address()))
	assert.Error(t, VerifySignature([]byte("tampered"), sig, signer.Address()))
}
