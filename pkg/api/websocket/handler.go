package websocket

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/clearstake/clearstake/internal/application/orchestrator"
	"github.com/clearstake/clearstake/internal/domain"
	"github.com/clearstake/clearstake/pkg/adapters/clearing"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client message types.
const (
	msgCreateSession = "create_session"
	msgPlaceBet      = "place_bet"
	msgReveal        = "reveal"
	msgCashout       = "cashout"
	msgCloseSession  = "close_session"
)

// Server message types.
const (
	msgSessionCreated = "session_created"
	msgBetAccepted    = "bet_accepted"
	msgRoundResult    = "round_result"
	msgCashoutResult  = "cashout_result"
	msgSessionClosed  = "session_closed"
	msgError          = "error"
)

// clientMessage is the envelope for every player request.
type clientMessage struct {
	Type      string `json:"type"`
	Player    string `json:"player,omitempty"`
	Game      string `json:"game,omitempty"`
	Deposit   int64  `json:"deposit,omitempty"`
	MaxRounds uint64 `json:"max_rounds,omitempty"`

	// SessionKey is the hex private key the player delegates for this
	// session. It co-signs the channel open and nothing else.
	SessionKey string `json:"session_key,omitempty"`

	SessionID   string          `json:"session_id,omitempty"`
	RoundID     string          `json:"round_id,omitempty"`
	Bet         int64           `json:"bet,omitempty"`
	Commitment  string          `json:"commitment,omitempty"`
	Choice      json.RawMessage `json:"choice,omitempty"`
	ClientNonce string          `json:"client_nonce,omitempty"`
}

// serverMessage is the envelope for every reply.
type serverMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
	Code    string      `json:"code,omitempty"`
	Message string      `json:"message,omitempty"`
}

// Handler speaks the player protocol: one duplex connection per client,
// requests processed in arrival order.
type Handler struct {
	manager *orchestrator.Manager
	logger  *zap.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(manager *orchestrator.Manager, logger *zap.Logger) *Handler {
	return &Handler{
		manager: manager,
		logger:  logger,
	}
}

// HandleSession upgrades the connection and serves the player protocol.
func (h *Handler) HandleSession(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	h.logger.Info("player connection established",
		zap.String("client", c.ClientIP()))

	var writeMu sync.Mutex
	send := func(msg serverMessage) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := conn.WriteJSON(msg); err != nil {
			h.logger.Warn("failed to write message", zap.Error(err))
		}
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn("player connection error", zap.Error(err))
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			send(errMessage("INVALID_MESSAGE", "malformed JSON message"))
			continue
		}

		h.dispatch(c, msg, send)
	}
}

// dispatch routes one client message to the session manager.
func (h *Handler) dispatch(c *gin.Context, msg clientMessage, send func(serverMessage)) {
	ctx := c.Request.Context()

	switch msg.Type {
	case msgCreateSession:
		signer, err := clearing.NewSignerFromHex(msg.SessionKey)
		if err != nil {
			send(errMessage("INVALID_SESSION_KEY", "session key must be a hex secp256k1 private key"))
			return
		}
		session, err := h.manager.OpenSession(ctx, orchestrator.OpenRequest{
			Player:       msg.Player,
			Game:         msg.Game,
			Deposit:      msg.Deposit,
			MaxRounds:    msg.MaxRounds,
			PlayerSigner: signer,
		})
		if err != nil {
			send(h.errorFor("OPEN_FAILED", err))
			return
		}
		send(serverMessage{Type: msgSessionCreated, Payload: session})

	case msgPlaceBet:
		round, err := h.manager.PlaceRound(ctx, msg.SessionID, msg.Bet, msg.Commitment)
		if err != nil {
			send(h.errorFor("BET_REJECTED", err))
			return
		}
		send(serverMessage{Type: msgBetAccepted, Payload: round})

	case msgReveal:
		round, err := h.manager.Reveal(ctx, msg.SessionID, msg.RoundID, msg.Choice, msg.ClientNonce)
		if err != nil {
			send(h.errorFor("REVEAL_REJECTED", err))
			return
		}
		send(serverMessage{Type: msgRoundResult, Payload: round})

	case msgCashout:
		session, err := h.manager.CloseSession(ctx, msg.SessionID)
		if err != nil {
			send(h.errorFor("CASHOUT_FAILED", err))
			return
		}
		send(serverMessage{Type: msgCashoutResult, Payload: session})

	case msgCloseSession:
		session, err := h.manager.CloseSession(ctx, msg.SessionID)
		if err != nil {
			send(h.errorFor("CLOSE_FAILED", err))
			return
		}
		send(serverMessage{Type: msgSessionClosed, Payload: session})

	default:
		send(errMessage("UNKNOWN_TYPE", "unknown message type "+msg.Type))
	}
}

// errorFor maps manager errors onto protocol error codes.
func (h *Handler) errorFor(fallback string, err error) serverMessage {
	var (
		phaseErr *domain.PhaseMismatchError
		protoErr *domain.ProtocolError
	)

	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		return errMessage("SESSION_NOT_FOUND", err.Error())
	case errors.Is(err, domain.ErrRoundInFlight):
		return errMessage("ROUND_IN_FLIGHT", err.Error())
	case errors.Is(err, domain.ErrCommitmentMismatch):
		return errMessage("COMMITMENT_MISMATCH", err.Error())
	case errors.Is(err, domain.ErrInsufficientLiquidity):
		return errMessage("INSUFFICIENT_LIQUIDITY", err.Error())
	case errors.As(err, &phaseErr):
		return errMessage("WRONG_PHASE", err.Error())
	case errors.As(err, &protoErr):
		return errMessage("PROTOCOL_ERROR", err.Error())
	default:
		return errMessage(fallback, err.Error())
	}
}

func errMessage(code, message string) serverMessage {
	return serverMessage{Type: msgError, Code: code, Message: message}
}
