package clearing

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/clearstake/clearstake/internal/domain"
)

// Wire methods of the clearing-network protocol.
const (
	MethodAuthRequest      = "auth_request"
	MethodAuthChallenge    = "auth_challenge"
	MethodAuthVerify       = "auth_verify"
	MethodCreateAppSession = "create_app_session"
	MethodCloseAppSession  = "close_app_session"
	MethodGetLedgerBalance = "get_ledger_balances"
	MethodGetChannels      = "get_channels"
	MethodGetAppSessions   = "get_app_sessions"
	MethodGetConfig        = "get_config"
	MethodGetAssets        = "get_assets"
	MethodError            = "error"
)

// Frame is one request or response payload. On the wire it is the JSON
// array [id, method, params, timestamp]; the struct form exists only for
// Go callers.
type Frame struct {
	ID        uint64
	Method    string
	Params    json.RawMessage
	Timestamp uint64
}

// MarshalJSON encodes the frame as the 4-element wire array.
func (f Frame) MarshalJSON() ([]byte, error) {
	params := f.Params
	if params == nil {
		params = json.RawMessage(`{}`)
	}
	return json.Marshal([]interface{}{f.ID, f.Method, params, f.Timestamp})
}

// UnmarshalJSON decodes the 4-element wire array.
func (f *Frame) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return &domain.ProtocolError{Reason: fmt.Sprintf("frame is not an array: %v", err)}
	}
	if len(parts) != 4 {
		return &domain.ProtocolError{Reason: fmt.Sprintf("frame has %d elements, want 4", len(parts))}
	}
	if err := json.Unmarshal(parts[0], &f.ID); err != nil {
		return &domain.ProtocolError{Reason: "frame id is not an integer"}
	}
	if err := json.Unmarshal(parts[1], &f.Method); err != nil {
		return &domain.ProtocolError{Reason: "frame method is not a string"}
	}
	f.Params = parts[2]
	if err := json.Unmarshal(parts[3], &f.Timestamp); err != nil {
		return &domain.ProtocolError{Reason: "frame timestamp is not an integer"}
	}
	return nil
}

// PayloadBytes returns the canonical bytes signatures are computed over:
// the serialized wire array itself.
func (f Frame) PayloadBytes() ([]byte, error) {
	return f.MarshalJSON()
}

// Message is a full wire message: exactly one of Req or Res, plus the
// signatures over its payload.
type Message struct {
	Req *Frame   `json:"req,omitempty"`
	Res *Frame   `json:"res,omitempty"`
	Sig []string `json:"sig,omitempty"`
}

// NewRequest builds a request frame with the current timestamp.
func NewRequest(id uint64, method string, params interface{}) (*Message, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s params: %w", method, err)
	}
	return &Message{
		Req: &Frame{
			ID:        id,
			Method:    method,
			Params:    raw,
			Timestamp: uint64(time.Now().UnixMilli()),
		},
	}, nil
}

// ErrorParams is the params shape of an "error" response.
type ErrorParams struct {
	Error string `json:"error"`
}

// ResultError extracts the service error from a response frame, or nil if
// the response is not an error.
func ResultError(res *Frame) error {
	if res.Method != MethodError {
		return nil
	}
	var p ErrorParams
	if err := json.Unmarshal(res.Params, &p); err != nil {
		return &domain.ProtocolError{Method: MethodError, Reason: "malformed error params"}
	}
	return &domain.ProtocolError{Method: MethodError, Reason: p.Error}
}
