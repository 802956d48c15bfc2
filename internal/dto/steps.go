package dto

import (
	"encoding/json"

	"github.com/google/uuid"
)

// TriplesRequest is one triples step. SessionID may be omitted on step 1 to
// open a new session. Commitment is the client's own triple commitment and
// is only read on the last step.
type TriplesRequest struct {
	WalletID   uuid.UUID       `json:"wallet_id"`
	SessionID  *uuid.UUID      `json:"session_id,omitempty"`
	Messages   json.RawMessage `json:"messages"`
	Commitment string          `json:"commitment,omitempty"`
}

// PresignRequest is one presign step. BigR is only read on the last step.
type PresignRequest struct {
	WalletID  uuid.UUID       `json:"wallet_id"`
	SessionID uuid.UUID       `json:"session_id"`
	Messages  json.RawMessage `json:"messages"`
	BigR      string          `json:"big_r,omitempty"`
}

// StepResponse is returned by every ceremony step.
type StepResponse struct {
	SessionID   uuid.UUID       `json:"session_id"`
	StageType   string          `json:"stage_type"`
	StageStatus string          `json:"stage_status"`
	Messages    json.RawMessage `json:"messages,omitempty"`
	Commitment  string          `json:"commitment,omitempty"`
	BigR        string          `json:"big_r,omitempty"`
	S           string          `json:"s,omitempty"`
}

// CreateSessionRequest opens a session ahead of triples step 1.
type CreateSessionRequest struct {
	WalletID uuid.UUID `json:"wallet_id"`
}

// AbortSessionRequest abandons an in-progress session.
type AbortSessionRequest struct {
	WalletID  uuid.UUID `json:"wallet_id"`
	SessionID uuid.UUID `json:"session_id"`
}

type SessionResponse struct {
	SessionID    uuid.UUID `json:"session_id"`
	WalletID     uuid.UUID `json:"wallet_id"`
	SessionState string    `json:"session_state"`
}
