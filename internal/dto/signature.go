package dto

import (
	"encoding/json"

	"github.com/google/uuid"
)

// SignRequest is one sign step. MessageHash is read on step 1; BigR and S are
// the client's combined signature and are read on step 2.
type SignRequest struct {
	WalletID    uuid.UUID       `json:"wallet_id"`
	SessionID   uuid.UUID       `json:"session_id"`
	Messages    json.RawMessage `json:"messages"`
	MessageHash string          `json:"message_hash,omitempty"`
	BigR        string          `json:"big_r,omitempty"`
	S           string          `json:"s,omitempty"`
}
