package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TssSession is one signing-material flow of a wallet.
type TssSession struct {
	ID           uuid.UUID `gorm:"type:uuid;primary_key;" json:"sessionId"`
	WalletID     uuid.UUID `gorm:"type:uuid;index" json:"walletId"`
	CustomerID   string    `gorm:"type:varchar(64);index" json:"customerId"`
	SessionState string    `gorm:"type:varchar(16)" json:"sessionState"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TssStage is the progress of one ceremony inside a session.
type TssStage struct {
	ID          uuid.UUID       `gorm:"type:uuid;primary_key;" json:"stageId"`
	SessionID   uuid.UUID       `gorm:"type:uuid;uniqueIndex:idx_tss_stages_session_type" json:"sessionId"`
	StageType   string          `gorm:"type:varchar(16);uniqueIndex:idx_tss_stages_session_type" json:"stageType"`
	StageStatus string          `gorm:"type:varchar(16)" json:"stageStatus"`
	StageData   json.RawMessage `gorm:"type:jsonb" json:"-"`
	Session     TssSession      `gorm:"foreignKey:SessionID;references:ID" json:"-"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
