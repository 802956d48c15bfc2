package models

import (
	"github.com/google/uuid"
)

// KeyShareNode is an externally operated node holding fragment shares.
type KeyShareNode struct {
	ID       uuid.UUID `gorm:"type:uuid;primary_key;" json:"nodeId"`
	Name     string    `gorm:"type:varchar(100);uniqueIndex" json:"name"`
	Endpoint string    `gorm:"type:varchar(255)" json:"endpoint"`
	Active   bool      `gorm:"index" json:"active"`
}

// KeyShareNodeMeta is the single row of shared node metadata.
type KeyShareNodeMeta struct {
	ID           int `gorm:"primaryKey;autoIncrement:false"`
	SSSThreshold int `json:"sssThreshold"`
}

// WalletKSNode links a wallet to a node that holds a share of its fragment.
type WalletKSNode struct {
	WalletID uuid.UUID    `gorm:"type:uuid;primaryKey" json:"walletId"`
	NodeID   uuid.UUID    `gorm:"type:uuid;primaryKey;index" json:"nodeId"`
	Node     KeyShareNode `gorm:"foreignKey:NodeID;references:ID" json:"-"`
}

// TableName keeps the historical table name.
func (WalletKSNode) TableName() string { return "wallet_ks_nodes" }
