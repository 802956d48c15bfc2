package models

import (
	"time"

	"github.com/google/uuid"

	"tss-coordinator/internal/curve"
)

// User is an end user of a customer.
type User struct {
	ID         uuid.UUID `gorm:"type:uuid;primary_key;" json:"userId"`
	CustomerID string    `gorm:"type:varchar(64);uniqueIndex:idx_users_identity" json:"customerId"`
	AuthType   string    `gorm:"type:varchar(32);uniqueIndex:idx_users_identity" json:"authType"`
	Identifier string    `gorm:"type:varchar(255);uniqueIndex:idx_users_identity" json:"userIdentifier"`
	Email      string    `gorm:"type:varchar(255)" json:"email"`
	Name       string    `gorm:"type:varchar(255)" json:"name"`
	Wallets    []Wallet  `gorm:"foreignKey:UserID;references:ID" json:"-"`
	CreatedAt  time.Time
}

// Wallet holds one threshold public key and the coordinator's sealed fragment.
// A public key is unique per curve and a user has one ACTIVE wallet per curve.
type Wallet struct {
	ID                   uuid.UUID   `gorm:"type:uuid;primary_key;" json:"walletId"`
	UserID               uuid.UUID   `gorm:"type:uuid;index;index:idx_wallets_active_user_curve,unique,where:status = 'ACTIVE'" json:"userId"`
	CurveType            curve.Curve `gorm:"type:varchar(16);uniqueIndex:idx_wallets_curve_public_key;index:idx_wallets_active_user_curve,unique,where:status = 'ACTIVE'" json:"curveType"`
	PublicKey            string      `gorm:"type:varchar(130);uniqueIndex:idx_wallets_curve_public_key" json:"publicKey"` // hex
	EncryptedKeyFragment string      `gorm:"type:text" json:"-"`
	SSSThreshold         int         `json:"sssThreshold"`
	Status               string      `gorm:"type:varchar(16);index" json:"status"`
	CreatedAt            time.Time
	UpdatedAt            time.Time
}
