// Package wallet models users, their threshold wallets and the key-share
// nodes holding each wallet's fragment.
package wallet

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"tss-coordinator/internal/curve"
	"tss-coordinator/internal/party"
)

// Status of a wallet.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusInactive Status = "INACTIVE"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrNotFound           = errors.New("wallet not found")
	ErrAlreadyExists      = errors.New("user already has an active wallet for this curve")
	ErrDuplicatePublicKey = errors.New("public key already belongs to a wallet")
	ErrThresholdNotSet    = errors.New("sss threshold is not configured")
)

// User is an end user of a customer, identified by an external auth provider.
type User struct {
	ID         uuid.UUID
	CustomerID string
	AuthType   string
	Identifier string
	Email      string
	Name       string
	CreatedAt  time.Time
}

// Wallet is one threshold key of a user. EncryptedFragment is the
// coordinator's own share, sealed with the public key as salt.
type Wallet struct {
	ID                uuid.UUID
	UserID            uuid.UUID
	Curve             curve.Curve
	PublicKey         []byte
	EncryptedFragment string
	Threshold         int
	Status            Status
	CreatedAt         time.Time
}

// NodeLink records that a key-share node holds a share of a wallet's fragment.
type NodeLink struct {
	WalletID uuid.UUID
	NodeID   uuid.UUID
}

// Creation is the set of rows written by keygen in one transaction.
// User is inserted when NewUser is set, otherwise it must already exist.
type Creation struct {
	User    *User
	NewUser bool
	Wallets []*Wallet
	Links   []NodeLink
}

// Store persists users, wallets, key-share nodes and their associations.
//
// SeedNodes upserts nodes by name and sets the threshold.
// CreateWallets and AddNodeLinks are all-or-nothing. CreateWallets fails with
// ErrDuplicatePublicKey or ErrAlreadyExists when a uniqueness rule would break.
type Store interface {
	GetUser(ctx context.Context, id uuid.UUID) (*User, error)
	FindUser(ctx context.Context, customerID, authType, identifier string) (*User, error)
	GetWallet(ctx context.Context, id uuid.UUID) (*Wallet, error)
	ActiveWallet(ctx context.Context, userID uuid.UUID, c curve.Curve) (*Wallet, error)
	WalletByPublicKey(ctx context.Context, c curve.Curve, publicKey []byte) (*Wallet, error)
	ListActiveWallets(ctx context.Context, userID uuid.UUID) ([]*Wallet, error)
	CreateWallets(ctx context.Context, c Creation) error

	ListActiveNodes(ctx context.Context) ([]party.Node, error)
	GetThreshold(ctx context.Context) (int, error)
	ListWalletNodes(ctx context.Context, walletID uuid.UUID) ([]party.Node, error)
	AddNodeLinks(ctx context.Context, links []NodeLink) error
	SeedNodes(ctx context.Context, nodes []party.Node, threshold int) error
}
