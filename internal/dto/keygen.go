package dto

import "github.com/google/uuid"

// KeygenShare is the client's keygen output for one curve: the wallet public
// key and the coordinator's share of the private key, both hex.
type KeygenShare struct {
	PublicKey    string `json:"public_key" binding:"required"`
	PrivateShare string `json:"private_share" binding:"required"`
}

// KeygenRequest creates a secp256k1 wallet.
type KeygenRequest struct {
	AuthType       string      `json:"auth_type" binding:"required"`
	UserIdentifier string      `json:"user_identifier" binding:"required"`
	Keygen         KeygenShare `json:"keygen_2"`
	Email          string      `json:"email,omitempty"`
	Name           string      `json:"name,omitempty"`
}

// KeygenV2Shares carries one keygen output per curve.
type KeygenV2Shares struct {
	Secp256k1 *KeygenShare `json:"secp256k1" binding:"required"`
	Ed25519   *KeygenShare `json:"ed25519" binding:"required"`
}

// KeygenV2Request creates a secp256k1 and an ed25519 wallet together.
type KeygenV2Request struct {
	AuthType       string         `json:"auth_type" binding:"required"`
	UserIdentifier string         `json:"user_identifier" binding:"required"`
	Keygen         KeygenV2Shares `json:"keygen_2"`
	Email          string         `json:"email,omitempty"`
	Name           string         `json:"name,omitempty"`
}

// WalletInfo is the public view of a wallet.
type WalletInfo struct {
	WalletID     uuid.UUID `json:"wallet_id"`
	CurveType    string    `json:"curve_type"`
	PublicKey    string    `json:"public_key"`
	SSSThreshold int       `json:"sss_threshold"`
	Status       string    `json:"status"`
}

// KeygenUser is the user returned by keygen.
type KeygenUser struct {
	UserID         uuid.UUID `json:"user_id"`
	AuthType       string    `json:"auth_type"`
	UserIdentifier string    `json:"user_identifier"`
	Email          string    `json:"email,omitempty"`
	Name           string    `json:"name,omitempty"`
	WalletID       uuid.UUID `json:"wallet_id"`
	PublicKey      string    `json:"public_key"`
}

type KeygenResponse struct {
	Token string     `json:"token"`
	User  KeygenUser `json:"user"`
}

// KeygenV2User lists every wallet created for the user.
type KeygenV2User struct {
	UserID         uuid.UUID    `json:"user_id"`
	AuthType       string       `json:"auth_type"`
	UserIdentifier string       `json:"user_identifier"`
	Email          string       `json:"email,omitempty"`
	Name           string       `json:"name,omitempty"`
	Wallets        []WalletInfo `json:"wallets"`
}

type KeygenV2Response struct {
	Token string       `json:"token"`
	User  KeygenV2User `json:"user"`
}
