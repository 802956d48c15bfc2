package dto

import "github.com/google/uuid"

// RecoverRequest checks that a wallet's fragment can be rebuilt from its nodes.
type RecoverRequest struct {
	WalletID uuid.UUID `json:"wallet_id"`
}

type RecoverResponse struct {
	WalletID     uuid.UUID `json:"wallet_id"`
	SSSThreshold int       `json:"sss_threshold"`
	Responded    []string  `json:"responded"`
	Unavailable  []string  `json:"unavailable"`
	Stale        []string  `json:"stale,omitempty"` // responded with a share off the stored fragment
	Verified     bool      `json:"verified"`
}

// ReshareWallet reports the node set a wallet's fragment was reshared to.
type ReshareWallet struct {
	WalletID  uuid.UUID `json:"wallet_id"`
	CurveType string    `json:"curve_type"`
	Nodes     []string  `json:"nodes"`
	Seeded    []string  `json:"seeded"`
}

type ReshareResponse struct {
	Wallets []ReshareWallet `json:"wallets"`
}

type NodeStatus struct {
	NodeID   uuid.UUID `json:"node_id"`
	Name     string    `json:"name"`
	Endpoint string    `json:"endpoint"`
	Healthy  bool      `json:"healthy"`
	Error    string    `json:"error,omitempty"`
}

type NodeStatusResponse struct {
	SSSThreshold int          `json:"sss_threshold"`
	Healthy      int          `json:"healthy"`
	Nodes        []NodeStatus `json:"nodes"`
}
