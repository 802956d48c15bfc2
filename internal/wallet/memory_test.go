package wallet

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tss-coordinator/internal/curve"
	"tss-coordinator/internal/party"
)

func seeded(t *testing.T) (*MemoryStore, []party.Node) {
	t.Helper()
	m := NewMemoryStore()
	nodes := []party.Node{
		{ID: uuid.New(), Name: "ks-b", Endpoint: "http://b", Active: true},
		{ID: uuid.New(), Name: "ks-a", Endpoint: "http://a", Active: true},
		{ID: uuid.New(), Name: "ks-c", Endpoint: "http://c", Active: false},
	}
	require.NoError(t, m.SeedNodes(context.Background(), nodes, 2))
	return m, nodes
}

func newUser() *User {
	return &User{CustomerID: "acme", AuthType: "google", Identifier: "alice@example.com"}
}

func TestCreateWallets(t *testing.T) {
	m, _ := seeded(t)
	ctx := context.Background()

	u := newUser()
	w := &Wallet{Curve: curve.Secp256k1, PublicKey: []byte{2, 1}, EncryptedFragment: "x", Threshold: 2, Status: StatusActive}
	require.NoError(t, m.CreateWallets(ctx, Creation{User: u, NewUser: true, Wallets: []*Wallet{w}}))
	assert.NotEqual(t, uuid.Nil, u.ID)
	assert.NotEqual(t, uuid.Nil, w.ID)
	assert.Equal(t, u.ID, w.UserID)

	found, err := m.FindUser(ctx, "acme", "google", "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, found.ID)

	got, err := m.ActiveWallet(ctx, u.ID, curve.Secp256k1)
	require.NoError(t, err)
	assert.Equal(t, w.ID, got.ID)

	_, err = m.ActiveWallet(ctx, u.ID, curve.Ed25519)
	assert.ErrorIs(t, err, ErrNotFound)

	byKey, err := m.WalletByPublicKey(ctx, curve.Secp256k1, []byte{2, 1})
	require.NoError(t, err)
	assert.Equal(t, w.ID, byKey.ID)
	_, err = m.WalletByPublicKey(ctx, curve.Ed25519, []byte{2, 1})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateWallets_LinksMustBeFilled(t *testing.T) {
	m, nodes := seeded(t)
	ctx := context.Background()
	u := newUser()
	w := &Wallet{ID: uuid.New(), Curve: curve.Secp256k1, PublicKey: []byte{2, 1}, Status: StatusActive}
	require.NoError(t, m.CreateWallets(ctx, Creation{
		User: u, NewUser: true, Wallets: []*Wallet{w},
		Links: []NodeLink{{WalletID: w.ID, NodeID: nodes[0].ID}, {WalletID: w.ID, NodeID: nodes[1].ID}},
	}))

	linked, err := m.ListWalletNodes(ctx, w.ID)
	require.NoError(t, err)
	require.Len(t, linked, 2)
	assert.Equal(t, "ks-a", linked[0].Name)

	stray := &Wallet{Curve: curve.Ed25519, PublicKey: []byte{5}, Status: StatusActive}
	err = m.CreateWallets(ctx, Creation{User: u, Wallets: []*Wallet{stray},
		Links: []NodeLink{{WalletID: w.ID, NodeID: nodes[0].ID}}})
	assert.Error(t, err)
}

func TestCreateWallets_IsAllOrNothing(t *testing.T) {
	m, _ := seeded(t)
	ctx := context.Background()

	first := newUser()
	require.NoError(t, m.CreateWallets(ctx, Creation{User: first, NewUser: true, Wallets: []*Wallet{
		{Curve: curve.Secp256k1, PublicKey: []byte{2, 9}, Status: StatusActive},
	}}))

	second := &User{CustomerID: "acme", AuthType: "google", Identifier: "bob@example.com"}
	err := m.CreateWallets(ctx, Creation{User: second, NewUser: true, Wallets: []*Wallet{
		{Curve: curve.Ed25519, PublicKey: []byte{7}, Status: StatusActive},
		{Curve: curve.Secp256k1, PublicKey: []byte{2, 9}, Status: StatusActive},
	}})
	assert.ErrorIs(t, err, ErrDuplicatePublicKey)

	_, err = m.FindUser(ctx, "acme", "google", "bob@example.com")
	assert.ErrorIs(t, err, ErrUserNotFound)
	_, err = m.WalletByPublicKey(ctx, curve.Ed25519, []byte{7})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateWallets_OneActivePerCurve(t *testing.T) {
	m, _ := seeded(t)
	ctx := context.Background()
	u := newUser()
	require.NoError(t, m.CreateWallets(ctx, Creation{User: u, NewUser: true, Wallets: []*Wallet{
		{Curve: curve.Secp256k1, PublicKey: []byte{2, 1}, Status: StatusActive},
	}}))

	err := m.CreateWallets(ctx, Creation{User: u, Wallets: []*Wallet{
		{Curve: curve.Secp256k1, PublicKey: []byte{2, 2}, Status: StatusActive},
	}})
	assert.ErrorIs(t, err, ErrAlreadyExists)

	require.NoError(t, m.CreateWallets(ctx, Creation{User: u, Wallets: []*Wallet{
		{Curve: curve.Ed25519, PublicKey: []byte{9}, Status: StatusActive},
	}}))
	ws, err := m.ListActiveWallets(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, ws, 2)
	assert.Equal(t, curve.Ed25519, ws[0].Curve)
}

func TestNodes(t *testing.T) {
	m, nodes := seeded(t)
	ctx := context.Background()

	active, err := m.ListActiveNodes(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "ks-a", active[0].Name)

	threshold, err := m.GetThreshold(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, threshold)

	// reseeding by name keeps the id
	revived := nodes[2]
	revived.ID = uuid.Nil
	revived.Active = true
	require.NoError(t, m.SeedNodes(ctx, []party.Node{revived}, 3))
	active, err = m.ListActiveNodes(ctx)
	require.NoError(t, err)
	require.Len(t, active, 3)
	assert.Equal(t, nodes[2].ID, active[2].ID)

	_, err = NewMemoryStore().GetThreshold(ctx)
	assert.ErrorIs(t, err, ErrThresholdNotSet)
}

func TestAddNodeLinks(t *testing.T) {
	m, nodes := seeded(t)
	ctx := context.Background()
	w := &Wallet{ID: uuid.New(), Curve: curve.Secp256k1, PublicKey: []byte{2, 1}, Status: StatusActive}
	require.NoError(t, m.CreateWallets(ctx, Creation{User: newUser(), NewUser: true, Wallets: []*Wallet{w},
		Links: []NodeLink{{WalletID: w.ID, NodeID: nodes[0].ID}}}))

	require.NoError(t, m.AddNodeLinks(ctx, []NodeLink{{WalletID: w.ID, NodeID: nodes[0].ID}, {WalletID: w.ID, NodeID: nodes[1].ID}}))
	linked, err := m.ListWalletNodes(ctx, w.ID)
	require.NoError(t, err)
	assert.Len(t, linked, 2)

	err = m.AddNodeLinks(ctx, []NodeLink{{WalletID: uuid.New(), NodeID: nodes[0].ID}})
	assert.ErrorIs(t, err, ErrNotFound)
}
