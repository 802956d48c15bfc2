package wallet

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"tss-coordinator/internal/curve"
	"tss-coordinator/internal/party"
)

// MemoryStore is an in-process Store for single-instance use and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	users     map[uuid.UUID]*User
	wallets   map[uuid.UUID]*Wallet
	nodes     map[uuid.UUID]party.Node
	links     map[NodeLink]bool
	threshold int
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   make(map[uuid.UUID]*User),
		wallets: make(map[uuid.UUID]*Wallet),
		nodes:   make(map[uuid.UUID]party.Node),
		links:   make(map[NodeLink]bool),
	}
}

func copyWallet(w *Wallet) *Wallet {
	cp := *w
	cp.PublicKey = append([]byte(nil), w.PublicKey...)
	return &cp
}

func (m *MemoryStore) GetUser(_ context.Context, id uuid.UUID) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MemoryStore) FindUser(_ context.Context, customerID, authType, identifier string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.CustomerID == customerID && u.AuthType == authType && u.Identifier == identifier {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrUserNotFound
}

func (m *MemoryStore) GetWallet(_ context.Context, id uuid.UUID) (*Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.wallets[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyWallet(w), nil
}

func (m *MemoryStore) ActiveWallet(_ context.Context, userID uuid.UUID, c curve.Curve) (*Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if w := m.activeWallet(userID, c); w != nil {
		return copyWallet(w), nil
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) activeWallet(userID uuid.UUID, c curve.Curve) *Wallet {
	for _, w := range m.wallets {
		if w.UserID == userID && w.Curve == c && w.Status == StatusActive {
			return w
		}
	}
	return nil
}

func (m *MemoryStore) WalletByPublicKey(_ context.Context, c curve.Curve, publicKey []byte) (*Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if w := m.walletByPublicKey(c, publicKey); w != nil {
		return copyWallet(w), nil
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) walletByPublicKey(c curve.Curve, publicKey []byte) *Wallet {
	for _, w := range m.wallets {
		if w.Curve == c && bytes.Equal(w.PublicKey, publicKey) {
			return w
		}
	}
	return nil
}

func (m *MemoryStore) ListActiveWallets(_ context.Context, userID uuid.UUID) ([]*Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Wallet
	for _, w := range m.wallets {
		if w.UserID == userID && w.Status == StatusActive {
			out = append(out, copyWallet(w))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Curve.String() < out[j].Curve.String() })
	return out, nil
}

// CreateWallets checks every uniqueness rule before writing anything.
func (m *MemoryStore) CreateWallets(_ context.Context, c Creation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c.User == nil {
		return fmt.Errorf("creation without user")
	}
	if c.NewUser {
		if c.User.ID == uuid.Nil {
			c.User.ID = uuid.New()
		}
		if _, exists := m.users[c.User.ID]; exists {
			return fmt.Errorf("user %s already exists", c.User.ID)
		}
	} else if _, exists := m.users[c.User.ID]; !exists {
		return ErrUserNotFound
	}

	seen := make(map[string]bool, len(c.Wallets))
	activeCurves := make(map[curve.Curve]bool, len(c.Wallets))
	for _, w := range c.Wallets {
		key := w.Curve.String() + ":" + string(w.PublicKey)
		if seen[key] || m.walletByPublicKey(w.Curve, w.PublicKey) != nil {
			return ErrDuplicatePublicKey
		}
		seen[key] = true
		if w.Status != StatusActive {
			continue
		}
		if activeCurves[w.Curve] || m.activeWallet(c.User.ID, w.Curve) != nil {
			return ErrAlreadyExists
		}
		activeCurves[w.Curve] = true
	}
	ids := make(map[uuid.UUID]bool, len(c.Wallets))
	for _, w := range c.Wallets {
		if w.ID == uuid.Nil {
			w.ID = uuid.New()
		}
		ids[w.ID] = true
	}
	for _, l := range c.Links {
		if !ids[l.WalletID] {
			return fmt.Errorf("node link for wallet %s outside this creation", l.WalletID)
		}
		if _, ok := m.nodes[l.NodeID]; !ok {
			return fmt.Errorf("unknown key-share node %s", l.NodeID)
		}
	}

	now := time.Now()
	if c.NewUser {
		c.User.CreatedAt = now
		u := *c.User
		m.users[u.ID] = &u
	}
	for _, w := range c.Wallets {
		w.UserID = c.User.ID
		w.CreatedAt = now
		m.wallets[w.ID] = copyWallet(w)
	}
	for _, l := range c.Links {
		m.links[l] = true
	}
	return nil
}

func (m *MemoryStore) ListActiveNodes(_ context.Context) ([]party.Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []party.Node
	for _, n := range m.nodes {
		if n.Active {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) GetThreshold(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.threshold == 0 {
		return 0, ErrThresholdNotSet
	}
	return m.threshold, nil
}

func (m *MemoryStore) ListWalletNodes(_ context.Context, walletID uuid.UUID) ([]party.Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []party.Node
	for l := range m.links {
		if l.WalletID == walletID {
			out = append(out, m.nodes[l.NodeID])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// AddNodeLinks records new associations. Existing ones are left as they are.
func (m *MemoryStore) AddNodeLinks(_ context.Context, links []NodeLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range links {
		if _, ok := m.wallets[l.WalletID]; !ok {
			return ErrNotFound
		}
		if _, ok := m.nodes[l.NodeID]; !ok {
			return fmt.Errorf("unknown key-share node %s", l.NodeID)
		}
	}
	for _, l := range links {
		m.links[l] = true
	}
	return nil
}

func (m *MemoryStore) SeedNodes(_ context.Context, nodes []party.Node, threshold int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range nodes {
		for id, existing := range m.nodes {
			if existing.Name == n.Name {
				n.ID = id
			}
		}
		if n.ID == uuid.Nil {
			n.ID = uuid.New()
		}
		m.nodes[n.ID] = n
	}
	m.threshold = threshold
	return nil
}
