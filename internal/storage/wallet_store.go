package storage

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tss-coordinator/internal/curve"
	"tss-coordinator/internal/party"
	"tss-coordinator/internal/storage/models"
	"tss-coordinator/internal/wallet"
)

const (
	constraintPublicKey    = "idx_wallets_curve_public_key"
	constraintActiveWallet = "idx_wallets_active_user_curve"
	metaRowID              = 1
)

// WalletStore is the postgres wallet.Store.
type WalletStore struct {
	db *gorm.DB
}

func NewWalletStore(db *gorm.DB) *WalletStore {
	return &WalletStore{db: db}
}

var _ wallet.Store = (*WalletStore)(nil)

func userFromRow(r *models.User) *wallet.User {
	return &wallet.User{
		ID:         r.ID,
		CustomerID: r.CustomerID,
		AuthType:   r.AuthType,
		Identifier: r.Identifier,
		Email:      r.Email,
		Name:       r.Name,
		CreatedAt:  r.CreatedAt,
	}
}

func walletFromRow(r *models.Wallet) (*wallet.Wallet, error) {
	pub, err := hex.DecodeString(r.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("wallet %s has a malformed public key: %w", r.ID, err)
	}
	return &wallet.Wallet{
		ID:                r.ID,
		UserID:            r.UserID,
		Curve:             r.CurveType,
		PublicKey:         pub,
		EncryptedFragment: r.EncryptedKeyFragment,
		Threshold:         r.SSSThreshold,
		Status:            wallet.Status(r.Status),
		CreatedAt:         r.CreatedAt,
	}, nil
}

func nodeFromRow(r *models.KeyShareNode) party.Node {
	return party.Node{ID: r.ID, Name: r.Name, Endpoint: r.Endpoint, Active: r.Active}
}

func sortNodes(nodes []party.Node) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Name < nodes[j].Name })
}

func (s *WalletStore) GetUser(ctx context.Context, id uuid.UUID) (*wallet.User, error) {
	var row models.User
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, wallet.ErrUserNotFound
		}
		return nil, err
	}
	return userFromRow(&row), nil
}

func (s *WalletStore) FindUser(ctx context.Context, customerID, authType, identifier string) (*wallet.User, error) {
	var row models.User
	err := s.db.WithContext(ctx).
		First(&row, "customer_id = ? AND auth_type = ? AND identifier = ?", customerID, authType, identifier).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, wallet.ErrUserNotFound
		}
		return nil, err
	}
	return userFromRow(&row), nil
}

func (s *WalletStore) firstWallet(ctx context.Context, query string, args ...any) (*wallet.Wallet, error) {
	var row models.Wallet
	if err := s.db.WithContext(ctx).Where(query, args...).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, wallet.ErrNotFound
		}
		return nil, err
	}
	return walletFromRow(&row)
}

func (s *WalletStore) GetWallet(ctx context.Context, id uuid.UUID) (*wallet.Wallet, error) {
	return s.firstWallet(ctx, "id = ?", id)
}

func (s *WalletStore) ActiveWallet(ctx context.Context, userID uuid.UUID, c curve.Curve) (*wallet.Wallet, error) {
	return s.firstWallet(ctx, "user_id = ? AND curve_type = ? AND status = ?", userID, c, string(wallet.StatusActive))
}

func (s *WalletStore) WalletByPublicKey(ctx context.Context, c curve.Curve, publicKey []byte) (*wallet.Wallet, error) {
	return s.firstWallet(ctx, "curve_type = ? AND public_key = ?", c, hex.EncodeToString(publicKey))
}

func (s *WalletStore) ListActiveWallets(ctx context.Context, userID uuid.UUID) ([]*wallet.Wallet, error) {
	var rows []models.Wallet
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, string(wallet.StatusActive)).
		Order("curve_type").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]*wallet.Wallet, 0, len(rows))
	for i := range rows {
		w, err := walletFromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

// CreateWallets writes the user, wallets and node links in one transaction.
func (s *WalletStore) CreateWallets(ctx context.Context, c wallet.Creation) error {
	if c.User == nil {
		return errors.New("creation without user")
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if c.NewUser {
			if c.User.ID == uuid.Nil {
				c.User.ID = uuid.New()
			}
			row := models.User{
				ID:         c.User.ID,
				CustomerID: c.User.CustomerID,
				AuthType:   c.User.AuthType,
				Identifier: c.User.Identifier,
				Email:      c.User.Email,
				Name:       c.User.Name,
			}
			if err := tx.Omit(clause.Associations).Create(&row).Error; err != nil {
				return fmt.Errorf("failed to create user: %w", err)
			}
			c.User.CreatedAt = row.CreatedAt
		}

		for _, w := range c.Wallets {
			if w.ID == uuid.Nil {
				w.ID = uuid.New()
			}
			w.UserID = c.User.ID
			row := models.Wallet{
				ID:                   w.ID,
				UserID:               w.UserID,
				CurveType:            w.Curve,
				PublicKey:            hex.EncodeToString(w.PublicKey),
				EncryptedKeyFragment: w.EncryptedFragment,
				SSSThreshold:         w.Threshold,
				Status:               string(w.Status),
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
			w.CreatedAt = row.CreatedAt
		}

		if len(c.Links) == 0 {
			return nil
		}
		links := make([]models.WalletKSNode, len(c.Links))
		for i, l := range c.Links {
			links[i] = models.WalletKSNode{WalletID: l.WalletID, NodeID: l.NodeID}
		}
		if err := tx.Omit(clause.Associations).Create(&links).Error; err != nil {
			return fmt.Errorf("failed to link wallet nodes: %w", err)
		}
		return nil
	})
	return classifyCreate(err)
}

func classifyCreate(err error) error {
	if err == nil {
		return nil
	}
	if name, dup := violatedConstraint(err); dup {
		switch name {
		case constraintPublicKey:
			return wallet.ErrDuplicatePublicKey
		case constraintActiveWallet:
			return wallet.ErrAlreadyExists
		}
	}
	return err
}

func (s *WalletStore) ListActiveNodes(ctx context.Context) ([]party.Node, error) {
	var rows []models.KeyShareNode
	if err := s.db.WithContext(ctx).Where("active = ?", true).Order("name").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]party.Node, len(rows))
	for i := range rows {
		out[i] = nodeFromRow(&rows[i])
	}
	return out, nil
}

func (s *WalletStore) GetThreshold(ctx context.Context) (int, error) {
	var meta models.KeyShareNodeMeta
	if err := s.db.WithContext(ctx).First(&meta, "id = ?", metaRowID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, wallet.ErrThresholdNotSet
		}
		return 0, err
	}
	return meta.SSSThreshold, nil
}

func (s *WalletStore) ListWalletNodes(ctx context.Context, walletID uuid.UUID) ([]party.Node, error) {
	var links []models.WalletKSNode
	err := s.db.WithContext(ctx).Preload("Node").Where("wallet_id = ?", walletID).Find(&links).Error
	if err != nil {
		return nil, err
	}
	out := make([]party.Node, len(links))
	for i := range links {
		out[i] = nodeFromRow(&links[i].Node)
	}
	sortNodes(out)
	return out, nil
}

// AddNodeLinks inserts links in one statement, skipping those already present.
func (s *WalletStore) AddNodeLinks(ctx context.Context, links []wallet.NodeLink) error {
	if len(links) == 0 {
		return nil
	}
	rows := make([]models.WalletKSNode, len(links))
	for i, l := range links {
		rows[i] = models.WalletKSNode{WalletID: l.WalletID, NodeID: l.NodeID}
	}
	return s.db.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rows).Error
}

// SeedNodes upserts nodes by name and stores the threshold.
func (s *WalletStore) SeedNodes(ctx context.Context, nodes []party.Node, threshold int) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, n := range nodes {
			if n.ID == uuid.Nil {
				n.ID = uuid.New()
			}
			row := models.KeyShareNode{ID: n.ID, Name: n.Name, Endpoint: n.Endpoint, Active: n.Active}
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "name"}},
				DoUpdates: clause.AssignmentColumns([]string{"endpoint", "active"}),
			}).Create(&row).Error
			if err != nil {
				return fmt.Errorf("failed to seed node %s: %w", n.Name, err)
			}
		}
		meta := models.KeyShareNodeMeta{ID: metaRowID, SSSThreshold: threshold}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"sss_threshold"}),
		}).Create(&meta).Error
	})
}
