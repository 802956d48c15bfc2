package tss

import (
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"tss-coordinator/internal/auth"
	"tss-coordinator/internal/curve"
	"tss-coordinator/internal/dto"
	"tss-coordinator/internal/errcode"
	"tss-coordinator/internal/keyshare"
	"tss-coordinator/internal/logger"
	"tss-coordinator/internal/party"
	"tss-coordinator/internal/sss"
	"tss-coordinator/internal/wallet"
)

const stageKeygen = "KEYGEN"

// profile is who a keygen is for.
type profile struct {
	customerID string
	authType   string
	identifier string
	email      string
	name       string
}

func (p profile) identity() keyshare.Identity {
	return keyshare.Identity{AuthType: p.authType, UserAuthID: p.identifier}
}

// keygenInput is one curve's keygen payload, parsed.
type keygenInput struct {
	curve     curve.Curve
	publicKey []byte
	share     *big.Int
}

type keygenResult struct {
	token   string
	user    *wallet.User
	wallets []*wallet.Wallet
}

func parseKeygenShare(c curve.Curve, in *dto.KeygenShare) (*keygenInput, error) {
	if in == nil {
		return nil, errcode.New(errcode.InvalidRequest, "keygen_2.%s is required", c)
	}
	pub, err := c.ParsePublicKey(in.PublicKey)
	if err != nil {
		return nil, errcode.Wrap(errcode.InvalidRequest, err, "invalid "+c.String()+" public key")
	}
	share, err := c.ParseScalar(in.PrivateShare)
	if err != nil {
		return nil, errcode.Wrap(errcode.InvalidRequest, err, "invalid "+c.String()+" private share")
	}
	return &keygenInput{curve: c, publicKey: pub, share: share}, nil
}

// Keygen stores the coordinator's share of a new secp256k1 wallet.
func (s *Service) Keygen(ctx context.Context, customerID string, req dto.KeygenRequest) (resp *dto.KeygenResponse, err error) {
	defer finishStep(stageKeygen, uuid.Nil, uuid.Nil, 1, time.Now(), &err)

	in, err := parseKeygenShare(curve.Secp256k1, &req.Keygen)
	if err != nil {
		return nil, err
	}
	p := profile{customerID: customerID, authType: req.AuthType, identifier: req.UserIdentifier, email: req.Email, name: req.Name}
	res, err := s.keygen(ctx, p, []*keygenInput{in})
	if err != nil {
		return nil, err
	}
	w := res.wallets[0]
	return &dto.KeygenResponse{
		Token: res.token,
		User: dto.KeygenUser{
			UserID:         res.user.ID,
			AuthType:       res.user.AuthType,
			UserIdentifier: res.user.Identifier,
			Email:          res.user.Email,
			Name:           res.user.Name,
			WalletID:       w.ID,
			PublicKey:      hex.EncodeToString(w.PublicKey),
		},
	}, nil
}

// KeygenV2 stores the coordinator's shares of a secp256k1 and an ed25519
// wallet. Both wallets are created or neither is.
func (s *Service) KeygenV2(ctx context.Context, customerID string, req dto.KeygenV2Request) (resp *dto.KeygenV2Response, err error) {
	defer finishStep(stageKeygen, uuid.Nil, uuid.Nil, 2, time.Now(), &err)

	var inputs []*keygenInput
	for _, c := range curve.All() {
		var share *dto.KeygenShare
		switch c {
		case curve.Secp256k1:
			share = req.Keygen.Secp256k1
		case curve.Ed25519:
			share = req.Keygen.Ed25519
		}
		in, err := parseKeygenShare(c, share)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, in)
	}
	p := profile{customerID: customerID, authType: req.AuthType, identifier: req.UserIdentifier, email: req.Email, name: req.Name}
	res, err := s.keygen(ctx, p, inputs)
	if err != nil {
		return nil, err
	}
	out := &dto.KeygenV2Response{
		Token: res.token,
		User: dto.KeygenV2User{
			UserID:         res.user.ID,
			AuthType:       res.user.AuthType,
			UserIdentifier: res.user.Identifier,
			Email:          res.user.Email,
			Name:           res.user.Name,
		},
	}
	for _, w := range res.wallets {
		out.User.Wallets = append(out.User.Wallets, walletInfo(w))
	}
	return out, nil
}

func walletInfo(w *wallet.Wallet) dto.WalletInfo {
	return dto.WalletInfo{
		WalletID:     w.ID,
		CurveType:    w.Curve.String(),
		PublicKey:    hex.EncodeToString(w.PublicKey),
		SSSThreshold: w.Threshold,
		Status:       string(w.Status),
	}
}

// keygen splits each share across the active key-share nodes, registers the
// node shares, seals the coordinator's fragment and commits the user, wallets
// and node links in one write.
func (s *Service) keygen(ctx context.Context, p profile, inputs []*keygenInput) (*keygenResult, error) {
	if strings.TrimSpace(p.customerID) == "" {
		return nil, errcode.New(errcode.Unauthorized, "customer is required")
	}
	if strings.TrimSpace(p.authType) == "" || strings.TrimSpace(p.identifier) == "" {
		return nil, errcode.New(errcode.InvalidRequest, "auth_type and user_identifier are required")
	}
	defer func() {
		for _, in := range inputs {
			in.share.SetInt64(0)
		}
	}()

	user, newUser, err := s.resolveUser(ctx, p)
	if err != nil {
		return nil, err
	}
	for _, in := range inputs {
		if !newUser {
			_, err := s.wallets.ActiveWallet(ctx, user.ID, in.curve)
			if err == nil {
				return nil, errcode.New(errcode.WalletAlreadyExists, "user already has an active %s wallet", in.curve)
			}
			if !errors.Is(err, wallet.ErrNotFound) {
				return nil, err
			}
		}
		_, err := s.wallets.WalletByPublicKey(ctx, in.curve, in.publicKey)
		if err == nil {
			return nil, errcode.New(errcode.DuplicatePublicKey, "%s public key already belongs to a wallet", in.curve)
		}
		if !errors.Is(err, wallet.ErrNotFound) {
			return nil, err
		}
	}

	set, err := s.activeNodeSet(ctx)
	if err != nil {
		return nil, err
	}

	creation := wallet.Creation{User: user, NewUser: newUser}
	for _, in := range inputs {
		w, err := s.distribute(ctx, p, set, in)
		if err != nil {
			return nil, err
		}
		creation.Wallets = append(creation.Wallets, w)
		for _, n := range set.Nodes() {
			creation.Links = append(creation.Links, wallet.NodeLink{WalletID: w.ID, NodeID: n.ID})
		}
	}
	if err := s.wallets.CreateWallets(ctx, creation); err != nil {
		return nil, err
	}

	token, err := s.tokens.Issue(auth.Caller{UserID: user.ID, CustomerID: p.customerID})
	if err != nil {
		return nil, err
	}
	for _, w := range creation.Wallets {
		logger.Log.WithFields(logrus.Fields{
			"user_id":   user.ID,
			"wallet_id": w.ID,
			"curve":     w.Curve.String(),
			"nodes":     set.Len(),
			"threshold": set.Threshold(),
		}).Info("wallet created")
	}
	return &keygenResult{token: token, user: user, wallets: creation.Wallets}, nil
}

// resolveUser finds the customer's user or prepares a new one.
func (s *Service) resolveUser(ctx context.Context, p profile) (*wallet.User, bool, error) {
	u, err := s.wallets.FindUser(ctx, p.customerID, p.authType, p.identifier)
	if err == nil {
		return u, false, nil
	}
	if !errors.Is(err, wallet.ErrUserNotFound) {
		return nil, false, err
	}
	return &wallet.User{
		ID:         uuid.New(),
		CustomerID: p.customerID,
		AuthType:   p.authType,
		Identifier: p.identifier,
		Email:      p.email,
		Name:       p.name,
	}, true, nil
}

// activeNodeSet loads the active key-share nodes and fails unless they reach the threshold.
func (s *Service) activeNodeSet(ctx context.Context) (*party.NodeSet, error) {
	nodes, err := s.wallets.ListActiveNodes(ctx)
	if err != nil {
		return nil, err
	}
	threshold, err := s.wallets.GetThreshold(ctx)
	if err != nil {
		return nil, err
	}
	set, err := party.NewNodeSet(nodes, threshold)
	if err != nil {
		return nil, errcode.Wrap(errcode.KeyshareNodeInsufficient, err, err.Error())
	}
	return set, nil
}

// distribute registers the node shares of one fragment and returns the wallet
// holding the sealed fragment. Nothing is persisted here.
func (s *Service) distribute(ctx context.Context, p profile, set *party.NodeSet, in *keygenInput) (*wallet.Wallet, error) {
	split, err := sss.Split(in.curve, in.share, set.Nodes(), set.Threshold(), s.rand)
	if err != nil {
		return nil, err
	}
	if err := s.register(ctx, p.identity(), in, split.Shares); err != nil {
		return nil, errcode.Wrap(errcode.KeyshareNodeInsufficient, err, err.Error())
	}

	raw := in.curve.ScalarBytes(in.share)
	sealed, err := s.fragments.Seal(raw, in.publicKey)
	wipe(raw)
	if err != nil {
		return nil, err
	}
	return &wallet.Wallet{
		ID:                uuid.New(),
		Curve:             in.curve,
		PublicKey:         in.publicKey,
		EncryptedFragment: sealed,
		Threshold:         set.Threshold(),
		Status:            wallet.StatusActive,
	}, nil
}

// register writes the node shares of a new fragment. No committed wallet holds
// this public key, so a node that already has a registration for it kept one
// from an earlier keygen that never committed; that registration is replaced
// with the new share.
func (s *Service) register(ctx context.Context, id keyshare.Identity, in *keygenInput, shares []sss.NodeShare) error {
	err := s.keyshares.RegisterShares(ctx, id, in.curve, in.publicKey, shares)
	var merr *multierror.Error
	if err == nil || !errors.As(err, &merr) {
		return err
	}

	byNode := make(map[uuid.UUID]sss.Share, len(shares))
	for _, ns := range shares {
		byNode[ns.Node.ID] = ns.Share
	}
	var failures *multierror.Error
	for _, e := range merr.Errors {
		var ne *keyshare.NodeError
		if !errors.As(e, &ne) || ne.Code != keyshare.CodeDuplicate {
			failures = multierror.Append(failures, e)
			continue
		}
		replace := []keyshare.CurveShare{{Curve: in.curve, PublicKey: in.publicKey, Share: byNode[ne.Node.ID]}}
		if err := s.keyshares.ReshareShares(ctx, ne.Node, id, replace); err != nil {
			failures = multierror.Append(failures, err)
			continue
		}
		logger.Log.WithFields(logrus.Fields{
			"node":       ne.Node.Name,
			"curve":      in.curve.String(),
			"public_key": hex.EncodeToString(in.publicKey),
		}).Warn("replaced uncommitted key-share registration")
	}
	return failures.ErrorOrNil()
}
