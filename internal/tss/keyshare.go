package tss

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"tss-coordinator/internal/auth"
	"tss-coordinator/internal/dto"
	"tss-coordinator/internal/errcode"
	"tss-coordinator/internal/keyshare"
	"tss-coordinator/internal/logger"
	"tss-coordinator/internal/party"
	"tss-coordinator/internal/sss"
	"tss-coordinator/internal/wallet"
)

const (
	stageRecover = "RECOVER"
	stageReshare = "RESHARE"
)

func userIdentity(u *wallet.User) keyshare.Identity {
	return keyshare.Identity{AuthType: u.AuthType, UserAuthID: u.Identifier}
}

// requestShares gathers at least the wallet's threshold of node shares.
func (s *Service) requestShares(ctx context.Context, w *wallet.Wallet, id keyshare.Identity, nodes []party.Node) ([]sss.NodeShare, error) {
	shares, err := s.keyshares.RequestShares(ctx, nodes, w.Threshold, id, w.Curve, w.PublicKey)
	if err == nil {
		return shares, nil
	}
	var re *keyshare.RequestError
	if errors.As(err, &re) {
		for _, n := range re.MissingNodes() {
			logger.Log.WithFields(logrus.Fields{"wallet_id": w.ID, "node": n.Name}).
				Warn("key-share node has no share for wallet")
		}
		return nil, errcode.Wrap(errcode.InsufficientShares, err, err.Error())
	}
	return nil, err
}

// consistentShares finds threshold shares that rebuild the wallet's stored
// fragment, which is authoritative. Responders whose share lies off that
// polynomial, for example after an interrupted reshare, come back as stale.
func (s *Service) consistentShares(w *wallet.Wallet, shares []sss.NodeShare) (consistent, stale []sss.NodeShare, err error) {
	stored, err := s.openFragment(w)
	if err != nil {
		return nil, nil, err
	}
	defer wipe(stored)

	match := func(secret *big.Int) bool {
		raw := w.Curve.ScalarBytes(secret)
		defer wipe(raw)
		return subtle.ConstantTimeCompare(stored, raw) == 1
	}
	consistent, stale, err = sss.FindConsistent(w.Curve, shares, w.Threshold, match)
	if errors.Is(err, sss.ErrNoConsistentSubset) {
		return nil, nil, errcode.Wrap(errcode.KeyFragmentMismatch, err,
			fmt.Sprintf("node shares do not rebuild the stored fragment of wallet %s", w.ID))
	}
	if err != nil {
		return nil, nil, err
	}
	for _, ns := range stale {
		logger.Log.WithFields(logrus.Fields{"wallet_id": w.ID, "node": ns.Node.Name}).
			Warn("key-share node holds a stale share")
	}
	return consistent, stale, nil
}

// Recover checks that a threshold of the wallet's nodes still rebuild its
// fragment. The fragment itself is never returned.
func (s *Service) Recover(ctx context.Context, caller auth.Caller, req dto.RecoverRequest) (resp *dto.RecoverResponse, err error) {
	defer finishStep(stageRecover, uuid.Nil, req.WalletID, 1, time.Now(), &err)

	w, err := s.ownedWallet(ctx, caller, req.WalletID)
	if err != nil {
		return nil, err
	}
	user, err := s.wallets.GetUser(ctx, w.UserID)
	if err != nil {
		return nil, err
	}
	nodes, err := s.wallets.ListWalletNodes(ctx, w.ID)
	if err != nil {
		return nil, err
	}
	shares, err := s.requestShares(ctx, w, userIdentity(user), nodes)
	if err != nil {
		return nil, err
	}
	_, stale, err := s.consistentShares(w, shares)
	if err != nil {
		return nil, err
	}

	responded := make(map[uuid.UUID]bool, len(shares))
	resp = &dto.RecoverResponse{WalletID: w.ID, SSSThreshold: w.Threshold, Verified: true}
	for _, sh := range shares {
		responded[sh.Node.ID] = true
		resp.Responded = append(resp.Responded, sh.Node.Name)
	}
	for _, sh := range stale {
		resp.Stale = append(resp.Stale, sh.Node.Name)
	}
	for _, n := range nodes {
		if !responded[n.ID] {
			resp.Unavailable = append(resp.Unavailable, n.Name)
		}
	}
	return resp, nil
}

// nodeDelivery is what one node receives in a reshare. Nodes that answered
// with a share get an update, the rest are seeded with register+reshare.
type nodeDelivery struct {
	node   party.Node
	update []keyshare.CurveShare
	seed   []keyshare.CurveShare
}

// Reshare rebuilds each of the caller's active wallet fragments from the
// nodes that still hold a share, re-splits it across every active node and
// records the new node links. Links are written only once every node accepts
// its new share. Every active node is asked for its share, linked or not, so a
// retry after a partial failure updates the nodes the first attempt reached.
func (s *Service) Reshare(ctx context.Context, caller auth.Caller) (resp *dto.ReshareResponse, err error) {
	defer finishStep(stageReshare, uuid.Nil, uuid.Nil, 1, time.Now(), &err)

	user, err := s.wallets.GetUser(ctx, caller.UserID)
	if err != nil {
		return nil, err
	}
	if user.CustomerID != caller.CustomerID {
		return nil, errcode.New(errcode.Unauthorized, "user belongs to another customer")
	}
	wallets, err := s.wallets.ListActiveWallets(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if len(wallets) == 0 {
		return nil, errcode.New(errcode.WalletNotFound, "user has no active wallet")
	}
	set, err := s.activeNodeSet(ctx)
	if err != nil {
		return nil, err
	}
	id := userIdentity(user)

	deliveries := make(map[uuid.UUID]*nodeDelivery)
	var order []uuid.UUID
	deliveryFor := func(n party.Node) *nodeDelivery {
		d, ok := deliveries[n.ID]
		if !ok {
			d = &nodeDelivery{node: n}
			deliveries[n.ID] = d
			order = append(order, n.ID)
		}
		return d
	}

	var links []wallet.NodeLink
	resp = &dto.ReshareResponse{}
	for _, w := range wallets {
		responders, err := s.requestShares(ctx, w, id, set.Nodes())
		if err != nil {
			return nil, err
		}
		consistent, _, err := s.consistentShares(w, responders)
		if err != nil {
			return nil, err
		}
		held := make(map[uuid.UUID]bool, len(responders))
		for _, sh := range responders {
			held[sh.Node.ID] = true
		}

		expanded, err := sss.Expand(w.Curve, consistent, set.Nodes(), w.Threshold, s.rand)
		if err != nil {
			return nil, err
		}
		expanded.Secret.SetInt64(0)

		result := dto.ReshareWallet{WalletID: w.ID, CurveType: w.Curve.String()}
		for _, ns := range expanded.Shares {
			share := keyshare.CurveShare{Curve: w.Curve, PublicKey: w.PublicKey, Share: ns.Share}
			d := deliveryFor(ns.Node)
			if held[ns.Node.ID] {
				d.update = append(d.update, share)
			} else {
				d.seed = append(d.seed, share)
				result.Seeded = append(result.Seeded, ns.Node.Name)
			}
			result.Nodes = append(result.Nodes, ns.Node.Name)
			links = append(links, wallet.NodeLink{WalletID: w.ID, NodeID: ns.Node.ID})
		}
		resp.Wallets = append(resp.Wallets, result)
	}

	var failures *multierror.Error
	for _, nodeID := range order {
		d := deliveries[nodeID]
		if len(d.update) > 0 {
			if err := s.keyshares.ReshareShares(ctx, d.node, id, d.update); err != nil {
				failures = multierror.Append(failures, err)
			}
		}
		if len(d.seed) > 0 {
			if err := s.keyshares.RegisterReshare(ctx, d.node, id, d.seed); err != nil {
				failures = multierror.Append(failures, err)
			}
		}
	}
	if err := failures.ErrorOrNil(); err != nil {
		return nil, errcode.Wrap(errcode.KeyshareNodeInsufficient, err, err.Error())
	}
	if err := s.wallets.AddNodeLinks(ctx, links); err != nil {
		return nil, err
	}
	logger.Log.WithFields(logrus.Fields{
		"user_id": user.ID,
		"wallets": len(wallets),
		"nodes":   len(order),
	}).Info("wallet fragments reshared")
	return resp, nil
}

// NodeStatus pings every active key-share node.
func (s *Service) NodeStatus(ctx context.Context) (*dto.NodeStatusResponse, error) {
	nodes, err := s.wallets.ListActiveNodes(ctx)
	if err != nil {
		return nil, classify(err, "failed to list key-share nodes")
	}
	threshold, err := s.wallets.GetThreshold(ctx)
	if err != nil {
		return nil, classify(err, "failed to read threshold")
	}
	resp := &dto.NodeStatusResponse{SSSThreshold: threshold}
	for _, st := range s.keyshares.Status(ctx, nodes) {
		resp.Nodes = append(resp.Nodes, dto.NodeStatus{
			NodeID:   st.Node.ID,
			Name:     st.Node.Name,
			Endpoint: st.Node.Endpoint,
			Healthy:  st.Healthy,
			Error:    st.Error,
		})
		if st.Healthy {
			resp.Healthy++
		}
	}
	return resp, nil
}
