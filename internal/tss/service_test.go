package tss

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/decred/dcrd/dcrec/edwards/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tss-coordinator/internal/auth"
	"tss-coordinator/internal/crypto/sharecipher"
	"tss-coordinator/internal/curve"
	"tss-coordinator/internal/dto"
	"tss-coordinator/internal/errcode"
	"tss-coordinator/internal/keyshare"
	"tss-coordinator/internal/keyshare/keysharetest"
	"tss-coordinator/internal/network"
	"tss-coordinator/internal/party"
	"tss-coordinator/internal/session"
	"tss-coordinator/internal/sss"
	"tss-coordinator/internal/wallet"
)

const customer = "acme"

type harness struct {
	svc      *Service
	sessions *session.MemoryStore
	wallets  *wallet.MemoryStore
	nodes    []*keysharetest.Node
	eng      *fakeEngine
	tokens   *auth.Issuer
}

func newHarness(t *testing.T, nodeCount, threshold int) *harness {
	t.Helper()
	h := &harness{
		sessions: session.NewMemoryStore(),
		wallets:  wallet.NewMemoryStore(),
		eng:      newFakeEngine(),
	}
	infos := make([]party.Node, nodeCount)
	for i := range infos {
		n := keysharetest.NewNode(fmt.Sprintf("ks-node-%d", i+1))
		t.Cleanup(n.Close)
		h.nodes = append(h.nodes, n)
		infos[i] = n.Info
	}
	require.NoError(t, h.wallets.SeedNodes(context.Background(), infos, threshold))

	fragments, err := sharecipher.New(bytes.Repeat([]byte{7}, 32), sharecipher.FragmentInfo)
	require.NoError(t, err)
	h.tokens, err = auth.NewIssuer([]byte("0123456789abcdef0123456789abcdef"), "tss-coordinator", time.Hour)
	require.NoError(t, err)

	h.svc, err = NewService(Deps{
		Sessions:  h.sessions,
		Wallets:   h.wallets,
		KeyShares: keyshare.NewClient(network.NewHTTPTransport(nil, nil), 2*time.Second),
		Engine:    h.eng,
		Fragments: fragments,
		Tokens:    h.tokens,
	})
	require.NoError(t, err)
	return h
}

func randomScalarHex(t *testing.T, c curve.Curve) string {
	t.Helper()
	for {
		k, err := rand.Int(rand.Reader, c.Order())
		require.NoError(t, err)
		if k.Sign() > 0 {
			return hex.EncodeToString(c.ScalarBytes(k))
		}
	}
}

// keygenFor creates a secp256k1 wallet for identifier and returns the
// caller, the wallet and the coordinator's share.
func (h *harness) keygenFor(t *testing.T, identifier string) (auth.Caller, *wallet.Wallet, string) {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	h.eng.setKey(priv)
	share := randomScalarHex(t, curve.Secp256k1)

	resp, err := h.svc.Keygen(context.Background(), customer, dto.KeygenRequest{
		AuthType:       "google",
		UserIdentifier: identifier,
		Keygen: dto.KeygenShare{
			PublicKey:    hex.EncodeToString(priv.PubKey().SerializeCompressed()),
			PrivateShare: share,
		},
	})
	require.NoError(t, err)
	caller, err := h.tokens.Parse(resp.Token)
	require.NoError(t, err)
	w, err := h.wallets.GetWallet(context.Background(), resp.User.WalletID)
	require.NoError(t, err)
	return caller, w, share
}

func assertCode(t *testing.T, want errcode.Code, err error) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, want, errcode.CodeOf(err), err.Error())
}

func TestNewService_RequiresDeps(t *testing.T) {
	_, err := NewService(Deps{})
	assert.Error(t, err)
}

func TestKeygen_SealsFragmentAndDistributesShares(t *testing.T) {
	h := newHarness(t, 3, 2)
	ctx := context.Background()
	caller, w, share := h.keygenFor(t, "alice@example.com")

	assert.Equal(t, customer, caller.CustomerID)
	assert.Equal(t, w.UserID, caller.UserID)
	assert.Equal(t, wallet.StatusActive, w.Status)
	assert.Equal(t, 2, w.Threshold)
	assert.NotContains(t, w.EncryptedFragment, share)

	opened, err := h.svc.fragments.Open(w.EncryptedFragment, w.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, share, hex.EncodeToString(opened))

	linked, err := h.wallets.ListWalletNodes(ctx, w.ID)
	require.NoError(t, err)
	assert.Len(t, linked, 3)

	var shares []sss.Share
	for _, n := range h.nodes {
		enc, found := n.Share("google", "alice@example.com", "secp256k1", hex.EncodeToString(w.PublicKey))
		require.True(t, found, n.Info.Name)
		assert.NotEqual(t, share, enc)
		s, err := sss.DecodeShare(curve.Secp256k1, enc)
		require.NoError(t, err)
		shares = append(shares, s)
	}
	secret, err := sss.Combine(curve.Secp256k1, shares[1:], 2)
	require.NoError(t, err)
	assert.Equal(t, share, hex.EncodeToString(curve.Secp256k1.ScalarBytes(secret)))
}

func TestKeygen_DuplicatePublicKey(t *testing.T) {
	h := newHarness(t, 3, 2)
	_, w, _ := h.keygenFor(t, "alice@example.com")

	_, err := h.svc.Keygen(context.Background(), customer, dto.KeygenRequest{
		AuthType:       "google",
		UserIdentifier: "bob@example.com",
		Keygen: dto.KeygenShare{
			PublicKey:    hex.EncodeToString(w.PublicKey),
			PrivateShare: randomScalarHex(t, curve.Secp256k1),
		},
	})
	assertCode(t, errcode.DuplicatePublicKey, err)

	_, err = h.wallets.FindUser(context.Background(), customer, "google", "bob@example.com")
	assert.ErrorIs(t, err, wallet.ErrUserNotFound)
}

func TestKeygen_WalletAlreadyExists(t *testing.T) {
	h := newHarness(t, 3, 2)
	h.keygenFor(t, "alice@example.com")

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	_, err = h.svc.Keygen(context.Background(), customer, dto.KeygenRequest{
		AuthType:       "google",
		UserIdentifier: "alice@example.com",
		Keygen: dto.KeygenShare{
			PublicKey:    hex.EncodeToString(priv.PubKey().SerializeCompressed()),
			PrivateShare: randomScalarHex(t, curve.Secp256k1),
		},
	})
	assertCode(t, errcode.WalletAlreadyExists, err)
}

func TestKeygen_RejectsMalformedInput(t *testing.T) {
	h := newHarness(t, 3, 2)
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	pub := hex.EncodeToString(priv.PubKey().SerializeCompressed())

	cases := map[string]dto.KeygenRequest{
		"bad public key":  {AuthType: "google", UserIdentifier: "a", Keygen: dto.KeygenShare{PublicKey: "02zz", PrivateShare: randomScalarHex(t, curve.Secp256k1)}},
		"zero share":      {AuthType: "google", UserIdentifier: "a", Keygen: dto.KeygenShare{PublicKey: pub, PrivateShare: hex.EncodeToString(make([]byte, 32))}},
		"short share":     {AuthType: "google", UserIdentifier: "a", Keygen: dto.KeygenShare{PublicKey: pub, PrivateShare: "01"}},
		"missing subject": {AuthType: "google", Keygen: dto.KeygenShare{PublicKey: pub, PrivateShare: randomScalarHex(t, curve.Secp256k1)}},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := h.svc.Keygen(context.Background(), customer, req)
			assertCode(t, errcode.InvalidRequest, err)
		})
	}
	for _, n := range h.nodes {
		assert.Zero(t, n.Calls("/keyshare/v1/register"))
	}
}

func TestKeygen_InsufficientNodes(t *testing.T) {
	h := newHarness(t, 3, 2)
	ctx := context.Background()
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	req := dto.KeygenRequest{
		AuthType:       "google",
		UserIdentifier: "alice@example.com",
		Keygen: dto.KeygenShare{
			PublicKey:    hex.EncodeToString(priv.PubKey().SerializeCompressed()),
			PrivateShare: randomScalarHex(t, curve.Secp256k1),
		},
	}

	h.nodes[1].SetFailing(true)
	_, err = h.svc.Keygen(ctx, customer, req)
	assertCode(t, errcode.KeyshareNodeInsufficient, err)
	assert.Contains(t, errcode.From(err).Msg, "ks-node-2")
	_, err = h.wallets.FindUser(ctx, customer, "google", "alice@example.com")
	assert.ErrorIs(t, err, wallet.ErrUserNotFound, "a failed registration must not create the wallet")

	h.nodes[1].SetFailing(false)
	off := []party.Node{h.nodes[0].Info, h.nodes[1].Info}
	for i := range off {
		off[i].Active = false
	}
	require.NoError(t, h.wallets.SeedNodes(ctx, off, 2))
	_, err = h.svc.Keygen(ctx, customer, req)
	assertCode(t, errcode.KeyshareNodeInsufficient, err)
}

func TestKeygenV2_CreatesBothWallets(t *testing.T) {
	h := newHarness(t, 3, 2)
	ctx := context.Background()

	secp, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	ed, err := edwards.GeneratePrivateKey()
	require.NoError(t, err)
	req := dto.KeygenV2Request{
		AuthType:       "apple",
		UserIdentifier: "carol",
		Email:          "carol@example.com",
		Keygen: dto.KeygenV2Shares{
			Secp256k1: &dto.KeygenShare{
				PublicKey:    hex.EncodeToString(secp.PubKey().SerializeCompressed()),
				PrivateShare: randomScalarHex(t, curve.Secp256k1),
			},
			Ed25519: &dto.KeygenShare{
				PublicKey:    hex.EncodeToString(ed.PubKey().Serialize()),
				PrivateShare: randomScalarHex(t, curve.Ed25519),
			},
		},
	}
	resp, err := h.svc.KeygenV2(ctx, customer, req)
	require.NoError(t, err)
	require.Len(t, resp.User.Wallets, 2)
	assert.Equal(t, "carol@example.com", resp.User.Email)

	curves := map[string]bool{}
	for _, wi := range resp.User.Wallets {
		curves[wi.CurveType] = true
		linked, err := h.wallets.ListWalletNodes(ctx, wi.WalletID)
		require.NoError(t, err)
		assert.Len(t, linked, 3)
	}
	assert.True(t, curves["secp256k1"] && curves["ed25519"])

	_, err = h.svc.KeygenV2(ctx, customer, req)
	assertCode(t, errcode.WalletAlreadyExists, err)

	req.Keygen.Ed25519 = nil
	req.UserIdentifier = "dave"
	_, err = h.svc.KeygenV2(ctx, customer, req)
	assertCode(t, errcode.InvalidRequest, err)
}

func TestKeygenV2_RetryAfterSecondCurveFails(t *testing.T) {
	h := newHarness(t, 3, 2)
	ctx := context.Background()

	secp, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	ed, err := edwards.GeneratePrivateKey()
	require.NoError(t, err)
	secpPub := hex.EncodeToString(secp.PubKey().SerializeCompressed())
	req := dto.KeygenV2Request{
		AuthType:       "apple",
		UserIdentifier: "erin",
		Keygen: dto.KeygenV2Shares{
			Secp256k1: &dto.KeygenShare{PublicKey: secpPub, PrivateShare: randomScalarHex(t, curve.Secp256k1)},
			Ed25519: &dto.KeygenShare{
				PublicKey:    hex.EncodeToString(ed.PubKey().Serialize()),
				PrivateShare: randomScalarHex(t, curve.Ed25519),
			},
		},
	}

	h.nodes[2].RejectCurve("ed25519", true)
	_, err = h.svc.KeygenV2(ctx, customer, req)
	assertCode(t, errcode.KeyshareNodeInsufficient, err)
	assert.Contains(t, errcode.From(err).Msg, "ks-node-3")
	_, err = h.wallets.FindUser(ctx, customer, "apple", "erin")
	assert.ErrorIs(t, err, wallet.ErrUserNotFound)

	// the secp256k1 shares stay registered on every node
	orphan, found := h.nodes[0].Share("apple", "erin", "secp256k1", secpPub)
	require.True(t, found)

	h.nodes[2].RejectCurve("ed25519", false)
	resp, err := h.svc.KeygenV2(ctx, customer, req)
	require.NoError(t, err)
	require.Len(t, resp.User.Wallets, 2)

	replaced, _ := h.nodes[0].Share("apple", "erin", "secp256k1", secpPub)
	assert.NotEqual(t, orphan, replaced)

	caller, err := h.tokens.Parse(resp.Token)
	require.NoError(t, err)
	for _, wi := range resp.User.Wallets {
		rec, err := h.svc.Recover(ctx, caller, dto.RecoverRequest{WalletID: wi.WalletID})
		require.NoError(t, err, wi.CurveType)
		assert.Len(t, rec.Responded, 3, wi.CurveType)
		assert.Empty(t, rec.Stale, wi.CurveType)
	}
}
