// Package tss drives the coordinator side of keygen and the triples, presign
// and sign ceremonies, and the key-share lifecycle of each wallet fragment.
package tss

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"tss-coordinator/internal/auth"
	"tss-coordinator/internal/crypto/sharecipher"
	"tss-coordinator/internal/engine"
	"tss-coordinator/internal/errcode"
	"tss-coordinator/internal/keyshare"
	"tss-coordinator/internal/logger"
	"tss-coordinator/internal/metrics"
	"tss-coordinator/internal/network"
	"tss-coordinator/internal/party"
	"tss-coordinator/internal/session"
	"tss-coordinator/internal/sss"
	"tss-coordinator/internal/wallet"
)

// Deps are the collaborators of a Service.
type Deps struct {
	Sessions  session.Store
	Wallets   wallet.Store
	KeyShares *keyshare.Client
	Engine    engine.Engine
	// Fragments seals the coordinator's own key fragment at rest.
	Fragments *sharecipher.Cipher
	Tokens    *auth.Issuer
	// Rand feeds secret sharing. Defaults to crypto/rand.
	Rand io.Reader
}

// Service is the stage orchestrator. It is safe for concurrent use.
type Service struct {
	sessions  session.Store
	wallets   wallet.Store
	keyshares *keyshare.Client
	engine    engine.Engine
	fragments *sharecipher.Cipher
	tokens    *auth.Issuer
	rand      io.Reader
	locks     *keyedMutex
}

func NewService(d Deps) (*Service, error) {
	switch {
	case d.Sessions == nil || d.Wallets == nil:
		return nil, errors.New("tss: stores are required")
	case d.KeyShares == nil:
		return nil, errors.New("tss: key-share client is required")
	case d.Engine == nil:
		return nil, errors.New("tss: engine is required")
	case d.Fragments == nil:
		return nil, errors.New("tss: fragment cipher is required")
	case d.Tokens == nil:
		return nil, errors.New("tss: token issuer is required")
	}
	r := d.Rand
	if r == nil {
		r = rand.Reader
	}
	return &Service{
		sessions:  d.Sessions,
		wallets:   d.Wallets,
		keyshares: d.KeyShares,
		engine:    d.Engine,
		fragments: d.Fragments,
		tokens:    d.Tokens,
		rand:      r,
		locks:     newKeyedMutex(),
	}, nil
}

// classify turns a store, node or engine failure into a client-facing error.
func classify(err error, msg string) *errcode.Error {
	var ce *errcode.Error
	if errors.As(err, &ce) {
		return ce
	}
	switch {
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, session.ErrSessionConflict):
		return errcode.Wrap(errcode.InvalidTssSession, err, "tss session is missing or no longer in progress")
	case errors.Is(err, session.ErrStageNotFound), errors.Is(err, session.ErrStageExists),
		errors.Is(err, session.ErrStageConflict), errors.Is(err, session.ErrUnknownStep):
		return errcode.Wrap(errcode.InvalidTssStage, err, "tss stage is not at the expected status")
	case errors.Is(err, wallet.ErrNotFound):
		return errcode.Wrap(errcode.WalletNotFound, err, "wallet not found")
	case errors.Is(err, wallet.ErrUserNotFound):
		return errcode.Wrap(errcode.UserNotFound, err, "user not found")
	case errors.Is(err, wallet.ErrAlreadyExists):
		return errcode.Wrap(errcode.WalletAlreadyExists, err, "user already has an active wallet for this curve")
	case errors.Is(err, wallet.ErrDuplicatePublicKey):
		return errcode.Wrap(errcode.DuplicatePublicKey, err, "public key already belongs to a wallet")
	case errors.Is(err, party.ErrBelowThreshold), errors.Is(err, wallet.ErrThresholdNotSet):
		return errcode.Wrap(errcode.KeyshareNodeInsufficient, err, "not enough active key-share nodes")
	case errors.Is(err, sss.ErrInsufficientShares):
		return errcode.Wrap(errcode.InsufficientShares, err, err.Error())
	}
	var re *network.RemoteError
	if errors.As(err, &re) && re.Status >= http.StatusBadRequest && re.Status < http.StatusInternalServerError {
		return errcode.Wrap(errcode.InvalidRequest, err, "engine rejected the round input")
	}
	return errcode.Wrap(errcode.Unknown, err, msg)
}

// finishStep classifies a step's error, records it and logs failures. It is
// deferred with a pointer to the named error result.
func finishStep(stage string, sessionID, walletID uuid.UUID, step int, started time.Time, errp *error) {
	code := "OK"
	if *errp != nil {
		e := classify(*errp, "internal error")
		*errp = e
		code = string(e.Code)
		entry := logger.Ceremony(stage, sessionID.String(), walletID.String(), step).WithField("code", code)
		if e.Code == errcode.Unknown {
			entry.Errorf("step failed: %v", e.Err)
		} else {
			entry.Warnf("step rejected: %s", e.Msg)
		}
	}
	metrics.RecordStep(stage, fmt.Sprint(step), code, started)
}
