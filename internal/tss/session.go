package tss

import (
	"context"
	"time"

	"github.com/google/uuid"

	"tss-coordinator/internal/auth"
	"tss-coordinator/internal/curve"
	"tss-coordinator/internal/dto"
	"tss-coordinator/internal/errcode"
	"tss-coordinator/internal/logger"
	"tss-coordinator/internal/session"
	"tss-coordinator/internal/wallet"
)

const stageSession = "SESSION"

// requireECDSA rejects wallets whose curve has no triples/presign/sign flow.
func requireECDSA(w *wallet.Wallet) error {
	if w.Curve != curve.Secp256k1 {
		return errcode.New(errcode.InvalidRequest, "%s wallets do not support ECDSA ceremonies", w.Curve)
	}
	return nil
}

// CreateSession opens an empty session for a wallet. Triples step 1 can also
// open one on its own.
func (s *Service) CreateSession(ctx context.Context, caller auth.Caller, req dto.CreateSessionRequest) (resp *dto.SessionResponse, err error) {
	defer finishStep(stageSession, uuid.Nil, req.WalletID, 0, time.Now(), &err)

	w, err := s.ownedWallet(ctx, caller, req.WalletID)
	if err != nil {
		return nil, err
	}
	if err := requireECDSA(w); err != nil {
		return nil, err
	}
	sess := &session.Session{WalletID: w.ID, CustomerID: caller.CustomerID, State: session.StateInProgress}
	if err := s.sessions.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	logger.Ceremony(stageSession, sess.ID.String(), w.ID.String(), 0).Info("session created")
	return sessionResponse(sess), nil
}

// AbortSession fails an in-progress session. Later steps on it are rejected.
func (s *Service) AbortSession(ctx context.Context, caller auth.Caller, req dto.AbortSessionRequest) (resp *dto.SessionResponse, err error) {
	defer finishStep(stageSession, req.SessionID, req.WalletID, 0, time.Now(), &err)

	w, err := s.ownedWallet(ctx, caller, req.WalletID)
	if err != nil {
		return nil, err
	}
	unlock := s.locks.Lock(req.SessionID)
	defer unlock()

	sess, err := s.boundSession(ctx, caller, w, req.SessionID)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.UpdateSessionState(ctx, sess.ID, session.StateInProgress, session.StateFailed); err != nil {
		return nil, err
	}
	sess.State = session.StateFailed
	logger.Ceremony(stageSession, sess.ID.String(), w.ID.String(), 0).Info("session aborted")
	return sessionResponse(sess), nil
}

func sessionResponse(s *session.Session) *dto.SessionResponse {
	return &dto.SessionResponse{SessionID: s.ID, WalletID: s.WalletID, SessionState: string(s.State)}
}
