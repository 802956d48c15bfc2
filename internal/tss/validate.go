package tss

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"tss-coordinator/internal/auth"
	"tss-coordinator/internal/errcode"
	"tss-coordinator/internal/session"
	"tss-coordinator/internal/wallet"
)

// stepState is everything a validated step works on.
type stepState struct {
	wallet *wallet.Wallet
	sess   *session.Session
	stage  session.Stage
	// prior is the completed stage the ceremony depends on, if any.
	prior    *session.Stage
	from, to session.Status
}

// ownedWallet loads an active wallet and checks that the caller owns it.
func (s *Service) ownedWallet(ctx context.Context, caller auth.Caller, walletID uuid.UUID) (*wallet.Wallet, error) {
	if walletID == uuid.Nil {
		return nil, errcode.New(errcode.InvalidRequest, "wallet_id is required")
	}
	w, err := s.wallets.GetWallet(ctx, walletID)
	if err != nil {
		return nil, err
	}
	if w.UserID != caller.UserID {
		return nil, errcode.New(errcode.Unauthorized, "wallet does not belong to the caller")
	}
	if w.Status != wallet.StatusActive {
		return nil, errcode.New(errcode.WalletNotFound, "wallet %s is not active", w.ID)
	}
	return w, nil
}

// boundSession loads a session and checks that it belongs to w and to the
// caller's customer and is still in progress.
func (s *Service) boundSession(ctx context.Context, caller auth.Caller, w *wallet.Wallet, sessionID uuid.UUID) (*session.Session, error) {
	if sessionID == uuid.Nil {
		return nil, errcode.New(errcode.InvalidTssSession, "session_id is required")
	}
	sess, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.WalletID != w.ID {
		return nil, errcode.New(errcode.InvalidTssSession, "session does not belong to wallet %s", w.ID)
	}
	if sess.CustomerID != caller.CustomerID {
		return nil, errcode.New(errcode.Unauthorized, "session belongs to another customer")
	}
	if sess.State != session.StateInProgress {
		return nil, errcode.New(errcode.InvalidTssSession, "session is %s", sess.State)
	}
	return sess, nil
}

// loadStep validates a step after the first: the stage must exist and hold
// exactly the status the step advances from.
func (s *Service) loadStep(ctx context.Context, caller auth.Caller, t session.StageType, step int, walletID, sessionID uuid.UUID) (*stepState, error) {
	from, to, err := t.Transition(step)
	if err != nil {
		return nil, errcode.Wrap(errcode.InvalidRequest, err, "unknown step")
	}
	w, err := s.ownedWallet(ctx, caller, walletID)
	if err != nil {
		return nil, err
	}
	sess, err := s.boundSession(ctx, caller, w, sessionID)
	if err != nil {
		return nil, err
	}
	sws, err := s.sessions.GetStageWithSession(ctx, sess.ID, t)
	if err != nil {
		return nil, err
	}
	if sws.Stage.Status != from {
		return nil, errcode.New(errcode.InvalidTssStage, "%s stage is at %s, step %d needs %s", t, sws.Stage.Status, step, from)
	}
	return &stepState{wallet: w, sess: sess, stage: sws.Stage, from: from, to: to}, nil
}

// loadFirstStep validates step 1 of a stage on an existing session: the
// stage it depends on must be completed and the stage itself must not exist yet.
func (s *Service) loadFirstStep(ctx context.Context, caller auth.Caller, t session.StageType, walletID, sessionID uuid.UUID) (*stepState, error) {
	_, to, err := t.Transition(1)
	if err != nil {
		return nil, errcode.Wrap(errcode.InvalidRequest, err, "unknown step")
	}
	w, err := s.ownedWallet(ctx, caller, walletID)
	if err != nil {
		return nil, err
	}
	sess, err := s.boundSession(ctx, caller, w, sessionID)
	if err != nil {
		return nil, err
	}
	st := &stepState{wallet: w, sess: sess, to: to}

	if prev, ok := t.Requires(); ok {
		sws, err := s.sessions.GetStageWithSession(ctx, sess.ID, prev)
		if err != nil && !errors.Is(err, session.ErrStageNotFound) {
			return nil, err
		}
		if err != nil || sws.Stage.Status != session.StatusCompleted {
			return nil, errcode.New(errcode.InvalidTssStage, "%s stage must be completed before %s", prev, t)
		}
		st.prior = &sws.Stage
	}

	_, err = s.sessions.GetStageWithSession(ctx, sess.ID, t)
	switch {
	case err == nil:
		return nil, errcode.New(errcode.InvalidTssStage, "%s stage already exists for session %s", t, sess.ID)
	case !errors.Is(err, session.ErrStageNotFound):
		return nil, err
	}
	return st, nil
}

// createStage stores step 1 of a stage on a validated session.
func (s *Service) createStage(ctx context.Context, st *stepState, t session.StageType, data session.StageData) error {
	return s.sessions.CreateStage(ctx, &session.Stage{
		SessionID: st.sess.ID,
		Type:      t,
		Status:    st.to,
		Data:      data,
	})
}

// advance moves a validated stage forward. The store rejects the write if
// another request advanced the stage in the meantime.
func (s *Service) advance(ctx context.Context, st *stepState, t session.StageType, data session.StageData, completeSession bool) error {
	return s.sessions.AdvanceStage(ctx, session.Advance{
		SessionID:       st.sess.ID,
		Type:            t,
		From:            st.from,
		To:              st.to,
		Data:            data,
		CompleteSession: completeSession,
	})
}
