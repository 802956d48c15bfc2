package tss

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"tss-coordinator/internal/auth"
	"tss-coordinator/internal/dto"
	"tss-coordinator/internal/engine"
	"tss-coordinator/internal/errcode"
	"tss-coordinator/internal/logger"
	"tss-coordinator/internal/session"
)

// Triples runs one step of the triples ceremony. Step 1 without a session id
// opens a new session; every other step continues the session's TRIPLES stage.
func (s *Service) Triples(ctx context.Context, caller auth.Caller, step int, req dto.TriplesRequest) (resp *dto.StepResponse, err error) {
	var sessionID uuid.UUID
	if req.SessionID != nil {
		sessionID = *req.SessionID
	}
	defer finishStep(string(session.StageTriples), sessionID, req.WalletID, step, time.Now(), &err)

	if err := requireMessages(req.Messages); err != nil {
		return nil, err
	}
	if step == 1 && sessionID == uuid.Nil {
		return s.openTriples(ctx, caller, req)
	}
	if sessionID == uuid.Nil {
		return nil, errcode.New(errcode.InvalidTssSession, "session_id is required")
	}
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	if step == 1 {
		return s.startTriples(ctx, caller, sessionID, req)
	}

	st, err := s.loadStep(ctx, caller, session.StageTriples, step, req.WalletID, sessionID)
	if err != nil {
		return nil, err
	}
	if err := requireECDSA(st.wallet); err != nil {
		return nil, err
	}
	data, ok := st.stage.Data.(session.TriplesData)
	if !ok {
		return nil, fmt.Errorf("triples stage of session %s holds %T", sessionID, st.stage.Data)
	}
	in := engine.RoundInput{Curve: st.wallet.Curve, Step: step, State: data.State, Messages: req.Messages}

	if st.to != session.StatusCompleted {
		out, err := s.engine.TriplesRound(ctx, in)
		if err != nil {
			return nil, err
		}
		if err := s.advance(ctx, st, session.StageTriples, session.TriplesData{State: out.State}, false); err != nil {
			return nil, err
		}
		return stepResponse(st.sess.ID, session.StageTriples, st.to, out.Messages), nil
	}

	res, err := s.engine.TriplesFinalize(ctx, in)
	if err != nil {
		return nil, err
	}
	if res.Commitment == "" || len(res.Result) == 0 {
		return nil, fmt.Errorf("engine finalized triples without a commitment")
	}
	if !sameHex(res.Commitment, req.Commitment) {
		return nil, errcode.New(errcode.InvalidTssTriplesResult, "triples commitment does not match")
	}
	done := session.TriplesData{Result: res.Result, Commitment: res.Commitment}
	if err := s.advance(ctx, st, session.StageTriples, done, false); err != nil {
		return nil, err
	}
	logger.Ceremony(string(session.StageTriples), st.sess.ID.String(), st.wallet.ID.String(), step).Info("triples completed")
	resp = stepResponse(st.sess.ID, session.StageTriples, st.to, nil)
	resp.Commitment = res.Commitment
	return resp, nil
}

// openTriples creates a session together with its TRIPLES stage.
func (s *Service) openTriples(ctx context.Context, caller auth.Caller, req dto.TriplesRequest) (*dto.StepResponse, error) {
	w, err := s.ownedWallet(ctx, caller, req.WalletID)
	if err != nil {
		return nil, err
	}
	if err := requireECDSA(w); err != nil {
		return nil, err
	}
	out, err := s.engine.TriplesRound(ctx, engine.RoundInput{Curve: w.Curve, Step: 1, Messages: req.Messages})
	if err != nil {
		return nil, err
	}
	sess := &session.Session{WalletID: w.ID, CustomerID: caller.CustomerID, State: session.StateInProgress}
	stage := &session.Stage{
		Type:   session.StageTriples,
		Status: session.StepStatus(1),
		Data:   session.TriplesData{State: out.State},
	}
	if err := s.sessions.CreateSessionWithStage(ctx, sess, stage); err != nil {
		return nil, err
	}
	logger.Ceremony(string(session.StageTriples), sess.ID.String(), w.ID.String(), 1).Info("session opened")
	return stepResponse(sess.ID, session.StageTriples, stage.Status, out.Messages), nil
}

// startTriples creates the TRIPLES stage on an existing session.
func (s *Service) startTriples(ctx context.Context, caller auth.Caller, sessionID uuid.UUID, req dto.TriplesRequest) (*dto.StepResponse, error) {
	st, err := s.loadFirstStep(ctx, caller, session.StageTriples, req.WalletID, sessionID)
	if err != nil {
		return nil, err
	}
	if err := requireECDSA(st.wallet); err != nil {
		return nil, err
	}
	out, err := s.engine.TriplesRound(ctx, engine.RoundInput{Curve: st.wallet.Curve, Step: 1, Messages: req.Messages})
	if err != nil {
		return nil, err
	}
	if err := s.createStage(ctx, st, session.StageTriples, session.TriplesData{State: out.State}); err != nil {
		return nil, err
	}
	return stepResponse(st.sess.ID, session.StageTriples, st.to, out.Messages), nil
}

func stepResponse(sessionID uuid.UUID, t session.StageType, status session.Status, messages json.RawMessage) *dto.StepResponse {
	return &dto.StepResponse{
		SessionID:   sessionID,
		StageType:   string(t),
		StageStatus: string(status),
		Messages:    messages,
	}
}

func requireMessages(m json.RawMessage) error {
	trimmed := bytes.TrimSpace(m)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return errcode.New(errcode.InvalidRequest, "messages are required")
	}
	return nil
}

// sameHex reports whether two hex strings encode the same non-empty bytes.
func sameHex(mine, theirs string) bool {
	a, err := hex.DecodeString(mine)
	if err != nil || len(a) == 0 {
		return false
	}
	b, err := hex.DecodeString(theirs)
	if err != nil {
		return false
	}
	return bytes.Equal(a, b)
}
