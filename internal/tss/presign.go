package tss

import (
	"context"
	"fmt"
	"time"

	"tss-coordinator/internal/auth"
	"tss-coordinator/internal/dto"
	"tss-coordinator/internal/engine"
	"tss-coordinator/internal/errcode"
	"tss-coordinator/internal/logger"
	"tss-coordinator/internal/session"
	"tss-coordinator/internal/wallet"
)

// Presign runs one step of the presign ceremony. Step 1 needs the session's
// TRIPLES stage to be completed; the last step checks the caller's big_r
// against the one derived here.
func (s *Service) Presign(ctx context.Context, caller auth.Caller, step int, req dto.PresignRequest) (resp *dto.StepResponse, err error) {
	defer finishStep(string(session.StagePresign), req.SessionID, req.WalletID, step, time.Now(), &err)

	if err := requireMessages(req.Messages); err != nil {
		return nil, err
	}
	unlock := s.locks.Lock(req.SessionID)
	defer unlock()

	if step == 1 {
		return s.startPresign(ctx, caller, req)
	}

	st, err := s.loadStep(ctx, caller, session.StagePresign, step, req.WalletID, req.SessionID)
	if err != nil {
		return nil, err
	}
	data, ok := st.stage.Data.(session.PresignData)
	if !ok {
		return nil, fmt.Errorf("presign stage of session %s holds %T", req.SessionID, st.stage.Data)
	}
	in := engine.RoundInput{Curve: st.wallet.Curve, Step: step, State: data.State, Messages: req.Messages}

	if st.to != session.StatusCompleted {
		out, err := s.engine.PresignRound(ctx, engine.PresignInput{RoundInput: in})
		if err != nil {
			return nil, err
		}
		if err := s.advance(ctx, st, session.StagePresign, session.PresignData{State: out.State}, false); err != nil {
			return nil, err
		}
		return stepResponse(st.sess.ID, session.StagePresign, st.to, out.Messages), nil
	}

	res, err := s.engine.PresignFinalize(ctx, in)
	if err != nil {
		return nil, err
	}
	if res.BigR == "" || len(res.Result) == 0 {
		return nil, fmt.Errorf("engine finalized presign without big_r")
	}
	if !sameHex(res.BigR, req.BigR) {
		return nil, errcode.New(errcode.InvalidTssPresignResult, "presign big_r does not match")
	}
	if err := s.advance(ctx, st, session.StagePresign, session.PresignData{Result: res.Result, BigR: res.BigR}, false); err != nil {
		return nil, err
	}
	logger.Ceremony(string(session.StagePresign), st.sess.ID.String(), st.wallet.ID.String(), step).Info("presign completed")
	resp = stepResponse(st.sess.ID, session.StagePresign, st.to, nil)
	resp.BigR = res.BigR
	return resp, nil
}

func (s *Service) startPresign(ctx context.Context, caller auth.Caller, req dto.PresignRequest) (*dto.StepResponse, error) {
	st, err := s.loadFirstStep(ctx, caller, session.StagePresign, req.WalletID, req.SessionID)
	if err != nil {
		return nil, err
	}
	if err := requireECDSA(st.wallet); err != nil {
		return nil, err
	}
	triples, ok := st.prior.Data.(session.TriplesData)
	if !ok || len(triples.Result) == 0 {
		return nil, errcode.New(errcode.InvalidTssStage, "triples stage has no result")
	}

	keyShare, err := s.openFragment(st.wallet)
	if err != nil {
		return nil, err
	}
	defer wipe(keyShare)

	out, err := s.engine.PresignRound(ctx, engine.PresignInput{
		RoundInput: engine.RoundInput{Curve: st.wallet.Curve, Step: 1, Messages: req.Messages},
		Triples:    triples.Result,
		KeyShare:   keyShare,
		PublicKey:  st.wallet.PublicKey,
	})
	if err != nil {
		return nil, err
	}
	if err := s.createStage(ctx, st, session.StagePresign, session.PresignData{State: out.State}); err != nil {
		return nil, err
	}
	return stepResponse(st.sess.ID, session.StagePresign, st.to, out.Messages), nil
}

// openFragment decrypts the coordinator's fragment of w. Callers wipe it.
func (s *Service) openFragment(w *wallet.Wallet) ([]byte, error) {
	key, err := s.fragments.Open(w.EncryptedFragment, w.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to open fragment of wallet %s: %w", w.ID, err)
	}
	return key, nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
