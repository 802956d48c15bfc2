package tss

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"

	"tss-coordinator/internal/auth"
	"tss-coordinator/internal/dto"
	"tss-coordinator/internal/engine"
	"tss-coordinator/internal/errcode"
	"tss-coordinator/internal/logger"
	"tss-coordinator/internal/session"
)

const messageHashSize = 32

var errBadSignature = errors.New("signature does not verify")

// Sign runs one step of the sign ceremony. Step 1 needs the session's PRESIGN
// stage to be completed and produces the coordinator's signature share; step 2
// combines the signature, compares it with the caller's and completes the session.
func (s *Service) Sign(ctx context.Context, caller auth.Caller, step int, req dto.SignRequest) (resp *dto.StepResponse, err error) {
	defer finishStep(string(session.StageSign), req.SessionID, req.WalletID, step, time.Now(), &err)

	if err := requireMessages(req.Messages); err != nil {
		return nil, err
	}
	unlock := s.locks.Lock(req.SessionID)
	defer unlock()

	if step == 1 {
		return s.startSign(ctx, caller, req)
	}

	st, err := s.loadStep(ctx, caller, session.StageSign, step, req.WalletID, req.SessionID)
	if err != nil {
		return nil, err
	}
	data, ok := st.stage.Data.(session.SignData)
	if !ok {
		return nil, fmt.Errorf("sign stage of session %s holds %T", req.SessionID, st.stage.Data)
	}
	sig, err := s.engine.SignCombine(ctx, engine.RoundInput{
		Curve:    st.wallet.Curve,
		Step:     step,
		State:    data.State,
		Messages: req.Messages,
	})
	if err != nil {
		return nil, err
	}
	if sig.BigR == "" || sig.S == "" {
		return nil, fmt.Errorf("engine combined an empty signature")
	}
	if !sameHex(sig.BigR, req.BigR) || !sameHex(sig.S, req.S) {
		return nil, errcode.New(errcode.InvalidTssSignResult, "signature does not match")
	}
	hash, err := hex.DecodeString(data.MessageHash)
	if err != nil {
		return nil, fmt.Errorf("stored message hash: %w", err)
	}
	if err := VerifySignature(st.wallet.PublicKey, hash, sig.BigR, sig.S); err != nil {
		return nil, errcode.Wrap(errcode.InvalidTssSignResult, err, "signature does not verify against the wallet key")
	}

	data.BigR, data.S = sig.BigR, sig.S
	data.State = nil
	if err := s.advance(ctx, st, session.StageSign, data, true); err != nil {
		return nil, err
	}
	logger.Ceremony(string(session.StageSign), st.sess.ID.String(), st.wallet.ID.String(), step).Info("signature completed")
	resp = stepResponse(st.sess.ID, session.StageSign, st.to, nil)
	resp.BigR, resp.S = sig.BigR, sig.S
	return resp, nil
}

func (s *Service) startSign(ctx context.Context, caller auth.Caller, req dto.SignRequest) (*dto.StepResponse, error) {
	hash, err := hex.DecodeString(req.MessageHash)
	if err != nil || len(hash) != messageHashSize {
		return nil, errcode.New(errcode.InvalidRequest, "message_hash must be %d bytes of hex", messageHashSize)
	}
	st, err := s.loadFirstStep(ctx, caller, session.StageSign, req.WalletID, req.SessionID)
	if err != nil {
		return nil, err
	}
	if err := requireECDSA(st.wallet); err != nil {
		return nil, err
	}
	presign, ok := st.prior.Data.(session.PresignData)
	if !ok || len(presign.Result) == 0 {
		return nil, errcode.New(errcode.InvalidTssStage, "presign stage has no result")
	}

	out, err := s.engine.SignShare(ctx, engine.SignInput{
		Curve:       st.wallet.Curve,
		Presign:     presign.Result,
		MessageHash: hash,
	})
	if err != nil {
		return nil, err
	}
	data := session.SignData{State: out.State, MessageHash: hex.EncodeToString(hash), BigR: presign.BigR}
	if err := s.createStage(ctx, st, session.StageSign, data); err != nil {
		return nil, err
	}
	return stepResponse(st.sess.ID, session.StageSign, st.to, out.Messages), nil
}

// VerifySignature checks an ECDSA signature over hash against a compressed
// secp256k1 public key. bigR is the nonce point; r is its x coordinate mod N.
func VerifySignature(publicKey, hash []byte, bigRHex, sHex string) error {
	pk, err := btcec.ParsePubKey(publicKey)
	if err != nil {
		return fmt.Errorf("invalid public key: %w", err)
	}
	rRaw, err := hex.DecodeString(bigRHex)
	if err != nil {
		return fmt.Errorf("invalid big_r hex: %w", err)
	}
	bigR, err := btcec.ParsePubKey(rRaw)
	if err != nil {
		return fmt.Errorf("invalid big_r point: %w", err)
	}
	sRaw, err := hex.DecodeString(sHex)
	if err != nil {
		return fmt.Errorf("invalid s hex: %w", err)
	}

	n := btcec.S256().N
	r := new(big.Int).Mod(bigR.X(), n)
	sv := new(big.Int).SetBytes(sRaw)
	if sv.Sign() == 0 || sv.Cmp(n) >= 0 {
		return errBadSignature
	}
	if !ecdsa.Verify(pk.ToECDSA(), hash, r, sv) {
		return errBadSignature
	}
	return nil
}
