package tss

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"

	"tss-coordinator/internal/engine"
)

// fakeEngine stands in for the engine sidecar. It knows the whole wallet key
// and a fixed nonce, so the signatures it combines are real ECDSA signatures.
type fakeEngine struct {
	mu         sync.Mutex
	x          *big.Int
	k          *big.Int
	commitment string
	keyShares  [][]byte
	calls      map[string]int
}

type fakeState struct {
	Kind  string `json:"kind"`
	Round int    `json:"round"`
	Hash  string `json:"hash,omitempty"`
	Nonce string `json:"nonce,omitempty"`
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		k:          new(big.Int).SetBytes([]byte("deterministic presign nonce....")),
		commitment: hex.EncodeToString([]byte("triple commitment")),
		calls:      make(map[string]int),
	}
}

func (f *fakeEngine) setKey(priv *btcec.PrivateKey) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.x = new(big.Int).SetBytes(priv.Serialize())
}

func (f *fakeEngine) called(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeEngine) bigR() string {
	_, r := btcec.PrivKeyFromBytes(f.k.FillBytes(make([]byte, 32)))
	return hex.EncodeToString(r.SerializeCompressed())
}

// signature is what an honest client combines for hash.
func (f *fakeEngine) signature(hash []byte) (string, string) {
	f.mu.Lock()
	x := f.x
	f.mu.Unlock()

	n := btcec.S256().N
	raw, _ := hex.DecodeString(f.bigR())
	pt, _ := btcec.ParsePubKey(raw)
	r := new(big.Int).Mod(pt.X(), n)
	s := new(big.Int).Mul(r, x)
	s.Add(s, new(big.Int).SetBytes(hash))
	s.Mul(s, new(big.Int).ModInverse(f.k, n))
	s.Mod(s, n)
	return hex.EncodeToString(raw), hex.EncodeToString(s.FillBytes(make([]byte, 32)))
}

func (f *fakeEngine) round(op, kind string, in engine.RoundInput) (*engine.RoundOutput, error) {
	f.mu.Lock()
	f.calls[op]++
	f.mu.Unlock()

	var prev fakeState
	if len(in.State) > 0 {
		if err := json.Unmarshal(in.State, &prev); err != nil {
			return nil, err
		}
	}
	if prev.Round != in.Step-1 || (in.Step > 1 && prev.Kind != kind) {
		return nil, fmt.Errorf("%s round %d after %s round %d", kind, in.Step, prev.Kind, prev.Round)
	}
	if len(in.Messages) == 0 {
		return nil, errors.New("no messages")
	}
	state, _ := json.Marshal(fakeState{Kind: kind, Round: in.Step})
	msgs, _ := json.Marshal(map[string]any{"kind": kind, "round": in.Step})
	return &engine.RoundOutput{State: state, Messages: msgs}, nil
}

func (f *fakeEngine) last(in engine.RoundInput, kind string, round int) error {
	var prev fakeState
	if err := json.Unmarshal(in.State, &prev); err != nil {
		return err
	}
	if prev.Kind != kind || prev.Round != round {
		return fmt.Errorf("cannot finalize %s from %s round %d", kind, prev.Kind, prev.Round)
	}
	return nil
}

func (f *fakeEngine) TriplesRound(_ context.Context, in engine.RoundInput) (*engine.RoundOutput, error) {
	return f.round("triples", "triples", in)
}

func (f *fakeEngine) TriplesFinalize(_ context.Context, in engine.RoundInput) (*engine.TriplesResult, error) {
	if err := f.last(in, "triples", 10); err != nil {
		return nil, err
	}
	return &engine.TriplesResult{Result: json.RawMessage(`{"triples":"material"}`), Commitment: f.commitment}, nil
}

func (f *fakeEngine) PresignRound(_ context.Context, in engine.PresignInput) (*engine.RoundOutput, error) {
	if in.Step == 1 {
		if len(in.Triples) == 0 || len(in.KeyShare) != 32 || len(in.PublicKey) != 33 {
			return nil, errors.New("presign needs triples, key share and public key")
		}
		f.mu.Lock()
		f.keyShares = append(f.keyShares, append([]byte(nil), in.KeyShare...))
		f.mu.Unlock()
	}
	return f.round("presign", "presign", in.RoundInput)
}

func (f *fakeEngine) PresignFinalize(_ context.Context, in engine.RoundInput) (*engine.PresignResult, error) {
	if err := f.last(in, "presign", 2); err != nil {
		return nil, err
	}
	result, _ := json.Marshal(fakeState{Kind: "presign", Nonce: f.k.Text(16)})
	return &engine.PresignResult{Result: result, BigR: f.bigR()}, nil
}

func (f *fakeEngine) SignShare(_ context.Context, in engine.SignInput) (*engine.RoundOutput, error) {
	var presign fakeState
	if err := json.Unmarshal(in.Presign, &presign); err != nil || presign.Nonce == "" {
		return nil, errors.New("sign needs a presign result")
	}
	if len(in.MessageHash) != 32 {
		return nil, errors.New("sign needs a 32 byte hash")
	}
	state, _ := json.Marshal(fakeState{Kind: "sign", Round: 1, Hash: hex.EncodeToString(in.MessageHash)})
	return &engine.RoundOutput{State: state, Messages: json.RawMessage(`{"kind":"sign","round":1}`)}, nil
}

func (f *fakeEngine) SignCombine(_ context.Context, in engine.RoundInput) (*engine.Signature, error) {
	var st fakeState
	if err := json.Unmarshal(in.State, &st); err != nil {
		return nil, err
	}
	if st.Kind != "sign" || st.Round != 1 {
		return nil, errors.New("cannot combine without a signature share")
	}
	hash, _ := hex.DecodeString(st.Hash)
	r, s := f.signature(hash)
	return &engine.Signature{BigR: r, S: s}, nil
}

var _ engine.Engine = (*fakeEngine)(nil)
