// Package engine is the boundary to the cryptographic engine that runs the
// ECDSA triples, presign and sign round algebra.
//
// The coordinator never interprets round state or peer messages; it threads
// them between the client and the engine and persists them between requests.
package engine

import (
	"context"
	"encoding/json"

	"tss-coordinator/internal/curve"
)

// RoundInput is one protocol round: the state left by the previous round and
// the messages the client relayed from its own engine.
type RoundInput struct {
	Curve    curve.Curve     `json:"curve_type"`
	Step     int             `json:"step"`
	State    json.RawMessage `json:"state,omitempty"`
	Messages json.RawMessage `json:"messages,omitempty"`
}

// RoundOutput is the state to persist and the messages to send back to the client.
type RoundOutput struct {
	State    json.RawMessage `json:"state"`
	Messages json.RawMessage `json:"messages"`
}

// TriplesResult is the outcome of the last triples round. Result is private
// triple material for presign, Commitment is the public triple commitment.
type TriplesResult struct {
	Result     json.RawMessage `json:"result"`
	Commitment string          `json:"commitment"`
}

// PresignInput starts or continues a presign. Triples and KeyShare are only
// read on the first round.
type PresignInput struct {
	RoundInput
	Triples   json.RawMessage `json:"triples,omitempty"`
	KeyShare  []byte          `json:"-"`
	PublicKey []byte          `json:"-"`
}

// PresignResult carries the presign output and its commitment point big_r,
// hex of the compressed point.
type PresignResult struct {
	Result json.RawMessage `json:"result"`
	BigR   string          `json:"big_r"`
}

// SignInput asks for the coordinator's signature share over MessageHash.
type SignInput struct {
	Curve       curve.Curve     `json:"curve_type"`
	Presign     json.RawMessage `json:"presign"`
	MessageHash []byte          `json:"-"`
}

// Signature is a combined ECDSA signature: big_r as a compressed point and s as a 32 byte scalar, both hex.
type Signature struct {
	BigR string `json:"big_r"`
	S    string `json:"s"`
}

// Engine runs protocol rounds. Implementations are stateless between calls.
type Engine interface {
	TriplesRound(ctx context.Context, in RoundInput) (*RoundOutput, error)
	TriplesFinalize(ctx context.Context, in RoundInput) (*TriplesResult, error)
	PresignRound(ctx context.Context, in PresignInput) (*RoundOutput, error)
	PresignFinalize(ctx context.Context, in RoundInput) (*PresignResult, error)
	SignShare(ctx context.Context, in SignInput) (*RoundOutput, error)
	SignCombine(ctx context.Context, in RoundInput) (*Signature, error)
}
