package engine

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"tss-coordinator/internal/crypto/sharecipher"
	"tss-coordinator/internal/logger"
	"tss-coordinator/internal/network"
)

// KeyShareInfo is the HKDF context for key shares sent to the engine.
const KeyShareInfo = "tss-coordinator/engine-key-share/v1"

const (
	pathTriplesRound    = "/triples/round"
	pathTriplesFinalize = "/triples/finalize"
	pathPresignRound    = "/presign/round"
	pathPresignFinalize = "/presign/finalize"
	pathSignShare       = "/sign/share"
	pathSignCombine     = "/sign/combine"
)

type presignBody struct {
	RoundInput
	Triples        json.RawMessage `json:"triples,omitempty"`
	SealedKeyShare string          `json:"sealed_key_share,omitempty"`
	PublicKey      string          `json:"public_key,omitempty"`
}

type signBody struct {
	SignInput
	MessageHash string `json:"message_hash"`
}

// Client calls an engine sidecar over HTTP. Key shares never leave the
// process in the clear: they are sealed with a key shared with the sidecar.
type Client struct {
	transport network.Transport
	baseURL   string
	timeout   time.Duration
	sealer    *sharecipher.Cipher
}

// NewClient creates an engine client for the sidecar at baseURL.
func NewClient(transport network.Transport, baseURL string, timeout time.Duration, sealer *sharecipher.Cipher) *Client {
	return &Client{
		transport: transport,
		baseURL:   strings.TrimRight(baseURL, "/"),
		timeout:   timeout,
		sealer:    sealer,
	}
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.transport.PostJSON(ctx, c.baseURL+path, in, out); err != nil {
		logger.Log.Errorf("[engine] %s failed: %v", path, err)
		return fmt.Errorf("engine %s: %w", path, err)
	}
	return nil
}

func (c *Client) TriplesRound(ctx context.Context, in RoundInput) (*RoundOutput, error) {
	var out RoundOutput
	if err := c.post(ctx, pathTriplesRound, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) TriplesFinalize(ctx context.Context, in RoundInput) (*TriplesResult, error) {
	var out TriplesResult
	if err := c.post(ctx, pathTriplesFinalize, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) PresignRound(ctx context.Context, in PresignInput) (*RoundOutput, error) {
	body := presignBody{RoundInput: in.RoundInput, Triples: in.Triples}
	if len(in.KeyShare) > 0 {
		sealed, err := c.sealer.Seal(in.KeyShare, in.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("failed to seal key share: %w", err)
		}
		body.SealedKeyShare = sealed
		body.PublicKey = hex.EncodeToString(in.PublicKey)
	}
	var out RoundOutput
	if err := c.post(ctx, pathPresignRound, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) PresignFinalize(ctx context.Context, in RoundInput) (*PresignResult, error) {
	var out PresignResult
	if err := c.post(ctx, pathPresignFinalize, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SignShare(ctx context.Context, in SignInput) (*RoundOutput, error) {
	body := signBody{SignInput: in, MessageHash: hex.EncodeToString(in.MessageHash)}
	var out RoundOutput
	if err := c.post(ctx, pathSignShare, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SignCombine(ctx context.Context, in RoundInput) (*Signature, error) {
	var out Signature
	if err := c.post(ctx, pathSignCombine, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
