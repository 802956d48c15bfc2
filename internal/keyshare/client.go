// Package keyshare talks to the externally operated key-share nodes.
//
// Every operation is a parallel fan-out with a per-call timeout and no
// retries: a failed partial fan-out is reported to the caller, which decides
// whether to repeat the whole operation.
package keyshare

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"tss-coordinator/internal/curve"
	"tss-coordinator/internal/logger"
	"tss-coordinator/internal/metrics"
	"tss-coordinator/internal/network"
	"tss-coordinator/internal/party"
	"tss-coordinator/internal/sss"
)

const (
	pathRegister        = "/keyshare/v1/register"
	pathRequest         = "/keyshare/v1"
	pathReshare         = "/keyshare/v1/reshare"
	pathRegisterReshare = "/keyshare/v1/register/reshare"
	pathStatus          = "/status"

	CodeWalletNotFound = "WALLET_NOT_FOUND"
	CodeDuplicate      = "DUPLICATE_PUBLIC_KEY"
	CodeFetchFailed    = "FETCH_FAILED"
)

// ErrWalletNotFound marks a node that has no share for the wallet, which
// usually means the node lost data.
var ErrWalletNotFound = errors.New("key-share node has no share for wallet")

// Identity names the user whose fragment a node stores.
type Identity struct {
	AuthType   string
	UserAuthID string
}

// NodeError is the failure of one node in a fan-out.
type NodeError struct {
	Node party.Node
	Code string
	Err  error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s (%s): %s: %v", e.Node.Name, e.Node.Endpoint, e.Code, e.Err)
}

func (e *NodeError) Unwrap() error { return e.Err }

func (e *NodeError) Is(target error) bool {
	return target == ErrWalletNotFound && e.Code == CodeWalletNotFound
}

// RequestError reports a share request that did not reach the threshold.
type RequestError struct {
	Got      int
	Need     int
	Failures []*NodeError
}

func (e *RequestError) Error() string {
	msgs := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		msgs[i] = f.Error()
	}
	return fmt.Sprintf("insufficient shares: got %d, need %d; failures: [%s]", e.Got, e.Need, strings.Join(msgs, "; "))
}

func (e *RequestError) Is(target error) bool { return target == sss.ErrInsufficientShares }

// MissingNodes lists the nodes that reported WALLET_NOT_FOUND.
func (e *RequestError) MissingNodes() []party.Node {
	var out []party.Node
	for _, f := range e.Failures {
		if f.Code == CodeWalletNotFound {
			out = append(out, f.Node)
		}
	}
	return out
}

// CurveShare is one node's share of the fragment of one wallet.
type CurveShare struct {
	Curve     curve.Curve
	PublicKey []byte
	Share     sss.Share
}

type shareBody struct {
	UserAuthID string      `json:"user_auth_id"`
	AuthType   string      `json:"auth_type"`
	CurveType  curve.Curve `json:"curve_type"`
	PublicKey  string      `json:"public_key"`
	Share      string      `json:"share,omitempty"`
}

type walletShareBody struct {
	CurveType curve.Curve `json:"curve_type"`
	PublicKey string      `json:"public_key"`
	Share     string      `json:"share"`
}

type reshareBody struct {
	UserAuthID string            `json:"user_auth_id"`
	AuthType   string            `json:"auth_type"`
	Wallets    []walletShareBody `json:"wallets"`
}

type shareReply struct {
	Share string `json:"share"`
}

// NodeStatus is the health of one node.
type NodeStatus struct {
	Node    party.Node `json:"node"`
	Healthy bool       `json:"healthy"`
	Error   string     `json:"error,omitempty"`
}

// Client performs key-share node fan-outs.
type Client struct {
	transport network.Transport
	timeout   time.Duration
}

// NewClient creates a client whose node calls each get timeout.
func NewClient(transport network.Transport, timeout time.Duration) *Client {
	return &Client{transport: transport, timeout: timeout}
}

// fanOut runs call against every node in parallel and returns the per-node
// errors, in node order. A failing node does not stop the others.
func (c *Client) fanOut(ctx context.Context, op string, nodes []party.Node, call func(ctx context.Context, i int, n party.Node) error) []error {
	errs := make([]error, len(nodes))
	var g errgroup.Group
	for i, n := range nodes {
		i, n := i, n
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			err := call(callCtx, i, n)
			metrics.RecordNodeRequest(op, n.Name, err)
			if err != nil {
				logger.Log.Warnf("[keyshare] %s on node %s failed: %v", op, n.Name, err)
			}
			errs[i] = err
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

// RegisterShares writes each node's share. Every write must succeed; otherwise
// the returned error lists every failing node and the caller must not activate the wallet.
func (c *Client) RegisterShares(ctx context.Context, id Identity, crv curve.Curve, publicKey []byte, shares []sss.NodeShare) error {
	nodes := make([]party.Node, len(shares))
	for i, s := range shares {
		nodes[i] = s.Node
	}
	errs := c.fanOut(ctx, "register", nodes, func(ctx context.Context, i int, n party.Node) error {
		body := shareBody{
			UserAuthID: id.UserAuthID,
			AuthType:   id.AuthType,
			CurveType:  crv,
			PublicKey:  hex.EncodeToString(publicKey),
			Share:      shares[i].Share.Encode(crv),
		}
		return c.transport.PostJSON(ctx, n.Endpoint+pathRegister, body, nil)
	})

	var result *multierror.Error
	for i, err := range errs {
		if err != nil {
			result = multierror.Append(result, classify(nodes[i], err))
		}
	}
	return result.ErrorOrNil()
}

// RequestShares asks every node for its share and succeeds once at least
// threshold nodes answered with a usable one.
func (c *Client) RequestShares(ctx context.Context, nodes []party.Node, threshold int, id Identity, crv curve.Curve, publicKey []byte) ([]sss.NodeShare, error) {
	got := make([]*sss.NodeShare, len(nodes))
	errs := c.fanOut(ctx, "request", nodes, func(ctx context.Context, i int, n party.Node) error {
		body := shareBody{
			UserAuthID: id.UserAuthID,
			AuthType:   id.AuthType,
			CurveType:  crv,
			PublicKey:  hex.EncodeToString(publicKey),
		}
		var reply shareReply
		if err := c.transport.PostJSON(ctx, n.Endpoint+pathRequest, body, &reply); err != nil {
			return err
		}
		share, err := sss.DecodeShare(crv, reply.Share)
		if err != nil {
			return err
		}
		if share.X.Cmp(party.NodeIndex(n.Name, crv)) != 0 {
			return fmt.Errorf("share index does not belong to node %s", n.Name)
		}
		got[i] = &sss.NodeShare{Node: n, Share: share}
		return nil
	})

	var (
		shares   []sss.NodeShare
		failures []*NodeError
	)
	for i, err := range errs {
		if err == nil {
			shares = append(shares, *got[i])
			continue
		}
		failures = append(failures, classify(nodes[i], err))
	}
	if len(shares) < threshold {
		return nil, &RequestError{Got: len(shares), Need: threshold, Failures: failures}
	}
	return shares, nil
}

func classify(n party.Node, err error) *NodeError {
	var re *network.RemoteError
	if errors.As(err, &re) && (re.Code == CodeWalletNotFound || re.Code == CodeDuplicate) {
		return &NodeError{Node: n, Code: re.Code, Err: err}
	}
	return &NodeError{Node: n, Code: CodeFetchFailed, Err: err}
}

// ReshareShares sends replacement shares to a node that already holds the user's fragments.
func (c *Client) ReshareShares(ctx context.Context, node party.Node, id Identity, shares []CurveShare) error {
	return c.sendReshare(ctx, "reshare", pathReshare, node, id, shares)
}

// RegisterReshare seeds a node that has never held the user's fragments.
func (c *Client) RegisterReshare(ctx context.Context, node party.Node, id Identity, shares []CurveShare) error {
	return c.sendReshare(ctx, "register_reshare", pathRegisterReshare, node, id, shares)
}

func (c *Client) sendReshare(ctx context.Context, op, path string, node party.Node, id Identity, shares []CurveShare) error {
	body := reshareBody{UserAuthID: id.UserAuthID, AuthType: id.AuthType}
	for _, s := range shares {
		body.Wallets = append(body.Wallets, walletShareBody{
			CurveType: s.Curve,
			PublicKey: hex.EncodeToString(s.PublicKey),
			Share:     s.Share.Encode(s.Curve),
		})
	}
	errs := c.fanOut(ctx, op, []party.Node{node}, func(ctx context.Context, _ int, n party.Node) error {
		return c.transport.PostJSON(ctx, n.Endpoint+path, body, nil)
	})
	if errs[0] != nil {
		return &NodeError{Node: node, Code: CodeFetchFailed, Err: errs[0]}
	}
	return nil
}

// Status pings every node.
func (c *Client) Status(ctx context.Context, nodes []party.Node) []NodeStatus {
	errs := c.fanOut(ctx, "status", nodes, func(ctx context.Context, _ int, n party.Node) error {
		return c.transport.GetJSON(ctx, n.Endpoint+pathStatus, nil)
	})
	out := make([]NodeStatus, len(nodes))
	for i, err := range errs {
		out[i] = NodeStatus{Node: nodes[i], Healthy: err == nil}
		if err != nil {
			out[i].Error = err.Error()
		}
	}
	return out
}
