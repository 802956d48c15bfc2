// Package sss splits a key fragment into key-share node shares and recombines them.
//
// Sharing is Shamir over the scalar field of the wallet's curve, with Feldman
// commitments from tss-lib's vss package. A node's evaluation point is derived
// from its name, so a share is only meaningful together with the node that holds it.
package sss

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/big"
	"sort"

	"github.com/bnb-chain/tss-lib/v2/crypto/vss"

	"tss-coordinator/internal/curve"
	"tss-coordinator/internal/party"
)

var (
	ErrInsufficientShares = errors.New("INSUFFICIENT_SHARES")
	ErrInvalidThreshold   = errors.New("invalid threshold")
	ErrConflictingShares  = errors.New("conflicting shares for the same node index")
	ErrMalformedShare     = errors.New("malformed share")
	ErrCommitmentMismatch = errors.New("share does not match commitments")
	ErrNoConsistentSubset = errors.New("no threshold subset of shares rebuilds the expected secret")
)

// InsufficientError reports how many usable shares were available.
type InsufficientError struct {
	Got  int
	Need int
}

func (e *InsufficientError) Error() string {
	return fmt.Sprintf("insufficient shares: got %d, need %d", e.Got, e.Need)
}

func (e *InsufficientError) Is(target error) bool { return target == ErrInsufficientShares }

// Share is one point (X, Y) on the sharing polynomial.
type Share struct {
	X *big.Int
	Y *big.Int
}

// Encode serializes the share as hex of X||Y, 32 bytes each.
func (s Share) Encode(c curve.Curve) string {
	return hex.EncodeToString(append(c.ScalarBytes(s.X), c.ScalarBytes(s.Y)...))
}

// DecodeShare parses a share produced by Encode and checks it is in range.
func DecodeShare(c curve.Curve, encoded string) (Share, error) {
	raw, err := hex.DecodeString(encoded)
	if err != nil {
		return Share{}, fmt.Errorf("%w: %v", ErrMalformedShare, err)
	}
	size := c.ScalarSize()
	if len(raw) != 2*size {
		return Share{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrMalformedShare, 2*size, len(raw))
	}
	s := Share{
		X: new(big.Int).SetBytes(raw[:size]),
		Y: new(big.Int).SetBytes(raw[size:]),
	}
	if err := s.validate(c); err != nil {
		return Share{}, err
	}
	return s, nil
}

func (s Share) validate(c curve.Curve) error {
	n := c.Order()
	if s.X == nil || s.Y == nil {
		return fmt.Errorf("%w: missing coordinate", ErrMalformedShare)
	}
	if s.X.Sign() <= 0 || s.X.Cmp(n) >= 0 {
		return fmt.Errorf("%w: index out of range", ErrMalformedShare)
	}
	if s.Y.Sign() < 0 || s.Y.Cmp(n) >= 0 {
		return fmt.Errorf("%w: value out of range", ErrMalformedShare)
	}
	return nil
}

// NodeShare associates a share with the node that holds it. It lives in
// memory only; each node persists its own share.
type NodeShare struct {
	Node  party.Node
	Share Share
}

// SplitResult is the output of Split.
type SplitResult struct {
	Shares      []NodeShare
	Commitments vss.Vs
}

// Split shares secret across nodes so that any threshold of them recover it.
// Given the same rand stream the output is identical for the same secret and node order.
func Split(c curve.Curve, secret *big.Int, nodes []party.Node, threshold int, rand io.Reader) (*SplitResult, error) {
	if threshold < 2 {
		return nil, fmt.Errorf("%w: must be at least 2, got %d", ErrInvalidThreshold, threshold)
	}
	if len(nodes) < threshold {
		return nil, fmt.Errorf("%w: %d nodes for threshold %d", ErrInvalidThreshold, len(nodes), threshold)
	}
	if secret == nil || secret.Sign() <= 0 || secret.Cmp(c.Order()) >= 0 {
		return nil, errors.New("secret out of range")
	}

	ec := c.EC()
	degree := threshold - 1
	vs, shares, err := vss.Create(ec, degree, secret, party.Indexes(nodes, c), rand)
	if err != nil {
		return nil, fmt.Errorf("failed to split secret: %w", err)
	}

	out := make([]NodeShare, len(nodes))
	for i, sh := range shares {
		if !sh.Verify(ec, degree, vs) {
			return nil, fmt.Errorf("%w: node %s", ErrCommitmentMismatch, nodes[i].Name)
		}
		out[i] = NodeShare{Node: nodes[i], Share: Share{X: sh.ID, Y: sh.Share}}
	}
	return &SplitResult{Shares: out, Commitments: vs}, nil
}

// Verify checks a share against the commitments produced by Split.
func Verify(c curve.Curve, s Share, threshold int, vs vss.Vs) error {
	if err := s.validate(c); err != nil {
		return err
	}
	sh := &vss.Share{Threshold: threshold - 1, ID: s.X, Share: s.Y}
	if !sh.Verify(c.EC(), threshold-1, vs) {
		return ErrCommitmentMismatch
	}
	return nil
}

// Combine recovers the secret from at least threshold distinct shares, in any order.
func Combine(c curve.Curve, shares []Share, threshold int) (*big.Int, error) {
	if threshold < 2 {
		return nil, fmt.Errorf("%w: must be at least 2, got %d", ErrInvalidThreshold, threshold)
	}
	unique, err := dedupe(c, shares)
	if err != nil {
		return nil, err
	}
	if len(unique) < threshold {
		return nil, &InsufficientError{Got: len(unique), Need: threshold}
	}

	vshares := make(vss.Shares, len(unique))
	for i, s := range unique {
		vshares[i] = &vss.Share{Threshold: threshold - 1, ID: s.X, Share: s.Y}
	}
	secret, err := vshares.ReConstruct(c.EC())
	if err != nil {
		return nil, fmt.Errorf("failed to combine shares: %w", err)
	}
	return secret, nil
}

// dedupe drops malformed shares and repeated indexes. Two different values
// at the same index mean one node is lying, which is an error.
func dedupe(c curve.Curve, shares []Share) ([]Share, error) {
	byX := make(map[string]Share, len(shares))
	for _, s := range shares {
		if s.validate(c) != nil {
			continue
		}
		key := s.X.String()
		if prev, ok := byX[key]; ok {
			if prev.Y.Cmp(s.Y) != 0 {
				return nil, ErrConflictingShares
			}
			continue
		}
		byX[key] = s
	}
	out := make([]Share, 0, len(byX))
	for _, s := range byX {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].X.Cmp(out[j].X) < 0 })
	return out, nil
}

// FindConsistent combines threshold-sized subsets of shares, in order, until
// match accepts the rebuilt secret. It returns that subset and the remaining
// shares that do not lie on its polynomial, such as shares a node kept from
// before an interrupted reshare. Each candidate secret is zeroed after match.
func FindConsistent(c curve.Curve, shares []NodeShare, threshold int, match func(secret *big.Int) bool) (consistent, stale []NodeShare, err error) {
	if threshold < 2 {
		return nil, nil, fmt.Errorf("%w: must be at least 2, got %d", ErrInvalidThreshold, threshold)
	}
	if len(shares) < threshold {
		return nil, nil, &InsufficientError{Got: len(shares), Need: threshold}
	}

	idx := make([]int, threshold)
	for i := range idx {
		idx[i] = i
	}
	for {
		subset := make([]NodeShare, threshold)
		for i, j := range idx {
			subset[i] = shares[j]
		}
		secret, err := Combine(c, Values(subset), threshold)
		if err == nil {
			ok := match(secret)
			secret.SetInt64(0)
			if ok {
				stale, err := offPolynomial(c, subset, shares, idx)
				if err != nil {
					return nil, nil, err
				}
				return subset, stale, nil
			}
		}
		if !nextCombination(idx, len(shares)) {
			return nil, nil, ErrNoConsistentSubset
		}
	}
}

// nextCombination advances idx to the next k-combination of [0, n) in
// lexicographic order, reporting false after the last one.
func nextCombination(idx []int, n int) bool {
	k := len(idx)
	i := k - 1
	for i >= 0 && idx[i] == n-k+i {
		i--
	}
	if i < 0 {
		return false
	}
	idx[i]++
	for j := i + 1; j < k; j++ {
		idx[j] = idx[j-1] + 1
	}
	return true
}

// offPolynomial returns the shares outside picked whose value differs from
// the polynomial interpolated through subset.
func offPolynomial(c curve.Curve, subset, shares []NodeShare, picked []int) ([]NodeShare, error) {
	in := make(map[int]bool, len(picked))
	for _, j := range picked {
		in[j] = true
	}
	points := Values(subset)
	var out []NodeShare
	for j, ns := range shares {
		if in[j] {
			continue
		}
		y, err := evaluate(c, points, ns.Share.X)
		if err != nil {
			return nil, err
		}
		if ns.Share.Y == nil || y.Cmp(ns.Share.Y) != 0 {
			out = append(out, ns)
		}
	}
	return out, nil
}

// evaluate interpolates the polynomial through points at x, mod the curve order.
func evaluate(c curve.Curve, points []Share, x *big.Int) (*big.Int, error) {
	n := c.Order()
	acc := new(big.Int)
	for i, pi := range points {
		num, den := big.NewInt(1), big.NewInt(1)
		for j, pj := range points {
			if i == j {
				continue
			}
			num.Mul(num, new(big.Int).Sub(x, pj.X))
			num.Mod(num, n)
			den.Mul(den, new(big.Int).Sub(pi.X, pj.X))
			den.Mod(den, n)
		}
		inv := new(big.Int).ModInverse(den, n)
		if inv == nil {
			return nil, ErrConflictingShares
		}
		term := new(big.Int).Mul(pi.Y, num)
		term.Mul(term, inv)
		acc.Add(acc, term)
		acc.Mod(acc, n)
	}
	return acc, nil
}

// ExpandResult is the output of Expand. Secret is returned for in-memory
// verification by the caller and must not leave the process.
type ExpandResult struct {
	Shares      []NodeShare
	Commitments vss.Vs
	Secret      *big.Int
}

// Expand reconstructs the secret from existing node shares and re-splits it
// across those nodes plus additional.
func Expand(c curve.Curve, existing []NodeShare, additional []party.Node, threshold int, rand io.Reader) (*ExpandResult, error) {
	shares := make([]Share, len(existing))
	nodes := make([]party.Node, 0, len(existing)+len(additional))
	seen := make(map[string]bool, len(existing)+len(additional))
	for i, ns := range existing {
		shares[i] = ns.Share
		if !seen[ns.Node.Name] {
			seen[ns.Node.Name] = true
			nodes = append(nodes, ns.Node)
		}
	}
	for _, n := range additional {
		if !seen[n.Name] {
			seen[n.Name] = true
			nodes = append(nodes, n)
		}
	}

	secret, err := Combine(c, shares, threshold)
	if err != nil {
		return nil, err
	}
	split, err := Split(c, secret, nodes, threshold, rand)
	if err != nil {
		return nil, err
	}
	return &ExpandResult{Shares: split.Shares, Commitments: split.Commitments, Secret: secret}, nil
}

// Values returns the bare shares of a node share set.
func Values(ns []NodeShare) []Share {
	out := make([]Share, len(ns))
	for i, s := range ns {
		out[i] = s.Share
	}
	return out
}
