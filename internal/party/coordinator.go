package party

import (
	"crypto/sha256"
	"math/big"

	"tss-coordinator/internal/curve"
)

// NodeIndex deterministically maps a key-share node to its evaluation point
// on the sharing polynomial, based on the hash of the node name.
func NodeIndex(name string, c curve.Curve) *big.Int {
	// 1. Calculate SHA256 hash of the node name.
	hash := sha256.Sum256([]byte(name))

	// 2. Convert the hash to a big.Int.
	hashInt := new(big.Int).SetBytes(hash[:])

	// 3. Reduce it into the curve's scalar field.
	return hashInt.Mod(hashInt, c.Order())
}

// Indexes returns the evaluation points for nodes, in order.
func Indexes(nodes []Node, c curve.Curve) []*big.Int {
	out := make([]*big.Int, len(nodes))
	for i, n := range nodes {
		out[i] = NodeIndex(n.Name, c)
	}
	return out
}
