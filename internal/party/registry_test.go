package party

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tss-coordinator/internal/curve"
)

func testNodes(n int) []Node {
	nodes := make([]Node, n)
	for i := range nodes {
		nodes[i] = Node{
			ID:       uuid.New(),
			Name:     fmt.Sprintf("ks-node-%d", i+1),
			Endpoint: fmt.Sprintf("http://ks-node-%d:4200", i+1),
			Active:   true,
		}
	}
	return nodes
}

func TestNewNodeSet_FiltersInactiveAndSorts(t *testing.T) {
	nodes := testNodes(4)
	nodes[0], nodes[3] = nodes[3], nodes[0]
	nodes[1].Active = false

	set, err := NewNodeSet(nodes, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, set.Len())
	assert.Equal(t, 2, set.Threshold())

	got := set.Nodes()
	for i := 1; i < len(got); i++ {
		assert.Less(t, got[i-1].Name, got[i].Name)
	}
	_, ok := set.Get(nodes[1].ID)
	assert.False(t, ok, "inactive nodes are not members")
}

func TestNewNodeSet_NeverBelowThreshold(t *testing.T) {
	nodes := testNodes(3)
	nodes[2].Active = false

	_, err := NewNodeSet(nodes, 3)
	assert.ErrorIs(t, err, ErrBelowThreshold)

	_, err = NewNodeSet(nodes, 1)
	assert.Error(t, err)
}

func TestNewNodeSet_RejectsDuplicates(t *testing.T) {
	nodes := testNodes(3)
	nodes = append(nodes, nodes[0])
	_, err := NewNodeSet(nodes, 2)
	assert.ErrorIs(t, err, ErrDuplicateNode)
}

func TestNodeIndex_DeterministicAndDistinct(t *testing.T) {
	nodes := testNodes(5)
	for _, c := range curve.All() {
		a := Indexes(nodes, c)
		b := Indexes(nodes, c)
		seen := map[string]bool{}
		for i := range a {
			assert.Equal(t, 0, a[i].Cmp(b[i]))
			assert.Equal(t, 1, a[i].Sign())
			assert.Equal(t, -1, a[i].Cmp(c.Order()))
			assert.False(t, seen[a[i].String()])
			seen[a[i].String()] = true
		}
	}
}
