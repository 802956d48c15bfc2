package party

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// Node is an independently operated key-share node.
type Node struct {
	ID       uuid.UUID `json:"node_id"`
	Name     string    `json:"name"`
	Endpoint string    `json:"endpoint"`
	Active   bool      `json:"active"`
}

var (
	ErrBelowThreshold = errors.New("active key-share nodes below threshold")
	ErrDuplicateNode  = errors.New("duplicate key-share node")
)

// NodeSet is the set of active key-share nodes together with the threshold
// needed to reconstruct a fragment. It is never smaller than the threshold.
type NodeSet struct {
	nodes     []Node
	threshold int
}

// NewNodeSet keeps the active nodes, sorted by name, and checks them against threshold.
func NewNodeSet(nodes []Node, threshold int) (*NodeSet, error) {
	if threshold < 2 {
		return nil, fmt.Errorf("threshold must be at least 2, got %d", threshold)
	}
	active := make([]Node, 0, len(nodes))
	seenID := make(map[uuid.UUID]bool, len(nodes))
	seenName := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		if !n.Active {
			continue
		}
		if seenID[n.ID] || seenName[n.Name] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateNode, n.Name)
		}
		seenID[n.ID] = true
		seenName[n.Name] = true
		active = append(active, n)
	}
	if len(active) < threshold {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrBelowThreshold, len(active), threshold)
	}
	sort.Slice(active, func(i, j int) bool { return active[i].Name < active[j].Name })
	return &NodeSet{nodes: active, threshold: threshold}, nil
}

// Nodes returns a copy of the members.
func (s *NodeSet) Nodes() []Node {
	out := make([]Node, len(s.nodes))
	copy(out, s.nodes)
	return out
}

func (s *NodeSet) Threshold() int { return s.threshold }

func (s *NodeSet) Len() int { return len(s.nodes) }

// Get retrieves a member by id.
func (s *NodeSet) Get(id uuid.UUID) (Node, bool) {
	for _, n := range s.nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}
