// Package topology implements §4.A: the in-memory parent/child graph of a
// network, DMA (partition) assignment, and BFS helpers. Cycle detection
// uses the same three-color DFS convention as the teacher's cycle-detection
// algorithm, adapted from a generic directed graph to this module's
// parent-pointer forest.
package topology

import (
	"github.com/watershedlabs/leaksense/internal/domain"
	"github.com/watershedlabs/leaksense/pkg/apperrors"
)

// color marks traversal state during cycle-aware BFS/DFS.
type color int

const (
	white color = iota // unvisited
	gray               // on the current frontier
	black              // fully explored
)

// Graph is an in-memory, read-only view of one network's node forest.
type Graph struct {
	networkID string
	byID      map[string]*domain.Node
	byLabel   map[string]*domain.Node
	children  map[string][]string // parent Node.ID -> child Node.IDs
}

// NewGraph builds a Graph from the flat node list of one network.
func NewGraph(networkID string, nodes []domain.Node) *Graph {
	g := &Graph{
		networkID: networkID,
		byID:      make(map[string]*domain.Node, len(nodes)),
		byLabel:   make(map[string]*domain.Node, len(nodes)),
		children:  make(map[string][]string),
	}
	for i := range nodes {
		n := &nodes[i]
		g.byID[n.ID] = n
		g.byLabel[n.NodeID] = n
	}
	for i := range nodes {
		n := &nodes[i]
		if n.ParentID != nil {
			g.children[*n.ParentID] = append(g.children[*n.ParentID], n.ID)
		}
	}
	return g
}

// NodeByID returns a node by its opaque id.
func (g *Graph) NodeByID(id string) (*domain.Node, bool) {
	n, ok := g.byID[id]
	return n, ok
}

// NodeByLabel returns a node by its string label.
func (g *Graph) NodeByLabel(label string) (*domain.Node, bool) {
	n, ok := g.byLabel[label]
	return n, ok
}

// AllNodeIDs returns the opaque ids of every node in the graph.
func (g *Graph) AllNodeIDs() []string {
	ids := make([]string, 0, len(g.byID))
	for id := range g.byID {
		ids = append(ids, id)
	}
	return ids
}

// ChildrenOf returns the opaque ids of id's direct children.
func (g *Graph) ChildrenOf(id string) []string {
	return g.children[id]
}

// FindMainlineFor returns the nearest MAINLINE ancestor of nodeID, walking
// the parent chain. Returns (nil, nil) if nodeID is unknown or no MAINLINE
// ancestor exists.
// A cycle in the parent chain fails with InvariantViolation.
func (g *Graph) FindMainlineFor(nodeID string) (*domain.Node, error) {
	visited := make(map[string]bool)
	current, ok := g.byID[nodeID]
	if !ok {
		return nil, nil
	}

	for current != nil {
		if visited[current.ID] {
			return nil, apperrors.InvariantViolation("Topology.FindMainlineFor", "cycle detected in parent chain for node "+nodeID)
		}
		visited[current.ID] = true

		if current.NodeType == domain.NodeTypeMainline {
			return current, nil
		}
		if current.ParentID == nil {
			return nil, nil
		}
		next, exists := g.byID[*current.ParentID]
		if !exists {
			return nil, nil
		}
		current = next
	}
	return nil, nil
}

// NodesInDMA returns the set of node ids reachable by BFS from root
// (typically a DMA's mainline) through the child relation. Cycles in the
// subtree fail with InvariantViolation.
func (g *Graph) NodesInDMA(rootID string) ([]string, error) {
	if _, ok := g.byID[rootID]; !ok {
		return nil, apperrors.NotFound("Topology.NodesInDMA", "node", rootID)
	}

	colors := make(map[string]color)
	result := make([]string, 0)
	queue := []string{rootID}
	colors[rootID] = gray

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		result = append(result, id)

		for _, childID := range g.children[id] {
			switch colors[childID] {
			case white:
				colors[childID] = gray
				queue = append(queue, childID)
			case gray:
				return nil, apperrors.InvariantViolation("Topology.NodesInDMA", "cycle detected reaching node "+childID)
			case black:
				// already fully explored via another path; a forest has no
				// shared descendants, so this also indicates a cycle/merge.
				return nil, apperrors.InvariantViolation("Topology.NodesInDMA", "node "+childID+" reached twice, graph is not a forest")
			}
		}
		colors[id] = black
	}

	return result, nil
}

// DetectCycles runs a three-color DFS over the whole graph and returns an
// error for the first cycle found, or nil if the parent relation is a
// proper forest.
func (g *Graph) DetectCycles() error {
	colors := make(map[string]color)

	var visit func(id string) error
	visit = func(id string) error {
		colors[id] = gray
		for _, childID := range g.children[id] {
			switch colors[childID] {
			case white:
				if err := visit(childID); err != nil {
					return err
				}
			case gray:
				return apperrors.InvariantViolation("Topology.DetectCycles", "back edge into "+childID)
			}
		}
		colors[id] = black
		return nil
	}

	for id := range g.byID {
		if colors[id] == white {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}
