package topology

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/watershedlabs/leaksense/internal/domain"
	"github.com/watershedlabs/leaksense/pkg/apperrors"
	"github.com/watershedlabs/leaksense/pkg/logging"
)

// AutoPlace implements §6's deterministic greedy sensor placement: up to
// targetCount sensors chosen in priority order (1) MAINLINEs without an
// existing sensor, ascending node_id, (2) JUNCTIONs by outgoing degree
// descending, ties broken by node_id, (3) BRANCHes, same sort as (2).
// Placed sensors are persisted and returned in placement order.
func (s *Service) AutoPlace(ctx context.Context, networkID string, targetCount int) ([]domain.Sensor, error) {
	nodes, err := s.repo.ListNodes(ctx, networkID)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, apperrors.InvalidInput("Topology.AutoPlace", "network has no imported topology")
	}
	g := NewGraph(networkID, nodes)

	existing, err := s.repo.ListSensors(ctx, networkID)
	if err != nil {
		return nil, err
	}
	hasSensor := make(map[string]bool, len(existing))
	for _, sn := range existing {
		hasSensor[sn.NodeID] = true
	}

	var mainlines, junctions, branches []*domain.Node
	for i := range nodes {
		n := &nodes[i]
		switch n.NodeType {
		case domain.NodeTypeMainline:
			if !hasSensor[n.ID] {
				mainlines = append(mainlines, n)
			}
		case domain.NodeTypeJunction:
			junctions = append(junctions, n)
		case domain.NodeTypeBranch:
			branches = append(branches, n)
		}
	}

	sort.Slice(mainlines, func(i, j int) bool { return mainlines[i].NodeID < mainlines[j].NodeID })
	byOutdegreeThenLabel := func(list []*domain.Node) {
		sort.Slice(list, func(i, j int) bool {
			oi, oj := len(g.ChildrenOf(list[i].ID)), len(g.ChildrenOf(list[j].ID))
			if oi != oj {
				return oi > oj
			}
			return list[i].NodeID < list[j].NodeID
		})
	}
	byOutdegreeThenLabel(junctions)
	byOutdegreeThenLabel(branches)

	placed := make([]domain.Sensor, 0, targetCount)
	place := func(list []*domain.Node, sensorType domain.SensorType, labelPrefix string) {
		for i, n := range list {
			if len(placed) >= targetCount {
				return
			}
			placed = append(placed, domain.Sensor{
				ID:         uuid.New().String(),
				NetworkID:  networkID,
				SensorID:   fmt.Sprintf("%s_%02d", labelPrefix, i+1),
				SensorType: sensorType,
				NodeID:     n.ID,
				IsActive:   true,
			})
		}
	}

	place(mainlines, domain.SensorTypeMainlineFlow, "MAIN")
	if len(placed) < targetCount {
		place(junctions, domain.SensorTypeBranchJunctionFlow, "JUNC")
	}
	if len(placed) < targetCount {
		place(branches, domain.SensorTypeBranchJunctionFlow, "BRANCH")
	}

	for i := range placed {
		if err := s.repo.CreateSensor(ctx, &placed[i]); err != nil {
			return nil, err
		}
	}

	s.log.Info("sensors auto-placed",
		logging.String("network_id", networkID),
		logging.Int("count", len(placed)))

	return placed, nil
}
