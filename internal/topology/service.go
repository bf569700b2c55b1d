package topology

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/watershedlabs/leaksense/internal/domain"
	"github.com/watershedlabs/leaksense/internal/repository"
	"github.com/watershedlabs/leaksense/pkg/apperrors"
	"github.com/watershedlabs/leaksense/pkg/logging"
)

// Service wraps Graph construction with repository access so callers don't
// have to load the node list themselves for every query.
type Service struct {
	repo repository.Repository
	log  logging.Logger
}

// NewService creates a topology Service over the given repository.
func NewService(repo repository.Repository, log logging.Logger) *Service {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Service{repo: repo, log: log}
}

// LoadGraph loads the full node set of a network and builds a Graph.
func (s *Service) LoadGraph(ctx context.Context, networkID string) (*Graph, error) {
	nodes, err := s.repo.ListNodes(ctx, networkID)
	if err != nil {
		return nil, err
	}
	return NewGraph(networkID, nodes), nil
}

// FindMainlineFor returns the nearest MAINLINE ancestor of the node
// identified by its opaque id (domain.Node.ID).
func (s *Service) FindMainlineFor(ctx context.Context, networkID, nodeID string) (*domain.Node, error) {
	g, err := s.LoadGraph(ctx, networkID)
	if err != nil {
		return nil, err
	}
	return g.FindMainlineFor(nodeID)
}

// NodesInDMA returns the node ids reachable from the DMA's mainline,
// identified by the partition's string label. Fails with NotFound if the
// partition is unknown.
func (s *Service) NodesInDMA(ctx context.Context, networkID, partitionLabel string) ([]string, error) {
	partition, err := s.repo.GetPartitionByLabel(ctx, networkID, partitionLabel)
	if err != nil {
		return nil, err
	}
	if partition == nil {
		return nil, apperrors.NotFound("Topology.NodesInDMA", "partition", partitionLabel)
	}

	g, err := s.LoadGraph(ctx, networkID)
	if err != nil {
		return nil, err
	}
	return g.NodesInDMA(partition.MainlineID)
}

// CreateDMAsForMainlines idempotently creates one Partition per MAINLINE
// node in the network that lacks one. Partition labels follow
// "DMA_<mainline.node_id>". Returns the newly created partitions.
func (s *Service) CreateDMAsForMainlines(ctx context.Context, networkID string) ([]domain.Partition, error) {
	nodes, err := s.repo.ListNodes(ctx, networkID)
	if err != nil {
		return nil, err
	}

	g := NewGraph(networkID, nodes)
	if err := g.DetectCycles(); err != nil {
		return nil, err
	}

	existing, err := s.repo.ListPartitions(ctx, networkID)
	if err != nil {
		return nil, err
	}
	hasPartition := make(map[string]bool, len(existing))
	for _, p := range existing {
		hasPartition[p.MainlineID] = true
	}

	mainlines := make([]*domain.Node, 0)
	for i := range nodes {
		if nodes[i].NodeType == domain.NodeTypeMainline {
			mainlines = append(mainlines, &nodes[i])
		}
	}
	// Deterministic creation order.
	sort.Slice(mainlines, func(i, j int) bool { return mainlines[i].NodeID < mainlines[j].NodeID })

	created := make([]domain.Partition, 0)
	for _, m := range mainlines {
		if hasPartition[m.ID] {
			continue
		}
		p := domain.Partition{
			ID:          uuid.New().String(),
			NetworkID:   networkID,
			PartitionID: fmt.Sprintf("DMA_%s", m.NodeID),
			MainlineID:  m.ID,
		}
		if err := s.repo.CreatePartition(ctx, &p); err != nil {
			return nil, err
		}
		created = append(created, p)
		s.log.Info("dma created", logging.String("network_id", networkID), logging.String("partition_id", p.PartitionID))
	}

	return created, nil
}
