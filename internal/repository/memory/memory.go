// Package memory implements internal/repository.Repository entirely
// in-process, for tests and small deployments, guarded by a single RWMutex
// per store instance. It implements the same interface as the pgx-backed
// store; unlike that store, UpdateLeakDetection replaces the whole stored
// record rather than only its status and localization fields.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/watershedlabs/leaksense/internal/domain"
	"github.com/watershedlabs/leaksense/internal/repository"
	"github.com/watershedlabs/leaksense/pkg/apperrors"
)

// Store is an in-memory implementation of repository.Repository.
type Store struct {
	mu sync.RWMutex

	networks   map[string]domain.Network
	nodes      map[string]domain.Node // keyed by Node.ID
	partitions map[string]domain.Partition
	sensors    map[string]domain.Sensor
	readings   []domain.Reading
	matrix     map[string]domain.SensitivityEntry // keyed by network_id|leak_node_id|sensor_id
	detections map[string]domain.LeakDetection
}

// New creates an empty in-memory Store.
func New() *Store {
	return &Store{
		networks:   make(map[string]domain.Network),
		nodes:      make(map[string]domain.Node),
		partitions: make(map[string]domain.Partition),
		sensors:    make(map[string]domain.Sensor),
		matrix:     make(map[string]domain.SensitivityEntry),
		detections: make(map[string]domain.LeakDetection),
	}
}

var _ repository.Repository = (*Store)(nil)

func matrixKey(networkID, leakNodeID, sensorID string) string {
	return networkID + "|" + leakNodeID + "|" + sensorID
}

// Networks

func (s *Store) CreateNetwork(ctx context.Context, n *domain.Network) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.networks[n.ID]; exists {
		return apperrors.Conflict("Store.CreateNetwork", "network", n.ID)
	}
	s.networks[n.ID] = *n
	return nil
}

func (s *Store) GetNetwork(ctx context.Context, id string) (*domain.Network, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.networks[id]
	if !ok {
		return nil, apperrors.NotFound("Store.GetNetwork", "network", id)
	}
	return &n, nil
}

// Nodes

func (s *Store) CreateNode(ctx context.Context, n *domain.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.nodes {
		if existing.NetworkID == n.NetworkID && existing.NodeID == n.NodeID {
			return apperrors.Conflict("Store.CreateNode", "node", n.NodeID)
		}
	}
	s.nodes[n.ID] = *n
	return nil
}

func (s *Store) UpsertNodes(ctx context.Context, nodes []domain.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range nodes {
		s.nodes[n.ID] = n
	}
	return nil
}

func (s *Store) GetNode(ctx context.Context, networkID, id string) (*domain.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	if !ok || n.NetworkID != networkID {
		return nil, apperrors.NotFound("Store.GetNode", "node", id)
	}
	return &n, nil
}

func (s *Store) GetNodeByLabel(ctx context.Context, networkID, nodeID string) (*domain.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, n := range s.nodes {
		if n.NetworkID == networkID && n.NodeID == nodeID {
			nc := n
			return &nc, nil
		}
	}
	return nil, nil
}

func (s *Store) ListNodes(ctx context.Context, networkID string) ([]domain.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Node, 0)
	for _, n := range s.nodes {
		if n.NetworkID == networkID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out, nil
}

// Partitions

func (s *Store) CreatePartition(ctx context.Context, p *domain.Partition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.partitions {
		if existing.NetworkID == p.NetworkID && existing.PartitionID == p.PartitionID {
			return apperrors.Conflict("Store.CreatePartition", "partition", p.PartitionID)
		}
	}
	s.partitions[p.ID] = *p
	return nil
}

func (s *Store) GetPartitionByLabel(ctx context.Context, networkID, partitionID string) (*domain.Partition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.partitions {
		if p.NetworkID == networkID && p.PartitionID == partitionID {
			pc := p
			return &pc, nil
		}
	}
	return nil, nil
}

func (s *Store) ListPartitions(ctx context.Context, networkID string) ([]domain.Partition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Partition, 0)
	for _, p := range s.partitions {
		if p.NetworkID == networkID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PartitionID < out[j].PartitionID })
	return out, nil
}

// Sensors

func (s *Store) CreateSensor(ctx context.Context, sn *domain.Sensor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.sensors {
		if existing.NetworkID == sn.NetworkID && existing.SensorID == sn.SensorID {
			return apperrors.Conflict("Store.CreateSensor", "sensor", sn.SensorID)
		}
	}
	s.sensors[sn.ID] = *sn
	return nil
}

func (s *Store) GetSensorByLabel(ctx context.Context, networkID, sensorID string) (*domain.Sensor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sn := range s.sensors {
		if sn.NetworkID == networkID && sn.SensorID == sensorID {
			snc := sn
			return &snc, nil
		}
	}
	return nil, nil
}

func (s *Store) ListSensors(ctx context.Context, networkID string) ([]domain.Sensor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Sensor, 0)
	for _, sn := range s.sensors {
		if sn.NetworkID == networkID {
			out = append(out, sn)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SensorID < out[j].SensorID })
	return out, nil
}

func (s *Store) ListActiveSensors(ctx context.Context, networkID string) ([]domain.Sensor, error) {
	all, err := s.ListSensors(ctx, networkID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Sensor, 0, len(all))
	for _, sn := range all {
		if sn.IsActive {
			out = append(out, sn)
		}
	}
	return out, nil
}

// Readings

func (s *Store) CreateReadings(ctx context.Context, readings []domain.Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readings = append(s.readings, readings...)
	return nil
}

func (s *Store) ListReadingsInWindow(ctx context.Context, networkID string, filter repository.ReadingFilter) ([]domain.Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Reading, 0)
	for _, r := range s.readings {
		if r.NetworkID != networkID {
			continue
		}
		if filter.SensorID != "" && r.SensorID != filter.SensorID {
			continue
		}
		if r.Timestamp.Before(filter.From) || r.Timestamp.After(filter.To) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// Sensitivity matrix

func (s *Store) UpsertSensitivityEntries(ctx context.Context, entries []domain.SensitivityEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		s.matrix[matrixKey(e.NetworkID, e.LeakNodeID, e.SensorID)] = e
	}
	return nil
}

func (s *Store) CountSensitivityEntries(ctx context.Context, networkID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, e := range s.matrix {
		if e.NetworkID == networkID {
			count++
		}
	}
	return count, nil
}

func (s *Store) GetSensitivityRow(ctx context.Context, networkID, leakNodeID string) ([]domain.SensitivityEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.SensitivityEntry, 0)
	for _, e := range s.matrix {
		if e.NetworkID == networkID && e.LeakNodeID == leakNodeID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SensorID < out[j].SensorID })
	return out, nil
}

func (s *Store) ListCandidateLeakNodeIDs(ctx context.Context, networkID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]bool)
	for _, e := range s.matrix {
		if e.NetworkID == networkID {
			seen[e.LeakNodeID] = true
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) ClearSensitivityMatrix(ctx context.Context, networkID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.matrix {
		if e.NetworkID == networkID {
			delete(s.matrix, k)
		}
	}
	return nil
}

// Leak detections

func (s *Store) CreateLeakDetection(ctx context.Context, d *domain.LeakDetection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detections[d.ID] = *d
	return nil
}

func (s *Store) UpdateLeakDetection(ctx context.Context, d *domain.LeakDetection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.detections[d.ID]; !ok {
		return apperrors.NotFound("Store.UpdateLeakDetection", "leak_detection", d.ID)
	}
	s.detections[d.ID] = *d
	return nil
}

func (s *Store) GetLeakDetection(ctx context.Context, networkID, id string) (*domain.LeakDetection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.detections[id]
	if !ok || d.NetworkID != networkID {
		return nil, apperrors.NotFound("Store.GetLeakDetection", "leak_detection", id)
	}
	return &d, nil
}

func (s *Store) GetLeakDetections(ctx context.Context, networkID string, ids []string) ([]domain.LeakDetection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	out := make([]domain.LeakDetection, 0)
	for _, d := range s.detections {
		if d.NetworkID != networkID {
			continue
		}
		if len(ids) > 0 && !wanted[d.ID] {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DetectedAt.Before(out[j].DetectedAt) })
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return nil
}
