// Package detect implements §4.E: the mass-balance leak detector. It
// aggregates windowed sensor means into node- or DMA-level inflow/outflow
// balances and persists a LeakDetection whenever the imbalance exceeds a
// threshold.
package detect

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/watershedlabs/leaksense/internal/domain"
	"github.com/watershedlabs/leaksense/internal/repository"
	"github.com/watershedlabs/leaksense/internal/topology"
	"github.com/watershedlabs/leaksense/pkg/apperrors"
	"github.com/watershedlabs/leaksense/pkg/logging"
)

const (
	DefaultThreshold = 5.0
	DefaultWindow    = 300 * time.Second
)

// Params scopes one detection invocation.
type Params struct {
	NetworkID   string
	Timestamp   time.Time
	Threshold   float64
	Window      time.Duration
	NodeID      *string // domain.Node.ID
	PartitionID *string // domain.Partition.PartitionID label
}

// Detector runs the §4.E mass-balance rule.
type Detector struct {
	repo repository.Repository
	log  logging.Logger
}

// New creates a Detector.
func New(repo repository.Repository, log logging.Logger) *Detector {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Detector{repo: repo, log: log}
}

// Detect runs the detector over the scope named in params: a single node, a
// single DMA, or (when neither is set) every JUNCTION/BRANCH node in the
// network.
func (d *Detector) Detect(ctx context.Context, params Params) ([]domain.LeakDetection, error) {
	if params.Threshold == 0 {
		params.Threshold = DefaultThreshold
	}
	if params.Window == 0 {
		params.Window = DefaultWindow
	}

	nodes, err := d.repo.ListNodes(ctx, params.NetworkID)
	if err != nil {
		return nil, err
	}
	sensors, err := d.repo.ListSensors(ctx, params.NetworkID)
	if err != nil {
		return nil, err
	}
	graph := topology.NewGraph(params.NetworkID, nodes)
	byNode := sensorsByNode(sensors)

	switch {
	case params.NodeID != nil:
		det, err := d.detectAtNode(ctx, graph, byNode, params, *params.NodeID)
		if err != nil {
			return nil, err
		}
		if det == nil {
			return []domain.LeakDetection{}, nil
		}
		return []domain.LeakDetection{*det}, nil

	case params.PartitionID != nil:
		det, err := d.detectAtPartition(ctx, graph, byNode, params, *params.PartitionID)
		if err != nil {
			return nil, err
		}
		if det == nil {
			return []domain.LeakDetection{}, nil
		}
		return []domain.LeakDetection{*det}, nil

	default:
		return d.detectMultiScope(ctx, graph, byNode, params)
	}
}

func sensorsByNode(sensors []domain.Sensor) map[string][]domain.Sensor {
	out := make(map[string][]domain.Sensor)
	for _, s := range sensors {
		out[s.NodeID] = append(out[s.NodeID], s)
	}
	return out
}

func (d *Detector) detectMultiScope(ctx context.Context, graph *topology.Graph, byNode map[string][]domain.Sensor, params Params) ([]domain.LeakDetection, error) {
	scoped := make([]*domain.Node, 0)
	for _, id := range graph.AllNodeIDs() {
		n, _ := graph.NodeByID(id)
		if n.NodeType == domain.NodeTypeJunction || n.NodeType == domain.NodeTypeBranch {
			scoped = append(scoped, n)
		}
	}
	sort.Slice(scoped, func(i, j int) bool { return scoped[i].NodeID < scoped[j].NodeID })

	detections := make([]domain.LeakDetection, 0)
	for _, n := range scoped {
		det, err := d.detectAtNode(ctx, graph, byNode, params, n.ID)
		if err != nil {
			d.log.Warn("detection scope skipped", logging.String("node_id", n.NodeID), logging.Error(err))
			continue
		}
		if det != nil {
			detections = append(detections, *det)
		}
	}
	return detections, nil
}

func (d *Detector) detectAtNode(ctx context.Context, graph *topology.Graph, byNode map[string][]domain.Sensor, params Params, nodeID string) (*domain.LeakDetection, error) {
	node, ok := graph.NodeByID(nodeID)
	if !ok {
		return nil, apperrors.NotFound("Detector.DetectAtNode", "node", nodeID)
	}

	var inflow float64
	if node.ParentID != nil {
		for _, s := range byNode[*node.ParentID] {
			mean, ok, err := d.meanWindow(ctx, params.NetworkID, s.SensorID, params.Timestamp, params.Window)
			if err != nil {
				return nil, err
			}
			if ok {
				inflow += mean
			}
		}
	}

	var outflow float64
	for _, childID := range graph.ChildrenOf(node.ID) {
		for _, s := range byNode[childID] {
			mean, ok, err := d.meanWindow(ctx, params.NetworkID, s.SensorID, params.Timestamp, params.Window)
			if err != nil {
				return nil, err
			}
			if ok {
				outflow += mean
			}
		}
	}

	imbalance := inflow - outflow
	if imbalance <= params.Threshold {
		return nil, nil
	}

	det := &domain.LeakDetection{
		ID:            uuid.New().String(),
		NetworkID:     params.NetworkID,
		NodeID:        node.ID,
		FlowImbalance: imbalance,
		Severity:      domain.SeverityFor(imbalance),
		Status:        domain.StatusDetected,
		DetectedAt:    time.Now().UTC(),
		Timestamp:     params.Timestamp,
		TimeWindow:    windowSecondsPtr(params.Window),
		Threshold:     &params.Threshold,
	}
	if err := d.repo.CreateLeakDetection(ctx, det); err != nil {
		return nil, err
	}
	return det, nil
}

func (d *Detector) detectAtPartition(ctx context.Context, graph *topology.Graph, byNode map[string][]domain.Sensor, params Params, partitionLabel string) (*domain.LeakDetection, error) {
	partition, err := d.repo.GetPartitionByLabel(ctx, params.NetworkID, partitionLabel)
	if err != nil {
		return nil, err
	}
	if partition == nil {
		return nil, apperrors.NotFound("Detector.DetectAtPartition", "partition", partitionLabel)
	}

	dmaNodeIDs, err := graph.NodesInDMA(partition.MainlineID)
	if err != nil {
		return nil, err
	}
	dmaSet := make(map[string]bool, len(dmaNodeIDs))
	for _, id := range dmaNodeIDs {
		dmaSet[id] = true
	}

	var inflow float64
	for _, s := range byNode[partition.MainlineID] {
		if s.SensorType != domain.SensorTypeMainlineFlow {
			continue
		}
		mean, ok, err := d.meanWindow(ctx, params.NetworkID, s.SensorID, params.Timestamp, params.Window)
		if err != nil {
			return nil, err
		}
		if ok {
			inflow += mean
		}
	}

	var outflow float64
	for nodeID := range dmaSet {
		n, _ := graph.NodeByID(nodeID)
		for _, s := range byNode[nodeID] {
			if n.NodeType != domain.NodeTypeHousehold && s.SensorType != domain.SensorTypeHouseholdFlow {
				continue
			}
			mean, ok, err := d.meanWindow(ctx, params.NetworkID, s.SensorID, params.Timestamp, params.Window)
			if err != nil {
				return nil, err
			}
			if ok {
				outflow += mean
			}
		}
	}

	imbalance := inflow - outflow
	if imbalance <= params.Threshold {
		return nil, nil
	}

	det := &domain.LeakDetection{
		ID:            uuid.New().String(),
		NetworkID:     params.NetworkID,
		NodeID:        partition.MainlineID,
		PartitionID:   &partitionLabel,
		FlowImbalance: imbalance,
		Severity:      domain.SeverityFor(imbalance),
		Status:        domain.StatusDetected,
		DetectedAt:    time.Now().UTC(),
		Timestamp:     params.Timestamp,
		TimeWindow:    windowSecondsPtr(params.Window),
		Threshold:     &params.Threshold,
	}
	if err := d.repo.CreateLeakDetection(ctx, det); err != nil {
		return nil, err
	}
	return det, nil
}

// meanWindow returns the arithmetic mean of flow_value for sensorID over
// [T-W, T]. ok is false if the sensor has no readings in that window.
func (d *Detector) meanWindow(ctx context.Context, networkID, sensorID string, t time.Time, w time.Duration) (float64, bool, error) {
	readings, err := d.repo.ListReadingsInWindow(ctx, networkID, repository.ReadingFilter{
		SensorID: sensorID,
		From:     t.Add(-w),
		To:       t,
	})
	if err != nil {
		return 0, false, err
	}
	if len(readings) == 0 {
		return 0, false, nil
	}
	var sum float64
	for _, r := range readings {
		sum += r.FlowValue
	}
	return sum / float64(len(readings)), true, nil
}

func windowSecondsPtr(w time.Duration) *int {
	s := int(w.Seconds())
	return &s
}
