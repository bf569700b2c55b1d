package detect

import (
	"context"
	"testing"
	"time"

	"github.com/watershedlabs/leaksense/internal/domain"
	"github.com/watershedlabs/leaksense/internal/repository/memory"
)

// seedTrivialChain is the §8 seed scenario fixture: MAIN M -> BRANCH B ->
// two HOUSEHOLDs H1, H2, one reading each at T.
func seedTrivialChain(t *testing.T, mainFlow, h1Flow, h2Flow float64) (store *memory.Store, networkID string, now time.Time) {
	t.Helper()
	store = memory.New()
	ctx := context.Background()
	networkID = "net-trivial"
	now = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	nodes := []domain.Node{
		{ID: "n-main", NetworkID: networkID, NodeID: "M", NodeType: domain.NodeTypeMainline},
		{ID: "n-branch", NetworkID: networkID, NodeID: "B", NodeType: domain.NodeTypeBranch, ParentID: strp("n-main")},
		{ID: "n-h1", NetworkID: networkID, NodeID: "H1", NodeType: domain.NodeTypeHousehold, ParentID: strp("n-branch")},
		{ID: "n-h2", NetworkID: networkID, NodeID: "H2", NodeType: domain.NodeTypeHousehold, ParentID: strp("n-branch")},
	}
	if err := store.UpsertNodes(ctx, nodes); err != nil {
		t.Fatalf("seed nodes: %v", err)
	}

	sensors := []domain.Sensor{
		{ID: "s-main", NetworkID: networkID, SensorID: "MAIN_FLOW", SensorType: domain.SensorTypeMainlineFlow, NodeID: "n-main", IsActive: true},
		{ID: "s-h1", NetworkID: networkID, SensorID: "HH_FLOW_H1", SensorType: domain.SensorTypeHouseholdFlow, NodeID: "n-h1", IsActive: true},
		{ID: "s-h2", NetworkID: networkID, SensorID: "HH_FLOW_H2", SensorType: domain.SensorTypeHouseholdFlow, NodeID: "n-h2", IsActive: true},
	}
	for i := range sensors {
		if err := store.CreateSensor(ctx, &sensors[i]); err != nil {
			t.Fatalf("seed sensor: %v", err)
		}
	}

	readings := []domain.Reading{
		{ID: "r-m", NetworkID: networkID, SensorID: "MAIN_FLOW", FlowValue: mainFlow, Timestamp: now, Source: domain.ReadingSourceSensor},
		{ID: "r-h1", NetworkID: networkID, SensorID: "HH_FLOW_H1", FlowValue: h1Flow, Timestamp: now, Source: domain.ReadingSourceSensor},
		{ID: "r-h2", NetworkID: networkID, SensorID: "HH_FLOW_H2", FlowValue: h2Flow, Timestamp: now, Source: domain.ReadingSourceSensor},
	}
	if err := store.CreateReadings(ctx, readings); err != nil {
		t.Fatalf("seed readings: %v", err)
	}
	return store, networkID, now
}

// TestScenario_TrivialChainDetectsLeakAtBranch is §8 seed scenario 1: a
// node-scoped detect() at the branch finds imbalance 20 - 12 = 8, LOW
// severity.
func TestScenario_TrivialChainDetectsLeakAtBranch(t *testing.T) {
	store, networkID, now := seedTrivialChain(t, 20.0, 7.0, 5.0)
	d := New(store, nil)

	detections, err := d.Detect(context.Background(), Params{
		NetworkID: networkID,
		Timestamp: now,
		NodeID:    strp("n-branch"),
		Window:    300 * time.Second,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(detections) != 1 {
		t.Fatalf("expected 1 detection, got %d", len(detections))
	}
	det := detections[0]
	if det.FlowImbalance != 8.0 {
		t.Errorf("expected imbalance 8.0, got %v", det.FlowImbalance)
	}
	if det.Severity != domain.SeverityLow {
		t.Errorf("expected LOW severity, got %s", det.Severity)
	}
}

// TestScenario_DMADetectionMatchesNodeScopedImbalance is §8 seed scenario
// 2: the same chain, scoped to DMA_M, finds the identical 8.0 imbalance.
func TestScenario_DMADetectionMatchesNodeScopedImbalance(t *testing.T) {
	store, networkID, now := seedTrivialChain(t, 20.0, 7.0, 5.0)
	ctx := context.Background()
	partition := &domain.Partition{ID: "p-m", NetworkID: networkID, PartitionID: "DMA_M", MainlineID: "n-main"}
	if err := store.CreatePartition(ctx, partition); err != nil {
		t.Fatalf("seed partition: %v", err)
	}

	d := New(store, nil)
	detections, err := d.Detect(ctx, Params{
		NetworkID:   networkID,
		Timestamp:   now,
		PartitionID: strp("DMA_M"),
		Window:      300 * time.Second,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(detections) != 1 {
		t.Fatalf("expected 1 detection, got %d", len(detections))
	}
	if detections[0].FlowImbalance != 8.0 {
		t.Errorf("expected imbalance 8.0, got %v", detections[0].FlowImbalance)
	}
	if detections[0].Severity != domain.SeverityLow {
		t.Errorf("expected LOW severity, got %s", detections[0].Severity)
	}
}

// TestScenario_NoLeakProducesZeroDetections is §8 seed scenario 3:
// conservative readings (M=12, H1=7, H2=5) yield no detections anywhere.
func TestScenario_NoLeakProducesZeroDetections(t *testing.T) {
	store, networkID, now := seedTrivialChain(t, 12.0, 7.0, 5.0)
	d := New(store, nil)

	detections, err := d.Detect(context.Background(), Params{
		NetworkID: networkID,
		Timestamp: now,
		Window:    300 * time.Second,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(detections) != 0 {
		t.Fatalf("expected zero detections for conservative readings, got %d (%+v)", len(detections), detections)
	}
}
