package orchestrate

import (
	"context"
	"testing"
	"time"

	"github.com/watershedlabs/leaksense/internal/detect"
	"github.com/watershedlabs/leaksense/internal/domain"
	"github.com/watershedlabs/leaksense/internal/localize"
	"github.com/watershedlabs/leaksense/internal/repository/memory"
	"github.com/watershedlabs/leaksense/pkg/apperrors"
)

func strp(s string) *string { return &s }

func TestOrchestrator_Analyze_MissingSensorFailsNotFound(t *testing.T) {
	store := memory.New()
	d := detect.New(store, nil)
	l := localize.New(store)
	o := New(store, d, l, nil)

	_, err := o.Analyze(context.Background(), "net-1", time.Now(), []ReadingInput{{SensorID: "GHOST", FlowValue: 1}})
	if !apperrors.IsNotFound(err) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestOrchestrator_Analyze_EmptyReadingsFailsInvalidInput(t *testing.T) {
	store := memory.New()
	d := detect.New(store, nil)
	l := localize.New(store)
	o := New(store, d, l, nil)

	_, err := o.Analyze(context.Background(), "net-1", time.Now(), nil)
	if !apperrors.IsInvalidInput(err) {
		t.Fatalf("expected InvalidInput, got %v", err)
	}
}

func TestOrchestrator_Analyze_StoresReadingsAndRunsDetection(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	networkID := "net-1"
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	nodes := []domain.Node{
		{ID: "n-main", NetworkID: networkID, NodeID: "M", NodeType: domain.NodeTypeMainline},
		{ID: "n-branch", NetworkID: networkID, NodeID: "B", NodeType: domain.NodeTypeBranch, ParentID: strp("n-main")},
	}
	if err := store.UpsertNodes(ctx, nodes); err != nil {
		t.Fatalf("seed nodes: %v", err)
	}
	sensors := []domain.Sensor{
		{ID: "s-main", NetworkID: networkID, SensorID: "SM", NodeID: "n-main", IsActive: true},
		{ID: "s-branch", NetworkID: networkID, SensorID: "SB", NodeID: "n-branch", IsActive: true},
	}
	for _, s := range sensors {
		if err := store.CreateSensor(ctx, &s); err != nil {
			t.Fatalf("seed sensor: %v", err)
		}
	}

	d := detect.New(store, nil)
	l := localize.New(store)
	o := New(store, d, l, nil)

	report, err := o.Analyze(ctx, networkID, now, []ReadingInput{
		{SensorID: "SM", FlowValue: 30},
		{SensorID: "SB", FlowValue: 5},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.ReadingsStored != 2 {
		t.Fatalf("expected 2 readings stored, got %d", report.ReadingsStored)
	}
	// n-branch: inflow=30 (SM at parent n-main), outflow=0 (no sensors on
	// its children): imbalance 30 > default threshold 5.
	if report.Summary.Total != 1 {
		t.Fatalf("expected 1 detection, got %d (%+v)", report.Summary.Total, report.Detections)
	}
	if report.Detections[0].Localization != nil {
		t.Errorf("expected no localization: no sensitivity matrix exists for this network")
	}
	if report.Summary.Localized != 0 {
		t.Errorf("expected 0 localized, got %d", report.Summary.Localized)
	}
}
