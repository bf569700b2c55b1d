package memory

import (
	"context"
	"testing"
	"time"

	"github.com/watershedlabs/leaksense/internal/domain"
	"github.com/watershedlabs/leaksense/internal/repository"
	"github.com/watershedlabs/leaksense/pkg/apperrors"
)

func TestStore_NodeCreateAndConflict(t *testing.T) {
	s := New()
	ctx := context.Background()

	n := &domain.Node{ID: "n1", NetworkID: "net-1", NodeID: "N1", NodeType: domain.NodeTypeMainline}
	if err := s.CreateNode(ctx, n); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	dup := &domain.Node{ID: "n2", NetworkID: "net-1", NodeID: "N1", NodeType: domain.NodeTypeMainline}
	if err := s.CreateNode(ctx, dup); !apperrors.IsConflict(err) {
		t.Fatalf("expected Conflict, got %v", err)
	}
}

func TestStore_GetNode_NotFound(t *testing.T) {
	s := New()
	_, err := s.GetNode(context.Background(), "net-1", "missing")
	if !apperrors.IsNotFound(err) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestStore_ReadingsWindowFilter(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	readings := []domain.Reading{
		{ID: "r1", NetworkID: "net-1", SensorID: "S1", FlowValue: 1, Timestamp: base},
		{ID: "r2", NetworkID: "net-1", SensorID: "S1", FlowValue: 2, Timestamp: base.Add(1 * time.Minute)},
		{ID: "r3", NetworkID: "net-1", SensorID: "S2", FlowValue: 3, Timestamp: base.Add(1 * time.Minute)},
		{ID: "r4", NetworkID: "net-1", SensorID: "S1", FlowValue: 4, Timestamp: base.Add(1 * time.Hour)},
	}
	if err := s.CreateReadings(ctx, readings); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out, err := s.ListReadingsInWindow(ctx, "net-1", repository.ReadingFilter{
		SensorID: "S1",
		From:     base,
		To:       base.Add(5 * time.Minute),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 readings in window, got %d", len(out))
	}
}

func TestStore_SensitivityMatrixUpsertAndCount(t *testing.T) {
	s := New()
	ctx := context.Background()

	entries := []domain.SensitivityEntry{
		{NetworkID: "net-1", LeakNodeID: "c1", SensorID: "s1", SensitivityValue: 0.1},
		{NetworkID: "net-1", LeakNodeID: "c1", SensorID: "s2", SensitivityValue: 0.2},
	}
	if err := s.UpsertSensitivityEntries(ctx, entries); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	count, err := s.CountSensitivityEntries(ctx, "net-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 entries, got %d", count)
	}

	// Upsert overwrites, not duplicates.
	entries[0].SensitivityValue = 0.5
	if err := s.UpsertSensitivityEntries(ctx, entries[:1]); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	count, _ = s.CountSensitivityEntries(ctx, "net-1")
	if count != 2 {
		t.Fatalf("expected upsert to not duplicate, got %d entries", count)
	}
	row, err := s.GetSensitivityRow(ctx, "net-1", "c1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if row[0].SensitivityValue != 0.5 && row[1].SensitivityValue != 0.5 {
		t.Fatalf("expected upsert to update value, got %+v", row)
	}
}

func TestStore_LeakDetectionLifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()

	d := &domain.LeakDetection{ID: "d1", NetworkID: "net-1", NodeID: "n1", Status: domain.StatusDetected}
	if err := s.CreateLeakDetection(ctx, d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	d.Status = domain.StatusLocalized
	if err := s.UpdateLeakDetection(ctx, d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := s.GetLeakDetection(ctx, "net-1", "d1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != domain.StatusLocalized {
		t.Fatalf("expected status LOCALIZED, got %s", got.Status)
	}

	if err := s.UpdateLeakDetection(ctx, &domain.LeakDetection{ID: "unknown"}); !apperrors.IsNotFound(err) {
		t.Fatalf("expected NotFound updating unknown detection, got %v", err)
	}
}

func TestStore_Ping(t *testing.T) {
	s := New()
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
