package audit

import (
	"fmt"
	"testing"
	"time"
)

func TestAuditLogger_LogEvent(t *testing.T) {
	logger := NewAuditLogger(100)

	tests := []struct {
		name  string
		event *Event
	}{
		{
			name: "network import event",
			event: &Event{
				NetworkID:    "net-1",
				Action:       ActionImport,
				ResourceType: ResourceNetwork,
				ResourceID:   "net-1",
				Status:       StatusSuccess,
			},
		},
		{
			name: "matrix build event",
			event: &Event{
				NetworkID:    "net-1",
				Action:       ActionBuild,
				ResourceType: ResourceSensitivity,
				Status:       StatusSuccess,
				Metadata: map[string]any{
					"candidates": 10,
					"sensors":    3,
				},
			},
		},
		{
			name: "failed localization event",
			event: &Event{
				NetworkID:    "net-1",
				Action:       ActionTransition,
				ResourceType: ResourceLeakDetection,
				ResourceID:   "det-1",
				Status:       StatusFailure,
				ErrorMessage: "localization undetermined",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := logger.Log(tt.event); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.event.ID == "" {
				t.Error("expected event ID to be assigned")
			}
			if tt.event.Timestamp.IsZero() {
				t.Error("expected timestamp to be assigned")
			}
		})
	}

	if count := logger.GetEventCount(); count != int64(len(tests)) {
		t.Errorf("expected %d events, got %d", len(tests), count)
	}
}

func TestAuditLogger_CircularBuffer(t *testing.T) {
	bufferSize := 5
	logger := NewAuditLogger(bufferSize)

	for i := 0; i < bufferSize*2; i++ {
		logger.Log(&Event{
			NetworkID:    "net-1",
			Action:       ActionCreate,
			ResourceType: ResourceReading,
			ResourceID:   fmt.Sprintf("reading-%d", i),
			Status:       StatusSuccess,
		})
	}

	if count := logger.GetEventCount(); count != int64(bufferSize) {
		t.Errorf("expected buffer to cap at %d events, got %d", bufferSize, count)
	}

	events := logger.GetEvents(nil)
	if len(events) != bufferSize {
		t.Errorf("expected %d events from GetEvents, got %d", bufferSize, len(events))
	}

	// Only the last bufferSize events should survive.
	for i, e := range events {
		wantID := fmt.Sprintf("reading-%d", bufferSize+i)
		if e.ResourceID != wantID {
			t.Errorf("event %d: expected ResourceID %s, got %s", i, wantID, e.ResourceID)
		}
	}
}

func TestAuditLogger_GetEventsFilter(t *testing.T) {
	logger := NewAuditLogger(100)

	logger.Log(&Event{NetworkID: "net-1", Action: ActionImport, ResourceType: ResourceNetwork, Status: StatusSuccess})
	logger.Log(&Event{NetworkID: "net-2", Action: ActionImport, ResourceType: ResourceNetwork, Status: StatusSuccess})
	logger.Log(&Event{NetworkID: "net-1", Action: ActionBuild, ResourceType: ResourceSensitivity, Status: StatusFailure})

	byNetwork := logger.GetEvents(&Filter{NetworkID: "net-1"})
	if len(byNetwork) != 2 {
		t.Fatalf("expected 2 events for net-1, got %d", len(byNetwork))
	}

	byStatus := logger.GetEvents(&Filter{Status: StatusFailure})
	if len(byStatus) != 1 {
		t.Fatalf("expected 1 failed event, got %d", len(byStatus))
	}

	byAction := logger.GetEvents(&Filter{Action: ActionBuild})
	if len(byAction) != 1 || byAction[0].ResourceType != ResourceSensitivity {
		t.Fatalf("expected 1 build event for the sensitivity matrix, got %d", len(byAction))
	}
}

func TestAuditLogger_GetEventsTimeRange(t *testing.T) {
	logger := NewAuditLogger(100)
	now := time.Now()

	logger.Log(&Event{NetworkID: "net-1", Timestamp: now.Add(-2 * time.Hour), Action: ActionCreate, ResourceType: ResourceReading, Status: StatusSuccess})
	logger.Log(&Event{NetworkID: "net-1", Timestamp: now.Add(-30 * time.Minute), Action: ActionCreate, ResourceType: ResourceReading, Status: StatusSuccess})
	logger.Log(&Event{NetworkID: "net-1", Timestamp: now, Action: ActionCreate, ResourceType: ResourceReading, Status: StatusSuccess})

	start := now.Add(-time.Hour)
	events := logger.GetEvents(&Filter{StartTime: &start})
	if len(events) != 2 {
		t.Errorf("expected 2 events after start time, got %d", len(events))
	}
}

func TestAuditLogger_GetRecentEvents(t *testing.T) {
	logger := NewAuditLogger(100)

	for i := 0; i < 10; i++ {
		logger.Log(&Event{
			NetworkID:    "net-1",
			Action:       ActionCreate,
			ResourceType: ResourceReading,
			ResourceID:   fmt.Sprintf("r-%d", i),
			Status:       StatusSuccess,
		})
	}

	recent := logger.GetRecentEvents(3)
	if len(recent) != 3 {
		t.Fatalf("expected 3 recent events, got %d", len(recent))
	}
	// Most recent first.
	if recent[0].ResourceID != "r-9" {
		t.Errorf("expected most recent event first, got %s", recent[0].ResourceID)
	}

	moreThanAvailable := logger.GetRecentEvents(100)
	if len(moreThanAvailable) != 10 {
		t.Errorf("expected GetRecentEvents to cap at stored count, got %d", len(moreThanAvailable))
	}
}

func TestAuditLogger_Clear(t *testing.T) {
	logger := NewAuditLogger(10)
	logger.Log(&Event{NetworkID: "net-1", Action: ActionCreate, ResourceType: ResourceReading, Status: StatusSuccess})

	logger.Clear()

	if count := logger.GetEventCount(); count != 0 {
		t.Errorf("expected 0 events after Clear, got %d", count)
	}
	if events := logger.GetEvents(nil); len(events) != 0 {
		t.Errorf("expected no events after Clear, got %d", len(events))
	}
}

func TestNewEvent(t *testing.T) {
	e := NewEvent("net-1", ActionImport, ResourceNetwork, "net-1", StatusSuccess)

	if e.ID == "" {
		t.Error("expected generated ID")
	}
	if e.NetworkID != "net-1" || e.Action != ActionImport || e.ResourceType != ResourceNetwork {
		t.Errorf("unexpected event: %+v", e)
	}
}

func TestNewFailedEvent(t *testing.T) {
	e := NewFailedEvent("net-1", ActionBuild, ResourceSensitivity, "", "simulator unavailable")

	if e.Status != StatusFailure {
		t.Errorf("expected StatusFailure, got %s", e.Status)
	}
	if e.ErrorMessage != "simulator unavailable" {
		t.Errorf("expected error message to be preserved, got %q", e.ErrorMessage)
	}
}

func TestLifecycleTransitionEvent(t *testing.T) {
	e := LifecycleTransitionEvent("net-1", "det-1", "DETECTED", "LOCALIZED")

	if e.Action != ActionTransition || e.ResourceType != ResourceLeakDetection {
		t.Errorf("unexpected event shape: %+v", e)
	}
	if e.Metadata["from"] != "DETECTED" || e.Metadata["to"] != "LOCALIZED" {
		t.Errorf("expected from/to metadata, got %+v", e.Metadata)
	}
}

func TestEvent_String(t *testing.T) {
	e := NewEvent("net-1", ActionImport, ResourceNetwork, "net-1", StatusSuccess)
	s := e.String()

	if s == "" {
		t.Error("expected non-empty string representation")
	}
}

func TestAuditLogger_ConcurrentLogging(t *testing.T) {
	logger := NewAuditLogger(1000)
	done := make(chan struct{})

	for i := 0; i < 50; i++ {
		go func(i int) {
			logger.Log(&Event{
				NetworkID:    "net-1",
				Action:       ActionCreate,
				ResourceType: ResourceReading,
				ResourceID:   fmt.Sprintf("r-%d", i),
				Status:       StatusSuccess,
			})
			done <- struct{}{}
		}(i)
	}

	for i := 0; i < 50; i++ {
		<-done
	}

	if count := logger.GetEventCount(); count != 50 {
		t.Errorf("expected 50 events after concurrent logging, got %d", count)
	}
}
