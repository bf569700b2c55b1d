package audit

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Action types for audit events.
type Action string

const (
	ActionCreate    Action = "create"
	ActionUpdate    Action = "update"
	ActionTransition Action = "transition"
	ActionImport    Action = "import"
	ActionBuild     Action = "build"
)

// ResourceType represents the kind of domain resource an event describes.
type ResourceType string

const (
	ResourceNetwork      ResourceType = "network"
	ResourceSensitivity  ResourceType = "sensitivity_matrix"
	ResourceLeakDetection ResourceType = "leak_detection"
	ResourceSensor       ResourceType = "sensor"
	ResourceReading      ResourceType = "reading"
)

// Status represents the outcome of an action.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Event represents a single audit log entry, scoped to a network.
type Event struct {
	ID           string         `json:"id"`
	Timestamp    time.Time      `json:"timestamp"`
	NetworkID    string         `json:"network_id"`
	Action       Action         `json:"action"`
	ResourceType ResourceType   `json:"resource_type"`
	ResourceID   string         `json:"resource_id,omitempty"`
	Status       Status         `json:"status"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Filter represents filtering criteria for audit events.
type Filter struct {
	NetworkID    string
	Action       Action
	ResourceType ResourceType
	ResourceID   string
	Status       Status
	StartTime    *time.Time
	EndTime      *time.Time
}

// Logger is the interface for audit logging implementations.
type Logger interface {
	Log(event *Event) error
	GetEventCount() int64
}

// AuditLogger manages audit log events with a circular buffer.
type AuditLogger struct {
	events     []*Event
	bufferSize int
	index      int
	count      int
	mu         sync.RWMutex
}

// NewAuditLogger creates a new audit logger with the specified buffer size.
func NewAuditLogger(bufferSize int) *AuditLogger {
	return &AuditLogger{
		events:     make([]*Event, bufferSize),
		bufferSize: bufferSize,
	}
}

// Log records an audit event.
func (l *AuditLogger) Log(event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	l.events[l.index] = event
	l.index = (l.index + 1) % l.bufferSize

	if l.count < l.bufferSize {
		l.count++
	}

	return nil
}

// GetEvents retrieves audit events with optional filtering.
func (l *AuditLogger) GetEvents(filter *Filter) []*Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]*Event, 0, l.count)

	for i := 0; i < l.count; i++ {
		idx := (l.index - l.count + i + l.bufferSize) % l.bufferSize
		event := l.events[idx]
		if event == nil {
			continue
		}

		if filter != nil {
			if filter.NetworkID != "" && event.NetworkID != filter.NetworkID {
				continue
			}
			if filter.Action != "" && event.Action != filter.Action {
				continue
			}
			if filter.ResourceType != "" && event.ResourceType != filter.ResourceType {
				continue
			}
			if filter.ResourceID != "" && event.ResourceID != filter.ResourceID {
				continue
			}
			if filter.Status != "" && event.Status != filter.Status {
				continue
			}
			if filter.StartTime != nil && event.Timestamp.Before(*filter.StartTime) {
				continue
			}
			if filter.EndTime != nil && event.Timestamp.After(*filter.EndTime) {
				continue
			}
		}

		result = append(result, event)
	}

	return result
}

// GetRecentEvents returns the N most recent events.
func (l *AuditLogger) GetRecentEvents(n int) []*Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n > l.count {
		n = l.count
	}

	result := make([]*Event, 0, n)
	for i := 0; i < n; i++ {
		idx := (l.index - 1 - i + l.bufferSize) % l.bufferSize
		if l.events[idx] != nil {
			result = append(result, l.events[idx])
		}
	}

	return result
}

// GetEventCount returns the total number of events currently stored.
func (l *AuditLogger) GetEventCount() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return int64(l.count)
}

// Clear removes all events from the logger.
func (l *AuditLogger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.events = make([]*Event, l.bufferSize)
	l.index = 0
	l.count = 0
}

// NewEvent creates a standard audit event.
func NewEvent(networkID string, action Action, resourceType ResourceType, resourceID string, status Status) *Event {
	return &Event{
		ID:           uuid.New().String(),
		Timestamp:    time.Now(),
		NetworkID:    networkID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Status:       status,
	}
}

// NewFailedEvent creates a failed event with an error message.
func NewFailedEvent(networkID string, action Action, resourceType ResourceType, resourceID, errorMsg string) *Event {
	return &Event{
		ID:           uuid.New().String(),
		Timestamp:    time.Now(),
		NetworkID:    networkID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Status:       StatusFailure,
		ErrorMessage: errorMsg,
	}
}

// LifecycleTransitionEvent records a LeakDetection state transition.
func LifecycleTransitionEvent(networkID, detectionID, fromStatus, toStatus string) *Event {
	return &Event{
		ID:           uuid.New().String(),
		Timestamp:    time.Now(),
		NetworkID:    networkID,
		Action:       ActionTransition,
		ResourceType: ResourceLeakDetection,
		ResourceID:   detectionID,
		Status:       StatusSuccess,
		Metadata: map[string]any{
			"from": fromStatus,
			"to":   toStatus,
		},
	}
}

// String returns a human-readable representation of an event.
func (e *Event) String() string {
	return fmt.Sprintf("[%s] network=%s %s %s %s (status: %s)",
		e.Timestamp.Format(time.RFC3339),
		e.NetworkID,
		e.Action,
		e.ResourceType,
		e.ResourceID,
		e.Status,
	)
}
