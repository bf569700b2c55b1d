// Package repository defines the persistence contract shared by every
// domain component. Two implementations exist: an in-memory store for
// tests and small deployments (internal/repository/memory) and a
// pgx-backed Postgres store (internal/repository/postgres).
package repository

import (
	"context"
	"time"

	"github.com/watershedlabs/leaksense/internal/domain"
)

// ReadingFilter narrows a reading query to a sensor and a time window.
type ReadingFilter struct {
	SensorID string
	From     time.Time
	To       time.Time
}

// Repository is the persistence contract for every §3 entity.
type Repository interface {
	// Networks
	CreateNetwork(ctx context.Context, n *domain.Network) error
	GetNetwork(ctx context.Context, id string) (*domain.Network, error)

	// Nodes
	CreateNode(ctx context.Context, n *domain.Node) error
	UpsertNodes(ctx context.Context, nodes []domain.Node) error
	GetNode(ctx context.Context, networkID, id string) (*domain.Node, error)
	GetNodeByLabel(ctx context.Context, networkID, nodeID string) (*domain.Node, error)
	ListNodes(ctx context.Context, networkID string) ([]domain.Node, error)

	// Partitions (DMAs)
	CreatePartition(ctx context.Context, p *domain.Partition) error
	GetPartitionByLabel(ctx context.Context, networkID, partitionID string) (*domain.Partition, error)
	ListPartitions(ctx context.Context, networkID string) ([]domain.Partition, error)

	// Sensors
	CreateSensor(ctx context.Context, s *domain.Sensor) error
	GetSensorByLabel(ctx context.Context, networkID, sensorID string) (*domain.Sensor, error)
	ListSensors(ctx context.Context, networkID string) ([]domain.Sensor, error)
	ListActiveSensors(ctx context.Context, networkID string) ([]domain.Sensor, error)

	// Readings
	CreateReadings(ctx context.Context, readings []domain.Reading) error
	ListReadingsInWindow(ctx context.Context, networkID string, filter ReadingFilter) ([]domain.Reading, error)

	// Sensitivity matrix
	UpsertSensitivityEntries(ctx context.Context, entries []domain.SensitivityEntry) error
	CountSensitivityEntries(ctx context.Context, networkID string) (int, error)
	GetSensitivityRow(ctx context.Context, networkID, leakNodeID string) ([]domain.SensitivityEntry, error)
	ListCandidateLeakNodeIDs(ctx context.Context, networkID string) ([]string, error)
	ClearSensitivityMatrix(ctx context.Context, networkID string) error

	// Leak detections
	CreateLeakDetection(ctx context.Context, d *domain.LeakDetection) error
	UpdateLeakDetection(ctx context.Context, d *domain.LeakDetection) error
	GetLeakDetection(ctx context.Context, networkID, id string) (*domain.LeakDetection, error)
	GetLeakDetections(ctx context.Context, networkID string, ids []string) ([]domain.LeakDetection, error)

	// Ping verifies connectivity, used by health checks.
	Ping(ctx context.Context) error
}
