// Package domain defines the entities of the water-network model: Network,
// Node, Partition (DMA), Sensor, Reading, SensitivityEntry, and
// LeakDetection, plus the LeakDetection lifecycle state machine.
package domain

import "time"

// NodeType is the tagged variant of a topology vertex.
type NodeType string

const (
	NodeTypeMainline  NodeType = "MAINLINE"
	NodeTypeBranch    NodeType = "BRANCH"
	NodeTypeJunction  NodeType = "JUNCTION"
	NodeTypeHousehold NodeType = "HOUSEHOLD"
)

// Valid reports whether n is one of the four known node types.
func (n NodeType) Valid() bool {
	switch n {
	case NodeTypeMainline, NodeTypeBranch, NodeTypeJunction, NodeTypeHousehold:
		return true
	}
	return false
}

// SensorType is the tagged variant of a flow sensor.
type SensorType string

const (
	SensorTypeMainlineFlow      SensorType = "MAINLINE_FLOW"
	SensorTypeBranchJunctionFlow SensorType = "BRANCH_JUNCTION_FLOW"
	SensorTypeHouseholdFlow     SensorType = "HOUSEHOLD_FLOW"
)

// Valid reports whether s is one of the three known sensor types.
func (s SensorType) Valid() bool {
	switch s {
	case SensorTypeMainlineFlow, SensorTypeBranchJunctionFlow, SensorTypeHouseholdFlow:
		return true
	}
	return false
}

// Severity classifies the magnitude of a detected mass-balance imbalance.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// SeverityFor classifies an imbalance against the §4.E threshold table.
// Callers must have already confirmed imbalance > threshold.
func SeverityFor(imbalance float64) Severity {
	switch {
	case imbalance > 50:
		return SeverityCritical
	case imbalance > 20:
		return SeverityHigh
	case imbalance > 10:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// ReadingSource identifies where a reading originated.
type ReadingSource string

const (
	ReadingSourceSensor ReadingSource = "SENSOR"
	ReadingSourceManual ReadingSource = "MANUAL"
)

// Network is the logical container tenanting every other entity.
type Network struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// Node is a vertex in the network's parent/child forest.
type Node struct {
	ID           string
	NetworkID    string
	NodeID       string // string label, unique within the network
	NodeType     NodeType
	ParentID     *string // references another Node.ID in the same network
	EPANETNodeID *string
	Location     *string
}

// Partition is a DMA: the subtree rooted at a single MAINLINE node.
type Partition struct {
	ID          string
	NetworkID   string
	PartitionID string // label, e.g. "DMA_<mainline.node_id>"
	MainlineID  string // Node.ID of the owning mainline, unique
}

// Sensor is a flow meter attached to a node.
type Sensor struct {
	ID          string
	NetworkID   string
	SensorID    string // label, unique within the network
	SensorType  SensorType
	NodeID      string
	PartitionID *string
	IsActive    bool
}

// Reading is a single time-stamped flow sample.
type Reading struct {
	ID        string
	NetworkID string
	SensorID  string
	FlowValue float64
	Timestamp time.Time
	Source    ReadingSource
}

// SensitivityEntry is one cell of the sensitivity matrix: the dimensionless
// derivative of a sensor's flow with respect to a unit leak at a candidate
// node.
type SensitivityEntry struct {
	NetworkID        string
	LeakNodeID       string
	SensorID         string
	SensitivityValue float64
}

// DetectionStatus is the LeakDetection lifecycle state.
type DetectionStatus string

const (
	StatusDetected     DetectionStatus = "DETECTED"
	StatusLocalized    DetectionStatus = "LOCALIZED"
	StatusConfirmed    DetectionStatus = "CONFIRMED"
	StatusResolved     DetectionStatus = "RESOLVED"
	StatusFalsePositive DetectionStatus = "FALSE_POSITIVE"
)

// LeakDetection records a single mass-balance imbalance event and its
// lifecycle through confirmation/localization/resolution.
type LeakDetection struct {
	ID                string
	NetworkID         string
	NodeID            string
	PartitionID       *string
	FlowImbalance     float64
	Severity          Severity
	Status            DetectionStatus
	DetectedAt        time.Time
	Timestamp         time.Time // analysis instant
	TimeWindow        *int
	Threshold         *float64
	LocalizedNodeID   *string
	LocalizationScore *float64
	LocalizedAt       *time.Time
}
