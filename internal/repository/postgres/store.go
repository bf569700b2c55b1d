// Package postgres implements internal/repository.Repository on top of
// pgx/pgxpool, grounded on the teacher's connection-pool and migration
// conventions.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/watershedlabs/leaksense/internal/domain"
	"github.com/watershedlabs/leaksense/internal/repository"
	"github.com/watershedlabs/leaksense/pkg/apperrors"
)

// upsertBatchSize matches §4.D's batch-of-1000 persistence contract.
const upsertBatchSize = 1000

// Store is a PostgreSQL-backed Repository.
type Store struct {
	pool *pgxpool.Pool
}

// New opens a connection pool against databaseURL, verifies connectivity,
// and ensures the schema exists.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 5
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return s, nil
}

var _ repository.Repository = (*Store)(nil)

// Ping checks database connectivity, used by health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS networks (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS nodes (
		id TEXT PRIMARY KEY,
		network_id TEXT NOT NULL REFERENCES networks(id),
		node_id TEXT NOT NULL,
		node_type TEXT NOT NULL,
		parent_id TEXT,
		epanet_node_id TEXT,
		location TEXT,
		UNIQUE (network_id, node_id)
	);
	CREATE INDEX IF NOT EXISTS idx_nodes_network ON nodes(network_id);

	CREATE TABLE IF NOT EXISTS partitions (
		id TEXT PRIMARY KEY,
		network_id TEXT NOT NULL REFERENCES networks(id),
		partition_id TEXT NOT NULL,
		mainline_id TEXT NOT NULL,
		UNIQUE (network_id, partition_id)
	);

	CREATE TABLE IF NOT EXISTS sensors (
		id TEXT PRIMARY KEY,
		network_id TEXT NOT NULL REFERENCES networks(id),
		sensor_id TEXT NOT NULL,
		sensor_type TEXT NOT NULL,
		node_id TEXT NOT NULL,
		partition_id TEXT,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		UNIQUE (network_id, sensor_id)
	);
	CREATE INDEX IF NOT EXISTS idx_sensors_network ON sensors(network_id);

	CREATE TABLE IF NOT EXISTS readings (
		id TEXT PRIMARY KEY,
		network_id TEXT NOT NULL REFERENCES networks(id),
		sensor_id TEXT NOT NULL,
		flow_value DOUBLE PRECISION NOT NULL,
		timestamp TIMESTAMPTZ NOT NULL,
		source TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_readings_network_sensor_ts ON readings(network_id, sensor_id, timestamp);

	CREATE TABLE IF NOT EXISTS sensitivity_entries (
		network_id TEXT NOT NULL REFERENCES networks(id),
		leak_node_id TEXT NOT NULL,
		sensor_id TEXT NOT NULL,
		sensitivity_value DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (network_id, leak_node_id, sensor_id)
	);

	CREATE TABLE IF NOT EXISTS leak_detections (
		id TEXT PRIMARY KEY,
		network_id TEXT NOT NULL REFERENCES networks(id),
		node_id TEXT NOT NULL,
		partition_id TEXT,
		flow_imbalance DOUBLE PRECISION NOT NULL,
		severity TEXT NOT NULL,
		status TEXT NOT NULL,
		detected_at TIMESTAMPTZ NOT NULL,
		timestamp TIMESTAMPTZ NOT NULL,
		time_window INT,
		threshold DOUBLE PRECISION,
		localized_node_id TEXT,
		localization_score DOUBLE PRECISION,
		localized_at TIMESTAMPTZ
	);
	CREATE INDEX IF NOT EXISTS idx_leak_detections_network ON leak_detections(network_id);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Networks

func (s *Store) CreateNetwork(ctx context.Context, n *domain.Network) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO networks (id, name, created_at) VALUES ($1, $2, $3)`,
		n.ID, n.Name, n.CreatedAt)
	if isUniqueViolation(err) {
		return apperrors.Conflict("Store.CreateNetwork", "network", n.ID)
	}
	return err
}

func (s *Store) GetNetwork(ctx context.Context, id string) (*domain.Network, error) {
	n := &domain.Network{}
	err := s.pool.QueryRow(ctx, `SELECT id, name, created_at FROM networks WHERE id = $1`, id).
		Scan(&n.ID, &n.Name, &n.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("Store.GetNetwork", "network", id)
	}
	return n, err
}

// Nodes

func (s *Store) CreateNode(ctx context.Context, n *domain.Node) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO nodes (id, network_id, node_id, node_type, parent_id, epanet_node_id, location)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		n.ID, n.NetworkID, n.NodeID, n.NodeType, n.ParentID, n.EPANETNodeID, n.Location)
	if isUniqueViolation(err) {
		return apperrors.Conflict("Store.CreateNode", "node", n.NodeID)
	}
	return err
}

func (s *Store) UpsertNodes(ctx context.Context, nodes []domain.Node) error {
	return s.withBatches(ctx, len(nodes), func(batch *pgx.Batch, start, end int) {
		for _, n := range nodes[start:end] {
			batch.Queue(
				`INSERT INTO nodes (id, network_id, node_id, node_type, parent_id, epanet_node_id, location)
				 VALUES ($1, $2, $3, $4, $5, $6, $7)
				 ON CONFLICT (id) DO UPDATE SET
				   node_type = EXCLUDED.node_type, parent_id = EXCLUDED.parent_id,
				   epanet_node_id = EXCLUDED.epanet_node_id, location = EXCLUDED.location`,
				n.ID, n.NetworkID, n.NodeID, n.NodeType, n.ParentID, n.EPANETNodeID, n.Location)
		}
	})
}

func (s *Store) GetNode(ctx context.Context, networkID, id string) (*domain.Node, error) {
	n := &domain.Node{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, network_id, node_id, node_type, parent_id, epanet_node_id, location
		 FROM nodes WHERE network_id = $1 AND id = $2`, networkID, id).
		Scan(&n.ID, &n.NetworkID, &n.NodeID, &n.NodeType, &n.ParentID, &n.EPANETNodeID, &n.Location)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("Store.GetNode", "node", id)
	}
	return n, err
}

func (s *Store) GetNodeByLabel(ctx context.Context, networkID, nodeID string) (*domain.Node, error) {
	n := &domain.Node{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, network_id, node_id, node_type, parent_id, epanet_node_id, location
		 FROM nodes WHERE network_id = $1 AND node_id = $2`, networkID, nodeID).
		Scan(&n.ID, &n.NetworkID, &n.NodeID, &n.NodeType, &n.ParentID, &n.EPANETNodeID, &n.Location)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return n, err
}

func (s *Store) ListNodes(ctx context.Context, networkID string) ([]domain.Node, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, network_id, node_id, node_type, parent_id, epanet_node_id, location
		 FROM nodes WHERE network_id = $1 ORDER BY node_id`, networkID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Node, 0)
	for rows.Next() {
		var n domain.Node
		if err := rows.Scan(&n.ID, &n.NetworkID, &n.NodeID, &n.NodeType, &n.ParentID, &n.EPANETNodeID, &n.Location); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// Partitions

func (s *Store) CreatePartition(ctx context.Context, p *domain.Partition) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO partitions (id, network_id, partition_id, mainline_id) VALUES ($1, $2, $3, $4)`,
		p.ID, p.NetworkID, p.PartitionID, p.MainlineID)
	if isUniqueViolation(err) {
		return apperrors.Conflict("Store.CreatePartition", "partition", p.PartitionID)
	}
	return err
}

func (s *Store) GetPartitionByLabel(ctx context.Context, networkID, partitionID string) (*domain.Partition, error) {
	p := &domain.Partition{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, network_id, partition_id, mainline_id FROM partitions WHERE network_id = $1 AND partition_id = $2`,
		networkID, partitionID).Scan(&p.ID, &p.NetworkID, &p.PartitionID, &p.MainlineID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

func (s *Store) ListPartitions(ctx context.Context, networkID string) ([]domain.Partition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, network_id, partition_id, mainline_id FROM partitions WHERE network_id = $1 ORDER BY partition_id`, networkID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Partition, 0)
	for rows.Next() {
		var p domain.Partition
		if err := rows.Scan(&p.ID, &p.NetworkID, &p.PartitionID, &p.MainlineID); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Sensors

func (s *Store) CreateSensor(ctx context.Context, sn *domain.Sensor) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sensors (id, network_id, sensor_id, sensor_type, node_id, partition_id, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sn.ID, sn.NetworkID, sn.SensorID, sn.SensorType, sn.NodeID, sn.PartitionID, sn.IsActive)
	if isUniqueViolation(err) {
		return apperrors.Conflict("Store.CreateSensor", "sensor", sn.SensorID)
	}
	return err
}

func (s *Store) GetSensorByLabel(ctx context.Context, networkID, sensorID string) (*domain.Sensor, error) {
	sn := &domain.Sensor{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, network_id, sensor_id, sensor_type, node_id, partition_id, is_active
		 FROM sensors WHERE network_id = $1 AND sensor_id = $2`, networkID, sensorID).
		Scan(&sn.ID, &sn.NetworkID, &sn.SensorID, &sn.SensorType, &sn.NodeID, &sn.PartitionID, &sn.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return sn, err
}

func (s *Store) ListSensors(ctx context.Context, networkID string) ([]domain.Sensor, error) {
	return s.listSensors(ctx, networkID, false)
}

func (s *Store) ListActiveSensors(ctx context.Context, networkID string) ([]domain.Sensor, error) {
	return s.listSensors(ctx, networkID, true)
}

func (s *Store) listSensors(ctx context.Context, networkID string, activeOnly bool) ([]domain.Sensor, error) {
	query := `SELECT id, network_id, sensor_id, sensor_type, node_id, partition_id, is_active
		FROM sensors WHERE network_id = $1`
	if activeOnly {
		query += ` AND is_active = TRUE`
	}
	query += ` ORDER BY sensor_id`

	rows, err := s.pool.Query(ctx, query, networkID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Sensor, 0)
	for rows.Next() {
		var sn domain.Sensor
		if err := rows.Scan(&sn.ID, &sn.NetworkID, &sn.SensorID, &sn.SensorType, &sn.NodeID, &sn.PartitionID, &sn.IsActive); err != nil {
			return nil, err
		}
		out = append(out, sn)
	}
	return out, rows.Err()
}

// Readings

func (s *Store) CreateReadings(ctx context.Context, readings []domain.Reading) error {
	return s.withBatches(ctx, len(readings), func(batch *pgx.Batch, start, end int) {
		for _, r := range readings[start:end] {
			batch.Queue(
				`INSERT INTO readings (id, network_id, sensor_id, flow_value, timestamp, source)
				 VALUES ($1, $2, $3, $4, $5, $6)`,
				r.ID, r.NetworkID, r.SensorID, r.FlowValue, r.Timestamp, r.Source)
		}
	})
}

func (s *Store) ListReadingsInWindow(ctx context.Context, networkID string, filter repository.ReadingFilter) ([]domain.Reading, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, network_id, sensor_id, flow_value, timestamp, source
		 FROM readings
		 WHERE network_id = $1 AND sensor_id = $2 AND timestamp >= $3 AND timestamp <= $4
		 ORDER BY timestamp`,
		networkID, filter.SensorID, filter.From, filter.To)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Reading, 0)
	for rows.Next() {
		var r domain.Reading
		if err := rows.Scan(&r.ID, &r.NetworkID, &r.SensorID, &r.FlowValue, &r.Timestamp, &r.Source); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Sensitivity matrix

func (s *Store) UpsertSensitivityEntries(ctx context.Context, entries []domain.SensitivityEntry) error {
	return s.withBatches(ctx, len(entries), func(batch *pgx.Batch, start, end int) {
		for _, e := range entries[start:end] {
			batch.Queue(
				`INSERT INTO sensitivity_entries (network_id, leak_node_id, sensor_id, sensitivity_value)
				 VALUES ($1, $2, $3, $4)
				 ON CONFLICT (network_id, leak_node_id, sensor_id) DO UPDATE SET sensitivity_value = EXCLUDED.sensitivity_value`,
				e.NetworkID, e.LeakNodeID, e.SensorID, e.SensitivityValue)
		}
	})
}

func (s *Store) CountSensitivityEntries(ctx context.Context, networkID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM sensitivity_entries WHERE network_id = $1`, networkID).Scan(&count)
	return count, err
}

func (s *Store) GetSensitivityRow(ctx context.Context, networkID, leakNodeID string) ([]domain.SensitivityEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT network_id, leak_node_id, sensor_id, sensitivity_value
		 FROM sensitivity_entries WHERE network_id = $1 AND leak_node_id = $2 ORDER BY sensor_id`,
		networkID, leakNodeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.SensitivityEntry, 0)
	for rows.Next() {
		var e domain.SensitivityEntry
		if err := rows.Scan(&e.NetworkID, &e.LeakNodeID, &e.SensorID, &e.SensitivityValue); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) ListCandidateLeakNodeIDs(ctx context.Context, networkID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT leak_node_id FROM sensitivity_entries WHERE network_id = $1 ORDER BY leak_node_id`, networkID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) ClearSensitivityMatrix(ctx context.Context, networkID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM sensitivity_entries WHERE network_id = $1`, networkID)
	return err
}

// Leak detections

func (s *Store) CreateLeakDetection(ctx context.Context, d *domain.LeakDetection) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO leak_detections
		 (id, network_id, node_id, partition_id, flow_imbalance, severity, status, detected_at, timestamp,
		  time_window, threshold, localized_node_id, localization_score, localized_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		d.ID, d.NetworkID, d.NodeID, d.PartitionID, d.FlowImbalance, d.Severity, d.Status, d.DetectedAt, d.Timestamp,
		d.TimeWindow, d.Threshold, d.LocalizedNodeID, d.LocalizationScore, d.LocalizedAt)
	return err
}

func (s *Store) UpdateLeakDetection(ctx context.Context, d *domain.LeakDetection) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE leak_detections SET
		   status = $2, localized_node_id = $3, localization_score = $4, localized_at = $5
		 WHERE id = $1`,
		d.ID, d.Status, d.LocalizedNodeID, d.LocalizationScore, d.LocalizedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("Store.UpdateLeakDetection", "leak_detection", d.ID)
	}
	return nil
}

func (s *Store) GetLeakDetection(ctx context.Context, networkID, id string) (*domain.LeakDetection, error) {
	d := &domain.LeakDetection{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, network_id, node_id, partition_id, flow_imbalance, severity, status, detected_at, timestamp,
		        time_window, threshold, localized_node_id, localization_score, localized_at
		 FROM leak_detections WHERE network_id = $1 AND id = $2`, networkID, id).
		Scan(&d.ID, &d.NetworkID, &d.NodeID, &d.PartitionID, &d.FlowImbalance, &d.Severity, &d.Status, &d.DetectedAt, &d.Timestamp,
			&d.TimeWindow, &d.Threshold, &d.LocalizedNodeID, &d.LocalizationScore, &d.LocalizedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("Store.GetLeakDetection", "leak_detection", id)
	}
	return d, err
}

func (s *Store) GetLeakDetections(ctx context.Context, networkID string, ids []string) ([]domain.LeakDetection, error) {
	var rows pgx.Rows
	var err error
	if len(ids) == 0 {
		rows, err = s.pool.Query(ctx,
			`SELECT id, network_id, node_id, partition_id, flow_imbalance, severity, status, detected_at, timestamp,
			        time_window, threshold, localized_node_id, localization_score, localized_at
			 FROM leak_detections WHERE network_id = $1 ORDER BY detected_at`, networkID)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT id, network_id, node_id, partition_id, flow_imbalance, severity, status, detected_at, timestamp,
			        time_window, threshold, localized_node_id, localization_score, localized_at
			 FROM leak_detections WHERE network_id = $1 AND id = ANY($2) ORDER BY detected_at`, networkID, ids)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.LeakDetection, 0)
	for rows.Next() {
		var d domain.LeakDetection
		if err := rows.Scan(&d.ID, &d.NetworkID, &d.NodeID, &d.PartitionID, &d.FlowImbalance, &d.Severity, &d.Status, &d.DetectedAt, &d.Timestamp,
			&d.TimeWindow, &d.Threshold, &d.LocalizedNodeID, &d.LocalizationScore, &d.LocalizedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// withBatches submits count items through pool.SendBatch in chunks of
// upsertBatchSize, per §4.D's batch-of-1000 persistence contract.
func (s *Store) withBatches(ctx context.Context, count int, fill func(batch *pgx.Batch, start, end int)) error {
	for start := 0; start < count; start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > count {
			end = count
		}
		batch := &pgx.Batch{}
		fill(batch, start, end)
		br := s.pool.SendBatch(ctx, batch)
		for i := 0; i < batch.Len(); i++ {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return err
			}
		}
		if err := br.Close(); err != nil {
			return err
		}
	}
	return nil
}

// uniqueViolation is Postgres error code 23505.
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	return false
}
