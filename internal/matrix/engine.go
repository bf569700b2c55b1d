// Package matrix implements §4.D: the sensitivity-matrix build engine.
// A build perturbs each candidate leak node by a unit leak and measures the
// resulting change at every sensor, producing M[c, s] = (d_c[s] - b[s]) / L.
package matrix

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/watershedlabs/leaksense/internal/domain"
	"github.com/watershedlabs/leaksense/internal/repository"
	"github.com/watershedlabs/leaksense/internal/simulator"
	"github.com/watershedlabs/leaksense/pkg/apperrors"
	"github.com/watershedlabs/leaksense/pkg/logging"
	"github.com/watershedlabs/leaksense/pkg/parallel"
	"github.com/watershedlabs/leaksense/pkg/pubsub"
)

const (
	unitLeakLps         = 1.0
	maxConcurrentSolves = 5
	batchSize           = 1000

	// ProgressTopic is the pubsub topic a build publishes progress events on.
	ProgressTopic = "matrix.progress"
)

// ProgressEvent is published to ProgressTopic after each candidate whose
// leak solve succeeds, and once more when the build completes.
type ProgressEvent struct {
	NetworkID string
	Processed int
	Total     int
	Percent   int
}

// PathResolver returns the on-disk path to a network's stored .inp file.
type PathResolver func(networkID string) string

type candidate struct {
	id       string // domain.Node.ID
	epanetID string
}

type sensorSpec struct {
	id       string // domain.Sensor.ID
	epanetID string
}

// Engine builds and serves sensitivity matrices for networks.
type Engine struct {
	repo        repository.Repository
	sim         *simulator.Simulator
	coordinator *Coordinator
	resolvePath PathResolver
	bus         *pubsub.PubSub
	log         logging.Logger
	batchLogDir string
}

// Option configures optional Engine behavior.
type Option func(*Engine)

// WithBatchLogDir enables the per-build, snappy-compressed batch
// recovery log under dir. Empty (the default) disables it.
func WithBatchLogDir(dir string) Option {
	return func(e *Engine) { e.batchLogDir = dir }
}

// New creates a matrix Engine.
func New(repo repository.Repository, sim *simulator.Simulator, coordinator *Coordinator, resolvePath PathResolver, bus *pubsub.PubSub, log logging.Logger, opts ...Option) *Engine {
	if log == nil {
		log = logging.NewNopLogger()
	}
	e := &Engine{repo: repo, sim: sim, coordinator: coordinator, resolvePath: resolvePath, bus: bus, log: log}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Generate starts (or reuses) a sensitivity-matrix build for a network.
// See §4.D for the exact state-transition contract.
func (e *Engine) Generate(ctx context.Context, networkID string, force bool) (Status, error) {
	rec := e.coordinator.recordFor(networkID)

	current := rec.snapshot()
	if current.State == StateInProgress {
		if force {
			return Status{}, apperrors.Conflict("MatrixEngine.Generate", "network", networkID)
		}
		return current, nil
	}

	if !force {
		count, err := e.repo.CountSensitivityEntries(ctx, networkID)
		if err != nil {
			return Status{}, err
		}
		if count > 0 {
			return Status{State: StateCompleted, Stats: &Stats{EntryCount: count}}, nil
		}
	}

	candidates, sensors, err := e.resolveCandidatesAndSensors(ctx, networkID)
	if err != nil {
		return Status{}, err
	}

	rec.setInProgress()
	inpPath := e.resolvePath(networkID)
	go e.runBuild(context.Background(), networkID, rec, candidates, sensors, inpPath)

	return rec.snapshot(), nil
}

// Status returns the current build status for a network.
func (e *Engine) Status(networkID string) Status {
	return e.coordinator.Status(networkID)
}

func (e *Engine) resolveCandidatesAndSensors(ctx context.Context, networkID string) ([]candidate, []sensorSpec, error) {
	nodes, err := e.repo.ListNodes(ctx, networkID)
	if err != nil {
		return nil, nil, err
	}
	nodesByID := make(map[string]domain.Node, len(nodes))
	for _, n := range nodes {
		nodesByID[n.ID] = n
	}

	candidates := make([]candidate, 0)
	for _, n := range nodes {
		if n.EPANETNodeID != nil {
			candidates = append(candidates, candidate{id: n.ID, epanetID: *n.EPANETNodeID})
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].id < candidates[j].id })

	activeSensors, err := e.repo.ListActiveSensors(ctx, networkID)
	if err != nil {
		return nil, nil, err
	}
	sensors := make([]sensorSpec, 0)
	for _, s := range activeSensors {
		host, ok := nodesByID[s.NodeID]
		if !ok || host.EPANETNodeID == nil {
			continue
		}
		sensors = append(sensors, sensorSpec{id: s.ID, epanetID: *host.EPANETNodeID})
	}
	sort.Slice(sensors, func(i, j int) bool { return sensors[i].id < sensors[j].id })

	if len(candidates) == 0 || len(sensors) == 0 {
		return nil, nil, apperrors.InvalidInput("MatrixEngine.Generate", "network has zero EPANET-tagged candidate nodes or zero active EPANET-tagged sensors")
	}
	return candidates, sensors, nil
}

func (e *Engine) runBuild(ctx context.Context, networkID string, rec *record, candidates []candidate, sensors []sensorSpec, inpPath string) {
	baseHandle, err := e.sim.Load(ctx, inpPath)
	if err != nil {
		rec.setError(err.Error())
		return
	}
	defer baseHandle.Close()

	sensorEPANETIDs := make([]string, len(sensors))
	for i, s := range sensors {
		sensorEPANETIDs[i] = s.epanetID
	}

	baseline, err := e.sim.Baseline(ctx, baseHandle, sensorEPANETIDs)
	if err != nil {
		// Baseline failure is fatal to the build per §7.
		rec.setError(err.Error())
		return
	}

	pool, err := parallel.NewWorkerPool(maxConcurrentSolves)
	if err != nil {
		rec.setError(err.Error())
		return
	}

	var batchLog *BatchLog
	if e.batchLogDir != "" {
		batchLog, err = NewBatchLog(e.batchLogDir, networkID)
		if err != nil {
			// The recovery log is a durability aid, not a correctness
			// requirement; a build proceeds without it.
			e.log.Warn("matrix batch log unavailable, build continues without it",
				logging.String("network_id", networkID), logging.Error(err))
		} else {
			defer batchLog.Close()
		}
	}

	var mu sync.Mutex
	pending := make([]domain.SensitivityEntry, 0, batchSize)
	processed := 0
	total := len(candidates)

	flush := func() {
		if len(pending) == 0 {
			return
		}
		batchCopy := make([]domain.SensitivityEntry, len(pending))
		copy(batchCopy, pending)
		pending = pending[:0]
		if batchLog != nil {
			if err := batchLog.Append(batchCopy); err != nil {
				e.log.Warn("matrix batch log append failed", logging.String("network_id", networkID), logging.Error(err))
			}
		}
		if err := e.repo.UpsertSensitivityEntries(ctx, batchCopy); err != nil {
			e.log.Error("matrix batch upsert failed", logging.String("network_id", networkID), logging.Error(err))
		}
	}

	for _, c := range candidates {
		if ctx.Err() != nil {
			e.log.Warn("matrix build cancelled, remaining candidates skipped",
				logging.String("network_id", networkID), logging.Error(ctx.Err()))
			break
		}
		c := c
		pool.Submit(func() {
			entries, err := e.solveCandidate(ctx, inpPath, networkID, c, sensors, sensorEPANETIDs, baseline)
			if err != nil {
				// §4.D: exceptions from a single candidate are logged and
				// skipped; the build continues.
				e.log.Warn("matrix candidate skipped", logging.String("network_id", networkID),
					logging.String("candidate_id", c.id), logging.Error(err))
				mu.Lock()
				processed++
				pct := progressPercent(processed, total)
				rec.setProgress(pct)
				mu.Unlock()
				return
			}

			mu.Lock()
			pending = append(pending, entries...)
			processed++
			if len(pending) >= batchSize {
				flush()
			}
			pct := progressPercent(processed, total)
			rec.setProgress(pct)
			if e.bus != nil {
				e.bus.Publish(ProgressTopic, ProgressEvent{NetworkID: networkID, Processed: processed, Total: total, Percent: pct})
			}
			mu.Unlock()
		})
	}

	pool.Wait()

	mu.Lock()
	flush()
	mu.Unlock()

	stats := Stats{CandidateCount: len(candidates), SensorCount: len(sensors), EntryCount: len(candidates) * len(sensors)}
	rec.setCompleted(stats)
	if e.bus != nil {
		e.bus.Publish(ProgressTopic, ProgressEvent{NetworkID: networkID, Processed: total, Total: total, Percent: 100})
	}
}

func (e *Engine) solveCandidate(ctx context.Context, inpPath, networkID string, c candidate, sensors []sensorSpec, sensorEPANETIDs []string, baseline map[string]float64) ([]domain.SensitivityEntry, error) {
	// Each parallel worker owns its own handle for its lifetime.
	h, err := e.sim.Load(ctx, inpPath)
	if err != nil {
		return nil, err
	}
	defer h.Close()

	perturbed, err := e.sim.WithLeak(ctx, h, c.epanetID, unitLeakLps, sensorEPANETIDs)
	if err != nil {
		return nil, err
	}

	entries := make([]domain.SensitivityEntry, 0, len(sensors))
	for _, s := range sensors {
		var value float64
		if unitLeakLps > 0 {
			value = (perturbed[s.epanetID] - baseline[s.epanetID]) / unitLeakLps
		}
		entries = append(entries, domain.SensitivityEntry{
			NetworkID:        networkID,
			LeakNodeID:       c.id,
			SensorID:         s.id,
			SensitivityValue: value,
		})
	}
	return entries, nil
}

func progressPercent(processed, total int) int {
	if total == 0 {
		return 100
	}
	return int(math.Round(100 * float64(processed) / float64(total)))
}
