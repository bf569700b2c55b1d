// Package simulator implements §4.C: a thin adapter over a hydraulic
// solver. Each handle holds one network's parsed topology and current
// per-node demand vector; solves propagate demand along the parent/child
// tree the same way flow accumulates upstream in a real distribution
// network, so a unit leak's effect on any sensor is exactly the sum of
// demand changes in its subtree.
package simulator

import (
	"context"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/watershedlabs/leaksense/internal/epanet"
	"github.com/watershedlabs/leaksense/pkg/apperrors"
	"github.com/watershedlabs/leaksense/pkg/logging"
)

const (
	defaultMaxRetries = 3
	defaultBackoff    = 1 * time.Second
	solveTimeout      = 30 * time.Second
)

// Handle is an open simulation workspace for one network's .inp file. It is
// single-threaded: callers achieve parallelism by opening one handle per
// worker, never by sharing a handle across goroutines.
type Handle struct {
	filePath string
	parent   map[string]string   // epanet id -> parent epanet id
	children map[string][]string // epanet id -> child epanet ids
	demand   map[string]float64  // epanet id -> current demand, mutated by WithLeak

	mu     sync.Mutex
	closed bool
}

// Simulator is the §4.C adapter. The zero value is not usable; use New.
type Simulator struct {
	maxRetries int
	backoff    time.Duration
	log        logging.Logger
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithBackoff overrides the retry backoff, primarily for tests.
func WithBackoff(d time.Duration) Option {
	return func(s *Simulator) { s.backoff = d }
}

// WithMaxRetries overrides the load retry count, primarily for tests.
func WithMaxRetries(n int) Option {
	return func(s *Simulator) { s.maxRetries = n }
}

// WithLogger attaches a structured logger.
func WithLogger(log logging.Logger) Option {
	return func(s *Simulator) { s.log = log }
}

// New creates a Simulator adapter.
func New(opts ...Option) *Simulator {
	s := &Simulator{
		maxRetries: defaultMaxRetries,
		backoff:    defaultBackoff,
		log:        logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load opens a workspace over the .inp file at filePath, retrying up to
// maxRetries times with backoff between attempts. Fails with
// SimulatorUnavailable after exhausting retries.
func (s *Simulator) Load(ctx context.Context, filePath string) (*Handle, error) {
	var lastErr error
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, apperrors.SimulatorUnavailable("Simulator.Load", ctx.Err())
		}

		data, err := os.ReadFile(filePath)
		if err == nil {
			var result *epanet.Result
			result, err = epanet.Parse(data)
			if err == nil {
				return newHandle(filePath, result), nil
			}
		}
		lastErr = err
		s.log.Warn("simulator load attempt failed",
			logging.String("file_path", filePath),
			logging.Int("attempt", attempt+1),
			logging.Error(err),
		)

		if attempt < s.maxRetries-1 {
			select {
			case <-time.After(s.backoff):
			case <-ctx.Done():
				return nil, apperrors.SimulatorUnavailable("Simulator.Load", ctx.Err())
			}
		}
	}
	return nil, apperrors.SimulatorUnavailable("Simulator.Load", lastErr)
}

func newHandle(filePath string, result *epanet.Result) *Handle {
	h := &Handle{
		filePath: filePath,
		parent:   make(map[string]string, len(result.Nodes)),
		children: make(map[string][]string, len(result.Nodes)),
		demand:   make(map[string]float64, len(result.Nodes)),
	}
	for _, n := range result.Nodes {
		if n.Demand != nil {
			h.demand[n.ID] = *n.Demand
		}
		if n.ParentID != nil {
			h.parent[n.ID] = *n.ParentID
			h.children[*n.ParentID] = append(h.children[*n.ParentID], n.ID)
		}
	}
	return h
}

// Baseline runs a steady-state solve against the handle's current demand
// vector and returns the computed flow at each sensor's host node. Fails
// with SimulationFailed if the solve exceeds 30 s, and with
// NoValidReadings if every sensor resolves to a non-finite value.
func (s *Simulator) Baseline(ctx context.Context, h *Handle, sensorEPANETIDs []string) (map[string]float64, error) {
	return s.solve(ctx, "Simulator.Baseline", h, sensorEPANETIDs)
}

// WithLeak adds leakSizeLps to the base demand at leakEPANETID, re-solves,
// and returns the computed flow at each sensor's host node. The original
// base demand is restored on every exit path, including a failed solve.
func (s *Simulator) WithLeak(ctx context.Context, h *Handle, leakEPANETID string, leakSizeLps float64, sensorEPANETIDs []string) (map[string]float64, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, apperrors.SimulatorUnavailable("Simulator.WithLeak", errHandleClosed)
	}
	original := h.demand[leakEPANETID]
	h.demand[leakEPANETID] = original + leakSizeLps
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		h.demand[leakEPANETID] = original
		h.mu.Unlock()
	}()

	return s.solve(ctx, "Simulator.WithLeak", h, sensorEPANETIDs)
}

// Close releases the handle. Idempotent.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

func (s *Simulator) solve(ctx context.Context, op string, h *Handle, sensorEPANETIDs []string) (map[string]float64, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, apperrors.SimulatorUnavailable(op, errHandleClosed)
	}
	h.mu.Unlock()

	solveCtx, cancel := context.WithTimeout(ctx, solveTimeout)
	defer cancel()

	type result struct {
		values map[string]float64
		err    error
	}
	done := make(chan result, 1)
	go func() {
		done <- result{values: h.computeFlows(sensorEPANETIDs)}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, apperrors.SimulationFailed(op, res.err)
		}
		if allNonFinite(res.values) {
			return nil, apperrors.NoValidReadings(op)
		}
		return res.values, nil
	case <-solveCtx.Done():
		return nil, apperrors.SimulationFailed(op, solveCtx.Err())
	}
}

// computeFlows returns, for each requested sensor node, the total demand in
// its subtree: the steady-state flow through that node in a tree-shaped
// distribution network is exactly the sum of all downstream demand.
func (h *Handle) computeFlows(sensorEPANETIDs []string) map[string]float64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	memo := make(map[string]float64)
	out := make(map[string]float64, len(sensorEPANETIDs))
	for _, id := range sensorEPANETIDs {
		out[id] = h.subtreeDemand(id, memo)
	}
	return out
}

func (h *Handle) subtreeDemand(id string, memo map[string]float64) float64 {
	if v, ok := memo[id]; ok {
		return v
	}
	total := h.demand[id]
	children := make([]string, len(h.children[id]))
	copy(children, h.children[id])
	sort.Strings(children)
	for _, c := range children {
		total += h.subtreeDemand(c, memo)
	}
	memo[id] = total
	return total
}

func allNonFinite(values map[string]float64) bool {
	if len(values) == 0 {
		return true
	}
	for _, v := range values {
		if !isNonFinite(v) {
			return false
		}
	}
	return true
}

func isNonFinite(v float64) bool {
	return v != v || v > maxFinite || v < -maxFinite
}

const maxFinite = 1e308

var errHandleClosed = handleClosedError{}

type handleClosedError struct{}

func (handleClosedError) Error() string { return "simulator handle is closed" }
