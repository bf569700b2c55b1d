package matrix

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/watershedlabs/leaksense/internal/domain"
	"github.com/watershedlabs/leaksense/internal/repository/memory"
	"github.com/watershedlabs/leaksense/internal/simulator"
)

// buildHouseholdChainEngine seeds a MAINLINE -> JUNCTION -> N HOUSEHOLDs
// network with a sensor on every household, for a parameterizable
// household count. Every node carries an EPANET id, so every node is a
// sensitivity-matrix candidate.
func buildHouseholdChainEngine(t *testing.T, households int) (*Engine, *memory.Store, string) {
	t.Helper()
	store := memory.New()
	ctx := context.Background()
	networkID := "net-prop"

	nodes := []domain.Node{
		{ID: "n-main", NetworkID: networkID, NodeID: "M", NodeType: domain.NodeTypeMainline, EPANETNodeID: strp("R1")},
		{ID: "n-j1", NetworkID: networkID, NodeID: "J", NodeType: domain.NodeTypeJunction, ParentID: strp("n-main"), EPANETNodeID: strp("J1")},
	}
	inp := "[JUNCTIONS]\nJ1\t100\t0\n"
	pipes := "[PIPES]\nP0\tR1\tJ1\t1\t1\t1\n"

	for i := 1; i <= households; i++ {
		id := fmt.Sprintf("n-h%d", i)
		epanetID := fmt.Sprintf("H%d", i)
		nodes = append(nodes, domain.Node{
			ID: id, NetworkID: networkID, NodeID: fmt.Sprintf("H%d", i),
			NodeType: domain.NodeTypeHousehold, ParentID: strp("n-j1"), EPANETNodeID: strp(epanetID),
		})
		inp += fmt.Sprintf("%s\t80\t%d\n", epanetID, i)
		pipes += fmt.Sprintf("P%d\tJ1\t%s\t1\t1\t1\n", i, epanetID)
	}
	if err := store.UpsertNodes(ctx, nodes); err != nil {
		t.Fatalf("seed nodes: %v", err)
	}

	for i := 1; i <= households; i++ {
		sensor := domain.Sensor{
			ID: fmt.Sprintf("s-h%d", i), NetworkID: networkID, SensorID: fmt.Sprintf("S_H%d", i),
			SensorType: domain.SensorTypeHouseholdFlow, NodeID: fmt.Sprintf("n-h%d", i), IsActive: true,
		}
		if err := store.CreateSensor(ctx, &sensor); err != nil {
			t.Fatalf("seed sensor: %v", err)
		}
	}

	fullINP := "[RESERVOIRS]\nR1\t120\n\n" + inp + "\n" + pipes

	dir := t.TempDir()
	path := filepath.Join(dir, networkID+".inp")
	if err := os.WriteFile(path, []byte(fullINP), 0o644); err != nil {
		t.Fatalf("write fixture inp: %v", err)
	}

	sim := simulator.New(simulator.WithBackoff(0))
	coordinator := NewCoordinator()
	resolve := func(id string) string { return filepath.Join(dir, id+".inp") }
	engine := New(store, sim, coordinator, resolve, nil, nil)
	return engine, store, networkID
}

// TestProperty_MatrixEntryCountMatchesCandidatesTimesSensors encodes
// "count(SensitivityEntry) = |C| * |S| after a non-forced successful
// build" for networks of varying size.
func TestProperty_MatrixEntryCountMatchesCandidatesTimesSensors(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping property-based test in short mode")
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 8
	properties := gopter.NewProperties(parameters)

	properties.Property("entry count equals |C| * |S|", prop.ForAll(
		func(households int) bool {
			engine, store, networkID := buildHouseholdChainEngine(t, households)
			ctx := context.Background()

			if _, err := engine.Generate(ctx, networkID, false); err != nil {
				return false
			}
			waitForCompletion(t, engine, networkID)

			count, err := store.CountSensitivityEntries(ctx, networkID)
			if err != nil {
				return false
			}
			// candidates = mainline + junction + N households; sensors = N households.
			wantCandidates := households + 2
			wantSensors := households
			return count == wantCandidates*wantSensors
		},
		gen.IntRange(1, 4),
	))

	properties.TestingRun(t)
}

// TestProperty_SensitivityValuesAreFinite encodes "for every sensitivity
// entry, M[c, s] is finite".
func TestProperty_SensitivityValuesAreFinite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping property-based test in short mode")
	}

	engine, store, networkID := buildHouseholdChainEngine(t, 3)
	ctx := context.Background()

	if _, err := engine.Generate(ctx, networkID, false); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	waitForCompletion(t, engine, networkID)

	candidateIDs, err := store.ListCandidateLeakNodeIDs(ctx, networkID)
	if err != nil {
		t.Fatalf("ListCandidateLeakNodeIDs: %v", err)
	}
	for _, c := range candidateIDs {
		row, err := store.GetSensitivityRow(ctx, networkID, c)
		if err != nil {
			t.Fatalf("GetSensitivityRow(%s): %v", c, err)
		}
		for _, entry := range row {
			if math.IsNaN(entry.SensitivityValue) || math.IsInf(entry.SensitivityValue, 0) {
				t.Errorf("candidate %s sensor %s has non-finite sensitivity %v", c, entry.SensorID, entry.SensitivityValue)
			}
		}
	}
}

// TestProperty_NonForcedGenerateIsIdempotent encodes "running
// generate(force=false) twice in a row produces identical
// matrixStats.totalEntries".
func TestProperty_NonForcedGenerateIsIdempotent(t *testing.T) {
	engine, store, networkID := buildHouseholdChainEngine(t, 3)
	ctx := context.Background()

	if _, err := engine.Generate(ctx, networkID, false); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	waitForCompletion(t, engine, networkID)

	first, err := store.CountSensitivityEntries(ctx, networkID)
	if err != nil {
		t.Fatalf("CountSensitivityEntries: %v", err)
	}

	status, err := engine.Generate(ctx, networkID, false)
	if err != nil {
		t.Fatalf("second Generate: %v", err)
	}
	if status.State != StateCompleted || status.Stats == nil {
		t.Fatalf("expected cached completed status, got %+v", status)
	}
	if status.Stats.EntryCount != first {
		t.Fatalf("idempotence violated: first=%d second=%d", first, status.Stats.EntryCount)
	}
}
