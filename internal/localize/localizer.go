// Package localize implements §4.F: ranking sensitivity-matrix candidates
// against an observed sensor-flow change to localize a detected leak to a
// single node.
package localize

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/watershedlabs/leaksense/internal/domain"
	"github.com/watershedlabs/leaksense/internal/repository"
	"github.com/watershedlabs/leaksense/internal/topology"
	"github.com/watershedlabs/leaksense/pkg/apperrors"
)

const (
	DefaultDetectionWindow = 300 * time.Second
	DefaultBaselineWindow  = 3600 * time.Second

	// scoreEpsilon is the tie-break tolerance on localization scores.
	scoreEpsilon = 1e-12
)

// Candidate is one ranked localization result.
type Candidate struct {
	LeakNodeID string  `json:"leakNodeId"`
	Score      float64 `json:"score"`
}

// Result is the §4.F localize() outcome for one detection.
type Result struct {
	WinnerNodeID string
	Score        float64
	TopCandidates []Candidate // up to 10, descending score
}

// Localizer ranks sensitivity-matrix candidates against observed change.
type Localizer struct {
	repo repository.Repository
}

// New creates a Localizer.
func New(repo repository.Repository) *Localizer {
	return &Localizer{repo: repo}
}

// Localize runs the §4.F algorithm for one detection and writes back
// localized_node_id, localization_score, localized_at, and the LOCALIZED
// status transition on success.
func (l *Localizer) Localize(ctx context.Context, det *domain.LeakDetection, baselineWindow time.Duration) (*Result, error) {
	if baselineWindow == 0 {
		baselineWindow = DefaultBaselineWindow
	}
	detectionWindow := DefaultDetectionWindow
	if det.TimeWindow != nil {
		detectionWindow = time.Duration(*det.TimeWindow) * time.Second
	}

	sensors, err := l.repo.ListActiveSensors(ctx, det.NetworkID)
	if err != nil {
		return nil, err
	}

	observed := make(map[string]float64)
	for _, s := range sensors {
		o, ok, err := l.observedChange(ctx, det.NetworkID, s.SensorID, det.Timestamp, detectionWindow, baselineWindow)
		if err != nil {
			return nil, err
		}
		if ok {
			observed[s.SensorID] = o
		}
	}

	candidateIDs, err := l.repo.ListCandidateLeakNodeIDs(ctx, det.NetworkID)
	if err != nil {
		return nil, err
	}
	if det.PartitionID != nil {
		candidateIDs, err = l.restrictToDMA(ctx, det.NetworkID, *det.PartitionID, candidateIDs)
		if err != nil {
			return nil, err
		}
	}

	scored := make([]Candidate, 0, len(candidateIDs))
	for _, c := range candidateIDs {
		row, err := l.repo.GetSensitivityRow(ctx, det.NetworkID, c)
		if err != nil {
			return nil, err
		}
		score, n := l.scoreCandidate(row, observed, det.FlowImbalance)
		if n == 0 {
			continue
		}
		scored = append(scored, Candidate{LeakNodeID: c, Score: score})
	}

	sort.Slice(scored, func(i, j int) bool {
		if math.Abs(scored[i].Score-scored[j].Score) <= scoreEpsilon {
			return scored[i].LeakNodeID < scored[j].LeakNodeID
		}
		return scored[i].Score > scored[j].Score
	})

	if len(scored) == 0 || scored[0].Score <= 0 {
		return nil, apperrors.LocalizationUndetermined("Localizer.Localize", "no candidate scored above zero")
	}

	top := scored
	if len(top) > 10 {
		top = top[:10]
	}

	now := time.Now().UTC()
	winner := scored[0]
	if err := det.Localize(winner.LeakNodeID, winner.Score, now); err != nil {
		return nil, err
	}
	if err := l.repo.UpdateLeakDetection(ctx, det); err != nil {
		return nil, err
	}

	return &Result{WinnerNodeID: winner.LeakNodeID, Score: winner.Score, TopCandidates: top}, nil
}

func (l *Localizer) restrictToDMA(ctx context.Context, networkID, partitionLabel string, candidateIDs []string) ([]string, error) {
	partition, err := l.repo.GetPartitionByLabel(ctx, networkID, partitionLabel)
	if err != nil {
		return nil, err
	}
	if partition == nil {
		return nil, apperrors.NotFound("Localizer.Localize", "partition", partitionLabel)
	}
	nodes, err := l.repo.ListNodes(ctx, networkID)
	if err != nil {
		return nil, err
	}
	graph := topology.NewGraph(networkID, nodes)
	dmaIDs, err := graph.NodesInDMA(partition.MainlineID)
	if err != nil {
		return nil, err
	}
	inDMA := make(map[string]bool, len(dmaIDs))
	for _, id := range dmaIDs {
		inDMA[id] = true
	}
	out := make([]string, 0, len(candidateIDs))
	for _, c := range candidateIDs {
		if inDMA[c] {
			out = append(out, c)
		}
	}
	return out, nil
}

// observedChange returns o_sigma = mean([T-Wd,T]) - mean([T-Wd-Wb, T-Wd)),
// and false if either window has no readings.
func (l *Localizer) observedChange(ctx context.Context, networkID, sensorID string, t time.Time, detectionWindow, baselineWindow time.Duration) (float64, bool, error) {
	baseline, baselineOK, err := l.meanWindow(ctx, networkID, sensorID, t.Add(-detectionWindow-baselineWindow), t.Add(-detectionWindow))
	if err != nil {
		return 0, false, err
	}
	if !baselineOK {
		return 0, false, nil
	}
	observed, observedOK, err := l.meanWindow(ctx, networkID, sensorID, t.Add(-detectionWindow), t)
	if err != nil {
		return 0, false, err
	}
	if !observedOK {
		return 0, false, nil
	}
	return observed - baseline, true, nil
}

func (l *Localizer) meanWindow(ctx context.Context, networkID, sensorID string, from, to time.Time) (float64, bool, error) {
	readings, err := l.repo.ListReadingsInWindow(ctx, networkID, repository.ReadingFilter{SensorID: sensorID, From: from, To: to})
	if err != nil {
		return 0, false, err
	}
	if len(readings) == 0 {
		return 0, false, nil
	}
	var sum float64
	for _, r := range readings {
		sum += r.FlowValue
	}
	return sum / float64(len(readings)), true, nil
}

// scoreCandidate computes score_c per §4.F steps 4-5 and returns the number
// of sensors N considered (predicted or observed non-zero change).
func (l *Localizer) scoreCandidate(row []domain.SensitivityEntry, observed map[string]float64, imbalance float64) (float64, int) {
	sensitivityBySensor := make(map[string]float64, len(row))
	for _, e := range row {
		sensitivityBySensor[e.SensorID] = e.SensitivityValue
	}

	// Union of sensors with either a predicted or an observed value.
	sensorSet := make(map[string]bool)
	for s := range sensitivityBySensor {
		sensorSet[s] = true
	}
	for s := range observed {
		sensorSet[s] = true
	}

	type pair struct{ o, p float64 }
	pairs := make([]pair, 0, len(sensorSet))
	for s := range sensorSet {
		o := observed[s]
		p := sensitivityBySensor[s] * imbalance
		if o == 0 && p == 0 {
			continue
		}
		pairs = append(pairs, pair{o: o, p: p})
	}
	n := len(pairs)
	if n == 0 {
		return 0, 0
	}

	var rss float64
	for _, pr := range pairs {
		d := pr.o - pr.p
		rss += d * d
	}
	rss /= float64(n)
	rssScore := 1 / (1 + rss)

	var sumO, sumP float64
	for _, pr := range pairs {
		sumO += pr.o
		sumP += pr.p
	}
	meanO := sumO / float64(n)
	meanP := sumP / float64(n)

	var sumO2, sumP2 float64
	for _, pr := range pairs {
		do := pr.o - meanO
		dp := pr.p - meanP
		sumO2 += do * do
		sumP2 += dp * dp
	}

	if sumO2 <= 0 || sumP2 <= 0 {
		return rssScore, n
	}

	var cov float64
	for _, pr := range pairs {
		cov += (pr.o - meanO) * (pr.p - meanP)
	}
	rho := cov / math.Sqrt(sumO2*sumP2)

	score := 0.5*rssScore + 0.25*(rho+1)
	return score, n
}
