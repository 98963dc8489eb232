package conflict

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/pharmaintel/hub/internal/models"
)

// Resolution parameters.
const (
	ConsensusThreshold = 0.6
	MedianTolerance    = 0.1
)

// Resolution errors.
var (
	ErrUnknownStrategy = errors.New("unknown resolution strategy")
	ErrNotApplicable   = errors.New("strategy not applicable to these values")
	ErrNoDataPoints    = errors.New("no data points with a value")
)

// outcome is what a strategy picked, before it is wrapped into a resolution.
type outcome struct {
	value      any
	strategy   models.ResolutionStrategy
	confidence float64
	sources    []string
}

type trail struct {
	entries []models.AuditEntry
}

func (t *trail) add(step, format string, args ...any) {
	t.entries = append(t.entries, models.AuditEntry{
		Step:   step,
		Detail: fmt.Sprintf(format, args...),
		At:     time.Now().UTC(),
	})
}

type strategyFunc func(points []models.DataPoint, t *trail) (outcome, error)

var strategies = map[models.ResolutionStrategy]strategyFunc{
	models.StrategyHighestAuthority:  resolveHighestAuthority,
	models.StrategyConsensusMajority: resolveConsensus,
	models.StrategyWeightedAverage:   resolveWeightedAverage,
	models.StrategyMostRecent:        resolveMostRecent,
	models.StrategyStatisticalMedian: resolveMedian,
}

// IsValidStrategy reports whether s names a resolution strategy.
func IsValidStrategy(s models.ResolutionStrategy) bool {
	_, ok := strategies[s]

	return ok
}

// Resolve picks a winning value for a detected conflict. A nil strategy uses the conflict's
// recommendation. Identical input always yields the same resolved value.
func Resolve(c *models.ConflictDetectionResult, strategy *models.ResolutionStrategy) (*models.ConflictResolutionResult, error) {
	chosen := c.Recommendation
	if strategy != nil {
		chosen = *strategy
	}

	if chosen == "" {
		chosen = models.StrategyHighestAuthority
	}

	fn, ok := strategies[chosen]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, chosen)
	}

	points := presentPoints(c.DataPoints)
	if len(points) == 0 {
		return nil, ErrNoDataPoints
	}

	t := &trail{}
	t.add("strategy_selected", "%s for %s conflict on %s (severity %.2f)", chosen, c.ConflictType, c.FieldName, c.Severity)
	t.add("candidates", "%d data points with values out of %d", len(points), len(c.DataPoints))

	out, err := fn(points, t)
	if err != nil {
		return nil, err
	}

	t.add("resolved", "value %v via %s from %v", out.value, out.strategy, out.sources)

	return &models.ConflictResolutionResult{
		ResolutionID:        uuid.Must(uuid.NewV7()),
		ConflictID:          c.ConflictID,
		ResolvedValue:       out.value,
		Strategy:            out.strategy,
		ConfidenceScore:     clamp01(out.confidence),
		ContributingSources: out.sources,
		AuditTrail:          t.entries,
		ResolvedAt:          time.Now().UTC(),
	}, nil
}

// highestAuthority returns the point with the greatest (authority, confidence); ties keep the earliest.
func highestAuthority(points []models.DataPoint) models.DataPoint {
	best := points[0]

	for _, p := range points[1:] {
		if p.AuthorityScore > best.AuthorityScore ||
			(p.AuthorityScore == best.AuthorityScore && p.ConfidenceScore > best.ConfidenceScore) {
			best = p
		}
	}

	return best
}

func resolveHighestAuthority(points []models.DataPoint, t *trail) (outcome, error) {
	best := highestAuthority(points)
	t.add("highest_authority", "source %s with authority %d and confidence %.2f", best.SourceID, best.AuthorityScore, best.ConfidenceScore)

	return outcome{
		value:      best.Value,
		strategy:   models.StrategyHighestAuthority,
		confidence: best.ConfidenceScore,
		sources:    []string{best.SourceID},
	}, nil
}

type voteGroup struct {
	points []models.DataPoint
	weight float64
}

func resolveConsensus(points []models.DataPoint, t *trail) (outcome, error) {
	var (
		order  []string
		groups = map[string]*voteGroup{}
		total  float64
	)

	for _, p := range points {
		key := FoldKey(p.Value)

		g, ok := groups[key]
		if !ok {
			g = &voteGroup{}
			groups[key] = g
			order = append(order, key)
		}

		w := float64(p.AuthorityScore) * p.ConfidenceScore
		g.points = append(g.points, p)
		g.weight += w
		total += w
	}

	// All-zero weights degrade to a head count.
	if total == 0 {
		for _, g := range groups {
			g.weight = float64(len(g.points))
			total += g.weight
		}
	}

	var winner *voteGroup
	for _, key := range order {
		if g := groups[key]; winner == nil || g.weight > winner.weight {
			winner = g
		}
	}

	share := winner.weight / total
	if share <= ConsensusThreshold {
		t.add("consensus_fallback", "top weighted share %.2f does not exceed %.2f, using highest authority", share, ConsensusThreshold)

		return resolveHighestAuthority(points, t)
	}

	rep := highestAuthority(winner.points)
	sources := make([]string, len(winner.points))

	for i, p := range winner.points {
		sources[i] = p.SourceID
	}

	t.add("consensus", "%d of %d sources agree with weighted share %.2f", len(winner.points), len(points), share)

	return outcome{
		value:      rep.Value,
		strategy:   models.StrategyConsensusMajority,
		confidence: share,
		sources:    sources,
	}, nil
}

func resolveWeightedAverage(points []models.DataPoint, t *trail) (outcome, error) {
	values, numeric := numericValues(points)
	if len(values) == 0 {
		return outcome{}, fmt.Errorf("%w: weighted_average needs numeric values", ErrNotApplicable)
	}

	var num, den, confSum float64

	sources := make([]string, len(numeric))

	for i, p := range numeric {
		w := float64(p.AuthorityScore) * p.ConfidenceScore
		num += values[i] * w
		den += w
		confSum += p.ConfidenceScore * w
		sources[i] = p.SourceID
	}

	var value, confidence float64

	if den == 0 {
		var sum, cs float64
		for i, v := range values {
			sum += v
			cs += numeric[i].ConfidenceScore
		}

		value = sum / float64(len(values))
		confidence = cs / float64(len(values))

		t.add("weighted_average", "all weights zero, plain mean of %d values", len(values))
	} else {
		value = num / den
		confidence = confSum / den

		t.add("weighted_average", "sum(v*a*c)=%g over sum(a*c)=%g", num, den)
	}

	return outcome{
		value:      value,
		strategy:   models.StrategyWeightedAverage,
		confidence: confidence,
		sources:    sources,
	}, nil
}

func resolveMostRecent(points []models.DataPoint, t *trail) (outcome, error) {
	best := points[0]

	for _, p := range points[1:] {
		if p.Timestamp.After(best.Timestamp) {
			best = p
		}
	}

	t.add("most_recent", "source %s reported at %s", best.SourceID, best.Timestamp.Format(time.RFC3339))

	return outcome{
		value:      best.Value,
		strategy:   models.StrategyMostRecent,
		confidence: best.ConfidenceScore,
		sources:    []string{best.SourceID},
	}, nil
}

// Median returns the median of values; it does not modify the input.
func Median(values []float64) float64 {
	sorted := slices.Clone(values)
	slices.Sort(sorted)

	n := len(sorted)
	if n == 0 {
		return 0
	}

	if n%2 == 1 {
		return sorted[n/2]
	}

	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func resolveMedian(points []models.DataPoint, t *trail) (outcome, error) {
	values, numeric := numericValues(points)
	if len(values) == 0 {
		return outcome{}, fmt.Errorf("%w: statistical_median needs numeric values", ErrNotApplicable)
	}

	median := Median(values)
	tolerance := MedianTolerance * math.Abs(median)

	var (
		sources []string
		confSum float64
	)

	for i, v := range values {
		if math.Abs(v-median) <= tolerance {
			sources = append(sources, numeric[i].SourceID)
			confSum += numeric[i].ConfidenceScore
		}
	}

	// Mean confidence of the in-band sources, scaled by the share of sources in the band.
	confidence := confSum / float64(len(values))

	t.add("statistical_median", "median %g with tolerance ±%g, %d of %d sources within band", median, tolerance, len(sources), len(values))

	return outcome{
		value:      median,
		strategy:   models.StrategyStatisticalMedian,
		confidence: confidence,
		sources:    sources,
	}, nil
}
