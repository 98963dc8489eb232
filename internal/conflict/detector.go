// Package conflict detects disagreement between same-field values reported by different
// sources and resolves it to a single value with an audit trail.
package conflict

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/pharmaintel/hub/internal/models"
)

// Detection thresholds.
const (
	NumericCVThreshold      = 0.15
	ManualReviewSeverity    = 0.7
	LowConfidenceThreshold  = 0.5
	GovernmentTierAuthority = 8

	booleanSeverity           = 0.9
	categoricalMaxCardinality = 10
	categoricalMaxRunes       = 50
	authorityGapForOverride   = 4
	medianMinPoints           = 3
)

// ErrInvalidDataPoint is returned for scores outside their documented range.
var ErrInvalidDataPoint = errors.New("invalid data point")

// dateSeverityBuckets maps the day range between the earliest and latest date to a severity.
var dateSeverityBuckets = []struct {
	maxDays  float64
	severity float64
}{
	{7, 0.3},
	{30, 0.5},
	{90, 0.7},
	{math.Inf(1), 0.9},
}

// typeRule infers a conflict type from the first value and the full value set.
type typeRule struct {
	conflictType models.ConflictType
	matches      func(first any, values []any) bool
}

// typeRules are evaluated in order; the first match wins. Strings that are neither dates nor
// low-cardinality short labels fall through to text_inconsistency.
var typeRules = []typeRule{
	{models.ConflictBooleanContradiction, func(first any, _ []any) bool { return isBool(first) }},
	{models.ConflictNumericalVariance, func(first any, _ []any) bool { return isNumeric(first) }},
	{models.ConflictDateDiscrepancy, func(first any, _ []any) bool { return isDate(first) }},
	{models.ConflictCategoricalMismatch, isCategorical},
}

func isCategorical(first any, values []any) bool {
	s, ok := first.(string)
	if !ok || utf8.RuneCountInString(s) > categoricalMaxRunes {
		return false
	}

	distinct := make(map[string]struct{}, len(values))
	for _, v := range values {
		distinct[FoldKey(v)] = struct{}{}
	}

	return len(distinct) <= categoricalMaxCardinality
}

// severityCheck reports the severity of a disagreement and whether there is one at all.
type severityCheck func(points []models.DataPoint) (float64, bool)

var severityChecks = map[models.ConflictType]severityCheck{
	models.ConflictNumericalVariance:    numericSeverity,
	models.ConflictBooleanContradiction: booleanSeverityCheck,
	models.ConflictDateDiscrepancy:      dateSeverity,
	models.ConflictCategoricalMismatch:  categoricalSeverity,
	models.ConflictTextInconsistency:    textSeverity,
}

// Detect checks one field's data points for disagreement. It returns nil when there are fewer
// than two points or the sources agree.
func Detect(category, field string, points []models.DataPoint) (*models.ConflictDetectionResult, error) {
	if err := validatePoints(points); err != nil {
		return nil, err
	}

	if len(points) < 2 {
		return nil, nil
	}

	present := presentPoints(points)
	if len(present) == 0 {
		return nil, nil
	}

	conflictType, severity, found := classify(present)

	if missing := len(points) - len(present); missing > 0 && !found {
		conflictType = models.ConflictMissingData
		severity = 0.2 + 0.5*float64(missing)/float64(len(points))
		found = true
	}

	if !found {
		return nil, nil
	}

	severity = clamp01(severity)

	return &models.ConflictDetectionResult{
		ConflictID:           uuid.Must(uuid.NewV7()),
		Category:             category,
		FieldName:            field,
		ConflictType:         conflictType,
		DataPoints:           points,
		Severity:             severity,
		RequiresManualReview: requiresManualReview(conflictType, severity, points),
		Recommendation:       recommend(conflictType, present),
		Status:               models.ConflictOpen,
		DetectedAt:           time.Now().UTC(),
	}, nil
}

func validatePoints(points []models.DataPoint) error {
	for i, p := range points {
		if p.AuthorityScore < 0 || p.AuthorityScore > 10 {
			return fmt.Errorf("%w: data_points[%d].authority_score %d outside 0-10", ErrInvalidDataPoint, i, p.AuthorityScore)
		}

		if p.ConfidenceScore < 0 || p.ConfidenceScore > 1 || math.IsNaN(p.ConfidenceScore) {
			return fmt.Errorf("%w: data_points[%d].confidence_score %v outside 0-1", ErrInvalidDataPoint, i, p.ConfidenceScore)
		}
	}

	return nil
}

func presentPoints(points []models.DataPoint) []models.DataPoint {
	out := make([]models.DataPoint, 0, len(points))

	for _, p := range points {
		if p.Value == nil {
			continue
		}

		if s, ok := p.Value.(string); ok && strings.TrimSpace(s) == "" {
			continue
		}

		out = append(out, p)
	}

	return out
}

// classify infers the conflict type from the first value and runs its severity check.
func classify(points []models.DataPoint) (models.ConflictType, float64, bool) {
	if len(points) < 2 {
		return "", 0, false
	}

	values := make([]any, len(points))
	for i, p := range points {
		values[i] = p.Value
	}

	conflictType := models.ConflictTextInconsistency

	for _, rule := range typeRules {
		if rule.matches(values[0], values) {
			conflictType = rule.conflictType

			break
		}
	}

	severity, found := severityChecks[conflictType](points)

	return conflictType, severity, found
}

func numericValues(points []models.DataPoint) ([]float64, []models.DataPoint) {
	values := make([]float64, 0, len(points))
	kept := make([]models.DataPoint, 0, len(points))

	for _, p := range points {
		if f, ok := AsFloat(p.Value); ok && !math.IsNaN(f) && !math.IsInf(f, 0) {
			values = append(values, f)
			kept = append(kept, p)
		}
	}

	return values, kept
}

// CoefficientOfVariation returns sample stdev / |mean|. A zero mean with spread is +Inf.
func CoefficientOfVariation(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}

	var sum float64
	for _, v := range values {
		sum += v
	}

	mean := sum / float64(len(values))

	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}

	stdev := math.Sqrt(sq / float64(len(values)-1))

	if mean == 0 {
		if stdev == 0 {
			return 0
		}

		return math.Inf(1)
	}

	return stdev / math.Abs(mean)
}

func numericSeverity(points []models.DataPoint) (float64, bool) {
	values, _ := numericValues(points)
	if len(values) < 2 {
		return 0, false
	}

	cv := CoefficientOfVariation(values)
	if cv <= NumericCVThreshold {
		return 0, false
	}

	return min(1, 2*cv), true
}

func booleanSeverityCheck(points []models.DataPoint) (float64, bool) {
	seen := map[bool]bool{}

	for _, p := range points {
		if b, ok := p.Value.(bool); ok {
			seen[b] = true
		}
	}

	if len(seen) < 2 {
		return 0, false
	}

	return booleanSeverity, true
}

func dateSeverity(points []models.DataPoint) (float64, bool) {
	var earliest, latest time.Time

	n := 0

	for _, p := range points {
		t, ok := AsTime(p.Value)
		if !ok {
			continue
		}

		if n == 0 || t.Before(earliest) {
			earliest = t
		}

		if n == 0 || t.After(latest) {
			latest = t
		}

		n++
	}

	if n < 2 || !latest.After(earliest) {
		return 0, false
	}

	days := latest.Sub(earliest).Hours() / 24
	for _, bucket := range dateSeverityBuckets {
		if days <= bucket.maxDays {
			return bucket.severity, true
		}
	}

	return dateSeverityBuckets[len(dateSeverityBuckets)-1].severity, true
}

func categoricalSeverity(points []models.DataPoint) (float64, bool) {
	counts := make(map[string]int, len(points))
	top := 0

	for _, p := range points {
		key := FoldKey(p.Value)
		counts[key]++
		top = max(top, counts[key])
	}

	if len(counts) < 2 {
		return 0, false
	}

	return 1 - float64(top)/float64(len(points)), true
}

func textSeverity(points []models.DataPoint) (float64, bool) {
	distinct := make(map[string]struct{}, len(points))
	sets := make([]map[string]struct{}, len(points))

	for i, p := range points {
		s := textOf(p.Value)
		distinct[FoldText(s)] = struct{}{}
		sets[i] = tokens(s)
	}

	if len(distinct) < 2 {
		return 0, false
	}

	var total float64

	pairs := 0

	for i := range sets {
		for j := i + 1; j < len(sets); j++ {
			total += jaccard(sets[i], sets[j])
			pairs++
		}
	}

	severity := 1 - total/float64(pairs)
	if severity <= 0 {
		return 0, false
	}

	return severity, true
}

func textOf(v any) string {
	if s, ok := v.(string); ok {
		return s
	}

	return strings.TrimPrefix(FoldKey(v), "j:")
}

func requiresManualReview(conflictType models.ConflictType, severity float64, points []models.DataPoint) bool {
	if severity >= ManualReviewSeverity || conflictType == models.ConflictBooleanContradiction {
		return true
	}

	var sum float64
	for _, p := range points {
		sum += p.ConfidenceScore
	}

	if sum/float64(len(points)) < LowConfidenceThreshold {
		return true
	}

	return governmentSourcesDisagree(points)
}

func governmentSourcesDisagree(points []models.DataPoint) bool {
	keys := map[string]struct{}{}

	for _, p := range points {
		if p.AuthorityScore >= GovernmentTierAuthority && p.Value != nil {
			keys[FoldKey(p.Value)] = struct{}{}
		}
	}

	return len(keys) > 1
}

var recommendations = map[models.ConflictType]func(points []models.DataPoint) models.ResolutionStrategy{
	models.ConflictNumericalVariance:    recommendNumeric,
	models.ConflictCategoricalMismatch:  fixed(models.StrategyConsensusMajority),
	models.ConflictBooleanContradiction: fixed(models.StrategyHighestAuthority),
	models.ConflictDateDiscrepancy:      fixed(models.StrategyHighestAuthority),
	models.ConflictTextInconsistency:    fixed(models.StrategyHighestAuthority),
	models.ConflictMissingData:          fixed(models.StrategyHighestAuthority),
}

func fixed(s models.ResolutionStrategy) func([]models.DataPoint) models.ResolutionStrategy {
	return func([]models.DataPoint) models.ResolutionStrategy { return s }
}

func recommend(conflictType models.ConflictType, points []models.DataPoint) models.ResolutionStrategy {
	if fn, ok := recommendations[conflictType]; ok {
		return fn(points)
	}

	return models.StrategyHighestAuthority
}

func recommendNumeric(points []models.DataPoint) models.ResolutionStrategy {
	_, numeric := numericValues(points)

	lo, hi := 10, 0
	for _, p := range numeric {
		lo = min(lo, p.AuthorityScore)
		hi = max(hi, p.AuthorityScore)
	}

	switch {
	case hi-lo >= authorityGapForOverride:
		return models.StrategyHighestAuthority
	case len(numeric) >= medianMinPoints:
		return models.StrategyStatisticalMedian
	default:
		return models.StrategyWeightedAverage
	}
}
