package merge

import (
	"reflect"
	"slices"

	"github.com/pharmaintel/hub/internal/conflict"
	"github.com/pharmaintel/hub/internal/models"
)

// merged is a strategy's pick for one field.
type merged struct {
	value      any
	strategy   models.MergeStrategy
	confidence float64
	sources    []string
}

type strategyFunc func(values []models.SourceValue, priority []models.SourceType) merged

var strategies = map[models.MergeStrategy]strategyFunc{
	models.MergeHighestConfidence: mergeHighestConfidence,
	models.MergeMostRecent:        mergeMostRecent,
	models.MergeConsensus:         mergeConsensus,
	models.MergeWeightedAverage:   mergeWeightedAverage,
	models.MergeUnion:             mergeUnion,
	models.MergeIntersection:      mergeIntersection,
	models.MergeSourcePriority:    mergeSourcePriority,
}

func single(v models.SourceValue, strategy models.MergeStrategy) merged {
	return merged{
		value:      v.Value,
		strategy:   strategy,
		confidence: v.ConfidenceScore,
		sources:    []string{v.SourceID},
	}
}

func sourceIDs(values []models.SourceValue) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = v.SourceID
	}

	return out
}

func meanConfidence(values []models.SourceValue) float64 {
	if len(values) == 0 {
		return 0
	}

	var sum float64
	for _, v := range values {
		sum += v.ConfidenceScore
	}

	return sum / float64(len(values))
}

// mostConfident returns the value with the greatest (confidence, authority); ties keep the earliest.
func mostConfident(values []models.SourceValue) models.SourceValue {
	best := values[0]

	for _, v := range values[1:] {
		if v.ConfidenceScore > best.ConfidenceScore ||
			(v.ConfidenceScore == best.ConfidenceScore && v.AuthorityScore > best.AuthorityScore) {
			best = v
		}
	}

	return best
}

func mergeHighestConfidence(values []models.SourceValue, _ []models.SourceType) merged {
	return single(mostConfident(values), models.MergeHighestConfidence)
}

func mergeMostRecent(values []models.SourceValue, _ []models.SourceType) merged {
	best := values[0]

	for _, v := range values[1:] {
		if v.Timestamp.After(best.Timestamp) {
			best = v
		}
	}

	return single(best, models.MergeMostRecent)
}

func mergeConsensus(values []models.SourceValue, _ []models.SourceType) merged {
	var order []string

	groups := map[string][]models.SourceValue{}

	for _, v := range values {
		key := conflict.FoldKey(v.Value)
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}

		groups[key] = append(groups[key], v)
	}

	var winner []models.SourceValue

	for _, key := range order {
		g := groups[key]
		if winner == nil || len(g) > len(winner) ||
			(len(g) == len(winner) && mostConfident(g).ConfidenceScore > mostConfident(winner).ConfidenceScore) {
			winner = g
		}
	}

	rep := mostConfident(winner)

	return merged{
		value:      rep.Value,
		strategy:   models.MergeConsensus,
		confidence: meanConfidence(winner) * float64(len(winner)) / float64(len(values)),
		sources:    sourceIDs(winner),
	}
}

func mergeWeightedAverage(values []models.SourceValue, priority []models.SourceType) merged {
	var (
		numeric        []models.SourceValue
		nums           []float64
		num, den, conf float64
	)

	for _, v := range values {
		f, ok := conflict.AsFloat(v.Value)
		if !ok {
			continue
		}

		numeric = append(numeric, v)
		nums = append(nums, f)

		w := float64(v.AuthorityScore) * v.ConfidenceScore
		num += f * w
		den += w
		conf += v.ConfidenceScore * w
	}

	if len(numeric) == 0 {
		return mergeHighestConfidence(values, priority)
	}

	out := merged{strategy: models.MergeWeightedAverage, sources: sourceIDs(numeric)}

	if den == 0 {
		var sum float64
		for _, f := range nums {
			sum += f
		}

		out.value = sum / float64(len(nums))
		out.confidence = meanConfidence(numeric)

		return out
	}

	out.value = num / den
	out.confidence = conf / den

	return out
}

// elements flattens a list value; scalars are a one-element list.
func elements(v any) []any {
	if v == nil {
		return nil
	}

	if list, ok := v.([]any); ok {
		return list
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}

		return out
	}

	return []any{v}
}

func mergeUnion(values []models.SourceValue, _ []models.SourceType) merged {
	seen := map[string]struct{}{}
	out := []any{}

	for _, v := range values {
		for _, e := range elements(v.Value) {
			key := conflict.FoldKey(e)
			if _, ok := seen[key]; ok {
				continue
			}

			seen[key] = struct{}{}
			out = append(out, e)
		}
	}

	return merged{
		value:      out,
		strategy:   models.MergeUnion,
		confidence: meanConfidence(values),
		sources:    sourceIDs(values),
	}
}

func mergeIntersection(values []models.SourceValue, _ []models.SourceType) merged {
	counts := map[string]int{}

	for _, v := range values {
		inThis := map[string]struct{}{}
		for _, e := range elements(v.Value) {
			inThis[conflict.FoldKey(e)] = struct{}{}
		}

		for key := range inThis {
			counts[key]++
		}
	}

	out := []any{}
	emitted := map[string]struct{}{}

	for _, e := range elements(values[0].Value) {
		key := conflict.FoldKey(e)
		if _, done := emitted[key]; done || counts[key] != len(values) {
			continue
		}

		emitted[key] = struct{}{}
		out = append(out, e)
	}

	return merged{
		value:      out,
		strategy:   models.MergeIntersection,
		confidence: meanConfidence(values),
		sources:    sourceIDs(values),
	}
}

func mergeSourcePriority(values []models.SourceValue, priority []models.SourceType) merged {
	rank := func(t models.SourceType) int {
		if t == "" {
			t = models.SourceUnknown
		}

		if i := slices.Index(priority, t); i >= 0 {
			return i
		}

		return len(priority)
	}

	best := values[0]

	for _, v := range values[1:] {
		rv, rb := rank(v.SourceType), rank(best.SourceType)
		if rv < rb || (rv == rb && v.ConfidenceScore > best.ConfidenceScore) {
			best = v
		}
	}

	return single(best, models.MergeSourcePriority)
}
