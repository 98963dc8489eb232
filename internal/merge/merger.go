package merge

import (
	"errors"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pharmaintel/hub/internal/conflict"
	"github.com/pharmaintel/hub/internal/models"
)

// ErrNoSources is returned when a merge is requested without any source.
var ErrNoSources = errors.New("at least one source is required")

// Merger applies the strategy table to partial records.
type Merger struct {
	cfg *Config
	now func() time.Time
}

// New creates a Merger over cfg.
func New(cfg *Config) *Merger {
	return &Merger{cfg: cfg, now: time.Now}
}

// Categories returns the configured category names in sorted order.
func (m *Merger) Categories() []string {
	return slices.Sorted(maps.Keys(m.cfg.Categories))
}

// MergeComplementaryData merges every configured field of category, plus any field a source
// provides, into one record. Each merged field gets an audit record.
func (m *Merger) MergeComplementaryData(sources []models.MergeSource, category string) (*models.MergeResult, error) {
	if len(sources) == 0 {
		return nil, ErrNoSources
	}

	cc, err := m.cfg.category(category)
	if err != nil {
		return nil, err
	}

	mergeID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate merge id: %w", err)
	}

	fieldSet := map[string]struct{}{}
	for f := range cc.Fields {
		fieldSet[f] = struct{}{}
	}

	for _, s := range sources {
		for f := range s.Data {
			fieldSet[f] = struct{}{}
		}
	}

	result := &models.MergeResult{
		MergeID:  mergeID,
		Category: category,
		Merged:   map[string]any{},
		Records:  []models.MergeRecord{},
	}

	now := m.now()

	for _, field := range slices.Sorted(maps.Keys(fieldSet)) {
		rec, ok := m.mergeField(mergeID, category, cc, field, sources, now)
		if !ok {
			continue
		}

		result.Merged[field] = rec.MergedValue
		result.Records = append(result.Records, rec)
	}

	result.Issues = m.checkQuality(cc, result.Merged)

	return result, nil
}

// EnrichIncompleteRecords fills the missing or empty fields of primary from supplementary
// sources. Fields primary already has are never overwritten and primary itself is not modified.
func (m *Merger) EnrichIncompleteRecords(
	primary map[string]any, supplementary []models.MergeSource, category string,
) (map[string]any, []models.MergeRecord, error) {
	cc, err := m.cfg.category(category)
	if err != nil {
		return nil, nil, err
	}

	enriched := maps.Clone(primary)
	if enriched == nil {
		enriched = map[string]any{}
	}

	mergeID, err := uuid.NewV7()
	if err != nil {
		return nil, nil, fmt.Errorf("generate merge id: %w", err)
	}

	candidates := map[string]struct{}{}
	for f := range cc.Fields {
		candidates[f] = struct{}{}
	}

	for _, s := range supplementary {
		for f := range s.Data {
			candidates[f] = struct{}{}
		}
	}

	records := []models.MergeRecord{}
	now := m.now()

	for _, field := range slices.Sorted(maps.Keys(candidates)) {
		if !isEmpty(enriched[field]) {
			continue
		}

		rec, ok := m.mergeField(mergeID, category, cc, field, supplementary, now)
		if !ok {
			continue
		}

		enriched[field] = rec.MergedValue
		records = append(records, rec)
	}

	return enriched, records, nil
}

func (m *Merger) mergeField(
	mergeID uuid.UUID, category string, cc CategoryConfig, field string, sources []models.MergeSource, now time.Time,
) (models.MergeRecord, bool) {
	values := gather(field, sources)
	if len(values) == 0 {
		return models.MergeRecord{}, false
	}

	fc := cc.field(field)

	priority := fc.Priority
	if len(priority) == 0 {
		priority = m.cfg.SourcePriority
	}

	apply, ok := strategies[fc.Strategy]
	if !ok {
		apply = mergeHighestConfidence
	}

	out := apply(values, priority)

	return models.MergeRecord{
		ID:              uuid.New(),
		MergeID:         mergeID,
		Category:        category,
		FieldName:       field,
		OriginalValues:  values,
		MergedValue:     out.value,
		MergeStrategy:   out.strategy,
		ConfidenceScore: out.confidence,
		SourcesUsed:     out.sources,
		CreatedAt:       now,
	}, true
}

func gather(field string, sources []models.MergeSource) []models.SourceValue {
	var values []models.SourceValue

	for _, s := range sources {
		v, ok := s.Data[field]
		if !ok || isEmpty(v) {
			continue
		}

		values = append(values, models.SourceValue{
			SourceID:        s.SourceID,
			SourceType:      s.SourceType,
			Value:           v,
			AuthorityScore:  s.AuthorityScore,
			ConfidenceScore: s.ConfidenceScore,
			Timestamp:       s.Timestamp,
		})
	}

	return values
}

// isEmpty treats nil, blank strings, and empty lists or maps as missing.
func isEmpty(v any) bool {
	if v == nil {
		return true
	}

	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	case reflect.Pointer:
		return rv.IsNil()
	default:
		return false
	}
}

// qualityRule inspects a merged record.
type qualityRule func(cc CategoryConfig, merged map[string]any) []models.QualityIssue

var qualityRules = []qualityRule{
	expiryAfterApproval,
	nonNegative,
}

func (m *Merger) checkQuality(cc CategoryConfig, merged map[string]any) []models.QualityIssue {
	var issues []models.QualityIssue
	for _, rule := range qualityRules {
		issues = append(issues, rule(cc, merged)...)
	}

	return issues
}

func expiryAfterApproval(_ CategoryConfig, merged map[string]any) []models.QualityIssue {
	approval, ok := conflict.AsTime(merged["approval_date"])
	if !ok {
		return nil
	}

	expiry, ok := conflict.AsTime(merged["expiry_date"])
	if !ok || !expiry.Before(approval) {
		return nil
	}

	return []models.QualityIssue{{
		Field:   "expiry_date",
		Rule:    "expiry_after_approval",
		Message: fmt.Sprintf("expiry_date %s precedes approval_date %s", expiry.Format(time.DateOnly), approval.Format(time.DateOnly)),
	}}
}

func nonNegative(cc CategoryConfig, merged map[string]any) []models.QualityIssue {
	var issues []models.QualityIssue

	for _, field := range slices.Sorted(maps.Keys(merged)) {
		if cc.field(field).AllowNegative {
			continue
		}

		f, ok := conflict.AsFloat(merged[field])
		if !ok || f >= 0 {
			continue
		}

		issues = append(issues, models.QualityIssue{
			Field:   field,
			Rule:    "non_negative",
			Message: fmt.Sprintf("%s must not be negative, got %v", field, merged[field]),
		})
	}

	return issues
}
