package merge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmaintel/hub/internal/models"
)

var t0 = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func newTestMerger(t *testing.T) *Merger {
	t.Helper()

	cfg, err := DefaultConfig()
	require.NoError(t, err)

	m := New(cfg)
	m.now = func() time.Time { return t0 }

	return m
}

func src(id string, st models.SourceType, authority int, confidence float64, age time.Duration, data map[string]any) models.MergeSource {
	return models.MergeSource{
		SourceID:        id,
		SourceType:      st,
		AuthorityScore:  authority,
		ConfidenceScore: confidence,
		Timestamp:       t0.Add(-age),
		Data:            data,
	}
}

func recordFor(t *testing.T, res *models.MergeResult, field string) models.MergeRecord {
	t.Helper()

	for _, r := range res.Records {
		if r.FieldName == field {
			return r
		}
	}

	t.Fatalf("no merge record for %s", field)

	return models.MergeRecord{}
}

func TestDefaultConfig(t *testing.T) {
	m := newTestMerger(t)
	assert.Equal(t, []string{"clinical", "manufacturing", "patents", "pricing", "regulatory"}, m.Categories())
}

func TestParseConfig_RejectsUnknownStrategy(t *testing.T) {
	_, err := ParseConfig([]byte("categories:\n  x:\n    fields:\n      a: { strategy: coin_flip }\n"))
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoadConfig_EmptyPathUsesEmbedded(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Contains(t, cfg.Categories, "regulatory")
}

func TestMergeComplementaryData_Strategies(t *testing.T) {
	m := newTestMerger(t)

	sources := []models.MergeSource{
		src("fda", models.SourceGovernment, 8, 0.9, 48*time.Hour, map[string]any{
			"approval_status":   "approved",
			"approval_date":     "2020-05-01",
			"expiry_date":       "2030-05-01",
			"indications":       []any{"NSCLC", "Melanoma"},
			"approved_regions":  []any{"US", "EU", "JP"},
			"regulatory_agency": "FDA",
		}),
		src("news", models.SourceNews, 1, 0.95, time.Hour, map[string]any{
			"approval_status":   "pending",
			"expiry_date":       "2031-01-01",
			"indications":       []any{"nsclc", "Breast cancer"},
			"approved_regions":  []any{"US", "EU"},
			"regulatory_agency": "FDA",
		}),
		src("company", models.SourceCompany, 2, 0.7, 24*time.Hour, map[string]any{
			"approved_regions":  []any{"EU", "US", "CA"},
			"regulatory_agency": "EMA",
			"brand_name":        "Examplo",
		}),
	}

	res, err := m.MergeComplementaryData(sources, "regulatory")
	require.NoError(t, err)
	assert.Equal(t, "regulatory", res.Category)

	t.Run("source priority prefers government over news", func(t *testing.T) {
		assert.Equal(t, "approved", res.Merged["approval_status"])
		rec := recordFor(t, res, "approval_status")
		assert.Equal(t, models.MergeSourcePriority, rec.MergeStrategy)
		assert.Equal(t, []string{"fda"}, rec.SourcesUsed)
	})

	t.Run("most recent", func(t *testing.T) {
		assert.Equal(t, "2031-01-01", res.Merged["expiry_date"])
	})

	t.Run("union folds case", func(t *testing.T) {
		assert.Equal(t, []any{"NSCLC", "Melanoma", "Breast cancer"}, res.Merged["indications"])
	})

	t.Run("intersection keeps first source order", func(t *testing.T) {
		assert.Equal(t, []any{"US", "EU"}, res.Merged["approved_regions"])
	})

	t.Run("consensus", func(t *testing.T) {
		assert.Equal(t, "FDA", res.Merged["regulatory_agency"])
		rec := recordFor(t, res, "regulatory_agency")
		assert.ElementsMatch(t, []string{"fda", "news"}, rec.SourcesUsed)
	})

	t.Run("unconfigured field uses highest confidence", func(t *testing.T) {
		assert.Equal(t, "Examplo", res.Merged["brand_name"])
		assert.Equal(t, models.MergeHighestConfidence, recordFor(t, res, "brand_name").MergeStrategy)
	})

	t.Run("records share the merge id", func(t *testing.T) {
		for _, r := range res.Records {
			assert.Equal(t, res.MergeID, r.MergeID)
			assert.Equal(t, t0, r.CreatedAt)
		}
	})

	assert.Empty(t, res.Issues)
}

func TestMergeComplementaryData_WeightedAverage(t *testing.T) {
	m := newTestMerger(t)

	res, err := m.MergeComplementaryData([]models.MergeSource{
		src("a", models.SourceGovernment, 8, 0.5, 0, map[string]any{"dose_mg": 50.0}),
		src("b", models.SourceIndustry, 4, 0.5, 0, map[string]any{"dose_mg": 80.0}),
	}, "clinical")
	require.NoError(t, err)

	// (50*4 + 80*2) / 6
	assert.InDelta(t, 60.0, res.Merged["dose_mg"], 1e-9)
	assert.Equal(t, models.MergeWeightedAverage, recordFor(t, res, "dose_mg").MergeStrategy)
}

func TestMergeComplementaryData_WeightedAverageFallsBack(t *testing.T) {
	m := newTestMerger(t)

	res, err := m.MergeComplementaryData([]models.MergeSource{
		src("a", models.SourceGovernment, 8, 0.6, 0, map[string]any{"dose_mg": "fifty"}),
		src("b", models.SourceIndustry, 4, 0.9, 0, map[string]any{"dose_mg": "sixty"}),
	}, "clinical")
	require.NoError(t, err)

	assert.Equal(t, "sixty", res.Merged["dose_mg"])
	assert.Equal(t, models.MergeHighestConfidence, recordFor(t, res, "dose_mg").MergeStrategy)
}

func TestMergeComplementaryData_FieldPriorityOverride(t *testing.T) {
	m := newTestMerger(t)

	res, err := m.MergeComplementaryData([]models.MergeSource{
		src("vendor", models.SourcePaidAPI, 10, 0.9, 0, map[string]any{"manufacturer": "Contract Co"}),
		src("maker", models.SourceCompany, 2, 0.6, 0, map[string]any{"manufacturer": "Maker Inc"}),
	}, "manufacturing")
	require.NoError(t, err)

	assert.Equal(t, "Maker Inc", res.Merged["manufacturer"])
}

func TestMergeComplementaryData_SkipsEmptyValues(t *testing.T) {
	m := newTestMerger(t)

	res, err := m.MergeComplementaryData([]models.MergeSource{
		src("a", models.SourceGovernment, 8, 0.9, 0, map[string]any{"primary_endpoint": "", "enrollment": nil}),
		src("b", models.SourceNews, 1, 0.3, 0, map[string]any{"primary_endpoint": "OS"}),
	}, "clinical")
	require.NoError(t, err)

	assert.Equal(t, "OS", res.Merged["primary_endpoint"])
	assert.NotContains(t, res.Merged, "enrollment")
}

func TestMergeComplementaryData_QualityIssues(t *testing.T) {
	m := newTestMerger(t)

	t.Run("expiry before approval", func(t *testing.T) {
		res, err := m.MergeComplementaryData([]models.MergeSource{
			src("a", models.SourceGovernment, 8, 0.9, 0, map[string]any{
				"approval_date": "2024-01-01",
				"expiry_date":   "2023-01-01",
			}),
		}, "regulatory")
		require.NoError(t, err)
		require.Len(t, res.Issues, 1)
		assert.Equal(t, "expiry_after_approval", res.Issues[0].Rule)
	})

	t.Run("negative numbers", func(t *testing.T) {
		res, err := m.MergeComplementaryData([]models.MergeSource{
			src("a", models.SourceGovernment, 8, 0.9, 0, map[string]any{
				"list_price":       -10.0,
				"price_change_pct": -4.5,
			}),
		}, "pricing")
		require.NoError(t, err)
		require.Len(t, res.Issues, 1)
		assert.Equal(t, "list_price", res.Issues[0].Field)
		assert.Equal(t, "non_negative", res.Issues[0].Rule)
	})
}

func TestMergeComplementaryData_Errors(t *testing.T) {
	m := newTestMerger(t)

	_, err := m.MergeComplementaryData(nil, "clinical")
	require.ErrorIs(t, err, ErrNoSources)

	_, err = m.MergeComplementaryData([]models.MergeSource{src("a", "", 1, 1, 0, map[string]any{"x": 1})}, "astrology")
	require.ErrorIs(t, err, ErrUnknownCategory)
}

func TestEnrichIncompleteRecords(t *testing.T) {
	m := newTestMerger(t)

	primary := map[string]any{
		"trial_phase":      "Phase 3",
		"primary_endpoint": "",
	}

	enriched, records, err := m.EnrichIncompleteRecords(primary, []models.MergeSource{
		src("a", models.SourcePeerReviewed, 6, 0.8, 0, map[string]any{
			"trial_phase":      "Phase 2",
			"primary_endpoint": "PFS",
			"enrollment":       450,
		}),
		src("b", models.SourceNews, 1, 0.4, 0, map[string]any{"enrollment": 500}),
	}, "clinical")
	require.NoError(t, err)

	assert.Equal(t, "Phase 3", enriched["trial_phase"])
	assert.Equal(t, "PFS", enriched["primary_endpoint"])
	assert.Equal(t, 450, enriched["enrollment"])
	require.Len(t, records, 2)
	assert.Equal(t, "enrollment", records[0].FieldName)
	assert.Equal(t, "primary_endpoint", records[1].FieldName)

	assert.Equal(t, "", primary["primary_endpoint"], "primary must not be modified")
	assert.NotContains(t, primary, "enrollment")
}

func TestEnrichIncompleteRecords_UnknownCategory(t *testing.T) {
	m := newTestMerger(t)

	_, _, err := m.EnrichIncompleteRecords(map[string]any{}, nil, "astrology")
	require.ErrorIs(t, err, ErrUnknownCategory)
}
