package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/pharmaintel/hub/internal/datatypes"
	"github.com/pharmaintel/hub/internal/huberrors"
	"github.com/pharmaintel/hub/internal/models"
	"github.com/pharmaintel/hub/internal/observability"
)

// CompletionProvider is one upstream LLM.
type CompletionProvider interface {
	Name() string
	Model() string
	Complete(ctx context.Context, prompt string, temperature *float64, maxTokens *int) (string, error)
}

// AnalysesRepository persists analyses.
type AnalysesRepository interface {
	Create(ctx context.Context, a *models.Analysis) error
	SetWebhook(ctx context.Context, id, webhookID uuid.UUID) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Analysis, error)
}

// WebhookScheduler schedules result notifications.
type WebhookScheduler interface {
	ScheduleWebhook(ctx context.Context, req *models.ScheduleWebhookRequest) (*models.ScheduleWebhookResponse, error)
}

var providerDisplayNames = map[string]string{
	"openai": "OpenAI",
	"gemini": "Gemini",
}

func displayName(provider string) string {
	if n, ok := providerDisplayNames[provider]; ok {
		return n
	}

	return provider
}

type limitedProvider struct {
	CompletionProvider
	limiter *rate.Limiter
}

// AnalysisService runs prompts against the configured providers in fallback order.
type AnalysisService struct {
	repo      AnalysesRepository
	scheduler WebhookScheduler
	metrics   observability.IntelMetrics
	providers map[string]limitedProvider
	order     []string
	now       func() time.Time
}

// NewAnalysisService creates the service. providers are tried in the given order; each gets its own
// limiter of rps requests per second. scheduler and metrics may be nil.
func NewAnalysisService(
	repo AnalysesRepository,
	scheduler WebhookScheduler,
	metrics observability.IntelMetrics,
	rps float64,
	providers ...CompletionProvider,
) *AnalysisService {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}

	s := &AnalysisService{
		repo:      repo,
		scheduler: scheduler,
		metrics:   metrics,
		providers: make(map[string]limitedProvider, len(providers)),
		now:       func() time.Time { return time.Now().UTC() },
	}

	for _, p := range providers {
		s.providers[p.Name()] = limitedProvider{CompletionProvider: p, limiter: rate.NewLimiter(limit, 1)}
		s.order = append(s.order, p.Name())
	}

	return s
}

// Providers returns the configured provider names in fallback order.
func (s *AnalysisService) Providers() []string {
	return append([]string(nil), s.order...)
}

func (s *AnalysisService) resolveOrder(requested []string) ([]limitedProvider, error) {
	names := requested
	if len(names) == 0 {
		names = s.order
	}

	if len(names) == 0 {
		return nil, huberrors.NewValidationError("providers", "no LLM provider is configured")
	}

	out := make([]limitedProvider, 0, len(names))

	for _, name := range names {
		p, ok := s.providers[name]
		if !ok {
			return nil, huberrors.NewValidationError("providers", fmt.Sprintf("provider %q is not configured", name))
		}

		out = append(out, p)
	}

	return out, nil
}

// RunAnalysis tries each provider until one succeeds and stores the outcome. An analysis where
// every provider failed is stored with status failed and returned without error.
func (s *AnalysisService) RunAnalysis(ctx context.Context, req *models.CreateAnalysisRequest) (*models.Analysis, error) {
	providers, err := s.resolveOrder(req.Providers)
	if err != nil {
		return nil, err
	}

	a := &models.Analysis{
		ID:        uuid.Must(uuid.NewV7()),
		RequestID: req.RequestID,
		ProcessID: req.ProcessID,
		Prompt:    req.Prompt,
		Status:    models.AnalysisFailed,
		Attempts:  []models.ProviderAttempt{},
	}

	var failures []string

	for _, p := range providers {
		if err := p.limiter.Wait(ctx); err != nil {
			if ctx.Err() == nil {
				// The limiter refused because the wait would outlive the request deadline.
				return nil, huberrors.NewLimitExceededError(
					fmt.Sprintf("%s rate limit reached, retry later", displayName(p.Name())))
			}

			return nil, fmt.Errorf("wait for %s rate limit: %w", p.Name(), err)
		}

		content, err := p.Complete(ctx, req.Prompt, req.Temperature, req.MaxTokens)
		attempt := models.ProviderAttempt{Provider: p.Name(), Model: p.Model()}

		if err != nil {
			attempt.Error = err.Error()
			a.Attempts = append(a.Attempts, attempt)
			failures = append(failures, fmt.Sprintf("%s API call failed: %v", displayName(p.Name()), err))
			s.recordAnalysis(ctx, p.Name(), "failure")

			slog.WarnContext(ctx, "analysis provider failed, trying next",
				"provider", p.Name(),
				"model", p.Model(),
				"error", err,
			)

			continue
		}

		a.Attempts = append(a.Attempts, attempt)
		a.Provider = p.Name()
		a.Model = p.Model()
		a.Content = content
		a.Status = models.AnalysisCompleted
		s.recordAnalysis(ctx, p.Name(), "success")

		break
	}

	if a.Status == models.AnalysisFailed {
		msg := strings.Join(failures, "; ")
		a.Error = &msg
	}

	a.CreatedAt = s.now()

	if err := s.repo.Create(ctx, a); err != nil {
		return nil, err
	}

	if req.EndpointID != nil && s.scheduler != nil {
		s.notify(ctx, a, *req.EndpointID)
	}

	return a, nil
}

func (s *AnalysisService) recordAnalysis(ctx context.Context, provider, outcome string) {
	if s.metrics != nil {
		s.metrics.RecordAnalysis(ctx, provider, outcome)
	}
}

// notify schedules the result webhook. Scheduling failures are logged; the analysis is already stored.
func (s *AnalysisService) notify(ctx context.Context, a *models.Analysis, endpointID uuid.UUID) {
	eventType := datatypes.EventCompletion
	data := map[string]any{
		"analysis_id": a.ID.String(),
		"status":      string(a.Status),
	}

	if a.Status == models.AnalysisCompleted {
		data["provider"] = a.Provider
		data["model"] = a.Model
		data["content"] = a.Content
	} else {
		eventType = datatypes.EventError
		data["error"] = *a.Error
	}

	resp, err := s.scheduler.ScheduleWebhook(ctx, &models.ScheduleWebhookRequest{
		RequestID:  a.RequestID,
		ProcessID:  a.ProcessID,
		EndpointID: endpointID,
		Type:       eventType,
		Data:       data,
	})
	if err != nil {
		slog.WarnContext(ctx, "failed to schedule analysis webhook",
			"analysis_id", a.ID,
			"endpoint_id", endpointID,
			"error", err,
		)

		return
	}

	if err := s.repo.SetWebhook(ctx, a.ID, resp.WebhookID); err != nil {
		slog.ErrorContext(ctx, "failed to link analysis webhook", "analysis_id", a.ID, "error", err)

		return
	}

	a.WebhookID = &resp.WebhookID
}

// GetAnalysis retrieves a stored analysis.
func (s *AnalysisService) GetAnalysis(ctx context.Context, id uuid.UUID) (*models.Analysis, error) {
	return s.repo.GetByID(ctx, id)
}
