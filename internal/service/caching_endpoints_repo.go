package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/pharmaintel/hub/internal/models"
	"github.com/pharmaintel/hub/internal/observability"
	"github.com/pharmaintel/hub/pkg/cache"
)

const cacheNameEndpointGetByID = "webhook_endpoint_get_by_id"

// cachingEndpointsRepo wraps a WebhookEndpointsRepository with a GetByID cache.
type cachingEndpointsRepo struct {
	inner        WebhookEndpointsRepository
	getByIDCache *cache.LoaderCache[uuid.UUID, *models.WebhookEndpoint]
	metrics      observability.IntelMetrics
}

// NewCachingEndpointsRepository returns a WebhookEndpointsRepository that caches GetByID.
// The cache entry of an endpoint is invalidated on Update and Delete. metrics may be nil.
func NewCachingEndpointsRepository(
	inner WebhookEndpointsRepository,
	getByIDCache *cache.LoaderCache[uuid.UUID, *models.WebhookEndpoint],
	metrics observability.IntelMetrics,
) WebhookEndpointsRepository {
	return &cachingEndpointsRepo{
		inner:        inner,
		getByIDCache: getByIDCache,
		metrics:      metrics,
	}
}

func (r *cachingEndpointsRepo) Create(ctx context.Context, e *models.WebhookEndpoint) (*models.WebhookEndpoint, error) {
	created, err := r.inner.Create(ctx, e)
	if err != nil {
		return nil, fmt.Errorf("create webhook endpoint: %w", err)
	}

	return created, nil
}

func (r *cachingEndpointsRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.WebhookEndpoint, error) {
	e, hit, err := r.getByIDCache.GetWithStats(ctx, id, r.inner.GetByID)
	if err != nil {
		return nil, fmt.Errorf("get webhook endpoint by id: %w", err)
	}

	if r.metrics != nil {
		r.metrics.RecordCacheLookup(ctx, cacheNameEndpointGetByID, hit)
	}

	return e, nil
}

func (r *cachingEndpointsRepo) List(
	ctx context.Context, filters *models.ListWebhookEndpointsFilters,
) ([]models.WebhookEndpoint, error) {
	endpoints, err := r.inner.List(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("list webhook endpoints: %w", err)
	}

	return endpoints, nil
}

func (r *cachingEndpointsRepo) Count(ctx context.Context, filters *models.ListWebhookEndpointsFilters) (int64, error) {
	n, err := r.inner.Count(ctx, filters)
	if err != nil {
		return 0, fmt.Errorf("count webhook endpoints: %w", err)
	}

	return n, nil
}

func (r *cachingEndpointsRepo) Update(
	ctx context.Context, id uuid.UUID, req *models.UpdateWebhookEndpointRequest,
) (*models.WebhookEndpoint, error) {
	e, err := r.inner.Update(ctx, id, req)
	if err != nil {
		return nil, fmt.Errorf("update webhook endpoint: %w", err)
	}

	r.getByIDCache.Invalidate(id)

	return e, nil
}

func (r *cachingEndpointsRepo) Delete(ctx context.Context, id uuid.UUID) error {
	if err := r.inner.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete webhook endpoint: %w", err)
	}

	r.getByIDCache.Invalidate(id)

	return nil
}
