package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmaintel/hub/internal/api/response"
	"github.com/pharmaintel/hub/internal/datatypes"
	"github.com/pharmaintel/hub/internal/huberrors"
	"github.com/pharmaintel/hub/internal/models"
)

type mockWebhookEndpointsService struct {
	createFunc func(ctx context.Context, req *models.CreateWebhookEndpointRequest) (*models.WebhookEndpoint, error)
	getFunc    func(ctx context.Context, id uuid.UUID) (*models.WebhookEndpoint, error)
	deleteFunc func(ctx context.Context, id uuid.UUID) error
}

func (m *mockWebhookEndpointsService) CreateEndpoint(ctx context.Context, req *models.CreateWebhookEndpointRequest) (*models.WebhookEndpoint, error) {
	return m.createFunc(ctx, req)
}

func (m *mockWebhookEndpointsService) GetEndpoint(ctx context.Context, id uuid.UUID) (*models.WebhookEndpoint, error) {
	return m.getFunc(ctx, id)
}

func (m *mockWebhookEndpointsService) ListEndpoints(_ context.Context, f *models.ListWebhookEndpointsFilters) (*models.ListWebhookEndpointsResponse, error) {
	return &models.ListWebhookEndpointsResponse{Data: []models.WebhookEndpoint{}, Limit: f.Limit, Offset: f.Offset}, nil
}

func (m *mockWebhookEndpointsService) UpdateEndpoint(context.Context, uuid.UUID, *models.UpdateWebhookEndpointRequest) (*models.WebhookEndpoint, error) {
	return nil, nil
}

func (m *mockWebhookEndpointsService) DeleteEndpoint(ctx context.Context, id uuid.UUID) error {
	return m.deleteFunc(ctx, id)
}

type mockWebhookDeliveryService struct {
	scheduleFunc func(ctx context.Context, req *models.ScheduleWebhookRequest) (*models.ScheduleWebhookResponse, error)
	deliverFunc  func(ctx context.Context, id uuid.UUID) (*models.WebhookDelivery, error)
	retryFunc    func(ctx context.Context, id uuid.UUID) (*models.DeadLetterEntry, error)
	listFilters  *models.ListWebhookDeliveriesFilters
}

func (m *mockWebhookDeliveryService) ScheduleWebhook(ctx context.Context, req *models.ScheduleWebhookRequest) (*models.ScheduleWebhookResponse, error) {
	return m.scheduleFunc(ctx, req)
}

func (m *mockWebhookDeliveryService) DeliverWebhook(ctx context.Context, id uuid.UUID) (*models.WebhookDelivery, error) {
	return m.deliverFunc(ctx, id)
}

func (m *mockWebhookDeliveryService) GetDelivery(context.Context, uuid.UUID) (*models.WebhookDelivery, error) {
	return nil, huberrors.NotFound(huberrors.ResourceWebhookDelivery)
}

func (m *mockWebhookDeliveryService) ListDeliveries(_ context.Context, f *models.ListWebhookDeliveriesFilters) (*models.ListWebhookDeliveriesResponse, error) {
	m.listFilters = f

	return &models.ListWebhookDeliveriesResponse{Data: []models.WebhookDelivery{}, Limit: f.Limit}, nil
}

func (m *mockWebhookDeliveryService) ListDeadLetters(_ context.Context, f *models.ListDeadLettersFilters) (*models.ListDeadLettersResponse, error) {
	return &models.ListDeadLettersResponse{Data: []models.DeadLetterEntry{}, Limit: f.Limit}, nil
}

func (m *mockWebhookDeliveryService) RetryDeadLetter(ctx context.Context, id uuid.UUID) (*models.DeadLetterEntry, error) {
	return m.retryFunc(ctx, id)
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) response.ProblemDetails {
	t.Helper()

	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

	var p response.ProblemDetails
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))

	return p
}

func withID(req *http.Request, id string) *http.Request {
	req.SetPathValue("id", id)

	return req
}

func TestWebhookEndpointsHandler_Create(t *testing.T) {
	t.Run("success returns 201", func(t *testing.T) {
		mock := &mockWebhookEndpointsService{
			createFunc: func(_ context.Context, req *models.CreateWebhookEndpointRequest) (*models.WebhookEndpoint, error) {
				assert.Equal(t, "https://partner.example.com/hook", req.URL)

				return &models.WebhookEndpoint{ID: uuid.Must(uuid.NewV7()), URL: req.URL, Active: true}, nil
			},
		}
		h := NewWebhookEndpointsHandler(mock)

		req := httptest.NewRequest(http.MethodPost, "/v1/webhook-endpoints",
			strings.NewReader(`{"url":"https://partner.example.com/hook"}`))
		rec := httptest.NewRecorder()

		h.Create(rec, req)

		assert.Equal(t, http.StatusCreated, rec.Code)

		var got models.WebhookEndpoint
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.True(t, got.Active)
	})

	t.Run("unknown field returns 400", func(t *testing.T) {
		h := NewWebhookEndpointsHandler(&mockWebhookEndpointsService{})

		req := httptest.NewRequest(http.MethodPost, "/v1/webhook-endpoints",
			strings.NewReader(`{"url":"https://partner.example.com/hook","secret":"x"}`))
		rec := httptest.NewRecorder()

		h.Create(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Invalid request body", decodeProblem(t, rec).Detail)
	})

	t.Run("missing url returns field errors", func(t *testing.T) {
		h := NewWebhookEndpointsHandler(&mockWebhookEndpointsService{})

		req := httptest.NewRequest(http.MethodPost, "/v1/webhook-endpoints", strings.NewReader(`{"name":"partner"}`))
		rec := httptest.NewRecorder()

		h.Create(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)

		p := decodeProblem(t, rec)
		assert.Equal(t, "Validation Error", p.Title)
		require.Len(t, p.Errors, 1)
		assert.Equal(t, "url", p.Errors[0].Location)
		assert.Equal(t, "url is required", p.Errors[0].Message)
	})

	t.Run("domain validation error returns 400", func(t *testing.T) {
		mock := &mockWebhookEndpointsService{
			createFunc: func(context.Context, *models.CreateWebhookEndpointRequest) (*models.WebhookEndpoint, error) {
				return nil, huberrors.NewValidationError("encryption_key", "encryption_key is not a valid Fernet key")
			},
		}
		h := NewWebhookEndpointsHandler(mock)

		req := httptest.NewRequest(http.MethodPost, "/v1/webhook-endpoints",
			strings.NewReader(`{"url":"https://partner.example.com/hook","encryption_key":"nope"}`))
		rec := httptest.NewRecorder()

		h.Create(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)

		p := decodeProblem(t, rec)
		require.Len(t, p.Errors, 1)
		assert.Equal(t, "encryption_key", p.Errors[0].Location)
	})
}

func TestWebhookEndpointsHandler_GetAndDelete(t *testing.T) {
	id := uuid.Must(uuid.NewV7())
	mock := &mockWebhookEndpointsService{
		getFunc: func(_ context.Context, got uuid.UUID) (*models.WebhookEndpoint, error) {
			if got != id {
				return nil, huberrors.NotFound(huberrors.ResourceWebhookEndpoint)
			}

			return &models.WebhookEndpoint{ID: id}, nil
		},
		deleteFunc: func(context.Context, uuid.UUID) error { return nil },
	}
	h := NewWebhookEndpointsHandler(mock)

	tests := []struct {
		name string
		id   string
		want int
	}{
		{name: "found", id: id.String(), want: http.StatusOK},
		{name: "not found", id: uuid.Must(uuid.NewV7()).String(), want: http.StatusNotFound},
		{name: "invalid uuid", id: "not-a-uuid", want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.Get(rec, withID(httptest.NewRequest(http.MethodGet, "/v1/webhook-endpoints/"+tt.id, http.NoBody), tt.id))

			assert.Equal(t, tt.want, rec.Code)
		})
	}

	t.Run("delete returns 204", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.Delete(rec, withID(httptest.NewRequest(http.MethodDelete, "/v1/webhook-endpoints/"+id.String(), http.NoBody), id.String()))

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Empty(t, rec.Body.Bytes())
	})
}

func TestWebhookDeliveriesHandler_Schedule(t *testing.T) {
	endpointID := uuid.Must(uuid.NewV7())
	webhookID := uuid.Must(uuid.NewV7())

	t.Run("accepted", func(t *testing.T) {
		mock := &mockWebhookDeliveryService{
			scheduleFunc: func(_ context.Context, req *models.ScheduleWebhookRequest) (*models.ScheduleWebhookResponse, error) {
				assert.Equal(t, "req-1", req.RequestID)
				assert.Equal(t, endpointID, req.EndpointID)
				assert.Equal(t, datatypes.EventCompletion, req.Type)
				assert.Equal(t, "done", req.Data["result"])

				return &models.ScheduleWebhookResponse{WebhookID: webhookID, Status: datatypes.DeliveryPending}, nil
			},
		}
		h := NewWebhookDeliveriesHandler(mock)

		body := `{"request_id":"req-1","endpoint_id":"` + endpointID.String() + `","type":"completion","data":{"result":"done"}}`
		rec := httptest.NewRecorder()
		h.Schedule(rec, httptest.NewRequest(http.MethodPost, "/v1/webhook-deliveries", strings.NewReader(body)))

		assert.Equal(t, http.StatusAccepted, rec.Code)

		var got models.ScheduleWebhookResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, webhookID, got.WebhookID)
		assert.Equal(t, datatypes.DeliveryPending, got.Status)
	})

	t.Run("unknown event type returns 400", func(t *testing.T) {
		h := NewWebhookDeliveriesHandler(&mockWebhookDeliveryService{})

		body := `{"request_id":"req-1","endpoint_id":"` + endpointID.String() + `","type":"finished"}`
		rec := httptest.NewRecorder()
		h.Schedule(rec, httptest.NewRequest(http.MethodPost, "/v1/webhook-deliveries", strings.NewReader(body)))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing request id returns 400", func(t *testing.T) {
		h := NewWebhookDeliveriesHandler(&mockWebhookDeliveryService{})

		body := `{"endpoint_id":"` + endpointID.String() + `","type":"progress"}`
		rec := httptest.NewRecorder()
		h.Schedule(rec, httptest.NewRequest(http.MethodPost, "/v1/webhook-deliveries", strings.NewReader(body)))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, decodeProblem(t, rec).Detail, "request_id is required")
	})

	t.Run("inactive endpoint returns 409", func(t *testing.T) {
		mock := &mockWebhookDeliveryService{
			scheduleFunc: func(context.Context, *models.ScheduleWebhookRequest) (*models.ScheduleWebhookResponse, error) {
				return nil, huberrors.NewConflictError("webhook endpoint is not active")
			},
		}
		h := NewWebhookDeliveriesHandler(mock)

		body := `{"request_id":"req-1","endpoint_id":"` + endpointID.String() + `","type":"error"}`
		rec := httptest.NewRecorder()
		h.Schedule(rec, httptest.NewRequest(http.MethodPost, "/v1/webhook-deliveries", strings.NewReader(body)))

		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "webhook endpoint is not active", decodeProblem(t, rec).Detail)
	})

	t.Run("unexpected error returns 500 without leaking", func(t *testing.T) {
		mock := &mockWebhookDeliveryService{
			scheduleFunc: func(context.Context, *models.ScheduleWebhookRequest) (*models.ScheduleWebhookResponse, error) {
				return nil, assert.AnError
			},
		}
		h := NewWebhookDeliveriesHandler(mock)

		body := `{"request_id":"req-1","endpoint_id":"` + endpointID.String() + `","type":"error"}`
		rec := httptest.NewRecorder()
		h.Schedule(rec, httptest.NewRequest(http.MethodPost, "/v1/webhook-deliveries", strings.NewReader(body)))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "An unexpected error occurred", decodeProblem(t, rec).Detail)
	})
}

func TestWebhookDeliveriesHandler_DeliverAndRetry(t *testing.T) {
	id := uuid.Must(uuid.NewV7())
	mock := &mockWebhookDeliveryService{
		deliverFunc: func(_ context.Context, got uuid.UUID) (*models.WebhookDelivery, error) {
			return &models.WebhookDelivery{ID: got, Status: datatypes.DeliveryDelivered, Attempts: 1}, nil
		},
		retryFunc: func(context.Context, uuid.UUID) (*models.DeadLetterEntry, error) {
			return nil, huberrors.NewConflictError("dead letter entry is already resolved")
		},
	}
	h := NewWebhookDeliveriesHandler(mock)

	rec := httptest.NewRecorder()
	h.Deliver(rec, withID(httptest.NewRequest(http.MethodPost, "/v1/webhook-deliveries/"+id.String()+"/deliver", http.NoBody), id.String()))

	assert.Equal(t, http.StatusOK, rec.Code)

	var got models.WebhookDelivery
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, datatypes.DeliveryDelivered, got.Status)

	rec = httptest.NewRecorder()
	h.RetryDeadLetter(rec, withID(httptest.NewRequest(http.MethodPost, "/v1/dead-letters/"+id.String()+"/retry", http.NoBody), id.String()))

	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = httptest.NewRecorder()
	h.Get(rec, withID(httptest.NewRequest(http.MethodGet, "/v1/webhook-deliveries/"+id.String(), http.NoBody), id.String()))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebhookDeliveriesHandler_List(t *testing.T) {
	mock := &mockWebhookDeliveryService{}
	h := NewWebhookDeliveriesHandler(mock)

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/v1/webhook-deliveries?status=retrying&limit=10", http.NoBody))

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, mock.listFilters)
	require.NotNil(t, mock.listFilters.Status)
	assert.Equal(t, "retrying", *mock.listFilters.Status)
	assert.Equal(t, 10, mock.listFilters.Limit)

	rec = httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/v1/webhook-deliveries?status=lost", http.NoBody))

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.ListDeadLetters(rec, httptest.NewRequest(http.MethodGet, "/v1/dead-letters?resolved=false", http.NoBody))

	assert.Equal(t, http.StatusOK, rec.Code)
}
