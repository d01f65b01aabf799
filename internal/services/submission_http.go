package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Ananth-NQI/orderbot-backend/internal/models"
)

// HTTPSubmissionBackend posts orders to the restaurant's ordering API as JSON
type HTTPSubmissionBackend struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPSubmissionBackend creates a backend client. Per-call deadlines come
// from the caller's context; the client timeout is only a backstop.
func NewHTTPSubmissionBackend(baseURL, apiKey string, timeout time.Duration) *HTTPSubmissionBackend {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSubmissionBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 2 * timeout},
	}
}

type submitResponse struct {
	OrderRef string `json:"order_ref"`
	Reason   string `json:"reason"`
	Detail   string `json:"detail"`
}

func (h *HTTPSubmissionBackend) SubmitOrder(ctx context.Context, order *models.MaterializedOrder) (*models.SubmissionResult, error) {
	b, err := json.Marshal(order)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/orders", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", order.IdempotencyKey)
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	var parsed submitResponse
	if len(body) > 0 {
		// A non-JSON error page still classifies by status code
		_ = json.Unmarshal(body, &parsed)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if parsed.OrderRef == "" {
			return nil, fmt.Errorf("order api returned %s without order_ref", resp.Status)
		}
		return &models.SubmissionResult{Status: models.SubmissionSuccess, OrderRef: parsed.OrderRef}, nil
	case resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusUnprocessableEntity:
		return &models.SubmissionResult{
			Status: models.SubmissionRejected,
			Reason: parsed.Reason,
			Detail: parsed.Detail,
		}, nil
	case resp.StatusCode == http.StatusGatewayTimeout || resp.StatusCode == http.StatusRequestTimeout:
		return &models.SubmissionResult{Status: models.SubmissionTimeout, Detail: resp.Status}, nil
	default:
		return nil, fmt.Errorf("order api error: %s body=%s", resp.Status, truncate(string(body), 200))
	}
}

// OrderStatus fetches tracking information for a submitted order
func (h *HTTPSubmissionBackend) OrderStatus(ctx context.Context, tenantID, orderRef string) (*models.OrderStatus, error) {
	endpoint := fmt.Sprintf("%s/orders/%s/status?tenant_id=%s", h.baseURL, url.PathEscape(orderRef), url.QueryEscape(tenantID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("order api error: %s", resp.Status)
	}
	var status models.OrderStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decode order status: %w", err)
	}
	if status.OrderRef == "" {
		status.OrderRef = orderRef
	}
	return &status, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
