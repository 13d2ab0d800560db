package selection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const defaultTimeout = 10 * time.Second

// HTTPSelector calls a remote selector service over JSON/HTTP.
//
// Wire contract: POST {BaseURL}/v1/select with a Request body. 200 returns
// {"candidates": [...]}; 404 or an empty candidate list maps to
// ErrNoViableCandidates; anything else is a transport error.
type HTTPSelector struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPSelector builds an adapter for the selector at baseURL. A zero
// timeout falls back to defaultTimeout.
func NewHTTPSelector(baseURL string, timeout time.Duration) *HTTPSelector {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPSelector{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: timeout},
	}
}

type selectResponse struct {
	Candidates []Candidate `json:"candidates"`
}

// Select implements Selector.
func (s *HTTPSelector) Select(ctx context.Context, req Request) ([]Candidate, error) {
	tr := otel.Tracer("selection/http")
	ctx, span := tr.Start(ctx, "selector.Select")
	defer span.End()
	span.SetAttributes(
		attribute.String("selection.source", string(req.Criteria.Source)),
		attribute.Int64("selection.budget_cents", req.BudgetCents),
	)

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("selection: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+"/v1/select", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("selection: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client().Do(httpReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "selector call failed")
		return nil, fmt.Errorf("selection: call selector: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNoViableCandidates
	case resp.StatusCode != http.StatusOK:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		span.SetStatus(codes.Error, fmt.Sprintf("selector status %d", resp.StatusCode))
		return nil, fmt.Errorf("selection: selector returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out selectResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("selection: decode response: %w", err)
	}
	if len(out.Candidates) == 0 {
		return nil, ErrNoViableCandidates
	}
	span.SetAttributes(attribute.Int("selection.candidates", len(out.Candidates)))
	return out.Candidates, nil
}

func (s *HTTPSelector) client() *http.Client {
	if s.Client != nil {
		return s.Client
	}
	return &http.Client{Timeout: defaultTimeout}
}
