package fulfillment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const defaultTimeout = 15 * time.Second

// HTTPPlacer places orders against a remote fulfillment service.
//
// Wire contract: POST {BaseURL}/v1/orders with a PlacementRequest body and an
// Idempotency-Key header set to the execution ID.
//
//	201 -> {"order_id": "..."}
//	402 -> ErrPaymentDeclined
//	422 -> ErrAddressInvalid
//	5xx -> ErrProviderUnavailable
//
// A context deadline or network timeout maps to ErrPlacementTimeout because
// the provider may have accepted the order before the connection died.
type HTTPPlacer struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPPlacer builds an adapter for the provider at baseURL.
func NewHTTPPlacer(baseURL string, timeout time.Duration) *HTTPPlacer {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPPlacer{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: timeout},
	}
}

// Place implements Placer.
func (p *HTTPPlacer) Place(ctx context.Context, req PlacementRequest) (*OrderReference, error) {
	tr := otel.Tracer("fulfillment/http")
	ctx, span := tr.Start(ctx, "placer.Place")
	defer span.End()
	span.SetAttributes(
		attribute.String("fulfillment.execution_id", req.ExecutionID),
		attribute.Int64("fulfillment.total_cents", req.TotalAmountCents),
	)

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("fulfillment: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/v1/orders", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("fulfillment: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.ExecutionID)

	resp, err := p.client().Do(httpReq)
	if err != nil {
		span.RecordError(err)
		if isTimeout(err) {
			span.SetStatus(codes.Error, "placement timed out")
			return nil, fmt.Errorf("fulfillment: %w: %v", ErrPlacementTimeout, err)
		}
		span.SetStatus(codes.Error, "provider unreachable")
		return nil, fmt.Errorf("fulfillment: %w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusOK:
		var ref OrderReference
		if err := json.NewDecoder(resp.Body).Decode(&ref); err != nil {
			return nil, fmt.Errorf("fulfillment: decode response: %w", err)
		}
		if ref.OrderID == "" {
			return nil, fmt.Errorf("fulfillment: provider returned no order id")
		}
		span.SetAttributes(attribute.String("fulfillment.order_id", ref.OrderID))
		return &ref, nil
	case resp.StatusCode == http.StatusPaymentRequired:
		return nil, fmt.Errorf("fulfillment: %w", ErrPaymentDeclined)
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return nil, fmt.Errorf("fulfillment: %w", ErrAddressInvalid)
	case resp.StatusCode >= 500:
		span.SetStatus(codes.Error, fmt.Sprintf("provider status %d", resp.StatusCode))
		return nil, fmt.Errorf("fulfillment: %w: status %d", ErrProviderUnavailable, resp.StatusCode)
	default:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		span.SetStatus(codes.Error, fmt.Sprintf("provider status %d", resp.StatusCode))
		return nil, fmt.Errorf("fulfillment: provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
}

func (p *HTTPPlacer) client() *http.Client {
	if p.Client != nil {
		return p.Client
	}
	return &http.Client{Timeout: defaultTimeout}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}
