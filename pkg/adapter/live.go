package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/Mindburn-Labs/bosun/pkg/draft"
	"github.com/Mindburn-Labs/bosun/pkg/limiter"
	"github.com/Mindburn-Labs/bosun/pkg/transport"
)

// Live implements Adapter against real platform endpoints. Every exchange
// goes through the retrying transport, which acquires a rate-limiter token
// before each attempt. The payload passes the same truncation as the
// simulated variant before it leaves the process.
type Live struct {
	registry *Registry
	caller   *transport.Caller
	limiter  *limiter.Limiter
	client   *http.Client
	clock    func() time.Time
}

// LiveOption configures the live adapter.
type LiveOption func(*Live)

// WithHTTPClient overrides the HTTP client, e.g. to set per-attempt
// timeouts or for tests.
func WithHTTPClient(client *http.Client) LiveOption {
	return func(l *Live) { l.client = client }
}

// WithLiveClock injects the receipt timestamp source for tests.
func WithLiveClock(clock func() time.Time) LiveOption {
	return func(l *Live) { l.clock = clock }
}

// NewLive builds the live-mode adapter.
func NewLive(registry *Registry, caller *transport.Caller, lim *limiter.Limiter, opts ...LiveOption) *Live {
	l := &Live{
		registry: registry,
		caller:   caller,
		limiter:  lim,
		client:   &http.Client{Timeout: 30 * time.Second},
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// dispatchRequest is the uniform wire shape; per-platform formatting
// beyond this envelope belongs to the collaborator behind the endpoint.
type dispatchRequest struct {
	DraftID  string `json:"draft_id,omitempty"`
	Category string `json:"category,omitempty"`
	Payload  string `json:"payload"`
}

type dispatchResponse struct {
	ID string `json:"id"`
}

func (l *Live) Dispatch(ctx context.Context, target, payload string, opts DispatchOptions) (*draft.Receipt, error) {
	profile, ok := l.registry.Lookup(target)
	if !ok || profile.Endpoint == "" {
		return nil, fmt.Errorf("target %s has no live endpoint configured", target)
	}
	content := Truncate(payload, profile.CharLimit)

	body, err := json.Marshal(dispatchRequest{
		DraftID:  opts.DraftID,
		Category: opts.Category,
		Payload:  content,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode dispatch request: %w", err)
	}

	resp, err := l.caller.Call(ctx, target, func(ctx context.Context) (*transport.Response, error) {
		return l.post(ctx, profile.Endpoint, body)
	})
	if err != nil {
		return nil, err
	}

	var out dispatchResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, fmt.Errorf("malformed receipt from %s: %w", target, err)
	}
	if out.ID == "" {
		return nil, fmt.Errorf("receipt from %s is missing an id", target)
	}
	return &draft.Receipt{
		ID:          out.ID,
		PostedAt:    l.clock(),
		Simulated:   false,
		ContentHash: ContentHash(target, content),
	}, nil
}

func (l *Live) FetchMetrics(ctx context.Context, target, period string) (*Metrics, error) {
	profile, ok := l.registry.Lookup(target)
	if !ok || profile.Endpoint == "" {
		return nil, fmt.Errorf("target %s has no live endpoint configured", target)
	}
	metricsURL := profile.Endpoint + "/metrics?period=" + url.QueryEscape(period)

	resp, err := l.caller.Call(ctx, target, func(ctx context.Context) (*transport.Response, error) {
		return l.get(ctx, metricsURL)
	})
	if err != nil {
		return nil, err
	}

	values := make(map[string]float64)
	if err := json.Unmarshal(resp.Body, &values); err != nil {
		return nil, fmt.Errorf("malformed metrics from %s: %w", target, err)
	}
	return &Metrics{
		Target:    target,
		Period:    period,
		Values:    values,
		Simulated: false,
	}, nil
}

func (l *Live) RateLimitStatus(ctx context.Context, target string) (limiter.Status, error) {
	return l.limiter.Status(ctx, target)
}

func (l *Live) Metadata(target string) (Profile, bool) {
	return l.registry.Lookup(target)
}

func (l *Live) post(ctx context.Context, endpoint string, body []byte) (*transport.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return l.do(req)
}

func (l *Live) get(ctx context.Context, endpoint string) (*transport.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return l.do(req)
}

func (l *Live) do(req *http.Request) (*transport.Response, error) {
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return &transport.Response{StatusCode: resp.StatusCode, Body: data}, nil
}
