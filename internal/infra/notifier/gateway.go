package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"feedstate/internal/resilience/circuitbreaker"
	"feedstate/internal/resilience/retry"
)

// GatewayConfig configures the push gateway client.
type GatewayConfig struct {
	// URL receives one POST per notification.
	URL string

	// Timeout bounds a single HTTP request.
	Timeout time.Duration

	// RequestsPerSecond and Burst bound outbound requests with a token
	// bucket shared by every Send on this Gateway. Zero disables it.
	RequestsPerSecond float64
	Burst             int

	// Retry controls in-call retries of 5xx, 429 and network errors.
	Retry retry.Policy

	Logger *slog.Logger
}

// DefaultGatewayConfig returns the defaults for url.
func DefaultGatewayConfig(url string) GatewayConfig {
	return GatewayConfig{
		URL:               url,
		Timeout:           5 * time.Second,
		RequestsPerSecond: 20,
		Burst:             10,
		Retry:             retry.PushGatewayPolicy(),
	}
}

// Gateway posts notifications to an HTTP push gateway.
type Gateway struct {
	config      GatewayConfig
	httpClient  *http.Client
	throttle    *rate.Limiter
	breaker     *circuitbreaker.Breaker
	logger      *slog.Logger
}

// NewGateway creates a push gateway client.
func NewGateway(cfg GatewayConfig) *Gateway {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Retry.Attempts <= 0 {
		cfg.Retry = retry.PushGatewayPolicy()
	}
	cfg.Retry.Retryable = isRetryableError
	cfg.Retry.Logger = cfg.Logger
	return &Gateway{
		config:      cfg,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		throttle:    newThrottle(cfg.RequestsPerSecond, cfg.Burst),
		breaker:     newGatewayBreaker(cfg.Logger),
		logger:      cfg.Logger,
	}
}

// gatewayPayload is the JSON body posted to the gateway.
type gatewayPayload struct {
	UserID string         `json:"user_id"`
	Title  string         `json:"title"`
	Body   string         `json:"body"`
	Data   map[string]any `json:"data,omitempty"`
}

// gatewayErrorResponse is the optional error body returned by the gateway.
type gatewayErrorResponse struct {
	Message    string  `json:"message"`
	RetryAfter float64 `json:"retry_after"`
}

const (
	maxGatewayTitle  = 255
	maxGatewayBody   = 4096
	truncationSuffix = "..."
)

// Deliver implements Deliverer.
func (g *Gateway) Deliver(ctx context.Context, recipientID, title, body string, payload map[string]any) bool {
	return g.Send(ctx, recipientID, title, body, payload) == nil
}

// Send delivers one notification and returns the failure cause.
func (g *Gateway) Send(ctx context.Context, recipientID, title, body string, payload map[string]any) error {
	requestID := uuid.New().String()

	if err := g.throttle.Wait(ctx); err != nil {
		return fmt.Errorf("push gateway throttle: %w", err)
	}

	_, err := g.breaker.Execute(func() (interface{}, error) {
		return nil, g.sendWithRetry(ctx, requestID, gatewayPayload{
			UserID: recipientID,
			Title:  truncate(title, maxGatewayTitle, truncationSuffix),
			Body:   truncate(body, maxGatewayBody, truncationSuffix),
			Data:   payload,
		})
	})
	return err
}

// sendWithRetry retries 5xx and network errors with backoff and waits the
// gateway's retry_after on 429. Other 4xx errors fail immediately.
func (g *Gateway) sendWithRetry(ctx context.Context, requestID string, p gatewayPayload) error {
	err := retry.Do(ctx, g.config.Retry, func(ctx context.Context) error {
		return g.send(ctx, requestID, p)
	})
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		g.logger.Warn("push gateway rejected notification",
			slog.String("request_id", requestID),
			slog.String("user_id", p.UserID),
			slog.Any("error", err))
	}
	return err
}

func newThrottle(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
}

func newGatewayBreaker(logger *slog.Logger) *circuitbreaker.Breaker {
	cfg := circuitbreaker.PushGatewayConfig()
	cfg.Logger = logger
	return circuitbreaker.New(cfg)
}

func (g *Gateway) send(ctx context.Context, requestID string, p gatewayPayload) error {
	data, err := json.Marshal(p)
	if err != nil {
		return &ClientError{Message: fmt.Sprintf("marshal payload: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.config.URL, bytes.NewReader(data))
	if err != nil {
		return &ClientError{Message: fmt.Sprintf("create http request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", requestID)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitError{Message: "push gateway rate limit exceeded", RetryAfter: extractRetryAfter(resp, body)}
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return &ClientError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("push gateway client error %d: %s", resp.StatusCode, body)}
	case resp.StatusCode >= 500:
		return &ServerError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("push gateway server error %d: %s", resp.StatusCode, body)}
	}
	return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, body)
}

// extractRetryAfter reads retry_after from the JSON body, then the
// Retry-After header, defaulting to one second.
func extractRetryAfter(resp *http.Response, body []byte) time.Duration {
	var gwErr gatewayErrorResponse
	if err := json.Unmarshal(body, &gwErr); err == nil && gwErr.RetryAfter > 0 {
		return time.Duration(gwErr.RetryAfter * float64(time.Second))
	}
	if h := resp.Header.Get("Retry-After"); h != "" {
		if seconds, err := strconv.Atoi(h); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return time.Second
}
