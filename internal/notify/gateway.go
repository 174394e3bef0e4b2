package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"kinwatch/internal/platform/config"
	"kinwatch/pkg/platform/circuit"
)

// ErrGatewayUnavailable wraps send failures while the gateway circuit is open.
var ErrGatewayUnavailable = errors.New("sms gateway unavailable")

// Gateway posts messages to an HTTP SMS provider. Outbound calls are paced
// by a token bucket; consecutive failures open a circuit breaker.
type Gateway struct {
	client   *http.Client
	url      string
	apiKey   string
	senderID string
	limiter  *rate.Limiter
	breaker  *circuit.Breaker
	logger   *slog.Logger
}

type GatewayOption func(*Gateway)

func WithHTTPClient(c *http.Client) GatewayOption {
	return func(g *Gateway) { g.client = c }
}

func WithGatewayLogger(logger *slog.Logger) GatewayOption {
	return func(g *Gateway) { g.logger = logger }
}

func NewGateway(cfg config.SMSConfig, opts ...GatewayOption) (*Gateway, error) {
	if cfg.GatewayURL == "" {
		return nil, errors.New("sms gateway url is required")
	}
	ratePerSecond := cfg.RatePerSecond
	if ratePerSecond <= 0 {
		ratePerSecond = 5
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	g := &Gateway{
		client:   &http.Client{Timeout: timeout},
		url:      cfg.GatewayURL,
		apiKey:   cfg.APIKey,
		senderID: cfg.SenderID,
		limiter:  rate.NewLimiter(rate.Limit(ratePerSecond), max(1, int(ratePerSecond))),
		breaker:  circuit.New("sms-gateway"),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

type sendRequest struct {
	To   string `json:"to"`
	From string `json:"from,omitempty"`
	Body string `json:"body"`
}

func (g *Gateway) Send(ctx context.Context, phone, text string) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("sms rate limiter: %w", err)
	}

	err := g.post(ctx, sendRequest{To: phone, From: g.senderID, Body: text})
	if err != nil {
		degraded, change := g.breaker.RecordFailure()
		if change.Opened {
			g.logger.WarnContext(ctx, "sms gateway circuit opened", "error", err)
		}
		if degraded {
			return fmt.Errorf("%w: %w", ErrGatewayUnavailable, err)
		}
		return err
	}
	if _, change := g.breaker.RecordSuccess(); change.Closed {
		g.logger.InfoContext(ctx, "sms gateway circuit closed")
	}
	return nil
}

// CircuitState reports the gateway breaker state.
func (g *Gateway) CircuitState() circuit.State {
	return g.breaker.State()
}

func (g *Gateway) post(ctx context.Context, body sendRequest) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode sms request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("send sms: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sms gateway returned %d", resp.StatusCode)
	}
	return nil
}
