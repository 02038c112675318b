// Package airbapay is the AirbaPay acquiring adapter behind domain.Gateway.
package airbapay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/oauth2"

	"github.com/felixgeelhaar/lessonpass/internal/payments/domain"
	"github.com/felixgeelhaar/lessonpass/pkg/observability"
)

const maxResponseBytes = 1 << 20

// Config holds the merchant credentials and endpoints.
type Config struct {
	BaseURL       string
	TokenURL      string
	User          string
	Password      string
	TerminalID    string
	CompanyID     string
	WebhookSecret string
	// CallbackURL is where the provider posts status webhooks.
	CallbackURL string
	SuccessURL  string
	FailureURL  string
	Timeout     time.Duration

	// The breaker opens after BreakerFailures consecutive provider failures
	// and lets one call through again after BreakerCooldown.
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

func (c Config) withDefaults() Config {
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.TokenURL == "" {
		c.TokenURL = c.BaseURL + "/api/v1/auth/sign-in"
	}
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = 30 * time.Second
	}
	return c
}

// Client talks to the AirbaPay REST API. Requests carry a bearer token
// obtained with the merchant's password credentials and reused until it
// expires.
type Client struct {
	config  Config
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	logger  *slog.Logger
	metrics observability.Metrics
}

// New creates a client. It does not contact the provider.
func New(config Config, logger *slog.Logger, metrics observability.Metrics) (*Client, error) {
	if config.BaseURL == "" {
		return nil, errors.New("airbapay: base URL is required")
	}
	if config.User == "" || config.Password == "" {
		return nil, errors.New("airbapay: user and password are required")
	}
	config = config.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	logger = logger.With("component", "airbapay")

	oauthConfig := &oauth2.Config{
		ClientID: config.TerminalID,
		Endpoint: oauth2.Endpoint{
			TokenURL:  config.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{Timeout: config.Timeout})
	tokens := oauth2.ReuseTokenSource(nil, passwordTokenSource{
		ctx:      tokenCtx,
		config:   oauthConfig,
		user:     config.User,
		password: config.Password,
	})

	c := &Client{
		config: config,
		http: &http.Client{
			Timeout:   config.Timeout,
			Transport: &oauth2.Transport{Source: tokens, Base: http.DefaultTransport},
		},
		logger:  logger,
		metrics: metrics,
	}
	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:    "airbapay",
		Timeout: config.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.BreakerFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, domain.ErrProviderUnavailable)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return c, nil
}

// passwordTokenSource fetches a fresh token with the password grant.
type passwordTokenSource struct {
	ctx      context.Context
	config   *oauth2.Config
	user     string
	password string
}

func (s passwordTokenSource) Token() (*oauth2.Token, error) {
	return s.config.PasswordCredentialsToken(s.ctx, s.user, s.password)
}

// call runs one API request through the breaker and returns the response
// body of a 2xx answer.
func (c *Client) call(ctx context.Context, op, method, path string, in any) ([]byte, error) {
	body, err := observability.TimeOperationResult(c.metrics, observability.MetricGatewayDuration, func() ([]byte, error) {
		body, err := c.breaker.Execute(func() ([]byte, error) {
			return c.roundTrip(ctx, method, path, in)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %w", domain.ErrProviderUnavailable, err)
		}
		return body, err
	}, observability.T("op", op))

	c.metrics.Counter(observability.MetricGatewayCalls, 1, observability.T("op", op), observability.T("result", callResult(err)))
	if err != nil {
		c.logger.WarnContext(ctx, "provider call failed", "op", op, "error", err)
	}
	return body, err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, in any) ([]byte, error) {
	var reader io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrProviderUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d: %s", domain.ErrProviderUnavailable, resp.StatusCode, providerMessage(body))
	default:
		return nil, fmt.Errorf("%w: status %d: %s", domain.ErrInvalidRequest, resp.StatusCode, providerMessage(body))
	}
}

func providerMessage(body []byte) string {
	var e struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil {
		if e.Message != "" {
			return e.Message
		}
		if e.Error != "" {
			return e.Error
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

func callResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "circuit_open"
	case errors.Is(err, domain.ErrProviderUnavailable):
		return "unavailable"
	case errors.Is(err, domain.ErrMalformedPayload):
		return "malformed"
	default:
		return "rejected"
	}
}

var _ domain.Gateway = (*Client)(nil)
