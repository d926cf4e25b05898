// Package protrack is the client of the ProTrack365 tracking API.
package protrack

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/septivank/gps-tracking-worker/internal/config"
	"github.com/septivank/gps-tracking-worker/internal/metrics"
)

// ErrAuthorization is returned when no access token could be obtained
var ErrAuthorization = errors.New("authorization failed")

const breakerName = "protrack-auth"

// Client talks to the ProTrack365 API
type Client struct {
	baseURL     string
	account     string
	password    string
	authTimeout time.Duration
	http        *http.Client
	breaker     *gobreaker.CircuitBreaker[string]
	logger      *zap.Logger
	now         func() time.Time
}

// NewClient creates a new API client. The authorization call is guarded by a
// circuit breaker that opens after three consecutive failures.
func NewClient(cfg config.ProTrackConfig, httpClient *http.Client, logger *zap.Logger) *Client {
	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)

	breaker := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state transition",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})

	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		account:     cfg.Account,
		password:    cfg.Password,
		authTimeout: cfg.AuthTimeout,
		http:        httpClient,
		breaker:     breaker,
		logger:      logger,
		now:         time.Now,
	}
}

// Authorize obtains an access token. Every failure wraps ErrAuthorization.
func (c *Client) Authorize(ctx context.Context) (string, error) {
	token, err := c.breaker.Execute(func() (string, error) {
		return c.authorize(ctx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.AuthRequestsTotal.WithLabelValues("rejected").Inc()
			return "", fmt.Errorf("%w: %w", ErrAuthorization, err)
		}
		metrics.AuthRequestsTotal.WithLabelValues("failure").Inc()
		return "", err
	}

	metrics.AuthRequestsTotal.WithLabelValues("success").Inc()
	c.logger.Info("obtained access token")
	return token, nil
}

func (c *Client) authorize(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.authTimeout)
	defer cancel()

	unixTime := c.now().Unix()
	params := url.Values{}
	params.Set("time", strconv.FormatInt(unixTime, 10))
	params.Set("account", c.account)
	params.Set("signature", Signature(c.password, unixTime))

	body, err := executeRequest(ctx, c.http, c.baseURL+"/authorization?"+params.Encode())
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAuthorization, err)
	}
	defer body.Close()

	var resp authResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return "", fmt.Errorf("%w: failed to decode response: %w", ErrAuthorization, err)
	}
	if resp.Code != 0 {
		return "", fmt.Errorf("%w: code %d: %s", ErrAuthorization, resp.Code, resp.Message)
	}
	if resp.Record == nil || resp.Record.AccessToken == "" {
		return "", fmt.Errorf("%w: response carries no access token", ErrAuthorization)
	}

	return resp.Record.AccessToken, nil
}

// Track fetches the latest position of a batch of devices
func (c *Client) Track(ctx context.Context, imeis []string, token string) (Records, error) {
	params := url.Values{}
	params.Set("imeis", strings.Join(imeis, ","))
	params.Set("access_token", token)

	body, err := executeRequest(ctx, c.http, c.baseURL+"/track?"+params.Encode())
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var resp TrackResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode track response: %w", err)
	}
	if resp.Code != 0 {
		return nil, fmt.Errorf("track request rejected with code %d: %s", resp.Code, resp.Message)
	}

	return resp.Record, nil
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
