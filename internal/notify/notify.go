// Package notify reports a finished task to the evaluation webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/pagesmith/internal/config"
	"github.com/fyrsmithlabs/pagesmith/internal/logging"
)

const instrumentationName = "github.com/fyrsmithlabs/pagesmith/internal/notify"

// Payload is the fixed completion document posted to the evaluation URL.
type Payload struct {
	Email     string `json:"email"`
	Task      string `json:"task"`
	Round     int    `json:"round"`
	Nonce     string `json:"nonce"`
	RepoURL   string `json:"repo_url"`
	CommitSHA string `json:"commit_sha"`
	PagesURL  string `json:"pages_url"`
}

// StatusError is a non-200 response from the evaluation endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("evaluation endpoint returned %d", e.StatusCode)
	}
	return fmt.Sprintf("evaluation endpoint returned %d: %s", e.StatusCode, e.Body)
}

// Notifier posts payloads with bounded exponential backoff: after attempt n
// fails it waits InitialBackoff * 2^(n-1) before retrying.
type Notifier struct {
	client         *http.Client
	maxAttempts    int
	initialBackoff time.Duration
	requestTimeout time.Duration
	logger         *logging.Logger
	attempts       metric.Int64Counter
}

// NewNotifier creates a Notifier. Nil client, logger or meter fall back to
// defaults.
func NewNotifier(client *http.Client, cfg config.NotifyConfig, logger *logging.Logger, meter metric.Meter) (*Notifier, error) {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}

	attempts, err := meter.Int64Counter(
		"pagesmith.notify.attempts",
		metric.WithDescription("Evaluation notification attempts by outcome"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create notify attempts counter: %w", err)
	}

	n := &Notifier{
		client:         client,
		maxAttempts:    cfg.MaxAttempts,
		initialBackoff: cfg.InitialBackoff,
		requestTimeout: cfg.RequestTimeout,
		logger:         logger.Named("notify"),
		attempts:       attempts,
	}
	if n.maxAttempts <= 0 {
		n.maxAttempts = 5
	}
	if n.initialBackoff <= 0 {
		n.initialBackoff = time.Second
	}
	if n.requestTimeout <= 0 {
		n.requestTimeout = 30 * time.Second
	}
	return n, nil
}

// BackOff returns the wait policy between attempts.
func (n *Notifier) BackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = n.initialBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = n.initialBackoff << uint(n.maxAttempts)
	b.Reset()
	return b
}

// Notify posts payload to url until it gets HTTP 200 or attempts run out.
func (n *Notifier) Notify(ctx context.Context, url string, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	attempt := 0
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := n.post(ctx, url, body)
		outcome := "success"
		if err != nil {
			outcome = "failure"
		}
		n.attempts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
		return struct{}{}, err
	},
		backoff.WithBackOff(n.BackOff()),
		backoff.WithMaxTries(uint(n.maxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			n.logger.Warn(ctx, "evaluation notification failed, retrying",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", n.maxAttempts),
				zap.Duration("backoff", wait),
				zap.Error(err),
			)
		}),
	)
	if err != nil {
		n.logger.Error(ctx, "evaluation notification failed",
			zap.String("url", url),
			zap.Int("attempts", attempt),
			zap.Error(err),
		)
		return fmt.Errorf("notify %s after %d attempts: %w", url, attempt, err)
	}

	n.logger.Info(ctx, "evaluation notified", zap.String("url", url), zap.Int("attempts", attempt))
	return nil
}

func (n *Notifier) post(ctx context.Context, url string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, n.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(snippet))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
