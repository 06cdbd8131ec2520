// Package pages activates static hosting on a repository and waits for the
// published site to come up.
package pages

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/pagesmith/internal/config"
	"github.com/fyrsmithlabs/pagesmith/internal/github"
	"github.com/fyrsmithlabs/pagesmith/internal/logging"
	"github.com/fyrsmithlabs/pagesmith/internal/task"
)

// Activator enables pages hosting.
type Activator struct {
	client github.Client
	opts   github.PagesOptions
	logger *logging.Logger
}

// NewActivator creates an Activator using the configured build settings.
func NewActivator(client github.Client, cfg config.PagesConfig, logger *logging.Logger) *Activator {
	if logger == nil {
		logger = logging.NewNop()
	}
	path := cfg.Path
	if path == "" {
		path = "/"
	}
	return &Activator{
		client: client,
		opts:   github.PagesOptions{BuildType: cfg.BuildType, Path: path},
		logger: logger.Named("pages"),
	}
}

// Enable turns on hosting from the repository's default branch. Pages that
// are already enabled count as success.
func (a *Activator) Enable(ctx context.Context, repo task.Repository) error {
	opts := a.opts
	opts.Branch = repo.DefaultBranch

	err := a.client.EnablePages(ctx, repo, opts)
	if errors.Is(err, github.ErrAlreadyEnabled) {
		a.logger.Debug(ctx, "pages already enabled", zap.String("repo", repo.FullName()))
		return nil
	}
	return err
}

// Poller waits for a URL to serve HTTP 200.
type Poller struct {
	client         *http.Client
	interval       time.Duration
	timeout        time.Duration
	requestTimeout time.Duration
	logger         *logging.Logger
}

// NewPoller creates a Poller. A nil client uses http.DefaultClient.
func NewPoller(client *http.Client, cfg config.PagesConfig, logger *logging.Logger) *Poller {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	p := &Poller{
		client:         client,
		interval:       cfg.PollInterval,
		timeout:        cfg.PollTimeout,
		requestTimeout: cfg.RequestTimeout,
		logger:         logger.Named("pages"),
	}
	if p.interval <= 0 {
		p.interval = 5 * time.Second
	}
	if p.timeout <= 0 {
		p.timeout = 300 * time.Second
	}
	if p.requestTimeout <= 0 {
		p.requestTimeout = 10 * time.Second
	}
	return p
}

// WaitUntilLive probes url immediately and then every interval until it
// returns 200 or the timeout elapses. Probe errors count as not live.
// It returns the liveness flag and the number of probes issued.
func (p *Poller) WaitUntilLive(ctx context.Context, url string) (bool, int) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	attempts := 0
	for {
		attempts++
		if p.probe(ctx, url) {
			p.logger.Info(ctx, "pages site is live", zap.String("url", url), zap.Int("attempts", attempts))
			return true, attempts
		}

		select {
		case <-ctx.Done():
			p.logger.Warn(ctx, "timed out waiting for pages site",
				zap.String("url", url),
				zap.Int("attempts", attempts),
				zap.Duration("timeout", p.timeout),
			)
			return false, attempts
		case <-ticker.C:
		}
	}
}

func (p *Poller) probe(ctx context.Context, url string) bool {
	ctx, cancel := context.WithTimeout(ctx, p.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		p.logger.Debug(ctx, "invalid pages url", zap.String("url", url), zap.Error(err))
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Debug(ctx, "pages probe failed", zap.String("url", url), zap.Error(err))
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
