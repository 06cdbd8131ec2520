package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	gogithub "github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/pagesmith/internal/config"
	"github.com/fyrsmithlabs/pagesmith/internal/logging"
	"github.com/fyrsmithlabs/pagesmith/internal/task"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyExists  = errors.New("repository already exists")
	ErrAlreadyEnabled = errors.New("pages already enabled")
)

// Client is the set of hosting operations the workflow needs.
type Client interface {
	AuthenticatedUser(ctx context.Context) (string, error)
	CreateRepository(ctx context.Context, opts CreateRepositoryOptions) (task.Repository, error)
	GetRepository(ctx context.Context, owner, name string) (task.Repository, error)
	GetFile(ctx context.Context, repo task.Repository, path string) (*FileContent, error)
	PutFile(ctx context.Context, repo task.Repository, req PutFileRequest) (string, error)
	EnablePages(ctx context.Context, repo task.Repository, opts PagesOptions) error
	LatestCommit(ctx context.Context, repo task.Repository) (string, error)
}

// CreateRepositoryOptions describes a new repository.
type CreateRepositoryOptions struct {
	Name            string
	Description     string
	Private         bool
	AutoInit        bool
	LicenseTemplate string
}

// FileContent is a file as currently stored in a repository.
type FileContent struct {
	Path    string
	SHA     string
	Content []byte
}

// PutFileRequest writes one file. An empty SHA creates the file; a non-empty
// SHA updates the file whose current content has that SHA.
type PutFileRequest struct {
	Path    string
	Content []byte
	SHA     string
	Message string
}

// PagesOptions configures static hosting.
type PagesOptions struct {
	BuildType string
	Branch    string
	Path      string
}

// APIClient implements Client against the GitHub REST API.
type APIClient struct {
	gh      *gogithub.Client
	limiter *rate.Limiter
	retry   RetryConfig
	logger  *logging.Logger
	metrics *Metrics
}

var _ Client = (*APIClient)(nil)

// NewClient creates an authenticated API client.
func NewClient(ctx context.Context, cfg config.GitHubConfig, logger *logging.Logger) (*APIClient, error) {
	if !cfg.Token.IsSet() {
		return nil, fmt.Errorf("GitHub token not set")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token.Value()})
	gh := gogithub.NewClient(oauth2.NewClient(ctx, ts))

	if cfg.APIURL != "" {
		base, err := url.Parse(strings.TrimSuffix(cfg.APIURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("parse api url: %w", err)
		}
		gh.BaseURL = base
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}

	return &APIClient{
		gh:      gh,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		retry: RetryConfig{
			MaxAttempts:    cfg.RetryMaxAttempts,
			InitialBackoff: cfg.RetryInitial,
			MaxBackoff:     cfg.RetryMax,
		},
		logger:  logger.Named("github"),
		metrics: NewMetrics(),
	}, nil
}

// AuthenticatedUser returns the login of the token owner.
func (c *APIClient) AuthenticatedUser(ctx context.Context) (string, error) {
	user, err := call(ctx, c, "get_user", func() (*gogithub.User, *gogithub.Response, error) {
		return c.gh.Users.Get(ctx, "")
	})
	if err != nil {
		return "", fmt.Errorf("get authenticated user: %w", err)
	}
	if user.GetLogin() == "" {
		return "", errors.New("get authenticated user: empty login")
	}
	return user.GetLogin(), nil
}

// CreateRepository creates a repository owned by the authenticated user.
func (c *APIClient) CreateRepository(ctx context.Context, opts CreateRepositoryOptions) (task.Repository, error) {
	spec := &gogithub.Repository{
		Name:     gogithub.String(opts.Name),
		Private:  gogithub.Bool(opts.Private),
		AutoInit: gogithub.Bool(opts.AutoInit),
	}
	if opts.Description != "" {
		spec.Description = gogithub.String(opts.Description)
	}
	if opts.LicenseTemplate != "" {
		spec.LicenseTemplate = gogithub.String(opts.LicenseTemplate)
	}

	repo, err := call(ctx, c, "create_repository", func() (*gogithub.Repository, *gogithub.Response, error) {
		return c.gh.Repositories.Create(ctx, "", spec)
	})
	if err != nil {
		return task.Repository{}, fmt.Errorf("create repository %s: %w", opts.Name, err)
	}
	return toRepository(repo), nil
}

// GetRepository fetches repository metadata.
func (c *APIClient) GetRepository(ctx context.Context, owner, name string) (task.Repository, error) {
	repo, err := call(ctx, c, "get_repository", func() (*gogithub.Repository, *gogithub.Response, error) {
		return c.gh.Repositories.Get(ctx, owner, name)
	})
	if err != nil {
		return task.Repository{}, fmt.Errorf("get repository %s/%s: %w", owner, name, err)
	}
	return toRepository(repo), nil
}

// GetFile probes a file on the default branch. It returns ErrNotFound when the
// path does not exist.
func (c *APIClient) GetFile(ctx context.Context, repo task.Repository, path string) (*FileContent, error) {
	var opts *gogithub.RepositoryContentGetOptions
	if repo.DefaultBranch != "" {
		opts = &gogithub.RepositoryContentGetOptions{Ref: repo.DefaultBranch}
	}

	file, err := call(ctx, c, "get_contents", func() (*gogithub.RepositoryContent, *gogithub.Response, error) {
		f, _, resp, err := c.gh.Repositories.GetContents(ctx, repo.Owner, repo.Name, path, opts)
		return f, resp, err
	})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", path, err)
	}
	if file == nil {
		return nil, fmt.Errorf("get %s: path is a directory", path)
	}

	// Files over 1 MB come back with encoding "none" and no body; the blob
	// endpoint serves them by SHA.
	if file.GetEncoding() == "none" {
		raw, err := call(ctx, c, "get_blob", func() ([]byte, *gogithub.Response, error) {
			return c.gh.Git.GetBlobRaw(ctx, repo.Owner, repo.Name, file.GetSHA())
		})
		if err != nil {
			return nil, fmt.Errorf("get blob %s: %w", path, err)
		}
		return &FileContent{Path: file.GetPath(), SHA: file.GetSHA(), Content: raw}, nil
	}

	content, err := file.GetContent()
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &FileContent{Path: file.GetPath(), SHA: file.GetSHA(), Content: []byte(content)}, nil
}

// PutFile creates or updates a file and returns the resulting commit SHA.
func (c *APIClient) PutFile(ctx context.Context, repo task.Repository, req PutFileRequest) (string, error) {
	opts := &gogithub.RepositoryContentFileOptions{
		Message: gogithub.String(req.Message),
		Content: req.Content,
	}
	if repo.DefaultBranch != "" {
		opts.Branch = gogithub.String(repo.DefaultBranch)
	}

	operation := "create_file"
	if req.SHA != "" {
		operation = "update_file"
		opts.SHA = gogithub.String(req.SHA)
	}

	res, err := call(ctx, c, operation, func() (*gogithub.RepositoryContentResponse, *gogithub.Response, error) {
		if req.SHA != "" {
			return c.gh.Repositories.UpdateFile(ctx, repo.Owner, repo.Name, req.Path, opts)
		}
		return c.gh.Repositories.CreateFile(ctx, repo.Owner, repo.Name, req.Path, opts)
	})
	if err != nil {
		return "", fmt.Errorf("put %s: %w", req.Path, err)
	}
	return res.Commit.GetSHA(), nil
}

// EnablePages turns on static hosting. It returns ErrAlreadyEnabled when
// pages are already configured.
func (c *APIClient) EnablePages(ctx context.Context, repo task.Repository, opts PagesOptions) error {
	branch := opts.Branch
	if branch == "" {
		branch = repo.DefaultBranch
	}
	pages := &gogithub.Pages{
		Source: &gogithub.PagesSource{
			Branch: gogithub.String(branch),
			Path:   gogithub.String(opts.Path),
		},
	}
	if opts.BuildType != "" {
		pages.BuildType = gogithub.String(opts.BuildType)
	}

	_, err := call(ctx, c, "enable_pages", func() (*gogithub.Pages, *gogithub.Response, error) {
		return c.gh.Repositories.EnablePages(ctx, repo.Owner, repo.Name, pages)
	})
	if err != nil {
		return fmt.Errorf("enable pages: %w", err)
	}
	return nil
}

// LatestCommit returns the SHA at the tip of the default branch.
func (c *APIClient) LatestCommit(ctx context.Context, repo task.Repository) (string, error) {
	ref := repo.DefaultBranch
	if ref == "" {
		ref = "HEAD"
	}
	sha, err := call(ctx, c, "get_commit_sha", func() (string, *gogithub.Response, error) {
		return c.gh.Repositories.GetCommitSHA1(ctx, repo.Owner, repo.Name, ref, "")
	})
	if err != nil {
		return "", fmt.Errorf("latest commit on %s: %w", ref, err)
	}
	return strings.TrimSpace(sha), nil
}

func toRepository(r *gogithub.Repository) task.Repository {
	return task.Repository{
		Owner:         r.GetOwner().GetLogin(),
		Name:          r.GetName(),
		HTMLURL:       r.GetHTMLURL(),
		DefaultBranch: r.GetDefaultBranch(),
	}
}

// classify maps benign API responses to sentinel errors.
func classify(operation string, err error) error {
	var errResp *gogithub.ErrorResponse
	if !errors.As(err, &errResp) || errResp.Response == nil {
		return err
	}

	switch errResp.Response.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case http.StatusConflict:
		if operation == "enable_pages" {
			return fmt.Errorf("%w: %v", ErrAlreadyEnabled, err)
		}
	case http.StatusUnprocessableEntity:
		if operation == "create_repository" && mentionsExisting(errResp) {
			return fmt.Errorf("%w: %v", ErrAlreadyExists, err)
		}
	}
	return err
}

func mentionsExisting(errResp *gogithub.ErrorResponse) bool {
	if strings.Contains(strings.ToLower(errResp.Message), "already exists") {
		return true
	}
	for _, e := range errResp.Errors {
		if strings.Contains(strings.ToLower(e.Message), "already exists") {
			return true
		}
	}
	return false
}

func statusLabel(resp *gogithub.Response, err error) string {
	if resp != nil && resp.Response != nil {
		return fmt.Sprintf("%d", resp.StatusCode)
	}
	if err != nil {
		return "error"
	}
	return "ok"
}

// call runs one API operation through the limiter, the retry loop and the
// metrics, then classifies the final error.
func call[T any](ctx context.Context, c *APIClient, operation string, fn func() (T, *gogithub.Response, error)) (T, error) {
	attempt := func() (T, *gogithub.Response, error) {
		var zero T
		if err := c.limiter.Wait(ctx); err != nil {
			return zero, nil, fmt.Errorf("rate limiter: %w", err)
		}
		start := time.Now()
		v, resp, err := fn()
		c.metrics.observe(operation, statusLabel(resp, err), time.Since(start))
		return v, resp, err
	}

	v, err := retryOperation(ctx, c.retry, c.logger, operation, attempt)
	if err != nil {
		return v, classify(operation, err)
	}
	return v, nil
}
