// Package publisher creates or reuses the task repository and writes files
// into it.
package publisher

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/pagesmith/internal/config"
	"github.com/fyrsmithlabs/pagesmith/internal/github"
	"github.com/fyrsmithlabs/pagesmith/internal/logging"
	"github.com/fyrsmithlabs/pagesmith/internal/task"
)

// WriteMode is how a file was written.
type WriteMode string

const (
	ModeCreate    WriteMode = "create"
	ModeUpdate    WriteMode = "update"
	ModeUnchanged WriteMode = "unchanged"
)

// WriteResult describes one written file.
type WriteResult struct {
	Path      string
	Mode      WriteMode
	CommitSHA string
}

// Publisher owns all repository writes for one deployment.
type Publisher struct {
	client github.Client
	cfg    config.GitHubConfig
	logger *logging.Logger
}

// New creates a Publisher.
func New(client github.Client, cfg config.GitHubConfig, logger *logging.Logger) *Publisher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Publisher{client: client, cfg: cfg, logger: logger.Named("publisher")}
}

// Owner returns the login that owns created repositories.
func (p *Publisher) Owner(ctx context.Context) (string, error) {
	return p.client.AuthenticatedUser(ctx)
}

// EnsureRepository creates the named repository, or reuses it when it already
// exists.
func (p *Publisher) EnsureRepository(ctx context.Context, owner, name, description string) (task.Repository, error) {
	repo, err := p.client.CreateRepository(ctx, github.CreateRepositoryOptions{
		Name:            name,
		Description:     description,
		Private:         p.cfg.Private,
		AutoInit:        true,
		LicenseTemplate: p.cfg.LicenseTemplate,
	})
	if err == nil {
		p.logger.Info(ctx, "created repository", zap.String("repo", repo.FullName()))
		return p.withDefaults(repo, owner, name), nil
	}
	if !errors.Is(err, github.ErrAlreadyExists) {
		return task.Repository{}, err
	}

	p.logger.Info(ctx, "repository already exists, reusing", zap.String("repo", owner+"/"+name))
	existing, getErr := p.client.GetRepository(ctx, owner, name)
	if getErr != nil {
		p.logger.Warn(ctx, "could not load existing repository, using derived handle",
			zap.String("repo", owner+"/"+name), zap.Error(getErr))
		return p.withDefaults(task.Repository{}, owner, name), nil
	}
	return p.withDefaults(existing, owner, name), nil
}

func (p *Publisher) withDefaults(repo task.Repository, owner, name string) task.Repository {
	if repo.Owner == "" {
		repo.Owner = owner
	}
	if repo.Name == "" {
		repo.Name = name
	}
	if repo.HTMLURL == "" {
		repo.HTMLURL = fmt.Sprintf("https://github.com/%s/%s", repo.Owner, repo.Name)
	}
	if repo.DefaultBranch == "" {
		repo.DefaultBranch = p.cfg.DefaultBranch
	}
	return repo
}

// WriteFiles writes every file, probing each path first so existing files are
// updated with their current content token and new files are created. The
// first failure aborts the remaining writes; results for files already
// written are returned alongside the error.
func (p *Publisher) WriteFiles(ctx context.Context, repo task.Repository, files []task.File) ([]WriteResult, error) {
	results := make([]WriteResult, 0, len(files))
	for _, f := range files {
		res, err := p.writeFile(ctx, repo, f, false)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// WriteIfChanged writes a file only when its content differs from what is
// already published.
func (p *Publisher) WriteIfChanged(ctx context.Context, repo task.Repository, f task.File) (WriteResult, error) {
	return p.writeFile(ctx, repo, f, true)
}

func (p *Publisher) writeFile(ctx context.Context, repo task.Repository, f task.File, skipUnchanged bool) (WriteResult, error) {
	existing, err := p.client.GetFile(ctx, repo, f.Name)
	switch {
	case errors.Is(err, github.ErrNotFound):
		existing = nil
	case err != nil:
		return WriteResult{}, fmt.Errorf("probe %s: %w", f.Name, err)
	}

	if skipUnchanged && existing != nil && bytes.Equal(existing.Content, f.Content) {
		return WriteResult{Path: f.Name, Mode: ModeUnchanged}, nil
	}

	req := github.PutFileRequest{Path: f.Name, Content: f.Content, Message: "Create " + f.Name}
	mode := ModeCreate
	if existing != nil {
		req.SHA = existing.SHA
		req.Message = "Update " + f.Name
		mode = ModeUpdate
	}

	sha, err := p.client.PutFile(ctx, repo, req)
	if err != nil {
		return WriteResult{}, fmt.Errorf("write %s: %w", f.Name, err)
	}

	p.logger.Debug(ctx, "wrote file",
		zap.String("path", f.Name),
		zap.String("mode", string(mode)),
		zap.Int("bytes", len(f.Content)),
		zap.String("commit", sha),
	)
	return WriteResult{Path: f.Name, Mode: mode, CommitSHA: sha}, nil
}

// ReadFile fetches the current content of a file.
func (p *Publisher) ReadFile(ctx context.Context, repo task.Repository, path string) ([]byte, error) {
	f, err := p.client.GetFile(ctx, repo, path)
	if err != nil {
		return nil, err
	}
	return f.Content, nil
}

// LatestCommit returns the tip of the default branch.
func (p *Publisher) LatestCommit(ctx context.Context, repo task.Repository) (string, error) {
	return p.client.LatestCommit(ctx, repo)
}

// LastCommit returns the most recent commit SHA among results, or "".
func LastCommit(results []WriteResult) string {
	for i := len(results) - 1; i >= 0; i-- {
		if results[i].CommitSHA != "" {
			return results[i].CommitSHA
		}
	}
	return ""
}
