package github

import (
	"context"
	"fmt"
	"sync"

	"github.com/fyrsmithlabs/pagesmith/internal/task"
)

// FakeClient is an in-memory Client for tests. Set an entry in Errors to make
// the named operation fail, or PutHook to fail individual writes.
type FakeClient struct {
	mu sync.Mutex

	Login   string
	Errors  map[string]error
	PutHook func(req PutFileRequest) error

	repos  map[string]task.Repository
	files  map[string]map[string]*FileContent
	pages  map[string]bool
	commit int

	Puts        []PutFileRequest
	PagesCalls  int
	CreateCalls int
}

var _ Client = (*FakeClient)(nil)

// NewFakeClient creates an empty fake owned by login.
func NewFakeClient(login string) *FakeClient {
	return &FakeClient{
		Login:  login,
		Errors: make(map[string]error),
		repos:  make(map[string]task.Repository),
		files:  make(map[string]map[string]*FileContent),
		pages:  make(map[string]bool),
	}
}

// SeedFile stores a file as if it had been committed earlier, creating the
// repository when needed.
func (f *FakeClient) SeedFile(repoName, path, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensureRepo(repoName)
	f.commit++
	f.files[repoName][path] = &FileContent{Path: path, SHA: fmt.Sprintf("blob-%d", f.commit), Content: []byte(content)}
}

// File returns the stored content of path, if any.
func (f *FakeClient) File(repoName, path string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fc, ok := f.files[repoName][path]
	if !ok {
		return "", false
	}
	return string(fc.Content), true
}

// PagesEnabled reports whether EnablePages succeeded for the repository.
func (f *FakeClient) PagesEnabled(repoName string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pages[repoName]
}

func (f *FakeClient) ensureRepo(name string) task.Repository {
	if r, ok := f.repos[name]; ok {
		return r
	}
	r := task.Repository{
		Owner:         f.Login,
		Name:          name,
		HTMLURL:       fmt.Sprintf("https://github.com/%s/%s", f.Login, name),
		DefaultBranch: "main",
	}
	f.repos[name] = r
	f.files[name] = make(map[string]*FileContent)
	return r
}

func (f *FakeClient) fail(op string) error {
	return f.Errors[op]
}

func (f *FakeClient) AuthenticatedUser(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("get_user"); err != nil {
		return "", err
	}
	return f.Login, nil
}

func (f *FakeClient) CreateRepository(_ context.Context, opts CreateRepositoryOptions) (task.Repository, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CreateCalls++
	if err := f.fail("create_repository"); err != nil {
		return task.Repository{}, err
	}
	if _, ok := f.repos[opts.Name]; ok {
		return task.Repository{}, fmt.Errorf("create repository %s: %w", opts.Name, ErrAlreadyExists)
	}
	r := f.ensureRepo(opts.Name)
	if opts.LicenseTemplate != "" {
		f.commit++
		f.files[opts.Name]["LICENSE"] = &FileContent{Path: "LICENSE", SHA: fmt.Sprintf("blob-%d", f.commit), Content: []byte("MIT License\n")}
	}
	return r, nil
}

func (f *FakeClient) GetRepository(_ context.Context, owner, name string) (task.Repository, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("get_repository"); err != nil {
		return task.Repository{}, err
	}
	r, ok := f.repos[name]
	if !ok || r.Owner != owner {
		return task.Repository{}, fmt.Errorf("get repository %s/%s: %w", owner, name, ErrNotFound)
	}
	return r, nil
}

func (f *FakeClient) GetFile(_ context.Context, repo task.Repository, path string) (*FileContent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("get_contents"); err != nil {
		return nil, err
	}
	fc, ok := f.files[repo.Name][path]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", path, ErrNotFound)
	}
	cp := *fc
	return &cp, nil
}

func (f *FakeClient) PutFile(_ context.Context, repo task.Repository, req PutFileRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Puts = append(f.Puts, req)
	if err := f.fail("put_file"); err != nil {
		return "", err
	}
	if err := f.fail("put_file:" + req.Path); err != nil {
		return "", err
	}
	if f.PutHook != nil {
		if err := f.PutHook(req); err != nil {
			return "", err
		}
	}

	files, ok := f.files[repo.Name]
	if !ok {
		return "", fmt.Errorf("put %s: %w", req.Path, ErrNotFound)
	}
	existing, exists := files[req.Path]
	switch {
	case exists && existing.SHA != req.SHA:
		return "", fmt.Errorf("put %s: sha mismatch (have %q, got %q)", req.Path, existing.SHA, req.SHA)
	case !exists && req.SHA != "":
		return "", fmt.Errorf("put %s: %w", req.Path, ErrNotFound)
	}

	f.commit++
	files[req.Path] = &FileContent{Path: req.Path, SHA: fmt.Sprintf("blob-%d", f.commit), Content: append([]byte(nil), req.Content...)}
	return fmt.Sprintf("commit-%d", f.commit), nil
}

func (f *FakeClient) EnablePages(_ context.Context, repo task.Repository, _ PagesOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.PagesCalls++
	if err := f.fail("enable_pages"); err != nil {
		return err
	}
	if f.pages[repo.Name] {
		return fmt.Errorf("enable pages: %w", ErrAlreadyEnabled)
	}
	f.pages[repo.Name] = true
	return nil
}

func (f *FakeClient) LatestCommit(_ context.Context, repo task.Repository) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("get_commit_sha"); err != nil {
		return "", err
	}
	if _, ok := f.repos[repo.Name]; !ok {
		return "", fmt.Errorf("latest commit: %w", ErrNotFound)
	}
	return fmt.Sprintf("commit-%d", f.commit), nil
}
