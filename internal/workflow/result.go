package workflow

import (
	"strings"

	"github.com/fyrsmithlabs/pagesmith/internal/task"
)

// UnknownCommit is reported when no commit SHA could be determined.
const UnknownCommit = "unknown"

// Result is the outcome of one invocation. On a fatal failure it holds
// whatever was known when the failure occurred.
type Result struct {
	InvocationID string
	Identity     task.Identity

	Repository task.Repository
	RepoURL    string
	PagesURL   string
	CommitSHA  string

	FilesWritten int
	Live         bool
	Notified     bool

	Warnings []Warning
}

// Warning joins every soft failure message, or returns "" when there were
// none.
func (r *Result) Warning() string {
	if r == nil || len(r.Warnings) == 0 {
		return ""
	}
	msgs := make([]string, 0, len(r.Warnings))
	for _, w := range r.Warnings {
		msgs = append(msgs, w.Message)
	}
	return strings.Join(msgs, "; ")
}

// HasWarning reports whether step produced a soft failure.
func (r *Result) HasWarning(step Step) bool {
	for _, w := range r.Warnings {
		if w.Step == step {
			return true
		}
	}
	return false
}
