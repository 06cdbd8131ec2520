package http

import (
	"github.com/fyrsmithlabs/pagesmith/internal/task"
	"github.com/fyrsmithlabs/pagesmith/internal/workflow"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// TaskResponse is the response body for a completed task.
type TaskResponse struct {
	Email     string `json:"email"`
	Task      string `json:"task"`
	Round     int    `json:"round"`
	Nonce     string `json:"nonce"`
	RepoURL   string `json:"repo_url"`
	CommitSHA string `json:"commit_sha"`
	PagesURL  string `json:"pages_url"`
	// Warning joins every soft failure. Omitted when there were none.
	Warning string `json:"warning,omitempty"`
}

// ErrorResponse is returned for rejected or failed tasks. Identity fields
// appear only when they were parsed before the failure.
type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	task.Identity
}

func newTaskResponse(req task.Request, res *workflow.Result) TaskResponse {
	return TaskResponse{
		Email:     req.Email,
		Task:      req.Task,
		Round:     req.Round,
		Nonce:     req.Nonce,
		RepoURL:   res.RepoURL,
		CommitSHA: res.CommitSHA,
		PagesURL:  res.PagesURL,
		Warning:   res.Warning(),
	}
}

func newErrorResponse(message string, id task.Identity) ErrorResponse {
	return ErrorResponse{Status: "error", Message: message, Identity: id}
}
