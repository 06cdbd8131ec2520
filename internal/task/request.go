package task

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Round bounds.
const (
	FirstRound = 1
	LastRound  = 2
)

// ErrInvalidRequest is wrapped by every ValidationError.
var ErrInvalidRequest = errors.New("invalid request")

// Attachment is a named file reference supplied with a request. URL is either
// a remote URL or an inline data URI.
type Attachment struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// IsDataURI reports whether the attachment carries its content inline.
func (a Attachment) IsDataURI() bool {
	return strings.HasPrefix(strings.TrimSpace(a.URL), "data:")
}

// Request is one task invocation.
type Request struct {
	Email         string       `json:"email"`
	Task          string       `json:"task"`
	Round         int          `json:"round"`
	Nonce         string       `json:"nonce"`
	Brief         string       `json:"brief"`
	Checks        []string     `json:"checks"`
	EvaluationURL string       `json:"evaluation_url"`
	Attachments   []Attachment `json:"attachments,omitempty"`
	Secret        string       `json:"secret,omitempty"`
}

// Identity holds the correlation fields echoed back on every response. Fields
// are nil when they could not be parsed.
type Identity struct {
	Email *string `json:"email,omitempty"`
	Task  *string `json:"task,omitempty"`
	Round *int    `json:"round,omitempty"`
	Nonce *string `json:"nonce,omitempty"`
}

// IdentityOf returns the full identity of a decoded request.
func IdentityOf(r Request) Identity {
	return Identity{Email: &r.Email, Task: &r.Task, Round: &r.Round, Nonce: &r.Nonce}
}

// ValidationError describes a malformed or missing request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidRequest
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Decode parses a JSON request body. The returned Identity contains every
// identity field that parsed cleanly, even when decoding fails overall.
func Decode(body []byte) (Request, Identity, error) {
	var id Identity

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return Request{}, id, &ValidationError{Message: "request body must be a JSON object"}
	}

	id = partialIdentity(raw)

	var req Request
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&req); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return Request{}, id, invalid(typeErr.Field, "must be a %s", typeErr.Type)
		}
		return Request{}, id, &ValidationError{Message: "malformed request body"}
	}

	for _, field := range []string{"email", "task", "round", "nonce", "brief", "checks", "evaluation_url"} {
		if v, ok := raw[field]; !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			return req, id, invalid(field, "is required")
		}
	}

	return req, id, req.Validate()
}

func partialIdentity(raw map[string]json.RawMessage) Identity {
	var id Identity
	str := func(key string) *string {
		var s string
		if v, ok := raw[key]; ok && json.Unmarshal(v, &s) == nil {
			return &s
		}
		return nil
	}
	id.Email = str("email")
	id.Task = str("task")
	id.Nonce = str("nonce")
	var n int
	if v, ok := raw["round"]; ok && json.Unmarshal(v, &n) == nil {
		id.Round = &n
	}
	return id
}

// Validate checks field-level rules.
func (r Request) Validate() error {
	local, _, ok := strings.Cut(r.Email, "@")
	if !ok || strings.TrimSpace(local) == "" {
		return invalid("email", "must be an address with a local part")
	}
	if !hasAlnum(Sanitize(r.Task)) {
		return invalid("task", "must contain at least one letter or digit")
	}
	if r.Round < FirstRound || r.Round > LastRound {
		return invalid("round", "must be %d or %d, got %d", FirstRound, LastRound, r.Round)
	}
	if strings.TrimSpace(r.Nonce) == "" {
		return invalid("nonce", "must not be empty")
	}
	if r.Checks == nil {
		return invalid("checks", "must be an array")
	}
	u, err := url.Parse(r.EvaluationURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return invalid("evaluation_url", "must be an absolute http(s) URL")
	}
	for i, a := range r.Attachments {
		if strings.TrimSpace(a.Name) == "" {
			return invalid(fmt.Sprintf("attachments[%d].name", i), "must not be empty")
		}
	}
	if len(RepoName(r)) > MaxRepoNameLength {
		return invalid("task", "derived repository name exceeds %d characters", MaxRepoNameLength)
	}
	return nil
}

func hasAlnum(s string) bool {
	for _, c := range s {
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') {
			return true
		}
	}
	return false
}
