package secrets

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/zricethezav/gitleaks/v8/detect"

	"github.com/fyrsmithlabs/pagesmith/internal/task"
)

// RedactionString replaces every detected secret.
const RedactionString = "[REDACTED]"

// Finding is one detected secret. The secret itself is never retained.
type Finding struct {
	File        string
	RuleID      string
	Description string
	Line        int
}

// Scanner detects and redacts secrets. The zero value is not usable; a nil
// *Scanner is a valid disabled scanner.
type Scanner struct {
	mu       sync.Mutex
	detector *detect.Detector
}

// NewScanner loads the default gitleaks configuration.
func NewScanner() (*Scanner, error) {
	d, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("load gitleaks config: %w", err)
	}
	return &Scanner{detector: d}, nil
}

// Enabled reports whether the scanner performs any detection.
func (s *Scanner) Enabled() bool {
	return s != nil && s.detector != nil
}

// RedactString replaces secrets in s and returns the findings.
func (s *Scanner) RedactString(content string) (string, []Finding) {
	if !s.Enabled() || content == "" {
		return content, nil
	}

	s.mu.Lock()
	found := s.detector.DetectString(content)
	s.mu.Unlock()

	if len(found) == 0 {
		return content, nil
	}

	findings := make([]Finding, 0, len(found))
	secrets := make([]string, 0, len(found))
	for _, f := range found {
		findings = append(findings, Finding{RuleID: f.RuleID, Description: f.Description, Line: f.StartLine})
		if f.Secret != "" {
			secrets = append(secrets, f.Secret)
		}
	}

	// Longest first so a secret containing another is replaced whole.
	sort.Slice(secrets, func(i, j int) bool { return len(secrets[i]) > len(secrets[j]) })
	for _, secret := range secrets {
		content = strings.ReplaceAll(content, secret, RedactionString)
	}
	return content, findings
}

// RedactFiles returns a copy of files with secrets in text content replaced.
// Binary files pass through unchanged.
func (s *Scanner) RedactFiles(files []task.File) ([]task.File, []Finding) {
	if !s.Enabled() {
		return files, nil
	}

	out := make([]task.File, len(files))
	var findings []Finding
	for i, f := range files {
		out[i] = f
		if !f.IsText() {
			continue
		}
		redacted, found := s.RedactString(string(f.Content))
		if len(found) == 0 {
			continue
		}
		for j := range found {
			found[j].File = f.Name
		}
		findings = append(findings, found...)
		out[i].Content = []byte(redacted)
	}
	return out, findings
}

// Summary renders findings as "file:line rule" for logs and warnings.
func Summary(findings []Finding) string {
	parts := make([]string, 0, len(findings))
	for _, f := range findings {
		parts = append(parts, fmt.Sprintf("%s:%d %s", f.File, f.Line, f.RuleID))
	}
	return strings.Join(parts, ", ")
}
