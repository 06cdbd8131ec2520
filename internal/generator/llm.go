package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/pagesmith/internal/logging"
	"github.com/fyrsmithlabs/pagesmith/internal/task"
)

const systemPrompt = `You are a senior front-end developer who builds small static web apps that are hosted on GitHub Pages.
Reply with a single JSON object and nothing else, shaped exactly like:
{"files":[{"name":"index.html","content":"..."}]}
File names are relative paths. Content is the complete file text.`

// ErrNoFiles is returned when a model reply contains no usable files.
var ErrNoFiles = errors.New("model reply contained no files")

// completeFunc sends one system+user exchange to a model and returns the text
// of the reply.
type completeFunc func(ctx context.Context, system, prompt string) (string, error)

// llmCapability is the shared prompt/parse pipeline behind every model backend.
type llmCapability struct {
	name     string
	complete completeFunc
	logger   *logging.Logger
}

func (c *llmCapability) Name() string { return c.name }

func (c *llmCapability) Generate(ctx context.Context, in Input) ([]task.File, error) {
	prompt, err := BuildPrompt(in)
	if err != nil {
		return nil, err
	}

	reply, err := c.complete(ctx, systemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("model call: %w", err)
	}
	c.logger.Debug(ctx, "model replied",
		zap.String("backend", c.name),
		zap.Int("prompt_bytes", len(prompt)),
		zap.Int("reply_bytes", len(reply)),
	)

	return ParseFiles(reply)
}

// BuildPrompt renders the user prompt for a model backend.
func BuildPrompt(in Input) (string, error) {
	out, err := renderText("prompt.tmpl", ViewFor(in))
	if err != nil {
		return "", err
	}
	return string(out), nil
}

type fileReply struct {
	Files []struct {
		Name    string `json:"name"`
		Content string `json:"content"`
	} `json:"files"`
}

// ParseFiles extracts files from a model reply. Markdown fences and prose
// around the JSON object are tolerated.
func ParseFiles(reply string) ([]task.File, error) {
	s := strings.TrimSpace(reply)
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("%w: no JSON object in reply", ErrNoFiles)
	}

	var parsed fileReply
	dec := json.NewDecoder(bytes.NewReader([]byte(s[start : end+1])))
	if err := dec.Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}

	files := make([]task.File, 0, len(parsed.Files))
	for _, f := range parsed.Files {
		files = append(files, task.TextFile(f.Name, f.Content))
	}
	files = task.CleanFiles(files)
	if len(files) == 0 {
		return nil, ErrNoFiles
	}
	return files, nil
}
