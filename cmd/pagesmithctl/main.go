// Package main implements pagesmithctl, a CLI for sending tasks to a
// pagesmith server.
package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/pagesmith/internal/task"
)

var (
	// serverURL is the base URL for the pagesmith server
	serverURL string
	// version information
	version = "dev"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "pagesmithctl",
		Short: "CLI for pagesmith server operations",
		Long: `pagesmithctl is a command-line interface for the pagesmith server.
It sends task requests and checks server health.`,
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8000", "pagesmith server URL")
	root.AddCommand(newSendCmd())
	root.AddCommand(newHealthCmd())
	return root
}

// sendOptions are the flags of the send command.
type sendOptions struct {
	request       string
	email         string
	task          string
	round         int
	nonce         string
	brief         string
	checks        []string
	evaluationURL string
	attachments   []string
	secret        string
	timeout       time.Duration
}

func newSendCmd() *cobra.Command {
	opts := &sendOptions{}
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a task request",
		Long: `Send a task request and print the JSON response.

Attachments are read from disk and sent inline as data URIs. With --secret
the request goes to the authenticated route, otherwise to the open one.

Examples:
  # Send a task built from flags
  pagesmithctl send --email me@example.com --task calc --nonce abc123 \
    --brief "Build a calculator" --check "has #result" \
    --evaluation-url https://eval.example.com/notify --attach logo.png

  # Send a request file, overriding the round
  pagesmithctl send --request task.json --round 2 --secret $TASK_SECRET`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := buildRequest(cmd, opts)
			if err != nil {
				return err
			}
			return runSend(cmd, req, opts.timeout)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.request, "request", "", "JSON request file to start from")
	f.StringVar(&opts.email, "email", "", "requester email")
	f.StringVar(&opts.task, "task", "", "task id")
	f.IntVar(&opts.round, "round", task.FirstRound, "round (1 or 2)")
	f.StringVar(&opts.nonce, "nonce", "", "request nonce")
	f.StringVar(&opts.brief, "brief", "", "what to build")
	f.StringArrayVar(&opts.checks, "check", nil, "evaluation check (repeatable)")
	f.StringVar(&opts.evaluationURL, "evaluation-url", "", "URL notified when the site is published")
	f.StringArrayVar(&opts.attachments, "attach", nil, "file to attach (repeatable)")
	f.StringVar(&opts.secret, "secret", "", "shared secret for the authenticated route")
	f.DurationVar(&opts.timeout, "timeout", 15*time.Minute, "request timeout")
	return cmd
}

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check pagesmith server health",
		Long: `Check the health status of the pagesmith server.

Examples:
  pagesmithctl health
  pagesmithctl health --server http://localhost:8080`,
		RunE: runHealth,
	}
}

// buildRequest merges an optional request file with explicitly set flags.
func buildRequest(cmd *cobra.Command, opts *sendOptions) (task.Request, error) {
	var req task.Request
	if opts.request != "" {
		data, err := os.ReadFile(opts.request)
		if err != nil {
			return req, fmt.Errorf("failed to read request file %s: %w", opts.request, err)
		}
		if err := json.Unmarshal(data, &req); err != nil {
			return req, fmt.Errorf("failed to parse request file %s: %w", opts.request, err)
		}
	}

	flags := cmd.Flags()
	set := func(name string, apply func()) {
		if opts.request == "" || flags.Changed(name) {
			apply()
		}
	}
	set("email", func() { req.Email = opts.email })
	set("task", func() { req.Task = opts.task })
	set("round", func() { req.Round = opts.round })
	set("nonce", func() { req.Nonce = opts.nonce })
	set("brief", func() { req.Brief = opts.brief })
	set("check", func() { req.Checks = opts.checks })
	set("evaluation-url", func() { req.EvaluationURL = opts.evaluationURL })
	if flags.Changed("secret") {
		req.Secret = opts.secret
	}
	if req.Checks == nil {
		req.Checks = []string{}
	}

	for _, path := range opts.attachments {
		a, err := attachmentFromFile(path)
		if err != nil {
			return req, err
		}
		req.Attachments = append(req.Attachments, a)
	}
	return req, nil
}

// attachmentFromFile reads path into a base64 data URI attachment.
func attachmentFromFile(path string) (task.Attachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return task.Attachment{}, fmt.Errorf("failed to read attachment %s: %w", path, err)
	}
	mediaType := mime.TypeByExtension(filepath.Ext(path))
	if mediaType == "" {
		mediaType = http.DetectContentType(data)
	}
	mediaType, _, _ = strings.Cut(mediaType, ";")
	return task.Attachment{
		Name: filepath.Base(path),
		URL:  fmt.Sprintf("data:%s;base64,%s", mediaType, base64.StdEncoding.EncodeToString(data)),
	}, nil
}

func runSend(cmd *cobra.Command, req task.Request, timeout time.Duration) error {
	path := "/api-endpoint"
	if req.Secret != "" {
		path = "/handle_task"
	}

	reqJSON, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := serverURL + path
	httpReq, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, url, bytes.NewReader(reqJSON))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var out bytes.Buffer
	if json.Indent(&out, body, "", "  ") != nil {
		out.Reset()
		out.Write(body)
	}
	fmt.Fprintln(cmd.OutOrStdout(), out.String())

	if id := resp.Header.Get("X-Invocation-ID"); id != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "[pagesmithctl] invocation %s\n", id)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}
	return nil
}

// HealthResponse matches internal/http HealthResponse
type HealthResponse struct {
	Status string `json:"status"`
}

func runHealth(cmd *cobra.Command, _ []string) error {
	url := fmt.Sprintf("%s/health", serverURL)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
		}
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	var healthResp HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&healthResp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Server Status: %s\n", healthResp.Status)
	fmt.Fprintf(cmd.OutOrStdout(), "Server URL: %s\n", serverURL)
	return nil
}
