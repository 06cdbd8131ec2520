package workflow

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/pagesmith/internal/config"
	"github.com/fyrsmithlabs/pagesmith/internal/generator"
	"github.com/fyrsmithlabs/pagesmith/internal/github"
	"github.com/fyrsmithlabs/pagesmith/internal/logging"
	"github.com/fyrsmithlabs/pagesmith/internal/notify"
	"github.com/fyrsmithlabs/pagesmith/internal/pages"
	"github.com/fyrsmithlabs/pagesmith/internal/publisher"
	"github.com/fyrsmithlabs/pagesmith/internal/secrets"
	"github.com/fyrsmithlabs/pagesmith/internal/task"
	"github.com/fyrsmithlabs/pagesmith/internal/telemetry"
)

const testRepoName = "calc-1-a-n1234"

func testRequest(round int) task.Request {
	return task.Request{
		Email:         "a@example.com",
		Task:          "calc-1",
		Round:         round,
		Nonce:         "n1234-5678",
		Brief:         "Build a calculator that adds two numbers",
		Checks:        []string{"page has #result"},
		EvaluationURL: "https://eval.example.com/notify",
		Attachments: []task.Attachment{
			{Name: "sample.txt", URL: "data:text/plain;base64,aGVsbG8="},
		},
	}
}

type stubCapability struct {
	mu    sync.Mutex
	files []task.File
	err   error
	got   generator.Input
}

func (s *stubCapability) Name() string { return "stub" }

func (s *stubCapability) Generate(_ context.Context, in generator.Input) ([]task.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = in
	return s.files, s.err
}

type failingReader struct{}

func (failingReader) ReadFile(context.Context, task.Repository, string) ([]byte, error) {
	return nil, errors.New("contents API unavailable")
}

type stubPoller struct {
	live bool
	urls []string
}

func (p *stubPoller) WaitUntilLive(_ context.Context, url string) (bool, int) {
	p.urls = append(p.urls, url)
	if p.live {
		return true, 1
	}
	return false, 60
}

type stubNotifier struct {
	err      error
	url      string
	payloads []notify.Payload
}

func (n *stubNotifier) Notify(_ context.Context, url string, payload notify.Payload) error {
	n.url = url
	n.payloads = append(n.payloads, payload)
	return n.err
}

type harness struct {
	fake      *github.FakeClient
	cap       *stubCapability
	poller    *stubPoller
	notifier  *stubNotifier
	logs      *logging.TestLogger
	telemetry *telemetry.TestTelemetry
	reader    generator.PriorReader
	scanner   *secrets.Scanner
}

func newHarness() *harness {
	return &harness{
		fake: github.NewFakeClient("octocat"),
		cap: &stubCapability{files: []task.File{
			task.TextFile("index.html", "<!doctype html><h1>Calculator</h1>"),
		}},
		poller:    &stubPoller{live: true},
		notifier:  &stubNotifier{},
		logs:      logging.NewTestLogger(),
		telemetry: telemetry.NewTestTelemetry(),
	}
}

func (h *harness) runner(t *testing.T) *Runner {
	t.Helper()
	logger := h.logs.Logger
	pub := publisher.New(h.fake, config.GitHubConfig{DefaultBranch: "main", LicenseTemplate: "mit"}, logger)
	reader := h.reader
	if reader == nil {
		reader = pub
	}
	r, err := NewRunner(Deps{
		Publisher: pub,
		Generator: generator.NewAdapter(h.cap, reader, config.GeneratorConfig{}, logger),
		Scanner:   h.scanner,
		Activator: pages.NewActivator(h.fake, config.PagesConfig{BuildType: "legacy", Path: "/"}, logger),
		Poller:    h.poller,
		Notifier:  h.notifier,
		Logger:    logger,
		Tracer:    h.telemetry.Tracer("test"),
		Meter:     h.telemetry.Meter("test"),
	})
	require.NoError(t, err)
	return r
}

func TestNewRunner_RequiresDeps(t *testing.T) {
	_, err := NewRunner(Deps{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publisher")
}

func TestRun_FirstRound(t *testing.T) {
	h := newHarness()
	res, err := h.runner(t).Run(context.Background(), testRequest(1))
	require.NoError(t, err)

	assert.NotEmpty(t, res.InvocationID)
	assert.Equal(t, "octocat", res.Repository.Owner)
	assert.Equal(t, testRepoName, res.Repository.Name)
	assert.Equal(t, "https://github.com/octocat/"+testRepoName, res.RepoURL)
	assert.Equal(t, "https://octocat.github.io/"+testRepoName+"/", res.PagesURL)
	assert.True(t, res.Live)
	assert.True(t, res.Notified)
	assert.Empty(t, res.Warnings)
	assert.Empty(t, res.Warning())

	// index.html, README.md, LICENSE and the decoded attachment.
	assert.Equal(t, 4, res.FilesWritten)
	for _, path := range []string{"index.html", "README.md", "LICENSE", "sample.txt"} {
		_, ok := h.fake.File(testRepoName, path)
		assert.True(t, ok, path)
	}
	sample, _ := h.fake.File(testRepoName, "sample.txt")
	assert.Equal(t, "hello", sample)

	assert.True(t, h.fake.PagesEnabled(testRepoName))
	assert.Equal(t, []string{res.PagesURL}, h.poller.urls)

	require.Len(t, h.notifier.payloads, 1)
	assert.Equal(t, "https://eval.example.com/notify", h.notifier.url)
	assert.Equal(t, notify.Payload{
		Email:     "a@example.com",
		Task:      "calc-1",
		Round:     1,
		Nonce:     "n1234-5678",
		RepoURL:   res.RepoURL,
		CommitSHA: res.CommitSHA,
		PagesURL:  res.PagesURL,
	}, h.notifier.payloads[0])
	assert.True(t, strings.HasPrefix(res.CommitSHA, "commit-"))

	assert.Empty(t, h.cap.got.ExistingCode)

	h.telemetry.AssertSpanExists(t, "workflow.run")
	h.telemetry.AssertSpanAttribute(t, "workflow.run", "outcome", "success")
	h.telemetry.AssertSpanExists(t, "workflow.file_publish")
	assert.Nil(t, h.telemetry.SpanByName("workflow.fetching_existing_code"))
	assert.Equal(t, int64(1), h.telemetry.CounterTotal(t, "pagesmith.workflow.steps",
		attribute.String("step", "pages_polling"), attribute.String("outcome", "ok")))
	h.logs.AssertLogged(t, zapcore.InfoLevel, "task complete")
}

func TestRun_SecondRoundUsesPublishedCode(t *testing.T) {
	h := newHarness()
	h.fake.SeedFile(testRepoName, "index.html", "<h1>round one</h1>")

	res, err := h.runner(t).Run(context.Background(), testRequest(2))
	require.NoError(t, err)

	assert.Equal(t, "<h1>round one</h1>", h.cap.got.ExistingCode)
	assert.Equal(t, 2, h.cap.got.Round)
	content, _ := h.fake.File(testRepoName, "index.html")
	assert.Contains(t, content, "Calculator")
	assert.Equal(t, 2, h.notifier.payloads[0].Round)
	assert.Empty(t, res.Warnings)
	h.telemetry.AssertSpanExists(t, "workflow.fetching_existing_code")
}

func TestRun_SecondRoundFetchFailureContinues(t *testing.T) {
	h := newHarness()
	h.reader = failingReader{}

	res, err := h.runner(t).Run(context.Background(), testRequest(2))
	require.NoError(t, err)

	assert.Empty(t, h.cap.got.ExistingCode)
	assert.True(t, res.HasWarning(StepFetchExisting))
	assert.Contains(t, res.Warning(), "fetching existing code")
	assert.True(t, res.Notified)
}

func TestRun_RerunIsIdempotent(t *testing.T) {
	h := newHarness()
	r := h.runner(t)

	first, err := r.Run(context.Background(), testRequest(1))
	require.NoError(t, err)
	second, err := r.Run(context.Background(), testRequest(1))
	require.NoError(t, err)

	assert.Equal(t, first.RepoURL, second.RepoURL)
	assert.NotEqual(t, first.InvocationID, second.InvocationID)
	assert.Empty(t, second.Warnings)
	assert.Equal(t, 2, h.fake.CreateCalls)
}

func TestRun_ReadmeRefreshed(t *testing.T) {
	h := newHarness()
	h.cap.files = append(h.cap.files, task.TextFile("README.md", "stale"))

	_, err := h.runner(t).Run(context.Background(), testRequest(1))
	require.NoError(t, err)

	readme, ok := h.fake.File(testRepoName, "README.md")
	require.True(t, ok)
	assert.NotEqual(t, "stale", readme)
	assert.Contains(t, readme, "Build a calculator")
}

func TestRun_RedactsSecrets(t *testing.T) {
	scanner, err := secrets.NewScanner()
	require.NoError(t, err)

	token := "ghp_" + strings.Repeat("A1b2C3d4E5", 3) + "f6G7h8"
	h := newHarness()
	h.scanner = scanner
	h.cap.files = []task.File{task.TextFile("index.html", "<script>const t = \""+token+"\";</script>")}

	_, err = h.runner(t).Run(context.Background(), testRequest(1))
	require.NoError(t, err)

	content, _ := h.fake.File(testRepoName, "index.html")
	assert.NotContains(t, content, token)
	assert.Contains(t, content, secrets.RedactionString)
	h.logs.AssertLogged(t, zapcore.WarnLevel, "redacted secrets")
}

func TestRun_RedactsGeneratedFilesOnly(t *testing.T) {
	scanner, err := secrets.NewScanner()
	require.NoError(t, err)

	token := "ghp_" + strings.Repeat("A1b2C3d4E5", 3) + "f6G7h8"
	h := newHarness()
	h.scanner = scanner
	req := testRequest(1)
	req.Attachments = []task.Attachment{{
		Name: "fixture.txt",
		URL:  "data:text/plain;base64," + base64.StdEncoding.EncodeToString([]byte("token="+token)),
	}}

	_, err = h.runner(t).Run(context.Background(), req)
	require.NoError(t, err)

	content, ok := h.fake.File(testRepoName, "fixture.txt")
	require.True(t, ok)
	assert.Equal(t, "token="+token, content)
}

func TestRun_GeneratedFileShadowsAttachment(t *testing.T) {
	h := newHarness()
	req := testRequest(1)
	req.Attachments = []task.Attachment{{Name: "index.html", URL: "data:text/html;base64,PHA+YXR0YWNoZWQ8L3A+"}}

	_, err := h.runner(t).Run(context.Background(), req)
	require.NoError(t, err)

	content, _ := h.fake.File(testRepoName, "index.html")
	assert.Equal(t, "<!doctype html><h1>Calculator</h1>", content)
	h.logs.AssertLogged(t, zapcore.WarnLevel, "attachments shadowed by generated files")
}

func TestRun_FatalFailures(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(h *harness)
		req     func() task.Request
		step    Step
		message string
	}{
		{
			name:    "invalid request",
			req:     func() task.Request { r := testRequest(1); r.Nonce = " "; return r },
			step:    StepValidation,
			message: "Failed at step 'validation'",
		},
		{
			name:    "owner lookup fails",
			setup:   func(h *harness) { h.fake.Errors["get_user"] = errors.New("bad credentials") },
			step:    StepRepositoryCreation,
			message: "Failed at step 'repository creation': bad credentials",
		},
		{
			name:    "create fails",
			setup:   func(h *harness) { h.fake.Errors["create_repository"] = errors.New("quota exceeded") },
			step:    StepRepositoryCreation,
			message: "quota exceeded",
		},
		{
			name:    "generation fails",
			setup:   func(h *harness) { h.cap.err = errors.New("model unavailable") },
			step:    StepCodeGeneration,
			message: "Failed at step 'code generation'",
		},
		{
			name:    "generation without entry point",
			setup:   func(h *harness) { h.cap.files = []task.File{task.TextFile("app.js", "x")} },
			step:    StepCodeGeneration,
			message: "index.html",
		},
		{
			name:    "write fails",
			setup:   func(h *harness) { h.fake.Errors["put_file:index.html"] = errors.New("conflict") },
			step:    StepFilePublish,
			message: "Failed at step 'file publish'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			if tt.setup != nil {
				tt.setup(h)
			}
			req := testRequest(1)
			if tt.req != nil {
				req = tt.req()
			}

			res, err := h.runner(t).Run(context.Background(), req)
			require.Error(t, err)
			require.NotNil(t, res)

			var stepErr *StepError
			require.ErrorAs(t, err, &stepErr)
			assert.Equal(t, tt.step, stepErr.Step)
			assert.Equal(t, SeverityFatal, stepErr.Severity)
			assert.Contains(t, err.Error(), tt.message)

			assert.Empty(t, h.notifier.payloads)
			assert.Zero(t, h.fake.PagesCalls)
			h.telemetry.AssertSpanAttribute(t, "workflow.run", "outcome", "fatal")
			assert.Equal(t, int64(1), h.telemetry.CounterTotal(t, "pagesmith.workflow.steps",
				attribute.String("step", string(tt.step)), attribute.String("outcome", "fatal")))
			h.logs.AssertLogged(t, zapcore.ErrorLevel, "step failed")
		})
	}
}

func TestRun_SoftFailures(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(h *harness)
		step   Step
		verify func(t *testing.T, h *harness, res *Result)
	}{
		{
			name:  "commit lookup falls back to last write",
			setup: func(h *harness) { h.fake.Errors["get_commit_sha"] = errors.New("timeout") },
			step:  StepCommitLookup,
			verify: func(t *testing.T, _ *harness, res *Result) {
				assert.True(t, strings.HasPrefix(res.CommitSHA, "commit-"))
			},
		},
		{
			name: "readme refresh write fails",
			setup: func(h *harness) {
				h.cap.files = append(h.cap.files, task.TextFile("README.md", "stale"))
				h.fake.PutHook = func(req github.PutFileRequest) error {
					if req.Path == "README.md" && string(req.Content) != "stale" {
						return errors.New("409 conflict")
					}
					return nil
				}
			},
			step: StepReadmeRefresh,
			verify: func(t *testing.T, h *harness, res *Result) {
				readme, ok := h.fake.File(testRepoName, "README.md")
				require.True(t, ok)
				assert.Equal(t, "stale", readme)
				assert.Equal(t, 4, res.FilesWritten)
				assert.True(t, res.Live)
				assert.True(t, res.Notified)
				assert.Contains(t, res.Warning(), "409 conflict")
			},
		},
		{
			name:  "pages activation",
			setup: func(h *harness) { h.fake.Errors["enable_pages"] = errors.New("pages unavailable") },
			step:  StepPagesActivation,
			verify: func(t *testing.T, h *harness, res *Result) {
				assert.Len(t, h.poller.urls, 1)
				assert.True(t, res.Notified)
			},
		},
		{
			name:  "site never live",
			setup: func(h *harness) { h.poller.live = false },
			step:  StepPagesPolling,
			verify: func(t *testing.T, h *harness, res *Result) {
				assert.False(t, res.Live)
				assert.Contains(t, res.Warning(), "not live after 60 probes")
				require.Len(t, h.notifier.payloads, 1)
			},
		},
		{
			name:  "notification exhausted",
			setup: func(h *harness) { h.notifier.err = errors.New("notify failed after 5 attempts") },
			step:  StepNotification,
			verify: func(t *testing.T, _ *harness, res *Result) {
				assert.False(t, res.Notified)
				assert.Contains(t, res.Warning(), "evaluation notification: notify failed")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			tt.setup(h)

			res, err := h.runner(t).Run(context.Background(), testRequest(1))
			require.NoError(t, err)
			require.Len(t, res.Warnings, 1)
			assert.Equal(t, tt.step, res.Warnings[0].Step)
			assert.True(t, res.HasWarning(tt.step))

			h.telemetry.AssertSpanAttribute(t, "workflow.run", "outcome", "degraded")
			assert.Equal(t, int64(1), h.telemetry.CounterTotal(t, "pagesmith.workflow.steps",
				attribute.String("step", string(tt.step)), attribute.String("outcome", "soft_failure")))
			h.logs.AssertLogged(t, zapcore.WarnLevel, "step failed, continuing")
			tt.verify(t, h, res)
		})
	}
}

func TestRun_IgnoresCallerCancellation(t *testing.T) {
	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := h.runner(t).Run(ctx, testRequest(1))
	require.NoError(t, err)
	assert.True(t, res.Notified)
}

func TestRun_EndToEndScenario(t *testing.T) {
	h := newHarness()
	req := task.Request{
		Email:         "a@b.com",
		Task:          "calc-1",
		Round:         1,
		Nonce:         "n12345",
		Brief:         "Build a calculator",
		Checks:        []string{"page loads"},
		EvaluationURL: "https://eval.example/notify",
		Attachments:   []task.Attachment{},
	}

	res, err := h.runner(t).Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "calc-1-a-n1234", res.Repository.Name)
	assert.Equal(t, 3, res.FilesWritten)
	assert.True(t, h.fake.PagesEnabled("calc-1-a-n1234"))
	assert.Equal(t, "https://eval.example/notify", h.notifier.url)
	assert.NotEmpty(t, res.RepoURL)
	assert.NotEmpty(t, res.PagesURL)
	assert.NotEqual(t, UnknownCommit, res.CommitSHA)
}
