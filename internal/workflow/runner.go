package workflow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/maruel/ksid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/pagesmith/internal/attachment"
	"github.com/fyrsmithlabs/pagesmith/internal/generator"
	"github.com/fyrsmithlabs/pagesmith/internal/logging"
	"github.com/fyrsmithlabs/pagesmith/internal/notify"
	"github.com/fyrsmithlabs/pagesmith/internal/pages"
	"github.com/fyrsmithlabs/pagesmith/internal/publisher"
	"github.com/fyrsmithlabs/pagesmith/internal/secrets"
	"github.com/fyrsmithlabs/pagesmith/internal/task"
)

const instrumentationName = "github.com/fyrsmithlabs/pagesmith/internal/workflow"

// Poller waits for a published site to come up.
type Poller interface {
	WaitUntilLive(ctx context.Context, url string) (bool, int)
}

// Notifier reports completion to the evaluation endpoint.
type Notifier interface {
	Notify(ctx context.Context, url string, payload notify.Payload) error
}

var _ Poller = (*pages.Poller)(nil)
var _ Notifier = (*notify.Notifier)(nil)

// Deps are the collaborators of a Runner. Scanner, Logger, Tracer and Meter
// are optional.
type Deps struct {
	Publisher   *publisher.Publisher
	Generator   *generator.Adapter
	Attachments *attachment.Decoder
	Scanner     *secrets.Scanner
	Activator   *pages.Activator
	Poller      Poller
	Notifier    Notifier
	Logger      *logging.Logger
	Tracer      trace.Tracer
	Meter       metric.Meter
}

// Runner executes task invocations. It is safe for concurrent use; distinct
// invocations share nothing but configuration.
type Runner struct {
	Deps

	stepCounter metric.Int64Counter
	duration    metric.Float64Histogram
}

// NewRunner validates deps and creates a Runner.
func NewRunner(d Deps) (*Runner, error) {
	switch {
	case d.Publisher == nil:
		return nil, errors.New("workflow: publisher is required")
	case d.Generator == nil:
		return nil, errors.New("workflow: generator is required")
	case d.Activator == nil:
		return nil, errors.New("workflow: pages activator is required")
	case d.Poller == nil:
		return nil, errors.New("workflow: pages poller is required")
	case d.Notifier == nil:
		return nil, errors.New("workflow: notifier is required")
	}
	if d.Attachments == nil {
		d.Attachments = attachment.NewDecoder(d.Logger)
	}
	if d.Logger == nil {
		d.Logger = logging.NewNop()
	}
	d.Logger = d.Logger.Named("workflow")
	if d.Tracer == nil {
		d.Tracer = otel.Tracer(instrumentationName)
	}
	if d.Meter == nil {
		d.Meter = otel.Meter(instrumentationName)
	}

	steps, err := d.Meter.Int64Counter(
		"pagesmith.workflow.steps",
		metric.WithDescription("Workflow step executions by step and outcome"),
		metric.WithUnit("{step}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create step counter: %w", err)
	}
	duration, err := d.Meter.Float64Histogram(
		"pagesmith.workflow.duration",
		metric.WithDescription("Duration of task invocations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create duration histogram: %w", err)
	}

	return &Runner{Deps: d, stepCounter: steps, duration: duration}, nil
}

// Run executes one invocation. On a fatal failure it returns the partial
// Result together with a *StepError.
func (r *Runner) Run(ctx context.Context, req task.Request) (*Result, error) {
	start := time.Now()
	res := &Result{InvocationID: ksid.NewID().String(), Identity: task.IdentityOf(req)}

	// Once started, an invocation runs to completion even if the caller
	// goes away.
	ctx = context.WithoutCancel(ctx)
	ctx = logging.WithInvocationID(ctx, res.InvocationID)
	ctx = logging.WithTask(ctx, logging.Task{ID: req.Task, Round: req.Round, Nonce: req.Nonce, Email: req.Email})

	ctx, span := r.Tracer.Start(ctx, "workflow.run", trace.WithAttributes(
		attribute.String("task.id", req.Task),
		attribute.Int("task.round", req.Round),
		attribute.String("invocation.id", res.InvocationID),
	))
	defer span.End()

	err := r.run(ctx, req, res)

	outcome := "success"
	if err != nil {
		outcome = "fatal"
		span.SetStatus(codes.Error, err.Error())
	} else if len(res.Warnings) > 0 {
		outcome = "degraded"
	}
	span.SetAttributes(attribute.String("outcome", outcome), attribute.String("repo.url", res.RepoURL))
	r.duration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
		attribute.String("round", strconv.Itoa(req.Round)),
		attribute.String("outcome", outcome),
	))

	if err != nil {
		return res, err
	}
	r.Logger.Info(ctx, "task complete",
		zap.String("repo_url", res.RepoURL),
		zap.String("pages_url", res.PagesURL),
		zap.String("commit_sha", res.CommitSHA),
		zap.Bool("live", res.Live),
		zap.Bool("notified", res.Notified),
		zap.Int("warnings", len(res.Warnings)),
		zap.Duration("duration", time.Since(start)),
	)
	return res, nil
}

func (r *Runner) run(ctx context.Context, req task.Request, res *Result) error {
	var (
		repo      task.Repository
		existing  string
		generated []task.File
		writes    []publisher.WriteResult
	)

	if err := r.step(ctx, res, StepValidation, func(context.Context) error {
		return req.Validate()
	}); err != nil {
		return err
	}

	name := task.RepoName(req)
	if err := r.step(ctx, res, StepRepositoryCreation, func(ctx context.Context) error {
		owner, err := r.Publisher.Owner(ctx)
		if err != nil {
			return err
		}
		repo, err = r.Publisher.EnsureRepository(ctx, owner, name, generator.Title(req.Task))
		return err
	}); err != nil {
		return err
	}
	res.Repository = repo
	res.RepoURL = repo.HTMLURL
	res.PagesURL = repo.PagesURL()

	if req.Round > task.FirstRound {
		_ = r.step(ctx, res, StepFetchExisting, func(ctx context.Context) error {
			var err error
			existing, err = r.Generator.Prior(ctx, req.Round, repo)
			return err
		})
	}

	if err := r.step(ctx, res, StepCodeGeneration, func(ctx context.Context) error {
		var err error
		generated, err = r.Generator.Generate(ctx, generator.InputFor(req, repo, existing))
		return err
	}); err != nil {
		return err
	}

	if err := r.step(ctx, res, StepFilePublish, func(ctx context.Context) error {
		decoded := r.Attachments.Decode(ctx, req.Attachments)
		if shadowed := task.Collisions(generated, decoded); len(shadowed) > 0 {
			r.Logger.Warn(ctx, "attachments shadowed by generated files", zap.Strings("paths", shadowed))
		}
		files := task.CleanFiles(r.redact(ctx, generated), decoded)

		var err error
		writes, err = r.Publisher.WriteFiles(ctx, repo, files)
		res.FilesWritten = len(writes)
		return err
	}); err != nil {
		return err
	}

	_ = r.step(ctx, res, StepReadmeRefresh, func(ctx context.Context) error {
		in := generator.InputFor(req, repo, "")
		in.PrimaryFile = r.Generator.PrimaryFile()
		readme, err := generator.RenderReadme(generator.ViewFor(in))
		if err != nil {
			return err
		}
		w, err := r.Publisher.WriteIfChanged(ctx, repo, readme)
		if err != nil {
			return err
		}
		if w.CommitSHA != "" {
			writes = append(writes, w)
		}
		return nil
	})

	res.CommitSHA = UnknownCommit
	_ = r.step(ctx, res, StepCommitLookup, func(ctx context.Context) error {
		sha, err := r.Publisher.LatestCommit(ctx, repo)
		if err != nil {
			return err
		}
		if sha == "" {
			return errors.New("empty commit SHA")
		}
		res.CommitSHA = sha
		return nil
	})
	if res.CommitSHA == UnknownCommit {
		if last := publisher.LastCommit(writes); last != "" {
			res.CommitSHA = last
		}
	}

	_ = r.step(ctx, res, StepPagesActivation, func(ctx context.Context) error {
		return r.Activator.Enable(ctx, repo)
	})

	_ = r.step(ctx, res, StepPagesPolling, func(ctx context.Context) error {
		live, attempts := r.Poller.WaitUntilLive(ctx, res.PagesURL)
		res.Live = live
		if !live {
			return fmt.Errorf("%s not live after %d probes", res.PagesURL, attempts)
		}
		return nil
	})

	_ = r.step(ctx, res, StepNotification, func(ctx context.Context) error {
		err := r.Notifier.Notify(ctx, req.EvaluationURL, notify.Payload{
			Email:     req.Email,
			Task:      req.Task,
			Round:     req.Round,
			Nonce:     req.Nonce,
			RepoURL:   res.RepoURL,
			CommitSHA: res.CommitSHA,
			PagesURL:  res.PagesURL,
		})
		res.Notified = err == nil
		return err
	})

	return nil
}

// redact strips credentials from generated files before they become public.
func (r *Runner) redact(ctx context.Context, files []task.File) []task.File {
	if !r.Scanner.Enabled() {
		return files
	}
	out, findings := r.Scanner.RedactFiles(files)
	if len(findings) > 0 {
		r.Logger.Warn(ctx, "redacted secrets from generated files",
			zap.Int("findings", len(findings)),
			zap.String("locations", secrets.Summary(findings)),
		)
	}
	return out
}

// step runs fn inside a span and classifies its failure. It returns a
// *StepError only for fatal steps; soft failures become warnings on res.
func (r *Runner) step(ctx context.Context, res *Result, step Step, fn func(context.Context) error) error {
	ctx, span := r.Tracer.Start(ctx, "workflow."+string(step), trace.WithAttributes(
		attribute.String("step", string(step)),
		attribute.String("severity", string(step.Severity())),
	))
	defer span.End()

	start := time.Now()
	err := fn(ctx)

	outcome := "ok"
	var stepErr *StepError
	if err != nil {
		err = r.scrubError(err)
		stepErr = &StepError{Step: step, Severity: step.Severity(), Err: err}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		fields := []zap.Field{
			zap.String("step", string(step)),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		}
		if stepErr.Severity == SeverityFatal {
			outcome = "fatal"
			r.Logger.Error(ctx, "step failed", fields...)
		} else {
			outcome = "soft_failure"
			r.Logger.Warn(ctx, "step failed, continuing", fields...)
			res.Warnings = append(res.Warnings, Warning{Step: step, Message: stepErr.Error()})
		}
	} else {
		r.Logger.Debug(ctx, "step complete",
			zap.String("step", string(step)),
			zap.Duration("duration", time.Since(start)),
		)
	}

	span.SetAttributes(attribute.String("outcome", outcome))
	r.stepCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("step", string(step)),
		attribute.String("outcome", outcome),
	))

	if stepErr != nil && stepErr.Severity == SeverityFatal {
		return stepErr
	}
	return nil
}

// scrubError removes credentials that an upstream error message might echo.
func (r *Runner) scrubError(err error) error {
	if !r.Scanner.Enabled() {
		return err
	}
	msg, findings := r.Scanner.RedactString(err.Error())
	if len(findings) == 0 {
		return err
	}
	return &redactedError{msg: msg, err: err}
}

type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }
