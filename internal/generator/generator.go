// Package generator produces the site files for a task.
//
// A Capability is the opaque code generation backend. The Adapter wraps a
// Capability with round awareness: it loads the previously published entry
// point for revisions and guarantees the README and LICENSE are present.
package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/pagesmith/internal/config"
	"github.com/fyrsmithlabs/pagesmith/internal/logging"
	"github.com/fyrsmithlabs/pagesmith/internal/task"
)

// ErrGeneration tags every failure of the generation backend.
var ErrGeneration = errors.New("code generation failed")

// DefaultPrimaryFile is the site entry point.
const DefaultPrimaryFile = "index.html"

// Input is everything a Capability needs to produce files.
type Input struct {
	Task         string
	Round        int
	Brief        string
	Checks       []string
	Attachments  []task.Attachment
	ExistingCode string
	PrimaryFile  string
	Repository   task.Repository
}

// InputFor builds an Input from a request.
func InputFor(req task.Request, repo task.Repository, existing string) Input {
	return Input{
		Task:         req.Task,
		Round:        req.Round,
		Brief:        req.Brief,
		Checks:       req.Checks,
		Attachments:  req.Attachments,
		ExistingCode: existing,
		Repository:   repo,
	}
}

// Capability turns an Input into named files.
type Capability interface {
	Name() string
	Generate(ctx context.Context, in Input) ([]task.File, error)
}

// PriorReader reads a published file.
type PriorReader interface {
	ReadFile(ctx context.Context, repo task.Repository, path string) ([]byte, error)
}

// Adapter wraps a Capability for the workflow.
type Adapter struct {
	capability  Capability
	reader      PriorReader
	primaryFile string
	timeout     time.Duration
	logger      *logging.Logger
}

// NewAdapter creates an Adapter. A zero timeout disables the deadline.
func NewAdapter(capability Capability, reader PriorReader, cfg config.GeneratorConfig, logger *logging.Logger) *Adapter {
	if logger == nil {
		logger = logging.NewNop()
	}
	primary := cfg.PrimaryFile
	if primary == "" {
		primary = DefaultPrimaryFile
	}
	return &Adapter{
		capability:  capability,
		reader:      reader,
		primaryFile: primary,
		timeout:     cfg.Timeout,
		logger:      logger.Named("generator"),
	}
}

// PrimaryFile returns the entry point file name.
func (a *Adapter) PrimaryFile() string {
	return a.primaryFile
}

// Prior returns the published entry point for revisions. Round 1 never reads
// anything and returns "".
func (a *Adapter) Prior(ctx context.Context, round int, repo task.Repository) (string, error) {
	if round <= task.FirstRound {
		return "", nil
	}
	content, err := a.reader.ReadFile(ctx, repo, a.primaryFile)
	if err != nil {
		return "", fmt.Errorf("fetch existing %s: %w", a.primaryFile, err)
	}
	return string(content), nil
}

// Generate runs the capability once. Failures are not retried and are
// wrapped with ErrGeneration.
func (a *Adapter) Generate(ctx context.Context, in Input) ([]task.File, error) {
	if in.PrimaryFile == "" {
		in.PrimaryFile = a.primaryFile
	}
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	start := time.Now()
	files, err := a.capability.Generate(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrGeneration, a.capability.Name(), err)
	}

	files = task.CleanFiles(files)
	if !hasFile(files, in.PrimaryFile) {
		return nil, fmt.Errorf("%w: %s produced no %s", ErrGeneration, a.capability.Name(), in.PrimaryFile)
	}

	if !hasFile(files, ReadmeFile) {
		readme, err := RenderReadme(ViewFor(in))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrGeneration, err)
		}
		files = append(files, readme)
	}
	if !hasFile(files, LicenseFile) {
		license, err := RenderLicense(in.Repository.Owner)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrGeneration, err)
		}
		files = append(files, license)
	}

	a.logger.Info(ctx, "generated files",
		zap.String("backend", a.capability.Name()),
		zap.Int("round", in.Round),
		zap.Int("files", len(files)),
		zap.Bool("revision", in.ExistingCode != ""),
		zap.Duration("duration", time.Since(start)),
	)
	return files, nil
}

func hasFile(files []task.File, name string) bool {
	for _, f := range files {
		if strings.EqualFold(f.Name, name) {
			return true
		}
	}
	return false
}

// NewCapability builds the configured backend.
func NewCapability(ctx context.Context, cfg config.GeneratorConfig, logger *logging.Logger) (Capability, error) {
	switch cfg.Backend {
	case "", "template":
		return NewTemplateCapability(), nil
	case "langchain":
		return NewLangChainCapability(cfg, logger)
	case "genai":
		return NewGenAICapability(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown generator backend %q", cfg.Backend)
	}
}
