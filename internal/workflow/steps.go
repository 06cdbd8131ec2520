package workflow

import (
	"fmt"
	"strings"
)

// Step names one stage of a task invocation.
type Step string

const (
	StepValidation         Step = "validation"
	StepRepositoryCreation Step = "repository_creation"
	StepFetchExisting      Step = "fetching_existing_code"
	StepCodeGeneration     Step = "code_generation"
	StepFilePublish        Step = "file_publish"
	StepReadmeRefresh      Step = "readme_refresh"
	StepCommitLookup       Step = "commit_lookup"
	StepPagesActivation    Step = "pages_activation"
	StepPagesPolling       Step = "pages_polling"
	StepNotification       Step = "evaluation_notification"
)

// Steps lists every step in execution order.
var Steps = []Step{
	StepValidation,
	StepRepositoryCreation,
	StepFetchExisting,
	StepCodeGeneration,
	StepFilePublish,
	StepReadmeRefresh,
	StepCommitLookup,
	StepPagesActivation,
	StepPagesPolling,
	StepNotification,
}

// Severity classifies what a step failure does to the invocation.
type Severity string

const (
	// SeverityFatal aborts the invocation.
	SeverityFatal Severity = "fatal"
	// SeveritySoft records a warning and continues.
	SeveritySoft Severity = "soft"
)

var severities = map[Step]Severity{
	StepValidation:         SeverityFatal,
	StepRepositoryCreation: SeverityFatal,
	StepFetchExisting:      SeveritySoft,
	StepCodeGeneration:     SeverityFatal,
	StepFilePublish:        SeverityFatal,
	StepReadmeRefresh:      SeveritySoft,
	StepCommitLookup:       SeveritySoft,
	StepPagesActivation:    SeveritySoft,
	StepPagesPolling:       SeveritySoft,
	StepNotification:       SeveritySoft,
}

// Severity returns the failure class of the step. Unknown steps are fatal.
func (s Step) Severity() Severity {
	if sev, ok := severities[s]; ok {
		return sev
	}
	return SeverityFatal
}

// Label is the human-readable step name used in messages.
func (s Step) Label() string {
	if s == StepFetchExisting {
		return "fetching existing code"
	}
	return strings.ReplaceAll(string(s), "_", " ")
}

// StepError is a failure attributed to a step.
type StepError struct {
	Step     Step
	Severity Severity
	Err      error
}

func (e *StepError) Error() string {
	if e.Severity == SeverityFatal {
		return fmt.Sprintf("Failed at step '%s': %v", e.Step.Label(), e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Step.Label(), e.Err)
}

// Unwrap allows errors.Is and errors.As to reach the cause.
func (e *StepError) Unwrap() error {
	return e.Err
}

// Warning is a soft failure surfaced on an otherwise successful result.
type Warning struct {
	Step    Step   `json:"step"`
	Message string `json:"message"`
}
