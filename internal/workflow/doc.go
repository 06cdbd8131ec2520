// Package workflow runs one task invocation end to end.
//
// The runner is a fixed sequence of steps:
//
//	validation → repository_creation → fetching_existing_code (round 2 only)
//	→ code_generation → file_publish → readme_refresh → commit_lookup
//	→ pages_activation → pages_polling → evaluation_notification
//
// Each step has a severity. A fatal step failure stops the run and is
// returned as a *StepError naming the step. A soft failure is recorded as a
// Warning on the Result and the run continues. The runner keeps no state
// between invocations; rerunning a task is safe because repository creation
// tolerates an existing repository and every write overwrites
// deterministically.
package workflow
