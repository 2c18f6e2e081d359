package pipeline

import "fmt"

// ErrMissingUpstream indicates a stage's declared upstream record is absent
// or not in a usable state. It is never retried automatically; the caller
// must wait for, or re-trigger, the upstream stage.
var ErrMissingUpstream = fmt.Errorf("upstream stage not ready")

// ErrStageRunning indicates a second execution request arrived for a
// stage-for-run that is already in flight.
var ErrStageRunning = fmt.Errorf("stage already running for this run")

// ErrUnknownStage indicates a stage name with no registered implementation.
var ErrUnknownStage = fmt.Errorf("unknown stage")

// ErrRunNotFound indicates the run identifier resolves to no stored run.
var ErrRunNotFound = fmt.Errorf("run not found")

// ErrRunCancelled indicates the run was cancelled at a stage boundary.
var ErrRunCancelled = fmt.Errorf("run cancelled")
