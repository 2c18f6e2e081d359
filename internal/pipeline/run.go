package pipeline

import "time"

// Run statuses. A run is terminal once it reaches complete, or once a stage
// exhausts its retry budget and the run settles as partial or failed.
const (
	RunPending  = "pending"
	RunRunning  = "running"
	RunPartial  = "partial"
	RunComplete = "complete"
	RunFailed   = "failed"
)

// Stage statuses per run. running is re-entrant only via an explicit re-run
// request; the other non-initial states are terminal for the run.
const (
	StageNotStarted = "not_started"
	StageRunning    = "running"
	StageComplete   = "complete"
	StageDegraded   = "degraded"
	StageFailed     = "failed"
)

// Stage names.
const (
	StageScript     = "script"
	StageVoice      = "voice"
	StageImageGen   = "imagegen"
	StageMediaFetch = "mediafetch"
	StageCompose    = "compose"
	StagePublish    = "publish"
)

// Run is one end-to-end production attempt for a topic.
type Run struct {
	ID           string    `json:"id"`
	Topic        string    `json:"topic"`
	Keywords     []string  `json:"keywords"`
	Status       string    `json:"status"`
	CurrentStage string    `json:"current_stage,omitempty"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Inputs are the logical inputs of a run. They never include the run
// identifier, so fingerprints derived from them are shared across runs.
type Inputs struct {
	Topic    string
	Keywords []string
}

// Artifact is the in-memory result of a stage execution before persistence.
// Locations point at durably written files (or remote URIs for Publish).
type Artifact struct {
	Locations []string
	Degraded  bool
	Detail    map[string]interface{}
}

// Record is the stage metadata record: the only document downstream stages
// may read to discover an upstream artifact. Records are written only after
// the artifact bytes are durable.
type Record struct {
	RunID       string                 `json:"run_id"`
	Stage       string                 `json:"stage"`
	Status      string                 `json:"status"`
	Fingerprint string                 `json:"fingerprint"`
	Locations   []string               `json:"locations,omitempty"`
	Degraded    bool                   `json:"degraded,omitempty"`
	Detail      map[string]interface{} `json:"detail,omitempty"`
	Error       string                 `json:"error,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// Usable reports whether a downstream stage may consume this record.
// Degraded inputs are tolerated; failed or unfinished ones are not.
func (r Record) Usable() bool {
	return r.Status == StageComplete || r.Status == StageDegraded
}
