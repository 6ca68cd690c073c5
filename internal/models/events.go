package models

import "time"

// EventLevel is the severity of a JobEvent.
type EventLevel string

const (
	EventLevelInfo  EventLevel = "info"
	EventLevelWarn  EventLevel = "warn"
	EventLevelError EventLevel = "error"
)

// EventType classifies the kind of thing that happened to a job.
type EventType string

const (
	EventTypeStateChange    EventType = "state_change"
	EventTypeRestart        EventType = "restart"
	EventTypeBlockedDetected EventType = "blocked_detected"
	EventTypeFinalize       EventType = "finalize"
	EventTypeError          EventType = "error"
)

// JobEvent is an append-only audit-trail row for a job.
type JobEvent struct {
	ID      uint64 `badgerhold:"key"`
	JobID   string `badgerholdIndex:"JobID"`
	At      time.Time
	Level   EventLevel
	Type    EventType
	Message string
	Payload map[string]any `json:"payload,omitempty"`
}

// ArtifactKind enumerates the files the finalizer registers per job.
type ArtifactKind string

const (
	ArtifactKindRawJSONL    ArtifactKind = "raw_jsonl"
	ArtifactKindFinalJSONL  ArtifactKind = "final_jsonl"
	ArtifactKindSummaryJSON ArtifactKind = "summary_json"
	ArtifactKindRunnerLog   ArtifactKind = "runner_log"
	ArtifactKindKBManifest  ArtifactKind = "kb_manifest_json"
)

// Artifact is a file produced by a job and registered for download/audit.
type Artifact struct {
	ID       string `badgerhold:"key"`
	JobID    string `badgerholdIndex:"JobID"`
	Kind     ArtifactKind
	Path     string
	Bytes    int64
	SHA256   string `json:"sha256,omitempty"` // omitted for files above the hash-skip threshold
	CreatedAt time.Time
}
