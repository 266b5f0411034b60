// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

// Artifact kinds, in the five-flag model.
const (
	ArtifactText    = "text"
	ArtifactThumb   = "thumb"
	ArtifactTextVec = "text_vec"
	ArtifactImgVec  = "img_vec"
	ArtifactBm25    = "bm25"
)

// ArtifactKinds lists every artifact kind in a stable order, used whenever
// code needs to enumerate the five-flag model (planning, counters, snapshots).
var ArtifactKinds = [5]string{ArtifactText, ArtifactThumb, ArtifactTextVec, ArtifactImgVec, ArtifactBm25}

// Artifact/task statuses.
const (
	StatusMissing   = "missing"
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusReady     = "ready"
	StatusSkipped   = "skipped"
	StatusError     = "error"
	StatusCancelled = "cancelled"
	StatusFinished  = "finished"
)

// Job statuses.
const (
	JobCreated         = "created"
	JobPlanning        = "planning"
	JobRunning         = "running"
	JobPaused          = "paused"
	JobCancelRequested = "cancel_requested"
	JobCancelled       = "cancelled"
	JobCompleted       = "completed"
	JobFailed          = "failed"
)

// Error codes, stable and consumed by the UI.
const (
	ErrTextExtractFail   = "TEXT_EXTRACT_FAIL"
	ErrPdfConvertTimeout = "PDF_CONVERT_TIMEOUT"
	ErrPdfConvertFail    = "PDF_CONVERT_FAIL"
	ErrThumbRenderFail   = "THUMB_RENDER_FAIL"
	ErrOpenAIRateLimit   = "OPENAI_RATE_LIMIT"
	ErrOpenAIAuth        = "OPENAI_AUTH"
	ErrEmbedDimMismatch  = "EMBED_DIM_MISMATCH"
	ErrWatchdogTimeout   = "WATCHDOG_TIMEOUT"
	ErrStoreConflict     = "STORE_CONFLICT"
	ErrJSONCorrupted     = "JSON_CORRUPTED"
)

// Event kinds delivered over the EventBus / SSE stream.
const (
	EventHello                = "hello"
	EventJobCreated           = "job_created"
	EventJobStateChanged      = "job_state_changed"
	EventPlanningProgress     = "planning_progress"
	EventTaskStarted          = "task_started"
	EventTaskProgress         = "task_progress"
	EventTaskError            = "task_error"
	EventArtifactStateChanged = "artifact_state_changed"
	EventStatsSnapshot        = "stats_snapshot"
	EventJobFinished          = "job_finished"
)

// Event bus constants.
const (
	// EventChannelBuffer is the per-subscriber buffer size for a job's event stream.
	EventChannelBuffer = 100

	// StatsSnapshotIntervalSeconds is the minimum interval between stats_snapshot
	// events while a job is running (spec requires >= 1 Hz).
	StatsSnapshotIntervalSeconds = 1
)

// Default thumbnail sizes, keyed by aspect.
const (
	ThumbWidth4x3  = 320
	ThumbHeight4x3 = 240

	ThumbWidth16x9  = 320
	ThumbHeight16x9 = 180

	// ThumbWidthUnknown/ThumbHeightUnknown is the implementer's documented
	// default for presentations with an undetected aspect ratio (spec 9, open
	// question): same as 4:3.
	ThumbWidthUnknown  = 320
	ThumbHeightUnknown = 240
)

// Aspect ratio tags.
const (
	Aspect4x3     = "4:3"
	Aspect16x9    = "16:9"
	AspectUnknown = "unknown"
)

// Default daemon-scoped options, overridable per job via the options record.
const (
	DefaultCommitEveryPages  = 1
	DefaultCommitEverySec    = 5
	DefaultPdfTimeoutSec     = 120
	DefaultWatchdogThreshold = 300
	DefaultWatchdogTickSecs  = 30
	DefaultReqPerMin         = 3000
	DefaultTokPerMin         = 1_000_000
	DefaultTextEmbedModel    = "text-embedding-3-small"
	DefaultImageEmbedModel   = "image-embedding-local"
)

// Worker pool parallelism defaults, one per kind family (spec 4.11).
const (
	ParallelismText    = 8
	ParallelismPdf     = 1
	ParallelismThumb   = 4
	ParallelismTextVec = 4
	ParallelismImgVec  = 4
)

// NativeOpConcurrency bounds how many soffice conversions and MuPDF
// rasterizations run at once across every worker pool combined, independent
// of each pool's own goroutine count, since both are native-process-heavy
// regardless of which pool invoked them.
const NativeOpConcurrency = 4

// HeartbeatIntervalSeconds bounds how often a running worker MUST refresh its
// task's heartbeat_at; it must stay well under the watchdog threshold.
const HeartbeatIntervalSeconds = 10
