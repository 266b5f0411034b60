package store

// File mirrors one row of the files table: one per distinct absolute path
// inside a library root.
type File struct {
	ID            int64
	Path          string
	Size          int64
	Mtime         int64
	SlideCount    int
	SlideAspect   string
	LastScannedAt int64
	ScanError     string
}

// Page mirrors one row of the pages table: one per (file, page-number).
type Page struct {
	ID          int64
	FileID      int64
	PageNo      int
	Aspect      string
	SourceSize  int64
	SourceMtime int64
	CreatedAt   int64
}

// Artifact mirrors one row of the artifacts table: one per (page, kind).
type Artifact struct {
	ID           int64
	PageID       int64
	Kind         string
	Status       string
	UpdatedAt    int64
	ParamsJSON   string
	ErrorCode    string
	ErrorMessage string
	Attempts     int
}

// ArtifactCounters holds the five-flag-model status counts for one kind,
// as required in every snapshot payload (spec 4.2).
type ArtifactCounters struct {
	Queued    int `json:"queued"`
	Running   int `json:"running"`
	Ready     int `json:"ready"`
	Error     int `json:"error"`
	Cancelled int `json:"cancelled"`
}

// Job mirrors one row of the jobs table.
type Job struct {
	ID          string
	LibraryRoot string
	CreatedAt   int64
	UpdatedAt   int64
	Status      string
	OptionsJSON string
	SummaryJSON string
}

// Task mirrors one row of the tasks table: one unit of work assigned to a
// worker pool.
type Task struct {
	ID            string
	JobID         string
	PageID        *int64
	FileID        *int64
	Kind          string
	Status        string
	Priority      int
	DependsOnTask string
	StartedAt     *int64
	HeartbeatAt   *int64
	FinishedAt    *int64
	Progress      int
	Message       string
	ErrorCode     string
	ErrorMessage  string
}

// Event mirrors one row of the append-only events table.
type Event struct {
	JobID       string
	Seq         int64
	Type        string
	PayloadJSON string
	CreatedAt   int64
}
