package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// TrackedFile describes a record in a transport-friendly format.
type TrackedFile struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	Source    string `json:"source"`
	Remarks   string `json:"remarks"`
	CreatedAt string `json:"createdAt,omitempty"`
	UpdatedAt string `json:"lastUpdated,omitempty"`
}

// FileListResponse wraps a collection of records, newest first.
type FileListResponse struct {
	Files  []TrackedFile  `json:"files"`
	Counts map[string]int `json:"counts"`
}

// FileResponse wraps a single record.
type FileResponse struct {
	File TrackedFile `json:"file"`
}

// ClearResponse reports how many records were removed.
type ClearResponse struct {
	Removed int64 `json:"removed"`
}

// RenameRequest is the body of a rename-and-retry call.
type RenameRequest struct {
	NewName string `json:"new_name"`
}

// ActionResponse reports the outcome of a manual action.
type ActionResponse struct {
	Name    string `json:"name"`
	Target  string `json:"target,omitempty"`
	Message string `json:"message"`
}

// CheckResult mirrors a preflight check.
type CheckResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// SweepResult summarizes a cleanup sweep.
type SweepResult struct {
	TimedOut       int    `json:"timedOut"`
	RecordsDeleted int64  `json:"recordsDeleted"`
	FilesDeleted   int    `json:"filesDeleted"`
	Errors         int    `json:"errors"`
	Skipped        bool   `json:"skipped"`
	DurationMS     int64  `json:"durationMs"`
	FinishedAt     string `json:"finishedAt,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool           `json:"running"`
	PID          int            `json:"pid"`
	Mode         string         `json:"mode"`
	QueueDepth   int            `json:"queueDepth"`
	StartedAt    string         `json:"startedAt,omitempty"`
	DBPath       string         `json:"dbPath"`
	LockFilePath string         `json:"lockFilePath"`
	Counts       map[string]int `json:"counts"`
	Checks       []CheckResult  `json:"checks"`
	LastSweep    *SweepResult   `json:"lastSweep,omitempty"`
}

// Location describes a watched directory. Passwords are never sent.
type Location struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Path        string `json:"path"`
	Role        string `json:"role"`
	Type        string `json:"type"`
	Username    string `json:"username,omitempty"`
	Domain      string `json:"domain,omitempty"`
	HasPassword bool   `json:"hasPassword"`
}

// Rule mirrors a cleanup rule.
type Rule struct {
	Enabled bool   `json:"enabled"`
	Value   int    `json:"value"`
	Unit    string `json:"unit"`
}

// Settings is the dashboard view of the stored settings.
type Settings struct {
	Locations         []Location `json:"locations"`
	Extensions        []string   `json:"extensions"`
	StatusRetention   Rule       `json:"statusRetention"`
	FileRetention     Rule       `json:"fileRetention"`
	ProcessingTimeout Rule       `json:"processingTimeout"`
}
