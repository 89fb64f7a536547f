package ipc

import "dropwatch/internal/api"

// TrackedFile mirrors the HTTP API record DTO.
type TrackedFile = api.TrackedFile

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse wraps the daemon status.
type StatusResponse struct {
	Status api.DaemonStatus `json:"status"`
}

// FilesListRequest filters records by status name. An empty list returns everything.
type FilesListRequest struct {
	Statuses []string `json:"statuses"`
}

// FilesListResponse contains records newest first plus counts by status.
type FilesListResponse struct {
	Files  []TrackedFile  `json:"files"`
	Counts map[string]int `json:"counts"`
}

// FileDescribeRequest fetches a single record by name.
type FileDescribeRequest struct {
	Name string `json:"name"`
}

// FileDescribeResponse contains one record.
type FileDescribeResponse struct {
	File TrackedFile `json:"file"`
}

// ClearRequest removes every record.
type ClearRequest struct{}

// ClearResponse reports how many records were removed.
type ClearResponse struct {
	Removed int64 `json:"removed"`
}

// RetryRequest moves a failed file back into the import location.
type RetryRequest struct {
	Name string `json:"name"`
}

// RenameRequest moves a failed file back into the import location under a new name.
type RenameRequest struct {
	Name    string `json:"name"`
	NewName string `json:"new_name"`
}

// MoveResponse reports the name the file now has in the import location.
type MoveResponse struct {
	Target string `json:"target"`
}

// SweepRequest runs the cleanup rules now.
type SweepRequest struct{}

// SweepResponse reports the sweep outcome.
type SweepResponse struct {
	Result api.SweepResult `json:"result"`
}

// ResyncRequest asks for an immediate full snapshot.
type ResyncRequest struct{}

// ResyncResponse acknowledges a resync request.
type ResyncResponse struct {
	Requested bool `json:"requested"`
}

// TestNotificationRequest sends a test notification.
type TestNotificationRequest struct{}

// TestNotificationResponse reports whether the notification was sent.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}

// StopRequest shuts the daemon down.
type StopRequest struct{}

// StopResponse indicates stop result.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}
