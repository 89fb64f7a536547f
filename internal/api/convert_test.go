package api

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"dropwatch/internal/config"
	"dropwatch/internal/tracking"
)

func TestFromFileFormatsTimestamps(t *testing.T) {
	updated := time.Date(2026, 3, 4, 5, 6, 7, 890_000_000, time.FixedZone("X", 3600))
	dto := FromFile(tracking.File{
		ID:          "abc",
		Name:        "clip.mov",
		Status:      tracking.StatusTimedOut,
		Source:      "Import",
		LastUpdated: updated,
	})
	if dto.Status != "timed-out" {
		t.Fatalf("unexpected status %q", dto.Status)
	}
	if dto.UpdatedAt != "2026-03-04T04:06:07.890Z" {
		t.Fatalf("unexpected timestamp %q", dto.UpdatedAt)
	}
	if dto.CreatedAt != "" {
		t.Fatalf("expected zero created time to be omitted, got %q", dto.CreatedAt)
	}
	if !ParseTime(dto.UpdatedAt).Equal(updated) {
		t.Fatalf("round trip mismatch: %s", ParseTime(dto.UpdatedAt))
	}
}

func TestFromFilesEncodesEmptyArray(t *testing.T) {
	data, err := json.Marshal(FileListResponse{Files: FromFiles(nil), Counts: MergeStats(nil)})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"files":[]`) {
		t.Fatalf("expected empty files array, got %s", data)
	}
	if !strings.Contains(string(data), `"timed-out":0`) {
		t.Fatalf("expected zero-filled counts, got %s", data)
	}
}

func TestFromSettingsHidesPasswords(t *testing.T) {
	view := FromSettings(tracking.Settings{
		Locations: []tracking.Location{{
			Name: "Share", Path: "/mnt/share", Role: config.RoleImport, Type: config.TypeNetwork,
			Username: "ingest", Password: "secret",
		}},
		ProcessingTimeout: config.Rule{Enabled: true, Value: 2, Unit: config.UnitHours},
	})
	data, err := json.Marshal(view)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "secret") {
		t.Fatalf("password leaked: %s", data)
	}
	if !view.Locations[0].HasPassword || view.ProcessingTimeout.Value != 2 {
		t.Fatalf("unexpected view %+v", view)
	}
	if view.Extensions == nil {
		t.Fatal("expected non-nil extensions")
	}
}
