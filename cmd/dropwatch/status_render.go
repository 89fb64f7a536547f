package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"dropwatch/internal/api"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const (
	statusLabelWidth = 28
	statusIndent     = "  "
)

// statusOrder is the display order for record counts.
var statusOrder = []string{"processing", "failed", "timed-out", "published"}

var titleCaser = cases.Title(language.English)

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	statusText := fmt.Sprintf("[%s]", statusKindLabel(kind))
	if message != "" {
		statusText += " " + message
	}
	base := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", statusText)
	if colorize {
		if color := statusKindColor(kind); color != "" {
			return color + base + ansiReset
		}
	}
	return base
}

func statusKindLabel(kind statusKind) string {
	switch kind {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	case statusError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func statusKindColor(kind statusKind) string {
	switch kind {
	case statusOK:
		return ansiGreen
	case statusWarn:
		return ansiYellow
	case statusError:
		return ansiRed
	case statusInfo:
		return ansiBlue
	default:
		return ""
	}
}

func renderSectionHeader(title string, colorize bool) []string {
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	rule := strings.Repeat("-", len(line))
	if colorize {
		line = ansiBlue + line + ansiReset
		rule = ansiBlue + rule + ansiReset
	}
	return []string{line, rule}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// statusLabel turns "timed-out" into "Timed-Out".
func statusLabel(status string) string {
	return titleCaser.String(strings.TrimSpace(status))
}

func statusKindForRecord(status string) statusKind {
	switch status {
	case "published":
		return statusOK
	case "failed":
		return statusError
	case "timed-out":
		return statusWarn
	default:
		return statusInfo
	}
}

// relativeTime renders an API timestamp as "3 minutes ago".
func relativeTime(value string) string {
	t := api.ParseTime(value)
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t)
}

func sinceLabel(value string) string {
	t := api.ParseTime(value)
	if t.IsZero() {
		return ""
	}
	return fmt.Sprintf("since %s (%s)", t.Local().Format(time.DateTime), humanize.Time(t))
}

func countRows(counts map[string]int) [][]string {
	rows := make([][]string, 0, len(statusOrder))
	for _, status := range statusOrder {
		rows = append(rows, []string{statusLabel(status), humanize.Comma(int64(counts[status]))})
	}
	return rows
}

func colorizeStatus(status string, colorize bool) string {
	label := statusLabel(status)
	if !colorize {
		return label
	}
	if color := statusKindColor(statusKindForRecord(status)); color != "" {
		return color + label + ansiReset
	}
	return label
}

// emit prints v as indented JSON when asJSON is set and otherwise runs render.
// Timestamps stay in RFC 3339 so scripts can sort on them.
func emit(cmd *cobra.Command, asJSON bool, v any, render func(io.Writer) error) error {
	out := cmd.OutOrStdout()
	if !asJSON {
		return render(out)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
