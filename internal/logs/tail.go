package logs

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// pollInterval is the fallback cadence when no fsnotify watch is available.
const pollInterval = 250 * time.Millisecond

// TailOptions selects what Tail returns. A negative Offset means "the last
// Limit lines"; otherwise reading resumes at Offset.
type TailOptions struct {
	Offset int64
	Limit  int
	Follow bool
	Wait   time.Duration
	// File keeps only lines logged about this tracked file name.
	File string
}

// TailResult holds the matching lines and the offset to resume from.
type TailResult struct {
	Lines  []string
	Offset int64
}

// Tail reads path according to opts. A missing file reads as empty.
func Tail(ctx context.Context, path string, opts TailOptions) (TailResult, error) {
	result := TailResult{Offset: opts.Offset}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			result.Offset = 0
			return result, nil
		}
		return result, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		return result, fmt.Errorf("log path %q is a directory", path)
	}
	if opts.Wait < 0 {
		opts.Wait = 0
	}
	match := lineFilter(opts.File)

	offset := opts.Offset
	if offset < 0 {
		lines, end, err := readLastLines(path, opts.Limit, match)
		if err != nil {
			return result, err
		}
		if len(lines) > 0 || !opts.Follow || opts.Wait == 0 {
			return TailResult{Lines: lines, Offset: end}, nil
		}
		offset = end
	} else if offset > info.Size() {
		// The file was truncated or replaced; start over from its end.
		offset = info.Size()
	}

	lines, end, err := readForward(path, offset, match)
	if err != nil {
		return result, err
	}
	if len(lines) > 0 || !opts.Follow || opts.Wait == 0 {
		return TailResult{Lines: lines, Offset: end}, nil
	}
	return waitForLines(ctx, path, end, opts.Wait, match)
}

func lineFilter(file string) func(string) bool {
	file = strings.TrimSpace(file)
	if file == "" {
		return func(string) bool { return true }
	}
	return func(line string) bool {
		var entry struct {
			File string `json:"file"`
		}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return strings.Contains(line, file)
		}
		return entry.File == file
	}
}

func newScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return scanner
}

func readLastLines(path string, limit int, match func(string) bool) ([]string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	if limit <= 0 {
		end, err := file.Seek(0, io.SeekEnd)
		if err != nil {
			return nil, 0, fmt.Errorf("seek log file: %w", err)
		}
		return nil, end, nil
	}

	ring := make([]string, limit)
	count, idx := 0, 0
	var read int64
	scanner := newScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		read += int64(len(scanner.Bytes())) + 1
		if !match(line) {
			continue
		}
		ring[idx] = line
		idx = (idx + 1) % limit
		if count < limit {
			count++
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("read log file: %w", err)
	}

	lines := make([]string, count)
	if count == limit {
		for i := range count {
			lines[i] = ring[(idx+i)%limit]
		}
	} else {
		copy(lines, ring[:count])
	}
	return lines, completeOffset(file, read), nil
}

func readForward(path string, offset int64, match func(string) bool) ([]string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return nil, 0, fmt.Errorf("seek log file: %w", err)
	}

	var lines []string
	read := offset
	scanner := newScanner(file)
	for scanner.Scan() {
		read += int64(len(scanner.Bytes())) + 1
		if line := scanner.Text(); match(line) {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("read log file: %w", err)
	}
	return lines, completeOffset(file, read), nil
}

// completeOffset clamps the scanned byte count to the file size. The scanner
// counts a newline after the final line even when the writer has not
// finished it yet.
func completeOffset(file *os.File, read int64) int64 {
	info, err := file.Stat()
	if err != nil || read <= info.Size() {
		return read
	}
	return info.Size()
}

func waitForLines(ctx context.Context, path string, offset int64, wait time.Duration, match func(string) bool) (TailResult, error) {
	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	poll := time.NewTicker(pollInterval)
	defer poll.Stop()

	var changes <-chan fsnotify.Event
	if watcher, err := fsnotify.NewWatcher(); err == nil {
		defer watcher.Close()
		if err := watcher.Add(path); err == nil {
			changes = watcher.Events
			poll.Reset(4 * pollInterval)
		}
	}

	result := TailResult{Offset: offset}
	for {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-deadline.C:
			return result, nil
		case ev, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
		case <-poll.C:
		}

		lines, end, err := readForward(path, result.Offset, match)
		if err != nil {
			return result, err
		}
		result.Offset = end
		if len(lines) > 0 {
			result.Lines = lines
			return result, nil
		}
	}
}
