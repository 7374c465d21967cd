package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

const (
	defaultPoll  = 250 * time.Millisecond
	maxLineBytes = 1024 * 1024
)

// File tails one log file by byte offset. It is not safe for concurrent use.
type File struct {
	path   string
	offset int64
	poll   time.Duration
}

// Open returns a tail positioned at the start of path. The file need not exist yet.
func Open(path string) *File {
	return &File{path: path, poll: defaultPoll}
}

// Offset returns the byte position of the next unread line.
func (f *File) Offset() int64 { return f.offset }

// Last returns up to n complete lines from the end of the file and positions
// the tail after them. n <= 0 skips to the end without returning lines.
func (f *File) Last(n int) ([]string, error) {
	f.offset = 0
	lines, err := f.read()
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}

// Next returns complete lines written since the last read. When none are
// available it polls until wait elapses, a line arrives, or ctx ends.
func (f *File) Next(ctx context.Context, wait time.Duration) ([]string, error) {
	deadline := time.Now().Add(wait)
	for {
		lines, err := f.read()
		if err != nil || len(lines) > 0 || !time.Now().Before(deadline) {
			return lines, err
		}
		timer := time.NewTimer(f.poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// read consumes complete lines after the current offset. A trailing line
// without a newline stays unread until the writer finishes it.
func (f *File) read() ([]string, error) {
	file, err := os.Open(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			f.offset = 0
			return nil, nil
		}
		return nil, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("log path %q is a directory", f.path)
	}
	if info.Size() < f.offset {
		f.offset = 0
	}
	if _, err := file.Seek(f.offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek log file: %w", err)
	}

	reader := bufio.NewReaderSize(file, 64*1024)
	var lines []string
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return lines, nil
			}
			return lines, fmt.Errorf("read log file: %w", err)
		}
		f.offset += int64(len(line))
		line = strings.TrimRight(line, "\r\n")
		if len(line) > maxLineBytes {
			line = line[:maxLineBytes]
		}
		lines = append(lines, line)
	}
}
