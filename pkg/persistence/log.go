// Package persistence contains the on-disk primitives used by transmitter
// nodes: an append-only newline-delimited JSON log and atomic whole-file
// JSON documents written through a temp file and a rename.
package persistence

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// maxLineSize bounds a single log record while scanning. Large embeddings
// (e.g. 3072 floats) plus payload comfortably fit.
const maxLineSize = 64 * 1024 * 1024

// LogWriter manages appends to a JSONL log file.
type LogWriter struct {
	mu   sync.Mutex
	file *os.File
	buf  *bufio.Writer
	path string
	sync bool
}

// OpenLog opens or creates a JSONL log at path. When syncWrites is set every
// Append is followed by an fsync.
func OpenLog(path string, syncWrites bool) (*LogWriter, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return &LogWriter{
		file: file,
		buf:  bufio.NewWriter(file),
		path: path,
		sync: syncWrites,
	}, nil
}

// Append encodes record as a single JSON line, writes it and flushes it to the
// OS. It returns the number of bytes written, newline included.
func (l *LogWriter) Append(record any) (int, error) {
	line, err := json.Marshal(record)
	if err != nil {
		return 0, fmt.Errorf("failed to encode log record: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return 0, os.ErrClosed
	}
	if _, err := l.buf.Write(line); err != nil {
		return 0, err
	}
	if err := l.buf.Flush(); err != nil {
		return 0, err
	}
	if l.sync {
		if err := l.file.Sync(); err != nil {
			return 0, err
		}
	}
	return len(line), nil
}

// Sync forces buffered data to disk (fsync).
func (l *LogWriter) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return os.ErrClosed
	}
	if err := l.buf.Flush(); err != nil {
		return err
	}
	return l.file.Sync()
}

// Truncate clears the log content.
func (l *LogWriter) Truncate() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return os.ErrClosed
	}
	l.buf.Reset(l.file)
	if err := l.file.Truncate(0); err != nil {
		return err
	}
	_, err := l.file.Seek(0, io.SeekStart)
	return err
}

// Close flushes and closes the underlying file. It is safe to call twice.
func (l *LogWriter) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	flushErr := l.buf.Flush()
	closeErr := l.file.Close()
	l.file = nil
	return errors.Join(flushErr, closeErr)
}

// Path returns the file path.
func (l *LogWriter) Path() string {
	return l.path
}

// ReadLog decodes every line of the JSONL file at path into fn and returns
// the byte length of the well-formed prefix. A missing file yields no records.
// Decoding stops at the first malformed line: a torn final write after a crash
// is expected and only logged (callers repair the file to the returned length before
// appending again), while a bad line followed by more data is an error.
func ReadLog[T any](path string, fn func(T) error) (int64, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	var valid int64
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Bytes()
		line := bytes.TrimSpace(raw)
		if len(line) == 0 {
			valid += int64(len(raw)) + 1
			continue
		}
		var rec T
		if err := json.Unmarshal(line, &rec); err != nil {
			if scanner.Scan() {
				return valid, fmt.Errorf("%s: corrupt record at line %d: %w", path, lineNo, err)
			}
			slog.Warn("Ignoring torn record at end of log", "path", path, "line", lineNo, "error", err)
			return valid, nil
		}
		if err := fn(rec); err != nil {
			return valid, err
		}
		valid += int64(len(raw)) + 1
	}
	return valid, scanner.Err()
}

// RepairLog makes the log at path end exactly at size, the length reported by
// ReadLog. A torn tail is truncated away. When only the final newline of the
// last record is missing (size is one byte past the end of file) the newline
// is written back so the next append starts on a fresh line.
func RepairLog(path string, size int64) error {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	switch {
	case info.Size() > size:
		slog.Warn("Trimming torn tail of log", "path", path, "from", info.Size(), "to", size)
		return os.Truncate(path, size)
	case info.Size() == size-1:
		slog.Warn("Restoring missing newline at end of log", "path", path)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return err
		}
		if _, err := f.Write([]byte{'\n'}); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}
	return nil
}
