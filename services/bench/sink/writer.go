// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package sink persists benchmark rows as delimited text.

Rows are appended one at a time as soon as a configuration finishes, so an
interrupted sweep leaves every completed row on disk. Each row is encoded in
memory and written with a single write(2) on an O_APPEND descriptor; a crash
can at worst leave one partial trailing line, which the next writer cuts off
and which ReadTable ignores.
*/
package sink

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/AleutianAI/parbench/services/bench/datatypes"
)

// =============================================================================
// Sentinel Errors
// =============================================================================

var (
	// ErrMissingFile is returned by ReadTable when the file does not exist.
	ErrMissingFile = errors.New("result file not found")

	// ErrLocked is returned when another writer holds the file.
	ErrLocked = errors.New("result file is locked by another writer")

	// ErrClosed is returned when writing to a closed Writer.
	ErrClosed = errors.New("writer is closed")

	// ErrFieldCount is returned when a record does not match the header.
	ErrFieldCount = errors.New("record does not match header")
)

// DefaultDelimiter separates fields in aggregated files.
const DefaultDelimiter = ','

// RawDelimiter separates fields in per-repetition files.
const RawDelimiter = ';'

// Options configures a Writer.
type Options struct {
	// Clean truncates the file once when the Writer is opened.
	Clean bool

	// Delimiter defaults to DefaultDelimiter.
	Delimiter rune
}

func (o Options) delimiter() rune {
	if o.Delimiter == 0 {
		return DefaultDelimiter
	}
	return o.Delimiter
}

// Writer appends rows to one file for the duration of a run.
//
// # Description
//
// Open creates parent directories, takes an exclusive lock, truncates in
// clean mode, cuts off a partial trailing line and writes the header if the
// file is empty. The header of an existing file is not rewritten.
//
// # Thread Safety
//
// Safe for concurrent use; writes are serialized.
type Writer struct {
	path   string
	header []string
	delim  rune

	mu     sync.Mutex
	f      *os.File
	closed bool
}

// Open prepares path for appending.
//
// # Inputs
//
//   - path: Target file. Parent directories are created.
//   - header: Column names written when the file is empty.
//   - opts: Clean mode and delimiter.
//
// # Outputs
//
//   - *Writer: Holds the lock until Close.
//   - error: ErrLocked, or a filesystem error naming the path.
func Open(path string, header []string, opts Options) (*Writer, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create directory for %s: %w", path, err)
		}
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	w := &Writer{path: path, header: append([]string(nil), header...), delim: opts.delimiter(), f: f}
	if err := w.prepare(opts.Clean); err != nil {
		w.Close()
		return nil, err
	}
	return w, nil
}

// prepare truncates or repairs the file and writes the header when empty.
func (w *Writer) prepare(clean bool) error {
	if clean {
		if err := w.f.Truncate(0); err != nil {
			return fmt.Errorf("truncate %s: %w", w.path, err)
		}
	}

	size, err := repairTail(w.f)
	if err != nil {
		return fmt.Errorf("repair %s: %w", w.path, err)
	}
	if size == 0 && len(w.header) > 0 {
		return w.writeRecord(w.header)
	}
	return nil
}

// repairTail truncates f after its last newline and returns the new size.
func repairTail(f *os.File) (int64, error) {
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	size := info.Size()
	if size == 0 {
		return 0, nil
	}

	const chunk = 4096
	buf := make([]byte, chunk)
	end := size
	for end > 0 {
		start := max(end-chunk, 0)
		n, err := f.ReadAt(buf[:end-start], start)
		if err != nil && !errors.Is(err, io.EOF) {
			return 0, err
		}
		if end == size && n > 0 && buf[n-1] == '\n' {
			return size, nil
		}
		if i := bytes.LastIndexByte(buf[:n], '\n'); i >= 0 {
			keep := start + int64(i) + 1
			return keep, f.Truncate(keep)
		}
		end = start
	}
	return 0, f.Truncate(0)
}

// Path returns the file path.
func (w *Writer) Path() string { return w.path }

// Header returns the header this Writer was opened with.
func (w *Writer) Header() []string { return append([]string(nil), w.header...) }

// Write appends one record.
//
// # Description
//
// The record is encoded fully in memory and written with one call. A
// record with a different field count from a non-empty header is rejected
// before anything is written.
func (w *Writer) Write(record []string) error {
	if len(w.header) > 0 && len(record) != len(w.header) {
		return fmt.Errorf("%w: %d fields, header has %d", ErrFieldCount, len(record), len(w.header))
	}
	return w.writeRecord(record)
}

// WriteRow appends an aggregated row.
func (w *Writer) WriteRow(row datatypes.Row) error {
	return w.Write(row.Record())
}

func (w *Writer) writeRecord(record []string) error {
	line, err := encode(record, w.delim)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if _, err := w.f.Write(line); err != nil {
		return fmt.Errorf("write %s: %w", w.path, err)
	}
	return nil
}

// Close releases the lock and closes the file. Closing twice is a no-op.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	unlockErr := unlockFile(w.f)
	return errors.Join(unlockErr, w.f.Close())
}

func encode(record []string, delim rune) ([]byte, error) {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	cw.Comma = delim
	if err := cw.Write(record); err != nil {
		return nil, err
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// AppendRow opens path, appends one record and closes it.
//
// # Example
//
//	err := sink.AppendRow("results/life.csv", row.Header(), row.Record())
func AppendRow(path string, header, record []string) error {
	w, err := Open(path, header, Options{})
	if err != nil {
		return err
	}
	if err := w.Write(record); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
