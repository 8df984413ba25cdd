// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sink

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/AleutianAI/parbench/services/bench/datatypes"
)

// ErrMalformed is returned for a malformed line that is not the last one.
var ErrMalformed = errors.New("malformed line")

// ErrNotAggregated is returned when a table lacks the aggregated columns.
var ErrNotAggregated = errors.New("not an aggregated result table")

// Table is a parsed result file.
type Table struct {
	Path   string
	Header []string
	Rows   [][]string
}

// ReadTable reads a delimited file written by Writer.
//
// # Description
//
// A missing file yields an error wrapping ErrMissingFile that names the
// path. The last line is dropped if it is incomplete (no trailing newline)
// or has the wrong number of fields; a malformed line anywhere else is an
// error. Blank lines are skipped.
//
// # Inputs
//
//   - path: File to read.
//   - delim: Field delimiter; zero means DefaultDelimiter.
func ReadTable(path string, delim rune) (Table, error) {
	if delim == 0 {
		delim = DefaultDelimiter
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Table{}, fmt.Errorf("%w: %s", ErrMissingFile, path)
		}
		return Table{}, fmt.Errorf("read %s: %w", path, err)
	}

	text := string(data)
	lines := strings.Split(text, "\n")
	// Split leaves "" after a final newline; anything else is a partial line.
	lines = lines[:len(lines)-1]

	t := Table{Path: path}
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		last := i == len(lines)-1
		record, err := decode(line, delim)
		if err == nil && t.Header != nil && len(record) != len(t.Header) {
			err = fmt.Errorf("%d fields, header has %d", len(record), len(t.Header))
		}
		if err != nil {
			if last {
				break
			}
			return Table{}, fmt.Errorf("%s:%d: %w: %v", path, i+1, ErrMalformed, err)
		}
		if t.Header == nil {
			t.Header = record
			continue
		}
		t.Rows = append(t.Rows, record)
	}
	return t, nil
}

func decode(line string, delim rune) ([]string, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.Comma = delim
	r.FieldsPerRecord = -1
	return r.Read()
}

// Column returns the index of the named column, or -1.
func (t Table) Column(name string) int {
	return slices.Index(t.Header, name)
}

// Aggregated parses a table written from datatypes.Row records.
//
// # Description
//
// The axis columns are everything before the "trials" column; the columns
// from "trials" on must equal datatypes.RowHeader.
func (t Table) Aggregated() ([]datatypes.Row, error) {
	split := t.Column(datatypes.RowHeader[0])
	if split < 0 || !slices.Equal(t.Header[split:], datatypes.RowHeader) {
		return nil, fmt.Errorf("%w: %s", ErrNotAggregated, t.Path)
	}
	axes := t.Header[:split]

	rows := make([]datatypes.Row, 0, len(t.Rows))
	for i, rec := range t.Rows {
		trials, err1 := strconv.Atoi(rec[split])
		samples, err2 := strconv.Atoi(rec[split+1])
		if err := errors.Join(err1, err2); err != nil {
			return nil, fmt.Errorf("%s row %d: %w", t.Path, i+1, err)
		}
		v := rec[split+2:]
		rows = append(rows, datatypes.Row{
			Config:        datatypes.NewConfiguration(axes, rec[:split]),
			Trials:        trials,
			Samples:       samples,
			Mean:          datatypes.ParseOptional(v[0]),
			Min:           datatypes.ParseOptional(v[1]),
			Max:           datatypes.ParseOptional(v[2]),
			StdDev:        datatypes.ParseOptional(v[3]),
			CILow:         datatypes.ParseOptional(v[4]),
			CIHigh:        datatypes.ParseOptional(v[5]),
			SecondaryMean: datatypes.ParseOptional(v[6]),
			Speedup:       datatypes.ParseOptional(v[7]),
			Efficiency:    datatypes.ParseOptional(v[8]),
		})
	}
	return rows, nil
}

// ReadRows reads an aggregated result file.
func ReadRows(path string) ([]datatypes.Row, error) {
	t, err := ReadTable(path, DefaultDelimiter)
	if err != nil {
		return nil, err
	}
	return t.Aggregated()
}

// WriteTable replaces path with header and rows, creating parent
// directories. Used for files regenerated in full.
//
// # Description
//
// Every record is encoded before the file system is touched, so a record
// with the wrong field count leaves the existing file as it was. The new
// contents then go through ReplaceFile.
func WriteTable(path string, header []string, rows [][]string, delim rune) error {
	if delim == 0 {
		delim = DefaultDelimiter
	}
	var buf bytes.Buffer
	if len(header) > 0 {
		line, err := encode(header, delim)
		if err != nil {
			return fmt.Errorf("encode header of %s: %w", path, err)
		}
		buf.Write(line)
	}
	for i, r := range rows {
		if len(header) > 0 && len(r) != len(header) {
			return fmt.Errorf("%s row %d: %w: %d fields, header has %d", path, i, ErrFieldCount, len(r), len(header))
		}
		line, err := encode(r, delim)
		if err != nil {
			return fmt.Errorf("encode %s row %d: %w", path, i, err)
		}
		buf.Write(line)
	}
	return ReplaceFile(path, buf.Bytes())
}

// ReplaceFile atomically replaces path with data.
//
// # Description
//
// The data is written to a temporary file in the same directory, synced
// and renamed over path. The exclusive lock on path is held throughout, so
// a running Writer makes ReplaceFile fail with ErrLocked. On any error the
// previous contents of path are untouched, a path that did not exist
// before is not left behind, and the temporary file is removed.
func ReplaceFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", path, err)
	}

	_, statErr := os.Stat(path)
	created := errors.Is(statErr, fs.ErrNotExist)
	target, err := os.OpenFile(path, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer target.Close()
	if err := lockFile(target); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	defer unlockFile(target)

	success := false
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		if created {
			os.Remove(path)
		}
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if !success {
			os.Remove(tmpPath)
			if created {
				os.Remove(path)
			}
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpPath, err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return fmt.Errorf("chmod %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	success = true
	return nil
}
