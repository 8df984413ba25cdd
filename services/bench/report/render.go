// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package report

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/parbench/services/bench/sink"
)

// Job renders one output file.
type Job struct {
	// Name identifies the job in errors, usually the output path.
	Name   string
	Render func(ctx context.Context) error
}

// RunJobs renders jobs concurrently with at most limit in flight.
//
// # Description
//
// Rendering happens after the sweep, never during measurement. The first
// failure cancels the context handed to the remaining jobs and is returned.
// A limit of zero uses GOMAXPROCS.
func RunJobs(ctx context.Context, jobs []Job, limit int) error {
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, job := range jobs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := job.Render(ctx); err != nil {
				return fmt.Errorf("%s: %w", job.Name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// TableOutput is where one table type of one exercise is written.
type TableOutput struct {
	// CSVPath receives the wide table(s). Split tables add "__<suffix>"
	// before the extension.
	CSVPath string

	// TexPath receives the LaTeX fragment. Split tables are combined into
	// one grouped fragment, unless they are grouped themselves; then each
	// split gets its own fragment next to TexPath.
	TexPath string
}

// SplitPath inserts "__suffix" before the extension of path.
func SplitPath(path, suffix string) string {
	if suffix == "" {
		return path
	}
	ext := filepath.Ext(path)
	return path[:len(path)-len(ext)] + "__" + suffix + ext
}

// WideJobs returns the jobs writing the CSV and LaTeX outputs of wide
// tables produced by one Pivot call.
func WideJobs(tables []Wide, out TableOutput, opts LatexOptions) []Job {
	var jobs []Job
	for _, w := range tables {
		path := SplitPath(out.CSVPath, w.Suffix())
		jobs = append(jobs, Job{Name: path, Render: func(context.Context) error {
			return sink.WriteTable(path, w.Header(), w.Records(), sink.DefaultDelimiter)
		}})
	}
	if out.TexPath == "" {
		return jobs
	}

	if len(tables) > 1 && tables[0].GroupLabel != "" {
		for _, w := range tables {
			path := SplitPath(out.TexPath, w.Suffix())
			jobs = append(jobs, Job{Name: path, Render: func(context.Context) error {
				text, err := Latex(w, opts)
				if err != nil {
					return err
				}
				return writeText(path, text)
			}})
		}
		return jobs
	}

	jobs = append(jobs, Job{Name: out.TexPath, Render: func(context.Context) error {
		var text string
		var err error
		switch {
		case len(tables) == 1:
			text, err = Latex(tables[0], opts)
		case len(tables) > 1:
			var buf bytes.Buffer
			err = WriteLatexGrouped(&buf, BlocksFromSplits(tables), opts)
			text = buf.String()
		}
		if err != nil {
			return err
		}
		return writeText(out.TexPath, text)
	}})
	return jobs
}

func writeText(path, text string) error {
	return sink.ReplaceFile(path, []byte(text))
}
