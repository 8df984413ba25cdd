// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package runner

import (
	"context"
	"fmt"
	"log/slog"
)

// DefaultBuildTool is used when Builder.Tool is empty.
const DefaultBuildTool = "make"

// Builder drives the external build tool with its two verbs.
//
// Description:
//
//	Clean runs "<tool> -C <dir> clean" and Build runs "<tool> -C <dir>".
//	A failed build returns a *CommandError wrapping ErrBuildFailed; there is
//	no executable to benchmark afterwards.
//
// Thread Safety: Not safe for concurrent use on the same directory.
type Builder struct {
	Runner  Runner
	Tool    string
	Dir     string
	Timeout TimeoutConfig
	Logger  *slog.Logger

	// OnStep, when set, is called with "clean" or "build" before the tool
	// runs.
	OnStep func(step string)
}

// Clean removes previous build artifacts.
func (b *Builder) Clean(ctx context.Context) error {
	return b.invoke(ctx, "clean")
}

// Build compiles the benchmark program.
func (b *Builder) Build(ctx context.Context) error {
	return b.invoke(ctx, "")
}

// Rebuild cleans then builds. A failed clean is logged and does not stop the
// build; a failed build is returned.
func (b *Builder) Rebuild(ctx context.Context) error {
	if err := b.Clean(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b.logger().Warn("clean failed, building anyway", "dir", b.Dir, "error", err)
	}
	return b.Build(ctx)
}

func (b *Builder) invoke(ctx context.Context, verb string) error {
	tool := b.Tool
	if tool == "" {
		tool = DefaultBuildTool
	}
	var args []string
	if b.Dir != "" {
		args = append(args, "-C", b.Dir)
	}
	if verb != "" {
		args = append(args, verb)
	}
	req := Request{Path: tool, Args: args, Timeout: b.Timeout.Validated().Build}
	if b.OnStep != nil {
		step := verb
		if step == "" {
			step = "build"
		}
		b.OnStep(step)
	}

	b.logger().Info("build", "command", req.CommandLine())
	res, err := b.Runner.Run(ctx, req)
	if err != nil {
		return fmt.Errorf("%s: %w", req.CommandLine(), err)
	}
	if res.TimedOut {
		return NewCommandError(req.CommandLine(), res.ExitCode, res.Stderr,
			fmt.Errorf("%w: timed out after %s", ErrBuildFailed, req.Timeout))
	}
	if res.ExitCode != 0 {
		return NewCommandError(req.CommandLine(), res.ExitCode, res.Stderr, ErrBuildFailed)
	}
	return nil
}

func (b *Builder) logger() *slog.Logger {
	if b.Logger == nil {
		return slog.Default()
	}
	return b.Logger
}
