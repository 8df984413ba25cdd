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
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilder_Rebuild(t *testing.T) {
	t.Run("clean then build", func(t *testing.T) {
		m := &MockRunner{RunFunc: func(ctx context.Context, req Request) (Result, error) {
			return Result{}, nil
		}}
		b := &Builder{Runner: m, Dir: "../source/parallel"}
		require.NoError(t, b.Rebuild(context.Background()))

		calls := m.GetCalls()
		require.Len(t, calls, 2)
		assert.Equal(t, "make", calls[0].Path)
		assert.Equal(t, []string{"-C", "../source/parallel", "clean"}, calls[0].Args)
		assert.Equal(t, []string{"-C", "../source/parallel"}, calls[1].Args)
	})

	t.Run("steps are reported", func(t *testing.T) {
		m := &MockRunner{RunFunc: func(ctx context.Context, req Request) (Result, error) {
			return Result{}, nil
		}}
		var steps []string
		b := &Builder{Runner: m, OnStep: func(step string) { steps = append(steps, step) }}
		require.NoError(t, b.Rebuild(context.Background()))
		assert.Equal(t, []string{"clean", "build"}, steps)
	})

	t.Run("failed clean is tolerated", func(t *testing.T) {
		m := &MockRunner{RunFunc: func(ctx context.Context, req Request) (Result, error) {
			if len(req.Args) > 0 && req.Args[len(req.Args)-1] == "clean" {
				return Result{ExitCode: 2, Stderr: "No rule to make target 'clean'"}, nil
			}
			return Result{}, nil
		}}
		b := &Builder{Runner: m, Tool: "gmake"}
		require.NoError(t, b.Rebuild(context.Background()))
		assert.Len(t, m.GetCalls(), 2)
	})

	t.Run("failed build is a command error", func(t *testing.T) {
		m := &MockRunner{RunFunc: func(ctx context.Context, req Request) (Result, error) {
			if len(req.Args) == 0 {
				return Result{ExitCode: 2, Stderr: "main.c:10: error: expected ';'\n"}, nil
			}
			return Result{}, nil
		}}
		b := &Builder{Runner: m}
		err := b.Rebuild(context.Background())
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrBuildFailed))

		var cmdErr *CommandError
		require.True(t, errors.As(err, &cmdErr))
		assert.Equal(t, 2, cmdErr.ExitCode)
		assert.Equal(t, "make", cmdErr.Command)
		assert.True(t, cmdErr.HasStderr())
		assert.Contains(t, cmdErr.Error(), "expected ';'")
	})

	t.Run("runner error is wrapped", func(t *testing.T) {
		boom := errors.New("exec: make: not found")
		m := &MockRunner{RunFunc: func(ctx context.Context, req Request) (Result, error) {
			return Result{}, boom
		}}
		b := &Builder{Runner: m}
		err := b.Build(context.Background())
		assert.ErrorIs(t, err, boom)
	})
}

func TestCommandError(t *testing.T) {
	t.Run("stderr preferred", func(t *testing.T) {
		err := NewCommandError("make", 2, "  boom \n", ErrBuildFailed)
		assert.Equal(t, "make (exit 2): boom", err.Error())
		assert.ErrorIs(t, err, ErrBuildFailed)
	})

	t.Run("wrapped when no stderr", func(t *testing.T) {
		err := NewCommandError("make", 1, "", ErrBuildFailed)
		assert.Equal(t, "make (exit 1): build failed", err.Error())
		assert.False(t, err.HasStderr())
	})

	t.Run("bare", func(t *testing.T) {
		err := NewCommandError("make", 1, "", nil)
		assert.Equal(t, "make (exit 1)", err.Error())
		assert.Nil(t, err.Unwrap())
	})

	t.Run("long stderr keeps the tail", func(t *testing.T) {
		lines := []string{"l1", "l2", "l3", "l4", "l5", "l6", "l7"}
		err := NewCommandError("make", 2, strings.Join(lines, "\n"), nil)
		msg := err.Error()
		assert.NotContains(t, msg, "l2")
		assert.Contains(t, msg, "l7")
		assert.Contains(t, msg, "...")
	})
}
