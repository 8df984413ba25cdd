// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/parbench/services/bench/exercise"
)

func TestDefaultConfig_Validates(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "results", cfg.ResultsRoot)
	assert.Equal(t, "pdf", cfg.Render.PlotFormat)

	cat, err := cfg.Catalogue()
	require.NoError(t, err)
	assert.Contains(t, cat.Names(), "backsub")
}

func TestInit_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "parbench.yaml")
	require.NoError(t, Init(path))

	loaded, err := Load(path)
	require.NoError(t, err)

	def := DefaultConfig()
	assert.Equal(t, def.ResultsRoot, loaded.ResultsRoot)
	require.Len(t, loaded.Exercises, len(def.Exercises))
	for i := range def.Exercises {
		assert.Equal(t, def.Exercises[i].Name, loaded.Exercises[i].Name)
		assert.Equal(t, def.Exercises[i].Axes, loaded.Exercises[i].Axes)
		assert.Equal(t, def.Exercises[i].Timeout, loaded.Exercises[i].Timeout)
	}

	err = Init(path)
	assert.True(t, errors.Is(err, ErrConfigExists), "second Init = %v", err)
}

func TestLoad_NoFile(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv(EnvConfig, "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, len(exercise.Builtin()), len(cfg.Exercises))
}

func TestLoad_PartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parbench.yaml")
	data := `
results_root: /tmp/out
timeouts:
  trial: 2m
render:
  plot_format: svg
  concurrency: 2
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	t.Setenv(EnvConfig, path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/out", cfg.ResultsRoot)
	assert.Equal(t, 2*time.Minute, cfg.Timeouts.Trial)
	assert.Equal(t, "svg", cfg.Render.PlotFormat)
	assert.Equal(t, 2, cfg.Render.Concurrency)
	assert.NotEmpty(t, cfg.Exercises, "missing exercises keep the built-in catalogue")
}

func TestLoad_CustomExercise(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parbench.yaml")
	data := `
results_root: out
render:
  plot_format: png
exercises:
  - name: sleepy
    command: ./sleepy
    args: ["{{.threads}}"]
    axes:
      - name: threads
        values: ["1", "2", "4"]
    worker_axis: threads
    repetitions: 2
    timeout: 90s
    patterns:
      time: elapsed
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Exercises, 1)
	e := cfg.Exercises[0]
	assert.Equal(t, "sleepy", e.Name)
	assert.Equal(t, 90*time.Second, e.Timeout)
	assert.Equal(t, []string{"1", "2", "4"}, e.Axes[0].Values)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"unknown field", "results_root: out\nrender:\n  plot_format: pdf\ncolour: teal\n"},
		{"bad format", "results_root: out\nrender:\n  plot_format: gif\n"},
		{"missing root", "results_root: \"\"\nrender:\n  plot_format: pdf\n"},
		{"bad yaml", "results_root: [\n"},
		{"invalid exercise", `
results_root: out
render:
  plot_format: pdf
exercises:
  - name: broken
    command: ./x
    axes: []
    repetitions: 1
    patterns:
      time: elapsed
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "parbench.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.data), 0o644))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
