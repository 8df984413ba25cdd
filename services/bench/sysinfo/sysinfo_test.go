// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sysinfo

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/parbench/services/bench/runner"
)

func fakeHost(t *testing.T) (procDir, osRelease string) {
	t.Helper()
	dir := t.TempDir()
	procDir = filepath.Join(dir, "proc")
	require.NoError(t, os.MkdirAll(procDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(procDir, "meminfo"),
		[]byte("MemTotal:       16316412 kB\nMemFree:         1000000 kB\n"), 0o644))

	osRelease = filepath.Join(dir, "os-release")
	require.NoError(t, os.WriteFile(osRelease,
		[]byte("NAME=\"Ubuntu\"\nPRETTY_NAME=\"Ubuntu 24.04.1 LTS\"\nID=ubuntu\n"), 0o644))
	return procDir, osRelease
}

func commandRunner() *runner.MockRunner {
	return &runner.MockRunner{
		RunFunc: func(ctx context.Context, req runner.Request) (runner.Result, error) {
			switch req.Path {
			case "gcc":
				return runner.Result{Stdout: "gcc (Ubuntu 13.2.0-23ubuntu4) 13.2.0\nCopyright (C) 2023\n"}, nil
			case "getconf":
				return runner.Result{Stdout: "64\n"}, nil
			}
			return runner.Result{ExitCode: 127}, nil
		},
	}
}

func TestCollector_Collect(t *testing.T) {
	procDir, osRelease := fakeHost(t)
	mock := commandRunner()
	p := &Collector{Runner: mock, ProcFS: procDir, OSRelease: osRelease}

	info, err := p.Collect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "Ubuntu 24.04.1 LTS", info.OSVersion)
	assert.Equal(t, 15934, info.MemoryMB)
	assert.Equal(t, "gcc (Ubuntu 13.2.0-23ubuntu4) 13.2.0", info.Compiler)
	assert.Equal(t, "v13.2.0", info.CompilerVersion)
	assert.Equal(t, 64, info.CacheLineSize)
	assert.Positive(t, info.Cores)
	assert.NotEmpty(t, info.SystemName)

	calls := mock.GetCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, []string{"--version"}, calls[0].Args)
	assert.Equal(t, []string{"LEVEL1_DCACHE_LINESIZE"}, calls[1].Args)
}

func TestCollector_MissingSources(t *testing.T) {
	dir := t.TempDir()
	mock := &runner.MockRunner{
		RunFunc: func(ctx context.Context, req runner.Request) (runner.Result, error) {
			return runner.Result{}, errors.New("executable file not found")
		},
	}
	p := &Collector{
		Runner:    mock,
		ProcFS:    filepath.Join(dir, "absent"),
		OSRelease: filepath.Join(dir, "absent-os-release"),
		Compiler:  "clang",
	}

	info, err := p.Collect(context.Background())
	require.NoError(t, err)
	assert.Empty(t, info.OSVersion)
	assert.Zero(t, info.MemoryMB)
	assert.Empty(t, info.Compiler)
	assert.Empty(t, info.CompilerVersion)
	assert.Equal(t, "clang", mock.GetCalls()[0].Path)
}

func TestCollector_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &Collector{Runner: commandRunner()}
	_, err := p.Collect(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestInfo_WriteINI(t *testing.T) {
	info := Info{
		SystemName:      "Linux host 6.8.0 #1 SMP x86_64",
		CPUName:         "AMD Ryzen 7 5800X 8-Core Processor",
		Cores:           16,
		OSVersion:       "Ubuntu 24.04.1 LTS",
		MemoryMB:        2048,
		Compiler:        "gcc (GCC) 14.1.0",
		CompilerVersion: "v14.1.0",
		CacheLineSize:   64,
	}
	var buf bytes.Buffer
	require.NoError(t, info.WriteINI(&buf))
	out := buf.String()

	assert.True(t, strings.HasPrefix(out, "[SystemInfo]\n"))
	assert.Contains(t, out, "cpuname = AMD Ryzen 7 5800X 8-Core Processor\n")
	assert.Contains(t, out, "numberofcores = 16\n")
	assert.Contains(t, out, "physicalcores = \n")
	assert.Contains(t, out, "memory = 2.0 GiB\n")
	assert.Contains(t, out, "cachelinelength = 64\n")

	path := filepath.Join(t.TempDir(), "results", "system.ini")
	require.NoError(t, info.SaveINI(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, out, string(data))
}

func TestCompilerVersion(t *testing.T) {
	tests := []struct {
		banner string
		want   string
	}{
		{"gcc (Ubuntu 13.2.0-23ubuntu4) 13.2.0", "v13.2.0"},
		{"gcc (GCC) 4.8.5 20150623 (Red Hat 4.8.5-44)", "v4.8.5"},
		{"clang version 17.0", "v17.0.0"},
		{"no version here", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.banner, func(t *testing.T) {
			assert.Equal(t, tt.want, CompilerVersion(tt.banner))
		})
	}
}

func TestCheckCompiler(t *testing.T) {
	assert.NoError(t, CheckCompiler("v13.2.0", ""))
	assert.NoError(t, CheckCompiler("v13.2.0", "9"))
	assert.NoError(t, CheckCompiler("v13.2.0", "v13.2.0"))
	assert.ErrorIs(t, CheckCompiler("v8.5.0", "9.1"), ErrCompilerTooOld)
	assert.ErrorIs(t, CheckCompiler("", "9"), ErrCompilerTooOld)
	assert.Error(t, CheckCompiler("v13.2.0", "latest"))
}
