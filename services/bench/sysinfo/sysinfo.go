// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sysinfo records the machine a benchmark ran on.
//
// Results of parallel benchmarks are meaningless without the core count,
// CPU model, cache line size and compiler that produced them. The Collector
// gathers these once per run and writes them next to the CSV results.
package sysinfo

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/cpuid/v2"
	"github.com/prometheus/procfs"
	"golang.org/x/mod/semver"

	"github.com/AleutianAI/parbench/services/bench/runner"
)

// ErrCompilerTooOld is returned by CheckCompiler.
var ErrCompilerTooOld = errors.New("compiler version below minimum")

// Info is the collected description of the host.
type Info struct {
	SystemName string
	CPUName    string
	Cores      int

	// PhysicalCores is zero when the CPU does not report it.
	PhysicalCores int

	OSVersion string
	MemoryMB  int

	// Compiler is the first line of `<compiler> --version`.
	Compiler string

	// CompilerVersion is Compiler's version in canonical semver form
	// ("v13.2.0"), empty when it could not be recognised.
	CompilerVersion string

	CacheLineSize int
}

// Field is one key/value pair of Info in output order.
type Field struct {
	Key   string
	Value string
}

// Fields returns Info as ordered pairs. Unknown values are empty.
func (i Info) Fields() []Field {
	itoa := func(n int) string {
		if n <= 0 {
			return ""
		}
		return strconv.Itoa(n)
	}
	mem := ""
	if i.MemoryMB > 0 {
		mem = humanize.IBytes(uint64(i.MemoryMB) * 1024 * 1024)
	}
	return []Field{
		{"systemname", i.SystemName},
		{"cpuname", i.CPUName},
		{"numberofcores", itoa(i.Cores)},
		{"physicalcores", itoa(i.PhysicalCores)},
		{"osversion", i.OSVersion},
		{"memory", mem},
		{"gccversion", i.Compiler},
		{"compilerversion", i.CompilerVersion},
		{"cachelinelength", itoa(i.CacheLineSize)},
	}
}

// WriteINI writes Info as a single [SystemInfo] section.
func (i Info) WriteINI(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "[SystemInfo]")
	for _, f := range i.Fields() {
		fmt.Fprintf(bw, "%s = %s\n", f.Key, f.Value)
	}
	fmt.Fprintln(bw)
	return bw.Flush()
}

// SaveINI writes Info to path, creating parent directories.
func (i Info) SaveINI(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := i.WriteINI(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// -----------------------------------------------------------------------------
// Collector
// -----------------------------------------------------------------------------

// Collector gathers Info from the running system.
//
// # Description
//
// Kernel identity comes from uname(2), CPU model and memory from procfs
// with CPUID as a fallback, the OS name from os-release, and the compiler
// and cache line size from external commands run through Runner.
// Every source is best effort: a missing value is left empty and logged.
//
// # Thread Safety
//
// Safe for concurrent use if Runner is.
type Collector struct {
	Runner runner.Runner

	// ProcFS is the procfs mount point. Empty means /proc.
	ProcFS string

	// OSRelease is the os-release file. Empty means /etc/os-release.
	OSRelease string

	// Compiler is the compiler executable. Empty means gcc.
	Compiler string

	Logger *slog.Logger
}

// Collect gathers Info. It only fails when ctx is cancelled.
func (p *Collector) Collect(ctx context.Context) (Info, error) {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	info := Info{
		Cores:         runtime.NumCPU(),
		PhysicalCores: cpuid.CPU.PhysicalCores,
	}

	if name, err := systemName(); err != nil {
		logger.Debug("uname failed", "error", err)
	} else {
		info.SystemName = name
	}

	info.CPUName, info.MemoryMB = p.procInfo(logger)
	if info.CPUName == "" {
		info.CPUName = strings.TrimSpace(cpuid.CPU.BrandName)
	}

	if v, err := readOSRelease(p.osRelease()); err != nil {
		logger.Debug("os-release unreadable", "error", err)
	} else {
		info.OSVersion = v
	}

	if err := ctx.Err(); err != nil {
		return info, err
	}
	info.Compiler = p.firstLine(ctx, logger, p.compiler(), "--version")
	info.CompilerVersion = CompilerVersion(info.Compiler)

	if err := ctx.Err(); err != nil {
		return info, err
	}
	if n, err := strconv.Atoi(p.firstLine(ctx, logger, "getconf", "LEVEL1_DCACHE_LINESIZE")); err == nil && n > 0 {
		info.CacheLineSize = n
	} else {
		info.CacheLineSize = cpuid.CPU.CacheLine
	}
	return info, ctx.Err()
}

func (p *Collector) compiler() string {
	if p.Compiler == "" {
		return "gcc"
	}
	return p.Compiler
}

func (p *Collector) osRelease() string {
	if p.OSRelease == "" {
		return "/etc/os-release"
	}
	return p.OSRelease
}

func (p *Collector) procInfo(logger *slog.Logger) (model string, memMB int) {
	mount := p.ProcFS
	if mount == "" {
		mount = procfs.DefaultMountPoint
	}
	fs, err := procfs.NewFS(mount)
	if err != nil {
		logger.Debug("procfs unavailable", "error", err)
		return "", 0
	}
	if cpus, err := fs.CPUInfo(); err == nil && len(cpus) > 0 {
		model = strings.TrimSpace(cpus[0].ModelName)
	} else if err != nil {
		logger.Debug("cpuinfo unreadable", "error", err)
	}
	if mem, err := fs.Meminfo(); err == nil && mem.MemTotal != nil {
		memMB = int(*mem.MemTotal / 1024)
	} else if err != nil {
		logger.Debug("meminfo unreadable", "error", err)
	}
	return model, memMB
}

// firstLine runs a command and returns the first line of its stdout, or ""
// on any failure.
func (p *Collector) firstLine(ctx context.Context, logger *slog.Logger, path string, args ...string) string {
	if p.Runner == nil {
		return ""
	}
	res, err := p.Runner.Run(ctx, runner.Request{Path: path, Args: args})
	if err != nil || res.ExitCode != 0 {
		logger.Debug("system info command failed", "command", path, "exit_code", res.ExitCode, "error", err)
		return ""
	}
	line, _, _ := strings.Cut(res.Stdout, "\n")
	return strings.TrimSpace(line)
}

// readOSRelease returns PRETTY_NAME from an os-release file.
func readOSRelease(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), "=")
		if ok && key == "PRETTY_NAME" {
			return strings.Trim(strings.TrimSpace(value), `"`), nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("PRETTY_NAME not found in %s", path)
}

// -----------------------------------------------------------------------------
// Compiler versions
// -----------------------------------------------------------------------------

var versionPattern = regexp.MustCompile(`\b(\d+)\.(\d+)(?:\.(\d+))?\b`)

// CompilerVersion extracts the last dotted version number of a compiler's
// version banner and returns it in canonical semver form.
//
//	CompilerVersion("gcc (Ubuntu 13.2.0-23ubuntu4) 13.2.0") == "v13.2.0"
//	CompilerVersion("clang version 17.0") == "v17.0.0"
func CompilerVersion(banner string) string {
	matches := versionPattern.FindAllString(banner, -1)
	if len(matches) == 0 {
		return ""
	}
	return semver.Canonical("v" + matches[len(matches)-1])
}

// CheckCompiler reports ErrCompilerTooOld when version is older than min.
// An empty min accepts anything; an unrecognised version is rejected.
func CheckCompiler(version, min string) error {
	if min == "" {
		return nil
	}
	want := semver.Canonical(ensureV(min))
	if want == "" {
		return fmt.Errorf("invalid minimum compiler version %q", min)
	}
	if !semver.IsValid(version) || semver.Compare(version, want) < 0 {
		return fmt.Errorf("%w: have %q, need %s", ErrCompilerTooOld, version, want)
	}
	return nil
}

func ensureV(v string) string {
	if strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}
