// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package parser extracts measurements from the free-form output of
// benchmark programs.
//
// Each field of a TrialResult has at most one regular expression, taken
// from Catalogue by name or given literally, and the first capture group
// holds the value. A line that is not printed leaves the field absent;
// nothing is ever defaulted to zero. Self-check pairs compare an expected
// and an actual value printed by the program and mark the trial invalid
// when they disagree or only one half appears.
//
// # Basic Usage
//
//	p, err := parser.New(parser.Spec{Time: "elapsed", Checks: []parser.CheckSpec{{Name: "table-sum"}}})
//	res := p.Parse(stdout)
package parser

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/AleutianAI/parbench/services/bench/datatypes"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrNoTimePattern is returned when a Spec has no primary time pattern.
	ErrNoTimePattern = errors.New("time pattern is required")

	// ErrNoCaptureGroup is returned when a pattern has no capture group.
	ErrNoCaptureGroup = errors.New("pattern must have a capture group")
)

// -----------------------------------------------------------------------------
// Interface
// -----------------------------------------------------------------------------

// Parser turns the standard output of one benchmark run into a TrialResult.
//
// Description:
//
//	Parse never fails. Fields whose pattern does not match are absent in the
//	result. A failed self-check marks the result invalid.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Parser interface {
	Parse(stdout string) datatypes.TrialResult
}

// -----------------------------------------------------------------------------
// Spec
// -----------------------------------------------------------------------------

// Spec describes the patterns for one exercise. Each pattern is either a
// catalogue name (see Catalogue) or a regular expression whose first capture
// group holds the value.
type Spec struct {
	Time      string      `yaml:"time" validate:"required"`
	Secondary string      `yaml:"secondary,omitempty"`
	Checks    []CheckSpec `yaml:"checks,omitempty" validate:"dive"`
}

// CheckSpec names a self-check pair, either from CheckCatalogue by Name alone
// or with explicit Expected/Actual patterns.
type CheckSpec struct {
	Name     string `yaml:"name" validate:"required"`
	Expected string `yaml:"expected,omitempty"`
	Actual   string `yaml:"actual,omitempty"`
}

// CheckPair is a compiled self-check. Every match of Actual must equal the
// single value captured by Expected.
type CheckPair struct {
	Name     string
	Expected *regexp.Regexp
	Actual   *regexp.Regexp
}

// -----------------------------------------------------------------------------
// RegexParser
// -----------------------------------------------------------------------------

// RegexParser implements Parser with one regular expression per field.
//
// Thread Safety: Immutable after New; safe for concurrent use.
type RegexParser struct {
	time      *regexp.Regexp
	secondary *regexp.Regexp
	checks    []CheckPair
}

var _ Parser = (*RegexParser)(nil)

// New compiles a Spec.
//
// Description:
//
//	Resolves catalogue names, compiles every pattern and checks that each
//	has at least one capture group. All problems are reported together.
//
// Inputs:
//   - spec: Patterns to compile. Time is required.
//
// Outputs:
//   - *RegexParser: Ready to use parser.
//   - error: Joined compile errors, or nil.
func New(spec Spec) (*RegexParser, error) {
	var errs []error
	p := &RegexParser{}

	if strings.TrimSpace(spec.Time) == "" {
		errs = append(errs, ErrNoTimePattern)
	} else if re, err := compile("time", spec.Time); err != nil {
		errs = append(errs, err)
	} else {
		p.time = re
	}

	if spec.Secondary != "" {
		re, err := compile("secondary", spec.Secondary)
		if err != nil {
			errs = append(errs, err)
		} else {
			p.secondary = re
		}
	}

	for _, c := range spec.Checks {
		pair, err := compileCheck(c)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		p.checks = append(p.checks, pair)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return p, nil
}

// Parse extracts the measurements from stdout.
func (p *RegexParser) Parse(stdout string) datatypes.TrialResult {
	res := datatypes.TrialResult{
		Time:      findFloat(p.time, stdout),
		Secondary: findFloat(p.secondary, stdout),
		Valid:     true,
	}
	for _, c := range p.checks {
		if !c.passes(stdout) {
			res.Valid = false
			res.Cause = "self-check failed: " + c.Name
		}
	}
	return res
}

// passes reports whether the pair is absent from the output or agrees.
// A half-printed pair cannot be confirmed and does not pass.
func (c CheckPair) passes(stdout string) bool {
	exp := c.Expected.FindStringSubmatch(stdout)
	acts := c.Actual.FindAllStringSubmatch(stdout, -1)

	switch {
	case exp == nil && len(acts) == 0:
		return true
	case exp == nil || len(acts) == 0:
		return false
	}
	for _, act := range acts {
		if !sameValue(exp[1], act[1]) {
			return false
		}
	}
	return true
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func compile(field, pattern string) (*regexp.Regexp, error) {
	if named, ok := Catalogue[pattern]; ok {
		pattern = named
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%s pattern: %w", field, err)
	}
	if re.NumSubexp() < 1 {
		return nil, fmt.Errorf("%s pattern %q: %w", field, pattern, ErrNoCaptureGroup)
	}
	return re, nil
}

func compileCheck(c CheckSpec) (CheckPair, error) {
	expected, actual := c.Expected, c.Actual
	if named, ok := CheckCatalogue[c.Name]; ok {
		if expected == "" {
			expected = named.Expected
		}
		if actual == "" {
			actual = named.Actual
		}
	}
	if expected == "" || actual == "" {
		return CheckPair{}, fmt.Errorf("check %q: expected and actual patterns are required", c.Name)
	}
	exp, err := compile("check "+c.Name+" expected", expected)
	if err != nil {
		return CheckPair{}, err
	}
	act, err := compile("check "+c.Name+" actual", actual)
	if err != nil {
		return CheckPair{}, err
	}
	return CheckPair{Name: c.Name, Expected: exp, Actual: act}, nil
}

func findFloat(re *regexp.Regexp, s string) datatypes.Optional {
	if re == nil {
		return datatypes.None
	}
	m := re.FindStringSubmatch(s)
	if m == nil {
		return datatypes.None
	}
	v, err := strconv.ParseFloat(strings.TrimRight(m[1], "."), 64)
	if err != nil {
		return datatypes.None
	}
	return datatypes.Some(v)
}

// sameValue compares integers exactly, then floats, then raw text.
func sameValue(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if x, err := strconv.ParseInt(a, 10, 64); err == nil {
		if y, err := strconv.ParseInt(b, 10, 64); err == nil {
			return x == y
		}
	}
	if x, err := strconv.ParseFloat(a, 64); err == nil {
		if y, err := strconv.ParseFloat(b, 64); err == nil {
			return x == y
		}
	}
	return a == b
}
