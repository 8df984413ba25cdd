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

import "time"

// =============================================================================
// Constants
// =============================================================================

const (
	// MinTrialTimeout is the smallest non-zero trial timeout accepted.
	MinTrialTimeout = 1 * time.Second

	// MinBuildTimeout is the smallest non-zero build timeout accepted.
	MinBuildTimeout = 5 * time.Second

	// DefaultInterruptGrace is how long a child gets after SIGINT before it
	// is killed.
	DefaultInterruptGrace = 5 * time.Second
)

// =============================================================================
// TimeoutConfig
// =============================================================================

// TimeoutConfig holds the optional timeouts of a sweep.
//
// # Description
//
// Zero means "no timeout": a hung child blocks the sweep until interrupted.
// A timeout is only applied when the user configures one.
//
// # Example
//
//	cfg := runner.TimeoutConfig{Trial: 30 * time.Second}
//	cfg = cfg.Validated()
type TimeoutConfig struct {
	// Trial bounds one benchmark invocation. Zero disables it.
	Trial time.Duration `yaml:"trial,omitempty"`

	// Build bounds one build tool invocation. Zero disables it.
	Build time.Duration `yaml:"build,omitempty"`

	// InterruptGrace is the delay between SIGINT and SIGKILL on cancellation.
	InterruptGrace time.Duration `yaml:"interrupt_grace,omitempty"`
}

// Validated returns a copy where non-zero timeouts are raised to their
// minimums and a missing grace period gets its default. The receiver is
// not modified.
func (c TimeoutConfig) Validated() TimeoutConfig {
	out := c
	if out.Trial < 0 {
		out.Trial = 0
	}
	if out.Trial > 0 && out.Trial < MinTrialTimeout {
		out.Trial = MinTrialTimeout
	}
	if out.Build < 0 {
		out.Build = 0
	}
	if out.Build > 0 && out.Build < MinBuildTimeout {
		out.Build = MinBuildTimeout
	}
	if out.InterruptGrace <= 0 {
		out.InterruptGrace = DefaultInterruptGrace
	}
	return out
}
