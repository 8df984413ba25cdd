// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the parbench configuration: where results go, the
// default timeouts, rendering options and the exercise catalogue.
package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/parbench/services/bench/exercise"
	"github.com/AleutianAI/parbench/services/bench/runner"
)

// CurrentConfigVersion is written by config init.
const CurrentConfigVersion = "1"

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

var validate = validator.New()

// ParbenchConfig is the parbench.yaml file: where results go, how long
// trials may run, how tables and plots render, and the exercise catalogue.
//
// Example:
//
//	version: "1"
//	results_root: results
//	render:
//	  plot_format: pdf
//	exercises:
//	  - name: pi
//	    command: ./pi
//	    ...
type ParbenchConfig struct {
	// Version is the file format version, CurrentConfigVersion.
	Version string `yaml:"version"`

	// ResultsRoot holds one directory per exercise.
	ResultsRoot string `yaml:"results_root" validate:"required"`

	// LogDir enables file logging when set. Supports ~.
	LogDir string `yaml:"log_dir,omitempty"`

	// Timeouts apply to every exercise without its own trial timeout.
	Timeouts runner.TimeoutConfig `yaml:"timeouts,omitempty"`

	Render RenderConfig `yaml:"render"`

	Exercises []exercise.Exercise `yaml:"exercises" validate:"required,min=1"`
}

// RenderConfig controls table and plot generation.
type RenderConfig struct {
	// Concurrency bounds parallel rendering. Zero uses GOMAXPROCS.
	Concurrency int `yaml:"concurrency,omitempty" validate:"gte=0"`

	// PlotFormat is the default plot file format.
	PlotFormat string `yaml:"plot_format" validate:"oneof=pdf png svg"`

	// PlotWidthPt is the figure width in points. Zero keeps the default
	// single-column width.
	PlotWidthPt float64 `yaml:"plot_width_pt,omitempty" validate:"gte=0"`

	// PlotFont selects the typeface variant, e.g. Serif or Sans.
	PlotFont string `yaml:"plot_font,omitempty"`
}

// DefaultConfig returns the built-in catalogue with results under
// ./results.
func DefaultConfig() ParbenchConfig {
	return ParbenchConfig{
		Version:     CurrentConfigVersion,
		ResultsRoot: "results",
		Render:      RenderConfig{PlotFormat: "pdf"},
		Exercises:   exercise.Builtin(),
	}
}

// Validate checks struct tags, then builds the catalogue, which validates
// every exercise and the references between them.
func (c *ParbenchConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if _, err := exercise.NewCatalogue(c.Exercises); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// Catalogue returns the validated exercise catalogue.
func (c *ParbenchConfig) Catalogue() (*exercise.Catalogue, error) {
	return exercise.NewCatalogue(c.Exercises)
}
