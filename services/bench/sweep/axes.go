// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sweep

import (
	"errors"
	"fmt"
	"slices"

	"github.com/AleutianAI/parbench/services/bench/datatypes"
)

var (
	// ErrNoAxes is returned when a sweep declares no axes.
	ErrNoAxes = errors.New("sweep has no axes")

	// ErrEmptyAxis is returned when an axis has no values.
	ErrEmptyAxis = errors.New("axis has no values")

	// ErrDuplicateAxis is returned when two axes share a name.
	ErrDuplicateAxis = errors.New("duplicate axis name")

	// ErrUnknownAxis is returned when a selection names an undeclared axis.
	ErrUnknownAxis = errors.New("unknown axis")

	// ErrUnknownValue is returned when a selection names an undeclared value.
	ErrUnknownValue = errors.New("value not declared on axis")
)

// ValidateAxes checks that axes are non-empty, uniquely named and that every
// axis has at least one value.
func ValidateAxes(axes []datatypes.Axis) error {
	if len(axes) == 0 {
		return ErrNoAxes
	}
	seen := make(map[string]bool, len(axes))
	var errs []error
	for _, a := range axes {
		if a.Name == "" {
			errs = append(errs, fmt.Errorf("axis with empty name"))
			continue
		}
		if seen[a.Name] {
			errs = append(errs, fmt.Errorf("%w: %s", ErrDuplicateAxis, a.Name))
		}
		seen[a.Name] = true
		if len(a.Values) == 0 {
			errs = append(errs, fmt.Errorf("%w: %s", ErrEmptyAxis, a.Name))
		}
	}
	return errors.Join(errs...)
}

// Count returns the number of configurations the axes produce.
func Count(axes []datatypes.Axis) int {
	if len(axes) == 0 {
		return 0
	}
	n := 1
	for _, a := range axes {
		n *= len(a.Values)
	}
	return n
}

// Enumerate returns the Cartesian product of the axes.
//
// Description:
//
//	The first declared axis is the outermost loop and the last declared axis
//	varies fastest. Values keep their declared order.
//
// Example:
//
//	axes := []datatypes.Axis{{Name: "size", Values: []string{"64", "1024"}},
//	    {Name: "threads", Values: []string{"1", "2"}}}
//	// {size=64,threads=1} {size=64,threads=2} {size=1024,threads=1} {size=1024,threads=2}
func Enumerate(axes []datatypes.Axis) ([]datatypes.Configuration, error) {
	if err := ValidateAxes(axes); err != nil {
		return nil, err
	}
	names := make([]string, len(axes))
	for i, a := range axes {
		names[i] = a.Name
	}

	total := Count(axes)
	out := make([]datatypes.Configuration, 0, total)
	idx := make([]int, len(axes))
	values := make([]string, len(axes))
	for n := 0; n < total; n++ {
		for i, a := range axes {
			values[i] = a.Values[idx[i]]
		}
		out = append(out, datatypes.NewConfiguration(names, values))

		// odometer increment, innermost axis first
		for i := len(axes) - 1; i >= 0; i-- {
			idx[i]++
			if idx[i] < len(axes[i].Values) {
				break
			}
			idx[i] = 0
		}
	}
	return out, nil
}

// Select restricts axes to the given values.
//
// Description:
//
//	Axes not named in selection are kept whole. Selected values are kept in
//	their declared order, not the order given. Naming an undeclared axis or
//	value is an error so a typo on the command line cannot silently produce
//	an empty sweep.
func Select(axes []datatypes.Axis, selection map[string][]string) ([]datatypes.Axis, error) {
	declared := make(map[string]datatypes.Axis, len(axes))
	for _, a := range axes {
		declared[a.Name] = a
	}

	var errs []error
	for name, vals := range selection {
		a, ok := declared[name]
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %s", ErrUnknownAxis, name))
			continue
		}
		for _, v := range vals {
			if !slices.Contains(a.Values, v) {
				errs = append(errs, fmt.Errorf("%w: %s=%s", ErrUnknownValue, name, v))
			}
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	out := make([]datatypes.Axis, 0, len(axes))
	for _, a := range axes {
		want, ok := selection[a.Name]
		if !ok || len(want) == 0 {
			out = append(out, datatypes.Axis{Name: a.Name, Values: slices.Clone(a.Values)})
			continue
		}
		var kept []string
		for _, v := range a.Values {
			if slices.Contains(want, v) {
				kept = append(kept, v)
			}
		}
		out = append(out, datatypes.Axis{Name: a.Name, Values: kept})
	}
	return out, nil
}
