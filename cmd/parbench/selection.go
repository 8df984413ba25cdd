// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrBadSelection is returned for a malformed --select value.
var ErrBadSelection = errors.New("invalid selection")

// parseSelection turns repeated "axis=v1,v2" flags plus the schedule and
// method shorthands into a selection map. Values of a repeated axis are
// merged without duplicates.
func parseSelection(flags []string, schedule, method string) (map[string][]string, error) {
	sel := make(map[string][]string)
	add := func(axis, values string) error {
		axis = strings.TrimSpace(axis)
		if axis == "" {
			return fmt.Errorf("%w: empty axis name", ErrBadSelection)
		}
		for _, v := range strings.Split(values, ",") {
			v = strings.TrimSpace(v)
			if v == "" {
				return fmt.Errorf("%w: empty value for %s", ErrBadSelection, axis)
			}
			if !slices.Contains(sel[axis], v) {
				sel[axis] = append(sel[axis], v)
			}
		}
		return nil
	}

	for _, f := range flags {
		axis, values, ok := strings.Cut(f, "=")
		if !ok {
			return nil, fmt.Errorf("%w: %q is not axis=v1,v2", ErrBadSelection, f)
		}
		if err := add(axis, values); err != nil {
			return nil, err
		}
	}
	if schedule != "" {
		if err := add("schedule", schedule); err != nil {
			return nil, err
		}
	}
	if method != "" {
		if err := add("method", method); err != nil {
			return nil, err
		}
	}
	if len(sel) == 0 {
		return nil, nil
	}
	return sel, nil
}
