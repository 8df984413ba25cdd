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
	"reflect"
	"testing"
)

func TestParseSelection(t *testing.T) {
	tests := []struct {
		name     string
		flags    []string
		schedule string
		method   string
		want     map[string][]string
		wantErr  bool
	}{
		{name: "empty", want: nil},
		{
			name:  "single axis",
			flags: []string{"threads=1,2,4"},
			want:  map[string][]string{"threads": {"1", "2", "4"}},
		},
		{
			name:  "repeated axis merges",
			flags: []string{"threads=1,2", "threads=2,8", " grid = 64 "},
			want:  map[string][]string{"threads": {"1", "2", "8"}, "grid": {"64"}},
		},
		{
			name:     "shorthands",
			schedule: "static,guided",
			method:   "rows",
			want:     map[string][]string{"schedule": {"static", "guided"}, "method": {"rows"}},
		},
		{
			name:     "shorthand adds to select",
			flags:    []string{"schedule=dynamic"},
			schedule: "static",
			want:     map[string][]string{"schedule": {"dynamic", "static"}},
		},
		{name: "missing equals", flags: []string{"threads"}, wantErr: true},
		{name: "empty axis", flags: []string{"=1"}, wantErr: true},
		{name: "empty value", flags: []string{"threads=1,,2"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseSelection(tt.flags, tt.schedule, tt.method)
			if tt.wantErr {
				if !errors.Is(err, ErrBadSelection) {
					t.Fatalf("error = %v, want ErrBadSelection", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}
