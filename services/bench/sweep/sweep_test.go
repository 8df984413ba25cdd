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
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/parbench/services/bench/datatypes"
)

func axes2x2() []datatypes.Axis {
	return []datatypes.Axis{
		{Name: "size", Values: []string{"64", "1024"}},
		{Name: "threads", Values: []string{"1", "2"}},
	}
}

func keys(cfgs []datatypes.Configuration) []string {
	out := make([]string, len(cfgs))
	for i, c := range cfgs {
		out[i] = c.Key()
	}
	return out
}

// recorder is an Observer that records callbacks.
type recorder struct {
	started []int
	trials  int
	done    []string
	failAt  int
}

func (r *recorder) ConfigStarted(i, total int, cfg datatypes.Configuration) {
	r.started = append(r.started, i)
}

func (r *recorder) TrialDone(cfg datatypes.Configuration, rep int, res datatypes.TrialResult) {
	r.trials++
}

func (r *recorder) ConfigDone(set datatypes.TrialSet, elapsed time.Duration) error {
	r.done = append(r.done, set.Config.Key())
	if r.failAt > 0 && len(r.done) == r.failAt {
		return errors.New("disk full")
	}
	return nil
}

// -----------------------------------------------------------------------------
// Enumeration Tests
// -----------------------------------------------------------------------------

func TestEnumerate(t *testing.T) {
	t.Run("last axis varies fastest", func(t *testing.T) {
		cfgs, err := Enumerate(axes2x2())
		require.NoError(t, err)
		assert.Equal(t, []string{
			"size=64,threads=1",
			"size=64,threads=2",
			"size=1024,threads=1",
			"size=1024,threads=2",
		}, keys(cfgs))
	})

	t.Run("three axes", func(t *testing.T) {
		cfgs, err := Enumerate([]datatypes.Axis{
			{Name: "a", Values: []string{"x", "y"}},
			{Name: "b", Values: []string{"1"}},
			{Name: "c", Values: []string{"p", "q", "r"}},
		})
		require.NoError(t, err)
		require.Len(t, cfgs, 6)
		assert.Equal(t, "a=x,b=1,c=r", cfgs[2].Key())
		assert.Equal(t, "a=y,b=1,c=p", cfgs[3].Key())
	})

	t.Run("count matches", func(t *testing.T) {
		assert.Equal(t, 4, Count(axes2x2()))
		assert.Equal(t, 0, Count(nil))
	})

	t.Run("invalid axes", func(t *testing.T) {
		_, err := Enumerate(nil)
		assert.ErrorIs(t, err, ErrNoAxes)

		_, err = Enumerate([]datatypes.Axis{{Name: "size"}})
		assert.ErrorIs(t, err, ErrEmptyAxis)

		_, err = Enumerate([]datatypes.Axis{
			{Name: "size", Values: []string{"1"}},
			{Name: "size", Values: []string{"2"}},
		})
		assert.ErrorIs(t, err, ErrDuplicateAxis)
	})
}

func TestSelect(t *testing.T) {
	t.Run("keeps declared order", func(t *testing.T) {
		got, err := Select(axes2x2(), map[string][]string{"size": {"1024", "64"}, "threads": {"2"}})
		require.NoError(t, err)
		assert.Equal(t, []string{"64", "1024"}, got[0].Values)
		assert.Equal(t, []string{"2"}, got[1].Values)
	})

	t.Run("unselected axes kept whole", func(t *testing.T) {
		got, err := Select(axes2x2(), map[string][]string{"threads": {"1"}})
		require.NoError(t, err)
		assert.Equal(t, []string{"64", "1024"}, got[0].Values)
	})

	t.Run("unknown axis and value", func(t *testing.T) {
		_, err := Select(axes2x2(), map[string][]string{"procs": {"4"}})
		assert.ErrorIs(t, err, ErrUnknownAxis)

		_, err = Select(axes2x2(), map[string][]string{"threads": {"3"}})
		assert.ErrorIs(t, err, ErrUnknownValue)
	})
}

// -----------------------------------------------------------------------------
// Driver Tests
// -----------------------------------------------------------------------------

func TestDriver_Run(t *testing.T) {
	t.Run("repetitions per configuration in order", func(t *testing.T) {
		var seen []string
		exec := func(ctx context.Context, cfg datatypes.Configuration, rep int) datatypes.TrialResult {
			seen = append(seen, cfg.Key())
			return datatypes.TrialResult{Time: datatypes.Some(1), Valid: true}
		}
		rec := &recorder{}
		d := &Driver{Repetitions: 3, Observer: rec}
		sets, err := d.Run(context.Background(), axes2x2(), exec)
		require.NoError(t, err)
		require.Len(t, sets, 4)
		for _, s := range sets {
			assert.Len(t, s.Trials, 3)
		}
		assert.Len(t, seen, 12)
		assert.Equal(t, "size=64,threads=1", seen[0])
		assert.Equal(t, "size=64,threads=1", seen[2])
		assert.Equal(t, "size=64,threads=2", seen[3])
		assert.Equal(t, []int{0, 1, 2, 3}, rec.started)
		assert.Equal(t, 12, rec.trials)
		assert.Len(t, rec.done, 4)
	})

	t.Run("failed trials are kept", func(t *testing.T) {
		exec := func(ctx context.Context, cfg datatypes.Configuration, rep int) datatypes.TrialResult {
			if rep == 1 {
				return datatypes.TrialResult{ExitCode: -11, Cause: "Segmentation fault"}
			}
			return datatypes.TrialResult{Time: datatypes.Some(0.5), Valid: true}
		}
		d := &Driver{Repetitions: 3}
		sets, err := d.Run(context.Background(), axes2x2()[:1], exec)
		require.NoError(t, err)
		require.Len(t, sets, 2)
		assert.False(t, sets[0].Trials[1].Time.Valid)
		assert.Equal(t, "Segmentation fault", sets[0].Trials[1].Cause)
		assert.True(t, sets[0].Trials[2].Usable())
	})

	t.Run("cancellation returns completed configurations", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		calls := 0
		exec := func(ctx context.Context, cfg datatypes.Configuration, rep int) datatypes.TrialResult {
			calls++
			if calls == 3 {
				cancel()
			}
			return datatypes.TrialResult{Time: datatypes.Some(1), Valid: true}
		}
		d := &Driver{Repetitions: 2}
		sets, err := d.Run(ctx, axes2x2(), exec)
		assert.ErrorIs(t, err, context.Canceled)
		require.Len(t, sets, 1)
		assert.Equal(t, "size=64,threads=1", sets[0].Config.Key())
		assert.Equal(t, 3, calls)
	})

	t.Run("observer error stops the sweep", func(t *testing.T) {
		exec := func(ctx context.Context, cfg datatypes.Configuration, rep int) datatypes.TrialResult {
			return datatypes.TrialResult{Time: datatypes.Some(1), Valid: true}
		}
		rec := &recorder{failAt: 2}
		d := &Driver{Repetitions: 1, Observer: Observers{NopObserver{}, rec}}
		sets, err := d.Run(context.Background(), axes2x2(), exec)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "disk full")
		assert.Len(t, sets, 1)
	})

	t.Run("invalid input", func(t *testing.T) {
		exec := func(ctx context.Context, cfg datatypes.Configuration, rep int) datatypes.TrialResult {
			return datatypes.TrialResult{}
		}
		_, err := (&Driver{}).Run(context.Background(), axes2x2(), exec)
		assert.ErrorIs(t, err, ErrInvalidRepetitions)

		_, err = (&Driver{Repetitions: 1}).Run(context.Background(), axes2x2(), nil)
		assert.Error(t, err)

		_, err = (&Driver{Repetitions: 1}).Run(context.Background(), nil, exec)
		assert.ErrorIs(t, err, ErrNoAxes)
	})
}
