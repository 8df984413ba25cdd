// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package exercise

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/AleutianAI/parbench/services/bench/datatypes"
	"github.com/AleutianAI/parbench/services/bench/runner"
)

// invocationFuncs are available in command, argument and env templates.
// Operands are axis values, so they accept strings.
var invocationFuncs = template.FuncMap{
	"add": func(a, b any) (int64, error) { return arith(a, b, func(x, y int64) (int64, error) { return x + y, nil }) },
	"sub": func(a, b any) (int64, error) { return arith(a, b, func(x, y int64) (int64, error) { return x - y, nil }) },
	"mul": func(a, b any) (int64, error) { return arith(a, b, func(x, y int64) (int64, error) { return x * y, nil }) },
	"div": func(a, b any) (int64, error) {
		return arith(a, b, func(x, y int64) (int64, error) {
			if y == 0 {
				return 0, errors.New("division by zero")
			}
			return x / y, nil
		})
	},
}

func arith(a, b any, op func(x, y int64) (int64, error)) (int64, error) {
	x, err := toInt(a)
	if err != nil {
		return 0, err
	}
	y, err := toInt(b)
	if err != nil {
		return 0, err
	}
	return op(x, y)
}

func toInt(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case string:
		return strconv.ParseInt(strings.TrimSpace(n), 10, 64)
	default:
		return 0, fmt.Errorf("not an integer: %v", v)
	}
}

// Invocation is the compiled command line of an exercise.
//
// Thread Safety: Immutable after compileInvocation; safe for concurrent use.
type Invocation struct {
	launcher []*template.Template
	command  *template.Template
	args     []*template.Template
	env      map[string]*template.Template
	envKeys  []string
	dir      string
	timeout  time.Duration
}

func compileInvocation(e *Exercise) (*Invocation, error) {
	var errs []error
	parse := func(name, text string) *template.Template {
		t, err := template.New(name).Funcs(invocationFuncs).Option("missingkey=error").Parse(text)
		if err != nil {
			errs = append(errs, err)
		}
		return t
	}

	inv := &Invocation{
		command: parse("command", e.Command),
		env:     make(map[string]*template.Template, len(e.Env)),
		dir:     e.Dir,
		timeout: runner.TimeoutConfig{Trial: e.Timeout}.Validated().Trial,
	}
	for i, s := range e.Launcher {
		inv.launcher = append(inv.launcher, parse(fmt.Sprintf("launcher[%d]", i), s))
	}
	for i, s := range e.Args {
		inv.args = append(inv.args, parse(fmt.Sprintf("args[%d]", i), s))
	}
	inv.envKeys = slices.Sorted(maps.Keys(e.Env))
	for _, k := range inv.envKeys {
		inv.env[k] = parse("env."+k, e.Env[k])
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return inv, nil
}

// Request renders the invocation for one configuration.
//
// # Description
//
// Axis values are available by name, e.g. {{.threads}}. A launcher, when
// present, becomes the executable and the rendered command its argument.
func (inv *Invocation) Request(cfg datatypes.Configuration) (runner.Request, error) {
	data := cfg.Map()
	render := func(t *template.Template) (string, error) {
		var b strings.Builder
		if err := t.Execute(&b, data); err != nil {
			return "", fmt.Errorf("render %s: %w", t.Name(), err)
		}
		return b.String(), nil
	}

	var argv []string
	for _, t := range inv.launcher {
		s, err := render(t)
		if err != nil {
			return runner.Request{}, err
		}
		argv = append(argv, s)
	}
	cmd, err := render(inv.command)
	if err != nil {
		return runner.Request{}, err
	}
	argv = append(argv, cmd)
	for _, t := range inv.args {
		s, err := render(t)
		if err != nil {
			return runner.Request{}, err
		}
		argv = append(argv, s)
	}

	var env map[string]string
	if len(inv.envKeys) > 0 {
		env = make(map[string]string, len(inv.envKeys))
		for _, k := range inv.envKeys {
			s, err := render(inv.env[k])
			if err != nil {
				return runner.Request{}, err
			}
			env[k] = s
		}
	}

	return runner.Request{
		Path:    argv[0],
		Args:    argv[1:],
		Dir:     inv.dir,
		Env:     env,
		Timeout: inv.timeout,
	}, nil
}
