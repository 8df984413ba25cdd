// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"errors"

	"github.com/charmbracelet/huh"
)

// ErrNotInteractive is returned by Confirm when no terminal can answer.
var ErrNotInteractive = errors.New("confirmation needed but no terminal is attached (use --yes)")

// Confirmer asks a yes/no question.
type Confirmer interface {
	Confirm(title, description string) (bool, error)
}

// HuhConfirmer prompts on the terminal with a huh form.
type HuhConfirmer struct{}

// Confirm implements Confirmer. Aborting the form (ctrl+c, esc) counts as
// "no".
func (HuhConfirmer) Confirm(title, description string) (bool, error) {
	if !IsInteractive() {
		return false, ErrNotInteractive
	}
	var ok bool
	err := huh.NewConfirm().
		Title(title).
		Description(description).
		Affirmative("Yes").
		Negative("No").
		Value(&ok).
		Run()
	if errors.Is(err, huh.ErrUserAborted) {
		return false, nil
	}
	return ok, err
}

// StaticConfirmer answers every question with Answer. --yes uses it.
type StaticConfirmer struct {
	Answer bool
}

// Confirm implements Confirmer.
func (s StaticConfirmer) Confirm(string, string) (bool, error) {
	return s.Answer, nil
}
