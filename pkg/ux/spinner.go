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
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
)

// SpinnerType defines the animation style
type SpinnerType int

const (
	SpinnerDots SpinnerType = iota
	SpinnerLine
	SpinnerPulse
)

var spinnerStyles = map[SpinnerType]spinner.Spinner{
	SpinnerDots:  spinner.Dot,
	SpinnerLine:  spinner.Line,
	SpinnerPulse: spinner.Pulse,
}

// Spinner is a line-rewriting activity indicator on stderr, used while an
// exercise builds.
type Spinner struct {
	message    string
	spinType   SpinnerType
	stop       chan struct{}
	done       chan struct{}
	mu         sync.Mutex
	isRunning  bool
	frameIndex int
}

// NewSpinner creates a new spinner with the given message
func NewSpinner(message string) *Spinner {
	return &Spinner{
		message:  message,
		spinType: SpinnerDots,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// WithType sets the spinner animation type
func (s *Spinner) WithType(t SpinnerType) *Spinner {
	s.spinType = t
	return s
}

// Start begins the spinner animation. Outside full mode it prints the
// message once.
func (s *Spinner) Start() {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	message := s.message
	s.mu.Unlock()

	switch GetPersonality().Level {
	case PersonalityMachine:
		printErr("PROGRESS: %s\n", message)
		close(s.done)
		return
	case PersonalityMinimal:
		printErr("%s %s\n", IconPending.Render(), message)
		close(s.done)
		return
	}

	style, ok := spinnerStyles[s.spinType]
	if !ok {
		style = spinner.Dot
	}
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(style.FPS)
		defer ticker.Stop()

		for {
			select {
			case <-s.stop:
				printErr("\r\033[K")
				return
			case <-ticker.C:
				s.mu.Lock()
				frame := Styles.Highlight.Render(style.Frames[s.frameIndex])
				s.frameIndex = (s.frameIndex + 1) % len(style.Frames)
				msg := s.message
				s.mu.Unlock()
				printErr("\r%s %s", frame, msg)
			}
		}
	}()
}

// Stop halts the spinner animation
func (s *Spinner) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.mu.Unlock()

	close(s.stop)
	<-s.done
}

// UpdateMessage changes the spinner message. Outside full mode a running
// spinner prints the new message as its own line.
func (s *Spinner) UpdateMessage(message string) {
	s.mu.Lock()
	changed := s.message != message
	s.message = message
	running := s.isRunning
	s.mu.Unlock()

	if !running || !changed {
		return
	}
	switch GetPersonality().Level {
	case PersonalityMachine:
		printErr("PROGRESS: %s\n", message)
	case PersonalityMinimal:
		printErr("%s %s\n", IconPending.Render(), message)
	}
}

// StopWithSuccess stops and prints a success message
func (s *Spinner) StopWithSuccess(message string) {
	s.Stop()
	Success(message)
}

// StopWithError stops and prints an error message
func (s *Spinner) StopWithError(message string) {
	s.Stop()
	Error(message)
}

// WithSpinner runs fn with a spinner, reporting success or the error.
func WithSpinner(message string, fn func() error) error {
	spin := NewSpinner(message)
	spin.Start()

	if err := fn(); err != nil {
		spin.StopWithError(fmt.Sprintf("%s: %v", message, err))
		return err
	}

	spin.StopWithSuccess(message)
	return nil
}
