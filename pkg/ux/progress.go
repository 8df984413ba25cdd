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
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
)

// =============================================================================
// Messages
// =============================================================================

// ConfigStartedMsg announces the configuration about to run.
type ConfigStartedMsg struct {
	Index int
	Total int
	Label string
}

// TrialDoneMsg reports one finished trial.
type TrialDoneMsg struct {
	Rep    int
	Failed bool
	Cause  string
}

// ConfigDoneMsg reports a finished configuration. Line is the one-line
// result kept in the history below the bar.
type ConfigDoneMsg struct {
	Line    string
	Elapsed time.Duration
}

// FinishedMsg ends the view.
type FinishedMsg struct{}

// =============================================================================
// Model
// =============================================================================

// historyLines is the number of finished configurations kept on screen.
const historyLines = 6

// SweepModel is the bubbletea model of the sweep progress view.
//
// # Description
//
// Shows a bar over configurations, the running configuration with its
// trial count and the last few finished configurations. It never reads
// keyboard input; interrupts reach the process as signals.
type SweepModel struct {
	title   string
	bar     progress.Model
	total   int
	done    int
	label   string
	trials  int
	failed  int
	started time.Time
	history []string
	width   int
	quit    bool
}

// NewSweepModel creates the model for a sweep of total configurations.
func NewSweepModel(title string, total int) SweepModel {
	return SweepModel{
		title:   title,
		bar:     progress.New(progress.WithScaledGradient(string(ColorTealDeep), string(ColorTealBright))),
		total:   total,
		started: time.Now(),
		width:   80,
	}
}

// Init implements tea.Model.
func (m SweepModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m SweepModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case ConfigStartedMsg:
		m.label = msg.Label
		m.trials = 0
		if msg.Total > 0 {
			m.total = msg.Total
		}
	case TrialDoneMsg:
		m.trials++
		if msg.Failed {
			m.failed++
		}
	case ConfigDoneMsg:
		m.done++
		m.label = ""
		m.history = append(m.history, msg.Line)
		if len(m.history) > historyLines {
			m.history = m.history[len(m.history)-historyLines:]
		}
	case FinishedMsg:
		m.quit = true
		return m, tea.Quit
	}
	return m, nil
}

// Percent returns the fraction of finished configurations.
func (m SweepModel) Percent() float64 {
	if m.total <= 0 {
		return 0
	}
	return min(float64(m.done)/float64(m.total), 1)
}

// View implements tea.Model.
func (m SweepModel) View() string {
	var b strings.Builder
	b.WriteString(Styles.Title.Render(m.title))
	b.WriteString("\n")

	m.bar.Width = max(min(m.width-24, 60), 10)
	fmt.Fprintf(&b, "%s  %d/%d", m.bar.ViewAs(m.Percent()), m.done, m.total)
	if m.failed > 0 {
		b.WriteString("  " + Styles.Error.Render(fmt.Sprintf("%d failed", m.failed)))
	}
	b.WriteString("\n")

	for _, line := range m.history {
		b.WriteString(Styles.Muted.Render("  "+line) + "\n")
	}
	if m.label != "" && !m.quit {
		fmt.Fprintf(&b, "%s %s %s\n", IconArrow.Render(), m.label,
			Styles.Muted.Render(fmt.Sprintf("trial %d", m.trials+1)))
	}
	if !m.quit {
		b.WriteString(Styles.Muted.Render(time.Since(m.started).Round(time.Second).String()) + "\n")
	}
	return b.String()
}

// =============================================================================
// Program
// =============================================================================

// SweepProgress runs a SweepModel in its own goroutine.
//
// # Thread Safety
//
// Send may be called from any goroutine between Start and Finish.
type SweepProgress struct {
	program *tea.Program
	done    chan struct{}
	err     error
}

// NewSweepProgress prepares a progress view writing to out, normally stderr.
func NewSweepProgress(title string, total int, out io.Writer) *SweepProgress {
	return &SweepProgress{
		program: tea.NewProgram(NewSweepModel(title, total),
			tea.WithOutput(out),
			tea.WithInput(nil),
			tea.WithoutSignalHandler(),
		),
		done: make(chan struct{}),
	}
}

// Start launches the program.
func (p *SweepProgress) Start() {
	go func() {
		defer close(p.done)
		_, p.err = p.program.Run()
	}()
}

// Send delivers a message to the model.
func (p *SweepProgress) Send(msg tea.Msg) {
	p.program.Send(msg)
}

// Finish stops the view and waits for the final frame.
func (p *SweepProgress) Finish() error {
	p.program.Send(FinishedMsg{})
	<-p.done
	return p.err
}
