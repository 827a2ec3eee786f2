// Package submit drives the case page's narrative form through a resolution:
// open the form, write the narrative, pick a status, save, and optionally
// notify the client. Every wait is a bounded poll; the machine never blocks
// indefinitely and never retries once it has given up.
package submit

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// State is a step of the submission flow.
type State string

const (
	StateIdle                   State = "idle"
	StateAwaitingFormOpen       State = "awaiting_form_open"
	StateAwaitingFormReady      State = "awaiting_form_ready"
	StateFilling                State = "filling"
	StateAwaitingStatusOptions  State = "awaiting_status_options"
	StateAwaitingSave           State = "awaiting_save"
	StateAwaitingComposer       State = "awaiting_composer"
	StateAwaitingSend           State = "awaiting_send"
	StateAwaitingResponseStatus State = "awaiting_response_status"
	StateAwaitingToggle         State = "awaiting_toggle"
	StateDone                   State = "done"
	StateAwaitingManualSave     State = "awaiting_manual_save"
	StateAborted                State = "aborted"
)

// Terminal reports whether s ends a flow.
func (s State) Terminal() bool {
	return s == StateDone || s == StateAwaitingManualSave || s == StateAborted
}

// Wait bounds one polling loop.
type Wait struct {
	Interval    time.Duration
	MaxAttempts int
}

// Total is the longest the wait can take.
func (w Wait) Total() time.Duration {
	return w.Interval * time.Duration(w.MaxAttempts)
}

// Polling bounds and settle delays of the case page.
var (
	FormWait     = Wait{Interval: 500 * time.Millisecond, MaxAttempts: 20}
	ComposerWait = Wait{Interval: 600 * time.Millisecond, MaxAttempts: 20}
)

const (
	StatusSettle = 1000 * time.Millisecond
	SaveSettle   = 500 * time.Millisecond
	NotifyDelay  = 1000 * time.Millisecond
)

// Request is one submission. It is built when a flow is triggered and
// consumed by exactly one Run.
type Request struct {
	Narrative    string
	TargetStatus string // option value to select, empty to leave the status alone
	Autosave     bool
	Notify       bool
}

// Outcome reports how a flow ended. Steps lists every completed step in
// order, including those completed before an abort.
type Outcome struct {
	State    State
	Steps    []string
	Err      error // *AbortError when State is StateAborted
	Duration time.Duration
}

// AbortError describes where a flow gave up.
type AbortError struct {
	Stage      State
	Affordance string
	Attempts   int
	Steps      []string
	Err        error
}

func (e *AbortError) Error() string {
	var b strings.Builder
	switch {
	case e.Err != nil:
		fmt.Fprintf(&b, "%s: %s: %v", e.Stage, e.Affordance, e.Err)
	case e.Attempts > 1:
		fmt.Fprintf(&b, "%s: %s not found after %d attempts", e.Stage, e.Affordance, e.Attempts)
	default:
		fmt.Fprintf(&b, "%s: %s not found", e.Stage, e.Affordance)
	}
	if len(e.Steps) > 0 {
		fmt.Fprintf(&b, " (completed: %s)", strings.Join(e.Steps, ", "))
	}
	return b.String()
}

func (e *AbortError) Unwrap() error { return e.Err }

// Sleeper pauses a flow. Tests substitute an instant implementation.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleeperFunc adapts a function to Sleeper.
type SleeperFunc func(ctx context.Context, d time.Duration) error

// Sleep implements Sleeper.
func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error { return f(ctx, d) }

// RealSleeper waits on a timer, returning early when ctx is done.
var RealSleeper Sleeper = SleeperFunc(func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
})

// Hooks receives flow telemetry. Nil fields are skipped.
type Hooks struct {
	OnTransition func(from, to State)
	OnPoll       func(stage State, attempts int, found bool)
	OnComplete   func(outcome State, duration float64)
}
