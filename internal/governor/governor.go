// Package governor decides which operator affordances apply to the case on
// screen. Decide is pure; Debounce collapses bursts of page-change signals
// into single re-evaluations.
package governor

import (
	"context"
	"slices"
	"strings"
	"time"
)

// DefaultQuiet is the quiet window after which a burst of changes is
// evaluated.
const DefaultQuiet = 500 * time.Millisecond

var closedStatuses = []string{"benign", "malicious", "waiting for client"}

// IsClosed reports whether status names a closed case. Comparison ignores
// case and surrounding space.
func IsClosed(status string) bool {
	return slices.Contains(closedStatuses, strings.ToLower(strings.TrimSpace(status)))
}

// Inputs is the case state a decision is made from.
type Inputs struct {
	CaseStatus string
	Assignee   string
	LocalUser  string
	Matched    int  // alerts matched against the rule registry
	FlowActive bool // a submission flow holds the lock
}

// Decision lists the affordances to present.
type Decision struct {
	Closed          bool `json:"closed"`
	ShowAssign      bool `json:"show_assign"`
	ShowResolutions bool `json:"show_resolutions"`
	ActionsEnabled  bool `json:"actions_enabled"`
}

// Decide derives the affordances for in.
func Decide(in Inputs) Decision {
	closed := IsClosed(in.CaseStatus)
	mine := in.Assignee == in.LocalUser
	return Decision{
		Closed:          closed,
		ShowAssign:      !mine,
		ShowResolutions: !closed && in.Matched > 0 && mine,
		ActionsEnabled:  !in.FlowActive,
	}
}

// Debounce calls fn once after every burst on signals, when quiet has passed
// without a further signal. It returns when ctx is done or signals is closed;
// a burst pending at close is still evaluated.
func Debounce(ctx context.Context, signals <-chan struct{}, quiet time.Duration, fn func(context.Context)) {
	if quiet <= 0 {
		quiet = DefaultQuiet
	}
	timer := time.NewTimer(quiet)
	timer.Stop()
	defer timer.Stop()

	pending := false
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-signals:
			if !ok {
				if pending {
					fn(ctx)
				}
				return
			}
			timer.Reset(quiet)
			pending = true
		case <-timer.C:
			pending = false
			fn(ctx)
		}
	}
}
