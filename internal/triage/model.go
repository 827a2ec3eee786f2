package triage

import (
	"time"

	"github.com/linnemanlabs/caseinv/internal/rules"
)

// ActionAssign assigns the case to the local user. It is not a rule action:
// every case offers it regardless of which alerts are present.
const ActionAssign rules.Action = "assign"

// Status tracks where a flow is in its lifecycle.
type Status string

const (
	// StatusPending means recorded, not yet started
	StatusPending Status = "pending"

	// StatusRunning means the submission machine is driving the page
	StatusRunning Status = "running"

	// StatusDone means every step completed
	StatusDone Status = "done"

	// StatusAwaitingManualSave means the form was filled and left for the
	// operator to save
	StatusAwaitingManualSave Status = "awaiting_manual_save"

	// StatusAborted means the flow gave up on a missing affordance
	StatusAborted Status = "aborted"
)

// Terminal reports whether s ends a flow.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusAwaitingManualSave || s == StatusAborted
}

// Flow is the audit record of one resolution flow.
type Flow struct {
	ID           string       `json:"id"`
	Action       rules.Action `json:"action"`
	Rule         string       `json:"rule,omitempty"`
	ClientID     string       `json:"client_id,omitempty"`
	Narrative    string       `json:"narrative,omitempty"`
	TargetStatus string       `json:"target_status,omitempty"`
	Autosave     bool         `json:"autosave"`
	Notify       bool         `json:"notify"`
	Status       Status       `json:"status"`
	Stage        string       `json:"stage,omitempty"`
	Steps        []string     `json:"steps,omitempty"`
	Error        string       `json:"error,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	CompletedAt  time.Time    `json:"completed_at,omitzero"`
	Duration     float64      `json:"duration_seconds,omitempty"`
}
