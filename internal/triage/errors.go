package triage

import (
	"errors"
	"fmt"

	"github.com/linnemanlabs/caseinv/internal/rules"
)

var (
	// ErrFlowActive is returned when a flow is triggered while another holds
	// the lock.
	ErrFlowActive = errors.New("a resolution flow is already running")

	// ErrNoAlert means no scanned alert supports the requested action.
	ErrNoAlert = errors.New("no supported alert found")

	// ErrUnknownAction is returned for an action outside assign, escalate and
	// closeBenign.
	ErrUnknownAction = errors.New("unknown action")

	// ErrNotOffered means the governor does not currently offer the action.
	ErrNotOffered = errors.New("action not offered for this case")

	// ErrNoLink means the alert matched but its evidence link could not be
	// built from the page.
	ErrNoLink = errors.New("evidence link unavailable")
)

// ConfigError reports that the rule table cannot serve an action for the
// case on screen. No flow is started.
type ConfigError struct {
	Action   rules.Action
	Rule     string
	ClientID string
	Err      error
}

func (e *ConfigError) Error() string {
	switch {
	case e.Rule == "":
		return fmt.Sprintf("%s: %v", e.Action, e.Err)
	case e.ClientID == "":
		return fmt.Sprintf("%s: %s: %v", e.Action, e.Rule, e.Err)
	default:
		return fmt.Sprintf("%s: %s (client %s): %v", e.Action, e.Rule, e.ClientID, e.Err)
	}
}

func (e *ConfigError) Unwrap() error { return e.Err }

// errNoResolution means a matched rule has no entry for the client.
var errNoResolution = errors.New("no resolution configured for client")
