// Package rules holds the fixed registry of supported alert definitions and the
// pure logic around it: matching an alert label, extracting field values,
// building evidence links, selecting the per-client resolution for an action,
// and resolving its narrative text.
package rules

import "slices"

// Action is an operator disposition of a case.
type Action string

const (
	ActionEscalate    Action = "escalate"
	ActionCloseBenign Action = "closeBenign"
)

// Valid reports whether a is a known resolution action.
func (a Action) Valid() bool {
	return a == ActionEscalate || a == ActionCloseBenign
}

// Scope selects where a field lookup runs.
type Scope int

const (
	// ScopeRow looks inside the alert row.
	ScopeRow Scope = iota
	// ScopePage looks at the whole page.
	ScopePage
)

// Mode selects how a value is read from the located element.
type Mode int

const (
	// ModeValue reads the element's value property.
	ModeValue Mode = iota
	// ModeText reads the trimmed displayed text.
	ModeText
)

// Well-known placeholders.
const (
	PlaceholderClientID = "<id>"
	PlaceholderDevice   = "<device>"
)

// FieldDescriptor locates one value used by links and client derivation.
type FieldDescriptor struct {
	Placeholder string
	Selector    string
	Scope       Scope
	Mode        Mode
}

// LinkTemplates holds the evidence-link variants of a rule. At least one must
// be set.
type LinkTemplates struct {
	ByAddress string // used when the device field looks like an IPv4 address
	ByName    string // used for any other device value
	Generic   string
}

// ClientMatcher selects which client identifiers a Resolution applies to.
type ClientMatcher struct {
	isDefault bool
	ids       []string
}

// Default matches any client not claimed by a sibling entry.
func Default() ClientMatcher { return ClientMatcher{isDefault: true} }

// Client matches exactly one identifier.
func Client(id string) ClientMatcher { return ClientMatcher{ids: []string{id}} }

// Clients matches any identifier in ids.
func Clients(ids ...string) ClientMatcher {
	return ClientMatcher{ids: slices.Clone(ids)}
}

// IsDefault reports whether m is the fallback matcher.
func (m ClientMatcher) IsDefault() bool { return m.isDefault }

// IDs returns the explicit identifiers of m.
func (m ClientMatcher) IDs() []string { return slices.Clone(m.ids) }

// Matches reports whether clientID is listed explicitly. Default matchers
// never match here; the selector applies them as a fallback.
func (m ClientMatcher) Matches(clientID string) bool {
	return !m.isDefault && slices.Contains(m.ids, clientID)
}

// Resolution is one entry in a rule's per-action resolution list.
type Resolution struct {
	Clients   ClientMatcher
	Narrative Narrative
	Autosave  bool
	Status    string // target case status, empty for none
	Notify    bool   // escalate only: notify the client after saving
}

// Definition is one supported alert type.
type Definition struct {
	Label       string
	Links       LinkTemplates
	Fields      []FieldDescriptor
	Resolutions map[Action][]Resolution
}

// Handles reports whether d defines any resolution for action.
func (d *Definition) Handles(action Action) bool {
	return len(d.Resolutions[action]) > 0
}
