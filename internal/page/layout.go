// Package page holds the structural queries for the case-management portal.
// Nothing outside this package should hard-code a selector for the host page.
package page

import "fmt"

// Layout names every element the engine looks for on the case page.
type Layout struct {
	// Alert table
	AlertTable string
	AlertRows  string
	LabelCell  string // relative to a row

	// Case header
	CaseStatus string
	Assignee   string

	// Narrative form
	OpenNarrative string
	NarrativeText string
	StatusControl string
	SaveNarrative string
	StatusOption  string // format with one %q verb for the option value

	// Client notification composer
	OpenComposer     string
	Composer         string
	ComposerSend     string // relative to Composer
	ComposerSendText string
	ResponseStatus   string // value of the "waiting for client" option
	NewAlertsToggle  string
}

// Option returns the selector for the status option carrying value.
func (l Layout) Option(value string) string {
	return fmt.Sprintf(l.StatusOption, value)
}

// Portal returns the layout of the production case portal.
func Portal() Layout {
	return Layout{
		AlertTable: `[data-testid="alert-table-container"]`,
		AlertRows:  `[data-testid="alert-table-container"] .MuiTableBody-root .MuiTableRow-root`,
		LabelCell:  `.MuiTableCell-root:nth-child(4) span`,

		CaseStatus: `.MuiSelect-root.MuiSelect-select, [aria-label="Status"] div.MuiSelect-select`,
		Assignee:   `input.MuiFilledInput-input`,

		OpenNarrative: `button.MuiButton-outlinedSecondary`,
		NarrativeText: `textarea[name="Notes"]`,
		StatusControl: `div.MuiFormControl-root:has(label[for="Status"]) div.MuiSelect-select[role="button"][aria-haspopup="listbox"]`,
		SaveNarrative: `button[aria-label="Save"]`,
		StatusOption:  `li.MuiMenuItem-root[data-value=%q]`,

		OpenComposer:     `button.MuiButton-outlined[style*="color: rgb(255, 255, 255)"]`,
		Composer:         `.MuiDialog-root`,
		ComposerSend:     `.MuiDialogActions-root button.MuiButton-outlinedSecondary`,
		ComposerSendText: "Send",
		ResponseStatus:   "13",
		NewAlertsToggle:  `input.MuiSwitch-input[type="checkbox"]`,
	}
}
