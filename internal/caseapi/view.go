package caseapi

import (
	"github.com/linnemanlabs/caseinv/internal/governor"
	"github.com/linnemanlabs/caseinv/internal/rules"
	"github.com/linnemanlabs/caseinv/internal/triage"
)

type alertView struct {
	Index     int               `json:"index"`
	Label     string            `json:"label"`
	ClientID  string            `json:"client_id,omitempty"`
	Values    map[string]string `json:"values,omitempty"`
	Link      string            `json:"link,omitempty"`
	LinkError string            `json:"link_error,omitempty"`
	Missing   []string          `json:"missing_fields,omitempty"`
	Actions   []rules.Action    `json:"actions"`
}

type affordanceView struct {
	governor.Decision
	ActiveFlow string `json:"active_flow,omitempty"`
}

type caseView struct {
	Status     string         `json:"status"`
	Assignee   string         `json:"assignee"`
	Alerts     []alertView    `json:"alerts"`
	Affordance affordanceView `json:"affordances"`
}

func alertViews(rows []rules.AlertRow) []alertView {
	out := make([]alertView, 0, len(rows))
	for i := range rows {
		row := &rows[i]
		v := alertView{
			Index:    row.Index,
			Label:    row.Label,
			ClientID: row.ClientID,
			Values:   row.Values,
			Link:     row.Link,
			Missing:  row.Missing,
			Actions:  []rules.Action{},
		}
		if row.LinkErr != nil {
			v.LinkError = row.LinkErr.Error()
		}
		if row.Rule != nil && row.Actionable() {
			for _, a := range []rules.Action{rules.ActionEscalate, rules.ActionCloseBenign} {
				if row.Rule.Handles(a) {
					v.Actions = append(v.Actions, a)
				}
			}
		}
		out = append(out, v)
	}
	return out
}

func caseFromSnapshot(snap triage.Snapshot, activeFlow string) caseView {
	return caseView{
		Status:   snap.CaseStatus,
		Assignee: snap.Assignee,
		Alerts:   alertViews(snap.Alerts),
		Affordance: affordanceView{
			Decision:   snap.Decision,
			ActiveFlow: activeFlow,
		},
	}
}
