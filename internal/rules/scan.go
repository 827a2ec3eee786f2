package rules

import (
	"context"
	"fmt"

	"github.com/linnemanlabs/caseinv/internal/document"
	"github.com/linnemanlabs/caseinv/internal/page"
	"github.com/linnemanlabs/go-core/log"
)

// AlertRow is one matched alert as seen in the latest scan.
type AlertRow struct {
	Index    int // position among all rows of the alert table
	Label    string
	Element  document.Element
	Rule     *Definition
	Values   map[string]string
	ClientID string
	Link     string
	LinkErr  error

	// Missing lists placeholders whose fields could not be read. Such a row is
	// still matched but is never acted on.
	Missing []string
}

// Actionable reports whether every field of the row was extracted.
func (r *AlertRow) Actionable() bool {
	return len(r.Missing) == 0
}

// Cell returns the trimmed text of the first element matching selector inside
// the row, or "" when it is missing or unreadable.
func (r *AlertRow) Cell(ctx context.Context, selector string) string {
	if r == nil || r.Element == nil {
		return ""
	}
	return textAt(ctx, r.Element, selector)
}

// Scan enumerates the alert table and returns every row whose label matches a
// definition in reg. Rows whose fields cannot all be extracted, or whose link
// cannot be built, are still returned with LinkErr set. ClientID is only
// derived once every field was read.
func Scan(ctx context.Context, doc document.Document, layout page.Layout, reg *Registry, L log.Logger) ([]AlertRow, error) {
	ctx = log.WithContext(ctx, L)

	rows, err := doc.QueryAll(ctx, layout.AlertRows)
	if err != nil {
		return nil, fmt.Errorf("list alert rows: %w", err)
	}

	var out []AlertRow
	for i, el := range rows {
		label := textAt(ctx, el, layout.LabelCell)
		if label == "" {
			L.Warn(ctx, "alert row without a label", "row", i)
			continue
		}
		def, ok := reg.Match(label)
		if !ok {
			continue
		}

		ar := AlertRow{
			Index:   i,
			Label:   label,
			Element: el,
			Rule:    def,
			Values:  make(map[string]string, len(def.Fields)),
		}

		for _, fd := range def.Fields {
			v, ok := Extract(ctx, doc, el, fd)
			if !ok {
				ar.Missing = append(ar.Missing, fd.Placeholder)
				continue
			}
			ar.Values[fd.Placeholder] = v
		}

		if !ar.Actionable() {
			ar.LinkErr = fmt.Errorf("missing fields %v", ar.Missing)
		} else {
			ar.ClientID = ar.Values[PlaceholderClientID]
			ar.Link, ar.LinkErr = def.EvidenceLink(ar.Values)
		}
		if ar.LinkErr != nil {
			L.Warn(ctx, "evidence link unavailable", "rule", label, "row", i, "error", ar.LinkErr)
		}

		out = append(out, ar)
	}
	return out, nil
}

// FirstFor returns the first actionable row whose rule defines resolutions for
// action.
func FirstFor(rows []AlertRow, action Action) (*AlertRow, bool) {
	for i := range rows {
		if rows[i].Actionable() && rows[i].Rule != nil && rows[i].Rule.Handles(action) {
			return &rows[i], true
		}
	}
	return nil, false
}

func textAt(ctx context.Context, q document.Querier, selector string) string {
	el, ok, err := q.Query(ctx, selector)
	if err != nil || !ok {
		return ""
	}
	v, err := el.Text(ctx)
	if err != nil {
		return ""
	}
	return v
}
