package rules

import (
	"context"

	"github.com/linnemanlabs/caseinv/internal/document"
	"github.com/linnemanlabs/go-core/log"
)

// Extract reads the value described by fd. Row-scoped descriptors resolve
// inside row; page-scoped ones resolve against doc. A miss or read failure
// returns ok=false and is logged at warn level.
func Extract(ctx context.Context, doc document.Querier, row document.Element, fd FieldDescriptor) (string, bool) {
	L := log.FromContext(ctx).With("placeholder", fd.Placeholder, "selector", fd.Selector)

	var root document.Querier = doc
	if fd.Scope == ScopeRow {
		if row == nil {
			L.Warn(ctx, "row-scoped field without a row")
			return "", false
		}
		root = row
	}

	el, ok, err := root.Query(ctx, fd.Selector)
	if err != nil {
		L.Warn(ctx, "field lookup failed", "error", err)
		return "", false
	}
	if !ok {
		L.Warn(ctx, "field not found")
		return "", false
	}

	switch fd.Mode {
	case ModeText:
		v, err := el.Text(ctx)
		if err != nil {
			L.Warn(ctx, "field text read failed", "error", err)
			return "", false
		}
		return v, true
	default:
		v, ok, err := el.Value(ctx, "value")
		if err != nil {
			L.Warn(ctx, "field value read failed", "error", err)
			return "", false
		}
		if !ok {
			L.Warn(ctx, "field has no value")
			return "", false
		}
		return v, true
	}
}
