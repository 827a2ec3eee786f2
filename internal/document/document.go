// Package document defines the narrow view of the case-management page that
// the resolution engine depends on: scoped lookup, value and text reads,
// framework-visible writes, and synthetic interactions.
package document

import "context"

// Interaction is a synthetic user interaction dispatched against an element.
type Interaction string

const (
	// Click dispatches a bubbling click.
	Click Interaction = "click"

	// Open dispatches the press/release pair that composite controls (select
	// menus) use to open their option list.
	Open Interaction = "open"
)

// Querier performs structural lookups below some root.
type Querier interface {
	// Query returns the first element matching selector. ok is false when no
	// element matches; err is reserved for collaborator failures.
	Query(ctx context.Context, selector string) (el Element, ok bool, err error)

	// QueryAll returns every element matching selector, in document order.
	QueryAll(ctx context.Context, selector string) ([]Element, error)
}

// Document is the whole page.
type Document interface {
	Querier
}

// Element is one node of the page. Elements are also Queriers scoped to their
// own subtree.
type Element interface {
	Querier

	// Value reads a named property (falling back to the attribute of the same
	// name). ok is false when neither is present.
	Value(ctx context.Context, name string) (v string, ok bool, err error)

	// Text returns the trimmed displayed text of the element.
	Text(ctx context.Context) (string, error)

	// WriteWithNotify assigns value and emits input, change, focus and blur
	// notifications, in that order, so the host framework observes the new
	// value.
	WriteWithNotify(ctx context.Context, value string) error

	// Dispatch sends a synthetic interaction to the element.
	Dispatch(ctx context.Context, in Interaction) error
}

// Present reports whether selector resolves below q. Collaborator errors count
// as absent; polling callers retry anyway.
func Present(ctx context.Context, q Querier, selector string) bool {
	_, ok, err := q.Query(ctx, selector)
	return ok && err == nil
}
