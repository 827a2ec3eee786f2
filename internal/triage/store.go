package triage

import "context"

// Store is the persistence interface for flow records.
type Store interface {
	Get(ctx context.Context, id string) (*Flow, bool, error)
	Put(ctx context.Context, flow *Flow) error

	// Recent returns up to limit flows, newest first.
	Recent(ctx context.Context, limit int) ([]*Flow, error)
}
