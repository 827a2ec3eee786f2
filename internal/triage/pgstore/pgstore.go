// Package pgstore provides a PostgreSQL implementation of triage.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/caseinv/internal/rules"
	"github.com/linnemanlabs/caseinv/internal/triage"
)

var tracer = otel.Tracer("github.com/linnemanlabs/caseinv/internal/triage/pgstore")

//go:embed schema.sql
var schema string

// Store persists flow records in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on pool and returns a ready Store. The caller owns
// the pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

const flowColumns = `id, action, rule_label, client_id, narrative, target_status, autosave, notify,
	status, stage, steps, error, created_at, completed_at, duration_s`

// Get retrieves a flow record by ID.
func (s *Store) Get(ctx context.Context, id string) (*triage.Flow, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.Get", "SELECT")
	defer span.End()

	query := `SELECT ` + flowColumns + ` FROM resolution_flows WHERE id = $1`
	f, err := scanFlow(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		fail(span, err)
		return nil, false, err
	}
	if f == nil {
		return nil, false, nil
	}
	return f, true, nil
}

// Recent returns up to limit flow records, newest first. A non-positive
// limit returns every record.
func (s *Store) Recent(ctx context.Context, limit int) ([]*triage.Flow, error) {
	ctx, span := startSpan(ctx, "pgstore.Recent", "SELECT")
	defer span.End()

	var lim *int
	if limit > 0 {
		lim = &limit
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+flowColumns+` FROM resolution_flows ORDER BY created_at DESC, id DESC LIMIT $1`, lim)
	if err != nil {
		err = fmt.Errorf("query flows: %w", err)
		fail(span, err)
		return nil, err
	}
	defer rows.Close()

	var out []*triage.Flow
	for rows.Next() {
		f, err := scanFlow(rows)
		if err != nil {
			fail(span, err)
			return nil, err
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		err = fmt.Errorf("iterate flows: %w", err)
		fail(span, err)
		return nil, err
	}
	return out, nil
}

// Put inserts or updates a flow record.
func (s *Store) Put(ctx context.Context, f *triage.Flow) error {
	ctx, span := startSpan(ctx, "pgstore.Put", "UPSERT")
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		fail(span, err)
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	if err := upsertFlow(ctx, tx, f); err != nil {
		fail(span, err)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		fail(span, err)
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func upsertFlow(ctx context.Context, tx pgx.Tx, f *triage.Flow) error {
	steps := f.Steps
	if steps == nil {
		steps = []string{}
	}
	stepsJSON, err := json.Marshal(steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}

	var completedAt *time.Time
	if !f.CompletedAt.IsZero() {
		completedAt = &f.CompletedAt
	}

	query := `INSERT INTO resolution_flows (
		id, action, rule_label, client_id, narrative, target_status, autosave, notify,
		status, stage, steps, error, created_at, completed_at, duration_s
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	ON CONFLICT (id) DO UPDATE SET
		narrative    = EXCLUDED.narrative,
		status       = EXCLUDED.status,
		stage        = EXCLUDED.stage,
		steps        = EXCLUDED.steps,
		error        = EXCLUDED.error,
		completed_at = EXCLUDED.completed_at,
		duration_s   = EXCLUDED.duration_s`

	_, err = tx.Exec(ctx, query,
		f.ID, string(f.Action), f.Rule, f.ClientID, f.Narrative, f.TargetStatus, f.Autosave, f.Notify,
		string(f.Status), f.Stage, stepsJSON, f.Error, f.CreatedAt, completedAt, f.Duration,
	)
	if err != nil {
		return fmt.Errorf("upsert flow: %w", err)
	}
	return nil
}

// scanFlow scans a single row into a triage.Flow.
// Returns (nil, nil) when no row is found.
func scanFlow(row pgx.Row) (*triage.Flow, error) {
	var (
		f           triage.Flow
		action      string
		status      string
		stepsJSON   []byte
		completedAt *time.Time
	)

	err := row.Scan(
		&f.ID, &action, &f.Rule, &f.ClientID, &f.Narrative, &f.TargetStatus, &f.Autosave, &f.Notify,
		&status, &f.Stage, &stepsJSON, &f.Error, &f.CreatedAt, &completedAt, &f.Duration,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan: %w", err)
	}

	f.Action = rules.Action(action)
	f.Status = triage.Status(status)
	if completedAt != nil {
		f.CompletedAt = *completedAt
	}
	if err := json.Unmarshal(stepsJSON, &f.Steps); err != nil {
		return nil, fmt.Errorf("unmarshal steps: %w", err)
	}
	if len(f.Steps) == 0 {
		f.Steps = nil
	}
	return &f, nil
}

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
