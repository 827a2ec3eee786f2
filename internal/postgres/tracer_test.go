package postgres

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/linnemanlabs/go-core/log"
)

func TestShortenFuncName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"full path", "github.com/linnemanlabs/caseinv/internal/triage/pgstore.(*Store).Get", "(*Store).Get"},
		{"already short", "(*Store).Get", "Get"},
		{"empty string", "", ""},
		{"no dots", "main", "main"},
		{"no slashes", "pgstore.(*Store).Put", "(*Store).Put"},
		{"single segment", "foo.Bar", "Bar"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := shortenFuncName(tt.in); got != tt.want {
				t.Errorf("shortenFuncName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestQueryStats_AddQuery(t *testing.T) {
	t.Parallel()

	s := &QueryStats{}
	s.AddQuery(10*time.Millisecond, nil)
	s.AddQuery(20*time.Millisecond, errors.New("timeout"))
	s.AddQuery(5*time.Millisecond, nil)

	n, total, errs := s.Snapshot()
	if n != 3 {
		t.Errorf("QueryCount = %d, want 3", n)
	}
	if total != 35*time.Millisecond {
		t.Errorf("TotalDuration = %v, want 35ms", total)
	}
	if errs != 1 {
		t.Errorf("ErrorCount = %d, want 1", errs)
	}
}

func TestQueryStatsContext(t *testing.T) {
	t.Parallel()

	if _, ok := QueryStatsFromContext(context.Background()); ok {
		t.Error("expected ok=false for plain context")
	}

	ctx := WithQueryStats(context.Background())
	got, ok := QueryStatsFromContext(ctx)
	if !ok || got == nil {
		t.Fatal("expected stats in context")
	}
	got.AddQuery(time.Millisecond, nil)
	again, _ := QueryStatsFromContext(ctx)
	if n, _, _ := again.Snapshot(); n != 1 {
		t.Errorf("QueryCount = %d, want 1 (same pointer)", n)
	}
}

func TestWithHTTPMethod(t *testing.T) {
	t.Parallel()

	if got := httpMethodFromContext(WithHTTPMethod(context.Background(), "POST")); got != "POST" {
		t.Errorf("method = %q, want POST", got)
	}
	if got := httpMethodFromContext(WithHTTPMethod(context.Background(), "")); got != "" {
		t.Errorf("method = %q, want empty", got)
	}
}

func TestLabels(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	if got := methodLabel(ctx); got != "NONE" {
		t.Errorf("methodLabel = %q, want NONE", got)
	}
	if got := routeLabel(ctx); got != BackgroundRoute {
		t.Errorf("routeLabel = %q, want %q", got, BackgroundRoute)
	}

	rc := chi.NewRouteContext()
	rc.RoutePatterns = []string{"/api/v1/flows/{id}"}
	ctx = context.WithValue(ctx, chi.RouteCtxKey, rc)
	if got := routeLabel(ctx); got != "/api/v1/flows/{id}" {
		t.Errorf("routeLabel = %q, want route pattern", got)
	}

	if outcomeLabel(nil) != "ok" || outcomeLabel(errors.New("x")) != "error" {
		t.Error("unexpected outcome labels")
	}
}

func TestLoggingTracer_RecordsStats(t *testing.T) {
	t.Parallel()

	ctx := log.WithContext(WithQueryStats(context.Background()), log.Nop())
	tr := loggingTracer{}

	ctx = tr.TraceQueryStart(ctx, nil, pgx.TraceQueryStartData{SQL: "SELECT 1"})
	tr.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{CommandTag: pgconn.NewCommandTag("SELECT 1")})

	ctx = tr.TraceQueryStart(ctx, nil, pgx.TraceQueryStartData{SQL: "SELECT broken"})
	tr.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{Err: &pgconn.PgError{Code: "42601"}})

	stats, _ := QueryStatsFromContext(ctx)
	n, _, errs := stats.Snapshot()
	if n != 2 || errs != 1 {
		t.Errorf("stats = %d queries, %d errors; want 2, 1", n, errs)
	}
}

func TestQueryFields(t *testing.T) {
	t.Parallel()

	qi := &queryInfo{sql: "UPDATE resolution_flows SET status = $1", caller: "(*Store).Put"}
	fields := queryFields(qi, time.Millisecond, pgx.TraceQueryEndData{
		CommandTag: pgconn.NewCommandTag("UPDATE 1"),
		Err:        &pgconn.PgError{Code: "23505", ConstraintName: "resolution_flows_pkey"},
	})

	got := make(map[string]any, len(fields)/2)
	for i := 0; i+1 < len(fields); i += 2 {
		got[fields[i].(string)] = fields[i+1]
	}
	if got["db.operation.name"] != "UPDATE" {
		t.Errorf("db.operation.name = %v, want UPDATE", got["db.operation.name"])
	}
	if got["db.rows"] != int64(1) {
		t.Errorf("db.rows = %v, want 1", got["db.rows"])
	}
	if got["db.caller"] != "(*Store).Put" {
		t.Errorf("db.caller = %v", got["db.caller"])
	}
	if got["db.error_code"] != "23505" || got["db.error_constraint"] != "resolution_flows_pkey" {
		t.Errorf("pg error fields = %v, %v", got["db.error_code"], got["db.error_constraint"])
	}
}

func TestMiddleware_AttachesContext(t *testing.T) {
	t.Parallel()

	var (
		method   string
		hasStats bool
	)
	h := Middleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		method = httpMethodFromContext(r.Context())
		_, hasStats = QueryStatsFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/actions/escalate", nil)
	req = req.WithContext(log.WithContext(req.Context(), log.Nop()))
	h.ServeHTTP(httptest.NewRecorder(), req)

	if method != http.MethodPost {
		t.Errorf("method = %q, want POST", method)
	}
	if !hasStats {
		t.Error("expected query stats in request context")
	}
}

func TestSetQueryObserver(t *testing.T) {
	// mutates the package-level observer; not parallel
	defer SetQueryObserver(nil)

	called := false
	SetQueryObserver(QueryObserverFunc(func(_ context.Context, _, _, _ string, _ time.Duration) {
		called = true
	}))

	got := getQueryObserver()
	if got == nil {
		t.Fatal("expected non-nil observer after Set")
	}
	got.ObserveQuery(context.Background(), "GET", "/test", "ok", time.Millisecond)
	if !called {
		t.Error("observer was not called")
	}

	SetQueryObserver(nil)
	if got := getQueryObserver(); got != nil {
		t.Errorf("expected nil observer after Set(nil), got %v", got)
	}
}
