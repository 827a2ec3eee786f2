package triage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/linnemanlabs/caseinv/internal/document"
	"github.com/linnemanlabs/caseinv/internal/governor"
	"github.com/linnemanlabs/caseinv/internal/page"
	"github.com/linnemanlabs/caseinv/internal/rules"
	"github.com/linnemanlabs/caseinv/internal/submit"
	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/linnemanlabs/caseinv/internal/triage")

// Surface is where the operator sees the engine's results.
type Surface interface {
	// Notify shows msg to the operator.
	Notify(ctx context.Context, msg string) error

	// OpenLink opens url in a new browsing context.
	OpenLink(ctx context.Context, url string) error
}

// Notifier publishes finished flows.
type Notifier interface {
	Send(ctx context.Context, flow *Flow) error
}

// Hooks receives coordinator telemetry. Nil fields are skipped.
type Hooks struct {
	OnScan     func(matched int, duration float64)
	OnDecision func(d governor.Decision)
	OnRejected func(action rules.Action, reason string)
	OnFlow     func(action rules.Action, status Status, duration float64)
}

// Options configures a Service. Document, Registry, Machine and Store are
// required.
type Options struct {
	Document  document.Document
	Layout    page.Layout
	Registry  *rules.Registry
	Machine   *submit.Machine
	Store     Store
	Enricher  rules.Enricher
	Surface   Surface
	Notifier  Notifier
	LocalUser string
	Quiet     time.Duration
	Logger    log.Logger
	Hooks     Hooks
}

// Snapshot is the state of the case page as of one scan.
type Snapshot struct {
	CaseStatus string
	Assignee   string
	Alerts     []rules.AlertRow
	Decision   governor.Decision
}

// Service is the business boundary for resolution operations.
type Service struct {
	doc       document.Document
	layout    page.Layout
	registry  *rules.Registry
	machine   *submit.Machine
	store     Store
	enricher  rules.Enricher
	surface   Surface
	notifier  Notifier
	localUser string
	quiet     time.Duration
	logger    log.Logger
	hooks     Hooks

	lock FlowLock
	wg   sync.WaitGroup

	mu   sync.RWMutex
	last Snapshot
}

// NewService creates a new resolution service.
func NewService(opts Options) *Service {
	if opts.Layout == (page.Layout{}) {
		opts.Layout = page.Portal()
	}
	if opts.Quiet <= 0 {
		opts.Quiet = governor.DefaultQuiet
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	return &Service{
		doc:       opts.Document,
		layout:    opts.Layout,
		registry:  opts.Registry,
		machine:   opts.Machine,
		store:     opts.Store,
		enricher:  opts.Enricher,
		surface:   opts.Surface,
		notifier:  opts.Notifier,
		localUser: opts.LocalUser,
		quiet:     opts.Quiet,
		logger:    opts.Logger,
		hooks:     opts.Hooks,
	}
}

// Refresh rescans the page and re-evaluates the governor.
func (s *Service) Refresh(ctx context.Context) (Snapshot, error) {
	start := time.Now()

	status, assignee := s.readCase(ctx)
	alerts, err := rules.Scan(ctx, s.doc, s.layout, s.registry, s.logger)
	if err != nil {
		return Snapshot{}, err
	}
	_, active := s.lock.Holder()

	snap := Snapshot{
		CaseStatus: status,
		Assignee:   assignee,
		Alerts:     alerts,
		Decision: governor.Decide(governor.Inputs{
			CaseStatus: status,
			Assignee:   assignee,
			LocalUser:  s.localUser,
			Matched:    len(alerts),
			FlowActive: active,
		}),
	}

	s.mu.Lock()
	s.last = snap
	s.mu.Unlock()

	if s.hooks.OnScan != nil {
		s.hooks.OnScan(len(alerts), time.Since(start).Seconds())
	}
	if s.hooks.OnDecision != nil {
		s.hooks.OnDecision(snap.Decision)
	}
	return snap, nil
}

// Last returns the most recent snapshot without touching the page.
func (s *Service) Last() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// Watch refreshes once per burst of page changes until ctx is done or
// changes is closed.
func (s *Service) Watch(ctx context.Context, changes <-chan struct{}) {
	governor.Debounce(ctx, changes, s.quiet, func(ctx context.Context) {
		if _, err := s.Refresh(ctx); err != nil {
			s.logger.Warn(ctx, "refresh after page change failed", "error", err)
		}
	})
}

// Investigate opens the evidence link of the alert at index.
func (s *Service) Investigate(ctx context.Context, index int) (string, error) {
	snap, err := s.Refresh(ctx)
	if err != nil {
		return "", fmt.Errorf("scan case page: %w", err)
	}
	for i := range snap.Alerts {
		row := &snap.Alerts[i]
		if row.Index != index {
			continue
		}
		if row.LinkErr != nil {
			return "", fmt.Errorf("alert %d: %w: %w", index, ErrNoLink, row.LinkErr)
		}
		if s.surface != nil {
			if err := s.surface.OpenLink(ctx, row.Link); err != nil {
				return "", fmt.Errorf("open evidence link: %w", err)
			}
		}
		return row.Link, nil
	}
	return "", fmt.Errorf("alert %d: %w", index, ErrNoAlert)
}

// Trigger starts a flow for action and returns its record. The flow runs
// asynchronously and is not cancelled with ctx.
func (s *Service) Trigger(ctx context.Context, action rules.Action) (*Flow, error) {
	if action != ActionAssign && !action.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	if _, held := s.lock.Holder(); held {
		return nil, s.reject(ctx, action, ErrFlowActive)
	}

	snap, err := s.Refresh(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan case page: %w", err)
	}
	if !offered(action, snap.Decision) {
		return nil, s.reject(ctx, action, ErrNotOffered)
	}

	res, row, err := s.resolve(action, snap.Alerts)
	if err != nil {
		return nil, s.reject(ctx, action, err)
	}

	id := ulid.Make().String()
	if !s.lock.TryAcquire(id) {
		return nil, s.reject(ctx, action, ErrFlowActive)
	}

	flow := &Flow{
		ID:           id,
		Action:       action,
		TargetStatus: res.Status,
		Autosave:     res.Autosave,
		Notify:       res.Notify,
		Status:       StatusPending,
		CreatedAt:    time.Now(),
	}
	if row != nil {
		flow.Rule = row.Label
		flow.ClientID = row.ClientID
	}

	if err := s.store.Put(ctx, flow); err != nil {
		s.lock.Release(id)
		return nil, err
	}

	// pass only the ID so the caller's record is never shared with the flow.
	s.wg.Add(1)
	go s.run(context.WithoutCancel(ctx), id, res, row)

	return flow, nil
}

// Get retrieves a flow record by ID.
func (s *Service) Get(ctx context.Context, id string) (*Flow, bool, error) {
	return s.store.Get(ctx, id)
}

// Recent lists up to limit flow records, newest first.
func (s *Service) Recent(ctx context.Context, limit int) ([]*Flow, error) {
	return s.store.Recent(ctx, limit)
}

// Active returns the id of the running flow, if any.
func (s *Service) Active() (string, bool) {
	return s.lock.Holder()
}

// Wait blocks until every started flow has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) resolve(action rules.Action, alerts []rules.AlertRow) (*rules.Resolution, *rules.AlertRow, error) {
	if action == ActionAssign {
		res := rules.AssignResolution
		return &res, nil, nil
	}
	row, ok := rules.FirstFor(alerts, action)
	if !ok {
		return nil, nil, &ConfigError{Action: action, Err: ErrNoAlert}
	}
	res, ok := row.Rule.Select(action, row.ClientID)
	if !ok {
		return nil, nil, &ConfigError{Action: action, Rule: row.Label, ClientID: row.ClientID, Err: errNoResolution}
	}
	return res, row, nil
}

func (s *Service) run(ctx context.Context, id string, res *rules.Resolution, row *rules.AlertRow) {
	defer s.wg.Done()

	ctx, span := tracer.Start(ctx, "triage.flow", trace.WithAttributes(
		attribute.String("caseinv.flow.id", id),
	))
	defer span.End()

	L := s.logger.With("flow_id", id)
	ctx = log.WithContext(ctx, L)

	flow, ok, err := s.store.Get(ctx, id)
	if err != nil || !ok {
		L.Error(ctx, err, "failed to fetch flow record")
		span.SetStatus(codes.Error, "flow record missing")
		s.lock.Release(id)
		return
	}
	L = L.With("action", flow.Action, "rule", flow.Rule, "client_id", flow.ClientID)
	span.SetAttributes(
		attribute.String("caseinv.action", string(flow.Action)),
		attribute.String("caseinv.rule", flow.Rule),
		attribute.String("caseinv.client_id", flow.ClientID),
	)

	flow.Status = StatusRunning
	flow.Narrative = rules.ResolveNarrative(ctx, res, row, s.enricher)
	if err := s.store.Put(ctx, flow); err != nil {
		L.Error(ctx, err, "failed to update status to running")
		s.lock.Release(id)
		return
	}

	out := s.machine.Run(ctx, submit.Request{
		Narrative:    flow.Narrative,
		TargetStatus: flow.TargetStatus,
		Autosave:     flow.Autosave,
		Notify:       flow.Notify,
	})

	flow.Status = statusOf(out.State)
	flow.Stage = string(out.State)
	flow.Steps = out.Steps
	flow.CompletedAt = time.Now()
	flow.Duration = out.Duration.Seconds()
	var ae *submit.AbortError
	if errors.As(out.Err, &ae) {
		flow.Stage = string(ae.Stage)
	}
	if out.Err != nil {
		flow.Error = out.Err.Error()
		span.RecordError(out.Err)
		span.SetStatus(codes.Error, flow.Error)
	}
	span.SetAttributes(
		attribute.String("caseinv.flow.status", string(flow.Status)),
		attribute.String("caseinv.flow.stage", flow.Stage),
		attribute.Int("caseinv.flow.steps", len(flow.Steps)),
	)

	if err := s.store.Put(ctx, flow); err != nil {
		L.Error(ctx, err, "failed to persist flow result")
	}
	s.lock.Release(id)

	L.Info(ctx, "flow complete",
		"status", flow.Status,
		"stage", flow.Stage,
		"steps", len(flow.Steps),
		"duration", flow.Duration,
	)
	if s.hooks.OnFlow != nil {
		s.hooks.OnFlow(flow.Action, flow.Status, flow.Duration)
	}

	if flow.Status == StatusAborted && s.surface != nil {
		if err := s.surface.Notify(ctx, "Resolution stopped: "+flow.Error); err != nil {
			L.Warn(ctx, "failed to notify operator", "error", err)
		}
	}
	if s.notifier != nil {
		if err := s.notifier.Send(ctx, flow); err != nil {
			L.Warn(ctx, "failed to send flow notification", "error", err)
		}
	}

	if _, err := s.Refresh(ctx); err != nil {
		L.Warn(ctx, "refresh after flow failed", "error", err)
	}
}

// reject records a refused trigger and shows configuration problems to the
// operator. It returns err.
func (s *Service) reject(ctx context.Context, action rules.Action, err error) error {
	reason := rejectReason(err)
	s.logger.Warn(ctx, "flow rejected", "action", action, "reason", reason, "error", err)
	if s.hooks.OnRejected != nil {
		s.hooks.OnRejected(action, reason)
	}

	var ce *ConfigError
	if errors.As(err, &ce) && s.surface != nil {
		if nerr := s.surface.Notify(ctx, ce.Error()); nerr != nil {
			s.logger.Warn(ctx, "failed to notify operator", "error", nerr)
		}
	}
	return err
}

// readCase reads the case header. Missing elements read as "".
func (s *Service) readCase(ctx context.Context) (status, assignee string) {
	if el, ok, err := s.doc.Query(ctx, s.layout.CaseStatus); err == nil && ok {
		status, _ = el.Text(ctx)
	}
	if el, ok, err := s.doc.Query(ctx, s.layout.Assignee); err == nil && ok {
		assignee, _, _ = el.Value(ctx, "value")
	}
	return status, assignee
}

func offered(action rules.Action, d governor.Decision) bool {
	if action == ActionAssign {
		return d.ShowAssign
	}
	return d.ShowResolutions
}

func statusOf(s submit.State) Status {
	switch s {
	case submit.StateDone:
		return StatusDone
	case submit.StateAwaitingManualSave:
		return StatusAwaitingManualSave
	default:
		return StatusAborted
	}
}

func rejectReason(err error) string {
	var ce *ConfigError
	switch {
	case errors.Is(err, ErrFlowActive):
		return "flow_active"
	case errors.Is(err, ErrNotOffered):
		return "not_offered"
	case errors.Is(err, ErrNoAlert):
		return "no_alert"
	case errors.As(err, &ce):
		return "config"
	default:
		return "error"
	}
}
