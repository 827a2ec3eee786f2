package submit

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/linnemanlabs/caseinv/internal/document"
	"github.com/linnemanlabs/caseinv/internal/page"
	"github.com/linnemanlabs/go-core/log"
)

// Options configures a Machine. Zero values select the production defaults.
type Options struct {
	Layout       page.Layout
	Sleeper      Sleeper
	FormWait     Wait
	ComposerWait Wait
	Logger       log.Logger
	Hooks        Hooks
}

// Machine runs submissions against one document. It holds no per-flow state,
// callers serialize flows.
type Machine struct {
	doc          document.Document
	layout       page.Layout
	sleep        Sleeper
	formWait     Wait
	composerWait Wait
	logger       log.Logger
	hooks        Hooks
}

// New creates a Machine for doc.
func New(doc document.Document, opts Options) *Machine {
	if opts.Layout == (page.Layout{}) {
		opts.Layout = page.Portal()
	}
	if opts.Sleeper == nil {
		opts.Sleeper = RealSleeper
	}
	if opts.FormWait.MaxAttempts <= 0 {
		opts.FormWait = FormWait
	}
	if opts.ComposerWait.MaxAttempts <= 0 {
		opts.ComposerWait = ComposerWait
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	return &Machine{
		doc:          doc,
		layout:       opts.Layout,
		sleep:        opts.Sleeper,
		formWait:     opts.FormWait,
		composerWait: opts.ComposerWait,
		logger:       opts.Logger,
		hooks:        opts.Hooks,
	}
}

// Run drives one submission to a terminal state. It never returns an error;
// failures are reported in Outcome.Err as an *AbortError.
func (m *Machine) Run(ctx context.Context, req Request) Outcome {
	start := time.Now()
	f := &flow{
		m:     m,
		req:   req,
		state: StateIdle,
		L: m.logger.With(
			"target_status", req.TargetStatus,
			"autosave", req.Autosave,
			"notify", req.Notify,
		),
	}

	err := f.run(ctx)
	out := Outcome{
		State:    f.state,
		Steps:    slices.Clone(f.steps),
		Err:      err,
		Duration: time.Since(start),
	}

	if err != nil {
		f.L.Error(ctx, err, "submission aborted", "steps", len(out.Steps))
	} else {
		f.L.Info(ctx, "submission finished", "state", out.State, "duration", out.Duration.Seconds())
	}
	if m.hooks.OnComplete != nil {
		m.hooks.OnComplete(out.State, out.Duration.Seconds())
	}
	return out
}

type flow struct {
	m     *Machine
	req   Request
	state State
	steps []string
	L     log.Logger
}

// form holds the three affordances that must all be present before filling.
type form struct {
	text, status, save document.Element
}

func (f *flow) run(ctx context.Context) error {
	m := f.m
	lay := m.layout

	fm, missing := m.findForm(ctx)
	if len(missing) == 0 {
		f.L.Info(ctx, "narrative form already open")
		f.to(ctx, StateAwaitingFormReady)
	} else {
		f.to(ctx, StateAwaitingFormOpen)
		if err := f.click(ctx, m.doc, lay.OpenNarrative, "add narrative button"); err != nil {
			return err
		}
		f.done("opened narrative form")

		f.to(ctx, StateAwaitingFormReady)
		attempts, found, err := f.poll(ctx, m.formWait, func() bool {
			fm, missing = m.findForm(ctx)
			return len(missing) == 0
		})
		if err != nil {
			return f.abort(ctx, "narrative form", attempts, err)
		}
		if !found {
			return f.abort(ctx, strings.Join(missing, ", "), attempts, nil)
		}
	}
	f.done("narrative form ready")

	f.to(ctx, StateFilling)
	if err := fm.text.WriteWithNotify(ctx, f.req.Narrative); err != nil {
		return f.abort(ctx, "narrative text field", 1, err)
	}
	f.done("wrote narrative")

	if status := f.req.TargetStatus; status != "" {
		f.to(ctx, StateAwaitingStatusOptions)
		if err := fm.status.Dispatch(ctx, document.Open); err != nil {
			return f.abort(ctx, "status control", 1, err)
		}
		if err := f.pause(ctx, StatusSettle, "status options"); err != nil {
			return err
		}
		if err := f.click(ctx, m.doc, lay.Option(status), fmt.Sprintf("status option %q", status)); err != nil {
			return err
		}
		f.done("selected status " + status)
	}

	if !f.req.Autosave {
		f.to(ctx, StateAwaitingManualSave)
		return nil
	}

	f.to(ctx, StateAwaitingSave)
	if err := f.pause(ctx, SaveSettle, "save button"); err != nil {
		return err
	}
	if err := fm.save.Dispatch(ctx, document.Click); err != nil {
		return f.abort(ctx, "save button", 1, err)
	}
	f.done("saved narrative")

	if f.req.Notify {
		if err := f.notify(ctx); err != nil {
			return err
		}
	}

	f.to(ctx, StateDone)
	return nil
}

// notify emails the client, marks the case as waiting on them and silences
// new-alert notifications. Steps already taken are not undone on failure.
func (f *flow) notify(ctx context.Context) error {
	m := f.m
	lay := m.layout

	f.to(ctx, StateAwaitingComposer)
	if err := f.pause(ctx, NotifyDelay, "create email button"); err != nil {
		return err
	}
	if err := f.click(ctx, m.doc, lay.OpenComposer, "create email button"); err != nil {
		return err
	}
	f.done("opened email composer")

	f.to(ctx, StateAwaitingSend)
	var send document.Element
	attempts, found, err := f.poll(ctx, m.composerWait, func() bool {
		send = m.findSend(ctx)
		return send != nil
	})
	if err != nil {
		return f.abort(ctx, "email send button", attempts, err)
	}
	if !found {
		return f.abort(ctx, "email send button", attempts, nil)
	}
	if err := send.Dispatch(ctx, document.Click); err != nil {
		return f.abort(ctx, "email send button", 1, err)
	}
	f.done("sent email")

	f.to(ctx, StateAwaitingResponseStatus)
	ctl, ok, err := m.doc.Query(ctx, lay.CaseStatus)
	if err != nil || !ok {
		return f.abort(ctx, "case status control", 1, err)
	}
	if err := ctl.Dispatch(ctx, document.Open); err != nil {
		return f.abort(ctx, "case status control", 1, err)
	}
	if err := f.pause(ctx, StatusSettle, "waiting for client option"); err != nil {
		return err
	}
	if err := f.click(ctx, m.doc, lay.Option(lay.ResponseStatus), "waiting for client option"); err != nil {
		return err
	}
	f.done("set case status waiting for client")

	f.to(ctx, StateAwaitingToggle)
	toggle, ok, err := m.doc.Query(ctx, lay.NewAlertsToggle)
	if err != nil || !ok {
		return f.abort(ctx, "new alerts toggle", 1, err)
	}
	checked, _, err := toggle.Value(ctx, "checked")
	if err != nil {
		return f.abort(ctx, "new alerts toggle", 1, err)
	}
	if checked != "true" {
		f.done("new alerts already off")
		return nil
	}
	if err := toggle.Dispatch(ctx, document.Click); err != nil {
		return f.abort(ctx, "new alerts toggle", 1, err)
	}
	f.done("turned off new alerts")
	return nil
}

func (m *Machine) findForm(ctx context.Context) (form, []string) {
	var (
		fm      form
		missing []string
	)
	lookup := func(selector, name string) document.Element {
		el, ok, err := m.doc.Query(ctx, selector)
		if err != nil || !ok {
			missing = append(missing, name)
			return nil
		}
		return el
	}
	fm.text = lookup(m.layout.NarrativeText, "narrative text field")
	fm.status = lookup(m.layout.StatusControl, "status control")
	fm.save = lookup(m.layout.SaveNarrative, "save button")
	return fm, missing
}

// findSend returns the composer's send button, or nil until it has rendered
// with its final label.
func (m *Machine) findSend(ctx context.Context) document.Element {
	composer, ok, err := m.doc.Query(ctx, m.layout.Composer)
	if err != nil || !ok {
		return nil
	}
	buttons, err := composer.QueryAll(ctx, m.layout.ComposerSend)
	if err != nil {
		return nil
	}
	for _, b := range buttons {
		if text, err := b.Text(ctx); err == nil && text == m.layout.ComposerSendText {
			return b
		}
	}
	return nil
}

// poll sleeps one interval before each probe and stops at the first success
// or after w.MaxAttempts probes.
func (f *flow) poll(ctx context.Context, w Wait, probe func() bool) (int, bool, error) {
	for attempt := 1; attempt <= w.MaxAttempts; attempt++ {
		if err := f.m.sleep.Sleep(ctx, w.Interval); err != nil {
			f.observePoll(attempt, false)
			return attempt, false, err
		}
		if probe() {
			f.observePoll(attempt, true)
			return attempt, true, nil
		}
	}
	f.observePoll(w.MaxAttempts, false)
	return w.MaxAttempts, false, nil
}

func (f *flow) observePoll(attempts int, found bool) {
	if f.m.hooks.OnPoll != nil {
		f.m.hooks.OnPoll(f.state, attempts, found)
	}
}

func (f *flow) click(ctx context.Context, q document.Querier, selector, affordance string) error {
	el, ok, err := q.Query(ctx, selector)
	if err != nil || !ok {
		return f.abort(ctx, affordance, 1, err)
	}
	if err := el.Dispatch(ctx, document.Click); err != nil {
		return f.abort(ctx, affordance, 1, err)
	}
	return nil
}

func (f *flow) pause(ctx context.Context, d time.Duration, next string) error {
	if err := f.m.sleep.Sleep(ctx, d); err != nil {
		return f.abort(ctx, next, 0, err)
	}
	return nil
}

func (f *flow) done(step string) {
	f.steps = append(f.steps, step)
}

func (f *flow) to(ctx context.Context, s State) {
	from := f.state
	f.state = s
	f.L.Info(ctx, "submission state", "from", from, "to", s)
	if f.m.hooks.OnTransition != nil {
		f.m.hooks.OnTransition(from, s)
	}
}

func (f *flow) abort(ctx context.Context, affordance string, attempts int, err error) error {
	ae := &AbortError{
		Stage:      f.state,
		Affordance: affordance,
		Attempts:   attempts,
		Steps:      slices.Clone(f.steps),
		Err:        err,
	}
	f.to(ctx, StateAborted)
	return ae
}
