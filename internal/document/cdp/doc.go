// Package cdp implements the case page document over the Chrome DevTools
// Protocol, attached to the operator's own browser tab.
package cdp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/caseinv/internal/document"
)

const (
	defaultEvalTimeout  = 5 * time.Second
	defaultPollInterval = 250 * time.Millisecond
)

var (
	// ErrNoTab is returned by Attach when no open tab matches the URL prefix.
	ErrNoTab = errors.New("no case portal tab open")

	// ErrDetached is returned by element operations once the element has left
	// the page.
	ErrDetached = errors.New("element no longer on page")
)

type evalFunc func(ctx context.Context, script string, res any, opts ...chromedp.EvaluateOption) error

// Options tunes a Doc.
type Options struct {
	EvalTimeout  time.Duration // per-evaluation bound
	PollInterval time.Duration // change feed poll period
	Logger       log.Logger
}

// Doc is the case page in an attached tab. It implements document.Document.
type Doc struct {
	eval   evalFunc
	close  func()
	poll   time.Duration
	logger log.Logger
}

var _ document.Document = (*Doc)(nil)

// Attach connects to the browser at browserURL and binds to the first page tab
// whose URL starts with urlPrefix. Close disconnects.
func Attach(ctx context.Context, browserURL, urlPrefix string, opts Options) (*Doc, error) {
	allocCtx, cancelAlloc := chromedp.NewRemoteAllocator(ctx, browserURL)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	cleanup := func() {
		cancelBrowser()
		cancelAlloc()
	}

	targets, err := chromedp.Targets(browserCtx)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("list browser targets: %w", err)
	}
	info, ok := pickTarget(targets, urlPrefix)
	if !ok {
		cleanup()
		return nil, fmt.Errorf("%w: %s", ErrNoTab, urlPrefix)
	}

	// never cancelled on its own: cancelling a tab context closes the tab
	tabCtx, _ := chromedp.NewContext(browserCtx, chromedp.WithTargetID(info.TargetID))
	if err := chromedp.Run(tabCtx); err != nil {
		cleanup()
		return nil, fmt.Errorf("attach to tab %s: %w", info.TargetID, err)
	}

	timeout := opts.EvalTimeout
	if timeout <= 0 {
		timeout = defaultEvalTimeout
	}
	d := newDoc(tabEvaluator(tabCtx, timeout), opts)
	d.close = cleanup

	d.logger.Info(ctx, "attached to case portal tab", "target_id", info.TargetID, "url", info.URL)
	return d, nil
}

func newDoc(eval evalFunc, opts Options) *Doc {
	d := &Doc{
		eval:   eval,
		close:  func() {},
		poll:   opts.PollInterval,
		logger: opts.Logger,
	}
	if d.poll <= 0 {
		d.poll = defaultPollInterval
	}
	if d.logger == nil {
		d.logger = log.Nop()
	}
	return d
}

// tabEvaluator runs scripts in the tab. Calls end at the first of ctx, the
// tab context or timeout.
func tabEvaluator(tab context.Context, timeout time.Duration) evalFunc {
	return func(ctx context.Context, script string, res any, opts ...chromedp.EvaluateOption) error {
		tctx, cancel := context.WithTimeout(tab, timeout)
		defer cancel()
		stop := context.AfterFunc(ctx, cancel)
		defer stop()

		if err := chromedp.Run(tctx, chromedp.Evaluate(script, res, opts...)); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return err
		}
		return nil
	}
}

// pickTarget returns the first page target whose URL starts with prefix.
func pickTarget(targets []*target.Info, prefix string) (*target.Info, bool) {
	for _, t := range targets {
		if t != nil && t.Type == "page" && strings.HasPrefix(t.URL, prefix) {
			return t, true
		}
	}
	return nil, false
}

// Close disconnects from the browser.
func (d *Doc) Close() {
	d.close()
}

// Query implements document.Querier for the whole page.
func (d *Doc) Query(ctx context.Context, selector string) (document.Element, bool, error) {
	return d.query(ctx, "", selector)
}

// QueryAll implements document.Querier for the whole page.
func (d *Doc) QueryAll(ctx context.Context, selector string) ([]document.Element, error) {
	return d.queryAll(ctx, "", selector)
}

func (d *Doc) query(ctx context.Context, root, selector string) (document.Element, bool, error) {
	var res queryResult
	if err := d.eval(ctx, queryScript(root, selector, false), &res); err != nil {
		return nil, false, fmt.Errorf("query %s: %w", selector, err)
	}
	if res.Gone || len(res.Refs) == 0 {
		return nil, false, nil
	}
	return &element{doc: d, ref: res.Refs[0]}, true, nil
}

func (d *Doc) queryAll(ctx context.Context, root, selector string) ([]document.Element, error) {
	var res queryResult
	if err := d.eval(ctx, queryScript(root, selector, true), &res); err != nil {
		return nil, fmt.Errorf("query all %s: %w", selector, err)
	}
	if res.Gone {
		return nil, nil
	}
	out := make([]document.Element, 0, len(res.Refs))
	for _, ref := range res.Refs {
		out = append(out, &element{doc: d, ref: ref})
	}
	return out, nil
}

// element is a page node addressed by its ref attribute.
type element struct {
	doc *Doc
	ref string
}

var _ document.Element = (*element)(nil)

func (e *element) Query(ctx context.Context, selector string) (document.Element, bool, error) {
	return e.doc.query(ctx, e.ref, selector)
}

func (e *element) QueryAll(ctx context.Context, selector string) ([]document.Element, error) {
	return e.doc.queryAll(ctx, e.ref, selector)
}

func (e *element) Value(ctx context.Context, name string) (string, bool, error) {
	var res valueResult
	if err := e.doc.eval(ctx, valueScript(e.ref, name), &res); err != nil {
		return "", false, fmt.Errorf("read %s: %w", name, err)
	}
	if res.Gone {
		return "", false, ErrDetached
	}
	return res.Value, res.OK, nil
}

func (e *element) Text(ctx context.Context) (string, error) {
	var res textResult
	if err := e.doc.eval(ctx, textScript(e.ref), &res); err != nil {
		return "", fmt.Errorf("read text: %w", err)
	}
	if res.Gone {
		return "", ErrDetached
	}
	return res.Text, nil
}

func (e *element) WriteWithNotify(ctx context.Context, value string) error {
	return e.act(ctx, "write", writeScript(e.ref, value))
}

func (e *element) Dispatch(ctx context.Context, in document.Interaction) error {
	events, err := eventsFor(in)
	if err != nil {
		return err
	}
	return e.act(ctx, string(in), dispatchScript(e.ref, events))
}

func (e *element) act(ctx context.Context, what, script string) error {
	var res actResult
	if err := e.doc.eval(ctx, script, &res); err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if res.Gone {
		return fmt.Errorf("%s: %w", what, ErrDetached)
	}
	return nil
}
