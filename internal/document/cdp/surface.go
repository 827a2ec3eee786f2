package cdp

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/runtime"
)

// Surface shows operator notices and opens links in the attached tab.
type Surface struct {
	doc *Doc
}

// NewSurface returns a Surface over d's tab.
func NewSurface(d *Doc) *Surface {
	return &Surface{doc: d}
}

// Notify shows msg in a modal dialog. It returns once the dialog is
// scheduled, not when the operator dismisses it.
func (s *Surface) Notify(ctx context.Context, msg string) error {
	var ok bool
	if err := s.doc.eval(ctx, notifyScript(msg), &ok); err != nil {
		return fmt.Errorf("notify operator: %w", err)
	}
	return nil
}

// OpenLink opens url in a new browsing context. The script runs as a user
// gesture; popup blocking drops window.open calls without one.
func (s *Surface) OpenLink(ctx context.Context, url string) error {
	var ok bool
	if err := s.doc.eval(ctx, openScript(url), &ok, withUserGesture); err != nil {
		return fmt.Errorf("open link: %w", err)
	}
	return nil
}

func withUserGesture(p *runtime.EvaluateParams) *runtime.EvaluateParams {
	return p.WithUserGesture(true)
}
