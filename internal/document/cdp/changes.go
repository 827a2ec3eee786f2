package cdp

import (
	"context"
	"time"
)

// Changes polls the in-page mutation counter and signals whenever it moved.
// The first poll always signals. Signals coalesce while unread; the channel
// is closed when ctx is done.
func (d *Doc) Changes(ctx context.Context) <-chan struct{} {
	out := make(chan struct{}, 1)
	go func() {
		defer close(out)

		t := time.NewTicker(d.poll)
		defer t.Stop()

		var (
			last    int64
			seen    bool
			failing bool
		)
		for {
			var n int64
			err := d.eval(ctx, observeScript, &n)
			switch {
			case err != nil:
				if ctx.Err() != nil {
					return
				}
				if !failing {
					d.logger.Warn(ctx, "change feed poll failed", "error", err)
					failing = true
				}
			default:
				if failing {
					d.logger.Info(ctx, "change feed recovered")
					failing = false
				}
				// a reload resets the counter, which also reads as a change
				if !seen || n != last {
					select {
					case out <- struct{}{}:
					default:
					}
				}
				last, seen = n, true
			}

			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
		}
	}()
	return out
}
