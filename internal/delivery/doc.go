// Package delivery paces repeated mailbox fetches.
//
// A Poller calls a fetch function in the caller's goroutine, backing off
// while the mailbox stays empty or errors and snapping back to the initial
// interval as soon as something arrives. It never starts goroutines or
// timers of its own beyond the wait between polls.
//
// Usage:
//
//	p := delivery.NewPoller(delivery.PollerConfig{})
//	err := p.Run(ctx, func(ctx context.Context) (int, error) {
//	    return fetchAndHandle(ctx)
//	})
package delivery
