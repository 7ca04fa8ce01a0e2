package portforward

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	minWatchInterval = 100 * time.Millisecond
	maxWatchInterval = 10 * time.Second
)

// ClampInterval bounds interval to [100ms, 10s], per spec.md §4.I.
func ClampInterval(interval time.Duration) time.Duration {
	if interval < minWatchInterval {
		return minWatchInterval
	}
	if interval > maxWatchInterval {
		return maxWatchInterval
	}
	return interval
}

// Watch polls opts.Port until it becomes ready, the optional linked process
// exits, ctx is cancelled, or an unrecoverable probe error occurs. The
// returned channel emits one "watching" event immediately and is closed
// after its terminal event (ready/process_exited/error) or on cancellation.
func (r *Registry) Watch(ctx context.Context, opts WatchOptions, checker ProcessChecker) <-chan WatchEvent {
	opts.Interval = ClampInterval(opts.Interval)
	events := make(chan WatchEvent, 4)

	go func() {
		defer close(events)
		events <- WatchEvent{Type: EventWatching, Port: opts.Port}

		ticker := time.NewTicker(opts.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if opts.ProcessID != "" && checker != nil {
					running, err := checker(opts.ProcessID)
					if err != nil {
						r.logger.Warn("process checker failed during port watch", zap.Int("port", opts.Port), zap.Error(err))
					} else if !running {
						events <- WatchEvent{Type: EventProcessExited, Port: opts.Port, Message: fmt.Sprintf("process %s is no longer running", opts.ProcessID)}
						return
					}
				}

				ready, err := probe(opts)
				if err != nil {
					events <- WatchEvent{Type: EventError, Port: opts.Port, Message: err.Error()}
					return
				}
				if ready {
					events <- WatchEvent{Type: EventReady, Port: opts.Port}
					return
				}
			}
		}
	}()

	return events
}
