package operation

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/oriys/pulsar/internal/logging"
	"github.com/oriys/pulsar/internal/metrics"
)

// activeSubscriptions counts open subscription loops across the process.
var activeSubscriptions atomic.Int64

// Subscription is a status stream for one operation, scoped to a single
// logical request. The polling loop stops and releases its timer as soon as
// a terminal state is observed or the subscriber's context is cancelled,
// within one polling interval either way. A subscription never outlives its
// triggering connection.
type Subscription struct {
	updates chan *Record
	cancel  context.CancelFunc
}

// Updates delivers one record per poll. The channel closes after the first
// terminal record (which is always delivered) or on cancellation.
func (s *Subscription) Updates() <-chan *Record {
	return s.updates
}

// Close cancels the polling loop. Safe to call more than once.
func (s *Subscription) Close() {
	s.cancel()
}

// Subscribe starts a polling loop for the operation, forwarding each
// observed record to the returned subscription. Polls go through GetStatus,
// so near-simultaneous subscribers share the volatile cache entry instead
// of stampeding the engine.
func (p *Proxy) Subscribe(ctx context.Context, operationID string) *Subscription {
	subCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		updates: make(chan *Record, 1),
		cancel:  cancel,
	}

	metrics.SetActiveSubscriptions(int(activeSubscriptions.Add(1)))

	go func() {
		defer func() {
			close(sub.updates)
			metrics.SetActiveSubscriptions(int(activeSubscriptions.Add(-1)))
		}()

		ticker := time.NewTicker(p.cfg.PollInterval)
		defer ticker.Stop()

		for {
			rec, err := p.GetStatus(subCtx, operationID)
			if err != nil {
				if subCtx.Err() != nil {
					return
				}
				logging.Op().Warn("operation poll failed",
					"operation_id", operationID, "error", err)
			} else {
				select {
				case sub.updates <- rec:
				case <-subCtx.Done():
					return
				}
				if rec.State.Terminal() {
					return
				}
			}

			select {
			case <-subCtx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return sub
}
