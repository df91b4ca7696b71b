// Package notify fans out post-execution events to configured sinks.
// Delivery is strictly best-effort and happens after the response is
// already decided: a dead webhook can never fail or delay a request.
package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event describes one finished operation.
type Event struct {
	RequestID string
	Operation string
	Success   bool
	Status    string
	Summary   string
	ElapsedMs int64
}

// Kind returns the policy event name this event corresponds to.
func (e Event) Kind() string {
	if e.Success {
		return "success"
	}
	return "failure"
}

// Sink delivers one event somewhere.
type Sink interface {
	Notify(ctx context.Context, ev Event) error
}

// Notifier dispatches events to sinks on background goroutines. Sink errors
// are logged and swallowed.
type Notifier struct {
	sinks   []Sink
	log     *zap.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// New builds a Notifier over the given sinks.
func New(log *zap.Logger, sinks ...Sink) *Notifier {
	return &Notifier{
		sinks:   sinks,
		log:     log,
		timeout: 10 * time.Second,
	}
}

// Publish hands the event to every sink asynchronously and returns
// immediately.
func (n *Notifier) Publish(ev Event) {
	for _, sink := range n.sinks {
		n.wg.Add(1)
		go func(s Sink) {
			defer n.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
			defer cancel()
			if err := s.Notify(ctx, ev); err != nil {
				n.log.Warn("notification delivery failed",
					zap.String("operation", ev.Operation),
					zap.String("request_id", ev.RequestID),
					zap.Error(err))
			}
		}(sink)
	}
}

// Wait blocks until in-flight deliveries finish. Used on shutdown and in
// tests.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

// LogSink writes events to the operational log.
type LogSink struct {
	Log *zap.Logger
}

func (s *LogSink) Notify(_ context.Context, ev Event) error {
	s.Log.Info("operation finished",
		zap.String("operation", ev.Operation),
		zap.String("request_id", ev.RequestID),
		zap.String("status", ev.Status),
		zap.Bool("success", ev.Success),
		zap.Int64("elapsed_ms", ev.ElapsedMs))
	return nil
}
