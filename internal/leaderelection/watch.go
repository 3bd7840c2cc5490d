package leaderelection

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"k8s.io/klog/v2"
)

const (
	// SettleDelay is how long the watch loop waits after an
	// ADDED/MODIFIED/DELETED event before acting on it, giving a
	// racing writer's subsequent events time to settle.
	SettleDelay = 2 * time.Second

	// ReconnectDelay is how long the watch loop waits before
	// restarting a terminated stream. Reconnection is unconditional:
	// both graceful close and error reconnect after this delay.
	ReconnectDelay = 5 * time.Second
)

// WatchSink receives settled lease-mutation callbacks from a Loop.
// Engine implements this interface.
type WatchSink interface {
	HandleLeaseEvent(eventType EventType, record *Record)
}

// Loop is the reconnecting watch subscription (C6): it filters
// Client.Watch's stream by lease name, delays each event by
// SettleDelay, then calls sink.HandleLeaseEvent. On stream
// termination — graceful or not — it reconnects after ReconnectDelay.
// Restarts are unbounded: this loop is the system's only reliable
// cross-process signal path.
type Loop struct {
	client    Client
	leaseName string
	namespace string
	sink      WatchSink
	clock     clockwork.Clock
	logLevel  LogLevel
}

// NewLoop builds a Loop for leaseName in namespace, delivering settled
// events to sink. logLevel gates the loop's debug-only chatter (e.g.
// graceful reconnects) the same way it gates the engine's.
func NewLoop(client Client, leaseName, namespace string, sink WatchSink, clock clockwork.Clock, logLevel LogLevel) *Loop {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Loop{client: client, leaseName: leaseName, namespace: namespace, sink: sink, clock: clock, logLevel: logLevel}
}

// Run blocks, reconnecting the watch until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		closed := make(chan error, 1)
		err := l.client.Watch(ctx, l.namespace, l.dispatch(ctx), func(err error) {
			closed <- err
		})
		if err != nil {
			klog.ErrorS(err, "leaderelection: failed to start lease watch", "namespace", l.namespace)
		} else {
			select {
			case <-ctx.Done():
				return
			case err := <-closed:
				if err != nil {
					klog.ErrorS(err, "leaderelection: lease watch terminated, reconnecting", "namespace", l.namespace)
				} else {
					logDebug(l.logLevel, "leaderelection: lease watch closed gracefully, reconnecting", "namespace", l.namespace)
				}
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-l.clock.After(ReconnectDelay):
		}
	}
}

// dispatch filters the raw event stream down to our lease and delays
// each settled event by SettleDelay before handing it to the sink.
func (l *Loop) dispatch(ctx context.Context) EventHandler {
	return func(eventType EventType, record *Record) {
		if record == nil || record.Name != l.leaseName {
			return
		}

		go func() {
			select {
			case <-ctx.Done():
				return
			case <-l.clock.After(SettleDelay):
			}
			l.sink.HandleLeaseEvent(eventType, record)
		}()
	}
}
