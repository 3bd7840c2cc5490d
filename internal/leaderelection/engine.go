package leaderelection

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"
	"k8s.io/klog/v2"
)

// Engine is the election state machine (C7). It owns the sole source
// of truth for leadership (isLeader) and drives acquisition, renewal
// and release against a Client. All transitions happen behind mu, the
// single serialization boundary the concurrency model requires.
type Engine struct {
	identity   string
	cfg        Config
	client     Client
	clock      clockwork.Clock
	sink       *Sink
	degenerate bool

	mu           sync.Mutex
	isLeader     bool
	renewalTimer clockwork.Timer

	acquireGroup singleflight.Group

	ctx       context.Context
	cancel    context.CancelFunc
	watchStop context.CancelFunc
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewEngine builds an Engine for identity against client, publishing
// elected/lost notifications through bus. degenerate forces
// single-node mode (§3 invariant 4): Start sets isLeader to true
// without touching the lease, and no lease operations are ever
// attempted.
func NewEngine(identity string, cfg Config, client Client, bus Bus, degenerate bool) *Engine {
	return &Engine{
		identity:   identity,
		cfg:        cfg,
		client:     client,
		clock:      cfg.Clock(),
		sink:       NewSink(bus, cfg.LeaseName),
		degenerate: degenerate,
	}
}

// SetWatchCancel records the cancel function of the watch loop this
// engine's Lifecycle started, so Shutdown can stop it too.
func (e *Engine) SetWatchCancel(cancel context.CancelFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.watchStop = cancel
}

// Start is idempotent. In degenerate mode it immediately marks the
// engine as leader and returns. Otherwise it begins the bootstrap
// acquisition sequence: if awaitLeadership, Start blocks until that
// sequence completes (success or attempts exhausted); otherwise the
// sequence runs in the background and Start returns immediately.
func (e *Engine) Start(ctx context.Context, awaitLeadership bool) {
	e.startOnce.Do(func() {
		e.ctx, e.cancel = context.WithCancel(ctx)

		if e.degenerate {
			klog.InfoS("leaderelection: not running under the orchestrator, forcing single-node leadership",
				"identity", e.identity)
			e.mu.Lock()
			e.isLeader = true
			e.mu.Unlock()
			e.sink.Emit(KindElected)
			return
		}

		bootstrap := func() { e.runBootstrapAcquisition(e.ctx) }
		if awaitLeadership {
			bootstrap()
		} else {
			go bootstrap()
		}
	})
}

// runBootstrapAcquisition makes up to bootstrapAttempts acquisition
// attempts, spaced by half the lease duration, stopping early once
// leadership is held. After that, the watch loop drives future
// opportunities; there is no continuous acquisition polling.
func (e *Engine) runBootstrapAcquisition(ctx context.Context) {
	gap := e.cfg.LeaseDuration / 2

	for attempt := 0; attempt < bootstrapAttempts; attempt++ {
		e.tryAcquire(ctx)

		if e.IsLeader() {
			return
		}

		if attempt == bootstrapAttempts-1 {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-e.clock.After(gap):
		}
	}
}

// tryAcquire implements the acquisition algorithm of §4.4. Concurrent
// callers (bootstrap retries racing a watch-triggered attempt) are
// collapsed onto a single in-flight attempt.
func (e *Engine) tryAcquire(ctx context.Context) {
	_, _, _ = e.acquireGroup.Do("acquire", func() (interface{}, error) {
		e.doTryAcquire(ctx)
		return nil, nil
	})
}

func (e *Engine) doTryAcquire(ctx context.Context) {
	record, err := e.client.Read(ctx, e.cfg.LeaseName, e.cfg.Namespace)
	switch {
	case err == ErrNotFound:
		e.createLease(ctx)
		return
	case err != nil:
		klog.ErrorS(err, "leaderelection: failed to read lease", "identity", e.identity)
		return
	}

	now := e.clock.Now()

	if HeldByUs(record, e.identity) && !e.IsLeader() && !IsExpired(record, now) {
		// Reclaim after a crash-restart within the lease duration:
		// we already hold it, no need to re-create or replace.
		e.becomeLeader()
		return
	}

	if !IsExpired(record, now) && !IsUnheld(record) {
		logDebug(e.cfg.LogLevel, "leaderelection: lease held by a valid peer", "holder", derefStr(record.HolderIdentity))
		return
	}

	record.HolderIdentity = strPtr(e.identity)
	record.LeaseDurationSeconds = int32Ptr(int32(e.cfg.LeaseDuration / time.Second))
	record.AcquireTime = &now
	record.RenewTime = &now

	updated, err := e.client.Replace(ctx, e.cfg.LeaseName, e.cfg.Namespace, record)
	if err != nil {
		logDebug(e.cfg.LogLevel, "leaderelection: lost the race to acquire the lease", "err", err)
		return
	}

	if HeldByUs(updated, e.identity) {
		e.becomeLeader()
	}
}

func (e *Engine) createLease(ctx context.Context) {
	now := e.clock.Now()
	record := &Record{
		Name:                 e.cfg.LeaseName,
		Namespace:            e.cfg.Namespace,
		HolderIdentity:       strPtr(e.identity),
		LeaseDurationSeconds: int32Ptr(int32(e.cfg.LeaseDuration / time.Second)),
		AcquireTime:          &now,
		RenewTime:            &now,
	}

	created, err := e.client.Create(ctx, e.cfg.Namespace, record)
	if err == ErrAlreadyExists {
		logDebug(e.cfg.LogLevel, "leaderelection: lost the race to create the lease")
		return
	}
	if err != nil {
		klog.ErrorS(err, "leaderelection: failed to create lease", "identity", e.identity)
		return
	}

	if HeldByUs(created, e.identity) {
		e.becomeLeader()
	}
}

// becomeLeader is idempotent: a no-op if already leader. sink.Emit
// runs outside the lock, since it synchronously calls the
// host-supplied Bus.Publish — a subscriber that calls back into
// IsLeader (or any other locking method) from its own goroutine must
// not deadlock against this one.
func (e *Engine) becomeLeader() {
	e.mu.Lock()
	if e.isLeader {
		e.mu.Unlock()
		return
	}

	e.isLeader = true
	e.scheduleRenewalLocked()
	e.mu.Unlock()

	klog.InfoS("leaderelection: became leader", "identity", e.identity, "lease", e.cfg.LeaseName)
	e.sink.Emit(KindElected)
}

func (e *Engine) scheduleRenewalLocked() {
	if e.renewalTimer != nil {
		e.renewalTimer.Stop()
	}
	e.renewalTimer = e.clock.AfterFunc(e.cfg.RenewalInterval, func() {
		e.renew(e.ctx)
	})
}

// renew re-reads the lease, confirms we still hold it and writes a
// fresh renewTime. Any failure (not held, remote error, conflict)
// demotes us to Follower.
func (e *Engine) renew(ctx context.Context) {
	if !e.IsLeader() {
		return
	}

	record, err := e.client.Read(ctx, e.cfg.LeaseName, e.cfg.Namespace)
	if err != nil {
		klog.ErrorS(err, "leaderelection: renewal read failed", "identity", e.identity)
		e.loseLeadership()
		return
	}

	if !HeldByUs(record, e.identity) {
		klog.InfoS("leaderelection: lease is no longer held by us at renewal time", "identity", e.identity)
		e.loseLeadership()
		return
	}

	now := e.clock.Now()
	record.RenewTime = &now

	updated, err := e.client.Replace(ctx, e.cfg.LeaseName, e.cfg.Namespace, record)
	if err != nil {
		klog.ErrorS(err, "leaderelection: renewal replace failed", "identity", e.identity)
		e.loseLeadership()
		return
	}
	if !HeldByUs(updated, e.identity) {
		e.loseLeadership()
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.isLeader {
		e.scheduleRenewalLocked()
	}
}

// loseLeadership is idempotent: a no-op if already Follower. sink.Emit
// runs outside the lock for the same reentrancy reason as
// becomeLeader.
func (e *Engine) loseLeadership() {
	e.mu.Lock()
	if !e.isLeader {
		e.mu.Unlock()
		return
	}

	e.isLeader = false
	if e.renewalTimer != nil {
		e.renewalTimer.Stop()
		e.renewalTimer = nil
	}
	e.mu.Unlock()

	klog.InfoS("leaderelection: lost leadership", "identity", e.identity, "lease", e.cfg.LeaseName)
	e.sink.Emit(KindLost)
}

// HandleLeaseEvent is the watch loop's callback (C6 → C7), invoked
// after the watch's settle delay has already elapsed.
func (e *Engine) HandleLeaseEvent(eventType EventType, record *Record) {
	switch eventType {
	case EventAdded, EventModified:
		if HeldByUs(record, e.identity) {
			if e.IsLeader() {
				e.mu.Lock()
				e.scheduleRenewalLocked()
				e.mu.Unlock()
			} else {
				e.becomeLeader()
			}
			return
		}
		if e.IsLeader() {
			e.loseLeadership()
		}
	case EventDeleted:
		if !e.IsLeader() {
			e.tryAcquire(e.ctx)
		}
	}
}

// IsLeader is a non-blocking snapshot of the last transition this
// participant observed.
func (e *Engine) IsLeader() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isLeader
}

// Shutdown releases the lease if held, cancels the renewal timer and
// the watch loop, and awaits the release write (best effort: remote
// errors are logged and swallowed since termination must not block on
// remote availability).
func (e *Engine) Shutdown(ctx context.Context) {
	e.stopOnce.Do(func() {
		e.mu.Lock()
		watchStop := e.watchStop
		e.mu.Unlock()

		if watchStop != nil {
			watchStop()
		}

		e.mu.Lock()
		if e.renewalTimer != nil {
			e.renewalTimer.Stop()
			e.renewalTimer = nil
		}
		e.mu.Unlock()

		e.release(ctx)

		if e.cancel != nil {
			e.cancel()
		}
	})
}

// release is only meaningful when leader; when not, it performs no
// remote writes. It always clears isLeader, even on remote failure.
// In degenerate single-node mode no lease operations are ever
// attempted, per invariant 4.
func (e *Engine) release(ctx context.Context) {
	if e.degenerate || !e.IsLeader() {
		return
	}

	record, err := e.client.Read(ctx, e.cfg.LeaseName, e.cfg.Namespace)
	if err != nil {
		klog.ErrorS(err, "leaderelection: release read failed, clearing local leadership anyway", "identity", e.identity)
	} else if HeldByUs(record, e.identity) {
		record.HolderIdentity = strPtr("")
		record.RenewTime = nil
		if _, err := e.client.Replace(ctx, e.cfg.LeaseName, e.cfg.Namespace, record); err != nil {
			klog.ErrorS(err, "leaderelection: release replace failed", "identity", e.identity)
		}
	}

	e.mu.Lock()
	e.isLeader = false
	if e.renewalTimer != nil {
		e.renewalTimer.Stop()
		e.renewalTimer = nil
	}
	e.mu.Unlock()
}

func strPtr(s string) *string   { return &s }
func int32Ptr(i int32) *int32   { return &i }
func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
