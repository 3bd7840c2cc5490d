package leaderelection

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"k8s.io/klog/v2"
)

// inClusterEnvVar is the same signal k8s.io/client-go's
// rest.InClusterConfig uses to detect whether the process is running
// under the orchestrator.
const inClusterEnvVar = "KUBERNETES_SERVICE_HOST"

// InCluster reports whether the process appears to be running inside
// the orchestrator (§4.6 environment detection).
func InCluster() bool {
	return os.Getenv(inClusterEnvVar) != ""
}

// Runner bootstraps the watch loop and the election engine at process
// startup, and tears both down on SIGINT/SIGTERM (C8).
type Runner struct {
	engine *Engine
	watch  *Loop
}

// NewRunner ties an Engine to its Loop. If watch is nil (as in
// degenerate mode), no Loop is started.
func NewRunner(engine *Engine, watch *Loop) *Runner {
	return &Runner{engine: engine, watch: watch}
}

// Start begins the watch loop unconditionally (so peer writes are
// observed promptly, even before our own first acquisition attempt),
// then runs the engine's acquisition sequence per awaitLeadership.
// A Runner built with a nil watch (how degenerate mode is wired) skips
// the watch loop entirely.
func (r *Runner) Start(ctx context.Context, awaitLeadership bool) {
	if r.watch != nil {
		watchCtx, cancel := context.WithCancel(ctx)
		r.engine.SetWatchCancel(cancel)
		go r.watch.Run(watchCtx)
	}

	r.engine.Start(ctx, awaitLeadership)
}

// Run starts the runner and blocks until ctx is cancelled or a
// SIGINT/SIGTERM arrives, at which point it invokes a graceful
// shutdown and returns.
func (r *Runner) Run(ctx context.Context, awaitLeadership bool) {
	r.Start(ctx, awaitLeadership)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-ctx.Done():
	case sig := <-sigCh:
		klog.InfoS("leaderelection: received termination signal, shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultRenewalInterval)
	defer cancel()
	r.engine.Shutdown(shutdownCtx)
}
