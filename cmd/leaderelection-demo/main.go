// Command leaderelection-demo wires the election engine to either the
// Kubernetes or the file-backed lease binding and logs leadership
// transitions, in the teacher's heartbeat-ticker-plus-signal-channel
// style.
package main

import (
	"context"
	"flag"
	"fmt"
	"sync"
	"time"

	"k8s.io/klog/v2"

	le "github.com/Precise-Finance/k8s-leader-election/internal/leaderelection"
	"github.com/Precise-Finance/k8s-leader-election/internal/leaderelection/filelease"
	"github.com/Precise-Finance/k8s-leader-election/internal/leaderelection/kubernetes"
)

func main() {
	backend := flag.String("backend", "kubernetes", "lease backend: kubernetes or filelease")
	leaseName := flag.String("lease-name", le.DefaultLeaseName, "name of the lease to contend for")
	namespace := flag.String("namespace", le.DefaultNamespace, "namespace of the lease")
	lockDir := flag.String("lock-dir", "/tmp/leaderelection-demo", "lock file directory when -backend=filelease")
	awaitLeadership := flag.Bool("await-leadership", false, "block at startup until the bootstrap acquisition attempts finish")
	logLevel := flag.String("log-level", string(le.LogLevelLog), "informational logging verbosity: log or debug")
	flag.Parse()

	identity := le.ComputeIdentity("leaderelection-demo")
	klog.InfoS("leaderelection-demo: starting", "identity", identity, "backend", *backend, "lease", *leaseName)

	cfg, err := le.NewConfig(
		le.WithLeaseName(*leaseName),
		le.WithNamespace(*namespace),
		le.WithAwaitLeadership(*awaitLeadership),
		le.WithLogLevel(le.LogLevel(*logLevel)),
	)
	if err != nil {
		klog.ErrorS(err, "leaderelection-demo: invalid configuration")
		return
	}

	client, degenerate, err := newClient(*backend, *lockDir)
	if err != nil {
		klog.ErrorS(err, "leaderelection-demo: failed to build lease client")
		return
	}

	bus := newLogBus(identity)
	engine := le.NewEngine(identity, cfg, client, bus, degenerate)

	var watchLoop *le.Loop
	if !degenerate {
		watchLoop = le.NewLoop(client, cfg.LeaseName, cfg.Namespace, engine, cfg.Clock(), cfg.LogLevel)
	}

	runner := le.NewRunner(engine, watchLoop)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go heartbeat(ctx, identity, engine)

	klog.InfoS("leaderelection-demo: running, press Ctrl+C to stop", "identity", identity)
	runner.Run(ctx, cfg.AwaitLeadership)
	klog.InfoS("leaderelection-demo: shutdown complete", "identity", identity)
}

func newClient(backend, lockDir string) (le.Client, bool, error) {
	switch backend {
	case "kubernetes":
		if !le.InCluster() {
			klog.InfoS("leaderelection-demo: not running under the orchestrator, forcing single-node leadership")
			return nil, true, nil
		}
		client, err := kubernetes.New()
		if err != nil {
			return nil, false, err
		}
		return client, false, nil
	case "filelease":
		return filelease.New(lockDir), false, nil
	default:
		return nil, false, fmt.Errorf("leaderelection-demo: unknown backend %q", backend)
	}
}

func heartbeat(ctx context.Context, identity string, engine *le.Engine) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status := "follower"
			if engine.IsLeader() {
				status = "leader"
			}
			klog.InfoS("leaderelection-demo: heartbeat", "identity", identity, "status", status)
		}
	}
}

// logBus is an in-process Bus that logs every published event and
// lets other host-process components subscribe by topic, replacing
// the teacher's direct LeaderCallbacks with spec's topic-bound
// publish/subscribe model.
type logBus struct {
	identity string

	mu          sync.Mutex
	subscribers map[string][]func(le.Event)
}

func newLogBus(identity string) *logBus {
	return &logBus{identity: identity, subscribers: map[string][]func(le.Event){}}
}

func (b *logBus) Subscribe(topic string, handler func(le.Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[topic] = append(b.subscribers[topic], handler)
}

func (b *logBus) Publish(topic string, event le.Event) {
	switch event.Kind {
	case le.KindElected:
		klog.InfoS("leaderelection-demo: became leader", "identity", b.identity, "lease", event.LeaseName)
	case le.KindLost:
		klog.InfoS("leaderelection-demo: lost leadership", "identity", b.identity, "lease", event.LeaseName)
	}

	b.mu.Lock()
	handlers := append([]func(le.Event){}, b.subscribers[topic]...)
	b.mu.Unlock()

	for _, handler := range handlers {
		handler(event)
	}
}
