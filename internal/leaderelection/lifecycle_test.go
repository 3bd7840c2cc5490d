package leaderelection_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"go.uber.org/mock/gomock"

	le "github.com/Precise-Finance/k8s-leader-election/internal/leaderelection"
	"github.com/Precise-Finance/k8s-leader-election/internal/leaderelection/mocks"
)

func TestInCluster(t *testing.T) {
	old, had := os.LookupEnv("KUBERNETES_SERVICE_HOST")
	defer func() {
		if had {
			os.Setenv("KUBERNETES_SERVICE_HOST", old)
		} else {
			os.Unsetenv("KUBERNETES_SERVICE_HOST")
		}
	}()

	os.Unsetenv("KUBERNETES_SERVICE_HOST")
	assert.False(t, le.InCluster())

	os.Setenv("KUBERNETES_SERVICE_HOST", "10.0.0.1")
	assert.True(t, le.InCluster())
}

func TestRunnerRunDegenerateShutsDownOnContextCancel(t *testing.T) {
	ctrl := gomock.NewController(t)
	clock := clockwork.NewFakeClock()
	cfg, err := le.NewConfig(le.WithLeaseName("L"), le.WithClock(clock))
	assert.NoError(t, err)

	client := mocks.NewMockClient(ctrl)
	bus := mocks.NewMockBus(ctrl)
	bus.EXPECT().Publish(le.TopicElected, le.Event{Kind: le.KindElected, LeaseName: "L"})

	engine := le.NewEngine("id", cfg, client, bus, true)
	runner := le.NewRunner(engine, nil)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		runner.Run(ctx, false)
		close(done)
	}()

	assert.Eventually(t, engine.IsLeader, time.Second, time.Millisecond)

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
