package filelease_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	le "github.com/Precise-Finance/k8s-leader-election/internal/leaderelection"
	"github.com/Precise-Finance/k8s-leader-election/internal/leaderelection/filelease"
	"github.com/Precise-Finance/k8s-leader-election/internal/leaderelection/leaseclienttest"
)

func TestClientContract(t *testing.T) {
	leaseclienttest.RunContractTests(t, "default", func(t *testing.T) le.Client {
		return filelease.New(t.TempDir())
	})
}

// The resourceVersion-conflict check below is specific to filelease:
// it enforces optimistic concurrency locally, whereas the Kubernetes
// binding relies on a real API server to reject stale writes, which
// the fake clientset used in its own tests doesn't emulate.

func TestClientReplaceRejectsStaleResourceVersion(t *testing.T) {
	client := filelease.New(t.TempDir())

	holder := "nestjs-hostA"
	created, err := client.Create(context.Background(), "default", &le.Record{Name: "L", HolderIdentity: &holder})
	require.NoError(t, err)

	stale := *created
	stale.ResourceVersion = "not-a-real-version"

	_, err = client.Replace(context.Background(), "L", "default", &stale)

	assert.ErrorIs(t, err, le.ErrConflict)
}

func TestClientReplaceSucceedsWithCurrentResourceVersion(t *testing.T) {
	client := filelease.New(t.TempDir())

	holder := "nestjs-hostA"
	created, err := client.Create(context.Background(), "default", &le.Record{Name: "L", HolderIdentity: &holder})
	require.NoError(t, err)

	newHolder := "nestjs-hostB"
	created.HolderIdentity = &newHolder

	updated, err := client.Replace(context.Background(), "L", "default", created)
	require.NoError(t, err)
	assert.Equal(t, newHolder, *updated.HolderIdentity)
}

// Watch's poll-and-diff implementation is also exercised for a
// MODIFIED transition, beyond the shared suite's ADDED-only check.
func TestClientWatchDeliversModifiedAfterReplace(t *testing.T) {
	client := filelease.New(t.TempDir())

	received := make(chan le.EventType, 4)
	err := client.Watch(context.Background(), "default", func(eventType le.EventType, record *le.Record) {
		if record.Name == "L" {
			received <- eventType
		}
	}, func(error) {})
	require.NoError(t, err)

	holder := "nestjs-hostA"
	created, err := client.Create(context.Background(), "default", &le.Record{Name: "L", HolderIdentity: &holder})
	require.NoError(t, err)

	select {
	case eventType := <-received:
		assert.Equal(t, le.EventAdded, eventType)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for added event")
	}

	newHolder := "nestjs-hostB"
	created.HolderIdentity = &newHolder
	_, err = client.Replace(context.Background(), "L", "default", created)
	require.NoError(t, err)

	select {
	case eventType := <-received:
		assert.Equal(t, le.EventModified, eventType)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for modified event")
	}
}
