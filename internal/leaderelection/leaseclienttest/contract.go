// Package leaseclienttest is a shared conformance suite run against
// every leaderelection.Client backend, so the Kubernetes and
// file-backed implementations are held to the same Read/Create/Replace/Watch
// contract instead of drifting via independently hand-written tests.
package leaseclienttest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	le "github.com/Precise-Finance/k8s-leader-election/internal/leaderelection"
)

// RunContractTests exercises the leaderelection.Client contract.
// newClient is called once per subtest and must return a backend
// instance with no pre-existing leases, so implementations that hold
// local state (filelease) don't leak leases across cases.
func RunContractTests(t *testing.T, namespace string, newClient func(t *testing.T) le.Client) {
	t.Helper()

	t.Run("ReadNotFound", func(t *testing.T) {
		client := newClient(t)

		_, err := client.Read(context.Background(), "L", namespace)

		assert.ErrorIs(t, err, le.ErrNotFound)
	})

	t.Run("CreateThenRead", func(t *testing.T) {
		client := newClient(t)

		holder := "nestjs-hostA"
		duration := int32(20)
		now := time.Now().Truncate(time.Second)
		record := &le.Record{
			Name:                 "L",
			Namespace:            namespace,
			HolderIdentity:       &holder,
			LeaseDurationSeconds: &duration,
			AcquireTime:          &now,
			RenewTime:            &now,
		}

		created, err := client.Create(context.Background(), namespace, record)
		require.NoError(t, err)
		assert.Equal(t, holder, *created.HolderIdentity)
		assert.NotEmpty(t, created.ResourceVersion)

		read, err := client.Read(context.Background(), "L", namespace)
		require.NoError(t, err)
		assert.Equal(t, holder, *read.HolderIdentity)
		assert.Equal(t, duration, *read.LeaseDurationSeconds)
		assert.True(t, now.Equal(*read.RenewTime))
	})

	t.Run("CreateAlreadyExists", func(t *testing.T) {
		client := newClient(t)

		holder := "nestjs-hostA"
		_, err := client.Create(context.Background(), namespace, &le.Record{Name: "L", Namespace: namespace, HolderIdentity: &holder})
		require.NoError(t, err)

		_, err = client.Create(context.Background(), namespace, &le.Record{Name: "L", Namespace: namespace, HolderIdentity: &holder})

		assert.ErrorIs(t, err, le.ErrAlreadyExists)
	})

	t.Run("ReplaceNotFound", func(t *testing.T) {
		client := newClient(t)

		_, err := client.Replace(context.Background(), "missing", namespace, &le.Record{Name: "missing", Namespace: namespace})

		assert.ErrorIs(t, err, le.ErrNotFound)
	})

	t.Run("ReplaceUpdatesHolder", func(t *testing.T) {
		client := newClient(t)

		holder := "nestjs-hostA"
		created, err := client.Create(context.Background(), namespace, &le.Record{Name: "L", Namespace: namespace, HolderIdentity: &holder})
		require.NoError(t, err)

		newHolder := "nestjs-hostB"
		created.HolderIdentity = &newHolder

		updated, err := client.Replace(context.Background(), "L", namespace, created)
		require.NoError(t, err)
		assert.Equal(t, newHolder, *updated.HolderIdentity)
	})

	t.Run("WatchDeliversAdded", func(t *testing.T) {
		client := newClient(t)

		received := make(chan le.EventType, 1)
		err := client.Watch(context.Background(), namespace, func(eventType le.EventType, record *le.Record) {
			if record.Name == "L" {
				received <- eventType
			}
		}, func(error) {})
		require.NoError(t, err)

		holder := "nestjs-hostA"
		_, err = client.Create(context.Background(), namespace, &le.Record{Name: "L", Namespace: namespace, HolderIdentity: &holder})
		require.NoError(t, err)

		select {
		case eventType := <-received:
			assert.Equal(t, le.EventAdded, eventType)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for watch event")
		}
	})
}
