package leaderelection_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	le "github.com/Precise-Finance/k8s-leader-election/internal/leaderelection"
)

func ptr[T any](v T) *T { return &v }

func TestIsExpired(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 10, 0, time.UTC)

	t.Run("nil record is expired", func(t *testing.T) {
		assert.True(t, le.IsExpired(nil, now))
	})

	t.Run("absent renewTime is expired", func(t *testing.T) {
		assert.True(t, le.IsExpired(&le.Record{}, now))
	})

	t.Run("exactly at expiry boundary is not expired", func(t *testing.T) {
		renew := now.Add(-2 * time.Second)
		rec := &le.Record{RenewTime: &renew, LeaseDurationSeconds: ptr(int32(2))}
		assert.False(t, le.IsExpired(rec, now))
	})

	t.Run("past expiry is expired", func(t *testing.T) {
		renew := now.Add(-3 * time.Second)
		rec := &le.Record{RenewTime: &renew, LeaseDurationSeconds: ptr(int32(2))}
		assert.True(t, le.IsExpired(rec, now))
	})

	t.Run("well within duration is not expired", func(t *testing.T) {
		renew := now.Add(-1 * time.Second)
		rec := &le.Record{RenewTime: &renew, LeaseDurationSeconds: ptr(int32(2))}
		assert.False(t, le.IsExpired(rec, now))
	})

	t.Run("monotone in t for fixed lease", func(t *testing.T) {
		renew := now.Add(-5 * time.Second)
		rec := &le.Record{RenewTime: &renew, LeaseDurationSeconds: ptr(int32(2))}

		before := le.IsExpired(rec, renew)
		after := le.IsExpired(rec, renew.Add(10*time.Second))
		assert.False(t, before)
		assert.True(t, after)
	})
}

func TestHeldByUs(t *testing.T) {
	t.Run("nil record", func(t *testing.T) {
		assert.False(t, le.HeldByUs(nil, "me"))
	})

	t.Run("empty holder identity", func(t *testing.T) {
		rec := &le.Record{HolderIdentity: ptr("")}
		assert.False(t, le.HeldByUs(rec, "me"))
	})

	t.Run("matching holder", func(t *testing.T) {
		rec := &le.Record{HolderIdentity: ptr("me")}
		assert.True(t, le.HeldByUs(rec, "me"))
	})

	t.Run("peer holder", func(t *testing.T) {
		rec := &le.Record{HolderIdentity: ptr("peer")}
		assert.False(t, le.HeldByUs(rec, "me"))
	})
}

func TestIsUnheld(t *testing.T) {
	t.Run("nil record", func(t *testing.T) {
		assert.True(t, le.IsUnheld(nil))
	})

	t.Run("absent holder", func(t *testing.T) {
		assert.True(t, le.IsUnheld(&le.Record{}))
	})

	t.Run("empty holder", func(t *testing.T) {
		assert.True(t, le.IsUnheld(&le.Record{HolderIdentity: ptr("")}))
	})

	t.Run("set holder", func(t *testing.T) {
		assert.False(t, le.IsUnheld(&le.Record{HolderIdentity: ptr("someone")}))
	})
}
