// Package leaderelection implements a Kubernetes-Lease-backed leader
// election engine: acquisition, renewal, watch-driven preemption and
// graceful release, gated on a small Follower/Leader state machine.
package leaderelection

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Client.Read when no lease exists yet.
var ErrNotFound = errors.New("leaderelection: lease not found")

// ErrAlreadyExists is returned by Client.Create when a concurrent
// creator won the race.
var ErrAlreadyExists = errors.New("leaderelection: lease already exists")

// ErrConflict is returned by Client.Replace when the resourceVersion
// passed in the record is stale.
var ErrConflict = errors.New("leaderelection: resourceVersion conflict")

// Record is the in-process shape of a persisted lease. Pointer fields
// distinguish "absent" from "zero value", matching how the backing
// store (Kubernetes Leases) represents optional fields.
type Record struct {
	Name                 string
	Namespace            string
	HolderIdentity       *string
	LeaseDurationSeconds *int32
	AcquireTime          *time.Time
	RenewTime            *time.Time
	ResourceVersion      string
}

// EventType mirrors the three mutation kinds a lease watch can deliver.
type EventType string

const (
	EventAdded    EventType = "ADDED"
	EventModified EventType = "MODIFIED"
	EventDeleted  EventType = "DELETED"
)

// EventHandler is invoked by a Client's Watch for every lease mutation
// observed in the namespace.
type EventHandler func(eventType EventType, record *Record)

// Client is the lease store contract (C2). Implementations: the
// kubernetes package (real coordination/v1 Leases) and the filelease
// package (local lock-file backend for development and tests).
type Client interface {
	Read(ctx context.Context, name, namespace string) (*Record, error)
	Create(ctx context.Context, namespace string, record *Record) (*Record, error)
	Replace(ctx context.Context, name, namespace string, record *Record) (*Record, error)
	Watch(ctx context.Context, namespace string, handler EventHandler, onClose func(error)) error
}

// IsExpired reports whether the lease's renewal has aged past its
// duration as of now. A lease exactly at its expiry instant is not
// expired: ties favor the incumbent to reduce flapping. An absent
// RenewTime is treated as already expired.
func IsExpired(record *Record, now time.Time) bool {
	if record == nil || record.RenewTime == nil {
		return true
	}

	duration := 0
	if record.LeaseDurationSeconds != nil {
		duration = int(*record.LeaseDurationSeconds)
	}

	expiry := record.RenewTime.Add(time.Duration(duration) * time.Second)
	return now.After(expiry)
}

// HeldByUs reports whether record's holder identity matches identity.
func HeldByUs(record *Record, identity string) bool {
	if record == nil || record.HolderIdentity == nil {
		return false
	}
	return *record.HolderIdentity == identity
}

// IsUnheld reports whether record has no holder identity at all.
func IsUnheld(record *Record) bool {
	if record == nil || record.HolderIdentity == nil {
		return true
	}
	return *record.HolderIdentity == ""
}
