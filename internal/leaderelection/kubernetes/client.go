// Package kubernetes implements the leaderelection.Client contract
// against real coordination.k8s.io/v1 Lease objects.
package kubernetes

import (
	"context"
	"fmt"

	coordinationv1 "k8s.io/api/coordination/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
	coordinationv1client "k8s.io/client-go/kubernetes/typed/coordination/v1"
	"k8s.io/client-go/rest"
	ctrl "sigs.k8s.io/controller-runtime"

	le "github.com/Precise-Finance/k8s-leader-election/internal/leaderelection"
)

// Client wraps the coordination/v1 typed client as a thin CRUD+watch
// shim — it performs no election logic of its own; that lives
// entirely in the leaderelection engine, which is the point of this
// rewrite versus delegating to k8s.io/client-go/tools/leaderelection.
type Client struct {
	leases coordinationv1client.LeasesGetter
}

// New builds a Client from an ambient *rest.Config, resolved via
// ctrl.GetConfig() (in-cluster service-account token when running
// under the orchestrator, kubeconfig otherwise).
func New() (*Client, error) {
	cfg, err := ctrl.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("kubernetes: failed to resolve kubeconfig: %w", err)
	}
	return NewFromConfig(cfg)
}

// NewFromConfig builds a Client from an explicit *rest.Config.
func NewFromConfig(cfg *rest.Config) (*Client, error) {
	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("kubernetes: failed to build clientset: %w", err)
	}
	return &Client{leases: clientset.CoordinationV1()}, nil
}

// NewFromGetter builds a Client directly from a LeasesGetter, mainly
// for tests against k8s.io/client-go/kubernetes/fake.
func NewFromGetter(leases coordinationv1client.LeasesGetter) *Client {
	return &Client{leases: leases}
}

// Read implements leaderelection.Client.
func (c *Client) Read(ctx context.Context, name, namespace string) (*le.Record, error) {
	lease, err := c.leases.Leases(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return nil, le.ErrNotFound
		}
		return nil, fmt.Errorf("kubernetes: failed to read lease: %w", err)
	}
	return fromLease(lease), nil
}

// Create implements leaderelection.Client.
func (c *Client) Create(ctx context.Context, namespace string, record *le.Record) (*le.Record, error) {
	lease := toLease(record)
	created, err := c.leases.Leases(namespace).Create(ctx, lease, metav1.CreateOptions{})
	if err != nil {
		if apierrors.IsAlreadyExists(err) {
			return nil, le.ErrAlreadyExists
		}
		return nil, fmt.Errorf("kubernetes: failed to create lease: %w", err)
	}
	return fromLease(created), nil
}

// Replace implements leaderelection.Client.
func (c *Client) Replace(ctx context.Context, name, namespace string, record *le.Record) (*le.Record, error) {
	lease := toLease(record)
	lease.Name = name
	lease.Namespace = namespace

	updated, err := c.leases.Leases(namespace).Update(ctx, lease, metav1.UpdateOptions{})
	if err != nil {
		if apierrors.IsConflict(err) {
			return nil, le.ErrConflict
		}
		if apierrors.IsNotFound(err) {
			return nil, le.ErrNotFound
		}
		return nil, fmt.Errorf("kubernetes: failed to replace lease: %w", err)
	}
	return fromLease(updated), nil
}

// Watch implements leaderelection.Client, translating the raw
// watch.Interface event stream into leaderelection.EventType values.
func (c *Client) Watch(ctx context.Context, namespace string, handler le.EventHandler, onClose func(error)) error {
	w, err := c.leases.Leases(namespace).Watch(ctx, metav1.ListOptions{})
	if err != nil {
		return fmt.Errorf("kubernetes: failed to start lease watch: %w", err)
	}

	go func() {
		defer w.Stop()
		for {
			select {
			case <-ctx.Done():
				onClose(nil)
				return
			case event, ok := <-w.ResultChan():
				if !ok {
					onClose(nil)
					return
				}

				lease, ok := event.Object.(*coordinationv1.Lease)
				if !ok {
					continue
				}

				eventType, ok := fromWatchEventType(event.Type)
				if !ok {
					continue
				}

				handler(eventType, fromLease(lease))
			}
		}
	}()

	return nil
}

func fromWatchEventType(t watch.EventType) (le.EventType, bool) {
	switch t {
	case watch.Added:
		return le.EventAdded, true
	case watch.Modified:
		return le.EventModified, true
	case watch.Deleted:
		return le.EventDeleted, true
	default:
		return "", false
	}
}

func fromLease(lease *coordinationv1.Lease) *le.Record {
	spec := lease.Spec
	record := &le.Record{
		Name:            lease.Name,
		Namespace:       lease.Namespace,
		ResourceVersion: lease.ResourceVersion,
	}

	if spec.HolderIdentity != nil {
		record.HolderIdentity = spec.HolderIdentity
	}
	if spec.LeaseDurationSeconds != nil {
		record.LeaseDurationSeconds = spec.LeaseDurationSeconds
	}
	if spec.AcquireTime != nil {
		t := spec.AcquireTime.Time
		record.AcquireTime = &t
	}
	if spec.RenewTime != nil {
		t := spec.RenewTime.Time
		record.RenewTime = &t
	}

	return record
}

func toLease(record *le.Record) *coordinationv1.Lease {
	lease := &coordinationv1.Lease{
		ObjectMeta: metav1.ObjectMeta{
			Name:            record.Name,
			Namespace:       record.Namespace,
			ResourceVersion: record.ResourceVersion,
		},
		Spec: coordinationv1.LeaseSpec{
			HolderIdentity:       record.HolderIdentity,
			LeaseDurationSeconds: record.LeaseDurationSeconds,
		},
	}

	if record.AcquireTime != nil {
		t := metav1.NewMicroTime(*record.AcquireTime)
		lease.Spec.AcquireTime = &t
	}
	if record.RenewTime != nil {
		t := metav1.NewMicroTime(*record.RenewTime)
		lease.Spec.RenewTime = &t
	}

	return lease
}
