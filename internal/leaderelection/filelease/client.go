// Package filelease implements the leaderelection.Client contract
// against a local lock file, adapted from the teacher's lock-file
// leader elector for use in local development and integration tests
// that should not require a live API server.
package filelease

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	le "github.com/Precise-Finance/k8s-leader-election/internal/leaderelection"
)

const pollInterval = 500 * time.Millisecond

const lockSuffix = ".lock"

// onDisk is the lock file's encoded content. A lease's resourceVersion
// is never stored; it is derived from the file's mtime at read time.
type onDisk struct {
	HolderIdentity       string     `json:"holderIdentity"`
	LeaseDurationSeconds int32      `json:"leaseDurationSeconds"`
	AcquireTime          *time.Time `json:"acquireTime,omitempty"`
	RenewTime            *time.Time `json:"renewTime,omitempty"`
}

// Client stores one lock file per lease name inside dir.
type Client struct {
	dir string
	mu  sync.Mutex
}

// New builds a Client rooted at dir. dir is created lazily on first
// Create.
func New(dir string) *Client {
	return &Client{dir: dir}
}

func (c *Client) path(name string) string {
	return filepath.Join(c.dir, name+lockSuffix)
}

// Read implements leaderelection.Client.
func (c *Client) Read(ctx context.Context, name, namespace string) (*le.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.read(name, namespace)
}

func (c *Client) read(name, namespace string) (*le.Record, error) {
	path := c.path(name)

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, le.ErrNotFound
		}
		return nil, fmt.Errorf("filelease: failed to stat lock file: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("filelease: failed to read lock file: %w", err)
	}

	var rec onDisk
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("filelease: corrupt lock file: %w", err)
	}

	return fromOnDisk(name, namespace, rec, resourceVersion(info)), nil
}

// Create implements leaderelection.Client, using O_EXCL the same way
// the teacher's tryAcquireLease does to make file creation atomic.
func (c *Client) Create(ctx context.Context, namespace string, record *le.Record) (*le.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return nil, fmt.Errorf("filelease: failed to create lock directory: %w", err)
	}

	data, err := json.Marshal(toOnDisk(record))
	if err != nil {
		return nil, fmt.Errorf("filelease: failed to encode lease: %w", err)
	}

	path := c.path(record.Name)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, le.ErrAlreadyExists
		}
		return nil, fmt.Errorf("filelease: failed to create lock file: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(data); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("filelease: failed to write lock file: %w", err)
	}

	return c.read(record.Name, namespace)
}

// Replace implements leaderelection.Client. A non-empty
// record.ResourceVersion must match the lock file's current token or
// the write is rejected as a conflict, the same optimistic-concurrency
// contract the Kubernetes binding gives the engine.
func (c *Client) Replace(ctx context.Context, name, namespace string, record *le.Record) (*le.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	path := c.path(name)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, le.ErrNotFound
		}
		return nil, fmt.Errorf("filelease: failed to stat lock file: %w", err)
	}

	if record.ResourceVersion != "" && record.ResourceVersion != resourceVersion(info) {
		return nil, le.ErrConflict
	}

	data, err := json.Marshal(toOnDisk(record))
	if err != nil {
		return nil, fmt.Errorf("filelease: failed to encode lease: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return nil, fmt.Errorf("filelease: failed to stage lock file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return nil, fmt.Errorf("filelease: failed to replace lock file: %w", err)
	}

	return c.read(name, namespace)
}

// Watch has no filesystem change-notification primitive available
// here, so it polls dir at pollInterval and synthesizes
// ADDED/MODIFIED/DELETED transitions from resourceVersion changes.
// Fine for local development and tests; production uses the
// Kubernetes binding's real watch stream.
func (c *Client) Watch(ctx context.Context, namespace string, handler le.EventHandler, onClose func(error)) error {
	go func() {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()

		seen := map[string]string{}

		for {
			select {
			case <-ctx.Done():
				onClose(nil)
				return
			case <-ticker.C:
				c.pollOnce(namespace, seen, handler)
			}
		}
	}()

	return nil
}

func (c *Client) pollOnce(namespace string, seen map[string]string, handler le.EventHandler) {
	c.mu.Lock()
	entries, err := os.ReadDir(c.dir)
	c.mu.Unlock()
	if err != nil {
		return
	}

	current := map[string]struct{}{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), lockSuffix) {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), lockSuffix)
		current[name] = struct{}{}

		record, err := c.Read(context.Background(), name, namespace)
		if err != nil {
			continue
		}

		prev, tracked := seen[name]
		seen[name] = record.ResourceVersion
		if !tracked {
			handler(le.EventAdded, record)
		} else if prev != record.ResourceVersion {
			handler(le.EventModified, record)
		}
	}

	for name := range seen {
		if _, ok := current[name]; !ok {
			delete(seen, name)
			handler(le.EventDeleted, &le.Record{Name: name, Namespace: namespace})
		}
	}
}

func resourceVersion(info os.FileInfo) string {
	return strconv.FormatInt(info.ModTime().UnixNano(), 10)
}

func toOnDisk(record *le.Record) onDisk {
	var rec onDisk
	if record.HolderIdentity != nil {
		rec.HolderIdentity = *record.HolderIdentity
	}
	if record.LeaseDurationSeconds != nil {
		rec.LeaseDurationSeconds = *record.LeaseDurationSeconds
	}
	rec.AcquireTime = record.AcquireTime
	rec.RenewTime = record.RenewTime
	return rec
}

func fromOnDisk(name, namespace string, rec onDisk, resourceVersion string) *le.Record {
	holder := rec.HolderIdentity
	duration := rec.LeaseDurationSeconds
	return &le.Record{
		Name:                 name,
		Namespace:            namespace,
		ResourceVersion:      resourceVersion,
		HolderIdentity:       &holder,
		LeaseDurationSeconds: &duration,
		AcquireTime:          rec.AcquireTime,
		RenewTime:            rec.RenewTime,
	}
}
