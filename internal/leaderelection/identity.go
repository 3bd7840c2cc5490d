package leaderelection

import (
	"fmt"
	"os"

	"github.com/google/uuid"
)

// ComputeIdentity returns this participant's stable holder identity,
// "<prefix>-<hostname>". If the hostname can't be read (some
// container runtimes surface this on a malformed /etc/hostname), a
// random suffix stands in so the process still gets a usable,
// locally-unique identity instead of failing to start.
func ComputeIdentity(prefix string) string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = uuid.NewString()
	}
	return fmt.Sprintf("%s-%s", prefix, hostname)
}
