package leaderelection_test

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	le "github.com/Precise-Finance/k8s-leader-election/internal/leaderelection"
)

func TestComputeIdentity(t *testing.T) {
	hostname, err := os.Hostname()
	if err != nil {
		t.Skip("host does not support os.Hostname in this environment")
	}

	identity := le.ComputeIdentity("k8s-leader-election")

	assert.True(t, strings.HasPrefix(identity, "k8s-leader-election-"))
	assert.Contains(t, identity, hostname)
}

func TestComputeIdentityStable(t *testing.T) {
	first := le.ComputeIdentity("prefix")
	second := le.ComputeIdentity("prefix")

	assert.Equal(t, first, second)
}
