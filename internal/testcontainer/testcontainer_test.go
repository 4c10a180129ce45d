package testcontainer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEndpoint_Short(t *testing.T) {
	var inner *testing.T
	t.Run("skipped", func(t *testing.T) {
		inner = t
		Endpoint(t, true, Server{Image: "nats:2", Port: "4222/tcp", Cmd: []string{"-js"}})
		t.Fatal("container started in short mode")
	})
	require.True(t, inner.Skipped())
}
