// Package testcontainer starts throwaway servers for adapter tests.
package testcontainer

import (
	"context"

	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// T is the subset of testing.TB the helpers need.
type T interface {
	require.TestingT
	Context() context.Context
	Logf(format string, args ...any)
	Skip(args ...any)
	Cleanup(func())
}

type Server struct {
	Image string
	// Port is the exposed container port, e.g. "4222/tcp".
	Port nat.Port
	// Scheme prefixes the returned endpoint. Empty yields host:port.
	Scheme string
	Cmd    []string
	Env    map[string]string
	Ready  []wait.Strategy
}

// Endpoint runs srv for the lifetime of t and returns its mapped endpoint.
// In short mode t is skipped.
func Endpoint(t T, short bool, srv Server) string {
	if short {
		t.Skip(srv.Image + " container skipped in short mode")
	}
	opts := []testcontainers.ContainerCustomizer{
		testcontainers.WithExposedPorts(string(srv.Port)),
		testcontainers.WithWaitStrategy(append([]wait.Strategy{wait.ForListeningPort(srv.Port)}, srv.Ready...)...),
	}
	if len(srv.Cmd) > 0 {
		opts = append(opts, testcontainers.WithCmd(srv.Cmd...))
	}
	if len(srv.Env) > 0 {
		opts = append(opts, testcontainers.WithEnv(srv.Env))
	}

	c, err := testcontainers.Run(t.Context(), srv.Image, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(c); err != nil {
			t.Errorf("terminate %s: %s", srv.Image, err)
		}
	})

	endpoint, err := c.PortEndpoint(t.Context(), srv.Port, srv.Scheme)
	require.NoError(t, err)
	t.Logf("%s listening on %s", srv.Image, endpoint)
	return endpoint
}
