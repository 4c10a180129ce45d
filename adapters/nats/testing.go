package nats

import (
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/codewandler/aggstore/internal/testcontainer"
)

type Testing = testcontainer.T

// NewTestContainer starts a JetStream enabled NATS server and returns a
// shared connector to it.
func NewTestContainer(t Testing, short bool) Connector {
	endpoint := testcontainer.Endpoint(t, short, testcontainer.Server{
		Image:  "nats:latest",
		Port:   "4222/tcp",
		Scheme: "nats",
		Cmd:    []string{"-js"},
		Ready:  []wait.Strategy{wait.ForLog("Server is ready")},
	})
	return ReuseConnection(ConnectURL(endpoint))
}
