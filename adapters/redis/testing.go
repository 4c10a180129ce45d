package redis

import (
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/codewandler/aggstore/internal/testcontainer"
)

type Testing = testcontainer.T

// NewTestContainer starts a Redis server and returns its address.
func NewTestContainer(t Testing, short bool) string {
	return testcontainer.Endpoint(t, short, testcontainer.Server{
		Image: "redis:7-alpine",
		Port:  "6379/tcp",
		Ready: []wait.Strategy{wait.ForLog("Ready to accept connections")},
	})
}
