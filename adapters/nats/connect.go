package nats

import (
	"os"
	"sync"

	natsgo "github.com/nats-io/nats.go"
)

type closeFunc = func()

// Connector opens a connection and returns the func that releases it.
type Connector func() (nc *natsgo.Conn, close closeFunc, err error)

// sharedConn hands out leases on a single connection.
type sharedConn struct {
	connect Connector

	mu      sync.Mutex
	nc      *natsgo.Conn
	closeNC closeFunc
	leases  int
}

func (s *sharedConn) lease() (*natsgo.Conn, closeFunc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nc == nil {
		nc, closeNC, err := s.connect()
		if err != nil {
			return nil, nil, err
		}
		s.nc, s.closeNC = nc, closeNC
	}
	s.leases++
	var once sync.Once
	return s.nc, func() { once.Do(s.release) }, nil
}

func (s *sharedConn) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.leases == 0 {
		return
	}
	if s.leases--; s.leases == 0 {
		s.closeNC()
		s.nc, s.closeNC = nil, nil
	}
}

// ReuseConnection shares one connection between all callers. It is closed
// once the last lease was released and reopened on the next call.
func ReuseConnection(connect Connector) Connector {
	return (&sharedConn{connect: connect}).lease
}

// ConnectURL dials natsURL. The client name defaults to "aggstore" and can be
// overridden through opts.
func ConnectURL(natsURL string, opts ...natsgo.Option) Connector {
	opts = append([]natsgo.Option{natsgo.Name("aggstore"), natsgo.MaxReconnects(3)}, opts...)
	return func() (*natsgo.Conn, closeFunc, error) {
		nc, err := natsgo.Connect(natsURL, opts...)
		if err != nil {
			return nil, nil, err
		}
		return nc, nc.Close, nil
	}
}

// ConnectDefault connects to $NATS_URL or the local default server.
func ConnectDefault() Connector {
	natsURL := os.Getenv("NATS_URL")
	if natsURL == "" {
		natsURL = natsgo.DefaultURL
	}
	return ConnectURL(natsURL)
}
