package database

import (
	"fmt"

	"github.com/nats-io/nats.go"
)

// ConnectNATS dials the NATS server used for cross-node event fan-out.
// An empty URL is allowed and returns a nil connection; the realtime
// services treat a nil connection as "single node" and skip publishing.
func ConnectNATS(url string) (*nats.Conn, error) {
	if url == "" {
		return nil, nil
	}

	conn, err := nats.Connect(url, nats.Name("kabar-realtime"))
	if err != nil {
		return nil, fmt.Errorf("unable to connect to nats: %w", err)
	}

	return conn, nil
}
