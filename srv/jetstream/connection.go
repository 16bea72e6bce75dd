package jetstream

import (
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// GetConnection dials the embedded server at url, or "" to use nats.go's
// default localhost address.
func GetConnection(url string) (*nats.Conn, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url)
	if err != nil {
		log.Error().Err(err).Str("url", url).Msg("failed to connect to NATS")
		return nil, fmt.Errorf("connecting to nats at %s: %w", url, err)
	}
	return nc, nil
}
