package relay

import (
	"fmt"
	"time"

	"chat-core/pkg/logger"

	"github.com/nats-io/nats.go"
)

// ConnectNATS dials the NATS server with retry so the process survives
// the broker starting after it. The connection is shared between the
// relay and the presence KV buckets.
func ConnectNATS(url string) (*nats.Conn, error) {
	var nc *nats.Conn
	var err error
	for attempt := 1; attempt <= 30; attempt++ {
		nc, err = nats.Connect(url,
			nats.Name("chat-core"),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				logger.Warn("NATS disconnected: %v", err)
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				logger.Info("NATS reconnected: %s", nc.ConnectedUrl())
			}),
		)
		if err == nil {
			logger.Info("Connected to NATS: %s", nc.ConnectedUrl())
			return nc, nil
		}
		logger.Info("Waiting for NATS (attempt %d): %v", attempt, err)
		time.Sleep(2 * time.Second)
	}
	return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
}

// NATSRelay fans out through NATS core subjects. Channel names like
// "conversation:c1:messages" are single subject tokens, so no wildcard
// collisions with the scheme.
type NATSRelay struct {
	nc *nats.Conn
}

func NewNATSRelay(nc *nats.Conn) *NATSRelay {
	return &NATSRelay{nc: nc}
}

func (r *NATSRelay) Publish(channel string, payload []byte) error {
	return r.nc.Publish(channel, payload)
}

func (r *NATSRelay) Subscribe(channel string, handler Handler) (Subscription, error) {
	sub, err := r.nc.Subscribe(channel, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}
	return &natsSubscription{sub: sub}, nil
}

func (r *NATSRelay) Close() {
	if err := r.nc.Drain(); err != nil {
		logger.Error("Error draining NATS connection: %v", err)
	}
}

type natsSubscription struct {
	sub *nats.Subscription
}

func (s *natsSubscription) Unsubscribe() error {
	return s.sub.Unsubscribe()
}
