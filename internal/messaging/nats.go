// Package messaging provides a NATS client wrapper for pub/sub messaging
// between server nodes. It handles connection lifecycle, subject-based
// subscriptions, and convenience methods for the per-identity delivery and
// event channels used by cross-node fan-out.
package messaging

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subject patterns used across server nodes. Both channels are keyed
// by recipient identity so a node only receives traffic for identities it
// might host.
const (
	SubjectDeliver = "deliver" // + .<identity> (committed messages)
	SubjectEvent   = "event"   // + .<identity> (match, unmatch, typing)
)

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Name:          "pawmatch",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready client.
// It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &NATSClient{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to the given NATS subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Subscribe registers a handler for the given subject and stores the
// subscription internally for later cleanup.
func (c *NATSClient) Subscribe(subject string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()

	return nil
}

// PublishDeliver publishes a committed message envelope to the recipient's
// delivery channel.
func (c *NATSClient) PublishDeliver(identity string, data []byte) error {
	return c.Publish(SubjectDeliver+"."+identity, data)
}

// SubscribeDeliver subscribes to the recipient's delivery channel and passes
// the raw message data to the handler.
func (c *NATSClient) SubscribeDeliver(identity string, handler func(data []byte)) error {
	subject := SubjectDeliver + "." + identity
	return c.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// UnsubscribeDeliver unsubscribes from the recipient's delivery channel.
func (c *NATSClient) UnsubscribeDeliver(identity string) error {
	return c.unsubscribe(SubjectDeliver + "." + identity)
}

// PublishEvent publishes a lifecycle event (match, unmatch, typing) to the
// recipient's event channel.
func (c *NATSClient) PublishEvent(identity string, data []byte) error {
	return c.Publish(SubjectEvent+"."+identity, data)
}

// SubscribeEvent subscribes to the recipient's event channel.
func (c *NATSClient) SubscribeEvent(identity string, handler func(data []byte)) error {
	subject := SubjectEvent + "." + identity
	return c.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// UnsubscribeEvent unsubscribes from the recipient's event channel.
func (c *NATSClient) UnsubscribeEvent(identity string) error {
	return c.unsubscribe(SubjectEvent + "." + identity)
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", subject, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}

	log.Printf("[nats] client closed")
}

// unsubscribe removes and unsubscribes from a specific subject.
func (c *NATSClient) unsubscribe(subject string) error {
	c.mu.Lock()
	sub, ok := c.subs[subject]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("nats: no subscription for subject %s", subject)
	}
	delete(c.subs, subject)
	c.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe %s: %w", subject, err)
	}
	return nil
}
