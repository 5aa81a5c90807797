// Package publisher delivers payloads to a message broker.
package publisher

import "context"

// Publisher sends a payload to a topic. Publish must return once the broker
// has accepted the message or ctx is done.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Close() error
}
