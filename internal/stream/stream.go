// Package stream carries pipeline events between stages with
// at-least-once delivery. The Redis implementation uses streams with
// consumer groups; the in-memory one serves single-process deployments
// and tests.
package stream

import (
	"context"
	"time"
)

// Message is one entry fetched from a stream. ID is backend-assigned and
// is what consumers ack.
type Message struct {
	ID   string
	Body []byte
}

// Stream is the transport contract between pipeline stages. Fetch hands
// unacked messages to the named consumer; messages stay pending until
// Ack, so a consumer crash redelivers them.
type Stream interface {
	Publish(ctx context.Context, stream string, body []byte) error
	Fetch(ctx context.Context, stream, group, consumer string, count int, block time.Duration) ([]Message, error)
	Ack(ctx context.Context, stream, group, id string) error
}
