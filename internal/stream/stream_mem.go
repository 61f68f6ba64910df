package stream

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type memEntry struct {
	msg     Message
	pending bool // handed out, awaiting ack
	acked   bool
}

// MemStream is a process-local transport for single-node deployments and
// tests. Delivery semantics mirror the Redis implementation: fetched
// messages stay pending until acked, and Redeliver returns crashed
// consumers' messages to the queue.
type MemStream struct {
	mu      sync.Mutex
	streams map[string][]*memEntry
	nextID  int
}

var _ Stream = (*MemStream)(nil)

func NewMemStream() *MemStream {
	return &MemStream{streams: make(map[string][]*memEntry)}
}

func (s *MemStream) Publish(ctx context.Context, stream string, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.streams[stream] = append(s.streams[stream], &memEntry{
		msg: Message{
			ID:   fmt.Sprintf("%d-0", s.nextID),
			Body: append([]byte(nil), body...),
		},
	})
	return nil
}

func (s *MemStream) Fetch(ctx context.Context, stream, group, consumer string, count int, block time.Duration) ([]Message, error) {
	deadline := time.Now().Add(block)
	for {
		s.mu.Lock()
		var out []Message
		for _, e := range s.streams[stream] {
			if e.pending || e.acked {
				continue
			}
			e.pending = true
			out = append(out, e.msg)
			if len(out) >= count {
				break
			}
		}
		s.mu.Unlock()
		if len(out) > 0 || block <= 0 || !time.Now().Before(deadline) {
			return out, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (s *MemStream) Ack(ctx context.Context, stream, group, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.streams[stream] {
		if e.msg.ID == id {
			e.acked = true
			e.pending = false
			return nil
		}
	}
	return nil
}

// Redeliver returns all pending unacked messages to the queue, as a
// consumer-group claim would after a crash.
func (s *MemStream) Redeliver(stream string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.streams[stream] {
		if e.pending && !e.acked {
			e.pending = false
		}
	}
}

// Len reports queued plus pending messages, for stats and tests.
func (s *MemStream) Len(stream string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.streams[stream] {
		if !e.acked {
			n++
		}
	}
	return n
}
