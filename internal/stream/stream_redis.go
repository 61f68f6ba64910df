package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const bodyField = "body"

// defaultClaimMinIdle guards freshly delivered messages from being
// claimed away while their consumer is still working on them.
const defaultClaimMinIdle = time.Minute

// RedisStream is the shared transport for multi-process deployments,
// backed by Redis streams with consumer groups.
type RedisStream struct {
	client *redis.Client

	// MinIdle is how long a message may sit unacked in another
	// consumer's pending list before Fetch claims it. Entries left
	// behind by a crashed consumer come back through this path.
	MinIdle time.Duration

	mu      sync.Mutex
	created map[string]bool // stream/group pairs already ensured
}

var _ Stream = (*RedisStream)(nil)

func NewRedisStream(client *redis.Client) *RedisStream {
	return &RedisStream{
		client:  client,
		MinIdle: defaultClaimMinIdle,
		created: make(map[string]bool),
	}
}

func (s *RedisStream) Publish(ctx context.Context, stream string, body []byte) error {
	err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{bodyField: body},
	}).Err()
	if err != nil {
		return fmt.Errorf("publishing to %s: %w", stream, err)
	}
	return nil
}

// ensureGroup creates the consumer group once per process, creating the
// stream alongside it when absent.
func (s *RedisStream) ensureGroup(ctx context.Context, stream, group string) error {
	key := stream + "/" + group
	s.mu.Lock()
	done := s.created[key]
	s.mu.Unlock()
	if done {
		return nil
	}
	err := s.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("creating group %s on %s: %w", group, stream, err)
	}
	s.mu.Lock()
	s.created[key] = true
	s.mu.Unlock()
	return nil
}

func (s *RedisStream) Fetch(ctx context.Context, stream, group, consumer string, count int, block time.Duration) ([]Message, error) {
	if err := s.ensureGroup(ctx, stream, group); err != nil {
		return nil, err
	}
	// go-redis treats Block==0 as block-forever; negative skips BLOCK
	if block <= 0 {
		block = -1
	}
	res, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    int64(count),
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return s.claimStale(ctx, stream, group, consumer, count)
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", stream, err)
	}

	var out []Message
	for _, sr := range res {
		for _, m := range sr.Messages {
			body, _ := m.Values[bodyField].(string)
			out = append(out, Message{ID: m.ID, Body: []byte(body)})
		}
	}
	if len(out) == 0 {
		return s.claimStale(ctx, stream, group, consumer, count)
	}
	return out, nil
}

// claimStale takes over pending entries whose consumer went quiet for
// MinIdle, so messages abandoned by a crashed worker are redelivered
// instead of rotting in its pending list.
func (s *RedisStream) claimStale(ctx context.Context, stream, group, consumer string, count int) ([]Message, error) {
	claimed, _, err := s.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  s.MinIdle,
		Start:    "0-0",
		Count:    int64(count),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("claiming stale entries on %s: %w", stream, err)
	}
	var out []Message
	for _, m := range claimed {
		body, _ := m.Values[bodyField].(string)
		out = append(out, Message{ID: m.ID, Body: []byte(body)})
	}
	return out, nil
}

func (s *RedisStream) Ack(ctx context.Context, stream, group, id string) error {
	if err := s.client.XAck(ctx, stream, group, id).Err(); err != nil {
		return fmt.Errorf("acking %s on %s: %w", id, stream, err)
	}
	return nil
}
