package redisx

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// Stream is the producer-side handle: append-only access to one stream.
type Stream struct {
	rdb  *redis.Client
	name string
}

func NewStream(rdb *redis.Client, name string) *Stream {
	return &Stream{rdb: rdb, name: name}
}

func (s *Stream) Name() string { return s.name }

// Append adds one entry and returns the broker-assigned id.
func (s *Stream) Append(ctx context.Context, fields map[string]any) (string, error) {
	return s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: s.name,
		ID:     "*",
		Values: fields,
	}).Result()
}
