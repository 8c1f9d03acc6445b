package redisx

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Group is the consumer-side handle: one (stream, group, consumer) identity.
type Group struct {
	rdb      *redis.Client
	stream   string
	group    string
	consumer string
}

func NewGroup(rdb *redis.Client, stream, group, consumer string) *Group {
	return &Group{rdb: rdb, stream: stream, group: group, consumer: consumer}
}

func (g *Group) Stream() string { return g.stream }

func (g *Group) CreateGroup(ctx context.Context, startID string, mkStream bool) error {
	if mkStream {
		return g.rdb.XGroupCreateMkStream(ctx, g.stream, g.group, startID).Err()
	}
	return g.rdb.XGroupCreate(ctx, g.stream, g.group, startID).Err()
}

func (g *Group) DestroyGroup(ctx context.Context) error {
	return g.rdb.XGroupDestroy(ctx, g.stream, g.group).Err()
}

func (g *Group) Len(ctx context.Context) (int64, error) {
	return g.rdb.XLen(ctx, g.stream).Result()
}

// FirstEntryID returns the id of the oldest entry, or "" for an empty stream.
func (g *Group) FirstEntryID(ctx context.Context) (string, error) {
	info, err := g.rdb.XInfoStream(ctx, g.stream).Result()
	if err != nil {
		return "", err
	}
	return info.FirstEntry.ID, nil
}

// LastEntryID returns the id of the newest entry, or "" for an empty stream.
func (g *Group) LastEntryID(ctx context.Context) (string, error) {
	msgs, err := g.rdb.XRevRangeN(ctx, g.stream, "+", "-", 1).Result()
	if err != nil {
		return "", err
	}
	if len(msgs) == 0 {
		return "", nil
	}
	return msgs[0].ID, nil
}

func (g *Group) PendingCount(ctx context.Context) (int64, error) {
	pending, err := g.rdb.XPending(ctx, g.stream, g.group).Result()
	if err != nil {
		return 0, err
	}
	return pending.Count, nil
}

// Read delivers up to count entries for this consumer. id follows XREADGROUP
// semantics: an explicit id or "0" reads this consumer's pending entries,
// ">" reads new entries. A negative block disables blocking; a timed-out
// blocking read returns no entries and no error.
func (g *Group) Read(ctx context.Context, id string, count int64, block time.Duration) ([]Entry, error) {
	streams, err := g.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    g.group,
		Consumer: g.consumer,
		Streams:  []string{g.stream, id},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var entries []Entry
	for _, s := range streams {
		for _, m := range s.Messages {
			entries = append(entries, entryFromMessage(m))
		}
	}
	return entries, nil
}

func (g *Group) Ack(ctx context.Context, id string) error {
	return g.rdb.XAck(ctx, g.stream, g.group, id).Err()
}
