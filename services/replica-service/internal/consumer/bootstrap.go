package consumer

import (
	"context"
	"fmt"

	"github.com/avelarde/hrsync/libs/redisx"
)

// loopState is the read-phase scheduler's explicit state: whether the
// one-time historical replay is still active, and the replay cursor.
type loopState struct {
	historical bool
	cursor     string
}

// bootstrap establishes or repairs the durable consumer-group cursor.
//
// Fresh group: created at id 0 (auto-creating the stream), historical replay
// starts from the stream's first entry. Existing group with entries but no
// pending deliveries is treated as orphaned (its cursor points past history
// nobody claimed): it is destroyed and recreated at the last acknowledged
// offset. Any other creation failure is fatal and bubbles to the caller,
// which terminates the process.
func (c *Consumer) bootstrap(ctx context.Context) (loopState, error) {
	err := c.broker.CreateGroup(ctx, "0", true)
	if err == nil {
		c.logger.Info("consumer group created", "stream", c.stream)
		return c.historicalStart(ctx)
	}
	if !redisx.IsBusyGroup(err) {
		return loopState{}, fmt.Errorf("create consumer group: %w", err)
	}

	c.logger.Info("consumer group already exists", "stream", c.stream)

	length, lerr := c.broker.Len(ctx)
	if lerr != nil {
		c.logger.Warn("stream length inspection failed", "err", lerr)
		return loopState{}, nil
	}
	if length == 0 {
		c.logger.Info("stream is empty")
		return loopState{}, nil
	}

	pending, perr := c.broker.PendingCount(ctx)
	if perr != nil {
		c.logger.Warn("pending inspection failed", "err", perr)
		return loopState{}, nil
	}
	c.logger.Info("stream info", "length", length, "pending", pending)

	if pending > 0 {
		// Healthy: the own-pending phase drains the backlog.
		return loopState{}, nil
	}

	return c.recoverOrphanedGroup(ctx)
}

// historicalStart positions a fresh group's replay cursor at the stream's
// first entry. Replay is best-effort: any inspection failure just skips it.
func (c *Consumer) historicalStart(ctx context.Context) (loopState, error) {
	firstID, err := c.broker.FirstEntryID(ctx)
	if err != nil {
		c.logger.Warn("stream inspection failed, skipping historical replay", "err", err)
		return loopState{}, nil
	}
	if firstID == "" {
		c.logger.Info("stream is empty, no historical entries")
		return loopState{}, nil
	}
	c.logger.Info("fresh group, replaying history", "from", firstID)
	return loopState{historical: true, cursor: firstID}, nil
}

// recoverOrphanedGroup handles a group whose cursor points past existing
// history with nothing claimed (seen after external group deletion and
// recreation). The group is recreated at the last acknowledged id from
// sync_offsets; when that lookup fails, at the newest stream entry,
// accepting the loss of whatever lies between the lost offset and the tail.
func (c *Consumer) recoverOrphanedGroup(ctx context.Context) (loopState, error) {
	startID, err := c.books.LastOffset(ctx, c.stream)
	if err != nil {
		c.logger.Warn("offset lookup failed, falling back to stream tail", "err", err)
		lastID, lerr := c.broker.LastEntryID(ctx)
		if lerr != nil {
			c.logger.Warn("stream tail inspection failed", "err", lerr)
			return loopState{}, nil
		}
		startID = lastID
	}
	if startID == "" {
		startID = "0"
	}

	c.logger.Info("orphaned group, recreating", "start_id", startID)
	if err := c.broker.DestroyGroup(ctx); err != nil {
		c.logger.Warn("group destroy failed", "err", err)
		return loopState{}, nil
	}
	if err := c.broker.CreateGroup(ctx, startID, false); err != nil {
		c.logger.Warn("group recreate failed", "err", err)
		return loopState{}, nil
	}

	c.logger.Info("group recreated", "start_id", startID)
	return loopState{historical: true, cursor: startID}, nil
}
