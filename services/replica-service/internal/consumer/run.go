package consumer

import (
	"context"
	"time"

	"github.com/avelarde/hrsync/libs/redisx"
)

const readBatchSize = 10

// Run bootstraps the consumer group and then loops over the three read
// phases until ctx is cancelled. Only a bootstrap failure is returned; every
// in-loop error is logged, paused on, and retried.
func (c *Consumer) Run(ctx context.Context) error {
	st, err := c.bootstrap(ctx)
	if err != nil {
		return err
	}

	c.logger.Info("consumer active", "stream", c.stream, "historical", st.historical)

	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := c.runIteration(ctx, &st); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("consumer loop error", "err", err)
			c.clock.Sleep(time.Second)
		}
	}
}

// runIteration tries the phases in strict priority order and processes at
// most one batch: historical backlog while the replay flag is set, then this
// consumer's own pending entries, then a bounded blocking read of the live
// tail.
func (c *Consumer) runIteration(ctx context.Context, st *loopState) error {
	if st.historical {
		entries, err := c.broker.Read(ctx, st.cursor, readBatchSize, -1)
		if err != nil {
			// Historical replay is one-shot: any failure ends it for good.
			c.logger.Warn("historical read failed, switching to live phases", "err", err)
			st.historical = false
		} else if len(entries) == 0 {
			c.logger.Info("historical replay drained")
			st.historical = false
		} else {
			st.cursor = entries[len(entries)-1].ID
			c.processBatch(ctx, entries)
			return nil
		}
	}

	entries, err := c.broker.Read(ctx, "0", readBatchSize, -1)
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		c.logger.Info("draining own pending entries", "count", len(entries))
		c.processBatch(ctx, entries)
		return nil
	}

	entries, err = c.broker.Read(ctx, ">", 1, c.liveBlock)
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		c.processBatch(ctx, entries)
	}
	return nil
}

func (c *Consumer) processBatch(ctx context.Context, entries []redisx.Entry) {
	for _, entry := range entries {
		if err := c.dispatch(ctx, entry); err != nil {
			c.logger.Error("event processing failed", "entry_id", entry.ID, "err", err)
			c.clock.Sleep(time.Second)
		}
	}
}
