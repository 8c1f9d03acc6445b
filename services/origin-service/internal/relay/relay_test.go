package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/avelarde/hrsync/services/origin-service/internal/outbox"
)

type memLedger struct {
	rows   []outbox.Record
	begins int
}

func (l *memLedger) Begin(ctx context.Context) (outbox.Tx, error) {
	l.begins++
	return &memTx{ledger: l}, nil
}

func (l *memLedger) unprocessed() int {
	n := 0
	for _, r := range l.rows {
		if !r.IsProcessed {
			n++
		}
	}
	return n
}

type memTx struct {
	ledger *memLedger
	marked []int64
	done   bool
}

func (t *memTx) FetchUnprocessed(ctx context.Context, afterID int64, limit int) ([]outbox.Record, error) {
	var page []outbox.Record
	for _, r := range t.ledger.rows {
		if r.IsProcessed || r.ID <= afterID {
			continue
		}
		page = append(page, r)
		if len(page) == limit {
			break
		}
	}
	return page, nil
}

func (t *memTx) MarkProcessed(ctx context.Context, id int64, at time.Time) error {
	t.marked = append(t.marked, id)
	return nil
}

func (t *memTx) Commit(ctx context.Context) error {
	if t.done {
		return errors.New("tx already finished")
	}
	t.done = true
	for _, id := range t.marked {
		for i := range t.ledger.rows {
			if t.ledger.rows[i].ID == id {
				t.ledger.rows[i].IsProcessed = true
			}
		}
	}
	return nil
}

func (t *memTx) Rollback(ctx context.Context) error {
	t.done = true
	return nil
}

type fakeStream struct {
	entries []map[string]any
	failAt  int // 1-based append index that fails; 0 disables
}

func (s *fakeStream) Append(ctx context.Context, fields map[string]any) (string, error) {
	if s.failAt > 0 && len(s.entries)+1 == s.failAt {
		return "", errors.New("broker down")
	}
	s.entries = append(s.entries, fields)
	return fmt.Sprintf("171000000000%d-0", len(s.entries)), nil
}

func (s *fakeStream) Name() string { return "origin_stream" }

func newTestRelay(ledger outbox.Ledger, stream Appender) *Relay {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(ledger, stream, logger, clockwork.NewFakeClock())
}

func seedRows(n int) []outbox.Record {
	rows := make([]outbox.Record, 0, n)
	for i := 1; i <= n; i++ {
		rows = append(rows, outbox.Record{
			ID:            int64(i),
			EventID:       fmt.Sprintf("evt-%d", i),
			EventType:     "department.created",
			AggregateType: "department",
			AggregateID:   int64(i),
			Version:       1,
			Payload:       []byte(`{"id":1}`),
		})
	}
	return rows
}

func TestPublish_ChunksUntilDrained(t *testing.T) {
	ledger := &memLedger{rows: seedRows(15)}
	stream := &fakeStream{}
	r := newTestRelay(ledger, stream)

	processed, err := r.Publish(context.Background(), 5)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if processed != 15 {
		t.Fatalf("expected 15 processed, got %d", processed)
	}
	if len(stream.entries) != 15 {
		t.Fatalf("expected 15 stream entries, got %d", len(stream.entries))
	}
	if ledger.unprocessed() != 0 {
		t.Fatalf("expected no unprocessed rows, got %d", ledger.unprocessed())
	}
}

func TestPublish_EmptyOutboxIsSuccess(t *testing.T) {
	ledger := &memLedger{}
	stream := &fakeStream{}
	r := newTestRelay(ledger, stream)

	processed, err := r.Publish(context.Background(), 5)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if processed != 0 {
		t.Fatalf("expected 0 processed, got %d", processed)
	}
	if len(stream.entries) != 0 {
		t.Fatalf("expected no entries, got %d", len(stream.entries))
	}
}

func TestPublish_FailedPageLeavesPageUnprocessed(t *testing.T) {
	ledger := &memLedger{rows: seedRows(5)}
	stream := &fakeStream{failAt: 1}
	r := newTestRelay(ledger, stream)

	processed, err := r.Publish(context.Background(), 5)
	if err == nil {
		t.Fatal("expected publish to fail")
	}
	if processed != 0 {
		t.Fatalf("expected 0 processed, got %d", processed)
	}
	if ledger.unprocessed() != 5 {
		t.Fatalf("expected all 5 rows unprocessed, got %d", ledger.unprocessed())
	}
}

// A failure mid-page must roll back the whole page, including rows whose
// entries were already appended to the broker. Those entries stay in the
// stream: the next publish re-appends them, which is the documented
// at-least-once duplication the consumer dedups.
func TestPublish_MidPageFailureRollsBackWholePage(t *testing.T) {
	ledger := &memLedger{rows: seedRows(10)}
	stream := &fakeStream{failAt: 8} // fails on row 8: page 1 (1-5) commits, page 2 aborts
	r := newTestRelay(ledger, stream)

	processed, err := r.Publish(context.Background(), 5)
	if err == nil {
		t.Fatal("expected publish to fail")
	}
	if processed != 5 {
		t.Fatalf("expected 5 processed from the committed page, got %d", processed)
	}
	if ledger.unprocessed() != 5 {
		t.Fatalf("expected 5 unprocessed rows, got %d", ledger.unprocessed())
	}
	// Rows 6 and 7 were appended before the failure and remain in the broker
	// even though their outbox rows were rolled back.
	if len(stream.entries) != 7 {
		t.Fatalf("expected 7 durable entries, got %d", len(stream.entries))
	}

	// A retry drains the aborted page and duplicates entries 6 and 7.
	stream.failAt = 0
	processed, err = r.Publish(context.Background(), 5)
	if err != nil {
		t.Fatalf("retry publish: %v", err)
	}
	if processed != 5 {
		t.Fatalf("expected 5 processed on retry, got %d", processed)
	}
	if len(stream.entries) != 12 {
		t.Fatalf("expected 12 entries after retry, got %d", len(stream.entries))
	}
}

func TestPublish_EntryFieldShape(t *testing.T) {
	ledger := &memLedger{rows: seedRows(1)}
	stream := &fakeStream{}
	r := newTestRelay(ledger, stream)

	if _, err := r.Publish(context.Background(), 5); err != nil {
		t.Fatalf("publish: %v", err)
	}
	fields := stream.entries[0]
	for _, key := range []string{"event_id", "event_type", "aggregate_type", "aggregate_id", "version", "payload", "created_at"} {
		if _, ok := fields[key]; !ok {
			t.Fatalf("missing field %q", key)
		}
	}
	if fields["version"] != "1" {
		t.Fatalf("version should be formatted as string, got %v", fields["version"])
	}
}
