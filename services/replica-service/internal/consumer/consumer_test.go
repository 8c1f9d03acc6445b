package consumer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/avelarde/hrsync/libs/redisx"
	"github.com/avelarde/hrsync/services/replica-service/internal/bookkeeping"
	"github.com/avelarde/hrsync/services/replica-service/internal/reconcile"
	"github.com/avelarde/hrsync/services/replica-service/internal/replica"
)

const testStream = "hr-sync-stream"

type createCall struct {
	startID  string
	mkStream bool
}

type fakeBroker struct {
	createErr  error
	length     int64
	lenErr     error
	pending    int64
	pendingErr error
	firstID    string
	firstErr   error
	lastID     string
	lastErr    error

	readFn func(id string, count int64, block time.Duration) ([]redisx.Entry, error)

	created   []createCall
	destroyed int
	acked     []string
	readIDs   []string
}

func (b *fakeBroker) CreateGroup(ctx context.Context, startID string, mkStream bool) error {
	b.created = append(b.created, createCall{startID: startID, mkStream: mkStream})
	if len(b.created) == 1 {
		return b.createErr
	}
	return nil
}

func (b *fakeBroker) DestroyGroup(ctx context.Context) error {
	b.destroyed++
	return nil
}

func (b *fakeBroker) Len(ctx context.Context) (int64, error) { return b.length, b.lenErr }

func (b *fakeBroker) FirstEntryID(ctx context.Context) (string, error) { return b.firstID, b.firstErr }

func (b *fakeBroker) LastEntryID(ctx context.Context) (string, error) { return b.lastID, b.lastErr }

func (b *fakeBroker) PendingCount(ctx context.Context) (int64, error) { return b.pending, b.pendingErr }

func (b *fakeBroker) Read(ctx context.Context, id string, count int64, block time.Duration) ([]redisx.Entry, error) {
	b.readIDs = append(b.readIDs, id)
	if b.readFn == nil {
		return nil, nil
	}
	return b.readFn(id, count, block)
}

func (b *fakeBroker) Ack(ctx context.Context, id string) error {
	b.acked = append(b.acked, id)
	return nil
}

type fakeBooks struct {
	seen      map[string]bool
	seenErr   error
	processed []bookkeeping.ProcessedEvent
	offsets   map[string]string
	syncLogs  []bookkeeping.SyncLog
	eventErrs []bookkeeping.EventError
}

func newFakeBooks() *fakeBooks {
	return &fakeBooks{seen: make(map[string]bool), offsets: make(map[string]string)}
}

func (f *fakeBooks) Seen(ctx context.Context, eventID string) (bool, error) {
	if f.seenErr != nil {
		return false, f.seenErr
	}
	return f.seen[eventID], nil
}

func (f *fakeBooks) InsertProcessed(ctx context.Context, ev bookkeeping.ProcessedEvent) error {
	if f.seen[ev.EventID] {
		return nil
	}
	f.seen[ev.EventID] = true
	f.processed = append(f.processed, ev)
	return nil
}

func (f *fakeBooks) LastOffset(ctx context.Context, stream string) (string, error) {
	if id, ok := f.offsets[stream]; ok {
		return id, nil
	}
	return "", errors.New("no rows in result set")
}

func (f *fakeBooks) UpsertOffset(ctx context.Context, stream, lastID string) error {
	f.offsets[stream] = lastID
	return nil
}

func (f *fakeBooks) InsertSyncLog(ctx context.Context, l bookkeeping.SyncLog) error {
	f.syncLogs = append(f.syncLogs, l)
	return nil
}

func (f *fakeBooks) InsertEventError(ctx context.Context, e bookkeeping.EventError) error {
	f.eventErrs = append(f.eventErrs, e)
	return nil
}

func (f *fakeBooks) logCount(status string) int {
	n := 0
	for _, l := range f.syncLogs {
		if l.Status == status {
			n++
		}
	}
	return n
}

func newTestConsumer(broker *fakeBroker, books *fakeBooks, store replica.Store) *Consumer {
	clock := clockwork.NewFakeClock()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(broker, store, books, reconcile.Registry(clock), logger, clock, Config{Stream: testStream})
}

func entry(id, eventID, eventType, payload string) redisx.Entry {
	fields := map[string]string{"payload": payload}
	if eventType != "" {
		fields["event_type"] = eventType
	}
	if eventID != "" {
		fields["event_id"] = eventID
	}
	return redisx.Entry{ID: id, Fields: fields}
}

func TestBootstrap_FreshGroupReplaysFromFirstEntry(t *testing.T) {
	broker := &fakeBroker{firstID: "1-1"}
	c := newTestConsumer(broker, newFakeBooks(), replica.NewMemStore())

	st, err := c.bootstrap(context.Background())
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if !st.historical || st.cursor != "1-1" {
		t.Fatalf("state = %+v, want historical from 1-1", st)
	}
	if len(broker.created) != 1 || broker.created[0] != (createCall{startID: "0", mkStream: true}) {
		t.Fatalf("created = %+v", broker.created)
	}
}

func TestBootstrap_FreshGroupOnEmptyStream(t *testing.T) {
	broker := &fakeBroker{firstID: ""}
	c := newTestConsumer(broker, newFakeBooks(), replica.NewMemStore())

	st, err := c.bootstrap(context.Background())
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if st.historical {
		t.Fatal("expected no historical replay on an empty stream")
	}
}

func TestBootstrap_ExistingGroupWithPendingIsHealthy(t *testing.T) {
	broker := &fakeBroker{
		createErr: errors.New("BUSYGROUP Consumer Group name already exists"),
		length:    5,
		pending:   2,
	}
	c := newTestConsumer(broker, newFakeBooks(), replica.NewMemStore())

	st, err := c.bootstrap(context.Background())
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if st.historical {
		t.Fatal("healthy group must not replay history")
	}
	if broker.destroyed != 0 {
		t.Fatal("healthy group must not be destroyed")
	}
}

func TestBootstrap_OrphanedGroupRecreatesAtStoredOffset(t *testing.T) {
	broker := &fakeBroker{
		createErr: errors.New("BUSYGROUP Consumer Group name already exists"),
		length:    5,
		pending:   0,
	}
	books := newFakeBooks()
	books.offsets[testStream] = "7-0"
	c := newTestConsumer(broker, books, replica.NewMemStore())

	st, err := c.bootstrap(context.Background())
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if broker.destroyed != 1 {
		t.Fatalf("destroyed = %d, want 1", broker.destroyed)
	}
	if len(broker.created) != 2 || broker.created[1] != (createCall{startID: "7-0", mkStream: false}) {
		t.Fatalf("created = %+v", broker.created)
	}
	if !st.historical || st.cursor != "7-0" {
		t.Fatalf("state = %+v, want replay from 7-0", st)
	}
}

func TestBootstrap_OrphanedGroupFallsBackToStreamTail(t *testing.T) {
	broker := &fakeBroker{
		createErr: errors.New("BUSYGROUP Consumer Group name already exists"),
		length:    5,
		pending:   0,
		lastID:    "9-3",
	}
	c := newTestConsumer(broker, newFakeBooks(), replica.NewMemStore())

	st, err := c.bootstrap(context.Background())
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if len(broker.created) != 2 || broker.created[1].startID != "9-3" {
		t.Fatalf("created = %+v, want recreate at 9-3", broker.created)
	}
	if !st.historical || st.cursor != "9-3" {
		t.Fatalf("state = %+v", st)
	}
}

func TestBootstrap_CreateFailureIsFatal(t *testing.T) {
	broker := &fakeBroker{createErr: errors.New("NOAUTH Authentication required")}
	c := newTestConsumer(broker, newFakeBooks(), replica.NewMemStore())

	if _, err := c.bootstrap(context.Background()); err == nil {
		t.Fatal("expected a fatal bootstrap error")
	}
}

func TestBootstrap_InspectionFailureSkipsRecovery(t *testing.T) {
	broker := &fakeBroker{
		createErr: errors.New("BUSYGROUP Consumer Group name already exists"),
		lenErr:    errors.New("connection reset"),
	}
	c := newTestConsumer(broker, newFakeBooks(), replica.NewMemStore())

	st, err := c.bootstrap(context.Background())
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if st.historical || broker.destroyed != 0 {
		t.Fatalf("inspection failure must leave the group alone, state = %+v", st)
	}
}

func TestDispatch_AppliesAndRecordsLedger(t *testing.T) {
	store := replica.NewMemStore()
	books := newFakeBooks()
	broker := &fakeBroker{}
	c := newTestConsumer(broker, books, store)

	err := c.dispatch(context.Background(), entry("1-1", "evt-1", "department.created",
		`{"id":1,"name":"Engineering","cost_center_code":"CC-100","version":1}`))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if d, ok := store.Departments[1]; !ok || d.Name != "Engineering" {
		t.Fatalf("department not replicated: %+v", store.Departments)
	}
	if _, ok := store.Processed["evt-1"]; !ok {
		t.Fatal("processed_events row missing")
	}
	if len(broker.acked) != 1 || broker.acked[0] != "1-1" {
		t.Fatalf("acked = %v", broker.acked)
	}
	if books.offsets[testStream] != "1-1" {
		t.Fatalf("offset = %q, want 1-1", books.offsets[testStream])
	}
	if books.logCount("success") != 1 {
		t.Fatalf("sync logs = %+v, want one success row", books.syncLogs)
	}
}

func TestDispatch_DuplicateIsAckedWithoutReapply(t *testing.T) {
	store := replica.NewMemStore()
	books := newFakeBooks()
	books.seen["evt-1"] = true
	broker := &fakeBroker{}
	c := newTestConsumer(broker, books, store)

	err := c.dispatch(context.Background(), entry("2-0", "evt-1", "department.created",
		`{"id":1,"name":"Engineering","version":1}`))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if len(store.Departments) != 0 {
		t.Fatal("duplicate must not touch the replica store")
	}
	if len(broker.acked) != 1 || broker.acked[0] != "2-0" {
		t.Fatalf("acked = %v", broker.acked)
	}
}

func TestDispatch_MissingEventTypeIsDropped(t *testing.T) {
	books := newFakeBooks()
	broker := &fakeBroker{}
	c := newTestConsumer(broker, books, replica.NewMemStore())

	err := c.dispatch(context.Background(), entry("3-0", "evt-9", "", `{"id":1}`))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(broker.acked) != 1 {
		t.Fatalf("acked = %v", broker.acked)
	}
	if len(books.processed) != 0 {
		t.Fatal("a frame without event_type gets no ledger row")
	}
}

func TestDispatch_UnparsablePayloadIsTombstoned(t *testing.T) {
	books := newFakeBooks()
	broker := &fakeBroker{}
	c := newTestConsumer(broker, books, replica.NewMemStore())

	err := c.dispatch(context.Background(), entry("4-0", "evt-4", "department.created", `{not json`))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(broker.acked) != 1 {
		t.Fatalf("acked = %v", broker.acked)
	}
	if len(books.processed) != 1 {
		t.Fatalf("processed = %+v, want one tombstone", books.processed)
	}
	ts := books.processed[0]
	if ts.EventID != "evt-4" || ts.AggregateID != "0" || ts.StreamID != "4-0" {
		t.Fatalf("tombstone = %+v", ts)
	}
}

func TestDispatch_MissingEventIDFallsBackToEntryID(t *testing.T) {
	books := newFakeBooks()
	broker := &fakeBroker{}
	c := newTestConsumer(broker, books, replica.NewMemStore())

	err := c.dispatch(context.Background(), entry("5-0", "", "department.created", `{"id":1,"version":1}`))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(books.processed) != 1 || books.processed[0].EventID != "5-0" {
		t.Fatalf("processed = %+v, want tombstone keyed by entry id", books.processed)
	}
	if len(broker.acked) != 1 {
		t.Fatalf("acked = %v", broker.acked)
	}
}

func TestDispatch_UnknownEventTypeIsTombstoned(t *testing.T) {
	books := newFakeBooks()
	broker := &fakeBroker{}
	c := newTestConsumer(broker, books, replica.NewMemStore())

	err := c.dispatch(context.Background(), entry("6-0", "evt-6", "project.created", `{"id":8}`))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(broker.acked) != 1 {
		t.Fatalf("acked = %v", broker.acked)
	}
	if len(books.processed) != 1 || books.processed[0].EventID != "evt-6" {
		t.Fatalf("processed = %+v", books.processed)
	}
	if books.processed[0].AggregateID != "8" {
		t.Fatalf("aggregate id = %q, want 8", books.processed[0].AggregateID)
	}
}

func TestDispatch_HandlerErrorLeavesEntryPending(t *testing.T) {
	store := replica.NewMemStore()
	books := newFakeBooks()
	broker := &fakeBroker{}
	c := newTestConsumer(broker, books, store)

	// employee payloads without a version are a hard failure
	err := c.dispatch(context.Background(), entry("7-0", "evt-7", "employee.created",
		`{"id":7,"name":"Ana Souza","email":"ana@example.com"}`))
	if err == nil {
		t.Fatal("expected a handler error")
	}

	if len(broker.acked) != 0 {
		t.Fatalf("a failed apply must not ack, acked = %v", broker.acked)
	}
	if len(store.Employees) != 0 || len(store.Processed) != 0 {
		t.Fatal("failed apply must leave the replica store untouched")
	}
	if len(books.eventErrs) != 1 || books.eventErrs[0].EventID != "evt-7" {
		t.Fatalf("event errors = %+v", books.eventErrs)
	}
	if books.logCount("failed") != 1 {
		t.Fatalf("sync logs = %+v, want one failed row", books.syncLogs)
	}
	if _, ok := books.offsets[testStream]; ok {
		t.Fatal("failed apply must not advance the offset")
	}
}

func TestDispatch_SkipAcksWithoutSuccessLog(t *testing.T) {
	store := replica.NewMemStore()
	store.Departments[1] = replica.Department{ID: 1, Name: "Engineering", Version: 5}
	books := newFakeBooks()
	broker := &fakeBroker{}
	c := newTestConsumer(broker, books, store)

	err := c.dispatch(context.Background(), entry("8-0", "evt-8", "department.updated",
		`{"id":1,"name":"Stale","version":3}`))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if store.Departments[1].Name != "Engineering" {
		t.Fatal("stale version must not overwrite the row")
	}
	if len(broker.acked) != 1 {
		t.Fatalf("acked = %v", broker.acked)
	}
	if books.offsets[testStream] != "8-0" {
		t.Fatalf("offset = %q", books.offsets[testStream])
	}
	if len(books.processed) != 1 || books.processed[0].EventID != "evt-8" {
		t.Fatalf("processed = %+v, want a skip tombstone", books.processed)
	}
	if books.logCount("success") != 0 {
		t.Fatalf("skip must not write a success log, got %+v", books.syncLogs)
	}
}

func TestRunIteration_HistoricalPhaseAdvancesCursor(t *testing.T) {
	broker := &fakeBroker{}
	broker.readFn = func(id string, count int64, block time.Duration) ([]redisx.Entry, error) {
		if id == "1-0" {
			return []redisx.Entry{
				entry("1-1", "evt-a", "department.created", `{"id":1,"name":"A","version":1}`),
				entry("1-2", "evt-b", "department.created", `{"id":2,"name":"B","version":1}`),
			}, nil
		}
		return nil, nil
	}
	store := replica.NewMemStore()
	c := newTestConsumer(broker, newFakeBooks(), store)

	st := loopState{historical: true, cursor: "1-0"}
	if err := c.runIteration(context.Background(), &st); err != nil {
		t.Fatalf("iteration: %v", err)
	}
	if !st.historical || st.cursor != "1-2" {
		t.Fatalf("state = %+v, want cursor advanced to 1-2", st)
	}
	if len(store.Departments) != 2 {
		t.Fatalf("departments = %+v", store.Departments)
	}

	// drained: the next iteration ends the replay and falls through
	if err := c.runIteration(context.Background(), &st); err != nil {
		t.Fatalf("iteration: %v", err)
	}
	if st.historical {
		t.Fatal("historical replay must end after an empty read")
	}
}

func TestRunIteration_HistoricalReadErrorEndsReplay(t *testing.T) {
	broker := &fakeBroker{}
	broker.readFn = func(id string, count int64, block time.Duration) ([]redisx.Entry, error) {
		if id == "1-0" {
			return nil, errors.New("read failed")
		}
		return nil, nil
	}
	c := newTestConsumer(broker, newFakeBooks(), replica.NewMemStore())

	st := loopState{historical: true, cursor: "1-0"}
	if err := c.runIteration(context.Background(), &st); err != nil {
		t.Fatalf("iteration: %v", err)
	}
	if st.historical {
		t.Fatal("a historical read error must end the replay for good")
	}
	// the same iteration still ran the pending and live phases
	if len(broker.readIDs) != 3 || broker.readIDs[1] != "0" || broker.readIDs[2] != ">" {
		t.Fatalf("read ids = %v", broker.readIDs)
	}
}

func TestRunIteration_PendingDrainsBeforeLive(t *testing.T) {
	broker := &fakeBroker{}
	broker.readFn = func(id string, count int64, block time.Duration) ([]redisx.Entry, error) {
		if id == "0" {
			return []redisx.Entry{entry("2-0", "evt-p", "skill.created", `{"id":3,"name":"Go","version":1}`)}, nil
		}
		return nil, nil
	}
	store := replica.NewMemStore()
	c := newTestConsumer(broker, newFakeBooks(), store)

	st := loopState{}
	if err := c.runIteration(context.Background(), &st); err != nil {
		t.Fatalf("iteration: %v", err)
	}
	if len(broker.readIDs) != 1 || broker.readIDs[0] != "0" {
		t.Fatalf("read ids = %v, pending batch must preempt the live read", broker.readIDs)
	}
	if _, ok := store.Skills[3]; !ok {
		t.Fatalf("skills = %+v", store.Skills)
	}
}

func TestRunIteration_LiveReadUsesBlockingTail(t *testing.T) {
	broker := &fakeBroker{}
	var liveBlock time.Duration
	broker.readFn = func(id string, count int64, block time.Duration) ([]redisx.Entry, error) {
		if id == ">" {
			liveBlock = block
		}
		return nil, nil
	}
	c := newTestConsumer(broker, newFakeBooks(), replica.NewMemStore())

	st := loopState{}
	if err := c.runIteration(context.Background(), &st); err != nil {
		t.Fatalf("iteration: %v", err)
	}
	if len(broker.readIDs) != 2 || broker.readIDs[1] != ">" {
		t.Fatalf("read ids = %v", broker.readIDs)
	}
	if liveBlock != 5*time.Second {
		t.Fatalf("live block = %v, want the 5s default", liveBlock)
	}
}

func TestRun_ExitsOnContextCancel(t *testing.T) {
	broker := &fakeBroker{firstID: ""}
	c := newTestConsumer(broker, newFakeBooks(), replica.NewMemStore())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := c.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
}
