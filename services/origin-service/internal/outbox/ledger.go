package outbox

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/avelarde/hrsync/libs/db"
)

// Ledger is the page-scoped view of the outbox the relay drains. Each Begin
// opens one storage transaction covering exactly one page of rows.
type Ledger interface {
	Begin(ctx context.Context) (Tx, error)
}

type Tx interface {
	FetchUnprocessed(ctx context.Context, afterID int64, limit int) ([]Record, error)
	MarkProcessed(ctx context.Context, id int64, at time.Time) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

type pgxLedger struct {
	pool *db.Pool
	repo *Repository
}

func NewLedger(pool *db.Pool, repo *Repository) Ledger {
	return &pgxLedger{pool: pool, repo: repo}
}

func (l *pgxLedger) Begin(ctx context.Context) (Tx, error) {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &pgxLedgerTx{tx: tx, repo: l.repo}, nil
}

type pgxLedgerTx struct {
	tx   pgx.Tx
	repo *Repository
}

func (t *pgxLedgerTx) FetchUnprocessed(ctx context.Context, afterID int64, limit int) ([]Record, error) {
	return t.repo.FetchUnprocessed(ctx, t.tx, afterID, limit)
}

func (t *pgxLedgerTx) MarkProcessed(ctx context.Context, id int64, at time.Time) error {
	return t.repo.MarkProcessed(ctx, t.tx, id, at)
}

func (t *pgxLedgerTx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *pgxLedgerTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }
