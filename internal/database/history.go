package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// StockCheck is one terminal check result.
type StockCheck struct {
	ID        uuid.UUID `db:"id"`
	RunID     uuid.UUID `db:"run_id"`
	Item      string    `db:"item"`
	Store     string    `db:"store"`
	URL       string    `db:"url"`
	Verdict   string    `db:"verdict"`
	Reason    string    `db:"reason"`
	LowStock  bool      `db:"low_stock"`
	Attempts  int       `db:"attempts"`
	Alerted   bool      `db:"alerted"`
	CheckedAt time.Time `db:"checked_at"`
}

type HistoryRepository struct {
	db *DB
}

func NewHistoryRepository(db *DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

func (r *HistoryRepository) InsertWithTx(ctx context.Context, tx pgx.Tx, c *StockCheck) error {
	if c.Item == "" || c.Verdict == "" {
		return fmt.Errorf("stock check requires item and verdict")
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.CheckedAt.IsZero() {
		c.CheckedAt = time.Now()
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO stock_checks (
			id, run_id, item, store, url, verdict,
			reason, low_stock, attempts, alerted, checked_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		c.ID, c.RunID, c.Item, c.Store, c.URL, c.Verdict,
		c.Reason, c.LowStock, c.Attempts, c.Alerted, c.CheckedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert stock check: %w", err)
	}
	return nil
}

// Recent returns the newest checks of an item, newest first.
func (r *HistoryRepository) Recent(ctx context.Context, item string, limit int) ([]StockCheck, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT id, run_id, item, store, url, verdict,
			reason, low_stock, attempts, alerted, checked_at
		FROM stock_checks
		WHERE item = $1
		ORDER BY checked_at DESC
		LIMIT $2`, item, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query stock checks: %w", err)
	}

	checks, err := pgx.CollectRows(rows, pgx.RowToStructByName[StockCheck])
	if err != nil {
		return nil, fmt.Errorf("failed to scan stock checks: %w", err)
	}
	return checks, nil
}
