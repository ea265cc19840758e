package sequence

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresCounter keeps one row per (business, document type) and increments
// it with a single upsert, which serialises concurrent callers on the row lock.
// It runs outside the caller's transaction so a rolled back document leaves a gap
// instead of holding the counter row locked.
type PostgresCounter struct {
	pool *pgxpool.Pool
}

// NewPostgresCounter constructs PostgresCounter.
func NewPostgresCounter(pool *pgxpool.Pool) *PostgresCounter {
	return &PostgresCounter{pool: pool}
}

// Increment implements Counter.
func (c *PostgresCounter) Increment(ctx context.Context, businessID int64, docType DocumentType) (int64, error) {
	var value int64
	err := c.pool.QueryRow(ctx, `INSERT INTO document_sequences (business_id, doc_type, last_value, updated_at)
VALUES ($1, $2, 1, NOW())
ON CONFLICT (business_id, doc_type) DO UPDATE SET last_value = document_sequences.last_value + 1, updated_at = NOW()
RETURNING last_value`, businessID, string(docType)).Scan(&value)
	return value, err
}
