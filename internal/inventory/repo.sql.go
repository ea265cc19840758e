package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/outbox"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/platform/db"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/shared"
)

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool   *pgxpool.Pool
	runner *db.TxRunner
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool, runner *db.TxRunner) *Repository {
	return &Repository{pool: pool, runner: runner}
}

// TxStore implements TxRepository on top of an open transaction.
type TxStore struct {
	tx pgx.Tx
}

// NewTxStore wraps tx. Other packages use it to touch stock inside their own transactions.
func NewTxStore(tx pgx.Tx) *TxStore {
	return &TxStore{tx: tx}
}

// WithTx executes the callback inside a retrying repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
	}
	return r.runner.Run(ctx, func(tx pgx.Tx) error {
		return fn(ctx, NewTxStore(tx))
	})
}

const productColumns = `id, business_id, sku, name, current_stock, minimum_stock_level, cost_per_unit, version, created_at, updated_at`

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.BusinessID, &p.SKU, &p.Name, &p.CurrentStock, &p.MinimumStockLevel, &p.CostPerUnit, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrProductNotFound
	}
	return p, err
}

// InsertProduct creates a product row.
func (r *Repository) InsertProduct(ctx context.Context, product Product) (Product, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO products (business_id, sku, name, current_stock, minimum_stock_level, cost_per_unit, version)
VALUES ($1,$2,$3,0,$4,$5,1) RETURNING `+productColumns, product.BusinessID, product.SKU, product.Name, product.MinimumStockLevel, product.CostPerUnit)
	created, err := scanProduct(row)
	if err != nil && shared.IsUniqueViolation(err) {
		return Product{}, ErrDuplicateSKU
	}
	return created, err
}

// GetProduct loads a product scoped to a business.
func (r *Repository) GetProduct(ctx context.Context, businessID, productID int64) (Product, error) {
	return scanProduct(r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE business_id=$1 AND id=$2`, businessID, productID))
}

// ListLowStock lists products at or below their minimum level.
func (r *Repository) ListLowStock(ctx context.Context, businessID int64, limit int) ([]Product, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+productColumns+` FROM products
WHERE business_id=$1 AND current_stock <= minimum_stock_level
ORDER BY current_stock - minimum_stock_level ASC, id ASC
LIMIT $2`, businessID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	products := []Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// ListProductIDs lists product ids of a business.
func (r *Repository) ListProductIDs(ctx context.Context, businessID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM products WHERE business_id=$1 ORDER BY id`, businessID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

// ListBusinessIDs lists businesses that own products.
func (r *Repository) ListBusinessIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT business_id FROM products ORDER BY business_id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

const movementColumns = `id, business_id, product_id, movement_type, quantity, previous_stock, new_stock, reference_type, reference_id, reference_line_id, actor_id, note, created_at`

func scanMovement(row pgx.Row) (StockMovement, error) {
	var m StockMovement
	var refID, refLineID *int64
	err := row.Scan(&m.ID, &m.BusinessID, &m.ProductID, &m.Type, &m.Quantity, &m.PreviousStock, &m.NewStock, &m.Reference.Type, &refID, &refLineID, &m.ActorID, &m.Note, &m.CreatedAt)
	if refID != nil {
		m.Reference.ID = *refID
	}
	if refLineID != nil {
		m.Reference.LineID = *refLineID
	}
	return m, err
}

// ListMovements lists movement history for a product.
func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]StockMovement, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+movementColumns+` FROM stock_movements
WHERE business_id=$1 AND product_id=$2 AND created_at BETWEEN COALESCE($3, '-infinity'::timestamptz) AND COALESCE($4, 'infinity'::timestamptz)
ORDER BY id ASC
LIMIT $5`, filter.BusinessID, filter.ProductID, filter.From, filter.To, filter.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMovements(rows)
}

// LedgerSnapshot reads the product and all of its movements in one repeatable-read transaction.
func (r *Repository) LedgerSnapshot(ctx context.Context, businessID, productID int64) (Product, []StockMovement, error) {
	var product Product
	var movements []StockMovement
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var err error
		product, err = scanProduct(tx.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE business_id=$1 AND id=$2`, businessID, productID))
		if err != nil {
			return err
		}
		rows, err := tx.Query(ctx, `SELECT `+movementColumns+` FROM stock_movements WHERE product_id=$1 ORDER BY id ASC`, productID)
		if err != nil {
			return err
		}
		defer rows.Close()
		movements, err = collectMovements(rows)
		return err
	})
	return product, movements, err
}

func collectMovements(rows pgx.Rows) ([]StockMovement, error) {
	movements := []StockMovement{}
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

// GetProductForUpdate locks the product row.
func (s *TxStore) GetProductForUpdate(ctx context.Context, businessID, productID int64) (Product, error) {
	return scanProduct(s.tx.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE business_id=$1 AND id=$2 FOR UPDATE`, businessID, productID))
}

// UpdateProductStock writes the new stock if the version still matches.
func (s *TxStore) UpdateProductStock(ctx context.Context, productID int64, newStock decimal.Decimal, expectedVersion int64) error {
	tag, err := s.tx.Exec(ctx, `UPDATE products SET current_stock=$2, version=version+1, updated_at=NOW() WHERE id=$1 AND version=$3`, productID, newStock, expectedVersion)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: product %d", ErrVersionConflict, productID)
	}
	return nil
}

// ClaimProduct bumps the version of a locked product row.
func (s *TxStore) ClaimProduct(ctx context.Context, productID, expectedVersion int64) error {
	tag, err := s.tx.Exec(ctx, `UPDATE products SET version=version+1, updated_at=NOW() WHERE id=$1 AND version=$2`, productID, expectedVersion)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: product %d", ErrVersionConflict, productID)
	}
	return nil
}

// InsertMovement appends the ledger row.
func (s *TxStore) InsertMovement(ctx context.Context, m StockMovement) (StockMovement, error) {
	err := s.tx.QueryRow(ctx, `INSERT INTO stock_movements (business_id, product_id, movement_type, quantity, previous_stock, new_stock, reference_type, reference_id, reference_line_id, actor_id, note, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12) RETURNING id`, m.BusinessID, m.ProductID, string(m.Type), m.Quantity, m.PreviousStock, m.NewStock, string(m.Reference.Type), nullInt(m.Reference.ID), nullInt(m.Reference.LineID), m.ActorID, m.Note, m.CreatedAt).Scan(&m.ID)
	return m, err
}

// ProductsExist fails with NotFound unless every product belongs to the business.
func (s *TxStore) ProductsExist(ctx context.Context, businessID int64, productIDs []int64) error {
	if len(productIDs) == 0 {
		return nil
	}
	seen := make(map[int64]struct{}, len(productIDs))
	ids := make([]int64, 0, len(productIDs))
	for _, id := range productIDs {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	var found int
	if err := s.tx.QueryRow(ctx, `SELECT count(*) FROM products WHERE business_id=$1 AND id = ANY($2)`, businessID, ids).Scan(&found); err != nil {
		return err
	}
	if found != len(ids) {
		return ErrProductNotFound
	}
	return nil
}

// Events exposes the outbox writer bound to the same transaction.
func (s *TxStore) Events() outbox.Writer {
	return outbox.NewTxWriter(s.tx)
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}
