package masterdata

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads and writes suppliers and customers.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InsertSupplier stores a supplier.
func (r *Repository) InsertSupplier(ctx context.Context, s Supplier) (Supplier, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO suppliers (business_id, name) VALUES ($1,$2) RETURNING id, created_at`, s.BusinessID, s.Name).Scan(&s.ID, &s.CreatedAt)
	return s, err
}

// InsertCustomer stores a customer.
func (r *Repository) InsertCustomer(ctx context.Context, c Customer) (Customer, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO customers (business_id, name) VALUES ($1,$2) RETURNING id, created_at`, c.BusinessID, c.Name).Scan(&c.ID, &c.CreatedAt)
	return c, err
}

// GetSupplier loads a supplier scoped to a business.
func (r *Repository) GetSupplier(ctx context.Context, businessID, id int64) (Supplier, error) {
	var s Supplier
	err := r.pool.QueryRow(ctx, `SELECT id, business_id, name, created_at FROM suppliers WHERE business_id=$1 AND id=$2`, businessID, id).
		Scan(&s.ID, &s.BusinessID, &s.Name, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Supplier{}, ErrSupplierNotFound
	}
	return s, err
}

// GetCustomer loads a customer scoped to a business.
func (r *Repository) GetCustomer(ctx context.Context, businessID, id int64) (Customer, error) {
	var c Customer
	err := r.pool.QueryRow(ctx, `SELECT id, business_id, name, created_at FROM customers WHERE business_id=$1 AND id=$2`, businessID, id).
		Scan(&c.ID, &c.BusinessID, &c.Name, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Customer{}, ErrCustomerNotFound
	}
	return c, err
}
