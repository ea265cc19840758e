package masterdata

import (
	"context"
	"fmt"
	"strings"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/shared"
)

// RepositoryPort is the storage used by Directory.
type RepositoryPort interface {
	InsertSupplier(ctx context.Context, s Supplier) (Supplier, error)
	InsertCustomer(ctx context.Context, c Customer) (Customer, error)
	GetSupplier(ctx context.Context, businessID, id int64) (Supplier, error)
	GetCustomer(ctx context.Context, businessID, id int64) (Customer, error)
}

// Directory resolves supplier and customer references. The fulfillment core reads it but never mutates it.
type Directory struct {
	repo RepositoryPort
}

// NewDirectory constructs Directory.
func NewDirectory(repo RepositoryPort) *Directory {
	return &Directory{repo: repo}
}

// CreateSupplier registers a supplier.
func (d *Directory) CreateSupplier(ctx context.Context, scope shared.Scope, name string) (Supplier, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Supplier{}, fmt.Errorf("%w: supplier name required", shared.ErrValidation)
	}
	return d.repo.InsertSupplier(ctx, Supplier{BusinessID: scope.BusinessID, Name: name})
}

// CreateCustomer registers a customer.
func (d *Directory) CreateCustomer(ctx context.Context, scope shared.Scope, name string) (Customer, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Customer{}, fmt.Errorf("%w: customer name required", shared.ErrValidation)
	}
	return d.repo.InsertCustomer(ctx, Customer{BusinessID: scope.BusinessID, Name: name})
}

// SupplierExists returns ErrSupplierNotFound unless the supplier belongs to the business.
func (d *Directory) SupplierExists(ctx context.Context, businessID, supplierID int64) error {
	_, err := d.repo.GetSupplier(ctx, businessID, supplierID)
	return err
}

// CustomerExists returns ErrCustomerNotFound unless the customer belongs to the business.
func (d *Directory) CustomerExists(ctx context.Context, businessID, customerID int64) error {
	_, err := d.repo.GetCustomer(ctx, businessID, customerID)
	return err
}
