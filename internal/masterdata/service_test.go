package masterdata

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/shared"
)

type memoryRepo struct {
	suppliers map[int64]Supplier
	customers map[int64]Customer
	nextID    int64
}

func (r *memoryRepo) InsertSupplier(ctx context.Context, s Supplier) (Supplier, error) {
	r.nextID++
	s.ID = r.nextID
	r.suppliers[s.ID] = s
	return s, nil
}

func (r *memoryRepo) InsertCustomer(ctx context.Context, c Customer) (Customer, error) {
	r.nextID++
	c.ID = r.nextID
	r.customers[c.ID] = c
	return c, nil
}

func (r *memoryRepo) GetSupplier(ctx context.Context, businessID, id int64) (Supplier, error) {
	s, ok := r.suppliers[id]
	if !ok || s.BusinessID != businessID {
		return Supplier{}, ErrSupplierNotFound
	}
	return s, nil
}

func (r *memoryRepo) GetCustomer(ctx context.Context, businessID, id int64) (Customer, error) {
	c, ok := r.customers[id]
	if !ok || c.BusinessID != businessID {
		return Customer{}, ErrCustomerNotFound
	}
	return c, nil
}

func TestDirectoryScopesByBusiness(t *testing.T) {
	dir := NewDirectory(&memoryRepo{suppliers: map[int64]Supplier{}, customers: map[int64]Customer{}})
	ctx := context.Background()
	scope := shared.Scope{BusinessID: 1, Actor: shared.Actor{ID: 1}}

	sup, err := dir.CreateSupplier(ctx, scope, " Acme Metals ")
	require.NoError(t, err)
	require.Equal(t, "Acme Metals", sup.Name)
	require.NoError(t, dir.SupplierExists(ctx, 1, sup.ID))
	require.ErrorIs(t, dir.SupplierExists(ctx, 2, sup.ID), shared.ErrNotFound)

	cust, err := dir.CreateCustomer(ctx, scope, "Corner Shop")
	require.NoError(t, err)
	require.NoError(t, dir.CustomerExists(ctx, 1, cust.ID))
	require.ErrorIs(t, dir.CustomerExists(ctx, 1, 999), shared.ErrNotFound)

	_, err = dir.CreateSupplier(ctx, scope, "   ")
	require.ErrorIs(t, err, shared.ErrValidation)
}
