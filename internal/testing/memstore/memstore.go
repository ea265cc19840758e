// Package memstore is an in-memory implementation of every repository port in
// the fulfillment core. Transactions are serialized by one mutex, which stands
// in for row locks, and a failed callback restores the pre-transaction
// snapshot.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/inventory"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/masterdata"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/outbox"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/platform/db"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/procurement"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/reconcile"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/sales"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/sequence"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/shared"
	_ "github.com/odyssey-erp/odyssey-fulfillment/internal/testing/guard"
)

type state struct {
	products    map[int64]inventory.Product
	movements   []inventory.StockMovement
	suppliers   map[int64]masterdata.Supplier
	customers   map[int64]masterdata.Customer
	orders      map[int64]procurement.PurchaseOrder
	receipts    map[int64]procurement.Receipt
	sales       map[int64]sales.SalesOrder
	events      []outbox.Event
	audit       []shared.AuditLog
	idempotency map[string]string
	counters    map[string]int64
	nextID      int64
}

func newState() state {
	return state{
		products:    make(map[int64]inventory.Product),
		suppliers:   make(map[int64]masterdata.Supplier),
		customers:   make(map[int64]masterdata.Customer),
		orders:      make(map[int64]procurement.PurchaseOrder),
		receipts:    make(map[int64]procurement.Receipt),
		sales:       make(map[int64]sales.SalesOrder),
		idempotency: make(map[string]string),
		counters:    make(map[string]int64),
	}
}

func (s state) clone() state {
	c := newState()
	for k, v := range s.products {
		c.products[k] = v
	}
	c.movements = append([]inventory.StockMovement(nil), s.movements...)
	for k, v := range s.suppliers {
		c.suppliers[k] = v
	}
	for k, v := range s.customers {
		c.customers[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = clonePO(v)
	}
	for k, v := range s.receipts {
		c.receipts[k] = cloneReceipt(v)
	}
	for k, v := range s.sales {
		c.sales[k] = cloneSalesOrder(v)
	}
	c.events = append([]outbox.Event(nil), s.events...)
	c.audit = append([]shared.AuditLog(nil), s.audit...)
	for k, v := range s.idempotency {
		c.idempotency[k] = v
	}
	for k, v := range s.counters {
		c.counters[k] = v
	}
	c.nextID = s.nextID
	return c
}

func clonePO(po procurement.PurchaseOrder) procurement.PurchaseOrder {
	po.Lines = append([]procurement.PurchaseOrderLine(nil), po.Lines...)
	return po
}

func cloneReceipt(r procurement.Receipt) procurement.Receipt {
	r.Lines = append([]procurement.ReceiptLine(nil), r.Lines...)
	return r
}

func cloneSalesOrder(o sales.SalesOrder) sales.SalesOrder {
	o.Lines = append([]sales.SalesOrderLine(nil), o.Lines...)
	return o
}

// Store holds all data in memory.
type Store struct {
	mu          sync.Mutex
	data        state
	failCommits int
	staleClaims int
	attempts    int
	now         func() time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{data: newState(), now: func() time.Time { return time.Now().UTC() }}
}

// FailCommits makes the next n transactions fail at commit with a concurrency
// conflict so callers exercise their retry path.
func (s *Store) FailCommits(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCommits = n
}

// StaleProductClaims makes the next n product claims find the row moved by
// another writer since it was read, as a concurrent commit would.
func (s *Store) StaleProductClaims(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staleClaims = n
}

// Attempts reports how many transactions were started.
func (s *Store) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func (s *Store) id() int64 {
	s.data.nextID++
	return s.data.nextID
}

func (s *Store) run(ctx context.Context, fn func(*Tx) error) error {
	return db.Retry(ctx, db.DefaultMaxAttempts, time.Millisecond, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.attempts++
		snapshot := s.data.clone()
		err := fn(&Tx{store: s})
		if err == nil && s.failCommits > 0 {
			s.failCommits--
			err = fmt.Errorf("%w: injected commit failure", shared.ErrConcurrencyConflict)
		}
		if err != nil {
			s.data = snapshot
		}
		return err
	})
}

// Inventory adapts the store to inventory.RepositoryPort.
func (s *Store) Inventory() inventory.RepositoryPort { return inventoryRepo{s} }

// Procurement adapts the store to procurement.RepositoryPort.
func (s *Store) Procurement() procurement.RepositoryPort { return procurementRepo{s} }

// Sales adapts the store to sales.RepositoryPort.
func (s *Store) Sales() sales.RepositoryPort { return salesRepo{s} }

// UnitOfWork adapts the store to reconcile.UnitOfWork.
func (s *Store) UnitOfWork() reconcile.UnitOfWork { return unitOfWork{s} }

type inventoryRepo struct{ *Store }

func (r inventoryRepo) WithTx(ctx context.Context, fn func(context.Context, inventory.TxRepository) error) error {
	return r.run(ctx, func(tx *Tx) error { return fn(ctx, tx) })
}

type procurementRepo struct{ *Store }

func (r procurementRepo) WithTx(ctx context.Context, fn func(context.Context, procurement.TxRepository) error) error {
	return r.run(ctx, func(tx *Tx) error { return fn(ctx, tx) })
}

type salesRepo struct{ *Store }

func (r salesRepo) WithTx(ctx context.Context, fn func(context.Context, sales.TxRepository) error) error {
	return r.run(ctx, func(tx *Tx) error { return fn(ctx, tx) })
}

type unitOfWork struct{ *Store }

func (u unitOfWork) WithTx(ctx context.Context, fn func(context.Context, reconcile.TxRepository) error) error {
	return u.run(ctx, func(tx *Tx) error { return fn(ctx, tx) })
}

// Products

// InsertProduct stores a product; SKUs are unique per business.
func (s *Store) InsertProduct(ctx context.Context, p inventory.Product) (inventory.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.data.products {
		if existing.BusinessID == p.BusinessID && existing.SKU == p.SKU {
			return inventory.Product{}, inventory.ErrDuplicateSKU
		}
	}
	p.ID = s.id()
	if p.Version == 0 {
		p.Version = 1
	}
	p.CreatedAt, p.UpdatedAt = s.now(), s.now()
	s.data.products[p.ID] = p
	return p, nil
}

// GetProduct returns a product in scope.
func (s *Store) GetProduct(ctx context.Context, businessID, productID int64) (inventory.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.product(businessID, productID)
}

func (s *Store) product(businessID, productID int64) (inventory.Product, error) {
	p, ok := s.data.products[productID]
	if !ok || p.BusinessID != businessID {
		return inventory.Product{}, inventory.ErrProductNotFound
	}
	return p, nil
}

// ListMovements lists movements of a product in creation order.
func (s *Store) ListMovements(ctx context.Context, filter inventory.MovementFilter) ([]inventory.StockMovement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []inventory.StockMovement
	for _, m := range s.data.movements {
		if m.BusinessID != filter.BusinessID || m.ProductID != filter.ProductID {
			continue
		}
		if filter.From != nil && m.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && m.CreatedAt.After(*filter.To) {
			continue
		}
		out = append(out, m)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

// ListLowStock lists products at or below their minimum level.
func (s *Store) ListLowStock(ctx context.Context, businessID int64, limit int) ([]inventory.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []inventory.Product
	for _, p := range s.data.products {
		if p.BusinessID == businessID && p.LowStock() {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListProductIDs lists product ids of a business.
func (s *Store) ListProductIDs(ctx context.Context, businessID int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for id, p := range s.data.products {
		if p.BusinessID == businessID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// ListBusinessIDs lists businesses owning products.
func (s *Store) ListBusinessIDs(ctx context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[int64]bool)
	var ids []int64
	for _, p := range s.data.products {
		if !seen[p.BusinessID] {
			seen[p.BusinessID] = true
			ids = append(ids, p.BusinessID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// LedgerSnapshot returns a product with its full movement history.
func (s *Store) LedgerSnapshot(ctx context.Context, businessID, productID int64) (inventory.Product, []inventory.StockMovement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.product(businessID, productID)
	if err != nil {
		return inventory.Product{}, nil, err
	}
	var out []inventory.StockMovement
	for _, m := range s.data.movements {
		if m.ProductID == productID {
			out = append(out, m)
		}
	}
	return p, out, nil
}

// Movements returns every movement of a product.
func (s *Store) Movements(productID int64) []inventory.StockMovement {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []inventory.StockMovement
	for _, m := range s.data.movements {
		if m.ProductID == productID {
			out = append(out, m)
		}
	}
	return out
}

// SetStock overwrites a product's stock without a movement. Tests use it to
// simulate drift.
func (s *Store) SetStock(productID int64, stock decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.data.products[productID]
	p.CurrentStock = stock
	s.data.products[productID] = p
}

// Directory

// InsertSupplier stores a supplier.
func (s *Store) InsertSupplier(ctx context.Context, sup masterdata.Supplier) (masterdata.Supplier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sup.ID = s.id()
	sup.CreatedAt = s.now()
	s.data.suppliers[sup.ID] = sup
	return sup, nil
}

// InsertCustomer stores a customer.
func (s *Store) InsertCustomer(ctx context.Context, c masterdata.Customer) (masterdata.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.ID = s.id()
	c.CreatedAt = s.now()
	s.data.customers[c.ID] = c
	return c, nil
}

// GetSupplier returns a supplier in scope.
func (s *Store) GetSupplier(ctx context.Context, businessID, id int64) (masterdata.Supplier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sup, ok := s.data.suppliers[id]
	if !ok || sup.BusinessID != businessID {
		return masterdata.Supplier{}, masterdata.ErrSupplierNotFound
	}
	return sup, nil
}

// GetCustomer returns a customer in scope.
func (s *Store) GetCustomer(ctx context.Context, businessID, id int64) (masterdata.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.data.customers[id]
	if !ok || c.BusinessID != businessID {
		return masterdata.Customer{}, masterdata.ErrCustomerNotFound
	}
	return c, nil
}

// Procurement reads

// GetPurchaseOrder returns an order in scope.
func (s *Store) GetPurchaseOrder(ctx context.Context, businessID, id int64) (procurement.PurchaseOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.purchaseOrder(businessID, id)
}

func (s *Store) purchaseOrder(businessID, id int64) (procurement.PurchaseOrder, error) {
	po, ok := s.data.orders[id]
	if !ok || po.BusinessID != businessID {
		return procurement.PurchaseOrder{}, procurement.ErrPurchaseOrderNotFound
	}
	return clonePO(po), nil
}

// ListPurchaseOrders lists orders newest first.
func (s *Store) ListPurchaseOrders(ctx context.Context, filter procurement.POFilter) ([]procurement.PurchaseOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []procurement.PurchaseOrder
	for _, po := range s.data.orders {
		if po.BusinessID != filter.BusinessID {
			continue
		}
		if filter.Status != "" && po.Status != filter.Status {
			continue
		}
		if filter.SupplierID != 0 && po.SupplierID != filter.SupplierID {
			continue
		}
		out = append(out, clonePO(po))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return page(out, filter.Offset, filter.Limit), nil
}

// GetReceipt returns a receipt in scope.
func (s *Store) GetReceipt(ctx context.Context, businessID, id int64) (procurement.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.receipt(businessID, id)
}

func (s *Store) receipt(businessID, id int64) (procurement.Receipt, error) {
	r, ok := s.data.receipts[id]
	if !ok || r.BusinessID != businessID {
		return procurement.Receipt{}, procurement.ErrReceiptNotFound
	}
	return cloneReceipt(r), nil
}

// ListReceipts lists receipts of an order.
func (s *Store) ListReceipts(ctx context.Context, businessID, purchaseOrderID int64) ([]procurement.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []procurement.Receipt
	for _, r := range s.data.receipts {
		if r.BusinessID == businessID && r.PurchaseOrderID == purchaseOrderID {
			out = append(out, cloneReceipt(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Sales reads

// GetSalesOrder returns an order in scope.
func (s *Store) GetSalesOrder(ctx context.Context, businessID, id int64) (sales.SalesOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.salesOrder(businessID, id)
}

func (s *Store) salesOrder(businessID, id int64) (sales.SalesOrder, error) {
	o, ok := s.data.sales[id]
	if !ok || o.BusinessID != businessID {
		return sales.SalesOrder{}, sales.ErrSalesOrderNotFound
	}
	return cloneSalesOrder(o), nil
}

// ListSalesOrders lists orders newest first.
func (s *Store) ListSalesOrders(ctx context.Context, filter sales.Filter) ([]sales.SalesOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []sales.SalesOrder
	for _, o := range s.data.sales {
		if o.BusinessID != filter.BusinessID {
			continue
		}
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		if filter.CustomerID != 0 && o.CustomerID != filter.CustomerID {
			continue
		}
		out = append(out, cloneSalesOrder(o))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return page(out, filter.Offset, filter.Limit), nil
}

func page[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

// Sequence, audit, idempotency and outbox

// Increment implements sequence.Counter.
func (s *Store) Increment(ctx context.Context, businessID int64, docType sequence.DocumentType) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := fmt.Sprintf("%d:%s", businessID, docType)
	s.data.counters[key]++
	return s.data.counters[key], nil
}

// Record implements the audit port.
func (s *Store) Record(ctx context.Context, log shared.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if log.At.IsZero() {
		log.At = s.now()
	}
	s.data.audit = append(s.data.audit, log)
	return nil
}

// AuditLogs returns recorded audit entries.
func (s *Store) AuditLogs() []shared.AuditLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]shared.AuditLog(nil), s.data.audit...)
}

// CheckAndInsert implements the idempotency port.
func (s *Store) CheckAndInsert(ctx context.Context, businessID int64, key, module string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := fmt.Sprintf("%d:%s", businessID, key)
	if _, ok := s.data.idempotency[k]; ok {
		return shared.ErrIdempotencyConflict
	}
	s.data.idempotency[k] = module
	return nil
}

// Delete releases an idempotency key.
func (s *Store) Delete(ctx context.Context, businessID int64, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data.idempotency, fmt.Sprintf("%d:%s", businessID, key))
	return nil
}

// Events returns every outbox event in append order.
func (s *Store) Events() []outbox.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]outbox.Event(nil), s.data.events...)
}

// ClaimBatch implements outbox.Store.
func (s *Store) ClaimBatch(ctx context.Context, limit int, fn func(context.Context, []outbox.Event) error) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var idx []int
	for i, e := range s.data.events {
		if e.PublishedAt == nil {
			idx = append(idx, i)
			if len(idx) == limit {
				break
			}
		}
	}
	if len(idx) == 0 {
		return 0, nil
	}
	batch := make([]outbox.Event, 0, len(idx))
	for _, i := range idx {
		batch = append(batch, s.data.events[i])
	}
	if err := fn(ctx, batch); err != nil {
		for _, i := range idx {
			s.data.events[i].Attempts++
		}
		return 0, err
	}
	published := s.now()
	for _, i := range idx {
		s.data.events[i].PublishedAt = &published
	}
	return len(idx), nil
}
