package masterdata

import (
	"fmt"
	"time"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/shared"
)

// Supplier is a company goods are bought from.
type Supplier struct {
	ID         int64     `json:"id"`
	BusinessID int64     `json:"businessId"`
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Customer is a party goods are sold to.
type Customer struct {
	ID         int64     `json:"id"`
	BusinessID int64     `json:"businessId"`
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"createdAt"`
}

var (
	// ErrSupplierNotFound indicates the supplier is unknown in the business.
	ErrSupplierNotFound = fmt.Errorf("%w: supplier", shared.ErrNotFound)
	// ErrCustomerNotFound indicates the customer is unknown in the business.
	ErrCustomerNotFound = fmt.Errorf("%w: customer", shared.ErrNotFound)
)
