// Package sequence issues human-readable document numbers that are unique and
// strictly increasing per business and document type.
package sequence

import (
	"context"
	"fmt"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/shared"
)

// DocumentType identifies a numbered document family.
type DocumentType string

const (
	DocPurchaseOrder DocumentType = "PO"
	DocReceipt       DocumentType = "GRN"
	DocSalesOrder    DocumentType = "SO"
)

// Counter atomically increments and returns the counter for (business, document type).
type Counter interface {
	Increment(ctx context.Context, businessID int64, docType DocumentType) (int64, error)
}

// Sequencer formats counter values into document numbers.
type Sequencer struct {
	counter Counter
	width   int
}

// NewSequencer builds a Sequencer. Numbers are zero padded to width digits.
func NewSequencer(counter Counter, width int) *Sequencer {
	if width <= 0 {
		width = 6
	}
	return &Sequencer{counter: counter, width: width}
}

// Next returns the next number, e.g. PO-000042.
func (s *Sequencer) Next(ctx context.Context, businessID int64, docType DocumentType) (string, error) {
	if businessID <= 0 || docType == "" {
		return "", fmt.Errorf("%w: business and document type required", shared.ErrValidation)
	}
	value, err := s.counter.Increment(ctx, businessID, docType)
	if err != nil {
		return "", fmt.Errorf("sequence: next %s: %w", docType, err)
	}
	return Format(docType, value, s.width), nil
}

// Format renders a counter value. Values wider than width keep all digits and
// are never truncated, so numbers stay unique, but string order only matches
// issue order while values fit in width. Order documents by ID or created_at,
// not by number.
func Format(docType DocumentType, value int64, width int) string {
	return fmt.Sprintf("%s-%0*d", docType, width, value)
}
