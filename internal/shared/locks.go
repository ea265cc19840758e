package shared

import "fmt"

// LedgerCheckLockKey builds the redis key guarding ledger verification for a business.
func LedgerCheckLockKey(businessID int64) string {
	return fmt.Sprintf("inventory:ledger-check:%d:lock", businessID)
}
