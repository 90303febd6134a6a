package store

import (
	"database/sql"
	"fmt"
)

// ErrInvariantViolation is returned when a row-locked UPDATE affects zero
// rows — the lock already proved the row exists, so this can only mean an
// invariant the store relies on elsewhere in the codebase has been broken.
// Per spec §7 this is an Operational failure, not a Conflict.
var ErrInvariantViolation = fmt.Errorf("store: invariant violation: locked row not updated")

// checkAffectedRows guards every UPDATE issued against a row this
// transaction already holds FOR UPDATE: a locked row that the subsequent
// UPDATE does not touch indicates a logic error, not a races condition.
func checkAffectedRows(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check affected rows: %w", err)
	}
	if rowsAffected == 0 {
		return ErrInvariantViolation
	}
	return nil
}
