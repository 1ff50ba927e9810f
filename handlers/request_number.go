package handlers

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// NextRequestNumber allocates the next human-readable request number for the
// current year: REQ-<year>-<4-digit sequence>, unique and monotonically
// increasing per year. The upsert increments the per-year counter atomically
// so concurrent allocations never collide.
func NextRequestNumber(tx *gorm.DB, now time.Time) (string, error) {
	year := now.Year()

	var seq int
	err := tx.Raw(`
		INSERT INTO request_sequences (year, last_seq)
		VALUES (?, 1)
		ON CONFLICT (year)
		DO UPDATE SET last_seq = request_sequences.last_seq + 1
		RETURNING last_seq`, year).Scan(&seq).Error
	if err != nil {
		return "", fmt.Errorf("failed to allocate request sequence: %w", err)
	}

	return fmt.Sprintf("REQ-%d-%04d", year, seq), nil
}
