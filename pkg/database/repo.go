package database

import (
	"context"

	"gorm.io/gorm"
)

// AddFindings inserts all findings of one session in a single transaction.
func AddFindings(ctx context.Context, db *gorm.DB, findings []*Finding) error {
	if len(findings) == 0 {
		return nil
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(findings).Error
	})
}
