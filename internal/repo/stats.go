// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate/statistics queries used
// primarily for conditional responses (e.g., ETag generation) in the HTTP
// layer.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// OrdersStats returns aggregate metadata for a user's active order items from
// date onwards: the number of rows and the greatest UpdatedAt among them.
//
// When the user has no such items, count is 0 and maxUpdatedAt is nil.
func OrdersStats(ctx context.Context, db *gorm.DB, userID uint, from string) (count int64, maxUpdatedAt *time.Time, err error) {
	if count, err = CountUserItems(ctx, db, userID, from); err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	err = userItemsQuery(ctx, db, userID, from).
		Select("order_items.updated_at").
		Order("order_items.updated_at DESC").
		Limit(1).
		Scan(&row).Error
	if err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}
