// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the aggregate queries behind the
// account balance and the append-only credit tables.
package repo

import (
	"context"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/tbourn/canteen-backend/internal/domain"
)

// SumDeposits returns the sum of all deposits of userID.
func SumDeposits(ctx context.Context, db *gorm.DB, userID uint) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := db.WithContext(ctx).
		Model(&domain.Deposit{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("user_id = ?", userID).
		Row().Scan(&total)
	return total.Round(2), err
}

// SumSubsidyCredits returns the sum of subsidy-program credits of userID.
func SumSubsidyCredits(ctx context.Context, db *gorm.DB, userID uint) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := db.WithContext(ctx).
		Model(&domain.SubsidyCredit{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("user_id = ?", userID).
		Row().Scan(&total)
	return total.Round(2), err
}

// SumCharges returns Σ quantity × price over the user's order items whose
// order is in a charging status.
func SumCharges(ctx context.Context, db *gorm.DB, userID uint) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := db.WithContext(ctx).
		Model(&domain.OrderItem{}).
		Select("COALESCE(SUM(order_items.quantity * order_items.price), 0)").
		Joins("JOIN orders ON orders.id = order_items.order_id").
		Where("orders.user_id = ? AND orders.status IN ?", userID, domain.ChargingStatuses()).
		Row().Scan(&total)
	return total.Round(2), err
}

// CreateDeposit appends a deposit row.
func CreateDeposit(ctx context.Context, db *gorm.DB, d *domain.Deposit) error {
	return db.WithContext(ctx).Create(d).Error
}

// GetDeposit fetches one deposit by id.
func GetDeposit(ctx context.Context, db *gorm.DB, id uint) (*domain.Deposit, error) {
	var d domain.Deposit
	if err := db.WithContext(ctx).First(&d, id).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

// ListDeposits returns the most recent deposits of userID.
func ListDeposits(ctx context.Context, db *gorm.DB, userID uint, limit int) ([]domain.Deposit, error) {
	var out []domain.Deposit
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc").Order("id desc").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CreateRecalculationLog stores a recalculation summary with its details.
func CreateRecalculationLog(ctx context.Context, tx *gorm.DB, l *domain.PriceRecalculationLog) error {
	return tx.WithContext(ctx).Create(l).Error
}

// UpdateOrderItemPrice overwrites the frozen unit price of one item.
func UpdateOrderItemPrice(ctx context.Context, tx *gorm.DB, id uint, price decimal.Decimal) error {
	return tx.WithContext(ctx).
		Model(&domain.OrderItem{}).
		Where("id = ?", id).
		Update("price", price).Error
}
