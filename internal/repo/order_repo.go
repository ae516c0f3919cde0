// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for orders and
// order items.
//
// Functions named Lock* issue SELECT ... FOR UPDATE where the driver supports
// it and must be called on a transaction handle.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/canteen-backend/internal/domain"
)

// GetOrder fetches the order of userID for date with its items.
func GetOrder(ctx context.Context, db *gorm.DB, userID uint, date string) (*domain.Order, error) {
	var o domain.Order
	err := db.WithContext(ctx).
		Preload("Items").
		Where("user_id = ? AND service_date = ?", userID, date).
		First(&o).Error
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// GetOrderByID fetches an order with items and their menu items.
func GetOrderByID(ctx context.Context, db *gorm.DB, id uint) (*domain.Order, error) {
	var o domain.Order
	err := db.WithContext(ctx).
		Preload("Items.MenuItem.Meal").
		Preload("Items.MenuItem.FoodCategory").
		First(&o, id).Error
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// LockOrderByID locks and returns an order by id.
func LockOrderByID(ctx context.Context, tx *gorm.DB, id uint) (*domain.Order, error) {
	var o domain.Order
	if err := forUpdate(tx.WithContext(ctx)).First(&o, id).Error; err != nil {
		return nil, err
	}
	return &o, nil
}

// EnsureOrder makes sure the (user, date) order row exists, then locks and
// returns it. Concurrent callers converge on the same row: the losing insert
// is a no-op and both end up waiting on the row lock.
func EnsureOrder(ctx context.Context, tx *gorm.DB, userID uint, date string, status domain.OrderStatus) (*domain.Order, error) {
	o := &domain.Order{UserID: userID, ServiceDate: date, Status: status}
	err := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "service_date"}},
			DoNothing: true,
		}).
		Create(o).Error
	if err != nil {
		return nil, err
	}
	var locked domain.Order
	err = forUpdate(tx.WithContext(ctx)).
		Where("user_id = ? AND service_date = ?", userID, date).
		First(&locked).Error
	if err != nil {
		return nil, err
	}
	return &locked, nil
}

// LockOrder locks and returns the (user, date) order, or ErrNotFound.
func LockOrder(ctx context.Context, tx *gorm.DB, userID uint, date string) (*domain.Order, error) {
	var o domain.Order
	err := forUpdate(tx.WithContext(ctx)).
		Where("user_id = ? AND service_date = ?", userID, date).
		First(&o).Error
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// UpdateOrder persists status and bookkeeping columns of o.
func UpdateOrder(ctx context.Context, tx *gorm.DB, o *domain.Order) error {
	return tx.WithContext(ctx).
		Model(o).
		Select("status", "issued_at", "cancelled_by_id", "cancelled_at", "updated_at").
		Updates(o).Error
}

// DeleteOrder removes an order and its items.
func DeleteOrder(ctx context.Context, tx *gorm.DB, id uint) error {
	if err := DeleteOrderItems(ctx, tx, id); err != nil {
		return err
	}
	return tx.WithContext(ctx).Delete(&domain.Order{}, id).Error
}

// GetOrderItem returns the item for (order, menu item), or ErrNotFound.
func GetOrderItem(ctx context.Context, db *gorm.DB, orderID, menuItemID uint) (*domain.OrderItem, error) {
	var it domain.OrderItem
	err := db.WithContext(ctx).
		Where("order_id = ? AND menu_item_id = ?", orderID, menuItemID).
		First(&it).Error
	if err != nil {
		return nil, err
	}
	return &it, nil
}

// GetOrderItemByID fetches an order item together with its order.
func GetOrderItemByID(ctx context.Context, db *gorm.DB, id uint) (*domain.OrderItem, error) {
	var it domain.OrderItem
	if err := db.WithContext(ctx).Preload("Order").First(&it, id).Error; err != nil {
		return nil, err
	}
	return &it, nil
}

// LockOrderItemByID locks and returns an order item by id.
func LockOrderItemByID(ctx context.Context, tx *gorm.DB, id uint) (*domain.OrderItem, error) {
	var it domain.OrderItem
	if err := forUpdate(tx.WithContext(ctx)).First(&it, id).Error; err != nil {
		return nil, err
	}
	return &it, nil
}

// ListOrderItems returns all items of an order.
func ListOrderItems(ctx context.Context, db *gorm.DB, orderID uint) ([]domain.OrderItem, error) {
	var out []domain.OrderItem
	err := db.WithContext(ctx).Where("order_id = ?", orderID).Order("id").Find(&out).Error
	return out, err
}

// SaveOrderItem inserts or updates an order item.
func SaveOrderItem(ctx context.Context, tx *gorm.DB, it *domain.OrderItem) error {
	return tx.WithContext(ctx).Save(it).Error
}

// DeleteOrderItem removes one order item.
func DeleteOrderItem(ctx context.Context, tx *gorm.DB, id uint) error {
	return tx.WithContext(ctx).Delete(&domain.OrderItem{}, id).Error
}

// DeleteOrderItems removes every item of an order.
func DeleteOrderItems(ctx context.Context, tx *gorm.DB, orderID uint) error {
	return tx.WithContext(ctx).Where("order_id = ?", orderID).Delete(&domain.OrderItem{}).Error
}

// CountOrderItems counts the items of an order.
func CountOrderItems(ctx context.Context, db *gorm.DB, orderID uint) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.OrderItem{}).Where("order_id = ?", orderID).Count(&n).Error
	return n, err
}

// FindUserItem returns the item of menuItemID in the user's order for date,
// or ErrNotFound. Cancelled orders are ignored.
func FindUserItem(ctx context.Context, db *gorm.DB, userID uint, date string, menuItemID uint) (*domain.OrderItem, error) {
	var it domain.OrderItem
	err := db.WithContext(ctx).
		Joins("JOIN orders ON orders.id = order_items.order_id").
		Where("orders.user_id = ? AND orders.service_date = ? AND order_items.menu_item_id = ?", userID, date, menuItemID).
		Where("orders.status IN ?", domain.ChargingStatuses()).
		Preload("Order").
		First(&it).Error
	if err != nil {
		return nil, err
	}
	return &it, nil
}

// SumCategoryQuantity sums the quantity the user already holds for date in
// one food category, across all active orders.
func SumCategoryQuantity(ctx context.Context, db *gorm.DB, userID uint, date string, categoryID uint) (int, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.OrderItem{}).
		Select("COALESCE(SUM(order_items.quantity), 0)").
		Joins("JOIN orders ON orders.id = order_items.order_id").
		Joins("JOIN menu_items ON menu_items.id = order_items.menu_item_id").
		Where("orders.user_id = ? AND orders.service_date = ? AND menu_items.food_category_id = ?", userID, date, categoryID).
		Where("orders.status IN ?", domain.ChargingStatuses()).
		Row().Scan(&total)
	return int(total), err
}

// CountUserItems counts the user's active order items from date onwards.
func CountUserItems(ctx context.Context, db *gorm.DB, userID uint, from string) (int64, error) {
	var n int64
	err := userItemsQuery(ctx, db, userID, from).Count(&n).Error
	return n, err
}

// ListUserItemsPage returns a page of the user's active order items from date
// onwards, earliest service date first.
func ListUserItemsPage(ctx context.Context, db *gorm.DB, userID uint, from string, offset, limit int) ([]domain.OrderItem, error) {
	var out []domain.OrderItem
	err := userItemsQuery(ctx, db, userID, from).
		Preload("Order").
		Preload("MenuItem.Meal").
		Preload("MenuItem.FoodCategory").
		Order("orders.service_date, order_items.id").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

func userItemsQuery(ctx context.Context, db *gorm.DB, userID uint, from string) *gorm.DB {
	return db.WithContext(ctx).
		Model(&domain.OrderItem{}).
		Joins("JOIN orders ON orders.id = order_items.order_id").
		Where("orders.user_id = ? AND orders.service_date >= ?", userID, from).
		Where("orders.status IN ?", domain.ChargingStatuses())
}

// ListItemsInRange returns every active order item with a service date in
// [from, to], with its order and menu item preloaded.
func ListItemsInRange(ctx context.Context, db *gorm.DB, from, to string) ([]domain.OrderItem, error) {
	var out []domain.OrderItem
	err := db.WithContext(ctx).
		Joins("JOIN orders ON orders.id = order_items.order_id").
		Where("orders.service_date BETWEEN ? AND ?", from, to).
		Where("orders.status IN ?", domain.ChargingStatuses()).
		Preload("Order").
		Preload("MenuItem.FoodCategory").
		Preload("MenuItem.Meal").
		Order("orders.user_id, orders.service_date, order_items.id").
		Find(&out).Error
	return out, err
}

// MarkOrdersUnclaimed moves open orders served on or before through to
// unclaimed and returns the number of orders changed.
func MarkOrdersUnclaimed(ctx context.Context, db *gorm.DB, through string) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.Order{}).
		Where("service_date <= ? AND status IN ?", through,
			[]domain.OrderStatus{domain.OrderOrdered, domain.OrderCreatedByStaff}).
		Updates(map[string]any{
			"status":     domain.OrderUnclaimed,
			"updated_at": time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}
