// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for users and the
// menu catalog.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a record is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/canteen-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// GetUser fetches a user by id with the billing group preloaded.
func GetUser(ctx context.Context, db *gorm.DB, id uint) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Preload("BillingGroup").First(&u, id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// ListActiveUsersInGroups returns active users billed to any of groupIDs.
func ListActiveUsersInGroups(ctx context.Context, db *gorm.DB, groupIDs []uint) ([]domain.User, error) {
	var out []domain.User
	if len(groupIDs) == 0 {
		return out, nil
	}
	err := db.WithContext(ctx).
		Where("is_active = ? AND billing_group_id IN ?", true, groupIDs).
		Order("id").
		Find(&out).Error
	return out, err
}

// GetMenuItem fetches a menu item with its menu, meal, and category.
func GetMenuItem(ctx context.Context, db *gorm.DB, id uint) (*domain.MenuItem, error) {
	var mi domain.MenuItem
	err := db.WithContext(ctx).
		Preload("Menu").Preload("Meal").Preload("FoodCategory").
		First(&mi, id).Error
	if err != nil {
		return nil, err
	}
	return &mi, nil
}

// ListMenuItemsInRange returns the items of every menu whose validity window
// overlaps [from, to], ordered by category position then id.
func ListMenuItemsInRange(ctx context.Context, db *gorm.DB, from, to string) ([]domain.MenuItem, error) {
	var out []domain.MenuItem
	err := db.WithContext(ctx).
		Joins("JOIN menus ON menus.id = menu_items.menu_id").
		Joins("JOIN food_categories ON food_categories.id = menu_items.food_category_id").
		Where("menus.valid_from <= ? AND menus.valid_to >= ?", to, from).
		Preload("Menu").Preload("Meal").Preload("FoodCategory").
		Order("food_categories.position, menu_items.id").
		Find(&out).Error
	return out, err
}

// CountOverlappingMenus counts menus whose window intersects [from, to].
func CountOverlappingMenus(ctx context.Context, db *gorm.DB, from, to string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.Menu{}).
		Where("valid_from <= ? AND valid_to >= ?", to, from).
		Count(&n).Error
	return n, err
}

// CreateMenu inserts a menu together with its items.
func CreateMenu(ctx context.Context, db *gorm.DB, m *domain.Menu) error {
	return db.WithContext(ctx).Create(m).Error
}

// GetMeal fetches a meal by id.
func GetMeal(ctx context.Context, db *gorm.DB, id uint) (*domain.Meal, error) {
	var m domain.Meal
	if err := db.WithContext(ctx).First(&m, id).Error; err != nil {
		return nil, err
	}
	return &m, nil
}
