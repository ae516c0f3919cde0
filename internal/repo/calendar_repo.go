// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides lookups for the operating calendar and
// the pricing/ordering policy tables.
//
// Lookups that find no row return ErrNotFound; callers decide whether a
// missing row means "use the default" or "deny".
package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/tbourn/canteen-backend/internal/domain"
)

// GetOperatingException returns the exception row for date, or ErrNotFound.
func GetOperatingException(ctx context.Context, db *gorm.DB, date string) (*domain.OperatingException, error) {
	var ex domain.OperatingException
	if err := db.WithContext(ctx).Where("date = ?", date).First(&ex).Error; err != nil {
		return nil, err
	}
	return &ex, nil
}

// GetOperatingDay returns the weekly row for weekday (0 = Monday), or ErrNotFound.
func GetOperatingDay(ctx context.Context, db *gorm.DB, weekday int) (*domain.OperatingDay, error) {
	var od domain.OperatingDay
	if err := db.WithContext(ctx).Where("weekday = ?", weekday).First(&od).Error; err != nil {
		return nil, err
	}
	return &od, nil
}

// UpsertOperatingException creates or replaces the exception for ex.Date.
func UpsertOperatingException(ctx context.Context, db *gorm.DB, ex *domain.OperatingException) error {
	var cur domain.OperatingException
	err := db.WithContext(ctx).Where("date = ?", ex.Date).First(&cur).Error
	switch {
	case err == nil:
		ex.ID = cur.ID
		return db.WithContext(ctx).Save(ex).Error
	case errors.Is(err, gorm.ErrRecordNotFound):
		return db.WithContext(ctx).Create(ex).Error
	default:
		return err
	}
}

// GetActiveClosingPolicy returns the active closing policy, or ErrNotFound.
// If several rows are flagged active the most recently updated one wins.
func GetActiveClosingPolicy(ctx context.Context, db *gorm.DB) (*domain.ClosingPolicy, error) {
	var p domain.ClosingPolicy
	err := db.WithContext(ctx).
		Where("active = ?", true).
		Order("updated_at desc").Order("id desc").
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ActivateClosingPolicy makes p the only active policy.
func ActivateClosingPolicy(ctx context.Context, db *gorm.DB, p *domain.ClosingPolicy) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&domain.ClosingPolicy{}).
			Where("active = ?", true).
			Update("active", false).Error; err != nil {
			return err
		}
		p.Active = true
		return tx.Save(p).Error
	})
}

// GetSubsidyPolicy returns the subsidy policy of a group, or ErrNotFound.
func GetSubsidyPolicy(ctx context.Context, db *gorm.DB, groupID uint) (*domain.SubsidyPolicy, error) {
	var p domain.SubsidyPolicy
	if err := db.WithContext(ctx).Where("group_id = ?", groupID).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// GetSubsidyOverride returns the override for (policy, category), or ErrNotFound.
func GetSubsidyOverride(ctx context.Context, db *gorm.DB, policyID, categoryID uint) (*domain.SubsidyOverride, error) {
	var o domain.SubsidyOverride
	err := db.WithContext(ctx).
		Where("policy_id = ? AND food_category_id = ?", policyID, categoryID).
		First(&o).Error
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// GetGroupQuota returns the daily quota for (group, category), or ErrNotFound.
func GetGroupQuota(ctx context.Context, db *gorm.DB, groupID, categoryID uint) (*domain.GroupDailyQuota, error) {
	var q domain.GroupDailyQuota
	err := db.WithContext(ctx).
		Where("group_id = ? AND food_category_id = ?", groupID, categoryID).
		First(&q).Error
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// GetAccountSettings returns the account settings of a group, or ErrNotFound.
func GetAccountSettings(ctx context.Context, db *gorm.DB, groupID uint) (*domain.AccountSettings, error) {
	var s domain.AccountSettings
	if err := db.WithContext(ctx).Where("group_id = ?", groupID).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// OverdraftGroupIDs returns the ids of groups whose settings allow overdraft.
func OverdraftGroupIDs(ctx context.Context, db *gorm.DB) ([]uint, error) {
	var ids []uint
	err := db.WithContext(ctx).
		Model(&domain.AccountSettings{}).
		Where("allow_overdraft = ?", true).
		Pluck("group_id", &ids).Error
	return ids, err
}
