package domain

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// OperatingDay overrides the default Mon–Fri schedule for one weekday.
// Weekday follows the ISO convention shifted to zero: 0 = Monday … 6 = Sunday.
type OperatingDay struct {
	ID          uint `json:"id"           gorm:"primaryKey"`
	Weekday     int  `json:"weekday"      gorm:"not null;uniqueIndex;check:weekday BETWEEN 0 AND 6"`
	IsOperating bool `json:"is_operating" gorm:"not null"`
}

// TableName returns the database table name for OperatingDay.
func (OperatingDay) TableName() string { return "operating_days" }

// ExceptionType is the verdict an OperatingException forces on its date.
type ExceptionType string

const (
	ExceptionOpen   ExceptionType = "open"
	ExceptionClosed ExceptionType = "closed"
)

// OperatingException forces a specific date open or closed regardless of the
// weekly schedule.
type OperatingException struct {
	ID     uint          `json:"id"     gorm:"primaryKey"`
	Date   string        `json:"date"   gorm:"type:varchar(10);not null;uniqueIndex"`
	Type   ExceptionType `json:"type"   gorm:"type:varchar(8);not null;check:type IN ('open','closed')"`
	Reason string        `json:"reason" gorm:"type:varchar(255)"`
}

// TableName returns the database table name for OperatingException.
func (OperatingException) TableName() string { return "operating_exceptions" }

// ClosingPolicy defines when ordering for a service date closes: AdvanceDays
// operating days before the service date, at ClosingTime local wall-clock.
// Only the active row is consulted; without one nothing can be ordered.
type ClosingPolicy struct {
	ID          uint           `json:"id"           gorm:"primaryKey"`
	Active      bool           `json:"active"       gorm:"not null;index"`
	AdvanceDays int            `json:"advance_days" gorm:"not null;check:advance_days >= 0"`
	ClosingTime datatypes.Time `json:"closing_time" gorm:"not null"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// TableName returns the database table name for ClosingPolicy.
func (ClosingPolicy) TableName() string { return "closing_policies" }

// SubsidyPolicy is the default discount for a group: a percentage applied to
// the base price, then a flat amount subtracted. MonthlyCap is recorded for
// reporting and does not affect pricing.
type SubsidyPolicy struct {
	ID         uint            `json:"id"          gorm:"primaryKey"`
	GroupID    uint            `json:"group_id"    gorm:"not null;uniqueIndex"`
	Percentage decimal.Decimal `json:"percentage"  gorm:"type:decimal(5,2);not null"`
	Amount     decimal.Decimal `json:"amount"      gorm:"type:decimal(10,2);not null"`
	MonthlyCap decimal.Decimal `json:"monthly_cap" gorm:"type:decimal(10,2);not null"`

	Group     Group             `json:"-"         gorm:"foreignKey:GroupID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Overrides []SubsidyOverride `json:"overrides" gorm:"foreignKey:PolicyID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for SubsidyPolicy.
func (SubsidyPolicy) TableName() string { return "subsidy_policies" }

// SubsidyOverride replaces the policy percentage and/or amount for one food
// category. A nil field falls back to the policy value on its own.
type SubsidyOverride struct {
	ID             uint                `json:"id"               gorm:"primaryKey"`
	PolicyID       uint                `json:"policy_id"        gorm:"not null;uniqueIndex:ux_subsidy_override,priority:1"`
	FoodCategoryID uint                `json:"food_category_id" gorm:"not null;uniqueIndex:ux_subsidy_override,priority:2"`
	Percentage     decimal.NullDecimal `json:"percentage"       gorm:"type:decimal(5,2)"`
	Amount         decimal.NullDecimal `json:"amount"           gorm:"type:decimal(10,2)"`

	Policy SubsidyPolicy `json:"-" gorm:"foreignKey:PolicyID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for SubsidyOverride.
func (SubsidyOverride) TableName() string { return "subsidy_overrides" }

// GroupDailyQuota caps how many items of a food category a group member may
// order for one date. Zero means unlimited.
type GroupDailyQuota struct {
	ID             uint `json:"id"               gorm:"primaryKey"`
	GroupID        uint `json:"group_id"         gorm:"not null;uniqueIndex:ux_group_quota,priority:1"`
	FoodCategoryID uint `json:"food_category_id" gorm:"not null;uniqueIndex:ux_group_quota,priority:2"`
	MaxPerDay      int  `json:"max_per_day"      gorm:"not null;check:max_per_day >= 0"`

	Group        Group        `json:"-" gorm:"foreignKey:GroupID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	FoodCategory FoodCategory `json:"-" gorm:"foreignKey:FoodCategoryID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for GroupDailyQuota.
func (GroupDailyQuota) TableName() string { return "group_daily_quotas" }

// AccountSettings is the debit policy of a group. OverdraftLimit is the
// lowest balance (zero or negative) an overdraft group may reach.
type AccountSettings struct {
	ID             uint            `json:"id"              gorm:"primaryKey"`
	GroupID        uint            `json:"group_id"        gorm:"not null;uniqueIndex"`
	AllowOverdraft bool            `json:"allow_overdraft" gorm:"not null"`
	RequiresTopUp  bool            `json:"requires_topup"  gorm:"not null"`
	OverdraftLimit decimal.Decimal `json:"overdraft_limit" gorm:"type:decimal(10,2);not null"`

	Group Group `json:"-" gorm:"foreignKey:GroupID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for AccountSettings.
func (AccountSettings) TableName() string { return "account_settings" }
