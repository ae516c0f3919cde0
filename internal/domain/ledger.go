package domain

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// DepositKind distinguishes manual top-ups from month-end debt zeroing.
type DepositKind string

const (
	DepositStandard DepositKind = "standard"
	DepositZeroing  DepositKind = "zeroing"
)

// Deposit is an append-only credit to a user's account. Rows are never
// updated after creation; corrections are new rows.
type Deposit struct {
	ID          uint            `json:"id"          gorm:"primaryKey"`
	UserID      uint            `json:"user_id"     gorm:"not null;index"`
	Amount      decimal.Decimal `json:"amount"      gorm:"type:decimal(10,2);not null"`
	Kind        DepositKind     `json:"kind"        gorm:"type:varchar(16);not null;check:kind IN ('standard','zeroing')"`
	Note        string          `json:"note"        gorm:"type:text"`
	CreatedByID *uint           `json:"created_by_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"  gorm:"index"`

	User User `json:"-" gorm:"foreignKey:UserID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Deposit.
func (Deposit) TableName() string { return "deposits" }

// SubsidyCredit is an append-only credit granted by a subsidy program
// (employer contribution, school allowance). It counts into the balance like
// a deposit but is reported separately.
type SubsidyCredit struct {
	ID        uint            `json:"id"         gorm:"primaryKey"`
	UserID    uint            `json:"user_id"    gorm:"not null;index"`
	Amount    decimal.Decimal `json:"amount"     gorm:"type:decimal(10,2);not null"`
	Program   string          `json:"program"    gorm:"type:varchar(100)"`
	CreatedAt time.Time       `json:"created_at"`

	User User `json:"-" gorm:"foreignKey:UserID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for SubsidyCredit.
func (SubsidyCredit) TableName() string { return "subsidy_credits" }

// PriceRecalculationLog is the summary row of one price recalculation run.
// Params keeps the request that produced it (range, filters, dry-run flag).
type PriceRecalculationLog struct {
	ID             uint            `json:"id"               gorm:"primaryKey"`
	CreatedByID    *uint           `json:"created_by_id,omitempty"`
	DateFrom       string          `json:"date_from"        gorm:"type:varchar(10);not null"`
	DateTo         string          `json:"date_to"          gorm:"type:varchar(10);not null"`
	OrdersAffected int             `json:"orders_affected"  gorm:"not null"`
	ItemsAffected  int             `json:"items_affected"   gorm:"not null"`
	TotalPriceDiff decimal.Decimal `json:"total_price_diff" gorm:"type:decimal(10,2);not null"`
	Note           string          `json:"note"             gorm:"type:text"`
	Params         datatypes.JSON  `json:"params"`
	CreatedAt      time.Time       `json:"created_at"`

	Details []PriceRecalculationDetail `json:"details,omitempty" gorm:"foreignKey:LogID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for PriceRecalculationLog.
func (PriceRecalculationLog) TableName() string { return "price_recalculation_logs" }

// PriceRecalculationDetail records one repriced order item.
type PriceRecalculationDetail struct {
	ID          uint            `json:"id"            gorm:"primaryKey"`
	LogID       uint            `json:"log_id"        gorm:"not null;index"`
	OrderItemID uint            `json:"order_item_id" gorm:"not null;index"`
	OldPrice    decimal.Decimal `json:"old_price"     gorm:"type:decimal(10,2);not null"`
	NewPrice    decimal.Decimal `json:"new_price"     gorm:"type:decimal(10,2);not null"`
	PriceDiff   decimal.Decimal `json:"price_diff"    gorm:"type:decimal(10,2);not null"`

	Log PriceRecalculationLog `json:"-" gorm:"foreignKey:LogID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for PriceRecalculationDetail.
func (PriceRecalculationDetail) TableName() string { return "price_recalculation_details" }
