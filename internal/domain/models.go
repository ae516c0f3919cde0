// Package domain defines the persistence models for the canteen: users and
// their billing groups, the menu catalog, orders, and the account ledger.
// These types are mapped with GORM and form the core data layer of the
// ordering backend.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the storage and wire format of service dates.
const DateLayout = "2006-01-02"

// Group is a user group. Subsidy, quota, and account policies attach to it.
type Group struct {
	ID        uint      `json:"id"   gorm:"primaryKey"`
	Name      string    `json:"name" gorm:"type:varchar(150);not null;uniqueIndex"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for Group.
func (Group) TableName() string { return "user_groups" }

// User is a canteen customer or staff member.
//
// Fields:
//   - BillingGroupID: the single group whose policies apply to this user.
//     Nil means no discount, no quota, and default account rules.
//   - IsStaff: staff bypass eligibility gates and may use admin operations.
//   - IsActive: inactive users are skipped by batch jobs.
type User struct {
	ID             uint      `json:"id"              gorm:"primaryKey"`
	Username       string    `json:"username"        gorm:"type:varchar(150);not null;uniqueIndex"`
	FirstName      string    `json:"first_name"      gorm:"type:varchar(150)"`
	LastName       string    `json:"last_name"       gorm:"type:varchar(150)"`
	PersonalNumber string    `json:"personal_number" gorm:"type:varchar(100);index"`
	IsStaff        bool      `json:"is_staff"        gorm:"not null"`
	IsActive       bool      `json:"is_active"       gorm:"not null;index"`
	BillingGroupID *uint     `json:"billing_group_id,omitempty" gorm:"index"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	BillingGroup *Group `json:"billing_group,omitempty" gorm:"foreignKey:BillingGroupID;constraint:OnUpdate:CASCADE,OnDelete:SET NULL"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// FoodCategory classifies menu items (soup, main course, dessert). Quotas and
// subsidy overrides are keyed by it.
type FoodCategory struct {
	ID       uint   `json:"id"       gorm:"primaryKey"`
	Name     string `json:"name"     gorm:"type:varchar(100);not null;uniqueIndex"`
	Position int    `json:"position" gorm:"not null;default:0"`
}

// TableName returns the database table name for FoodCategory.
func (FoodCategory) TableName() string { return "food_categories" }

// Meal is a dish with its undiscounted base price.
type Meal struct {
	ID        uint            `json:"id"         gorm:"primaryKey"`
	Name      string          `json:"name"       gorm:"type:varchar(200);not null"`
	BasePrice decimal.Decimal `json:"base_price" gorm:"type:decimal(10,2);not null"`
}

// TableName returns the database table name for Meal.
func (Meal) TableName() string { return "meals" }

// Menu is a published menu. Its items are orderable on every date between
// ValidFrom and ValidTo inclusive (ISO dates).
type Menu struct {
	ID        uint      `json:"id"         gorm:"primaryKey"`
	Name      string    `json:"name"       gorm:"type:varchar(200)"`
	ValidFrom string    `json:"valid_from" gorm:"type:varchar(10);not null;index"`
	ValidTo   string    `json:"valid_to"   gorm:"type:varchar(10);not null;index"`
	CreatedAt time.Time `json:"created_at"`

	Items []MenuItem `json:"items,omitempty" gorm:"foreignKey:MenuID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Menu.
func (Menu) TableName() string { return "menus" }

// Covers reports whether date (ISO) falls inside the menu validity window.
func (m Menu) Covers(date string) bool {
	return m.ValidFrom <= date && date <= m.ValidTo
}

// MenuItem places a meal on a menu under a food category.
type MenuItem struct {
	ID             uint `json:"id"               gorm:"primaryKey"`
	MenuID         uint `json:"menu_id"          gorm:"not null;index"`
	FoodCategoryID uint `json:"food_category_id" gorm:"not null;index"`
	MealID         uint `json:"meal_id"          gorm:"not null;index"`

	Menu         Menu         `json:"-"             gorm:"foreignKey:MenuID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	FoodCategory FoodCategory `json:"food_category" gorm:"foreignKey:FoodCategoryID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
	Meal         Meal         `json:"meal"          gorm:"foreignKey:MealID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
}

// TableName returns the database table name for MenuItem.
func (MenuItem) TableName() string { return "menu_items" }

// OrderStatus is the lifecycle state of an Order.
type OrderStatus string

const (
	OrderCreatedByStaff   OrderStatus = "created_by_staff"
	OrderOrdered          OrderStatus = "ordered"
	OrderCancelledByUser  OrderStatus = "cancelled_by_user"
	OrderCancelledByStaff OrderStatus = "cancelled_by_staff"
	OrderPartiallyIssued  OrderStatus = "partially_issued"
	OrderIssued           OrderStatus = "issued"
	OrderUnclaimed        OrderStatus = "unclaimed"
)

// ChargingStatuses lists the statuses whose items count against the balance.
func ChargingStatuses() []OrderStatus {
	return []OrderStatus{
		OrderCreatedByStaff,
		OrderOrdered,
		OrderPartiallyIssued,
		OrderIssued,
		OrderUnclaimed,
	}
}

// Charges reports whether items of an order in status s are billed.
func (s OrderStatus) Charges() bool {
	for _, c := range ChargingStatuses() {
		if c == s {
			return true
		}
	}
	return false
}

// Open reports whether the order still accepts item changes from its owner.
func (s OrderStatus) Open() bool {
	return s == OrderOrdered || s == OrderCreatedByStaff
}

// Issuable reports whether items of an order in status s may be handed out.
func (s OrderStatus) Issuable() bool {
	return s == OrderOrdered || s == OrderCreatedByStaff || s == OrderPartiallyIssued
}

// Order groups a user's items for one service date.
//
// Fields:
//   - ServiceDate: ISO date the meal is served; unique together with UserID.
//   - Status: lifecycle state, see OrderStatus.
//   - IssuedAt: set when the last item is handed out.
//   - CancelledByID / CancelledAt: actor and time of a staff cancellation.
type Order struct {
	ID            uint        `json:"id"           gorm:"primaryKey"`
	UserID        uint        `json:"user_id"      gorm:"not null;uniqueIndex:ux_order_user_date,priority:1"`
	ServiceDate   string      `json:"service_date" gorm:"type:varchar(10);not null;uniqueIndex:ux_order_user_date,priority:2;index"`
	Status        OrderStatus `json:"status"       gorm:"type:varchar(32);not null;index"`
	IssuedAt      *time.Time  `json:"issued_at,omitempty"`
	CancelledByID *uint       `json:"cancelled_by_id,omitempty"`
	CancelledAt   *time.Time  `json:"cancelled_at,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`

	User  User        `json:"-"     gorm:"foreignKey:UserID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Items []OrderItem `json:"items" gorm:"foreignKey:OrderID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Order.
func (Order) TableName() string { return "orders" }

// OrderItem is one menu item within an order. Price is the per-unit price
// frozen when the item was last added or its quantity changed; it only moves
// again through a price recalculation run.
type OrderItem struct {
	ID         uint            `json:"id"           gorm:"primaryKey"`
	OrderID    uint            `json:"order_id"     gorm:"not null;uniqueIndex:ux_order_item,priority:1"`
	MenuItemID uint            `json:"menu_item_id" gorm:"not null;uniqueIndex:ux_order_item,priority:2;index"`
	Quantity   int             `json:"quantity"     gorm:"not null;check:quantity > 0"`
	Price      decimal.Decimal `json:"price"        gorm:"type:decimal(10,2);not null"`
	Issued     bool            `json:"issued"       gorm:"not null"`
	IssuedAt   *time.Time      `json:"issued_at,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`

	Order    Order    `json:"-"                   gorm:"foreignKey:OrderID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	MenuItem MenuItem `json:"menu_item,omitempty" gorm:"foreignKey:MenuItemID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
}

// TableName returns the database table name for OrderItem.
func (OrderItem) TableName() string { return "order_items" }

// Total returns quantity times frozen unit price.
func (it OrderItem) Total() decimal.Decimal {
	return it.Price.Mul(decimal.NewFromInt(int64(it.Quantity)))
}
