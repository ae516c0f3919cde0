// Package services – OrderService
//
// OrderService owns every write to orders and order items: self-service
// placement and cancellation, staff cancellation, and issuance.
//
// Placement and cancellation run the eligibility gates twice. The first pass
// runs before any lock is taken and rejects the common cases cheaply. The
// second pass runs inside the transaction after the (user, date) order row is
// locked, so a concurrent request for the same user and date sees the state
// left by the one that went first.
//
// The balance is never stored. Charges are Σ quantity × frozen price over
// orders in a charging status, so adding, removing, or voiding items is the
// balance mutation and both move together in one transaction.
//
// Observability: all public methods are OpenTelemetry-instrumented; spans
// include user, menu item, and order identifiers where applicable.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/canteen-backend/internal/domain"
	"github.com/tbourn/canteen-backend/internal/repo"
)

// OrderService coordinates order writes on top of an EligibilityEngine.
type OrderService struct {
	DB     *gorm.DB
	Engine *EligibilityEngine
}

// NewOrderService constructs an OrderService sharing the engine's database.
func NewOrderService(engine *EligibilityEngine) *OrderService {
	return &OrderService{DB: engine.DB, Engine: engine}
}

// PlaceResult describes a committed placement.
type PlaceResult struct {
	OrderID     uint            `json:"order_id"`
	OrderItemID uint            `json:"order_item_id"`
	Date        string          `json:"date"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	// Charged is the balance change, including repricing of held units.
	Charged     decimal.Decimal `json:"charged"`
	Balance     decimal.Decimal `json:"balance"`
}

// CancelResult describes a committed cancellation.
type CancelResult struct {
	Date         string          `json:"date"`
	Remaining    int             `json:"remaining"`
	ItemRemoved  bool            `json:"item_removed"`
	OrderDeleted bool            `json:"order_deleted"`
	Refunded     decimal.Decimal `json:"refunded"`
	Balance      decimal.Decimal `json:"balance"`
}

// UpcomingItem is one row of a user's order overview.
type UpcomingItem struct {
	OrderItemID  uint               `json:"order_item_id"`
	OrderID      uint               `json:"order_id"`
	Date         string             `json:"date"`
	Status       domain.OrderStatus `json:"status"`
	MenuItemID   uint               `json:"menu_item_id"`
	MealName     string             `json:"meal"`
	CategoryName string             `json:"category"`
	Quantity     int                `json:"quantity"`
	UnitPrice    decimal.Decimal    `json:"unit_price"`
	Total        decimal.Decimal    `json:"total"`
	Issued       bool               `json:"issued"`
	CanCancel    bool               `json:"can_cancel"`
}

func (s *OrderService) tracer() trace.Tracer { return otel.Tracer("services/OrderService") }

// Place adds qty of menuItemID to userID's order for date, creating the order
// on first use. Repeated placements increment the quantity and refreeze the
// unit price at the currently resolved subsidy price.
//
// Policy refusals are returned as *DenyError.
func (s *OrderService) Place(ctx context.Context, userID, menuItemID uint, date string, qty int) (*PlaceResult, error) {
	ctx, span := s.tracer().Start(ctx, "Place",
		trace.WithAttributes(
			attribute.Int("user.id", int(userID)),
			attribute.Int("menu_item.id", int(menuItemID)),
			attribute.String("service_date", date),
			attribute.Int("quantity", qty),
		),
	)
	defer span.End()

	if qty < 1 || qty > s.Engine.maxQty() {
		return nil, ErrInvalidQuantity
	}
	day, err := ParseDate(date)
	if err != nil {
		return nil, ErrInvalidDate
	}
	user, item, err := s.load(ctx, userID, menuItemID)
	if err != nil {
		return nil, err
	}

	held, err := repo.FindUserItem(ctx, s.DB, user.ID, date, item.ID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	if _, err := s.placeGates(ctx, s.DB, user, item, day, qty, held); err != nil {
		observeGateErr(err)
		return nil, err
	}

	var res PlaceResult
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := repo.EnsureOrder(ctx, tx, user.ID, date, domain.OrderOrdered)
		if err != nil {
			return err
		}
		if !order.Status.Open() {
			return s.Engine.Messages.deny(ReasonOrderLocked, msgOrderLocked, date)
		}

		it, err := repo.GetOrderItem(ctx, tx, order.ID, item.ID)
		var held *domain.OrderItem
		switch {
		case errors.Is(err, repo.ErrNotFound):
			it = &domain.OrderItem{OrderID: order.ID, MenuItemID: item.ID}
		case err != nil:
			return err
		case it.Issued:
			return ErrAlreadyIssued
		default:
			prev := *it
			held = &prev
		}

		price, err := s.placeGates(ctx, tx, user, item, day, qty, held)
		if err != nil {
			return err
		}
		charged := incrementCharge(held, price, qty)
		it.Quantity += qty
		it.Price = price
		if err := repo.SaveOrderItem(ctx, tx, it); err != nil {
			return err
		}

		res = PlaceResult{
			OrderID:     order.ID,
			OrderItemID: it.ID,
			Date:        date,
			Quantity:    it.Quantity,
			UnitPrice:   price,
			Charged:     charged,
		}
		res.Balance, err = s.Engine.Ledger.CurrentBalance(ctx, tx, user.ID)
		return err
	})
	if err != nil {
		observeGateErr(err)
		return nil, err
	}

	observeDecision(ReasonNone)
	observeMutation("order_placed")
	log.Ctx(ctx).Info().
		Uint("user_id", user.ID).
		Uint("menu_item_id", item.ID).
		Str("service_date", date).
		Int("quantity", qty).
		Str("unit_price", res.UnitPrice.StringFixed(2)).
		Msg("order placed")
	return &res, nil
}

// placeGates checks a placement of qty on db and returns the unit price.
// Unlike Evaluate it does not refuse an item the user already holds: this is
// the increment path, and held (nil for a new item) is repriced with it.
func (s *OrderService) placeGates(ctx context.Context, db *gorm.DB, user *domain.User, item *domain.MenuItem, day time.Time, qty int, held *domain.OrderItem) (decimal.Decimal, error) {
	e := s.Engine
	date := day.Format(domain.DateLayout)
	if !item.Menu.Covers(date) {
		return decimal.Zero, e.Messages.deny(ReasonNotListed, msgNotListed, date)
	}
	price, err := e.Subsidy.PriceFor(ctx, db, user, item)
	if err != nil {
		return decimal.Zero, err
	}
	if user.IsStaff {
		return price, nil
	}

	if deny, err := e.timeGate(ctx, db, day, false); err != nil {
		return decimal.Zero, err
	} else if deny != nil {
		return decimal.Zero, deny
	}

	if deny, err := e.affordable(ctx, db, user, incrementCharge(held, price, qty)); err != nil {
		return decimal.Zero, err
	} else if deny != nil {
		return decimal.Zero, deny
	}

	q, err := e.Quota.Check(ctx, db, user, item, date, qty)
	if err != nil {
		return decimal.Zero, err
	}
	if !q.Allowed {
		return decimal.Zero, &DenyError{Reason: ReasonGroupLimit, Message: q.Message}
	}
	return price, nil
}

// incrementCharge is the balance change of adding qty at price to held: the
// held units are refrozen at price, so a price change since the first order
// is charged (or refunded) too.
func incrementCharge(held *domain.OrderItem, price decimal.Decimal, qty int) decimal.Decimal {
	charge := price.Mul(decimal.NewFromInt(int64(qty)))
	if held == nil {
		return charge
	}
	return charge.Add(price.Sub(held.Price).Mul(decimal.NewFromInt(int64(held.Quantity))))
}

// Cancel removes qty of menuItemID from userID's order for date; qty <= 0 or
// qty >= the held quantity removes the item. The order row is deleted with
// its last item. Cancelling is subject to the same closing instant as
// ordering.
func (s *OrderService) Cancel(ctx context.Context, userID, menuItemID uint, date string, qty int) (*CancelResult, error) {
	ctx, span := s.tracer().Start(ctx, "Cancel",
		trace.WithAttributes(
			attribute.Int("user.id", int(userID)),
			attribute.Int("menu_item.id", int(menuItemID)),
			attribute.String("service_date", date),
			attribute.Int("quantity", qty),
		),
	)
	defer span.End()

	day, err := ParseDate(date)
	if err != nil {
		return nil, ErrInvalidDate
	}
	user, err := repo.GetUser(ctx, s.DB, userID)
	if err != nil {
		return nil, notFound(err, ErrUserNotFound)
	}
	if !user.IsStaff {
		if deny, err := s.Engine.timeGate(ctx, s.DB, day, true); err != nil {
			return nil, err
		} else if deny != nil {
			observeDecision(deny.Reason)
			return nil, deny
		}
	}

	res := CancelResult{Date: date}
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := repo.LockOrder(ctx, tx, user.ID, date)
		if err != nil {
			return notFound(err, ErrOrderItemNotFound)
		}
		if !order.Status.Open() {
			return s.Engine.Messages.deny(ReasonOrderLocked, msgOrderLocked, date)
		}
		if !user.IsStaff {
			if deny, err := s.Engine.timeGate(ctx, tx, day, true); err != nil {
				return err
			} else if deny != nil {
				return deny
			}
		}

		it, err := repo.GetOrderItem(ctx, tx, order.ID, menuItemID)
		if err != nil {
			return notFound(err, ErrOrderItemNotFound)
		}
		if it.Issued {
			return ErrAlreadyIssued
		}

		removed := it.Quantity
		if qty > 0 && qty < it.Quantity {
			removed = qty
			it.Quantity -= qty
			if err := repo.SaveOrderItem(ctx, tx, it); err != nil {
				return err
			}
			res.Remaining = it.Quantity
		} else {
			if err := repo.DeleteOrderItem(ctx, tx, it.ID); err != nil {
				return err
			}
			res.ItemRemoved = true
		}
		res.Refunded = it.Price.Mul(decimal.NewFromInt(int64(removed)))

		left, err := repo.CountOrderItems(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		if left == 0 {
			if err := repo.DeleteOrder(ctx, tx, order.ID); err != nil {
				return err
			}
			res.OrderDeleted = true
		}

		res.Balance, err = s.Engine.Ledger.CurrentBalance(ctx, tx, user.ID)
		return err
	})
	if err != nil {
		observeGateErr(err)
		return nil, err
	}

	observeMutation("order_cancelled")
	log.Ctx(ctx).Info().
		Uint("user_id", user.ID).
		Uint("menu_item_id", menuItemID).
		Str("service_date", date).
		Str("refunded", res.Refunded.StringFixed(2)).
		Bool("order_deleted", res.OrderDeleted).
		Msg("order cancelled")
	return &res, nil
}

// StaffCancel voids an order regardless of the closing instant and records
// who did it. The order's items stop counting against the balance.
func (s *OrderService) StaffCancel(ctx context.Context, staffID, orderID uint) (*domain.Order, error) {
	ctx, span := s.tracer().Start(ctx, "StaffCancel",
		trace.WithAttributes(
			attribute.Int("staff.id", int(staffID)),
			attribute.Int("order.id", int(orderID)),
		),
	)
	defer span.End()

	if err := s.requireStaff(ctx, staffID); err != nil {
		return nil, err
	}

	var out *domain.Order
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := repo.LockOrderByID(ctx, tx, orderID)
		if err != nil {
			return notFound(err, ErrOrderNotFound)
		}
		if !order.Status.Open() {
			return ErrInvalidTransition
		}
		now := time.Now().UTC()
		order.Status = domain.OrderCancelledByStaff
		order.CancelledByID = &staffID
		order.CancelledAt = &now
		if err := repo.UpdateOrder(ctx, tx, order); err != nil {
			return err
		}
		out = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	observeMutation("order_voided")
	log.Ctx(ctx).Info().
		Uint("staff_id", staffID).
		Uint("order_id", orderID).
		Msg("order cancelled by staff")
	return out, nil
}

// IssueItem marks one order item as handed out and advances the order to
// partially_issued or issued.
func (s *OrderService) IssueItem(ctx context.Context, staffID, itemID uint) (*domain.Order, error) {
	ctx, span := s.tracer().Start(ctx, "IssueItem",
		trace.WithAttributes(
			attribute.Int("staff.id", int(staffID)),
			attribute.Int("order_item.id", int(itemID)),
		),
	)
	defer span.End()

	if err := s.requireStaff(ctx, staffID); err != nil {
		return nil, err
	}

	var orderID uint
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		it, err := repo.LockOrderItemByID(ctx, tx, itemID)
		if err != nil {
			return notFound(err, ErrOrderItemNotFound)
		}
		order, err := repo.LockOrderByID(ctx, tx, it.OrderID)
		if err != nil {
			return notFound(err, ErrOrderNotFound)
		}
		if !order.Status.Issuable() {
			return ErrInvalidTransition
		}
		if it.Issued {
			return ErrAlreadyIssued
		}
		now := time.Now().UTC()
		it.Issued, it.IssuedAt = true, &now
		if err := repo.SaveOrderItem(ctx, tx, it); err != nil {
			return err
		}
		orderID = order.ID
		return advanceIssuance(ctx, tx, order, now)
	})
	if err != nil {
		return nil, err
	}
	return repo.GetOrderByID(ctx, s.DB, orderID)
}

// IssueOrder hands out every unissued item of an order. When categoryIDs is
// non-empty only items in those food categories are issued.
func (s *OrderService) IssueOrder(ctx context.Context, staffID, orderID uint, categoryIDs []uint) (*domain.Order, error) {
	ctx, span := s.tracer().Start(ctx, "IssueOrder",
		trace.WithAttributes(
			attribute.Int("staff.id", int(staffID)),
			attribute.Int("order.id", int(orderID)),
		),
	)
	defer span.End()

	if err := s.requireStaff(ctx, staffID); err != nil {
		return nil, err
	}
	only := make(map[uint]bool, len(categoryIDs))
	for _, id := range categoryIDs {
		only[id] = true
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := repo.LockOrderByID(ctx, tx, orderID)
		if err != nil {
			return notFound(err, ErrOrderNotFound)
		}
		if !order.Status.Issuable() {
			return ErrInvalidTransition
		}
		full, err := repo.GetOrderByID(ctx, tx, orderID)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		for i := range full.Items {
			it := &full.Items[i]
			if it.Issued || (len(only) > 0 && !only[it.MenuItem.FoodCategoryID]) {
				continue
			}
			it.Issued, it.IssuedAt = true, &now
			if err := repo.SaveOrderItem(ctx, tx, it); err != nil {
				return err
			}
		}
		return advanceIssuance(ctx, tx, order, now)
	})
	if err != nil {
		return nil, err
	}
	return repo.GetOrderByID(ctx, s.DB, orderID)
}

// advanceIssuance sets the order status from its items' issued flags.
func advanceIssuance(ctx context.Context, tx *gorm.DB, order *domain.Order, now time.Time) error {
	items, err := repo.ListOrderItems(ctx, tx, order.ID)
	if err != nil {
		return err
	}
	issued := 0
	for _, it := range items {
		if it.Issued {
			issued++
		}
	}
	switch {
	case issued == 0:
		return nil
	case issued == len(items):
		order.Status = domain.OrderIssued
		order.IssuedAt = &now
	default:
		order.Status = domain.OrderPartiallyIssued
	}
	return repo.UpdateOrder(ctx, tx, order)
}

// ListUpcoming pages the user's charged order items from date from onwards,
// each with whether it may still be cancelled.
func (s *OrderService) ListUpcoming(ctx context.Context, userID uint, from string, page, pageSize int) ([]UpcomingItem, int64, error) {
	ctx, span := s.tracer().Start(ctx, "ListUpcoming",
		trace.WithAttributes(
			attribute.Int("user.id", int(userID)),
			attribute.String("from", from),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	if _, err := ParseDate(from); err != nil {
		return nil, 0, ErrInvalidDate
	}
	user, err := repo.GetUser(ctx, s.DB, userID)
	if err != nil {
		return nil, 0, notFound(err, ErrUserNotFound)
	}

	total, err := repo.CountUserItems(ctx, s.DB, userID, from)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []UpcomingItem{}, 0, nil
	}
	items, err := repo.ListUserItemsPage(ctx, s.DB, userID, from, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, 0, err
	}

	closingOpen := map[string]bool{}
	out := make([]UpcomingItem, 0, len(items))
	for _, it := range items {
		date := it.Order.ServiceDate
		open, seen := closingOpen[date]
		if !seen {
			day, err := ParseDate(date)
			if err != nil {
				return nil, 0, err
			}
			if open, err = s.Engine.Cutoff.IsOrderingAllowed(ctx, s.DB, day); err != nil {
				return nil, 0, err
			}
			closingOpen[date] = open
		}
		out = append(out, UpcomingItem{
			OrderItemID:  it.ID,
			OrderID:      it.OrderID,
			Date:         date,
			Status:       it.Order.Status,
			MenuItemID:   it.MenuItemID,
			MealName:     it.MenuItem.Meal.Name,
			CategoryName: it.MenuItem.FoodCategory.Name,
			Quantity:     it.Quantity,
			UnitPrice:    it.Price,
			Total:        it.Total(),
			Issued:       it.Issued,
			CanCancel:    it.Order.Status.Open() && !it.Issued && (open || user.IsStaff),
		})
	}
	return out, total, nil
}

func (s *OrderService) load(ctx context.Context, userID, menuItemID uint) (*domain.User, *domain.MenuItem, error) {
	user, err := repo.GetUser(ctx, s.DB, userID)
	if err != nil {
		return nil, nil, notFound(err, ErrUserNotFound)
	}
	item, err := repo.GetMenuItem(ctx, s.DB, menuItemID)
	if err != nil {
		return nil, nil, notFound(err, ErrMenuItemNotFound)
	}
	return user, item, nil
}

func (s *OrderService) requireStaff(ctx context.Context, staffID uint) error {
	return requireStaff(ctx, s.DB, staffID)
}

func requireStaff(ctx context.Context, db *gorm.DB, staffID uint) error {
	u, err := repo.GetUser(ctx, db, staffID)
	if err != nil {
		return notFound(err, ErrUserNotFound)
	}
	if !u.IsStaff {
		return ErrForbidden
	}
	return nil
}

// notFound maps a repository miss to the service sentinel and passes any
// other error through.
func notFound(err, sentinel error) error {
	if errors.Is(err, repo.ErrNotFound) {
		return sentinel
	}
	return err
}

func observeGateErr(err error) {
	if de, ok := AsDeny(err); ok {
		observeDecision(de.Reason)
	}
}
