// Package services – EligibilityEngine
//
// EligibilityEngine is the single place that decides whether a user may order
// or cancel a menu item for a service date, and at what price. The menu view,
// the order commit path, and the staff bulk tool all go through it.
//
// Gates run in a fixed priority and the first failing one names the reason:
//
//	listed > staff bypass > time > already ordered > balance > quota
//
// Evaluate never returns an error. Any failure while computing a verdict
// produces a deny with reason internal_error, so a broken lookup can make
// ordering unavailable but never lets an unchecked order through.
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
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/canteen-backend/internal/domain"
	"github.com/tbourn/canteen-backend/internal/repo"
)

// closingLayout renders closing instants inside deny messages.
const closingLayout = "2006-01-02 15:04"

// EligibilityResult is the verdict for one (user, menu item, date).
//
// Fields:
//   - CanOrder / CanCancel: the affordances the presentation layer shows.
//   - Price: the subsidized unit price the user would pay now.
//   - Reason / Message: the first failing gate, empty when CanOrder.
//   - ClosingAt: the cutoff for the date, nil when ordering never opens.
//   - OrderedQuantity / OrderItemID: the user's current item, if any.
//   - MaxQuantity: the largest quantity one increment may carry.
type EligibilityResult struct {
	MenuItemID      uint            `json:"menu_item_id"`
	Date            string          `json:"date"`
	CanOrder        bool            `json:"can_order"`
	CanCancel       bool            `json:"can_cancel"`
	Price           decimal.Decimal `json:"price"`
	Reason          DenyReason      `json:"reason,omitempty"`
	Message         string          `json:"message,omitempty"`
	ClosingAt       *time.Time      `json:"closing_at,omitempty"`
	OrderedQuantity int             `json:"ordered_quantity"`
	OrderItemID     *uint           `json:"order_item_id,omitempty"`
	MaxQuantity     int             `json:"max_quantity"`
}

// EligibilityEngine composes the calendar, cutoff, subsidy, quota, and
// balance policies.
type EligibilityEngine struct {
	DB       *gorm.DB
	Cutoff   *CutoffResolver
	Subsidy  SubsidyResolver
	Quota    QuotaChecker
	Ledger   BalanceLedger
	Messages *Messages

	// MaxQuantity caps a single increment. Values <= 0 default to 10.
	MaxQuantity int
}

// NewEligibilityEngine wires an engine with its policies sharing one message
// catalog.
func NewEligibilityEngine(db *gorm.DB, cutoff *CutoffResolver, msgs *Messages, maxQty int) *EligibilityEngine {
	return &EligibilityEngine{
		DB:          db,
		Cutoff:      cutoff,
		Quota:       QuotaChecker{Messages: msgs},
		Messages:    msgs,
		MaxQuantity: maxQty,
	}
}

func (e *EligibilityEngine) maxQty() int {
	if e.MaxQuantity <= 0 {
		return 10
	}
	return e.MaxQuantity
}

// Evaluate returns the verdict for userID ordering menuItemID on date (ISO).
func (e *EligibilityEngine) Evaluate(ctx context.Context, userID, menuItemID uint, date string) EligibilityResult {
	tr := otel.Tracer("services/EligibilityEngine")
	ctx, span := tr.Start(ctx, "Evaluate",
		trace.WithAttributes(
			attribute.Int("user.id", int(userID)),
			attribute.Int("menu_item.id", int(menuItemID)),
			attribute.String("service_date", date),
		),
	)
	defer span.End()

	user, err := repo.GetUser(ctx, e.DB, userID)
	if err != nil {
		return e.failClosed(ctx, span, menuItemID, date, err)
	}
	item, err := repo.GetMenuItem(ctx, e.DB, menuItemID)
	if errors.Is(err, repo.ErrNotFound) {
		res := EligibilityResult{MenuItemID: menuItemID, Date: date, Reason: ReasonNotListed,
			Message: e.Messages.Sprintf(msgNotListed, date)}
		observeDecision(res.Reason)
		return res
	}
	if err != nil {
		return e.failClosed(ctx, span, menuItemID, date, err)
	}
	res, err := e.evaluate(ctx, e.DB, user, item, date)
	if err != nil {
		return e.failClosed(ctx, span, menuItemID, date, err)
	}
	observeDecision(res.Reason)
	return res
}

// EvaluateFor is Evaluate for already-loaded rows, used when rendering many
// items for one user. It fails closed like Evaluate.
func (e *EligibilityEngine) EvaluateFor(ctx context.Context, user *domain.User, item *domain.MenuItem, date string) EligibilityResult {
	res, err := e.evaluate(ctx, e.DB, user, item, date)
	if err != nil {
		return e.failClosed(ctx, trace.SpanFromContext(ctx), item.ID, date, err)
	}
	observeDecision(res.Reason)
	return res
}

func (e *EligibilityEngine) failClosed(ctx context.Context, span trace.Span, menuItemID uint, date string, err error) EligibilityResult {
	span.RecordError(err)
	span.SetStatus(codes.Error, "eligibility evaluation failed")
	log.Ctx(ctx).Error().Err(err).
		Uint("menu_item_id", menuItemID).
		Str("service_date", date).
		Msg("eligibility evaluation failed; denying")
	observeDecision(ReasonInternalError)
	return EligibilityResult{
		MenuItemID: menuItemID,
		Date:       date,
		Reason:     ReasonInternalError,
		Message:    e.Messages.Sprintf(msgInternal),
	}
}

// evaluate runs the gates on db. Errors are returned, not masked; callers
// decide how to fail.
func (e *EligibilityEngine) evaluate(ctx context.Context, db *gorm.DB, user *domain.User, item *domain.MenuItem, date string) (EligibilityResult, error) {
	res := EligibilityResult{MenuItemID: item.ID, Date: date, MaxQuantity: e.maxQty()}

	day, err := ParseDate(date)
	if err != nil {
		return res, err
	}

	if !item.Menu.Covers(date) {
		res.Reason = ReasonNotListed
		res.Message = e.Messages.Sprintf(msgNotListed, date)
		return res, nil
	}

	existing, err := repo.FindUserItem(ctx, db, user.ID, date, item.ID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return res, err
	}
	if existing != nil {
		res.OrderedQuantity = existing.Quantity
		res.OrderItemID = &existing.ID
	}

	price, err := e.Subsidy.PriceFor(ctx, db, user, item)
	if err != nil {
		return res, err
	}
	res.Price = price

	closing, hasClosing, err := e.Cutoff.ClosingInstant(ctx, db, day)
	if err != nil {
		return res, err
	}
	if hasClosing {
		res.ClosingAt = &closing
	}

	// A cancelled, issued, or unclaimed order for the day cannot take items,
	// for staff either.
	locked, err := lockedOrder(ctx, db, user.ID, date)
	if err != nil {
		return res, err
	}

	if user.IsStaff {
		if locked {
			res.Reason = ReasonOrderLocked
			res.Message = e.Messages.Sprintf(msgOrderLocked, date)
			return res, nil
		}
		res.CanOrder, res.CanCancel = true, true
		return res, nil
	}

	open := hasClosing && e.Cutoff.now().Before(closing)
	if !open {
		res.Reason = ReasonOrderClosed
		if hasClosing {
			res.Message = e.Messages.Sprintf(msgOrderClosed, date, closing.Format(closingLayout))
		} else {
			res.Message = e.Messages.Sprintf(msgNoOrdering, date)
		}
		return res, nil
	}

	if locked {
		res.Reason = ReasonOrderLocked
		res.Message = e.Messages.Sprintf(msgOrderLocked, date)
		return res, nil
	}

	if existing != nil {
		res.Reason = ReasonAlreadyOrdered
		res.Message = e.Messages.Sprintf(msgAlreadyOrdered, date)
		res.CanCancel = existing.Order.Status.Open() && !existing.Issued
		return res, nil
	}

	if deny, err := e.affordable(ctx, db, user, price); err != nil {
		return res, err
	} else if deny != nil {
		res.Reason, res.Message = deny.Reason, deny.Message
		return res, nil
	}

	q, err := e.Quota.Check(ctx, db, user, item, date, 1)
	if err != nil {
		return res, err
	}
	if q.Max > 0 {
		res.MaxQuantity = min(res.MaxQuantity, max(q.Remaining, 1))
	}
	if !q.Allowed {
		res.Reason = ReasonGroupLimit
		res.Message = q.Message
		return res, nil
	}

	res.CanOrder = true
	return res, nil
}

// lockedOrder reports whether the user's order for date exists in a status
// that no longer accepts changes.
func lockedOrder(ctx context.Context, db *gorm.DB, userID uint, date string) (bool, error) {
	o, err := repo.GetOrder(ctx, db, userID, date)
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !o.Status.Open(), nil
}

// affordable applies the debit policy for a charge of amount on db.
func (e *EligibilityEngine) affordable(ctx context.Context, db *gorm.DB, user *domain.User, amount decimal.Decimal) (*DenyError, error) {
	balance, err := e.Ledger.CurrentBalance(ctx, db, user.ID)
	if err != nil {
		return nil, err
	}
	settings, err := e.Ledger.SettingsFor(ctx, db, user)
	if err != nil {
		return nil, err
	}
	switch CheckAffordability(settings, balance, amount) {
	case ReasonInsufficientBalance:
		return e.Messages.deny(ReasonInsufficientBalance, msgInsufficient,
			amount.StringFixed(2), balance.StringFixed(2)), nil
	case ReasonDebitLimitExceeded:
		return e.Messages.deny(ReasonDebitLimitExceeded, msgDebitLimit,
			settings.OverdraftLimit.StringFixed(2)), nil
	}
	return nil, nil
}

// timeGate returns a deny when ordering or cancelling for day is closed.
func (e *EligibilityEngine) timeGate(ctx context.Context, db *gorm.DB, day time.Time, cancel bool) (*DenyError, error) {
	closing, ok, err := e.Cutoff.ClosingInstant(ctx, db, day)
	if err != nil {
		return nil, err
	}
	date := day.Format(domain.DateLayout)
	switch {
	case !ok && cancel:
		return e.Messages.deny(ReasonOrderClosed, msgCancelNoDeadline, date), nil
	case !ok:
		return e.Messages.deny(ReasonOrderClosed, msgNoOrdering, date), nil
	case !e.Cutoff.now().Before(closing) && cancel:
		return e.Messages.deny(ReasonOrderClosed, msgCancelClosed, date, closing.Format(closingLayout)), nil
	case !e.Cutoff.now().Before(closing):
		return e.Messages.deny(ReasonOrderClosed, msgOrderClosed, date, closing.Format(closingLayout)), nil
	}
	return nil, nil
}
