// Package handlers exposes the canteen over HTTP.
//
// Handlers are transport-thin: they bind and validate input, call the
// application services, and translate results into HTTP responses
// (including conditional and replayed responses). Every allow/deny verdict
// comes from the services; nothing here recomputes eligibility.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/tbourn/canteen-backend/internal/domain"
	"github.com/tbourn/canteen-backend/internal/http/middleware"
	"github.com/tbourn/canteen-backend/internal/services"
)

//
// Service contracts (context-aware)
//

// MenuService renders and publishes menus.
type MenuService interface {
	Range(ctx context.Context, userID uint, from, to string) ([]services.MenuDay, error)
	CreateMenu(ctx context.Context, staffID uint, in services.MenuInput) (*domain.Menu, error)
}

// Evaluator answers whether a user may order a menu item on a date.
type Evaluator interface {
	Evaluate(ctx context.Context, userID, menuItemID uint, date string) services.EligibilityResult
}

// OrderService owns order writes and the order overview.
type OrderService interface {
	Place(ctx context.Context, userID, menuItemID uint, date string, qty int) (*services.PlaceResult, error)
	Cancel(ctx context.Context, userID, menuItemID uint, date string, qty int) (*services.CancelResult, error)
	StaffCancel(ctx context.Context, staffID, orderID uint) (*domain.Order, error)
	IssueItem(ctx context.Context, staffID, itemID uint) (*domain.Order, error)
	IssueOrder(ctx context.Context, staffID, orderID uint, categoryIDs []uint) (*domain.Order, error)
	ListUpcoming(ctx context.Context, userID uint, from string, page, pageSize int) ([]services.UpcomingItem, int64, error)
}

// BulkOrderService books orders for many users at once.
type BulkOrderService interface {
	Create(ctx context.Context, staffID uint, in services.BulkOrderInput) (*services.BulkOrderReport, error)
}

// AccountService exposes balances and deposits.
type AccountService interface {
	Deposit(ctx context.Context, staffID, userID uint, amount decimal.Decimal, note string) (*domain.Deposit, error)
	Summary(ctx context.Context, userID uint) (*services.AccountSummary, error)
	RequireStaff(ctx context.Context, userID uint) error
}

// RecalcService reprices orders retroactively.
type RecalcService interface {
	Recalculate(ctx context.Context, actorID uint, from, to string, dryRun bool) (*services.RecalcReport, error)
}

// SweepService runs the maintenance sweeps on demand.
type SweepService interface {
	MarkUnclaimed(ctx context.Context, through string) (int64, error)
	ZeroNegativeBalances(ctx context.Context) (*services.ZeroingReport, error)
}

// Services bundles the dependencies of Handlers.
type Services struct {
	Menu     MenuService
	Eligible Evaluator
	Orders   OrderService
	Bulk     BulkOrderService
	Accounts AccountService
	Recalc   RecalcService
	Sweeps   SweepService
}

// Options tunes transport behavior.
type Options struct {
	// Location is the canteen's zone; "today" defaults are computed in it.
	Location *time.Location
	// IdempotencyTTL is how long a recorded Idempotency-Key replays.
	IdempotencyTTL time.Duration
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Handlers groups the HTTP endpoints.
type Handlers struct {
	svc  Services
	opts Options
}

// New constructs Handlers and registers the custom binding tags.
func New(svc Services, opts Options) *Handlers {
	RegisterValidators()
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.IdempotencyTTL <= 0 {
		opts.IdempotencyTTL = 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Handlers{svc: svc, opts: opts}
}

//
// DTOs shared by list endpoints
//

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

//
// Helpers
//

// currentUser returns the authenticated caller or writes 401.
func currentUser(c *gin.Context) (uint, bool) {
	uid, ok := middleware.UserID(c)
	if !ok {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "authentication required")
	}
	return uid, ok
}

// today returns the current civil date in the canteen's zone, shifted by days.
func (h *Handlers) today(days int) string {
	return h.opts.Now().In(h.opts.Location).AddDate(0, 0, days).Format(domain.DateLayout)
}

// StaffOnly rejects callers that are not staff members with 403.
func (h *Handlers) StaffOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, ok := currentUser(c)
		if !ok {
			return
		}
		if err := h.svc.Accounts.RequireStaff(c.Request.Context(), uid); err != nil {
			failErr(c, err)
			return
		}
		c.Next()
	}
}
