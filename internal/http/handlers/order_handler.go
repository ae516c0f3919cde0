// Order HTTP handlers.
//
// This file exposes the self-service order endpoints:
//   - POST   /orders         (place or increment an item)
//   - DELETE /orders/items   (cancel some or all of an item)
//   - GET    /orders         (upcoming items, paginated, ETag support)
//
// Idempotency:
// If the client supplies an Idempotency-Key header and a previous successful
// placement exists for (user, "orders", key), the handler returns the current
// state of that order item with charged=0 and sets `Idempotency-Replayed: true`.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/tbourn/canteen-backend/internal/http/middleware"
	"github.com/tbourn/canteen-backend/internal/repo"
	"github.com/tbourn/canteen-backend/internal/services"
	"github.com/tbourn/canteen-backend/internal/utils"
)

// ScopeOrders namespaces Idempotency-Key values of order placements.
const ScopeOrders = "orders"

//
// DTOs
//

// OrderItemRequest is the JSON payload for placing or cancelling an item.
// Quantity defaults to 1.
type OrderItemRequest struct {
	MenuItemID uint   `json:"menu_item_id" binding:"required,gt=0" example:"12"`
	Date       string `json:"date"         binding:"required,isodate" example:"2024-06-03"`
	Quantity   int    `json:"quantity"     binding:"omitempty,gt=0" example:"1"`
}

func (r OrderItemRequest) qty() int {
	if r.Quantity == 0 {
		return 1
	}
	return r.Quantity
}

// ListOrdersResponse contains a page of upcoming order items.
type ListOrdersResponse struct {
	Items      []services.UpcomingItem `json:"items"`
	Pagination Pagination              `json:"pagination"`
}

//
// Helpers
//

// orderDB returns the database behind the concrete OrderService, if any.
// Replays and ETags are best effort and skipped without it.
func (h *Handlers) orderDB() *gorm.DB {
	if svc, ok := h.svc.Orders.(*services.OrderService); ok {
		return svc.DB
	}
	return nil
}

// replayPlacement rebuilds the response of a recorded placement.
func replayPlacement(ctx context.Context, db *gorm.DB, userID uint, key string, now time.Time) (*services.PlaceResult, bool) {
	rec, err := repo.GetIdempotency(ctx, db, userID, ScopeOrders, key, now)
	if err != nil {
		return nil, false
	}
	it, err := repo.GetOrderItemByID(ctx, db, rec.ResourceID)
	if err != nil || it.Order.UserID != userID {
		return nil, false
	}
	balance, err := services.BalanceLedger{}.CurrentBalance(ctx, db, userID)
	if err != nil {
		return nil, false
	}
	return &services.PlaceResult{
		OrderID:     it.OrderID,
		OrderItemID: it.ID,
		Date:        it.Order.ServiceDate,
		Quantity:    it.Quantity,
		UnitPrice:   it.Price,
		Charged:     decimal.Zero,
		Balance:     balance,
	}, true
}

//
// Handlers
//

// PlaceOrder godoc
// @ID          placeOrder
// @Summary     Order a menu item
// @Description Adds quantity of a menu item to the caller's order for the date. Repeating
// @Description the call increments the quantity. Refusals carry the deny reason as code.
// @Description Supports idempotency via the Idempotency-Key header (same key → same result).
// @Tags        Orders
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       Idempotency-Key  header  string                     false  "Idempotency key for safe retries"
// @Param       body             body    handlers.OrderItemRequest  true   "Item to order"
//
// @Success     201  {object}  services.PlaceResult    "Placed"
// @Success     200  {object}  services.PlaceResult    "Replayed"
// @Header      200  {string}  Idempotency-Replayed    "true on replay"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Menu item not found"
// @Failure     409  {object}  handlers.ErrorResponse  "order_closed, already_ordered, order_locked, group_limit"
// @Failure     422  {object}  handlers.ErrorResponse  "insufficient_balance, debit_limit_exceeded, not_listed"
// @Failure     503  {object}  handlers.ErrorResponse  "internal_error (ordering unavailable)"
// @Router      /orders [post]
func (h *Handlers) PlaceOrder(c *gin.Context) {
	ctx := c.Request.Context()
	uid, okUser := currentUser(c)
	if !okUser {
		return
	}
	var req OrderItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, bindMessage(err))
		return
	}

	db := h.orderDB()
	idemKey, _ := middleware.GetIdempotencyKey(c)
	if idemKey != "" && db != nil {
		if prev, found := replayPlacement(ctx, db, uid, idemKey, h.opts.Now().UTC()); found {
			c.Header("Idempotency-Replayed", "true")
			ok(c, http.StatusOK, prev)
			return
		}
	}

	res, err := h.svc.Orders.Place(ctx, uid, req.MenuItemID, req.Date, req.qty())
	if err != nil {
		failErr(c, err)
		return
	}

	// Record for replay – best effort.
	if idemKey != "" && db != nil {
		if _, err := repo.CreateIdempotency(ctx, db, uid, ScopeOrders, idemKey, res.OrderItemID, http.StatusCreated, h.opts.IdempotencyTTL); err != nil && !errors.Is(err, repo.ErrDuplicate) {
			middleware.LoggerFrom(c).Warn().Err(err).Msg("idempotency record not stored")
		}
	}
	ok(c, http.StatusCreated, res)
}

// CancelOrderItem godoc
// @ID          cancelOrderItem
// @Summary     Cancel an ordered item
// @Description Removes quantity (default 1) of an item from the caller's order for the date.
// @Description The refund is the frozen unit price. Removing the last item deletes the order.
// @Tags        Orders
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       body  body  handlers.OrderItemRequest  true  "Item to cancel"
//
// @Success     200  {object}  services.CancelResult
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Order item not found"
// @Failure     409  {object}  handlers.ErrorResponse  "order_closed, order_locked"
// @Router      /orders/items [delete]
func (h *Handlers) CancelOrderItem(c *gin.Context) {
	uid, okUser := currentUser(c)
	if !okUser {
		return
	}
	var req OrderItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, bindMessage(err))
		return
	}
	res, err := h.svc.Orders.Cancel(c.Request.Context(), uid, req.MenuItemID, req.Date, req.qty())
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, res)
}

// ListOrders godoc
// @ID          listOrders
// @Summary     Upcoming order items (paginated)
// @Description Returns the caller's charged items from a date onwards (default today), each
// @Description with whether it may still be cancelled. Supports weak ETag via If-None-Match.
// @Tags        Orders
// @Produce     json
// @Security    BearerAuth
//
// @Param       If-None-Match  header  string  false  "Return 304 if ETag matches"
// @Param       from           query   string  false  "First service date (YYYY-MM-DD)"
// @Param       page           query   int     false  "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false  "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object}  handlers.ListOrdersResponse
// @Header      200  {string}  ETag  "Weak ETag for current result"
// @Success     304  {string}  string  "Not Modified"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Router      /orders [get]
func (h *Handlers) ListOrders(c *gin.Context) {
	ctx := c.Request.Context()
	uid, okUser := currentUser(c)
	if !okUser {
		return
	}
	from := c.DefaultQuery("from", h.today(0))
	page, pageSize := utils.Page(c.Query("page"), c.Query("page_size"), 20, 100)

	// ETag pre-check (best effort).
	if db := h.orderDB(); db != nil {
		count, maxTS, err := repo.OrdersStats(ctx, db, uid, from)
		if err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.UnixNano()
			}
			// can_cancel flips at closing instants, which fall on whole minutes.
			minute := h.opts.Now().Unix() / 60
			etag := fmt.Sprintf(`W/"orders:%d:%s:%d:%d:%d:%d:%d"`, uid, from, page, pageSize, count, ts, minute)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	items, total, err := h.svc.Orders.ListUpcoming(ctx, uid, from, page, pageSize)
	if err != nil {
		failErr(c, err)
		return
	}
	totalPages := utils.TotalPages(total, pageSize)
	ok(c, http.StatusOK, ListOrdersResponse{
		Items: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}
