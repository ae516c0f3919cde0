// Staff HTTP handlers. Every route here sits behind StaffOnly.
//
//   - POST /admin/orders/bulk                (book items for many users)
//   - POST /admin/orders/{id}/cancel         (cancel a whole order, refund)
//   - POST /admin/orders/{id}/issue          (hand out an order)
//   - POST /admin/order-items/{id}/issue     (hand out one item)
//   - POST /admin/recalculations             (retroactive repricing)
//   - POST /admin/sweeps/unclaimed           (mark past open orders unclaimed)
//   - POST /admin/sweeps/zero-balances       (month-end debt zeroing)
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/canteen-backend/internal/services"
	"github.com/tbourn/canteen-backend/internal/utils"
)

// IssueOrderRequest optionally restricts issuance to some categories.
type IssueOrderRequest struct {
	CategoryIDs []uint `json:"category_ids" binding:"omitempty,dive,gt=0"`
}

// RecalcRequest selects the service dates to reprice.
type RecalcRequest struct {
	From   string `json:"from"    binding:"required,isodate" example:"2024-06-01"`
	To     string `json:"to"      binding:"required,isodate" example:"2024-06-30"`
	DryRun bool   `json:"dry_run" example:"true"`
}

// SweepRequest bounds the unclaimed sweep. Through defaults to yesterday.
type SweepRequest struct {
	Through string `json:"through" binding:"omitempty,isodate" example:"2024-06-02"`
}

// SweepResponse reports the unclaimed sweep.
type SweepResponse struct {
	Through string `json:"through"`
	Orders  int64  `json:"orders"`
}

// orderIDParam reads the positive :id path parameter or writes 400.
func orderIDParam(c *gin.Context) (uint, bool) {
	id, valid := utils.ParseID(c.Param("id"))
	if !valid {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "id must be a positive integer")
	}
	return id, valid
}

// bindOptionalJSON binds the body when one was sent.
func bindOptionalJSON(c *gin.Context, dst any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, bindMessage(err))
		return false
	}
	return true
}

// BulkOrder godoc
// @ID          bulkOrder
// @Summary     Book items for many users
// @Description Books the same menu items on one date for every listed user. Each user is
// @Description handled on its own; refusals are reported per user and do not abort the run.
// @Tags        Admin
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       body  body  services.BulkOrderInput  true  "Bulk request"
//
// @Success     200  {object}  services.BulkOrderReport
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     403  {object}  handlers.ErrorResponse  "Staff only"
// @Failure     404  {object}  handlers.ErrorResponse  "Menu item not found"
// @Router      /admin/orders/bulk [post]
func (h *Handlers) BulkOrder(c *gin.Context) {
	uid, okUser := currentUser(c)
	if !okUser {
		return
	}
	var in services.BulkOrderInput
	if err := c.ShouldBindJSON(&in); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, bindMessage(err))
		return
	}
	rep, err := h.svc.Bulk.Create(c.Request.Context(), uid, in)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, rep)
}

// StaffCancelOrder godoc
// @ID          staffCancelOrder
// @Summary     Cancel an order
// @Description Cancels an open order regardless of the closing time and refunds its charges.
// @Tags        Admin
// @Produce     json
// @Security    BearerAuth
//
// @Param       id  path  int  true  "Order ID"
//
// @Success     200  {object}  domain.Order
// @Failure     403  {object}  handlers.ErrorResponse  "Staff only"
// @Failure     404  {object}  handlers.ErrorResponse  "Order not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Order already issued or closed"
// @Router      /admin/orders/{id}/cancel [post]
func (h *Handlers) StaffCancelOrder(c *gin.Context) {
	uid, okUser := currentUser(c)
	if !okUser {
		return
	}
	id, valid := orderIDParam(c)
	if !valid {
		return
	}
	o, err := h.svc.Orders.StaffCancel(c.Request.Context(), uid, id)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, o)
}

// IssueOrder godoc
// @ID          issueOrder
// @Summary     Issue an order
// @Description Marks the order's items as handed out, optionally only those of some
// @Description categories. The order becomes issued once every item is.
// @Tags        Admin
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       id    path  int                         true   "Order ID"
// @Param       body  body  handlers.IssueOrderRequest  false  "Category filter"
//
// @Success     200  {object}  domain.Order
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     403  {object}  handlers.ErrorResponse  "Staff only"
// @Failure     404  {object}  handlers.ErrorResponse  "Order not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Invalid transition"
// @Router      /admin/orders/{id}/issue [post]
func (h *Handlers) IssueOrder(c *gin.Context) {
	uid, okUser := currentUser(c)
	if !okUser {
		return
	}
	id, valid := orderIDParam(c)
	if !valid {
		return
	}
	var req IssueOrderRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	o, err := h.svc.Orders.IssueOrder(c.Request.Context(), uid, id, req.CategoryIDs)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, o)
}

// IssueOrderItem godoc
// @ID          issueOrderItem
// @Summary     Issue one order item
// @Tags        Admin
// @Produce     json
// @Security    BearerAuth
//
// @Param       id  path  int  true  "Order item ID"
//
// @Success     200  {object}  domain.Order
// @Failure     403  {object}  handlers.ErrorResponse  "Staff only"
// @Failure     404  {object}  handlers.ErrorResponse  "Order item not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Already issued"
// @Router      /admin/order-items/{id}/issue [post]
func (h *Handlers) IssueOrderItem(c *gin.Context) {
	uid, okUser := currentUser(c)
	if !okUser {
		return
	}
	id, valid := orderIDParam(c)
	if !valid {
		return
	}
	o, err := h.svc.Orders.IssueItem(c.Request.Context(), uid, id)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, o)
}

// Recalculate godoc
// @ID          recalculate
// @Summary     Reprice orders retroactively
// @Description Recomputes the unit price of every charged item in the range under the
// @Description current subsidy rules. With dry_run the changes are reported, not stored.
// @Tags        Admin
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       body  body  handlers.RecalcRequest  true  "Range"
//
// @Success     200  {object}  services.RecalcReport
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     403  {object}  handlers.ErrorResponse  "Staff only"
// @Router      /admin/recalculations [post]
func (h *Handlers) Recalculate(c *gin.Context) {
	uid, okUser := currentUser(c)
	if !okUser {
		return
	}
	var req RecalcRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, bindMessage(err))
		return
	}
	rep, err := h.svc.Recalc.Recalculate(c.Request.Context(), uid, req.From, req.To, req.DryRun)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, rep)
}

// SweepUnclaimed godoc
// @ID          sweepUnclaimed
// @Summary     Mark unclaimed orders
// @Description Moves open orders served on or before `through` (default yesterday) to unclaimed.
// @Tags        Admin
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       body  body  handlers.SweepRequest  false  "Cut-off date"
//
// @Success     200  {object}  handlers.SweepResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     403  {object}  handlers.ErrorResponse  "Staff only"
// @Router      /admin/sweeps/unclaimed [post]
func (h *Handlers) SweepUnclaimed(c *gin.Context) {
	var req SweepRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	if req.Through == "" {
		req.Through = h.today(-1)
	}
	n, err := h.svc.Sweeps.MarkUnclaimed(c.Request.Context(), req.Through)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, SweepResponse{Through: req.Through, Orders: n})
}

// ZeroBalances godoc
// @ID          zeroBalances
// @Summary     Zero negative balances
// @Description Books a compensating deposit for every user whose balance is below zero.
// @Tags        Admin
// @Produce     json
// @Security    BearerAuth
//
// @Success     200  {object}  services.ZeroingReport
// @Failure     403  {object}  handlers.ErrorResponse  "Staff only"
// @Router      /admin/sweeps/zero-balances [post]
func (h *Handlers) ZeroBalances(c *gin.Context) {
	rep, err := h.svc.Sweeps.ZeroNegativeBalances(c.Request.Context())
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, rep)
}
