// Menu HTTP handlers.
//
// This file exposes the read side of ordering:
//   - GET /menu          (days with listed items and a verdict per item)
//   - GET /eligibility   (one verdict)
//
// and the staff endpoint that publishes a menu:
//   - POST /admin/menus
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/canteen-backend/internal/services"
)

// MenuQuery selects the days to render: either an explicit from/to range or
// a date and a view (day, week, month) around it.
type MenuQuery struct {
	From string `form:"from" binding:"omitempty,isodate" example:"2024-06-03"`
	To   string `form:"to"   binding:"omitempty,isodate" example:"2024-06-07"`
	Date string `form:"date" binding:"omitempty,isodate" example:"2024-06-05"`
	View string `form:"view" binding:"omitempty,oneof=day week month" example:"week"`
}

// MenuResponse wraps the rendered days.
type MenuResponse struct {
	From string             `json:"from"`
	To   string             `json:"to"`
	Days []services.MenuDay `json:"days"`
}

// EligibilityQuery names the item and date to evaluate.
type EligibilityQuery struct {
	MenuItemID uint   `form:"menu_item_id" binding:"required,gt=0" example:"12"`
	Date       string `form:"date"         binding:"required,isodate" example:"2024-06-03"`
}

// GetMenu godoc
// @ID          getMenu
// @Summary     Menu with eligibility
// @Description Lists every day in the range with its listed items. Each item carries the
// @Description caller's verdict (can order, price, deny reason, closing time).
// @Description Without parameters the current week is shown.
// @Tags        Menu
// @Produce     json
// @Security    BearerAuth
//
// @Param       from  query  string  false  "First day (YYYY-MM-DD)"
// @Param       to    query  string  false  "Last day (YYYY-MM-DD)"
// @Param       date  query  string  false  "Anchor day for view (YYYY-MM-DD)"
// @Param       view  query  string  false  "day, week or month"  Enums(day, week, month)
//
// @Success     200  {object}  handlers.MenuResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     404  {object}  handlers.ErrorResponse  "User not found"
// @Router      /menu [get]
func (h *Handlers) GetMenu(c *gin.Context) {
	uid, okUser := currentUser(c)
	if !okUser {
		return
	}
	var q MenuQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, bindMessage(err))
		return
	}

	from, to := q.From, q.To
	switch {
	case q.Date != "" || q.View != "":
		date := q.Date
		if date == "" {
			date = h.today(0)
		}
		var err error
		if from, to, err = services.ViewRange(date, q.View); err != nil {
			failErr(c, err)
			return
		}
	case from == "" && to == "":
		var err error
		if from, to, err = services.ViewRange(h.today(0), "week"); err != nil {
			failErr(c, err)
			return
		}
	case from == "" || to == "":
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "from and to must be given together")
		return
	}

	days, err := h.svc.Menu.Range(c.Request.Context(), uid, from, to)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, MenuResponse{From: from, To: to, Days: days})
}

// GetEligibility godoc
// @ID          getEligibility
// @Summary     Evaluate one menu item
// @Description Returns the verdict for the caller, menu item and date. A refusal is a
// @Description normal 200 response with can_order=false and a reason.
// @Tags        Menu
// @Produce     json
// @Security    BearerAuth
//
// @Param       menu_item_id  query  int     true  "Menu item ID"  minimum(1)
// @Param       date          query  string  true  "Service date (YYYY-MM-DD)"
//
// @Success     200  {object}  services.EligibilityResult
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Router      /eligibility [get]
func (h *Handlers) GetEligibility(c *gin.Context) {
	uid, okUser := currentUser(c)
	if !okUser {
		return
	}
	var q EligibilityQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, bindMessage(err))
		return
	}
	ok(c, http.StatusOK, h.svc.Eligible.Evaluate(c.Request.Context(), uid, q.MenuItemID, q.Date))
}

// CreateMenu godoc
// @ID          createMenu
// @Summary     Publish a menu
// @Description Creates a menu valid for a date window. Windows of two menus may not overlap.
// @Tags        Admin
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       body  body  services.MenuInput  true  "Menu"
//
// @Success     201  {object}  domain.Menu
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     403  {object}  handlers.ErrorResponse  "Staff only"
// @Failure     409  {object}  handlers.ErrorResponse  "Overlapping menu"
// @Router      /admin/menus [post]
func (h *Handlers) CreateMenu(c *gin.Context) {
	uid, okUser := currentUser(c)
	if !okUser {
		return
	}
	var in services.MenuInput
	if err := c.ShouldBindJSON(&in); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, bindMessage(err))
		return
	}
	m, err := h.svc.Menu.CreateMenu(c.Request.Context(), uid, in)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, m)
}
