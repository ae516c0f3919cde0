// Account HTTP handlers.
//
//   - GET  /account                    (balance summary of the caller)
//   - POST /admin/users/{id}/deposits  (staff top-up or correction)
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/tbourn/canteen-backend/internal/http/middleware"
	"github.com/tbourn/canteen-backend/internal/repo"
	"github.com/tbourn/canteen-backend/internal/services"
	"github.com/tbourn/canteen-backend/internal/utils"
)

// ScopeDeposits namespaces Idempotency-Key values of deposits.
const ScopeDeposits = "deposits"

// DepositRequest is the JSON payload of a deposit. Negative amounts are
// corrections. Amount accepts a JSON number or a decimal string.
type DepositRequest struct {
	Amount decimal.Decimal `json:"amount" swaggertype:"string" example:"150.00"`
	Note   string          `json:"note"   binding:"max=500" example:"cash"`
}

// GetAccount godoc
// @ID          getAccount
// @Summary     Balance summary
// @Description Returns the caller's balance (deposits + subsidy credits − charges), the
// @Description group's debit policy and the most recent deposits.
// @Tags        Account
// @Produce     json
// @Security    BearerAuth
//
// @Success     200  {object}  services.AccountSummary
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     404  {object}  handlers.ErrorResponse  "User not found"
// @Router      /account [get]
func (h *Handlers) GetAccount(c *gin.Context) {
	uid, okUser := currentUser(c)
	if !okUser {
		return
	}
	s, err := h.svc.Accounts.Summary(c.Request.Context(), uid)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, s)
}

// CreateDeposit godoc
// @ID          createDeposit
// @Summary     Record a deposit
// @Description Appends a deposit to a user's account. Supports Idempotency-Key.
// @Tags        Admin
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       Idempotency-Key  header  string                   false  "Idempotency key for safe retries"
// @Param       id               path    int                      true   "User ID"
// @Param       body             body    handlers.DepositRequest  true   "Deposit"
//
// @Success     201  {object}  domain.Deposit  "Created"
// @Success     200  {object}  domain.Deposit  "Replayed"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     403  {object}  handlers.ErrorResponse  "Staff only"
// @Failure     404  {object}  handlers.ErrorResponse  "User not found"
// @Router      /admin/users/{id}/deposits [post]
func (h *Handlers) CreateDeposit(c *gin.Context) {
	ctx := c.Request.Context()
	staffID, okUser := currentUser(c)
	if !okUser {
		return
	}
	userID, valid := utils.ParseID(c.Param("id"))
	if !valid {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "user id must be a positive integer")
		return
	}
	var req DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, bindMessage(err))
		return
	}

	var db *gorm.DB
	if svc, isSvc := h.svc.Accounts.(*services.AccountService); isSvc {
		db = svc.DB
	}
	idemKey, _ := middleware.GetIdempotencyKey(c)
	if idemKey != "" && db != nil {
		if rec, err := repo.GetIdempotency(ctx, db, staffID, ScopeDeposits, idemKey, h.opts.Now().UTC()); err == nil {
			if prev, err := repo.GetDeposit(ctx, db, rec.ResourceID); err == nil && prev.UserID == userID {
				c.Header("Idempotency-Replayed", "true")
				ok(c, http.StatusOK, prev)
				return
			}
		}
	}

	d, err := h.svc.Accounts.Deposit(ctx, staffID, userID, req.Amount, req.Note)
	if err != nil {
		failErr(c, err)
		return
	}
	if idemKey != "" && db != nil {
		if _, err := repo.CreateIdempotency(ctx, db, staffID, ScopeDeposits, idemKey, d.ID, http.StatusCreated, h.opts.IdempotencyTTL); err != nil && !errors.Is(err, repo.ErrDuplicate) {
			middleware.LoggerFrom(c).Warn().Err(err).Msg("idempotency record not stored")
		}
	}
	ok(c, http.StatusCreated, d)
}
