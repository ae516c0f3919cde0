package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/canteen-backend/internal/domain"
	"github.com/tbourn/canteen-backend/internal/http/middleware"
	"github.com/tbourn/canteen-backend/internal/repo"
	"github.com/tbourn/canteen-backend/internal/services"
)

// prague is a fixed summer offset so tests do not depend on tzdata.
var prague = time.FixedZone("CEST", 2*60*60)

// api is a router over real services: one pupil (alice) with 200.00 on the
// account, one staff member, a June 2024 menu (soup 20.00, main 80.00),
// ordering closing one operating day ahead at 07:00, and the clock at
// Thursday 2024-05-30 12:00 local.
type api struct {
	t      *testing.T
	DB     *gorm.DB
	Router *gin.Engine
	Now    time.Time

	Alice    domain.User
	Staff    domain.User
	Soup     domain.FoodCategory
	Main     domain.FoodCategory
	SoupItem domain.MenuItem
	MainItem domain.MenuItem
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:handlers_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	db.Exec("PRAGMA foreign_keys=ON;")
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func mustCreate(t *testing.T, db *gorm.DB, v any) {
	t.Helper()
	if err := db.Create(v).Error; err != nil {
		t.Fatalf("seed %T: %v", v, err)
	}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newAPI(t *testing.T) *api {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	a := &api{t: t, DB: db, Now: time.Date(2024, 5, 30, 12, 0, 0, 0, prague)}

	group := domain.Group{Name: "pupils"}
	mustCreate(t, db, &group)
	a.Alice = domain.User{Username: "alice", IsActive: true, BillingGroupID: &group.ID}
	mustCreate(t, db, &a.Alice)
	a.Staff = domain.User{Username: "cook", IsStaff: true, IsActive: true}
	mustCreate(t, db, &a.Staff)
	mustCreate(t, db, &domain.Deposit{UserID: a.Alice.ID, Amount: dec("200.00"), Kind: domain.DepositStandard})

	a.Soup = domain.FoodCategory{Name: "soup", Position: 1}
	a.Main = domain.FoodCategory{Name: "main", Position: 2}
	mustCreate(t, db, &a.Soup)
	mustCreate(t, db, &a.Main)
	soup := domain.Meal{Name: "Goulash soup", BasePrice: dec("20.00")}
	main := domain.Meal{Name: "Schnitzel", BasePrice: dec("80.00")}
	mustCreate(t, db, &soup)
	mustCreate(t, db, &main)
	menu := domain.Menu{Name: "June", ValidFrom: "2024-06-01", ValidTo: "2024-06-30"}
	mustCreate(t, db, &menu)
	a.SoupItem = domain.MenuItem{MenuID: menu.ID, FoodCategoryID: a.Soup.ID, MealID: soup.ID}
	a.MainItem = domain.MenuItem{MenuID: menu.ID, FoodCategoryID: a.Main.ID, MealID: main.ID}
	mustCreate(t, db, &a.SoupItem)
	mustCreate(t, db, &a.MainItem)
	mustCreate(t, db, &domain.ClosingPolicy{Active: true, AdvanceDays: 1, ClosingTime: datatypes.NewTime(7, 0, 0, 0)})

	clock := func() time.Time { return a.Now }
	cutoff := services.NewCutoffResolver(prague)
	cutoff.Now = clock
	engine := services.NewEligibilityEngine(db, cutoff, services.NewMessages(language.English), 10)
	sweeps := services.NewSweepService(db)
	sweeps.Now = clock

	h := New(Services{
		Menu:     services.NewMenuService(engine),
		Eligible: engine,
		Orders:   services.NewOrderService(engine),
		Bulk:     services.NewBulkOrderService(engine),
		Accounts: services.NewAccountService(db),
		Recalc:   services.NewRecalcService(db),
		Sweeps:   sweeps,
	}, Options{Location: prague, IdempotencyTTL: time.Hour, Now: clock})

	r := gin.New()
	r.Use(middleware.Authenticate(middleware.AuthOptions{AllowHeader: true}))
	r.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{}, nil))
	r.GET("/menu", h.GetMenu)
	r.GET("/eligibility", h.GetEligibility)
	r.GET("/account", h.GetAccount)
	r.POST("/orders", h.PlaceOrder)
	r.GET("/orders", h.ListOrders)
	r.DELETE("/orders/items", h.CancelOrderItem)

	admin := r.Group("/admin", h.StaffOnly())
	admin.POST("/menus", h.CreateMenu)
	admin.POST("/orders/bulk", h.BulkOrder)
	admin.POST("/orders/:id/cancel", h.StaffCancelOrder)
	admin.POST("/orders/:id/issue", h.IssueOrder)
	admin.POST("/order-items/:id/issue", h.IssueOrderItem)
	admin.POST("/users/:id/deposits", h.CreateDeposit)
	admin.POST("/recalculations", h.Recalculate)
	admin.POST("/sweeps/unclaimed", h.SweepUnclaimed)
	admin.POST("/sweeps/zero-balances", h.ZeroBalances)

	a.Router = r
	return a
}

// do sends a request as userID (0 = anonymous) with an optional JSON body
// and extra headers given as name/value pairs.
func (a *api) do(method, path string, userID uint, body any, headers ...string) *httptest.ResponseRecorder {
	a.t.Helper()
	var rd *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			a.t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != 0 {
		req.Header.Set(middleware.HeaderUserID, strconv.FormatUint(uint64(userID), 10))
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	a.Router.ServeHTTP(w, req)
	return w
}

func decodeJSON[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("json: %v; body=%s", err, w.Body.String())
	}
	return v
}

func wantStatus(t *testing.T, w *httptest.ResponseRecorder, status int) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("status=%d want %d; body=%s", w.Code, status, w.Body.String())
	}
}

func wantCode(t *testing.T, w *httptest.ResponseRecorder, status int, code string) ErrorResponse {
	t.Helper()
	wantStatus(t, w, status)
	er := decodeJSON[ErrorResponse](t, w)
	if er.Code != code {
		t.Fatalf("code=%q want %q (%s)", er.Code, code, er.Message)
	}
	return er
}

// placeSoup orders one soup for alice on 2024-06-03.
func (a *api) placeSoup() services.PlaceResult {
	a.t.Helper()
	w := a.do(http.MethodPost, "/orders", a.Alice.ID, OrderItemRequest{MenuItemID: a.SoupItem.ID, Date: "2024-06-03"})
	wantStatus(a.t, w, http.StatusCreated)
	return decodeJSON[services.PlaceResult](a.t, w)
}
