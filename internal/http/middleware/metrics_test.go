package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// ordersRouter mimics the order routes: auth in front, a handler that denies
// with a deny-reason code, and a conditional GET that answers 304.
func ordersRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Metrics())
	api := r.Group("/api/v1", Authenticate(AuthOptions{AllowHeader: true}))
	api.POST("/orders", func(c *gin.Context) {
		SetErrorCode(c, "insufficient_balance")
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"code": "insufficient_balance"})
	})
	api.GET("/orders", func(c *gin.Context) {
		if c.GetHeader("If-None-Match") != "" {
			c.Status(http.StatusNotModified)
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": []string{}})
	})
	api.POST("/admin/orders/:id/cancel", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "status": "cancelled_by_staff"})
	})
	return r
}

func send(r *gin.Engine, method, path, userID string, hdr ...string) int {
	req := httptest.NewRequest(method, path, nil)
	if userID != "" {
		req.Header.Set(HeaderUserID, userID)
	}
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestMetrics_DenyCodesByRoute(t *testing.T) {
	r := ordersRouter()

	denied := httpErrors.WithLabelValues("POST", "/api/v1/orders", "insufficient_balance")
	anon := httpErrors.WithLabelValues("POST", "/api/v1/orders", "unauthorized")
	reqs422 := httpReqs.WithLabelValues("POST", "/api/v1/orders", "422")
	baseDenied, baseAnon, base422 := testutil.ToFloat64(denied), testutil.ToFloat64(anon), testutil.ToFloat64(reqs422)

	if code := send(r, http.MethodPost, "/api/v1/orders", "7"); code != http.StatusUnprocessableEntity {
		t.Fatalf("POST /orders = %d", code)
	}
	if code := send(r, http.MethodPost, "/api/v1/orders", ""); code != http.StatusUnauthorized {
		t.Fatalf("anonymous POST /orders = %d", code)
	}

	if got := testutil.ToFloat64(denied); got != baseDenied+1 {
		t.Fatalf("insufficient_balance = %v; want %v", got, baseDenied+1)
	}
	if got := testutil.ToFloat64(anon); got != baseAnon+1 {
		t.Fatalf("unauthorized = %v; want %v", got, baseAnon+1)
	}
	if got := testutil.ToFloat64(reqs422); got != base422+1 {
		t.Fatalf("http_requests_total 422 = %v; want %v", got, base422+1)
	}
}

func TestMetrics_RouteTemplateAndSuccess(t *testing.T) {
	r := ordersRouter()

	cancel := httpReqs.WithLabelValues("POST", "/api/v1/admin/orders/:id/cancel", "200")
	notModified := httpReqs.WithLabelValues("GET", "/api/v1/orders", "304")
	base, base304 := testutil.ToFloat64(cancel), testutil.ToFloat64(notModified)
	baseErr := testutil.CollectAndCount(httpErrors)

	for _, id := range []string{"11", "12", "13"} {
		if code := send(r, http.MethodPost, "/api/v1/admin/orders/"+id+"/cancel", "1"); code != http.StatusOK {
			t.Fatalf("cancel %s = %d", id, code)
		}
	}
	if code := send(r, http.MethodGet, "/api/v1/orders", "1", "If-None-Match", `W/"x"`); code != http.StatusNotModified {
		t.Fatalf("conditional GET = %d", code)
	}

	if got := testutil.ToFloat64(cancel); got != base+3 {
		t.Fatalf("cancel counter = %v; want %v (one series for all ids)", got, base+3)
	}
	if got := testutil.ToFloat64(notModified); got != base304+1 {
		t.Fatalf("304 counter = %v; want %v", got, base304+1)
	}
	if got := testutil.CollectAndCount(httpErrors); got != baseErr {
		t.Fatalf("error series grew on success: %d -> %d", baseErr, got)
	}
	if inFlight := testutil.ToFloat64(httpInflight); inFlight != 0 {
		t.Fatalf("httpInflight = %v; want 0", inFlight)
	}
}

func TestMetrics_UnmatchedAndUncoded(t *testing.T) {
	r := ordersRouter()
	r.GET("/api/v1/boom", func(c *gin.Context) { c.Status(http.StatusBadGateway) })

	miss := httpErrors.WithLabelValues("GET", "/api/v1/nope", uncoded)
	boom := httpErrors.WithLabelValues("GET", "/api/v1/boom", uncoded)
	baseMiss, baseBoom := testutil.ToFloat64(miss), testutil.ToFloat64(boom)

	if code := send(r, http.MethodGet, "/api/v1/nope", "1"); code != http.StatusNotFound {
		t.Fatalf("unmatched = %d", code)
	}
	if code := send(r, http.MethodGet, "/api/v1/boom", "1"); code != http.StatusBadGateway {
		t.Fatalf("boom = %d", code)
	}
	if got := testutil.ToFloat64(miss); got != baseMiss+1 {
		t.Fatalf("unmatched path label = %v; want %v", got, baseMiss+1)
	}
	if got := testutil.ToFloat64(boom); got != baseBoom+1 {
		t.Fatalf("uncoded = %v; want %v", got, baseBoom+1)
	}
}
