package handlers

import (
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
)

func TestOrderHandlers_RequireLogin(t *testing.T) {
	shop := newTestShop(t)

	for _, path := range []string{"/v1/orders", "/v1/dashboard"} {
		rr := shop.do(t, http.MethodGet, path, "")
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", path, rr.Code)
		}
		if body := decodeError(t, rr); body["error"] != "not_authenticated" {
			t.Fatalf("%s: unexpected body %#v", path, body)
		}
	}
}

func TestOrderHandlers_DashboardSummary(t *testing.T) {
	shop := newTestShop(t)
	shop.signup(t, "business")

	shop.do(t, http.MethodPost, "/v1/cart/items", `{"name":"Rice","price":200}`)
	if rr := shop.do(t, http.MethodPost, "/v1/checkout", ""); rr.Code != http.StatusCreated {
		t.Fatalf("checkout: expected 201, got %d", rr.Code)
	}

	rr := shop.do(t, http.MethodGet, "/v1/dashboard", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var dashboard dashboardPayload
	decodeEnvelope(t, rr, &dashboard)
	summary := dashboard.Summary
	if summary.TotalOrders != 1 || !summary.TotalSpent.Equal(decimal.RequireFromString("262.8")) {
		t.Fatalf("unexpected summary %#v", summary)
	}
	// 5% of 262.8
	if !summary.BusinessSavings.Equal(decimal.RequireFromString("13.14")) {
		t.Fatalf("expected business savings 13.14, got %s", summary.BusinessSavings)
	}
	if len(summary.Recent) != 1 || dashboard.Products != nil {
		t.Fatalf("unexpected recent orders or listings %#v", dashboard)
	}
}
