package observability

import (
	"strings"
	"testing"
)

func TestSanitizeRouteStripsControlCharacters(t *testing.T) {
	if got := SanitizeRoute("/v1/cart\n/forged line"); got != "/v1/cart/forged line" {
		t.Fatalf("unexpected route %q", got)
	}
	if got := SanitizeRoute(""); got != "/" {
		t.Fatalf("expected root for empty route, got %q", got)
	}
	if got := SanitizeRoute("/" + strings.Repeat("é", 300)); len([]rune(got)) != routeLimit {
		t.Fatalf("expected %d runes, got %d", routeLimit, len([]rune(got)))
	}
}

func TestSanitizeMethodAndDeviceID(t *testing.T) {
	if got := SanitizeMethod("post\r"); got != "POST" {
		t.Fatalf("unexpected method %q", got)
	}
	if got := SanitizeDeviceID(" 5b0f6c1e\t"); got != "5b0f6c1e" {
		t.Fatalf("unexpected device id %q", got)
	}
}
