package handlers

import (
	"net/http"
	"testing"
	"time"

	domain "github.com/farmstall/api/internal/domain"
)

func TestSessionHandlers_SignupLoginLogout(t *testing.T) {
	shop := newTestShop(t)

	rr := shop.do(t, http.MethodPost, "/v1/session/signup",
		`{"name":"Ana <b>Cruz</b>","email":" Ana@Example.com ","password":"secret123","role":"Business"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var created sessionPayload
	env := decodeEnvelope(t, rr, &created)
	if !created.LoggedIn || created.User == nil || created.User.Email != "ana@example.com" || created.User.Role != domain.RoleBusiness {
		t.Fatalf("unexpected signup payload %#v", created)
	}
	if !hasNotification(env.Notifications, "Account created successfully as a Business!") {
		t.Fatalf("expected signup notification, got %#v", env.Notifications)
	}

	var current sessionPayload
	decodeEnvelope(t, shop.do(t, http.MethodGet, "/v1/session", ""), &current)
	if !current.LoggedIn || current.User.Name != "Ana Cruz" {
		t.Fatalf("expected logged in session, got %#v", current)
	}

	if rr := shop.do(t, http.MethodDelete, "/v1/session", ""); rr.Code != http.StatusOK {
		t.Fatalf("logout: expected 200, got %d", rr.Code)
	}
	var afterLogout sessionPayload
	decodeEnvelope(t, shop.do(t, http.MethodGet, "/v1/session", ""), &afterLogout)
	if afterLogout.LoggedIn || afterLogout.User != nil {
		t.Fatalf("expected logged out, got %#v", afterLogout)
	}

	rr = shop.do(t, http.MethodPost, "/v1/session/login", `{"email":"ANA@example.com","password":"secret123"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestSessionHandlers_Errors(t *testing.T) {
	shop := newTestShop(t)
	shop.signup(t, "farmer")

	dup := shop.do(t, http.MethodPost, "/v1/session/signup",
		`{"name":"Again","email":"farmer@example.com","password":"secret123","role":"consumer"}`)
	if dup.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate email, got %d", dup.Code)
	}

	badRole := shop.do(t, http.MethodPost, "/v1/session/signup",
		`{"name":"Root","email":"root@example.com","password":"secret123","role":"admin"}`)
	if badRole.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown role, got %d", badRole.Code)
	}

	wrong := shop.do(t, http.MethodPost, "/v1/session/login", `{"email":"farmer@example.com","password":"nope-nope"}`)
	if wrong.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong password, got %d", wrong.Code)
	}
	if body := decodeError(t, wrong); body["error"] != "invalid_credentials" {
		t.Fatalf("unexpected error body %#v", body)
	}

	if rr := shop.do(t, http.MethodPost, "/v1/session/login", `not json`); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", rr.Code)
	}
}

func TestSessionHandlers_LoginRateLimit(t *testing.T) {
	now := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	shop := newTestShop(t, WithLoginRateLimit(2, time.Minute, func() time.Time { return now }))

	body := `{"email":"nobody@example.com","password":"whatever"}`
	for i := 0; i < 2; i++ {
		if rr := shop.do(t, http.MethodPost, "/v1/session/login", body); rr.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i, rr.Code)
		}
	}

	rr := shop.do(t, http.MethodPost, "/v1/session/login", body)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if got := rr.Header().Get("Retry-After"); got != "60" {
		t.Fatalf("expected Retry-After 60, got %q", got)
	}

	now = now.Add(time.Minute)
	if rr := shop.do(t, http.MethodPost, "/v1/session/login", body); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected window reset, got %d", rr.Code)
	}
}
