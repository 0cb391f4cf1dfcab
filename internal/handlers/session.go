package handlers

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/farmstall/api/internal/platform/httpx"
	"github.com/farmstall/api/internal/platform/requestctx"
	"github.com/farmstall/api/internal/services"
)

// SessionHandlers manage signup, login and logout for the calling device.
type SessionHandlers struct {
	resolve StorefrontResolver
	logins  attemptLimiter
}

// SessionOption customises SessionHandlers.
type SessionOption func(*SessionHandlers)

// WithLoginRateLimit caps login attempts per device and email within window.
func WithLoginRateLimit(limit int, window time.Duration, clock func() time.Time) SessionOption {
	return func(h *SessionHandlers) {
		h.logins = newWindowLimiter(limit, window, clock)
	}
}

// NewSessionHandlers constructs the session handlers.
func NewSessionHandlers(resolve StorefrontResolver, opts ...SessionOption) *SessionHandlers {
	h := &SessionHandlers{resolve: resolve}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes wires the /session endpoints.
func (h *SessionHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.current)
	r.Delete("/", h.logout)
	r.Post("/signup", h.signup)
	r.Post("/login", h.login)
}

type signupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionPayload struct {
	LoggedIn bool                  `json:"loggedIn"`
	User     *services.SessionUser `json:"user,omitempty"`
}

func (h *SessionHandlers) current(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sf, ok := resolveStorefront(w, r, h.resolve)
	if !ok {
		return
	}
	user, loggedIn, err := sf.Sessions.CurrentUser(ctx)
	if err != nil {
		h.writeSessionError(ctx, w, sf, err)
		return
	}
	payload := sessionPayload{LoggedIn: loggedIn}
	if loggedIn {
		payload.User = &user
	}
	respond(w, http.StatusOK, sf, payload)
}

func (h *SessionHandlers) signup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sf, ok := resolveStorefront(w, r, h.resolve)
	if !ok {
		return
	}
	var req signupRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		respondError(ctx, w, sf, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	user, err := sf.Sessions.Signup(ctx, services.SignupCommand{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Role:     req.Role,
	})
	if err != nil {
		h.writeSessionError(ctx, w, sf, err)
		return
	}
	respond(w, http.StatusCreated, sf, sessionPayload{LoggedIn: true, User: &user})
}

func (h *SessionHandlers) login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sf, ok := resolveStorefront(w, r, h.resolve)
	if !ok {
		return
	}
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		respondError(ctx, w, sf, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	if h.logins != nil {
		device, _ := requestctx.DeviceID(ctx)
		if allowed, retry := h.logins.Allow(device + "|" + req.Email); !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
			respondError(ctx, w, sf, httpx.NewError("too_many_attempts", "Too many login attempts, try again later", http.StatusTooManyRequests))
			return
		}
	}
	user, err := sf.Sessions.Login(ctx, req.Email, req.Password)
	if err != nil {
		h.writeSessionError(ctx, w, sf, err)
		return
	}
	respond(w, http.StatusOK, sf, sessionPayload{LoggedIn: true, User: &user})
}

func (h *SessionHandlers) logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sf, ok := resolveStorefront(w, r, h.resolve)
	if !ok {
		return
	}
	if err := sf.Sessions.Logout(ctx); err != nil {
		h.writeSessionError(ctx, w, sf, err)
		return
	}
	respond(w, http.StatusOK, sf, sessionPayload{LoggedIn: false})
}

func (h *SessionHandlers) writeSessionError(ctx context.Context, w http.ResponseWriter, sf *Storefront, err error) {
	switch {
	case errors.Is(err, services.ErrInvalidInput):
		respondError(ctx, w, sf, httpx.NewError("invalid_signup", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrEmailTaken):
		respondError(ctx, w, sf, httpx.NewError("email_taken", "Email already registered", http.StatusConflict))
	case errors.Is(err, services.ErrInvalidCredentials):
		respondError(ctx, w, sf, httpx.NewError("invalid_credentials", "Invalid email or password", http.StatusUnauthorized))
	default:
		requestctx.Logger(ctx).Error("session request failed", zap.Error(err))
		respondError(ctx, w, sf, httpx.NewError("session_unavailable", "session is unavailable", http.StatusInternalServerError))
	}
}
