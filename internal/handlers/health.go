package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/farmstall/api/internal/platform/httpx"
)

const readinessTimeout = 3 * time.Second

// ReadinessCheck reports whether a dependency is able to serve traffic.
type ReadinessCheck func(ctx context.Context) error

// HealthHandlers serve /healthz and /readyz.
type HealthHandlers struct {
	started time.Time
	now     func() time.Time
	version string
	checks  map[string]ReadinessCheck
}

// HealthOption customises HealthHandlers.
type HealthOption func(*HealthHandlers)

// WithHealthClock overrides the clock used for uptime reporting.
func WithHealthClock(now func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if now != nil {
			h.now = now
		}
	}
}

// WithHealthVersion reports the build version on /healthz.
func WithHealthVersion(version string) HealthOption {
	return func(h *HealthHandlers) {
		h.version = version
	}
}

// WithReadinessCheck registers a named dependency check for /readyz.
func WithReadinessCheck(name string, check ReadinessCheck) HealthOption {
	return func(h *HealthHandlers) {
		if name != "" && check != nil {
			h.checks[name] = check
		}
	}
}

// NewHealthHandlers constructs the health handlers.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{now: time.Now, checks: map[string]ReadinessCheck{}}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	h.started = h.now()
	return h
}

// Healthz reports liveness.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	payload := map[string]any{
		"status":    "ok",
		"uptime":    now.Sub(h.started).Round(time.Second).String(),
		"timestamp": now.UTC().Format(time.RFC3339),
	}
	if h.version != "" {
		payload["version"] = h.version
	}
	httpx.WriteJSON(w, http.StatusOK, payload)
}

// Readyz runs every registered check and answers 503 when any fails.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	results := make(map[string]string, len(names))
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			results[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "unavailable"
	}
	httpx.WriteJSON(w, status, map[string]any{"status": overall, "checks": results})
}
