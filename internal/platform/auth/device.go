package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/farmstall/api/internal/platform/requestctx"
)

const (
	// DeviceHeader carries the device token for clients that do not keep cookies.
	DeviceHeader = "X-Device-Token"
	// DeviceCookie carries the device token for browser clients.
	DeviceCookie = "device"

	minSigningKeyLen = 32
)

var (
	// ErrDeviceTokenExpired signals that the device token is past its expiry.
	ErrDeviceTokenExpired = errors.New("auth: device token expired")
	// ErrDeviceTokenInvalid signals a malformed, forged or foreign device token.
	ErrDeviceTokenInvalid = errors.New("auth: device token invalid")
)

// DeviceTokens issues and verifies the signed tokens that bind a browser to its cart and session.
type DeviceTokens struct {
	key          []byte
	issuer       string
	ttl          time.Duration
	cookieSecure bool
	now          func() time.Time
	newID        func() string
	logger       *zap.Logger
}

// DeviceOption customises DeviceTokens.
type DeviceOption func(*DeviceTokens)

// WithDeviceClock overrides the clock used for issuing and validating tokens.
func WithDeviceClock(now func() time.Time) DeviceOption {
	return func(d *DeviceTokens) {
		if now != nil {
			d.now = now
		}
	}
}

// WithDeviceIDGenerator overrides how fresh device ids are minted.
func WithDeviceIDGenerator(fn func() string) DeviceOption {
	return func(d *DeviceTokens) {
		if fn != nil {
			d.newID = fn
		}
	}
}

// WithSecureCookie marks the device cookie Secure.
func WithSecureCookie(secure bool) DeviceOption {
	return func(d *DeviceTokens) {
		d.cookieSecure = secure
	}
}

// WithDeviceLogger sets the logger used when the request carries none.
func WithDeviceLogger(logger *zap.Logger) DeviceOption {
	return func(d *DeviceTokens) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDeviceTokens builds an HS256 device token issuer.
func NewDeviceTokens(signingKey, issuer string, ttl time.Duration, opts ...DeviceOption) (*DeviceTokens, error) {
	signingKey = strings.TrimSpace(signingKey)
	if len(signingKey) < minSigningKeyLen {
		return nil, fmt.Errorf("auth: signing key must be at least %d bytes", minSigningKeyLen)
	}
	if ttl <= 0 {
		return nil, errors.New("auth: device token ttl must be positive")
	}
	d := &DeviceTokens{
		key:    []byte(signingKey),
		issuer: strings.TrimSpace(issuer),
		ttl:    ttl,
		now:    time.Now,
		newID:  func() string { return uuid.NewString() },
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d, nil
}

// Issue signs a token for deviceID and returns it with its expiry.
func (d *DeviceTokens) Issue(deviceID string) (string, time.Time, error) {
	if _, err := uuid.Parse(deviceID); err != nil {
		return "", time.Time{}, fmt.Errorf("auth: device id must be a uuid: %w", err)
	}
	now := d.now().UTC()
	expires := now.Add(d.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   deviceID,
		Issuer:    d.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(d.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign device token: %w", err)
	}
	return signed, expires, nil
}

// Verify checks the signature, issuer and expiry and returns the device id.
func (d *DeviceTokens) Verify(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrDeviceTokenInvalid
	}
	claims := &jwt.RegisteredClaims{}
	// Time claims are checked below against the injected clock.
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if _, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return d.key, nil
	}); err != nil {
		return "", fmt.Errorf("%w: %v", ErrDeviceTokenInvalid, err)
	}
	if !claims.VerifyExpiresAt(d.now(), true) {
		return "", ErrDeviceTokenExpired
	}
	if d.issuer != "" && !claims.VerifyIssuer(d.issuer, true) {
		return "", fmt.Errorf("%w: unexpected issuer %q", ErrDeviceTokenInvalid, claims.Issuer)
	}
	if _, err := uuid.Parse(claims.Subject); err != nil {
		return "", fmt.Errorf("%w: subject is not a device id", ErrDeviceTokenInvalid)
	}
	return claims.Subject, nil
}

// Middleware resolves the calling device from the header or cookie, issuing a fresh device when
// neither carries a valid token. The device id is stored in the request context.
func (d *DeviceTokens) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		logger := requestctx.Logger(ctx)
		if logger == requestctx.NoopLogger() {
			logger = d.logger
		}

		presented := tokenFromRequest(r)
		deviceID, err := d.Verify(presented)
		if err != nil {
			if presented != "" {
				logger.Debug("device token rejected; issuing new device", zap.Error(err))
			}
			deviceID = d.newID()
			token, expires, issueErr := d.Issue(deviceID)
			if issueErr != nil {
				logger.Error("device token issue failed", zap.Error(issueErr))
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			w.Header().Set(DeviceHeader, token)
			http.SetCookie(w, &http.Cookie{
				Name:     DeviceCookie,
				Value:    token,
				Path:     "/",
				Expires:  expires,
				HttpOnly: true,
				Secure:   d.cookieSecure,
				SameSite: http.SameSiteLaxMode,
			})
		}

		ctx = requestctx.WithDeviceID(ctx, deviceID)
		ctx = requestctx.WithLogger(ctx, logger.With(zap.String("deviceId", deviceID)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func tokenFromRequest(r *http.Request) string {
	if token := strings.TrimSpace(r.Header.Get(DeviceHeader)); token != "" {
		return token
	}
	if cookie, err := r.Cookie(DeviceCookie); err == nil {
		return strings.TrimSpace(cookie.Value)
	}
	return ""
}
