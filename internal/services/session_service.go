package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/bcrypt"

	domain "github.com/farmstall/api/internal/domain"
	"github.com/farmstall/api/internal/platform/kv"
	"github.com/farmstall/api/internal/platform/textutil"
)

const (
	farmerIDPrefix    = "frm_"
	minPasswordLength = 6
	maxNameLength     = 80
)

var (
	errSessionSharedStoreRequired = errors.New("session service: shared store is required")
	errSessionDeviceStoreRequired = errors.New("session service: device store is required")
	errSessionClockRequired       = errors.New("session service: clock is required")
)

// SessionManagerDeps wires account storage and the device session slot.
type SessionManagerDeps struct {
	// Shared holds the users slot.
	Shared kv.Store
	// Device holds the currentUser slot of the calling device.
	Device      kv.Store
	Locker      KeyLocker
	Notifier    Notifier
	Clock       func() time.Time
	IDGenerator func() string
	// HashCost overrides bcrypt.DefaultCost; tests use bcrypt.MinCost.
	HashCost int
	Logger   func(context.Context, string, map[string]any)
}

// SessionManager handles signup, login and logout for one device.
type SessionManager struct {
	shared   kv.Store
	device   kv.Store
	locker   KeyLocker
	notifier Notifier
	now      func() time.Time
	newID    func() string
	cost     int
	logger   func(context.Context, string, map[string]any)
}

var _ SessionService = (*SessionManager)(nil)

// NewSessionManager constructs a SessionManager enforcing dependency validation.
func NewSessionManager(deps SessionManagerDeps) (*SessionManager, error) {
	if deps.Shared == nil {
		return nil, errSessionSharedStoreRequired
	}
	if deps.Device == nil {
		return nil, errSessionDeviceStoreRequired
	}
	if deps.Clock == nil {
		return nil, errSessionClockRequired
	}
	locker := deps.Locker
	if locker == nil {
		locker = kv.NewLocker()
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	cost := deps.HashCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &SessionManager{
		shared:   deps.Shared,
		device:   deps.Device,
		locker:   locker,
		notifier: deps.Notifier,
		now:      func() time.Time { return deps.Clock().UTC() },
		newID:    idGen,
		cost:     cost,
		logger:   logger,
	}, nil
}

// CurrentUser returns the identity logged in on this device. A corrupt slot reads as logged out.
func (s *SessionManager) CurrentUser(ctx context.Context) (SessionUser, bool, error) {
	var user SessionUser
	ok, err := kv.ReadJSON(ctx, s.device, kv.KeyCurrentUser, &user)
	if err != nil {
		if errors.Is(err, kv.ErrCorrupt) {
			s.logger(ctx, "session.corrupt", map[string]any{"error": err.Error()})
			return SessionUser{}, false, nil
		}
		return SessionUser{}, false, fmt.Errorf("session service: read current user: %w", err)
	}
	if !ok || strings.TrimSpace(user.Email) == "" {
		return SessionUser{}, false, nil
	}
	return user, true, nil
}

// Signup registers a new account and logs it in on this device.
func (s *SessionManager) Signup(ctx context.Context, cmd SignupCommand) (SessionUser, error) {
	name := textutil.Truncate(textutil.PlainText(cmd.Name), maxNameLength)
	email := normalizeEmail(cmd.Email)
	role, ok := domain.ParseRole(cmd.Role)
	switch {
	case name == "":
		return SessionUser{}, fmt.Errorf("%w: full name is required", ErrInvalidInput)
	case email == "" || !strings.Contains(email, "@"):
		return SessionUser{}, fmt.Errorf("%w: a valid email is required", ErrInvalidInput)
	case len(cmd.Password) < minPasswordLength:
		return SessionUser{}, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	case !ok:
		return SessionUser{}, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, cmd.Role)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(cmd.Password), s.cost)
	if err != nil {
		return SessionUser{}, fmt.Errorf("session service: hash password: %w", err)
	}

	lockCtx, unlock := s.locker.Lock(ctx, kv.ResolveKey(s.shared, kv.KeyUsers))
	users, err := s.loadUsers(lockCtx)
	if err != nil {
		unlock()
		return SessionUser{}, err
	}
	for _, existing := range users {
		if normalizeEmail(existing.Email) == email {
			unlock()
			return SessionUser{}, ErrEmailTaken
		}
	}

	id := s.newID()
	if role == domain.RoleFarmer {
		id = farmerIDPrefix + id
	}
	user := User{
		ID:           id,
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
		Role:         role,
		CreatedAt:    s.now(),
	}
	users = append(users, user)
	err = kv.WriteJSON(lockCtx, s.shared, kv.KeyUsers, users)
	unlock()
	if err != nil {
		return SessionUser{}, fmt.Errorf("session service: persist users: %w", err)
	}

	s.logger(ctx, "session.signup", map[string]any{"userID": user.ID, "role": string(role)})
	if err := s.startSession(ctx, user); err != nil {
		return SessionUser{}, err
	}
	s.notify(ctx, fmt.Sprintf("Account created successfully as a %s!", textutil.TitleCase(string(role))))
	return user.Session(), nil
}

// Login checks the credentials and records the session on this device.
func (s *SessionManager) Login(ctx context.Context, email, password string) (SessionUser, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return SessionUser{}, ErrInvalidCredentials
	}
	users, err := s.loadUsers(ctx)
	if err != nil {
		return SessionUser{}, err
	}
	for _, user := range users {
		if normalizeEmail(user.Email) != email {
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
			break
		}
		if err := s.startSession(ctx, user); err != nil {
			return SessionUser{}, err
		}
		s.logger(ctx, "session.login", map[string]any{"userID": user.ID})
		return user.Session(), nil
	}
	s.logger(ctx, "session.login_failed", map[string]any{"email": email})
	return SessionUser{}, ErrInvalidCredentials
}

// Logout clears the device session. Logging out twice is not an error.
func (s *SessionManager) Logout(ctx context.Context) error {
	if err := s.device.Remove(ctx, kv.KeyCurrentUser); err != nil {
		return fmt.Errorf("session service: clear current user: %w", err)
	}
	return nil
}

func (s *SessionManager) startSession(ctx context.Context, user User) error {
	if err := kv.WriteJSON(ctx, s.device, kv.KeyCurrentUser, user.Session()); err != nil {
		return fmt.Errorf("session service: persist current user: %w", err)
	}
	return nil
}

// loadUsers reads the account list. A corrupt list reads as empty.
func (s *SessionManager) loadUsers(ctx context.Context) ([]User, error) {
	var users []User
	if _, err := kv.ReadJSON(ctx, s.shared, kv.KeyUsers, &users); err != nil {
		if errors.Is(err, kv.ErrCorrupt) {
			s.logger(ctx, "session.users_corrupt", map[string]any{"error": err.Error()})
			return nil, nil
		}
		return nil, fmt.Errorf("session service: read users: %w", err)
	}
	return users, nil
}

func (s *SessionManager) notify(ctx context.Context, message string) {
	if s.notifier != nil {
		s.notifier.Notify(ctx, message)
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
