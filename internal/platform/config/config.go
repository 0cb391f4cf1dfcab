package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile          = ".env"
	defaultPort             = "8080"
	defaultReadTimeout      = 15 * time.Second
	defaultWriteTimeout     = 30 * time.Second
	defaultIdleTimeout      = 120 * time.Second
	defaultStoreBackend     = StoreBackendMemory
	defaultKVCollection     = "kv"
	defaultMailFromName     = "Farmstall"
	defaultSessionIssuer    = "farmstall"
	defaultDeviceTokenTTL   = 30 * 24 * time.Hour
	defaultSecretsEnv       = "local"
	defaultSecretsFallback  = ".secrets.local"
	minSessionSigningKeyLen = 32
)

// Supported store backends.
const (
	StoreBackendMemory    = "memory"
	StoreBackendFirestore = "firestore"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	Firestore FirestoreConfig
	PubSub    PubSubConfig
	Mail      MailConfig
	Session   SessionConfig
	Catalog   CatalogConfig
	Secrets   SecretsConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// StoreConfig selects the key-value backend holding carts, sessions, users, orders and products.
type StoreConfig struct {
	Backend string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID       string
	EmulatorHost    string
	CredentialsFile string
	Collection      string
}

// PubSubConfig configures order event publishing. An empty topic disables publishing.
type PubSubConfig struct {
	ProjectID   string
	OrdersTopic string
}

// MailConfig configures order confirmation mail. An empty API key disables sending.
type MailConfig struct {
	SendGridAPIKey string
	FromAddress    string
	FromName       string
}

// SessionConfig controls device token signing.
type SessionConfig struct {
	SigningKey     string
	Issuer         string
	DeviceTokenTTL time.Duration
	CookieSecure   bool
}

// CatalogConfig points at an optional seed file overriding the embedded catalog.
type CatalogConfig struct {
	SeedFile string
}

// SecretsConfig configures secret:// resolution.
type SecretsConfig struct {
	ProjectID    string
	Environment  string
	FallbackFile string
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver configures how secret:// references are resolved.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// Load reads configuration from the explicit env map, the process environment and the .env file, in that order of precedence.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	lookup, err := newLookup(options)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "FARMSTALL_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "FARMSTALL_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "FARMSTALL_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "FARMSTALL_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Store: StoreConfig{
			Backend: strings.ToLower(stringWithDefault(lookup, "FARMSTALL_STORE_BACKEND", defaultStoreBackend)),
		},
		Firestore: FirestoreConfig{
			ProjectID:       stringWithDefault(lookup, "FARMSTALL_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost:    stringWithDefault(lookup, "FARMSTALL_FIRESTORE_EMULATOR_HOST", ""),
			CredentialsFile: stringWithDefault(lookup, "FARMSTALL_FIRESTORE_CREDENTIALS_FILE", ""),
			Collection:      stringWithDefault(lookup, "FARMSTALL_FIRESTORE_COLLECTION", defaultKVCollection),
		},
		PubSub: PubSubConfig{
			ProjectID:   stringWithDefault(lookup, "FARMSTALL_PUBSUB_PROJECT_ID", ""),
			OrdersTopic: stringWithDefault(lookup, "FARMSTALL_PUBSUB_ORDERS_TOPIC", ""),
		},
		Mail: MailConfig{
			SendGridAPIKey: stringWithDefault(lookup, "FARMSTALL_MAIL_SENDGRID_API_KEY", ""),
			FromAddress:    stringWithDefault(lookup, "FARMSTALL_MAIL_FROM_ADDRESS", ""),
			FromName:       stringWithDefault(lookup, "FARMSTALL_MAIL_FROM_NAME", defaultMailFromName),
		},
		Session: SessionConfig{
			SigningKey:     stringWithDefault(lookup, "FARMSTALL_SESSION_SIGNING_KEY", ""),
			Issuer:         stringWithDefault(lookup, "FARMSTALL_SESSION_ISSUER", defaultSessionIssuer),
			DeviceTokenTTL: durationWithDefault(lookup, "FARMSTALL_SESSION_DEVICE_TTL", defaultDeviceTokenTTL),
			CookieSecure:   boolWithDefault(lookup, "FARMSTALL_SESSION_COOKIE_SECURE", false),
		},
		Catalog: CatalogConfig{
			SeedFile: stringWithDefault(lookup, "FARMSTALL_CATALOG_SEED_FILE", ""),
		},
		Secrets: SecretsConfig{
			ProjectID:    stringWithDefault(lookup, "FARMSTALL_SECRETS_PROJECT_ID", ""),
			Environment:  strings.ToLower(stringWithDefault(lookup, "FARMSTALL_ENVIRONMENT", defaultSecretsEnv)),
			FallbackFile: stringWithDefault(lookup, "FARMSTALL_SECRETS_FALLBACK_FILE", defaultSecretsFallback),
		},
	}

	// Pub/Sub and Secret Manager default to the Firestore project.
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}
	if cfg.Secrets.ProjectID == "" {
		cfg.Secrets.ProjectID = cfg.Firestore.ProjectID
	}

	secretFields := []*string{
		&cfg.Session.SigningKey,
		&cfg.Mail.SendGridAPIKey,
	}
	for _, field := range secretFields {
		resolved, err := resolveSecret(ctx, *field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*field = resolved
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func newLookup(options loaderOptions) (func(string) (string, bool), error) {
	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}
	return func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if value, ok := dotEnvValues[key]; ok {
			return value, true
		}
		return "", false
	}, nil
}

// IsSecretReference reports whether value points at Secret Manager rather than holding the secret itself.
func IsSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if !IsSecretReference(value) {
		return value, nil
	}
	normalized := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return strings.TrimSpace(secret), nil
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	switch cfg.Store.Backend {
	case StoreBackendMemory:
	case StoreBackendFirestore:
		if cfg.Firestore.ProjectID == "" {
			missing = append(missing, "Firestore.ProjectID")
		}
	default:
		missing = append(missing, "Store.Backend")
	}
	if len(strings.TrimSpace(cfg.Session.SigningKey)) < minSessionSigningKeyLen {
		missing = append(missing, "Session.SigningKey")
	}
	if cfg.Session.DeviceTokenTTL <= 0 {
		missing = append(missing, "Session.DeviceTokenTTL")
	}
	if cfg.PubSub.OrdersTopic != "" && cfg.PubSub.ProjectID == "" {
		missing = append(missing, "PubSub.ProjectID")
	}
	if cfg.Mail.SendGridAPIKey != "" && cfg.Mail.FromAddress == "" {
		missing = append(missing, "Mail.FromAddress")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.ParseBool(strings.ToLower(value)); err == nil {
			return parsed
		}
		switch strings.ToLower(value) {
		case "yes", "on":
			return true
		case "no", "off":
			return false
		}
	}
	return fallback
}
