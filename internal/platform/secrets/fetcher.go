package secrets

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultFallbackPath = ".secrets.local"
	metricNamespace     = "github.com/farmstall/api/internal/platform/secrets"
	latestVersion       = "latest"
)

var secretManagerClientFactory = func(ctx context.Context, opts ...option.ClientOption) (*secretmanager.Client, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type secretManagerClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves secret:// references through Google Secret Manager. Values are cached for the
// life of the process, and a local KEY=VALUE file answers when Secret Manager is unreachable.
type Fetcher struct {
	client     secretManagerClient
	ownsClient bool
	logger     *zap.Logger
	projectID  string
	retry      []gax.CallOption

	fallbackPath string
	fallbackOnce sync.Once
	fallbackVals map[string]string

	mu    sync.RWMutex
	cache map[string]string

	resolved metric.Int64Counter
}

type fetcherConfig struct {
	logger       *zap.Logger
	projectID    string
	fallbackPath string
	meter        metric.Meter
	client       secretManagerClient
	clientOpts   []option.ClientOption
}

// Option customises Fetcher construction.
type Option func(*fetcherConfig)

// WithLogger sets the logger used for diagnostic output.
func WithLogger(logger *zap.Logger) Option {
	return func(cfg *fetcherConfig) {
		cfg.logger = logger
	}
}

// WithProject sets the project references resolve against unless they carry ?project=.
func WithProject(projectID string) Option {
	return func(cfg *fetcherConfig) {
		cfg.projectID = strings.TrimSpace(projectID)
	}
}

// WithFallbackFile overrides the path to the local fallback secrets file.
func WithFallbackFile(path string) Option {
	return func(cfg *fetcherConfig) {
		cfg.fallbackPath = strings.TrimSpace(path)
	}
}

// WithMeter injects a custom OpenTelemetry meter.
func WithMeter(m metric.Meter) Option {
	return func(cfg *fetcherConfig) {
		cfg.meter = m
	}
}

// WithSecretManagerClient injects a preconfigured Secret Manager client (primarily for tests).
func WithSecretManagerClient(client secretManagerClient) Option {
	return func(cfg *fetcherConfig) {
		cfg.client = client
	}
}

// WithClientOptions forwards Cloud client options when constructing the Secret Manager client.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(cfg *fetcherConfig) {
		cfg.clientOpts = append(cfg.clientOpts, opts...)
	}
}

// NewFetcher builds a Fetcher. Without a project or a reachable client it runs in fallback-only mode.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	cfg := fetcherConfig{fallbackPath: defaultFallbackPath}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}
	meter := cfg.meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(metricNamespace)
	}
	resolved, err := meter.Int64Counter(
		"secrets.resolve.count",
		metric.WithDescription("Count of secret resolutions by source"),
	)
	if err != nil {
		cfg.logger.Warn("secrets: unable to register resolve metric", zap.Error(err))
	}

	f := &Fetcher{
		logger:       cfg.logger,
		projectID:    cfg.projectID,
		fallbackPath: cfg.fallbackPath,
		cache:        make(map[string]string),
		resolved:     resolved,
		retry: []gax.CallOption{
			gax.WithRetry(func() gax.Retryer {
				return gax.OnCodes([]codes.Code{codes.Unavailable, codes.DeadlineExceeded}, gax.Backoff{
					Initial:    100 * time.Millisecond,
					Max:        2 * time.Second,
					Multiplier: 2,
				})
			}),
		},
	}

	switch {
	case cfg.client != nil:
		f.client = cfg.client
	case cfg.projectID != "":
		client, err := secretManagerClientFactory(ctx, cfg.clientOpts...)
		if err != nil {
			cfg.logger.Warn("secrets: secret manager client unavailable; operating in fallback mode", zap.Error(err))
		} else {
			f.client = client
			f.ownsClient = true
		}
	}
	return f, nil
}

// Close releases the Secret Manager client when the fetcher created it.
func (f *Fetcher) Close() error {
	if f.ownsClient && f.client != nil {
		return f.client.Close()
	}
	return nil
}

// ResolveSecret satisfies config.SecretResolver.
func (f *Fetcher) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f.Resolve(ctx, ref)
}

// Resolve returns the value behind ref, consulting the cache, Secret Manager and the fallback file in that order.
func (f *Fetcher) Resolve(ctx context.Context, ref string) (string, error) {
	parsed, err := parseReference(ref)
	if err != nil {
		return "", err
	}

	f.mu.RLock()
	value, ok := f.cache[parsed.key()]
	f.mu.RUnlock()
	if ok {
		f.record(ctx, "cache")
		return value, nil
	}

	project := parsed.Project
	if project == "" {
		project = f.projectID
	}
	if f.client != nil && project != "" {
		value, err := f.fetchRemote(ctx, project, parsed)
		if err == nil {
			f.store(parsed, value)
			f.record(ctx, "remote")
			return value, nil
		}
		if !isFallbackError(err) {
			return "", fmt.Errorf("secrets: fetch failed for %s: %w", parsed.Canonical, err)
		}
		f.logger.Debug("secrets: falling back to local secrets", zap.String("ref", parsed.Canonical), zap.Error(err))
	}

	value, ok = f.lookupFallback(parsed)
	if !ok {
		return "", fmt.Errorf("secrets: fallback value not found for %s", parsed.Canonical)
	}
	f.store(parsed, value)
	f.record(ctx, "fallback")
	return value, nil
}

func (f *Fetcher) fetchRemote(ctx context.Context, project string, ref reference) (string, error) {
	name := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, ref.Secret, ref.Version)
	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name}, f.retry...)
	if err != nil {
		return "", err
	}
	if resp.GetPayload() == nil {
		return "", fmt.Errorf("secret manager returned empty payload for %s", name)
	}
	return strings.TrimSpace(string(resp.GetPayload().GetData())), nil
}

func (f *Fetcher) store(ref reference, value string) {
	f.mu.Lock()
	f.cache[ref.key()] = value
	f.mu.Unlock()
}

func (f *Fetcher) record(ctx context.Context, source string) {
	if f.resolved == nil {
		return
	}
	f.resolved.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

func (f *Fetcher) lookupFallback(ref reference) (string, bool) {
	f.fallbackOnce.Do(f.loadFallback)
	if value, ok := f.fallbackVals[ref.key()]; ok {
		return value, true
	}
	value, ok := f.fallbackVals[ref.Canonical]
	return value, ok
}

func (f *Fetcher) loadFallback() {
	f.fallbackVals = map[string]string{}
	if f.fallbackPath == "" {
		return
	}
	file, err := os.Open(f.fallbackPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			f.logger.Warn("secrets: unable to open fallback file", zap.String("path", f.fallbackPath), zap.Error(err))
		}
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		parsed, err := parseReference(strings.TrimSpace(key))
		if err != nil {
			continue
		}
		value = strings.TrimSpace(value)
		f.fallbackVals[parsed.Canonical] = value
		f.fallbackVals[parsed.key()] = value
	}
	if err := scanner.Err(); err != nil {
		f.logger.Warn("secrets: failed reading fallback file", zap.String("path", f.fallbackPath), zap.Error(err))
	}
}

type reference struct {
	Canonical string
	Secret    string
	Version   string
	Project   string
}

func (r reference) key() string {
	return r.Canonical + "#" + r.Version
}

// parseReference accepts secret://name[?version=N&project=P]; sm:// is treated as an alias.
func parseReference(ref string) (reference, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return reference{}, errors.New("secrets: empty reference")
	}
	if strings.HasPrefix(ref, "sm://") {
		ref = "secret://" + strings.TrimPrefix(ref, "sm://")
	}
	u, err := url.Parse(ref)
	if err != nil {
		return reference{}, fmt.Errorf("secrets: invalid reference %q: %w", ref, err)
	}
	if u.Scheme != "secret" {
		return reference{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	secret := strings.Trim(u.Host+u.Path, "/")
	if secret == "" {
		return reference{}, fmt.Errorf("secrets: missing secret name in %q", ref)
	}
	version := strings.TrimSpace(u.Query().Get("version"))
	if version == "" {
		version = latestVersion
	}
	return reference{
		Canonical: "secret://" + secret,
		Secret:    secret,
		Version:   version,
		Project:   strings.TrimSpace(u.Query().Get("project")),
	}, nil
}

func isFallbackError(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	default:
		return false
	}
}
