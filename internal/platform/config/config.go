package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultEnvFile             = ".env"
	defaultPort                = "8080"
	defaultReadTimeout         = 15 * time.Second
	defaultWriteTimeout        = 30 * time.Second
	defaultIdleTimeout         = 120 * time.Second
	defaultRateLimitDefault    = 120
	defaultRateLimitPublic     = 60
	defaultPostgresMaxOpen     = 10
	defaultPostgresMaxIdle     = 5
	defaultPostgresMaxLifetime = 30 * time.Minute
	defaultRedisProductTTL     = 5 * time.Minute
	defaultRedisChannel        = "orders"
	defaultIdempotencyHeader   = "Idempotency-Key"
	defaultIdempotencyTTL      = 24 * time.Hour
	defaultIdempotencyCleanup  = 15 * time.Minute
	defaultIdempotencyBatch    = 200
	defaultOrdersTopic         = "orders-events"
	defaultSecretsEnvironment  = "local"
	defaultCustomMap           = "Title,Value"
	defaultStockedParam        = "Stocked"
	defaultStockParam          = "StockLevel"
	defaultRefParam            = "ref"
	defaultValidityDays        = 30
	defaultEstimatePrefix      = "EST"
	defaultInvoicePrefix       = "INV"
	defaultRefLength           = 4
	defaultRefMaxAttempts      = 5
)

// Storage backends selectable through ORDERS_BACKEND.
const (
	BackendMemory    = "memory"
	BackendFirestore = "firestore"
	BackendPostgres  = "postgres"
)

// Event sinks selectable through ORDERS_EVENTS.
const (
	EventsNone   = "none"
	EventsPubSub = "pubsub"
	EventsRedis  = "redis"
	EventsAll    = "all"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Firestore   FirestoreConfig
	Postgres    PostgresConfig
	Redis       RedisConfig
	PubSub      PubSubConfig
	Storage     StorageConfig
	RateLimits  RateLimitConfig
	Idempotency IdempotencyConfig
	Secrets     SecretsConfig
	Orders      OrdersConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PostgresConfig configures the SQL backend.
type PostgresConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig configures the product cache and the Redis event sink.
type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	ProductTTL time.Duration
	Channel    string
}

// PubSubConfig configures order event publishing.
type PubSubConfig struct {
	ProjectID   string
	OrdersTopic string
}

// StorageConfig lists bucket names used by the application.
type StorageConfig struct {
	ExportsBucket string
}

// RateLimitConfig controls request throttling.
type RateLimitConfig struct {
	DefaultPerMinute int
	PublicPerMinute  int
}

// IdempotencyConfig controls replay of retried mutating requests.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	Required         bool
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// SecretsConfig configures Secret Manager lookups.
type SecretsConfig struct {
	Environment string
	ProjectID   string
}

// OrdersConfig shapes estimate and invoice assembly.
type OrdersConfig struct {
	Backend             string
	Events              string
	CustomMap           []string
	ForceCheckStock     bool
	ProductStockedParam string
	ProductStockParam   string
	RefParam            string
	DefaultValidityDays int
	EstimatePrefix      string
	InvoicePrefix       string
	RefLength           int
	RefMaxAttempts      int
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

// MissingSecretsError indicates that one or more required secrets failed to resolve.
type MissingSecretsError struct {
	secrets []missingSecret
}

type missingSecret struct {
	name     string
	redacted string
}

// Error implements the error interface.
func (e *MissingSecretsError) Error() string {
	if e == nil || len(e.secrets) == 0 {
		return "missing required secrets"
	}
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.RedactedNames(), ", "))
}

// RedactedNames returns the redacted secret identifiers.
func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil || len(e.secrets) == 0 {
		return nil
	}
	out := make([]string, 0, len(e.secrets))
	for _, secret := range e.secrets {
		out = append(out, secret.redacted)
	}
	sort.Strings(out)
	return out
}

// Names returns the underlying secret identifiers.
func (e *MissingSecretsError) Names() []string {
	if e == nil || len(e.secrets) == 0 {
		return nil
	}
	out := make([]string, 0, len(e.secrets))
	for _, secret := range e.secrets {
		out = append(out, secret.name)
	}
	sort.Strings(out)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
}

// EnvironmentValues returns the effective key/value environment map after applying the same
// precedence rules as Load (dotenv < OS env < explicit env map).
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}

	values := make(map[string]string, len(dotEnvValues))
	for key, value := range dotEnvValues {
		values[key] = value
	}
	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			if !ok || strings.TrimSpace(key) == "" {
				continue
			}
			values[strings.TrimSpace(key)] = value
		}
	}
	for key, value := range options.envMap {
		values[key] = value
	}
	return values, nil
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

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets a custom secret resolver used for sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks the provided secret identifiers as mandatory, e.g. "Postgres.DSN".
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables, and optional secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
		secret: SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
			return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
		}),
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
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
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "ORDERS_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "ORDERS_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "ORDERS_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "ORDERS_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "ORDERS_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "ORDERS_FIRESTORE_EMULATOR_HOST", ""),
		},
		Postgres: PostgresConfig{
			DSN:             stringWithDefault(lookup, "ORDERS_POSTGRES_DSN", ""),
			MaxOpenConns:    intWithDefault(lookup, "ORDERS_POSTGRES_MAX_OPEN_CONNS", defaultPostgresMaxOpen),
			MaxIdleConns:    intWithDefault(lookup, "ORDERS_POSTGRES_MAX_IDLE_CONNS", defaultPostgresMaxIdle),
			ConnMaxLifetime: durationWithDefault(lookup, "ORDERS_POSTGRES_CONN_MAX_LIFETIME", defaultPostgresMaxLifetime),
		},
		Redis: RedisConfig{
			Addr:       stringWithDefault(lookup, "ORDERS_REDIS_ADDR", ""),
			Password:   stringWithDefault(lookup, "ORDERS_REDIS_PASSWORD", ""),
			DB:         intWithDefault(lookup, "ORDERS_REDIS_DB", 0),
			ProductTTL: durationWithDefault(lookup, "ORDERS_REDIS_PRODUCT_TTL", defaultRedisProductTTL),
			Channel:    stringWithDefault(lookup, "ORDERS_REDIS_CHANNEL", defaultRedisChannel),
		},
		PubSub: PubSubConfig{
			ProjectID:   stringWithDefault(lookup, "ORDERS_PUBSUB_PROJECT_ID", ""),
			OrdersTopic: stringWithDefault(lookup, "ORDERS_PUBSUB_TOPIC", defaultOrdersTopic),
		},
		Storage: StorageConfig{
			ExportsBucket: stringWithDefault(lookup, "ORDERS_STORAGE_EXPORTS_BUCKET", ""),
		},
		RateLimits: RateLimitConfig{
			DefaultPerMinute: intWithDefault(lookup, "ORDERS_RATELIMIT_DEFAULT_PER_MIN", defaultRateLimitDefault),
			PublicPerMinute:  intWithDefault(lookup, "ORDERS_RATELIMIT_PUBLIC_PER_MIN", defaultRateLimitPublic),
		},
		Idempotency: IdempotencyConfig{
			Header:           stringWithDefault(lookup, "ORDERS_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              durationWithDefault(lookup, "ORDERS_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			Required:         boolWithDefault(lookup, "ORDERS_IDEMPOTENCY_REQUIRED", false),
			CleanupInterval:  durationWithDefault(lookup, "ORDERS_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyCleanup),
			CleanupBatchSize: intWithDefault(lookup, "ORDERS_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatch),
		},
		Secrets: SecretsConfig{
			Environment: strings.ToLower(stringWithDefault(lookup, "ORDERS_SECRETS_ENVIRONMENT", defaultSecretsEnvironment)),
			ProjectID:   stringWithDefault(lookup, "ORDERS_SECRETS_PROJECT_ID", ""),
		},
		Orders: OrdersConfig{
			Backend:             strings.ToLower(stringWithDefault(lookup, "ORDERS_BACKEND", BackendMemory)),
			Events:              strings.ToLower(stringWithDefault(lookup, "ORDERS_EVENTS", EventsNone)),
			CustomMap:           csvWithDefault(lookup, "ORDERS_CUSTOM_MAP"),
			ForceCheckStock:     boolWithDefault(lookup, "ORDERS_FORCE_CHECK_STOCK", false),
			ProductStockedParam: stringWithDefault(lookup, "ORDERS_PRODUCT_STOCKED_PARAM", defaultStockedParam),
			ProductStockParam:   stringWithDefault(lookup, "ORDERS_PRODUCT_STOCK_PARAM", defaultStockParam),
			RefParam:            stringWithDefault(lookup, "ORDERS_REF_PARAM", defaultRefParam),
			DefaultValidityDays: intWithDefault(lookup, "ORDERS_DEFAULT_VALIDITY_DAYS", defaultValidityDays),
			EstimatePrefix:      stringWithDefault(lookup, "ORDERS_ESTIMATE_PREFIX", defaultEstimatePrefix),
			InvoicePrefix:       stringWithDefault(lookup, "ORDERS_INVOICE_PREFIX", defaultInvoicePrefix),
			RefLength:           intWithDefault(lookup, "ORDERS_REF_LENGTH", defaultRefLength),
			RefMaxAttempts:      intWithDefault(lookup, "ORDERS_REF_MAX_ATTEMPTS", defaultRefMaxAttempts),
		},
	}

	if len(cfg.Orders.CustomMap) == 0 {
		cfg.Orders.CustomMap = strings.Split(defaultCustomMap, ",")
	}
	// Pub/Sub and Secret Manager share the Firestore project unless told otherwise.
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}
	if cfg.Secrets.ProjectID == "" {
		cfg.Secrets.ProjectID = cfg.Firestore.ProjectID
	}

	resolvedSecrets := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"Postgres.DSN", &cfg.Postgres.DSN},
		{"Redis.Password", &cfg.Redis.Password},
	}
	for _, target := range secretFields {
		resolved, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = resolved
		resolvedSecrets[target.name] = strings.TrimSpace(resolved)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	if missing := findMissingSecrets(options.requiredSecrets, resolvedSecrets); missing != nil {
		return Config{}, missing
	}

	return cfg, nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}

	switch cfg.Orders.Backend {
	case BackendMemory:
	case BackendFirestore:
		if cfg.Firestore.ProjectID == "" {
			missing = append(missing, "Firestore.ProjectID")
		}
	case BackendPostgres:
		if cfg.Postgres.DSN == "" {
			missing = append(missing, "Postgres.DSN")
		}
	default:
		missing = append(missing, "Orders.Backend")
	}

	switch cfg.Orders.Events {
	case EventsNone:
	case EventsPubSub:
		if cfg.PubSub.ProjectID == "" {
			missing = append(missing, "PubSub.ProjectID")
		}
		if cfg.PubSub.OrdersTopic == "" {
			missing = append(missing, "PubSub.OrdersTopic")
		}
	case EventsRedis:
		if cfg.Redis.Addr == "" {
			missing = append(missing, "Redis.Addr")
		}
	case EventsAll:
		if cfg.PubSub.ProjectID == "" {
			missing = append(missing, "PubSub.ProjectID")
		}
		if cfg.Redis.Addr == "" {
			missing = append(missing, "Redis.Addr")
		}
	default:
		missing = append(missing, "Orders.Events")
	}

	if cfg.Orders.DefaultValidityDays <= 0 {
		missing = append(missing, "Orders.DefaultValidityDays")
	}
	if cfg.Orders.RefLength < 0 {
		missing = append(missing, "Orders.RefLength")
	}
	if cfg.Orders.RefMaxAttempts <= 0 {
		missing = append(missing, "Orders.RefMaxAttempts")
	}
	if strings.TrimSpace(cfg.Orders.RefParam) == "" {
		missing = append(missing, "Orders.RefParam")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		missing = append(missing, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		missing = append(missing, "Idempotency.TTL")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if value == "" {
		return value, nil
	}
	if !isSecretReference(value) {
		return value, nil
	}
	if resolver == nil {
		normalized := normalizeSecretReference(value)
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	normalized := normalizeSecretReference(value)
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	if len(required) == 0 {
		return nil
	}
	missing := make([]missingSecret, 0, len(required))
	seen := make(map[string]struct{})
	for _, name := range required {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		if value := strings.TrimSpace(resolved[trimmed]); value != "" {
			continue
		}
		missing = append(missing, missingSecret{
			name:     trimmed,
			redacted: redactSecretName(trimmed),
		})
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingSecretsError{secrets: missing}
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	values, err := godotenv.Read(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && value != "" {
		return value
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}

func csvWithDefault(lookup func(string) (string, bool), key string) []string {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
