package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const defaultConnectionString = "Host=localhost;Port=5432;Database=credit_loans_db;Username=postgres;Password=postgres;Timeout=30;CommandTimeout=30"
const defaultHTTPAddr = ":8080"
const defaultCreditPolicyURL = "http://localhost:8081"
const defaultLoanRegistryURL = "http://localhost:8082"

const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
	BackendRedis    = "redis"
)

type Config struct {
	HTTPAddr           string
	DatabaseDSN        string
	MigrationsDir      string
	StorageBackend     string
	IdempotencyBackend string
	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	CreditPolicyURL    string
	LoanRegistryURL    string
	LogLevel           string
	AuthPrincipals     []Principal

	RemoteTimeout        time.Duration
	MaxConflictRetries   int
	ConflictBackoff      time.Duration
	IdempotencyLease     time.Duration
	IdempotencyRetention time.Duration
	DuplicateWait        time.Duration

	ReconcileInterval    time.Duration
	ReconcileBatch       int
	ReconcileMaxAttempts int
	ReconcileWorkers     int
}

// Principal is a caller credential entry: a user id, its bcrypt hash and granted roles.
type Principal struct {
	UserID       string
	PasswordHash string
	Roles        []string
}

func Load() (Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg := Config{
		HTTPAddr:           envOrDefault("HTTP_ADDR", defaultHTTPAddr),
		DatabaseDSN:        normalizeConnectionString(envOrDefault("DATABASE_DSN", defaultConnectionString)),
		MigrationsDir:      envOrDefault("MIGRATIONS_DIR", filepath.Join("src", "migrations")),
		StorageBackend:     strings.ToLower(envOrDefault("STORAGE_BACKEND", BackendPostgres)),
		IdempotencyBackend: strings.ToLower(envOrDefault("IDEMPOTENCY_BACKEND", BackendPostgres)),
		RedisAddr:          envOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword:      strings.TrimSpace(os.Getenv("REDIS_PASSWORD")),
		CreditPolicyURL:    envOrDefault("CREDIT_POLICY_URL", defaultCreditPolicyURL),
		LoanRegistryURL:    envOrDefault("LOAN_REGISTRY_URL", defaultLoanRegistryURL),
		LogLevel:           envOrDefault("LOG_LEVEL", "info"),
	}

	var err error
	if cfg.RedisDB, err = intEnv("REDIS_DB", 0); err != nil {
		return Config{}, err
	}
	if cfg.RemoteTimeout, err = durationEnv("REMOTE_TIMEOUT", 3*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.MaxConflictRetries, err = intEnv("MAX_CONFLICT_RETRIES", 5); err != nil {
		return Config{}, err
	}
	if cfg.ConflictBackoff, err = durationEnv("CONFLICT_BACKOFF", 5*time.Millisecond); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyLease, err = durationEnv("IDEMPOTENCY_LEASE", 2*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyRetention, err = durationEnv("IDEMPOTENCY_RETENTION", 24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.DuplicateWait, err = durationEnv("DUPLICATE_WAIT", 2*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.ReconcileInterval, err = durationEnv("RECONCILE_INTERVAL", 30*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.ReconcileBatch, err = intEnv("RECONCILE_BATCH", 50); err != nil {
		return Config{}, err
	}
	if cfg.ReconcileMaxAttempts, err = intEnv("RECONCILE_MAX_ATTEMPTS", 10); err != nil {
		return Config{}, err
	}
	if cfg.ReconcileWorkers, err = intEnv("RECONCILE_WORKERS", 4); err != nil {
		return Config{}, err
	}
	if cfg.AuthPrincipals, err = parsePrincipals(os.Getenv("AUTH_PRINCIPALS")); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) validate() error {
	switch c.StorageBackend {
	case BackendPostgres, BackendMemory:
	default:
		return fmt.Errorf("STORAGE_BACKEND must be %q or %q", BackendPostgres, BackendMemory)
	}

	switch c.IdempotencyBackend {
	case BackendPostgres, BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("IDEMPOTENCY_BACKEND must be %q, %q or %q", BackendPostgres, BackendRedis, BackendMemory)
	}

	if c.IdempotencyBackend == BackendPostgres && c.StorageBackend != BackendPostgres {
		return fmt.Errorf("IDEMPOTENCY_BACKEND %q requires STORAGE_BACKEND %q", BackendPostgres, BackendPostgres)
	}
	if c.MaxConflictRetries < 1 {
		return fmt.Errorf("MAX_CONFLICT_RETRIES must be at least 1")
	}
	if c.IdempotencyRetention < c.IdempotencyLease {
		return fmt.Errorf("IDEMPOTENCY_RETENTION must not be shorter than IDEMPOTENCY_LEASE")
	}
	if c.ReconcileBatch < 1 || c.ReconcileWorkers < 1 || c.ReconcileMaxAttempts < 1 {
		return fmt.Errorf("RECONCILE_BATCH, RECONCILE_WORKERS and RECONCILE_MAX_ATTEMPTS must be positive")
	}

	return nil
}

// parsePrincipals reads "id:bcryptHash:ROLE|ROLE,id2:hash2:ROLE".
func parsePrincipals(raw string) ([]Principal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	entries := strings.Split(raw, ",")
	out := make([]Principal, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		parts := strings.SplitN(entry, ":", 3)
		if len(parts) < 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
			return nil, fmt.Errorf("AUTH_PRINCIPALS entry %q must be id:hash[:roles]", strings.TrimSpace(parts[0]))
		}

		principal := Principal{
			UserID:       strings.TrimSpace(parts[0]),
			PasswordHash: strings.TrimSpace(parts[1]),
		}
		if len(parts) == 3 {
			for _, role := range strings.Split(parts[2], "|") {
				if role = strings.ToUpper(strings.TrimSpace(role)); role != "" {
					principal.Roles = append(principal.Roles, role)
				}
			}
		}
		out = append(out, principal)
	}

	return out, nil
}

func envOrDefault(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func intEnv(key string, fallback int) (int, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback, nil
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return parsed, nil
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback, nil
	}

	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration: %w", key, err)
	}
	if parsed < 0 {
		return 0, fmt.Errorf("%s must not be negative", key)
	}
	return parsed, nil
}

func normalizeConnectionString(raw string) string {
	if strings.HasPrefix(raw, "postgres://") || strings.HasPrefix(raw, "postgresql://") {
		return raw
	}

	parts := strings.Split(raw, ";")
	out := make([]string, 0, len(parts))
	hasSSLMode := false

	for _, part := range parts {
		p := strings.TrimSpace(part)
		if p == "" {
			continue
		}

		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}

		key := strings.ToLower(strings.TrimSpace(kv[0]))
		val := strings.TrimSpace(kv[1])

		switch key {
		case "host":
			out = append(out, "host="+val)
		case "port":
			out = append(out, "port="+val)
		case "database":
			out = append(out, "dbname="+val)
		case "username":
			out = append(out, "user="+val)
		case "password":
			out = append(out, "password="+val)
		case "timeout", "connect timeout":
			out = append(out, "connect_timeout="+val)
		case "commandtimeout", "command timeout":
			out = append(out, "statement_timeout="+val+"s")
		case "sslmode":
			hasSSLMode = true
			out = append(out, "sslmode="+val)
		default:
			out = append(out, key+"="+val)
		}
	}

	if len(out) == 0 {
		return raw
	}

	if !hasSSLMode {
		out = append(out, "sslmode=disable")
	}

	return strings.Join(out, " ")
}
