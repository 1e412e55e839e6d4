// Package config loads runtime configuration from the environment and
// target profiles from YAML files.
package config

import (
	"os"
	"strconv"
)

// Config holds process configuration.
type Config struct {
	ListenAddr   string
	LogLevel     string
	StoreDriver  string // memory | sqlite | postgres
	DatabaseURL  string
	SQLitePath   string
	RedisAddr    string
	RedisPass    string
	RedisDB      int
	AuditLogPath string
	TargetsDir   string
	RulesPath    string
	InboxDir     string
	ArchiveURL   string
	OTLPEndpoint string

	// Simulate keeps dispatch in simulation unless explicitly disabled.
	Simulate bool
}

// Load loads configuration from environment variables.
func Load() *Config {
	listen := os.Getenv("LISTEN_ADDR")
	if listen == "" {
		// The admin API is unauthenticated, so it binds loopback unless
		// an operator says otherwise.
		listen = "127.0.0.1:8080"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	driver := os.Getenv("STORE_DRIVER")
	if driver == "" {
		driver = "sqlite"
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		dbURL = "postgres://bosun@localhost:5432/bosun?sslmode=disable"
	}

	sqlitePath := os.Getenv("SQLITE_PATH")
	if sqlitePath == "" {
		sqlitePath = "bosun.db"
	}

	auditPath := os.Getenv("AUDIT_LOG")
	if auditPath == "" {
		auditPath = "audit.jsonl"
	}

	inboxDir := os.Getenv("INBOX_DIR")
	if inboxDir == "" {
		inboxDir = "inbox"
	}

	redisDB := 0
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			redisDB = n
		}
	}

	return &Config{
		ListenAddr:   listen,
		LogLevel:     logLevel,
		StoreDriver:  driver,
		DatabaseURL:  dbURL,
		SQLitePath:   sqlitePath,
		RedisAddr:    os.Getenv("REDIS_ADDR"),
		RedisPass:    os.Getenv("REDIS_PASSWORD"),
		RedisDB:      redisDB,
		AuditLogPath: auditPath,
		TargetsDir:   os.Getenv("TARGETS_DIR"),
		RulesPath:    os.Getenv("REVIEW_RULES"),
		InboxDir:     inboxDir,
		ArchiveURL:   os.Getenv("ARCHIVE_URL"),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		// Live dispatch is opt-out by explicit "false" only; every other
		// value keeps the safe simulated mode.
		Simulate: os.Getenv("SIMULATE_DISPATCH") != "false",
	}
}
