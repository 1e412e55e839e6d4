package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/Mindburn-Labs/bosun/pkg/adapter"
	"github.com/Mindburn-Labs/bosun/pkg/audit"
	"github.com/Mindburn-Labs/bosun/pkg/config"
	"github.com/Mindburn-Labs/bosun/pkg/engine"
	"github.com/Mindburn-Labs/bosun/pkg/limiter"
	"github.com/Mindburn-Labs/bosun/pkg/policy"
	"github.com/Mindburn-Labs/bosun/pkg/store"
	"github.com/Mindburn-Labs/bosun/pkg/transport"
)

// app is the wired process: configuration, stores, and the engine. Every
// subcommand builds one from the environment and closes it when done.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	drafts   store.DraftStore
	register store.ScheduleRegister
	audit    audit.Logger
	engine   *engine.Engine

	closers []func() error
}

func buildApp(stderr io.Writer) (*app, error) {
	cfg := config.Load()
	a := &app{
		cfg: cfg,
		logger: slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{
			Level: parseLogLevel(cfg.LogLevel),
		})),
	}

	switch cfg.StoreDriver {
	case "memory":
		a.drafts = store.NewMemory()
		a.register = store.NewMemorySchedule()
	case "sqlite":
		s, err := store.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s.Close)
		register, err := store.NewSQLiteSchedule(s.DB())
		if err != nil {
			a.Close()
			return nil, err
		}
		a.drafts = s
		a.register = register
	case "postgres":
		p, err := store.OpenPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, p.Close)
		register, err := store.NewPostgresSchedule(p.DB())
		if err != nil {
			a.Close()
			return nil, err
		}
		a.drafts = p
		a.register = register
	default:
		return nil, fmt.Errorf("unknown store driver %q (want memory, sqlite or postgres)", cfg.StoreDriver)
	}

	auditLog, auditFile, err := audit.OpenFileLogger(cfg.AuditLogPath)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.audit = auditLog
	a.closers = append(a.closers, auditFile.Close)

	profiles, err := config.LoadAllTargets(cfg.TargetsDir)
	if err != nil {
		a.Close()
		return nil, err
	}
	registry := adapter.NewRegistry(profiles)

	rules, err := config.LoadRules(cfg.RulesPath)
	if err != nil {
		a.Close()
		return nil, err
	}
	reviewer, err := policy.NewEngine(rules)
	if err != nil {
		a.Close()
		return nil, err
	}

	var limOpts []limiter.Option
	if cfg.RedisAddr != "" {
		limOpts = append(limOpts, limiter.WithStore(limiter.NewRedisStore(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)))
	}
	lim := limiter.New(registry.LimiterConfig(), limOpts...)

	var ad adapter.Adapter
	if cfg.Simulate {
		ad = adapter.NewSimulated(registry, lim)
	} else {
		ad = adapter.NewLive(registry, transport.NewCaller(lim), lim)
	}

	eng, err := engine.New(a.drafts, a.register, ad, registry,
		engine.WithAudit(auditLog),
		engine.WithRules(reviewer),
		engine.WithLogger(a.logger),
		engine.WithSchemaDir(cfg.TargetsDir),
	)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.engine = eng
	return a, nil
}

// Close releases stores and log files in reverse open order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
	a.closers = nil
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// printJSON writes v as a single JSON line, the machine-readable form
// every subcommand offers behind --json.
func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(w, "{\"error\":%q}\n", err.Error())
	}
}

func fmtTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC3339)
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
