package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/andresmejia3/rollcall/internal/config"
	"github.com/andresmejia3/rollcall/internal/dispatch"
	"github.com/andresmejia3/rollcall/internal/identity"
	"github.com/andresmejia3/rollcall/internal/ledger"
	"github.com/andresmejia3/rollcall/internal/matcher"
	"github.com/andresmejia3/rollcall/internal/rollover"
	"github.com/andresmejia3/rollcall/internal/tracker"
)

// attendanceLedger is what the session needs from a ledger backend: writes plus read-back.
type attendanceLedger interface {
	ledger.Ledger
	ledger.Reader
}

func matcherOptions(cfg *config.Config) (matcher.Options, error) {
	metric, err := matcher.ParseMetric(cfg.Match.Metric)
	if err != nil {
		return matcher.Options{}, err
	}
	strategy, err := matcher.ParseStrategy(cfg.Match.Strategy)
	if err != nil {
		return matcher.Options{}, err
	}
	return matcher.Options{Metric: metric, Strategy: strategy, Threshold: cfg.Match.DistanceThreshold}, nil
}

// identitySource prefers the YAML identities file and falls back to the database.
func identitySource(ctx context.Context, cfg *config.Config) (identity.Source, error) {
	if cfg.Match.IdentitiesFile != "" {
		return &identity.File{Path: cfg.Match.IdentitiesFile}, nil
	}
	db, err := openDB(ctx)
	if err != nil {
		return nil, err
	}
	return db, nil
}

func loadMatcher(ctx context.Context, cfg *config.Config) (*matcher.Matcher, error) {
	opts, err := matcherOptions(cfg)
	if err != nil {
		return nil, err
	}
	src, err := identitySource(ctx, cfg)
	if err != nil {
		return nil, err
	}
	m, err := identity.Load(ctx, src, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to load known identities: %w", err)
	}
	return m, nil
}

func openLedger(ctx context.Context, cfg *config.Config) (attendanceLedger, error) {
	switch cfg.Ledger.Backend {
	case "memory":
		return ledger.NewMemory(cfg.Ledger.SectionGap), nil
	case "file":
		l, err := ledger.OpenFile(cfg.Ledger.Path, cfg.Ledger.SectionGap)
		if err != nil {
			return nil, fmt.Errorf("failed to open ledger file: %w", err)
		}
		return l, nil
	case "postgres":
		db, err := openDB(ctx)
		if err != nil {
			return nil, err
		}
		l, err := ledger.NewPG(ctx, db.Pool(), cfg.Ledger.SectionGap)
		if err != nil {
			return nil, fmt.Errorf("failed to open ledger tables: %w", err)
		}
		return l, nil
	}
	return nil, fmt.Errorf("unknown ledger backend %q", cfg.Ledger.Backend)
}

func trackerConfig(cfg *config.Config, loc *time.Location) tracker.Config {
	return tracker.Config{
		DisplayThreshold: cfg.Tracker.DisplayThreshold,
		ActionThreshold:  cfg.Tracker.ActionThreshold,
		TimeoutFrames:    cfg.Tracker.TimeoutFrames,
		Quantization:     cfg.Tracker.LocationQuantization,
		Tolerance:        cfg.Tracker.LocationTolerance,
		DecayStep:        cfg.Tracker.DecayStep,
		Location:         loc,
	}
}

func dispatchConfig(cfg *config.Config) dispatch.Config {
	return dispatch.Config{
		Workers:        cfg.Dispatch.Workers,
		QueueSize:      cfg.Dispatch.QueueSize,
		AttemptTimeout: cfg.Dispatch.AttemptTimeout,
		InitialBackoff: cfg.Dispatch.InitialBackoff,
		MaxBackoff:     cfg.Dispatch.MaxBackoff,
		MaxRetries:     cfg.Dispatch.MaxRetries,
	}
}

func rolloverConfig(cfg *config.Config, loc *time.Location) rollover.Config {
	return rollover.Config{
		Interval: cfg.Rollover.CheckInterval,
		Timeout:  cfg.Rollover.Timeout,
		Location: loc,
	}
}

// parseDay reads a YYYY-MM-DD flag value in loc. Empty means today.
func parseDay(s string, loc *time.Location) (time.Time, error) {
	if s == "" {
		return tracker.DayOf(time.Now(), loc), nil
	}
	day, err := time.ParseInLocation(ledger.DateLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD: %w", s, err)
	}
	return day, nil
}
