package feeder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"delphor/native/oracle"
	"delphor/observability"
	"delphor/services/feederd/sources"
	"delphor/services/feederd/storage"
)

var (
	// ErrInsufficientFeeds is returned when fewer than MinFeeds sources
	// produced a usable price for a symbol.
	ErrInsufficientFeeds = errors.New("feeder: insufficient price feeds")
	errNotConfigured     = errors.New("feeder: manager not configured")
)

// Skip reasons recorded in metrics.
const (
	SkipBelowVariation    = "below_variation"
	SkipInsufficientFeeds = "insufficient_feeds"
)

// Observation is the payload forwarded to the node for one symbol.
type Observation struct {
	RunID    string
	Symbol   string
	Readings []oracle.Reading
	// Reference is the median reading price the variation gate compared.
	Reference uint64
	At        time.Time
}

// Publisher pushes observations onto the node.
type Publisher interface {
	PublishObservation(ctx context.Context, obs Observation) error
}

// PublisherFunc adapts a function into a Publisher.
type PublisherFunc func(ctx context.Context, obs Observation) error

// PublishObservation implements Publisher.
func (f PublisherFunc) PublishObservation(ctx context.Context, obs Observation) error {
	return f(ctx, obs)
}

// Settings tunes a Manager.
type Settings struct {
	Interval time.Duration
	MaxAge   time.Duration
	// MinPriceVariation is a percentage; zero publishes every tick.
	MinPriceVariation float64
	Heartbeat         time.Duration
	MinFeeds          int
	// Retention bounds how long raw samples are kept. Zero keeps them.
	Retention time.Duration
}

// Manager polls the configured sources and publishes observations that moved
// far enough from the last published price.
type Manager struct {
	logger    *slog.Logger
	storage   *storage.Storage
	sources   []sources.Source
	symbols   []string
	settings  Settings
	publisher Publisher
	metrics   *observability.FeederMetrics
	now       func() time.Time
	running   atomic.Bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger installs a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithPublisher overrides the default no-op publisher.
func WithPublisher(p Publisher) Option {
	return func(m *Manager) {
		m.publisher = p
	}
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// New constructs a manager instance.
func New(store *storage.Storage, srcs []sources.Source, symbols []string, settings Settings, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("storage required")
	}
	if len(srcs) == 0 {
		return nil, fmt.Errorf("at least one source required")
	}
	if len(srcs) > oracle.MaxSources {
		return nil, fmt.Errorf("at most %d sources supported", oracle.MaxSources)
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("at least one symbol required")
	}
	if settings.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive")
	}
	if settings.MaxAge <= 0 {
		settings.MaxAge = time.Minute
	}
	if settings.MinFeeds <= 0 {
		settings.MinFeeds = 1
	}
	if settings.MinPriceVariation < 0 {
		return nil, fmt.Errorf("min price variation must not be negative")
	}
	normalised := make([]string, 0, len(symbols))
	for _, symbol := range symbols {
		normalised = append(normalised, strings.ToUpper(strings.TrimSpace(symbol)))
	}
	mgr := &Manager{
		logger:   slog.Default(),
		storage:  store,
		sources:  append([]sources.Source{}, srcs...),
		symbols:  normalised,
		settings: settings,
		metrics:  observability.Feeder(),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(mgr)
		}
	}
	if mgr.publisher == nil {
		mgr.publisher = PublisherFunc(func(context.Context, Observation) error { return nil })
	}
	return mgr, nil
}

// Run blocks, polling upstream feeds every interval until ctx is cancelled.
// A tick still in flight when the next one is due is not overlapped.
func (m *Manager) Run(ctx context.Context) error {
	if m == nil {
		return errNotConfigured
	}
	ticker := time.NewTicker(m.settings.Interval)
	defer ticker.Stop()
	m.logger.Info("feeder started",
		"sources", len(m.sources),
		"symbols", m.symbols,
		"interval", m.settings.Interval.String(),
		"min_price_variation", m.settings.MinPriceVariation)
	for {
		if err := m.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.logger.Warn("feeder tick failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick performs one polling cycle across all configured symbols. Failures for
// one symbol do not stop the others; they are joined into the result.
func (m *Manager) Tick(ctx context.Context) error {
	if m == nil {
		return errNotConfigured
	}
	if !m.running.CompareAndSwap(false, true) {
		return nil
	}
	defer m.running.Store(false)

	var errs []error
	for _, symbol := range m.symbols {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.processSymbol(ctx, symbol); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", symbol, err))
		}
	}
	if m.settings.Retention > 0 {
		if removed, err := m.storage.PruneSamples(ctx, m.now().Add(-m.settings.Retention)); err != nil {
			m.logger.Warn("prune samples failed", "error", err)
		} else if removed > 0 {
			m.logger.Debug("pruned samples", "rows", removed)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) processSymbol(ctx context.Context, symbol string) error {
	now := m.now()
	readings := make([]oracle.Reading, 0, len(m.sources))
	for _, src := range m.sources {
		if src == nil {
			continue
		}
		reading, ok := m.fetch(ctx, src, symbol, now)
		if ok {
			readings = append(readings, reading)
		}
	}
	if len(readings) < m.settings.MinFeeds {
		m.metrics.RecordSkip(symbol, SkipInsufficientFeeds)
		return fmt.Errorf("%w: %d of %d", ErrInsufficientFeeds, len(readings), m.settings.MinFeeds)
	}
	reference := medianPrice(readings)

	last, err := m.storage.LastPublication(ctx, symbol)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return err
	default:
		heartbeatDue := m.settings.Heartbeat > 0 && now.Sub(last.PublishedAt) >= m.settings.Heartbeat
		if !heartbeatDue && !VariationExceeded(last.Price, reference, m.settings.MinPriceVariation) {
			m.metrics.RecordSkip(symbol, SkipBelowVariation)
			m.logger.Debug("observation withheld",
				"symbol", symbol,
				"last_price", last.Price,
				"price", reference)
			return nil
		}
	}

	obs := Observation{
		RunID:     uuid.NewString(),
		Symbol:    symbol,
		Readings:  readings,
		Reference: reference,
		At:        now,
	}
	err = m.publisher.PublishObservation(ctx, obs)
	m.metrics.RecordPublish(symbol, err)
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	names := make([]string, 0, len(readings))
	for _, r := range readings {
		names = append(names, r.Source)
	}
	if err := m.storage.RecordPublication(ctx, storage.Publication{
		Symbol:      symbol,
		Price:       reference,
		Decimals:    sources.Decimals,
		Sources:     names,
		RunID:       obs.RunID,
		PublishedAt: now,
	}); err != nil {
		return err
	}
	m.logger.Info("observation published",
		"symbol", symbol,
		"run_id", obs.RunID,
		"price", reference,
		"sources", names)
	return nil
}

func (m *Manager) fetch(ctx context.Context, src sources.Source, symbol string, now time.Time) (oracle.Reading, bool) {
	start := time.Now()
	quote, err := src.Fetch(ctx, symbol)
	m.metrics.ObserveFetch(src.Name(), time.Since(start), err)
	if err != nil {
		m.logger.Warn("source fetch failed", "source", src.Name(), "symbol", symbol, "error", err)
		return oracle.Reading{}, false
	}
	if quote.Timestamp.After(now.Add(5 * time.Second)) {
		m.logger.Warn("source produced future timestamp", "source", src.Name(), "symbol", symbol)
		return oracle.Reading{}, false
	}
	if quote.Timestamp.Before(now.Add(-m.settings.MaxAge)) {
		m.logger.Warn("source quote expired", "source", src.Name(), "symbol", symbol, "observed_at", quote.Timestamp)
		return oracle.Reading{}, false
	}
	reading, err := sources.ToReading(src.Name(), quote)
	if err != nil {
		m.logger.Warn("source price rejected", "source", src.Name(), "symbol", symbol, "error", err)
		return oracle.Reading{}, false
	}
	if err := m.storage.RecordSample(ctx, storage.Sample{
		Symbol:     symbol,
		Source:     src.Name(),
		Price:      reading.Price,
		Decimals:   reading.Decimals,
		ObservedAt: quote.Timestamp,
		RecordedAt: now,
	}); err != nil {
		m.logger.Warn("record sample failed", "error", err)
	}
	return reading, true
}

// VariationExceeded reports whether next moved at least minPercent percent
// away from last. A zero last price always counts as moved.
func VariationExceeded(last, next uint64, minPercent float64) bool {
	if last == 0 {
		return true
	}
	diff := new(big.Int).Sub(new(big.Int).SetUint64(next), new(big.Int).SetUint64(last))
	moved := new(big.Rat).SetFrac(diff.Abs(diff), new(big.Int).SetUint64(last))
	moved.Mul(moved, big.NewRat(100, 1))
	threshold := new(big.Rat)
	if minPercent > 0 {
		threshold.SetFloat64(minPercent)
	}
	return moved.Cmp(threshold) >= 0
}

// medianPrice returns the middle price, flooring the mean of the two middle
// prices for even counts.
func medianPrice(readings []oracle.Reading) uint64 {
	prices := make([]uint64, 0, len(readings))
	for _, r := range readings {
		prices = append(prices, r.Price)
	}
	slices.Sort(prices)
	mid := len(prices) / 2
	if len(prices)%2 == 1 {
		return prices[mid]
	}
	a, b := prices[mid-1], prices[mid]
	return a/2 + b/2 + (a%2+b%2)/2
}
