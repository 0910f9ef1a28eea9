package oracle

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"delphor/crypto"
	"delphor/native/common"
	"delphor/native/registry"
)

const moduleName = "oracle"

// DefaultPriceDecimals is the shared fixed-point scale of every stored price.
// Swap pricing divides one record by another, so all records use one scale.
const DefaultPriceDecimals = 9

var (
	errNilState = errors.New("oracle engine: state not configured")

	ErrUnauthorized      = errors.New("oracle: caller may not publish prices")
	ErrDuplicateSource   = errors.New("oracle: duplicate source")
	ErrPriceUnavailable  = errors.New("oracle: price unavailable")
	ErrPriceStale        = errors.New("oracle: price stale")
	ErrUnknownMode       = errors.New("oracle: unknown aggregation mode")
	ErrObservationAbsent = errors.New("oracle: no observation recorded")
	// ErrSourceUnavailable rejects a reading from a feed the token has not
	// registered.
	ErrSourceUnavailable = errors.New("oracle: source not registered for token")
)

// Mode selects the aggregation algorithm.
type Mode uint8

const (
	// ModeWindowed is the primary coefficient-of-variation window mode.
	ModeWindowed Mode = iota
	// ModeLegacyThree keeps the closest pair of exactly three sources.
	ModeLegacyThree
)

func (m Mode) String() string {
	switch m {
	case ModeWindowed:
		return "windowed"
	case ModeLegacyThree:
		return "legacy-three"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// ParseMode maps a configuration string to a Mode.
func ParseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "windowed", "five":
		return ModeWindowed, nil
	case "legacy-three", "legacy", "three":
		return ModeLegacyThree, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownMode, raw)
	}
}

// PriceRecord is the trusted price of one registered token.
type PriceRecord struct {
	Price      uint64
	Decimals   uint8
	LastUpdate uint64
	Sources    []string
	Mode       Mode
	CV         uint64
}

// Observation is the latest set of off-chain quotes a feeder posted for a symbol.
type Observation struct {
	Symbol    string
	Readings  []Reading
	UpdatedAt uint64
	Authority []byte
}

// Config tunes the engine.
type Config struct {
	Mode          Mode
	PriceDecimals uint8
	MaxPriceAge   time.Duration
	// Feeders may publish prices in addition to the registry admin.
	Feeders []crypto.Address
}

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

type registryView interface {
	Load() (*registry.Registry, error)
}

// Engine aggregates feed readings into PriceRecords.
type Engine struct {
	state    engineState
	registry registryView
	pauses   common.PauseView
	cfg      Config
	nowFn    func() time.Time
}

func NewEngine(state engineState, reg registryView, cfg Config) *Engine {
	if cfg.PriceDecimals == 0 {
		cfg.PriceDecimals = DefaultPriceDecimals
	}
	return &Engine{state: state, registry: reg, cfg: cfg, nowFn: time.Now}
}

// SetPauses wires the pause view consulted before mutations.
func (e *Engine) SetPauses(p common.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetNowFunc overrides the clock used for timestamps and staleness.
func (e *Engine) SetNowFunc(now func() time.Time) {
	if e == nil || now == nil {
		return
	}
	e.nowFn = now
}

func (e *Engine) now() time.Time {
	if e == nil || e.nowFn == nil {
		return time.Now()
	}
	return e.nowFn()
}

func (e *Engine) authorize(reg *registry.Registry, caller crypto.Address) error {
	if reg.IsAdmin(caller) {
		return nil
	}
	for _, feeder := range e.cfg.Feeders {
		if feeder.Equal(caller) {
			return nil
		}
	}
	return ErrUnauthorized
}

// UpdatePrice aggregates readings for the token at position and stores the
// result. Rejected updates leave the existing record untouched.
func (e *Engine) UpdatePrice(caller crypto.Address, position uint8, readings []Reading) (PriceRecord, error) {
	if e == nil || e.state == nil || e.registry == nil {
		return PriceRecord{}, errNilState
	}
	if err := common.Guard(e.pauses, moduleName); err != nil {
		return PriceRecord{}, err
	}
	reg, err := e.registry.Load()
	if err != nil {
		return PriceRecord{}, err
	}
	if err := e.authorize(reg, caller); err != nil {
		return PriceRecord{}, err
	}
	token, ok := reg.Token(position)
	if !ok {
		return PriceRecord{}, registry.ErrInvalidPosition
	}
	record, err := e.Aggregate(token, readings)
	if err != nil {
		return PriceRecord{}, err
	}
	record.LastUpdate = uint64(e.now().Unix())
	if err := e.state.KVPut(priceKey(token.Mint), record); err != nil {
		return PriceRecord{}, err
	}
	return record, nil
}

// Aggregate runs the configured algorithm over readings for token without
// storing anything.
func (e *Engine) Aggregate(token registry.Token, readings []Reading) (PriceRecord, error) {
	prices, sources, err := e.normalise(token, readings)
	if err != nil {
		return PriceRecord{}, err
	}
	record := PriceRecord{Decimals: e.cfg.PriceDecimals, Sources: sources, Mode: e.cfg.Mode}
	switch e.cfg.Mode {
	case ModeWindowed:
		result, err := AggregateWindows(prices)
		if err != nil {
			return PriceRecord{}, err
		}
		record.Price = result.Price
		record.CV = result.CV
	case ModeLegacyThree:
		if len(prices) != 3 {
			return PriceRecord{}, fmt.Errorf("%w: legacy mode needs exactly 3, have %d", ErrInsufficientSources, len(prices))
		}
		record.Price = AggregateThree(prices[0], prices[1], prices[2])
	default:
		return PriceRecord{}, ErrUnknownMode
	}
	return record, nil
}

// normalise drops unavailable readings and rescales the rest to the engine
// scale. Every reading must come from a feed token has registered.
func (e *Engine) normalise(token registry.Token, readings []Reading) ([]uint64, []string, error) {
	prices := make([]uint64, 0, len(readings))
	sources := make([]string, 0, len(readings))
	seen := make(map[string]struct{}, len(readings))
	for _, reading := range readings {
		name := strings.ToLower(strings.TrimSpace(reading.Source))
		if name == "" {
			return nil, nil, fmt.Errorf("%w: source name required", ErrInvalidReading)
		}
		if _, dup := seen[name]; dup {
			return nil, nil, fmt.Errorf("%w: %s", ErrDuplicateSource, name)
		}
		seen[name] = struct{}{}
		if err := checkSource(token, name); err != nil {
			return nil, nil, err
		}
		if !reading.Available() {
			continue
		}
		price, err := common.Rescale(reading.Price, reading.Decimals, e.cfg.PriceDecimals)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %s: %v", ErrInvalidReading, name, err)
		}
		if price == 0 {
			continue
		}
		prices = append(prices, price)
		sources = append(sources, name)
	}
	if len(prices) > MaxSources {
		return nil, nil, ErrTooManySources
	}
	return prices, sources, nil
}

// checkSource ties a reading to the token's registered feeds. Pyth and
// switchboard readings need the matching account; any other source is an
// off-chain quote and needs an off-chain feed.
func checkSource(token registry.Token, name string) error {
	var registered bool
	switch name {
	case SourcePyth:
		registered = !token.PythPriceAccount.IsZero()
	case SourceSwitchboard:
		registered = !token.SwitchboardFeedAccount.IsZero()
	default:
		registered = token.FeedSymbol() != ""
	}
	if !registered {
		return fmt.Errorf("%w: %s has no %s feed", ErrSourceUnavailable, token.Symbol, name)
	}
	return nil
}

// Price returns the stored record for position.
func (e *Engine) Price(position uint8) (PriceRecord, error) {
	if e == nil || e.state == nil || e.registry == nil {
		return PriceRecord{}, errNilState
	}
	reg, err := e.registry.Load()
	if err != nil {
		return PriceRecord{}, err
	}
	token, ok := reg.Token(position)
	if !ok {
		return PriceRecord{}, registry.ErrInvalidPosition
	}
	return e.PriceOf(token.Mint)
}

// PriceOf returns the stored record for mint.
func (e *Engine) PriceOf(mint crypto.Address) (PriceRecord, error) {
	if e == nil || e.state == nil {
		return PriceRecord{}, errNilState
	}
	var record PriceRecord
	ok, err := e.state.KVGet(priceKey(mint), &record)
	if err != nil {
		return PriceRecord{}, err
	}
	if !ok || record.Price == 0 {
		return PriceRecord{}, ErrPriceUnavailable
	}
	return record, nil
}

// FreshPriceOf is PriceOf with the configured staleness bound applied.
func (e *Engine) FreshPriceOf(mint crypto.Address) (PriceRecord, error) {
	record, err := e.PriceOf(mint)
	if err != nil {
		return PriceRecord{}, err
	}
	if e.cfg.MaxPriceAge > 0 {
		age := e.now().Sub(time.Unix(int64(record.LastUpdate), 0))
		if age > e.cfg.MaxPriceAge {
			return PriceRecord{}, fmt.Errorf("%w: %s old", ErrPriceStale, age.Truncate(time.Second))
		}
	}
	return record, nil
}

// SubmitObservation stores a feeder's latest off-chain quotes for symbol.
func (e *Engine) SubmitObservation(caller crypto.Address, symbol string, readings []Reading) (Observation, error) {
	if e == nil || e.state == nil || e.registry == nil {
		return Observation{}, errNilState
	}
	if err := common.Guard(e.pauses, moduleName); err != nil {
		return Observation{}, err
	}
	reg, err := e.registry.Load()
	if err != nil {
		return Observation{}, err
	}
	if err := e.authorize(reg, caller); err != nil {
		return Observation{}, err
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return Observation{}, fmt.Errorf("%w: symbol required", ErrInvalidReading)
	}
	if !feedRegistered(reg, symbol) {
		return Observation{}, fmt.Errorf("%w: no token uses off-chain feed %s", ErrSourceUnavailable, symbol)
	}
	if len(readings) == 0 || len(readings) > MaxSources {
		return Observation{}, fmt.Errorf("%w: %d readings", ErrInvalidReading, len(readings))
	}
	obs := Observation{
		Symbol:    symbol,
		Readings:  append([]Reading(nil), readings...),
		UpdatedAt: uint64(e.now().Unix()),
		Authority: caller.Bytes(),
	}
	if err := e.state.KVPut(observationKey(symbol), obs); err != nil {
		return Observation{}, err
	}
	return obs, nil
}

// ObservationFor returns the stored observation for symbol.
func (e *Engine) ObservationFor(symbol string) (Observation, error) {
	if e == nil || e.state == nil {
		return Observation{}, errNilState
	}
	var obs Observation
	ok, err := e.state.KVGet(observationKey(strings.ToUpper(strings.TrimSpace(symbol))), &obs)
	if err != nil {
		return Observation{}, err
	}
	if !ok {
		return Observation{}, ErrObservationAbsent
	}
	return obs, nil
}

// RefreshPrice aggregates the stored observation for the token at position
// together with any directly supplied on-chain feed readings.
func (e *Engine) RefreshPrice(caller crypto.Address, position uint8, feeds []Reading) (PriceRecord, error) {
	if e == nil || e.registry == nil {
		return PriceRecord{}, errNilState
	}
	reg, err := e.registry.Load()
	if err != nil {
		return PriceRecord{}, err
	}
	token, ok := reg.Token(position)
	if !ok {
		return PriceRecord{}, registry.ErrInvalidPosition
	}
	readings := append([]Reading(nil), feeds...)
	if token.FeedSymbol() == "" {
		return e.UpdatePrice(caller, position, readings)
	}
	obs, err := e.ObservationFor(token.FeedSymbol())
	switch {
	case err == nil:
		if maxAge := e.cfg.MaxPriceAge; maxAge <= 0 || e.now().Sub(time.Unix(int64(obs.UpdatedAt), 0)) <= maxAge {
			readings = append(readings, obs.Readings...)
		}
	case !errors.Is(err, ErrObservationAbsent):
		return PriceRecord{}, err
	}
	return e.UpdatePrice(caller, position, readings)
}

func feedRegistered(reg *registry.Registry, symbol string) bool {
	for _, token := range reg.Tokens {
		if token.FeedSymbol() == symbol {
			return true
		}
	}
	return false
}
