package oracle

import (
	"errors"
	"math"
	"testing"
	"time"

	"delphor/core/state"
	"delphor/crypto"
	"delphor/native/common"
	"delphor/native/registry"
	"delphor/storage"
)

func testAddress(prefix crypto.AddressPrefix, seed byte) crypto.Address {
	b := make([]byte, crypto.AddressLength)
	b[0] = seed
	b[19] = seed
	return crypto.NewAddress(prefix, b)
}

type fixture struct {
	engine *Engine
	admin  crypto.Address
	feeder crypto.Address
	now    time.Time
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	mgr := state.NewManager(storage.NewMemDB())
	reg := registry.NewEngine(mgr)
	admin := testAddress(crypto.AccountPrefix, 0xAA)
	if err := reg.Init(admin); err != nil {
		t.Fatalf("init registry: %v", err)
	}
	if _, err := reg.AddToken(admin, registry.Token{
		Mint:                   testAddress(crypto.MintPrefix, 1),
		Symbol:                 "SOL",
		Decimals:               9,
		PythPriceAccount:       testAddress(crypto.FeedPrefix, 0x11),
		SwitchboardFeedAccount: testAddress(crypto.FeedPrefix, 0x12),
		OffchainFeed:           "sol",
	}); err != nil {
		t.Fatalf("add token: %v", err)
	}
	// BARE has no feeds at all.
	if _, err := reg.AddToken(admin, registry.Token{Mint: testAddress(crypto.MintPrefix, 2), Symbol: "BARE", Decimals: 9}); err != nil {
		t.Fatalf("add token: %v", err)
	}
	feeder := testAddress(crypto.AccountPrefix, 0xF0)
	cfg.Feeders = append(cfg.Feeders, feeder)
	f := &fixture{
		engine: NewEngine(mgr, reg, cfg),
		admin:  admin,
		feeder: feeder,
		now:    time.Unix(1_700_000_000, 0),
	}
	f.engine.SetNowFunc(func() time.Time { return f.now })
	return f
}

func trading(source string, price uint64, decimals uint8) Reading {
	return Reading{Source: source, Price: price, Decimals: decimals, Status: StatusTrading}
}

func TestUpdatePriceWindowedMode(t *testing.T) {
	f := newFixture(t, Config{})
	readings := []Reading{
		trading(SourcePyth, 1_000000000, 9),
		trading(SourceSwitchboard, 2_000000000, 9),
		trading(SourceCoinGecko, 3001_00000000, 8),
		trading(SourceOrca, 3004_000000000, 9),
		trading(SourceSerum, 3005_000, 3),
	}
	record, err := f.engine.UpdatePrice(f.feeder, 0, readings)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if record.Price != 3003333333333 || record.Decimals != DefaultPriceDecimals {
		t.Fatalf("unexpected record %+v", record)
	}
	stored, err := f.engine.Price(0)
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if stored.Price != record.Price || stored.LastUpdate != uint64(f.now.Unix()) {
		t.Fatalf("stored record mismatch: %+v", stored)
	}
	if len(stored.Sources) != 5 {
		t.Fatalf("expected 5 sources, got %v", stored.Sources)
	}
}

func TestRejectedUpdateLeavesRecordUntouched(t *testing.T) {
	f := newFixture(t, Config{})
	good := []Reading{trading("a", 1000, 0), trading("b", 1000, 0), trading("c", 1000, 0)}
	if _, err := f.engine.UpdatePrice(f.admin, 0, good); err != nil {
		t.Fatalf("seed update: %v", err)
	}
	before, err := f.engine.Price(0)
	if err != nil {
		t.Fatalf("price: %v", err)
	}

	bad := []Reading{trading("a", 100, 0), trading("b", 500, 0), trading("c", 900, 0)}
	for attempt := 1; attempt <= 2; attempt++ {
		f.now = f.now.Add(time.Minute)
		if _, err := f.engine.UpdatePrice(f.admin, 0, bad); !errors.Is(err, ErrPricesTooDivergent) {
			t.Fatalf("attempt %d: expected divergence, got %v", attempt, err)
		}
		after, err := f.engine.Price(0)
		if err != nil {
			t.Fatalf("price: %v", err)
		}
		if after.Price != before.Price || after.LastUpdate != before.LastUpdate || len(after.Sources) != len(before.Sources) {
			t.Fatalf("attempt %d: record changed on rejection: %+v -> %+v", attempt, before, after)
		}
	}
}

func TestUpdatePriceExcludesNonTradingSources(t *testing.T) {
	f := newFixture(t, Config{})
	readings := []Reading{
		trading("a", 1000, 0),
		trading("b", 1001, 0),
		{Source: "halted", Price: 1, Status: StatusHalted},
		{Source: "unknown", Price: 5000, Status: StatusUnknown},
		trading("c", 1002, 0),
	}
	record, err := f.engine.UpdatePrice(f.admin, 0, readings)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if record.Price != 1001_000000000 {
		t.Fatalf("unexpected price %d", record.Price)
	}

	readings = readings[:4]
	if _, err := f.engine.UpdatePrice(f.admin, 0, readings); !errors.Is(err, ErrInsufficientSources) {
		t.Fatalf("expected insufficient sources, got %v", err)
	}
}

func TestUpdatePriceLegacyMode(t *testing.T) {
	f := newFixture(t, Config{Mode: ModeLegacyThree, PriceDecimals: 2})
	record, err := f.engine.UpdatePrice(f.admin, 0, []Reading{
		trading("a", 100, 2), trading("b", 102, 2), trading("c", 200, 2),
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if record.Price != 101 {
		t.Fatalf("unexpected price %d", record.Price)
	}
	_, err = f.engine.UpdatePrice(f.admin, 0, []Reading{
		trading("a", 100, 2), trading("b", 102, 2), trading("c", 200, 2), trading("d", 150, 2),
	})
	if !errors.Is(err, ErrInsufficientSources) {
		t.Fatalf("legacy mode should demand exactly three, got %v", err)
	}
}

func TestUpdatePriceAuthorizationAndValidation(t *testing.T) {
	f := newFixture(t, Config{})
	readings := []Reading{trading("a", 1000, 0), trading("b", 1000, 0), trading("c", 1000, 0)}
	if _, err := f.engine.UpdatePrice(testAddress(crypto.AccountPrefix, 0x01), 0, readings); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if _, err := f.engine.UpdatePrice(f.admin, 7, readings); !errors.Is(err, registry.ErrInvalidPosition) {
		t.Fatalf("expected invalid position, got %v", err)
	}
	dup := []Reading{trading("a", 1000, 0), trading("A", 1000, 0), trading("c", 1000, 0)}
	if _, err := f.engine.UpdatePrice(f.admin, 0, dup); !errors.Is(err, ErrDuplicateSource) {
		t.Fatalf("expected duplicate source, got %v", err)
	}
	f.engine.SetPauses(common.NewPauseSet(moduleName))
	if _, err := f.engine.UpdatePrice(f.admin, 0, readings); !errors.Is(err, common.ErrModulePaused) {
		t.Fatalf("expected paused, got %v", err)
	}
}

func TestUpdatePriceRejectsUnregisteredSources(t *testing.T) {
	f := newFixture(t, Config{})
	cases := []struct {
		name     string
		position uint8
		readings []Reading
	}{
		{"pyth without account", 1, []Reading{trading(SourcePyth, 1000, 0), trading(SourceSwitchboard, 1000, 0), trading("made-up", 1000, 0)}},
		{"switchboard without account", 1, []Reading{trading(SourceSwitchboard, 1000, 0)}},
		{"off-chain without feed", 1, []Reading{trading(SourceCoinGecko, 1000, 0)}},
		{"halted reading still checked", 1, []Reading{{Source: SourcePyth, Price: 1000, Status: StatusHalted}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.engine.UpdatePrice(f.admin, tc.position, tc.readings); !errors.Is(err, ErrSourceUnavailable) {
				t.Fatalf("expected source unavailable, got %v", err)
			}
			if _, err := f.engine.Price(tc.position); !errors.Is(err, ErrPriceUnavailable) {
				t.Fatalf("rejected update stored a price: %v", err)
			}
		})
	}

	// SOL registers every feed, so the same names pass there.
	readings := []Reading{trading(SourcePyth, 1000, 0), trading(SourceSwitchboard, 1000, 0), trading("made-up", 1000, 0)}
	if _, err := f.engine.UpdatePrice(f.admin, 0, readings); err != nil {
		t.Fatalf("registered sources rejected: %v", err)
	}
}

func TestSubmitObservationRequiresRegisteredFeed(t *testing.T) {
	f := newFixture(t, Config{})
	readings := []Reading{trading(SourceCoinGecko, 1000, 0)}
	if _, err := f.engine.SubmitObservation(f.feeder, "BARE", readings); !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("expected source unavailable, got %v", err)
	}
	if _, err := f.engine.ObservationFor("BARE"); !errors.Is(err, ErrObservationAbsent) {
		t.Fatalf("rejected observation was stored: %v", err)
	}
	if _, err := f.engine.SubmitObservation(f.feeder, " Sol ", readings); err != nil {
		t.Fatalf("submit: %v", err)
	}
}

func TestFreshPriceOfEnforcesMaxAge(t *testing.T) {
	f := newFixture(t, Config{MaxPriceAge: time.Minute})
	mint := testAddress(crypto.MintPrefix, 1)
	if _, err := f.engine.FreshPriceOf(mint); !errors.Is(err, ErrPriceUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	readings := []Reading{trading("a", 1000, 0), trading("b", 1000, 0), trading("c", 1000, 0)}
	if _, err := f.engine.UpdatePrice(f.admin, 0, readings); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := f.engine.FreshPriceOf(mint); err != nil {
		t.Fatalf("fresh price: %v", err)
	}
	f.now = f.now.Add(2 * time.Minute)
	if _, err := f.engine.FreshPriceOf(mint); !errors.Is(err, ErrPriceStale) {
		t.Fatalf("expected stale, got %v", err)
	}
}

func TestRefreshPriceCombinesObservationAndFeeds(t *testing.T) {
	f := newFixture(t, Config{})
	_, err := f.engine.SubmitObservation(f.feeder, "sol", []Reading{
		trading(SourceCoinGecko, 20_01, 2),
		trading(SourceOrca, 20_01, 2),
		trading(SourceSerum, 20_02, 2),
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	pyth, err := FromExponent(SourcePyth, 2001, -2, StatusTrading)
	if err != nil {
		t.Fatalf("pyth: %v", err)
	}
	record, err := f.engine.RefreshPrice(f.admin, 0, []Reading{pyth})
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if record.Price != 20_010000000 {
		t.Fatalf("unexpected price %d", record.Price)
	}
	if len(record.Sources) != 4 {
		t.Fatalf("expected 4 sources, got %v", record.Sources)
	}
}

func TestFeedConversions(t *testing.T) {
	neg, err := FromExponent(SourcePyth, -5, -8, StatusTrading)
	if err != nil {
		t.Fatalf("negative: %v", err)
	}
	if neg.Available() {
		t.Fatalf("negative price must be unavailable")
	}
	pos, err := FromExponent(SourcePyth, 12, 3, StatusTrading)
	if err != nil {
		t.Fatalf("positive expo: %v", err)
	}
	if pos.Price != 12000 || pos.Decimals != 0 {
		t.Fatalf("unexpected reading %+v", pos)
	}
	sb, err := FromDecimalResult(SourceSwitchboard, 21.5, StatusTrading)
	if err != nil {
		t.Fatalf("switchboard: %v", err)
	}
	if sb.Price != 21_500000000 || sb.Decimals != SwitchboardDecimals {
		t.Fatalf("unexpected reading %+v", sb)
	}
	if _, err := FromDecimalResult(SourceSwitchboard, -1, StatusTrading); !errors.Is(err, ErrInvalidReading) {
		t.Fatalf("expected invalid reading, got %v", err)
	}
	for _, expo := range []int32{-39, math.MinInt32} {
		if _, err := FromExponent(SourcePyth, 12345, expo, StatusTrading); !errors.Is(err, ErrInvalidReading) {
			t.Fatalf("exponent %d: expected invalid reading, got %v", expo, err)
		}
	}
	deepest, err := FromExponent(SourcePyth, 12345, -38, StatusTrading)
	if err != nil || deepest.Decimals != 38 {
		t.Fatalf("exponent -38: %+v %v", deepest, err)
	}
	if ParseStatus("Trading") != StatusTrading || ParseStatus("weird") != StatusUnknown {
		t.Fatalf("status parsing broken")
	}
}
