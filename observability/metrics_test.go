package observability

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestOperationsObserveCountsOutcomes(t *testing.T) {
	m := Operations()
	before := testutil.ToFloat64(m.requests.WithLabelValues("vault", "swap", "error"))
	reason := errorReason(fmt.Errorf("%w: receive 950, min 960", errors.New("vault: final amount lower than min amount")))
	beforeReason := testutil.ToFloat64(m.errors.WithLabelValues("vault", "swap", reason))

	m.Observe("vault", "swap", time.Millisecond, errors.New("vault: final amount lower than min amount: receive 950, min 960"))

	if got := testutil.ToFloat64(m.requests.WithLabelValues("vault", "swap", "error")); got != before+1 {
		t.Fatalf("expected error outcome count %v, got %v", before+1, got)
	}
	if reason != "vault: final amount lower than min amount" {
		t.Fatalf("unexpected reason label %q", reason)
	}
	if got := testutil.ToFloat64(m.errors.WithLabelValues("vault", "swap", reason)); got != beforeReason+1 {
		t.Fatalf("reason counter not incremented")
	}
}

func TestVaultRecordSwap(t *testing.T) {
	m := Vault()
	before := testutil.ToFloat64(m.swaps.WithLabelValues("SOL", "USDC", "liquidity_provider"))
	volumeBefore := testutil.ToFloat64(m.volume.WithLabelValues("USDC", "out"))
	m.RecordSwap("sol", " usdc", "liquidity_provider", 1_000, 950, 10, 10)
	if got := testutil.ToFloat64(m.swaps.WithLabelValues("SOL", "USDC", "liquidity_provider")); got != before+1 {
		t.Fatalf("swap counter not incremented")
	}
	if got := testutil.ToFloat64(m.volume.WithLabelValues("USDC", "out")); got != volumeBefore+950 {
		t.Fatalf("unexpected out volume %v", got)
	}
}

func TestOracleRecordAcceptedScalesPrice(t *testing.T) {
	m := Oracle()
	m.RecordAccepted("btc", 3003_333333333, 9, 2, 3)
	if got := testutil.ToFloat64(m.price.WithLabelValues("BTC")); got < 3003.33 || got > 3003.34 {
		t.Fatalf("unexpected scaled price %v", got)
	}
	if got := testutil.ToFloat64(m.sources.WithLabelValues("BTC")); got != 3 {
		t.Fatalf("unexpected sources gauge %v", got)
	}
}

func TestEventsRecordEvent(t *testing.T) {
	m := Events()
	before := testutil.ToFloat64(m.emitted.WithLabelValues("vault.swap"))
	m.RecordEvent(" Vault.Swap ")
	if got := testutil.ToFloat64(m.emitted.WithLabelValues("vault.swap")); got != before+1 {
		t.Fatalf("event counter not incremented")
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var ops *OperationMetrics
	ops.Observe("vault", "swap", time.Second, nil)
	var feeder *FeederMetrics
	feeder.RecordSkip("SOL", "variation")
}
