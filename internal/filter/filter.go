// Package filter implements the deterministic anomaly predicate that gates
// every LLM call. Grounded on the teacher's validateBalances-style pure
// boolean gates in blackhole.go, generalized from balance-sufficiency
// checks to the six price/swap/liquidation conditions this monitor watches.
// Every comparison here operates on *big.Int/*big.Rat; never float64.
package filter

import (
	"math/big"

	"github.com/sentinel-labs/oracle-monitor/internal/observer"
	"github.com/sentinel-labs/oracle-monitor/internal/util"
)

// SignalKind enumerates the six deterministic anomaly conditions.
type SignalKind string

const (
	LargeDeviation        SignalKind = "LARGE_DEVIATION"
	MultipleOracleUpdates SignalKind = "MULTIPLE_ORACLE_UPDATES"
	AttackSwapPattern     SignalKind = "ATTACK_SWAP_PATTERN"
	SameBlockRecovery     SignalKind = "SAME_BLOCK_RECOVERY"
	UnfairLiquidation     SignalKind = "UNFAIR_LIQUIDATION"
	ExtremeMove           SignalKind = "EXTREME_MOVE"
)

// AnomalySignal is the non-nil result of ShouldReason.
type AnomalySignal struct {
	Kind   SignalKind
	Detail string
}

// Config holds the filter's configurable thresholds, all with the
// defaults named in the design.
type Config struct {
	DeviationThresholdPct    float64 // default 5
	LargeSwapWETH            *big.Int
	RecoveryCalmThresholdPct float64 // default 1
	RecoverySpikeThresholdPct float64 // default 10
	ExtremeMoveThresholdPct  float64 // default 10
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		DeviationThresholdPct:     5,
		LargeSwapWETH:             big.NewInt(10),
		RecoveryCalmThresholdPct:  1,
		RecoverySpikeThresholdPct: 10,
		ExtremeMoveThresholdPct:   10,
	}
}

// AnomalyFilter evaluates ShouldReason against a rolling 3-price window.
type AnomalyFilter struct {
	cfg Config
}

func New(cfg Config) *AnomalyFilter {
	return &AnomalyFilter{cfg: cfg}
}

// ShouldReason returns a non-nil AnomalySignal iff one of the six
// conditions in the design's §4.3 fires. priceHistory holds up to the
// last 3 AMM spot prices, oldest first, NOT including snap's own price;
// the caller maintains this window. All percentage comparisons are
// strict (exactly-at-threshold is NOT an anomaly).
func (f *AnomalyFilter) ShouldReason(snap *observer.Snapshot, priceHistory []*big.Int) *AnomalySignal {
	if snap == nil || !snap.Valid {
		return nil
	}

	// Rule 5 is checked ahead of rule 1: its condition includes rule 1's,
	// so checked after it, it could never fire.
	if snap.LiquidationSeen && snap.DeviationPct != nil && util.RatGreaterThan(util.AbsRat(snap.DeviationPct), f.cfg.DeviationThresholdPct) {
		return &AnomalySignal{Kind: UnfairLiquidation, Detail: "liquidation seen alongside large deviation"}
	}

	if snap.DeviationPct != nil && util.RatGreaterThan(util.AbsRat(snap.DeviationPct), f.cfg.DeviationThresholdPct) {
		return &AnomalySignal{Kind: LargeDeviation, Detail: "oracle/amm deviation exceeds threshold"}
	}

	if snap.OracleUpdatesInBlock > 1 {
		return &AnomalySignal{Kind: MultipleOracleUpdates, Detail: "more than one oracle update in block"}
	}

	if snap.SwapsInBlock > 3 || (snap.LargestSwapWETH != nil && snap.LargestSwapWETH.Cmp(f.cfg.LargeSwapWETH) > 0) {
		return &AnomalySignal{Kind: AttackSwapPattern, Detail: "swap count or size exceeds threshold"}
	}

	if sig := f.recoveryPattern(snap, priceHistory); sig != nil {
		return sig
	}

	if len(priceHistory) >= 1 {
		prev := priceHistory[len(priceHistory)-1]
		if change := util.PercentChange(snap.AMMSpotPrice, prev); change != nil && util.RatGreaterThan(change, f.cfg.ExtremeMoveThresholdPct) {
			return &AnomalySignal{Kind: ExtremeMove, Detail: "block-over-block move exceeds threshold"}
		}
	}

	return nil
}

// recoveryPattern implements rule 4: within the 3-block window
// [n-2, n-1, n] (priceHistory holds n-2 and n-1, snap is n),
// |p[n-2]-p[n]|/p[n-2] < calm-threshold AND |p[n-1]-p[n-2]|/p[n-2] > spike-threshold.
func (f *AnomalyFilter) recoveryPattern(snap *observer.Snapshot, priceHistory []*big.Int) *AnomalySignal {
	if len(priceHistory) < 2 {
		return nil
	}
	pN2 := priceHistory[len(priceHistory)-2]
	pN1 := priceHistory[len(priceHistory)-1]
	pN := snap.AMMSpotPrice

	calm := util.PercentChange(pN, pN2)
	spike := util.PercentChange(pN1, pN2)
	if calm == nil || spike == nil {
		return nil
	}

	calmOK := calm.Cmp(bigRatFromPct(f.cfg.RecoveryCalmThresholdPct)) < 0
	spikeOK := spike.Cmp(bigRatFromPct(f.cfg.RecoverySpikeThresholdPct)) > 0
	if calmOK && spikeOK {
		return &AnomalySignal{Kind: SameBlockRecovery, Detail: "price spiked then recovered within window"}
	}
	return nil
}

func bigRatFromPct(pct float64) *big.Rat {
	r := new(big.Rat).SetFloat64(pct)
	if r == nil {
		return big.NewRat(0, 1)
	}
	return r
}
