// Package util holds the monitor's ambient helpers: ABI loading, signer
// key decryption, retry/backoff, and the fixed-point arithmetic shared by
// the filter, decider, and restore-math paths. Per the design's "never
// use floating point inside the filter/decider/restore-math paths",
// every function here operates on *big.Int/*big.Rat, never float64.
package util

import "math/big"

// PriceScale is the fixed-point scale (8 decimals) all on-chain prices in
// this monitor are expressed in, matching the oracle and AMM contracts.
var PriceScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(8), nil)

// PercentDeviation returns the signed percent deviation (oracle-amm)/oracle*100
// as a *big.Rat, exactly the definition in the glossary. Returns nil if
// oracle is zero (undefined).
func PercentDeviation(oracle, amm *big.Int) *big.Rat {
	if oracle == nil || oracle.Sign() == 0 {
		return nil
	}
	diff := new(big.Int).Sub(oracle, amm)
	num := new(big.Rat).SetInt(new(big.Int).Mul(diff, big.NewInt(100)))
	den := new(big.Rat).SetInt(oracle)
	return num.Quo(num, den)
}

// AbsRat returns the absolute value of r as a new *big.Rat.
func AbsRat(r *big.Rat) *big.Rat {
	out := new(big.Rat).Set(r)
	if out.Sign() < 0 {
		out.Neg(out)
	}
	return out
}

// RatGreaterThan reports whether a > b, both expressed as percents
// (e.g. 5 for 5%).
func RatGreaterThan(a *big.Rat, bPercent float64) bool {
	b := new(big.Rat).SetFloat64(bPercent)
	if b == nil {
		return false
	}
	return a.Cmp(b) > 0
}

// PercentChange returns |a-b|/b*100 as a *big.Rat, used for the price
// recovery and extreme-move detectors, which both compare consecutive
// block prices rather than oracle-vs-amm.
func PercentChange(a, b *big.Int) *big.Rat {
	if b == nil || b.Sign() == 0 {
		return nil
	}
	diff := new(big.Int).Sub(a, b)
	diff.Abs(diff)
	num := new(big.Rat).SetInt(new(big.Int).Mul(diff, big.NewInt(100)))
	den := new(big.Rat).SetInt(b)
	return num.Quo(num, den)
}

// AMMSpotPrice derives usdcReserve/wethReserve scaled to PriceScale, the
// constant-product spot price definition in the glossary. Returns nil if
// wethReserve is zero.
func AMMSpotPrice(wethReserve, usdcReserve *big.Int) *big.Int {
	if wethReserve == nil || wethReserve.Sign() == 0 {
		return nil
	}
	scaled := new(big.Int).Mul(usdcReserve, PriceScale)
	return scaled.Div(scaled, wethReserve)
}

// WithinTolerance reports whether the relative difference between a and b
// is within toleranceBps/10000 (basis points), used to validate that a
// snapshot's advertised AMM spot price matches the derived reserve ratio
// per the Snapshot invariant, and to check restore convergence (§8's
// "within 5% of the oracle price").
func WithinTolerance(a, b *big.Int, toleranceBps int64) bool {
	if b == nil || b.Sign() == 0 {
		return a == nil || a.Sign() == 0
	}
	diff := new(big.Int).Sub(a, b)
	diff.Abs(diff)
	bound := new(big.Int).Mul(b, big.NewInt(toleranceBps))
	bound.Div(bound, big.NewInt(10000))
	return diff.Cmp(bound) <= 0
}
