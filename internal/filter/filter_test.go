package filter

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sentinel-labs/oracle-monitor/internal/observer"
)

func snapAt(ammSpot, oracle *big.Int) *observer.Snapshot {
	return &observer.Snapshot{
		Valid:        true,
		OraclePrice:  oracle,
		AMMSpotPrice: ammSpot,
		DeviationPct: devPct(oracle, ammSpot),
	}
}

func devPct(oracle, amm *big.Int) *big.Rat {
	diff := new(big.Int).Sub(oracle, amm)
	num := new(big.Rat).SetInt(new(big.Int).Mul(diff, big.NewInt(100)))
	den := new(big.Rat).SetInt(oracle)
	return num.Quo(num, den)
}

func TestShouldReasonQuietMarket(t *testing.T) {
	f := New(DefaultConfig())
	snap := snapAt(big.NewInt(2000_00000000), big.NewInt(2000_00000000))
	assert.Nil(t, f.ShouldReason(snap, nil))
}

func TestShouldReasonLargeDeviationExactlyAtThresholdIsNotAnomaly(t *testing.T) {
	f := New(DefaultConfig())
	oracle := big.NewInt(2000_00000000)
	amm := big.NewInt(1900_00000000) // exactly 5% below oracle
	snap := snapAt(amm, oracle)
	assert.Nil(t, f.ShouldReason(snap, nil))
}

func TestShouldReasonLargeDeviationAboveThreshold(t *testing.T) {
	f := New(DefaultConfig())
	oracle := big.NewInt(2000_00000000)
	amm := big.NewInt(1800_00000000) // 10% below oracle
	snap := snapAt(amm, oracle)
	sig := f.ShouldReason(snap, nil)
	assert := assert.New(t)
	assert.NotNil(sig)
	assert.Equal(LargeDeviation, sig.Kind)
}

func TestShouldReasonMultipleOracleUpdates(t *testing.T) {
	f := New(DefaultConfig())
	snap := snapAt(big.NewInt(2000_00000000), big.NewInt(2000_00000000))
	snap.OracleUpdatesInBlock = 2
	sig := f.ShouldReason(snap, nil)
	assert.Equal(t, MultipleOracleUpdates, sig.Kind)
}

func TestShouldReasonSwapCountExactlyThreeIsNotAnomaly(t *testing.T) {
	f := New(DefaultConfig())
	snap := snapAt(big.NewInt(2000_00000000), big.NewInt(2000_00000000))
	snap.SwapsInBlock = 3
	snap.LargestSwapWETH = big.NewInt(1)
	assert.Nil(t, f.ShouldReason(snap, nil))
}

func TestShouldReasonSwapCountAboveThree(t *testing.T) {
	f := New(DefaultConfig())
	snap := snapAt(big.NewInt(2000_00000000), big.NewInt(2000_00000000))
	snap.SwapsInBlock = 4
	snap.LargestSwapWETH = big.NewInt(1)
	sig := f.ShouldReason(snap, nil)
	assert.Equal(t, AttackSwapPattern, sig.Kind)
}

func TestShouldReasonLargeSingleSwap(t *testing.T) {
	f := New(DefaultConfig())
	snap := snapAt(big.NewInt(2000_00000000), big.NewInt(2000_00000000))
	snap.SwapsInBlock = 1
	snap.LargestSwapWETH = big.NewInt(11)
	sig := f.ShouldReason(snap, nil)
	assert.Equal(t, AttackSwapPattern, sig.Kind)
}

func TestShouldReasonSameBlockRecovery(t *testing.T) {
	f := New(DefaultConfig())
	pN2 := big.NewInt(2000_00000000)
	pN1 := big.NewInt(2300_00000000) // 15% spike vs pN2
	pN := big.NewInt(2005_00000000)  // back within 1% of pN2

	snap := snapAt(pN, big.NewInt(2005_00000000))
	sig := f.ShouldReason(snap, []*big.Int{pN2, pN1})
	assert.NotNil(t, sig)
	assert.Equal(t, SameBlockRecovery, sig.Kind)
}

func TestShouldReasonUnfairLiquidation(t *testing.T) {
	f := New(DefaultConfig())
	oracle := big.NewInt(2000_00000000)
	amm := big.NewInt(1800_00000000)
	snap := snapAt(amm, oracle)
	snap.LiquidationSeen = true
	sig := f.ShouldReason(snap, nil)
	assert.Equal(t, UnfairLiquidation, sig.Kind)
}

func TestShouldReasonExtremeMove(t *testing.T) {
	f := New(DefaultConfig())
	prev := big.NewInt(2000_00000000)
	snap := snapAt(big.NewInt(2300_00000000), big.NewInt(2300_00000000)) // no deviation, but 15% jump vs prev
	sig := f.ShouldReason(snap, []*big.Int{prev})
	assert.NotNil(t, sig)
	assert.Equal(t, ExtremeMove, sig.Kind)
}

func TestShouldReasonExtremeMoveExactlyAtThresholdIsNotAnomaly(t *testing.T) {
	f := New(DefaultConfig())
	prev := big.NewInt(2000_00000000)
	snap := snapAt(big.NewInt(2200_00000000), big.NewInt(2200_00000000)) // exactly 10% jump
	assert.Nil(t, f.ShouldReason(snap, []*big.Int{prev}))
}

func TestShouldReasonInvalidSnapshotNeverAnomaly(t *testing.T) {
	f := New(DefaultConfig())
	snap := snapAt(big.NewInt(2000_00000000), big.NewInt(2000_00000000))
	snap.Valid = false
	assert.Nil(t, f.ShouldReason(snap, nil))
}
