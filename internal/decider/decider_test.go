package decider

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecideNatural(t *testing.T) {
	d := New(DefaultConfig())
	i := d.Decide(Classification{Kind: Natural, Confidence: 1}, OnChainState{})
	assert.Equal(t, ActionNone, i.Action)
}

func TestDecideBelowConfidenceFloorAlwaysNone(t *testing.T) {
	d := New(DefaultConfig())
	i := d.Decide(Classification{Kind: UnknownAnomaly, Confidence: 0.49}, OnChainState{})
	assert.Equal(t, ActionNone, i.Action)
}

func TestDecideFlashLoanHighConfidencePausesAMM(t *testing.T) {
	d := New(DefaultConfig())
	i := d.Decide(Classification{Kind: FlashLoanAttack, Confidence: 0.9}, OnChainState{})
	assert.Equal(t, ActionPauseAMM, i.Action)
}

func TestDecideFlashLoanHighConfidenceAlreadyPausedIsIdempotentNone(t *testing.T) {
	d := New(DefaultConfig())
	i := d.Decide(Classification{Kind: FlashLoanAttack, Confidence: 0.9}, OnChainState{AMMPaused: true})
	assert.Equal(t, ActionNone, i.Action)
}

func TestDecideFlashLoanModerateConfidenceBlocksLiquidations(t *testing.T) {
	d := New(DefaultConfig())
	i := d.Decide(Classification{Kind: FlashLoanAttack, Confidence: 0.6}, OnChainState{})
	assert.Equal(t, ActionBlockLiquidations, i.Action)
}

func TestDecideOracleManipulationBlocksLiquidations(t *testing.T) {
	d := New(DefaultConfig())
	i := d.Decide(Classification{Kind: OracleManipulation, Confidence: 0.5}, OnChainState{})
	assert.Equal(t, ActionBlockLiquidations, i.Action)
}

func TestDecideOracleManipulationAlreadyBlockedIsNone(t *testing.T) {
	d := New(DefaultConfig())
	i := d.Decide(Classification{Kind: OracleManipulation, Confidence: 0.8}, OnChainState{LiquidationsBlocked: true})
	assert.Equal(t, ActionNone, i.Action)
}

func TestDecideSandwichHighConfidencePausesAMM(t *testing.T) {
	d := New(DefaultConfig())
	i := d.Decide(Classification{Kind: Sandwich, Confidence: 0.8}, OnChainState{})
	assert.Equal(t, ActionPauseAMM, i.Action)
}

func TestDecideSandwichBelowActionThresholdIsNone(t *testing.T) {
	d := New(DefaultConfig())
	i := d.Decide(Classification{Kind: Sandwich, Confidence: 0.6}, OnChainState{})
	assert.Equal(t, ActionNone, i.Action)
}

func TestDecideUnknownAnomalyVeryHighConfidencePausesVault(t *testing.T) {
	d := New(DefaultConfig())
	i := d.Decide(Classification{Kind: UnknownAnomaly, Confidence: 0.95}, OnChainState{})
	assert.Equal(t, ActionPauseVault, i.Action)
}

func TestDecideUnknownAnomalyBelowNinetyIsNone(t *testing.T) {
	d := New(DefaultConfig())
	i := d.Decide(Classification{Kind: UnknownAnomaly, Confidence: 0.85}, OnChainState{})
	assert.Equal(t, ActionNone, i.Action)
}

func TestDecideRationaleAlwaysPopulated(t *testing.T) {
	d := New(DefaultConfig())
	i := d.Decide(Classification{Kind: Natural, Confidence: 1}, OnChainState{})
	assert.NotEmpty(t, i.Rationale)
}
