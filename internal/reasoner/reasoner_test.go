package reasoner

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinel-labs/oracle-monitor/internal/decider"
	"github.com/sentinel-labs/oracle-monitor/internal/filter"
	"github.com/sentinel-labs/oracle-monitor/internal/observer"
)

type fakeLLM struct {
	replies []string
	errs    []error
	calls   int
}

func (f *fakeLLM) Classify(ctx context.Context, prompt string) (string, error) {
	i := f.calls
	f.calls++
	var reply string
	var err error
	if i < len(f.replies) {
		reply = f.replies[i]
	}
	if i < len(f.errs) {
		err = f.errs[i]
	}
	return reply, err
}

func testSnapshot(block uint64) *observer.Snapshot {
	return &observer.Snapshot{
		Block:        block,
		Valid:        true,
		OraclePrice:  big.NewInt(2000_00000000),
		AMMSpotPrice: big.NewInt(1800_00000000),
		DeviationPct: big.NewRat(10, 1),
	}
}

func TestClassifySameBlockSkipsLLM(t *testing.T) {
	llm := &fakeLLM{replies: []string{`{"classification":"FLASH_LOAN_ATTACK","confidence":0.9,"explanation":"x","evidence":[]}`}}
	r := New(llm, time.Second, 1000)

	snap := testSnapshot(100)
	sig := filter.AnomalySignal{Kind: filter.LargeDeviation}

	out1 := r.Classify(context.Background(), snap, sig, nil)
	require.True(t, out1.LLMInvoked)

	out2 := r.Classify(context.Background(), snap, sig, nil)
	assert.False(t, out2.LLMInvoked)
	assert.Equal(t, SourceDedupSkip, out2.Classification.Source)
	assert.Equal(t, 1, llm.calls)
}

func TestClassifyIdenticalContextSkipsLLM(t *testing.T) {
	llm := &fakeLLM{replies: []string{
		`{"classification":"FLASH_LOAN_ATTACK","confidence":0.9,"explanation":"x","evidence":[]}`,
		`{"classification":"FLASH_LOAN_ATTACK","confidence":0.9,"explanation":"x","evidence":[]}`,
	}}
	r := New(llm, time.Second, 1000)
	sig := filter.AnomalySignal{Kind: filter.LargeDeviation}

	out1 := r.Classify(context.Background(), testSnapshot(100), sig, nil)
	require.True(t, out1.LLMInvoked)

	// Different block, but identical snapshot content -> same context hash.
	out2 := r.Classify(context.Background(), testSnapshot(101), sig, nil)
	assert.False(t, out2.LLMInvoked)
	assert.Equal(t, SourceDedupSkip, out2.Classification.Source)
	assert.Equal(t, 1, llm.calls)
}

func TestClassifyUnfairLiquidationDedupBySameKey(t *testing.T) {
	llm := &fakeLLM{replies: []string{
		`{"classification":"ORACLE_MANIPULATION","confidence":0.8,"explanation":"x","evidence":[]}`,
		`{"classification":"FLASH_LOAN_ATTACK","confidence":0.9,"explanation":"x","evidence":[]}`,
	}}
	r := New(llm, time.Second, 1000)
	sig := filter.AnomalySignal{Kind: filter.UnfairLiquidation}

	snap := testSnapshot(100)
	out1 := r.Classify(context.Background(), snap, sig, nil)
	require.True(t, out1.LLMInvoked)
	assert.Equal(t, 1, llm.calls)

	// An LLM call at another block moves last_llm_block off 100.
	other := testSnapshot(101)
	other.AMMSpotPrice = big.NewInt(1700_00000000)
	out2 := r.Classify(context.Background(), other, filter.AnomalySignal{Kind: filter.LargeDeviation}, nil)
	require.True(t, out2.LLMInvoked)

	// Block 100 again with new content: only the liq:100 key can skip it.
	again := testSnapshot(100)
	again.AMMSpotPrice = big.NewInt(1750_00000000)
	out3 := r.Classify(context.Background(), again, sig, nil)
	assert.False(t, out3.LLMInvoked)
	assert.Equal(t, SourceDedupSkip, out3.Classification.Source)
	assert.Equal(t, 2, llm.calls)
}

func TestClassifyParseFailureYieldsUnknownAnomalyAndUpdatesDedup(t *testing.T) {
	llm := &fakeLLM{replies: []string{"not json"}}
	r := New(llm, time.Second, 1000)
	sig := filter.AnomalySignal{Kind: filter.LargeDeviation}

	out := r.Classify(context.Background(), testSnapshot(100), sig, nil)
	assert.True(t, out.ParseFailed)
	assert.Equal(t, decider.UnknownAnomaly, out.Classification.Kind)
	assert.Equal(t, 0.5, out.Classification.Confidence)

	// Dedup state updated even on parse failure -> same block is skipped next time.
	out2 := r.Classify(context.Background(), testSnapshot(100), sig, nil)
	assert.False(t, out2.LLMInvoked)
}

func TestClassifyUnknownEnumValueMapsToUnknownAnomaly(t *testing.T) {
	llm := &fakeLLM{replies: []string{`{"classification":"SOMETHING_ELSE","confidence":0.6,"explanation":"x","evidence":[]}`}}
	r := New(llm, time.Second, 1000)
	sig := filter.AnomalySignal{Kind: filter.LargeDeviation}

	out := r.Classify(context.Background(), testSnapshot(100), sig, nil)
	assert.Equal(t, decider.UnknownAnomaly, out.Classification.Kind)
}

func TestClassifyConfidenceIsClamped(t *testing.T) {
	llm := &fakeLLM{replies: []string{`{"classification":"SANDWICH","confidence":1.5,"explanation":"x","evidence":[]}`}}
	r := New(llm, time.Second, 1000)
	sig := filter.AnomalySignal{Kind: filter.LargeDeviation}

	out := r.Classify(context.Background(), testSnapshot(100), sig, nil)
	assert.Equal(t, 1.0, out.Classification.Confidence)
}

func TestClassifyTransportErrorDoesNotUpdateDedup(t *testing.T) {
	llm := &fakeLLM{
		errs: []error{errors.New("timeout"), nil},
		replies: []string{
			"",
			`{"classification":"FLASH_LOAN_ATTACK","confidence":0.9,"explanation":"x","evidence":[]}`,
		},
	}
	r := New(llm, time.Second, 1000)
	sig := filter.AnomalySignal{Kind: filter.LargeDeviation}

	snap := testSnapshot(100)
	out1 := r.Classify(context.Background(), snap, sig, nil)
	assert.True(t, out1.LLMInvoked)
	assert.Equal(t, decider.UnknownAnomaly, out1.Classification.Kind)
	assert.Equal(t, "LLM unavailable", out1.Classification.Explanation)

	// Dedup state not updated; same block retried and succeeds.
	out2 := r.Classify(context.Background(), snap, sig, nil)
	assert.True(t, out2.LLMInvoked)
	assert.Equal(t, decider.FlashLoanAttack, out2.Classification.Kind)
	assert.Equal(t, 2, llm.calls)
}
