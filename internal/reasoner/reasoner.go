// Package reasoner gates LLM calls behind the three-stage dedup rule and
// turns the LLM's free-form reply into a decider.Classification. Grounded
// on the teacher's Blackhole method shape in blackhole.go (validate,
// call out, parse result, wrap errors) and on the anthropic-sdk-go usage
// surfaced elsewhere in the retrieval pack (jordigilh-kubernaut,
// steveyegge-beads) for the LLM transport itself.
package reasoner

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/sentinel-labs/oracle-monitor/internal/decider"
	"github.com/sentinel-labs/oracle-monitor/internal/filter"
	"github.com/sentinel-labs/oracle-monitor/internal/observer"
)

const (
	// SourceDeterministicSkip marks a Classification that never reached
	// the reasoner at all: the filter found no anomaly signal.
	SourceDeterministicSkip = "deterministic_skip"
	// SourceDedupSkip marks a Classification short-circuited by one of
	// the reasoner's three dedup stages (same block, same context hash,
	// already-analyzed liquidation event).
	SourceDedupSkip = "dedup_skip"
	SourceLLM       = "llm"
)

// defaultMaxAnalyzedEvents is used when New is passed a non-positive
// capacity.
const defaultMaxAnalyzedEvents = 1000

// LLMClient is the narrow interface the reasoner depends on, implemented
// by the real Anthropic-backed client and by a fake in tests.
type LLMClient interface {
	Classify(ctx context.Context, prompt string) (string, error)
}

// llmResponse is the expected JSON shape the model replies with.
type llmResponse struct {
	Classification string   `json:"classification"`
	Confidence     float64  `json:"confidence"`
	Explanation    string   `json:"explanation"`
	Evidence       []string `json:"evidence"`
}

// Reasoner owns the dedup state across cycles: last_llm_block,
// last_context_hash, and the bounded analyzed_events set.
type Reasoner struct {
	client  LLMClient
	timeout time.Duration

	maxAnalyzedEvents int

	lastLLMBlock    uint64
	lastContextHash [16]byte
	hasContextHash  bool

	analyzedEvents    map[string]struct{}
	analyzedEventsOrd []string
}

// New builds a Reasoner whose analyzed_events set is bounded at
// analyzedEventsCapacity (the design's analyzed_events_capacity config
// value); a non-positive capacity falls back to defaultMaxAnalyzedEvents.
func New(client LLMClient, timeout time.Duration, analyzedEventsCapacity int) *Reasoner {
	if analyzedEventsCapacity <= 0 {
		analyzedEventsCapacity = defaultMaxAnalyzedEvents
	}
	return &Reasoner{
		client:            client,
		timeout:           timeout,
		maxAnalyzedEvents: analyzedEventsCapacity,
		analyzedEvents:    make(map[string]struct{}),
	}
}

// ReasoningOutcome carries the Classification plus bookkeeping the
// caller needs to build a ReasoningEvent (whether the LLM was actually
// invoked, and the parse-failure flag).
type ReasoningOutcome struct {
	Classification decider.Classification
	LLMInvoked     bool
	ParseFailed    bool
}

// Classify consumes (snapshot, signal), applies the three dedup checks in
// order, and on a miss invokes the LLM. priceHistory holds up to the last
// 3 AMM spot prices (oldest first), not including snap's own price.
func (r *Reasoner) Classify(ctx context.Context, snap *observer.Snapshot, sig filter.AnomalySignal, priceHistory []*big.Int) ReasoningOutcome {
	if snap.Block == r.lastLLMBlock {
		return ReasoningOutcome{Classification: decider.Classification{
			Kind: decider.Natural, Confidence: 0,
			Explanation: "same block already analyzed", Source: SourceDedupSkip,
		}}
	}

	ctxHash := r.contextHash(snap, sig, priceHistory)
	if r.hasContextHash && ctxHash == r.lastContextHash {
		return ReasoningOutcome{Classification: decider.Classification{
			Kind: decider.Natural, Confidence: 0,
			Explanation: "identical context already analyzed", Source: SourceDedupSkip,
		}}
	}

	liqKey := ""
	if sig.Kind == filter.UnfairLiquidation {
		liqKey = fmt.Sprintf("liq:%d", snap.Block)
		if _, seen := r.analyzedEvents[liqKey]; seen {
			return ReasoningOutcome{Classification: decider.Classification{
				Kind: decider.Natural, Confidence: 0,
				Explanation: "liquidation event already analyzed", Source: SourceDedupSkip,
			}}
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	prompt := r.buildPrompt(snap, sig, priceHistory)
	reply, err := r.client.Classify(callCtx, prompt)
	if err != nil {
		// Transport error or timeout: do not update dedup state so the
		// next cycle may retry.
		return ReasoningOutcome{
			Classification: decider.Classification{
				Kind: decider.UnknownAnomaly, Confidence: 0.5,
				Explanation: "LLM unavailable", Source: SourceLLM,
			},
			LLMInvoked: true,
		}
	}

	// A reply was obtained; update dedup state regardless of parse outcome.
	r.lastLLMBlock = snap.Block
	r.lastContextHash = ctxHash
	r.hasContextHash = true

	var parsed llmResponse
	if jsonErr := json.Unmarshal([]byte(reply), &parsed); jsonErr != nil {
		// Content/schema failure: last_llm_block and last_context_hash were
		// already updated above, but analyzed_events is deliberately left
		// alone so a genuinely new liquidation event at this key can still
		// be retried once the LLM starts replying sensibly again.
		return ReasoningOutcome{
			Classification: decider.Classification{
				Kind: decider.UnknownAnomaly, Confidence: 0.5,
				Explanation: "parse failure", Source: SourceLLM,
			},
			LLMInvoked:  true,
			ParseFailed: true,
		}
	}

	if liqKey != "" {
		r.insertAnalyzedEvent(liqKey)
	}

	kind := decider.Kind(parsed.Classification)
	switch kind {
	case decider.Natural, decider.FlashLoanAttack, decider.OracleManipulation, decider.Sandwich, decider.UnknownAnomaly:
	default:
		kind = decider.UnknownAnomaly
	}

	confidence := parsed.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return ReasoningOutcome{
		Classification: decider.Classification{
			Kind:        kind,
			Confidence:  confidence,
			Explanation: parsed.Explanation,
			Source:      SourceLLM,
		},
		LLMInvoked: true,
	}
}

func (r *Reasoner) insertAnalyzedEvent(key string) {
	r.analyzedEvents[key] = struct{}{}
	r.analyzedEventsOrd = append(r.analyzedEventsOrd, key)
	if len(r.analyzedEventsOrd) > r.maxAnalyzedEvents {
		oldest := r.analyzedEventsOrd[0]
		r.analyzedEventsOrd = r.analyzedEventsOrd[1:]
		delete(r.analyzedEvents, oldest)
	}
}

// contextHash builds a deterministic digest over the snapshot, signal,
// and recent price history, truncated to 128 bits per the design. The
// block number is left out, so identical market content seen at a later
// block hashes the same and is caught by the context-hash stage.
func (r *Reasoner) contextHash(snap *observer.Snapshot, sig filter.AnomalySignal, priceHistory []*big.Int) [16]byte {
	type ctxObj struct {
		OraclePrice  string   `json:"oracle_price"`
		AMMSpotPrice string   `json:"amm_spot_price"`
		DeviationPct string   `json:"deviation_pct"`
		SignalKind   string   `json:"signal_kind"`
		Prices       []string `json:"recent_prices"`
	}

	prices := make([]string, 0, len(priceHistory))
	for _, p := range priceHistory {
		prices = append(prices, p.String())
	}
	sort.Strings(prices) // deterministic key ordering regardless of slice identity

	obj := ctxObj{
		OraclePrice:  snap.OraclePrice.String(),
		AMMSpotPrice: snap.AMMSpotPrice.String(),
		SignalKind:   string(sig.Kind),
		Prices:       prices,
	}
	if snap.DeviationPct != nil {
		obj.DeviationPct = snap.DeviationPct.RatString()
	}

	raw, _ := json.Marshal(obj)
	full := sha256.Sum256(raw)
	var out [16]byte
	copy(out[:], full[:16])
	return out
}

func (r *Reasoner) buildPrompt(snap *observer.Snapshot, sig filter.AnomalySignal, priceHistory []*big.Int) string {
	prices := make([]string, 0, len(priceHistory))
	for _, p := range priceHistory {
		prices = append(prices, p.String())
	}
	return fmt.Sprintf(
		"Market state: block=%d oracle_price=%s amm_spot_price=%s deviation_pct=%s\n"+
			"Signal: %s (%s)\n"+
			"Recent prices: %v\n"+
			"Respond with JSON: {\"classification\": one of NATURAL|FLASH_LOAN_ATTACK|ORACLE_MANIPULATION|SANDWICH|UNKNOWN_ANOMALY, "+
			"\"confidence\": float in [0,1], \"explanation\": string, \"evidence\": array of up to 5 strings}",
		snap.Block, snap.OraclePrice, snap.AMMSpotPrice, ratStringOrEmpty(snap.DeviationPct),
		sig.Kind, sig.Detail, prices,
	)
}

func ratStringOrEmpty(r *big.Rat) string {
	if r == nil {
		return ""
	}
	return r.RatString()
}
