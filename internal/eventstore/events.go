// Package eventstore implements the append-only, bounded-retention event
// ring plus its MySQL persistence mirror and the pub/sub bus that feeds
// the WebSocket stream. Grounded on the teacher's AssetSnapshotRecord +
// MySQLRecorder in internal/db/transaction_recorder.go (gorm model,
// constructor-from-DSN, append/query methods), generalized from a single
// strategy-snapshot table to the tagged-union Event stream this monitor
// emits.
package eventstore

import (
	"math/big"
	"time"

	"github.com/sentinel-labs/oracle-monitor/internal/decider"
	"github.com/sentinel-labs/oracle-monitor/internal/filter"
	"github.com/sentinel-labs/oracle-monitor/internal/observer"
	"github.com/sentinel-labs/oracle-monitor/internal/restore"
)

// Kind tags the variant of Event.
type Kind string

const (
	KindObservation    Kind = "OBSERVATION"
	KindAnomaly        Kind = "ANOMALY"
	KindReasoning      Kind = "REASONING"
	KindDecision       Kind = "DECISION"
	KindAction         Kind = "ACTION"
	KindRestore        Kind = "RESTORE"
	KindAgentLifecycle Kind = "AGENT_LIFECYCLE"
)

// Severity classifies AgentLifecycleEvent entries.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityDegraded Severity = "DEGRADED"
	SeverityError    Severity = "ERROR"
)

// Event is the tagged-union store entry. Exactly one of the payload
// pointers is non-nil, matching Kind.
type Event struct {
	ID        uint64
	Timestamp time.Time
	Cycle     uint64
	Kind      Kind

	Observation    *ObservationPayload    `json:",omitempty"`
	Anomaly        *AnomalyPayload        `json:",omitempty"`
	Reasoning      *ReasoningPayload      `json:",omitempty"`
	Decision       *DecisionPayload       `json:",omitempty"`
	Action         *ActionPayload         `json:",omitempty"`
	Restore        *RestorePayload        `json:",omitempty"`
	AgentLifecycle *AgentLifecyclePayload `json:",omitempty"`
}

// ObservationPayload mirrors observer.Snapshot's exported fields, kept as
// a copy so the store never aliases Observer-owned state.
type ObservationPayload struct {
	Block                uint64
	OraclePrice          *big.Int
	AMMSpotPrice         *big.Int
	WETHReserve          *big.Int
	USDCReserve          *big.Int
	DeviationPct         *big.Rat
	SwapsInBlock         int
	OracleUpdatesInBlock int
	LiquidationSeen      bool
	AMMPaused            bool
	VaultPaused          bool
	LiquidationsBlocked  bool
	Valid                bool
}

// AnomalyPayload mirrors the deterministic filter.AnomalySignal that
// gated the LLM call for this cycle.
type AnomalyPayload struct {
	Kind   filter.SignalKind
	Detail string
}

// ReasoningPayload mirrors decider.Classification plus the reasoner's
// bookkeeping flags.
type ReasoningPayload struct {
	Kind        decider.Kind
	Confidence  float64
	Explanation string
	Source      string
	ParseFailed bool
}

// DecisionPayload mirrors decider.Intent.
type DecisionPayload struct {
	Action    decider.Action
	Rationale string
}

// ActionPayload mirrors actor.ActionRecord's fields, copied rather than
// embedded so the store's wire shape does not change if actor's internal
// bookkeeping fields do.
type ActionPayload struct {
	Action  decider.Action
	Success bool
	TxHash  *string
	Reason  string
}

// RestorePayload mirrors restore.Outcome.
type RestorePayload struct {
	Success      bool
	NewSpotPrice *big.Int
	TxHash       *string
	Reason       string
}

// AgentLifecyclePayload records process-level health transitions (e.g.
// degraded polling after consecutive observation failures).
type AgentLifecyclePayload struct {
	Severity Severity
	Message  string
}

func NewObservationEvent(cycle uint64, snap *observer.Snapshot) Event {
	return Event{
		Cycle: cycle,
		Kind:  KindObservation,
		Observation: &ObservationPayload{
			Block:                snap.Block,
			OraclePrice:          snap.OraclePrice,
			AMMSpotPrice:         snap.AMMSpotPrice,
			WETHReserve:          snap.WETHReserve,
			USDCReserve:          snap.USDCReserve,
			DeviationPct:         snap.DeviationPct,
			SwapsInBlock:         snap.SwapsInBlock,
			OracleUpdatesInBlock: snap.OracleUpdatesInBlock,
			LiquidationSeen:      snap.LiquidationSeen,
			AMMPaused:            snap.AMMPaused,
			VaultPaused:          snap.VaultPaused,
			LiquidationsBlocked:  snap.LiquidationsBlocked,
			Valid:                snap.Valid,
		},
	}
}

func NewAnomalyEvent(cycle uint64, sig filter.AnomalySignal) Event {
	return Event{
		Cycle:   cycle,
		Kind:    KindAnomaly,
		Anomaly: &AnomalyPayload{Kind: sig.Kind, Detail: sig.Detail},
	}
}

func NewReasoningEvent(cycle uint64, c decider.Classification, parseFailed bool) Event {
	return Event{
		Cycle: cycle,
		Kind:  KindReasoning,
		Reasoning: &ReasoningPayload{
			Kind:        c.Kind,
			Confidence:  c.Confidence,
			Explanation: c.Explanation,
			Source:      c.Source,
			ParseFailed: parseFailed,
		},
	}
}

func NewDecisionEvent(cycle uint64, intent decider.Intent) Event {
	return Event{
		Cycle:    cycle,
		Kind:     KindDecision,
		Decision: &DecisionPayload{Action: intent.Action, Rationale: intent.Rationale},
	}
}

func NewActionEvent(cycle uint64, action decider.Action, success bool, txHash *string, reason string) Event {
	return Event{
		Cycle:  cycle,
		Kind:   KindAction,
		Action: &ActionPayload{Action: action, Success: success, TxHash: txHash, Reason: reason},
	}
}

func NewRestoreEvent(cycle uint64, outcome restore.Outcome) Event {
	return Event{
		Cycle: cycle,
		Kind:  KindRestore,
		Restore: &RestorePayload{
			Success:      outcome.Success,
			NewSpotPrice: outcome.NewSpotPrice,
			TxHash:       outcome.TxHash,
			Reason:       outcome.Reason,
		},
	}
}

func NewAgentLifecycleEvent(cycle uint64, severity Severity, message string) Event {
	return Event{
		Cycle:          cycle,
		Kind:           KindAgentLifecycle,
		AgentLifecycle: &AgentLifecyclePayload{Severity: severity, Message: message},
	}
}
