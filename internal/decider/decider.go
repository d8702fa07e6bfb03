// Package decider implements the pure policy function mapping a
// Classification and the last-observed on-chain state to an Intent.
// Grounded on the teacher's pure-validation helpers in blackhole.go
// (validateBalances: state in, decision out, no side effects),
// generalized to the defense policy table.
package decider

// Kind enumerates the reasoner's classification labels.
type Kind string

const (
	Natural             Kind = "NATURAL"
	FlashLoanAttack      Kind = "FLASH_LOAN_ATTACK"
	OracleManipulation   Kind = "ORACLE_MANIPULATION"
	Sandwich             Kind = "SANDWICH"
	UnknownAnomaly       Kind = "UNKNOWN_ANOMALY"
)

// Classification is the reasoner's labeled output.
type Classification struct {
	Kind        Kind
	Confidence  float64
	Explanation string
	Source      string
}

// OnChainState is the subset of chain state the decider's policy table
// depends on.
type OnChainState struct {
	AMMPaused           bool
	VaultPaused         bool
	LiquidationsBlocked bool
}

// Action enumerates the intents the decider can emit.
type Action string

const (
	ActionNone               Action = "NONE"
	ActionPauseAMM           Action = "PAUSE_AMM"
	ActionPauseVault         Action = "PAUSE_VAULT"
	ActionBlockLiquidations  Action = "BLOCK_LIQUIDATIONS"
)

// severity ranks actions for the tie-break rule: the most restrictive
// action wins when more than one policy row matches.
var severity = map[Action]int{
	ActionNone:              0,
	ActionBlockLiquidations: 1,
	ActionPauseAMM:          2,
	ActionPauseVault:        3,
}

// Intent is the decider's chosen action plus its rationale.
type Intent struct {
	Action    Action
	Rationale string
}

// Config holds the policy table's confidence gates, named in the design's
// configuration table.
type Config struct {
	PauseConfidenceThreshold            float64 // default 0.75
	BlockLiquidationConfidenceThreshold float64 // default 0.50
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{PauseConfidenceThreshold: 0.75, BlockLiquidationConfidenceThreshold: 0.50}
}

// Decider holds its configured confidence gates; Decide is otherwise a
// pure function of its two arguments.
type Decider struct {
	cfg Config
}

func New(cfg Config) *Decider { return &Decider{cfg: cfg} }

// Decide implements the policy table exactly as specified, applying the
// "most restrictive action wins" tie-break when multiple rows match.
func (d *Decider) Decide(c Classification, s OnChainState) Intent {
	best := Intent{Action: ActionNone, Rationale: "no matching policy row"}

	consider := func(i Intent) {
		if severity[i.Action] >= severity[best.Action] {
			best = i
		}
	}

	if c.Confidence < d.cfg.BlockLiquidationConfidenceThreshold {
		return Intent{Action: ActionNone, Rationale: "confidence below floor"}
	}

	switch c.Kind {
	case Natural:
		return Intent{Action: ActionNone, Rationale: "natural market activity"}

	case FlashLoanAttack:
		if c.Confidence >= d.cfg.PauseConfidenceThreshold {
			if s.AMMPaused {
				consider(Intent{Action: ActionNone, Rationale: "AMM already paused"})
			} else {
				consider(Intent{Action: ActionPauseAMM, Rationale: "flash loan attack, high confidence"})
			}
		} else {
			consider(Intent{Action: ActionBlockLiquidations, Rationale: "flash loan attack, moderate confidence"})
		}

	case OracleManipulation:
		if c.Confidence >= d.cfg.BlockLiquidationConfidenceThreshold {
			if s.LiquidationsBlocked {
				consider(Intent{Action: ActionNone, Rationale: "liquidations already blocked"})
			} else {
				consider(Intent{Action: ActionBlockLiquidations, Rationale: "oracle manipulation suspected"})
			}
		}

	case Sandwich:
		if c.Confidence >= d.cfg.PauseConfidenceThreshold {
			if s.AMMPaused {
				consider(Intent{Action: ActionNone, Rationale: "AMM already paused"})
			} else {
				consider(Intent{Action: ActionPauseAMM, Rationale: "sandwich attack detected"})
			}
		}

	case UnknownAnomaly:
		if c.Confidence >= 0.90 {
			if s.VaultPaused {
				consider(Intent{Action: ActionNone, Rationale: "vault already paused"})
			} else {
				consider(Intent{Action: ActionPauseVault, Rationale: "unclassified high-confidence anomaly"})
			}
		}
	}

	return best
}
