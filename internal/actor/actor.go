// Package actor submits the decider's chosen intent to the chain,
// serialized behind a mutex with a depth-1 coalescing queue. Grounded on
// the teacher's Swap/Mint/Stake methods in blackhole.go (validate state,
// submit via the bound contract, classify the receipt), generalized from
// swap/liquidity transactions to the three defense actions.
package actor

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/sentinel-labs/oracle-monitor/internal/api"
	"github.com/sentinel-labs/oracle-monitor/internal/chain"
	"github.com/sentinel-labs/oracle-monitor/internal/decider"
)

// ActionRecord is the outcome of executing one Intent.
type ActionRecord struct {
	Action    decider.Action
	Success   bool
	TxHash    *string
	Reason    string
	Timestamp time.Time
}

// severity mirrors decider's ranking: a pending intent is replaced only
// by one of equal or higher severity.
var severity = map[decider.Action]int{
	decider.ActionNone:              0,
	decider.ActionBlockLiquidations: 1,
	decider.ActionPauseAMM:          2,
	decider.ActionPauseVault:        3,
}

// txBuilder maps an Intent to the concrete chain.TxRequest that realizes
// it. Injected so the actor stays independent of ABI wiring details.
type txBuilder func(intent decider.Intent) (chain.TxRequest, error)

// Actor serializes all on-chain writes behind a single mutex, with a
// depth-1 coalescing pending queue: a new intent arriving mid-execution
// replaces any pending intent of equal or lower severity.
type Actor struct {
	adapter chain.Adapter
	build   txBuilder

	mu      sync.Mutex
	pending *decider.Intent
	busy    bool
}

func New(adapter chain.Adapter, build txBuilder) *Actor {
	return &Actor{adapter: adapter, build: build}
}

// Execute runs intent against state. If another action is already in
// flight, intent is queued (replacing any lower-or-equal-severity pending
// intent) and this call returns at once with a "queued behind in-flight
// action" record; the call whose action was in flight runs the queued
// intent after its own, and that result is not returned to anyone.
func (a *Actor) Execute(ctx context.Context, intent decider.Intent, state decider.OnChainState) ActionRecord {
	if intent.Action == decider.ActionNone {
		return ActionRecord{Action: decider.ActionNone, Success: true, Reason: intent.Rationale, Timestamp: time.Now()}
	}

	if rec, idempotent := a.idempotencyCheck(intent, state); idempotent {
		return rec
	}

	a.mu.Lock()
	if a.busy {
		if a.pending == nil || severity[intent.Action] >= severity[a.pending.Action] {
			a.pending = &intent
		}
		a.mu.Unlock()
		return ActionRecord{Action: intent.Action, Success: true, Reason: "queued behind in-flight action", Timestamp: time.Now()}
	}
	a.busy = true
	a.mu.Unlock()

	rec := a.submit(ctx, intent)

	a.mu.Lock()
	next := a.pending
	a.pending = nil
	a.busy = false
	a.mu.Unlock()

	if next != nil {
		a.Execute(ctx, *next, state)
	}

	return rec
}

func (a *Actor) idempotencyCheck(intent decider.Intent, state decider.OnChainState) (ActionRecord, bool) {
	already := false
	switch intent.Action {
	case decider.ActionPauseAMM:
		already = state.AMMPaused
	case decider.ActionPauseVault:
		already = state.VaultPaused
	case decider.ActionBlockLiquidations:
		already = state.LiquidationsBlocked
	}
	if already {
		return ActionRecord{Action: intent.Action, Success: true, Reason: "already in target state", Timestamp: time.Now()}, true
	}
	return ActionRecord{}, false
}

func (a *Actor) submit(ctx context.Context, intent decider.Intent) ActionRecord {
	rec := a.doSubmit(ctx, intent)
	api.Metrics.ActionsTotal.WithLabelValues(string(rec.Action), strconv.FormatBool(rec.Success)).Inc()
	return rec
}

func (a *Actor) doSubmit(ctx context.Context, intent decider.Intent) ActionRecord {
	req, err := a.build(intent)
	if err != nil {
		return ActionRecord{Action: intent.Action, Success: false, Reason: fmt.Sprintf("build tx: %v", err), Timestamp: time.Now()}
	}

	hash, _, err := a.adapter.Submit(ctx, req)
	if err == nil {
		h := hash.Hex()
		return ActionRecord{Action: intent.Action, Success: true, TxHash: &h, Reason: "submitted", Timestamp: time.Now()}
	}

	var perm *chain.PermanentChainError
	if asPermanent(err, &perm) && revertMatchesTargetState(perm.Reason) {
		return ActionRecord{Action: intent.Action, Success: true, Reason: "already in target state (revert)", Timestamp: time.Now()}
	}

	// Submit is attempted once; a transient failure is reported as is and
	// is not retried here.
	if chain.IsTransient(err) {
		return ActionRecord{Action: intent.Action, Success: false, Reason: fmt.Sprintf("transient failure: %v", err), Timestamp: time.Now()}
	}

	return ActionRecord{Action: intent.Action, Success: false, Reason: fmt.Sprintf("permanent failure: %v", err), Timestamp: time.Now()}
}

func revertMatchesTargetState(reason string) bool {
	for _, s := range []string{"already paused", "already blocked", "paused", "blocked"} {
		if containsFold(reason, s) {
			return true
		}
	}
	return false
}

func containsFold(haystack, needle string) bool {
	hl, nl := len(haystack), len(needle)
	if nl == 0 || nl > hl {
		return nl == 0
	}
	for i := 0; i+nl <= hl; i++ {
		if equalFold(haystack[i:i+nl], needle) {
			return true
		}
	}
	return false
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

func asPermanent(err error, target **chain.PermanentChainError) bool {
	type unwrapper interface{ Unwrap() error }
	for err != nil {
		if p, ok := err.(*chain.PermanentChainError); ok {
			*target = p
			return true
		}
		u, ok := err.(unwrapper)
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
