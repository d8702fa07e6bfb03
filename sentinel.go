// Package sentinel ties the observation, reasoning, decision, and action
// pipeline together into the per-cycle control loop described by the
// monitor's design: Observer -> Filter -> Reasoner -> Decider -> Actor ->
// EventStore -> Bus.
package sentinel

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/sentinel-labs/oracle-monitor/internal/actor"
	"github.com/sentinel-labs/oracle-monitor/internal/api"
	"github.com/sentinel-labs/oracle-monitor/internal/chain"
	"github.com/sentinel-labs/oracle-monitor/internal/decider"
	"github.com/sentinel-labs/oracle-monitor/internal/eventstore"
	"github.com/sentinel-labs/oracle-monitor/internal/filter"
	"github.com/sentinel-labs/oracle-monitor/internal/observer"
	"github.com/sentinel-labs/oracle-monitor/internal/reasoner"
	"github.com/sentinel-labs/oracle-monitor/internal/restore"
)

// Sentinel wires one cycle of the defense pipeline around a shared event
// store. It owns no chain state itself -- each subsystem owns its own
// synchronization, per the no-shared-mutable-state design.
type Sentinel struct {
	Observer *observer.Observer
	Filter   *filter.AnomalyFilter
	Reasoner *reasoner.Reasoner
	Decider  *decider.Decider
	Actor    *actor.Actor
	Restore  *restore.Scheduler
	Store    *eventstore.Store

	log *slog.Logger

	priceHistory []*big.Int // most recent 3 AMM prices, oldest first, NOT including the current cycle's price
}

// New assembles a Sentinel from its already-constructed subsystems.
func New(
	obs *observer.Observer,
	f *filter.AnomalyFilter,
	r *reasoner.Reasoner,
	d *decider.Decider,
	a *actor.Actor,
	rs *restore.Scheduler,
	store *eventstore.Store,
	log *slog.Logger,
) *Sentinel {
	if log == nil {
		log = slog.Default()
	}
	return &Sentinel{
		Observer: obs,
		Filter:   f,
		Reasoner: r,
		Decider:  d,
		Actor:    a,
		Restore:  rs,
		Store:    store,
		log:      log,
	}
}

// Run drives the observation loop until ctx is cancelled. It implements the
// poll-interval backoff ("10x until recovery" after 10 consecutive
// observation failures) described in the error handling design.
func (s *Sentinel) Run(ctx context.Context, pollInterval time.Duration) error {
	consecutiveFailures := 0
	interval := pollInterval

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("sentinel shutting down")
			return nil
		case <-ticker.C:
			if err := s.RunCycle(ctx); err != nil {
				api.Metrics.ObservationErrors.Inc()
				consecutiveFailures++
				s.log.Warn("observation cycle failed", "error", err, "consecutive_failures", consecutiveFailures)
				if consecutiveFailures == 10 {
					s.Store.Append(eventstore.NewAgentLifecycleEvent(0, eventstore.SeverityDegraded,
						fmt.Sprintf("10 consecutive observation failures, slowing poll interval to %s", pollInterval*10)))
					interval = pollInterval * 10
					ticker.Reset(interval)
				}
				continue
			}
			if consecutiveFailures >= 10 {
				s.log.Info("observation recovered, restoring poll interval")
			}
			consecutiveFailures = 0
			if interval != pollInterval {
				interval = pollInterval
				ticker.Reset(interval)
			}
		}
	}
}

// RunCycle executes exactly one Observation -> Reasoning -> Decision ->
// Action sequence and appends the resulting events to the store in that
// order, per the ordering guarantees in the concurrency design.
func (s *Sentinel) RunCycle(ctx context.Context) error {
	api.Metrics.CyclesTotal.Inc()

	snap, err := s.Observer.Observe(ctx)
	if err != nil {
		return fmt.Errorf("observe: %w", err)
	}
	if snap == nil {
		// Transient log-fetch failure: tick aborted, no partial snapshot.
		return nil
	}

	s.Store.Append(eventstore.NewObservationEvent(snap.Cycle, snap))

	if snap.DeviationPct != nil {
		dev, _ := snap.DeviationPct.Float64()
		api.Metrics.CurrentDeviationPct.Set(dev)
	}

	signal := s.Filter.ShouldReason(snap, s.priceHistory)

	history := s.priceHistory
	s.priceHistory = append(s.priceHistory, snap.AMMSpotPrice)
	if len(s.priceHistory) > 3 {
		s.priceHistory = s.priceHistory[len(s.priceHistory)-3:]
	}

	var class decider.Classification
	if signal != nil {
		s.Store.Append(eventstore.NewAnomalyEvent(snap.Cycle, *signal))

		outcome := s.Reasoner.Classify(ctx, snap, *signal, history)
		if outcome.LLMInvoked {
			api.Metrics.LLMCallsTotal.Inc()
		}
		class = outcome.Classification
		s.Store.Append(eventstore.NewReasoningEvent(snap.Cycle, class, outcome.ParseFailed))
	} else {
		class = decider.Classification{Kind: decider.Natural, Source: reasoner.SourceDeterministicSkip}
	}

	state := decider.OnChainState{
		AMMPaused:           snap.AMMPaused,
		VaultPaused:         snap.VaultPaused,
		LiquidationsBlocked: snap.LiquidationsBlocked,
	}
	intent := s.Decider.Decide(class, state)
	s.Store.Append(eventstore.NewDecisionEvent(snap.Cycle, intent))

	if intent.Action == decider.ActionNone {
		return nil
	}

	record := s.Actor.Execute(ctx, intent, state)
	s.Store.Append(eventstore.NewActionEvent(snap.Cycle, record.Action, record.Success, record.TxHash, record.Reason))

	if record.Success && intent.Action == decider.ActionPauseAMM {
		cycle := snap.Cycle
		s.Restore.Arm(ctx, snap.OraclePrice, func(outcome restore.Outcome) {
			s.Store.Append(eventstore.NewRestoreEvent(cycle, outcome))
		})
	}

	return nil
}

// ChainStateSnapshot names chain.State, the on-chain state the Observer
// reads fresh every tick. RunCycle does not keep it between cycles; the
// Actor receives the pause/block flags as a decider.OnChainState built
// from the cycle's Snapshot.
type ChainStateSnapshot = chain.State
