// Package restore implements the post-defense counter-swap sequence: once
// the AMM is paused, wait restore_delay, unpause, drive the spot price
// back toward the oracle price with a single counter-swap, and optionally
// re-pause. Grounded on the teacher's Swap/Mint sequencing in
// blackhole.go (validate, submit, wait for receipt, record result),
// adapted to a single scheduled, cancellable task.
package restore

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/sentinel-labs/oracle-monitor/internal/api"
)

// Side identifies which reserve the counter-swap must add to.
type Side string

const (
	SideWETH Side = "WETH"
	SideUSDC Side = "USDC"
)

// CounterSwap is the solved trade needed to bring the pool's constant
// product to the target price.
type CounterSwap struct {
	NewWETHReserve *big.Int
	NewUSDCReserve *big.Int
	DeltaWETH      *big.Int
	DeltaUSDC      *big.Int
	Side           Side // which reserve must receive liquidity
}

// ComputeCounterSwap solves x'*y' = k, y'/x' = targetPrice (scaled by
// util.PriceScale) for the new reserve pair, given the current reserves.
// The trade is |x'-x| on the side that needs liquidity.
func ComputeCounterSwap(weth, usdc, targetPrice, priceScale *big.Int) (CounterSwap, error) {
	if weth == nil || usdc == nil || weth.Sign() <= 0 || usdc.Sign() <= 0 {
		return CounterSwap{}, fmt.Errorf("invalid reserves")
	}
	if targetPrice == nil || targetPrice.Sign() <= 0 {
		return CounterSwap{}, fmt.Errorf("invalid target price")
	}

	k := new(big.Int).Mul(weth, usdc)

	// x'^2 = k * scale / targetPrice
	xSquared := new(big.Int).Mul(k, priceScale)
	xSquared.Div(xSquared, targetPrice)

	newWETH := new(big.Int).Sqrt(xSquared)
	if newWETH.Sign() == 0 {
		return CounterSwap{}, fmt.Errorf("degenerate solution: new WETH reserve is zero")
	}

	newUSDC := new(big.Int).Div(k, newWETH)

	deltaWETH := new(big.Int).Sub(newWETH, weth)
	deltaUSDC := new(big.Int).Sub(newUSDC, usdc)

	side := SideWETH
	if deltaWETH.Sign() < 0 {
		side = SideUSDC
	}

	return CounterSwap{
		NewWETHReserve: newWETH,
		NewUSDCReserve: newUSDC,
		DeltaWETH:      new(big.Int).Abs(deltaWETH),
		DeltaUSDC:      new(big.Int).Abs(deltaUSDC),
		Side:           side,
	}, nil
}

// Outcome is the result of one armed restore task.
type Outcome struct {
	Success      bool
	NewSpotPrice *big.Int
	TxHash       *string
	Reason       string
}

// ReserveReader returns the AMM's current reserves.
type ReserveReader func(ctx context.Context) (weth, usdc *big.Int, err error)

// Ops bundles the four chain operations a restore task performs.
type Ops struct {
	ReadReserves ReserveReader
	Unpause      func(ctx context.Context) error
	CounterSwap  func(ctx context.Context, cs CounterSwap) (txHash string, err error)
	RePause      func(ctx context.Context) error
}

// Config controls restore timing and the optional re-pause behavior.
type Config struct {
	Delay               time.Duration // default 5s
	RepauseAfterRestore bool          // default false, per the design's Open Question decision
	PriceScale          *big.Int
}

// Scheduler runs at most one active restore task at a time. Arming while
// a task is pending cancels the prior task first.
type Scheduler struct {
	ops Ops
	cfg Config

	mu     sync.Mutex
	cancel context.CancelFunc
}

func New(ops Ops, cfg Config) *Scheduler {
	return &Scheduler{ops: ops, cfg: cfg}
}

// Arm schedules a restore task at now+Delay targeting oraclePrice. Any
// previously armed, not-yet-fired task is cancelled. onComplete is
// invoked with the Outcome once the task fires (or is cancelled, with
// Success=false, Reason="cancelled").
func (s *Scheduler) Arm(ctx context.Context, oraclePrice *big.Int, onComplete func(Outcome)) {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	taskCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	go s.run(taskCtx, oraclePrice, onComplete)
}

// Cancel aborts any pending restore task without running it.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *Scheduler) run(ctx context.Context, oraclePrice *big.Int, onComplete func(Outcome)) {
	timer := time.NewTimer(s.cfg.Delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		api.Metrics.RestoresTotal.Inc()
		onComplete(Outcome{Success: false, Reason: "cancelled"})
		return
	case <-timer.C:
	}

	outcome := s.execute(ctx, oraclePrice)

	s.mu.Lock()
	s.cancel = nil
	s.mu.Unlock()

	api.Metrics.RestoresTotal.Inc()
	onComplete(outcome)
}

func (s *Scheduler) execute(ctx context.Context, oraclePrice *big.Int) Outcome {
	if err := s.ops.Unpause(ctx); err != nil {
		return Outcome{Success: false, Reason: fmt.Sprintf("unpause: %v", err)}
	}

	weth, usdc, err := s.ops.ReadReserves(ctx)
	if err != nil {
		return Outcome{Success: false, Reason: fmt.Sprintf("read reserves: %v", err)}
	}

	cs, err := ComputeCounterSwap(weth, usdc, oraclePrice, s.cfg.PriceScale)
	if err != nil {
		return Outcome{Success: false, Reason: fmt.Sprintf("compute counter-swap: %v", err)}
	}

	txHash, err := s.ops.CounterSwap(ctx, cs)
	if err != nil {
		return Outcome{Success: false, Reason: fmt.Sprintf("counter-swap: %v", err)}
	}

	if s.cfg.RepauseAfterRestore {
		if err := s.ops.RePause(ctx); err != nil {
			return Outcome{Success: false, Reason: fmt.Sprintf("re-pause: %v", err), TxHash: &txHash}
		}
	}

	newSpot := new(big.Int).Mul(cs.NewUSDCReserve, s.cfg.PriceScale)
	newSpot.Div(newSpot, cs.NewWETHReserve)

	return Outcome{Success: true, NewSpotPrice: newSpot, TxHash: &txHash, Reason: "restored"}
}
