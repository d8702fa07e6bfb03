package restore

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinel-labs/oracle-monitor/internal/util"
)

func TestComputeCounterSwapHitsTargetPrice(t *testing.T) {
	weth := big.NewInt(1000)
	usdc := big.NewInt(1_200_000_00000000) // spot = usdc*1e8/weth = 1.2e19, far from the 2000e8 target
	target := big.NewInt(2000_00000000)

	cs, err := ComputeCounterSwap(weth, usdc, target, util.PriceScale)
	require.NoError(t, err)

	newSpot := new(big.Int).Mul(cs.NewUSDCReserve, util.PriceScale)
	newSpot.Div(newSpot, cs.NewWETHReserve)
	assert.True(t, util.WithinTolerance(newSpot, target, 1)) // within 0.01%
}

func TestComputeCounterSwapRejectsZeroReserves(t *testing.T) {
	_, err := ComputeCounterSwap(big.NewInt(0), big.NewInt(100), big.NewInt(1), util.PriceScale)
	assert.Error(t, err)
}

func TestSchedulerRestoreWithinFivePercentOfOracle(t *testing.T) {
	weth := big.NewInt(1000)
	usdc := big.NewInt(1_200_000_00000000)
	oracle := big.NewInt(2000_00000000)

	ops := Ops{
		ReadReserves: func(ctx context.Context) (*big.Int, *big.Int, error) { return weth, usdc, nil },
		Unpause:      func(ctx context.Context) error { return nil },
		CounterSwap: func(ctx context.Context, cs CounterSwap) (string, error) {
			return "0xdeadbeef", nil
		},
		RePause: func(ctx context.Context) error { return nil },
	}
	s := New(ops, Config{Delay: 10 * time.Millisecond, PriceScale: util.PriceScale})

	var wg sync.WaitGroup
	wg.Add(1)
	var outcome Outcome
	s.Arm(context.Background(), oracle, func(o Outcome) {
		outcome = o
		wg.Done()
	})
	wg.Wait()

	require.True(t, outcome.Success)
	assert.True(t, ratDeviation(outcome.NewSpotPrice, oracle).Cmp(big.NewRat(5, 1)) <= 0)
}

func TestSchedulerCancelPreventsRestore(t *testing.T) {
	ops := Ops{
		ReadReserves: func(ctx context.Context) (*big.Int, *big.Int, error) { return big.NewInt(1), big.NewInt(1), nil },
		Unpause:      func(ctx context.Context) error { return nil },
		CounterSwap:  func(ctx context.Context, cs CounterSwap) (string, error) { return "0x1", nil },
		RePause:      func(ctx context.Context) error { return nil },
	}
	s := New(ops, Config{Delay: 50 * time.Millisecond, PriceScale: util.PriceScale})

	var wg sync.WaitGroup
	wg.Add(1)
	var outcome Outcome
	s.Arm(context.Background(), big.NewInt(1), func(o Outcome) {
		outcome = o
		wg.Done()
	})
	s.Cancel()
	wg.Wait()

	assert.False(t, outcome.Success)
	assert.Equal(t, "cancelled", outcome.Reason)
}

func TestSchedulerRearmCancelsPriorTask(t *testing.T) {
	var fired []string
	ops := Ops{
		ReadReserves: func(ctx context.Context) (*big.Int, *big.Int, error) { return big.NewInt(1000), big.NewInt(2_000_000_00000000), nil },
		Unpause:      func(ctx context.Context) error { return nil },
		CounterSwap:  func(ctx context.Context, cs CounterSwap) (string, error) { return "0x2", nil },
		RePause:      func(ctx context.Context) error { return nil },
	}
	s := New(ops, Config{Delay: 30 * time.Millisecond, PriceScale: util.PriceScale})

	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(1)
	s.Arm(context.Background(), big.NewInt(2000_00000000), func(o Outcome) {
		mu.Lock()
		fired = append(fired, o.Reason)
		mu.Unlock()
		wg.Done()
	})

	wg.Add(1)
	s.Arm(context.Background(), big.NewInt(2000_00000000), func(o Outcome) {
		mu.Lock()
		fired = append(fired, o.Reason)
		mu.Unlock()
		wg.Done()
	})

	wg.Wait()
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, fired, 2)
	assert.Contains(t, fired, "cancelled")
}

func ratDeviation(a, b *big.Int) *big.Rat {
	diff := new(big.Int).Sub(a, b)
	diff.Abs(diff)
	num := new(big.Rat).SetInt(new(big.Int).Mul(diff, big.NewInt(100)))
	den := new(big.Rat).SetInt(b)
	return num.Quo(num, den)
}
