// Package observer builds a Snapshot each cycle from chain adapter calls:
// current block, oracle/AMM reads, pause flags, and logs since the last
// observed block. Grounded on the teacher's polling idiom in blackhole.go
// (read state, derive values, continue) generalized from a single
// concentrated-liquidity pool read into the oracle+AMM+vault state this
// monitor watches.
package observer

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/sentinel-labs/oracle-monitor/internal/chain"
	"github.com/sentinel-labs/oracle-monitor/internal/util"
)

// Topics holds the monitored event signature hashes, injected so the
// observer never hardcodes an ABI's event signature.
type Topics struct {
	Swap           common.Hash
	PriceUpdated   common.Hash
	Liquidation    common.Hash
	EmergencyPause common.Hash
}

// Snapshot is the immutable record produced each observation cycle.
// Any derivable field (AMMSpotPrice, DeviationPct) is computed, never
// independently sourced, per the data model's invariant.
type Snapshot struct {
	Cycle     uint64
	Block     uint64
	Timestamp int64 // unix seconds, UTC

	OraclePrice  *big.Int
	WETHReserve  *big.Int
	USDCReserve  *big.Int
	AMMSpotPrice *big.Int // derived: usdc/weth, 8-decimal scale

	DeviationPct *big.Rat // signed: (oracle-amm)/oracle*100

	SwapsInBlock         int
	LargestSwapWETH      *big.Int
	OracleUpdatesInBlock int
	LiquidationSeen      bool

	AMMPaused           bool
	VaultPaused         bool
	LiquidationsBlocked bool

	Valid bool // false if reserves failed the amm_spot invariant check
}

// ABIs bundles the three contract ABIs the observer calls view functions
// through.
type ABIs struct {
	Oracle *abi.ABI
	AMM    *abi.ABI
	Vault  *abi.ABI
}

// Observer runs the fixed-tick read loop described in the design.
type Observer struct {
	adapter   chain.Adapter
	addresses chain.Addresses
	abis      ABIs
	topics    Topics

	lastBlock uint64
	cycle     uint64
}

func New(adapter chain.Adapter, addresses chain.Addresses, abis ABIs, topics Topics) *Observer {
	return &Observer{adapter: adapter, addresses: addresses, abis: abis, topics: topics}
}

// Observe executes one tick: read current block, call view functions,
// fetch logs since last_block+1, and assemble a Snapshot. Returns a nil
// Snapshot (no error) if the tick must be silently aborted per the
// "no partial snapshot" rule on a transient log-fetch failure.
func (o *Observer) Observe(ctx context.Context) (*Snapshot, error) {
	block, err := o.adapter.CurrentBlock(ctx)
	if err != nil {
		if chain.IsTransient(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("current block: %w", err)
	}

	state, err := o.readState(ctx)
	if err != nil {
		if chain.IsTransient(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read state: %w", err)
	}

	fromBlock := o.lastBlock + 1
	if o.lastBlock == 0 {
		fromBlock = block
	}
	if block == o.lastBlock {
		// Block lag: still emit a snapshot, with zero swap/oracle-update counts.
		fromBlock = block + 1
	}

	swaps, oracleUpdates, liqSeen, largestSwap, err := o.readLogs(ctx, fromBlock, block)
	if err != nil {
		if chain.IsTransient(err) {
			// Tick aborted, retried next scheduled tick; no partial snapshot.
			return nil, nil
		}
		return nil, fmt.Errorf("fetch logs: %w", err)
	}

	o.cycle++
	snap := &Snapshot{
		Cycle:                o.cycle,
		Block:                block,
		OraclePrice:          state.OraclePrice,
		WETHReserve:          state.WETHReserve,
		USDCReserve:          state.USDCReserve,
		SwapsInBlock:         swaps,
		LargestSwapWETH:      largestSwap,
		OracleUpdatesInBlock: oracleUpdates,
		LiquidationSeen:      liqSeen,
		AMMPaused:            state.AMMPaused,
		VaultPaused:          state.VaultPaused,
		LiquidationsBlocked:  state.LiquidationsBlocked,
	}

	if state.WETHReserve.Sign() == 0 && state.USDCReserve.Sign() == 0 {
		// Fresh deploy: emitted but marked invalid; filter treats as NATURAL.
		snap.Valid = false
		snap.AMMSpotPrice = big.NewInt(0)
		snap.DeviationPct = big.NewRat(0, 1)
		o.lastBlock = block
		return snap, nil
	}

	derivedSpot := util.AMMSpotPrice(state.WETHReserve, state.USDCReserve)
	if derivedSpot == nil {
		derivedSpot = big.NewInt(0) // zero WETH reserve: no defined spot price
	}
	snap.AMMSpotPrice = derivedSpot
	snap.Valid = util.WithinTolerance(state.AMMSpotPrice, derivedSpot, 1) // 0.01% reserve-precision tolerance
	if snap.Valid {
		snap.DeviationPct = util.PercentDeviation(state.OraclePrice, snap.AMMSpotPrice)
	} else {
		snap.DeviationPct = big.NewRat(0, 1)
	}

	o.lastBlock = block
	return snap, nil
}

func (o *Observer) readState(ctx context.Context) (chain.State, error) {
	oraclePrice, err := o.call(ctx, o.addresses.Oracle, o.abis.Oracle, "getPrice")
	if err != nil {
		return chain.State{}, err
	}
	reserves, err := o.call(ctx, o.addresses.AMM, o.abis.AMM, "getReserves")
	if err != nil {
		return chain.State{}, err
	}
	ammPaused, err := o.call(ctx, o.addresses.AMM, o.abis.AMM, "paused")
	if err != nil {
		return chain.State{}, err
	}
	vaultPaused, err := o.call(ctx, o.addresses.Vault, o.abis.Vault, "paused")
	if err != nil {
		return chain.State{}, err
	}
	liqBlocked, err := o.call(ctx, o.addresses.Vault, o.abis.Vault, "liquidationsBlocked")
	if err != nil {
		return chain.State{}, err
	}

	if len(oraclePrice) < 1 || len(reserves) < 3 || len(ammPaused) < 1 || len(vaultPaused) < 1 || len(liqBlocked) < 1 {
		return chain.State{}, fmt.Errorf("unexpected view-call result shape")
	}

	return chain.State{
		OraclePrice:         oraclePrice[0].(*big.Int),
		WETHReserve:         reserves[0].(*big.Int),
		USDCReserve:         reserves[1].(*big.Int),
		AMMSpotPrice:        reserves[2].(*big.Int),
		AMMPaused:           ammPaused[0].(bool),
		VaultPaused:         vaultPaused[0].(bool),
		LiquidationsBlocked: liqBlocked[0].(bool),
	}, nil
}

func (o *Observer) call(ctx context.Context, contract common.Address, contractABI *abi.ABI, method string) ([]interface{}, error) {
	return o.adapter.CallView(ctx, contract, contractABI, method)
}

func (o *Observer) readLogs(ctx context.Context, fromBlock, toBlock uint64) (swaps int, oracleUpdates int, liquidationSeen bool, largestSwap *big.Int, err error) {
	addrs := []common.Address{o.addresses.AMM, o.addresses.Oracle, o.addresses.Vault}
	topics := [][]common.Hash{{o.topics.Swap, o.topics.PriceUpdated, o.topics.Liquidation}}

	logs, err := o.adapter.FetchLogs(ctx, fromBlock, toBlock, addrs, topics)
	if err != nil {
		return 0, 0, false, nil, err
	}

	largestSwap = big.NewInt(0)
	for _, l := range logs {
		if len(l.Topics) == 0 {
			continue
		}
		switch l.Topics[0] {
		case o.topics.Swap:
			swaps++
			amount := swapAmountFromLog(l)
			if amount.Cmp(largestSwap) > 0 {
				largestSwap = amount
			}
		case o.topics.PriceUpdated:
			oracleUpdates++
		case o.topics.Liquidation:
			liquidationSeen = true
		}
	}
	return swaps, oracleUpdates, liquidationSeen, largestSwap, nil
}

// swapAmountFromLog extracts the WETH-equivalent input amount from a Swap
// log's first data word (uint256). The AMM's Swap event is expected to
// encode the input amount as its first non-indexed parameter.
func swapAmountFromLog(l gethtypes.Log) *big.Int {
	if len(l.Data) < 32 {
		return big.NewInt(0)
	}
	return new(big.Int).SetBytes(l.Data[:32])
}
