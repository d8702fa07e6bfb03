package main

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"github.com/sentinel-labs/oracle-monitor/internal/api"
	"github.com/sentinel-labs/oracle-monitor/internal/chain"
	"github.com/sentinel-labs/oracle-monitor/internal/restore"
	"github.com/sentinel-labs/oracle-monitor/internal/util"
)

// statsAdapter satisfies api.StatsProvider with a best-effort direct
// chain read: GET /api/stats is a debugging surface, not the hot path,
// so it reads the oracle/AMM state fresh rather than threading a cached
// snapshot out of the Sentinel's per-cycle loop.
type statsAdapter struct {
	adapter   chain.Adapter
	addresses chain.Addresses
	oracleABI *abi.ABI
	ammABI    *abi.ABI
	vaultABI  *abi.ABI
}

func (s *statsAdapter) Stats() api.Stats {
	ctx := context.Background()

	oracleResult, err := s.adapter.CallView(ctx, s.addresses.Oracle, s.oracleABI, "getPrice")
	if err != nil || len(oracleResult) < 1 {
		return api.Stats{}
	}
	reserves, err := s.adapter.CallView(ctx, s.addresses.AMM, s.ammABI, "getReserves")
	if err != nil || len(reserves) < 3 {
		return api.Stats{}
	}
	ammPaused, err := s.adapter.CallView(ctx, s.addresses.AMM, s.ammABI, "paused")
	if err != nil || len(ammPaused) < 1 {
		return api.Stats{}
	}
	vaultPaused, err := s.adapter.CallView(ctx, s.addresses.Vault, s.vaultABI, "paused")
	if err != nil || len(vaultPaused) < 1 {
		return api.Stats{}
	}
	liqBlocked, err := s.adapter.CallView(ctx, s.addresses.Vault, s.vaultABI, "liquidationsBlocked")
	if err != nil || len(liqBlocked) < 1 {
		return api.Stats{}
	}

	oraclePrice := oracleResult[0].(*big.Int)
	ammSpot := reserves[2].(*big.Int)
	deviation := util.PercentDeviation(oraclePrice, ammSpot)

	return api.Stats{
		CurrentOraclePrice:  oraclePrice.String(),
		CurrentAMMPrice:     ammSpot.String(),
		PriceDeviation:      deviation.RatString(),
		AMMPaused:           ammPaused[0].(bool),
		VaultPaused:         vaultPaused[0].(bool),
		LiquidationsBlocked: liqBlocked[0].(bool),
		LastUpdate:          time.Now().UTC(),
	}
}

// adminOps satisfies api.AdminOps. SimulateAttack is intentionally
// unimplemented: the attack routine it would trigger is a deploy-time
// test harness outside this monitor's scope. ResetAMM re-arms the
// restore scheduler against the current oracle price, the same path a
// natural PAUSE_AMM action takes, and waits for it to complete.
type adminOps struct {
	restore *restore.Scheduler

	addresses chain.Addresses
	adapter   chain.Adapter
	oracleABI *abi.ABI
}

func (a *adminOps) SimulateAttack(ctx context.Context) (api.AttackResult, error) {
	return api.AttackResult{}, fmt.Errorf("simulate-attack requires an attack harness configured outside core scope")
}

func (a *adminOps) ResetAMM(ctx context.Context) (api.ResetResult, error) {
	oracleResult, err := a.adapter.CallView(ctx, a.addresses.Oracle, a.oracleABI, "getPrice")
	if err != nil || len(oracleResult) < 1 {
		return api.ResetResult{Success: false, Message: "unable to read oracle price"}, err
	}
	oraclePrice := oracleResult[0].(*big.Int)

	done := make(chan restore.Outcome, 1)
	a.restore.Arm(ctx, oraclePrice, func(outcome restore.Outcome) { done <- outcome })

	select {
	case outcome := <-done:
		if !outcome.Success {
			return api.ResetResult{Success: false, Message: outcome.Reason}, nil
		}
		priceStr := outcome.NewSpotPrice.String()
		return api.ResetResult{Success: true, Message: "amm reset", NewPrice: &priceStr, TxHash: outcome.TxHash}, nil
	case <-ctx.Done():
		return api.ResetResult{Success: false, Message: "reset cancelled"}, ctx.Err()
	}
}
