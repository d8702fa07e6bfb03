// Command sentinel is the monitor's process entrypoint: it loads
// configuration, dials the chain, wires the observation/reasoning/
// decision/action pipeline, and serves the HTTP/WebSocket API until
// signalled to stop. Grounded on the teacher's cmd/main.go (parse
// signer key from env, load config, dial client, construct the
// top-level type, run it, drain its report channel), adapted from a
// single-goroutine reportChan consumer to an errgroup running the
// observation loop and the HTTP server side by side.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/sync/errgroup"

	"github.com/sentinel-labs/oracle-monitor"
	"github.com/sentinel-labs/oracle-monitor/configs"
	"github.com/sentinel-labs/oracle-monitor/internal/actor"
	"github.com/sentinel-labs/oracle-monitor/internal/api"
	"github.com/sentinel-labs/oracle-monitor/internal/chain"
	"github.com/sentinel-labs/oracle-monitor/internal/decider"
	"github.com/sentinel-labs/oracle-monitor/internal/eventstore"
	"github.com/sentinel-labs/oracle-monitor/internal/filter"
	"github.com/sentinel-labs/oracle-monitor/internal/observer"
	"github.com/sentinel-labs/oracle-monitor/internal/reasoner"
	"github.com/sentinel-labs/oracle-monitor/internal/restore"
	"github.com/sentinel-labs/oracle-monitor/internal/util"
)

// Process exit codes per the design's exit code taxonomy.
const (
	exitOK                 = 0
	exitConfigError        = 1
	exitUnrecoverableChain = 2
	exitLLMCredentialError = 3
)

func main() {
	log := slog.New(slog.NewTextHandler(os.Stdout, nil))

	cfg, err := configs.Load()
	if err != nil {
		log.Error("configuration error", "error", err)
		os.Exit(exitConfigError)
	}

	if err := run(context.Background(), log, cfg); err != nil {
		log.Error("fatal error", "error", err)
		os.Exit(classifyExit(err))
	}
}

func classifyExit(err error) int {
	if chain.IsTransient(err) {
		return exitUnrecoverableChain
	}
	return exitConfigError
}

func run(parent context.Context, log *slog.Logger, cfg *configs.Config) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := ethclient.Dial(cfg.ChainRPCURL)
	if err != nil {
		return fmt.Errorf("dial chain rpc: %w", err)
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("fetch chain id: %w", err)
	}

	signerKeyHex := cfg.SignerKey
	if cfg.EncryptionKey != "" {
		signerKeyHex, err = util.Decrypt([]byte(cfg.EncryptionKey), cfg.SignerKey)
		if err != nil {
			return fmt.Errorf("decrypt signer key: %w", err)
		}
	}
	signer, err := crypto.HexToECDSA(trim0x(signerKeyHex))
	if err != nil {
		return fmt.Errorf("parse signer key: %w", err)
	}

	adapter := chain.NewEthAdapter(client, chainID, signer, 0)

	oracleABI, err := util.LoadABI("abi/oracle.json")
	if err != nil {
		return fmt.Errorf("load oracle abi: %w", err)
	}
	ammABI, err := util.LoadABI("abi/amm.json")
	if err != nil {
		return fmt.Errorf("load amm abi: %w", err)
	}
	vaultABI, err := util.LoadABI("abi/vault.json")
	if err != nil {
		return fmt.Errorf("load vault abi: %w", err)
	}

	obs := observer.New(adapter, cfg.Addresses, observer.ABIs{Oracle: oracleABI, AMM: ammABI, Vault: vaultABI}, observer.Topics{
		Swap:           crypto.Keccak256Hash([]byte("Swap(address,uint256,uint256)")),
		PriceUpdated:   crypto.Keccak256Hash([]byte("PriceUpdated(uint256,uint256)")),
		Liquidation:    crypto.Keccak256Hash([]byte("Liquidation(address,uint256)")),
		EmergencyPause: crypto.Keccak256Hash([]byte("EmergencyPaused()")),
	})

	anomalyFilter := filter.New(cfg.ToFilterConfig())

	llmClient := reasoner.NewAnthropicClient(cfg.LLMAPIKey, anthropic.ModelClaudeSonnet4_5)
	reason := reasoner.New(llmClient, cfg.LLMCallTimeout, cfg.AnalyzedEventsCapacity)

	decide := decider.New(cfg.ToDeciderConfig())

	act := actor.New(adapter, buildTxRequest(cfg.Addresses, ammABI, vaultABI))

	restoreScheduler := restore.New(buildRestoreOps(adapter, cfg.Addresses, ammABI), restore.Config{
		Delay:               cfg.RestoreDelay,
		RepauseAfterRestore: false,
		PriceScale:          util.PriceScale,
	})

	bus := eventstore.NewBus()
	store := eventstore.NewStore(cfg.EventStoreCapacity, bus)

	if cfg.MySQLDSN != "" {
		recorder, err := eventstore.NewMySQLRecorder(cfg.MySQLDSN)
		if err != nil {
			return fmt.Errorf("connect mysql event mirror: %w", err)
		}
		recorder.Subscribe(ctx, bus, log)
	}

	sent := sentinel.New(obs, anomalyFilter, reason, decide, act, restoreScheduler, store, log)

	stats := &statsAdapter{adapter: adapter, addresses: cfg.Addresses, oracleABI: oracleABI, ammABI: ammABI, vaultABI: vaultABI}
	admin := &adminOps{restore: restoreScheduler, addresses: cfg.Addresses, adapter: adapter, oracleABI: oracleABI}
	apiServer := api.NewServer(store, bus, stats, admin, log)
	httpServer := &http.Server{Addr: ":8080", Handler: apiServer.Handler()}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error { return sent.Run(gctx, cfg.PollInterval) })
	group.Go(func() error {
		log.Info("http server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return group.Wait()
}

// buildTxRequest maps a decider.Intent to the contract call that realizes
// it: PAUSE_AMM to amm.pause, BLOCK_LIQUIDATIONS to vault.blockLiquidations,
// and PAUSE_VAULT (the last resort for unclassified anomalies) to
// vault.pause with the rationale as its reason. Any other action is an
// error; the unpause/unblock calls are not mapped here.
func buildTxRequest(addrs chain.Addresses, ammABI, vaultABI *abi.ABI) func(decider.Intent) (chain.TxRequest, error) {
	return func(intent decider.Intent) (chain.TxRequest, error) {
		switch intent.Action {
		case decider.ActionPauseAMM:
			return chain.TxRequest{Contract: addrs.AMM, ABI: ammABI, Method: "pause"}, nil
		case decider.ActionBlockLiquidations:
			return chain.TxRequest{Contract: addrs.Vault, ABI: vaultABI, Method: "blockLiquidations"}, nil
		case decider.ActionPauseVault:
			return chain.TxRequest{Contract: addrs.Vault, ABI: vaultABI, Method: "pause", Args: []interface{}{intent.Rationale}}, nil
		default:
			return chain.TxRequest{}, fmt.Errorf("no transaction defined for action %s", intent.Action)
		}
	}
}

// buildRestoreOps wires the restore scheduler's chain-facing hooks: read
// live reserves, unpause the AMM, submit the computed counter-swap, and
// (if configured) re-pause afterward.
func buildRestoreOps(adapter chain.Adapter, addrs chain.Addresses, ammABI *abi.ABI) restore.Ops {
	return restore.Ops{
		ReadReserves: func(ctx context.Context) (weth, usdc *big.Int, err error) {
			result, err := adapter.CallView(ctx, addrs.AMM, ammABI, "getReserves")
			if err != nil {
				return nil, nil, err
			}
			if len(result) < 2 {
				return nil, nil, fmt.Errorf("unexpected getReserves result shape")
			}
			return result[0].(*big.Int), result[1].(*big.Int), nil
		},
		Unpause: func(ctx context.Context) error {
			_, _, err := adapter.Submit(ctx, chain.TxRequest{Contract: addrs.AMM, ABI: ammABI, Method: "unpause"})
			return err
		},
		CounterSwap: func(ctx context.Context, cs restore.CounterSwap) (string, error) {
			method, amount := "swapWethForUsdc", cs.DeltaWETH
			if cs.Side == restore.SideUSDC {
				method, amount = "swapUsdcForWeth", cs.DeltaUSDC
			}
			hash, _, err := adapter.Submit(ctx, chain.TxRequest{Contract: addrs.AMM, ABI: ammABI, Method: method, Args: []interface{}{amount}})
			if err != nil {
				return "", err
			}
			return hash.Hex(), nil
		},
		RePause: func(ctx context.Context) error {
			_, _, err := adapter.Submit(ctx, chain.TxRequest{Contract: addrs.AMM, ABI: ammABI, Method: "pause"})
			return err
		},
	}
}

func trim0x(s string) string {
	if len(s) > 1 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
