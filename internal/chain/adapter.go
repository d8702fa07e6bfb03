// Package chain implements the read-only and transaction-submission
// surface the rest of the monitor uses to talk to the target EVM chain:
// current block height, view-function calls, log range fetches, and
// signed transaction submission through a single serialized signer.
//
// Grounded on the teacher's pkg/contractclient (ABI-bound Call/Send over
// an *ethclient.Client) and pkg/txlistener (receipt polling), generalized
// from a DEX router/NFT-manager client into a generic oracle/AMM/vault
// adapter and wrapped with the retry/backoff and nonce discipline
// required by the chain adapter contract.
package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/sentinel-labs/oracle-monitor/internal/util"
)

// Addresses is the set of contract addresses the monitor was configured
// against. All are ABI-frozen, already-deployed contracts (out of core
// scope per the purpose statement).
type Addresses struct {
	WETH   common.Address
	USDC   common.Address
	Oracle common.Address
	AMM    common.Address
	Vault  common.Address
}

// State is the on-chain state the Observer reads fresh on every tick
// (oracle price, reserves, spot price, pause/block flags). It is not
// stored between ticks; the Actor sees the flags only through the
// decider.OnChainState built from each cycle's Snapshot, and the Restore
// Scheduler reads reserves through its own ops.
type State struct {
	OraclePrice         *big.Int
	WETHReserve         *big.Int
	USDCReserve         *big.Int
	AMMSpotPrice        *big.Int
	AMMPaused           bool
	VaultPaused         bool
	LiquidationsBlocked bool
}

// TxRequest describes a single contract call to submit as a transaction.
type TxRequest struct {
	Contract common.Address
	ABI      *abi.ABI
	Method   string
	Args     []interface{}
}

// Adapter is the read-only and write surface the rest of the pipeline
// depends on. A fake implementation backs every other subsystem's tests.
type Adapter interface {
	CurrentBlock(ctx context.Context) (uint64, error)
	CallView(ctx context.Context, contract common.Address, abi *abi.ABI, method string, args ...interface{}) ([]interface{}, error)
	FetchLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topics [][]common.Hash) ([]types.Log, error)
	Submit(ctx context.Context, req TxRequest) (common.Hash, *types.Receipt, error)
}

const (
	retryInitialBackoff = 500 * time.Millisecond
	retryFactor         = 2.0
	retryMaxAttempts    = 5
	gasHeadroomPct      = 25
)

// EthAdapter is the production Adapter backed by go-ethereum's ethclient.
// All outgoing transactions from the configured signer are serialized
// through signerMu; nonce is refetched from the chain after any
// PermanentChainError, per the nonce-discipline design.
type EthAdapter struct {
	client     *ethclient.Client
	chainID    *big.Int
	signer     *ecdsa.PrivateKey
	signerAddr common.Address
	gasCap     uint64

	signerMu sync.Mutex
	nonce    uint64
	nonceSet bool
}

// NewEthAdapter dials nothing itself -- it wraps an already-dialed client,
// mirroring the teacher's cmd/main.go idiom of dialing once in main and
// passing the client down.
func NewEthAdapter(client *ethclient.Client, chainID *big.Int, signer *ecdsa.PrivateKey, gasCap uint64) *EthAdapter {
	a := &EthAdapter{client: client, chainID: chainID, signer: signer, gasCap: gasCap}
	if signer != nil {
		pub, ok := signer.Public().(*ecdsa.PublicKey)
		if ok {
			a.signerAddr = crypto.PubkeyToAddress(*pub)
		}
	}
	return a
}

func (a *EthAdapter) CurrentBlock(ctx context.Context) (uint64, error) {
	var n uint64
	err := util.Retry(ctx, retryInitialBackoff, retryFactor, retryMaxAttempts, func() error {
		var err error
		n, err = a.client.BlockNumber(ctx)
		if err != nil {
			return &TransientChainError{Op: "BlockNumber", Err: err}
		}
		return nil
	})
	return n, err
}

func (a *EthAdapter) CallView(ctx context.Context, contract common.Address, contractABI *abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	bound := bind.NewBoundContract(contract, *contractABI, a.client, a.client, a.client)
	var out []interface{}
	err := util.Retry(ctx, retryInitialBackoff, retryFactor, retryMaxAttempts, func() error {
		results, err := callMethod(ctx, bound, contractABI, method, args...)
		if err != nil {
			if isRevert(err) {
				return &PermanentChainError{Op: method, Err: err}
			}
			return &TransientChainError{Op: method, Err: err}
		}
		out = results
		return nil
	})
	return out, err
}

func callMethod(ctx context.Context, bound *bind.BoundContract, contractABI *abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	opts := &bind.CallOpts{Context: ctx}
	var raw []interface{}
	if err := bound.Call(opts, &raw, method, args...); err != nil {
		return nil, err
	}
	return raw, nil
}

func (a *EthAdapter) FetchLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topics [][]common.Hash) ([]types.Log, error) {
	var logs []types.Log
	err := util.Retry(ctx, retryInitialBackoff, retryFactor, retryMaxAttempts, func() error {
		q := ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(fromBlock),
			ToBlock:   new(big.Int).SetUint64(toBlock),
			Addresses: addresses,
			Topics:    topics,
		}
		result, err := a.client.FilterLogs(ctx, q)
		if err != nil {
			return &TransientChainError{Op: "FilterLogs", Err: err}
		}
		logs = result
		return nil
	})
	return logs, err
}

// Submit signs and sends a single transaction. All submissions are
// serialized by signerMu -- the adapter never pipelines outgoing
// transactions, per the nonce discipline in the chain adapter design.
// Unlike the read methods, Submit makes one attempt: a transient failure
// is returned to the caller without retry.
func (a *EthAdapter) Submit(ctx context.Context, req TxRequest) (common.Hash, *types.Receipt, error) {
	a.signerMu.Lock()
	defer a.signerMu.Unlock()

	if !a.nonceSet {
		if err := a.refreshNonce(ctx); err != nil {
			return common.Hash{}, nil, err
		}
	}

	bound := bind.NewBoundContract(req.Contract, *req.ABI, a.client, a.client, a.client)

	packed, err := req.ABI.Pack(req.Method, req.Args...)
	if err != nil {
		a.nonceSet = false
		return common.Hash{}, nil, &PermanentChainError{Op: req.Method, Err: fmt.Errorf("pack args: %w", err)}
	}

	gasLimit, err := a.estimateGasWithHeadroom(ctx, req.Contract, packed)
	if err != nil {
		return common.Hash{}, nil, err
	}

	gasPrice, err := a.client.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, nil, &TransientChainError{Op: "SuggestGasPrice", Err: err}
	}

	auth, err := bind.NewKeyedTransactorWithChainID(a.signer, a.chainID)
	if err != nil {
		a.nonceSet = false
		return common.Hash{}, nil, &PermanentChainError{Op: req.Method, Err: err}
	}
	auth.Context = ctx
	auth.Nonce = new(big.Int).SetUint64(a.nonce)
	auth.GasLimit = gasLimit
	auth.GasPrice = gasPrice

	tx, err := bound.Transact(auth, req.Method, req.Args...)
	if err != nil {
		if revertReason, ok := revertMessage(err); ok {
			a.nonceSet = false // refetch after a permanent error
			return common.Hash{}, nil, &PermanentChainError{Op: req.Method, Reason: revertReason, Err: err}
		}
		return common.Hash{}, nil, &TransientChainError{Op: req.Method, Err: err}
	}
	a.nonce++

	receipt, err := bind.WaitMined(ctx, a.client, tx)
	if err != nil {
		return tx.Hash(), nil, &TransientChainError{Op: req.Method + ":wait", Err: err}
	}
	if receipt.Status == types.ReceiptStatusFailed {
		a.nonceSet = false
		return tx.Hash(), receipt, &PermanentChainError{Op: req.Method, Reason: "execution reverted", Err: fmt.Errorf("receipt status failed")}
	}
	return tx.Hash(), receipt, nil
}

func (a *EthAdapter) refreshNonce(ctx context.Context) error {
	n, err := a.client.PendingNonceAt(ctx, a.signerAddr)
	if err != nil {
		return &TransientChainError{Op: "PendingNonceAt", Err: err}
	}
	a.nonce = n
	a.nonceSet = true
	return nil
}

func (a *EthAdapter) estimateGasWithHeadroom(ctx context.Context, to common.Address, data []byte) (uint64, error) {
	estimate, err := a.client.EstimateGas(ctx, ethereum.CallMsg{
		From: a.signerAddr,
		To:   &to,
		Data: data,
	})
	if err != nil {
		return 0, &TransientChainError{Op: "EstimateGas", Err: err}
	}
	withHeadroom := estimate + (estimate*gasHeadroomPct)/100
	if a.gasCap > 0 && withHeadroom > a.gasCap {
		withHeadroom = a.gasCap
	}
	return withHeadroom, nil
}

// isRevert does a best-effort classification of a view-call error as a
// permanent (revert/malformed ABI response) failure versus a transient
// network failure.
func isRevert(err error) bool {
	_, ok := revertMessage(err)
	return ok
}

func revertMessage(err error) (string, bool) {
	type dataError interface {
		ErrorData() interface{}
	}
	if de, ok := err.(dataError); ok && de.ErrorData() != nil {
		return err.Error(), true
	}
	return "", false
}
