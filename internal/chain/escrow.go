package chain

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/bnbpools/poolctl/internal/domain"
)

// escrowABIJSON is the published interface of the pool factory. The
// factory owns every pool; per-pool calls take the pool address as the
// first argument.
const escrowABIJSON = `[
	{"type":"function","name":"createPool","stateMutability":"nonpayable","inputs":[
		{"name":"title","type":"string"},
		{"name":"description","type":"string"},
		{"name":"category","type":"string"},
		{"name":"closingDate","type":"uint256"},
		{"name":"closingBid","type":"uint256"}],
		"outputs":[{"name":"pool","type":"address"}]},
	{"type":"function","name":"setPoolEmergencyStop","stateMutability":"nonpayable","inputs":[
		{"name":"pool","type":"address"},{"name":"stop","type":"bool"}],"outputs":[]},
	{"type":"function","name":"closePool","stateMutability":"nonpayable","inputs":[
		{"name":"pool","type":"address"}],"outputs":[]},
	{"type":"function","name":"reopenPool","stateMutability":"nonpayable","inputs":[
		{"name":"pool","type":"address"}],"outputs":[]},
	{"type":"function","name":"setPoolWinner","stateMutability":"nonpayable","inputs":[
		{"name":"pool","type":"address"},{"name":"winner","type":"bool"}],"outputs":[]},
	{"type":"function","name":"cancelPoolPrediction","stateMutability":"nonpayable","inputs":[
		{"name":"pool","type":"address"},{"name":"reason","type":"string"}],"outputs":[]},
	{"type":"function","name":"recoverCancelledPoolFunds","stateMutability":"nonpayable","inputs":[
		{"name":"pool","type":"address"}],"outputs":[]},
	{"type":"function","name":"isBettingCurrentlyOpen","stateMutability":"view","inputs":[
		{"name":"pool","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"getEmergencyStopStatus","stateMutability":"view","inputs":[
		{"name":"pool","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"isPoolCancelled","stateMutability":"view","inputs":[
		{"name":"pool","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"isPoolClosed","stateMutability":"view","inputs":[
		{"name":"pool","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"isWinnerSet","stateMutability":"view","inputs":[
		{"name":"pool","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"getWinningSide","stateMutability":"view","inputs":[
		{"name":"pool","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"event","name":"PoolCreated","inputs":[
		{"name":"pool","type":"address","indexed":true}],"anonymous":false}
]`

var (
	escrowABI       = mustParseABI(escrowABIJSON)
	poolCreatedSig  = ethcrypto.Keccak256Hash([]byte("PoolCreated(address)"))
	errorRevertSig  = [4]byte{0x08, 0xc3, 0x79, 0xa0} // Error(string)
)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(fmt.Sprintf("chain: parsing escrow ABI: %v", err))
	}
	return parsed
}

// Escrow implements domain.PoolContract against the factory contract.
type Escrow struct {
	client         *Client
	wallet         *Wallet
	factory        common.Address
	confirmTimeout time.Duration
	pollInterval   time.Duration
	logger         *slog.Logger
}

// NewEscrow creates the escrow adapter. confirmTimeout bounds Confirm;
// pollInterval is the receipt polling cadence.
func NewEscrow(client *Client, wallet *Wallet, factoryAddress string, confirmTimeout, pollInterval time.Duration, logger *slog.Logger) (*Escrow, error) {
	if !common.IsHexAddress(factoryAddress) {
		return nil, fmt.Errorf("chain: invalid factory address %q", factoryAddress)
	}
	if confirmTimeout <= 0 {
		confirmTimeout = 5 * time.Minute
	}
	if pollInterval <= 0 {
		pollInterval = 3 * time.Second
	}
	return &Escrow{
		client:         client,
		wallet:         wallet,
		factory:        common.HexToAddress(factoryAddress),
		confirmTimeout: confirmTimeout,
		pollInterval:   pollInterval,
		logger:         logger.With(slog.String("component", "escrow")),
	}, nil
}

// CreatePool submits the factory call that deploys a new pool.
func (e *Escrow) CreatePool(ctx context.Context, p domain.PoolParams) (string, error) {
	return e.submit(ctx, "createPool",
		p.Title, p.Description, p.Category,
		big.NewInt(p.ClosingDate.Unix()), big.NewInt(p.ClosingBid.Unix()),
	)
}

// SetEmergencyStop toggles the pool's emergency stop flag.
func (e *Escrow) SetEmergencyStop(ctx context.Context, poolAddress string, stop bool) (string, error) {
	addr, err := parseAddress(poolAddress)
	if err != nil {
		return "", err
	}
	return e.submit(ctx, "setPoolEmergencyStop", addr, stop)
}

// ClosePool administratively closes betting on the pool.
func (e *Escrow) ClosePool(ctx context.Context, poolAddress string) (string, error) {
	addr, err := parseAddress(poolAddress)
	if err != nil {
		return "", err
	}
	return e.submit(ctx, "closePool", addr)
}

// ReopenPool reverses an administrative close.
func (e *Escrow) ReopenPool(ctx context.Context, poolAddress string) (string, error) {
	addr, err := parseAddress(poolAddress)
	if err != nil {
		return "", err
	}
	return e.submit(ctx, "reopenPool", addr)
}

// SetWinner resolves the pool with the winning side.
func (e *Escrow) SetWinner(ctx context.Context, poolAddress string, winner domain.Side) (string, error) {
	addr, err := parseAddress(poolAddress)
	if err != nil {
		return "", err
	}
	return e.submit(ctx, "setPoolWinner", addr, winner.Bool())
}

// CancelPool cancels the pool with a reason.
func (e *Escrow) CancelPool(ctx context.Context, poolAddress, reason string) (string, error) {
	addr, err := parseAddress(poolAddress)
	if err != nil {
		return "", err
	}
	return e.submit(ctx, "cancelPoolPrediction", addr, reason)
}

// RecoverFunds sweeps residual funds of a cancelled or resolved pool.
func (e *Escrow) RecoverFunds(ctx context.Context, poolAddress string) (string, error) {
	addr, err := parseAddress(poolAddress)
	if err != nil {
		return "", err
	}
	return e.submit(ctx, "recoverCancelledPoolFunds", addr)
}

// Confirm waits for the transaction to be mined, bounded by the configured
// confirmation timeout. A reverted transaction is reported with the revert
// reason when it can be recovered from the node.
func (e *Escrow) Confirm(ctx context.Context, txHash string) (domain.TxOutcome, error) {
	hash := common.HexToHash(txHash)

	ctx, cancel := context.WithTimeout(ctx, e.confirmTimeout)
	defer cancel()

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := e.client.eth.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			return e.outcomeFromReceipt(ctx, hash, receipt)
		case errors.Is(err, ethereum.NotFound):
			// Still pending.
		case ctx.Err() != nil:
			return domain.TxOutcome{}, fmt.Errorf("chain: confirm %s: %w", txHash, domain.ErrConfirmTimeout)
		default:
			e.logger.Warn("receipt poll failed",
				slog.String("tx", txHash),
				slog.String("error", err.Error()),
			)
		}

		select {
		case <-ctx.Done():
			return domain.TxOutcome{}, fmt.Errorf("chain: confirm %s: %w", txHash, domain.ErrConfirmTimeout)
		case <-ticker.C:
		}
	}
}

// Flags reads the four authoritative flags of a pool.
func (e *Escrow) Flags(ctx context.Context, poolAddress string) (domain.PoolFlags, error) {
	addr, err := parseAddress(poolAddress)
	if err != nil {
		return domain.PoolFlags{}, err
	}

	isOpen, err := e.viewBool(ctx, "isBettingCurrentlyOpen", addr)
	if err != nil {
		return domain.PoolFlags{}, err
	}
	stop, err := e.viewBool(ctx, "getEmergencyStopStatus", addr)
	if err != nil {
		return domain.PoolFlags{}, err
	}
	cancelled, err := e.viewBool(ctx, "isPoolCancelled", addr)
	if err != nil {
		return domain.PoolFlags{}, err
	}
	closed, err := e.viewBool(ctx, "isPoolClosed", addr)
	if err != nil {
		return domain.PoolFlags{}, err
	}

	return domain.PoolFlags{
		IsOpen:        isOpen,
		EmergencyStop: stop,
		Cancelled:     cancelled,
		IsClosed:      closed,
		ReadAt:        time.Now().UTC(),
	}, nil
}

// Winner reads the resolution state of a pool.
func (e *Escrow) Winner(ctx context.Context, poolAddress string) (bool, domain.Side, error) {
	addr, err := parseAddress(poolAddress)
	if err != nil {
		return false, "", err
	}

	set, err := e.viewBool(ctx, "isWinnerSet", addr)
	if err != nil {
		return false, "", err
	}
	if !set {
		return false, "", nil
	}

	side, err := e.viewBool(ctx, "getWinningSide", addr)
	if err != nil {
		return false, "", err
	}
	return true, domain.SideFromBool(side), nil
}

// submit packs, signs, and broadcasts a factory call, returning the tx hash.
func (e *Escrow) submit(ctx context.Context, method string, args ...any) (string, error) {
	data, err := escrowABI.Pack(method, args...)
	if err != nil {
		return "", fmt.Errorf("chain: pack %s: %w", method, err)
	}

	from := e.wallet.Address()

	nonce, err := e.client.eth.PendingNonceAt(ctx, from)
	if err != nil {
		return "", fmt.Errorf("chain: nonce: %w", err)
	}
	gasPrice, err := e.client.eth.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("chain: gas price: %w", err)
	}
	gas, err := e.client.eth.EstimateGas(ctx, ethereum.CallMsg{
		From: from,
		To:   &e.factory,
		Data: data,
	})
	if err != nil {
		// Estimation runs the call; a revert here carries the contract's
		// precondition failure and must reach the operator verbatim.
		return "", fmt.Errorf("chain: %s rejected: %w", method, err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &e.factory,
		Gas:      gas,
		GasPrice: gasPrice,
		Value:    big.NewInt(0),
		Data:     data,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(e.client.chainID), e.wallet.key)
	if err != nil {
		return "", fmt.Errorf("chain: sign %s: %w", method, errors.Join(domain.ErrSignRejected, err))
	}

	if err := e.client.eth.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("chain: send %s: %w", method, err)
	}

	e.logger.Info("transaction submitted",
		slog.String("method", method),
		slog.String("tx", signed.Hash().Hex()),
	)
	return signed.Hash().Hex(), nil
}

func (e *Escrow) outcomeFromReceipt(ctx context.Context, hash common.Hash, receipt *types.Receipt) (domain.TxOutcome, error) {
	if receipt.Status == types.ReceiptStatusFailed {
		reason := e.revertReason(ctx, hash, receipt)
		if reason != "" {
			return domain.TxOutcome{}, fmt.Errorf("chain: tx %s reverted: %s", hash.Hex(), reason)
		}
		return domain.TxOutcome{}, fmt.Errorf("chain: tx %s reverted", hash.Hex())
	}

	out := domain.TxOutcome{
		TxHash:      hash.Hex(),
		BlockNumber: receipt.BlockNumber.Uint64(),
		GasUsed:     receipt.GasUsed,
	}

	// createPool publishes the new pool address in a PoolCreated event.
	for _, lg := range receipt.Logs {
		if lg.Address == e.factory && len(lg.Topics) >= 2 && lg.Topics[0] == poolCreatedSig {
			out.PoolAddress = common.BytesToAddress(lg.Topics[1].Bytes()).Hex()
			break
		}
	}
	return out, nil
}

// revertReason replays the failed transaction at its block to recover the
// Error(string) payload. Best effort; an empty string means the node gave
// us nothing usable.
func (e *Escrow) revertReason(ctx context.Context, hash common.Hash, receipt *types.Receipt) string {
	tx, _, err := e.client.eth.TransactionByHash(ctx, hash)
	if err != nil {
		return ""
	}

	msg := ethereum.CallMsg{
		From:     e.wallet.Address(),
		To:       tx.To(),
		Gas:      tx.Gas(),
		GasPrice: tx.GasPrice(),
		Value:    tx.Value(),
		Data:     tx.Data(),
	}

	ret, err := e.client.eth.CallContract(ctx, msg, receipt.BlockNumber)
	if err != nil {
		// Many nodes embed the reason in the error string itself.
		return err.Error()
	}
	return unpackRevert(ret)
}

// unpackRevert decodes an ABI-encoded Error(string) payload.
func unpackRevert(data []byte) string {
	if len(data) < 4+32+32 {
		return ""
	}
	var sig [4]byte
	copy(sig[:], data[:4])
	if sig != errorRevertSig {
		return "0x" + hex.EncodeToString(data)
	}
	decoded, err := abi.UnpackRevert(data)
	if err != nil {
		return ""
	}
	return decoded
}

func (e *Escrow) viewBool(ctx context.Context, method string, pool common.Address) (bool, error) {
	data, err := escrowABI.Pack(method, pool)
	if err != nil {
		return false, fmt.Errorf("chain: pack %s: %w", method, err)
	}

	ret, err := e.client.eth.CallContract(ctx, ethereum.CallMsg{
		To:   &e.factory,
		Data: data,
	}, nil)
	if err != nil {
		return false, fmt.Errorf("chain: call %s: %w", method, err)
	}

	vals, err := escrowABI.Unpack(method, ret)
	if err != nil {
		return false, fmt.Errorf("chain: unpack %s: %w", method, err)
	}
	if len(vals) != 1 {
		return false, fmt.Errorf("chain: %s returned %d values", method, len(vals))
	}
	b, ok := vals[0].(bool)
	if !ok {
		return false, fmt.Errorf("chain: %s returned non-bool %T", method, vals[0])
	}
	return b, nil
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("chain: invalid pool address %q", s)
	}
	return common.HexToAddress(s), nil
}

// Compile-time interface check.
var _ domain.PoolContract = (*Escrow)(nil)
