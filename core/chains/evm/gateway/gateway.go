// Package gateway is the thin RPC abstraction over the escrow contract
// (spec.md §4.6), built directly on go-ethereum's ethclient/abi/bind
// stack the same way DanDo385-solidity-edu's abigen exercise builds a
// runtime ABI binding instead of a generated one: we have no abigen
// output for the escrow contract, so we hand-write the minimal ABI
// fragment for the entry points this package calls and bind it with
// bind.NewBoundContract.
package gateway

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"

	"github.com/aionpay/relayer/core/logger"
)

// escrowABI is the minimal fragment of the verifying-oracle contract
// surface this relayer needs (spec.md §4.6).
const escrowABI = `[
	{"constant":true,"inputs":[{"name":"nonce","type":"bytes32"}],"name":"usedNonces","outputs":[{"name":"","type":"bool"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"user","type":"address"}],"name":"lockedFundsETH","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"token","type":"address"},{"name":"user","type":"address"}],"name":"lockedFundsERC20","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"user","type":"address"}],"name":"withdrawTimestamps","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":false,"inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"},{"name":"nonce","type":"bytes32"},{"name":"deadline","type":"uint256"},{"name":"signature","type":"bytes"}],"name":"executeETHTransfer","outputs":[],"type":"function"},
	{"constant":false,"inputs":[{"name":"token","type":"address"},{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"},{"name":"nonce","type":"bytes32"},{"name":"deadline","type":"uint256"},{"name":"signature","type":"bytes"}],"name":"executeERC20Transfer","outputs":[],"type":"function"}
]`

// erc20ABI is the single read-only method the gateway needs from an
// arbitrary ERC20 token: its decimals, since spec.md §4.1/§4.6 forbids
// assuming 18 decimals for a token transfer the way native-asset
// transfers can.
const erc20ABI = `[
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"}
]`

// NativeDecimals is the fixed decimals count for the chain's native asset
// (wei per ETH), used wherever TokenAddress is absent.
const NativeDecimals uint8 = 18

// Receipt is the subset of an on-chain receipt the executor cares about
// (spec.md §4.6).
type Receipt struct {
	Success         bool
	BlockNumber     uint64
	GasUsed         uint64
	TransactionHash string
}

// Gateway is the Chain Gateway contract surface (spec.md §4.6).
type Gateway interface {
	ChainID(ctx context.Context, fallback *big.Int) (*big.Int, error)

	UsedNonce(ctx context.Context, contractAddr string, nonce [32]byte) (bool, error)
	LockedFundsETH(ctx context.Context, contractAddr, owner string) (*big.Int, error)
	LockedFundsERC20(ctx context.Context, contractAddr, token, owner string) (*big.Int, error)
	WithdrawTimestamp(ctx context.Context, contractAddr, owner string) (*big.Int, error)
	GasPrice(ctx context.Context) (*big.Int, error)

	ExecuteETHTransfer(ctx context.Context, contractAddr, from, to string, amountWei *big.Int, nonce [32]byte, deadline int64, sig []byte) (txHash string, err error)
	ExecuteERC20Transfer(ctx context.Context, contractAddr, token, from, to string, amountWei *big.Int, nonce [32]byte, deadline int64, sig []byte) (txHash string, err error)
	AwaitReceipt(ctx context.Context, txHash string) (*Receipt, error)

	// TokenDecimals queries an ERC20 token's `decimals()` so callers can
	// scale a whole-unit amount to its smallest-unit wei value correctly
	// (spec.md §4.6 "Do not assume 18 decimals for ERC20").
	TokenDecimals(ctx context.Context, tokenAddr string) (uint8, error)
}

type ethGateway struct {
	lggr   logger.Logger
	client *ethclient.Client
	parsed abi.ABI
	erc20  abi.ABI
	signer *ecdsaSigner
}

// New dials rpcURL and returns a Gateway backed by it, signing
// submissions with gasPayerKey.
func New(rpcURL string, gasPayerKey *ecdsa.PrivateKey, lggr logger.Logger) (Gateway, error) {
	client, err := ethclient.DialContext(context.Background(), rpcURL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to dial RPC endpoint")
	}
	parsed, err := abi.JSON(strings.NewReader(escrowABI))
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse escrow ABI")
	}
	erc20, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse erc20 ABI")
	}
	return &ethGateway{
		lggr:   lggr.Named("ChainGateway"),
		client: client,
		parsed: parsed,
		erc20:  erc20,
		signer: newECDSASigner(gasPayerKey, client),
	}, nil
}

func (g *ethGateway) bind(addr string) *bind.BoundContract {
	return bind.NewBoundContract(common.HexToAddress(addr), g.parsed, g.client, g.client, g.client)
}

func (g *ethGateway) ChainID(ctx context.Context, fallback *big.Int) (*big.Int, error) {
	id, err := g.client.ChainID(ctx)
	if err != nil {
		g.lggr.Warnw("failed to query chain id from RPC, falling back to configured default", "err", err, "fallback", fallback)
		return fallback, nil
	}
	return id, nil
}

func (g *ethGateway) UsedNonce(ctx context.Context, contractAddr string, nonce [32]byte) (bool, error) {
	var out []interface{}
	err := g.bind(contractAddr).Call(&bind.CallOpts{Context: ctx}, &out, "usedNonces", nonce)
	if err != nil {
		return false, errors.Wrap(err, "usedNonces call failed")
	}
	used, ok := out[0].(bool)
	if !ok {
		return false, errors.New("unexpected return type for usedNonces")
	}
	return used, nil
}

func (g *ethGateway) LockedFundsETH(ctx context.Context, contractAddr, owner string) (*big.Int, error) {
	var out []interface{}
	err := g.bind(contractAddr).Call(&bind.CallOpts{Context: ctx}, &out, "lockedFundsETH", common.HexToAddress(owner))
	if err != nil {
		return nil, errors.Wrap(err, "lockedFundsETH call failed")
	}
	return asBigInt(out[0])
}

func (g *ethGateway) LockedFundsERC20(ctx context.Context, contractAddr, token, owner string) (*big.Int, error) {
	var out []interface{}
	err := g.bind(contractAddr).Call(&bind.CallOpts{Context: ctx}, &out, "lockedFundsERC20", common.HexToAddress(token), common.HexToAddress(owner))
	if err != nil {
		return nil, errors.Wrap(err, "lockedFundsERC20 call failed")
	}
	return asBigInt(out[0])
}

func (g *ethGateway) WithdrawTimestamp(ctx context.Context, contractAddr, owner string) (*big.Int, error) {
	var out []interface{}
	err := g.bind(contractAddr).Call(&bind.CallOpts{Context: ctx}, &out, "withdrawTimestamps", common.HexToAddress(owner))
	if err != nil {
		return nil, errors.Wrap(err, "withdrawTimestamps call failed")
	}
	return asBigInt(out[0])
}

func (g *ethGateway) TokenDecimals(ctx context.Context, tokenAddr string) (uint8, error) {
	var out []interface{}
	bound := bind.NewBoundContract(common.HexToAddress(tokenAddr), g.erc20, g.client, g.client, g.client)
	err := bound.Call(&bind.CallOpts{Context: ctx}, &out, "decimals")
	if err != nil {
		return 0, errors.Wrap(err, "decimals call failed")
	}
	d, ok := out[0].(uint8)
	if !ok {
		return 0, errors.New("unexpected return type for decimals")
	}
	return d, nil
}

func (g *ethGateway) GasPrice(ctx context.Context) (*big.Int, error) {
	price, err := g.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "gasPrice query failed")
	}
	return price, nil
}

func (g *ethGateway) ExecuteETHTransfer(ctx context.Context, contractAddr, from, to string, amountWei *big.Int, nonce [32]byte, deadline int64, sig []byte) (string, error) {
	opts, err := g.signer.transactOpts(ctx)
	if err != nil {
		return "", err
	}
	tx, err := g.bind(contractAddr).Transact(opts, "executeETHTransfer",
		common.HexToAddress(from), common.HexToAddress(to), amountWei, nonce, big.NewInt(deadline), sig)
	if err != nil {
		return "", classifySendError(err)
	}
	return tx.Hash().Hex(), nil
}

func (g *ethGateway) ExecuteERC20Transfer(ctx context.Context, contractAddr, token, from, to string, amountWei *big.Int, nonce [32]byte, deadline int64, sig []byte) (string, error) {
	opts, err := g.signer.transactOpts(ctx)
	if err != nil {
		return "", err
	}
	tx, err := g.bind(contractAddr).Transact(opts, "executeERC20Transfer",
		common.HexToAddress(token), common.HexToAddress(from), common.HexToAddress(to), amountWei, nonce, big.NewInt(deadline), sig)
	if err != nil {
		return "", classifySendError(err)
	}
	return tx.Hash().Hex(), nil
}

// receiptPollInterval controls how often AwaitReceipt re-polls for a
// mined transaction; it is re-constructed from a bare txHash so that
// crash recovery (we only persisted the hash, not the signed tx object)
// can await the same way a first-time submission does.
const receiptPollInterval = 2 * time.Second

func (g *ethGateway) AwaitReceipt(ctx context.Context, txHash string) (*Receipt, error) {
	hash := common.HexToHash(txHash)
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := g.client.TransactionReceipt(ctx, hash)
		if err == nil {
			return &Receipt{
				Success:         receipt.Status == gethtypes.ReceiptStatusSuccessful,
				BlockNumber:     receipt.BlockNumber.Uint64(),
				GasUsed:         receipt.GasUsed,
				TransactionHash: receipt.TxHash.Hex(),
			}, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, classifySendError(err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func asBigInt(v interface{}) (*big.Int, error) {
	b, ok := v.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected type %T, expected *big.Int", v)
	}
	return b, nil
}
