// Code generated by mockery-style hand adaptation for this package. DO NOT
// rely on automatic regeneration; edit directly, following chainlink's own
// mocks convention of one Mock type per interface, testify/mock backed.
package mocks

import (
	"context"
	"math/big"

	"github.com/stretchr/testify/mock"

	"github.com/aionpay/relayer/core/chains/evm/gateway"
)

// Gateway is a testify mock of gateway.Gateway.
type Gateway struct {
	mock.Mock
}

func (m *Gateway) ChainID(ctx context.Context, fallback *big.Int) (*big.Int, error) {
	args := m.Called(ctx, fallback)
	id, _ := args.Get(0).(*big.Int)
	return id, args.Error(1)
}

func (m *Gateway) UsedNonce(ctx context.Context, contractAddr string, nonce [32]byte) (bool, error) {
	args := m.Called(ctx, contractAddr, nonce)
	return args.Bool(0), args.Error(1)
}

func (m *Gateway) LockedFundsETH(ctx context.Context, contractAddr, owner string) (*big.Int, error) {
	args := m.Called(ctx, contractAddr, owner)
	v, _ := args.Get(0).(*big.Int)
	return v, args.Error(1)
}

func (m *Gateway) LockedFundsERC20(ctx context.Context, contractAddr, token, owner string) (*big.Int, error) {
	args := m.Called(ctx, contractAddr, token, owner)
	v, _ := args.Get(0).(*big.Int)
	return v, args.Error(1)
}

func (m *Gateway) WithdrawTimestamp(ctx context.Context, contractAddr, owner string) (*big.Int, error) {
	args := m.Called(ctx, contractAddr, owner)
	v, _ := args.Get(0).(*big.Int)
	return v, args.Error(1)
}

func (m *Gateway) TokenDecimals(ctx context.Context, tokenAddr string) (uint8, error) {
	args := m.Called(ctx, tokenAddr)
	d, _ := args.Get(0).(uint8)
	return d, args.Error(1)
}

func (m *Gateway) GasPrice(ctx context.Context) (*big.Int, error) {
	args := m.Called(ctx)
	v, _ := args.Get(0).(*big.Int)
	return v, args.Error(1)
}

func (m *Gateway) ExecuteETHTransfer(ctx context.Context, contractAddr, from, to string, amountWei *big.Int, nonce [32]byte, deadline int64, sig []byte) (string, error) {
	args := m.Called(ctx, contractAddr, from, to, amountWei, nonce, deadline, sig)
	return args.String(0), args.Error(1)
}

func (m *Gateway) ExecuteERC20Transfer(ctx context.Context, contractAddr, token, from, to string, amountWei *big.Int, nonce [32]byte, deadline int64, sig []byte) (string, error) {
	args := m.Called(ctx, contractAddr, token, from, to, amountWei, nonce, deadline, sig)
	return args.String(0), args.Error(1)
}

func (m *Gateway) AwaitReceipt(ctx context.Context, txHash string) (*gateway.Receipt, error) {
	args := m.Called(ctx, txHash)
	r, _ := args.Get(0).(*gateway.Receipt)
	return r, args.Error(1)
}

var _ gateway.Gateway = (*Gateway)(nil)
