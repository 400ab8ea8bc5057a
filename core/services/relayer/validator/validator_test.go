package validator_test

import (
	"context"
	"errors"
	"math/big"
	"testing"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	null "gopkg.in/guregu/null.v4"

	gwmocks "github.com/aionpay/relayer/core/chains/evm/gateway/mocks"
	evmsigner "github.com/aionpay/relayer/core/chains/evm/signer"
	"github.com/aionpay/relayer/core/config"
	"github.com/aionpay/relayer/core/logger"
	"github.com/aionpay/relayer/core/services/relayer/types"
	"github.com/aionpay/relayer/core/services/relayer/validator"
)

// testNonceBytes is the 32-byte decoding of the hex nonce literal used by
// signedTransfer, so a test's own digest computation matches what
// checkSignature recomputes from the string form.
var testNonceBytes = [32]byte{31: 1}

func testConfig() *config.Config {
	return &config.Config{
		DomainName:    "AION",
		DomainVersion: "1",
	}
}

func signedTransfer(t *testing.T, amount string, deadline int64) (*types.SignedTransfer, func(contractAddr string, chainID *big.Int) []byte) {
	key, err := gethcrypto.GenerateKey()
	require.NoError(t, err)
	from := gethcrypto.PubkeyToAddress(key.PublicKey).Hex()

	st := &types.SignedTransfer{
		Nonce:           "0x0000000000000000000000000000000000000000000000000000000000000001",
		From:            from,
		To:              "0x0000000000000000000000000000000000000002",
		Amount:          amount,
		Deadline:        deadline,
		ContractAddress: "0x0000000000000000000000000000000000000003",
	}

	sign := func(contractAddr string, chainID *big.Int) []byte {
		domain := evmsigner.Domain{Name: "AION", Version: "1", ChainID: chainID, VerifyingContract: contractAddr}
		amt, _ := new(big.Int).SetString("1000000000000000000", 10)
		digest := evmsigner.DigestETHTransfer(domain, evmsigner.ETHTransferMessage{
			From: st.From, To: st.To, Amount: amt, Nonce: testNonceBytes, Deadline: st.Deadline,
		})
		sig, err := gethcrypto.Sign(digest, key)
		require.NoError(t, err)
		return sig
	}
	return st, sign
}

func newValidatorWithGateway(gw *gwmocks.Gateway, lookup validator.NonceLookup) *validator.Validator {
	return validator.New(gw, testConfig(), lookup, logger.TestLogger())
}

func TestValidate_HappyPath(t *testing.T) {
	gw := new(gwmocks.Gateway)
	chainID := big.NewInt(1)
	st, sign := signedTransfer(t, "1", 9999999999)
	st.Signature = sign(st.ContractAddress, chainID)

	gw.On("ChainID", mock.Anything, mock.Anything).Return(chainID, nil)
	gw.On("UsedNonce", mock.Anything, st.ContractAddress, mock.Anything).Return(false, nil)
	gw.On("LockedFundsETH", mock.Anything, st.ContractAddress, st.From).Return(big.NewInt(5_000_000_000_000_000_000), nil)
	gw.On("WithdrawTimestamp", mock.Anything, st.ContractAddress, st.From).Return(big.NewInt(0), nil)

	lookup := func(ctx context.Context, nonce string, excludeID int64) (bool, error) { return false, nil }
	vd := newValidatorWithGateway(gw, lookup)

	v := vd.Validate(context.Background(), st, 0)
	require.True(t, v.OK(), "%+v", v.Errors)
	gw.AssertExpectations(t)
}

func TestValidate_ExpiredDeadlineIsPermanent(t *testing.T) {
	gw := new(gwmocks.Gateway)
	chainID := big.NewInt(1)
	st, sign := signedTransfer(t, "1", 1)
	st.Signature = sign(st.ContractAddress, chainID)

	gw.On("ChainID", mock.Anything, mock.Anything).Return(chainID, nil)
	gw.On("UsedNonce", mock.Anything, mock.Anything, mock.Anything).Return(false, nil)
	gw.On("LockedFundsETH", mock.Anything, mock.Anything, mock.Anything).Return(big.NewInt(5_000_000_000_000_000_000), nil)
	gw.On("WithdrawTimestamp", mock.Anything, mock.Anything, mock.Anything).Return(big.NewInt(0), nil)

	lookup := func(ctx context.Context, nonce string, excludeID int64) (bool, error) { return false, nil }
	vd := newValidatorWithGateway(gw, lookup)

	v := vd.Validate(context.Background(), st, 0)
	require.False(t, v.OK())
	require.False(t, v.DeadlineValid)

	permanent, reason := validator.ClassifyValidationError(v)
	require.True(t, permanent)
	require.Contains(t, reason, "expired")
}

func TestValidate_NonceReusedInStoreIsPermanent(t *testing.T) {
	gw := new(gwmocks.Gateway)
	chainID := big.NewInt(1)
	st, sign := signedTransfer(t, "1", 9999999999)
	st.Signature = sign(st.ContractAddress, chainID)

	gw.On("ChainID", mock.Anything, mock.Anything).Return(chainID, nil)
	gw.On("LockedFundsETH", mock.Anything, mock.Anything, mock.Anything).Return(big.NewInt(5_000_000_000_000_000_000), nil)
	gw.On("WithdrawTimestamp", mock.Anything, mock.Anything, mock.Anything).Return(big.NewInt(0), nil)

	lookup := func(ctx context.Context, nonce string, excludeID int64) (bool, error) { return true, nil }
	vd := newValidatorWithGateway(gw, lookup)

	v := vd.Validate(context.Background(), st, 0)
	require.False(t, v.NonceUnused)
	permanent, _ := validator.ClassifyValidationError(v)
	require.True(t, permanent)
}

func TestValidate_InsufficientFundsIsRetryable(t *testing.T) {
	gw := new(gwmocks.Gateway)
	chainID := big.NewInt(1)
	st, sign := signedTransfer(t, "1", 9999999999)
	st.Signature = sign(st.ContractAddress, chainID)

	gw.On("ChainID", mock.Anything, mock.Anything).Return(chainID, nil)
	gw.On("UsedNonce", mock.Anything, mock.Anything, mock.Anything).Return(false, nil)
	gw.On("LockedFundsETH", mock.Anything, mock.Anything, mock.Anything).Return(big.NewInt(1), nil)
	gw.On("WithdrawTimestamp", mock.Anything, mock.Anything, mock.Anything).Return(big.NewInt(0), nil)

	lookup := func(ctx context.Context, nonce string, excludeID int64) (bool, error) { return false, nil }
	vd := newValidatorWithGateway(gw, lookup)

	v := vd.Validate(context.Background(), st, 0)
	require.False(t, v.SenderHasFunds)
	permanent, reason := validator.ClassifyValidationError(v)
	require.False(t, permanent)
	require.Contains(t, reason, "less than")
}

func TestValidate_WrongSignerFailsSignature(t *testing.T) {
	gw := new(gwmocks.Gateway)
	chainID := big.NewInt(1)
	st, _ := signedTransfer(t, "1", 9999999999)

	otherKey, err := gethcrypto.GenerateKey()
	require.NoError(t, err)
	domain := evmsigner.Domain{Name: "AION", Version: "1", ChainID: chainID, VerifyingContract: st.ContractAddress}
	amt, _ := new(big.Int).SetString("1000000000000000000", 10)
	digest := evmsigner.DigestETHTransfer(domain, evmsigner.ETHTransferMessage{
		From: st.From, To: st.To, Amount: amt, Nonce: testNonceBytes, Deadline: st.Deadline,
	})
	sig, err := gethcrypto.Sign(digest, otherKey)
	require.NoError(t, err)
	st.Signature = sig

	gw.On("ChainID", mock.Anything, mock.Anything).Return(chainID, nil)
	gw.On("UsedNonce", mock.Anything, mock.Anything, mock.Anything).Return(false, nil)
	gw.On("LockedFundsETH", mock.Anything, mock.Anything, mock.Anything).Return(big.NewInt(5_000_000_000_000_000_000), nil)
	gw.On("WithdrawTimestamp", mock.Anything, mock.Anything, mock.Anything).Return(big.NewInt(0), nil)

	lookup := func(ctx context.Context, nonce string, excludeID int64) (bool, error) { return false, nil }
	vd := newValidatorWithGateway(gw, lookup)

	v := vd.Validate(context.Background(), st, 0)
	require.False(t, v.SignatureValid)
	require.True(t, v.Permanent)
}

// signedTokenTransfer builds an ERC20 transfer candidate alongside a
// closure that signs the EIP-712 digest using amountWei, letting each test
// choose the decimals-scaled wei value it expects the validator to derive.
func signedTokenTransfer(t *testing.T, amount string) (*types.SignedTransfer, func(contractAddr string, chainID *big.Int, amountWei *big.Int) []byte) {
	key, err := gethcrypto.GenerateKey()
	require.NoError(t, err)
	from := gethcrypto.PubkeyToAddress(key.PublicKey).Hex()

	st := &types.SignedTransfer{
		Nonce:           "0x0000000000000000000000000000000000000000000000000000000000000001",
		From:            from,
		To:              "0x0000000000000000000000000000000000000002",
		Amount:          amount,
		Deadline:        9999999999,
		ContractAddress: "0x0000000000000000000000000000000000000003",
		TokenAddress:    null.StringFrom("0x0000000000000000000000000000000000000004"),
	}

	sign := func(contractAddr string, chainID *big.Int, amountWei *big.Int) []byte {
		domain := evmsigner.Domain{Name: "AION", Version: "1", ChainID: chainID, VerifyingContract: contractAddr}
		digest := evmsigner.DigestERC20Transfer(domain, evmsigner.ERC20TransferMessage{
			Token: st.TokenAddress.String, From: st.From, To: st.To, Amount: amountWei, Nonce: testNonceBytes, Deadline: st.Deadline,
		})
		sig, err := gethcrypto.Sign(digest, key)
		require.NoError(t, err)
		return sig
	}
	return st, sign
}

func TestValidate_ERC20UsesTokenDecimalsNotEighteen(t *testing.T) {
	gw := new(gwmocks.Gateway)
	chainID := big.NewInt(1)

	// 1.5 units of a 6-decimal token (USDC-like) is 1_500_000 smallest
	// units, not the 1.5e18 a native-asset assumption would produce.
	st, sign := signedTokenTransfer(t, "1.5")
	amountWei, ok := new(big.Int).SetString("1500000", 10)
	require.True(t, ok)
	st.Signature = sign(st.ContractAddress, chainID, amountWei)

	gw.On("ChainID", mock.Anything, mock.Anything).Return(chainID, nil)
	gw.On("TokenDecimals", mock.Anything, st.TokenAddress.String).Return(uint8(6), nil)
	gw.On("UsedNonce", mock.Anything, mock.Anything, mock.Anything).Return(false, nil)
	gw.On("LockedFundsERC20", mock.Anything, st.ContractAddress, st.TokenAddress.String, st.From).Return(big.NewInt(2_000_000), nil)
	gw.On("WithdrawTimestamp", mock.Anything, mock.Anything, mock.Anything).Return(big.NewInt(0), nil)

	lookup := func(ctx context.Context, nonce string, excludeID int64) (bool, error) { return false, nil }
	vd := newValidatorWithGateway(gw, lookup)

	v := vd.Validate(context.Background(), st, 0)
	require.True(t, v.OK(), "%+v", v.Errors)
	require.Equal(t, "1500000", v.AmountWei.String())
	gw.AssertExpectations(t)
}

func TestValidate_TokenDecimalsQueryFailureIsRetryable(t *testing.T) {
	gw := new(gwmocks.Gateway)
	chainID := big.NewInt(1)

	st, sign := signedTokenTransfer(t, "1.5")
	st.Signature = sign(st.ContractAddress, chainID, big.NewInt(0))

	gw.On("ChainID", mock.Anything, mock.Anything).Return(chainID, nil)
	gw.On("TokenDecimals", mock.Anything, st.TokenAddress.String).Return(uint8(0), errors.New("rpc timeout"))
	gw.On("UsedNonce", mock.Anything, mock.Anything, mock.Anything).Return(false, nil)
	gw.On("LockedFundsERC20", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(big.NewInt(2_000_000), nil)
	gw.On("WithdrawTimestamp", mock.Anything, mock.Anything, mock.Anything).Return(big.NewInt(0), nil)

	lookup := func(ctx context.Context, nonce string, excludeID int64) (bool, error) { return false, nil }
	vd := newValidatorWithGateway(gw, lookup)

	v := vd.Validate(context.Background(), st, 0)
	require.False(t, v.OK())
	require.False(t, v.DecimalsResolved)

	permanent, reason := validator.ClassifyValidationError(v)
	require.False(t, permanent, "a decimals RPC failure must be retryable, not permanent")
	require.Contains(t, reason, "decimals query failed")
}

func TestValidate_GracePeriodLockoutIsPermanent(t *testing.T) {
	gw := new(gwmocks.Gateway)
	chainID := big.NewInt(1)
	st, sign := signedTransfer(t, "1", 9999999999)
	st.Signature = sign(st.ContractAddress, chainID)

	gw.On("ChainID", mock.Anything, mock.Anything).Return(chainID, nil)
	gw.On("UsedNonce", mock.Anything, mock.Anything, mock.Anything).Return(false, nil)
	gw.On("LockedFundsETH", mock.Anything, mock.Anything, mock.Anything).Return(big.NewInt(5_000_000_000_000_000_000), nil)
	gw.On("WithdrawTimestamp", mock.Anything, mock.Anything, mock.Anything).Return(big.NewInt(1), nil)

	lookup := func(ctx context.Context, nonce string, excludeID int64) (bool, error) { return false, nil }
	vd := newValidatorWithGateway(gw, lookup)

	v := vd.Validate(context.Background(), st, 0)
	require.False(t, v.GracePeriodActive)
	permanent, _ := validator.ClassifyValidationError(v)
	require.True(t, permanent)
}
