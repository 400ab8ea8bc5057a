package signer_test

import (
	"math/big"
	"testing"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/aionpay/relayer/core/chains/evm/signer"
)

func testDomain() signer.Domain {
	return signer.Domain{
		Name:              "AION",
		Version:           "1",
		ChainID:           big.NewInt(1337),
		VerifyingContract: "0x00000000000000000000000000000000000001",
	}
}

func TestDigestETHTransfer_RecoversSigner(t *testing.T) {
	key, err := gethcrypto.GenerateKey()
	require.NoError(t, err)
	from := gethcrypto.PubkeyToAddress(key.PublicKey).Hex()

	msg := signer.ETHTransferMessage{
		From:     from,
		To:       "0x00000000000000000000000000000000000002",
		Amount:   big.NewInt(1_000_000_000_000_000_000),
		Nonce:    [32]byte{1},
		Deadline: 9999999999,
	}

	digest := signer.DigestETHTransfer(testDomain(), msg)
	sig, err := gethcrypto.Sign(digest, key)
	require.NoError(t, err)

	recovered, err := signer.RecoverSigner(digest, sig)
	require.NoError(t, err)
	require.Equal(t, from, recovered)
}

func TestDigestERC20Transfer_DiffersFromETHTransfer(t *testing.T) {
	domain := testDomain()
	ethMsg := signer.ETHTransferMessage{
		From: "0x00000000000000000000000000000000000003", To: "0x00000000000000000000000000000000000004",
		Amount: big.NewInt(1), Nonce: [32]byte{9}, Deadline: 1,
	}
	tokenMsg := signer.ERC20TransferMessage{
		Token: "0x00000000000000000000000000000000000005",
		From:  "0x00000000000000000000000000000000000003", To: "0x00000000000000000000000000000000000004",
		Amount: big.NewInt(1), Nonce: [32]byte{9}, Deadline: 1,
	}

	require.NotEqual(t, signer.DigestETHTransfer(domain, ethMsg), signer.DigestERC20Transfer(domain, tokenMsg))
}

func TestRecoverSigner_RejectsWrongLengthSignature(t *testing.T) {
	_, err := signer.RecoverSigner(make([]byte, 32), make([]byte, 10))
	require.Error(t, err)
}

func TestRecoverSigner_AcceptsLegacyRecoveryID(t *testing.T) {
	key, err := gethcrypto.GenerateKey()
	require.NoError(t, err)
	from := gethcrypto.PubkeyToAddress(key.PublicKey).Hex()

	digest := signer.DigestETHTransfer(testDomain(), signer.ETHTransferMessage{
		From: from, To: "0x00000000000000000000000000000000000002",
		Amount: big.NewInt(1), Nonce: [32]byte{2}, Deadline: 1,
	})
	sig, err := gethcrypto.Sign(digest, key)
	require.NoError(t, err)

	legacy := make([]byte, 65)
	copy(legacy, sig)
	legacy[64] += 27

	recovered, err := signer.RecoverSigner(digest, legacy)
	require.NoError(t, err)
	require.Equal(t, from, recovered)
}
