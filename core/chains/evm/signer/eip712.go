// Package signer implements EIP-712 typed-data domain separation, struct
// hashing, and signature recovery for the two authorization shapes this
// relayer accepts (spec.md §4.1 check 3). The example pack carries no
// go-ethereum signer/core/apitypes package, so the domain/struct hashes
// are built by hand from go-ethereum's crypto primitives (crypto.Keccak256,
// crypto.SigToPub, crypto.PubkeyToAddress) the same low-level way
// DanDo385-solidity-edu's geth-03-keys-addresses exercise derives
// addresses from keys.
package signer

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// Domain is the EIP-712 domain separator input (spec.md §4.1 check 3).
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract string
}

var (
	domainTypeHash = crypto.Keccak256([]byte(
		"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))

	ethTransferTypeHash = crypto.Keccak256([]byte(
		"ETHTransfer(address from,address to,uint256 amount,bytes32 nonce,uint256 deadline)"))

	erc20TransferTypeHash = crypto.Keccak256([]byte(
		"ERC20Transfer(address token,address from,address to,uint256 amount,bytes32 nonce,uint256 deadline)"))
)

func (d Domain) hash() []byte {
	return crypto.Keccak256(
		domainTypeHash,
		leftPad32(crypto.Keccak256([]byte(d.Name))),
		leftPad32(crypto.Keccak256([]byte(d.Version))),
		leftPad32(d.ChainID.Bytes()),
		leftPad32(common.HexToAddress(d.VerifyingContract).Bytes()),
	)
}

// ETHTransferMessage is the typed struct for a native-asset transfer
// authorization (spec.md §4.1 check 3, native branch).
type ETHTransferMessage struct {
	From     string
	To       string
	Amount   *big.Int
	Nonce    [32]byte
	Deadline int64
}

func (m ETHTransferMessage) structHash() []byte {
	return crypto.Keccak256(
		ethTransferTypeHash,
		leftPad32(common.HexToAddress(m.From).Bytes()),
		leftPad32(common.HexToAddress(m.To).Bytes()),
		leftPad32(m.Amount.Bytes()),
		m.Nonce[:],
		leftPad32(big.NewInt(m.Deadline).Bytes()),
	)
}

// ERC20TransferMessage is the typed struct for an ERC20 transfer
// authorization (spec.md §4.1 check 3, token branch).
type ERC20TransferMessage struct {
	Token    string
	From     string
	To       string
	Amount   *big.Int
	Nonce    [32]byte
	Deadline int64
}

func (m ERC20TransferMessage) structHash() []byte {
	return crypto.Keccak256(
		erc20TransferTypeHash,
		leftPad32(common.HexToAddress(m.Token).Bytes()),
		leftPad32(common.HexToAddress(m.From).Bytes()),
		leftPad32(common.HexToAddress(m.To).Bytes()),
		leftPad32(m.Amount.Bytes()),
		m.Nonce[:],
		leftPad32(big.NewInt(m.Deadline).Bytes()),
	)
}

type structHasher interface {
	structHash() []byte
}

// DigestETHTransfer returns the final EIP-712 digest ("\x19\x01" ||
// domainSeparator || structHash) for a native transfer.
func DigestETHTransfer(domain Domain, msg ETHTransferMessage) []byte {
	return digest(domain, msg)
}

// DigestERC20Transfer returns the final EIP-712 digest for an ERC20
// transfer.
func DigestERC20Transfer(domain Domain, msg ERC20TransferMessage) []byte {
	return digest(domain, msg)
}

func digest(domain Domain, msg structHasher) []byte {
	return crypto.Keccak256(
		[]byte{0x19, 0x01},
		domain.hash(),
		msg.structHash(),
	)
}

// RecoverSigner recovers the signer address from digest and a 65-byte
// [R || S || V] signature, returning a lowercased hex address for
// case-insensitive comparison against the claimed `from` (spec.md §4.1
// check 3: "Recover the signer and compare case-insensitively to from").
func RecoverSigner(digest []byte, signature []byte) (string, error) {
	if len(signature) != 65 {
		return "", errors.Errorf("signature must be 65 bytes, got %d", len(signature))
	}
	sig := make([]byte, 65)
	copy(sig, signature)
	// go-ethereum's crypto.Ecrecover/SigToPub expect V in {0,1}; accept the
	// conventional {27,28} encoding too.
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return "", errors.Wrap(err, "signature recovery failed")
	}
	addr := crypto.PubkeyToAddress(*pub)
	return strings.ToLower(addr.Hex()), nil
}

func leftPad32(b []byte) []byte {
	if len(b) >= 32 {
		return b[len(b)-32:]
	}
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}
