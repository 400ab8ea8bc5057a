package gateway

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/crypto"
)

// ecdsaSigner wraps the gas-payer key the Gateway uses to authorize
// (and pay gas for) submission transactions — distinct from the user's
// key, which only produced the EIP-712 authorization (spec.md §4.6).
type ecdsaSigner struct {
	key    *ecdsa.PrivateKey
	client chainIDFetcher
}

type chainIDFetcher interface {
	ChainID(ctx context.Context) (*big.Int, error)
}

func newECDSASigner(key *ecdsa.PrivateKey, client chainIDFetcher) *ecdsaSigner {
	return &ecdsaSigner{key: key, client: client}
}

func (s *ecdsaSigner) transactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	chainID, err := s.client.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	opts, err := bind.NewKeyedTransactorWithChainID(s.key, chainID)
	if err != nil {
		return nil, err
	}
	opts.Context = ctx
	return opts, nil
}

// Address returns the address that pays gas for submissions.
func (s *ecdsaSigner) Address() string {
	return crypto.PubkeyToAddress(s.key.PublicKey).Hex()
}

// classifySendError normalizes go-ethereum RPC errors into the
// substring-matched vocabulary the executor's ClassifyExecutionError
// looks for (spec.md §4.5 step 10, §9's Design Note on substring
// classification as a pragmatic bridge). It does not decide
// retryable-vs-permanent itself — that stays a single well-named
// function in the relayertxm package — it only ensures the error text
// surfaces the substrings consistently regardless of the underlying RPC
// client's exact wording.
func classifySendError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "nonce too low"):
		return wrapKnown(err, "nonce too low")
	case strings.Contains(msg, "replacement transaction underpriced"):
		return wrapKnown(err, "replacement transaction underpriced")
	case strings.Contains(msg, "insufficient funds"):
		return wrapKnown(err, "insufficient funds for gas")
	case strings.Contains(msg, "i/o timeout"), strings.Contains(msg, "network"):
		return wrapKnown(err, "network error")
	case strings.Contains(msg, "timeout"):
		return wrapKnown(err, "timeout")
	case strings.Contains(msg, "connection refused"):
		return wrapKnown(err, "connection refused")
	default:
		return err
	}
}

func wrapKnown(err error, substring string) error {
	if strings.Contains(strings.ToLower(err.Error()), substring) {
		return err
	}
	return &classifiedError{cause: err, substring: substring}
}

type classifiedError struct {
	cause     error
	substring string
}

func (e *classifiedError) Error() string {
	return e.substring + ": " + e.cause.Error()
}

func (e *classifiedError) Unwrap() error {
	return e.cause
}
