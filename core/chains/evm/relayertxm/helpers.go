package relayertxm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/aionpay/relayer/core/chains/evm/gateway"
	"github.com/aionpay/relayer/core/services/relayer/types"
	"github.com/aionpay/relayer/core/services/relayer/validator"
)

var errNotAnInteger = errors.New("amount did not convert to an integer wei value")

// isRaceRecovery reports whether v's only failing flag is nonceUnused, the
// nonce was rejected specifically because it is already consumed on-chain
// (not a store-side duplicate), and t already carries a persisted txHash
// and blockNumber — i.e. this row's own prior submission is what the
// on-chain check is seeing (spec.md §4.5 step 4).
func (ex *Executor) isRaceRecovery(t *types.SignedTransfer, v validator.Verdict) bool {
	if !t.TxHash.Valid || !t.BlockNumber.Valid {
		return false
	}
	if len(v.Errors) != 1 {
		return false
	}
	reason, ok := v.Errors["nonceUnused"]
	if !ok {
		return false
	}
	return strings.Contains(reason, "consumed on-chain")
}

// nonceBytesFromHex decodes a 32-byte hex nonce, matching the same
// encoding the Validator accepts (core/services/relayer/validator).
func nonceBytesFromHex(nonce string) ([32]byte, error) {
	var out [32]byte
	clean := strings.TrimPrefix(nonce, "0x")
	if len(clean) == 64 {
		b, err := hex.DecodeString(clean)
		if err != nil {
			return out, err
		}
		copy(out[:], b)
		return out, nil
	}
	sum := sha256.Sum256([]byte(nonce))
	return sum, nil
}

// resolveDecimals reports the smallest-unit scale for t: 18 for a
// native-asset transfer, the token's own on-chain decimals() for an
// ERC20 transfer (spec.md §4.6 "Do not assume 18 decimals for ERC20").
func (ex *Executor) resolveDecimals(ctx context.Context, t *types.SignedTransfer) (uint8, error) {
	if !t.IsToken() {
		return gateway.NativeDecimals, nil
	}
	return ex.gw.TokenDecimals(ctx, t.TokenAddress.String)
}

// amountToWei converts a whole-unit decimal-string amount (already shape-
// validated by the Validator) to its smallest-unit big.Int representation,
// scaling by decimals (spec.md §3 "amount: decimal-string... in whole
// units").
func amountToWei(amount string, decimals uint8) (*big.Int, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, err
	}
	if !d.IsPositive() {
		return nil, errNotAnInteger
	}
	return d.Shift(int32(decimals)).BigInt(), nil
}

func jsonMarshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}
