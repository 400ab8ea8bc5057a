// Package validator implements the six-flag verdict contract of spec.md
// §4.1: signature recovery, deadline, amount and nonce shape checks plus
// oracle-backed nonce/balance/lockout queries against the Chain Gateway.
// It mirrors chainlink's approach of keeping validation a pure function of
// its inputs (see eth_broadcaster.go's re-validation before broadcast) so
// the same contract serves both first-pass ingest and the executor's
// re-validation before submission.
package validator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aionpay/relayer/core/chains/evm/gateway"
	evmsigner "github.com/aionpay/relayer/core/chains/evm/signer"
	"github.com/aionpay/relayer/core/config"
	"github.com/aionpay/relayer/core/logger"
	"github.com/aionpay/relayer/core/services/relayer/types"
)

// NonceLookup is the store-side half of the dual-source nonce uniqueness
// check (spec.md §4.1 check 4a). It must return false, nil when no other
// row holds nonce.
type NonceLookup func(ctx context.Context, nonce string, excludeTransferID int64) (bool, error)

// Verdict is the six-flag validation result (spec.md §4.1), plus
// DecimalsResolved for the ERC20 decimals lookup the amount scaling needs.
type Verdict struct {
	SignatureValid    bool
	DeadlineValid     bool
	NonceUnused       bool
	SenderHasFunds    bool
	GracePeriodActive bool
	AmountValid       bool
	// DecimalsResolved is false when the ERC20 decimals() RPC call needed
	// to scale the amount to wei failed; unlike AmountValid (a malformed
	// or non-positive amount, which can never become valid) this is a
	// transient infrastructure failure, classified as retryable. When it
	// is false the signature and funds checks are not run, and
	// SignatureValid and SenderHasFunds stay false without an Errors entry.
	DecimalsResolved bool

	// Errors holds one distinct string per failing flag, keyed by flag
	// name, so callers can classify permanent vs. retryable (spec.md
	// §4.1 "Failure classification").
	Errors map[string]string

	// AmountWei is the amount scaled to smallest-unit wei (18 decimals
	// for native, the token's own decimals() for ERC20), populated
	// regardless of AmountValid so callers always have a value to log;
	// callers needing the *big.Int form call AmountWei.BigInt().
	AmountWei decimal.Decimal

	// Permanent is true when at least one failing flag falls in the
	// permanent-failure category (deadline expired, signature invalid,
	// nonce consumed on-chain, lockout active) rather than the
	// retryable/transient-infrastructure category.
	Permanent bool
}

// OK reports whether every flag holds.
func (v Verdict) OK() bool {
	return v.SignatureValid && v.DeadlineValid && v.NonceUnused &&
		v.SenderHasFunds && v.GracePeriodActive && v.AmountValid && v.DecimalsResolved
}

// Validator validates SignedTransfer candidates against cryptographic and
// on-chain rules (spec.md §4.1).
type Validator struct {
	lggr   logger.Logger
	gw     gateway.Gateway
	cfg    *config.Config
	lookup NonceLookup
}

// New constructs a Validator. lookup supplies the store-side nonce
// uniqueness check; the Chain Gateway supplies everything on-chain.
func New(gw gateway.Gateway, cfg *config.Config, lookup NonceLookup, lggr logger.Logger) *Validator {
	return &Validator{
		lggr:   lggr.Named("Validator"),
		gw:     gw,
		cfg:    cfg,
		lookup: lookup,
	}
}

// Validate runs all six checks for t, excluding transferID from the
// store-side nonce uniqueness scan (0 when t has not yet been persisted).
// The signature and funds checks are skipped when the token decimals
// lookup fails.
func (vd *Validator) Validate(ctx context.Context, t *types.SignedTransfer, excludeTransferID int64) Verdict {
	v := Verdict{Errors: make(map[string]string)}

	amountOK, parsed := vd.checkAmount(t.Amount, &v)
	v.AmountValid = amountOK
	v.DeadlineValid = vd.checkDeadline(t.Deadline, &v)

	decimals, err := vd.resolveDecimals(ctx, t)
	if err != nil {
		v.Errors["decimalsResolved"] = "token decimals query failed: " + err.Error()
		v.DecimalsResolved = false
		decimals = gateway.NativeDecimals
	} else {
		v.DecimalsResolved = true
	}
	v.AmountWei = parsed.Shift(int32(decimals))

	chainID, err := vd.gw.ChainID(ctx, vd.cfg.ChainID())
	if err != nil {
		// New's contract only ever returns fallback, nil on RPC failure,
		// but guard anyway so a future Gateway implementation can't
		// silently break this invariant.
		chainID = vd.cfg.ChainID()
	}

	amountWei := v.AmountWei.BigInt()
	if v.DecimalsResolved {
		// both checks depend on the correctly scaled amount
		v.SignatureValid = vd.checkSignature(t, chainID, amountWei, &v)
		v.SenderHasFunds = vd.checkFunds(ctx, t, amountWei, &v)
	}
	v.NonceUnused = vd.checkNonceUnused(ctx, t, excludeTransferID, &v)
	v.GracePeriodActive = vd.checkGracePeriod(ctx, t, &v)

	return v
}

// resolveDecimals reports the smallest-unit scale for t: 18 for a
// native-asset transfer, the token's own on-chain decimals() for an
// ERC20 transfer (spec.md §4.6 "Do not assume 18 decimals for ERC20").
func (vd *Validator) resolveDecimals(ctx context.Context, t *types.SignedTransfer) (uint8, error) {
	if !t.IsToken() {
		return gateway.NativeDecimals, nil
	}
	return vd.gw.TokenDecimals(ctx, t.TokenAddress.String)
}

func (vd *Validator) checkAmount(amount string, v *Verdict) (bool, decimal.Decimal) {
	parsed, err := decimal.NewFromString(amount)
	if err != nil {
		v.Errors["amountValid"] = "amount is not a valid decimal quantity"
		v.Permanent = true
		return false, decimal.Zero
	}
	if !parsed.IsPositive() {
		v.Errors["amountValid"] = "amount must be positive"
		v.Permanent = true
		return false, decimal.Zero
	}
	return true, parsed
}

func (vd *Validator) checkDeadline(deadline int64, v *Verdict) bool {
	if time.Now().Unix() > deadline {
		v.Errors["deadlineValid"] = "deadline has expired"
		v.Permanent = true
		return false
	}
	return true
}

func (vd *Validator) checkSignature(t *types.SignedTransfer, chainID, amountWei *big.Int, v *Verdict) bool {
	nonce, err := nonceBytes(t.Nonce)
	if err != nil {
		v.Errors["signatureValid"] = "malformed nonce: " + err.Error()
		v.Permanent = true
		return false
	}

	domain := evmsigner.Domain{
		Name:              vd.cfg.DomainName,
		Version:           vd.cfg.DomainVersion,
		ChainID:           chainID,
		VerifyingContract: t.ContractAddress,
	}

	var digest []byte
	if t.IsToken() {
		digest = evmsigner.DigestERC20Transfer(domain, evmsigner.ERC20TransferMessage{
			Token:    t.TokenAddress.String,
			From:     t.From,
			To:       t.To,
			Amount:   amountWei,
			Nonce:    nonce,
			Deadline: t.Deadline,
		})
	} else {
		digest = evmsigner.DigestETHTransfer(domain, evmsigner.ETHTransferMessage{
			From:     t.From,
			To:       t.To,
			Amount:   amountWei,
			Nonce:    nonce,
			Deadline: t.Deadline,
		})
	}

	signer, err := evmsigner.RecoverSigner(digest, t.Signature)
	if err != nil {
		v.Errors["signatureValid"] = "signature recovery failed: " + err.Error()
		v.Permanent = true
		return false
	}
	if !strings.EqualFold(signer, t.From) {
		v.Errors["signatureValid"] = "recovered signer does not match claimed sender"
		v.Permanent = true
		return false
	}
	return true
}

func (vd *Validator) checkNonceUnused(ctx context.Context, t *types.SignedTransfer, excludeTransferID int64, v *Verdict) bool {
	usedInStore, err := vd.lookup(ctx, t.Nonce, excludeTransferID)
	if err != nil {
		v.Errors["nonceUnused"] = "nonce lookup failed: " + err.Error()
		return false
	}
	if usedInStore {
		v.Errors["nonceUnused"] = "nonce already used by another transfer"
		v.Permanent = true
		return false
	}

	nonce, err := nonceBytes(t.Nonce)
	if err != nil {
		v.Errors["nonceUnused"] = "malformed nonce: " + err.Error()
		v.Permanent = true
		return false
	}
	usedOnChain, err := vd.gw.UsedNonce(ctx, t.ContractAddress, nonce)
	if err != nil {
		v.Errors["nonceUnused"] = "on-chain nonce query failed: " + err.Error()
		return false
	}
	if usedOnChain {
		v.Errors["nonceUnused"] = "nonce already consumed on-chain"
		v.Permanent = true
		return false
	}
	return true
}

func (vd *Validator) checkFunds(ctx context.Context, t *types.SignedTransfer, amountWei *big.Int, v *Verdict) bool {
	var locked *big.Int
	var err error
	if t.IsToken() {
		locked, err = vd.gw.LockedFundsERC20(ctx, t.ContractAddress, t.TokenAddress.String, t.From)
	} else {
		locked, err = vd.gw.LockedFundsETH(ctx, t.ContractAddress, t.From)
	}
	if err != nil {
		v.Errors["senderHasFunds"] = "locked balance query failed: " + err.Error()
		return false
	}

	if locked.Cmp(amountWei) < 0 {
		v.Errors["senderHasFunds"] = "locked balance is less than the transfer amount"
		return false
	}
	return true
}

// checkGracePeriod implements spec.md §4.1 check 6: a zero withdrawal
// timestamp means no withdrawal is in progress (inactive lockout, transfer
// allowed); a nonzero timestamp older than config.GracePeriod means the
// lockout has kicked in and the transfer must be refused.
func (vd *Validator) checkGracePeriod(ctx context.Context, t *types.SignedTransfer, v *Verdict) bool {
	ts, err := vd.gw.WithdrawTimestamp(ctx, t.ContractAddress, t.From)
	if err != nil {
		v.Errors["gracePeriodActive"] = "withdrawal timestamp query failed: " + err.Error()
		return false
	}
	if ts.Sign() == 0 {
		return true
	}

	withdrawAt := time.Unix(ts.Int64(), 0)
	if time.Now().After(withdrawAt.Add(config.GracePeriod)) {
		v.Errors["gracePeriodActive"] = "sender is in withdrawal lockout period"
		v.Permanent = true
		return false
	}
	return true
}

// nonceBytes decodes a hex-encoded 32-byte nonce (exactly 64 hex digits
// after the optional 0x); any other nonce string is replaced by the
// SHA-256 hash of the full string, matching how ingest accepts either a
// raw bytes32 hex string or an arbitrary idempotency token from the caller.
func nonceBytes(nonce string) ([32]byte, error) {
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

// ClassifyValidationError reduces a Verdict's failing flags to a single
// pure retryable-vs-permanent decision, per the single-well-named-function
// design note in spec.md §9. The decision is the per-check v.Permanent flag
// set above, so oracle query failures stay retryable.
func ClassifyValidationError(v Verdict) (permanent bool, reason string) {
	if v.Permanent {
		for _, flag := range []string{"deadlineValid", "signatureValid", "nonceUnused", "gracePeriodActive", "amountValid"} {
			if msg, ok := v.Errors[flag]; ok {
				return true, msg
			}
		}
	}
	for _, flag := range []string{"deadlineValid", "signatureValid", "nonceUnused", "gracePeriodActive", "amountValid", "senderHasFunds", "decimalsResolved"} {
		if msg, ok := v.Errors[flag]; ok {
			return false, msg
		}
	}
	return false, ""
}
