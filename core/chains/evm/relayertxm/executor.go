// Package relayertxm is the Queue & Executor: it advances transfers from
// `validated` to a terminal state under a bounded concurrency cap, with
// idempotent crash recovery and principled retry (spec.md §4.5). It is a
// direct adaptation of chainlink's EthBroadcaster (see eth_broadcaster.go):
// the same utils.StartStopOnce lifecycle, the same poll-timer-plus-trigger
// scheduler shape, and the same "re-fetch, check state hasn't moved, then
// act" idempotency discipline — generalized from a single unstarted→
// in_progress→broadcast transition to this domain's six-state machine.
package relayertxm

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	null "gopkg.in/guregu/null.v4"

	"github.com/aionpay/relayer/core/chains/evm/gateway"
	"github.com/aionpay/relayer/core/config"
	"github.com/aionpay/relayer/core/logger"
	"github.com/aionpay/relayer/core/services/relayer/eventbus"
	"github.com/aionpay/relayer/core/services/relayer/store"
	"github.com/aionpay/relayer/core/services/relayer/types"
	"github.com/aionpay/relayer/core/services/relayer/validator"
	"github.com/aionpay/relayer/core/static"
	"github.com/aionpay/relayer/core/utils"
)

const (
	maxRetries     = config.MaxRetries
	retryScanLimit = 100
	listLimit      = 100
)

// Executor is the Queue & Executor component (spec.md §4.5).
type Executor struct {
	lggr  logger.Logger
	store *store.Store
	vd    *validator.Validator
	gw    gateway.Gateway
	bus   *eventbus.Bus

	maxConcurrent atomic.Int32
	inFlight      atomic.Int32

	processingMu sync.Mutex
	processing   map[int64]struct{}

	wake   chan struct{}
	chStop chan struct{}
	wg     sync.WaitGroup

	utils.StartStopOnce
}

// New constructs an Executor with the configured default concurrency cap.
func New(st *store.Store, vd *validator.Validator, gw gateway.Gateway, bus *eventbus.Bus, cfg *config.Config, lggr logger.Logger) *Executor {
	ex := &Executor{
		lggr:       lggr.Named("Executor"),
		store:      st,
		vd:         vd,
		gw:         gw,
		bus:        bus,
		processing: make(map[int64]struct{}),
		wake:       make(chan struct{}, 1),
		chStop:     make(chan struct{}),
	}
	ex.maxConcurrent.Store(int32(cfg.MaxConcurrent))
	return ex
}

// Start launches the scheduler loop.
func (ex *Executor) Start() error {
	return ex.StartOnce("Executor", func() error {
		ex.wg.Add(1)
		go ex.schedulerLoop()
		return nil
	})
}

// Close stops the scheduler loop and waits for in-flight executions'
// goroutines to observe the stop signal. In-flight executions run under the
// scheduler's context, which the stop signal cancels, so RPC calls already
// underway are aborted rather than run to completion; a row interrupted
// after its txHash was persisted stays `pending` for the reconciler.
func (ex *Executor) Close() error {
	return ex.StopOnce("Executor", func() error {
		close(ex.chStop)
		ex.wg.Wait()
		return nil
	})
}

// Wake requests an out-of-band scheduler tick, used by the ingress API
// right after a submission to avoid waiting out the full poll interval
// when capacity is free (spec.md §4.5 "Scheduler").
func (ex *Executor) Wake() {
	select {
	case ex.wake <- struct{}{}:
	default:
	}
}

// SetMaxConcurrent adjusts the concurrency cap within [1,10] (spec.md
// §4.5, admin endpoint).
func (ex *Executor) SetMaxConcurrent(n int) error {
	if n < 1 || n > 10 {
		return errors.Errorf("maxConcurrent must be in [1,10], got %d", n)
	}
	ex.maxConcurrent.Store(int32(n))
	return nil
}

// Stats returns the current/max in-flight counts for the stats endpoint.
func (ex *Executor) Stats() (current, max int) {
	return int(ex.inFlight.Load()), int(ex.maxConcurrent.Load())
}

func (ex *Executor) schedulerLoop() {
	defer ex.wg.Done()
	ctx, cancel := utils.CombinedContext(context.Background(), ex.chStop)
	defer cancel()

	ticker := time.NewTicker(config.RetryPollInterval)
	defer ticker.Stop()

	for {
		ex.tick(ctx)

		select {
		case <-ex.chStop:
			return
		case <-ex.wake:
		case <-ticker.C:
		}
	}
}

// tick implements one scheduler pass (spec.md §4.5 "On each tick").
func (ex *Executor) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	capacity := int(ex.maxConcurrent.Load())
	inFlight := int(ex.inFlight.Load())
	free := capacity - inFlight
	if free > 0 {
		candidates, err := ex.store.ListByStatus(ctx, types.StatusValidated, free)
		if err != nil {
			ex.lggr.Errorw("failed to list validated transfers", "err", err)
		} else {
			for _, t := range candidates {
				ex.launch(ctx, t.ID)
			}
		}
	} else {
		ex.lggr.Warnw(static.EvmMaxInFlightTransactionsWarningLabel, "inFlight", inFlight, "maxConcurrent", capacity)
	}

	due, err := ex.dueRetries(ctx)
	if err != nil {
		ex.lggr.Errorw("failed to scan retryable transfers", "err", err)
		return
	}
	for _, t := range due {
		if _, err := ex.store.UpdateStatus(ctx, t.ID, store.StatusUpdate{Status: types.StatusValidated}); err != nil {
			ex.lggr.Errorw("failed to requeue retryable transfer", "transferID", t.ID, "err", err)
			continue
		}
		ex.bus.PublishTransferTransition(
			types.GlobalTopic(types.EventRetryQueued), types.TransferTopic(t.ID),
			types.EventRetryQueued, map[string]interface{}{"transferId": t.ID, "retryCount": t.RetryCount})
	}
}

// launch starts an execution slot for transferID if one isn't already
// running for it, decrementing the in-flight count when it finishes
// regardless of outcome (spec.md §4.5 step 3).
func (ex *Executor) launch(ctx context.Context, transferID int64) {
	if !ex.acquire(transferID) {
		return
	}
	ex.inFlight.Inc()
	ex.wg.Add(1)
	go func() {
		defer ex.wg.Done()
		defer ex.inFlight.Dec()
		defer ex.release(transferID)

		if err := ex.executeOne(ctx, transferID); err != nil {
			ex.lggr.Errorw("executeOne failed", "transferID", transferID, "err", err)
		}
	}()
}

func (ex *Executor) acquire(transferID int64) bool {
	ex.processingMu.Lock()
	defer ex.processingMu.Unlock()
	if _, busy := ex.processing[transferID]; busy {
		return false
	}
	ex.processing[transferID] = struct{}{}
	return true
}

func (ex *Executor) release(transferID int64) {
	ex.processingMu.Lock()
	defer ex.processingMu.Unlock()
	delete(ex.processing, transferID)
}

// executeOne runs the idempotent single-transfer state machine (spec.md
// §4.5 "Execution of one transfer").
func (ex *Executor) executeOne(ctx context.Context, transferID int64) error {
	t, err := ex.store.FindByID(ctx, transferID)
	if err != nil {
		return errors.Wrap(err, "executeOne failed to load transfer")
	}
	if t.Status != types.StatusValidated {
		// lost the race: another slot (or a previous crash's recovery
		// path) already moved this row on
		return nil
	}

	verdict := ex.vd.Validate(ctx, t, transferID)
	if !verdict.OK() {
		return ex.handleRevalidationFailure(ctx, t, verdict)
	}

	if _, err := ex.store.UpdateStatus(ctx, t.ID, store.StatusUpdate{Status: types.StatusPending}); err != nil {
		return errors.Wrap(err, "executeOne failed to mark pending")
	}
	ex.bus.PublishTransferTransition(
		types.GlobalTopic(types.EventPending), types.TransferTopic(t.ID),
		types.EventPending, map[string]interface{}{"transferId": t.ID})

	nonce, err := nonceBytesFromHex(t.Nonce)
	if err != nil {
		return ex.fail(ctx, t, true, "malformed nonce: "+err.Error())
	}
	decimals, err := ex.resolveDecimals(ctx, t)
	if err != nil {
		return ex.fail(ctx, t, false, "token decimals query failed: "+err.Error())
	}
	amountWei, err := amountToWei(t.Amount, decimals)
	if err != nil {
		return ex.fail(ctx, t, true, "malformed amount: "+err.Error())
	}

	var txHash string
	if t.IsToken() {
		txHash, err = ex.gw.ExecuteERC20Transfer(ctx, t.ContractAddress, t.TokenAddress.String, t.From, t.To, amountWei, nonce, t.Deadline, t.Signature)
	} else {
		txHash, err = ex.gw.ExecuteETHTransfer(ctx, t.ContractAddress, t.From, t.To, amountWei, nonce, t.Deadline, t.Signature)
	}
	if err != nil {
		return ex.handleExecutionError(ctx, t, err)
	}

	if _, err := ex.store.UpdateStatus(ctx, t.ID, store.StatusUpdate{Status: types.StatusPending, TxHash: null.StringFrom(txHash)}); err != nil {
		return errors.Wrap(err, "executeOne failed to persist txHash")
	}
	ex.bus.PublishTransferTransition(
		types.GlobalTopic(types.EventSubmitted), types.TransferTopic(t.ID),
		types.EventSubmitted, map[string]interface{}{"transferId": t.ID, "txHash": txHash})

	receipt, err := ex.gw.AwaitReceipt(ctx, txHash)
	if err != nil {
		return ex.handleExecutionError(ctx, t, err)
	}

	if !receipt.Success {
		// spec.md §4.5 step 9: a reverted receipt is not retryable
		return ex.permanentlyFail(ctx, t, "transaction reverted")
	}

	if _, err := ex.store.UpdateStatus(ctx, t.ID, store.StatusUpdate{
		Status:      types.StatusConfirmed,
		BlockNumber: null.IntFrom(int64(receipt.BlockNumber)),
	}); err != nil {
		return errors.Wrap(err, "executeOne failed to persist confirmation")
	}
	ex.appendEvent(ctx, t.ID, types.EventConfirmed, "transfer confirmed", map[string]interface{}{
		"txHash": receipt.TransactionHash, "blockNumber": receipt.BlockNumber, "gasUsed": receipt.GasUsed,
	})
	ex.bus.PublishTransferTransition(
		types.GlobalTopic(types.EventConfirmed), types.TransferTopic(t.ID),
		types.EventConfirmed, map[string]interface{}{"transferId": t.ID, "txHash": receipt.TransactionHash, "blockNumber": receipt.BlockNumber})
	return nil
}

// handleRevalidationFailure implements the race-recovery branch and the
// permanent/transient split from spec.md §4.5 steps 4-6.
func (ex *Executor) handleRevalidationFailure(ctx context.Context, t *types.SignedTransfer, v validator.Verdict) error {
	if ex.isRaceRecovery(t, v) {
		// the chain accepted this row's own submission but we crashed
		// before persisting confirmation — absorb rather than fail
		if _, err := ex.store.UpdateStatus(ctx, t.ID, store.StatusUpdate{Status: types.StatusConfirmed}); err != nil {
			return errors.Wrap(err, "race-recovery failed to mark confirmed")
		}
		ex.appendEvent(ctx, t.ID, types.EventConfirmed, "recovered after crash: transaction was already confirmed on-chain", nil)
		ex.bus.PublishTransferTransition(
			types.GlobalTopic(types.EventConfirmed), types.TransferTopic(t.ID),
			types.EventConfirmed, map[string]interface{}{"transferId": t.ID, "recovered": true})
		return nil
	}

	permanent, reason := validator.ClassifyValidationError(v)
	if permanent {
		return ex.permanentlyFail(ctx, t, reason)
	}
	return ex.fail(ctx, t, false, reason)
}

// handleExecutionError implements spec.md §4.5 step 10.
func (ex *Executor) handleExecutionError(ctx context.Context, t *types.SignedTransfer, err error) error {
	retryable, reason := ClassifyExecutionError(err)
	return ex.fail(ctx, t, !retryable, reason)
}

// fail records a failure. If permanent is true, or the retry budget is
// exhausted, the transfer moves to permanently_failed; otherwise it moves
// to failed with retryCount bumped, awaiting the next backoff window.
func (ex *Executor) fail(ctx context.Context, t *types.SignedTransfer, permanent bool, reason string) error {
	if permanent {
		return ex.permanentlyFail(ctx, t, reason)
	}
	newRetryCount := t.RetryCount + 1
	if newRetryCount >= maxRetries {
		return ex.permanentlyFail(ctx, t, reason+" (retries exhausted)")
	}

	if _, err := ex.store.UpdateStatus(ctx, t.ID, store.StatusUpdate{
		Status:       types.StatusFailed,
		RetryCount:   &newRetryCount,
		ErrorMessage: null.StringFrom(reason),
	}); err != nil {
		return errors.Wrap(err, "fail failed to persist failed status")
	}
	ex.appendEvent(ctx, t.ID, types.EventRetry, reason, map[string]interface{}{"retryCount": newRetryCount})
	ex.bus.PublishTransferTransition(
		types.GlobalTopic(types.EventFailed), types.TransferTopic(t.ID),
		types.EventFailed, map[string]interface{}{"transferId": t.ID, "reason": reason, "retryCount": newRetryCount})
	return nil
}

func (ex *Executor) permanentlyFail(ctx context.Context, t *types.SignedTransfer, reason string) error {
	if _, err := ex.store.UpdateStatus(ctx, t.ID, store.StatusUpdate{
		Status:       types.StatusPermanentlyFailed,
		ErrorMessage: null.StringFrom(reason),
	}); err != nil {
		return errors.Wrap(err, "permanentlyFail failed to persist")
	}
	ex.appendEvent(ctx, t.ID, types.EventPermFailed, reason, nil)
	ex.bus.PublishTransferTransition(
		types.GlobalTopic(types.EventFailed), types.TransferTopic(t.ID),
		types.EventPermFailed, map[string]interface{}{"transferId": t.ID, "reason": reason})
	return nil
}

func (ex *Executor) appendEvent(ctx context.Context, transferID int64, status, message string, metadata map[string]interface{}) {
	meta := null.String{}
	if metadata != nil {
		if b, err := jsonMarshal(metadata); err == nil {
			meta = null.StringFrom(string(b))
		}
	}
	if err := ex.store.AppendEvent(ctx, transferID, status, message, meta); err != nil {
		ex.lggr.Warnw("failed to append transfer event", "transferID", transferID, "status", status, "err", err)
	}
}
