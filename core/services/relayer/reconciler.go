package relayer

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/aionpay/relayer/core/logger"
	"github.com/aionpay/relayer/core/services/relayer/eventbus"
	"github.com/aionpay/relayer/core/services/relayer/store"
	"github.com/aionpay/relayer/core/services/relayer/types"
)

// stalePendingThreshold is how long a transfer may sit in `pending` before
// the reconciler assumes its in-process AwaitReceipt poll died with a
// crashed process, rather than still being legitimately in flight.
const stalePendingThreshold = 10 * time.Minute

// reconciler periodically sweeps for transfers orphaned by a process
// restart: a row left in `pending` because the goroutine polling its
// receipt never got to finish. It resets them to `validated` so the
// Executor's normal re-validation (including the on-chain nonce check that
// absorbs an already-broadcast transaction) picks them back up, rather than
// leaving them stuck forever. Scheduling is robfig/cron/v3, the same
// library chainlink depends on, giving it a concrete home in this system.
type reconciler struct {
	lggr logger.Logger
	st   *store.Store
	bus  *eventbus.Bus
	cron *cron.Cron
}

func newReconciler(st *store.Store, bus *eventbus.Bus, lggr logger.Logger) *reconciler {
	return &reconciler{
		lggr: lggr.Named("Reconciler"),
		st:   st,
		bus:  bus,
		cron: cron.New(),
	}
}

// start schedules the sweep to run every minute.
func (r *reconciler) start() error {
	_, err := r.cron.AddFunc("@every 1m", r.sweep)
	if err != nil {
		return err
	}
	r.cron.Start()
	return nil
}

func (r *reconciler) stop() {
	<-r.cron.Stop().Done()
}

func (r *reconciler) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stale, err := r.st.ListStalePending(ctx, stalePendingThreshold, 50)
	if err != nil {
		r.lggr.Warnw("reconciler failed to list stale pending transfers", "err", err)
		return
	}
	for _, t := range stale {
		if _, err := r.st.UpdateStatus(ctx, t.ID, store.StatusUpdate{Status: types.StatusValidated}); err != nil {
			r.lggr.Errorw("reconciler failed to requeue stale pending transfer", "transferID", t.ID, "err", err)
			continue
		}
		r.lggr.Warnw("requeued a pending transfer orphaned by a process restart", "transferID", t.ID, "submittedAt", t.SubmittedAt)
		r.bus.PublishTransferTransition(types.GlobalTopic(types.EventRetryQueued), types.TransferTopic(t.ID), types.EventRetryQueued, t)
	}
}
