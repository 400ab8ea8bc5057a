package relayertxm

import (
	"context"
	"time"

	goheaps "github.com/theodesp/go-heaps"
	binary_heap "github.com/theodesp/go-heaps/binary"
	"github.com/jpillora/backoff"
	"github.com/pkg/errors"

	"github.com/aionpay/relayer/core/services/relayer/types"
)

// retryItem orders a candidate failed transfer by the time at which its
// backoff window elapses, so the scheduler's retry scan processes the
// longest-overdue transfer first. theodesp/go-heaps gives us the ordered
// pop without hand-rolling a heap, the same way the rest of this package
// reaches for a pack library instead of a stdlib container/heap instance.
type retryItem struct {
	transfer   *types.SignedTransfer
	eligibleAt time.Time
}

func (r *retryItem) Compare(other goheaps.Item) int {
	o := other.(*retryItem)
	switch {
	case r.eligibleAt.Before(o.eligibleAt):
		return -1
	case r.eligibleAt.After(o.eligibleAt):
		return 1
	default:
		return 0
	}
}

// retryBackoff computes the 2^retryCount second backoff window spec.md
// §4.5 step 10 specifies. jpillora/backoff's ForAttempt(n) with Min=1s,
// Factor=2, Jitter=false evaluates to Min * Factor^n, i.e. exactly
// 2^retryCount seconds, capped at Max.
var retryBackoff = &backoff.Backoff{
	Min:    1 * time.Second,
	Max:    64 * time.Second,
	Factor: 2,
	Jitter: false,
}

func backoffDelay(retryCount int) time.Duration {
	return retryBackoff.ForAttempt(float64(retryCount))
}

// dueRetries fetches failed rows eligible for another attempt (backoff
// window elapsed, measured from each row's most recent `failed` event, not
// its CreatedAt) ordered soonest-overdue first.
func (ex *Executor) dueRetries(ctx context.Context) ([]*types.SignedTransfer, error) {
	candidates, err := ex.store.ListRetryable(ctx, maxRetries, retryScanLimit)
	if err != nil {
		return nil, errors.Wrap(err, "dueRetries failed to list retryable rows")
	}

	heap := binary_heap.NewBinaryHeap()
	now := time.Now()
	for _, t := range candidates {
		lastFailed, err := ex.store.LastFailedAt(ctx, t.ID)
		if err != nil {
			ex.lggr.Warnw("failed to read last failed timestamp, falling back to createdAt", "transferID", t.ID, "err", err)
			lastFailed = t.CreatedAt
		}
		if lastFailed.IsZero() {
			lastFailed = t.CreatedAt
		}
		eligibleAt := lastFailed.Add(backoffDelay(t.RetryCount))
		if !eligibleAt.After(now) {
			heap.Insert(&retryItem{transfer: t, eligibleAt: eligibleAt})
		}
	}

	var due []*types.SignedTransfer
	for !heap.IsEmpty() {
		item := heap.DeleteMin().(*retryItem)
		due = append(due, item.transfer)
	}
	return due, nil
}
