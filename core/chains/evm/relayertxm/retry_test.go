package relayertxm

import (
	"testing"
	"time"

	binary_heap "github.com/theodesp/go-heaps/binary"
	"github.com/stretchr/testify/require"

	"github.com/aionpay/relayer/core/services/relayer/types"
)

func TestBackoffDelay_DoublesPerAttempt(t *testing.T) {
	require.Equal(t, 1*time.Second, backoffDelay(0))
	require.Equal(t, 2*time.Second, backoffDelay(1))
	require.Equal(t, 4*time.Second, backoffDelay(2))
	require.Equal(t, 8*time.Second, backoffDelay(3))
}

func TestRetryItem_HeapOrdersSoonestOverdueFirst(t *testing.T) {
	now := time.Now()
	heap := binary_heap.NewBinaryHeap()
	heap.Insert(&retryItem{transfer: &types.SignedTransfer{ID: 3}, eligibleAt: now.Add(3 * time.Second)})
	heap.Insert(&retryItem{transfer: &types.SignedTransfer{ID: 1}, eligibleAt: now.Add(1 * time.Second)})
	heap.Insert(&retryItem{transfer: &types.SignedTransfer{ID: 2}, eligibleAt: now.Add(2 * time.Second)})

	var order []int64
	for !heap.IsEmpty() {
		order = append(order, heap.DeleteMin().(*retryItem).transfer.ID)
	}
	require.Equal(t, []int64{1, 2, 3}, order)
}
