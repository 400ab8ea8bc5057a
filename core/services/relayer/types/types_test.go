package types_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	null "gopkg.in/guregu/null.v4"

	"github.com/aionpay/relayer/core/services/relayer/types"
)

func TestTransferEvent_MetadataField(t *testing.T) {
	ev := types.TransferEvent{Metadata: null.StringFrom(`{"retryCount":2,"txHash":"0xabc"}`)}
	require.Equal(t, "2", ev.MetadataField("retryCount"))
	require.Equal(t, "0xabc", ev.MetadataField("txHash"))
	require.Equal(t, "", ev.MetadataField("missing"))
}

func TestTransferEvent_MetadataField_NullMetadata(t *testing.T) {
	ev := types.TransferEvent{}
	require.Equal(t, "", ev.MetadataField("anything"))
}

func TestStatus_ValidAndTerminal(t *testing.T) {
	require.True(t, types.StatusConfirmed.Valid())
	require.True(t, types.StatusConfirmed.Terminal())
	require.True(t, types.StatusPermanentlyFailed.Terminal())
	require.False(t, types.StatusPending.Terminal())
	require.False(t, types.Status("bogus").Valid())
}

func TestGlobalTopic(t *testing.T) {
	require.Equal(t, "payment_accepted", types.GlobalTopic(types.EventReceived))
	require.Equal(t, "payment_failed", types.GlobalTopic(types.EventFailed))
	require.Equal(t, "payment_failed", types.GlobalTopic(types.EventPermFailed))
	require.Equal(t, "payment_retry", types.GlobalTopic("retry"))
}

func TestTransferTopic(t *testing.T) {
	require.Equal(t, "transfer:42", types.TransferTopic(42))
}

func TestSignedTransfer_IsToken(t *testing.T) {
	native := types.SignedTransfer{}
	require.False(t, native.IsToken())

	token := types.SignedTransfer{TokenAddress: null.StringFrom("0xabc")}
	require.True(t, token.IsToken())
}
