package gateway

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifySendError(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		wantSub  string
		identity bool // true when classifySendError should return err unchanged
	}{
		{"nonce too low", errors.New("nonce too low: next nonce 5, tx nonce 3"), "nonce too low", false},
		{"replacement underpriced", errors.New("replacement transaction underpriced"), "replacement transaction underpriced", false},
		{"insufficient funds", errors.New("insufficient funds for gas * price + value"), "insufficient funds for gas", false},
		{"timeout", errors.New("context deadline exceeded (timeout)"), "timeout", false},
		{"connection refused", errors.New("dial tcp 127.0.0.1:8545: connect: connection refused"), "connection refused", false},
		{"network io timeout", errors.New("read tcp: i/o timeout"), "network error", false},
		{"unrecognized", errors.New("execution reverted: allowance exceeded"), "", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classifySendError(tc.err)
			if tc.identity {
				require.Equal(t, tc.err, got)
				return
			}
			require.Contains(t, got.Error(), tc.wantSub)
			require.ErrorIs(t, got, tc.err)
		})
	}
}

func TestClassifySendError_Nil(t *testing.T) {
	require.NoError(t, classifySendError(nil))
}

func TestWrapKnown_NoDoubleWrap(t *testing.T) {
	err := errors.New("nonce too low: detail")
	wrapped := wrapKnown(err, "nonce too low")
	require.Equal(t, err, wrapped, "should not re-wrap an error that already contains the substring")
}
