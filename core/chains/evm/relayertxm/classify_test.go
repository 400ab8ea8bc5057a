package relayertxm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifyExecutionError(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"nil error", nil, false},
		{"timeout", errors.New("context deadline exceeded: timeout"), true},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"nonce too low", errors.New("nonce too low"), true},
		{"replacement underpriced", errors.New("replacement transaction underpriced"), true},
		{"insufficient gas funds", errors.New("insufficient funds for gas * price + value"), true},
		{"reverted", errors.New("execution reverted: insufficient allowance"), false},
		{"unknown", errors.New("something unexpected happened"), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			retryable, reason := ClassifyExecutionError(tc.err)
			require.Equal(t, tc.retryable, retryable)
			if tc.err == nil {
				require.Empty(t, reason)
			} else {
				require.Equal(t, tc.err.Error(), reason)
			}
		})
	}
}
