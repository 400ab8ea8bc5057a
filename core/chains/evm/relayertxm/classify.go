package relayertxm

import "strings"

// retryableSubstrings is the exact vocabulary spec.md §4.5 step 10 lists
// for retryable (transient infrastructure) failures. Anything else is
// permanent. This mirrors classifySendError in the gateway package (signer.go):
// that function normalizes raw RPC error text down to these substrings,
// and this one makes the retryable/permanent call based on them — kept as
// two separate, single-purpose functions per the Design Note in spec.md §9
// rather than one function doing both jobs.
var retryableSubstrings = []string{
	"network error",
	"timeout",
	"connection refused",
	"nonce too low",
	"replacement transaction underpriced",
	"insufficient funds for gas",
}

// ClassifyExecutionError decides whether err (already normalized by
// classifySendError) should be retried or is a permanent failure
// (spec.md §4.5 step 10).
func ClassifyExecutionError(err error) (retryable bool, reason string) {
	if err == nil {
		return false, ""
	}
	msg := strings.ToLower(err.Error())
	for _, substr := range retryableSubstrings {
		if strings.Contains(msg, substr) {
			return true, err.Error()
		}
	}
	return false, err.Error()
}
