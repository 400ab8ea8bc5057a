// Package static holds build-time constants, mirroring chainlink's
// core/static package referenced from the tx broadcaster warning labels.
package static

// Version is overridden at build time via -ldflags.
var Version = "dev"

// Sha is the git commit the binary was built from, overridden at build time.
var Sha = "unknown"

// EvmMaxInFlightTransactionsWarningLabel is logged whenever the executor
// throttles submission because the concurrency cap has been reached.
const EvmMaxInFlightTransactionsWarningLabel = "WARNING: relayer is throttling transaction submission. " +
	"If this persists, consider raising maxConcurrent via PUT /relayer/admin/concurrency."
