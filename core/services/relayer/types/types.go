// Package types holds the relayer's persisted row types: SignedTransfer
// and TransferEvent, modeled the way chainlink models EthTx/EthTxAttempt
// in core/chains/evm/bulletprooftxmanager — nullable columns via
// gopkg.in/guregu/null.v4 rather than bare pointers, so zero values and
// "column is NULL" are never confused.
package types

import (
	"strconv"
	"time"

	"github.com/tidwall/gjson"
	null "gopkg.in/guregu/null.v4"
)

// Status is the lifecycle state of a SignedTransfer (spec.md §3).
type Status string

const (
	StatusReceived          Status = "received"
	StatusValidated         Status = "validated"
	StatusPending           Status = "pending"
	StatusConfirmed         Status = "confirmed"
	StatusFailed            Status = "failed"
	StatusPermanentlyFailed Status = "permanently_failed"
)

// Valid reports whether s is one of the known lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusReceived, StatusValidated, StatusPending, StatusConfirmed, StatusFailed, StatusPermanentlyFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether s admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusPermanentlyFailed
}

// SignedTransfer is the authorization being relayed (spec.md §3).
type SignedTransfer struct {
	ID              int64       `db:"id"`
	Nonce           string      `db:"nonce"`
	From            string      `db:"from_address"`
	To              string      `db:"to_address"`
	Amount          string      `db:"amount"`
	Deadline        int64       `db:"deadline"`
	Signature       []byte      `db:"signature"`
	ContractAddress string      `db:"contract_address"`
	TokenAddress    null.String `db:"token_address"`

	Status       Status      `db:"status"`
	TxHash       null.String `db:"tx_hash"`
	BlockNumber  null.Int    `db:"block_number"`
	RetryCount   int         `db:"retry_count"`
	ErrorMessage null.String `db:"error_message"`

	CreatedAt   time.Time `db:"created_at"`
	ValidatedAt null.Time `db:"validated_at"`
	SubmittedAt null.Time `db:"submitted_at"`
	ConfirmedAt null.Time `db:"confirmed_at"`
}

// IsToken reports whether this authorization is an ERC20 transfer
// (TokenAddress present) rather than a native-asset transfer.
func (t *SignedTransfer) IsToken() bool {
	return t.TokenAddress.Valid && t.TokenAddress.String != ""
}

// TransferEvent is one append-only row of a transfer's audit trail
// (spec.md §3).
type TransferEvent struct {
	ID         int64       `db:"id"`
	TransferID int64       `db:"transfer_id"`
	Status     string      `db:"status"`
	Message    string      `db:"message"`
	Metadata   null.String `db:"metadata"`
	Timestamp  time.Time   `db:"timestamp"`
}

// MetadataField extracts a single field from the event's JSON Metadata
// blob without requiring callers to unmarshal into a concrete struct —
// appendEvent's callers attach ad-hoc fields (error strings, tx hashes,
// retry counts) that vary per event type, so a full schema isn't worth it.
func (e *TransferEvent) MetadataField(path string) string {
	if !e.Metadata.Valid {
		return ""
	}
	return gjson.Get(e.Metadata.String, path).String()
}

// EventType names used both as TransferEvent.Status values (sub-states)
// and as Event Bus global topics (spec.md §4.3 and §4.5).
const (
	EventReceived    = "received"
	EventValidated   = "validated"
	EventPending     = "pending"
	EventSubmitted   = "submitted"
	EventConfirmed   = "confirmed"
	EventFailed      = "failed"
	EventRetryQueued = "retry_queued"
	EventRetry       = "retry"
	EventPermFailed  = "permanently_failed"
)

// GlobalTopic for a given event type, per spec.md §4.3 naming
// ("payment_accepted", "payment_pending", ...).
func GlobalTopic(eventType string) string {
	switch eventType {
	case EventReceived:
		return "payment_accepted"
	case EventPending:
		return "payment_pending"
	case EventSubmitted:
		return "payment_submitted"
	case EventConfirmed:
		return "payment_confirmed"
	case EventFailed, EventPermFailed:
		return "payment_failed"
	default:
		return "payment_" + eventType
	}
}

// TransferTopic is the per-transfer fan-out topic convention (spec.md §4.3/§6).
func TransferTopic(id int64) string {
	return "transfer:" + strconv.FormatInt(id, 10)
}
