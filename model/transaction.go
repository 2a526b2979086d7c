package model

import (
	"encoding/json"
	"errors"
	"time"
)

type TransactionStatus string

const (
	StatusPending    TransactionStatus = "pending"
	StatusProcessing TransactionStatus = "processing"
	StatusSuccessful TransactionStatus = "successful"
	StatusFailed     TransactionStatus = "failed"
	StatusReversed   TransactionStatus = "reversed"
)

// Bank account types as understood by the gateway.
const (
	AccountTypeCurrent      = 1
	AccountTypeSavings      = 2
	AccountTypeTransmission = 3
)

type BankAccount struct {
	HolderName    string `json:"holder_name"`
	AccountType   int    `json:"account_type"`
	BranchCode    string `json:"branch_code"`
	AccountNumber string `json:"account_number"`
}

// Transaction is one member's collection attempt within a run.
// A retry is a new Transaction whose ParentTransactionID points at the failed attempt.
type Transaction struct {
	ID                  int64             `json:"-"`
	TransactionID       string            `json:"transaction_id"`
	RunID               string            `json:"run_id"`
	ParentTransactionID string            `json:"parent_transaction_id,omitempty"`
	MemberReference     string            `json:"member_reference"`
	AccountName         string            `json:"account_name"`
	Amount              int64             `json:"amount"`
	ArrearsIncluded     int64             `json:"arrears_included,omitempty"`
	Status              TransactionStatus `json:"status"`
	GatewayStatusCode   string            `json:"gateway_status_code,omitempty"`
	FailureReason       *string           `json:"failure_reason,omitempty"`
	RetryCount          int               `json:"retry_count"`
	RetryScheduled      bool              `json:"retry_scheduled"`
	Escalated           bool              `json:"escalated"`
	SettledAt           *time.Time        `json:"settled_at,omitempty"`
	BankAccount         BankAccount       `json:"bank_account"`
	Email               string            `json:"email,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

// TransactionFilter narrows transaction listings. Empty fields are ignored.
type TransactionFilter struct {
	RunID           string
	GroupID         string
	MemberReference string
	Status          TransactionStatus
	Limit           int
	Offset          int
}

func (transaction *Transaction) ToJSON() ([]byte, error) {
	return json.Marshal(transaction)
}

// IsRetry reports whether the transaction is a resubmission of an earlier failure.
func (transaction *Transaction) IsRetry() bool {
	return transaction.ParentTransactionID != ""
}

var ErrInvalidTransition = errors.New("invalid transaction status transition")

var transactionTransitions = map[TransactionStatus][]TransactionStatus{
	StatusPending:    {StatusProcessing},
	StatusProcessing: {StatusSuccessful, StatusFailed},
	StatusFailed:     {StatusProcessing, StatusReversed},
}

// CanTransitionTo reports whether the state machine allows s -> next.
func (s TransactionStatus) CanTransitionTo(next TransactionStatus) bool {
	for _, allowed := range transactionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition can happen on its own.
// failed only becomes terminal once the retry budget is spent.
func (s TransactionStatus) IsTerminal(retryCount, maxRetries int) bool {
	switch s {
	case StatusSuccessful, StatusReversed:
		return true
	case StatusFailed:
		return retryCount >= maxRetries
	}
	return false
}

func (s TransactionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusSuccessful, StatusFailed, StatusReversed:
		return true
	}
	return false
}

// TransactionOutcome is the state change reconciliation applies to a processing transaction.
// A failed outcome carries its retry decision so the failure and its follow-up are
// written together: either ScheduleRetry is set or Escalation is non-nil.
type TransactionOutcome struct {
	TransactionID     string
	MemberReference   string
	Status            TransactionStatus
	GatewayStatusCode string
	FailureReason     *string
	SettledAt         *time.Time
	IncrementRetry    bool
	ArrearsDelta      int64
	ScheduleRetry     bool
	Escalation        *Escalation
}
