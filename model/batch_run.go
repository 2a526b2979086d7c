package model

import (
	"errors"
	"fmt"
	"time"
)

type RunStatus string

const (
	RunStatusDraft     RunStatus = "draft"
	RunStatusSubmitted RunStatus = "submitted"
	RunStatusAccepted  RunStatus = "accepted"
	RunStatusRejected  RunStatus = "rejected"
)

// AllRunsKey is the composition key used for runs that are not bound to a payment group.
const AllRunsKey = "ALL"

// BatchRun is one attempt at submitting a collection batch to the gateway.
type BatchRun struct {
	ID               int64      `json:"-"`
	RunID            string     `json:"run_id"`
	BatchName        string     `json:"batch_name"`
	ActionDate       time.Time  `json:"action_date"`
	Status           RunStatus  `json:"status"`
	IsGroupRun       bool       `json:"is_group_run"`
	GroupID          *string    `json:"group_id,omitempty"`
	TotalMemberCount int        `json:"total_member_count"`
	TotalAmount      int64      `json:"total_amount"`
	Operation        string     `json:"operation,omitempty"`
	GatewayReference *string    `json:"gateway_reference,omitempty"`
	SubmittedAt      *time.Time `json:"submitted_at,omitempty"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// RunFilter narrows batch run listings.
type RunFilter struct {
	Status  RunStatus
	GroupID string
	Limit   int
	Offset  int
}

// CompositionKey identifies the single-writer slot a run occupies for its action date.
func CompositionKey(groupID *string) string {
	if groupID == nil || *groupID == "" {
		return AllRunsKey
	}
	return *groupID
}

func (r *BatchRun) CompositionKey() string {
	return CompositionKey(r.GroupID)
}

// IsActive reports whether the run still blocks a new draft for its key and action date.
func (r *BatchRun) IsActive() bool {
	return r.Status != RunStatusRejected
}

// VerifyTotals checks the run header against its transactions.
func (r *BatchRun) VerifyTotals(txns []*Transaction) error {
	var total int64
	for _, txn := range txns {
		if txn.RunID != r.RunID {
			return fmt.Errorf("transaction %s belongs to run %s, not %s", txn.TransactionID, txn.RunID, r.RunID)
		}
		total += txn.Amount
	}
	if len(txns) != r.TotalMemberCount {
		return fmt.Errorf("run %s has %d transactions but member count %d", r.RunID, len(txns), r.TotalMemberCount)
	}
	if total != r.TotalAmount {
		return fmt.Errorf("run %s transactions sum to %d but total amount is %d", r.RunID, total, r.TotalAmount)
	}
	return nil
}

var ErrInvalidRunTransition = errors.New("invalid batch run status transition")

var runTransitions = map[RunStatus][]RunStatus{
	RunStatusDraft:     {RunStatusSubmitted, RunStatusRejected},
	RunStatusSubmitted: {RunStatusAccepted, RunStatusRejected},
	RunStatusRejected:  {RunStatusDraft},
}

// CanTransitionTo reports whether a run may move from s to next.
// rejected -> draft is only used for manual resubmission.
func (s RunStatus) CanTransitionTo(next RunStatus) bool {
	for _, allowed := range runTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusDraft, RunStatusSubmitted, RunStatusAccepted, RunStatusRejected:
		return true
	}
	return false
}
