package collect

import (
	"context"
	"fmt"
	"strconv"

	"github.com/blnkfinance/collect/internal/apierror"
	"github.com/blnkfinance/collect/internal/notification"
	"github.com/blnkfinance/collect/model"
	"github.com/sirupsen/logrus"
)

// Decision is what the retry policy did with a failed transaction.
type Decision string

const (
	DecisionRetry    Decision = "retry"
	DecisionEscalate Decision = "escalate"
)

const reasonRetriesExhausted = "retries_exhausted"

func (c *Collector) nonRetryable(reason string) bool {
	for _, r := range c.config.Collection.NonRetryableReasons {
		if r == reason {
			return true
		}
	}
	return false
}

// Decide applies the policy to a failed transaction whose retry count already
// reflects the failure just recorded.
func (c *Collector) Decide(txn *model.Transaction, reason string) (Decision, string) {
	if c.nonRetryable(reason) {
		return DecisionEscalate, reason
	}
	if txn.RetryCount >= c.config.Collection.RetryBudget() {
		return DecisionEscalate, reasonRetriesExhausted + ":" + reason
	}
	return DecisionRetry, reason
}

// planFailure decides what follows a failure before it is recorded and folds the
// decision into the outcome, so the failure and its retry or escalation commit together.
// txn must already carry the retry count the failure will leave behind.
func (c *Collector) planFailure(txn *model.Transaction, reason string, outcome *model.TransactionOutcome) Decision {
	decision, escalationReason := c.Decide(txn, reason)
	if decision == DecisionRetry {
		outcome.ScheduleRetry = true
		return decision
	}
	outcome.Escalation = &model.Escalation{
		EscalationID:    model.GenerateUUIDWithSuffix("esc"),
		MemberReference: txn.MemberReference,
		TransactionID:   txn.TransactionID,
		Reason:          escalationReason,
		CreatedAt:       c.now().UTC(),
	}
	return decision
}

// announceFailure reports a committed failure's follow-up.
func (c *Collector) announceFailure(txn *model.Transaction, reason string, outcome model.TransactionOutcome) {
	if outcome.Escalation == nil {
		logrus.WithFields(logrus.Fields{
			"transaction_id":   txn.TransactionID,
			"member_reference": txn.MemberReference,
			"retry_count":      txn.RetryCount,
			"reason":           reason,
		}).Info("retry scheduled for next cycle")
		return
	}
	esc := outcome.Escalation
	notification.NotifyOperator("member.escalated", "Member escalated for manual follow-up", [][2]string{
		{"member_reference", txn.MemberReference},
		{"transaction_id", txn.TransactionID},
		{"reason", esc.Reason},
		{"retry_count", strconv.Itoa(txn.RetryCount)},
	}, esc)
}

// ReverseTransaction is the manual override for an escalated failure.
func (c *Collector) ReverseTransaction(ctx context.Context, transactionID string) (*model.Transaction, error) {
	ctx, span := tracer.Start(ctx, "ReverseTransaction")
	defer span.End()

	txn, err := c.datasource.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if txn.Status != model.StatusFailed || !txn.Escalated {
		return nil, apierror.NewAPIError(apierror.ErrConflict,
			fmt.Sprintf("Transaction '%s' is %s and not escalated, only escalated failures can be reversed", transactionID, txn.Status),
			model.ErrInvalidTransition)
	}
	ok, err := c.datasource.ReverseTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Transaction '%s' changed while being reversed", transactionID), model.ErrInvalidTransition)
	}
	txn.Status = model.StatusReversed
	c.emit(ctx, "transaction.reversed", txn)
	return txn, nil
}
