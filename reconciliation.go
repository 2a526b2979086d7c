/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package collect

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/blnkfinance/collect/internal/apierror"
	"github.com/blnkfinance/collect/internal/gateway"
	"github.com/blnkfinance/collect/model"
	"github.com/sirupsen/logrus"
	"github.com/texttheater/golang-levenshtein/levenshtein"
	"github.com/wacul/ptr"
	"go.opentelemetry.io/otel/attribute"
)

// suggestionDrift is the largest edit distance, as a percentage of the longer
// reference, still offered as a "did you mean" suggestion.
const suggestionDrift = 40.0

// ReconciliationResult reports what one status update did.
type ReconciliationResult struct {
	Matched       bool     `json:"matched"`
	Applied       bool     `json:"applied"`
	TransactionID string   `json:"transaction_id,omitempty"`
	Decision      Decision `json:"decision,omitempty"`
	ExceptionID   string   `json:"exception_id,omitempty"`
}

func validateStatusUpdate(update model.StatusUpdate) error {
	if strings.TrimSpace(update.BatchName) == "" || strings.TrimSpace(update.MemberReference) == "" {
		return apierror.NewAPIError(apierror.ErrInvalidInput, "Status update needs a batch name and member reference", nil)
	}
	if update.Status != model.StatusSuccessful && update.Status != model.StatusFailed {
		return apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("Status update has unsupported status '%s'", update.Status), model.ErrInvalidTransition)
	}
	return nil
}

// ApplyStatusUpdate is the single entry point for settlement outcomes, whether they came
// from a polled report or a pushed notification. Only a transaction still in processing
// changes; repeats and late arrivals are no-ops that leave arrears untouched.
func (c *Collector) ApplyStatusUpdate(ctx context.Context, update model.StatusUpdate) (*ReconciliationResult, error) {
	ctx, span := tracer.Start(ctx, "ApplyStatusUpdate")
	defer span.End()
	span.SetAttributes(
		attribute.String("batch.name", update.BatchName),
		attribute.String("member.reference", update.MemberReference),
		attribute.String("status", string(update.Status)),
	)

	if err := validateStatusUpdate(update); err != nil {
		return nil, err
	}

	txn, err := c.datasource.GetTransactionByBatchAndMember(ctx, update.BatchName, update.MemberReference)
	if err != nil {
		if apierror.IsNotFound(err) {
			return c.recordUnmatched(ctx, update, "no transaction for batch and member reference")
		}
		return nil, err
	}

	result := &ReconciliationResult{Matched: true, TransactionID: txn.TransactionID}
	if update.Amount != nil && *update.Amount != txn.Amount {
		exc, err := c.recordUnmatched(ctx, update, fmt.Sprintf("amount %d does not match transaction amount %d", *update.Amount, txn.Amount))
		if err != nil {
			return nil, err
		}
		result.ExceptionID = exc.ExceptionID
		return result, nil
	}

	outcome := model.TransactionOutcome{
		TransactionID:     txn.TransactionID,
		MemberReference:   txn.MemberReference,
		Status:            update.Status,
		GatewayStatusCode: update.GatewayStatusCode,
	}
	reason := update.Reason
	var decision Decision
	if update.Status == model.StatusSuccessful {
		settled := update.SettledAt
		if settled.IsZero() {
			settled = c.now().UTC()
		}
		outcome.SettledAt = ptr.Time(settled)
		outcome.ArrearsDelta = -txn.Amount
	} else {
		if reason == "" {
			reason = "unspecified"
		}
		outcome.FailureReason = ptr.String(reason)
		outcome.IncrementRetry = txn.IsRetry()
		outcome.ArrearsDelta = arrearsOwed(txn)

		after := *txn
		if outcome.IncrementRetry {
			after.RetryCount++
		}
		decision = c.planFailure(&after, reason, &outcome)
	}

	applied, err := c.datasource.ApplyTransactionOutcome(ctx, outcome)
	if err != nil {
		return nil, err
	}
	if !applied {
		logrus.WithFields(logrus.Fields{
			"transaction_id": txn.TransactionID,
			"current_status": txn.Status,
			"update_status":  update.Status,
			"source":         update.Source,
		}).Info("status update ignored, transaction is not processing")
		return result, nil
	}
	result.Applied = true

	txn.Status = update.Status
	txn.GatewayStatusCode = update.GatewayStatusCode
	txn.SettledAt = outcome.SettledAt
	txn.FailureReason = outcome.FailureReason
	if outcome.IncrementRetry {
		txn.RetryCount++
	}

	if update.Status == model.StatusFailed {
		result.Decision = decision
		txn.RetryScheduled = outcome.ScheduleRetry
		txn.Escalated = outcome.Escalation != nil
		c.announceFailure(txn, reason, outcome)
	}
	c.emit(ctx, "transaction."+string(update.Status), txn)
	return result, nil
}

// arrearsOwed is what a failure adds to the member's arrears. Arrears folded into the
// amount are already owed, and a failed retry re-fails money its parent already added.
func arrearsOwed(txn *model.Transaction) int64 {
	if txn.IsRetry() {
		return 0
	}
	return txn.Amount - txn.ArrearsIncluded
}

func (c *Collector) recordUnmatched(ctx context.Context, update model.StatusUpdate, reason string) (*ReconciliationResult, error) {
	exc := &model.ReconciliationException{
		ExceptionID:     model.GenerateUUIDWithSuffix("exc"),
		BatchName:       update.BatchName,
		MemberReference: update.MemberReference,
		Status:          string(update.Status),
		Reason:          reason,
		Source:          update.Source,
		Suggestion:      c.suggestReference(ctx, update),
		CreatedAt:       c.now().UTC(),
	}
	if err := c.datasource.RecordReconciliationException(ctx, exc); err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"batch_name":       update.BatchName,
		"member_reference": update.MemberReference,
		"suggestion":       exc.Suggestion,
		"reason":           reason,
	}).Warn("reconciliation exception recorded")
	return &ReconciliationResult{ExceptionID: exc.ExceptionID}, nil
}

// suggestReference looks for the closest member reference in the named batch.
func (c *Collector) suggestReference(ctx context.Context, update model.StatusUpdate) string {
	run, err := c.datasource.GetBatchRunByName(ctx, update.BatchName)
	if err != nil {
		return ""
	}
	txns, err := c.datasource.GetTransactionsByRun(ctx, run.RunID)
	if err != nil {
		return ""
	}
	candidates := make([]string, 0, len(txns))
	for _, txn := range txns {
		if txn.MemberReference != update.MemberReference {
			candidates = append(candidates, txn.MemberReference)
		}
	}
	return closestReference(update.MemberReference, candidates, suggestionDrift)
}

func closestReference(target string, candidates []string, allowableDrift float64) string {
	target = strings.ToLower(strings.TrimSpace(target))
	best, bestDistance := "", -1
	for _, candidate := range candidates {
		lower := strings.ToLower(candidate)
		distance := levenshtein.DistanceForStrings([]rune(target), []rune(lower), levenshtein.DefaultOptions)
		maxAllowed := int(float64(max(len(target), len(lower))) * (allowableDrift / 100))
		if distance > maxAllowed {
			continue
		}
		if bestDistance < 0 || distance < bestDistance {
			best, bestDistance = candidate, distance
		}
	}
	return best
}

func (c *Collector) statusMapper() gateway.StatusMapper {
	return gateway.StatusMapper{
		StatusCodes: c.config.Collection.StatusCodes,
		ReasonCodes: c.config.Collection.ReasonCodes,
	}
}

// IngestReport parses a status report and delivers every line as a status update.
// Lines with unknown status codes are logged and returned, never guessed at.
func (c *Collector) IngestReport(ctx context.Context, report string) (delivered int, skipped []string, err error) {
	updates, skipped, err := gateway.ParseStatusReport(report, c.statusMapper())
	if err != nil {
		return 0, nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Status report could not be parsed", err)
	}
	for _, line := range skipped {
		logrus.WithField("line", line).Warn("status report line skipped")
	}

	var errs []error
	for _, update := range updates {
		update.Source = model.SourceReport
		if err := c.deliver(ctx, update); err != nil {
			errs = append(errs, err)
			continue
		}
		delivered++
	}
	return delivered, skipped, errors.Join(errs...)
}

// IngestStatusNotification accepts pushed status updates. Invalid entries are rejected
// up front so nothing is half-delivered.
func (c *Collector) IngestStatusNotification(ctx context.Context, updates []model.StatusUpdate) (int, error) {
	for i := range updates {
		updates[i].Source = model.SourceCallback
		updates[i].Reason = c.statusMapper().Reason(updates[i].ReasonCode, updates[i].Reason)
		if err := validateStatusUpdate(updates[i]); err != nil {
			return 0, fmt.Errorf("update %d: %w", i, err)
		}
	}

	var errs []error
	delivered := 0
	for _, update := range updates {
		if err := c.deliver(ctx, update); err != nil {
			errs = append(errs, err)
			continue
		}
		delivered++
	}
	return delivered, errors.Join(errs...)
}

// deliver routes an update through the status-update queue, or applies it in-line
// when no queue is wired.
func (c *Collector) deliver(ctx context.Context, update model.StatusUpdate) error {
	if c.queue != nil {
		return c.queue.EnqueueStatusUpdate(ctx, update)
	}
	_, err := c.ApplyStatusUpdate(ctx, update)
	return err
}

// PollRun fetches the gateway's status report for an accepted run and delivers its
// outcomes. A report that is not ready yet is not an error.
func (c *Collector) PollRun(ctx context.Context, run *model.BatchRun) (int, error) {
	ctx, span := tracer.Start(ctx, "PollRun")
	defer span.End()

	if c.gateway == nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Gateway client is not configured", nil)
	}
	reference := run.BatchName
	if run.GatewayReference != nil && *run.GatewayReference != "" {
		reference = *run.GatewayReference
	}

	report, err := c.gateway.RequestReport(ctx, reference)
	if err != nil {
		if errors.Is(err, gateway.ErrReportNotReady) {
			logrus.WithField("batch_name", run.BatchName).Info("status report not ready")
			return 0, nil
		}
		return 0, err
	}
	delivered, _, err := c.IngestReport(ctx, report)
	return delivered, err
}

// PollAwaitingRuns polls every accepted run that still has transactions in processing.
func (c *Collector) PollAwaitingRuns(ctx context.Context) (int, error) {
	runs, err := c.datasource.ListRunsAwaitingSettlement(ctx)
	if err != nil {
		return 0, err
	}
	var errs []error
	total := 0
	for _, run := range runs {
		n, err := c.PollRun(ctx, run)
		if err != nil {
			errs = append(errs, fmt.Errorf("poll %s: %w", run.BatchName, err))
		}
		total += n
	}
	return total, errors.Join(errs...)
}
