package collect

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/blnkfinance/collect/internal/actiondate"
	"github.com/blnkfinance/collect/internal/apierror"
	"github.com/blnkfinance/collect/internal/batchfile"
	"github.com/blnkfinance/collect/internal/gateway"
	"github.com/blnkfinance/collect/internal/notification"
	"github.com/blnkfinance/collect/model"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// outcomeUnknownPrefix marks a submitted run whose upload may or may not have landed.
const outcomeUnknownPrefix = "gateway outcome unknown"

// ErrActionDateTooSoon is returned for a run whose action date no longer leaves the
// gateway its business-day lead time. Such a run needs a fresh composition.
var ErrActionDateTooSoon = errors.New("action date is inside the submission lead time")

// checkLeadTime refuses to upload a run the gateway would have to collect late.
func (c *Collector) checkLeadTime(run *model.BatchRun) error {
	t, a := c.today(), run.ActionDate
	today := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	action := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	if actiondate.BusinessDaysBetween(today, action) >= c.config.Collection.LeadDays {
		return nil
	}
	return apierror.NewAPIError(apierror.ErrUnprocessable,
		fmt.Sprintf("Batch run %s has action date %s, which is less than %d business days away; compose a new run",
			run.BatchName, action.Format("2006-01-02"), c.config.Collection.LeadDays),
		ErrActionDateTooSoon)
}

func toLine(run *model.BatchRun, txn *model.Transaction) batchfile.Line {
	return batchfile.Line{
		AccountReference:  txn.MemberReference,
		AccountName:       txn.AccountName,
		BankingDetailType: batchfile.BankingDetailTypeBankAccount,
		AccountHolder:     txn.BankAccount.HolderName,
		AccountType:       txn.BankAccount.AccountType,
		BranchCode:        txn.BankAccount.BranchCode,
		AccountNumber:     txn.BankAccount.AccountNumber,
		Amount:            txn.Amount,
		Email:             txn.Email,
		Extra1:            run.BatchName,
		Extra2:            txn.MemberReference,
		Extra3:            run.ActionDate.Format(batchfile.DateLayout),
	}
}

func validateLine(run *model.BatchRun, txn *model.Transaction) error {
	return toLine(run, txn).Validate()
}

// RenderBatch encodes a run and its transactions as the batch body. The same run
// always renders to the same bytes.
func (c *Collector) RenderBatch(run *model.BatchRun, txns []*model.Transaction) ([]byte, error) {
	if err := run.VerifyTotals(txns); err != nil {
		return nil, err
	}
	builder := batchfile.NewBuilder(batchfile.Header{
		ServiceKey:        c.config.Gateway.ServiceKey,
		BatchTiming:       c.config.Collection.BatchTiming,
		BatchName:         run.BatchName,
		ActionDate:        run.ActionDate,
		SoftwareVendorKey: c.config.Gateway.SoftwareVendorKey,
	})
	for _, txn := range txns {
		if err := builder.Add(toLine(run, txn)); err != nil {
			return nil, err
		}
	}
	return builder.Build()
}

// SubmitBatchRun renders a draft run, marks it submitted and uploads it. The returned
// run reflects the state after the gateway answered.
func (c *Collector) SubmitBatchRun(ctx context.Context, runID string) (*model.BatchRun, *gateway.SubmitResult, error) {
	ctx, span := tracer.Start(ctx, "SubmitBatchRun")
	defer span.End()
	span.SetAttributes(attribute.String("run.id", runID))

	run, err := c.datasource.GetBatchRun(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	if run.Status != model.RunStatusDraft {
		return run, nil, apierror.NewAPIError(apierror.ErrConflict,
			fmt.Sprintf("Batch run %s is %s, only draft runs can be submitted", run.BatchName, run.Status), model.ErrInvalidRunTransition)
	}
	if err := c.checkLeadTime(run); err != nil {
		return run, nil, err
	}
	return c.upload(ctx, run, false)
}

// ResubmitBatchRun is the manual recovery path. A rejected run is reopened as a draft
// (guarded by the same uniqueness rule as composition) and submitted again. A run left
// submitted by an ambiguous timeout is uploaded again under the same batch name. A draft
// or rejected run whose action date has come inside the lead time is refused.
func (c *Collector) ResubmitBatchRun(ctx context.Context, runID string) (*model.BatchRun, *gateway.SubmitResult, error) {
	ctx, span := tracer.Start(ctx, "ResubmitBatchRun")
	defer span.End()

	run, err := c.datasource.GetBatchRun(ctx, runID)
	if err != nil {
		return nil, nil, err
	}

	switch run.Status {
	case model.RunStatusDraft:
		if err := c.checkLeadTime(run); err != nil {
			return run, nil, err
		}
		return c.upload(ctx, run, false)
	case model.RunStatusRejected:
		if err := c.checkLeadTime(run); err != nil {
			return run, nil, err
		}
		if err := c.datasource.ReopenBatchRun(ctx, runID); err != nil {
			return run, nil, err
		}
		run.Status = model.RunStatusDraft
		return c.upload(ctx, run, false)
	case model.RunStatusSubmitted:
		if strings.HasPrefix(run.ErrorMessage, outcomeUnknownPrefix) {
			return c.upload(ctx, run, true)
		}
	}
	return run, nil, apierror.NewAPIError(apierror.ErrConflict,
		fmt.Sprintf("Batch run %s is %s and cannot be resubmitted", run.BatchName, run.Status), model.ErrInvalidRunTransition)
}

func (c *Collector) upload(ctx context.Context, run *model.BatchRun, alreadySubmitted bool) (*model.BatchRun, *gateway.SubmitResult, error) {
	if c.gateway == nil {
		return run, nil, apierror.NewAPIError(apierror.ErrInternalServer, "Gateway client is not configured", nil)
	}

	txns, err := c.datasource.GetTransactionsByRun(ctx, run.RunID)
	if err != nil {
		return run, nil, err
	}
	body, err := c.RenderBatch(run, txns)
	if err != nil {
		msg := "batch could not be encoded: " + err.Error()
		if markErr := c.datasource.MarkRunRejected(ctx, run.RunID, msg); markErr != nil {
			logrus.WithError(markErr).Error("mark unencodable run rejected")
		}
		return c.reload(ctx, run), nil, apierror.NewAPIError(apierror.ErrUnprocessable, msg, err)
	}

	if !alreadySubmitted {
		if err := c.datasource.MarkRunSubmitted(ctx, run.RunID, c.gateway.Operation(), c.now().UTC()); err != nil {
			return run, nil, err
		}
	}

	if c.archive != nil {
		if key, err := c.archive.Store(ctx, run.BatchName, run.ActionDate, body); err != nil {
			logrus.WithError(err).WithField("batch_name", run.BatchName).Warn("batch archive failed")
		} else {
			logrus.WithField("key", key).Debug("batch archived")
		}
	}

	result, err := c.gateway.Submit(ctx, run.BatchName, body)
	switch {
	case errors.Is(err, gateway.ErrOutcomeUnknown):
		msg := fmt.Sprintf("%s: %v", outcomeUnknownPrefix, err)
		if setErr := c.datasource.SetRunErrorMessage(ctx, run.RunID, msg); setErr != nil {
			logrus.WithError(setErr).Error("record unknown gateway outcome")
		}
		notification.NotifyOperator("batch_run.outcome_unknown", "Batch upload outcome unknown",
			[][2]string{{"batch_name", run.BatchName}, {"error", err.Error()}}, run)
		return c.reload(ctx, run), nil, apierror.NewAPIError(apierror.ErrGatewayUnavailable, msg, err)

	case err != nil:
		msg := "gateway unreachable: " + err.Error()
		if markErr := c.datasource.MarkRunRejected(ctx, run.RunID, msg); markErr != nil {
			logrus.WithError(markErr).Error("mark run rejected after transport failure")
		}
		notification.NotifyError(fmt.Errorf("batch %s: %w", run.BatchName, err))
		return c.reload(ctx, run), nil, apierror.NewAPIError(apierror.ErrGatewayUnavailable, msg, err)
	}

	if result.Accepted {
		if err := c.datasource.MarkRunAccepted(ctx, run.RunID, result.GatewayReference); err != nil {
			return run, result, err
		}
		logrus.WithFields(logrus.Fields{"batch_name": run.BatchName, "gateway_reference": result.GatewayReference}).Info("batch accepted by gateway")
		accepted := c.reload(ctx, run)
		c.emit(ctx, "batch_run.accepted", accepted)
		return accepted, result, nil
	}

	msg := fmt.Sprintf("gateway rejected batch: %s", result.Outcome)
	if result.ResultCode != "" {
		msg += " (code " + result.ResultCode + ")"
	}
	if err := c.datasource.MarkRunRejected(ctx, run.RunID, msg); err != nil {
		return run, result, err
	}
	rejected := c.reload(ctx, run)
	notification.NotifyOperator("batch_run.rejected", "Batch rejected by gateway", [][2]string{
		{"batch_name", run.BatchName},
		{"outcome", string(result.Outcome)},
		{"response", result.RawExcerpt},
	}, rejected)
	return rejected, result, nil
}

// reload re-reads a run after a state change, falling back to the stale copy.
func (c *Collector) reload(ctx context.Context, run *model.BatchRun) *model.BatchRun {
	fresh, err := c.datasource.GetBatchRun(ctx, run.RunID)
	if err != nil {
		logrus.WithError(err).WithField("run_id", run.RunID).Warn("reload batch run")
		return run
	}
	return fresh
}
