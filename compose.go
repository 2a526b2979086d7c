package collect

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/blnkfinance/collect/database"
	"github.com/blnkfinance/collect/internal/actiondate"
	"github.com/blnkfinance/collect/internal/apierror"
	"github.com/blnkfinance/collect/internal/gateway"
	redlock "github.com/blnkfinance/collect/internal/lock"
	"github.com/blnkfinance/collect/model"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

const compositionLockTTL = 2 * time.Minute

var (
	ErrEmptyBatch            = errors.New("no members are due for collection")
	ErrGroupNotCollectable   = errors.New("payment group is not collected as a group")
	ErrCompositionInProgress = errors.New("another composition holds this slot")
)

// ComposeRequest selects what a batch run collects. A nil GroupID composes the
// all-members run.
type ComposeRequest struct {
	GroupID        *string `json:"group_id,omitempty"`
	AutoSubmit     bool    `json:"auto_submit"`
	IncludeArrears bool    `json:"include_arrears"`
}

// Composition is a freshly written draft run. Excluded lists members whose banking
// details could not be encoded and were left out of the run.
type Composition struct {
	Run             *model.BatchRun       `json:"run"`
	Transactions    []*model.Transaction  `json:"transactions"`
	Excluded        []string              `json:"excluded,omitempty"`
	DeferredRetries []string              `json:"deferred_retries,omitempty"`
	Submission      *gateway.SubmitResult `json:"submission,omitempty"`
}

// BatchName is DO<action date>-<ALL|group id>-<attempt>.
func BatchName(actionDate time.Time, compositionKey string, attempt int) string {
	return fmt.Sprintf("DO%s-%s-%d", actionDate.Format("20060102"), compositionKey, attempt)
}

func (c *Collector) selection(ctx context.Context, groupID *string) (model.ProfileSelection, error) {
	if groupID == nil || *groupID == "" {
		return model.ProfileSelection{Individual: true}, nil
	}
	group, err := c.datasource.GetPaymentGroup(ctx, *groupID)
	if err != nil {
		return model.ProfileSelection{}, err
	}
	if group.CollectionMethod != model.CollectionGroup {
		return model.ProfileSelection{}, apierror.NewAPIError(apierror.ErrUnprocessable,
			fmt.Sprintf("Payment group '%s' collects individually", group.GroupID), ErrGroupNotCollectable)
	}
	return model.ProfileSelection{GroupID: &group.GroupID}, nil
}

// ComposeBatch selects the members due on the next action date and writes a draft run
// with one pending transaction per member, plus retry attempts for failures scheduled
// for retry. Composition for one group slot and action date is single-writer.
func (c *Collector) ComposeBatch(ctx context.Context, req ComposeRequest) (*Composition, error) {
	ctx, span := tracer.Start(ctx, "ComposeBatch")
	defer span.End()

	if req.GroupID != nil && *req.GroupID == "" {
		req.GroupID = nil
	}
	selection, err := c.selection(ctx, req.GroupID)
	if err != nil {
		return nil, err
	}

	today := c.today()
	local := actiondate.Next(today, c.config.Collection.LeadDays)
	actionDate := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
	key := model.CompositionKey(req.GroupID)
	span.SetAttributes(attribute.String("composition.key", key), attribute.String("action_date", actionDate.Format("2006-01-02")))

	if c.redis != nil {
		locker := redlock.NewLocker(c.redis, redlock.CompositionLockName(key, actionDate), model.GenerateUUIDWithSuffix("compose"))
		if err := locker.Lock(ctx, compositionLockTTL); err != nil {
			if errors.Is(err, redlock.ErrLockHeld) {
				return nil, apierror.NewAPIError(apierror.ErrConflict, "A batch for this group and action date is already being composed", ErrCompositionInProgress)
			}
			return nil, err
		}
		defer func() {
			if err := locker.Unlock(context.Background()); err != nil {
				logrus.WithError(err).Warn("release composition lock")
			}
		}()
	}

	active, err := c.datasource.FindActiveBatchRun(ctx, req.GroupID, actionDate)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, apierror.NewAPIError(apierror.ErrConflict,
			fmt.Sprintf("Batch run %s is already %s for this action date", active.BatchName, active.Status), database.ErrDuplicateRun)
	}

	profiles, err := c.datasource.GetDueBillingProfiles(ctx, selection, actiondate.DebitDays(actionDate))
	if err != nil {
		return nil, err
	}
	retries, err := c.datasource.GetScheduledRetries(ctx, selection)
	if err != nil {
		return nil, err
	}

	attempts, err := c.datasource.CountBatchRuns(ctx, req.GroupID, actionDate)
	if err != nil {
		return nil, err
	}

	now := c.now().UTC()
	run := &model.BatchRun{
		RunID:      model.GenerateUUIDWithSuffix("run"),
		BatchName:  BatchName(actionDate, key, attempts+1),
		ActionDate: actionDate,
		Status:     model.RunStatusDraft,
		IsGroupRun: req.GroupID != nil,
		GroupID:    req.GroupID,
		Operation:  c.gatewayOperation(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	comp := &Composition{Run: run}

	due := make(map[string]bool, len(profiles))
	for _, profile := range profiles {
		amount, arrears := profile.MonthlyAmount, int64(0)
		if req.IncludeArrears {
			arrears = profile.ArrearsTotal
			amount += arrears
		}
		txn := &model.Transaction{
			TransactionID:   model.GenerateUUIDWithSuffix("txn"),
			RunID:           run.RunID,
			MemberReference: profile.MemberReference,
			AccountName:     profile.AccountName,
			Amount:          amount,
			ArrearsIncluded: arrears,
			Status:          model.StatusPending,
			BankAccount:     profile.BankAccount,
			Email:           profile.Email,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := validateLine(run, txn); err != nil {
			logrus.WithFields(logrus.Fields{"member_reference": profile.MemberReference, "error": err}).Warn("member excluded from batch")
			comp.Excluded = append(comp.Excluded, profile.MemberReference)
			continue
		}
		due[profile.MemberReference] = true
		comp.Transactions = append(comp.Transactions, txn)
	}

	var retriedParents []string
	for _, parent := range retries {
		// A member already being collected this cycle keeps its retry for the next one.
		if due[parent.MemberReference] {
			comp.DeferredRetries = append(comp.DeferredRetries, parent.TransactionID)
			continue
		}
		txn := &model.Transaction{
			TransactionID:       model.GenerateUUIDWithSuffix("txn"),
			RunID:               run.RunID,
			ParentTransactionID: parent.TransactionID,
			MemberReference:     parent.MemberReference,
			AccountName:         parent.AccountName,
			Amount:              parent.Amount,
			ArrearsIncluded:     parent.ArrearsIncluded,
			Status:              model.StatusPending,
			RetryCount:          parent.RetryCount,
			BankAccount:         parent.BankAccount,
			Email:               parent.Email,
			CreatedAt:           now,
			UpdatedAt:           now,
		}
		if err := validateLine(run, txn); err != nil {
			logrus.WithFields(logrus.Fields{"transaction_id": parent.TransactionID, "error": err}).Warn("retry excluded from batch")
			comp.Excluded = append(comp.Excluded, parent.MemberReference)
			continue
		}
		due[parent.MemberReference] = true
		retriedParents = append(retriedParents, parent.TransactionID)
		comp.Transactions = append(comp.Transactions, txn)
	}

	if len(comp.Transactions) == 0 {
		return nil, apierror.NewAPIError(apierror.ErrUnprocessable, "No members are due for collection on "+actionDate.Format("2006-01-02"), ErrEmptyBatch)
	}

	for _, txn := range comp.Transactions {
		run.TotalMemberCount++
		run.TotalAmount += txn.Amount
	}
	if err := run.VerifyTotals(comp.Transactions); err != nil {
		return nil, err
	}

	if err := c.datasource.CreateBatchRun(ctx, run, comp.Transactions, retriedParents); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"run_id":       run.RunID,
		"batch_name":   run.BatchName,
		"action_date":  actionDate.Format("2006-01-02"),
		"members":      run.TotalMemberCount,
		"total_amount": run.TotalAmount,
		"retries":      len(retriedParents),
	}).Info("batch run composed")
	c.emit(ctx, "batch_run.created", run)

	if req.AutoSubmit {
		submitted, result, err := c.SubmitBatchRun(ctx, run.RunID)
		if submitted != nil {
			comp.Run = submitted
		}
		comp.Submission = result
		return comp, err
	}
	return comp, nil
}

func (c *Collector) gatewayOperation() string {
	if c.gateway != nil {
		return c.gateway.Operation()
	}
	return c.config.Gateway.UploadOperationName()
}
