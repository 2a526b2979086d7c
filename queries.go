package collect

import (
	"context"

	"github.com/blnkfinance/collect/model"
)

// MemberArrears is the arrears position of one member.
type MemberArrears struct {
	MemberReference string `json:"member_reference"`
	ArrearsTotal    int64  `json:"arrears_total"`
}

func (c *Collector) GetBatchRun(ctx context.Context, runID string) (*model.BatchRun, error) {
	return c.datasource.GetBatchRun(ctx, runID)
}

func (c *Collector) ListBatchRuns(ctx context.Context, filter model.RunFilter) ([]*model.BatchRun, error) {
	return c.datasource.ListBatchRuns(ctx, filter)
}

func (c *Collector) ListTransactions(ctx context.Context, filter model.TransactionFilter) ([]*model.Transaction, error) {
	return c.datasource.ListTransactions(ctx, filter)
}

// GetRunTransactions lists a run's transactions after checking the run exists.
func (c *Collector) GetRunTransactions(ctx context.Context, runID string, status model.TransactionStatus) ([]*model.Transaction, error) {
	if _, err := c.datasource.GetBatchRun(ctx, runID); err != nil {
		return nil, err
	}
	return c.datasource.ListTransactions(ctx, model.TransactionFilter{RunID: runID, Status: status, Limit: 1000})
}

func (c *Collector) GetMemberArrears(ctx context.Context, memberReference string) (*MemberArrears, error) {
	profile, err := c.datasource.GetBillingProfile(ctx, memberReference)
	if err != nil {
		return nil, err
	}
	return &MemberArrears{MemberReference: profile.MemberReference, ArrearsTotal: profile.ArrearsTotal}, nil
}

// GetArrearsSummary totals arrears across all members, or one group when groupID is set.
func (c *Collector) GetArrearsSummary(ctx context.Context, groupID string) (model.ArrearsSummary, error) {
	return c.datasource.GetArrearsSummary(ctx, groupID)
}

func (c *Collector) ListEscalations(ctx context.Context, limit, offset int) ([]*model.Escalation, error) {
	return c.datasource.ListEscalations(ctx, limit, offset)
}

func (c *Collector) ListReconciliationExceptions(ctx context.Context, limit, offset int) ([]*model.ReconciliationException, error) {
	return c.datasource.ListReconciliationExceptions(ctx, limit, offset)
}
