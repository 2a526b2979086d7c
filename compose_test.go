package collect

import (
	"context"
	"strings"
	"testing"

	"github.com/blnkfinance/collect/database"
	"github.com/blnkfinance/collect/internal/apierror"
	"github.com/blnkfinance/collect/internal/batchfile"
	"github.com/blnkfinance/collect/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var noGroup = (*string)(nil)

func individual() model.ProfileSelection {
	return model.ProfileSelection{Individual: true}
}

func TestComposeBatch_AllMembersFooter(t *testing.T) {
	env := newTestEnv(t)
	profiles := []*model.BillingProfile{
		fakeProfile("POL-1001", 10000),
		fakeProfile("POL-1002", 25050),
		fakeProfile("POL-1003", 7525),
	}

	env.ds.On("FindActiveBatchRun", mock.Anything, noGroup, testActionDate).Return(nil, nil)
	env.ds.On("GetDueBillingProfiles", mock.Anything, individual(), []int{9, 10, 11}).Return(profiles, nil)
	env.ds.On("GetScheduledRetries", mock.Anything, individual()).Return([]*model.Transaction{}, nil)
	env.ds.On("CountBatchRuns", mock.Anything, noGroup, testActionDate).Return(0, nil)
	env.ds.On("CreateBatchRun", mock.Anything, mock.AnythingOfType("*model.BatchRun"), mock.Anything, []string(nil)).Return(nil)

	comp, err := env.collector.ComposeBatch(context.Background(), ComposeRequest{})
	require.NoError(t, err)

	run := comp.Run
	assert.Equal(t, "DO20240311-ALL-1", run.BatchName)
	assert.Equal(t, model.RunStatusDraft, run.Status)
	assert.False(t, run.IsGroupRun)
	assert.Equal(t, testActionDate, run.ActionDate)
	assert.Equal(t, 3, run.TotalMemberCount)
	assert.Equal(t, int64(42575), run.TotalAmount)
	for _, txn := range comp.Transactions {
		assert.Equal(t, model.StatusPending, txn.Status)
		assert.Equal(t, run.RunID, txn.RunID)
	}

	body, err := env.collector.RenderBatch(run, comp.Transactions)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(body), "\r\n"), "\r\n")
	require.Len(t, lines, 6)
	assert.Equal(t, "F\t3\t42575\t9999", lines[5])
	assert.Equal(t, "H\tsvc-key\t1\tTwoDay\tDO20240311-ALL-1\t20240311\t", lines[0])

	file, err := batchfile.Parse(body)
	require.NoError(t, err)
	assert.Equal(t, "DO20240311-ALL-1", file.Lines[0].Extra1)
	assert.Equal(t, "POL-1001", file.Lines[0].Extra2)
	assert.Equal(t, "20240311", file.Lines[0].Extra3)

	again, err := env.collector.RenderBatch(run, comp.Transactions)
	require.NoError(t, err)
	assert.Equal(t, body, again)

	env.ds.AssertExpectations(t)
}

func TestComposeBatch_IncludeArrears(t *testing.T) {
	env := newTestEnv(t)
	profile := fakeProfile("POL-1001", 10000)
	profile.ArrearsTotal = 5000

	env.ds.On("FindActiveBatchRun", mock.Anything, noGroup, testActionDate).Return(nil, nil)
	env.ds.On("GetDueBillingProfiles", mock.Anything, individual(), mock.Anything).Return([]*model.BillingProfile{profile}, nil)
	env.ds.On("GetScheduledRetries", mock.Anything, individual()).Return([]*model.Transaction{}, nil)
	env.ds.On("CountBatchRuns", mock.Anything, noGroup, testActionDate).Return(0, nil)
	env.ds.On("CreateBatchRun", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	comp, err := env.collector.ComposeBatch(context.Background(), ComposeRequest{IncludeArrears: true})
	require.NoError(t, err)
	assert.Equal(t, int64(15000), comp.Transactions[0].Amount)
	assert.Equal(t, int64(5000), comp.Transactions[0].ArrearsIncluded)
	assert.Equal(t, int64(15000), comp.Run.TotalAmount)
}

func TestComposeBatch_RetriesAreChildRows(t *testing.T) {
	env := newTestEnv(t)

	dueParent := fakeTransaction("txn_due", "POL-1001", 10000, model.StatusFailed)
	dueParent.RetryScheduled = true
	otherParent := fakeTransaction("txn_other", "POL-2002", 8000, model.StatusFailed)
	otherParent.RetryScheduled = true
	otherParent.ParentTransactionID = "txn_first"
	otherParent.RetryCount = 1

	env.ds.On("FindActiveBatchRun", mock.Anything, noGroup, testActionDate).Return(nil, nil)
	env.ds.On("GetDueBillingProfiles", mock.Anything, individual(), mock.Anything).Return([]*model.BillingProfile{fakeProfile("POL-1001", 10000)}, nil)
	env.ds.On("GetScheduledRetries", mock.Anything, individual()).Return([]*model.Transaction{dueParent, otherParent}, nil)
	env.ds.On("CountBatchRuns", mock.Anything, noGroup, testActionDate).Return(1, nil)
	env.ds.On("CreateBatchRun", mock.Anything, mock.Anything, mock.Anything, []string{"txn_other"}).Return(nil)

	comp, err := env.collector.ComposeBatch(context.Background(), ComposeRequest{})
	require.NoError(t, err)

	assert.Equal(t, "DO20240311-ALL-2", comp.Run.BatchName)
	assert.Equal(t, []string{"txn_due"}, comp.DeferredRetries)
	require.Len(t, comp.Transactions, 2)

	retry := comp.Transactions[1]
	assert.Equal(t, "txn_other", retry.ParentTransactionID)
	assert.Equal(t, "POL-2002", retry.MemberReference)
	assert.Equal(t, 1, retry.RetryCount)
	assert.Equal(t, model.StatusPending, retry.Status)
	assert.NotEqual(t, "txn_other", retry.TransactionID)
	assert.Equal(t, int64(18000), comp.Run.TotalAmount)
	env.ds.AssertExpectations(t)
}

func TestComposeBatch_EmptySelection(t *testing.T) {
	env := newTestEnv(t)

	env.ds.On("FindActiveBatchRun", mock.Anything, noGroup, testActionDate).Return(nil, nil)
	env.ds.On("GetDueBillingProfiles", mock.Anything, individual(), mock.Anything).Return([]*model.BillingProfile{}, nil)
	env.ds.On("GetScheduledRetries", mock.Anything, individual()).Return([]*model.Transaction{}, nil)
	env.ds.On("CountBatchRuns", mock.Anything, noGroup, testActionDate).Return(0, nil)

	_, err := env.collector.ComposeBatch(context.Background(), ComposeRequest{})
	assert.ErrorIs(t, err, ErrEmptyBatch)
	assert.True(t, apierror.IsCode(err, apierror.ErrUnprocessable))
	env.ds.AssertNotCalled(t, "CreateBatchRun", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestComposeBatch_InvalidBankingDetailsExcluded(t *testing.T) {
	env := newTestEnv(t)
	bad := fakeProfile("POL-BAD", 10000)
	bad.BankAccount.BranchCode = "12-34"

	env.ds.On("FindActiveBatchRun", mock.Anything, noGroup, testActionDate).Return(nil, nil)
	env.ds.On("GetDueBillingProfiles", mock.Anything, individual(), mock.Anything).Return([]*model.BillingProfile{bad, fakeProfile("POL-1", 500)}, nil)
	env.ds.On("GetScheduledRetries", mock.Anything, individual()).Return([]*model.Transaction{}, nil)
	env.ds.On("CountBatchRuns", mock.Anything, noGroup, testActionDate).Return(0, nil)
	env.ds.On("CreateBatchRun", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	comp, err := env.collector.ComposeBatch(context.Background(), ComposeRequest{})
	require.NoError(t, err)
	assert.Equal(t, []string{"POL-BAD"}, comp.Excluded)
	assert.Equal(t, 1, comp.Run.TotalMemberCount)
}

func TestComposeBatch_GroupRun(t *testing.T) {
	env := newTestEnv(t)
	groupID := "grp_acme"
	group := &model.PaymentGroup{GroupID: groupID, Name: "Acme", CollectionMethod: model.CollectionGroup}
	selection := model.ProfileSelection{GroupID: &groupID}

	env.ds.On("GetPaymentGroup", mock.Anything, groupID).Return(group, nil)
	env.ds.On("FindActiveBatchRun", mock.Anything, &groupID, testActionDate).Return(nil, nil)
	env.ds.On("GetDueBillingProfiles", mock.Anything, selection, mock.Anything).Return([]*model.BillingProfile{fakeProfile("POL-1", 500)}, nil)
	env.ds.On("GetScheduledRetries", mock.Anything, selection).Return([]*model.Transaction{}, nil)
	env.ds.On("CountBatchRuns", mock.Anything, &groupID, testActionDate).Return(0, nil)
	env.ds.On("CreateBatchRun", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	comp, err := env.collector.ComposeBatch(context.Background(), ComposeRequest{GroupID: &groupID})
	require.NoError(t, err)
	assert.True(t, comp.Run.IsGroupRun)
	assert.Equal(t, "DO20240311-grp_acme-1", comp.Run.BatchName)
}

func TestComposeBatch_GroupCollectedIndividually(t *testing.T) {
	env := newTestEnv(t)
	groupID := "grp_solo"
	env.ds.On("GetPaymentGroup", mock.Anything, groupID).Return(&model.PaymentGroup{GroupID: groupID, CollectionMethod: model.CollectionIndividual}, nil)

	_, err := env.collector.ComposeBatch(context.Background(), ComposeRequest{GroupID: &groupID})
	assert.ErrorIs(t, err, ErrGroupNotCollectable)
	env.ds.AssertNotCalled(t, "FindActiveBatchRun", mock.Anything, mock.Anything, mock.Anything)
}

func TestComposeBatch_ActiveRunBlocksDuplicate(t *testing.T) {
	env := newTestEnv(t)
	existing := fakeRun(model.RunStatusAccepted)
	env.ds.On("FindActiveBatchRun", mock.Anything, noGroup, testActionDate).Return(existing, nil)

	_, err := env.collector.ComposeBatch(context.Background(), ComposeRequest{})
	assert.ErrorIs(t, err, database.ErrDuplicateRun)
	assert.True(t, apierror.IsCode(err, apierror.ErrConflict))
	env.ds.AssertNotCalled(t, "GetDueBillingProfiles", mock.Anything, mock.Anything, mock.Anything)
}

func TestComposeBatch_LockHeld(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.redis.Set("collect:lock:compose:ALL:2024-03-11", "other-worker"))

	_, err := env.collector.ComposeBatch(context.Background(), ComposeRequest{})
	assert.ErrorIs(t, err, ErrCompositionInProgress)
	env.ds.AssertNotCalled(t, "FindActiveBatchRun", mock.Anything, mock.Anything, mock.Anything)
}

func TestComposeBatch_ReleasesLock(t *testing.T) {
	env := newTestEnv(t)
	env.ds.On("FindActiveBatchRun", mock.Anything, noGroup, testActionDate).Return(fakeRun(model.RunStatusDraft), nil)

	_, err := env.collector.ComposeBatch(context.Background(), ComposeRequest{})
	require.Error(t, err)
	assert.False(t, env.redis.Exists("collect:lock:compose:ALL:2024-03-11"))
}

func TestComposeBatch_AutoSubmit(t *testing.T) {
	env := newTestEnv(t)
	env.gw.result = acceptedResult()

	stored := &model.BatchRun{}
	getTxns := env.ds.On("GetTransactionsByRun", mock.Anything, mock.Anything)
	env.ds.On("FindActiveBatchRun", mock.Anything, noGroup, testActionDate).Return(nil, nil)
	env.ds.On("GetDueBillingProfiles", mock.Anything, individual(), mock.Anything).Return([]*model.BillingProfile{fakeProfile("POL-1", 500)}, nil)
	env.ds.On("GetScheduledRetries", mock.Anything, individual()).Return([]*model.Transaction{}, nil)
	env.ds.On("CountBatchRuns", mock.Anything, noGroup, testActionDate).Return(0, nil)
	env.ds.On("CreateBatchRun", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			*stored = *args.Get(1).(*model.BatchRun)
			getTxns.ReturnArguments = mock.Arguments{args.Get(2).([]*model.Transaction), nil}
		}).Return(nil)
	env.ds.On("GetBatchRun", mock.Anything, mock.Anything).Return(stored, nil)
	env.ds.On("MarkRunSubmitted", mock.Anything, mock.Anything, "BatchFileUpload", testToday).Return(nil)
	env.ds.On("MarkRunAccepted", mock.Anything, mock.Anything, "file-token-1").Return(nil)

	comp, err := env.collector.ComposeBatch(context.Background(), ComposeRequest{AutoSubmit: true})
	require.NoError(t, err)
	require.NotNil(t, comp.Submission)
	assert.True(t, comp.Submission.Accepted)
	assert.Equal(t, 1, env.gw.submissions())
	env.ds.AssertCalled(t, "MarkRunAccepted", mock.Anything, comp.Run.RunID, "file-token-1")
}

func TestBatchName(t *testing.T) {
	assert.Equal(t, "DO20240311-ALL-3", BatchName(testActionDate, model.AllRunsKey, 3))
}
