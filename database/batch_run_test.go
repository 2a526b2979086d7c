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

package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/blnkfinance/collect/internal/apierror"
	"github.com/blnkfinance/collect/model"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDraftRun() (*model.BatchRun, []*model.Transaction) {
	now := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	run := &model.BatchRun{
		RunID:            "run_1",
		BatchName:        "DO20240306-ALL-1",
		ActionDate:       time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC),
		Status:           model.RunStatusDraft,
		TotalMemberCount: 2,
		TotalAmount:      35050,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	txns := []*model.Transaction{
		{TransactionID: "txn_1", RunID: "run_1", MemberReference: "M001", AccountName: "A Member", Amount: 10000, Status: model.StatusPending,
			BankAccount: model.BankAccount{HolderName: "A Member", AccountType: 1, BranchCode: "250655", AccountNumber: "62000000001"}, CreatedAt: now, UpdatedAt: now},
		{TransactionID: "txn_2", RunID: "run_1", ParentTransactionID: "txn_0", MemberReference: "M002", AccountName: "B Member", Amount: 25050, Status: model.StatusPending, RetryCount: 1,
			BankAccount: model.BankAccount{HolderName: "B Member", AccountType: 2, BranchCode: "632005", AccountNumber: "40000000002"}, CreatedAt: now, UpdatedAt: now},
	}
	return run, txns
}

func TestCreateBatchRun_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	ds := Datasource{Conn: db}

	run, txns := newDraftRun()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO collect.batch_runs").
		WithArgs(run.RunID, run.BatchName, run.ActionDate, run.Status, false, nil, 2, int64(35050), "", "", run.CreatedAt, run.UpdatedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))
	prep := mock.ExpectPrepare("INSERT INTO collect.transactions")
	prep.ExpectExec().WithArgs("txn_1", "run_1", "", "M001", "A Member", int64(10000), int64(0), model.StatusPending, 0, "A Member", 1, "250655", "62000000001", "", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	prep.ExpectExec().WithArgs("txn_2", "run_1", "txn_0", "M002", "B Member", int64(25050), int64(0), model.StatusPending, 1, "B Member", 2, "632005", "40000000002", "", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectExec("UPDATE collect.transactions SET retry_scheduled = FALSE").
		WithArgs(pq.Array([]string{"txn_0"})).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = ds.CreateBatchRun(context.Background(), run, txns, []string{"txn_0"})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateBatchRun_DuplicateKey(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	ds := Datasource{Conn: db}

	run, txns := newDraftRun()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO collect.batch_runs").
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint \"uniq_batch_runs_active_key\""})
	mock.ExpectRollback()

	err = ds.CreateBatchRun(context.Background(), run, txns, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateRun))
	assert.True(t, apierror.IsCode(err, apierror.ErrConflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateBatchRun_RetryAlreadyClaimed(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	ds := Datasource{Conn: db}

	run, txns := newDraftRun()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO collect.batch_runs").WillReturnResult(sqlmock.NewResult(1, 1))
	prep := mock.ExpectPrepare("INSERT INTO collect.transactions")
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(1, 1))
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectExec("UPDATE collect.transactions SET retry_scheduled = FALSE").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err = ds.CreateBatchRun(context.Background(), run, txns, []string{"txn_0"})
	assert.True(t, errors.Is(err, ErrDuplicateRun))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func batchRunRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"run_id", "batch_name", "action_date", "status", "is_group_run", "group_id", "total_member_count",
		"total_amount", "operation", "gateway_reference", "submitted_at", "error_message", "created_at", "updated_at"})
}

func TestFindActiveBatchRun(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	ds := Datasource{Conn: db}

	actionDate := time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC)
	now := time.Now()

	mock.ExpectQuery("FROM collect.batch_runs").
		WithArgs("", actionDate).
		WillReturnRows(batchRunRows().AddRow("run_1", "DO20240306-ALL-1", actionDate, "submitted", false, nil, 3, 42575,
			"BatchFileUpload", nil, now, "gateway outcome unknown", now, now))

	run, err := ds.FindActiveBatchRun(context.Background(), nil, actionDate)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, model.RunStatusSubmitted, run.Status)
	assert.Equal(t, int64(42575), run.TotalAmount)
	assert.Nil(t, run.GroupID)

	group := "GRP1"
	mock.ExpectQuery("FROM collect.batch_runs").WithArgs("GRP1", actionDate).WillReturnRows(batchRunRows())
	run, err = ds.FindActiveBatchRun(context.Background(), &group, actionDate)
	assert.NoError(t, err)
	assert.Nil(t, run)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkRunAccepted(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	ds := Datasource{Conn: db}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE collect.batch_runs SET status = 'accepted'").
		WithArgs("run_1", "FILE-TOKEN-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE collect.transactions SET status = 'processing'").
		WithArgs("run_1").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	assert.NoError(t, ds.MarkRunAccepted(context.Background(), "run_1", "FILE-TOKEN-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkRunSubmitted_WrongState(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	ds := Datasource{Conn: db}

	mock.ExpectExec("UPDATE collect.batch_runs SET status = 'submitted'").
		WithArgs("run_1", "BatchFileUpload", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = ds.MarkRunSubmitted(context.Background(), "run_1", "BatchFileUpload", time.Now())
	assert.True(t, errors.Is(err, model.ErrInvalidRunTransition))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReopenBatchRun_Duplicate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	ds := Datasource{Conn: db}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE collect.batch_runs SET status = 'draft'").
		WithArgs("run_1").
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	err = ds.ReopenBatchRun(context.Background(), "run_1")
	assert.True(t, errors.Is(err, ErrDuplicateRun))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkRunRejected_RestoresScheduledRetries(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	ds := Datasource{Conn: db}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE collect.batch_runs SET status = 'rejected'").
		WithArgs("run_1", "gateway unavailable").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE collect.transactions p SET retry_scheduled = \$2(.|\n)*c.parent_transaction_id = p.transaction_id`).
		WithArgs("run_1", true, false).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	assert.NoError(t, ds.MarkRunRejected(context.Background(), "run_1", "gateway unavailable"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkRunRejected_WrongStateLeavesRetries(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	ds := Datasource{Conn: db}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE collect.batch_runs SET status = 'rejected'").
		WithArgs("run_1", "late").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err = ds.MarkRunRejected(context.Background(), "run_1", "late")
	assert.True(t, errors.Is(err, model.ErrInvalidRunTransition))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReopenBatchRun_ReclaimsRetries(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	ds := Datasource{Conn: db}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE collect.batch_runs SET status = 'draft'").
		WithArgs("run_1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT COUNT").
		WithArgs("run_1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectExec(`UPDATE collect.transactions p SET retry_scheduled = \$2`).
		WithArgs("run_1", false, true).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	assert.NoError(t, ds.ReopenBatchRun(context.Background(), "run_1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReopenBatchRun_RetryClaimedElsewhere(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	ds := Datasource{Conn: db}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE collect.batch_runs SET status = 'draft'").
		WithArgs("run_1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT COUNT").
		WithArgs("run_1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectExec(`UPDATE collect.transactions p SET retry_scheduled = \$2`).
		WithArgs("run_1", false, true).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	err = ds.ReopenBatchRun(context.Background(), "run_1")
	assert.True(t, apierror.IsCode(err, apierror.ErrConflict))
	assert.True(t, errors.Is(err, ErrDuplicateRun))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListBatchRuns_Filters(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	ds := Datasource{Conn: db}

	now := time.Now()
	mock.ExpectQuery(`WHERE status = \$1 AND group_id = \$2 ORDER BY created_at DESC LIMIT \$3 OFFSET \$4`).
		WithArgs(model.RunStatusAccepted, "GRP1", 10, 20).
		WillReturnRows(batchRunRows().AddRow("run_2", "DO20240306-GRP1-1", now, "accepted", true, "GRP1", 1, 500, "BatchFileUpload", "TOKEN", now, "", now, now))

	runs, err := ds.ListBatchRuns(context.Background(), model.RunFilter{Status: model.RunStatusAccepted, GroupID: "GRP1", Limit: 10, Offset: 20})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.NotNil(t, runs[0].GroupID)
	assert.Equal(t, "GRP1", *runs[0].GroupID)
	assert.Equal(t, "TOKEN", *runs[0].GatewayReference)
	assert.NoError(t, mock.ExpectationsWereMet())
}
