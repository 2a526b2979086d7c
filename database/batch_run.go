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
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/blnkfinance/collect/internal/apierror"
	"github.com/blnkfinance/collect/model"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
)

const batchRunColumns = `run_id, batch_name, action_date, status, is_group_run, group_id, total_member_count,
	total_amount, operation, gateway_reference, submitted_at, error_message, created_at, updated_at`

func scanBatchRun(row scanner) (*model.BatchRun, error) {
	run := &model.BatchRun{}
	err := row.Scan(
		&run.RunID, &run.BatchName, &run.ActionDate, &run.Status, &run.IsGroupRun, &run.GroupID,
		&run.TotalMemberCount, &run.TotalAmount, &run.Operation, &run.GatewayReference,
		&run.SubmittedAt, &run.ErrorMessage, &run.CreatedAt, &run.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return run, nil
}

// CreateBatchRun writes a draft run, its transactions and the retry hand-off of the
// parents it retries in one database transaction. The partial unique index on
// (group, action date) turns a concurrent or repeated composition into ErrDuplicateRun.
func (d Datasource) CreateBatchRun(ctx context.Context, run *model.BatchRun, txns []*model.Transaction, retriedParentIDs []string) error {
	ctx, span := otel.Tracer("collect.database").Start(ctx, "CreateBatchRun")
	defer span.End()

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO collect.batch_runs (run_id, batch_name, action_date, status, is_group_run, group_id,
			total_member_count, total_amount, operation, error_message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, run.RunID, run.BatchName, run.ActionDate, run.Status, run.IsGroupRun, run.GroupID,
		run.TotalMemberCount, run.TotalAmount, run.Operation, run.ErrorMessage, run.CreatedAt, run.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apierror.NewAPIError(apierror.ErrConflict, "A batch run already exists for this action date", fmt.Errorf("%w: %v", ErrDuplicateRun, err))
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create batch run", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO collect.transactions (transaction_id, run_id, parent_transaction_id, member_reference, account_name,
			amount, arrears_included, status, retry_count, account_holder, account_type, branch_code, account_number, email,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to prepare transaction insert", err)
	}
	defer stmt.Close()

	for _, txn := range txns {
		_, err = stmt.ExecContext(ctx, txn.TransactionID, txn.RunID, txn.ParentTransactionID, txn.MemberReference, txn.AccountName,
			txn.Amount, txn.ArrearsIncluded, txn.Status, txn.RetryCount, txn.BankAccount.HolderName, txn.BankAccount.AccountType,
			txn.BankAccount.BranchCode, txn.BankAccount.AccountNumber, txn.Email, txn.CreatedAt, txn.UpdatedAt)
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, fmt.Sprintf("Failed to record transaction for member %s", txn.MemberReference), err)
		}
	}

	if len(retriedParentIDs) > 0 {
		result, err := tx.ExecContext(ctx, `
			UPDATE collect.transactions SET retry_scheduled = FALSE, updated_at = NOW()
			WHERE transaction_id = ANY($1) AND retry_scheduled = TRUE
		`, pq.Array(retriedParentIDs))
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to hand off scheduled retries", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to hand off scheduled retries", err)
		}
		if int(affected) != len(retriedParentIDs) {
			return apierror.NewAPIError(apierror.ErrConflict, "Scheduled retries were claimed by another run", fmt.Errorf("%w: claimed %d of %d retries", ErrDuplicateRun, affected, len(retriedParentIDs)))
		}
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return apierror.NewAPIError(apierror.ErrConflict, "A batch run already exists for this action date", fmt.Errorf("%w: %v", ErrDuplicateRun, err))
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit batch run", err)
	}

	return nil
}

func (d Datasource) GetBatchRun(ctx context.Context, runID string) (*model.BatchRun, error) {
	row := d.Conn.QueryRowContext(ctx, `SELECT `+batchRunColumns+` FROM collect.batch_runs WHERE run_id = $1`, runID)
	run, err := scanBatchRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Batch run with ID '%s' not found", runID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve batch run", err)
	}
	return run, nil
}

func (d Datasource) GetBatchRunByName(ctx context.Context, batchName string) (*model.BatchRun, error) {
	row := d.Conn.QueryRowContext(ctx, `SELECT `+batchRunColumns+` FROM collect.batch_runs WHERE batch_name = $1`, batchName)
	run, err := scanBatchRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Batch run '%s' not found", batchName), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve batch run", err)
	}
	return run, nil
}

// FindActiveBatchRun returns the live run occupying the slot, or nil when the slot is free.
func (d Datasource) FindActiveBatchRun(ctx context.Context, groupID *string, actionDate time.Time) (*model.BatchRun, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+batchRunColumns+` FROM collect.batch_runs
		WHERE COALESCE(group_id, '') = $1 AND action_date = $2 AND status <> 'rejected'
	`, groupKey(groupID), actionDate)
	run, err := scanBatchRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to look up live batch run", err)
	}
	return run, nil
}

func (d Datasource) CountBatchRuns(ctx context.Context, groupID *string, actionDate time.Time) (int, error) {
	var count int
	err := d.Conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM collect.batch_runs WHERE COALESCE(group_id, '') = $1 AND action_date = $2
	`, groupKey(groupID), actionDate).Scan(&count)
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to count batch runs", err)
	}
	return count, nil
}

func (d Datasource) ListBatchRuns(ctx context.Context, filter model.RunFilter) ([]*model.BatchRun, error) {
	var conditions []string
	var args []interface{}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.GroupID != "" {
		args = append(args, filter.GroupID)
		conditions = append(conditions, fmt.Sprintf("group_id = $%d", len(args)))
	}

	query := `SELECT ` + batchRunColumns + ` FROM collect.batch_runs`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC"
	query, args = paginate(query, args, filter.Limit, filter.Offset)

	rows, err := d.Conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve batch runs", err)
	}
	defer rows.Close()
	return collectBatchRuns(rows)
}

func (d Datasource) ListRunsAwaitingSettlement(ctx context.Context) ([]*model.BatchRun, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+batchRunColumns+` FROM collect.batch_runs r
		WHERE r.status = 'accepted'
		AND EXISTS (SELECT 1 FROM collect.transactions t WHERE t.run_id = r.run_id AND t.status = 'processing')
		ORDER BY r.action_date
	`)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve runs awaiting settlement", err)
	}
	defer rows.Close()
	return collectBatchRuns(rows)
}

func collectBatchRuns(rows *sql.Rows) ([]*model.BatchRun, error) {
	runs := []*model.BatchRun{}
	for rows.Next() {
		run, err := scanBatchRun(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan batch run", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over batch runs", err)
	}
	return runs, nil
}

func (d Datasource) MarkRunSubmitted(ctx context.Context, runID, operation string, submittedAt time.Time) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE collect.batch_runs SET status = 'submitted', operation = $2, submitted_at = $3, error_message = '', updated_at = NOW()
		WHERE run_id = $1 AND status = 'draft'
	`, runID, operation, submittedAt)
	return runTransitionResult(result, err, runID, model.RunStatusSubmitted)
}

// MarkRunAccepted moves the run to accepted and its pending transactions to processing together.
func (d Datasource) MarkRunAccepted(ctx context.Context, runID, gatewayReference string) error {
	ctx, span := otel.Tracer("collect.database").Start(ctx, "MarkRunAccepted")
	defer span.End()

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE collect.batch_runs SET status = 'accepted', gateway_reference = $2, error_message = '', updated_at = NOW()
		WHERE run_id = $1 AND status = 'submitted'
	`, runID, gatewayReference)
	if err := runTransitionResult(result, err, runID, model.RunStatusAccepted); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE collect.transactions SET status = 'processing', updated_at = NOW()
		WHERE run_id = $1 AND status = 'pending'
	`, runID)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to move transactions to processing", err)
	}

	if err := tx.Commit(); err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit run acceptance", err)
	}
	return nil
}

// MarkRunRejected rejects the run and hands the retries it carried back to the
// parents, so the next composition picks them up again.
func (d Datasource) MarkRunRejected(ctx context.Context, runID, errorMessage string) error {
	ctx, span := otel.Tracer("collect.database").Start(ctx, "MarkRunRejected")
	defer span.End()

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE collect.batch_runs SET status = 'rejected', error_message = $2, updated_at = NOW()
		WHERE run_id = $1 AND status IN ('draft', 'submitted')
	`, runID, errorMessage)
	if err := runTransitionResult(result, err, runID, model.RunStatusRejected); err != nil {
		return err
	}

	if _, err := setParentRetryScheduled(ctx, tx, runID, true); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit run rejection", err)
	}
	return nil
}

func (d Datasource) SetRunErrorMessage(ctx context.Context, runID, errorMessage string) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE collect.batch_runs SET error_message = $2, updated_at = NOW() WHERE run_id = $1
	`, runID, errorMessage)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update batch run", err)
	}
	return nil
}

// ReopenBatchRun puts a rejected run back to draft and reclaims the retries it
// carries. It is subject to the same uniqueness guard as composition.
func (d Datasource) ReopenBatchRun(ctx context.Context, runID string) error {
	ctx, span := otel.Tracer("collect.database").Start(ctx, "ReopenBatchRun")
	defer span.End()

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE collect.batch_runs SET status = 'draft', gateway_reference = NULL, submitted_at = NULL, updated_at = NOW()
		WHERE run_id = $1 AND status = 'rejected'
	`, runID)
	if err != nil && isUniqueViolation(err) {
		return apierror.NewAPIError(apierror.ErrConflict, "Another live batch run exists for this action date", fmt.Errorf("%w: %v", ErrDuplicateRun, err))
	}
	if err := runTransitionResult(result, err, runID, model.RunStatusDraft); err != nil {
		return err
	}

	var carried int64
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM collect.transactions WHERE run_id = $1 AND status = 'pending' AND parent_transaction_id <> ''
	`, runID).Scan(&carried)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to count run retries", err)
	}
	claimed, err := setParentRetryScheduled(ctx, tx, runID, false)
	if err != nil {
		return err
	}
	if claimed != carried {
		return apierror.NewAPIError(apierror.ErrConflict, "Scheduled retries were claimed by another run", fmt.Errorf("%w: reclaimed %d of %d retries", ErrDuplicateRun, claimed, carried))
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return apierror.NewAPIError(apierror.ErrConflict, "Another live batch run exists for this action date", fmt.Errorf("%w: %v", ErrDuplicateRun, err))
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit run reopening", err)
	}
	return nil
}

// setParentRetryScheduled flips the retry flag on the parents of the run's pending
// retry transactions and reports how many parents changed.
func setParentRetryScheduled(ctx context.Context, tx *sql.Tx, runID string, scheduled bool) (int64, error) {
	result, err := tx.ExecContext(ctx, `
		UPDATE collect.transactions p SET retry_scheduled = $2, updated_at = NOW()
		FROM collect.transactions c
		WHERE c.run_id = $1 AND c.status = 'pending' AND c.parent_transaction_id = p.transaction_id
			AND p.status = 'failed' AND p.escalated = FALSE AND p.retry_scheduled = $3
	`, runID, scheduled, !scheduled)
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update retry hand-off", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update retry hand-off", err)
	}
	return affected, nil
}

func runTransitionResult(result sql.Result, err error, runID string, to model.RunStatus) error {
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update batch run status", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update batch run status", err)
	}
	if affected == 0 {
		return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Batch run '%s' cannot move to %s", runID, to), model.ErrInvalidRunTransition)
	}
	return nil
}

func groupKey(groupID *string) string {
	if groupID == nil {
		return ""
	}
	return *groupID
}

func paginate(query string, args []interface{}, limit, offset int) (string, []interface{}) {
	if limit <= 0 {
		limit = 20
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	if offset > 0 {
		args = append(args, offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return query, args
}
