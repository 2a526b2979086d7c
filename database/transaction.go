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

	"github.com/blnkfinance/collect/internal/apierror"
	"github.com/blnkfinance/collect/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const transactionColumns = `t.transaction_id, t.run_id, t.parent_transaction_id, t.member_reference, t.account_name,
	t.amount, t.arrears_included, t.status, t.gateway_status_code, t.failure_reason, t.retry_count, t.retry_scheduled, t.escalated,
	t.settled_at, t.account_holder, t.account_type, t.branch_code, t.account_number, t.email, t.created_at, t.updated_at`

func scanTransaction(row scanner) (*model.Transaction, error) {
	txn := &model.Transaction{}
	err := row.Scan(
		&txn.TransactionID, &txn.RunID, &txn.ParentTransactionID, &txn.MemberReference, &txn.AccountName,
		&txn.Amount, &txn.ArrearsIncluded, &txn.Status, &txn.GatewayStatusCode, &txn.FailureReason, &txn.RetryCount, &txn.RetryScheduled,
		&txn.Escalated, &txn.SettledAt, &txn.BankAccount.HolderName, &txn.BankAccount.AccountType,
		&txn.BankAccount.BranchCode, &txn.BankAccount.AccountNumber, &txn.Email, &txn.CreatedAt, &txn.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return txn, nil
}

func collectTransactions(rows *sql.Rows) ([]*model.Transaction, error) {
	txns := []*model.Transaction{}
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan transaction data", err)
		}
		txns = append(txns, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over transactions", err)
	}
	return txns, nil
}

func (d Datasource) GetTransaction(ctx context.Context, id string) (*model.Transaction, error) {
	row := d.Conn.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM collect.transactions t WHERE t.transaction_id = $1`, id)
	txn, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Transaction with ID '%s' not found", id), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve transaction", err)
	}
	return txn, nil
}

// GetTransactionsByRun returns a run's transactions in the order they were composed.
func (d Datasource) GetTransactionsByRun(ctx context.Context, runID string) ([]*model.Transaction, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+transactionColumns+` FROM collect.transactions t WHERE t.run_id = $1 ORDER BY t.id
	`, runID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve run transactions", err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

func (d Datasource) GetTransactionByBatchAndMember(ctx context.Context, batchName, memberReference string) (*model.Transaction, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+transactionColumns+` FROM collect.transactions t
		JOIN collect.batch_runs r ON r.run_id = t.run_id
		WHERE r.batch_name = $1 AND t.member_reference = $2
	`, batchName, memberReference)
	txn, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("No transaction for member '%s' in batch '%s'", memberReference, batchName), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve transaction", err)
	}
	return txn, nil
}

func (d Datasource) ListTransactions(ctx context.Context, filter model.TransactionFilter) ([]*model.Transaction, error) {
	var conditions []string
	var args []interface{}
	if filter.RunID != "" {
		args = append(args, filter.RunID)
		conditions = append(conditions, fmt.Sprintf("t.run_id = $%d", len(args)))
	}
	if filter.GroupID != "" {
		args = append(args, filter.GroupID)
		conditions = append(conditions, fmt.Sprintf("r.group_id = $%d", len(args)))
	}
	if filter.MemberReference != "" {
		args = append(args, filter.MemberReference)
		conditions = append(conditions, fmt.Sprintf("t.member_reference = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("t.status = $%d", len(args)))
	}

	query := `SELECT ` + transactionColumns + ` FROM collect.transactions t JOIN collect.batch_runs r ON r.run_id = t.run_id`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY t.created_at DESC, t.id DESC"
	query, args = paginate(query, args, filter.Limit, filter.Offset)

	rows, err := d.Conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve transactions", err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

// ApplyTransactionOutcome performs a compare-and-set from processing to the outcome status.
// The arrears adjustment, the retry flag and any escalation record are written in the
// same database transaction, so a failure is never committed without its follow-up.
// It reports false, touching nothing, when the transaction was no longer processing.
func (d Datasource) ApplyTransactionOutcome(ctx context.Context, outcome model.TransactionOutcome) (bool, error) {
	ctx, span := otel.Tracer("collect.database").Start(ctx, "ApplyTransactionOutcome")
	defer span.End()
	span.SetAttributes(attribute.String("transaction.id", outcome.TransactionID), attribute.String("transaction.status", string(outcome.Status)))

	if outcome.Status != model.StatusSuccessful && outcome.Status != model.StatusFailed {
		return false, apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("Status '%s' cannot be applied by reconciliation", outcome.Status), model.ErrInvalidTransition)
	}
	if outcome.Status == model.StatusSuccessful && (outcome.ScheduleRetry || outcome.Escalation != nil) {
		return false, apierror.NewAPIError(apierror.ErrInvalidInput, "A successful outcome cannot schedule a retry or escalate", model.ErrInvalidTransition)
	}
	if outcome.ScheduleRetry && outcome.Escalation != nil {
		return false, apierror.NewAPIError(apierror.ErrInvalidInput, "An outcome cannot both schedule a retry and escalate", model.ErrInvalidTransition)
	}

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	retryIncrement := 0
	if outcome.IncrementRetry {
		retryIncrement = 1
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE collect.transactions
		SET status = $2, gateway_status_code = $3, failure_reason = $4, settled_at = $5,
			retry_count = retry_count + $6, retry_scheduled = $7, escalated = $8, updated_at = NOW()
		WHERE transaction_id = $1 AND status = 'processing'
	`, outcome.TransactionID, outcome.Status, outcome.GatewayStatusCode, outcome.FailureReason, outcome.SettledAt,
		retryIncrement, outcome.ScheduleRetry, outcome.Escalation != nil)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update transaction status", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update transaction status", err)
	}
	if affected == 0 {
		return false, nil
	}

	if outcome.ArrearsDelta != 0 {
		_, err := tx.ExecContext(ctx, `
			UPDATE collect.billing_profiles SET arrears_total = GREATEST(arrears_total + $2, 0) WHERE member_reference = $1
		`, outcome.MemberReference, outcome.ArrearsDelta)
		if err != nil {
			return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to adjust arrears", err)
		}
	}

	if outcome.Escalation != nil {
		if err := insertEscalation(ctx, tx, outcome.Escalation); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit transaction outcome", err)
	}
	return true, nil
}

// GetScheduledRetries lists failed transactions waiting for a retry attempt among the
// members covered by the selection.
func (d Datasource) GetScheduledRetries(ctx context.Context, selection model.ProfileSelection) ([]*model.Transaction, error) {
	clause, args := selectionClause(selection, nil)
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+transactionColumns+` FROM collect.transactions t
		JOIN collect.billing_profiles p ON p.member_reference = t.member_reference
		LEFT JOIN collect.payment_groups g ON g.group_id = p.group_id
		WHERE t.status = 'failed' AND t.retry_scheduled = TRUE AND t.escalated = FALSE AND `+clause+`
		ORDER BY t.id
	`, args...)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve scheduled retries", err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

func (d Datasource) ReverseTransaction(ctx context.Context, transactionID string) (bool, error) {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE collect.transactions SET status = 'reversed', retry_scheduled = FALSE, updated_at = NOW()
		WHERE transaction_id = $1 AND status = 'failed' AND escalated = TRUE
	`, transactionID)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to reverse transaction", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to reverse transaction", err)
	}
	return affected == 1, nil
}

// selectionClause renders the member filter shared by due-profile and retry queries.
// It expects billing_profiles aliased p and payment_groups aliased g.
func selectionClause(selection model.ProfileSelection, args []interface{}) (string, []interface{}) {
	if selection.GroupID != nil {
		args = append(args, *selection.GroupID)
		return fmt.Sprintf("p.group_id = $%d", len(args)), args
	}
	return "(p.group_id IS NULL OR g.collection_method = 'individual_debit_order')", args
}
