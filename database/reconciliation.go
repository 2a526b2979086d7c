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

	"github.com/blnkfinance/collect/internal/apierror"
	"github.com/blnkfinance/collect/model"
)

func insertEscalation(ctx context.Context, tx *sql.Tx, escalation *model.Escalation) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO collect.escalations (escalation_id, member_reference, transaction_id, reason, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, escalation.EscalationID, escalation.MemberReference, escalation.TransactionID, escalation.Reason, escalation.CreatedAt)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record escalation", err)
	}
	return nil
}

func (d Datasource) ListEscalations(ctx context.Context, limit, offset int) ([]*model.Escalation, error) {
	query, args := paginate(`
		SELECT escalation_id, member_reference, transaction_id, reason, created_at, resolved_at
		FROM collect.escalations ORDER BY created_at DESC`, nil, limit, offset)
	rows, err := d.Conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve escalations", err)
	}
	defer rows.Close()

	escalations := []*model.Escalation{}
	for rows.Next() {
		e := &model.Escalation{}
		if err := rows.Scan(&e.EscalationID, &e.MemberReference, &e.TransactionID, &e.Reason, &e.CreatedAt, &e.ResolvedAt); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan escalation", err)
		}
		escalations = append(escalations, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over escalations", err)
	}
	return escalations, nil
}

// RecordReconciliationException stores an unmatched update once per batch, member,
// status and reason. A repeat keeps the first row and writes its id back into exception.
func (d Datasource) RecordReconciliationException(ctx context.Context, exception *model.ReconciliationException) error {
	row := d.Conn.QueryRowContext(ctx, `
		INSERT INTO collect.reconciliation_exceptions (exception_id, batch_name, member_reference, status, reason, source, suggestion, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (batch_name, member_reference, status, reason)
		DO UPDATE SET created_at = collect.reconciliation_exceptions.created_at
		RETURNING exception_id, created_at
	`, exception.ExceptionID, exception.BatchName, exception.MemberReference, exception.Status, exception.Reason,
		exception.Source, exception.Suggestion, exception.CreatedAt)
	if err := row.Scan(&exception.ExceptionID, &exception.CreatedAt); err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record reconciliation exception", err)
	}
	return nil
}

func (d Datasource) ListReconciliationExceptions(ctx context.Context, limit, offset int) ([]*model.ReconciliationException, error) {
	query, args := paginate(`
		SELECT exception_id, batch_name, member_reference, status, reason, source, suggestion, created_at
		FROM collect.reconciliation_exceptions ORDER BY created_at DESC`, nil, limit, offset)
	rows, err := d.Conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve reconciliation exceptions", err)
	}
	defer rows.Close()

	exceptions := []*model.ReconciliationException{}
	for rows.Next() {
		e := &model.ReconciliationException{}
		if err := rows.Scan(&e.ExceptionID, &e.BatchName, &e.MemberReference, &e.Status, &e.Reason, &e.Source, &e.Suggestion, &e.CreatedAt); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan reconciliation exception", err)
		}
		exceptions = append(exceptions, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over reconciliation exceptions", err)
	}
	return exceptions, nil
}
