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
	"time"

	"github.com/blnkfinance/collect/internal/apierror"
	"github.com/blnkfinance/collect/model"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
)

const paymentGroupCacheTTL = 10 * time.Minute

const billingProfileColumns = `p.member_reference, p.account_name, p.monthly_amount, p.banking_reference, p.arrears_total,
	p.debit_day, p.group_id, p.account_holder, p.account_type, p.branch_code, p.account_number, p.email, p.active`

func scanBillingProfile(row scanner) (*model.BillingProfile, error) {
	profile := &model.BillingProfile{}
	err := row.Scan(
		&profile.MemberReference, &profile.AccountName, &profile.MonthlyAmount, &profile.BankingReference,
		&profile.ArrearsTotal, &profile.DebitDay, &profile.GroupID, &profile.BankAccount.HolderName,
		&profile.BankAccount.AccountType, &profile.BankAccount.BranchCode, &profile.BankAccount.AccountNumber,
		&profile.Email, &profile.Active,
	)
	if err != nil {
		return nil, err
	}
	return profile, nil
}

// GetDueBillingProfiles returns active members whose debit day is one of debitDays,
// restricted to the selection, ordered by member reference.
func (d Datasource) GetDueBillingProfiles(ctx context.Context, selection model.ProfileSelection, debitDays []int) ([]*model.BillingProfile, error) {
	ctx, span := otel.Tracer("collect.database").Start(ctx, "GetDueBillingProfiles")
	defer span.End()

	days := make([]int64, len(debitDays))
	for i, day := range debitDays {
		days[i] = int64(day)
	}

	clause, args := selectionClause(selection, []interface{}{pq.Array(days)})
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+billingProfileColumns+` FROM collect.billing_profiles p
		LEFT JOIN collect.payment_groups g ON g.group_id = p.group_id
		WHERE p.active = TRUE AND p.debit_day = ANY($1) AND `+clause+`
		ORDER BY p.member_reference
	`, args...)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve due billing profiles", err)
	}
	defer rows.Close()

	profiles := []*model.BillingProfile{}
	for rows.Next() {
		profile, err := scanBillingProfile(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan billing profile", err)
		}
		profiles = append(profiles, profile)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over billing profiles", err)
	}
	return profiles, nil
}

func (d Datasource) GetBillingProfile(ctx context.Context, memberReference string) (*model.BillingProfile, error) {
	row := d.Conn.QueryRowContext(ctx, `SELECT `+billingProfileColumns+` FROM collect.billing_profiles p WHERE p.member_reference = $1`, memberReference)
	profile, err := scanBillingProfile(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Member '%s' not found", memberReference), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve billing profile", err)
	}
	return profile, nil
}

// GetArrearsSummary totals outstanding arrears. An empty groupID covers every member.
func (d Datasource) GetArrearsSummary(ctx context.Context, groupID string) (model.ArrearsSummary, error) {
	var summary model.ArrearsSummary
	query := `SELECT COUNT(*), COALESCE(SUM(arrears_total), 0) FROM collect.billing_profiles WHERE arrears_total > 0`
	var args []interface{}
	if groupID != "" {
		query += ` AND group_id = $1`
		args = append(args, groupID)
	}
	err := d.Conn.QueryRowContext(ctx, query, args...).Scan(&summary.MemberCount, &summary.TotalArrears)
	if err != nil {
		return summary, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to summarise arrears", err)
	}
	return summary, nil
}

// GetPaymentGroup reads a payment group, consulting the cache first.
func (d Datasource) GetPaymentGroup(ctx context.Context, groupID string) (*model.PaymentGroup, error) {
	cacheKey := "payment_group:" + groupID
	if d.Cache != nil {
		var cached model.PaymentGroup
		if err := d.Cache.Get(ctx, cacheKey, &cached); err == nil && cached.GroupID != "" {
			return &cached, nil
		}
	}

	group := &model.PaymentGroup{}
	err := d.Conn.QueryRowContext(ctx, `
		SELECT group_id, name, collection_method, created_at FROM collect.payment_groups WHERE group_id = $1
	`, groupID).Scan(&group.GroupID, &group.Name, &group.CollectionMethod, &group.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Payment group '%s' not found", groupID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve payment group", err)
	}

	if d.Cache != nil {
		_ = d.Cache.Set(ctx, cacheKey, group, paymentGroupCacheTTL)
	}
	return group, nil
}
