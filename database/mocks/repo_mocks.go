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
package mocks

import (
	"context"
	"time"

	"github.com/blnkfinance/collect/model"
	"github.com/stretchr/testify/mock"
)

// MockDataSource is a mock implementation of the IDataSource interface
type MockDataSource struct {
	mock.Mock
}

// Batch run methods

func (m *MockDataSource) CreateBatchRun(ctx context.Context, run *model.BatchRun, txns []*model.Transaction, retriedParentIDs []string) error {
	args := m.Called(ctx, run, txns, retriedParentIDs)
	return args.Error(0)
}

func (m *MockDataSource) GetBatchRun(ctx context.Context, runID string) (*model.BatchRun, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.BatchRun), args.Error(1)
}

func (m *MockDataSource) GetBatchRunByName(ctx context.Context, batchName string) (*model.BatchRun, error) {
	args := m.Called(ctx, batchName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.BatchRun), args.Error(1)
}

func (m *MockDataSource) FindActiveBatchRun(ctx context.Context, groupID *string, actionDate time.Time) (*model.BatchRun, error) {
	args := m.Called(ctx, groupID, actionDate)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.BatchRun), args.Error(1)
}

func (m *MockDataSource) CountBatchRuns(ctx context.Context, groupID *string, actionDate time.Time) (int, error) {
	args := m.Called(ctx, groupID, actionDate)
	return args.Int(0), args.Error(1)
}

func (m *MockDataSource) ListBatchRuns(ctx context.Context, filter model.RunFilter) ([]*model.BatchRun, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).([]*model.BatchRun), args.Error(1)
}

func (m *MockDataSource) ListRunsAwaitingSettlement(ctx context.Context) ([]*model.BatchRun, error) {
	args := m.Called(ctx)
	return args.Get(0).([]*model.BatchRun), args.Error(1)
}

func (m *MockDataSource) MarkRunSubmitted(ctx context.Context, runID, operation string, submittedAt time.Time) error {
	args := m.Called(ctx, runID, operation, submittedAt)
	return args.Error(0)
}

func (m *MockDataSource) MarkRunAccepted(ctx context.Context, runID, gatewayReference string) error {
	args := m.Called(ctx, runID, gatewayReference)
	return args.Error(0)
}

func (m *MockDataSource) MarkRunRejected(ctx context.Context, runID, errorMessage string) error {
	args := m.Called(ctx, runID, errorMessage)
	return args.Error(0)
}

func (m *MockDataSource) SetRunErrorMessage(ctx context.Context, runID, errorMessage string) error {
	args := m.Called(ctx, runID, errorMessage)
	return args.Error(0)
}

func (m *MockDataSource) ReopenBatchRun(ctx context.Context, runID string) error {
	args := m.Called(ctx, runID)
	return args.Error(0)
}

// Transaction methods

func (m *MockDataSource) GetTransaction(ctx context.Context, id string) (*model.Transaction, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Transaction), args.Error(1)
}

func (m *MockDataSource) GetTransactionsByRun(ctx context.Context, runID string) ([]*model.Transaction, error) {
	args := m.Called(ctx, runID)
	return args.Get(0).([]*model.Transaction), args.Error(1)
}

func (m *MockDataSource) GetTransactionByBatchAndMember(ctx context.Context, batchName, memberReference string) (*model.Transaction, error) {
	args := m.Called(ctx, batchName, memberReference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Transaction), args.Error(1)
}

func (m *MockDataSource) ListTransactions(ctx context.Context, filter model.TransactionFilter) ([]*model.Transaction, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).([]*model.Transaction), args.Error(1)
}

func (m *MockDataSource) ApplyTransactionOutcome(ctx context.Context, outcome model.TransactionOutcome) (bool, error) {
	args := m.Called(ctx, outcome)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) GetScheduledRetries(ctx context.Context, selection model.ProfileSelection) ([]*model.Transaction, error) {
	args := m.Called(ctx, selection)
	return args.Get(0).([]*model.Transaction), args.Error(1)
}

func (m *MockDataSource) ReverseTransaction(ctx context.Context, transactionID string) (bool, error) {
	args := m.Called(ctx, transactionID)
	return args.Bool(0), args.Error(1)
}

// Billing profile and group methods

func (m *MockDataSource) GetDueBillingProfiles(ctx context.Context, selection model.ProfileSelection, debitDays []int) ([]*model.BillingProfile, error) {
	args := m.Called(ctx, selection, debitDays)
	return args.Get(0).([]*model.BillingProfile), args.Error(1)
}

func (m *MockDataSource) GetBillingProfile(ctx context.Context, memberReference string) (*model.BillingProfile, error) {
	args := m.Called(ctx, memberReference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.BillingProfile), args.Error(1)
}

func (m *MockDataSource) GetArrearsSummary(ctx context.Context, groupID string) (model.ArrearsSummary, error) {
	args := m.Called(ctx, groupID)
	return args.Get(0).(model.ArrearsSummary), args.Error(1)
}

func (m *MockDataSource) GetPaymentGroup(ctx context.Context, groupID string) (*model.PaymentGroup, error) {
	args := m.Called(ctx, groupID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PaymentGroup), args.Error(1)
}

// Escalation and exception methods

func (m *MockDataSource) ListEscalations(ctx context.Context, limit, offset int) ([]*model.Escalation, error) {
	args := m.Called(ctx, limit, offset)
	return args.Get(0).([]*model.Escalation), args.Error(1)
}

func (m *MockDataSource) RecordReconciliationException(ctx context.Context, exception *model.ReconciliationException) error {
	args := m.Called(ctx, exception)
	return args.Error(0)
}

func (m *MockDataSource) ListReconciliationExceptions(ctx context.Context, limit, offset int) ([]*model.ReconciliationException, error) {
	args := m.Called(ctx, limit, offset)
	return args.Get(0).([]*model.ReconciliationException), args.Error(1)
}
