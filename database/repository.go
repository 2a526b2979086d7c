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
	"time"

	"github.com/blnkfinance/collect/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	batchRun                // Interface for batch run operations
	transaction             // Interface for per-member transaction operations
	billingProfile          // Interface for billing profile reads and arrears
	paymentGroup            // Interface for payment group reads
	escalation              // Interface for escalation records
	reconciliationException // Interface for unmatched status updates
}

// batchRun defines methods for handling batch runs.
type batchRun interface {
	CreateBatchRun(ctx context.Context, run *model.BatchRun, txns []*model.Transaction, retriedParentIDs []string) error // Persists a draft run and its transactions atomically
	GetBatchRun(ctx context.Context, runID string) (*model.BatchRun, error)                                             // Retrieves a run by ID
	GetBatchRunByName(ctx context.Context, batchName string) (*model.BatchRun, error)                                   // Retrieves a run by batch name
	FindActiveBatchRun(ctx context.Context, groupID *string, actionDate time.Time) (*model.BatchRun, error)             // Returns the non-rejected run for a key, or nil
	CountBatchRuns(ctx context.Context, groupID *string, actionDate time.Time) (int, error)                              // Counts every run ever composed for a key
	ListBatchRuns(ctx context.Context, filter model.RunFilter) ([]*model.BatchRun, error)                               // Lists run summaries
	ListRunsAwaitingSettlement(ctx context.Context) ([]*model.BatchRun, error)                                          // Accepted runs that still have processing transactions
	MarkRunSubmitted(ctx context.Context, runID, operation string, submittedAt time.Time) error                         // draft -> submitted
	MarkRunAccepted(ctx context.Context, runID, gatewayReference string) error                                          // submitted -> accepted, pending transactions -> processing
	MarkRunRejected(ctx context.Context, runID, errorMessage string) error                                              // submitted -> rejected
	SetRunErrorMessage(ctx context.Context, runID, errorMessage string) error                                           // Records a message without changing status
	ReopenBatchRun(ctx context.Context, runID string) error                                                             // rejected -> draft for manual resubmission
}

// transaction defines methods for handling collection transactions.
type transaction interface {
	GetTransaction(ctx context.Context, id string) (*model.Transaction, error)                                       // Retrieves a transaction by ID
	GetTransactionsByRun(ctx context.Context, runID string) ([]*model.Transaction, error)                            // Retrieves all transactions of a run in composition order
	GetTransactionByBatchAndMember(ctx context.Context, batchName, memberReference string) (*model.Transaction, error) // Matches a status update to a transaction
	ListTransactions(ctx context.Context, filter model.TransactionFilter) ([]*model.Transaction, error)              // Lists transactions by run, group, member or status
	ApplyTransactionOutcome(ctx context.Context, outcome model.TransactionOutcome) (bool, error)                      // processing -> successful|failed with arrears, retry flag and escalation
	GetScheduledRetries(ctx context.Context, selection model.ProfileSelection) ([]*model.Transaction, error)          // Failed transactions awaiting a retry attempt
	ReverseTransaction(ctx context.Context, transactionID string) (bool, error)                                      // failed+escalated -> reversed
}

// billingProfile defines methods for reading billing profiles and adjusting arrears.
type billingProfile interface {
	GetDueBillingProfiles(ctx context.Context, selection model.ProfileSelection, debitDays []int) ([]*model.BillingProfile, error) // Active members whose debit day falls in the window
	GetBillingProfile(ctx context.Context, memberReference string) (*model.BillingProfile, error)                                  // Retrieves one profile
	GetArrearsSummary(ctx context.Context, groupID string) (model.ArrearsSummary, error)                                            // Totals arrears, optionally for one group
}

// paymentGroup defines methods for reading payment groups.
type paymentGroup interface {
	GetPaymentGroup(ctx context.Context, groupID string) (*model.PaymentGroup, error) // Retrieves a group, cached
}

// escalation defines methods for handling escalations.
type escalation interface {
	ListEscalations(ctx context.Context, limit, offset int) ([]*model.Escalation, error) // Lists escalations, newest first
}

// reconciliationException defines methods for status updates that matched nothing.
type reconciliationException interface {
	RecordReconciliationException(ctx context.Context, exception *model.ReconciliationException) error            // Stores an unmatched update once
	ListReconciliationExceptions(ctx context.Context, limit, offset int) ([]*model.ReconciliationException, error) // Lists unmatched updates, newest first
}
