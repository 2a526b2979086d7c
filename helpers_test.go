package collect

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/blnkfinance/collect/config"
	"github.com/blnkfinance/collect/database/mocks"
	"github.com/blnkfinance/collect/internal/gateway"
	"github.com/blnkfinance/collect/model"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/redis/go-redis/v9"
	"github.com/wacul/ptr"
)

// Wednesday; three business days ahead is Monday 2024-03-11.
var testToday = time.Date(2024, 3, 6, 9, 0, 0, 0, time.UTC)
var testActionDate = time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)

func testConfig() *config.Configuration {
	return &config.Configuration{
		Redis: config.RedisConfig{Dns: "localhost:6379"},
		Gateway: config.GatewayConfig{
			EndpointURL:     "https://gateway.example.com/NIWS_NIF.svc",
			ServiceKey:      "svc-key",
			Variant:         config.OperationVariantUpload,
			UploadOperation: "BatchFileUpload",
		},
		Collection: config.CollectionConfig{
			LeadDays:            3,
			MaxRetries:          ptr.Int(2),
			BatchTiming:         "TwoDay",
			NonRetryableReasons: []string{"account_closed", "invalid_account", "no_authority", "debits_not_allowed", "payment_stopped"},
			StatusCodes:         config.DefaultStatusCodes(),
			ReasonCodes:         config.DefaultReasonCodes(),
		},
		Queue: config.QueueConfig{
			StatusUpdateQueue: "status_update",
			PollQueue:         "poll_report",
			ComposeQueue:      "compose_batch",
			WebhookQueue:      "webhook",
			MaxRetryAttempts:  3,
		},
	}
}

type fakeGateway struct {
	mu        sync.Mutex
	result    *gateway.SubmitResult
	err       error
	report    string
	reportErr error
	bodies    [][]byte
	reports   []string
}

func (f *fakeGateway) Operation() string { return "BatchFileUpload" }

func (f *fakeGateway) Submit(_ context.Context, _ string, body []byte) (*gateway.SubmitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies = append(f.bodies, body)
	return f.result, f.err
}

func (f *fakeGateway) RequestReport(_ context.Context, reference string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, reference)
	return f.report, f.reportErr
}

func (f *fakeGateway) submissions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.bodies)
}

type testEnv struct {
	collector *Collector
	ds        *mocks.MockDataSource
	gw        *fakeGateway
	redis     *miniredis.Miniredis
	config    *config.Configuration
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	cfg := testConfig()
	config.MockConfig(cfg)

	mr := miniredis.RunT(t)
	ds := new(mocks.MockDataSource)
	gw := &fakeGateway{}

	all := append([]Option{
		WithGateway(gw),
		WithRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()})),
		WithClock(func() time.Time { return testToday }),
	}, opts...)
	return &testEnv{collector: New(cfg, ds, all...), ds: ds, gw: gw, redis: mr, config: cfg}
}

func fakeProfile(ref string, amount int64) *model.BillingProfile {
	return &model.BillingProfile{
		MemberReference:  ref,
		AccountName:      gofakeit.Name(),
		MonthlyAmount:    amount,
		BankingReference: gofakeit.Numerify("BR######"),
		DebitDay:         11,
		BankAccount: model.BankAccount{
			HolderName:    gofakeit.Name(),
			AccountType:   model.AccountTypeCurrent,
			BranchCode:    gofakeit.Numerify("######"),
			AccountNumber: gofakeit.Numerify("##########"),
		},
		Email:  gofakeit.Email(),
		Active: true,
	}
}

func fakeRun(status model.RunStatus, txns ...*model.Transaction) *model.BatchRun {
	run := &model.BatchRun{
		RunID:      "run_1",
		BatchName:  "DO20240311-ALL-1",
		ActionDate: testActionDate,
		Status:     status,
		Operation:  "BatchFileUpload",
	}
	for _, txn := range txns {
		txn.RunID = run.RunID
		run.TotalMemberCount++
		run.TotalAmount += txn.Amount
	}
	return run
}

func fakeTransaction(id, ref string, amount int64, status model.TransactionStatus) *model.Transaction {
	p := fakeProfile(ref, amount)
	return &model.Transaction{
		TransactionID:   id,
		RunID:           "run_1",
		MemberReference: ref,
		AccountName:     p.AccountName,
		Amount:          amount,
		Status:          status,
		BankAccount:     p.BankAccount,
		Email:           p.Email,
	}
}
