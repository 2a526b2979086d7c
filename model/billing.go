package model

import "time"

type CollectionMethod string

const (
	CollectionIndividual CollectionMethod = "individual_debit_order"
	CollectionGroup      CollectionMethod = "group_debit_order"
)

// PaymentGroup aggregates members under one banking mandate. Members point at a group,
// the group does not own them.
type PaymentGroup struct {
	GroupID          string           `json:"group_id"`
	Name             string           `json:"name"`
	CollectionMethod CollectionMethod `json:"collection_method"`
	CreatedAt        time.Time        `json:"created_at"`
}

// BillingProfile is read from the member administration side. Amounts are in cents.
type BillingProfile struct {
	MemberReference  string      `json:"member_reference"`
	AccountName      string      `json:"account_name"`
	MonthlyAmount    int64       `json:"monthly_amount"`
	BankingReference string      `json:"banking_reference"`
	ArrearsTotal     int64       `json:"arrears_total"`
	DebitDay         int         `json:"debit_day"`
	GroupID          *string     `json:"group_id,omitempty"`
	BankAccount      BankAccount `json:"bank_account"`
	Email            string      `json:"email"`
	Active           bool        `json:"active"`
}

// ProfileSelection is the filter a composer hands to the billing profile provider.
type ProfileSelection struct {
	GroupID *string
	// Individual selects members without a group and members of individually collected groups.
	Individual bool
}

type ArrearsSummary struct {
	MemberCount  int   `json:"member_count"`
	TotalArrears int64 `json:"total_arrears"`
}
