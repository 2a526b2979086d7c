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
package model

import (
	"fmt"
	"time"
)

const (
	SourceReport   = "report"
	SourceCallback = "callback"
)

// StatusUpdate is a single settlement outcome, whether it came from a polled report
// or a pushed notification.
type StatusUpdate struct {
	BatchName         string            `json:"batch_name"`
	MemberReference   string            `json:"member_reference"`
	Status            TransactionStatus `json:"status"`
	GatewayStatusCode string            `json:"gateway_status_code,omitempty"`
	ReasonCode        string            `json:"reason_code,omitempty"`
	Reason            string            `json:"reason,omitempty"`
	Amount            *int64            `json:"amount,omitempty"`
	SettledAt         time.Time         `json:"settled_at"`
	Source            string            `json:"source"`
}

// DedupeKey identifies repeated deliveries of the same outcome.
func (u StatusUpdate) DedupeKey() string {
	return fmt.Sprintf("%s:%s:%s", u.BatchName, u.MemberReference, u.Status)
}

// ReconciliationException records a status update that matched no transaction.
type ReconciliationException struct {
	ExceptionID     string    `json:"exception_id"`
	BatchName       string    `json:"batch_name"`
	MemberReference string    `json:"member_reference"`
	Status          string    `json:"status"`
	Reason          string    `json:"reason,omitempty"`
	Source          string    `json:"source"`
	Suggestion      string    `json:"suggestion,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Escalation flags a member for manual follow-up.
type Escalation struct {
	EscalationID    string     `json:"escalation_id"`
	MemberReference string     `json:"member_reference"`
	TransactionID   string     `json:"transaction_id"`
	Reason          string     `json:"reason"`
	CreatedAt       time.Time  `json:"created_at"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
}
