package model

import (
	"strings"

	collect "github.com/blnkfinance/collect"
	"github.com/blnkfinance/collect/model"
)

type CreateBatchRun struct {
	GroupID        *string `json:"group_id"`
	AutoSubmit     bool    `json:"auto_submit"`
	IncludeArrears bool    `json:"include_arrears"`
}

func (b *CreateBatchRun) ToComposeRequest() collect.ComposeRequest {
	req := collect.ComposeRequest{AutoSubmit: b.AutoSubmit, IncludeArrears: b.IncludeArrears}
	if b.GroupID != nil {
		id := strings.TrimSpace(*b.GroupID)
		req.GroupID = &id
	}
	return req
}

// StatusNotification is one pushed settlement outcome. Amount is in rands.
type StatusNotification struct {
	BatchName       string `json:"batch_name"`
	MemberReference string `json:"member_reference"`
	Status          string `json:"status"`
	StatusCode      string `json:"status_code"`
	ReasonCode      string `json:"reason_code"`
	Reason          string `json:"reason"`
	Amount          string `json:"amount,omitempty"`
	SettledAt       string `json:"settled_at,omitempty"`
}

type StatusCallback struct {
	Updates []StatusNotification `json:"updates"`
}

// ToStatusUpdates converts a validated callback.
func (s *StatusCallback) ToStatusUpdates() []model.StatusUpdate {
	updates := make([]model.StatusUpdate, 0, len(s.Updates))
	for _, n := range s.Updates {
		update := model.StatusUpdate{
			BatchName:         strings.TrimSpace(n.BatchName),
			MemberReference:   strings.TrimSpace(n.MemberReference),
			Status:            model.TransactionStatus(n.Status),
			GatewayStatusCode: n.StatusCode,
			ReasonCode:        n.ReasonCode,
			Reason:            n.Reason,
		}
		if n.Amount != "" {
			if cents, err := model.ParseAmount(n.Amount); err == nil {
				update.Amount = &cents
			}
		}
		if n.SettledAt != "" {
			if at, err := parseSettledAt(n.SettledAt); err == nil {
				update.SettledAt = at
			}
		}
		updates = append(updates, update)
	}
	return updates
}
