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
	"errors"
	"strings"
	"time"

	"github.com/blnkfinance/collect/model"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

var settledAtLayouts = []string{time.RFC3339, "2006-01-02", "20060102"}

func parseSettledAt(value string) (time.Time, error) {
	for _, layout := range settledAtLayouts {
		if t, err := time.Parse(layout, strings.TrimSpace(value)); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.New("please format settled_at as YYYY-MM-DD or RFC3339 (e.g., 2024-03-12T10:00:00+02:00)")
}

func validateAmount(value interface{}) error {
	s, _ := value.(string)
	cents, err := model.ParseAmount(s)
	if err != nil {
		return errors.New("must be a decimal amount in rands, e.g. 250.50")
	}
	if cents <= 0 {
		return errors.New("must be greater than zero")
	}
	return nil
}

func (b *CreateBatchRun) ValidateCreateBatchRun() error {
	return validation.ValidateStruct(b,
		validation.Field(&b.GroupID, validation.NilOrNotEmpty),
	)
}

func (n StatusNotification) Validate() error {
	return validation.ValidateStruct(&n,
		validation.Field(&n.BatchName, validation.Required),
		validation.Field(&n.MemberReference, validation.Required),
		validation.Field(&n.Status, validation.Required, validation.In(string(model.StatusSuccessful), string(model.StatusFailed))),
		validation.Field(&n.Amount, validation.When(n.Amount != "", validation.By(validateAmount))),
		validation.Field(&n.SettledAt, validation.When(n.SettledAt != "", validation.By(func(value interface{}) error {
			s, _ := value.(string)
			_, err := parseSettledAt(s)
			return err
		}))),
	)
}

func (s *StatusCallback) ValidateStatusCallback() error {
	return validation.ValidateStruct(s,
		validation.Field(&s.Updates, validation.Required),
	)
}
