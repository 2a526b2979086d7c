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

// Package batchfile renders and parses the tab-separated debit-order batch body:
// one H header, one K key line naming field codes, one T line per transaction and
// one F footer carrying the count, the total in cents and a sentinel.
package batchfile

import (
	"errors"
	"strconv"
	"time"
)

const (
	RecordHeader      = "H"
	RecordKey         = "K"
	RecordTransaction = "T"
	RecordFooter      = "F"

	Version        = "1"
	FooterSentinel = "9999"
	DateLayout     = "20060102"

	separator  = "\t"
	lineEnding = "\r\n"
)

// BankingDetailTypeBankAccount is the only banking detail type this service emits.
const BankingDetailTypeBankAccount = "1"

// Field codes in the order every T line carries them.
const (
	FieldAccountReference  = "101"
	FieldAccountName       = "102"
	FieldBankingDetailType = "131"
	FieldAccountHolder     = "132"
	FieldAccountType       = "133"
	FieldBranchCode        = "134"
	FieldAccountNumber     = "136"
	FieldAmount            = "162"
	FieldEmail             = "201"
	FieldExtra1            = "281"
	FieldExtra2            = "282"
	FieldExtra3            = "283"
)

var FieldCodes = []string{
	FieldAccountReference,
	FieldAccountName,
	FieldBankingDetailType,
	FieldAccountHolder,
	FieldAccountType,
	FieldBranchCode,
	FieldAccountNumber,
	FieldAmount,
	FieldEmail,
	FieldExtra1,
	FieldExtra2,
	FieldExtra3,
}

var (
	ErrFooterMismatch = errors.New("batch footer does not match its transaction lines")
	ErrMalformed      = errors.New("malformed batch file")
	ErrEmpty          = errors.New("batch has no transaction lines")
)

type Header struct {
	ServiceKey        string
	Version           string
	BatchTiming       string
	BatchName         string
	ActionDate        time.Time
	SoftwareVendorKey string
}

// Line is one member's debit instruction.
type Line struct {
	AccountReference  string
	AccountName       string
	BankingDetailType string
	AccountHolder     string
	AccountType       int
	BranchCode        string
	AccountNumber     string
	Amount            int64
	Email             string
	Extra1            string
	Extra2            string
	Extra3            string
}

type Footer struct {
	Count    int
	Total    int64
	Sentinel string
}

// File is a batch body read back by Parse.
type File struct {
	Header     Header
	FieldCodes []string
	Lines      []Line
	Footer     Footer
}

func (l Line) fields() []string {
	return []string{
		l.AccountReference,
		l.AccountName,
		l.BankingDetailType,
		l.AccountHolder,
		strconv.Itoa(l.AccountType),
		l.BranchCode,
		l.AccountNumber,
		strconv.FormatInt(l.Amount, 10),
		l.Email,
		l.Extra1,
		l.Extra2,
		l.Extra3,
	}
}

func (h Header) fields() []string {
	return []string{
		h.ServiceKey,
		h.Version,
		h.BatchTiming,
		h.BatchName,
		h.ActionDate.Format(DateLayout),
		h.SoftwareVendorKey,
	}
}

// Verify recounts the lines and checks them against the footer.
func (f *File) Verify() error {
	var total int64
	for _, line := range f.Lines {
		total += line.Amount
	}
	if f.Footer.Count != len(f.Lines) || f.Footer.Total != total || f.Footer.Sentinel != FooterSentinel {
		return ErrFooterMismatch
	}
	return nil
}
