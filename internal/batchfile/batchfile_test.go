package batchfile

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var actionDate = time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)

func testHeader() Header {
	return Header{
		ServiceKey:        "11111111-2222-3333-4444-555555555555",
		BatchTiming:       "TwoDay",
		BatchName:         "DO20240311-ALL-1",
		ActionDate:        actionDate,
		SoftwareVendorKey: "vendor-key",
	}
}

func testLine(ref string, amount int64) Line {
	return Line{
		AccountReference: ref,
		AccountName:      "Member " + ref,
		AccountHolder:    "Holder " + ref,
		AccountType:      1,
		BranchCode:       "250655",
		AccountNumber:    "62000000001",
		Amount:           amount,
		Email:            "member@example.com",
		Extra1:           "DO20240311-ALL-1",
		Extra2:           ref,
		Extra3:           "20240311",
	}
}

func TestBuild_FooterScenario(t *testing.T) {
	b := NewBuilder(testHeader())
	require.NoError(t, b.Add(testLine("M001", 10000)))
	require.NoError(t, b.Add(testLine("M002", 25050)))
	require.NoError(t, b.Add(testLine("M003", 7525)))

	body, err := b.Build()
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSuffix(string(body), "\r\n"), "\r\n")
	require.Len(t, lines, 6)
	assert.Equal(t, "H\t11111111-2222-3333-4444-555555555555\t1\tTwoDay\tDO20240311-ALL-1\t20240311\tvendor-key", lines[0])
	assert.Equal(t, "K\t101\t102\t131\t132\t133\t134\t136\t162\t201\t281\t282\t283", lines[1])
	assert.Equal(t, "T\tM001\tMember M001\t1\tHolder M001\t1\t250655\t62000000001\t10000\tmember@example.com\tDO20240311-ALL-1\tM001\t20240311", lines[2])
	assert.Equal(t, "F\t3\t42575\t9999", lines[5])
	assert.True(t, strings.HasSuffix(string(body), "\r\n"))
}

func TestBuild_RoundTrip(t *testing.T) {
	gofakeit.Seed(42)
	b := NewBuilder(testHeader())

	var want int64
	n := 25
	for i := 0; i < n; i++ {
		amount := int64(gofakeit.Number(1, 500000))
		want += amount
		line := testLine(fmt.Sprintf("M%04d", i), amount)
		line.AccountName = gofakeit.Name()
		line.AccountHolder = gofakeit.Name()
		require.NoError(t, b.Add(line))
	}

	body, err := b.Build()
	require.NoError(t, err)

	file, err := Parse(body)
	require.NoError(t, err)
	assert.NoError(t, file.Verify())
	assert.Equal(t, n, file.Footer.Count)
	assert.Equal(t, want, file.Footer.Total)
	assert.Len(t, file.Lines, n)
	assert.Equal(t, FieldCodes, file.FieldCodes)
	assert.Equal(t, testHeader().BatchName, file.Header.BatchName)
	assert.True(t, actionDate.Equal(file.Header.ActionDate))
	assert.Equal(t, BankingDetailTypeBankAccount, file.Lines[0].BankingDetailType)
}

func TestBuild_Empty(t *testing.T) {
	_, err := NewBuilder(testHeader()).Build()
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestAdd_RejectsInvalidFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(l *Line)
	}{
		{"tab in name", func(l *Line) { l.AccountName = "Jane\tDoe" }},
		{"newline in holder", func(l *Line) { l.AccountHolder = "Jane\r\nDoe" }},
		{"non numeric branch", func(l *Line) { l.BranchCode = "25O655" }},
		{"non numeric account", func(l *Line) { l.AccountNumber = "6200-000" }},
		{"zero amount", func(l *Line) { l.Amount = 0 }},
		{"negative amount", func(l *Line) { l.Amount = -100 }},
		{"unknown account type", func(l *Line) { l.AccountType = 7 }},
		{"missing reference", func(l *Line) { l.AccountReference = "" }},
		{"bad email", func(l *Line) { l.Email = "not-an-email" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuilder(testHeader())
			line := testLine("M001", 1000)
			tt.mutate(&line)
			assert.Error(t, b.Add(line))
			assert.Equal(t, 0, b.Len())
		})
	}
}

func TestBuild_RejectsInvalidHeader(t *testing.T) {
	h := testHeader()
	h.BatchName = "DO\t1"
	b := NewBuilder(h)
	require.NoError(t, b.Add(testLine("M001", 1000)))
	_, err := b.Build()
	assert.Error(t, err)
}

func TestParse_DetectsFooterMismatch(t *testing.T) {
	body := "H\tkey\t1\tTwoDay\tDO20240311-ALL-1\t20240311\t\r\n" +
		"K\t101\t162\r\n" +
		"T\tM001\t10000\r\n" +
		"T\tM002\t25050\r\n" +
		"F\t2\t99999\t9999\r\n"

	file, err := Parse([]byte(body))
	require.NoError(t, err)
	assert.ErrorIs(t, file.Verify(), ErrFooterMismatch)
}

func TestParse_Malformed(t *testing.T) {
	cases := map[string]string{
		"no footer":         "H\tkey\t1\tTwoDay\tB\t20240311\t\r\nK\t101\r\nT\tM001\r\n",
		"line after footer": "H\tkey\t1\tTwoDay\tB\t20240311\t\r\nK\t101\r\nF\t0\t0\t9999\r\nT\tM001\r\n",
		"field count":       "H\tkey\t1\tTwoDay\tB\t20240311\t\r\nK\t101\t162\r\nT\tM001\r\nF\t1\t0\t9999\r\n",
		"unknown record":    "X\tfoo\r\n",
		"bad date":          "H\tkey\t1\tTwoDay\tB\t2024-03-11\t\r\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(body))
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}
