package batchfile

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Parse reads a rendered body back into its records. Both CRLF and bare LF line
// endings are accepted.
func Parse(body []byte) (*File, error) {
	file := &File{}
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var sawHeader, sawKey, sawFooter bool
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := strings.TrimSuffix(scanner.Text(), "\r")
		if raw == "" {
			continue
		}
		if sawFooter {
			return nil, fmt.Errorf("%w: line %d follows the footer", ErrMalformed, lineNo)
		}
		fields := strings.Split(raw, separator)

		switch fields[0] {
		case RecordHeader:
			if sawHeader || len(fields) != 7 {
				return nil, fmt.Errorf("%w: bad header on line %d", ErrMalformed, lineNo)
			}
			actionDate, err := time.Parse(DateLayout, fields[5])
			if err != nil {
				return nil, fmt.Errorf("%w: bad action date %q", ErrMalformed, fields[5])
			}
			file.Header = Header{
				ServiceKey:        fields[1],
				Version:           fields[2],
				BatchTiming:       fields[3],
				BatchName:         fields[4],
				ActionDate:        actionDate,
				SoftwareVendorKey: fields[6],
			}
			sawHeader = true
		case RecordKey:
			if !sawHeader || sawKey {
				return nil, fmt.Errorf("%w: unexpected key line %d", ErrMalformed, lineNo)
			}
			file.FieldCodes = fields[1:]
			sawKey = true
		case RecordTransaction:
			if !sawKey {
				return nil, fmt.Errorf("%w: transaction line %d before key line", ErrMalformed, lineNo)
			}
			line, err := parseLine(file.FieldCodes, fields[1:])
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: %v", ErrMalformed, lineNo, err)
			}
			file.Lines = append(file.Lines, line)
		case RecordFooter:
			if len(fields) != 4 {
				return nil, fmt.Errorf("%w: bad footer on line %d", ErrMalformed, lineNo)
			}
			count, err := strconv.Atoi(fields[1])
			if err != nil {
				return nil, fmt.Errorf("%w: bad footer count %q", ErrMalformed, fields[1])
			}
			total, err := strconv.ParseInt(fields[2], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: bad footer total %q", ErrMalformed, fields[2])
			}
			file.Footer = Footer{Count: count, Total: total, Sentinel: fields[3]}
			sawFooter = true
		default:
			return nil, fmt.Errorf("%w: unknown record type %q on line %d", ErrMalformed, fields[0], lineNo)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if !sawHeader || !sawKey || !sawFooter {
		return nil, fmt.Errorf("%w: missing header, key or footer", ErrMalformed)
	}
	return file, nil
}

func parseLine(codes, values []string) (Line, error) {
	if len(codes) != len(values) {
		return Line{}, fmt.Errorf("expected %d fields, got %d", len(codes), len(values))
	}
	var line Line
	for i, code := range codes {
		v := values[i]
		switch code {
		case FieldAccountReference:
			line.AccountReference = v
		case FieldAccountName:
			line.AccountName = v
		case FieldBankingDetailType:
			line.BankingDetailType = v
		case FieldAccountHolder:
			line.AccountHolder = v
		case FieldAccountType:
			t, err := strconv.Atoi(v)
			if err != nil {
				return Line{}, fmt.Errorf("account type %q", v)
			}
			line.AccountType = t
		case FieldBranchCode:
			line.BranchCode = v
		case FieldAccountNumber:
			line.AccountNumber = v
		case FieldAmount:
			amount, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return Line{}, fmt.Errorf("amount %q", v)
			}
			line.Amount = amount
		case FieldEmail:
			line.Email = v
		case FieldExtra1:
			line.Extra1 = v
		case FieldExtra2:
			line.Extra2 = v
		case FieldExtra3:
			line.Extra3 = v
		}
	}
	return line, nil
}
