package batchfile

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

var digitsOnly = regexp.MustCompile(`^[0-9]+$`)

// noSeparators rejects characters that would break the record layout.
func noSeparators(value interface{}) error {
	s, _ := value.(string)
	if strings.ContainsAny(s, "\t\r\n") {
		return errors.New("must not contain tab or line break characters")
	}
	return nil
}

func (h Header) Validate() error {
	return validation.ValidateStruct(&h,
		validation.Field(&h.ServiceKey, validation.Required, validation.By(noSeparators)),
		validation.Field(&h.Version, validation.Required, validation.By(noSeparators)),
		validation.Field(&h.BatchTiming, validation.Required, validation.By(noSeparators)),
		validation.Field(&h.BatchName, validation.Required, validation.By(noSeparators)),
		validation.Field(&h.ActionDate, validation.Required),
		validation.Field(&h.SoftwareVendorKey, validation.By(noSeparators)),
	)
}

func (l Line) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.AccountReference, validation.Required, validation.By(noSeparators)),
		validation.Field(&l.AccountName, validation.Required, validation.By(noSeparators)),
		validation.Field(&l.BankingDetailType, validation.Required, validation.By(noSeparators)),
		validation.Field(&l.AccountHolder, validation.Required, validation.By(noSeparators)),
		validation.Field(&l.AccountType, validation.Required, validation.Min(1), validation.Max(3)),
		validation.Field(&l.BranchCode, validation.Required, is.Digit, validation.Length(6, 6)),
		validation.Field(&l.AccountNumber, validation.Required, validation.Match(digitsOnly), validation.Length(1, 11)),
		validation.Field(&l.Amount, validation.Required, validation.Min(int64(1))),
		validation.Field(&l.Email, validation.By(noSeparators), is.EmailFormat),
		validation.Field(&l.Extra1, validation.By(noSeparators)),
		validation.Field(&l.Extra2, validation.By(noSeparators)),
		validation.Field(&l.Extra3, validation.By(noSeparators)),
	)
}

// Builder accumulates a batch and owns the record layout. Lines are validated as
// they are added; Build refuses to return a body whose footer does not agree with
// a recount of its own T lines.
type Builder struct {
	header Header
	lines  []Line
}

func NewBuilder(header Header) *Builder {
	if header.Version == "" {
		header.Version = Version
	}
	return &Builder{header: header}
}

func (b *Builder) Add(line Line) error {
	if line.BankingDetailType == "" {
		line.BankingDetailType = BankingDetailTypeBankAccount
	}
	if err := line.Validate(); err != nil {
		return fmt.Errorf("line %d (%s): %w", len(b.lines)+1, line.AccountReference, err)
	}
	b.lines = append(b.lines, line)
	return nil
}

func (b *Builder) Len() int {
	return len(b.lines)
}

func (b *Builder) Total() int64 {
	var total int64
	for _, line := range b.lines {
		total += line.Amount
	}
	return total
}

// Build renders the body with CRLF line endings.
func (b *Builder) Build() ([]byte, error) {
	if err := b.header.Validate(); err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}
	if len(b.lines) == 0 {
		return nil, ErrEmpty
	}

	var buf bytes.Buffer
	writeRecord(&buf, RecordHeader, b.header.fields())
	writeRecord(&buf, RecordKey, FieldCodes)
	for _, line := range b.lines {
		writeRecord(&buf, RecordTransaction, line.fields())
	}
	writeRecord(&buf, RecordFooter, []string{
		strconv.Itoa(len(b.lines)),
		strconv.FormatInt(b.Total(), 10),
		FooterSentinel,
	})

	body := buf.Bytes()
	if err := verifyRendered(body); err != nil {
		return nil, err
	}
	return body, nil
}

func writeRecord(buf *bytes.Buffer, record string, fields []string) {
	buf.WriteString(record)
	for _, f := range fields {
		buf.WriteString(separator)
		buf.WriteString(f)
	}
	buf.WriteString(lineEnding)
}

// verifyRendered recounts the T lines of a rendered body independently of the builder state.
func verifyRendered(body []byte) error {
	file, err := Parse(body)
	if err != nil {
		return err
	}
	return file.Verify()
}
