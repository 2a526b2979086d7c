package gateway

import (
	"bufio"
	"fmt"
	"strings"
	"time"

	"github.com/blnkfinance/collect/model"
	"github.com/shopspring/decimal"
)

// StatusMapper turns gateway status and reason codes into transaction outcomes and
// normalised failure reasons.
type StatusMapper struct {
	StatusCodes map[string]string
	ReasonCodes map[string]string
}

// Status maps a gateway status code. ok is false for codes the table does not know.
func (m StatusMapper) Status(code string) (model.TransactionStatus, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	status := model.TransactionStatus(m.StatusCodes[code])
	switch status {
	case model.StatusSuccessful, model.StatusFailed:
		return status, true
	}
	return "", false
}

// Reason normalises a failure reason, preferring the reason-code table and falling
// back to the reason text, e.g. "Insufficient Funds" -> "insufficient_funds".
func (m StatusMapper) Reason(reasonCode, reasonText string) string {
	if reason, ok := m.ReasonCodes[strings.TrimSpace(reasonCode)]; ok {
		return reason
	}
	return NormaliseReason(reasonText)
}

func NormaliseReason(text string) string {
	fields := strings.Fields(strings.ToLower(text))
	return strings.Join(fields, "_")
}

var reportDateLayouts = []string{"20060102", "2006-01-02", "2006/01/02"}

func parseReportDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range reportDateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", value)
}

// ParseStatusReport reads a tab-separated status report. Each line holds
// batch name, member reference, status code, reason code, reason text and date,
// optionally with the amount in rands before the date. Lines with unknown status
// codes are returned in skipped rather than guessed at.
func ParseStatusReport(report string, mapper StatusMapper) (updates []model.StatusUpdate, skipped []string, err error) {
	scanner := bufio.NewScanner(strings.NewReader(report))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(raw) == "" {
			continue
		}
		fields := strings.Split(raw, "\t")
		if len(fields) != 6 && len(fields) != 7 {
			return nil, nil, fmt.Errorf("report line %d: expected 6 or 7 fields, got %d", lineNo, len(fields))
		}

		update := model.StatusUpdate{
			BatchName:         strings.TrimSpace(fields[0]),
			MemberReference:   strings.TrimSpace(fields[1]),
			GatewayStatusCode: strings.TrimSpace(fields[2]),
			ReasonCode:        strings.TrimSpace(fields[3]),
			Source:            model.SourceReport,
		}

		dateField := fields[5]
		if len(fields) == 7 {
			amount, err := decimal.NewFromString(strings.TrimSpace(fields[5]))
			if err != nil {
				return nil, nil, fmt.Errorf("report line %d: amount %q: %w", lineNo, fields[5], err)
			}
			cents := model.ToMinorUnits(amount)
			update.Amount = &cents
			dateField = fields[6]
		}
		settled, err := parseReportDate(dateField)
		if err != nil {
			return nil, nil, fmt.Errorf("report line %d: %w", lineNo, err)
		}
		update.SettledAt = settled

		status, ok := mapper.Status(update.GatewayStatusCode)
		if !ok {
			skipped = append(skipped, raw)
			continue
		}
		update.Status = status
		if status == model.StatusFailed {
			update.Reason = mapper.Reason(update.ReasonCode, fields[4])
		}
		updates = append(updates, update)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, err
	}
	return updates, skipped, nil
}
