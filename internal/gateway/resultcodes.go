package gateway

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Outcome string

const (
	OutcomeAccepted       Outcome = "accepted"
	OutcomeAuthentication Outcome = "authentication_failure"
	OutcomeMalformed      Outcome = "malformed_batch"
	OutcomeGeneral        Outcome = "general_exception"
	OutcomeNotReady       Outcome = "not_ready"
	OutcomeUnknown        Outcome = "unknown"
)

// ResultCodes maps an operation name to its result-code table. Every operation has
// its own table; no code is shared between operations by assumption.
type ResultCodes map[string]map[string]Outcome

// NewResultCodes converts the configuration's string table.
func NewResultCodes(raw map[string]map[string]string) ResultCodes {
	codes := ResultCodes{}
	for op, table := range raw {
		codes[op] = map[string]Outcome{}
		for code, outcome := range table {
			codes[op][strings.TrimSpace(code)] = Outcome(outcome)
		}
	}
	return codes
}

// LoadResultCodes reads a YAML file of the form
//
//	BatchFileUpload:
//	  "100": authentication_failure
func LoadResultCodes(path string) (ResultCodes, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]map[string]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse result code table %s: %w", path, err)
	}
	codes := NewResultCodes(raw)
	for op, table := range codes {
		for code, outcome := range table {
			if !outcome.valid() {
				return nil, fmt.Errorf("result code table %s: operation %s code %s has unknown outcome %q", path, op, code, outcome)
			}
		}
	}
	return codes, nil
}

// Merge overlays other onto r, operation by operation.
func (r ResultCodes) Merge(other ResultCodes) ResultCodes {
	merged := ResultCodes{}
	for op, table := range r {
		merged[op] = map[string]Outcome{}
		for code, outcome := range table {
			merged[op][code] = outcome
		}
	}
	for op, table := range other {
		if merged[op] == nil {
			merged[op] = map[string]Outcome{}
		}
		for code, outcome := range table {
			merged[op][code] = outcome
		}
	}
	return merged
}

// Lookup returns the outcome for a numeric result code. Codes missing from the
// operation's table are OutcomeUnknown and never count as success.
func (r ResultCodes) Lookup(operation, code string) Outcome {
	if outcome, ok := r[operation][strings.TrimSpace(code)]; ok {
		return outcome
	}
	return OutcomeUnknown
}

func (o Outcome) valid() bool {
	switch o {
	case OutcomeAccepted, OutcomeAuthentication, OutcomeMalformed, OutcomeGeneral, OutcomeNotReady:
		return true
	}
	return false
}

func isNumericCode(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	_, err := strconv.Atoi(s)
	return err == nil
}
