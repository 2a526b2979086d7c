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

// Package gateway submits debit-order batches to the payment gateway over its SOAP
// endpoint and classifies what comes back.
package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"sync/atomic"
	"time"

	"github.com/blnkfinance/collect/config"
	"github.com/cenkalti/backoff/v4"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const excerptLimit = 512

var (
	// ErrOutcomeUnknown means the request reached the gateway but no answer came back.
	// The batch may or may not have been accepted, so the call is not repeated.
	ErrOutcomeUnknown = errors.New("gateway outcome unknown")

	// ErrTransport means the gateway could not be reached after every attempt.
	ErrTransport = errors.New("gateway transport failure")

	ErrReportNotReady = errors.New("gateway report not ready")
)

// SubmitResult is the classified answer to an upload.
type SubmitResult struct {
	Accepted         bool    `json:"accepted"`
	Operation        string  `json:"operation"`
	GatewayReference string  `json:"gateway_reference,omitempty"`
	Outcome          Outcome `json:"outcome"`
	ResultCode       string  `json:"result_code,omitempty"`
	RawExcerpt       string  `json:"raw_excerpt,omitempty"`
}

// Client talks to the gateway. It is safe for concurrent use.
type Client struct {
	cfg        config.GatewayConfig
	codes      ResultCodes
	httpClient *http.Client
	timeout    time.Duration
	newBackOff func() backoff.BackOff
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) { client.httpClient = c }
}

// WithTimeout overrides the per-call timeout taken from configuration.
func WithTimeout(d time.Duration) Option {
	return func(client *Client) { client.timeout = d }
}

// WithBackOff replaces the retry schedule between transport attempts.
func WithBackOff(f func() backoff.BackOff) Option {
	return func(client *Client) { client.newBackOff = f }
}

// NewClient builds a client from configuration. A result-code file, when configured,
// is layered over the inline table.
func NewClient(cfg config.GatewayConfig, opts ...Option) (*Client, error) {
	codes := NewResultCodes(cfg.ResultCodes)
	if cfg.ResultCodesFile != "" {
		fromFile, err := LoadResultCodes(cfg.ResultCodesFile)
		if err != nil {
			return nil, err
		}
		codes = codes.Merge(fromFile)
	}

	c := &Client{
		cfg:        cfg,
		codes:      codes,
		httpClient: &http.Client{},
		timeout:    time.Duration(cfg.TimeoutSec) * time.Second,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.MaxInterval = 15 * time.Second
			return b
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) Operation() string {
	return c.cfg.UploadOperationName()
}

// Submit uploads a rendered batch body through the configured upload operation.
// Business rejections come back as a non-accepted result with a nil error. Errors are
// reserved for transport failures (ErrTransport) and ambiguous timeouts (ErrOutcomeUnknown).
func (c *Client) Submit(ctx context.Context, batchName string, body []byte) (*SubmitResult, error) {
	ctx, span := otel.Tracer("collect.gateway").Start(ctx, "Submit")
	defer span.End()

	op := c.Operation()
	span.SetAttributes(attribute.String("gateway.operation", op), attribute.String("batch.name", batchName))

	var envelope []byte
	var err error
	if c.cfg.Variant == config.OperationVariantCompact {
		envelope, err = EncodeCompactEnvelope(c.cfg.Namespace, op, c.cfg.ServiceKey, c.cfg.SoftwareVendorKey, body)
	} else {
		envelope, err = EncodeUploadEnvelope(c.cfg.Namespace, op, c.cfg.ServiceKey, body)
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, "encode envelope")
	}

	status, respBody, err := c.call(ctx, op, envelope)
	if err != nil {
		return nil, err
	}

	result := &SubmitResult{Operation: op, RawExcerpt: excerpt(respBody)}
	value, err := DecodeResult(respBody, op)
	if err != nil {
		var fault *SOAPFault
		if errors.As(err, &fault) || status == http.StatusOK {
			result.Outcome = OutcomeGeneral
			logrus.WithFields(logrus.Fields{"batch_name": batchName, "operation": op, "error": err}).Warn("gateway rejected batch")
			return result, nil
		}
		return nil, pkgerrors.Wrap(err, "read gateway response")
	}

	result.ResultCode = value
	if !isNumericCode(value) {
		// The plain upload answers with a file token on success.
		if c.cfg.Variant == config.OperationVariantUpload && value != "" {
			result.Accepted = true
			result.Outcome = OutcomeAccepted
			result.GatewayReference = value
			return result, nil
		}
		result.Outcome = OutcomeUnknown
		return result, nil
	}

	result.Outcome = c.codes.Lookup(op, value)
	if result.Outcome == OutcomeAccepted {
		result.Accepted = true
		result.GatewayReference = batchName
	}
	logrus.WithFields(logrus.Fields{
		"batch_name":  batchName,
		"operation":   op,
		"result_code": value,
		"outcome":     result.Outcome,
	}).Info("gateway answered batch upload")
	return result, nil
}

// RequestReport fetches the status report for an accepted batch.
func (c *Client) RequestReport(ctx context.Context, reference string) (string, error) {
	ctx, span := otel.Tracer("collect.gateway").Start(ctx, "RequestReport")
	defer span.End()

	op := c.cfg.ReportOperation
	envelope, err := EncodeReportEnvelope(c.cfg.Namespace, op, c.cfg.ServiceKey, reference)
	if err != nil {
		return "", pkgerrors.Wrap(err, "encode report envelope")
	}

	_, respBody, err := c.call(ctx, op, envelope)
	if err != nil {
		return "", err
	}

	value, err := DecodeResult(respBody, op)
	if err != nil {
		return "", pkgerrors.Wrapf(err, "report for %s", reference)
	}
	if isNumericCode(value) {
		switch outcome := c.codes.Lookup(op, value); outcome {
		case OutcomeNotReady:
			return "", ErrReportNotReady
		default:
			return "", fmt.Errorf("report for %s refused with code %s (%s)", reference, value, outcome)
		}
	}
	return value, nil
}

// call posts one envelope, retrying only failures that happened before the request
// was fully written or that came back as non-2xx without a SOAP body.
func (c *Client) call(ctx context.Context, op string, envelope []byte) (int, []byte, error) {
	attempts := c.cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var status int
	var respBody []byte
	attempt := 0
	operation := func() error {
		attempt++
		var err error
		status, respBody, err = c.post(ctx, op, envelope, c.timeout)
		if err != nil {
			if errors.Is(err, ErrOutcomeUnknown) {
				return backoff.Permanent(err)
			}
			logrus.WithFields(logrus.Fields{"operation": op, "attempt": attempt, "error": err}).Warn("gateway call failed")
			return err
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), uint64(attempts-1)), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		if errors.Is(err, ErrOutcomeUnknown) {
			return 0, nil, err
		}
		return 0, nil, pkgerrors.Wrapf(fmt.Errorf("%w: %v", ErrTransport, err), "%s after %d attempts", op, attempt)
	}
	return status, respBody, nil
}

func (c *Client) post(ctx context.Context, op string, envelope []byte, timeout time.Duration) (int, []byte, error) {
	callCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var wrote atomic.Bool
	trace := &httptrace.ClientTrace{
		WroteRequest: func(info httptrace.WroteRequestInfo) {
			if info.Err == nil {
				wrote.Store(true)
			}
		},
	}
	callCtx = httptrace.WithClientTrace(callCtx, trace)

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.cfg.EndpointURL, bytes.NewReader(envelope))
	if err != nil {
		return 0, nil, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", fmt.Sprintf("%q", c.cfg.ActionPrefix+op))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if wrote.Load() {
			return 0, nil, fmt.Errorf("%w: %v", ErrOutcomeUnknown, err)
		}
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrOutcomeUnknown, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// A SOAP fault is an answer, not a transport failure.
		if resp.StatusCode == http.StatusInternalServerError && bytes.Contains(body, []byte("Fault")) {
			return resp.StatusCode, body, nil
		}
		return 0, nil, fmt.Errorf("gateway returned HTTP %d: %s", resp.StatusCode, excerpt(body))
	}
	return resp.StatusCode, body, nil
}

func excerpt(body []byte) string {
	if len(body) > excerptLimit {
		return string(body[:excerptLimit])
	}
	return string(body)
}
