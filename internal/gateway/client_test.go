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

package gateway

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/blnkfinance/collect/config"
	"github.com/cenkalti/backoff/v4"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testEndpoint = "https://gateway.example.com/NIWS_NIF.svc"

var sampleBody = []byte("H\tkey\t1\tTwoDay\tDO20240311-ALL-1\t20240311\t\r\nK\t101\t162\r\nT\tM001\t10000\r\nF\t1\t10000\t9999\r\n")

func testGatewayConfig(variant string) config.GatewayConfig {
	return config.GatewayConfig{
		EndpointURL:       testEndpoint,
		ServiceKey:        "service-key",
		SoftwareVendorKey: "vendor-key",
		Variant:           variant,
		UploadOperation:   "BatchFileUpload",
		CompactOperation:  "BatchFileUploadCompact",
		ReportOperation:   "RequestFileUploadReport",
		Namespace:         "http://tempuri.org/",
		ActionPrefix:      "http://tempuri.org/INIWS_NIF/",
		TimeoutSec:        5,
		MaxAttempts:       3,
		ResultCodes:       config.DefaultResultCodes(),
	}
}

func newTestClient(t *testing.T, cfg config.GatewayConfig, opts ...Option) *Client {
	opts = append([]Option{WithBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} })}, opts...)
	c, err := NewClient(cfg, opts...)
	require.NoError(t, err)
	return c
}

func soapResponse(op, result string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/">
  <s:Body>
    <%[1]sResponse xmlns="http://tempuri.org/">
      <%[1]sResult>%[2]s</%[1]sResult>
    </%[1]sResponse>
  </s:Body>
</s:Envelope>`, op, result)
}

func TestSubmit_UploadAcceptedWithToken(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	var captured string
	httpmock.RegisterResponder("POST", testEndpoint, func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, `"http://tempuri.org/INIWS_NIF/BatchFileUpload"`, req.Header.Get("SOAPAction"))
		assert.Contains(t, req.Header.Get("Content-Type"), "text/xml")
		data, _ := io.ReadAll(req.Body)
		captured = string(data)
		return httpmock.NewStringResponse(200, soapResponse("BatchFileUpload", "3f2a9c1e-token")), nil
	})

	client := newTestClient(t, testGatewayConfig(config.OperationVariantUpload))
	result, err := client.Submit(context.Background(), "DO20240311-ALL-1", sampleBody)
	require.NoError(t, err)

	assert.True(t, result.Accepted)
	assert.Equal(t, OutcomeAccepted, result.Outcome)
	assert.Equal(t, "3f2a9c1e-token", result.GatewayReference)
	assert.Equal(t, "BatchFileUpload", result.Operation)

	assert.Contains(t, captured, `<BatchFileUpload xmlns="http://tempuri.org/">`)
	assert.Contains(t, captured, "<ServiceKey>service-key</ServiceKey>")
	assert.Contains(t, captured, "&#xD;&#xA;")
	assert.Contains(t, captured, "&#x9;")
	assert.NotContains(t, captured, "SoftwareVendorKey")
}

func TestSubmit_CompactAccepted(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	var captured string
	httpmock.RegisterResponder("POST", testEndpoint, func(req *http.Request) (*http.Response, error) {
		data, _ := io.ReadAll(req.Body)
		captured = string(data)
		return httpmock.NewStringResponse(200, soapResponse("BatchFileUploadCompact", "0")), nil
	})

	client := newTestClient(t, testGatewayConfig(config.OperationVariantCompact))
	result, err := client.Submit(context.Background(), "DO20240311-ALL-1", sampleBody)
	require.NoError(t, err)
	assert.True(t, result.Accepted)
	assert.Equal(t, "DO20240311-ALL-1", result.GatewayReference)

	assert.Contains(t, captured, "<SoftwareVendorKey>vendor-key</SoftwareVendorKey>")
	assert.Contains(t, captured, "<File>"+base64.StdEncoding.EncodeToString(sampleBody)+"</File>")
}

func TestSubmit_BusinessRejections(t *testing.T) {
	tests := []struct {
		name    string
		variant string
		op      string
		code    string
		outcome Outcome
	}{
		{"authentication", config.OperationVariantUpload, "BatchFileUpload", "100", OutcomeAuthentication},
		{"malformed", config.OperationVariantUpload, "BatchFileUpload", "102", OutcomeMalformed},
		{"general", config.OperationVariantCompact, "BatchFileUploadCompact", "200", OutcomeGeneral},
		{"unknown numeric code is not success", config.OperationVariantUpload, "BatchFileUpload", "0", OutcomeUnknown},
		{"unknown compact code", config.OperationVariantCompact, "BatchFileUploadCompact", "999", OutcomeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			httpmock.Activate()
			defer httpmock.DeactivateAndReset()
			httpmock.RegisterResponder("POST", testEndpoint, httpmock.NewStringResponder(200, soapResponse(tt.op, tt.code)))

			client := newTestClient(t, testGatewayConfig(tt.variant))
			result, err := client.Submit(context.Background(), "DO20240311-ALL-1", sampleBody)
			require.NoError(t, err)
			assert.False(t, result.Accepted)
			assert.Equal(t, tt.outcome, result.Outcome)
			assert.Equal(t, tt.code, result.ResultCode)
			assert.NotEmpty(t, result.RawExcerpt)
			assert.Equal(t, 1, httpmock.GetTotalCallCount())
		})
	}
}

func TestSubmit_SoapFaultIsNotRetried(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	fault := `<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/"><s:Body><s:Fault>` +
		`<faultcode>s:Client</faultcode><faultstring>Invalid file</faultstring></s:Fault></s:Body></s:Envelope>`
	httpmock.RegisterResponder("POST", testEndpoint, httpmock.NewStringResponder(500, fault))

	client := newTestClient(t, testGatewayConfig(config.OperationVariantUpload))
	result, err := client.Submit(context.Background(), "DO20240311-ALL-1", sampleBody)
	require.NoError(t, err)
	assert.False(t, result.Accepted)
	assert.Equal(t, OutcomeGeneral, result.Outcome)
	assert.Contains(t, result.RawExcerpt, "Invalid file")
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestSubmit_TransportFailureRetriedThenGivesUp(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()
	httpmock.RegisterResponder("POST", testEndpoint, httpmock.NewStringResponder(503, "unavailable"))

	client := newTestClient(t, testGatewayConfig(config.OperationVariantUpload))
	_, err := client.Submit(context.Background(), "DO20240311-ALL-1", sampleBody)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransport))
	assert.Equal(t, 3, httpmock.GetTotalCallCount())
}

func TestSubmit_TransportRecovers(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	calls := 0
	httpmock.RegisterResponder("POST", testEndpoint, func(req *http.Request) (*http.Response, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("connection refused")
		}
		return httpmock.NewStringResponse(200, soapResponse("BatchFileUpload", "token-2")), nil
	})

	client := newTestClient(t, testGatewayConfig(config.OperationVariantUpload))
	result, err := client.Submit(context.Background(), "DO20240311-ALL-1", sampleBody)
	require.NoError(t, err)
	assert.True(t, result.Accepted)
	assert.Equal(t, 2, calls)
}

func TestSubmit_TimeoutAfterWriteIsAmbiguous(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = io.ReadAll(r.Body)
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	cfg := testGatewayConfig(config.OperationVariantUpload)
	cfg.EndpointURL = server.URL
	client := newTestClient(t, cfg, WithTimeout(100*time.Millisecond))

	_, err := client.Submit(context.Background(), "DO20240311-ALL-1", sampleBody)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOutcomeUnknown))
	assert.False(t, errors.Is(err, ErrTransport))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestRequestReport(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	report := "DO20240311-ALL-1\tM001\tS\t\t\t20240311"
	var captured string
	httpmock.RegisterResponder("POST", testEndpoint, func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, `"http://tempuri.org/INIWS_NIF/RequestFileUploadReport"`, req.Header.Get("SOAPAction"))
		data, _ := io.ReadAll(req.Body)
		captured = string(data)
		return httpmock.NewStringResponse(200, soapResponse("RequestFileUploadReport", report)), nil
	})

	client := newTestClient(t, testGatewayConfig(config.OperationVariantUpload))
	got, err := client.RequestReport(context.Background(), "3f2a9c1e-token")
	require.NoError(t, err)
	assert.Equal(t, report, got)
	assert.Contains(t, captured, "<FileToken>3f2a9c1e-token</FileToken>")
}

func TestRequestReport_NotReady(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()
	httpmock.RegisterResponder("POST", testEndpoint, httpmock.NewStringResponder(200, soapResponse("RequestFileUploadReport", "104")))

	client := newTestClient(t, testGatewayConfig(config.OperationVariantUpload))
	_, err := client.RequestReport(context.Background(), "token")
	assert.ErrorIs(t, err, ErrReportNotReady)
}

func TestLoadResultCodes(t *testing.T) {
	f, err := os.CreateTemp("", "result-codes-*.yaml")
	require.NoError(t, err)
	defer os.Remove(f.Name())

	_, err = f.WriteString("BatchFileUpload:\n  \"100\": authentication_failure\n  \"105\": malformed_batch\n")
	require.NoError(t, err)
	f.Close()

	cfg := testGatewayConfig(config.OperationVariantUpload)
	cfg.ResultCodesFile = f.Name()
	client := newTestClient(t, cfg)
	assert.Equal(t, OutcomeMalformed, client.codes.Lookup("BatchFileUpload", "105"))
	assert.Equal(t, OutcomeMalformed, client.codes.Lookup("BatchFileUpload", "102"))
	assert.Equal(t, OutcomeAccepted, client.codes.Lookup("BatchFileUploadCompact", "0"))
	assert.Equal(t, OutcomeUnknown, client.codes.Lookup("BatchFileUpload", "0"))
}

func TestLoadResultCodes_RejectsUnknownOutcome(t *testing.T) {
	f, err := os.CreateTemp("", "result-codes-*.yaml")
	require.NoError(t, err)
	defer os.Remove(f.Name())
	_, err = f.WriteString("BatchFileUpload:\n  \"0\": success\n")
	require.NoError(t, err)
	f.Close()

	_, err = LoadResultCodes(f.Name())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "unknown outcome"))
}

func TestDecodeResult_Missing(t *testing.T) {
	_, err := DecodeResult([]byte(soapResponse("Other", "1")), "BatchFileUpload")
	assert.Error(t, err)
}
