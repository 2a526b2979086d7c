package gateway

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

const soapEnvelopeNamespace = "http://schemas.xmlsoap.org/soap/envelope/"

type soapEnvelope struct {
	XMLName xml.Name `xml:"http://schemas.xmlsoap.org/soap/envelope/ Envelope"`
	Body    soapBody `xml:"http://schemas.xmlsoap.org/soap/envelope/ Body"`
}

type soapBody struct {
	Content interface{}
}

// operationRequest is the payload of every operation this service calls. The element
// name comes from XMLName at runtime.
type operationRequest struct {
	XMLName           xml.Name
	ServiceKey        string  `xml:"ServiceKey"`
	SoftwareVendorKey *string `xml:"SoftwareVendorKey,omitempty"`
	File              *string `xml:"File,omitempty"`
	FileToken         *string `xml:"FileToken,omitempty"`
}

// EncodeUploadEnvelope wraps a batch body for the plain upload operation. The file is
// sent as text; the XML encoder escapes tabs and line breaks as character references so
// the CRLF endings survive the receiver's end-of-line normalisation.
func EncodeUploadEnvelope(namespace, operation, serviceKey string, body []byte) ([]byte, error) {
	file := string(body)
	return marshalEnvelope(operationRequest{
		XMLName:    xml.Name{Space: namespace, Local: operation},
		ServiceKey: serviceKey,
		File:       &file,
	})
}

// EncodeCompactEnvelope wraps a batch body for the compact upload operation, which
// takes the vendor key and a base64 file.
func EncodeCompactEnvelope(namespace, operation, serviceKey, vendorKey string, body []byte) ([]byte, error) {
	file := base64.StdEncoding.EncodeToString(body)
	return marshalEnvelope(operationRequest{
		XMLName:           xml.Name{Space: namespace, Local: operation},
		ServiceKey:        serviceKey,
		SoftwareVendorKey: &vendorKey,
		File:              &file,
	})
}

func EncodeReportEnvelope(namespace, operation, serviceKey, fileToken string) ([]byte, error) {
	return marshalEnvelope(operationRequest{
		XMLName:    xml.Name{Space: namespace, Local: operation},
		ServiceKey: serviceKey,
		FileToken:  &fileToken,
	})
}

func marshalEnvelope(req operationRequest) ([]byte, error) {
	out, err := xml.Marshal(soapEnvelope{Body: soapBody{Content: req}})
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), out...), nil
}

// SOAPFault is returned when the response body carries a fault instead of a result.
type SOAPFault struct {
	Code   string
	String string
}

func (f *SOAPFault) Error() string {
	return fmt.Sprintf("soap fault %s: %s", f.Code, f.String)
}

// DecodeResult extracts the text of <operation>Result from a response envelope.
func DecodeResult(data []byte, operation string) (string, error) {
	resultElement := operation + "Result"
	decoder := xml.NewDecoder(bytes.NewReader(data))

	var fault *SOAPFault
	var current string
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("decode %s response: %w", operation, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			current = t.Name.Local
			switch current {
			case resultElement:
				var value string
				if err := decoder.DecodeElement(&value, &t); err != nil {
					return "", fmt.Errorf("decode %s: %w", resultElement, err)
				}
				return strings.TrimSpace(value), nil
			case "Fault":
				fault = &SOAPFault{}
			}
		case xml.CharData:
			if fault == nil {
				continue
			}
			switch current {
			case "faultcode":
				fault.Code += strings.TrimSpace(string(t))
			case "faultstring":
				fault.String += strings.TrimSpace(string(t))
			}
		case xml.EndElement:
			current = ""
		}
	}

	if fault != nil {
		return "", fault
	}
	return "", fmt.Errorf("response has no %s element", resultElement)
}
