package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/zmcp/xrm-webapi/internal/constants"
	"github.com/zmcp/xrm-webapi/internal/models"
)

// ErrUnexpected is matched by a ProtocolError whose body carried no
// structured error object.
var ErrUnexpected = errors.New(constants.ErrUnexpected)

// ErrMissingEntityID is returned by Create when the server reported success
// without an OData-EntityId header.
var ErrMissingEntityID = errors.New("response has no OData-EntityId header")

// ProtocolError is a non-2xx answer from the Web API
type ProtocolError struct {
	StatusCode int
	Err        *models.ODataError // nil when the body was not a JSON error object
	Body       []byte
}

// Code returns the server error code, e.g. 0x80040217, or "" if none
func (e *ProtocolError) Code() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Code
}

// Message returns the server error message, or "unexpected error" if the
// body carried none
func (e *ProtocolError) Message() string {
	if e.Err == nil {
		return constants.ErrUnexpected
	}
	return e.Err.Message
}

func (e *ProtocolError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, constants.ErrUnexpected)
	}

	var errMsg strings.Builder

	errMsg.WriteString(fmt.Sprintf("OData error (HTTP %d)", e.StatusCode))

	if e.Err.Code != "" {
		errMsg.WriteString(fmt.Sprintf(" [%s]", e.Err.Code))
	}

	errMsg.WriteString(fmt.Sprintf(": %s", e.Err.Message))

	if e.Err.Target != "" {
		errMsg.WriteString(fmt.Sprintf(" (target: %s)", e.Err.Target))
	}

	if len(e.Err.Details) > 0 {
		errMsg.WriteString(" | Details: ")
		for i, detail := range e.Err.Details {
			if i > 0 {
				errMsg.WriteString("; ")
			}
			errMsg.WriteString(detail.Message)
			if detail.Target != "" {
				errMsg.WriteString(fmt.Sprintf(" (target: %s)", detail.Target))
			}
		}
	}

	return errMsg.String()
}

// Unwrap exposes ErrUnexpected for bodies without a structured error
func (e *ProtocolError) Unwrap() error {
	if e.Err == nil {
		return ErrUnexpected
	}
	return nil
}

// TransportError means no HTTP status was obtained at all
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", constants.ErrRequestFailed, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// parseErrorFromBody turns a failed response into a ProtocolError. The body
// must be JSON with an "error" object to yield a structured error.
func parseErrorFromBody(body []byte, statusCode int) error {
	var errorResp struct {
		Error *models.ODataError `json:"error"`
	}

	if err := json.Unmarshal(body, &errorResp); err == nil && errorResp.Error != nil {
		return &ProtocolError{StatusCode: statusCode, Err: errorResp.Error, Body: body}
	}

	return &ProtocolError{StatusCode: statusCode, Body: body}
}
