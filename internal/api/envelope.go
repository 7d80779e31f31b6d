package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/koustreak/openbucket/internal/errs"
)

// Response is the envelope every API call is normalized to, including calls
// that never reached the server. Callers branch on Success only; Status is
// kept for the one case that needs it (404 on a detail fetch).
type Response struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`

	Error        string `json:"error,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	ErrorCode    int    `json:"error_code,omitempty"`

	// Status is the HTTP status of the response; it is not part of the body.
	Status int `json:"-"`

	// cause is the transport error behind a request_failed envelope.
	cause *errs.Error
}

// Succeeded builds a success envelope around data.
func Succeeded(message string, data any) (*Response, error) {
	r := &Response{Success: true, Message: message, Status: http.StatusOK}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		r.Data = raw
	}
	return r, nil
}

// Failed builds an error envelope from err. Errors that are not *errs.Error
// are reported with the unknown kind.
func Failed(err error) *Response {
	kind := errs.KindOf(err)
	code := 0
	var e *errs.Error
	if errors.As(err, &e) {
		code = e.Code
	}
	return &Response{
		Success:      false,
		Error:        kind.String(),
		ErrorMessage: errs.MessageOf(err),
		ErrorCode:    code,
		Status:       StatusFor(kind),
	}
}

// requestFailed is the envelope for a call that produced no usable response.
func requestFailed(err error) *Response {
	e := errs.RequestFailed(err.Error(), err)
	return &Response{
		Success:      false,
		Error:        e.Kind.String(),
		ErrorMessage: e.Message,
		ErrorCode:    e.Code,
		Status:       http.StatusInternalServerError,
		cause:        e,
	}
}

// Err converts a failed envelope into an *errs.Error. It returns nil on
// success. A 404 is always reported as not found, whatever the body says.
// Transport failures keep the underlying error as their cause.
func (r *Response) Err() error {
	if r.Success {
		return nil
	}
	if r.cause != nil {
		return r.cause
	}

	kind := errs.ParseKind(r.Error)
	if r.Status == http.StatusNotFound {
		kind = errs.ErrKindNotFound
	}

	msg := r.ErrorMessage
	if msg == "" {
		msg = "Unexpected error occurred"
	}
	return &errs.Error{Kind: kind, Message: msg, Code: r.ErrorCode, Status: r.Status}
}

// Decode unmarshals Data into out. An empty or null payload leaves out
// untouched.
func (r *Response) Decode(out any) error {
	if out == nil || len(r.Data) == 0 || string(r.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(r.Data, out); err != nil {
		return errs.Wrap(errs.ErrKindServer, "malformed response data", err)
	}
	return nil
}

// StatusFor maps an error kind to the HTTP status used by the server.
func StatusFor(kind errs.ErrKind) int {
	switch kind {
	case errs.ErrKindNotFound:
		return http.StatusNotFound
	case errs.ErrKindInvalidInput:
		return http.StatusBadRequest
	case errs.ErrKindPermissionDenied:
		return http.StatusForbidden
	case errs.ErrKindTimeout:
		return http.StatusGatewayTimeout
	case errs.ErrKindConnectionFailed, errs.ErrKindRequestFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
