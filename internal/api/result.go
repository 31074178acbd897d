package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const (
	CodeNetwork        = "NETWORK_ERROR"
	CodeSessionExpired = "SESSION_EXPIRED"
	CodeCanceled       = "REQUEST_CANCELED"
	CodeDecode         = "DECODE_ERROR"
	CodeRequest        = "REQUEST_ERROR"
)

// Result is the uniform outcome of every call. Failures never escape as Go
// errors; they are described by Error.
type Result[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// Status is the HTTP status that produced the error, 0 when no response
	// was received.
	Status int `json:"-"`
}

func (e *Error) Error() string {
	if e == nil {
		return "request failed"
	}
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

func Success[T any](data T) Result[T] {
	return Result[T]{Success: true, Data: data}
}

func Failure[T any](code string, message string, status int) Result[T] {
	return Result[T]{Error: &Error{Code: code, Message: message, Status: status}}
}

// Err returns the failure as an error value, nil on success.
func (r Result[T]) Err() error {
	if r.Success {
		return nil
	}
	if r.Error == nil {
		return &Error{Code: CodeRequest, Message: "request failed"}
	}
	return r.Error
}

func decodeResult[T any](raw Result[json.RawMessage]) Result[T] {
	if !raw.Success {
		return Result[T]{Error: raw.Error}
	}
	var data T
	if len(raw.Data) == 0 || bytes.Equal(raw.Data, []byte("null")) {
		return Success(data)
	}
	if err := json.Unmarshal(raw.Data, &data); err != nil {
		return Failure[T](CodeDecode, fmt.Sprintf("decode response: %v", err), 0)
	}
	return Success(data)
}

// successPayload extracts the data of a 2xx body. Bodies already shaped as
// {"success": true, "data": ...} are unwrapped so callers never see a
// double envelope.
func successPayload(body []byte) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if !json.Valid(trimmed) {
		return nil, fmt.Errorf("response is not valid JSON")
	}
	if trimmed[0] == '{' {
		var envelope struct {
			Success *bool           `json:"success"`
			Data    json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(trimmed, &envelope); err == nil && envelope.Success != nil && *envelope.Success {
			return envelope.Data, nil
		}
	}
	return json.RawMessage(trimmed), nil
}

// errorFromBody decodes the common error body shapes and falls back to the
// HTTP status when the body carries nothing usable.
func errorFromBody(status int, statusText string, body []byte) *Error {
	out := &Error{Status: status}

	var parsed struct {
		Error   json.RawMessage `json:"error"`
		Code    string          `json:"code"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(body), &parsed); err == nil {
		out.Code = strings.TrimSpace(parsed.Code)
		out.Message = strings.TrimSpace(parsed.Message)
		nested := bytes.TrimSpace(parsed.Error)
		switch {
		case len(nested) > 0 && nested[0] == '{':
			var inner struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			}
			if json.Unmarshal(nested, &inner) == nil {
				if code := strings.TrimSpace(inner.Code); code != "" {
					out.Code = code
				}
				if message := strings.TrimSpace(inner.Message); message != "" {
					out.Message = message
				}
			}
		case len(nested) > 0 && nested[0] == '"':
			var message string
			if json.Unmarshal(nested, &message) == nil && out.Message == "" {
				out.Message = strings.TrimSpace(message)
			}
		}
	}

	if out.Code == "" {
		out.Code = fmt.Sprintf("HTTP_%d", status)
	}
	if out.Message == "" {
		out.Message = strings.TrimSpace(statusText)
		if out.Message == "" {
			out.Message = http.StatusText(status)
		}
	}
	return out
}
