package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrInvalidContent is wrapped by the Error returned for content that
// cannot be sent.
var ErrInvalidContent = errors.New("api: invalid message content")

// Error is a failed REST call. Status is the HTTP status, or 0 when the
// request never got a response.
type Error struct {
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Status == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (status %d)", e.Message, e.Status)
}

func (e *Error) Unwrap() error { return e.Err }

// networkError wraps a failure to complete the HTTP exchange.
func networkError(err error) *Error {
	msg := "network error"
	if err != nil && strings.TrimSpace(err.Error()) != "" {
		msg = err.Error()
	}
	return &Error{Message: msg, Err: err}
}

// invalidContent is the client-side equivalent of a 400 response; no
// request is sent.
func invalidContent(msg string) *Error {
	return &Error{Status: http.StatusBadRequest, Message: msg, Err: ErrInvalidContent}
}

// statusError builds the error for a non-2xx response from whatever
// human-readable field the body carries.
func statusError(status int, body []byte) *Error {
	return &Error{Status: status, Message: extractMessage(body, status)}
}

// messageFields are checked in order for a human-readable error.
var messageFields = []string{"message", "error", "title", "detail"}

func extractMessage(body []byte, status int) string {
	fallback := fmt.Sprintf("server error: %d", status)

	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return fallback
	}
	for _, key := range messageFields {
		if s, ok := fields[key].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	if msg := firstString(fields["errors"]); msg != "" {
		return msg
	}
	return fallback
}

// firstString digs the first non-empty string out of a validation errors
// value, which servers send as a list or as a map of field to list.
func firstString(v any) string {
	switch v := v.(type) {
	case string:
		return strings.TrimSpace(v)
	case []any:
		for _, item := range v {
			if s := firstString(item); s != "" {
				return s
			}
		}
	case map[string]any:
		for _, item := range v {
			if s := firstString(item); s != "" {
				return s
			}
		}
	}
	return ""
}
