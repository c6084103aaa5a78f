package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// APIError is a failed REST call normalised to one shape.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

type errorBody struct {
	Code    string `json:"code"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// newAPIError reads the server's error or message field, falling back to
// fallback when the body carries neither.
func newAPIError(status int, body []byte, fallback string) *APIError {
	apiErr := &APIError{Status: status}
	var parsed errorBody
	if err := json.Unmarshal(body, &parsed); err == nil {
		apiErr.Code = parsed.Code
		switch {
		case strings.TrimSpace(parsed.Error) != "":
			apiErr.Message = parsed.Error
		case strings.TrimSpace(parsed.Message) != "":
			apiErr.Message = parsed.Message
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = fallback
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}

// Message returns a user-facing message for err: the server's message for an
// APIError, fallback for anything else.
func Message(err error, fallback string) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return fallback
}

func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

func IsForbidden(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusForbidden
}
