package signing

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNotFound is returned when the backend does not know the requested resource
var ErrNotFound = errors.New("not found")

// APIError is a structured failure reported by the signing backend. FieldErrors
// carries per-field validation messages when the backend rejected form input.
type APIError struct {
	StatusCode  int               `json:"-"`
	Code        string            `json:"error"`
	Message     string            `json:"message"`
	FieldErrors map[string]string `json:"errors,omitempty"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("signing api: %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("signing api: %d %s", e.StatusCode, e.Code)
}

// Is lets errors.Is(err, ErrNotFound) match a 404 response
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// FieldErrors returns the per-field messages carried by err, if any
func FieldErrors(err error) map[string]string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && len(apiErr.FieldErrors) > 0 {
		return apiErr.FieldErrors
	}
	return nil
}

// UserMessage returns a human-readable message for err
func UserMessage(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return "Noe gikk galt under opprettelsen av signeringen. Vennligst prøv igjen."
}
