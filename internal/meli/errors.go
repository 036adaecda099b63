package meli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// APIError is a structured marketplace HTTP error. Detail holds a concise
// message assembled from the platform's {error, message, cause[]} shape;
// Payload keeps the raw decoded body for callers that inspect causes.
type APIError struct {
	StatusCode int
	Method     string
	URL        string
	Detail     string
	Payload    map[string]any
	// RetryAfter carries the platform's Retry-After hint on 429s, if any.
	RetryAfter time.Duration
}

func asAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	ok := errors.As(err, &apiErr)
	return apiErr, ok
}

func (e *APIError) Error() string {
	return fmt.Sprintf("marketplace %d %s %s: %s", e.StatusCode, e.Method, e.URL, e.Detail)
}

// CallError wraps a failed operation with the number of HTTP calls the
// retry controller dispatched before giving up. Callers recording per-target
// attempt counts read it back through Attempts.
type CallError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *CallError) Error() string { return e.Err.Error() }

func (e *CallError) Unwrap() error { return e.Err }

// Attempts extracts the dispatched call count from an error chain. Errors
// that never reached the wire count as a single attempt.
func Attempts(err error) int {
	var callErr *CallError
	if errors.As(err, &callErr) && callErr.Attempts > 0 {
		return callErr.Attempts
	}
	return 1
}

// IsRateLimited reports a 429 response.
func IsRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests
}

// IsTransient reports a retryable server-side failure.
func IsTransient(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode >= 500
}

// IsValidation reports a non-retryable client error (4xx, not rate limit).
func IsValidation(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 &&
		apiErr.StatusCode != http.StatusTooManyRequests
}

// IsNotFound reports a 404 response.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// CauseTexts collects every textual field of the error payload, top-level
// message included. Used by callers that scan for specific rejection causes.
func (e *APIError) CauseTexts() []string {
	texts := []string{e.Detail}
	if e.Payload == nil {
		return texts
	}
	for _, key := range []string{"message", "error", "detail"} {
		if s, ok := e.Payload[key].(string); ok {
			texts = append(texts, s)
		}
	}
	causes, _ := e.Payload["cause"].([]any)
	for _, raw := range causes {
		cause, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		for _, key := range []string{"code", "message", "description"} {
			if s, ok := cause[key].(string); ok {
				texts = append(texts, s)
			}
		}
	}
	return texts
}

func newAPIError(resp *http.Response, body []byte) *APIError {
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Method:     resp.Request.Method,
		URL:        resp.Request.URL.String(),
	}
	apiErr.Detail, apiErr.Payload = extractErrorDetail(resp, body)
	if raw := resp.Header.Get("Retry-After"); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			apiErr.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return apiErr
}

// extractErrorDetail parses structured platform errors into a concise message.
func extractErrorDetail(resp *http.Response, body []byte) (string, map[string]any) {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		text := strings.TrimSpace(string(body))
		if text != "" {
			return truncate(text, 600), nil
		}
		return fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode)), nil
	}

	var parts []string
	if errVal, ok := payload["error"].(string); ok && errVal != "" {
		parts = append(parts, errVal)
	}
	for _, key := range []string{"message", "error_description", "detail"} {
		if msg, ok := payload[key].(string); ok && msg != "" && !contains(parts, msg) {
			parts = append(parts, msg)
			break
		}
	}

	if causes, ok := payload["cause"].([]any); ok {
		var causeParts []string
		for _, raw := range causes {
			switch cause := raw.(type) {
			case map[string]any:
				code, _ := cause["code"].(string)
				msg, _ := cause["message"].(string)
				if msg == "" {
					msg, _ = cause["description"].(string)
				}
				switch {
				case code != "" && msg != "":
					causeParts = append(causeParts, fmt.Sprintf("%s: %s", code, msg))
				case msg != "":
					causeParts = append(causeParts, msg)
				case code != "":
					causeParts = append(causeParts, code)
				}
			case string:
				if cause != "" {
					causeParts = append(causeParts, cause)
				}
			}
		}
		if len(causeParts) > 0 {
			parts = append(parts, strings.Join(causeParts, " | "))
		}
	}

	if len(parts) > 0 {
		return strings.Join(parts, "; "), payload
	}
	return truncate(string(body), 600), payload
}

func checkResponse(resp *http.Response) error {
	if resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	return newAPIError(resp, body)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
