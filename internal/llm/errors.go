package llm

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// NetworkError reports a connection failure, a timeout or a non-2xx status.
type NetworkError struct {
	Provider   string
	StatusCode int
	Message    string
	// Attempts is the number of requests made before giving up.
	Attempts int
	Err      error
}

func (e *NetworkError) Error() string {
	var msg string
	switch {
	case e.StatusCode == 0:
		msg = fmt.Sprintf("%s request failed: %v", e.Provider, e.Err)
	case e.Message != "":
		msg = fmt.Sprintf("%s: %s", e.Provider, e.Message)
	default:
		msg = fmt.Sprintf("%s: API request failed with status code %d", e.Provider, e.StatusCode)
	}
	if e.Attempts > 1 {
		msg += fmt.Sprintf(" (after %d attempts)", e.Attempts)
	}
	return msg
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Retryable reports whether repeating the request may succeed.
func (e *NetworkError) Retryable() bool {
	if e.StatusCode == 0 {
		return true
	}
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

func readStatusError(provider string, resp *http.Response) *NetworkError {
	netErr := &NetworkError{
		Provider:   provider,
		StatusCode: resp.StatusCode,
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		netErr.Message = "Authentication failed. Please check your API key."
		return netErr
	case http.StatusTooManyRequests:
		netErr.Message = "Rate limit exceeded. Please wait before making more requests."
		return netErr
	case http.StatusInternalServerError:
		netErr.Message = "API server error. Please try again later."
		return netErr
	}
	netErr.Message = fmt.Sprintf("API request failed with status code %d", resp.StatusCode)
	if detail := readErrorDetail(resp.Body); detail != "" {
		netErr.Message += ": " + detail
	}
	return netErr
}

// readErrorDetail understands both {"error":{"message":"..."}} and
// {"error":"..."} bodies.
func readErrorDetail(body io.Reader) string {
	var resp struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(body, 64*1024)).Decode(&resp); err != nil || len(resp.Error) == 0 {
		return ""
	}
	var text string
	if err := json.Unmarshal(resp.Error, &text); err == nil {
		return strings.TrimSpace(text)
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(resp.Error, &obj); err == nil {
		return strings.TrimSpace(obj.Message)
	}
	return ""
}
