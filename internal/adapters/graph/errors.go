package graph

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	// ErrSiteNotFound は同期先サイトを参照できない場合に返却されます。
	ErrSiteNotFound = errors.New("graph: site not found")
	// ErrListNotFound は同期先リストを参照できない場合に返却されます。
	ErrListNotFound = errors.New("graph: list not found")
	// ErrInvalidItemID はリストアイテム ID を数値として解釈できない場合に返却されます。
	ErrInvalidItemID = errors.New("graph: invalid item id")
)

// APIError は Graph API のエラー応答です。
type APIError struct {
	Method     string
	URL        string
	StatusCode int
	Code       string
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("graph: %s %s: %d %s: %s", e.Method, e.URL, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("graph: %s %s: %d %s", e.Method, e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// Temporary は再試行で回復し得るエラー (429 と 5xx) かどうかを返します。
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// NotFound は 404 応答かどうかを返します。
func (e *APIError) NotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

func newAPIError(method, rawURL string, resp *response) *APIError {
	apiErr := &APIError{
		Method:     method,
		URL:        rawURL,
		StatusCode: resp.status,
		RetryAfter: resp.retryAfter,
	}

	body := resp.body
	if len(body) > maxErrorBodyLength {
		body = body[:maxErrorBodyLength]
	}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	}
	return apiErr
}

func isNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.NotFound()
}
