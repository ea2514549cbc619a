package service

import (
	"errors"
	"time"

	"moneybridge/pkg/auth"
	"moneybridge/pkg/scrape"
)

// Machine-readable error codes carried in the response envelope.
const (
	CodeAuthenticationFailure = "AUTHENTICATION_FAILURE"
	CodeSessionExpired        = "SESSION_EXPIRED"
	CodeLocatorNotFound       = "LOCATOR_NOT_FOUND"
	CodeTimeoutExceeded       = "TIMEOUT_EXCEEDED"
	CodeConversionFailure     = "CONVERSION_FAILURE"
	CodeWriteAmbiguous        = "WRITE_AMBIGUOUS"
	CodeAccountNotFound       = "ACCOUNT_NOT_FOUND"
	CodeScrapingError         = "SCRAPING_ERROR"
)

// Metadata describes where a response's data came from.
type Metadata struct {
	FetchedAt       time.Time `json:"fetched_at"`
	Source          string    `json:"source"`
	Cached          bool      `json:"cached"`
	CacheTTLSeconds int       `json:"cache_ttl_seconds"`
}

// ErrorBody is the caller-facing error: a machine-readable code and a
// human-readable message with internal detail stripped.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Response is the uniform envelope every operation returns.
type Response struct {
	Status   string     `json:"status"`
	Data     any        `json:"data,omitempty"`
	Error    *ErrorBody `json:"error,omitempty"`
	Metadata Metadata   `json:"metadata"`
}

// errorCode maps an internal error onto the envelope taxonomy.
func errorCode(err error) string {
	var locErr *scrape.LocatorError
	switch {
	case errors.Is(err, auth.ErrAuthenticationFailed),
		errors.Is(err, auth.ErrCodeTimeout):
		return CodeAuthenticationFailure
	case errors.Is(err, scrape.ErrSessionExpired):
		return CodeSessionExpired
	case errors.As(err, &locErr):
		return CodeLocatorNotFound
	case errors.Is(err, scrape.ErrTimeout):
		return CodeTimeoutExceeded
	case errors.Is(err, ErrConversion):
		return CodeConversionFailure
	case errors.Is(err, scrape.ErrWriteAmbiguous):
		return CodeWriteAmbiguous
	case errors.Is(err, scrape.ErrAccountNotFound),
		errors.Is(err, ErrUnknownAccount):
		return CodeAccountNotFound
	default:
		return CodeScrapingError
	}
}

// callerMessage returns the human-readable message for a code. Raw error
// detail stays in the operator logs.
func callerMessage(code string) string {
	switch code {
	case CodeAuthenticationFailure:
		return "authentication against the target site failed"
	case CodeSessionExpired:
		return "the session expired and could not be recovered in time"
	case CodeLocatorNotFound:
		return "a page element was not found; the target UI may have changed"
	case CodeTimeoutExceeded:
		return "the operation timed out waiting on the target site"
	case CodeConversionFailure:
		return "the exchange rate could not be fetched"
	case CodeWriteAmbiguous:
		return "could not reliably determine whether the entry exists; no write performed"
	case CodeAccountNotFound:
		return "the named account is not known"
	default:
		return "the operation failed while scraping the target site"
	}
}
