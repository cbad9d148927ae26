package utils

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// --- Sentinel Errors for Categorization ---
var (
	ErrRetryFailed       = errors.New("request failed after all retries") // Wraps the last underlying error
	ErrClientHTTPError   = errors.New("client HTTP error (4xx)")          // Wraps original error/status
	ErrServerHTTPError   = errors.New("server HTTP error (5xx)")          // Wraps original error/status
	ErrOtherHTTPError    = errors.New("other HTTP error (non-2xx)")       // Wraps original error/status
	ErrAuthRequired      = errors.New("authentication required (401/403)")
	ErrNotFound          = errors.New("page not found (404/410)")
	ErrNavigationTimeout = errors.New("navigation timed out")
	ErrNetwork           = errors.New("network error")
	ErrRenderer          = errors.New("renderer error")
	ErrRobotsDisallowed  = errors.New("disallowed by robots.txt")
	ErrScopeViolation    = errors.New("URL out of scope (host/domain/pattern)")
	ErrMaxDepthExceeded  = errors.New("maximum crawl depth exceeded")
	ErrParsing           = errors.New("parsing error")  // Wraps specific parsing error (HTML, URL, XML)
	ErrDatabase          = errors.New("database error") // Wraps badger errors
	ErrRequestCreation   = errors.New("failed to create HTTP request")
	ErrResponseBodyRead  = errors.New("failed to read response body")
	ErrConfigValidation  = errors.New("configuration validation error")
)

// FetchErrorClass tells the scheduler whether a failed page attempt may be retried.
type FetchErrorClass int

const (
	// FetchErrorTransient covers timeouts, network errors and 5xx responses.
	FetchErrorTransient FetchErrorClass = iota
	// FetchErrorTerminal covers 401/403/404/410: the page will not appear on retry.
	FetchErrorTerminal
)

func (c FetchErrorClass) String() string {
	if c == FetchErrorTerminal {
		return "terminal"
	}
	return "transient"
}

// ClassifyFetchError decides whether a page failure is worth one more attempt.
// Anything not recognized as terminal is treated as transient.
func ClassifyFetchError(err error) FetchErrorClass {
	if errors.Is(err, ErrAuthRequired) || errors.Is(err, ErrNotFound) {
		return FetchErrorTerminal
	}
	return FetchErrorTransient
}

// CategorizeError maps an error to a predefined category string for logging and FailedEntry records.
func CategorizeError(err error) string {
	if err == nil {
		return "None"
	}

	// Check against sentinel errors first
	switch {
	case errors.Is(err, ErrAuthRequired):
		if strings.Contains(err.Error(), " 403") {
			return "HTTP_403"
		}
		return "HTTP_401"
	case errors.Is(err, ErrNotFound):
		if strings.Contains(err.Error(), " 410") {
			return "HTTP_410"
		}
		return "HTTP_404"
	case errors.Is(err, ErrRetryFailed):
		if errors.Is(err, ErrServerHTTPError) {
			return "RetryFailed_HTTPServer"
		}
		return "RetryFailed_Network"
	case errors.Is(err, ErrServerHTTPError):
		return "HTTP_5xx"
	case errors.Is(err, ErrClientHTTPError):
		return "HTTP_4xx"
	case errors.Is(err, ErrOtherHTTPError):
		return "HTTP_OtherStatus"
	case errors.Is(err, ErrNavigationTimeout):
		return "Navigation_Timeout"
	case errors.Is(err, ErrNetwork):
		return "Network_Error"
	case errors.Is(err, ErrRenderer):
		return "Renderer_Error"
	case errors.Is(err, ErrRobotsDisallowed):
		return "Policy_Robots"
	case errors.Is(err, ErrScopeViolation):
		return "Policy_Scope"
	case errors.Is(err, ErrMaxDepthExceeded):
		return "Policy_MaxDepth"
	case errors.Is(err, ErrParsing):
		errMsg := err.Error()
		if strings.Contains(errMsg, "URL") {
			return "Content_ParsingURL"
		}
		if strings.Contains(errMsg, "HTML") {
			return "Content_ParsingHTML"
		}
		if strings.Contains(errMsg, "XML") {
			return "Content_ParsingXML"
		}
		return "Content_ParsingOther"
	case errors.Is(err, ErrDatabase):
		return "Database_Other"
	case errors.Is(err, ErrRequestCreation):
		return "Internal_RequestCreation"
	case errors.Is(err, ErrResponseBodyRead):
		return "Network_BodyRead"
	case errors.Is(err, ErrConfigValidation):
		return "Config_Validation"
	}

	// --- Fallback checks for common underlying error types/strings ---
	if errors.Is(err, context.Canceled) {
		return "System_ContextCanceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "System_ContextDeadlineExceeded"
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "Network_Timeout"
	}
	lowerErrMsg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lowerErrMsg, "timeout"):
		return "Network_TimeoutGeneric"
	case strings.Contains(lowerErrMsg, "connection refused"):
		return "Network_ConnectionRefused"
	case strings.Contains(lowerErrMsg, "no such host"):
		return "Network_DNSLookup"
	case strings.Contains(lowerErrMsg, "tls") || strings.Contains(lowerErrMsg, "certificate"):
		return "Network_TLS"
	case strings.Contains(lowerErrMsg, "reset by peer"):
		return "Network_ConnectionReset"
	}

	return "Unknown"
}

// WrapErrorf annotates err with a formatted message, keeping it matchable with errors.Is.
// Returns nil when err is nil.
func WrapErrorf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
