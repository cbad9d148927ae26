package render

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/Sriram-PR/settle-crawler/pkg/utils"
)

// ErrorKind classifies a failed page load
type ErrorKind int

const (
	KindNetworkError ErrorKind = iota
	KindTimeout
	KindAuthRequired // 401, 403
	KindNotFound     // 404, 410
	KindServerError  // 5xx
	KindClientError  // Other 4xx, e.g. 400 or 429
)

func (k ErrorKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindAuthRequired:
		return "auth_required"
	case KindNotFound:
		return "not_found"
	case KindServerError:
		return "server_error"
	case KindClientError:
		return "client_error"
	default:
		return "network_error"
	}
}

// sentinel maps a kind onto the shared error taxonomy used for retry decisions and categories
func (k ErrorKind) sentinel() error {
	switch k {
	case KindTimeout:
		return utils.ErrNavigationTimeout
	case KindAuthRequired:
		return utils.ErrAuthRequired
	case KindNotFound:
		return utils.ErrNotFound
	case KindServerError:
		return utils.ErrServerHTTPError
	case KindClientError:
		return utils.ErrClientHTTPError
	default:
		return utils.ErrNetwork
	}
}

// NavigationError describes why a page could not be loaded
type NavigationError struct {
	Kind   ErrorKind
	URL    string
	Status int   // HTTP status, 0 when no response was received
	Err    error // Underlying cause, may be nil for status failures
}

func (e *NavigationError) Error() string {
	switch {
	case e.Status != 0:
		return fmt.Sprintf("navigation to %s failed: status %d %s", e.URL, e.Status, http.StatusText(e.Status))
	case e.Err != nil:
		return fmt.Sprintf("navigation to %s failed (%s): %v", e.URL, e.Kind, e.Err)
	default:
		return fmt.Sprintf("navigation to %s failed (%s)", e.URL, e.Kind)
	}
}

// Unwrap exposes both the taxonomy sentinel and the underlying cause to errors.Is
func (e *NavigationError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind.sentinel()}
	}
	return []error{e.Kind.sentinel(), e.Err}
}

// KindForStatus returns the error kind for a non-success HTTP status
func KindForStatus(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuthRequired
	case status == http.StatusNotFound || status == http.StatusGone:
		return KindNotFound
	case status >= 500:
		return KindServerError
	default:
		return KindClientError
	}
}

// StatusError builds the NavigationError for a non-success HTTP status
func StatusError(rawURL string, status int) *NavigationError {
	return &NavigationError{Kind: KindForStatus(status), URL: rawURL, Status: status}
}

// TransportError builds the NavigationError for a load that produced no usable response
func TransportError(rawURL string, err error) *NavigationError {
	kind := KindNetworkError
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		kind = KindTimeout
	}
	return &NavigationError{Kind: kind, URL: rawURL, Err: err}
}

// IsSuccessStatus reports whether a main-document status counts as a loaded page.
// Zero means the status was not observed.
func IsSuccessStatus(status int) bool {
	return status == 0 || (status >= 200 && status < 400)
}
