package model

import (
	"errors"
	"fmt"
	"net/http"
)

// Stable machine error codes returned in API payloads.
const (
	CodeInvalidURL            = "invalid_url"
	CodeInvalidScheme         = "invalid_scheme"
	CodeInvalidBody           = "invalid_body"
	CodeMissingURL            = "missing_url"
	CodeCredentialsNotAllowed = "credentials_not_allowed"
	CodeEmptyHostname         = "empty_hostname"
	CodeInvalidIP             = "invalid_ip"
	CodeUnauthorized          = "unauthorized"
	CodeDomainNotAllowed      = "domain_not_allowed"
	CodeSSRFBlocked           = "ssrf_blocked"
	CodeMirrorNotFound        = "mirror_not_found"
	CodeNotFound              = "not_found"
	CodeMethodNotAllowed      = "method_not_allowed"
	CodeHTMLTooLarge          = "html_too_large"
	CodeBinaryTooLarge        = "binary_too_large"
	CodeRateLimited           = "rate_limited"
	CodeServiceDisabled       = "service_disabled"
	CodeTooManyRedirects      = "too_many_redirects"
	CodeDNSResolutionFailed   = "dns_resolution_failed"
	CodeUpstreamTimeout       = "upstream_timeout"
	CodeUpstreamError         = "upstream_error"
	CodeInternalError         = "internal_error"
)

// statusByCode maps machine codes to HTTP statuses. Codes absent from the map
// are internal errors.
var statusByCode = map[string]int{
	CodeInvalidURL:            http.StatusBadRequest,
	CodeInvalidScheme:         http.StatusBadRequest,
	CodeInvalidBody:           http.StatusBadRequest,
	CodeMissingURL:            http.StatusBadRequest,
	CodeCredentialsNotAllowed: http.StatusBadRequest,
	CodeEmptyHostname:         http.StatusBadRequest,
	CodeInvalidIP:             http.StatusBadRequest,
	CodeUnauthorized:          http.StatusUnauthorized,
	CodeDomainNotAllowed:      http.StatusForbidden,
	CodeSSRFBlocked:           http.StatusForbidden,
	CodeMirrorNotFound:        http.StatusNotFound,
	CodeNotFound:              http.StatusNotFound,
	CodeMethodNotAllowed:      http.StatusMethodNotAllowed,
	CodeHTMLTooLarge:          http.StatusRequestEntityTooLarge,
	CodeBinaryTooLarge:        http.StatusRequestEntityTooLarge,
	CodeRateLimited:           http.StatusTooManyRequests,
	CodeServiceDisabled:       http.StatusServiceUnavailable,
	CodeTooManyRedirects:      http.StatusBadGateway,
	CodeDNSResolutionFailed:   http.StatusBadGateway,
	CodeUpstreamTimeout:       http.StatusBadGateway,
	CodeUpstreamError:         http.StatusBadGateway,
	CodeInternalError:         http.StatusInternalServerError,
}

// StatusFor returns the HTTP status for a machine code.
func StatusFor(code string) int {
	if s, ok := statusByCode[code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// CodedError carries a stable machine code alongside an underlying error.
type CodedError struct {
	Code string
	Err  error
}

func (e *CodedError) Error() string {
	if e.Err == nil {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Err)
}

func (e *CodedError) Unwrap() error { return e.Err }

// NewCodedError wraps err with a machine code. err may be nil.
func NewCodedError(code string, err error) *CodedError {
	return &CodedError{Code: code, Err: err}
}

// CodeOf extracts the machine code from err, defaulting to internal_error.
func CodeOf(err error) string {
	var ce *CodedError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CodeInternalError
}
