package bridge

import (
	"errors"
	"fmt"
	"io"
	"net/http"
)

// Configuration errors. These are fatal: they indicate a misconfigured
// client or environment, never a transient condition.
var (
	ErrNoRegion = errors.New(
		"no region was given: set the region option or the CLOUD_ML_REGION environment variable")
	ErrNoProjectID = errors.New(
		"no project_id was given and it could not be resolved from credentials: " +
			"set the project_id option or the ANTHROPIC_VERTEX_PROJECT_ID environment variable")
	ErrNoToken = errors.New("could not resolve API token from the environment")
)

// ErrBatchesNotSupported is returned for any request targeting the batches
// sub-resource. Vertex does not expose the Batch API, so the request must
// fail loudly rather than be forwarded.
var ErrBatchesNotSupported = errors.New("the Batch API is not supported in the Vertex client yet")

// ErrorKind classifies an upstream HTTP status into a domain error kind.
type ErrorKind string

const (
	KindInvalidRequest     ErrorKind = "invalid_request"
	KindAuthentication     ErrorKind = "authentication"
	KindPermissionDenied   ErrorKind = "permission_denied"
	KindNotFound           ErrorKind = "not_found"
	KindConflict           ErrorKind = "conflict"
	KindUnprocessable      ErrorKind = "unprocessable_entity"
	KindRateLimited        ErrorKind = "rate_limited"
	KindServiceUnavailable ErrorKind = "service_unavailable"
	KindDeadlineExceeded   ErrorKind = "deadline_exceeded"
	KindInternal           ErrorKind = "internal"
	KindStatus             ErrorKind = "status"
)

// KindForStatus maps an HTTP status code to its error kind.
func KindForStatus(code int) ErrorKind {
	switch code {
	case http.StatusBadRequest:
		return KindInvalidRequest
	case http.StatusUnauthorized:
		return KindAuthentication
	case http.StatusForbidden:
		return KindPermissionDenied
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusConflict:
		return KindConflict
	case http.StatusUnprocessableEntity:
		return KindUnprocessable
	case http.StatusTooManyRequests:
		return KindRateLimited
	case http.StatusServiceUnavailable:
		return KindServiceUnavailable
	case http.StatusGatewayTimeout:
		return KindDeadlineExceeded
	}
	if code >= 500 {
		return KindInternal
	}
	return KindStatus
}

// APIError represents a non-2xx response from the upstream API.
type APIError struct {
	StatusCode int
	Kind       ErrorKind
	Body       string
}

// Error returns a formatted error string including status, kind, and body.
func (e *APIError) Error() string {
	return fmt.Sprintf("vertex: HTTP %d (%s): %s", e.StatusCode, e.Kind, e.Body)
}

// HTTPStatus returns the upstream HTTP status code.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

// NewAPIError reads up to 4KB from the response body and classifies the
// status via KindForStatus.
func NewAPIError(resp *http.Response) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &APIError{
		StatusCode: resp.StatusCode,
		Kind:       KindForStatus(resp.StatusCode),
		Body:       string(body),
	}
}
