package releases

import (
	"fmt"
	"net/http"

	"loopweb/internal/models"
	"loopweb/internal/platform"
)

// ServiceError represents errors from the releases service with HTTP context
type ServiceError struct {
	Code       string
	Message    string
	StatusCode int
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Error constructors for common service errors

func NewUpstreamUnavailableError(err error) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeUpstreamUnavailable,
		Message:    "latest release is unavailable",
		StatusCode: http.StatusBadGateway,
		Err:        err,
	}
}

func NewUnknownPlatformError(p platform.Platform) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeUnknownPlatform,
		Message:    fmt.Sprintf("cannot pick an installer for platform %s, choose one manually", p),
		StatusCode: http.StatusUnprocessableEntity,
	}
}

func NewNoAssetError(version string) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeNoAsset,
		Message:    fmt.Sprintf("release %s has no downloadable assets", version),
		StatusCode: http.StatusNotFound,
	}
}

func NewInternalError(message string, err error) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeInternalError,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}
