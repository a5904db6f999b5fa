package types

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrInvalidConfig   = errors.New("invalid config")
	ErrDataStoreAccess = errors.New("data store read/write error")

	// ErrMissingAPIKey is raised when an operation needs the upstream provider and no key is configured.
	ErrMissingAPIKey = errors.New("provider api key is not configured")
	// ErrServiceUnavailable is what callers at the process boundary see for configuration failures.
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrProviderTransport  = errors.New("provider transport error")
	ErrProviderRejected   = errors.New("provider rejected request")
)

func Err(typedError error, innerErr error, msgTemplate string, args ...any) error {
	if msgTemplate == "" {
		return errors.Join(typedError, innerErr)
	} else {
		return errors.Join(typedError, innerErr, fmt.Errorf(msgTemplate, args...))
	}
}

// Unavailable maps a configuration failure to ErrServiceUnavailable, keeping the cause.
// Any other error is returned unchanged.
func Unavailable(err error) error {
	if errors.Is(err, ErrMissingAPIKey) {
		return Err(ErrServiceUnavailable, err, "")
	}
	return err
}
