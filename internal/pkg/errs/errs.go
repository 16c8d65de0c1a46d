package errs

import "errors"

var (
	// ErrConfig marks an invalid configuration value. Fatal at startup.
	ErrConfig = errors.New("configuration error")
	// ErrConnectivity marks an unreachable backing store.
	ErrConnectivity = errors.New("connectivity error")
	// ErrModelUnavailable marks an unreachable model server or a model
	// that is not loaded.
	ErrModelUnavailable = errors.New("model unavailable")
	// ErrUnsupportedFormat marks an upload type we cannot extract text from.
	ErrUnsupportedFormat = errors.New("unsupported format")

	ErrInvalid      = errors.New("invalid")
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrTooMany      = errors.New("too many requests")
	ErrInternal     = errors.New("internal")
)

func IsConnectivity(err error) bool {
	return errors.Is(err, ErrConnectivity)
}

func IsModelUnavailable(err error) bool {
	return errors.Is(err, ErrModelUnavailable)
}
