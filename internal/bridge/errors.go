package bridge

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownModeHash is wrapped when a bridge reports a mode hash outside the enumeration.
	ErrUnknownModeHash = errors.New("unknown bridge mode hash")
	// ErrUnsupportedMode is wrapped when a caller passes a mode the reconcilers do not handle.
	ErrUnsupportedMode = errors.New("unsupported bridge mode")
)

// ProviderError reports a failed chain query: network failure, revert or malformed response.
type ProviderError struct {
	Chain string
	Op    string
	Err   error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Chain, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ConfigurationError reports a bridge mode that cannot be acted on.
type ConfigurationError struct {
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	return "configuration: " + e.Reason
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// WrapProvider tags err as a ProviderError for chain and op. Nil stays nil and errors
// that already carry a ProviderError are returned unchanged.
func WrapProvider(chain, op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	return &ProviderError{Chain: chain, Op: op, Err: err}
}
