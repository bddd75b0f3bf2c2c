package domain

import (
	"errors"
	"fmt"
)

// ErrDataUnavailable marks a cycle that cannot evaluate because required
// market data is missing or stale. Callers log and skip the cycle; they
// never substitute defaults.
var ErrDataUnavailable = errors.New("market data unavailable")

// ConfigError reports an invalid configuration. It is fatal at load time:
// the process refuses to start rather than run on a misconfigured rule set.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration invalid: %s", e.Reason)
}

// ConfigurationInvalid builds a ConfigError.
func ConfigurationInvalid(reason string) error {
	return &ConfigError{Reason: reason}
}

// IsConfigurationInvalid reports whether err is a ConfigError.
func IsConfigurationInvalid(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// InvariantError reports externally corrupted state detected at evaluation
// start, e.g. a correlation-group count already above the phase cap. It is
// fatal for the evaluation call, never silently tolerated.
type InvariantError struct {
	Reason string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant violation: %s", e.Reason)
}

// Invariantf builds an InvariantError.
func Invariantf(format string, args ...interface{}) error {
	return &InvariantError{Reason: fmt.Sprintf(format, args...)}
}

// IsInvariantViolation reports whether err is an InvariantError.
func IsInvariantViolation(err error) bool {
	var ie *InvariantError
	return errors.As(err, &ie)
}
