package publisherrors

import (
	"errors"
	"fmt"
)

// ConfigurationError reports a user-facing validation failure such as a missing
// artifact directory, an empty artifact directory or a missing required flag.
type ConfigurationError struct {
	message string
}

// NewConfigurationError formats a ConfigurationError.
func NewConfigurationError(template string, arguments ...any) *ConfigurationError {
	return &ConfigurationError{message: fmt.Sprintf(template, arguments...)}
}

// Error returns the message.
func (configurationError *ConfigurationError) Error() string {
	return configurationError.message
}

// IsConfigurationError reports whether err wraps a ConfigurationError.
func IsConfigurationError(err error) bool {
	var configurationError *ConfigurationError
	return errors.As(err, &configurationError)
}
