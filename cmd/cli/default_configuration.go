package cli

import (
	"bytes"
	_ "embed"
)

//go:embed default_config.yaml
var defaultPublisherConfiguration []byte

// EmbeddedDefaultConfiguration returns a copy of the built-in publisher configuration and its format.
// The loader applies it beneath any --config file and CIRP_ environment overrides.
func EmbeddedDefaultConfiguration() ([]byte, string) {
	return bytes.Clone(defaultPublisherConfiguration), configurationTypeConstant
}
