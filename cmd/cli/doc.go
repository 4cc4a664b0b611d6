// Package cli constructs the ci-release-publisher command-line interface,
// wiring the Cobra command hierarchy, the Viper configuration loader with its
// embedded defaults, and structured logging for the store, collect, publish
// and cleanup commands.
package cli
