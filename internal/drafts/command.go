package drafts

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/temirov/ci-release-publisher/internal/dependencies"
)

const (
	artifactDirectoryArgumentCountConstant = 1
)

// LoggerProvider yields a zap logger for command execution.
type LoggerProvider func() *zap.Logger

// SettingsProvider yields the settings shared by every command.
type SettingsProvider func() dependencies.Settings

func resolveLogger(provider LoggerProvider) *zap.Logger {
	if provider == nil {
		return zap.NewNop()
	}
	logger := provider()
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

func resolveSettings(provider SettingsProvider) dependencies.Settings {
	if provider == nil {
		return dependencies.DefaultSettings()
	}
	return provider().Sanitize()
}

func stringFlagOverride(command *cobra.Command, flagName string, configured string) (string, error) {
	if command == nil || !command.Flags().Changed(flagName) {
		return configured, nil
	}
	return command.Flags().GetString(flagName)
}

func boolFlagOverride(command *cobra.Command, flagName string, configured bool) (bool, error) {
	if command == nil || !command.Flags().Changed(flagName) {
		return configured, nil
	}
	return command.Flags().GetBool(flagName)
}
