// Package utils exposes reusable helpers consumed by every publisher command.
//
// It houses ConfigurationLoader and LoggerFactory, which integrate Viper,
// environment variables and zap logging for the CLI, plus the FlushingWriter
// used to keep CI job logs streaming.
package utils
