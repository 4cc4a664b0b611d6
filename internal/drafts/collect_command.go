package drafts

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/temirov/ci-release-publisher/internal/dependencies"
	"github.com/temirov/ci-release-publisher/internal/environment"
	"github.com/temirov/ci-release-publisher/internal/githubreleases"
)

const (
	collectCommandUseConstant              = "collect artifact-dir"
	collectCommandShortDescriptionConstant = "Download the artifacts stored by every job of this build"
	collectCommandLongDescriptionConstant  = "collect downloads the assets of every complete store draft of this build and branch into artifact-dir, which must already exist. Files are never overwritten and two jobs storing the same file name is an error."
	concurrencyFlagNameConstant            = "concurrency"
	concurrencyFlagDescriptionConstant     = "Number of assets downloaded in parallel"
	collectSuccessTemplateConstant         = "COLLECTED: %d artifacts from %d drafts into %s\n"
)

// CollectCommandBuilder assembles the collect command.
type CollectCommandBuilder struct {
	LoggerProvider        LoggerProvider
	SettingsProvider      SettingsProvider
	ConfigurationProvider func() CollectConfiguration
	EnvironmentLookup     environment.Lookup
	Releases              githubreleases.Client
}

// Build constructs the collect command.
func (builder *CollectCommandBuilder) Build() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:   collectCommandUseConstant,
		Short: collectCommandShortDescriptionConstant,
		Long:  collectCommandLongDescriptionConstant,
		Args:  cobra.ExactArgs(artifactDirectoryArgumentCountConstant),
		RunE:  builder.run,
	}

	command.Flags().Int(concurrencyFlagNameConstant, defaultDownloadConcurrencyConstant, concurrencyFlagDescriptionConstant)

	return command, nil
}

func (builder *CollectCommandBuilder) run(command *cobra.Command, arguments []string) error {
	configuration := builder.resolveConfiguration()
	if command.Flags().Changed(concurrencyFlagNameConstant) {
		concurrency, concurrencyError := command.Flags().GetInt(concurrencyFlagNameConstant)
		if concurrencyError != nil {
			return concurrencyError
		}
		configuration.Concurrency = concurrency
		configuration = configuration.Sanitize()
	}

	runtime, runtimeError := dependencies.NewRuntime(command.Context(), resolveSettings(builder.SettingsProvider), builder.EnvironmentLookup)
	if runtimeError != nil {
		return runtimeError
	}
	branch, branchError := runtime.Environment.Branch()
	if branchError != nil {
		return branchError
	}
	buildNumber, buildNumberError := runtime.Environment.BuildNumber()
	if buildNumberError != nil {
		return buildNumberError
	}

	releases, releasesError := dependencies.ResolveReleasesClient(builder.Releases, runtime.Settings, runtime.Repository, runtime.TokenProvider)
	if releasesError != nil {
		return releasesError
	}

	service, serviceError := NewService(Dependencies{Releases: releases, Logger: resolveLogger(builder.LoggerProvider)})
	if serviceError != nil {
		return serviceError
	}

	result, collectError := service.Collect(command.Context(), CollectOptions{
		ArtifactDirectory: arguments[0],
		Names:             runtime.Names,
		Branch:            branch,
		BuildNumber:       buildNumber,
		Concurrency:       configuration.Concurrency,
	})
	if collectError != nil {
		return collectError
	}

	fmt.Fprintf(command.OutOrStdout(), collectSuccessTemplateConstant, len(result.Files), len(result.SourceTags), arguments[0])
	return nil
}

func (builder *CollectCommandBuilder) resolveConfiguration() CollectConfiguration {
	if builder.ConfigurationProvider == nil {
		return DefaultToolsConfiguration().Collect
	}
	return builder.ConfigurationProvider().Sanitize()
}
