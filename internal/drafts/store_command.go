package drafts

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/temirov/ci-release-publisher/internal/dependencies"
	"github.com/temirov/ci-release-publisher/internal/environment"
	"github.com/temirov/ci-release-publisher/internal/githubreleases"
	"github.com/temirov/ci-release-publisher/internal/travis"
)

const (
	storeCommandUseConstant              = "store artifact-dir"
	storeCommandShortDescriptionConstant = "Store the artifacts of this job in a temporary draft release"
	storeCommandLongDescriptionConstant  = "store uploads every file of artifact-dir into a draft release tagged for this build and job. The draft is marked complete only after all uploads succeed, so collect never picks up a partial upload."
	releaseNameFlagNameConstant          = "release-name"
	releaseNameFlagDescriptionConstant   = "Name of the temporary draft release"
	releaseBodyFlagNameConstant          = "release-body"
	releaseBodyFlagDescriptionConstant   = "Body of the temporary draft release"
	storeSuccessTemplateConstant         = "STORED: %s (%d artifacts)\n"
)

// StoreCommandBuilder assembles the store command.
type StoreCommandBuilder struct {
	LoggerProvider        LoggerProvider
	SettingsProvider      SettingsProvider
	ConfigurationProvider func() StoreConfiguration
	EnvironmentLookup     environment.Lookup
	Releases              githubreleases.Client
}

// Build constructs the store command.
func (builder *StoreCommandBuilder) Build() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:   storeCommandUseConstant,
		Short: storeCommandShortDescriptionConstant,
		Long:  storeCommandLongDescriptionConstant,
		Args:  cobra.ExactArgs(artifactDirectoryArgumentCountConstant),
		RunE:  builder.run,
	}

	command.Flags().String(releaseNameFlagNameConstant, "", releaseNameFlagDescriptionConstant)
	command.Flags().String(releaseBodyFlagNameConstant, "", releaseBodyFlagDescriptionConstant)

	return command, nil
}

func (builder *StoreCommandBuilder) run(command *cobra.Command, arguments []string) error {
	configuration := builder.resolveConfiguration()

	releaseName, releaseNameError := stringFlagOverride(command, releaseNameFlagNameConstant, configuration.ReleaseName)
	if releaseNameError != nil {
		return releaseNameError
	}
	releaseBody, releaseBodyError := stringFlagOverride(command, releaseBodyFlagNameConstant, configuration.ReleaseBody)
	if releaseBodyError != nil {
		return releaseBodyError
	}

	runtime, runtimeError := dependencies.NewRuntime(command.Context(), resolveSettings(builder.SettingsProvider), builder.EnvironmentLookup)
	if runtimeError != nil {
		return runtimeError
	}
	job, jobError := readJob(runtime.Environment)
	if jobError != nil {
		return jobError
	}
	jobURL, jobURLError := readJobURL(runtime)
	if jobURLError != nil {
		return jobURLError
	}

	releases, releasesError := dependencies.ResolveReleasesClient(builder.Releases, runtime.Settings, runtime.Repository, runtime.TokenProvider)
	if releasesError != nil {
		return releasesError
	}

	service, serviceError := NewService(Dependencies{Releases: releases, Logger: resolveLogger(builder.LoggerProvider)})
	if serviceError != nil {
		return serviceError
	}

	result, storeError := service.Store(command.Context(), StoreOptions{
		ArtifactDirectory: arguments[0],
		Names:             runtime.Names,
		Job:               job,
		ReleaseName:       releaseName,
		ReleaseBody:       releaseBody,
		JobURL:            jobURL,
	})
	if storeError != nil {
		return storeError
	}

	fmt.Fprintf(command.OutOrStdout(), storeSuccessTemplateConstant, result.TagName, len(result.AssetNames))
	return nil
}

func (builder *StoreCommandBuilder) resolveConfiguration() StoreConfiguration {
	if builder.ConfigurationProvider == nil {
		return DefaultToolsConfiguration().Store
	}
	return builder.ConfigurationProvider().Sanitize()
}

func readJob(reader environment.Reader) (Job, error) {
	branch, branchError := reader.Branch()
	if branchError != nil {
		return Job{}, branchError
	}
	commit, commitError := reader.Commit()
	if commitError != nil {
		return Job{}, commitError
	}
	buildNumber, buildNumberError := reader.BuildNumber()
	if buildNumberError != nil {
		return Job{}, buildNumberError
	}
	jobNumber, jobNumberError := reader.JobNumber(buildNumber)
	if jobNumberError != nil {
		return Job{}, jobNumberError
	}
	return Job{Branch: branch, Commit: commit, BuildNumber: buildNumber, JobNumber: jobNumber}, nil
}

func readJobURL(runtime dependencies.Runtime) (string, error) {
	jobID, jobIDError := runtime.Environment.JobID()
	if jobIDError != nil {
		return "", jobIDError
	}
	webURL, webURLError := runtime.Settings.TravisWebURL()
	if webURLError != nil {
		return "", webURLError
	}
	return travis.JobURL(webURL, runtime.Repository.Slug(), jobID), nil
}
