package drafts

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/temirov/ci-release-publisher/internal/dependencies"
	"github.com/temirov/ci-release-publisher/internal/environment"
	"github.com/temirov/ci-release-publisher/internal/githubreleases"
	"github.com/temirov/ci-release-publisher/internal/publisherrors"
	"github.com/temirov/ci-release-publisher/internal/travis"
	flagutils "github.com/temirov/ci-release-publisher/internal/utils/flags"
)

const (
	cleanupCommandUseConstant                  = "cleanup_store"
	cleanupCommandShortDescriptionConstant     = "Delete temporary draft releases created by store"
	cleanupCommandLongDescriptionConstant      = "cleanup_store deletes store drafts of the current branch selected by --scope and --release. With --on-nonallowed-failure it only runs when the current build has a failed job that is not allowed to fail."
	scopeFlagNameConstant                      = "scope"
	scopeFlagDescriptionConstant               = "Drafts to consider; repeat or separate with commas"
	releaseFlagNameConstant                    = "release"
	releaseFlagDescriptionConstant             = "Draft completeness to delete; repeat or separate with commas"
	onNonAllowedFailureFlagNameConstant        = "on-nonallowed-failure"
	onNonAllowedFailureFlagDescriptionConstant = "Clean up only when the build has a failed job without allow_failure"
	cleanupDeletedTemplateConstant             = "DELETED: %s\n"
	cleanupSkippedMessageConstant              = "SKIPPED: the build has no failed jobs that are not allowed to fail\n"
	unsupportedChoiceTemplateConstant          = "unsupported --%s value %q"
)

// CleanupCommandBuilder assembles the cleanup_store command.
type CleanupCommandBuilder struct {
	LoggerProvider        LoggerProvider
	SettingsProvider      SettingsProvider
	ConfigurationProvider func() CleanupConfiguration
	EnvironmentLookup     environment.Lookup
	Releases              githubreleases.Client
	Builds                travis.BuildInspector
}

// Build constructs the cleanup_store command.
func (builder *CleanupCommandBuilder) Build() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:   cleanupCommandUseConstant,
		Short: cleanupCommandShortDescriptionConstant,
		Long:  cleanupCommandLongDescriptionConstant,
		Args:  cobra.NoArgs,
		RunE:  builder.run,
	}

	flagutils.AddChoiceListFlag(command.Flags(), scopeFlagNameConstant, cleanupScopeChoices(), nil, scopeFlagDescriptionConstant)
	flagutils.AddChoiceListFlag(command.Flags(), releaseFlagNameConstant, completenessChoices(), nil, releaseFlagDescriptionConstant)
	command.Flags().Bool(onNonAllowedFailureFlagNameConstant, false, onNonAllowedFailureFlagDescriptionConstant)

	return command, nil
}

func (builder *CleanupCommandBuilder) run(command *cobra.Command, _ []string) error {
	configuration := builder.resolveConfiguration()
	if selectedScopes, changed := flagutils.SelectedChoices(command.Flags(), scopeFlagNameConstant); changed {
		configuration.Scopes = selectedScopes
	}
	if selectedReleases, changed := flagutils.SelectedChoices(command.Flags(), releaseFlagNameConstant); changed {
		configuration.Releases = selectedReleases
	}
	onNonAllowedFailure, onNonAllowedFailureError := boolFlagOverride(command, onNonAllowedFailureFlagNameConstant, configuration.OnNonAllowedFailure)
	if onNonAllowedFailureError != nil {
		return onNonAllowedFailureError
	}

	if scopesError := validateChoices(scopeFlagNameConstant, configuration.Scopes, cleanupScopeChoices()); scopesError != nil {
		return scopesError
	}
	if releasesError := validateChoices(releaseFlagNameConstant, configuration.Releases, completenessChoices()); releasesError != nil {
		return releasesError
	}

	scopes := make([]CleanupScope, 0, len(configuration.Scopes))
	for _, scope := range configuration.Scopes {
		scopes = append(scopes, CleanupScope(scope))
	}
	completeness := make([]ReleaseCompleteness, 0, len(configuration.Releases))
	for _, release := range configuration.Releases {
		completeness = append(completeness, ReleaseCompleteness(release))
	}

	runtime, runtimeError := dependencies.NewRuntime(command.Context(), resolveSettings(builder.SettingsProvider), builder.EnvironmentLookup)
	if runtimeError != nil {
		return runtimeError
	}
	options, optionsError := readCleanupOptions(runtime, scopes, completeness, onNonAllowedFailure)
	if optionsError != nil {
		return optionsError
	}

	releases, releasesError := dependencies.ResolveReleasesClient(builder.Releases, runtime.Settings, runtime.Repository, runtime.TokenProvider)
	if releasesError != nil {
		return releasesError
	}

	logger := resolveLogger(builder.LoggerProvider)
	var builds travis.BuildInspector
	if onNonAllowedFailure || containsScope(scopes, CleanupScopePreviousFinishedBuilds) {
		resolvedBuilds, buildsError := dependencies.ResolveBuildInspector(builder.Builds, runtime.Settings, runtime.TokenProvider, logger)
		if buildsError != nil {
			return buildsError
		}
		builds = resolvedBuilds
	}

	service, serviceError := NewService(Dependencies{Releases: releases, Builds: builds, Logger: logger})
	if serviceError != nil {
		return serviceError
	}

	result, cleanupError := service.Cleanup(command.Context(), options)
	if cleanupError != nil {
		return cleanupError
	}

	if result.Skipped {
		fmt.Fprint(command.OutOrStdout(), cleanupSkippedMessageConstant)
		return nil
	}
	for _, deletedTag := range result.DeletedTags {
		fmt.Fprintf(command.OutOrStdout(), cleanupDeletedTemplateConstant, deletedTag)
	}
	return nil
}

func (builder *CleanupCommandBuilder) resolveConfiguration() CleanupConfiguration {
	if builder.ConfigurationProvider == nil {
		return DefaultToolsConfiguration().Cleanup
	}
	return builder.ConfigurationProvider().Sanitize()
}

// readCleanupOptions reads only the variables the selected scopes need.
func readCleanupOptions(runtime dependencies.Runtime, scopes []CleanupScope, completeness []ReleaseCompleteness, onNonAllowedFailure bool) (CleanupOptions, error) {
	options := CleanupOptions{
		Names:                   runtime.Names,
		RepositorySlug:          runtime.Repository.Slug(),
		Scopes:                  scopes,
		Completeness:            completeness,
		OnlyOnNonAllowedFailure: onNonAllowedFailure,
	}

	branch, branchError := runtime.Environment.Branch()
	if branchError != nil {
		return CleanupOptions{}, branchError
	}
	options.Branch = branch

	buildNumber, buildNumberError := runtime.Environment.BuildNumber()
	if buildNumberError != nil {
		return CleanupOptions{}, buildNumberError
	}
	options.BuildNumber = buildNumber

	if containsScope(scopes, CleanupScopeCurrentJob) {
		jobNumber, jobNumberError := runtime.Environment.JobNumber(buildNumber)
		if jobNumberError != nil {
			return CleanupOptions{}, jobNumberError
		}
		options.JobNumber = jobNumber
	}

	if onNonAllowedFailure {
		buildID, buildIDError := runtime.Environment.BuildID()
		if buildIDError != nil {
			return CleanupOptions{}, buildIDError
		}
		options.BuildID = buildID
	}

	return options, nil
}

// validateChoices rejects configured values the matching flag would not accept.
func validateChoices(flagName string, selected []string, allowed []string) error {
	for _, candidate := range selected {
		if !slices.Contains(allowed, candidate) {
			return publisherrors.NewConfigurationError(unsupportedChoiceTemplateConstant, flagName, candidate)
		}
	}
	return nil
}

func cleanupScopeChoices() []string {
	return []string{
		string(CleanupScopeCurrentJob),
		string(CleanupScopeCurrentBuild),
		string(CleanupScopePreviousFinishedBuilds),
	}
}

func completenessChoices() []string {
	return []string{string(ReleaseComplete), string(ReleaseIncomplete)}
}
