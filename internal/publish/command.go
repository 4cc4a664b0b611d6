package publish

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/temirov/ci-release-publisher/internal/dependencies"
	"github.com/temirov/ci-release-publisher/internal/environment"
	"github.com/temirov/ci-release-publisher/internal/githubreleases"
	"github.com/temirov/ci-release-publisher/internal/publisherrors"
	"github.com/temirov/ci-release-publisher/internal/tagnames"
	"github.com/temirov/ci-release-publisher/internal/travis"
	flagutils "github.com/temirov/ci-release-publisher/internal/utils/flags"
)

const (
	publishCommandUseConstant              = "publish artifact-dir"
	publishCommandShortDescriptionConstant = "Publish the collected artifacts as GitHub releases"
	publishCommandLongDescriptionConstant  = "publish uploads every file of artifact-dir into each enabled release kind. The latest release follows the branch, the numbered release is kept per build and the tag release is attached to the git tag of a tag build. Releases are built under a temporary tag and renamed only once all uploads succeed."
	cleanupCommandUseConstant              = "cleanup_publish"
	cleanupCommandShortDescriptionConstant = "Delete incomplete releases left by interrupted publish runs"
	cleanupCommandLongDescriptionConstant  = "cleanup_publish deletes the temporary releases publish creates for this branch unless the build that created them is still running."
	artifactDirectoryArgumentCountConstant = 1
	kindFlagTemplateConstant               = "%s-release"
	kindNameFlagTemplateConstant           = "%s-release-name"
	kindBodyFlagTemplateConstant           = "%s-release-body"
	kindDraftFlagTemplateConstant          = "%s-release-draft"
	kindPrereleaseFlagTemplateConstant     = "%s-release-prerelease"
	kindEventTypeFlagTemplateConstant      = "%s-release-check-event-type"
	kindFlagDescriptionTemplateConstant    = "Publish the %s release"
	kindNameDescriptionTemplateConstant    = "Name of the %s release"
	kindBodyDescriptionTemplateConstant    = "Body of the %s release"
	kindDraftDescriptionTemplateConstant   = "Leave the %s release as a draft"
	kindPreDescriptionTemplateConstant     = "Mark the %s release as a prerelease"
	kindEventDescriptionTemplateConstant   = "Publish the %s release only for these Travis-CI event types"
	keepCountFlagNameConstant              = "numbered-release-keep-count"
	keepCountFlagDescriptionConstant       = "Number of newest numbered releases to keep; 0 keeps all"
	keepTimeFlagNameConstant               = "numbered-release-keep-time"
	keepTimeFlagDescriptionConstant        = "Delete numbered releases older than this duration; 0 keeps all"
	unsupportedEventTypeTemplateConstant   = "unsupported event type %q for the %s release"
	publishedTemplateConstant              = "PUBLISHED: %s %s\n"
	skippedTemplateConstant                = "SKIPPED: %s (%s)\n"
	retiredTemplateConstant                = "RETIRED: %s\n"
	deletedTemplateConstant                = "DELETED: %s\n"
)

var travisEventTypes = []string{"push", "pull_request", "api", "cron"}

// LoggerProvider yields a zap logger for command execution.
type LoggerProvider func() *zap.Logger

// SettingsProvider yields the settings shared by every command.
type SettingsProvider func() dependencies.Settings

// CommandBuilder assembles the publish command.
type CommandBuilder struct {
	LoggerProvider        LoggerProvider
	SettingsProvider      SettingsProvider
	ConfigurationProvider func() CommandConfiguration
	EnvironmentLookup     environment.Lookup
	Releases              githubreleases.Client
	Builds                travis.BuildInspector
	Clock                 Clock
}

// Build constructs the publish command.
func (builder *CommandBuilder) Build() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:   publishCommandUseConstant,
		Short: publishCommandShortDescriptionConstant,
		Long:  publishCommandLongDescriptionConstant,
		Args:  cobra.ExactArgs(artifactDirectoryArgumentCountConstant),
		RunE:  builder.run,
	}

	for _, kind := range tagnames.PublishKinds() {
		command.Flags().Bool(kindFlagName(kindFlagTemplateConstant, kind), false, fmt.Sprintf(kindFlagDescriptionTemplateConstant, kind))
		command.Flags().String(kindFlagName(kindNameFlagTemplateConstant, kind), "", fmt.Sprintf(kindNameDescriptionTemplateConstant, kind))
		command.Flags().String(kindFlagName(kindBodyFlagTemplateConstant, kind), "", fmt.Sprintf(kindBodyDescriptionTemplateConstant, kind))
		command.Flags().Bool(kindFlagName(kindDraftFlagTemplateConstant, kind), false, fmt.Sprintf(kindDraftDescriptionTemplateConstant, kind))
		command.Flags().Bool(kindFlagName(kindPrereleaseFlagTemplateConstant, kind), false, fmt.Sprintf(kindPreDescriptionTemplateConstant, kind))
		flagutils.AddChoiceListFlag(command.Flags(), kindFlagName(kindEventTypeFlagTemplateConstant, kind), travisEventTypes, nil, fmt.Sprintf(kindEventDescriptionTemplateConstant, kind))
	}
	command.Flags().Int(keepCountFlagNameConstant, 0, keepCountFlagDescriptionConstant)
	command.Flags().Duration(keepTimeFlagNameConstant, 0, keepTimeFlagDescriptionConstant)

	return command, nil
}

func (builder *CommandBuilder) run(command *cobra.Command, arguments []string) error {
	configuration, configurationError := applyFlagOverrides(command, builder.resolveConfiguration())
	if configurationError != nil {
		return configurationError
	}

	runtime, runtimeError := dependencies.NewRuntime(command.Context(), resolveSettings(builder.SettingsProvider), builder.EnvironmentLookup)
	if runtimeError != nil {
		return runtimeError
	}
	options, optionsError := readOptions(runtime, configuration)
	if optionsError != nil {
		return optionsError
	}
	options.ArtifactDirectory = arguments[0]

	logger := resolveLogger(builder.LoggerProvider)
	releases, releasesError := dependencies.ResolveReleasesClient(builder.Releases, runtime.Settings, runtime.Repository, runtime.TokenProvider)
	if releasesError != nil {
		return releasesError
	}

	serviceDependencies := Dependencies{Releases: releases, Logger: logger, Clock: builder.Clock}
	if options.Releases[tagnames.PublishKindLatest].Enabled {
		builds, buildsError := dependencies.ResolveBuildInspector(builder.Builds, runtime.Settings, runtime.TokenProvider, logger)
		if buildsError != nil {
			return buildsError
		}
		serviceDependencies.Builds = builds
	}

	service, serviceError := NewService(serviceDependencies)
	if serviceError != nil {
		return serviceError
	}

	result, publishError := service.Publish(command.Context(), options)
	for _, published := range result.Published {
		fmt.Fprintf(command.OutOrStdout(), publishedTemplateConstant, published.Kind, published.TagName)
	}
	for _, skipped := range result.Skipped {
		fmt.Fprintf(command.OutOrStdout(), skippedTemplateConstant, skipped.Kind, skipped.Reason)
	}
	for _, retiredTag := range result.RetiredTags {
		fmt.Fprintf(command.OutOrStdout(), retiredTemplateConstant, retiredTag)
	}
	return publishError
}

func (builder *CommandBuilder) resolveConfiguration() CommandConfiguration {
	if builder.ConfigurationProvider == nil {
		return DefaultToolsConfiguration().Publish
	}
	return builder.ConfigurationProvider().Sanitize()
}

// CleanupCommandBuilder assembles the cleanup_publish command.
type CleanupCommandBuilder struct {
	LoggerProvider    LoggerProvider
	SettingsProvider  SettingsProvider
	EnvironmentLookup environment.Lookup
	Releases          githubreleases.Client
	Builds            travis.BuildInspector
}

// Build constructs the cleanup_publish command.
func (builder *CleanupCommandBuilder) Build() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:   cleanupCommandUseConstant,
		Short: cleanupCommandShortDescriptionConstant,
		Long:  cleanupCommandLongDescriptionConstant,
		Args:  cobra.NoArgs,
		RunE:  builder.run,
	}
	return command, nil
}

func (builder *CleanupCommandBuilder) run(command *cobra.Command, _ []string) error {
	runtime, runtimeError := dependencies.NewRuntime(command.Context(), resolveSettings(builder.SettingsProvider), builder.EnvironmentLookup)
	if runtimeError != nil {
		return runtimeError
	}
	branch, branchError := runtime.Environment.Branch()
	if branchError != nil {
		return branchError
	}

	logger := resolveLogger(builder.LoggerProvider)
	releases, releasesError := dependencies.ResolveReleasesClient(builder.Releases, runtime.Settings, runtime.Repository, runtime.TokenProvider)
	if releasesError != nil {
		return releasesError
	}
	builds, buildsError := dependencies.ResolveBuildInspector(builder.Builds, runtime.Settings, runtime.TokenProvider, logger)
	if buildsError != nil {
		return buildsError
	}

	service, serviceError := NewService(Dependencies{Releases: releases, Builds: builds, Logger: logger})
	if serviceError != nil {
		return serviceError
	}

	result, cleanupError := service.Cleanup(command.Context(), CleanupOptions{
		Names:          runtime.Names,
		RepositorySlug: runtime.Repository.Slug(),
		Branch:         branch,
	})
	for _, deletedTag := range result.DeletedTags {
		fmt.Fprintf(command.OutOrStdout(), deletedTemplateConstant, deletedTag)
	}
	return cleanupError
}

func applyFlagOverrides(command *cobra.Command, configuration CommandConfiguration) (CommandConfiguration, error) {
	flagSet := command.Flags()
	overridden := configuration

	for _, kind := range tagnames.PublishKinds() {
		releaseConfiguration := overridden.Release(kind)

		for flagTemplate, target := range map[string]*bool{
			kindFlagTemplateConstant:           &releaseConfiguration.Enabled,
			kindDraftFlagTemplateConstant:      &releaseConfiguration.Draft,
			kindPrereleaseFlagTemplateConstant: &releaseConfiguration.Prerelease,
		} {
			flagName := kindFlagName(flagTemplate, kind)
			if !flagSet.Changed(flagName) {
				continue
			}
			value, valueError := flagSet.GetBool(flagName)
			if valueError != nil {
				return CommandConfiguration{}, valueError
			}
			*target = value
		}

		for flagTemplate, target := range map[string]*string{
			kindNameFlagTemplateConstant: &releaseConfiguration.Name,
			kindBodyFlagTemplateConstant: &releaseConfiguration.Body,
		} {
			flagName := kindFlagName(flagTemplate, kind)
			if !flagSet.Changed(flagName) {
				continue
			}
			value, valueError := flagSet.GetString(flagName)
			if valueError != nil {
				return CommandConfiguration{}, valueError
			}
			*target = value
		}

		if eventTypes, changed := flagutils.SelectedChoices(flagSet, kindFlagName(kindEventTypeFlagTemplateConstant, kind)); changed {
			releaseConfiguration.CheckEventTypes = eventTypes
		}
		for _, eventType := range releaseConfiguration.CheckEventTypes {
			if !slices.Contains(travisEventTypes, eventType) {
				return CommandConfiguration{}, publisherrors.NewConfigurationError(unsupportedEventTypeTemplateConstant, eventType, kind)
			}
		}

		overridden = overridden.withRelease(kind, releaseConfiguration)
	}

	if flagSet.Changed(keepCountFlagNameConstant) {
		keepCount, keepCountError := flagSet.GetInt(keepCountFlagNameConstant)
		if keepCountError != nil {
			return CommandConfiguration{}, keepCountError
		}
		overridden.Numbered.KeepCount = keepCount
	}
	if flagSet.Changed(keepTimeFlagNameConstant) {
		keepTime, keepTimeError := flagSet.GetDuration(keepTimeFlagNameConstant)
		if keepTimeError != nil {
			return CommandConfiguration{}, keepTimeError
		}
		overridden.Numbered.KeepTime = keepTime
	}

	return overridden.Sanitize(), nil
}

func readOptions(runtime dependencies.Runtime, configuration CommandConfiguration) (Options, error) {
	branch, branchError := runtime.Environment.Branch()
	if branchError != nil {
		return Options{}, branchError
	}
	commit, commitError := runtime.Environment.Commit()
	if commitError != nil {
		return Options{}, commitError
	}
	buildNumber, buildNumberError := runtime.Environment.BuildNumber()
	if buildNumberError != nil {
		return Options{}, buildNumberError
	}
	buildID, buildIDError := runtime.Environment.BuildID()
	if buildIDError != nil {
		return Options{}, buildIDError
	}
	webURL, webURLError := runtime.Settings.TravisWebURL()
	if webURLError != nil {
		return Options{}, webURLError
	}

	releaseOptions := make(map[tagnames.PublishKind]ReleaseOptions, len(tagnames.PublishKinds()))
	for _, kind := range tagnames.PublishKinds() {
		releaseConfiguration := configuration.Release(kind)
		releaseOptions[kind] = ReleaseOptions{
			Enabled:    releaseConfiguration.Enabled,
			Name:       releaseConfiguration.Name,
			Body:       releaseConfiguration.Body,
			Draft:      releaseConfiguration.Draft,
			Prerelease: releaseConfiguration.Prerelease,
			EventTypes: releaseConfiguration.CheckEventTypes,
		}
	}

	return Options{
		Names:          runtime.Names,
		Branch:         branch,
		Commit:         commit,
		BuildNumber:    buildNumber,
		BuildURL:       travis.BuildURL(webURL, runtime.Repository.Slug(), buildID),
		RepositorySlug: runtime.Repository.Slug(),
		GitTag:         runtime.Environment.Tag(),
		EventType:      runtime.Environment.EventType(),
		Releases:       releaseOptions,
		Retention:      RetentionPolicy{KeepCount: configuration.Numbered.KeepCount, KeepTime: configuration.Numbered.KeepTime},
	}, nil
}

func (configuration CommandConfiguration) withRelease(kind tagnames.PublishKind, release ReleaseConfiguration) CommandConfiguration {
	updated := configuration
	switch kind {
	case tagnames.PublishKindLatest:
		updated.Latest = release
	case tagnames.PublishKindNumbered:
		updated.Numbered.ReleaseConfiguration = release
	default:
		updated.Tag = release
	}
	return updated
}

func kindFlagName(template string, kind tagnames.PublishKind) string {
	return fmt.Sprintf(template, kind)
}

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
