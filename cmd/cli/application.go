package cli

import (
	"context"
	"errors"
	"fmt"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/temirov/ci-release-publisher/internal/dependencies"
	"github.com/temirov/ci-release-publisher/internal/drafts"
	"github.com/temirov/ci-release-publisher/internal/environment"
	"github.com/temirov/ci-release-publisher/internal/githubreleases"
	"github.com/temirov/ci-release-publisher/internal/publish"
	"github.com/temirov/ci-release-publisher/internal/travis"
	"github.com/temirov/ci-release-publisher/internal/utils"
)

const (
	applicationNameConstant                 = "ci-release-publisher"
	applicationShortDescriptionConstant     = "Publish GitHub releases from multi-job Travis-CI builds"
	applicationLongDescriptionConstant      = "ci-release-publisher lets every job of a Travis-CI build store its artifacts in a temporary draft release, collects them in a final job and publishes latest, numbered and tag releases. The cleanup commands remove drafts left behind by failed or superseded builds."
	configFileFlagNameConstant              = "config"
	configFileFlagUsageConstant             = "Optional path to a configuration file (YAML)."
	logLevelFlagNameConstant                = "log-level"
	logLevelFlagUsageConstant               = "Override the configured log level."
	logFormatFlagNameConstant               = "log-format"
	logFormatFlagUsageConstant              = "Override the configured log format (structured or console)."
	travisPublicFlagNameConstant            = "travis-public"
	travisPublicFlagUsageConstant           = "Use the public Travis-CI installation (travis-ci.org)."
	travisPrivateFlagNameConstant           = "travis-private"
	travisPrivateFlagUsageConstant          = "Use the private Travis-CI installation (travis-ci.com)."
	travisEnterpriseFlagNameConstant        = "travis-enterprise"
	travisEnterpriseFlagUsageConstant       = "Use the Travis-CI Enterprise installation at this URL."
	githubAPIURLFlagNameConstant            = "github-api-url"
	githubAPIURLFlagUsageConstant           = "GitHub API URL; any value other than the default is treated as GitHub Enterprise."
	githubTokenSourceFlagNameConstant       = "github-token-source"
	githubTokenSourceFlagUsageConstant      = "Where to read the GitHub token from (env:NAME or file:PATH)."
	tagPrefixFlagNameConstant               = "tag-prefix"
	tagPrefixFlagUsageConstant              = "Prefix of release tags created by this tool."
	temporaryTagPrefixFlagNameConstant      = "tag-prefix-tmp"
	temporaryTagPrefixFlagUsageConstant     = "Prefix of temporary release tags; must differ from --tag-prefix."
	commonConfigurationKeyConstant          = "common"
	commonLogLevelConfigKeyConstant         = commonConfigurationKeyConstant + ".log_level"
	commonLogFormatConfigKeyConstant        = commonConfigurationKeyConstant + ".log_format"
	environmentPrefixConstant               = "CIRP"
	configurationNameConstant               = "config"
	configurationTypeConstant               = "yaml"
	configurationInitializedMessageConstant = "configuration initialized"
	configurationLogLevelFieldConstant      = "log_level"
	configurationLogFormatFieldConstant     = "log_format"
	configurationFileFieldConstant          = "config_file"
	configurationTravisFieldConstant        = "travis_service"
	configurationGitHubFieldConstant        = "github_api_url"
	configurationLoadErrorTemplateConstant  = "unable to load configuration: %w"
	loggerCreationErrorTemplateConstant     = "unable to create logger: %w"
	loggerSyncErrorTemplateConstant         = "unable to flush logger: %w"
	rootCommandInfoMessageConstant          = "ci-release-publisher executed"
	rootCommandDebugMessageConstant         = "ci-release-publisher diagnostics"
	logFieldCommandNameConstant             = "command_name"
	logFieldArgumentCountConstant           = "argument_count"
	logFieldArgumentsConstant               = "arguments"
	loggerNotInitializedMessageConstant     = "logger not initialized"
	defaultConfigurationSearchPathConstant  = "."
	toolsConfigurationKeyConstant           = "tools"
)

// ApplicationConfiguration describes the persisted configuration for the CLI entrypoint.
type ApplicationConfiguration struct {
	Common ApplicationCommonConfiguration `mapstructure:"common"`
	GitHub dependencies.GitHubSettings    `mapstructure:"github"`
	Tags   dependencies.TagSettings       `mapstructure:"tags"`
	Travis dependencies.TravisSettings    `mapstructure:"travis"`
	Tools  ApplicationToolsConfiguration  `mapstructure:"tools"`
}

// ApplicationCommonConfiguration stores logging configuration shared across commands.
type ApplicationCommonConfiguration struct {
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// ApplicationToolsConfiguration holds configuration for each command.
type ApplicationToolsConfiguration struct {
	Store        drafts.StoreConfiguration    `mapstructure:"store"`
	Collect      drafts.CollectConfiguration  `mapstructure:"collect"`
	CleanupStore drafts.CleanupConfiguration  `mapstructure:"cleanup_store"`
	Publish      publish.CommandConfiguration `mapstructure:"publish"`
}

// applicationDependencies replaces the process environment and API clients in tests.
type applicationDependencies struct {
	environmentLookup environment.Lookup
	releases          githubreleases.Client
	builds            travis.BuildInspector
	loggerFactory     *utils.LoggerFactory
}

// Application wires the Cobra root command, configuration loader, and structured logger.
type Application struct {
	rootCommand            *cobra.Command
	configurationLoader    *utils.ConfigurationLoader
	loggerFactory          *utils.LoggerFactory
	logger                 *zap.Logger
	configuration          ApplicationConfiguration
	configurationMetadata  utils.LoadedConfiguration
	configurationFilePath  string
	logLevelFlagValue      string
	logFormatFlagValue     string
	travisPublicFlagValue  bool
	travisPrivateFlagValue bool
	travisEnterpriseValue  string
	githubAPIURLFlagValue  string
	tokenSourceFlagValue   string
	tagPrefixFlagValue     string
	temporaryPrefixValue   string
}

// NewApplication assembles a fully wired CLI application instance.
func NewApplication() *Application {
	return newApplication(applicationDependencies{})
}

func newApplication(injected applicationDependencies) *Application {
	configurationLoader := utils.NewConfigurationLoader(
		configurationNameConstant,
		configurationTypeConstant,
		environmentPrefixConstant,
		[]string{defaultConfigurationSearchPathConstant},
	)
	configurationLoader.SetEmbeddedConfiguration(EmbeddedDefaultConfiguration())

	loggerFactory := injected.loggerFactory
	if loggerFactory == nil {
		loggerFactory = utils.NewLoggerFactory()
	}

	application := &Application{
		configurationLoader: configurationLoader,
		loggerFactory:       loggerFactory,
		logger:              zap.NewNop(),
	}

	cobraCommand := &cobra.Command{
		Use:           applicationNameConstant,
		Short:         applicationShortDescriptionConstant,
		Long:          applicationLongDescriptionConstant,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(command *cobra.Command, arguments []string) error {
			return application.initializeConfiguration(command)
		},
		RunE: func(command *cobra.Command, arguments []string) error {
			return application.runRootCommand(command, arguments)
		},
	}

	cobraCommand.SetContext(context.Background())
	persistentFlags := cobraCommand.PersistentFlags()
	persistentFlags.StringVar(&application.configurationFilePath, configFileFlagNameConstant, "", configFileFlagUsageConstant)
	persistentFlags.StringVar(&application.logLevelFlagValue, logLevelFlagNameConstant, "", logLevelFlagUsageConstant)
	persistentFlags.StringVar(&application.logFormatFlagValue, logFormatFlagNameConstant, "", logFormatFlagUsageConstant)
	persistentFlags.BoolVar(&application.travisPublicFlagValue, travisPublicFlagNameConstant, false, travisPublicFlagUsageConstant)
	persistentFlags.BoolVar(&application.travisPrivateFlagValue, travisPrivateFlagNameConstant, false, travisPrivateFlagUsageConstant)
	persistentFlags.StringVar(&application.travisEnterpriseValue, travisEnterpriseFlagNameConstant, "", travisEnterpriseFlagUsageConstant)
	persistentFlags.StringVar(&application.githubAPIURLFlagValue, githubAPIURLFlagNameConstant, githubreleases.DefaultAPIURL, githubAPIURLFlagUsageConstant)
	persistentFlags.StringVar(&application.tokenSourceFlagValue, githubTokenSourceFlagNameConstant, "", githubTokenSourceFlagUsageConstant)
	persistentFlags.StringVar(&application.tagPrefixFlagValue, tagPrefixFlagNameConstant, "", tagPrefixFlagUsageConstant)
	persistentFlags.StringVar(&application.temporaryPrefixValue, temporaryTagPrefixFlagNameConstant, "", temporaryTagPrefixFlagUsageConstant)

	loggerProvider := func() *zap.Logger {
		return application.logger
	}

	storeBuilder := drafts.StoreCommandBuilder{
		LoggerProvider:   loggerProvider,
		SettingsProvider: application.settings,
		ConfigurationProvider: func() drafts.StoreConfiguration {
			return application.configuration.Tools.Store
		},
		EnvironmentLookup: injected.environmentLookup,
		Releases:          injected.releases,
	}
	storeCommand, storeBuildError := storeBuilder.Build()
	if storeBuildError == nil {
		cobraCommand.AddCommand(storeCommand)
	}

	cleanupStoreBuilder := drafts.CleanupCommandBuilder{
		LoggerProvider:   loggerProvider,
		SettingsProvider: application.settings,
		ConfigurationProvider: func() drafts.CleanupConfiguration {
			return application.configuration.Tools.CleanupStore
		},
		EnvironmentLookup: injected.environmentLookup,
		Releases:          injected.releases,
		Builds:            injected.builds,
	}
	cleanupStoreCommand, cleanupStoreBuildError := cleanupStoreBuilder.Build()
	if cleanupStoreBuildError == nil {
		cobraCommand.AddCommand(cleanupStoreCommand)
	}

	collectBuilder := drafts.CollectCommandBuilder{
		LoggerProvider:   loggerProvider,
		SettingsProvider: application.settings,
		ConfigurationProvider: func() drafts.CollectConfiguration {
			return application.configuration.Tools.Collect
		},
		EnvironmentLookup: injected.environmentLookup,
		Releases:          injected.releases,
	}
	collectCommand, collectBuildError := collectBuilder.Build()
	if collectBuildError == nil {
		cobraCommand.AddCommand(collectCommand)
	}

	publishBuilder := publish.CommandBuilder{
		LoggerProvider:   loggerProvider,
		SettingsProvider: application.settings,
		ConfigurationProvider: func() publish.CommandConfiguration {
			return application.configuration.Tools.Publish
		},
		EnvironmentLookup: injected.environmentLookup,
		Releases:          injected.releases,
		Builds:            injected.builds,
	}
	publishCommand, publishBuildError := publishBuilder.Build()
	if publishBuildError == nil {
		cobraCommand.AddCommand(publishCommand)
	}

	cleanupPublishBuilder := publish.CleanupCommandBuilder{
		LoggerProvider:    loggerProvider,
		SettingsProvider:  application.settings,
		EnvironmentLookup: injected.environmentLookup,
		Releases:          injected.releases,
		Builds:            injected.builds,
	}
	cleanupPublishCommand, cleanupPublishBuildError := cleanupPublishBuilder.Build()
	if cleanupPublishBuildError == nil {
		cobraCommand.AddCommand(cleanupPublishCommand)
	}

	application.rootCommand = cobraCommand

	return application
}

// Execute runs the configured Cobra command hierarchy and ensures logger flushing.
func (application *Application) Execute() error {
	executionError := application.rootCommand.Execute()
	if syncError := application.flushLogger(); syncError != nil {
		return fmt.Errorf(loggerSyncErrorTemplateConstant, syncError)
	}
	return executionError
}

// Execute builds a fresh application instance and executes the root command hierarchy.
func Execute() error {
	return NewApplication().Execute()
}

func (application *Application) initializeConfiguration(command *cobra.Command) error {
	defaultValues := map[string]any{
		commonLogLevelConfigKeyConstant:  string(utils.LogLevelInfo),
		commonLogFormatConfigKeyConstant: string(utils.LogFormatStructured),
	}
	for configurationKey, configurationValue := range dependencies.DefaultConfigurationValues() {
		defaultValues[configurationKey] = configurationValue
	}
	for configurationKey, configurationValue := range drafts.DefaultConfigurationValues(toolsConfigurationKeyConstant) {
		defaultValues[configurationKey] = configurationValue
	}
	for configurationKey, configurationValue := range publish.DefaultConfigurationValues(toolsConfigurationKeyConstant) {
		defaultValues[configurationKey] = configurationValue
	}

	loadedConfiguration, loadError := application.configurationLoader.LoadConfiguration(application.configurationFilePath, defaultValues, &application.configuration)
	if loadError != nil {
		return fmt.Errorf(configurationLoadErrorTemplateConstant, loadError)
	}

	application.configurationMetadata = loadedConfiguration

	if application.persistentFlagChanged(command, logLevelFlagNameConstant) {
		application.configuration.Common.LogLevel = application.logLevelFlagValue
	}

	if application.persistentFlagChanged(command, logFormatFlagNameConstant) {
		application.configuration.Common.LogFormat = application.logFormatFlagValue
	}

	if travisError := application.applyTravisFlags(command); travisError != nil {
		return travisError
	}

	if application.persistentFlagChanged(command, githubAPIURLFlagNameConstant) {
		application.configuration.GitHub.APIURL = application.githubAPIURLFlagValue
	}

	if application.persistentFlagChanged(command, githubTokenSourceFlagNameConstant) {
		application.configuration.GitHub.TokenSource = application.tokenSourceFlagValue
	}

	if application.persistentFlagChanged(command, tagPrefixFlagNameConstant) {
		application.configuration.Tags.Prefix = application.tagPrefixFlagValue
	}

	if application.persistentFlagChanged(command, temporaryTagPrefixFlagNameConstant) {
		application.configuration.Tags.TemporaryPrefix = application.temporaryPrefixValue
	}

	logger, loggerCreationError := application.loggerFactory.CreateLogger(
		utils.LogLevel(application.configuration.Common.LogLevel),
		utils.LogFormat(application.configuration.Common.LogFormat),
	)
	if loggerCreationError != nil {
		return fmt.Errorf(loggerCreationErrorTemplateConstant, loggerCreationError)
	}

	application.logger = logger

	application.logger.Info(
		configurationInitializedMessageConstant,
		zap.String(configurationLogLevelFieldConstant, application.configuration.Common.LogLevel),
		zap.String(configurationLogFormatFieldConstant, application.configuration.Common.LogFormat),
		zap.String(configurationFileFieldConstant, application.configurationMetadata.ConfigFileUsed),
		zap.String(configurationTravisFieldConstant, application.configuration.Travis.Service),
		zap.String(configurationGitHubFieldConstant, application.configuration.GitHub.APIURL),
	)

	return nil
}

// applyTravisFlags replaces the configured Travis-CI service when any service flag is given.
func (application *Application) applyTravisFlags(command *cobra.Command) error {
	publicChanged := application.persistentFlagChanged(command, travisPublicFlagNameConstant)
	privateChanged := application.persistentFlagChanged(command, travisPrivateFlagNameConstant)
	enterpriseChanged := application.persistentFlagChanged(command, travisEnterpriseFlagNameConstant)
	if !publicChanged && !privateChanged && !enterpriseChanged {
		return nil
	}

	service, enterpriseURL, selectionError := travis.Selection{
		Public:        application.travisPublicFlagValue,
		Private:       application.travisPrivateFlagValue,
		EnterpriseURL: application.travisEnterpriseValue,
	}.Resolve()
	if selectionError != nil {
		return selectionError
	}

	application.configuration.Travis.Service = string(service)
	application.configuration.Travis.EnterpriseURL = enterpriseURL
	return nil
}

func (application *Application) settings() dependencies.Settings {
	return dependencies.Settings{
		GitHub: application.configuration.GitHub,
		Tags:   application.configuration.Tags,
		Travis: application.configuration.Travis,
	}
}

func (application *Application) runRootCommand(command *cobra.Command, arguments []string) error {
	if application.logger == nil {
		return errors.New(loggerNotInitializedMessageConstant)
	}

	application.logger.Info(
		rootCommandInfoMessageConstant,
		zap.String(logFieldCommandNameConstant, command.Name()),
		zap.Int(logFieldArgumentCountConstant, len(arguments)),
	)

	application.logger.Debug(
		rootCommandDebugMessageConstant,
		zap.Strings(logFieldArgumentsConstant, arguments),
	)

	if len(arguments) == 0 {
		return command.Help()
	}

	return nil
}

func (application *Application) flushLogger() error {
	if application.logger == nil {
		return nil
	}

	syncError := application.logger.Sync()
	switch {
	case syncError == nil:
		return nil
	case errors.Is(syncError, syscall.ENOTSUP):
		return nil
	case errors.Is(syncError, syscall.EINVAL):
		return nil
	default:
		return syncError
	}
}

func (application *Application) persistentFlagChanged(command *cobra.Command, flagName string) bool {
	if command == nil {
		return false
	}

	flagSetsToInspect := []*pflag.FlagSet{
		command.PersistentFlags(),
		command.InheritedFlags(),
	}

	rootCommand := command.Root()
	if rootCommand != nil {
		flagSetsToInspect = append(flagSetsToInspect, rootCommand.PersistentFlags())
	}

	for _, flagSet := range flagSetsToInspect {
		if flagSet == nil {
			continue
		}

		if flagSet.Changed(flagName) {
			return true
		}
	}

	return false
}
