package dependencies

import (
	"strings"

	"github.com/temirov/ci-release-publisher/internal/credentials"
	"github.com/temirov/ci-release-publisher/internal/githubreleases"
	"github.com/temirov/ci-release-publisher/internal/publisherrors"
	"github.com/temirov/ci-release-publisher/internal/tagnames"
	"github.com/temirov/ci-release-publisher/internal/travis"
)

const (
	githubConfigurationKeyConstant     = "github"
	tagsConfigurationKeyConstant       = "tags"
	travisConfigurationKeyConstant     = "travis"
	apiURLKeyConstant                  = "api_url"
	tokenSourceKeyConstant             = "token_source"
	prefixKeyConstant                  = "prefix"
	temporaryPrefixKeyConstant         = "prefix_tmp"
	serviceKeyConstant                 = "service"
	enterpriseURLKeyConstant           = "enterprise_url"
	configurationKeySeparatorConstant  = "."
	invalidTagPrefixesTemplateConstant = "invalid tag prefixes: %v"
)

// GitHubSettings describes how to reach GitHub.
type GitHubSettings struct {
	APIURL      string `mapstructure:"api_url"`
	TokenSource string `mapstructure:"token_source"`
}

// TagSettings holds the prefixes that distinguish temporary and final release tags.
type TagSettings struct {
	Prefix          string `mapstructure:"prefix"`
	TemporaryPrefix string `mapstructure:"prefix_tmp"`
}

// TravisSettings selects the Travis-CI installation.
type TravisSettings struct {
	Service       string `mapstructure:"service"`
	EnterpriseURL string `mapstructure:"enterprise_url"`
}

// Settings captures the options shared by every command.
type Settings struct {
	GitHub GitHubSettings
	Tags   TagSettings
	Travis TravisSettings
}

// DefaultSettings returns baseline shared settings.
func DefaultSettings() Settings {
	return Settings{
		GitHub: GitHubSettings{APIURL: githubreleases.DefaultAPIURL, TokenSource: credentials.DefaultGitHubTokenSource},
		Tags:   TagSettings{Prefix: tagnames.DefaultPrefix, TemporaryPrefix: tagnames.DefaultTemporaryPrefix},
		Travis: TravisSettings{Service: string(travis.ServicePublic)},
	}
}

// DefaultConfigurationValues produces Viper defaults for the shared settings sections.
func DefaultConfigurationValues() map[string]any {
	defaults := DefaultSettings()
	return map[string]any{
		joinKeys(githubConfigurationKeyConstant, apiURLKeyConstant):        defaults.GitHub.APIURL,
		joinKeys(githubConfigurationKeyConstant, tokenSourceKeyConstant):   defaults.GitHub.TokenSource,
		joinKeys(tagsConfigurationKeyConstant, prefixKeyConstant):          defaults.Tags.Prefix,
		joinKeys(tagsConfigurationKeyConstant, temporaryPrefixKeyConstant): defaults.Tags.TemporaryPrefix,
		joinKeys(travisConfigurationKeyConstant, serviceKeyConstant):       defaults.Travis.Service,
		joinKeys(travisConfigurationKeyConstant, enterpriseURLKeyConstant): defaults.Travis.EnterpriseURL,
	}
}

// Sanitize trims values and restores defaults for blank entries. Tag prefixes are kept verbatim.
func (settings Settings) Sanitize() Settings {
	defaults := DefaultSettings()
	sanitized := settings

	sanitized.GitHub.APIURL = strings.TrimSpace(settings.GitHub.APIURL)
	if len(sanitized.GitHub.APIURL) == 0 {
		sanitized.GitHub.APIURL = defaults.GitHub.APIURL
	}
	sanitized.GitHub.TokenSource = strings.TrimSpace(settings.GitHub.TokenSource)
	if len(sanitized.GitHub.TokenSource) == 0 {
		sanitized.GitHub.TokenSource = defaults.GitHub.TokenSource
	}
	sanitized.Travis.Service = strings.ToLower(strings.TrimSpace(settings.Travis.Service))
	if len(sanitized.Travis.Service) == 0 {
		sanitized.Travis.Service = defaults.Travis.Service
	}
	sanitized.Travis.EnterpriseURL = strings.TrimSpace(settings.Travis.EnterpriseURL)

	return sanitized
}

// TagNames validates the tag prefixes.
func (settings Settings) TagNames() (tagnames.Names, error) {
	names, namesError := tagnames.New(settings.Tags.Prefix, settings.Tags.TemporaryPrefix)
	if namesError != nil {
		return tagnames.Names{}, publisherrors.NewConfigurationError(invalidTagPrefixesTemplateConstant, namesError)
	}
	return names, nil
}

// TravisAPIURL resolves the API root of the configured Travis-CI installation.
func (settings Settings) TravisAPIURL() (string, error) {
	return travis.ResolveAPIURL(travis.Service(settings.Travis.Service), settings.Travis.EnterpriseURL)
}

// TravisWebURL resolves the web root of the configured Travis-CI installation.
func (settings Settings) TravisWebURL() (string, error) {
	return travis.ResolveWebURL(travis.Service(settings.Travis.Service), settings.Travis.EnterpriseURL)
}

func joinKeys(keys ...string) string {
	return strings.Join(keys, configurationKeySeparatorConstant)
}
