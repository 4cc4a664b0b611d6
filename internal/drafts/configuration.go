package drafts

import "strings"

const (
	storeConfigurationKeyConstant     = "store"
	collectConfigurationKeyConstant   = "collect"
	cleanupConfigurationKeyConstant   = "cleanup_store"
	releaseNameKeyConstant            = "release_name"
	releaseBodyKeyConstant            = "release_body"
	concurrencyKeyConstant            = "concurrency"
	scopesKeyConstant                 = "scopes"
	releasesKeyConstant               = "releases"
	onNonAllowedFailureKeyConstant    = "on_nonallowed_failure"
	configurationKeySeparatorConstant = "."
)

// ToolsConfiguration captures the configuration sections of the draft commands.
type ToolsConfiguration struct {
	Store   StoreConfiguration   `mapstructure:"store"`
	Collect CollectConfiguration `mapstructure:"collect"`
	Cleanup CleanupConfiguration `mapstructure:"cleanup_store"`
}

// StoreConfiguration describes configuration values for store.
type StoreConfiguration struct {
	ReleaseName string `mapstructure:"release_name"`
	ReleaseBody string `mapstructure:"release_body"`
}

// CollectConfiguration describes configuration values for collect.
type CollectConfiguration struct {
	Concurrency int `mapstructure:"concurrency"`
}

// CleanupConfiguration describes configuration values for cleanup_store.
type CleanupConfiguration struct {
	Scopes              []string `mapstructure:"scopes"`
	Releases            []string `mapstructure:"releases"`
	OnNonAllowedFailure bool     `mapstructure:"on_nonallowed_failure"`
}

// DefaultToolsConfiguration returns baseline configuration values for the draft commands.
func DefaultToolsConfiguration() ToolsConfiguration {
	return ToolsConfiguration{
		Store:   StoreConfiguration{},
		Collect: CollectConfiguration{Concurrency: defaultDownloadConcurrencyConstant},
		Cleanup: CleanupConfiguration{
			Scopes:              []string{},
			Releases:            []string{},
			OnNonAllowedFailure: false,
		},
	}
}

// DefaultConfigurationValues produces Viper defaults for the draft commands.
func DefaultConfigurationValues(rootKey string) map[string]any {
	defaults := DefaultToolsConfiguration()
	return map[string]any{
		joinKeys(rootKey, storeConfigurationKeyConstant, releaseNameKeyConstant):           defaults.Store.ReleaseName,
		joinKeys(rootKey, storeConfigurationKeyConstant, releaseBodyKeyConstant):           defaults.Store.ReleaseBody,
		joinKeys(rootKey, collectConfigurationKeyConstant, concurrencyKeyConstant):         defaults.Collect.Concurrency,
		joinKeys(rootKey, cleanupConfigurationKeyConstant, scopesKeyConstant):              defaults.Cleanup.Scopes,
		joinKeys(rootKey, cleanupConfigurationKeyConstant, releasesKeyConstant):            defaults.Cleanup.Releases,
		joinKeys(rootKey, cleanupConfigurationKeyConstant, onNonAllowedFailureKeyConstant): defaults.Cleanup.OnNonAllowedFailure,
	}
}

// Sanitize trims store configuration values.
func (configuration StoreConfiguration) Sanitize() StoreConfiguration {
	sanitized := configuration
	sanitized.ReleaseName = strings.TrimSpace(configuration.ReleaseName)
	sanitized.ReleaseBody = strings.TrimSpace(configuration.ReleaseBody)
	return sanitized
}

// Sanitize restores the default download concurrency for non-positive values.
func (configuration CollectConfiguration) Sanitize() CollectConfiguration {
	sanitized := configuration
	if sanitized.Concurrency <= 0 {
		sanitized.Concurrency = defaultDownloadConcurrencyConstant
	}
	return sanitized
}

// Sanitize normalizes the selected scopes and release kinds.
func (configuration CleanupConfiguration) Sanitize() CleanupConfiguration {
	sanitized := configuration
	sanitized.Scopes = normalizeChoices(configuration.Scopes)
	sanitized.Releases = normalizeChoices(configuration.Releases)
	return sanitized
}

func normalizeChoices(raw []string) []string {
	normalized := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, candidate := range raw {
		trimmed := strings.ToLower(strings.TrimSpace(candidate))
		if len(trimmed) == 0 {
			continue
		}
		if _, exists := seen[trimmed]; exists {
			continue
		}
		seen[trimmed] = struct{}{}
		normalized = append(normalized, trimmed)
	}
	return normalized
}

func joinKeys(keys ...string) string {
	return strings.Join(keys, configurationKeySeparatorConstant)
}
