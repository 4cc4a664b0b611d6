package publish

import (
	"strings"
	"time"

	"github.com/temirov/ci-release-publisher/internal/tagnames"
)

const (
	publishConfigurationKeyConstant   = "publish"
	enabledKeyConstant                = "enabled"
	nameKeyConstant                   = "name"
	bodyKeyConstant                   = "body"
	draftKeyConstant                  = "draft"
	prereleaseKeyConstant             = "prerelease"
	checkEventTypesKeyConstant        = "check_event_types"
	keepCountKeyConstant              = "keep_count"
	keepTimeKeyConstant               = "keep_time"
	configurationKeySeparatorConstant = "."
)

// ToolsConfiguration captures the configuration sections of the publish commands.
type ToolsConfiguration struct {
	Publish CommandConfiguration `mapstructure:"publish"`
}

// CommandConfiguration describes configuration values for publish.
type CommandConfiguration struct {
	Latest   ReleaseConfiguration         `mapstructure:"latest"`
	Numbered NumberedReleaseConfiguration `mapstructure:"numbered"`
	Tag      ReleaseConfiguration         `mapstructure:"tag"`
}

// ReleaseConfiguration describes one release kind.
type ReleaseConfiguration struct {
	Enabled         bool     `mapstructure:"enabled"`
	Name            string   `mapstructure:"name"`
	Body            string   `mapstructure:"body"`
	Draft           bool     `mapstructure:"draft"`
	Prerelease      bool     `mapstructure:"prerelease"`
	CheckEventTypes []string `mapstructure:"check_event_types"`
}

// NumberedReleaseConfiguration adds the retention policy of numbered releases.
type NumberedReleaseConfiguration struct {
	ReleaseConfiguration `mapstructure:",squash"`
	KeepCount            int           `mapstructure:"keep_count"`
	KeepTime             time.Duration `mapstructure:"keep_time"`
}

// DefaultToolsConfiguration returns baseline configuration values with every release kind disabled.
func DefaultToolsConfiguration() ToolsConfiguration {
	return ToolsConfiguration{
		Publish: CommandConfiguration{
			Latest:   ReleaseConfiguration{CheckEventTypes: []string{}},
			Numbered: NumberedReleaseConfiguration{ReleaseConfiguration: ReleaseConfiguration{CheckEventTypes: []string{}}},
			Tag:      ReleaseConfiguration{CheckEventTypes: []string{}},
		},
	}
}

// DefaultConfigurationValues produces Viper defaults for the publish commands.
func DefaultConfigurationValues(rootKey string) map[string]any {
	defaults := DefaultToolsConfiguration().Publish
	values := map[string]any{}
	for _, kind := range tagnames.PublishKinds() {
		releaseDefaults := defaults.Release(kind)
		kindKey := joinKeys(rootKey, publishConfigurationKeyConstant, string(kind))
		values[joinKeys(kindKey, enabledKeyConstant)] = releaseDefaults.Enabled
		values[joinKeys(kindKey, nameKeyConstant)] = releaseDefaults.Name
		values[joinKeys(kindKey, bodyKeyConstant)] = releaseDefaults.Body
		values[joinKeys(kindKey, draftKeyConstant)] = releaseDefaults.Draft
		values[joinKeys(kindKey, prereleaseKeyConstant)] = releaseDefaults.Prerelease
		values[joinKeys(kindKey, checkEventTypesKeyConstant)] = releaseDefaults.CheckEventTypes
	}
	numberedKey := joinKeys(rootKey, publishConfigurationKeyConstant, string(tagnames.PublishKindNumbered))
	values[joinKeys(numberedKey, keepCountKeyConstant)] = defaults.Numbered.KeepCount
	values[joinKeys(numberedKey, keepTimeKeyConstant)] = defaults.Numbered.KeepTime
	return values
}

// Release returns the configuration of one release kind.
func (configuration CommandConfiguration) Release(kind tagnames.PublishKind) ReleaseConfiguration {
	switch kind {
	case tagnames.PublishKindLatest:
		return configuration.Latest
	case tagnames.PublishKindNumbered:
		return configuration.Numbered.ReleaseConfiguration
	default:
		return configuration.Tag
	}
}

// Sanitize trims text values and normalizes event types.
func (configuration CommandConfiguration) Sanitize() CommandConfiguration {
	sanitized := configuration
	sanitized.Latest = configuration.Latest.sanitize()
	sanitized.Numbered.ReleaseConfiguration = configuration.Numbered.ReleaseConfiguration.sanitize()
	sanitized.Tag = configuration.Tag.sanitize()
	return sanitized
}

func (configuration ReleaseConfiguration) sanitize() ReleaseConfiguration {
	sanitized := configuration
	sanitized.Name = strings.TrimSpace(configuration.Name)
	sanitized.Body = strings.TrimSpace(configuration.Body)

	eventTypes := make([]string, 0, len(configuration.CheckEventTypes))
	for _, eventType := range configuration.CheckEventTypes {
		normalized := strings.ToLower(strings.TrimSpace(eventType))
		if len(normalized) == 0 {
			continue
		}
		eventTypes = append(eventTypes, normalized)
	}
	sanitized.CheckEventTypes = eventTypes
	return sanitized
}

func joinKeys(keys ...string) string {
	return strings.Join(keys, configurationKeySeparatorConstant)
}
