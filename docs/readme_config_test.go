package docs_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/temirov/ci-release-publisher/cmd/cli"
)

const (
	readmeFileNameConstant           = "README.md"
	yamlFenceStartConstant           = "```yaml"
	yamlFenceEndConstant             = "```"
	configHeaderMarkerConstant       = "# config.yaml"
	readmeSnippetTemporaryPattern    = "readme-config-*.yaml"
	parentDirectoryReferenceConstant = ".."
	missingHeaderMessageConstant     = "README example missing config header marker"
	missingStartFenceMessageConstant = "README example missing yaml fence start"
	missingEndFenceMessageConstant   = "README example missing yaml fence end"
	unexpectedSectionMessageTemplate = "unexpected configuration section %s"
	defaultTempDirectoryRootConstant = ""
)

var expectedTopLevelSections = map[string]struct{}{
	"common": {},
	"github": {},
	"tags":   {},
	"travis": {},
	"tools":  {},
}

var expectedToolSections = map[string]struct{}{
	"store":         {},
	"collect":       {},
	"cleanup_store": {},
	"publish":       {},
}

var expectedPublishSections = map[string]struct{}{
	"latest":   {},
	"numbered": {},
	"tag":      {},
}

type readmeApplicationConfiguration struct {
	Tools struct {
		Publish map[string]any `yaml:"publish"`
	} `yaml:"tools"`
}

func TestReadmeConfigurationParses(testInstance *testing.T) {
	snippetContent := readReadmeConfigurationSnippet(testInstance)

	var document map[string]any
	require.NoError(testInstance, yaml.Unmarshal([]byte(snippetContent), &document))
	for sectionName := range document {
		_, expected := expectedTopLevelSections[sectionName]
		require.Truef(testInstance, expected, unexpectedSectionMessageTemplate, sectionName)
	}

	tools, isMapping := document["tools"].(map[string]any)
	require.True(testInstance, isMapping)
	for sectionName := range tools {
		_, expected := expectedToolSections[sectionName]
		require.Truef(testInstance, expected, unexpectedSectionMessageTemplate, sectionName)
	}

	var applicationConfiguration readmeApplicationConfiguration
	require.NoError(testInstance, yaml.Unmarshal([]byte(snippetContent), &applicationConfiguration))
	require.NotEmpty(testInstance, applicationConfiguration.Tools.Publish)
	for kindName := range applicationConfiguration.Tools.Publish {
		_, expected := expectedPublishSections[kindName]
		require.Truef(testInstance, expected, unexpectedSectionMessageTemplate, kindName)
	}
}

func TestReadmeConfigurationDecodesIntoApplicationConfiguration(testInstance *testing.T) {
	snippetContent := readReadmeConfigurationSnippet(testInstance)

	tempFile, tempFileError := os.CreateTemp(defaultTempDirectoryRootConstant, readmeSnippetTemporaryPattern)
	require.NoError(testInstance, tempFileError)
	testInstance.Cleanup(func() {
		require.NoError(testInstance, os.Remove(tempFile.Name()))
	})

	_, writeError := tempFile.WriteString(snippetContent)
	require.NoError(testInstance, writeError)
	require.NoError(testInstance, tempFile.Close())

	viperInstance := viper.New()
	viperInstance.SetConfigFile(tempFile.Name())
	require.NoError(testInstance, viperInstance.ReadInConfig())

	var configuration cli.ApplicationConfiguration
	require.NoError(testInstance, viperInstance.Unmarshal(&configuration))

	require.Equal(testInstance, "private", configuration.Travis.Service)
	require.Equal(testInstance, 8, configuration.Tools.Collect.Concurrency)
	require.Equal(testInstance, []string{"current-build", "previous-finished-builds"}, configuration.Tools.CleanupStore.Scopes)
	require.True(testInstance, configuration.Tools.Publish.Latest.Enabled)
	require.True(testInstance, configuration.Tools.Publish.Numbered.Enabled)
	require.Equal(testInstance, []string{"cron"}, configuration.Tools.Publish.Numbered.CheckEventTypes)
	require.Equal(testInstance, 10, configuration.Tools.Publish.Numbered.KeepCount)
	require.Equal(testInstance, 720*time.Hour, configuration.Tools.Publish.Numbered.KeepTime)
	require.True(testInstance, configuration.Tools.Publish.Tag.Prerelease)
}

func readReadmeConfigurationSnippet(testingInstance testing.TB) string {
	testingInstance.Helper()

	workingDirectory, workingDirectoryError := os.Getwd()
	require.NoError(testingInstance, workingDirectoryError)

	readmePath := filepath.Join(workingDirectory, parentDirectoryReferenceConstant, readmeFileNameConstant)
	contentBytes, readError := os.ReadFile(readmePath)
	require.NoError(testingInstance, readError)

	contentText := string(contentBytes)
	headerIndex := strings.Index(contentText, configHeaderMarkerConstant)
	require.NotEqual(testingInstance, -1, headerIndex, missingHeaderMessageConstant)

	fenceStartIndex := strings.LastIndex(contentText[:headerIndex], yamlFenceStartConstant)
	require.NotEqual(testingInstance, -1, fenceStartIndex, missingStartFenceMessageConstant)

	remainingText := contentText[headerIndex:]
	fenceEndRelativeIndex := strings.Index(remainingText, yamlFenceEndConstant)
	require.NotEqual(testingInstance, -1, fenceEndRelativeIndex, missingEndFenceMessageConstant)
	fenceEndIndex := headerIndex + fenceEndRelativeIndex

	return strings.TrimSpace(contentText[fenceStartIndex+len(yamlFenceStartConstant) : fenceEndIndex])
}
