package publish_test

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/temirov/ci-release-publisher/internal/environment"
	"github.com/temirov/ci-release-publisher/internal/githubreleases"
	"github.com/temirov/ci-release-publisher/internal/githubreleases/githubreleasestest"
	"github.com/temirov/ci-release-publisher/internal/publish"
	"github.com/temirov/ci-release-publisher/internal/publisherrors"
)

type commandBuilder interface {
	Build() (*cobra.Command, error)
}

func travisEnvironment(overrides map[string]string) environment.Lookup {
	values := map[string]string{
		environment.RepoSlugVariable:    testSlugConstant,
		environment.BranchVariable:      testBranchConstant,
		environment.CommitVariable:      testCommitConstant,
		environment.BuildNumberVariable: strconv.Itoa(testBuildNumberConstant),
		environment.BuildIDVariable:     strconv.Itoa(testBuildIDConstant),
		environment.EventTypeVariable:   "push",
	}
	for key, value := range overrides {
		values[key] = value
	}
	return func(key string) (string, bool) {
		value, found := values[key]
		return value, found
	}
}

func executeCommand(testInstance *testing.T, builder commandBuilder, arguments ...string) (string, error) {
	testInstance.Helper()
	command, buildError := builder.Build()
	require.NoError(testInstance, buildError)

	output := &bytes.Buffer{}
	command.SetOut(output)
	command.SetErr(io.Discard)
	command.SetArgs(arguments)
	executionError := command.Execute()
	return output.String(), executionError
}

func fixedClock() time.Time {
	return testStartTime
}

func onlyCurrentBuildRunning() stubBuildInspector {
	return stubBuildInspector{unfinished: map[int]struct{}{testBuildNumberConstant: {}}}
}

func TestPublishCommand(testInstance *testing.T) {
	testCases := []struct {
		name           string
		arguments      []string
		configuration  publish.CommandConfiguration
		overrides      map[string]string
		expectedOutput string
		expectedTags   []string
	}{
		{
			name:           "every kind on a tag build",
			arguments:      []string{"--latest-release", "--numbered-release", "--numbered-release-name", "Nightly", "--tag-release", "--tag-release-prerelease"},
			overrides:      map[string]string{environment.TagVariable: "v2.0.0"},
			expectedOutput: "PUBLISHED: latest ci-master-latest\nPUBLISHED: numbered ci-master-20\nPUBLISHED: tag v2.0.0\n",
			expectedTags:   []string{"ci-master-19", "ci-master-20", "ci-master-latest", "v2.0.0"},
		},
		{
			name:           "event type filter skips kind",
			arguments:      []string{"--latest-release", "--latest-release-check-event-type", "cron"},
			expectedOutput: "SKIPPED: latest (event type \"push\" is not one of cron)\n",
			expectedTags:   []string{"ci-master-19"},
		},
		{
			name:           "tag kind skipped without git tag",
			arguments:      []string{"--tag-release"},
			expectedOutput: "SKIPPED: tag (the build is not a tag build)\n",
			expectedTags:   []string{"ci-master-19"},
		},
		{
			name: "configured retention",
			configuration: publish.CommandConfiguration{
				Numbered: publish.NumberedReleaseConfiguration{
					ReleaseConfiguration: publish.ReleaseConfiguration{Enabled: true},
					KeepCount:            1,
				},
			},
			expectedOutput: "PUBLISHED: numbered ci-master-20\nRETIRED: ci-master-19\n",
			expectedTags:   []string{"ci-master-20"},
		},
		{
			name:      "flags override configuration",
			arguments: []string{"--numbered-release-keep-count", "0", "--latest-release=false"},
			configuration: publish.CommandConfiguration{
				Latest: publish.ReleaseConfiguration{Enabled: true},
				Numbered: publish.NumberedReleaseConfiguration{
					ReleaseConfiguration: publish.ReleaseConfiguration{Enabled: true},
					KeepCount:            1,
				},
			},
			expectedOutput: "PUBLISHED: numbered ci-master-20\n",
			expectedTags:   []string{"ci-master-19", "ci-master-20"},
		},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf(publishSubtestTemplate, testCaseIndex, testCase.name), func(testInstance *testing.T) {
			client := githubreleasestest.NewClient(testStartTime)
			client.AddRelease(githubreleases.ReleaseRequest{TagName: "ci-master-19"}, testStartTime.Add(-24*time.Hour), nil)

			builder := &publish.CommandBuilder{
				EnvironmentLookup:     travisEnvironment(testCase.overrides),
				Releases:              client,
				Builds:                onlyCurrentBuildRunning(),
				Clock:                 fixedClock,
				ConfigurationProvider: func() publish.CommandConfiguration { return testCase.configuration },
			}

			arguments := append([]string{writeArtifacts(testInstance)}, testCase.arguments...)
			output, executionError := executeCommand(testInstance, builder, arguments...)
			require.NoError(testInstance, executionError)
			require.Equal(testInstance, testCase.expectedOutput, output)
			require.Equal(testInstance, testCase.expectedTags, client.Tags())
		})
	}
}

func TestPublishCommandAppliesReleaseFlags(testInstance *testing.T) {
	client := githubreleasestest.NewClient(testStartTime)
	builder := &publish.CommandBuilder{EnvironmentLookup: travisEnvironment(nil), Releases: client, Builds: onlyCurrentBuildRunning(), Clock: fixedClock}

	_, executionError := executeCommand(testInstance, builder, writeArtifacts(testInstance),
		"--latest-release", "--latest-release-name", "Edge", "--latest-release-body", "Bleeding edge", "--latest-release-draft",
		"--numbered-release")
	require.NoError(testInstance, executionError)

	latest, exists := client.ReleaseByTag("ci-master-latest")
	require.True(testInstance, exists)
	require.Equal(testInstance, "Edge", latest.Name)
	require.Equal(testInstance, "Bleeding edge\n\n<!-- ci-release-publisher latest build 20 -->", latest.Body)
	require.True(testInstance, latest.Draft)
	require.False(testInstance, latest.Prerelease)

	numbered, numberedExists := client.ReleaseByTag("ci-master-20")
	require.True(testInstance, numberedExists)
	require.Equal(testInstance, "Built from commit feedface by build 20 on branch master.\n\nTravis-CI build: https://travis-ci.org/octo/widgets/builds/7020", numbered.Body)
}

func TestPublishCommandSkipsLatestWhileNewerBuildRuns(testInstance *testing.T) {
	client := githubreleasestest.NewClient(testStartTime)
	builder := &publish.CommandBuilder{
		EnvironmentLookup: travisEnvironment(nil),
		Releases:          client,
		Builds:            stubBuildInspector{unfinished: map[int]struct{}{testBuildNumberConstant: {}, testBuildNumberConstant + 1: {}}},
		Clock:             fixedClock,
	}

	output, executionError := executeCommand(testInstance, builder, writeArtifacts(testInstance), "--latest-release")
	require.NoError(testInstance, executionError)
	require.Equal(testInstance, "SKIPPED: latest (newer build 21 on the branch has not finished)\n", output)
	require.Empty(testInstance, client.Tags())
}

func TestPublishCommandConfigurationErrors(testInstance *testing.T) {
	testCases := []struct {
		name          string
		arguments     []string
		configuration publish.CommandConfiguration
	}{
		{
			name: "no release kind enabled",
		},
		{
			name:      "negative keep count",
			arguments: []string{"--numbered-release", "--numbered-release-keep-count", "-1"},
		},
		{
			name:      "negative keep time",
			arguments: []string{"--numbered-release", "--numbered-release-keep-time", "-1h"},
		},
		{
			name:          "unsupported configured event type",
			configuration: publish.CommandConfiguration{Latest: publish.ReleaseConfiguration{Enabled: true, CheckEventTypes: []string{"nightly"}}},
		},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf(publishSubtestTemplate, testCaseIndex, testCase.name), func(testInstance *testing.T) {
			client := githubreleasestest.NewClient(testStartTime)
			builder := &publish.CommandBuilder{
				EnvironmentLookup:     travisEnvironment(nil),
				Releases:              client,
				Builds:                onlyCurrentBuildRunning(),
				ConfigurationProvider: func() publish.CommandConfiguration { return testCase.configuration },
			}

			arguments := append([]string{writeArtifacts(testInstance)}, testCase.arguments...)
			_, executionError := executeCommand(testInstance, builder, arguments...)
			require.Error(testInstance, executionError)
			require.True(testInstance, publisherrors.IsConfigurationError(executionError))
			require.Empty(testInstance, client.Calls())
		})
	}
}

func TestCleanupPublishCommand(testInstance *testing.T) {
	client := githubreleasestest.NewClient(testStartTime)
	client.AddRelease(githubreleases.ReleaseRequest{TagName: "_ci-latest-18-master", Draft: true}, testStartTime, nil)
	client.AddRelease(githubreleases.ReleaseRequest{TagName: "_ci-numbered-20-master", Draft: true}, testStartTime, nil)
	client.AddRelease(githubreleases.ReleaseRequest{TagName: "ci-master-latest"}, testStartTime, nil)

	builder := &publish.CleanupCommandBuilder{
		EnvironmentLookup: travisEnvironment(nil),
		Releases:          client,
		Builds:            stubBuildInspector{unfinished: map[int]struct{}{testBuildNumberConstant: {}}},
	}

	output, executionError := executeCommand(testInstance, builder)
	require.NoError(testInstance, executionError)
	require.Equal(testInstance, "DELETED: _ci-latest-18-master\n", output)
	require.Equal(testInstance, []string{"_ci-numbered-20-master", "ci-master-latest"}, client.Tags())
}

func TestCleanupPublishCommandRequiresBranch(testInstance *testing.T) {
	client := githubreleasestest.NewClient(testStartTime)
	builder := &publish.CleanupCommandBuilder{
		EnvironmentLookup: travisEnvironment(map[string]string{environment.BranchVariable: " "}),
		Releases:          client,
		Builds:            stubBuildInspector{},
	}

	_, executionError := executeCommand(testInstance, builder)
	require.True(testInstance, publisherrors.IsConfigurationError(executionError))
}

func TestDefaultConfigurationValuesCoverEveryKind(testInstance *testing.T) {
	values := publish.DefaultConfigurationValues("tools")
	for _, key := range []string{
		"tools.publish.latest.enabled",
		"tools.publish.numbered.check_event_types",
		"tools.publish.numbered.keep_count",
		"tools.publish.numbered.keep_time",
		"tools.publish.tag.prerelease",
	} {
		require.Contains(testInstance, values, key)
	}
	require.Equal(testInstance, false, values["tools.publish.tag.enabled"])
}
