package publish_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/temirov/ci-release-publisher/internal/githubreleases"
	"github.com/temirov/ci-release-publisher/internal/githubreleases/githubreleasestest"
	"github.com/temirov/ci-release-publisher/internal/publish"
	"github.com/temirov/ci-release-publisher/internal/publisherrors"
	"github.com/temirov/ci-release-publisher/internal/tagnames"
)

const (
	testBranchConstant      = "master"
	testCommitConstant      = "feedface"
	testSlugConstant        = "octo/widgets"
	testBuildNumberConstant = 20
	testBuildIDConstant     = 7020
	publishSubtestTemplate  = "%d_%s"
)

var testStartTime = time.Date(2024, time.June, 10, 8, 0, 0, 0, time.UTC)

type stubBuildInspector struct {
	unfinished map[int]struct{}
}

func (inspector stubBuildInspector) UnfinishedBuildNumbers(context.Context, string, string) (map[int]struct{}, error) {
	return inspector.unfinished, nil
}

func (inspector stubBuildInspector) HasFailedDisallowedJob(context.Context, int64) (bool, error) {
	return false, nil
}

func defaultNames(testInstance *testing.T) tagnames.Names {
	testInstance.Helper()
	names, namesError := tagnames.New(tagnames.DefaultPrefix, tagnames.DefaultTemporaryPrefix)
	require.NoError(testInstance, namesError)
	return names
}

func writeArtifacts(testInstance *testing.T) string {
	testInstance.Helper()
	directory := testInstance.TempDir()
	require.NoError(testInstance, os.WriteFile(filepath.Join(directory, "linux.tar.gz"), []byte("linux"), 0o600))
	require.NoError(testInstance, os.WriteFile(filepath.Join(directory, "windows.zip"), []byte("windows"), 0o600))
	return directory
}

func newService(testInstance *testing.T, client githubreleases.Client, logger *zap.Logger, now time.Time) *publish.Service {
	testInstance.Helper()
	return newServiceWithUnfinishedBuilds(testInstance, client, logger, now, testBuildNumberConstant)
}

func newServiceWithUnfinishedBuilds(testInstance *testing.T, client githubreleases.Client, logger *zap.Logger, now time.Time, unfinishedBuilds ...int) *publish.Service {
	testInstance.Helper()
	unfinished := make(map[int]struct{}, len(unfinishedBuilds))
	for _, buildNumber := range unfinishedBuilds {
		unfinished[buildNumber] = struct{}{}
	}
	service, serviceError := publish.NewService(publish.Dependencies{
		Releases: client,
		Builds:   stubBuildInspector{unfinished: unfinished},
		Logger:   logger,
		Clock:    func() time.Time { return now },
	})
	require.NoError(testInstance, serviceError)
	return service
}

func baseOptions(testInstance *testing.T, releases map[tagnames.PublishKind]publish.ReleaseOptions) publish.Options {
	testInstance.Helper()
	return publish.Options{
		ArtifactDirectory: writeArtifacts(testInstance),
		Names:             defaultNames(testInstance),
		Branch:            testBranchConstant,
		Commit:            testCommitConstant,
		BuildNumber:       testBuildNumberConstant,
		EventType:         "push",
		Releases:          releases,
	}
}

func TestPublishAllKindsOnTagBuild(testInstance *testing.T) {
	client := githubreleasestest.NewClient(testStartTime)
	client.AddRelease(githubreleases.ReleaseRequest{TagName: "ci-master-latest", Name: "old latest"}, testStartTime.Add(-time.Hour), map[string]string{"old.tar.gz": "old"})
	client.AddGitTag("v1.0.0")

	observerCore, observedLogs := observer.New(zapcore.InfoLevel)
	service := newService(testInstance, client, zap.New(observerCore), testStartTime)

	options := baseOptions(testInstance, map[tagnames.PublishKind]publish.ReleaseOptions{
		tagnames.PublishKindLatest:   {Enabled: true, Prerelease: true},
		tagnames.PublishKindNumbered: {Enabled: true, Name: "Nightly #20"},
		tagnames.PublishKindTag:      {Enabled: true, Draft: true},
	})
	options.GitTag = "v1.0.0"

	result, publishError := service.Publish(context.Background(), options)
	require.NoError(testInstance, publishError)
	require.Empty(testInstance, result.Skipped)
	require.Len(testInstance, result.Published, 3)
	require.Equal(testInstance, tagnames.PublishKindLatest, result.Published[0].Kind)
	require.Equal(testInstance, tagnames.PublishKindNumbered, result.Published[1].Kind)
	require.Equal(testInstance, tagnames.PublishKindTag, result.Published[2].Kind)

	require.Equal(testInstance, []string{"ci-master-20", "ci-master-latest", "v1.0.0"}, client.Tags())

	latest, _ := client.ReleaseByTag("ci-master-latest")
	require.False(testInstance, latest.Draft)
	require.True(testInstance, latest.Prerelease)
	require.Equal(testInstance, "Latest master build", latest.Name)
	require.Len(testInstance, latest.Assets, 2)
	_, oldAssetPresent := client.AssetContent("ci-master-latest", "old.tar.gz")
	require.False(testInstance, oldAssetPresent)

	numbered, _ := client.ReleaseByTag("ci-master-20")
	require.Equal(testInstance, "Nightly #20", numbered.Name)
	require.Equal(testInstance, testCommitConstant, numbered.TargetCommitish)

	tagged, _ := client.ReleaseByTag("v1.0.0")
	require.True(testInstance, tagged.Draft)
	require.True(testInstance, client.HasGitTag("v1.0.0"))

	for _, call := range client.Calls() {
		if call.Operation == githubreleases.DeleteTagOperation {
			require.NotEqual(testInstance, "v1.0.0", call.TagName)
		}
	}
	require.Equal(testInstance, 3, observedLogs.FilterMessage("Published release").Len())
}

func TestPublishSkipsKinds(testInstance *testing.T) {
	testCases := []struct {
		name          string
		releases      map[tagnames.PublishKind]publish.ReleaseOptions
		eventType     string
		gitTag        string
		expectedTags  []string
		expectedSkips []tagnames.PublishKind
	}{
		{
			name: "event type filter",
			releases: map[tagnames.PublishKind]publish.ReleaseOptions{
				tagnames.PublishKindLatest:   {Enabled: true, EventTypes: []string{"cron"}},
				tagnames.PublishKindNumbered: {Enabled: true, EventTypes: []string{"push", "api"}},
			},
			eventType:     "push",
			expectedTags:  []string{"ci-master-20"},
			expectedSkips: []tagnames.PublishKind{tagnames.PublishKindLatest},
		},
		{
			name: "tag kind without tag",
			releases: map[tagnames.PublishKind]publish.ReleaseOptions{
				tagnames.PublishKindTag:    {Enabled: true},
				tagnames.PublishKindLatest: {Enabled: true},
			},
			eventType:     "push",
			expectedTags:  []string{"ci-master-latest"},
			expectedSkips: []tagnames.PublishKind{tagnames.PublishKindTag},
		},
		{
			name: "disabled kinds are ignored",
			releases: map[tagnames.PublishKind]publish.ReleaseOptions{
				tagnames.PublishKindLatest:   {Enabled: false},
				tagnames.PublishKindNumbered: {Enabled: true, EventTypes: []string{"CRON"}},
			},
			eventType:    "cron",
			expectedTags: []string{"ci-master-20"},
		},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf(publishSubtestTemplate, testCaseIndex, testCase.name), func(testInstance *testing.T) {
			client := githubreleasestest.NewClient(testStartTime)
			service := newService(testInstance, client, nil, testStartTime)

			options := baseOptions(testInstance, testCase.releases)
			options.EventType = testCase.eventType
			options.GitTag = testCase.gitTag

			result, publishError := service.Publish(context.Background(), options)
			require.NoError(testInstance, publishError)
			require.Equal(testInstance, testCase.expectedTags, client.Tags())

			skippedKinds := make([]tagnames.PublishKind, 0, len(result.Skipped))
			for _, skipped := range result.Skipped {
				require.NotEmpty(testInstance, skipped.Reason)
				skippedKinds = append(skippedKinds, skipped.Kind)
			}
			require.ElementsMatch(testInstance, testCase.expectedSkips, skippedKinds)
		})
	}
}

func TestPublishRequiresEnabledKind(testInstance *testing.T) {
	client := githubreleasestest.NewClient(testStartTime)
	service := newService(testInstance, client, nil, testStartTime)

	_, publishError := service.Publish(context.Background(), baseOptions(testInstance, map[tagnames.PublishKind]publish.ReleaseOptions{
		tagnames.PublishKindLatest: {Enabled: false},
	}))
	require.True(testInstance, publisherrors.IsConfigurationError(publishError))
	require.Empty(testInstance, client.Calls())
}

func TestPublishRejectsDraftsThatReadAsStoreDrafts(testInstance *testing.T) {
	testCases := []struct {
		name          string
		kind          tagnames.PublishKind
		draft         bool
		expectedError bool
	}{
		{name: "numbered draft", kind: tagnames.PublishKindNumbered, draft: true, expectedError: true},
		{name: "latest draft", kind: tagnames.PublishKindLatest, draft: true, expectedError: true},
		{name: "numbered release", kind: tagnames.PublishKindNumbered, draft: false, expectedError: false},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf(publishSubtestTemplate, testCaseIndex, testCase.name), func(testInstance *testing.T) {
			client := githubreleasestest.NewClient(testStartTime)
			service := newService(testInstance, client, nil, testStartTime)

			options := baseOptions(testInstance, map[tagnames.PublishKind]publish.ReleaseOptions{testCase.kind: {Enabled: true, Draft: testCase.draft}})
			options.Branch = "store-5-1"
			_, publishError := service.Publish(context.Background(), options)
			if !testCase.expectedError {
				require.NoError(testInstance, publishError)
				return
			}
			require.True(testInstance, publisherrors.IsConfigurationError(publishError))
			require.Contains(testInstance, publishError.Error(), "store draft")
			require.Empty(testInstance, client.Calls())
		})
	}
}

func TestPublishRejectsEmptyArtifactDirectory(testInstance *testing.T) {
	directoryWithSubdirectory := testInstance.TempDir()
	require.NoError(testInstance, os.Mkdir(filepath.Join(directoryWithSubdirectory, "sub"), 0o700))
	require.NoError(testInstance, os.WriteFile(filepath.Join(directoryWithSubdirectory, "sub", "nested.bin"), []byte("nested"), 0o600))

	testCases := []struct {
		name      string
		directory string
	}{
		{name: "empty directory", directory: testInstance.TempDir()},
		{name: "only subdirectories", directory: directoryWithSubdirectory},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf(publishSubtestTemplate, testCaseIndex, testCase.name), func(testInstance *testing.T) {
			client := githubreleasestest.NewClient(testStartTime)
			client.AddRelease(githubreleases.ReleaseRequest{TagName: "ci-master-latest", Name: "current"}, testStartTime, map[string]string{"app.zip": "app"})
			service := newService(testInstance, client, nil, testStartTime)

			options := baseOptions(testInstance, map[tagnames.PublishKind]publish.ReleaseOptions{tagnames.PublishKindLatest: {Enabled: true}})
			options.ArtifactDirectory = testCase.directory
			_, publishError := service.Publish(context.Background(), options)
			require.True(testInstance, publisherrors.IsConfigurationError(publishError))
			require.Empty(testInstance, client.Calls())

			latest, exists := client.ReleaseByTag("ci-master-latest")
			require.True(testInstance, exists)
			require.Len(testInstance, latest.Assets, 1)
		})
	}
}

func TestPublishLatestYieldsToNewerBuild(testInstance *testing.T) {
	names := defaultNames(testInstance)
	client := githubreleasestest.NewClient(testStartTime)
	newerTag := names.InProgressTag(tagnames.InProgressPublish{Kind: tagnames.PublishKindLatest, BuildNumber: testBuildNumberConstant + 1, Branch: testBranchConstant})
	client.AddRelease(githubreleases.ReleaseRequest{TagName: newerTag, Draft: true}, testStartTime, nil)
	client.AddRelease(githubreleases.ReleaseRequest{TagName: "ci-master-latest"}, testStartTime.Add(-time.Hour), nil)

	service := newService(testInstance, client, nil, testStartTime)
	result, publishError := service.Publish(context.Background(), baseOptions(testInstance, map[tagnames.PublishKind]publish.ReleaseOptions{
		tagnames.PublishKindLatest: {Enabled: true},
	}))
	require.NoError(testInstance, publishError)
	require.Empty(testInstance, result.Published)
	require.Len(testInstance, result.Skipped, 1)
	require.Contains(testInstance, result.Skipped[0].Reason, "build 21")
	require.Equal(testInstance, []string{newerTag, "ci-master-latest"}, client.Tags())
}

func TestPublishLatestKeepsReleaseOfNewerBuild(testInstance *testing.T) {
	client := githubreleasestest.NewClient(testStartTime)
	client.AddRelease(githubreleases.ReleaseRequest{
		TagName: "ci-master-latest",
		Name:    "Latest from build 21",
		Body:    "Built by build 21.\n\n<!-- ci-release-publisher latest build 21 -->",
	}, testStartTime, map[string]string{"newer.zip": "newer"})

	service := newServiceWithUnfinishedBuilds(testInstance, client, nil, testStartTime, testBuildNumberConstant)
	result, publishError := service.Publish(context.Background(), baseOptions(testInstance, map[tagnames.PublishKind]publish.ReleaseOptions{
		tagnames.PublishKindLatest: {Enabled: true},
	}))
	require.NoError(testInstance, publishError)
	require.Empty(testInstance, result.Published)
	require.Len(testInstance, result.Skipped, 1)
	require.Equal(testInstance, "build 21 already published the latest release", result.Skipped[0].Reason)
	require.Empty(testInstance, client.Calls())

	latest, exists := client.ReleaseByTag("ci-master-latest")
	require.True(testInstance, exists)
	require.Equal(testInstance, "Latest from build 21", latest.Name)
}

func TestPublishLatestReplacesReleaseOfOlderBuild(testInstance *testing.T) {
	client := githubreleasestest.NewClient(testStartTime)
	client.AddRelease(githubreleases.ReleaseRequest{
		TagName: "ci-master-latest",
		Body:    "Built by build 19.\n\n<!-- ci-release-publisher latest build 19 -->",
	}, testStartTime, map[string]string{"older.zip": "older"})

	service := newService(testInstance, client, nil, testStartTime)
	options := baseOptions(testInstance, map[tagnames.PublishKind]publish.ReleaseOptions{
		tagnames.PublishKindLatest:   {Enabled: true},
		tagnames.PublishKindNumbered: {Enabled: true},
	})
	options.BuildURL = "https://travis-ci.org/octo/widgets/builds/777"
	result, publishError := service.Publish(context.Background(), options)
	require.NoError(testInstance, publishError)
	require.Len(testInstance, result.Published, 2)

	latest, _ := client.ReleaseByTag("ci-master-latest")
	require.Equal(testInstance, "Built from commit feedface by build 20 on branch master.\n\nTravis-CI build: https://travis-ci.org/octo/widgets/builds/777\n\n<!-- ci-release-publisher latest build 20 -->", latest.Body)
	_, olderAssetPresent := client.AssetContent("ci-master-latest", "older.zip")
	require.False(testInstance, olderAssetPresent)

	numbered, _ := client.ReleaseByTag("ci-master-20")
	require.Equal(testInstance, "Built from commit feedface by build 20 on branch master.\n\nTravis-CI build: https://travis-ci.org/octo/widgets/builds/777", numbered.Body)
}

func TestPublishLatestWaitsForUnfinishedNewerBuild(testInstance *testing.T) {
	client := githubreleasestest.NewClient(testStartTime)
	service := newServiceWithUnfinishedBuilds(testInstance, client, nil, testStartTime, testBuildNumberConstant, testBuildNumberConstant+2)

	result, publishError := service.Publish(context.Background(), baseOptions(testInstance, map[tagnames.PublishKind]publish.ReleaseOptions{
		tagnames.PublishKindLatest:   {Enabled: true},
		tagnames.PublishKindNumbered: {Enabled: true},
	}))
	require.NoError(testInstance, publishError)
	require.Len(testInstance, result.Skipped, 1)
	require.Equal(testInstance, tagnames.PublishKindLatest, result.Skipped[0].Kind)
	require.Equal(testInstance, "newer build 22 on the branch has not finished", result.Skipped[0].Reason)
	require.Len(testInstance, result.Published, 1)
	require.Equal(testInstance, []string{"ci-master-20"}, client.Tags())
}

func TestPublishReplacesLeftoverInProgressRelease(testInstance *testing.T) {
	names := defaultNames(testInstance)
	client := githubreleasestest.NewClient(testStartTime)
	leftoverTag := names.InProgressTag(tagnames.InProgressPublish{Kind: tagnames.PublishKindNumbered, BuildNumber: testBuildNumberConstant, Branch: testBranchConstant})
	client.AddRelease(githubreleases.ReleaseRequest{TagName: leftoverTag, Draft: true}, testStartTime, map[string]string{"partial.zip": "p"})

	service := newService(testInstance, client, nil, testStartTime)
	_, publishError := service.Publish(context.Background(), baseOptions(testInstance, map[tagnames.PublishKind]publish.ReleaseOptions{
		tagnames.PublishKindNumbered: {Enabled: true},
	}))
	require.NoError(testInstance, publishError)
	require.Equal(testInstance, []string{"ci-master-20"}, client.Tags())

	calls := client.Calls()
	require.Equal(testInstance, githubreleases.DeleteReleaseOperation, calls[0].Operation)
	require.Equal(testInstance, leftoverTag, calls[0].TagName)
}

func TestPublishNumberedRetention(testInstance *testing.T) {
	testCases := []struct {
		name         string
		retention    publish.RetentionPolicy
		expectedTags []string
		retiredTags  []string
	}{
		{
			name:         "keep everything",
			retention:    publish.RetentionPolicy{},
			expectedTags: []string{"ci-develop-3", "ci-master-17", "ci-master-18", "ci-master-19", "ci-master-20", "ci-master-latest"},
		},
		{
			name:         "keep count",
			retention:    publish.RetentionPolicy{KeepCount: 2},
			expectedTags: []string{"ci-develop-3", "ci-master-19", "ci-master-20", "ci-master-latest"},
			retiredTags:  []string{"ci-master-18", "ci-master-17"},
		},
		{
			name:         "keep time",
			retention:    publish.RetentionPolicy{KeepTime: 36 * time.Hour},
			expectedTags: []string{"ci-develop-3", "ci-master-19", "ci-master-20", "ci-master-latest"},
			retiredTags:  []string{"ci-master-18", "ci-master-17"},
		},
		{
			name:         "keep count and time",
			retention:    publish.RetentionPolicy{KeepCount: 3, KeepTime: 12 * time.Hour},
			expectedTags: []string{"ci-develop-3", "ci-master-20", "ci-master-latest"},
			retiredTags:  []string{"ci-master-19", "ci-master-18", "ci-master-17"},
		},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf(publishSubtestTemplate, testCaseIndex, testCase.name), func(testInstance *testing.T) {
			client := githubreleasestest.NewClient(testStartTime)
			client.AddRelease(githubreleases.ReleaseRequest{TagName: "ci-master-17"}, testStartTime.Add(-72*time.Hour), nil)
			client.AddRelease(githubreleases.ReleaseRequest{TagName: "ci-master-18"}, testStartTime.Add(-48*time.Hour), nil)
			client.AddRelease(githubreleases.ReleaseRequest{TagName: "ci-master-19"}, testStartTime.Add(-24*time.Hour), nil)
			client.AddRelease(githubreleases.ReleaseRequest{TagName: "ci-master-latest"}, testStartTime.Add(-96*time.Hour), nil)
			client.AddRelease(githubreleases.ReleaseRequest{TagName: "ci-develop-3"}, testStartTime.Add(-96*time.Hour), nil)

			service := newService(testInstance, client, nil, testStartTime)
			options := baseOptions(testInstance, map[tagnames.PublishKind]publish.ReleaseOptions{tagnames.PublishKindNumbered: {Enabled: true}})
			options.Retention = testCase.retention

			result, publishError := service.Publish(context.Background(), options)
			require.NoError(testInstance, publishError)
			require.Equal(testInstance, testCase.expectedTags, client.Tags())
			require.ElementsMatch(testInstance, testCase.retiredTags, result.RetiredTags)
			for _, retiredTag := range testCase.retiredTags {
				require.False(testInstance, client.HasGitTag(retiredTag))
			}
		})
	}
}

func TestCleanupPublishRemovesFinishedLeftovers(testInstance *testing.T) {
	names := defaultNames(testInstance)
	client := githubreleasestest.NewClient(testStartTime)
	inProgress := func(kind tagnames.PublishKind, buildNumber int, branch string) string {
		return names.InProgressTag(tagnames.InProgressPublish{Kind: kind, BuildNumber: buildNumber, Branch: branch})
	}
	finishedLatest := inProgress(tagnames.PublishKindLatest, 18, testBranchConstant)
	finishedTag := inProgress(tagnames.PublishKindTag, 19, testBranchConstant)
	runningNumbered := inProgress(tagnames.PublishKindNumbered, testBuildNumberConstant, testBranchConstant)
	otherBranch := inProgress(tagnames.PublishKindLatest, 5, "develop")
	for _, tag := range []string{finishedLatest, finishedTag, runningNumbered, otherBranch} {
		client.AddRelease(githubreleases.ReleaseRequest{TagName: tag, Draft: true}, testStartTime, nil)
	}
	client.AddRelease(githubreleases.ReleaseRequest{TagName: "_ci-store-18-1-master", Draft: true}, testStartTime, nil)

	service := newService(testInstance, client, nil, testStartTime)
	result, cleanupError := service.Cleanup(context.Background(), publish.CleanupOptions{Names: names, RepositorySlug: testSlugConstant, Branch: testBranchConstant})
	require.NoError(testInstance, cleanupError)
	require.ElementsMatch(testInstance, []string{finishedLatest, finishedTag}, result.DeletedTags)
	require.ElementsMatch(testInstance, []string{runningNumbered, otherBranch, "_ci-store-18-1-master"}, client.Tags())
}

func TestCleanupPublishRequiresInspector(testInstance *testing.T) {
	service, serviceError := publish.NewService(publish.Dependencies{Releases: githubreleasestest.NewClient(testStartTime)})
	require.NoError(testInstance, serviceError)

	_, cleanupError := service.Cleanup(context.Background(), publish.CleanupOptions{Names: defaultNames(testInstance), Branch: testBranchConstant})
	require.ErrorIs(testInstance, cleanupError, publish.ErrBuildInspectorNotConfigured)
}
