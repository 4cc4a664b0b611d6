package tagnames_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/temirov/ci-release-publisher/internal/tagnames"
)

const tagNamesSubtestNameTemplateConstant = "%d_%s"

func newDefaultNames(testInstance *testing.T) tagnames.Names {
	testInstance.Helper()
	names, namesError := tagnames.New(tagnames.DefaultPrefix, tagnames.DefaultTemporaryPrefix)
	require.NoError(testInstance, namesError)
	return names
}

func TestNewValidatesPrefixes(testInstance *testing.T) {
	_, emptyError := tagnames.New("", "_ci-")
	require.ErrorIs(testInstance, emptyError, tagnames.ErrEmptyPrefix)

	_, identicalError := tagnames.New("ci-", "ci-")
	require.ErrorIs(testInstance, identicalError, tagnames.ErrIdenticalPrefixes)
}

func TestStoredDraftTagRoundTrip(testInstance *testing.T) {
	names := newDefaultNames(testInstance)

	testCases := []struct {
		name        string
		draft       tagnames.StoredDraft
		expectedTag string
	}{
		{
			name:        "complete draft",
			draft:       tagnames.StoredDraft{BuildNumber: 12, JobNumber: 3, Branch: "master", Complete: true},
			expectedTag: "ci-store-12-3-master",
		},
		{
			name:        "incomplete draft",
			draft:       tagnames.StoredDraft{BuildNumber: 12, JobNumber: 3, Branch: "master"},
			expectedTag: "_ci-store-12-3-master",
		},
		{
			name:        "branch with dashes",
			draft:       tagnames.StoredDraft{BuildNumber: 7, JobNumber: 10, Branch: "feature-42-fix", Complete: true},
			expectedTag: "ci-store-7-10-feature-42-fix",
		},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf(tagNamesSubtestNameTemplateConstant, testCaseIndex, testCase.name), func(testInstance *testing.T) {
			tag := names.StoredDraftTag(testCase.draft)
			require.Equal(testInstance, testCase.expectedTag, tag)

			parsedDraft, parsed := names.ParseStoredDraftTag(tag)
			require.True(testInstance, parsed)
			require.Equal(testInstance, testCase.draft, parsedDraft)
		})
	}
}

func TestParseStoredDraftTagRejectsForeignTags(testInstance *testing.T) {
	names := newDefaultNames(testInstance)

	for testCaseIndex, tag := range []string{
		"v1.0.0",
		"ci-master-latest",
		"ci-master-12",
		"ci-store-12-master",
		"ci-store-x-3-master",
		"ci-store-12-3-",
		"_ci-latest-12-master",
	} {
		testInstance.Run(fmt.Sprintf(tagNamesSubtestNameTemplateConstant, testCaseIndex, tag), func(testInstance *testing.T) {
			_, parsed := names.ParseStoredDraftTag(tag)
			require.False(testInstance, parsed)
		})
	}
}

func TestParseStoredDraftTagWithNestedPrefixes(testInstance *testing.T) {
	names, namesError := tagnames.New("ci-", "ci-tmp-")
	require.NoError(testInstance, namesError)

	incompleteDraft := tagnames.StoredDraft{BuildNumber: 4, JobNumber: 1, Branch: "main"}
	parsedIncomplete, parsed := names.ParseStoredDraftTag(names.StoredDraftTag(incompleteDraft))
	require.True(testInstance, parsed)
	require.False(testInstance, parsedIncomplete.Complete)

	completeDraft := tagnames.StoredDraft{BuildNumber: 4, JobNumber: 1, Branch: "main", Complete: true}
	parsedComplete, parsed := names.ParseStoredDraftTag(names.StoredDraftTag(completeDraft))
	require.True(testInstance, parsed)
	require.Equal(testInstance, completeDraft, parsedComplete)
}

func TestInProgressTagRoundTrip(testInstance *testing.T) {
	names := newDefaultNames(testInstance)

	for testCaseIndex, kind := range tagnames.PublishKinds() {
		testInstance.Run(fmt.Sprintf(tagNamesSubtestNameTemplateConstant, testCaseIndex, kind), func(testInstance *testing.T) {
			publish := tagnames.InProgressPublish{Kind: kind, BuildNumber: 99, Branch: "release-2"}
			tag := names.InProgressTag(publish)
			require.Equal(testInstance, fmt.Sprintf("_ci-%s-99-release-2", kind), tag)

			parsedPublish, parsed := names.ParseInProgressTag(tag)
			require.True(testInstance, parsed)
			require.Equal(testInstance, publish, parsedPublish)

			_, storeParsed := names.ParseStoredDraftTag(tag)
			require.False(testInstance, storeParsed)
		})
	}

	_, parsed := names.ParseInProgressTag("_ci-store-12-3-master")
	require.False(testInstance, parsed)
}

func TestFinalTags(testInstance *testing.T) {
	names := newDefaultNames(testInstance)

	require.Equal(testInstance, "ci-master-latest", names.FinalTag(tagnames.PublishKindLatest, "master", 5, ""))
	require.Equal(testInstance, "ci-master-5", names.FinalTag(tagnames.PublishKindNumbered, "master", 5, ""))
	require.Equal(testInstance, "v1.2.0", names.FinalTag(tagnames.PublishKindTag, "v1.2.0", 5, "v1.2.0"))

	buildNumber, parsed := names.ParseNumberedTag("ci-master-5", "master")
	require.True(testInstance, parsed)
	require.Equal(testInstance, 5, buildNumber)

	_, latestParsed := names.ParseNumberedTag("ci-master-latest", "master")
	require.False(testInstance, latestParsed)

	_, otherBranchParsed := names.ParseNumberedTag("ci-master-fix-5", "master")
	require.False(testInstance, otherBranchParsed)
}
