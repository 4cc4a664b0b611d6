package publish

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/temirov/ci-release-publisher/internal/artifacts"
	"github.com/temirov/ci-release-publisher/internal/githubreleases"
	"github.com/temirov/ci-release-publisher/internal/publisherrors"
	"github.com/temirov/ci-release-publisher/internal/tagnames"
	"github.com/temirov/ci-release-publisher/internal/travis"
)

const (
	releasesClientMissingMessageConstant  = "github releases client not configured"
	buildInspectorMissingMessageConstant  = "travis build inspector not configured"
	noKindEnabledMessageConstant          = "enable at least one of --latest-release, --numbered-release or --tag-release"
	branchRequiredMessageConstant         = "branch must be provided"
	buildNumberRequiredMessageConstant    = "build number must be positive"
	negativeKeepCountMessageConstant      = "--numbered-release-keep-count must not be negative"
	negativeKeepTimeMessageConstant       = "--numbered-release-keep-time must not be negative"
	draftReadsAsStoreTemplateConstant     = "the %s release tag %q would be read as a store draft; publish it without --%s-release-draft"
	skipReasonEventTypeTemplateConstant   = "event type %q is not one of %s"
	skipReasonNoTagMessageConstant        = "the build is not a tag build"
	skipReasonSupersededTemplateConstant  = "build %d is already publishing the latest release"
	skipReasonPublishedTemplateConstant   = "build %d already published the latest release"
	skipReasonUnfinishedTemplateConstant  = "newer build %d on the branch has not finished"
	defaultLatestNameTemplateConstant     = "Latest %s build"
	defaultNumberedNameTemplateConstant   = "Build %d on %s"
	defaultBodyTemplateConstant           = "Built from commit %s by build %d on branch %s."
	buildLinkTemplateConstant             = "%s\n\nTravis-CI build: %s"
	latestBuildMarkerTemplateConstant     = "%s\n\n<!-- ci-release-publisher latest build %d -->"
	listReleasesErrorTemplateConstant     = "failed to list releases: %w"
	deleteReleaseErrorTemplateConstant    = "failed to delete release %s: %w"
	deleteTagErrorTemplateConstant        = "failed to delete tag %s: %w"
	createDraftErrorTemplateConstant      = "failed to create draft release %s: %w"
	uploadAssetErrorTemplateConstant      = "failed to upload %s to %s: %w"
	finalizeReleaseErrorTemplateConstant  = "failed to finalize release %s: %w"
	unfinishedBuildsErrorTemplateConstant = "failed to query unfinished builds: %w"
	eventTypeJoinSeparatorConstant        = ", "
	skippedKindLogMessageConstant         = "Skipping release kind"
	removingLeftoverLogMessageConstant    = "Removing leftover in-progress release"
	createdDraftLogMessageConstant        = "Created in-progress release"
	uploadedAssetLogMessageConstant       = "Uploaded artifact"
	supersededLogMessageConstant          = "A newer build owns the latest release; skipping it"
	replacingReleaseLogMessageConstant    = "Replacing existing release"
	publishedLogMessageConstant           = "Published release"
	retentionLogMessageConstant           = "Removing numbered release by retention policy"
	deletedInProgressLogMessageConstant   = "Deleted in-progress release"
	kindFieldNameConstant                 = "kind"
	reasonFieldNameConstant               = "reason"
	tagFieldNameConstant                  = "tag"
	releaseIDFieldNameConstant            = "release_id"
	assetFieldNameConstant                = "asset"
	assetCountFieldNameConstant           = "asset_count"
	draftFieldNameConstant                = "draft"
	prereleaseFieldNameConstant           = "prerelease"
)

// ErrReleasesClientNotConfigured indicates the GitHub releases dependency was missing.
var ErrReleasesClientNotConfigured = errors.New(releasesClientMissingMessageConstant)

// ErrBuildInspectorNotConfigured indicates cleanup_publish ran without a Travis-CI inspector.
var ErrBuildInspectorNotConfigured = errors.New(buildInspectorMissingMessageConstant)

// Clock returns the current time.
type Clock func() time.Time

// Dependencies enumerates external collaborators required by the publish service.
type Dependencies struct {
	Releases githubreleases.Client
	Builds   travis.BuildInspector
	Logger   *zap.Logger
	Clock    Clock
}

// ReleaseOptions configures one release kind.
type ReleaseOptions struct {
	Enabled    bool
	Name       string
	Body       string
	Draft      bool
	Prerelease bool
	EventTypes []string
}

// RetentionPolicy limits how many numbered releases of a branch survive. Zero values keep everything.
type RetentionPolicy struct {
	KeepCount int
	KeepTime  time.Duration
}

// Options configures a publish run.
type Options struct {
	ArtifactDirectory string
	Names             tagnames.Names
	Branch            string
	Commit            string
	BuildNumber       int
	BuildURL          string
	RepositorySlug    string
	GitTag            string
	EventType         string
	Releases          map[tagnames.PublishKind]ReleaseOptions
	Retention         RetentionPolicy
}

// PublishedRelease describes a finalized release.
type PublishedRelease struct {
	Kind      tagnames.PublishKind
	TagName   string
	ReleaseID int64
}

// SkippedKind describes an enabled kind that was not published.
type SkippedKind struct {
	Kind   tagnames.PublishKind
	Reason string
}

// Result captures the outcome of a publish run.
type Result struct {
	Published   []PublishedRelease
	Skipped     []SkippedKind
	RetiredTags []string
}

// CleanupOptions configures a cleanup_publish run.
type CleanupOptions struct {
	Names          tagnames.Names
	RepositorySlug string
	Branch         string
}

// CleanupResult captures the outcome of a cleanup_publish run.
type CleanupResult struct {
	DeletedTags []string
}

// Service publishes collected artifacts as GitHub releases.
type Service struct {
	releases githubreleases.Client
	builds   travis.BuildInspector
	logger   *zap.Logger
	clock    Clock
}

// NewService constructs a Service from the provided dependencies.
func NewService(dependencies Dependencies) (*Service, error) {
	if dependencies.Releases == nil {
		return nil, ErrReleasesClientNotConfigured
	}
	logger := dependencies.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := dependencies.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{releases: dependencies.Releases, builds: dependencies.Builds, logger: logger, clock: clock}, nil
}

// Publish publishes every enabled release kind in the order latest, numbered, tag.
func (service *Service) Publish(executionContext context.Context, options Options) (Result, error) {
	if validationError := validateOptions(options); validationError != nil {
		return Result{}, validationError
	}
	artifactDirectory := artifacts.NormalizeDirectory(options.ArtifactDirectory)
	if directoryError := artifacts.ValidateDirectory(artifactDirectory, true); directoryError != nil {
		return Result{}, directoryError
	}
	files, listError := artifacts.ListFiles(artifactDirectory)
	if listError != nil {
		return Result{}, listError
	}

	result := Result{}
	for _, kind := range tagnames.PublishKinds() {
		releaseOptions, configured := options.Releases[kind]
		if !configured || !releaseOptions.Enabled {
			continue
		}

		reason := skipReason(kind, releaseOptions, options)
		if len(reason) == 0 && kind == tagnames.PublishKindLatest {
			unfinishedReason, inspectError := service.newerUnfinishedBuild(executionContext, options)
			if inspectError != nil {
				return result, inspectError
			}
			reason = unfinishedReason
		}
		if len(reason) > 0 {
			service.logger.Info(skippedKindLogMessageConstant, zap.String(kindFieldNameConstant, string(kind)), zap.String(reasonFieldNameConstant, reason))
			result.Skipped = append(result.Skipped, SkippedKind{Kind: kind, Reason: reason})
			continue
		}

		published, superseded, publishError := service.publishKind(executionContext, kind, releaseOptions, options, files)
		if publishError != nil {
			return result, publishError
		}
		if len(superseded) > 0 {
			result.Skipped = append(result.Skipped, SkippedKind{Kind: kind, Reason: superseded})
			continue
		}
		result.Published = append(result.Published, published)

		if kind == tagnames.PublishKindNumbered {
			retiredTags, retentionError := service.applyRetention(executionContext, options, published.ReleaseID)
			result.RetiredTags = append(result.RetiredTags, retiredTags...)
			if retentionError != nil {
				return result, retentionError
			}
		}
	}
	return result, nil
}

func (service *Service) publishKind(executionContext context.Context, kind tagnames.PublishKind, releaseOptions ReleaseOptions, options Options, files []artifacts.File) (PublishedRelease, string, error) {
	inProgressTag := options.Names.InProgressTag(tagnames.InProgressPublish{Kind: kind, BuildNumber: options.BuildNumber, Branch: options.Branch})
	finalTag := options.Names.FinalTag(kind, options.Branch, options.BuildNumber, options.GitTag)

	releases, listError := service.releases.ListReleases(executionContext)
	if listError != nil {
		return PublishedRelease{}, "", fmt.Errorf(listReleasesErrorTemplateConstant, listError)
	}
	for _, release := range releases {
		if release.TagName != inProgressTag {
			continue
		}
		service.logger.Info(removingLeftoverLogMessageConstant, zap.String(tagFieldNameConstant, release.TagName), zap.Int64(releaseIDFieldNameConstant, release.ID))
		if deleteError := service.releases.DeleteRelease(executionContext, release, false); deleteError != nil {
			return PublishedRelease{}, "", fmt.Errorf(deleteReleaseErrorTemplateConstant, release.TagName, deleteError)
		}
	}
	if kind == tagnames.PublishKindLatest {
		if reason := supersedingLatestBuild(options, releases); len(reason) > 0 {
			service.logger.Warn(supersededLogMessageConstant, zap.String(reasonFieldNameConstant, reason), zap.String(tagFieldNameConstant, finalTag))
			return PublishedRelease{}, reason, nil
		}
	}

	body := resolveText(releaseOptions.Body, defaultReleaseBody(options))
	if kind == tagnames.PublishKindLatest {
		body = fmt.Sprintf(latestBuildMarkerTemplateConstant, body, options.BuildNumber)
	}
	request := githubreleases.ReleaseRequest{
		TagName:         inProgressTag,
		Name:            resolveText(releaseOptions.Name, defaultReleaseName(kind, options)),
		Body:            body,
		TargetCommitish: options.Commit,
		Draft:           true,
		Prerelease:      releaseOptions.Prerelease,
	}
	created, createError := service.releases.CreateRelease(executionContext, request)
	if createError != nil {
		return PublishedRelease{}, "", fmt.Errorf(createDraftErrorTemplateConstant, inProgressTag, createError)
	}
	service.logger.Info(createdDraftLogMessageConstant, zap.String(kindFieldNameConstant, string(kind)), zap.String(tagFieldNameConstant, inProgressTag))

	for _, file := range files {
		if _, uploadError := service.releases.UploadAsset(executionContext, created.ID, file); uploadError != nil {
			return PublishedRelease{}, "", fmt.Errorf(uploadAssetErrorTemplateConstant, file.Name, inProgressTag, uploadError)
		}
		service.logger.Debug(uploadedAssetLogMessageConstant, zap.String(assetFieldNameConstant, file.Name), zap.String(tagFieldNameConstant, inProgressTag))
	}

	releases, listError = service.releases.ListReleases(executionContext)
	if listError != nil {
		return PublishedRelease{}, "", fmt.Errorf(listReleasesErrorTemplateConstant, listError)
	}

	if kind == tagnames.PublishKindLatest {
		if reason := supersedingLatestBuild(options, releases); len(reason) > 0 {
			service.logger.Warn(supersededLogMessageConstant, zap.String(reasonFieldNameConstant, reason), zap.String(tagFieldNameConstant, inProgressTag))
			if deleteError := service.releases.DeleteRelease(executionContext, created, false); deleteError != nil {
				return PublishedRelease{}, "", fmt.Errorf(deleteReleaseErrorTemplateConstant, inProgressTag, deleteError)
			}
			return PublishedRelease{}, reason, nil
		}
	}

	for _, release := range releases {
		if release.TagName != finalTag || release.ID == created.ID {
			continue
		}
		service.logger.Info(replacingReleaseLogMessageConstant, zap.String(tagFieldNameConstant, finalTag), zap.Int64(releaseIDFieldNameConstant, release.ID))
		if deleteError := service.releases.DeleteRelease(executionContext, release, false); deleteError != nil {
			return PublishedRelease{}, "", fmt.Errorf(deleteReleaseErrorTemplateConstant, finalTag, deleteError)
		}
	}
	if kind != tagnames.PublishKindTag {
		if deleteTagError := service.releases.DeleteTag(executionContext, finalTag); deleteTagError != nil {
			return PublishedRelease{}, "", fmt.Errorf(deleteTagErrorTemplateConstant, finalTag, deleteTagError)
		}
	}

	request.TagName = finalTag
	request.Draft = releaseOptions.Draft
	finalized, finalizeError := service.releases.UpdateRelease(executionContext, created.ID, request)
	if finalizeError != nil {
		return PublishedRelease{}, "", fmt.Errorf(finalizeReleaseErrorTemplateConstant, finalTag, finalizeError)
	}
	service.logger.Info(publishedLogMessageConstant,
		zap.String(kindFieldNameConstant, string(kind)),
		zap.String(tagFieldNameConstant, finalTag),
		zap.Int(assetCountFieldNameConstant, len(files)),
		zap.Bool(draftFieldNameConstant, releaseOptions.Draft),
		zap.Bool(prereleaseFieldNameConstant, releaseOptions.Prerelease),
	)

	return PublishedRelease{Kind: kind, TagName: finalTag, ReleaseID: finalized.ID}, "", nil
}

// supersedingLatestBuild explains why a newer build owns the latest release of the branch, or returns "".
// A newer build owns it while it publishes one and after it has published one.
func supersedingLatestBuild(options Options, releases []githubreleases.Release) string {
	latestTag := options.Names.LatestTag(options.Branch)
	newestBuild := 0
	reason := ""
	for _, release := range releases {
		if release.TagName == latestTag {
			publishedBuild, marked := parseLatestBuildMarker(release.Body)
			if marked && publishedBuild > options.BuildNumber && publishedBuild > newestBuild {
				newestBuild = publishedBuild
				reason = fmt.Sprintf(skipReasonPublishedTemplateConstant, publishedBuild)
			}
			continue
		}
		publish, parsed := options.Names.ParseInProgressTag(release.TagName)
		if !parsed || publish.Kind != tagnames.PublishKindLatest || publish.Branch != options.Branch {
			continue
		}
		if publish.BuildNumber > options.BuildNumber && publish.BuildNumber > newestBuild {
			newestBuild = publish.BuildNumber
			reason = fmt.Sprintf(skipReasonSupersededTemplateConstant, publish.BuildNumber)
		}
	}
	return reason
}

var latestBuildMarkerPattern = regexp.MustCompile(`<!-- ci-release-publisher latest build (\d+) -->\s*$`)

func parseLatestBuildMarker(body string) (int, bool) {
	match := latestBuildMarkerPattern.FindStringSubmatch(body)
	if match == nil {
		return 0, false
	}
	buildNumber, parseError := strconv.Atoi(match[1])
	if parseError != nil {
		return 0, false
	}
	return buildNumber, true
}

// newerUnfinishedBuild reports a newer build of the branch that Travis-CI still runs. It will publish the latest release itself.
func (service *Service) newerUnfinishedBuild(executionContext context.Context, options Options) (string, error) {
	if service.builds == nil {
		return "", nil
	}
	unfinishedBuilds, queryError := service.builds.UnfinishedBuildNumbers(executionContext, options.RepositorySlug, options.Branch)
	if queryError != nil {
		return "", fmt.Errorf(unfinishedBuildsErrorTemplateConstant, queryError)
	}
	newestBuild := 0
	for buildNumber := range unfinishedBuilds {
		if buildNumber > options.BuildNumber && buildNumber > newestBuild {
			newestBuild = buildNumber
		}
	}
	if newestBuild == 0 {
		return "", nil
	}
	return fmt.Sprintf(skipReasonUnfinishedTemplateConstant, newestBuild), nil
}

func (service *Service) applyRetention(executionContext context.Context, options Options, publishedID int64) ([]string, error) {
	if options.Retention.KeepCount == 0 && options.Retention.KeepTime == 0 {
		return nil, nil
	}

	releases, listError := service.releases.ListReleases(executionContext)
	if listError != nil {
		return nil, fmt.Errorf(listReleasesErrorTemplateConstant, listError)
	}

	type numberedRelease struct {
		release     githubreleases.Release
		buildNumber int
	}
	numbered := make([]numberedRelease, 0)
	for _, release := range releases {
		buildNumber, parsed := options.Names.ParseNumberedTag(release.TagName, options.Branch)
		if !parsed {
			continue
		}
		numbered = append(numbered, numberedRelease{release: release, buildNumber: buildNumber})
	}
	sort.SliceStable(numbered, func(leftIndex int, rightIndex int) bool {
		return numbered[leftIndex].buildNumber > numbered[rightIndex].buildNumber
	})

	cutoff := service.clock().Add(-options.Retention.KeepTime)
	retiredTags := make([]string, 0)
	for index, candidate := range numbered {
		if candidate.release.ID == publishedID {
			continue
		}
		beyondCount := options.Retention.KeepCount > 0 && index >= options.Retention.KeepCount
		beyondTime := options.Retention.KeepTime > 0 && candidate.release.CreatedAt.Before(cutoff)
		if !beyondCount && !beyondTime {
			continue
		}
		service.logger.Info(retentionLogMessageConstant, zap.String(tagFieldNameConstant, candidate.release.TagName))
		if deleteError := service.releases.DeleteRelease(executionContext, candidate.release, true); deleteError != nil {
			return retiredTags, fmt.Errorf(deleteReleaseErrorTemplateConstant, candidate.release.TagName, deleteError)
		}
		retiredTags = append(retiredTags, candidate.release.TagName)
	}
	return retiredTags, nil
}

// Cleanup deletes in-progress publish releases of the branch left behind by builds that are no longer running.
func (service *Service) Cleanup(executionContext context.Context, options CleanupOptions) (CleanupResult, error) {
	if len(strings.TrimSpace(options.Branch)) == 0 {
		return CleanupResult{}, publisherrors.NewConfigurationError(branchRequiredMessageConstant)
	}
	if service.builds == nil {
		return CleanupResult{}, ErrBuildInspectorNotConfigured
	}

	unfinishedBuilds, queryError := service.builds.UnfinishedBuildNumbers(executionContext, options.RepositorySlug, options.Branch)
	if queryError != nil {
		return CleanupResult{}, fmt.Errorf(unfinishedBuildsErrorTemplateConstant, queryError)
	}

	releases, listError := service.releases.ListReleases(executionContext)
	if listError != nil {
		return CleanupResult{}, fmt.Errorf(listReleasesErrorTemplateConstant, listError)
	}

	result := CleanupResult{}
	for _, release := range releases {
		if !release.Draft {
			continue
		}
		publish, parsed := options.Names.ParseInProgressTag(release.TagName)
		if !parsed || publish.Branch != options.Branch {
			continue
		}
		if _, running := unfinishedBuilds[publish.BuildNumber]; running {
			continue
		}
		if deleteError := service.releases.DeleteRelease(executionContext, release, false); deleteError != nil {
			return result, fmt.Errorf(deleteReleaseErrorTemplateConstant, release.TagName, deleteError)
		}
		service.logger.Info(deletedInProgressLogMessageConstant, zap.String(tagFieldNameConstant, release.TagName))
		result.DeletedTags = append(result.DeletedTags, release.TagName)
	}
	return result, nil
}

func validateOptions(options Options) error {
	if len(strings.TrimSpace(options.Branch)) == 0 {
		return publisherrors.NewConfigurationError(branchRequiredMessageConstant)
	}
	if options.BuildNumber <= 0 {
		return publisherrors.NewConfigurationError(buildNumberRequiredMessageConstant)
	}
	if options.Retention.KeepCount < 0 {
		return publisherrors.NewConfigurationError(negativeKeepCountMessageConstant)
	}
	if options.Retention.KeepTime < 0 {
		return publisherrors.NewConfigurationError(negativeKeepTimeMessageConstant)
	}
	for _, kind := range tagnames.PublishKinds() {
		releaseOptions := options.Releases[kind]
		if !releaseOptions.Enabled || !releaseOptions.Draft {
			continue
		}
		finalTag := options.Names.FinalTag(kind, options.Branch, options.BuildNumber, options.GitTag)
		if len(finalTag) == 0 {
			continue
		}
		if _, readsAsStore := options.Names.ParseStoredDraftTag(finalTag); readsAsStore {
			return publisherrors.NewConfigurationError(draftReadsAsStoreTemplateConstant, kind, finalTag, kind)
		}
	}
	for _, releaseOptions := range options.Releases {
		if releaseOptions.Enabled {
			return nil
		}
	}
	return publisherrors.NewConfigurationError(noKindEnabledMessageConstant)
}

func skipReason(kind tagnames.PublishKind, releaseOptions ReleaseOptions, options Options) string {
	if len(releaseOptions.EventTypes) > 0 && !eventTypeAllowed(releaseOptions.EventTypes, options.EventType) {
		return fmt.Sprintf(skipReasonEventTypeTemplateConstant, options.EventType, strings.Join(releaseOptions.EventTypes, eventTypeJoinSeparatorConstant))
	}
	if kind == tagnames.PublishKindTag && len(strings.TrimSpace(options.GitTag)) == 0 {
		return skipReasonNoTagMessageConstant
	}
	return ""
}

func eventTypeAllowed(allowed []string, eventType string) bool {
	normalizedEventType := strings.ToLower(strings.TrimSpace(eventType))
	for _, candidate := range allowed {
		if strings.ToLower(strings.TrimSpace(candidate)) == normalizedEventType {
			return true
		}
	}
	return false
}

func defaultReleaseName(kind tagnames.PublishKind, options Options) string {
	switch kind {
	case tagnames.PublishKindLatest:
		return fmt.Sprintf(defaultLatestNameTemplateConstant, options.Branch)
	case tagnames.PublishKindNumbered:
		return fmt.Sprintf(defaultNumberedNameTemplateConstant, options.BuildNumber, options.Branch)
	default:
		return options.GitTag
	}
}

func defaultReleaseBody(options Options) string {
	body := fmt.Sprintf(defaultBodyTemplateConstant, options.Commit, options.BuildNumber, options.Branch)
	if len(options.BuildURL) == 0 {
		return body
	}
	return fmt.Sprintf(buildLinkTemplateConstant, body, options.BuildURL)
}

func resolveText(value string, fallback string) string {
	if len(strings.TrimSpace(value)) == 0 {
		return fallback
	}
	return value
}
