package drafts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/temirov/ci-release-publisher/internal/artifacts"
	"github.com/temirov/ci-release-publisher/internal/githubreleases"
	"github.com/temirov/ci-release-publisher/internal/publisherrors"
	"github.com/temirov/ci-release-publisher/internal/tagnames"
	"github.com/temirov/ci-release-publisher/internal/travis"
)

const (
	releasesClientMissingMessageConstant  = "github releases client not configured"
	buildInspectorMissingMessageConstant  = "travis build inspector not configured"
	duplicateAssetMessageConstant         = "artifact produced by more than one job"
	branchRequiredMessageConstant         = "branch must be provided"
	scopesRequiredMessageConstant         = "at least one --scope must be selected"
	completenessRequiredMessageConstant   = "at least one --release kind must be selected"
	buildNumberRequiredMessageConstant    = "build number must be positive"
	jobNumberRequiredMessageConstant      = "job number must be positive"
	defaultStoreNameTemplateConstant      = "Temporary artifacts of build %d job %d"
	defaultStoreBodyTemplateConstant      = "Artifacts stored by build %d job %d on branch %s at commit %s. This draft is removed by cleanup_store."
	jobLinkTemplateConstant               = "%s\n\nTravis-CI job: %s"
	listReleasesErrorTemplateConstant     = "failed to list releases: %w"
	deleteReleaseErrorTemplateConstant    = "failed to delete release %s: %w"
	createDraftErrorTemplateConstant      = "failed to create draft release %s: %w"
	uploadAssetErrorTemplateConstant      = "failed to upload %s to %s: %w"
	finalizeDraftErrorTemplateConstant    = "failed to finalize draft release %s: %w"
	duplicateAssetErrorTemplateConstant   = "%w: %s is attached to both %s and %s"
	downloadAssetErrorTemplateConstant    = "failed to download %s from %s: %w"
	closeAssetErrorTemplateConstant       = "failed to close %s: %w"
	unfinishedBuildsErrorTemplateConstant = "failed to query unfinished builds: %w"
	failedJobsErrorTemplateConstant       = "failed to inspect jobs of build %d: %w"
	defaultDownloadConcurrencyConstant    = 4
	removingStaleDraftLogMessageConstant  = "Removing stale store draft"
	createdDraftLogMessageConstant        = "Created incomplete store draft"
	uploadedAssetLogMessageConstant       = "Uploaded artifact"
	storedDraftLogMessageConstant         = "Stored artifacts"
	incompleteDraftLogMessageConstant     = "Ignoring incomplete store draft; the job that created it did not finish storing its artifacts"
	noDraftsLogMessageConstant            = "No complete store drafts found for the build"
	downloadedAssetLogMessageConstant     = "Downloaded artifact"
	cleanupSkippedLogMessageConstant      = "Skipping cleanup; the build has no failed jobs that are not allowed to fail"
	deletedDraftLogMessageConstant        = "Deleted store draft"
	tagFieldNameConstant                  = "tag"
	releaseIDFieldNameConstant            = "release_id"
	assetFieldNameConstant                = "asset"
	assetCountFieldNameConstant           = "asset_count"
	buildNumberFieldNameConstant          = "build_number"
	buildIDFieldNameConstant              = "build_id"
	branchFieldNameConstant               = "branch"
	destinationFieldNameConstant          = "destination"
	removedPartialLogMessageConstant      = "Removed artifact downloaded before collect failed"
	removePartialFailedLogMessageConstant = "Failed to remove artifact downloaded before collect failed"
)

// ErrReleasesClientNotConfigured indicates the GitHub releases dependency was missing.
var ErrReleasesClientNotConfigured = errors.New(releasesClientMissingMessageConstant)

// ErrBuildInspectorNotConfigured indicates cleanup needed Travis-CI but no inspector was supplied.
var ErrBuildInspectorNotConfigured = errors.New(buildInspectorMissingMessageConstant)

// ErrDuplicateAsset indicates two jobs of the same build stored an artifact with the same name.
var ErrDuplicateAsset = errors.New(duplicateAssetMessageConstant)

// CleanupScope selects which store drafts cleanup_store considers.
type CleanupScope string

// Supported cleanup scopes.
const (
	CleanupScopeCurrentJob             CleanupScope = "current-job"
	CleanupScopeCurrentBuild           CleanupScope = "current-build"
	CleanupScopePreviousFinishedBuilds CleanupScope = "previous-finished-builds"
)

// ReleaseCompleteness selects complete or incomplete store drafts.
type ReleaseCompleteness string

// Supported completeness filters.
const (
	ReleaseComplete   ReleaseCompleteness = "complete"
	ReleaseIncomplete ReleaseCompleteness = "incomplete"
)

// Dependencies enumerates external collaborators required by the drafts service.
type Dependencies struct {
	Releases githubreleases.Client
	Builds   travis.BuildInspector
	Logger   *zap.Logger
}

// Job identifies the CI job a command runs in.
type Job struct {
	Branch      string
	Commit      string
	BuildNumber int
	JobNumber   int
}

// StoreOptions configures a store run.
type StoreOptions struct {
	ArtifactDirectory string
	Names             tagnames.Names
	Job               Job
	ReleaseName       string
	ReleaseBody       string
	JobURL            string
}

// StoreResult captures the outcome of a store run.
type StoreResult struct {
	TagName    string
	ReleaseID  int64
	AssetNames []string
}

// CollectOptions configures a collect run.
type CollectOptions struct {
	ArtifactDirectory string
	Names             tagnames.Names
	Branch            string
	BuildNumber       int
	Concurrency       int
}

// CollectResult captures the outcome of a collect run.
type CollectResult struct {
	Files          []string
	SourceTags     []string
	IncompleteTags []string
}

// CleanupOptions configures a cleanup_store run.
type CleanupOptions struct {
	Names                   tagnames.Names
	RepositorySlug          string
	Branch                  string
	BuildNumber             int
	JobNumber               int
	BuildID                 int64
	Scopes                  []CleanupScope
	Completeness            []ReleaseCompleteness
	OnlyOnNonAllowedFailure bool
}

// CleanupResult captures the outcome of a cleanup_store run.
type CleanupResult struct {
	DeletedTags []string
	Skipped     bool
}

// Service stores, collects and cleans up the draft releases jobs use to exchange artifacts.
type Service struct {
	releases githubreleases.Client
	builds   travis.BuildInspector
	logger   *zap.Logger
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
	return &Service{releases: dependencies.Releases, builds: dependencies.Builds, logger: logger}, nil
}

// Store uploads every artifact of the job into a draft release and marks it complete once all uploads succeed.
func (service *Service) Store(executionContext context.Context, options StoreOptions) (StoreResult, error) {
	if validationError := validateJob(options.Job); validationError != nil {
		return StoreResult{}, validationError
	}
	artifactDirectory := artifacts.NormalizeDirectory(options.ArtifactDirectory)
	if directoryError := artifacts.ValidateDirectory(artifactDirectory, true); directoryError != nil {
		return StoreResult{}, directoryError
	}
	files, listError := artifacts.ListFiles(artifactDirectory)
	if listError != nil {
		return StoreResult{}, listError
	}

	draft := tagnames.StoredDraft{BuildNumber: options.Job.BuildNumber, JobNumber: options.Job.JobNumber, Branch: options.Job.Branch}
	incompleteTag := options.Names.StoredDraftTag(draft)
	draft.Complete = true
	completeTag := options.Names.StoredDraftTag(draft)

	releases, listReleasesError := service.releases.ListReleases(executionContext)
	if listReleasesError != nil {
		return StoreResult{}, fmt.Errorf(listReleasesErrorTemplateConstant, listReleasesError)
	}
	for _, release := range releases {
		if release.TagName != incompleteTag && release.TagName != completeTag {
			continue
		}
		service.logger.Info(removingStaleDraftLogMessageConstant, zap.String(tagFieldNameConstant, release.TagName), zap.Int64(releaseIDFieldNameConstant, release.ID))
		if deleteError := service.releases.DeleteRelease(executionContext, release, false); deleteError != nil {
			return StoreResult{}, fmt.Errorf(deleteReleaseErrorTemplateConstant, release.TagName, deleteError)
		}
	}

	request := githubreleases.ReleaseRequest{
		TagName:         incompleteTag,
		Name:            resolveText(options.ReleaseName, fmt.Sprintf(defaultStoreNameTemplateConstant, options.Job.BuildNumber, options.Job.JobNumber)),
		Body:            resolveText(options.ReleaseBody, defaultStoreBody(options)),
		TargetCommitish: options.Job.Commit,
		Draft:           true,
	}
	created, createError := service.releases.CreateRelease(executionContext, request)
	if createError != nil {
		return StoreResult{}, fmt.Errorf(createDraftErrorTemplateConstant, incompleteTag, createError)
	}
	service.logger.Info(createdDraftLogMessageConstant, zap.String(tagFieldNameConstant, incompleteTag), zap.Int64(releaseIDFieldNameConstant, created.ID))

	assetNames := make([]string, 0, len(files))
	for _, file := range files {
		if _, uploadError := service.releases.UploadAsset(executionContext, created.ID, file); uploadError != nil {
			return StoreResult{}, fmt.Errorf(uploadAssetErrorTemplateConstant, file.Name, incompleteTag, uploadError)
		}
		service.logger.Debug(uploadedAssetLogMessageConstant, zap.String(assetFieldNameConstant, file.Name), zap.String(tagFieldNameConstant, incompleteTag))
		assetNames = append(assetNames, file.Name)
	}

	request.TagName = completeTag
	finalized, finalizeError := service.releases.UpdateRelease(executionContext, created.ID, request)
	if finalizeError != nil {
		return StoreResult{}, fmt.Errorf(finalizeDraftErrorTemplateConstant, completeTag, finalizeError)
	}
	service.logger.Info(storedDraftLogMessageConstant, zap.String(tagFieldNameConstant, completeTag), zap.Int(assetCountFieldNameConstant, len(assetNames)))

	return StoreResult{TagName: completeTag, ReleaseID: finalized.ID, AssetNames: assetNames}, nil
}

type pendingDownload struct {
	asset     githubreleases.Asset
	sourceTag string
}

// Collect downloads the artifacts of every complete store draft of the build into the artifact directory.
func (service *Service) Collect(executionContext context.Context, options CollectOptions) (CollectResult, error) {
	if len(strings.TrimSpace(options.Branch)) == 0 {
		return CollectResult{}, publisherrors.NewConfigurationError(branchRequiredMessageConstant)
	}
	if options.BuildNumber <= 0 {
		return CollectResult{}, publisherrors.NewConfigurationError(buildNumberRequiredMessageConstant)
	}
	artifactDirectory := artifacts.NormalizeDirectory(options.ArtifactDirectory)
	if directoryError := artifacts.ValidateDirectory(artifactDirectory, false); directoryError != nil {
		return CollectResult{}, directoryError
	}

	releases, listError := service.releases.ListReleases(executionContext)
	if listError != nil {
		return CollectResult{}, fmt.Errorf(listReleasesErrorTemplateConstant, listError)
	}

	type storedRelease struct {
		release githubreleases.Release
		draft   tagnames.StoredDraft
	}
	completeReleases := make([]storedRelease, 0)
	result := CollectResult{}
	for _, release := range releases {
		if !release.Draft {
			continue
		}
		draft, parsed := options.Names.ParseStoredDraftTag(release.TagName)
		if !parsed || draft.Branch != options.Branch || draft.BuildNumber != options.BuildNumber {
			continue
		}
		if !draft.Complete {
			service.logger.Warn(incompleteDraftLogMessageConstant, zap.String(tagFieldNameConstant, release.TagName))
			result.IncompleteTags = append(result.IncompleteTags, release.TagName)
			continue
		}
		completeReleases = append(completeReleases, storedRelease{release: release, draft: draft})
	}
	sort.Slice(completeReleases, func(leftIndex int, rightIndex int) bool {
		return completeReleases[leftIndex].draft.JobNumber < completeReleases[rightIndex].draft.JobNumber
	})

	if len(completeReleases) == 0 {
		service.logger.Warn(noDraftsLogMessageConstant, zap.String(branchFieldNameConstant, options.Branch), zap.Int(buildNumberFieldNameConstant, options.BuildNumber))
		return result, nil
	}

	sourceByAsset := map[string]string{}
	downloads := make([]pendingDownload, 0)
	for _, stored := range completeReleases {
		result.SourceTags = append(result.SourceTags, stored.release.TagName)
		for _, asset := range stored.release.Assets {
			if existingTag, duplicate := sourceByAsset[asset.Name]; duplicate {
				return CollectResult{}, fmt.Errorf(duplicateAssetErrorTemplateConstant, ErrDuplicateAsset, asset.Name, existingTag, stored.release.TagName)
			}
			sourceByAsset[asset.Name] = stored.release.TagName
			downloads = append(downloads, pendingDownload{asset: asset, sourceTag: stored.release.TagName})
		}
	}

	concurrency := options.Concurrency
	if concurrency <= 0 {
		concurrency = defaultDownloadConcurrencyConstant
	}
	var writtenMutex sync.Mutex
	writtenPaths := make([]string, 0, len(downloads))
	downloadGroup, groupContext := errgroup.WithContext(executionContext)
	downloadGroup.SetLimit(concurrency)
	for _, download := range downloads {
		downloadGroup.Go(func() error {
			destinationPath, downloadError := service.downloadAsset(groupContext, artifactDirectory, download)
			if downloadError != nil {
				return downloadError
			}
			writtenMutex.Lock()
			writtenPaths = append(writtenPaths, destinationPath)
			writtenMutex.Unlock()
			return nil
		})
	}
	if waitError := downloadGroup.Wait(); waitError != nil {
		service.removeDownloaded(writtenPaths)
		return CollectResult{}, waitError
	}

	for _, download := range downloads {
		result.Files = append(result.Files, download.asset.Name)
	}
	sort.Strings(result.Files)
	return result, nil
}

func (service *Service) downloadAsset(executionContext context.Context, directory string, download pendingDownload) (string, error) {
	destination, createError := artifacts.CreateDestination(directory, download.asset.Name)
	if createError != nil {
		return "", createError
	}
	destinationPath := filepath.Join(directory, download.asset.Name)

	downloadError := service.releases.DownloadAsset(executionContext, download.asset.ID, destination)
	closeError := destination.Close()
	if downloadError != nil {
		_ = os.Remove(destinationPath)
		return "", fmt.Errorf(downloadAssetErrorTemplateConstant, download.asset.Name, download.sourceTag, downloadError)
	}
	if closeError != nil {
		_ = os.Remove(destinationPath)
		return "", fmt.Errorf(closeAssetErrorTemplateConstant, destinationPath, closeError)
	}

	service.logger.Debug(downloadedAssetLogMessageConstant, zap.String(assetFieldNameConstant, download.asset.Name), zap.String(destinationFieldNameConstant, destinationPath))
	return destinationPath, nil
}

// removeDownloaded deletes the files a failed collect run wrote so the run can be repeated.
func (service *Service) removeDownloaded(paths []string) {
	for _, path := range paths {
		if removeError := os.Remove(path); removeError != nil {
			service.logger.Warn(removePartialFailedLogMessageConstant, zap.String(destinationFieldNameConstant, path), zap.Error(removeError))
			continue
		}
		service.logger.Debug(removedPartialLogMessageConstant, zap.String(destinationFieldNameConstant, path))
	}
}

func defaultStoreBody(options StoreOptions) string {
	body := fmt.Sprintf(defaultStoreBodyTemplateConstant, options.Job.BuildNumber, options.Job.JobNumber, options.Job.Branch, options.Job.Commit)
	if len(options.JobURL) == 0 {
		return body
	}
	return fmt.Sprintf(jobLinkTemplateConstant, body, options.JobURL)
}

// Cleanup deletes store drafts of the branch that match the selected scopes and completeness.
func (service *Service) Cleanup(executionContext context.Context, options CleanupOptions) (CleanupResult, error) {
	if len(options.Scopes) == 0 {
		return CleanupResult{}, publisherrors.NewConfigurationError(scopesRequiredMessageConstant)
	}
	if len(options.Completeness) == 0 {
		return CleanupResult{}, publisherrors.NewConfigurationError(completenessRequiredMessageConstant)
	}
	if len(strings.TrimSpace(options.Branch)) == 0 {
		return CleanupResult{}, publisherrors.NewConfigurationError(branchRequiredMessageConstant)
	}
	if options.BuildNumber <= 0 {
		return CleanupResult{}, publisherrors.NewConfigurationError(buildNumberRequiredMessageConstant)
	}
	if containsScope(options.Scopes, CleanupScopeCurrentJob) && options.JobNumber <= 0 {
		return CleanupResult{}, publisherrors.NewConfigurationError(jobNumberRequiredMessageConstant)
	}

	if options.OnlyOnNonAllowedFailure {
		if service.builds == nil {
			return CleanupResult{}, ErrBuildInspectorNotConfigured
		}
		failed, inspectError := service.builds.HasFailedDisallowedJob(executionContext, options.BuildID)
		if inspectError != nil {
			return CleanupResult{}, fmt.Errorf(failedJobsErrorTemplateConstant, options.BuildNumber, inspectError)
		}
		if !failed {
			service.logger.Info(cleanupSkippedLogMessageConstant, zap.Int64(buildIDFieldNameConstant, options.BuildID))
			return CleanupResult{Skipped: true}, nil
		}
	}

	var unfinishedBuilds map[int]struct{}
	if containsScope(options.Scopes, CleanupScopePreviousFinishedBuilds) {
		if service.builds == nil {
			return CleanupResult{}, ErrBuildInspectorNotConfigured
		}
		queriedBuilds, queryError := service.builds.UnfinishedBuildNumbers(executionContext, options.RepositorySlug, options.Branch)
		if queryError != nil {
			return CleanupResult{}, fmt.Errorf(unfinishedBuildsErrorTemplateConstant, queryError)
		}
		unfinishedBuilds = queriedBuilds
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
		draft, parsed := options.Names.ParseStoredDraftTag(release.TagName)
		if !parsed || draft.Branch != options.Branch {
			continue
		}
		if !completenessSelected(options.Completeness, draft.Complete) {
			continue
		}
		if !draftInScope(draft, options, unfinishedBuilds) {
			continue
		}

		if deleteError := service.releases.DeleteRelease(executionContext, release, false); deleteError != nil {
			return result, fmt.Errorf(deleteReleaseErrorTemplateConstant, release.TagName, deleteError)
		}
		service.logger.Info(deletedDraftLogMessageConstant, zap.String(tagFieldNameConstant, release.TagName))
		result.DeletedTags = append(result.DeletedTags, release.TagName)
	}
	return result, nil
}

func draftInScope(draft tagnames.StoredDraft, options CleanupOptions, unfinishedBuilds map[int]struct{}) bool {
	for _, scope := range options.Scopes {
		switch scope {
		case CleanupScopeCurrentJob:
			if draft.BuildNumber == options.BuildNumber && draft.JobNumber == options.JobNumber {
				return true
			}
		case CleanupScopeCurrentBuild:
			if draft.BuildNumber == options.BuildNumber {
				return true
			}
		case CleanupScopePreviousFinishedBuilds:
			if draft.BuildNumber >= options.BuildNumber {
				continue
			}
			if _, running := unfinishedBuilds[draft.BuildNumber]; !running {
				return true
			}
		}
	}
	return false
}

func completenessSelected(selected []ReleaseCompleteness, complete bool) bool {
	wanted := ReleaseIncomplete
	if complete {
		wanted = ReleaseComplete
	}
	for _, completeness := range selected {
		if completeness == wanted {
			return true
		}
	}
	return false
}

func containsScope(scopes []CleanupScope, wanted CleanupScope) bool {
	for _, scope := range scopes {
		if scope == wanted {
			return true
		}
	}
	return false
}

func validateJob(job Job) error {
	if len(strings.TrimSpace(job.Branch)) == 0 {
		return publisherrors.NewConfigurationError(branchRequiredMessageConstant)
	}
	if job.BuildNumber <= 0 {
		return publisherrors.NewConfigurationError(buildNumberRequiredMessageConstant)
	}
	if job.JobNumber <= 0 {
		return publisherrors.NewConfigurationError(jobNumberRequiredMessageConstant)
	}
	return nil
}

func resolveText(value string, fallback string) string {
	if len(strings.TrimSpace(value)) == 0 {
		return fallback
	}
	return value
}
