package githubreleases

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/go-github/v75/github"

	"github.com/temirov/ci-release-publisher/internal/artifacts"
)

// DefaultAPIURL is the public GitHub API endpoint.
const DefaultAPIURL = "https://api.github.com"

const (
	releasesPerPageConstant               = 100
	tagReferencePrefixConstant            = "tags/"
	enterpriseAPIPathSuffixConstant       = "/api/v3"
	urlPathSeparatorConstant              = "/"
	fallbackMediaTypeConstant             = "application/octet-stream"
	ownerFieldNameConstant                = "owner"
	repositoryFieldNameConstant           = "repository"
	tokenFieldNameConstant                = "token"
	tagNameFieldNameConstant              = "tag_name"
	destinationFieldNameConstant          = "destination"
	enterpriseURLErrorTemplateConstant    = "invalid GitHub API URL %q: %w"
	assetOpenErrorTemplateConstant        = "failed to open %s: %w"
	assetCopyErrorTemplateConstant        = "failed to write asset %d: %w"
	downloadRedirectErrorTemplateConstant = "unexpected redirect to %s"
)

// Configuration describes how to reach a repository's releases.
type Configuration struct {
	APIURL     string
	Token      string
	Owner      string
	Repository string
	HTTPClient *http.Client
}

// APIClient implements Client on top of go-github.
type APIClient struct {
	githubClient   *github.Client
	downloadClient *http.Client
	owner          string
	repository     string
}

// NewClient constructs an APIClient. A non-default APIURL is treated as a GitHub Enterprise endpoint.
func NewClient(configuration Configuration) (*APIClient, error) {
	owner := strings.TrimSpace(configuration.Owner)
	if len(owner) == 0 {
		return nil, InvalidInputError{FieldName: ownerFieldNameConstant, Message: requiredValueMessageConstant}
	}
	repository := strings.TrimSpace(configuration.Repository)
	if len(repository) == 0 {
		return nil, InvalidInputError{FieldName: repositoryFieldNameConstant, Message: requiredValueMessageConstant}
	}
	token := strings.TrimSpace(configuration.Token)
	if len(token) == 0 {
		return nil, InvalidInputError{FieldName: tokenFieldNameConstant, Message: requiredValueMessageConstant}
	}

	httpClient := configuration.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	githubClient := github.NewClient(httpClient).WithAuthToken(token)

	apiURL := strings.TrimRight(strings.TrimSpace(configuration.APIURL), urlPathSeparatorConstant)
	if len(apiURL) > 0 && apiURL != DefaultAPIURL {
		uploadURL := strings.TrimSuffix(apiURL, enterpriseAPIPathSuffixConstant) + urlPathSeparatorConstant
		enterpriseClient, enterpriseError := githubClient.WithEnterpriseURLs(apiURL+urlPathSeparatorConstant, uploadURL)
		if enterpriseError != nil {
			return nil, fmt.Errorf(enterpriseURLErrorTemplateConstant, apiURL, enterpriseError)
		}
		githubClient = enterpriseClient
	}

	return &APIClient{
		githubClient:   githubClient,
		downloadClient: httpClient,
		owner:          owner,
		repository:     repository,
	}, nil
}

// ListReleases returns every release of the repository, drafts included, across all pages.
func (client *APIClient) ListReleases(executionContext context.Context) ([]Release, error) {
	listOptions := &github.ListOptions{PerPage: releasesPerPageConstant}
	releases := make([]Release, 0)
	for {
		page, response, listError := client.githubClient.Repositories.ListReleases(executionContext, client.owner, client.repository, listOptions)
		if listError != nil {
			return nil, OperationError{Operation: ListReleasesOperation, Cause: listError}
		}
		for _, release := range page {
			releases = append(releases, convertRelease(release))
		}
		if response == nil || response.NextPage == 0 {
			return releases, nil
		}
		listOptions.Page = response.NextPage
	}
}

// CreateRelease creates a release.
func (client *APIClient) CreateRelease(executionContext context.Context, request ReleaseRequest) (Release, error) {
	if len(strings.TrimSpace(request.TagName)) == 0 {
		return Release{}, InvalidInputError{FieldName: tagNameFieldNameConstant, Message: requiredValueMessageConstant}
	}
	created, _, createError := client.githubClient.Repositories.CreateRelease(executionContext, client.owner, client.repository, buildRepositoryRelease(request))
	if createError != nil {
		return Release{}, OperationError{Operation: CreateReleaseOperation, Subject: request.TagName, Cause: createError}
	}
	return convertRelease(created), nil
}

// UpdateRelease replaces the mutable attributes of a release, including its tag.
func (client *APIClient) UpdateRelease(executionContext context.Context, releaseID int64, request ReleaseRequest) (Release, error) {
	if len(strings.TrimSpace(request.TagName)) == 0 {
		return Release{}, InvalidInputError{FieldName: tagNameFieldNameConstant, Message: requiredValueMessageConstant}
	}
	updated, _, updateError := client.githubClient.Repositories.EditRelease(executionContext, client.owner, client.repository, releaseID, buildRepositoryRelease(request))
	if updateError != nil {
		return Release{}, OperationError{Operation: UpdateReleaseOperation, Subject: request.TagName, Cause: updateError}
	}
	return convertRelease(updated), nil
}

// DeleteRelease deletes a release and, when requested, the git tag it points at. A missing tag is not an error.
func (client *APIClient) DeleteRelease(executionContext context.Context, release Release, deleteTag bool) error {
	_, deleteError := client.githubClient.Repositories.DeleteRelease(executionContext, client.owner, client.repository, release.ID)
	if deleteError != nil && !isMissingResource(deleteError) {
		return OperationError{Operation: DeleteReleaseOperation, Subject: release.TagName, Cause: deleteError}
	}
	if !deleteTag || len(release.TagName) == 0 {
		return nil
	}
	return client.DeleteTag(executionContext, release.TagName)
}

// DeleteTag deletes a git tag. A missing tag is not an error.
func (client *APIClient) DeleteTag(executionContext context.Context, tagName string) error {
	if len(strings.TrimSpace(tagName)) == 0 {
		return InvalidInputError{FieldName: tagNameFieldNameConstant, Message: requiredValueMessageConstant}
	}
	_, referenceError := client.githubClient.Git.DeleteRef(executionContext, client.owner, client.repository, tagReferencePrefixConstant+tagName)
	if referenceError != nil && !isMissingResource(referenceError) {
		return OperationError{Operation: DeleteTagOperation, Subject: tagName, Cause: referenceError}
	}
	return nil
}

// UploadAsset uploads a file to a release, detecting its media type from the content.
func (client *APIClient) UploadAsset(executionContext context.Context, releaseID int64, file artifacts.File) (Asset, error) {
	mediaType := fallbackMediaTypeConstant
	if detectedType, detectError := mimetype.DetectFile(file.Path); detectError == nil {
		mediaType = detectedType.String()
	}

	handle, openError := os.Open(file.Path)
	if openError != nil {
		return Asset{}, OperationError{Operation: UploadAssetOperation, Subject: file.Name, Cause: fmt.Errorf(assetOpenErrorTemplateConstant, file.Path, openError)}
	}
	defer handle.Close()

	uploaded, _, uploadError := client.githubClient.Repositories.UploadReleaseAsset(
		executionContext,
		client.owner,
		client.repository,
		releaseID,
		&github.UploadOptions{Name: file.Name, MediaType: mediaType},
		handle,
	)
	if uploadError != nil {
		return Asset{}, OperationError{Operation: UploadAssetOperation, Subject: file.Name, Cause: uploadError}
	}
	return convertAsset(uploaded), nil
}

// DownloadAsset streams the asset content into destination.
func (client *APIClient) DownloadAsset(executionContext context.Context, assetID int64, destination io.Writer) error {
	if destination == nil {
		return InvalidInputError{FieldName: destinationFieldNameConstant, Message: requiredValueMessageConstant}
	}

	content, redirectURL, downloadError := client.githubClient.Repositories.DownloadReleaseAsset(executionContext, client.owner, client.repository, assetID, client.downloadClient)
	if downloadError != nil {
		return OperationError{Operation: DownloadAssetOperation, Subject: strconv.FormatInt(assetID, 10), Cause: downloadError}
	}
	if content == nil {
		return OperationError{Operation: DownloadAssetOperation, Subject: strconv.FormatInt(assetID, 10), Cause: fmt.Errorf(downloadRedirectErrorTemplateConstant, redirectURL)}
	}
	defer content.Close()

	if _, copyError := io.Copy(destination, content); copyError != nil {
		return OperationError{Operation: DownloadAssetOperation, Subject: strconv.FormatInt(assetID, 10), Cause: fmt.Errorf(assetCopyErrorTemplateConstant, assetID, copyError)}
	}
	return nil
}

func buildRepositoryRelease(request ReleaseRequest) *github.RepositoryRelease {
	release := &github.RepositoryRelease{
		TagName:    github.Ptr(request.TagName),
		Name:       github.Ptr(request.Name),
		Body:       github.Ptr(request.Body),
		Draft:      github.Ptr(request.Draft),
		Prerelease: github.Ptr(request.Prerelease),
	}
	if len(request.TargetCommitish) > 0 {
		release.TargetCommitish = github.Ptr(request.TargetCommitish)
	}
	return release
}

func convertRelease(release *github.RepositoryRelease) Release {
	if release == nil {
		return Release{}
	}
	converted := Release{
		ID:              release.GetID(),
		TagName:         release.GetTagName(),
		Name:            release.GetName(),
		Body:            release.GetBody(),
		Draft:           release.GetDraft(),
		Prerelease:      release.GetPrerelease(),
		TargetCommitish: release.GetTargetCommitish(),
		CreatedAt:       release.GetCreatedAt().Time,
	}
	for _, asset := range release.Assets {
		converted.Assets = append(converted.Assets, convertAsset(asset))
	}
	return converted
}

func convertAsset(asset *github.ReleaseAsset) Asset {
	if asset == nil {
		return Asset{}
	}
	return Asset{ID: asset.GetID(), Name: asset.GetName(), Size: int64(asset.GetSize())}
}

func isMissingResource(err error) bool {
	var responseError *github.ErrorResponse
	if !errors.As(err, &responseError) || responseError.Response == nil {
		return false
	}
	statusCode := responseError.Response.StatusCode
	return statusCode == http.StatusNotFound || statusCode == http.StatusUnprocessableEntity
}
