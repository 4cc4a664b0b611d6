package githubreleases

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/temirov/ci-release-publisher/internal/artifacts"
)

const (
	operationErrorWithCauseTemplateConstant = "%s operation failed: %s"
	invalidInputErrorTemplateConstant       = "%s: %s"
	requiredValueMessageConstant            = "value required"
)

// OperationName describes a GitHub Releases API workflow supported by the client.
type OperationName string

// Operation names reported in OperationError.
const (
	ListReleasesOperation  OperationName = "ListReleases"
	CreateReleaseOperation OperationName = "CreateRelease"
	UpdateReleaseOperation OperationName = "UpdateRelease"
	DeleteReleaseOperation OperationName = "DeleteRelease"
	DeleteTagOperation     OperationName = "DeleteTag"
	UploadAssetOperation   OperationName = "UploadAsset"
	DownloadAssetOperation OperationName = "DownloadAsset"
)

// Asset is a file attached to a release.
type Asset struct {
	ID   int64
	Name string
	Size int64
}

// Release is the subset of a GitHub release the publisher relies on.
type Release struct {
	ID              int64
	TagName         string
	Name            string
	Body            string
	Draft           bool
	Prerelease      bool
	TargetCommitish string
	CreatedAt       time.Time
	Assets          []Asset
}

// ReleaseRequest holds the mutable attributes of a release.
type ReleaseRequest struct {
	TagName         string
	Name            string
	Body            string
	TargetCommitish string
	Draft           bool
	Prerelease      bool
}

// Client exposes the release operations used by the store, collect and publish workflows.
type Client interface {
	ListReleases(executionContext context.Context) ([]Release, error)
	CreateRelease(executionContext context.Context, request ReleaseRequest) (Release, error)
	UpdateRelease(executionContext context.Context, releaseID int64, request ReleaseRequest) (Release, error)
	DeleteRelease(executionContext context.Context, release Release, deleteTag bool) error
	DeleteTag(executionContext context.Context, tagName string) error
	UploadAsset(executionContext context.Context, releaseID int64, file artifacts.File) (Asset, error)
	DownloadAsset(executionContext context.Context, assetID int64, destination io.Writer) error
}

// InvalidInputError surfaces validation issues for operation inputs.
type InvalidInputError struct {
	FieldName string
	Message   string
}

// Error describes the invalid input.
func (inputError InvalidInputError) Error() string {
	return fmt.Sprintf(invalidInputErrorTemplateConstant, inputError.FieldName, inputError.Message)
}

// OperationError wraps failures returned by the GitHub API.
type OperationError struct {
	Operation OperationName
	Subject   string
	Cause     error
}

// Error describes the operation failure.
func (operationError OperationError) Error() string {
	operation := string(operationError.Operation)
	if len(operationError.Subject) > 0 {
		operation = fmt.Sprintf("%s(%s)", operationError.Operation, operationError.Subject)
	}
	return fmt.Sprintf(operationErrorWithCauseTemplateConstant, operation, operationError.Cause)
}

// Unwrap exposes the underlying cause.
func (operationError OperationError) Unwrap() error {
	return operationError.Cause
}
