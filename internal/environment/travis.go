package environment

import (
	"os"
	"strconv"
	"strings"

	"github.com/temirov/ci-release-publisher/internal/publisherrors"
)

// Travis-CI environment variable names.
const (
	RepoSlugVariable    = "TRAVIS_REPO_SLUG"
	BranchVariable      = "TRAVIS_BRANCH"
	CommitVariable      = "TRAVIS_COMMIT"
	BuildNumberVariable = "TRAVIS_BUILD_NUMBER"
	BuildIDVariable     = "TRAVIS_BUILD_ID"
	JobNumberVariable   = "TRAVIS_JOB_NUMBER"
	JobIDVariable       = "TRAVIS_JOB_ID"
	TagVariable         = "TRAVIS_TAG"
	EventTypeVariable   = "TRAVIS_EVENT_TYPE"
)

const (
	requiredVariableMissingTemplateConstant = "environment variable %s is required but not set"
	numericVariableInvalidTemplateConstant  = "environment variable %s must be a positive integer, got %q"
	jobNumberInvalidTemplateConstant        = "environment variable %s must look like <build>.<job>, got %q"
	jobNumberMismatchTemplateConstant       = "environment variable %s=%q does not belong to build %d"
	repoSlugInvalidTemplateConstant         = "environment variable %s must look like <owner>/<repository>, got %q"
	jobNumberSeparatorConstant              = "."
	repoSlugSeparatorConstant               = "/"
)

// Lookup obtains an environment variable value.
type Lookup func(key string) (string, bool)

// Reader reads Travis-CI job metadata from the environment.
type Reader struct {
	lookup Lookup
}

// NewReader constructs a Reader backed by the provided lookup or the process environment.
func NewReader(lookup Lookup) Reader {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return Reader{lookup: lookup}
}

// Required returns the trimmed value of a variable or a configuration error when it is missing.
func (reader Reader) Required(name string) (string, error) {
	value, found := reader.lookup(name)
	trimmedValue := strings.TrimSpace(value)
	if !found || len(trimmedValue) == 0 {
		return "", publisherrors.NewConfigurationError(requiredVariableMissingTemplateConstant, name)
	}
	return trimmedValue, nil
}

// Optional returns the trimmed value of a variable or an empty string.
func (reader Reader) Optional(name string) string {
	value, _ := reader.lookup(name)
	return strings.TrimSpace(value)
}

// Repository identifies the GitHub repository a build belongs to.
type Repository struct {
	Owner string
	Name  string
}

// Slug renders the owner/name form.
func (repository Repository) Slug() string {
	return repository.Owner + repoSlugSeparatorConstant + repository.Name
}

// Repository reads and splits TRAVIS_REPO_SLUG.
func (reader Reader) Repository() (Repository, error) {
	slug, slugError := reader.Required(RepoSlugVariable)
	if slugError != nil {
		return Repository{}, slugError
	}
	parts := strings.Split(slug, repoSlugSeparatorConstant)
	if len(parts) != 2 || len(parts[0]) == 0 || len(parts[1]) == 0 {
		return Repository{}, publisherrors.NewConfigurationError(repoSlugInvalidTemplateConstant, RepoSlugVariable, slug)
	}
	return Repository{Owner: parts[0], Name: parts[1]}, nil
}

// Branch reads TRAVIS_BRANCH. For tag builds Travis-CI sets it to the tag name.
func (reader Reader) Branch() (string, error) {
	return reader.Required(BranchVariable)
}

// Commit reads TRAVIS_COMMIT.
func (reader Reader) Commit() (string, error) {
	return reader.Required(CommitVariable)
}

// BuildNumber reads TRAVIS_BUILD_NUMBER.
func (reader Reader) BuildNumber() (int, error) {
	return reader.requiredPositiveInteger(BuildNumberVariable)
}

// BuildID reads TRAVIS_BUILD_ID.
func (reader Reader) BuildID() (int64, error) {
	value, valueError := reader.Required(BuildIDVariable)
	if valueError != nil {
		return 0, valueError
	}
	parsedValue, parseError := strconv.ParseInt(value, 10, 64)
	if parseError != nil || parsedValue <= 0 {
		return 0, publisherrors.NewConfigurationError(numericVariableInvalidTemplateConstant, BuildIDVariable, value)
	}
	return parsedValue, nil
}

// JobID reads TRAVIS_JOB_ID.
func (reader Reader) JobID() (string, error) {
	return reader.Required(JobIDVariable)
}

// JobNumber extracts the job index from TRAVIS_JOB_NUMBER ("12.3" yields 3) and checks it belongs to buildNumber.
func (reader Reader) JobNumber(buildNumber int) (int, error) {
	value, valueError := reader.Required(JobNumberVariable)
	if valueError != nil {
		return 0, valueError
	}

	parts := strings.Split(value, jobNumberSeparatorConstant)
	if len(parts) != 2 {
		return 0, publisherrors.NewConfigurationError(jobNumberInvalidTemplateConstant, JobNumberVariable, value)
	}

	buildPart, buildParseError := strconv.Atoi(parts[0])
	jobPart, jobParseError := strconv.Atoi(parts[1])
	if buildParseError != nil || jobParseError != nil || jobPart <= 0 {
		return 0, publisherrors.NewConfigurationError(jobNumberInvalidTemplateConstant, JobNumberVariable, value)
	}
	if buildPart != buildNumber {
		return 0, publisherrors.NewConfigurationError(jobNumberMismatchTemplateConstant, JobNumberVariable, value, buildNumber)
	}
	return jobPart, nil
}

// Tag reads TRAVIS_TAG, which is empty for non-tag builds.
func (reader Reader) Tag() string {
	return reader.Optional(TagVariable)
}

// EventType reads TRAVIS_EVENT_TYPE (push, pull_request, api or cron).
func (reader Reader) EventType() string {
	return strings.ToLower(reader.Optional(EventTypeVariable))
}

func (reader Reader) requiredPositiveInteger(name string) (int, error) {
	value, valueError := reader.Required(name)
	if valueError != nil {
		return 0, valueError
	}
	parsedValue, parseError := strconv.Atoi(value)
	if parseError != nil || parsedValue <= 0 {
		return 0, publisherrors.NewConfigurationError(numericVariableInvalidTemplateConstant, name, value)
	}
	return parsedValue, nil
}
