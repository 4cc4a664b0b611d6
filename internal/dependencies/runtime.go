package dependencies

import (
	"context"

	"github.com/temirov/ci-release-publisher/internal/credentials"
	"github.com/temirov/ci-release-publisher/internal/environment"
	"github.com/temirov/ci-release-publisher/internal/tagnames"
)

// Runtime bundles what every command resolves before touching any API.
type Runtime struct {
	Settings      Settings
	Names         tagnames.Names
	Environment   environment.Reader
	Repository    environment.Repository
	TokenProvider TokenProvider
}

// NewRuntime validates the shared settings and reads the repository of the running build.
func NewRuntime(executionContext context.Context, settings Settings, environmentLookup environment.Lookup) (Runtime, error) {
	sanitizedSettings := settings.Sanitize()

	names, namesError := sanitizedSettings.TagNames()
	if namesError != nil {
		return Runtime{}, namesError
	}

	environmentReader := environment.NewReader(environmentLookup)
	repository, repositoryError := environmentReader.Repository()
	if repositoryError != nil {
		return Runtime{}, repositoryError
	}

	var credentialsLookup credentials.EnvironmentLookup
	if environmentLookup != nil {
		credentialsLookup = credentials.EnvironmentLookup(environmentLookup)
	}

	return Runtime{
		Settings:      sanitizedSettings,
		Names:         names,
		Environment:   environmentReader,
		Repository:    repository,
		TokenProvider: NewGitHubTokenProvider(executionContext, sanitizedSettings.GitHub.TokenSource, credentialsLookup),
	}, nil
}
