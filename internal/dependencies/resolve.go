package dependencies

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/temirov/ci-release-publisher/internal/credentials"
	"github.com/temirov/ci-release-publisher/internal/environment"
	"github.com/temirov/ci-release-publisher/internal/githubreleases"
	"github.com/temirov/ci-release-publisher/internal/publisherrors"
	"github.com/temirov/ci-release-publisher/internal/travis"
)

const (
	invalidTokenSourceTemplateConstant = "invalid GitHub token source %q: %v"
	unresolvedTokenTemplateConstant    = "unable to resolve GitHub token: %v"
)

// TokenProvider yields the GitHub token, resolving it on first use.
type TokenProvider func() (string, error)

// NewGitHubTokenProvider returns a memoized provider reading the token from the configured source.
func NewGitHubTokenProvider(executionContext context.Context, tokenSource string, environmentLookup credentials.EnvironmentLookup) TokenProvider {
	return sync.OnceValues(func() (string, error) {
		sourceConfiguration, parseError := credentials.ParseTokenSource(tokenSource)
		if parseError != nil {
			return "", publisherrors.NewConfigurationError(invalidTokenSourceTemplateConstant, tokenSource, parseError)
		}
		token, resolveError := credentials.NewTokenResolver(environmentLookup, nil).ResolveToken(executionContext, sourceConfiguration)
		if resolveError != nil {
			return "", publisherrors.NewConfigurationError(unresolvedTokenTemplateConstant, resolveError)
		}
		return token, nil
	})
}

// ResolveReleasesClient returns the provided client or constructs a go-github backed default for the repository.
func ResolveReleasesClient(existing githubreleases.Client, settings Settings, repository environment.Repository, tokenProvider TokenProvider) (githubreleases.Client, error) {
	if existing != nil {
		return existing, nil
	}

	token, tokenError := tokenProvider()
	if tokenError != nil {
		return nil, tokenError
	}

	return githubreleases.NewClient(githubreleases.Configuration{
		APIURL:     settings.GitHub.APIURL,
		Token:      token,
		Owner:      repository.Owner,
		Repository: repository.Name,
	})
}

// ResolveBuildInspector returns the provided inspector or constructs a Travis-CI API client for the configured service.
func ResolveBuildInspector(existing travis.BuildInspector, settings Settings, tokenProvider TokenProvider, logger *zap.Logger) (travis.BuildInspector, error) {
	if existing != nil {
		return existing, nil
	}

	apiURL, apiURLError := settings.TravisAPIURL()
	if apiURLError != nil {
		return nil, apiURLError
	}

	token, tokenError := tokenProvider()
	if tokenError != nil {
		return nil, tokenError
	}

	return travis.NewClient(travis.Configuration{
		APIURL:      apiURL,
		GitHubToken: token,
		Logger:      logger,
	})
}
