package travis

import (
	"fmt"
	"strings"

	"github.com/temirov/ci-release-publisher/internal/publisherrors"
)

// Service identifies which Travis-CI installation runs the build.
type Service string

// Supported Travis-CI installations.
const (
	ServicePublic     Service = "public"
	ServicePrivate    Service = "private"
	ServiceEnterprise Service = "enterprise"
)

// API endpoints of the hosted installations.
const (
	PublicAPIURL  = "https://api.travis-ci.org"
	PrivateAPIURL = "https://api.travis-ci.com"
)

// Web roots of the hosted installations.
const (
	PublicWebURL  = "https://travis-ci.org"
	PrivateWebURL = "https://travis-ci.com"
)

const (
	enterpriseAPIPathConstant            = "/api"
	enterpriseURLRequiredMessageConstant = "--travis-enterprise requires the URL of the Travis-CI Enterprise installation"
	unsupportedServiceTemplateConstant   = "unsupported Travis-CI service %q"
	conflictingServicesMessageConstant   = "use at most one of --travis-public, --travis-private or --travis-enterprise"
	urlTrailingSeparatorConstant         = "/"
	buildPageTemplateConstant            = "%s/%s/builds/%d"
	jobPageTemplateConstant              = "%s/%s/jobs/%s"
)

// Selection captures the Travis-CI service chosen on the command line or in configuration.
type Selection struct {
	Public        bool
	Private       bool
	EnterpriseURL string
}

// Resolve converts the selection into a Service, defaulting to the public installation.
func (selection Selection) Resolve() (Service, string, error) {
	enterpriseURL := strings.TrimSpace(selection.EnterpriseURL)
	selectedCount := 0
	for _, selected := range []bool{selection.Public, selection.Private, len(enterpriseURL) > 0} {
		if selected {
			selectedCount++
		}
	}
	if selectedCount > 1 {
		return "", "", publisherrors.NewConfigurationError(conflictingServicesMessageConstant)
	}

	switch {
	case selection.Private:
		return ServicePrivate, "", nil
	case len(enterpriseURL) > 0:
		return ServiceEnterprise, enterpriseURL, nil
	default:
		return ServicePublic, "", nil
	}
}

// ResolveAPIURL returns the API root of the selected installation.
func ResolveAPIURL(service Service, enterpriseURL string) (string, error) {
	switch service {
	case ServicePublic, "":
		return PublicAPIURL, nil
	case ServicePrivate:
		return PrivateAPIURL, nil
	case ServiceEnterprise:
		webURL, webURLError := enterpriseWebURL(enterpriseURL)
		if webURLError != nil {
			return "", webURLError
		}
		return webURL + enterpriseAPIPathConstant, nil
	default:
		return "", publisherrors.NewConfigurationError(unsupportedServiceTemplateConstant, service)
	}
}

// ResolveWebURL returns the root of the web interface of the selected installation.
func ResolveWebURL(service Service, enterpriseURL string) (string, error) {
	switch service {
	case ServicePublic, "":
		return PublicWebURL, nil
	case ServicePrivate:
		return PrivateWebURL, nil
	case ServiceEnterprise:
		return enterpriseWebURL(enterpriseURL)
	default:
		return "", publisherrors.NewConfigurationError(unsupportedServiceTemplateConstant, service)
	}
}

// BuildURL links the page of a build. It returns an empty string when any part is unknown.
func BuildURL(webURL string, repositorySlug string, buildID int64) string {
	if len(webURL) == 0 || len(repositorySlug) == 0 || buildID <= 0 {
		return ""
	}
	return fmt.Sprintf(buildPageTemplateConstant, webURL, repositorySlug, buildID)
}

// JobURL links the page of a job. It returns an empty string when any part is unknown.
func JobURL(webURL string, repositorySlug string, jobID string) string {
	if len(webURL) == 0 || len(repositorySlug) == 0 || len(jobID) == 0 {
		return ""
	}
	return fmt.Sprintf(jobPageTemplateConstant, webURL, repositorySlug, jobID)
}

func enterpriseWebURL(enterpriseURL string) (string, error) {
	trimmedURL := strings.TrimRight(strings.TrimSpace(enterpriseURL), urlTrailingSeparatorConstant)
	if len(trimmedURL) == 0 {
		return "", publisherrors.NewConfigurationError(enterpriseURLRequiredMessageConstant)
	}
	return trimmedURL, nil
}
