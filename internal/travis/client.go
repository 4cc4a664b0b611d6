package travis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const (
	authenticationPathConstant            = "/auth/github"
	buildsPathTemplateConstant            = "/repo/%s/builds"
	jobsPathTemplateConstant              = "/build/%d/jobs"
	branchQueryParameterConstant          = "branch.name"
	stateQueryParameterConstant           = "build.state"
	limitQueryParameterConstant           = "limit"
	unfinishedBuildStatesConstant         = "created,received,started"
	pageLimitConstant                     = "100"
	apiVersionHeaderConstant              = "Travis-API-Version"
	apiVersionValueConstant               = "3"
	authorizationHeaderConstant           = "Authorization"
	authorizationTemplateConstant         = "token %s"
	userAgentHeaderConstant               = "User-Agent"
	userAgentValueConstant                = "Travis ci-release-publisher/1.0"
	contentTypeHeaderConstant             = "Content-Type"
	acceptHeaderConstant                  = "Accept"
	jsonMediaTypeConstant                 = "application/json"
	failedJobStateConstant                = "failed"
	erroredJobStateConstant               = "errored"
	responseBodyPreviewLimitConstant      = 512
	breakerNameConstant                   = "travis-api"
	breakerMaxRequestsConstant            = 3
	breakerIntervalConstant               = 10 * time.Second
	breakerTimeoutConstant                = 30 * time.Second
	breakerMinimumRequestsConstant        = 3
	breakerFailureRatioConstant           = 0.6
	githubTokenRequiredMessageConstant    = "GitHub token is required to authenticate with Travis-CI"
	apiURLRequiredMessageConstant         = "Travis-CI API URL is required"
	missingAccessTokenMessageConstant     = "Travis-CI did not return an access token"
	responseStatusTemplateConstant        = "travis api %s %s returned %d: %s"
	requestFailureTemplateConstant        = "travis api %s %s failed: %w"
	responseDecodingTemplateConstant      = "failed to decode travis api response from %s: %w"
	authenticationFailureTemplateConstant = "failed to authenticate with Travis-CI: %w"
	unexpectedResultTypeTemplateConstant  = "unexpected travis api result type %T"
	invalidBuildNumberTemplateConstant    = "travis api returned non-numeric build number %q"
	requestLogMessageConstant             = "travis api request"
	methodLogFieldConstant                = "method"
	pathLogFieldConstant                  = "path"
	statusLogFieldConstant                = "status"
)

// ErrGitHubTokenRequired indicates no GitHub token was supplied for Travis-CI authentication.
var ErrGitHubTokenRequired = errors.New(githubTokenRequiredMessageConstant)

// ErrAPIURLRequired indicates the client was constructed without an API root.
var ErrAPIURLRequired = errors.New(apiURLRequiredMessageConstant)

// ResponseError reports a non-successful Travis-CI API response.
type ResponseError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

// Error describes the failed response.
func (responseError ResponseError) Error() string {
	return fmt.Sprintf(responseStatusTemplateConstant, responseError.Method, responseError.Path, responseError.StatusCode, responseError.Body)
}

// BuildInspector answers the build-state questions cleanup commands depend on.
type BuildInspector interface {
	UnfinishedBuildNumbers(executionContext context.Context, repositorySlug string, branch string) (map[int]struct{}, error)
	HasFailedDisallowedJob(executionContext context.Context, buildID int64) (bool, error)
}

// Configuration describes how to reach a Travis-CI installation.
type Configuration struct {
	APIURL      string
	GitHubToken string
	HTTPClient  *http.Client
	Logger      *zap.Logger
}

// Client talks to the Travis-CI API v3. Every request runs behind a circuit breaker.
type Client struct {
	apiURL      string
	githubToken string
	httpClient  *http.Client
	logger      *zap.Logger
	breaker     *gobreaker.CircuitBreaker

	authenticationMutex sync.Mutex
	accessToken         string
}

var _ BuildInspector = (*Client)(nil)

type pagination struct {
	Next *struct {
		Href string `json:"@href"`
	} `json:"next"`
	IsLast bool `json:"is_last"`
}

type buildsResponse struct {
	Builds     []buildPayload `json:"builds"`
	Pagination pagination     `json:"@pagination"`
}

type buildPayload struct {
	ID     int64  `json:"id"`
	Number string `json:"number"`
	State  string `json:"state"`
}

type jobsResponse struct {
	Jobs       []jobPayload `json:"jobs"`
	Pagination pagination   `json:"@pagination"`
}

type jobPayload struct {
	Number       string `json:"number"`
	State        string `json:"state"`
	AllowFailure bool   `json:"allow_failure"`
}

type authenticationResponse struct {
	AccessToken string `json:"access_token"`
}

// NewClient constructs a Client. Authentication happens lazily on the first request.
func NewClient(configuration Configuration) (*Client, error) {
	apiURL := strings.TrimRight(strings.TrimSpace(configuration.APIURL), "/")
	if len(apiURL) == 0 {
		return nil, ErrAPIURLRequired
	}
	githubToken := strings.TrimSpace(configuration.GitHubToken)
	if len(githubToken) == 0 {
		return nil, ErrGitHubTokenRequired
	}

	httpClient := configuration.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		apiURL:      apiURL,
		githubToken: githubToken,
		httpClient:  httpClient,
		logger:      logger,
		breaker:     gobreaker.NewCircuitBreaker(newBreakerSettings()),
	}, nil
}

func newBreakerSettings() gobreaker.Settings {
	return gobreaker.Settings{
		Name:        breakerNameConstant,
		MaxRequests: breakerMaxRequestsConstant,
		Interval:    breakerIntervalConstant,
		Timeout:     breakerTimeoutConstant,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < breakerMinimumRequestsConstant {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= breakerFailureRatioConstant
		},
	}
}

// UnfinishedBuildNumbers returns the numbers of builds on branch that are created, received or started.
func (client *Client) UnfinishedBuildNumbers(executionContext context.Context, repositorySlug string, branch string) (map[int]struct{}, error) {
	query := url.Values{}
	query.Set(branchQueryParameterConstant, branch)
	query.Set(stateQueryParameterConstant, unfinishedBuildStatesConstant)
	query.Set(limitQueryParameterConstant, pageLimitConstant)
	nextPath := fmt.Sprintf(buildsPathTemplateConstant, url.PathEscape(repositorySlug)) + "?" + query.Encode()

	buildNumbers := map[int]struct{}{}
	for len(nextPath) > 0 {
		var response buildsResponse
		if requestError := client.getJSON(executionContext, nextPath, &response); requestError != nil {
			return nil, requestError
		}
		for _, build := range response.Builds {
			buildNumber, parseError := strconv.Atoi(build.Number)
			if parseError != nil {
				return nil, fmt.Errorf(invalidBuildNumberTemplateConstant, build.Number)
			}
			buildNumbers[buildNumber] = struct{}{}
		}
		nextPath = response.Pagination.nextPath()
	}
	return buildNumbers, nil
}

// HasFailedDisallowedJob reports whether any job of the build failed or errored without allow_failure.
func (client *Client) HasFailedDisallowedJob(executionContext context.Context, buildID int64) (bool, error) {
	nextPath := fmt.Sprintf(jobsPathTemplateConstant, buildID)
	for len(nextPath) > 0 {
		var response jobsResponse
		if requestError := client.getJSON(executionContext, nextPath, &response); requestError != nil {
			return false, requestError
		}
		for _, job := range response.Jobs {
			if job.AllowFailure {
				continue
			}
			if job.State == failedJobStateConstant || job.State == erroredJobStateConstant {
				return true, nil
			}
		}
		nextPath = response.Pagination.nextPath()
	}
	return false, nil
}

func (page pagination) nextPath() string {
	if page.IsLast || page.Next == nil {
		return ""
	}
	return page.Next.Href
}

func (client *Client) getJSON(executionContext context.Context, path string, target any) error {
	accessToken, authenticationError := client.authenticate(executionContext)
	if authenticationError != nil {
		return authenticationError
	}

	headers := map[string]string{authorizationHeaderConstant: fmt.Sprintf(authorizationTemplateConstant, accessToken)}
	body, requestError := client.execute(executionContext, http.MethodGet, path, nil, headers)
	if requestError != nil {
		return requestError
	}
	if decodeError := json.Unmarshal(body, target); decodeError != nil {
		return fmt.Errorf(responseDecodingTemplateConstant, path, decodeError)
	}
	return nil
}

func (client *Client) authenticate(executionContext context.Context) (string, error) {
	client.authenticationMutex.Lock()
	defer client.authenticationMutex.Unlock()

	if len(client.accessToken) > 0 {
		return client.accessToken, nil
	}

	payload, encodeError := json.Marshal(map[string]string{"github_token": client.githubToken})
	if encodeError != nil {
		return "", fmt.Errorf(authenticationFailureTemplateConstant, encodeError)
	}

	body, requestError := client.execute(executionContext, http.MethodPost, authenticationPathConstant, payload, nil)
	if requestError != nil {
		return "", fmt.Errorf(authenticationFailureTemplateConstant, requestError)
	}

	var response authenticationResponse
	if decodeError := json.Unmarshal(body, &response); decodeError != nil {
		return "", fmt.Errorf(authenticationFailureTemplateConstant, decodeError)
	}
	if len(response.AccessToken) == 0 {
		return "", fmt.Errorf(authenticationFailureTemplateConstant, errors.New(missingAccessTokenMessageConstant))
	}

	client.accessToken = response.AccessToken
	return client.accessToken, nil
}

func (client *Client) execute(executionContext context.Context, method string, path string, payload []byte, headers map[string]string) ([]byte, error) {
	result, executionError := client.breaker.Execute(func() (interface{}, error) {
		var requestBody io.Reader
		if payload != nil {
			requestBody = bytes.NewReader(payload)
		}

		request, requestError := http.NewRequestWithContext(executionContext, method, client.apiURL+path, requestBody)
		if requestError != nil {
			return nil, fmt.Errorf(requestFailureTemplateConstant, method, path, requestError)
		}
		request.Header.Set(apiVersionHeaderConstant, apiVersionValueConstant)
		request.Header.Set(userAgentHeaderConstant, userAgentValueConstant)
		request.Header.Set(acceptHeaderConstant, jsonMediaTypeConstant)
		if payload != nil {
			request.Header.Set(contentTypeHeaderConstant, jsonMediaTypeConstant)
		}
		for headerName, headerValue := range headers {
			request.Header.Set(headerName, headerValue)
		}

		response, responseError := client.httpClient.Do(request)
		if responseError != nil {
			return nil, fmt.Errorf(requestFailureTemplateConstant, method, path, responseError)
		}
		defer response.Body.Close()

		body, readError := io.ReadAll(response.Body)
		if readError != nil {
			return nil, fmt.Errorf(requestFailureTemplateConstant, method, path, readError)
		}

		client.logger.Debug(requestLogMessageConstant,
			zap.String(methodLogFieldConstant, method),
			zap.String(pathLogFieldConstant, path),
			zap.Int(statusLogFieldConstant, response.StatusCode),
		)

		if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
			preview := string(body)
			if len(preview) > responseBodyPreviewLimitConstant {
				preview = preview[:responseBodyPreviewLimitConstant]
			}
			return nil, ResponseError{Method: method, Path: path, StatusCode: response.StatusCode, Body: preview}
		}
		return body, nil
	})
	if executionError != nil {
		return nil, executionError
	}

	body, isBytes := result.([]byte)
	if !isBytes {
		return nil, fmt.Errorf(unexpectedResultTypeTemplateConstant, result)
	}
	return body, nil
}
