// Package githubreleasestest provides an in-memory githubreleases.Client for tests.
package githubreleasestest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/temirov/ci-release-publisher/internal/artifacts"
	"github.com/temirov/ci-release-publisher/internal/githubreleases"
)

var (
	// ErrReleaseNotFound is returned for unknown release identifiers.
	ErrReleaseNotFound = errors.New("release not found")

	// ErrAssetNotFound is returned for unknown asset identifiers.
	ErrAssetNotFound = errors.New("asset not found")

	// ErrTagInUse mirrors GitHub rejecting two releases with the same tag.
	ErrTagInUse = errors.New("tag already used by another release")
)

// Call records one mutating call against the fake.
type Call struct {
	Operation githubreleases.OperationName
	TagName   string
}

// Client is a concurrency-safe in-memory release store.
type Client struct {
	mutex         sync.Mutex
	nextID        int64
	clock         time.Time
	releases      map[int64]*githubreleases.Release
	assetContents map[int64][]byte
	gitTags       map[string]struct{}
	calls         []Call

	// UploadError, when set, is returned by UploadAsset instead of storing the file.
	UploadError error

	// DownloadErrors maps asset IDs to errors DownloadAsset returns instead of writing content.
	DownloadErrors map[int64]error

	// BeforeUpdate runs before UpdateRelease mutates state, outside the lock.
	BeforeUpdate func(releaseID int64, request githubreleases.ReleaseRequest)
}

var _ githubreleases.Client = (*Client)(nil)

// NewClient constructs an empty fake whose clock starts at start.
func NewClient(start time.Time) *Client {
	return &Client{
		clock:         start,
		releases:      map[int64]*githubreleases.Release{},
		assetContents: map[int64][]byte{},
		gitTags:       map[string]struct{}{},
	}
}

// AddRelease seeds a release with in-memory assets and returns it.
func (client *Client) AddRelease(request githubreleases.ReleaseRequest, createdAt time.Time, assets map[string]string) githubreleases.Release {
	client.mutex.Lock()
	defer client.mutex.Unlock()

	release := client.insertRelease(request, createdAt)
	names := make([]string, 0, len(assets))
	for name := range assets {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		client.insertAsset(release, name, []byte(assets[name]))
	}
	return cloneRelease(release)
}

// AddGitTag records an existing git tag.
func (client *Client) AddGitTag(tagName string) {
	client.mutex.Lock()
	defer client.mutex.Unlock()
	client.gitTags[tagName] = struct{}{}
}

// HasGitTag reports whether the git tag exists.
func (client *Client) HasGitTag(tagName string) bool {
	client.mutex.Lock()
	defer client.mutex.Unlock()
	_, exists := client.gitTags[tagName]
	return exists
}

// ReleaseByTag returns the release carrying tagName.
func (client *Client) ReleaseByTag(tagName string) (githubreleases.Release, bool) {
	client.mutex.Lock()
	defer client.mutex.Unlock()
	for _, release := range client.releases {
		if release.TagName == tagName {
			return cloneRelease(release), true
		}
	}
	return githubreleases.Release{}, false
}

// Tags returns the sorted tag names of every release.
func (client *Client) Tags() []string {
	client.mutex.Lock()
	defer client.mutex.Unlock()
	tags := make([]string, 0, len(client.releases))
	for _, release := range client.releases {
		tags = append(tags, release.TagName)
	}
	sort.Strings(tags)
	return tags
}

// AssetContent returns the stored bytes of an asset of the release carrying tagName.
func (client *Client) AssetContent(tagName string, assetName string) (string, bool) {
	client.mutex.Lock()
	defer client.mutex.Unlock()
	for _, release := range client.releases {
		if release.TagName != tagName {
			continue
		}
		for _, asset := range release.Assets {
			if asset.Name == assetName {
				return string(client.assetContents[asset.ID]), true
			}
		}
	}
	return "", false
}

// Calls returns the recorded mutating calls.
func (client *Client) Calls() []Call {
	client.mutex.Lock()
	defer client.mutex.Unlock()
	return append([]Call(nil), client.calls...)
}

// ListReleases returns releases newest first.
func (client *Client) ListReleases(_ context.Context) ([]githubreleases.Release, error) {
	client.mutex.Lock()
	defer client.mutex.Unlock()

	releases := make([]githubreleases.Release, 0, len(client.releases))
	for _, release := range client.releases {
		releases = append(releases, cloneRelease(release))
	}
	sort.Slice(releases, func(leftIndex int, rightIndex int) bool {
		if releases[leftIndex].CreatedAt.Equal(releases[rightIndex].CreatedAt) {
			return releases[leftIndex].ID > releases[rightIndex].ID
		}
		return releases[leftIndex].CreatedAt.After(releases[rightIndex].CreatedAt)
	})
	return releases, nil
}

// CreateRelease stores a new release stamped with the fake clock.
func (client *Client) CreateRelease(_ context.Context, request githubreleases.ReleaseRequest) (githubreleases.Release, error) {
	client.mutex.Lock()
	defer client.mutex.Unlock()

	client.calls = append(client.calls, Call{Operation: githubreleases.CreateReleaseOperation, TagName: request.TagName})
	if client.tagUsed(request.TagName, 0) {
		return githubreleases.Release{}, fmt.Errorf("%w: %s", ErrTagInUse, request.TagName)
	}
	client.clock = client.clock.Add(time.Second)
	release := client.insertRelease(request, client.clock)
	return cloneRelease(release), nil
}

// UpdateRelease replaces release attributes. Publishing a release creates its git tag.
func (client *Client) UpdateRelease(_ context.Context, releaseID int64, request githubreleases.ReleaseRequest) (githubreleases.Release, error) {
	if client.BeforeUpdate != nil {
		client.BeforeUpdate(releaseID, request)
	}

	client.mutex.Lock()
	defer client.mutex.Unlock()

	client.calls = append(client.calls, Call{Operation: githubreleases.UpdateReleaseOperation, TagName: request.TagName})
	release, exists := client.releases[releaseID]
	if !exists {
		return githubreleases.Release{}, ErrReleaseNotFound
	}
	if client.tagUsed(request.TagName, releaseID) {
		return githubreleases.Release{}, fmt.Errorf("%w: %s", ErrTagInUse, request.TagName)
	}

	release.TagName = request.TagName
	release.Name = request.Name
	release.Body = request.Body
	release.Draft = request.Draft
	release.Prerelease = request.Prerelease
	if len(request.TargetCommitish) > 0 {
		release.TargetCommitish = request.TargetCommitish
	}
	if !release.Draft {
		client.gitTags[release.TagName] = struct{}{}
	}
	return cloneRelease(release), nil
}

// DeleteRelease removes a release and optionally its git tag.
func (client *Client) DeleteRelease(_ context.Context, release githubreleases.Release, deleteTag bool) error {
	client.mutex.Lock()
	defer client.mutex.Unlock()

	client.calls = append(client.calls, Call{Operation: githubreleases.DeleteReleaseOperation, TagName: release.TagName})
	if stored, exists := client.releases[release.ID]; exists {
		for _, asset := range stored.Assets {
			delete(client.assetContents, asset.ID)
		}
		delete(client.releases, release.ID)
	}
	if deleteTag {
		delete(client.gitTags, release.TagName)
	}
	return nil
}

// DeleteTag removes a git tag.
func (client *Client) DeleteTag(_ context.Context, tagName string) error {
	client.mutex.Lock()
	defer client.mutex.Unlock()

	client.calls = append(client.calls, Call{Operation: githubreleases.DeleteTagOperation, TagName: tagName})
	delete(client.gitTags, tagName)
	return nil
}

// UploadAsset reads the file from disk and attaches it to the release.
func (client *Client) UploadAsset(_ context.Context, releaseID int64, file artifacts.File) (githubreleases.Asset, error) {
	content, readError := os.ReadFile(file.Path)
	if readError != nil {
		return githubreleases.Asset{}, readError
	}

	client.mutex.Lock()
	defer client.mutex.Unlock()

	client.calls = append(client.calls, Call{Operation: githubreleases.UploadAssetOperation, TagName: file.Name})
	if client.UploadError != nil {
		return githubreleases.Asset{}, client.UploadError
	}
	release, exists := client.releases[releaseID]
	if !exists {
		return githubreleases.Asset{}, ErrReleaseNotFound
	}
	return client.insertAsset(release, file.Name, content), nil
}

// DownloadAsset writes the stored asset bytes to destination.
func (client *Client) DownloadAsset(_ context.Context, assetID int64, destination io.Writer) error {
	client.mutex.Lock()
	content, exists := client.assetContents[assetID]
	downloadError := client.DownloadErrors[assetID]
	client.mutex.Unlock()

	if downloadError != nil {
		return downloadError
	}
	if !exists {
		return ErrAssetNotFound
	}
	_, writeError := destination.Write(content)
	return writeError
}

func (client *Client) insertRelease(request githubreleases.ReleaseRequest, createdAt time.Time) *githubreleases.Release {
	client.nextID++
	release := &githubreleases.Release{
		ID:              client.nextID,
		TagName:         request.TagName,
		Name:            request.Name,
		Body:            request.Body,
		Draft:           request.Draft,
		Prerelease:      request.Prerelease,
		TargetCommitish: request.TargetCommitish,
		CreatedAt:       createdAt,
	}
	client.releases[release.ID] = release
	if !release.Draft {
		client.gitTags[release.TagName] = struct{}{}
	}
	return release
}

func (client *Client) insertAsset(release *githubreleases.Release, name string, content []byte) githubreleases.Asset {
	client.nextID++
	asset := githubreleases.Asset{ID: client.nextID, Name: name, Size: int64(len(content))}
	release.Assets = append(release.Assets, asset)
	client.assetContents[asset.ID] = append([]byte(nil), content...)
	return asset
}

func (client *Client) tagUsed(tagName string, exceptID int64) bool {
	for releaseID, release := range client.releases {
		if releaseID != exceptID && release.TagName == tagName {
			return true
		}
	}
	return false
}

func cloneRelease(release *githubreleases.Release) githubreleases.Release {
	cloned := *release
	cloned.Assets = append([]githubreleases.Asset(nil), release.Assets...)
	return cloned
}
