// Package githubreleases wraps the GitHub Releases API for the publisher workflows.
//
// It exposes the Client interface consumed by the drafts and publish services,
// an implementation backed by go-github that supports GitHub Enterprise
// endpoints, and typed errors naming the failed operation. The
// githubreleasestest subpackage provides an in-memory Client for tests.
package githubreleases
