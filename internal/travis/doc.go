// Package travis queries the Travis-CI API v3 for the build state the cleanup
// commands depend on: which builds of a branch are still running and whether
// a build has a failed job that is not allowed to fail.
package travis
