// Package environment reads the Travis-CI job metadata every command relies
// on: repository slug, branch, commit, build and job numbers, tag and event
// type. Missing or malformed variables surface as configuration errors.
package environment
