// Package publish implements the publish and cleanup_publish commands.
//
// A release is assembled as a draft under a temporary <kind>-<build>-<branch>
// tag and renamed to its final tag only after every artifact is uploaded.
package publish
