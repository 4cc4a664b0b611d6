// Package drafts implements the store, collect and cleanup_store commands.
//
// Every job of a build stores its artifacts in a draft release tagged
// store-<build>-<job>-<branch>. The tag carries the temporary prefix while
// uploads run and the final prefix once the draft is complete, which lets
// collect skip drafts of jobs that died mid-upload and lets cleanup_store
// find them later.
package drafts
