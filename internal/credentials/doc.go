// Package credentials resolves the GitHub token used by every publisher
// command from an environment variable or a file.
package credentials
