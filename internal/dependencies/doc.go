// Package dependencies resolves the collaborators shared by every publisher command.
//
// Commands accept injected GitHub and Travis-CI clients for tests; the Resolve
// functions fall back to real API clients built from Settings and the token
// source when nothing was injected.
package dependencies
