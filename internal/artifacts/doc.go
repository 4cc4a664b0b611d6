// Package artifacts validates artifact directories and enumerates or creates
// the files exchanged through draft releases.
package artifacts
