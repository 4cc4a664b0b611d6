// Package tagnames renders and parses the release tags used as bookkeeping
// between store, collect, publish and their cleanup commands.
//
// Temporary releases carry the temporary prefix and finalized ones the regular
// prefix. Branch names always come last so that dashes inside them never shift
// the numeric fields.
package tagnames
