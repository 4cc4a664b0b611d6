// Package publisherrors defines the error kind reported for invalid user input.
package publisherrors
