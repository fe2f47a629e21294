// Package dedupe remembers token IDs until the tokens themselves expire, so
// an agent can optionally refuse a bearer token that has been presented before.
package dedupe
