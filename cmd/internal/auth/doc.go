// Package auth owns client credentials for the MergeMeet engine: the
// in-memory credential store with durable persistence, the identity claims
// decoded from the access token, and the single-flight refresh coordinator
// that serializes token rotation against the REST API.
package auth
