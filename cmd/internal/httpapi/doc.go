// Package httpapi is the REST side of the MergeMeet client: a request
// pipeline that injects credentials, refreshes them through the single
// flight coordinator on an authorization failure, and replays the failed
// call exactly once. On top of the pipeline it exposes the auth and
// message endpoints the engine consumes.
package httpapi
