// Package github is the narrow hosting API client used by the publisher and
// the pages activator.
//
// Every call goes through an outbound rate limiter and a bounded retry loop.
// Retryable failures are rate limits and server errors; client errors fail
// immediately. Responses the workflow treats as benign are mapped to
// sentinel errors:
//
//   - ErrNotFound: a probed file does not exist (404)
//   - ErrAlreadyExists: repository creation hit an existing name (422)
//   - ErrAlreadyEnabled: pages are already enabled (409)
package github
