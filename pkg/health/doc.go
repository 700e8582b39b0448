// Package health provides the post-deploy checks a module can declare:
// HTTP status, TCP connect, a host command, or the gRPC health protocol.
// Wait retries a checker until it succeeds or its timeout elapses, and
// Validate turns a final failure into a types.ValidationFailure.
package health
