/*
Package types defines the shared data model for fleetd.

Modules, file declarations, container specs and package requirements are the
declarative side: built by the plan compiler from repository declarations and
treated as immutable for the rest of a run. Agent statuses, reports and
commands are the wire side of the control protocol.

# Errors

Four error kinds drive how a failure is handled:

  - ConfigurationError: bad declaration, duplicate target, unresolved token.
    Raised before any host mutation.
  - ResourceApplyError: a file write, package-manager call, or container
    runtime call failed. Aborts the run. Timeouts wrap ErrTimeout.
  - ValidationFailure: resources were applied but a post-deploy check failed.
  - TransportError: the coordination server could not be reached. Recovered
    by the agent loop, never fatal.

Use the Is* helpers rather than type switches; all kinds survive wrapping
with fmt.Errorf("...: %w", err).
*/
package types
