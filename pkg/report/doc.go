// Package report builds the diagnostic snapshot attached to every
// deployment report. The snapshot is CBOR with deterministic encoding,
// compressed with zstd and base64 encoded so it travels as an opaque
// string in the report's JSON body.
package report
