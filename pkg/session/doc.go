// Package session implements the session ingestion and storage engine core:
// in-memory buffering of live telemetry, the session lifecycle registry,
// finalization into durable storage, and chronological listing of finalized
// sessions.
//
// A session moves through ACTIVE -> FINALIZING -> FINALIZED or FAILED. While
// ACTIVE, telemetry records accumulate in a Buffer owned by the Registry.
// Finalization drains the buffer, writes every artifact through the storage
// backend, and writes the manifest last; a session is visible to the Lister
// only once its manifest exists.
package session
