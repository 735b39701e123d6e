// Package credstore persists the transport's session credentials.
//
// Ownership boundary:
// - load/save/clear of one opaque credential blob
// - crash safety of the file on disk
//
// The file is a CBOR envelope carrying a blake3 checksum of its payload, so
// a torn or corrupted file is detected (ErrCorrupt) rather than handed to
// the transport. Writes go to a temporary file in the same directory, are
// fsynced, and renamed over the target. When an age identity is configured
// the payload is encrypted to it.
package credstore
