// Package audit implements the tamper-evident write trail for the
// observation log.
//
// Every mutation of the observation file appends one Record to an
// append-only JSONL file. Records form a hash chain: each carries the
// SHA-256 of the observation file after the write (log_sha256) and the
// log_sha256 of the previous record (prev_sha256). The first record
// chains from the hash of an empty file. Because each hash binds the
// full observation file state, any out-of-band edit of the observation
// file is detected by comparing its current hash against the last
// record before serving a read.
//
// The package also provides the SHA-256 helpers and the provenance tags
// attached to each write. Provenance is persisted inline in the audit
// record, keeping the chain self-contained.
package audit
