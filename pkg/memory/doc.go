// Package memory implements the persistent observation log.
//
// Observations are dated, priority-tagged text records stored in a
// human-readable UTF-8 file. Entries are separated by blank lines and
// ordered newest first by observed_on, with insertion order preserved
// for same-day entries. The file is append-only between reflection
// passes; the reflector is the only writer allowed to rewrite it.
//
// Every mutation happens under an advisory file lock, replaces the file
// atomically (temp file, fsync, rename), and appends a record to the
// audit chain. Every read verifies the file hash against the last audit
// record before parsing; a mismatch is tamper and no data is served.
//
// Parsing is tolerant: malformed entries are skipped and counted, never
// fatal. Two grammars are supported: the full document grammar used by
// the file and by reflection responses, and the line grammar used by
// observation-extraction responses where each entry is a single
// priority-marked line.
package memory
