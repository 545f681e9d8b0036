// Package keys stores named signing keys.
//
// A Store maps a unique key name to a Record holding the scheme, the public
// and private key encodings, a content-derived key identifier and the
// creation time. Two implementations are provided:
//
//   - FSStore keeps one file per key under a directory and serializes
//     inserts across processes with an advisory lock file.
//   - MemStore keeps records in memory and is intended for tests and
//     embedding.
//
// Names are 1 to 64 characters drawn from [A-Za-z0-9_-]. Once inserted, a
// record is immutable: there is no overwrite, rename or delete.
package keys
