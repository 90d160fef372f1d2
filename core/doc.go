// Package pack reads, edits and writes Pack containers, the archive format
// that holds game data files.
//
// A container is a header, a parent pack index, a file index and a data
// region. Six format revisions exist (PFH0 through PFH6); they differ in the
// header extension block, the per-entry index fields and whether payloads
// may be compressed. Indexes and payloads may be obfuscated with a
// reversible cipher.
//
// Open parses the header and index eagerly and, unless WithLazyLoad is set,
// every payload too. Payloads that fail to decode do not fail the open; they
// are kept as opaque stored bytes and reported by Archive.Problems.
//
// Archives opened with an encrypted or compressed layout are read-only:
// saving them requires SaveWithReencode.
package pack
