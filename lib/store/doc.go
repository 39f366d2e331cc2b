// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package store holds the service's entire mutable state: community
// configurations, participant streak records, and the latest daily
// cycle per community.
//
// A Store is one reader/writer-locked in-memory aggregate shared by
// every concurrent task (the scheduler's tick loop, the inbound event
// pump, command handlers, the admin socket). All access goes through
// locked accessors; reads return owned copies and compound
// read-modify-write operations run entirely under the write lock.
// Nothing outside this package holds a reference into the aggregate.
//
// Persistence is explicit: the Store never saves on its own. Every
// mutating call site is expected to call Persist immediately after its
// mutation and to treat a persistence failure as reportable but
// non-fatal — the in-memory state change stands, and the snapshot is
// retried on the next mutation. Snapshots are single JSON documents
// written atomically (temp file, fsync, rename), optionally
// zstd-compressed when the configured path ends in ".zst", and paired
// with a BLAKE3 integrity digest in a sidecar file that Load verifies.
// A missing snapshot on Load is not an error: the service bootstraps
// with an empty aggregate.
package store
