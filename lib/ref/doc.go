// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides validated identifier types for Matrix entities
// the checkin service touches: rooms, users, and events.
//
// Each type wraps a string and validates its sigil at parse time, so
// the rest of the codebase can rely on the compiler to keep room IDs,
// user IDs, and event IDs from being confused with each other or with
// arbitrary strings. All types implement encoding.TextMarshaler and
// TextUnmarshaler, so they round-trip through JSON object keys and
// CBOR fields without custom codec hooks.
//
// The zero value of every type is "no identifier"; IsZero reports it.
package ref
