// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ipc implements the admin socket: a CBOR request-response
// protocol over a Unix socket that exposes read-only service state to
// the operator CLI. Each connection carries exactly one request and
// one response.
//
// Requests are CBOR maps with an "action" field; responses are the
// Response envelope with ok/error/data. The admin actions (status,
// communities, participants) are registered by RegisterAdminActions
// and only ever read the store.
package ipc
