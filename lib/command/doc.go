// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package command implements the chat-facing operations of the
// check-in service: goal registration, deregistration, stats, and
// admin configuration. Each operation validates its input, mutates
// the store under its write lock, persists, and returns the reply
// text for the front-end to send.
//
// Invalid input is reported as a UsageError whose message is written
// for the chat user; any other error is an internal failure the
// front-end reports generically and logs.
package command
