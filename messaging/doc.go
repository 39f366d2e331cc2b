// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package messaging is the Matrix client used by the check-in
// service. It covers the slice of the client-server API the service
// needs: authentication, sending messages (plain and threaded), room
// membership, and /sync long-polling.
//
// Daily prompts and their response threads use Matrix's m.thread
// relation: the prompt event is the thread root, and every check-in
// response arrives as a threaded reply to it.
package messaging
