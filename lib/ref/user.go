// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"fmt"
	"strings"
)

// UserID is a validated Matrix user ID (e.g., "@alice:example.org").
//
// User IDs start with '@' and contain a ':' separating the localpart
// from the server name. Participants are keyed by UserID within their
// community.
//
// UserID is an immutable value type. The zero value is not valid;
// use IsZero to check.
type UserID struct {
	id string
}

// ParseUserID validates and wraps a raw Matrix user ID string.
func ParseUserID(raw string) (UserID, error) {
	if raw == "" {
		return UserID{}, fmt.Errorf("empty user ID")
	}
	if raw[0] != '@' {
		return UserID{}, fmt.Errorf("user ID must start with '@': %q", raw)
	}

	colonIndex := strings.IndexByte(raw[1:], ':')
	if colonIndex < 0 {
		return UserID{}, fmt.Errorf("user ID missing ':server' suffix: %q", raw)
	}
	if colonIndex == 0 {
		return UserID{}, fmt.Errorf("user ID has empty localpart: %q", raw)
	}
	if raw[1+colonIndex+1:] == "" {
		return UserID{}, fmt.Errorf("user ID has empty server name: %q", raw)
	}

	return UserID{id: raw}, nil
}

// MustParseUserID is like ParseUserID but panics on error. Use in
// tests where the input is known-valid.
func MustParseUserID(raw string) UserID {
	u, err := ParseUserID(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParseUserID(%q): %v", raw, err))
	}
	return u
}

// String returns the full user ID string.
func (u UserID) String() string { return u.id }

// IsZero reports whether the UserID is the zero value (uninitialized).
func (u UserID) IsZero() bool { return u.id == "" }

// MarshalText implements encoding.TextMarshaler. A zero UserID
// marshals as the empty string.
func (u UserID) MarshalText() ([]byte, error) {
	return []byte(u.id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Empty input
// produces the zero UserID rather than an error.
func (u *UserID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*u = UserID{}
		return nil
	}
	parsed, err := ParseUserID(string(data))
	if err != nil {
		return fmt.Errorf("unmarshal UserID: %w", err)
	}
	*u = parsed
	return nil
}
