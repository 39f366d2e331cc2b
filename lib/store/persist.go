// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/checkin/lib/ref"
)

// snapshotVersion is bumped when the snapshot document shape changes
// incompatibly. Load rejects versions it does not understand rather
// than guessing.
const snapshotVersion = 1

// snapshot is the persisted form of the aggregate: one JSON document.
type snapshot struct {
	Version      int                                          `json:"version"`
	Communities  map[ref.RoomID]CommunityConfig               `json:"communities"`
	Participants map[ref.RoomID]map[ref.UserID]Participant    `json:"participants"`
	Cycles       map[ref.RoomID]Cycle                         `json:"cycles"`
}

// digestDomainKey domain-separates the snapshot integrity hash from
// any other BLAKE3 use. The bytes are the ASCII domain name,
// zero-padded to the 32 bytes keyed-mode BLAKE3 requires — readable in
// hex dumps, opaque to the hash.
var digestDomainKey = [32]byte{
	'c', 'h', 'e', 'c', 'k', 'i', 'n', '.', 's', 't', 'a', 't', 'e',
}

// digestSuffix is appended to the snapshot path to form the sidecar
// file holding the hex BLAKE3 digest of the uncompressed document.
const digestSuffix = ".b3"

// compressedSuffix marks a snapshot path as zstd-compressed.
const compressedSuffix = ".zst"

// Persist serializes the full aggregate to the configured path. The
// document is written atomically (temp file, fsync, rename, directory
// sync) so a crash mid-write never leaves a truncated snapshot. The
// digest sidecar is written after the snapshot; a crash between the
// two leaves a stale sidecar, which Load reports as corruption — the
// operator deletes the sidecar to accept the snapshot as-is.
//
// Persist is a no-op for a Store created with an empty path.
func (s *Store) Persist() error {
	if s.path == "" {
		return nil
	}

	// One Persist at a time, and the marshal happens inside the
	// critical section: the later caller always snapshots at least as
	// new a state, so the file never goes backwards.
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	// Marshal under the read lock so the document is a consistent
	// point-in-time view even while concurrent writers queue up.
	s.mu.RLock()
	document, err := json.MarshalIndent(snapshot{
		Version:      snapshotVersion,
		Communities:  s.communities,
		Participants: s.participants,
		Cycles:       s.cycles,
	}, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("store: marshaling snapshot: %w", err)
	}
	document = append(document, '\n')

	digestLine := snapshotDigest(document) + "\n"

	contents := document
	if strings.HasSuffix(s.path, compressedSuffix) {
		contents = zstdEncoder.EncodeAll(document, nil)
	}

	if err := writeFileAtomic(s.path, contents); err != nil {
		return fmt.Errorf("store: writing snapshot: %w", err)
	}

	if err := writeFileAtomic(s.path+digestSuffix, []byte(digestLine)); err != nil {
		return fmt.Errorf("store: writing snapshot digest: %w", err)
	}
	return nil
}

// Load reads a snapshot from path and returns the reconstructed Store.
// A missing snapshot is not an error: the service is bootstrapping for
// the first time and starts with an empty aggregate. A present-but-
// unreadable snapshot, a digest mismatch, or an unknown version is an
// error — silently discarding state would reset every streak.
func Load(path string) (*Store, error) {
	s := New(path)
	if path == "" {
		return s, nil
	}

	contents, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: reading snapshot %s: %w", path, err)
	}

	document := contents
	if strings.HasSuffix(path, compressedSuffix) {
		document, err = zstdDecoder.DecodeAll(contents, nil)
		if err != nil {
			return nil, fmt.Errorf("store: decompressing snapshot %s: %w", path, err)
		}
	}

	if err := verifyDigest(path, document); err != nil {
		return nil, err
	}

	var snap snapshot
	if err := json.Unmarshal(document, &snap); err != nil {
		return nil, fmt.Errorf("store: parsing snapshot %s: %w", path, err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("store: snapshot %s has version %d, want %d", path, snap.Version, snapshotVersion)
	}

	if snap.Communities != nil {
		s.communities = snap.Communities
	}
	if snap.Participants != nil {
		s.participants = snap.Participants
	}
	if snap.Cycles != nil {
		s.cycles = snap.Cycles
	}
	return s, nil
}

// verifyDigest checks the snapshot document against the sidecar
// digest. A missing sidecar is accepted (snapshots written by hand or
// by older builds have none); a present sidecar must match.
func verifyDigest(path string, document []byte) error {
	sidecar, err := os.ReadFile(path + digestSuffix)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("store: reading snapshot digest: %w", err)
	}

	expected := strings.TrimSpace(string(sidecar))
	actual := snapshotDigest(document)

	if actual != expected {
		return fmt.Errorf("store: snapshot %s fails integrity check (digest %s, sidecar %s)", path, actual, expected)
	}
	return nil
}

// snapshotDigest returns the hex keyed BLAKE3 digest of a snapshot
// document. The key is a 32-byte constant, so initialization can only
// fail on a programming error.
func snapshotDigest(document []byte) string {
	hasher, err := blake3.NewKeyed(digestDomainKey[:])
	if err != nil {
		panic("store: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(document)
	return hex.EncodeToString(hasher.Sum(nil))
}

// writeFileAtomic writes data to path via a temp file in the same
// directory: write, fsync, close, rename, then fsync the directory so
// the rename survives power loss. Readers never observe a partial
// file.
func writeFileAtomic(path string, data []byte) error {
	temporaryPath := path + ".tmp"

	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating %s: %w", temporaryPath, err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing %s: %w", temporaryPath, err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing %s: %w", temporaryPath, err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing %s: %w", temporaryPath, err)
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming into place: %w", err)
	}

	if directory, err := os.Open(filepath.Dir(path)); err == nil {
		directory.Sync()
		directory.Close()
	}
	return nil
}

// Shared zstd coder state, reused across snapshots. Both are safe for
// concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("store: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("store: zstd decoder initialization failed: " + err.Error())
	}
}
