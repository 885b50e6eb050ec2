// Package identity computes stable content identities for observed media.
//
// The hash is the primary cross-run identity for local tracks: two files
// with the same hash at different paths are one logical track that moved,
// while two files at the same path with different hashes are a replacement.
// Hashing covers audio data only where the container format is known, so
// tag-only edits do not change a track's identity.
package identity

import (
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/dhowden/tag"
)

// signMask clears bit 63 so the value always fits the non-negative range
// of a signed 64-bit storage column. This is a storage-format contract:
// the hash column must never receive a negative value.
const signMask = 1<<63 - 1

// HashAudio computes the content identity of an audio stream.
//
// For recognized containers the checksum covers the audio frames only,
// skipping leading/trailing metadata blocks, so retagging a file does not
// change its identity. Unrecognized containers fall back to hashing the
// raw bytes.
func HashAudio(r io.ReadSeeker) (int64, error) {
	sum, err := tag.Sum(r)
	if err == nil {
		return FromHex(sum)
	}

	// Container not recognized: hash the full content instead.
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("failed to rewind for raw hash: %w", err)
	}
	h := sha1.New()
	if _, err := io.Copy(h, r); err != nil {
		return 0, fmt.Errorf("failed to hash content: %w", err)
	}
	return fromDigest(h.Sum(nil)), nil
}

// FromHex converts a hex-encoded digest into the stored identity value.
func FromHex(sum string) (int64, error) {
	raw, err := hex.DecodeString(sum)
	if err != nil {
		return 0, fmt.Errorf("invalid digest %q: %w", sum, err)
	}
	if len(raw) < 8 {
		return 0, fmt.Errorf("digest %q too short", sum)
	}
	return fromDigest(raw), nil
}

// Mask widens an unsigned value into the non-negative stored range.
func Mask(v uint64) int64 {
	return int64(v & signMask)
}

func fromDigest(digest []byte) int64 {
	return Mask(binary.BigEndian.Uint64(digest[:8]))
}
