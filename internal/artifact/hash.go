package artifact

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// refDomainKey is the 32-byte key for BLAKE3 keyed hashing of artifact
// content. Domain separation keeps artifact refs, state refs, and
// capability fingerprints from ever colliding even on identical input
// bytes. The value is the ASCII domain name zero-padded to 32 bytes so
// it stays readable in hex dumps; changing it invalidates every
// existing ref.
var refDomainKey = [32]byte{
	'r', 'e', 'l', 'a', 'y', '.', 'a', 'r', 't', 'i', 'f', 'a', 'c', 't', 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// RefPrefix precedes the hex digest in every artifact reference.
const RefPrefix = "art-"

// refHexLen is the number of hex characters kept from the digest.
// 16 bytes (128 bits) of BLAKE3 output: identical bytes always produce
// the same ref, distinct bytes collide with negligible probability.
const refHexLen = 32

// IsRef reports whether s is shaped like an artifact reference.
func IsRef(s string) bool {
	if len(s) != len(RefPrefix)+refHexLen {
		return false
	}
	if s[:len(RefPrefix)] != RefPrefix {
		return false
	}
	if _, err := hex.DecodeString(s[len(RefPrefix):]); err != nil {
		return false
	}
	return true
}

// RefFor computes the content-addressed reference for the given bytes.
// Deterministic: the dedup guarantee in Store.Put rests entirely on
// this function.
func RefFor(content []byte) string {
	hasher, err := blake3.NewKeyed(refDomainKey[:])
	if err != nil {
		// NewKeyed only fails on a wrong key length, which the fixed
		// array size rules out.
		panic("artifact: blake3 keyed init: " + err.Error())
	}
	hasher.Write(content)
	sum := hasher.Sum(nil)
	return RefPrefix + hex.EncodeToString(sum[:refHexLen/2])
}
