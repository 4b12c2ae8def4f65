package storage

import (
	"encoding/hex"
	"hash"

	"golang.org/x/crypto/blake2b"
)

func newDigest() hash.Hash {
	// only fails for keys longer than 64 bytes
	h, _ := blake2b.New256(nil)
	return h
}

func encodeDigest(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))
}
