// Package daily derives the shared board of the Daily Challenge: every player
// gets the same deck on a given UTC date.
package daily

import (
	"encoding/binary"
	"math/rand/v2"
	"time"

	"golang.org/x/crypto/blake2b"
)

// DateKey returns YYYY-MM-DD in UTC.
func DateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Seed returns a deterministic PCG seed for a date using a keyed
// BLAKE2b-256(salt, YYYY-MM-DD). Salts longer than 64 bytes are hashed first.
func Seed(date time.Time, salt string) (hi, lo uint64) {
	key := []byte(salt)
	if len(key) > blake2b.Size {
		sum := blake2b.Sum512(key)
		key = sum[:]
	}
	h, err := blake2b.New256(key)
	if err != nil {
		// Only returned for keys over 64 bytes, handled above.
		panic(err)
	}
	h.Write([]byte(DateKey(date)))
	sum := h.Sum(nil)
	return binary.BigEndian.Uint64(sum[:8]), binary.BigEndian.Uint64(sum[8:16])
}

// Source returns a fresh random source for the date's deck.
func Source(date time.Time, salt string) rand.Source {
	return rand.NewPCG(Seed(date, salt))
}
