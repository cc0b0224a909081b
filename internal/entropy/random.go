// Package entropy resolves simulation seeds and hands out independent
// random streams, one per worker, so parallel agent steps never share a
// *rand.Rand. Seed zero means "pick one": it falls back to crypto/rand.
package entropy

import (
	"crypto/rand"
	"encoding/binary"
	"log/slog"
	mrand "math/rand"
)

// streamStride separates per-worker seeds.
const streamStride = 7919

// ResolveSeed returns seed unchanged unless it is zero, in which case a
// fresh seed is drawn from crypto/rand.
func ResolveSeed(seed int64) int64 {
	if seed != 0 {
		return seed
	}
	s := int64(cryptoUint64() >> 1)
	if s == 0 {
		s = 1
	}
	slog.Info("random seed chosen", "seed", s)
	return s
}

// Streams returns n independent deterministic generators derived from seed.
func Streams(seed int64, n int) []*mrand.Rand {
	out := make([]*mrand.Rand, n)
	for i := range out {
		out[i] = mrand.New(mrand.NewSource(seed + int64(i)*streamStride))
	}
	return out
}

func cryptoUint64() uint64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// This should never happen but return a fixed value as a safe default.
		return 42 << 1
	}
	return binary.LittleEndian.Uint64(buf[:])
}

