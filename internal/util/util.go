// Package util holds small helpers shared by the gofreq data structures.
package util

import (
	"math/bits"
	"math/rand"
	"time"
	"unsafe"
)

var src = rand.NewSource(time.Now().UnixNano())

const letterBytes = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
const (
	letterIdxBits = 6                    // 6 bits to represent a letter index
	letterIdxMask = 1<<letterIdxBits - 1 // All 1-bits, as many as letterIdxBits
	letterIdxMax  = 63 / letterIdxBits   // # of letter indices fitting in 63 bits
)

// GenerateRandomString returns a random alpha-numeric string of length _n_.
// It's used to generate the Redis keys backing the remote data structures.
func GenerateRandomString(n int) string {
	b := make([]byte, n)
	// A src.Int63() generates 63 random bits, enough for letterIdxMax characters!
	for i, cache, remain := n-1, src.Int63(), letterIdxMax; i >= 0; {
		if remain == 0 {
			cache, remain = src.Int63(), letterIdxMax
		}
		if idx := int(cache & letterIdxMask); idx < len(letterBytes) {
			b[i] = letterBytes[idx]
			i--
		}
		cache >>= letterIdxBits
		remain--
	}

	return *(*string)(unsafe.Pointer(&b))
}

// RandomUint64 returns a pseudo random 64-bit value from the package source.
func RandomUint64() uint64 {
	return uint64(src.Int63())<<1 ^ uint64(src.Int63())
}

// CeilingPowerOfTwo returns the smallest power of two greater than or
// equal to _x_.
func CeilingPowerOfTwo(x uint64) uint64 {
	if x <= 1 {
		return 1
	}
	return 1 << (64 - bits.LeadingZeros64(x-1))
}

// Max returns the greater of _a_ and _b_.
func Max(a, b uint) uint {
	if a > b {
		return a
	}
	return b
}
