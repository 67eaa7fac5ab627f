/*
Package gofreq implements probabilistic structures for estimating how often
each distinct key has been observed in a stream of cache accesses.

 1. Frequency Sketch: a 4-bit Count-Min Sketch with periodic aging, as used
    by the TinyLFU admission policy to compare the popularity of a cache
    candidate against an eviction victim.
    Refer: http://dimacs.rutgers.edu/~graham/pubs/papers/cm-full.pdf and
    http://arxiv.org/pdf/1512.00727.pdf
 2. Doorkeeper: a small bloom filter placed in front of the sketch to keep
    one-hit wonders from occupying counters.

The package implements both in-mem and Redis backed frequency sketches. The
in-memory sketch assumes a single logical writer; synchronization, where
needed, is the caller's responsibility.
*/
package gofreq

import (
	"fmt"
	"math"
	"math/bits"
	"math/rand"

	"github.com/kwertop/gofreq/internal/util"
)

const (
	// Taken from Murmur3.
	hashMultiplier1 = 0x87c37b91114253d5
	hashMultiplier2 = 0x4cf5ad432745937f

	// Randomized bits of the multipliers. The least significant byte stays
	// unchanged, so the multipliers are guaranteed to remain odd.
	multiplierMask = 0xf0f0f0f0f0f0ff00

	// maxFrequency is the saturation point of a single 4-bit counter.
	maxFrequency = 15

	resetMask = 0x7777777777777777
	oneMask   = 0x1111111111111111
)

// FrequencySketch maintains a 4-bit Count-Min Sketch over a single slice of
// 64-bit words, 16 counters per word. A fixed depth of four probes balances
// accuracy and cost. The popularity of all elements is halved every
// _sampleSize_ accepted increments so that the estimates track recent
// activity rather than all of history.
//
// The multipliers are randomized per instance to protect against hash
// flooding, which would otherwise let an attacker engineer collisions
// against a fixed mixing constant.
//
// The sketch starts uninitialized: EnsureCapacity must be called before it
// begins tracking frequencies. Increment and Frequency degrade to no-ops
// until then.
type FrequencySketch struct {
	multiplier1  uint64
	multiplier2  uint64
	conservative bool

	sampleSize int
	tableShift uint
	table      counterVector
	size       int
}

// NewFrequencySketch creates a lazily initialized frequency sketch with
// randomized multipliers. If _conservative_ is true, increments use the
// conservative update strategy which reduces overestimation under
// collisions at the cost of reading all four probes before writing any.
func NewFrequencySketch(conservative bool) *FrequencySketch {
	return makeFrequencySketch(util.RandomUint64(), util.RandomUint64(), conservative)
}

// NewFrequencySketchFromSeed creates a frequency sketch whose multipliers
// are derived from _seed_, so repeated constructions probe identical table
// positions. Intended for tests and reproducible deployments; prefer
// NewFrequencySketch elsewhere.
func NewFrequencySketchFromSeed(seed int64, conservative bool) *FrequencySketch {
	r := rand.New(rand.NewSource(seed))
	return makeFrequencySketch(r.Uint64(), r.Uint64(), conservative)
}

func makeFrequencySketch(r1, r2 uint64, conservative bool) *FrequencySketch {
	return &FrequencySketch{
		multiplier1:  hashMultiplier1 ^ (r1 & multiplierMask),
		multiplier2:  hashMultiplier2 ^ (r2 & multiplierMask),
		conservative: conservative,
	}
}

// EnsureCapacity initializes or grows the sketch so it can estimate the
// popularity of elements given the maximum size of the cache. Growing
// replaces the table and forgets all previous counts; when the existing
// table is already large enough this is a no-op.
func (fs *FrequencySketch) EnsureCapacity(maxEntries int64) error {
	if maxEntries < 0 {
		return fmt.Errorf("gofreq: maximum entries should be non-negative, got %d", maxEntries)
	}
	maximum := int(maxEntries)
	if maxEntries > math.MaxInt32>>1 {
		maximum = math.MaxInt32 >> 1
	}
	if fs.table != nil && len(fs.table) >= maximum {
		return nil
	}

	if maximum <= 2 {
		fs.table = make(counterVector, 2)
	} else {
		fs.table = make(counterVector, util.CeilingPowerOfTwo(uint64(maximum)))
	}
	fs.tableShift = uint(bits.LeadingZeros64(uint64(len(fs.table) - 1)))
	if maxEntries == 0 {
		fs.sampleSize = 10
	} else {
		fs.sampleSize = 10 * maximum
	}
	if fs.sampleSize <= 0 {
		fs.sampleSize = math.MaxInt32
	}
	fs.size = 0
	return nil
}

// IsInitialized reports whether EnsureCapacity has been called.
func (fs *FrequencySketch) IsInitialized() bool {
	return fs.table != nil
}

// Frequency returns the estimated number of occurrences of _data_, up to
// the maximum (15). The true frequency never exceeds the estimate. Returns
// 0 if the sketch is not yet initialized.
func (fs *FrequencySketch) Frequency(data []byte) uint8 {
	if !fs.IsInitialized() {
		return 0
	}
	return fs.frequency(fs.spread(hashOf(data)))
}

// FrequencyString returns the estimated number of occurrences of the
// string _data_.
func (fs *FrequencySketch) FrequencyString(data string) uint8 {
	return fs.Frequency([]byte(data))
}

func (fs *FrequencySketch) frequency(hash uint64) uint8 {
	freq := fs.table.get(fs.indexOf(hash))
	hash = respread1(hash)
	if f := fs.table.get(fs.indexOf(hash)); f < freq {
		freq = f
	}
	hash = respread2(hash)
	if f := fs.table.get(fs.indexOf(hash)); f < freq {
		freq = f
	}
	hash = respread3(hash)
	if f := fs.table.get(fs.indexOf(hash)); f < freq {
		freq = f
	}
	return uint8(freq)
}

// Increment records one occurrence of _data_ if its popularity does not
// exceed the maximum (15). The popularity of all elements is periodically
// halved when the accepted increments reach the sampling threshold, letting
// stale entries fade away. No-op if the sketch is not yet initialized.
func (fs *FrequencySketch) Increment(data []byte) {
	if !fs.IsInitialized() {
		return
	}
	fs.increment(fs.spread(hashOf(data)))
}

// IncrementString records one occurrence of the string _data_.
func (fs *FrequencySketch) IncrementString(data string) {
	fs.Increment([]byte(data))
}

func (fs *FrequencySketch) increment(hash uint64) {
	var changed bool
	if fs.conservative {
		changed = fs.conservativeIncrement(hash, 1)
	} else {
		changed = fs.regularIncrement(hash)
	}
	if changed {
		fs.size++
		if fs.size >= fs.sampleSize {
			fs.reset()
		}
	}
}

// regularIncrement bumps all four probed counters independently, saturating
// each at the maximum. Reports whether any counter changed.
func (fs *FrequencySketch) regularIncrement(hash uint64) bool {
	changed := fs.table.tryIncrement(fs.indexOf(hash))
	hash = respread1(hash)
	changed = fs.table.tryIncrement(fs.indexOf(hash)) || changed
	hash = respread2(hash)
	changed = fs.table.tryIncrement(fs.indexOf(hash)) || changed
	hash = respread3(hash)
	changed = fs.table.tryIncrement(fs.indexOf(hash)) || changed
	return changed
}

// conservativeIncrement raises only the minimum-valued probed counters up
// to min(estimate+count, 15), never lowering a counter and skipping the
// table entirely once the element is saturated. Reports whether any counter
// changed.
func (fs *FrequencySketch) conservativeIncrement(hash uint64, count uint64) bool {
	var indexes [4]uint64
	indexes[0] = fs.indexOf(hash)
	hash = respread1(hash)
	indexes[1] = fs.indexOf(hash)
	hash = respread2(hash)
	indexes[2] = fs.indexOf(hash)
	hash = respread3(hash)
	indexes[3] = fs.indexOf(hash)

	estimate := fs.table.get(indexes[0])
	for _, index := range indexes[1:] {
		if f := fs.table.get(index); f < estimate {
			estimate = f
		}
	}
	if estimate >= maxFrequency {
		return false
	}
	target := estimate + count
	if target > maxFrequency {
		target = maxFrequency
	}

	changed := false
	for _, index := range indexes {
		if fs.table.raiseTo(index, target) {
			changed = true
		}
	}
	return changed
}

// reset halves every counter, compensating the size estimate for the
// fractional loss of the counters that were odd before halving.
func (fs *FrequencySketch) reset() {
	odd := fs.table.halve()
	fs.size = (fs.size >> 1) - (odd >> 2)
}

// spread applies a supplemental hash function using the per-instance
// multipliers, defending against poor quality hash codes and engineered
// collisions.
func (fs *FrequencySketch) spread(hash uint64) uint64 {
	hash *= fs.multiplier1
	hash ^= (hash >> 23) ^ (hash >> 43)
	hash *= fs.multiplier2
	return hash
}

// Each probe consumes fewer than half of the hash bits; rotating by 32
// brings the unconsumed half into play for the next probe.
func respread1(hash uint64) uint64 {
	return bits.RotateLeft64(hash, 32)
}

// respread2 remixes already-spread material, so a fixed odd constant is
// sufficient here.
func respread2(hash uint64) uint64 {
	return hashMultiplier1 * hash
}

func respread3(hash uint64) uint64 {
	return bits.RotateLeft64(hash, 32)
}

// indexOf returns the flat counter position of _hash_: the word index from
// the high-order bits and one of the 16 nibbles from the low-order bits.
func (fs *FrequencySketch) indexOf(hash uint64) uint64 {
	return (hash>>fs.tableShift)<<4 | (hash & 15)
}

// counterVector is a sequence of 4-bit saturating counters packed 16 to a
// 64-bit word, addressed by flat counter position.
type counterVector []uint64

func (v counterVector) get(counter uint64) uint64 {
	return (v[counter>>4] >> ((counter & 15) << 2)) & 0xf
}

// tryIncrement adds one to the counter unless it is saturated. Reports
// whether the counter changed.
func (v counterVector) tryIncrement(counter uint64) bool {
	index, offset := counter>>4, (counter&15)<<2
	if (v[index]>>offset)&0xf >= maxFrequency {
		return false
	}
	v[index] += 1 << offset
	return true
}

// raiseTo lifts the counter to _value_ if it is currently below it, never
// lowering. Reports whether the counter changed.
func (v counterVector) raiseTo(counter, value uint64) bool {
	index, offset := counter>>4, (counter&15)<<2
	current := (v[index] >> offset) & 0xf
	if current >= value {
		return false
	}
	v[index] += (value - current) << offset
	return true
}

// halve floors every counter to half its value, masking so the vacated top
// bit of each nibble never carries into its neighbor. Returns the number of
// counters that were odd before halving.
func (v counterVector) halve() int {
	odd := 0
	for i := range v {
		odd += bits.OnesCount64(v[i] & oneMask)
		v[i] = (v[i] >> 1) & resetMask
	}
	return odd
}
