package gofreq

import (
	"github.com/bits-and-blooms/bitset"

	"github.com/kwertop/gofreq/internal/util"
)

// doorkeeperProbes is the number of bits marked per element. Two probes are
// enough for a filter whose only job is to absorb one-hit wonders.
const doorkeeperProbes = 2

// Doorkeeper is a small bloom filter placed in front of a frequency sketch
// so that elements seen only once don't occupy counters. An access is
// admitted to the sketch only after the doorkeeper has seen the element
// before. The filter clears itself after a sampling window of 10x the
// declared capacity so that stale sightings fade along with the sketch's
// own aging.
//
// Like FrequencySketch, the doorkeeper assumes a single logical writer.
type Doorkeeper struct {
	set          *bitset.BitSet
	mask         uint64
	observations uint
	sampleSize   uint
}

// NewDoorkeeper creates a Doorkeeper sized for _capacity_ distinct
// elements. The backing bitset holds eight bits per element, rounded up to
// a power of two.
func NewDoorkeeper(capacity uint) *Doorkeeper {
	size := uint(util.CeilingPowerOfTwo(uint64(util.Max(8*capacity, 64))))
	return &Doorkeeper{
		set:        bitset.New(size),
		mask:       uint64(size - 1),
		sampleSize: util.Max(10*capacity, 10),
	}
}

// Allow reports whether _data_ has been sighted before, marking it as
// sighted if not. A true return means the access should be counted in the
// sketch; a false return means the element was a first sighting and has
// now been let past the door for next time.
func (d *Doorkeeper) Allow(data []byte) bool {
	h1, h2 := hashPairOf(data)
	seen := true
	for i := uint64(0); i < doorkeeperProbes; i++ {
		position := uint((h1 + i*h2) & d.mask)
		if !d.set.Test(position) {
			seen = false
			d.set.Set(position)
		}
	}
	d.observations++
	if d.observations >= d.sampleSize {
		d.Reset()
	}
	return seen
}

// AllowString reports whether the string _data_ has been sighted before,
// marking it as sighted if not.
func (d *Doorkeeper) AllowString(data string) bool {
	return d.Allow([]byte(data))
}

// Contains reports whether _data_ is currently marked as sighted, without
// mutating the filter.
func (d *Doorkeeper) Contains(data []byte) bool {
	h1, h2 := hashPairOf(data)
	for i := uint64(0); i < doorkeeperProbes; i++ {
		if !d.set.Test(uint((h1 + i*h2) & d.mask)) {
			return false
		}
	}
	return true
}

// ContainsString reports whether the string _data_ is currently marked as
// sighted.
func (d *Doorkeeper) ContainsString(data string) bool {
	return d.Contains([]byte(data))
}

// Reset clears all sightings.
func (d *Doorkeeper) Reset() {
	d.set.ClearAll()
	d.observations = 0
}
