package gofreq

import (
	"context"
	"fmt"
	"math"
	"math/bits"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/kwertop/gofreq/internal/util"
)

// FrequencySketchRedis is the Redis backed implementation of the frequency
// sketch, for admission policies shared by multiple processes. Counters
// live in a Redis list at _key_ (one 0-15 integer per counter) while
// _metadataKey_ stores the table geometry and the per-sketch multipliers so
// that every client derives identical probe positions.
//
// Each increment runs as a single Lua script, so updates, saturation
// checks, size bookkeeping and the aging pass are atomic per operation.
type FrequencySketchRedis struct {
	multiplier1  uint64
	multiplier2  uint64
	conservative bool

	sampleSize  int
	tableShift  uint
	tableLength int
	key         string
	metadataKey string
}

// NewFrequencySketchRedis creates a lazily initialized Redis backed
// frequency sketch with randomized multipliers. EnsureCapacity must be
// called before it begins to track frequencies.
func NewFrequencySketchRedis(conservative bool) (*FrequencySketchRedis, error) {
	fs := &FrequencySketchRedis{
		multiplier1:  hashMultiplier1 ^ (util.RandomUint64() & multiplierMask),
		multiplier2:  hashMultiplier2 ^ (util.RandomUint64() & multiplierMask),
		conservative: conservative,
		key:          util.GenerateRandomString(16),
		metadataKey:  util.GenerateRandomString(16),
	}
	conservativeFlag := 0
	if conservative {
		conservativeFlag = 1
	}
	metadata := map[string]interface{}{
		"key":          fs.key,
		"conservative": conservativeFlag,
		"multiplier1":  strconv.FormatUint(fs.multiplier1, 10),
		"multiplier2":  strconv.FormatUint(fs.multiplier2, 10),
		"tableLength":  0,
		"sampleSize":   0,
		"size":         0,
	}
	err := getRedisClient().HSet(context.Background(), fs.metadataKey, metadata).Err()
	if err != nil {
		return nil, fmt.Errorf("gofreq: error creating frequency sketch redis, error: %v", err)
	}
	return fs, nil
}

// NewFrequencySketchRedisFromKey reattaches to an existing Redis backed
// frequency sketch through the _metadataKey_ passed. For this to work, the
// metadata should be present in Redis at _metadataKey_.
func NewFrequencySketchRedisFromKey(metadataKey string) (*FrequencySketchRedis, error) {
	values, err := getRedisClient().HGetAll(context.Background(), metadataKey).Result()
	if err != nil {
		return nil, fmt.Errorf("gofreq: error creating frequency sketch from redis key, error: %v", err)
	}
	multiplier1, err1 := strconv.ParseUint(values["multiplier1"], 10, 64)
	multiplier2, err2 := strconv.ParseUint(values["multiplier2"], 10, 64)
	if err1 != nil || err2 != nil || values["key"] == "" {
		return nil, fmt.Errorf("gofreq: error creating frequency sketch from redis key")
	}
	tableLength, _ := strconv.Atoi(values["tableLength"])
	sampleSize, _ := strconv.Atoi(values["sampleSize"])
	fs := &FrequencySketchRedis{
		multiplier1:  multiplier1,
		multiplier2:  multiplier2,
		conservative: values["conservative"] == "1",
		sampleSize:   sampleSize,
		key:          values["key"],
		metadataKey:  metadataKey,
	}
	fs.setTableLength(tableLength)
	return fs, nil
}

// MetadataKey returns the metadataKey.
func (fs *FrequencySketchRedis) MetadataKey() string {
	return fs.metadataKey
}

// IsInitialized reports whether EnsureCapacity has been called.
func (fs *FrequencySketchRedis) IsInitialized() bool {
	return fs.tableLength > 0
}

// EnsureCapacity initializes or grows the sketch for a cache of up to
// _maxEntries_ elements. Growing rebuilds the counter list and forgets all
// previous counts; when the existing table is already large enough this is
// a no-op.
func (fs *FrequencySketchRedis) EnsureCapacity(maxEntries int64) error {
	if maxEntries < 0 {
		return fmt.Errorf("gofreq: maximum entries should be non-negative, got %d", maxEntries)
	}
	maximum := int(maxEntries)
	if maxEntries > math.MaxInt32>>1 {
		maximum = math.MaxInt32 >> 1
	}
	if fs.tableLength > 0 && fs.tableLength >= maximum {
		return nil
	}

	length := 2
	if maximum > 2 {
		length = int(util.CeilingPowerOfTwo(uint64(maximum)))
	}
	sampleSize := 10
	if maxEntries > 0 {
		sampleSize = 10 * maximum
	}
	if sampleSize <= 0 {
		sampleSize = math.MaxInt32
	}

	initCounters := redis.NewScript(`
		local key = KEYS[1]
		local total = tonumber(ARGV[1])
		redis.call('DEL', key)
		local batch = {}
		for i = 1, total do
			batch[#batch + 1] = 0
			if #batch == 1000 then
				redis.call('RPUSH', key, unpack(batch))
				batch = {}
			end
		end
		if #batch > 0 then
			redis.call('RPUSH', key, unpack(batch))
		end
		return true
	`)
	ok, err := initCounters.Run(
		context.Background(),
		getRedisClient(),
		[]string{fs.key},
		16*length,
	).Bool()
	if err != nil || !ok {
		return fmt.Errorf("gofreq: error while initializing counters in redis, error: %v", err)
	}
	err = getRedisClient().HSet(context.Background(), fs.metadataKey, map[string]interface{}{
		"tableLength": length,
		"sampleSize":  sampleSize,
		"size":        0,
	}).Err()
	if err != nil {
		return fmt.Errorf("gofreq: error while saving sketch metadata in redis, error: %v", err)
	}
	fs.setTableLength(length)
	fs.sampleSize = sampleSize
	return nil
}

// Frequency returns the estimated number of occurrences of _data_, up to
// the maximum (15). Returns 0 if the sketch is not yet initialized.
func (fs *FrequencySketchRedis) Frequency(data []byte) (uint8, error) {
	if !fs.IsInitialized() {
		return 0, nil
	}
	minOfProbes := redis.NewScript(`
		local counters = KEYS[1]
		local freq = 15
		for i = 1, 4 do
			local value = tonumber(redis.call('LINDEX', counters, ARGV[i]))
			if value < freq then
				freq = value
			end
		end
		return freq
	`)
	freq, err := minOfProbes.Run(
		context.Background(),
		getRedisClient(),
		[]string{fs.key},
		fs.positionArgs(data)...,
	).Uint64()
	if err != nil {
		return 0, fmt.Errorf("gofreq: error while estimating frequency of %v in redis, error: %v", data, err)
	}
	return uint8(freq), nil
}

// FrequencyString returns the estimated number of occurrences of the
// string _data_.
func (fs *FrequencySketchRedis) FrequencyString(data string) (uint8, error) {
	return fs.Frequency([]byte(data))
}

// Increment records one occurrence of _data_ if its popularity does not
// exceed the maximum (15), periodically halving all counters once the
// accepted increments reach the sampling threshold. No-op if the sketch is
// not yet initialized.
func (fs *FrequencySketchRedis) Increment(data []byte) error {
	if !fs.IsInitialized() {
		return nil
	}
	incrementCounters := redis.NewScript(`
		local counters = KEYS[1]
		local metadata = KEYS[2]
		local conservative = tonumber(ARGV[5])
		local count = tonumber(ARGV[6])
		local changed = false
		if conservative == 1 then
			local values = {}
			local estimate = 15
			for i = 1, 4 do
				values[i] = tonumber(redis.call('LINDEX', counters, ARGV[i]))
				if values[i] < estimate then
					estimate = values[i]
				end
			end
			if estimate < 15 then
				local target = estimate + count
				if target > 15 then
					target = 15
				end
				for i = 1, 4 do
					if values[i] < target then
						redis.call('LSET', counters, ARGV[i], target)
						changed = true
					end
				end
			end
		else
			for i = 1, 4 do
				local value = tonumber(redis.call('LINDEX', counters, ARGV[i]))
				if value < 15 then
					redis.call('LSET', counters, ARGV[i], value + 1)
					changed = true
				end
			end
		end
		if not changed then
			return 0
		end
		local size = redis.call('HINCRBY', metadata, 'size', 1)
		local sampleSize = tonumber(redis.call('HGET', metadata, 'sampleSize'))
		if size < sampleSize then
			return 1
		end
		local values = redis.call('LRANGE', counters, 0, -1)
		local odd = 0
		for i = 1, #values do
			local value = tonumber(values[i])
			if value % 2 == 1 then
				odd = odd + 1
			end
			if value > 0 then
				redis.call('LSET', counters, i - 1, (value - value % 2) / 2)
			end
		end
		local newSize = (size - size % 2) / 2 - (odd - odd % 4) / 4
		redis.call('HSET', metadata, 'size', newSize)
		return 1
	`)
	conservativeFlag := 0
	if fs.conservative {
		conservativeFlag = 1
	}
	args := append(fs.positionArgs(data), conservativeFlag, 1)
	_, err := incrementCounters.Run(
		context.Background(),
		getRedisClient(),
		[]string{fs.key, fs.metadataKey},
		args...,
	).Int()
	if err != nil {
		return fmt.Errorf("gofreq: error while incrementing %v in redis, error: %v", data, err)
	}
	return nil
}

// IncrementString records one occurrence of the string _data_.
func (fs *FrequencySketchRedis) IncrementString(data string) error {
	return fs.Increment([]byte(data))
}

func (fs *FrequencySketchRedis) setTableLength(length int) {
	fs.tableLength = length
	if length > 0 {
		fs.tableShift = uint(bits.LeadingZeros64(uint64(length - 1)))
	}
}

// positionArgs returns the four flat counter positions of _data_ as script
// arguments, derived exactly as the in-memory sketch derives them.
func (fs *FrequencySketchRedis) positionArgs(data []byte) []interface{} {
	hash := fs.spread(hashOf(data))
	positions := make([]interface{}, 4)
	positions[0] = strconv.FormatUint(fs.indexOf(hash), 10)
	hash = respread1(hash)
	positions[1] = strconv.FormatUint(fs.indexOf(hash), 10)
	hash = respread2(hash)
	positions[2] = strconv.FormatUint(fs.indexOf(hash), 10)
	hash = respread3(hash)
	positions[3] = strconv.FormatUint(fs.indexOf(hash), 10)
	return positions
}

func (fs *FrequencySketchRedis) spread(hash uint64) uint64 {
	hash *= fs.multiplier1
	hash ^= (hash >> 23) ^ (hash >> 43)
	hash *= fs.multiplier2
	return hash
}

func (fs *FrequencySketchRedis) indexOf(hash uint64) uint64 {
	return (hash>>fs.tableShift)<<4 | (hash & 15)
}
