package gofreq

import (
	"math/rand"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func initMockRedis() {
	mr, _ := miniredis.Run()
	redisUri := "redis://" + mr.Addr()
	connOptions, _ := ParseRedisURI(redisUri)
	MakeRedisClient(*connOptions)
}

func TestFrequencySketchRedisBasic(t *testing.T) {
	initMockRedis()
	fs, err := NewFrequencySketchRedis(false)
	if err != nil {
		t.Fatalf("should not error out creating the sketch, error: %v", err)
	}
	if err := fs.EnsureCapacity(64); err != nil {
		t.Fatalf("should not error out ensuring capacity, error: %v", err)
	}
	e1 := []byte("foo")
	e2 := []byte("bar")
	e3 := []byte("baz")
	fs.Increment(e1)
	fs.Increment(e1)
	fs.Increment(e2)
	c1, _ := fs.Frequency(e1)
	c2, _ := fs.Frequency(e2)
	c3, _ := fs.Frequency(e3)
	if c1 != 2 {
		t.Errorf("frequency of e1 should be 2, found %d", c1)
	}
	if c2 != 1 {
		t.Errorf("frequency of e2 should be 1, found %d", c2)
	}
	if c3 != 0 {
		t.Errorf("frequency of e3 should be 0, found %d", c3)
	}
}

func TestFrequencySketchRedisUninitialized(t *testing.T) {
	initMockRedis()
	fs, _ := NewFrequencySketchRedis(false)
	if fs.IsInitialized() {
		t.Error("sketch should start uninitialized")
	}
	if err := fs.Increment([]byte("foo")); err != nil {
		t.Errorf("increment before EnsureCapacity should be a no-op, error: %v", err)
	}
	f, err := fs.Frequency([]byte("foo"))
	if err != nil {
		t.Errorf("frequency before EnsureCapacity should be a no-op, error: %v", err)
	}
	if f != 0 {
		t.Errorf("frequency before EnsureCapacity should be 0, found %d", f)
	}
}

func TestFrequencySketchRedisNegativeCapacity(t *testing.T) {
	initMockRedis()
	fs, _ := NewFrequencySketchRedis(false)
	if err := fs.EnsureCapacity(-1); err == nil {
		t.Error("it should error out for a negative capacity")
	}
}

func TestFrequencySketchRedisConservativeSaturates(t *testing.T) {
	initMockRedis()
	fs, _ := NewFrequencySketchRedis(true)
	if err := fs.EnsureCapacity(64); err != nil {
		t.Fatalf("should not error out ensuring capacity, error: %v", err)
	}
	foo := []byte("foo")
	for i := 1; i <= 20; i++ {
		if err := fs.Increment(foo); err != nil {
			t.Fatalf("should not error out incrementing, error: %v", err)
		}
		want := uint8(15)
		if i < 15 {
			want = uint8(i)
		}
		if f, _ := fs.Frequency(foo); f != want {
			t.Errorf("frequency after %d increments should be %d, found %d", i, want, f)
		}
	}
}

func TestFrequencySketchRedisAging(t *testing.T) {
	initMockRedis()
	fs, _ := NewFrequencySketchRedis(false)
	if err := fs.EnsureCapacity(1); err != nil { // sample size of 10
		t.Fatalf("should not error out ensuring capacity, error: %v", err)
	}
	for i := 0; i < 10; i++ {
		if err := fs.IncrementString("foo"); err != nil {
			t.Fatalf("should not error out incrementing, error: %v", err)
		}
	}
	// Duplicate probes within the 2-word table may clamp the estimate at 15
	// before the halving, so the halved value lands in [5, 7].
	f, _ := fs.FrequencyString("foo")
	if f < 5 || f > 7 {
		t.Errorf("the aging pass should halve the frequency, expected 5..7, found %d", f)
	}
}

func TestFrequencySketchRedisFromKey(t *testing.T) {
	initMockRedis()
	fs1, _ := NewFrequencySketchRedis(false)
	if err := fs1.EnsureCapacity(64); err != nil {
		t.Fatalf("should not error out ensuring capacity, error: %v", err)
	}
	fs1.IncrementString("foo")
	fs1.IncrementString("foo")
	fs1.IncrementString("foo")

	fs2, err := NewFrequencySketchRedisFromKey(fs1.MetadataKey())
	if err != nil {
		t.Fatalf("should not error out reattaching from key, error: %v", err)
	}
	f, _ := fs2.FrequencyString("foo")
	if f != 3 {
		t.Errorf("reattached sketch should see frequency 3, found %d", f)
	}
	fs2.IncrementString("foo")
	f, _ = fs1.FrequencyString("foo")
	if f != 4 {
		t.Errorf("both handles should share the counters, expected 4, found %d", f)
	}
}

func TestFrequencySketchRedisGrowthForgetsHistory(t *testing.T) {
	initMockRedis()
	fs, _ := NewFrequencySketchRedis(false)
	if err := fs.EnsureCapacity(64); err != nil {
		t.Fatalf("should not error out ensuring capacity, error: %v", err)
	}
	for i := 0; i < 5; i++ {
		fs.IncrementString("foo")
	}
	if err := fs.EnsureCapacity(256); err != nil {
		t.Fatalf("should not error out growing capacity, error: %v", err)
	}
	f, _ := fs.FrequencyString("foo")
	if f != 0 {
		t.Errorf("growing the table should forget all counts, found %d", f)
	}
}

func BenchmarkFrequencySketchRedisIncrement(b *testing.B) {
	b.StopTimer()
	connOpts, _ := ParseRedisURI("redis://127.0.0.1:6379")
	MakeRedisClient(*connOpts)
	fs, _ := NewFrequencySketchRedis(false)
	fs.EnsureCapacity(1 << 16)
	b.StartTimer()
	for i := 0; i < b.N; i++ {
		fs.Increment([]byte(strconv.FormatUint(rand.Uint64(), 10)))
	}
}

func BenchmarkFrequencySketchRedisFrequency(b *testing.B) {
	b.StopTimer()
	connOpts, _ := ParseRedisURI("redis://127.0.0.1:6379")
	MakeRedisClient(*connOpts)
	fs, _ := NewFrequencySketchRedis(false)
	fs.EnsureCapacity(1 << 16)
	for i := 0; i < 1000; i++ {
		fs.Increment([]byte(strconv.FormatUint(rand.Uint64(), 10)))
	}
	b.StartTimer()
	for i := 0; i < b.N; i++ {
		fs.Frequency([]byte(strconv.FormatUint(rand.Uint64(), 10)))
	}
}
