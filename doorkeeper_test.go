package gofreq

import (
	"strconv"
	"testing"
)

func TestDoorkeeperFirstSighting(t *testing.T) {
	d := NewDoorkeeper(100)
	if d.Allow([]byte("foo")) {
		t.Error("first sighting of foo should not pass the door")
	}
	if !d.Allow([]byte("foo")) {
		t.Error("second sighting of foo should pass the door")
	}
	if !d.Contains([]byte("foo")) {
		t.Error("foo should be marked as sighted")
	}
	if d.Contains([]byte("bar")) {
		t.Error("bar was never sighted")
	}
}

func TestDoorkeeperStringVariants(t *testing.T) {
	d := NewDoorkeeper(100)
	if d.AllowString("foo") {
		t.Error("first sighting of foo should not pass the door")
	}
	if !d.ContainsString("foo") {
		t.Error("foo should be marked as sighted")
	}
}

func TestDoorkeeperReset(t *testing.T) {
	d := NewDoorkeeper(100)
	d.Allow([]byte("foo"))
	d.Reset()
	if d.Contains([]byte("foo")) {
		t.Error("reset should clear all sightings")
	}
}

func TestDoorkeeperSamplingWindow(t *testing.T) {
	d := NewDoorkeeper(1) // sampling window of 10 observations
	foo := []byte("foo")
	for i := 0; i < 10; i++ {
		d.Allow(foo)
	}
	if d.Contains(foo) {
		t.Error("doorkeeper should clear itself at the end of its sampling window")
	}
	if d.Allow(foo) {
		t.Error("foo should be a first sighting again after the clear")
	}
}

func BenchmarkDoorkeeperAllow(b *testing.B) {
	b.StopTimer()
	d := NewDoorkeeper(1 << 16)
	b.StartTimer()
	for i := 0; i < b.N; i++ {
		d.Allow([]byte(strconv.Itoa(i & 0xffff)))
	}
}
