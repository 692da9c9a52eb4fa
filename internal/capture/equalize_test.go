package capture

import (
	"bytes"
	"testing"
)

func TestEqualize(t *testing.T) {
	rgb := []byte{
		50, 10, 7,
		100, 10, 9,
	}
	Equalize(rgb)
	want := []byte{
		0, 10, 0,
		255, 10, 255,
	}
	if !bytes.Equal(rgb, want) {
		t.Errorf("Equalize() = %v, want %v", rgb, want)
	}

	Equalize(nil)
}

func TestStats(t *testing.T) {
	got := Stats([]byte{
		0, 10, 200,
		100, 30, 200,
	})
	want := [3]ChannelStats{
		{Min: 0, Max: 100, Mean: 50},
		{Min: 10, Max: 30, Mean: 20},
		{Min: 200, Max: 200, Mean: 200},
	}
	if got != want {
		t.Errorf("Stats() = %+v, want %+v", got, want)
	}
	if empty := Stats(nil); empty != ([3]ChannelStats{}) {
		t.Errorf("Stats(nil) = %+v", empty)
	}
}
