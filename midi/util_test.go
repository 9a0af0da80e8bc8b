package midi

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestMilliHertzToMIDIClampsVeryLowFrequency(t *testing.T) {
	note, bend := MilliHertzToMIDI(1, -1)
	if note != 0 || bend != CenterBend {
		t.Errorf("expected (0, %d), got (%d, %d)", CenterBend, note, bend)
	}
}

func TestMilliHertzToMIDIMiddleA(t *testing.T) {
	note, bend := MilliHertzToMIDI(440000, -1)
	if note != 69 {
		t.Errorf("expected MIDI note 69 for 440000 mHz, got %d", note)
	}
	if bend != CenterBend {
		t.Errorf("expected no bend for an exact note frequency, got %d", bend)
	}
}

func TestVLQRoundTrip(t *testing.T) {
	for _, v := range []uint32{0, 1, 127, 128, 16383, 16384, 2097151, 2097152, 268435455} {
		var buf bytes.Buffer
		if err := WriteVLQ(&buf, v); err != nil {
			t.Fatalf("WriteVLQ(%d): %v", v, err)
		}
		got, err := ReadVLQ(bufio.NewReader(&buf))
		if err != nil {
			t.Fatalf("ReadVLQ after writing %d: %v", v, err)
		}
		if got != v {
			t.Errorf("VLQ round trip: wrote %d, read back %d", v, got)
		}
	}
}

func TestVLQTooWide(t *testing.T) {
	if err := WriteVLQ(new(bytes.Buffer), 1<<28); err == nil {
		t.Fatal("expected an error for a value requiring more than 28 bits")
	}
}

func TestVLQAdLibMUSRoundTrip(t *testing.T) {
	for _, v := range []uint32{0, 1, 239, 240, 241, 479, 480, 1000} {
		var buf bytes.Buffer
		if err := WriteVLQAdLibMUS(&buf, v); err != nil {
			t.Fatalf("WriteVLQAdLibMUS(%d): %v", v, err)
		}
		got, err := ReadVLQAdLibMUS(bufio.NewReader(&buf))
		if err != nil {
			t.Fatalf("ReadVLQAdLibMUS after writing %d: %v", v, err)
		}
		if got != v {
			t.Errorf("AdLib-MUS VLQ round trip: wrote %d, read back %d", v, got)
		}
	}
}

func TestVLQPropertiesRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("standard VLQ round-trips for any 28-bit value", prop.ForAll(
		func(v uint32) bool {
			v &= 0x0FFFFFFF
			var buf bytes.Buffer
			if err := WriteVLQ(&buf, v); err != nil {
				return false
			}
			got, err := ReadVLQ(bufio.NewReader(&buf))
			return err == nil && got == v
		},
		gen.UInt32(),
	))

	properties.Property("AdLib-MUS VLQ round-trips for any value", prop.ForAll(
		func(v uint32) bool {
			v %= 100000
			var buf bytes.Buffer
			if err := WriteVLQAdLibMUS(&buf, v); err != nil {
				return false
			}
			got, err := ReadVLQAdLibMUS(bufio.NewReader(&buf))
			return err == nil && got == v
		},
		gen.UInt32(),
	))

	properties.TestingRun(t)
}
