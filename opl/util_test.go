package opl

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// lowestBlockForm returns the pair MilliHertzToFnum picks for the
// frequency of (fnum, block): it always uses the lowest block that can
// hold the frequency, so fnum is doubled and block lowered while
// fnum < 512 and block > 0.
func lowestBlockForm(fnum, block int) (int, int) {
	for block > 0 && fnum < 512 {
		fnum *= 2
		block--
	}
	return fnum, block
}

// TestFnumMilliHertzRoundTrip checks the fnum/block<->mHz round trip:
// MilliHertzToFnum(FnumToMilliHertz(f, b)) recovers the lowest-block form
// of (f, b) exactly in its block, and within one in its fnum at
// precision boundaries.
func TestFnumMilliHertzRoundTrip(t *testing.T) {
	for block := 0; block <= 7; block++ {
		for fnum := 0; fnum <= 1023; fnum += 17 {
			mHz := FnumToMilliHertz(fnum, block, FnumConversionDefault)
			gotFnum, gotBlock := MilliHertzToFnum(mHz, FnumConversionDefault)
			wantFnum, wantBlock := lowestBlockForm(fnum, block)
			if gotBlock != wantBlock {
				t.Errorf("fnum=%d block=%d: mHz=%d recovered block=%d, want %d", fnum, block, mHz, gotBlock, wantBlock)
				continue
			}
			if diff := gotFnum - wantFnum; diff < -1 || diff > 1 {
				t.Errorf("fnum=%d block=%d: mHz=%d recovered fnum=%d, want within 1 of %d", fnum, block, mHz, gotFnum, wantFnum)
			}
		}
	}
}

func TestLinVelocityToLogVolumeZeroIsZero(t *testing.T) {
	if got := LinVelocityToLogVolume(0, 63); got != 0 {
		t.Errorf("LinVelocityToLogVolume(0, 63) = %d, want 0", got)
	}
}

func TestVelocityVolumeRoundTrip(t *testing.T) {
	for vol := 0; vol <= 63; vol++ {
		velocity := LogVolumeToLinVelocity(vol, 63)
		got := LinVelocityToLogVolume(velocity, 63)
		if got != vol {
			t.Errorf("lin_to_log(log_to_lin(%d, 63), 63) = %d, want %d", vol, got, vol)
		}
	}
}

func TestOffsetChannelRoundTrip(t *testing.T) {
	for ch := 0; ch <= 8; ch++ {
		if got := OffsetToChannel(ModulatorOffset(ch)); got != ch {
			t.Errorf("OffsetToChannel(ModulatorOffset(%d)) = %d, want %d", ch, got, ch)
		}
		if got := OffsetToChannel(CarrierOffset(ch)); got != ch {
			t.Errorf("OffsetToChannel(CarrierOffset(%d)) = %d, want %d", ch, got, ch)
		}
	}
}

func TestOPLProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("fnum/block round-trips through milliHertz to its lowest-block form within 1 fnum", prop.ForAll(
		func(fnum, block int) bool {
			fnum &= 1023
			block &= 7
			mHz := FnumToMilliHertz(fnum, block, FnumConversionDefault)
			gotFnum, gotBlock := MilliHertzToFnum(mHz, FnumConversionDefault)
			wantFnum, wantBlock := lowestBlockForm(fnum, block)
			diff := gotFnum - wantFnum
			return gotBlock == wantBlock && diff >= -1 && diff <= 1
		},
		gen.IntRange(0, 1023),
		gen.IntRange(0, 7),
	))

	properties.Property("lin_to_log(log_to_lin(v, 63), 63) == v for v in [0,63]", prop.ForAll(
		func(vol int) bool {
			vol &= 63
			velocity := LogVolumeToLinVelocity(vol, 63)
			return LinVelocityToLogVolume(velocity, 63) == vol
		},
		gen.IntRange(0, 63),
	))

	properties.TestingRun(t)
}
