// Package opl implements the OPL2/OPL3 FM-synthesis side of the library:
// fnum/block frequency encoding (C3), translation of abstract events into
// an OPL register-write stream (C6), and a "good enough" dual-chip FM
// emulator adapter (C9).
package opl

import "math"

// FnumConversionDefault and FnumConversionAlt are the two conversion
// factors formats are known to use; see spec §4.2.
const (
	FnumConversionDefault = 49716
	FnumConversionAlt     = 50000
)

// milliHertz thresholds above which each block number's range begins.
// Precomputed to avoid log2() in the hot reverse-conversion path, per the
// REDESIGN FLAGS note "mixed floating-point and integer in fnum math".
var blockThresholds = [7]int{48503, 97006, 194013, 388026, 776053, 1552107, 3104215}

// FnumToMilliHertz converts an OPL frequency number/block pair to
// milliHertz (spec §4.2): mHz = (1000*factor*fnum) >> (20-block).
func FnumToMilliHertz(fnum, block int, conversionFactor int) int {
	return int((uint64(1000*conversionFactor) * uint64(fnum)) >> uint(20-block))
}

// MilliHertzToFnum is the inverse of FnumToMilliHertz: it picks the lowest
// block whose range covers mHz, then solves for fnum. mHz=0 maps to
// (block=0, fnum=0); mHz above the representable maximum clips to
// (block=7, fnum=1023).
func MilliHertzToFnum(mHz int, conversionFactor int) (fnum, block int) {
	if mHz == 0 {
		return 0, 0
	}
	if mHz > 6208431 {
		return 1023, 7
	}

	block = 0
	for _, thresh := range blockThresholds {
		if mHz > thresh {
			block++
		} else {
			break
		}
	}

	f := (uint64(mHz) << uint(20-block)) / uint64(conversionFactor*1000)
	// Round to nearest: the original adds 0.5 before truncating; since
	// we've divided in integer arithmetic we approximate that by comparing
	// the remainder against half the divisor.
	rem := (uint64(mHz) << uint(20-block)) % uint64(conversionFactor*1000)
	if rem*2 >= uint64(conversionFactor*1000) {
		f++
	}
	fnum = int(f)
	if block == 7 && fnum > 1023 {
		fnum = 1023
	}
	if fnum > 1023 {
		fnum = 1023
	}
	return fnum, block
}

// LinVelocityToLogVolume converts a linear 0-255 note velocity into a
// logarithmic 0-max register value (spec §4.4, used to let a note's
// velocity override a carrier's instrument-default output level).
func LinVelocityToLogVolume(velocity, max int) int {
	v := float64(max+1) - math.Pow(float64(max+1), 1-float64(velocity)/255.0)
	return int(math.Round(v))
}

// LogVolumeToLinVelocity is the inverse of LinVelocityToLogVolume.
func LogVolumeToLinVelocity(vol, max int) int {
	v := 255 * (1 - math.Log(float64(max+1)-float64(vol))/math.Log(float64(max)+1))
	return int(math.Round(v))
}

// ModulatorOffset returns the operator-register offset for channel c's
// modulator (c in [0,8], 2-operator mode only).
func ModulatorOffset(channel int) int {
	return (channel/3)*8 + channel%3
}

// CarrierOffset returns the operator-register offset for channel c's
// carrier.
func CarrierOffset(channel int) int {
	return ModulatorOffset(channel) + 3
}

// OffsetToChannel is the inverse of ModulatorOffset/CarrierOffset in
// 2-operator mode: given an operator register offset, return the OPL
// channel it belongs to.
func OffsetToChannel(offset int) int {
	return (offset%8)%3 + (offset/8)*3
}
