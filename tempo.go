package gamemusic

import "math"

// UsPerSec is the number of microseconds in one second, used throughout the
// tempo conversions below.
const UsPerSec = 1_000_000

// Tempo holds the five orthogonal fields that describe a song's timing.
// Only UsPerTick and FramesPerTick affect playback timing; BeatsPerBar,
// BeatLength and TicksPerBeat exist purely for notation/display and round
// trip through the conversion helpers below without being consulted by the
// dispatcher or orchestrator.
type Tempo struct {
	BeatsPerBar   int     // time signature numerator, for notation only
	BeatLength    int     // note value of one beat (4 = quarter note), for notation only
	TicksPerBeat  int     // ticks per beat, for notation only
	UsPerTick     float64 // microseconds per tick; with FramesPerTick, the only values mix() consults
	FramesPerTick int     // sub-tick frames per tick; must be >= 1
}

// DefaultTempo matches common tracker defaults (4/4, quarter-note beat,
// module speed 6 at tempo 125).
func DefaultTempo() Tempo {
	t := Tempo{BeatsPerBar: 4, BeatLength: 4, TicksPerBeat: 1, FramesPerTick: 6}
	t.SetModule(6, 125)
	return t
}

// Equal compares all five fields. UsPerTick is compared for exact float
// equality, which is sufficient since every setter below computes it the
// same way for the same inputs.
func (t Tempo) Equal(o Tempo) bool {
	return t.BeatsPerBar == o.BeatsPerBar &&
		t.BeatLength == o.BeatLength &&
		t.TicksPerBeat == o.TicksPerBeat &&
		t.UsPerTick == o.UsPerTick &&
		t.FramesPerTick == o.FramesPerTick
}

// Valid reports whether the timing-relevant fields satisfy the invariant
// from spec §3: UsPerTick > 0, FramesPerTick >= 1.
func (t Tempo) Valid() bool {
	return t.UsPerTick > 0 && t.FramesPerTick >= 1
}

// SetBPM sets UsPerTick from a beats-per-minute value, honouring the
// current TicksPerBeat.
func (t *Tempo) SetBPM(bpm float64) {
	tpb := t.TicksPerBeat
	if tpb <= 0 {
		tpb = 1
	}
	t.UsPerTick = 60 * UsPerSec / (float64(tpb) * bpm)
}

// BPM recovers the beats-per-minute value implied by UsPerTick.
func (t Tempo) BPM() float64 {
	tpb := t.TicksPerBeat
	if tpb <= 0 {
		tpb = 1
	}
	return 60 * UsPerSec / (float64(tpb) * t.UsPerTick)
}

// SetTicksPerQuarterNote derives TicksPerBeat from a ticks-per-quarter-note
// value (the unit SMF headers use), given the current BeatLength.
func (t *Tempo) SetTicksPerQuarterNote(tpqn int) {
	t.TicksPerBeat = int(math.Round(float64(t.BeatLength) / 4 * float64(tpqn)))
}

// TicksPerQuarterNote recovers the PPQN value implied by BeatLength and
// TicksPerBeat.
func (t Tempo) TicksPerQuarterNote() int {
	if t.BeatLength == 0 {
		return 0
	}
	return int(math.Round(float64(t.TicksPerBeat) * 4 / float64(t.BeatLength)))
}

// UsPerQuarterNote returns the microseconds-per-quarter-note value an SMF
// tempo meta-event would carry.
func (t Tempo) UsPerQuarterNote() float64 {
	return t.UsPerTick * float64(t.TicksPerQuarterNote())
}

// SetModule sets UsPerTick and FramesPerTick from a tracker-style
// speed/tempo pair (e.g. ProTracker's Fxx/speed and Fxx>=0x20/tempo
// effects).
func (t *Tempo) SetModule(speed, tempo int) {
	ticksPerSec := float64(tempo) * 2 / 5
	t.UsPerTick = UsPerSec / ticksPerSec * float64(speed)
	t.FramesPerTick = speed
}

// Module recovers the (speed, tempo) pair implied by FramesPerTick and
// UsPerTick.
func (t Tempo) Module() (speed, tempo int) {
	speed = t.FramesPerTick
	if speed <= 0 {
		speed = 1
	}
	tempo = int(math.Round(UsPerSec / t.UsPerTick * float64(speed) * 5 / 2))
	return speed, tempo
}

// SetHz sets UsPerTick directly from a tick rate in Hertz.
func (t *Tempo) SetHz(hz float64) {
	t.UsPerTick = UsPerSec / hz
}

// Hz recovers the tick rate in Hertz.
func (t Tempo) Hz() float64 {
	return UsPerSec / t.UsPerTick
}

// SetMsPerTick sets UsPerTick directly from a milliseconds-per-tick value.
func (t *Tempo) SetMsPerTick(ms float64) {
	t.UsPerTick = ms * 1000
}

// MsPerTick recovers the milliseconds-per-tick value.
func (t Tempo) MsPerTick() float64 {
	return t.UsPerTick / 1000
}
