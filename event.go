package gamemusic

import clone "github.com/huandu/go-clone/generic"

// ChannelType tags what kind of synthesis backend a TrackInfo binds to.
type ChannelType int

const (
	ChannelUnused ChannelType = iota
	ChannelAny                // placeholder; must be rebound before writing
	ChannelOPL
	ChannelOPLPerc
	ChannelMIDI
	ChannelPCM
)

// TrackInfo is a track's channel binding, shared across every Pattern in a
// Music (spec §3): all patterns have the same number of tracks, and track
// i in every pattern is always the same instrument/channel.
type TrackInfo struct {
	ChannelType ChannelType
	// ChannelIndex's meaning depends on ChannelType:
	//   OPL:     0-8 chip 1, 9-17 chip 2
	//   OPLPerc: 0=hi-hat, 1=top cymbal, 2=tom-tom, 3=snare, 4=bass drum
	//   MIDI:    0-15 (9 = percussion)
	//   PCM:     voice index
	ChannelIndex int
}

// EventKind discriminates the Event sum type. Per the REDESIGN FLAGS note
// ("virtual event dispatch"), events are a tagged union dispatched with a
// type switch in package dispatch, not a polymorphic class hierarchy —
// this also means an Event can be stored inline in a Track slice with no
// per-event heap allocation.
type EventKind int

const (
	EventTempo EventKind = iota
	EventNoteOn
	EventNoteOff
	EventEffect
	EventGoto
	EventConfiguration
)

// EffectType discriminates an EffectEvent's payload.
type EffectType int

const (
	EffectPitchbendNote EffectType = iota
	EffectVolume
)

// GotoType discriminates how a GotoEvent's target is interpreted.
type GotoType int

const (
	GotoCurrentPattern GotoType = iota
	GotoNextPattern
	GotoSpecificOrder
)

// ConfigType discriminates a ConfigurationEvent's meaning.
type ConfigType int

const (
	ConfigEmpty ConfigType = iota
	ConfigEnableOPL3
	ConfigEnableDeepTremolo
	ConfigEnableDeepVibrato
	ConfigEnableRhythm
	ConfigEnableWaveSel
)

// Event is the tagged union of every variant in spec §3. Only the fields
// relevant to Kind are meaningful; this keeps Event a small, copyable
// value type that a Track can hold inline.
type Event struct {
	Kind EventKind

	// EventTempo
	Tempo Tempo

	// EventNoteOn
	Instrument int
	MilliHertz int
	Velocity   int // 0-255, or DefaultVelocity

	// EventEffect
	EffectType EffectType
	EffectData int32

	// EventGoto
	GotoType    GotoType
	GotoRepeat  int // 0 = once
	TargetOrder int
	TargetRow   int

	// EventConfiguration
	ConfigType  ConfigType
	ConfigValue int32
}

// TrackEvent pairs an Event with the ticks elapsed since the previous event
// in the same track (or since the start of the track, for the first
// event).
type TrackEvent struct {
	Delay int
	Event Event
}

// Track is a finite ordered sequence of (delay, event) pairs. The sum of
// Delay across a Track must be <= the owning Music's TicksPerTrack (spec
// §3); any remaining time to the end of the pattern is NOT represented by
// a trailing delay value, it is implied by TicksPerTrack.
type Track []TrackEvent

// TotalDelay sums the track's delays, for invariant checking.
func (t Track) TotalDelay() int {
	total := 0
	for _, te := range t {
		total += te.Delay
	}
	return total
}

// Pattern is an ordered sequence of tracks, one per TrackInfo entry in the
// owning Music.
type Pattern []Track

// Attributes holds a song's free-text metadata fields (spec §3).
type Attributes struct {
	Title   string
	Comment string
	Artist  string
}

// Music is the aggregate song: everything a format reader produces and
// everything the dispatcher/converters/orchestrator consume. It is treated
// as shared-immutable during playback (spec §3 "Lifecycle"); mutation is
// only valid through an explicit Clone + edit.
type Music struct {
	Patches       *PatchBank
	TrackInfo     []TrackInfo
	Patterns      []Pattern
	PatternOrder  []int
	LoopDest      int // -1, or an order index
	TicksPerTrack int
	Attributes    Attributes
	InitialTempo  Tempo
}

// NewMusic returns a Music with an empty PatchBank and LoopDest unset.
func NewMusic() *Music {
	return &Music{Patches: NewPatchBank(), LoopDest: -1, InitialTempo: DefaultTempo()}
}

// Clone deep-copies a Music (and its PatchBank) so an editing pass can
// safely mutate the copy. Grounded on the teacher's use of
// github.com/huandu/go-clone/generic to clone a Song for test fixtures
// (helpers_test.go); here it additionally satisfies the data-model
// lifecycle note that "mutation is permitted only by explicit editing
// passes."
func (m *Music) Clone() *Music {
	if m == nil {
		return nil
	}
	return clone.Clone(m)
}

// NumTracks returns the number of tracks every pattern must have.
func (m *Music) NumTracks() int {
	return len(m.TrackInfo)
}
