package gamemusic

// PatchKind discriminates the variant carried by a Patch. Go has no
// inheritance hierarchy to mirror the original's Patch/OPLPatch/MIDIPatch/
// PCMPatch class tree, so per the REDESIGN FLAGS note it is replaced with a
// tagged sum type: a Patch always carries all three variant structs, but
// only the one matching Kind is populated and meaningful.
type PatchKind int

const (
	PatchOPL PatchKind = iota
	PatchMIDI
	PatchPCM
)

// Rhythm identifies which OPL rhythm-mode voice (if any) an OPL patch is
// used for. Melodic patches use both operators on a normal melodic
// channel; the percussive roles each use only one operator of OPL
// channels 6-8 once rhythm mode is enabled.
type Rhythm int

const (
	RhythmUnknown Rhythm = iota
	RhythmMelodic
	RhythmHiHat
	RhythmTopCymbal
	RhythmTomTom
	RhythmSnareDrum
	RhythmBassDrum
)

// UsesModulator and UsesCarrier report which operators a NoteOn on this
// rhythm role keys. Melodic, bass-drum and unknown-role notes use both; hi-hat and
// tom-tom key only their modulator; top-cymbal and snare key only their
// carrier. See spec §4.4 "Resolve which operators this note uses".
// UsesModulator reports whether a NoteOn of this rhythm role keys the
// channel's modulator operator.
func (r Rhythm) UsesModulator() bool {
	switch r {
	case RhythmMelodic, RhythmHiHat, RhythmTomTom, RhythmBassDrum, RhythmUnknown:
		return true
	default:
		return false
	}
}

// UsesCarrier reports whether a NoteOn of this rhythm role keys the
// channel's carrier operator.
func (r Rhythm) UsesCarrier() bool {
	switch r {
	case RhythmMelodic, RhythmTopCymbal, RhythmSnareDrum, RhythmBassDrum, RhythmUnknown:
		return true
	default:
		return false
	}
}

// Operator holds the per-operator OPL register fields for one of a
// 2-operator channel's modulator or carrier cells.
type Operator struct {
	EnableTremolo bool
	EnableVibrato bool
	EnableSustain bool
	EnableKSR     bool
	FreqMult      int // 0-15
	ScaleLevel    int // 0-3
	OutputLevel   int // 0-63, 0 = loudest
	AttackRate    int // 0-15
	DecayRate     int // 0-15
	SustainRate   int // 0-15
	ReleaseRate   int // 0-15
	WaveSelect    int // 0-7
}

// OPLPatch is the two-operator FM instrument definition from spec §3.
type OPLPatch struct {
	Modulator  Operator
	Carrier    Operator
	Feedback   int // 0-7
	Connection bool
	Rhythm     Rhythm
}

// MIDIPatch is a General MIDI program reference.
type MIDIPatch struct {
	MIDIPatchNum int // 0-127
	Percussion   bool
}

// MIDIPatchIndex returns the index this patch addresses in a MIDI patch
// bank: the plain program number for melodic patches, or 128+note for
// percussion (spec §4.4 "percussion notes in the 128..255 range").
func (p MIDIPatch) MIDIPatchIndex() int {
	if p.Percussion {
		return p.MIDIPatchNum + 128
	}
	return p.MIDIPatchNum
}

// PCMPatch is a sampled waveform instrument.
type PCMPatch struct {
	SampleRate int // Hz, the rate at which the sample sounds at middle-C
	BitDepth   int // 8 or 16
	Channels   int
	LoopStart  int // sample offset
	LoopEnd    int // sample offset, 0 = no loop
	Data       []byte
}

// Valid checks the PCMPatch invariant from spec §3:
// loopStart < dataLen and loopEnd <= dataLen.
func (p *PCMPatch) Valid() bool {
	n := p.SampleCount()
	if n == 0 {
		return p.LoopEnd == 0
	}
	return p.LoopStart < n && p.LoopEnd <= n
}

// SampleCount returns the number of per-channel sample frames held in
// Data, given BitDepth and Channels.
func (p *PCMPatch) SampleCount() int {
	bytesPerSample := p.BitDepth / 8
	if bytesPerSample == 0 || p.Channels == 0 {
		return 0
	}
	return len(p.Data) / (bytesPerSample * p.Channels)
}

// Looped reports whether LoopEnd marks an active loop.
func (p *PCMPatch) Looped() bool {
	return p.LoopEnd > 0
}

// Patch is an instrument definition; exactly one of the OPL/MIDI/PCM
// fields is meaningful, selected by Kind.
type Patch struct {
	Kind           PatchKind
	Name           string
	DefaultVolume  int // 0-255
	OPL            OPLPatch
	MIDI           MIDIPatch
	PCM            PCMPatch
}

// DefaultVelocity is the sentinel meaning "use the patch's default volume"
// for a NoteOnEvent's velocity field.
const DefaultVelocity = -1
