package midi

import (
	"fmt"
	"log"

	"gitlab.com/gomidi/midi/v2"

	"github.com/retrotonedev/gamemusic/dispatch"

	gm "github.com/retrotonedev/gamemusic"
)

// ConverterFlags selects among several output dialects a Converter can
// target, mirroring the original MIDIFlags bitset.
type ConverterFlags uint8

const (
	// UsePatchIndex addresses patches by their raw PatchBank index rather
	// than looking up a MIDIPatch's MIDIPatchNum, and accepts events on
	// any track (not just ChannelMIDI-typed ones).
	UsePatchIndex ConverterFlags = 1 << iota
	// IntegerNotesOnly suppresses all pitchbend output; off-grid
	// frequencies are rounded to the nearest semitone instead.
	IntegerNotesOnly
	// CMFExtensions enables the Creative Music Format controller
	// extensions: CC 0x63 for deep tremolo/vibrato, CC 0x67 for rhythm
	// mode.
	CMFExtensions
	// BasicMIDIOnly forbids meta-events; a TempoEvent under this flag is
	// a format violation rather than something to approximate (see
	// Converter.Err).
	BasicMIDIOnly
)

const midiChannelCount = 16

// Message is one unit of output from a Converter: a MIDI channel message
// (or a tempo change, which has no MIDI channel-message form) preceded by
// a delay of idle ticks.
type Message struct {
	Delay int

	HasMessage bool
	Msg        midi.Message

	HasTempo bool
	Tempo    gm.Tempo
}

// Converter implements dispatch.Handler, turning the Event stream of a
// Music into a Message stream on Sink (spec §4.5). Unlike the OPL
// converter it is channel-message-only: there is no MIDI analogue of a
// register write, so percussion/rhythm routing is expressed with
// channel 10 and CMF controller changes rather than a separate
// addressing scheme.
type Converter struct {
	Sink   func(Message)
	Music  *gm.Music
	Flags  ConverterFlags
	Logger *log.Logger

	// Err is set once, the first time a format violation is found
	// (BasicMIDIOnly with a tempo change, an out-of-range instrument);
	// once set the Handler methods stop the traversal.
	Err error

	cachedDelay int
	usPerTick   float64

	currentPatch [midiChannelCount]int // -1 = none yet
	currentBend  [midiChannelCount]int
	activeNote   map[int]int // trackIndex -> MIDI note, or NoActiveNote
	deepTremolo  bool
	deepVibrato  bool
	updateDeep   bool
}

// NewConverter returns a Converter with per-channel patch state reset to
// "unknown" (-1), matching the original's memset-to-0xFF constructor, and
// per-channel bend state set to CenterBend.
func NewConverter(sink func(Message), music *gm.Music, flags ConverterFlags) *Converter {
	c := &Converter{Sink: sink, Music: music, Flags: flags, activeNote: make(map[int]int)}
	for i := range c.currentPatch {
		c.currentPatch[i] = -1
		c.currentBend[i] = CenterBend
	}
	if flags&CMFExtensions != 0 {
		c.deepTremolo = true
		c.deepVibrato = true
	}
	return c
}

// Convert drives the dispatcher over c.Music in the given order and
// flushes the trailing cached delay as an end-of-song message once the
// traversal finishes.
func (c *Converter) Convert(order dispatch.Order, targetLoopCount int) (dispatch.Position, error) {
	d := dispatch.NewDispatcher()
	pos := d.HandleAllEvents(order, c.Music, targetLoopCount, c)
	if c.Err != nil {
		return pos, c.Err
	}
	if c.cachedDelay != 0 {
		c.Sink(Message{Delay: c.cachedDelay})
		c.cachedDelay = 0
	}
	return pos, nil
}

func (c *Converter) logf(format string, args ...any) {
	if c.Logger != nil {
		c.Logger.Printf(format, args...)
	}
}

// EndOfTrack implements dispatch.Handler; there is no per-track notion
// once events are flattened onto MIDI channels.
func (c *Converter) EndOfTrack(int) {}

// EndOfPattern implements dispatch.Handler by folding trailing silence
// into the cached delay.
func (c *Converter) EndOfPattern(delay int) {
	c.cachedDelay += delay
}

func (c *Converter) Tempo(_ *dispatch.Dispatcher, delay, _, _ int, ev *gm.Event) bool {
	c.cachedDelay += delay
	if c.usPerTick == ev.Tempo.UsPerTick {
		return true
	}
	c.usPerTick = ev.Tempo.UsPerTick
	if c.Flags&BasicMIDIOnly != 0 {
		c.Err = fmt.Errorf("%w: BasicMIDIOnly forbids tempo meta-events",
			gm.ErrFormatLimitation)
		return false
	}
	c.Sink(Message{HasTempo: true, Tempo: ev.Tempo, Delay: c.cachedDelay})
	c.cachedDelay = 0
	return true
}

func (c *Converter) trackApplies(trackIndex int) (gm.TrackInfo, bool) {
	ti := c.Music.TrackInfo[trackIndex]
	if c.Flags&UsePatchIndex != 0 {
		return ti, true
	}
	return ti, ti.ChannelType == gm.ChannelMIDI
}

func (c *Converter) noteFor(trackIndex int) int {
	if note, ok := c.activeNote[trackIndex]; ok {
		return note
	}
	return NoActiveNote
}

func (c *Converter) emitDeepControllerIfNeeded() {
	if c.Flags&CMFExtensions == 0 || !c.updateDeep {
		return
	}
	var val uint8
	if c.deepTremolo {
		val |= 2
	}
	if c.deepVibrato {
		val |= 1
	}
	c.Sink(Message{HasMessage: true, Msg: midi.ControlChange(0, 0x63, val), Delay: c.cachedDelay})
	c.cachedDelay = 0
	c.updateDeep = false
}

func (c *Converter) NoteOn(_ *dispatch.Dispatcher, delay, trackIndex, _ int, ev *gm.Event) bool {
	ti, applies := c.trackApplies(trackIndex)
	if !applies {
		c.cachedDelay += delay
		return true
	}
	channel := uint8(ti.ChannelIndex)
	c.cachedDelay += delay

	var targetPatch int
	if c.Flags&UsePatchIndex != 0 {
		targetPatch = ev.Instrument
	} else {
		patch, ok := c.Music.Patches.At(ev.Instrument)
		if !ok {
			c.Err = fmt.Errorf("%w: instrument %d out of range (bank has %d patches)",
				gm.ErrBadPatch, ev.Instrument, c.Music.Patches.Len())
			return false
		}
		if patch.Kind != gm.PatchMIDI {
			return true
		}
		targetPatch = patch.MIDI.MIDIPatchIndex()
	}

	c.emitDeepControllerIfNeeded()

	if targetPatch != c.currentPatch[channel] {
		c.Sink(Message{HasMessage: true, Msg: midi.ProgramChange(channel, uint8(targetPatch&0x7F)), Delay: c.cachedDelay})
		c.cachedDelay = 0
		c.currentPatch[channel] = targetPatch
	}

	note, bend := MilliHertzToMIDI(ev.MilliHertz, -1)

	velocity := DefaultAttackVelocity
	if ev.Velocity != gm.DefaultVelocity {
		velocity = ev.Velocity >> 1
	}

	if prev := c.noteFor(trackIndex); prev != NoActiveNote {
		c.Sink(Message{HasMessage: true,
			Msg:   midi.NoteOff(channel, uint8(prev)),
			Delay: c.cachedDelay})
		c.cachedDelay = 0
	}

	if c.Flags&IntegerNotesOnly == 0 {
		if bend != c.currentBend[channel] {
			c.Sink(Message{HasMessage: true, Msg: midi.Pitchbend(channel, int16(bend-CenterBend)), Delay: c.cachedDelay})
			c.cachedDelay = 0
			c.currentBend[channel] = bend
		}
	}

	c.Sink(Message{HasMessage: true, Msg: midi.NoteOn(channel, uint8(note), uint8(velocity)), Delay: c.cachedDelay})
	c.cachedDelay = 0
	c.activeNote[trackIndex] = note
	return true
}

func (c *Converter) NoteOff(_ *dispatch.Dispatcher, delay, trackIndex, _ int, _ *gm.Event) bool {
	ti, applies := c.trackApplies(trackIndex)
	c.cachedDelay += delay
	if !applies {
		return true
	}
	prev := c.noteFor(trackIndex)
	if prev == NoActiveNote {
		c.logf("midi: note-off on track %d with no note playing", trackIndex)
		return true
	}
	channel := uint8(ti.ChannelIndex)
	c.Sink(Message{HasMessage: true, Msg: midi.NoteOff(channel, uint8(prev)), Delay: c.cachedDelay})
	c.cachedDelay = 0
	c.activeNote[trackIndex] = NoActiveNote
	return true
}

func (c *Converter) Effect(_ *dispatch.Dispatcher, delay, trackIndex, _ int, ev *gm.Event) bool {
	ti, applies := c.trackApplies(trackIndex)
	c.cachedDelay += delay
	if !applies {
		return true
	}
	channel := uint8(ti.ChannelIndex)

	switch ev.EffectType {
	case gm.EffectPitchbendNote:
		if c.Flags&IntegerNotesOnly != 0 {
			return true
		}
		prev := c.noteFor(trackIndex)
		if prev == NoActiveNote {
			return true
		}
		_, bend := MilliHertzToMIDI(int(ev.EffectData), prev)
		if bend != c.currentBend[channel] {
			c.Sink(Message{HasMessage: true, Msg: midi.Pitchbend(channel, int16(bend-CenterBend)), Delay: c.cachedDelay})
			c.cachedDelay = 0
			c.currentBend[channel] = bend
		}
	case gm.EffectVolume:
		// Left unimplemented: the original never issues a controller-7
		// volume change here either (commented out), and no replacement
		// behaviour is specified.
	}
	return true
}

func (c *Converter) Goto(_ *dispatch.Dispatcher, delay, _, _ int, _ *gm.Event) bool {
	// MIDI has no jump primitive; looping is a property of how the
	// dispatcher is driven, not of the message stream it produces.
	c.cachedDelay += delay
	return true
}

func (c *Converter) Configuration(_ *dispatch.Dispatcher, delay, _, _ int, ev *gm.Event) bool {
	c.cachedDelay += delay

	switch ev.ConfigType {
	case gm.ConfigEmpty:
	case gm.ConfigEnableRhythm:
		if c.Flags&CMFExtensions != 0 {
			c.Sink(Message{HasMessage: true, Msg: midi.ControlChange(0, 0x67, uint8(ev.ConfigValue)), Delay: c.cachedDelay})
			c.cachedDelay = 0
		}
	case gm.ConfigEnableDeepTremolo:
		want := ev.ConfigValue != 0
		if c.deepTremolo != want {
			c.deepTremolo = want
			c.updateDeep = true
		}
	case gm.ConfigEnableDeepVibrato:
		want := ev.ConfigValue != 0
		if c.deepVibrato != want {
			c.deepVibrato = want
			c.updateDeep = true
		}
	}
	return true
}
