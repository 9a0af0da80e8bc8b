// Package playback implements the orchestrator that drives a Music
// through all three synthesis backends at once and mixes the result
// into caller-owned stereo PCM, one output frame at a time (spec §4.8,
// C10). It is the one place that walks a pattern's tracks itself
// instead of going through package dispatch: rendering needs
// frame-by-frame control over exactly when a row's events fire, which
// the dispatcher's whole-song traversal doesn't expose.
package playback

import (
	"fmt"
	"time"

	"github.com/retrotonedev/gamemusic/dispatch"
	"github.com/retrotonedev/gamemusic/opl"
	"github.com/retrotonedev/gamemusic/pcm"

	gm "github.com/retrotonedev/gamemusic"
)

// Position reports where playback has reached, the fields a caller polls
// after every Mix call.
type Position struct {
	End   bool
	Loop  int
	Order int
	Row   int
	Tempo gm.Tempo
}

// loopKey identifies one GotoEvent's storage slot (pattern/track/index
// within the track), the value-type stand-in for the original's use of
// the event's own pointer identity to count how many times it has fired.
type loopKey struct {
	patternIndex, trackIndex, eventIndex int
}

// Orchestrator renders a Music to interleaved stereo int16 PCM, fanning
// every row's events out across four independent backends — an OPL
// converter/emulator pair for OPL/OPLPerc tracks, a second OPL
// converter/emulator pair that resolves MIDI tracks through a MIDI patch
// bank ("MIDI-over-OPL"), a PCM voicer for PCM tracks, and a second PCM
// voicer that resolves MIDI tracks the same way ("MIDI-over-PCM") — and
// mixing all four into one frame buffer per tick.
type Orchestrator struct {
	SampleRate int

	music     *gm.Music
	bankMIDI  *gm.PatchBank
	loopCount int

	opl     *opl.Emulator
	oplMIDI *opl.Emulator

	oplConv     *opl.Converter
	oplConvMIDI *opl.Converter

	pcmVoice     *pcm.Voicer
	pcmVoiceMIDI *pcm.Voicer

	d *dispatch.Dispatcher

	tempo gm.Tempo

	order, pattern, row, nextRow, nextOrder, frame int
	loop                                           int
	end                                            bool

	samplesPerFrame int
	frameBuffer     []int16
	frameBufferPos  int

	loopSeen map[loopKey]int

	err error
}

// Err returns the first error raised by either OPL converter while
// rendering (an out-of-range instrument or OPL channel), or nil. Once
// set, playback has stopped advancing and every further Mix call
// reports End.
func (o *Orchestrator) Err() error { return o.err }

// NewOrchestrator returns an Orchestrator with its OPL emulators ready;
// call SetSong before the first Mix.
func NewOrchestrator(sampleRate int) *Orchestrator {
	return &Orchestrator{
		SampleRate: sampleRate,
		loopCount:  1,
		opl:        opl.NewEmulator(float64(sampleRate)),
		oplMIDI:    opl.NewEmulator(float64(sampleRate)),
		d:          dispatch.NewDispatcher(),
	}
}

// SetBankMIDI installs the patch bank used to resolve MIDI-typed tracks
// into OPL/PCM patches. Call before SetSong; SetSong wires it into both
// MIDI-over-X backends.
func (o *Orchestrator) SetBankMIDI(bank *gm.PatchBank) {
	o.bankMIDI = bank
}

// SetLoopCount sets how many times in total the song plays (the first
// pass, then repeats from its loop destination once play order runs off
// the end) before Mix reports the end; 0 means loop forever.
func (o *Orchestrator) SetLoopCount(count int) {
	o.loopCount = count
}

// SetSong resets every backend to play music from the top.
func (o *Orchestrator) SetSong(music *gm.Music) {
	o.music = music
	o.end = false
	o.loop = 0
	o.order = 0
	o.nextOrder = 0
	if len(music.PatternOrder) == 0 {
		o.pattern = 0
	} else {
		o.pattern = music.PatternOrder[o.order]
	}
	o.row = 0
	o.nextRow = 1
	o.frame = 0
	o.loopSeen = make(map[loopKey]int)

	o.tempoChange(music.InitialTempo)

	*o.opl = *opl.NewEmulator(float64(o.SampleRate))
	o.oplConv = opl.NewConverter(func(rw opl.RegisterWrite) {
		if rw.HasRegister {
			o.opl.WriteRegister(rw.Chip, rw.Reg, rw.Value)
		}
		if rw.HasTempo {
			o.tempoChange(rw.Tempo)
		}
	}, music, opl.FnumConversionDefault, 0)

	*o.oplMIDI = *opl.NewEmulator(float64(o.SampleRate))
	o.oplConvMIDI = opl.NewConverter(func(rw opl.RegisterWrite) {
		if rw.HasRegister {
			o.oplMIDI.WriteRegister(rw.Chip, rw.Reg, rw.Value)
		}
		if rw.HasTempo {
			o.tempoChange(rw.Tempo)
		}
	}, music, opl.FnumConversionDefault, 0)
	o.oplConvMIDI.BankMIDI = o.bankMIDI

	o.pcmVoice = pcm.NewVoicer(music, o.SampleRate)
	o.pcmVoiceMIDI = pcm.NewVoicer(music, o.SampleRate)
	o.pcmVoiceMIDI.BankMIDI = o.bankMIDI

	// Turn rhythm mode on or off depending on the presence of rhythm
	// tracks, mirroring the startup rhythm-enable event the original
	// issues once up front rather than waiting on the first rhythm note.
	rhythm := false
	rhythmTrack := 0
	for i, ti := range music.TrackInfo {
		if ti.ChannelType == gm.ChannelOPLPerc {
			rhythm = true
			rhythmTrack = i
			break
		}
	}
	rhythmValue := int32(0)
	if rhythm {
		rhythmValue = 1
	}
	o.oplConv.Configuration(o.d, 0, rhythmTrack, 0, &gm.Event{Kind: gm.EventConfiguration, ConfigType: gm.ConfigEnableRhythm, ConfigValue: rhythmValue})
}

// SeekByOrder jumps directly to the start of play-order index destOrder,
// without replaying anything before it (so no allNotesOff, no partial
// tempo history).
func (o *Orchestrator) SeekByOrder(destOrder int) {
	o.row = 0
	o.nextRow = 1
	o.frame = 0
	o.order = destOrder
	o.nextOrder = destOrder
	if o.order >= len(o.music.PatternOrder) {
		o.pattern = 0
		o.end = true
		return
	}
	o.pattern = o.music.PatternOrder[o.order]
	o.end = false
}

// SeekByTime jumps to the row nearest targetMs milliseconds, replaying
// goto/loop structure up to that point via dispatch.SeekByTime and
// silencing anything that was sounding before the jump. Returns the
// actual position reached, in milliseconds.
func (o *Orchestrator) SeekByTime(targetMs, loopCount int) int {
	o.AllNotesOff()

	pos := dispatch.SeekByTime(o.music, time.Duration(targetMs)*time.Millisecond, loopCount)

	o.frame = 0
	o.row = pos.Row
	o.nextRow = pos.Row + 1
	o.order = pos.OrderIndex
	o.nextOrder = pos.NextOrderIndex
	if o.nextOrder > 0 {
		o.nextOrder--
	}
	o.pattern = pos.PatternIndex
	o.end = len(o.music.PatternOrder) <= o.order
	o.loop = pos.Loop
	return int(pos.Microseconds / 1000)
}

// Position reports the current play position, the fields Mix's caller
// polls after filling a buffer.
func (o *Orchestrator) Position() Position {
	return Position{End: o.end, Loop: o.loop, Order: o.order, Row: o.row, Tempo: o.tempo}
}

// Mix fills buf (interleaved stereo int16) by saturating-mixing the
// orchestrator's output on top of whatever buf already holds, pulling
// fresh frames via nextFrame as the internal frame buffer runs dry, and
// reports whether the song has reached its end (spec §4.8 "mix",
// matching the wav.Mixer interface).
func (o *Orchestrator) Mix(buf []int16) bool {
	i := 0
	for i < len(buf) {
		if o.frameBufferPos >= len(o.frameBuffer) {
			o.nextFrame()
		}
		n := len(o.frameBuffer) - o.frameBufferPos
		if rem := len(buf) - i; n > rem {
			n = rem
		}
		for k := 0; k < n; k++ {
			buf[i+k] = int16(pcm.MixPCM(int(buf[i+k]), int(o.frameBuffer[o.frameBufferPos+k])))
		}
		i += n
		o.frameBufferPos += n
	}
	return o.end
}

// AllNotesOff synthesizes a NoteOff for every track of the current
// pattern and routes it to whichever backends that track's channel type
// applies to, the same fan-out nextFrame uses for a real NoteOff.
func (o *Orchestrator) AllNotesOff() {
	if o.music == nil || o.pattern >= len(o.music.Patterns) {
		return
	}
	off := gm.Event{Kind: gm.EventNoteOff}
	for trackIndex, ti := range o.music.TrackInfo {
		o.routeNoteOff(trackIndex, ti, &off)
	}
}

func (o *Orchestrator) routeNoteOff(trackIndex int, ti gm.TrackInfo, ev *gm.Event) {
	switch ti.ChannelType {
	case gm.ChannelAny:
		o.oplConv.NoteOff(o.d, 0, trackIndex, o.pattern, ev)
		o.oplConvMIDI.NoteOff(o.d, 0, trackIndex, o.pattern, ev)
		o.pcmVoiceMIDI.NoteOff(o.d, 0, trackIndex, o.pattern, ev)
		o.pcmVoice.NoteOff(o.d, 0, trackIndex, o.pattern, ev)
	case gm.ChannelOPL, gm.ChannelOPLPerc:
		o.oplConv.NoteOff(o.d, 0, trackIndex, o.pattern, ev)
	case gm.ChannelMIDI:
		o.oplConvMIDI.NoteOff(o.d, 0, trackIndex, o.pattern, ev)
		o.pcmVoiceMIDI.NoteOff(o.d, 0, trackIndex, o.pattern, ev)
	case gm.ChannelPCM:
		o.pcmVoice.NoteOff(o.d, 0, trackIndex, o.pattern, ev)
	}
}

// nextFrame fires whatever events sit at the current row (once, on the
// row's first sub-tick frame), mixes all four backends into the frame
// buffer, then advances the frame/row/order/loop counters.
func (o *Orchestrator) nextFrame() {
	loadNextOrder := false

	if !o.end && o.frame == 0 {
		pattern := o.music.Patterns[o.pattern]
		for trackIndex, track := range pattern {
			ti := o.music.TrackInfo[trackIndex]
			trackPos := 0
			for eventIndex, te := range track {
				trackPos += te.Delay
				if trackPos < o.row {
					continue
				}
				if trackPos > o.row {
					break
				}
				ev := te.Event
				o.dispatchRowEvent(trackIndex, ti, &ev)

				if ev.Kind == gm.EventGoto {
					key := loopKey{patternIndex: o.pattern, trackIndex: trackIndex, eventIndex: eventIndex}
					seen := o.loopSeen[key]
					wanted := ev.GotoRepeat + 1
					if seen < wanted {
						o.loopSeen[key] = seen + 1
						switch ev.GotoType {
						case gm.GotoCurrentPattern:
							o.nextRow = ev.TargetRow
						case gm.GotoNextPattern:
							o.nextOrder++
							o.nextRow = ev.TargetRow
							loadNextOrder = true
						case gm.GotoSpecificOrder:
							o.nextOrder = ev.TargetOrder
							o.nextRow = ev.TargetRow
							loadNextOrder = true
						}
					}
				}
			}
		}
		if o.oplConv.Err != nil {
			o.err = o.oplConv.Err
			o.end = true
		} else if o.oplConvMIDI.Err != nil {
			o.err = o.oplConvMIDI.Err
			o.end = true
		}
	}

	if len(o.frameBuffer) > 0 {
		for i := range o.frameBuffer {
			o.frameBuffer[i] = 0
		}
		o.pcmVoice.Mix(o.frameBuffer)
		o.pcmVoiceMIDI.Mix(o.frameBuffer)
		o.mixOPL(o.opl, o.frameBuffer)
		o.mixOPL(o.oplMIDI, o.frameBuffer)
	}
	o.frameBufferPos = 0

	if o.end {
		return
	}
	o.frame++
	if o.frame < o.tempo.FramesPerTick {
		return
	}
	o.frame = 0
	o.row = o.nextRow
	o.nextRow++
	if o.row >= o.music.TicksPerTrack {
		o.row = 0
		o.nextRow = 1
		o.nextOrder++
		loadNextOrder = true
	}
	if !loadNextOrder {
		return
	}
	o.order = o.nextOrder
	if o.order >= len(o.music.PatternOrder) {
		if o.loopCount == 0 || o.loop < o.loopCount-1 {
			if o.music.LoopDest >= 0 {
				o.order = o.music.LoopDest
			} else {
				o.order = 0
			}
			o.loop++
			o.nextOrder = o.order
			o.loopSeen = make(map[loopKey]int)
		} else {
			o.end = true
		}
		o.AllNotesOff()
	}
	if o.order >= len(o.music.PatternOrder) {
		o.end = true
	} else {
		o.pattern = o.music.PatternOrder[o.order]
	}
}

func (o *Orchestrator) dispatchRowEvent(trackIndex int, ti gm.TrackInfo, ev *gm.Event) {
	routeOPL := ti.ChannelType == gm.ChannelAny || ti.ChannelType == gm.ChannelOPL || ti.ChannelType == gm.ChannelOPLPerc
	routeMIDI := ti.ChannelType == gm.ChannelAny || ti.ChannelType == gm.ChannelMIDI
	routePCM := ti.ChannelType == gm.ChannelAny || ti.ChannelType == gm.ChannelPCM

	if routeOPL {
		deliver(o.oplConv, o.d, trackIndex, o.pattern, ev)
	}
	if routeMIDI {
		deliver(o.oplConvMIDI, o.d, trackIndex, o.pattern, ev)
		deliver(o.pcmVoiceMIDI, o.d, trackIndex, o.pattern, ev)
	}
	if routePCM {
		deliver(o.pcmVoice, o.d, trackIndex, o.pattern, ev)
	}
}

// deliver hands ev to h's matching Handler method, the same type switch
// package dispatch itself uses, since the orchestrator walks rows
// without going through dispatch.Dispatcher.HandleAllEvents.
func deliver(h dispatch.Handler, d *dispatch.Dispatcher, trackIndex, patternIndex int, ev *gm.Event) {
	switch ev.Kind {
	case gm.EventTempo:
		h.Tempo(d, 0, trackIndex, patternIndex, ev)
	case gm.EventNoteOn:
		h.NoteOn(d, 0, trackIndex, patternIndex, ev)
	case gm.EventNoteOff:
		h.NoteOff(d, 0, trackIndex, patternIndex, ev)
	case gm.EventEffect:
		h.Effect(d, 0, trackIndex, patternIndex, ev)
	case gm.EventGoto:
		h.Goto(d, 0, trackIndex, patternIndex, ev)
	case gm.EventConfiguration:
		h.Configuration(d, 0, trackIndex, patternIndex, ev)
	}
}

// mixOPL renders e one output frame at a time and saturating-mixes the
// result into buf, the bridge between the emulator's per-sample Next()
// and the PCM voicer's per-buffer Mix.
func (o *Orchestrator) mixOPL(e *opl.Emulator, buf []int16) {
	for i := 0; i < len(buf); i += 2 {
		l, r := e.Next()
		buf[i+0] = int16(pcm.MixPCM(int(buf[i+0]), int(l*32767)))
		buf[i+1] = int16(pcm.MixPCM(int(buf[i+1]), int(r*32767)))
	}
}

// tempoChange recomputes the output-sample frame buffer size for a new
// tempo. Grounded on the original's Playback::tempoChange, down to the
// "tempo too high" guard: a tick shorter than one sample can't be
// represented by a single frame buffer of at least one sample per tick.
func (o *Orchestrator) tempoChange(tempo gm.Tempo) error {
	o.tempo = tempo
	samplesPerTick := int(float64(o.SampleRate) * tempo.UsPerTick / gm.UsPerSec)
	if samplesPerTick == 0 {
		return fmt.Errorf("%w: tempo too high, less than one sample per tick", gm.ErrFormatLimitation)
	}
	framesPerTick := tempo.FramesPerTick
	if framesPerTick < 1 {
		framesPerTick = 1
	}
	o.samplesPerFrame = samplesPerTick / framesPerTick
	if o.samplesPerFrame < 1 {
		o.samplesPerFrame = 1
	}
	o.frameBuffer = make([]int16, o.samplesPerFrame*2)
	o.frameBufferPos = len(o.frameBuffer)
	return nil
}
