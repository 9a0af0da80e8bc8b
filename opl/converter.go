package opl

import (
	"fmt"
	"log"
	"math"

	"github.com/retrotonedev/gamemusic/dispatch"

	gm "github.com/retrotonedev/gamemusic"
)

// WriteFlags constrains how a Converter may use the OPL channel space, to
// match the limitations of the format being produced.
type WriteFlags uint8

const (
	// ReserveFirstChannel refuses channel 0, for formats (e.g. some AdLib
	// instrument set formats) that dedicate it to something else.
	ReserveFirstChannel WriteFlags = 1 << iota
	// OPL2Only refuses the second chip's channels (9-17).
	OPL2Only
)

const (
	maxMIDIOverOPLChannels = 18
	oplBitKeyOn            = 0x20
)

// RegisterWrite is one unit of output from a Converter: a register/value
// pair to send to an OPL chip, a tempo change, or both, preceded by a
// delay of idle ticks. Exactly one of HasRegister/HasTempo is normally
// set, except for the final flush which may carry only a delay.
type RegisterWrite struct {
	Delay int

	HasRegister bool
	Chip        int
	Reg         byte
	Value       byte

	HasTempo bool
	Tempo    gm.Tempo
}

// Converter implements dispatch.Handler, turning the Event stream of a
// Music into a RegisterWrite stream on Sink — the OPL half of spec §4.4.
// With BankMIDI set it instead converts NoteOn/NoteOff/Effect events
// arriving on MIDI-typed tracks into OPL writes ("MIDI-over-OPL"): each
// such track is given the lowest-numbered OPL channel not yet given to
// another track, and its notes are dropped when none is left.
type Converter struct {
	Sink           func(RegisterWrite)
	Music          *gm.Music
	FnumConversion int
	Flags          WriteFlags
	BankMIDI       *gm.PatchBank
	Logger         *log.Logger

	// Err is set if a NoteOn referenced an out-of-range instrument or an
	// out-of-range/reserved OPL channel; once set, the Handler methods stop
	// the traversal by returning false.
	Err error

	regState [2][256]byte
	regSet   [2][256]bool

	cachedDelay int
	opl3        bool
	rhythm      bool

	midiChannelMap map[int]int // trackIndex -> raw OPL channel 0-17, or -1
}

// NewConverter returns a Converter with its register-write cache reset to
// the power-on state (every register implicitly 0, but not yet written).
func NewConverter(sink func(RegisterWrite), music *gm.Music, fnumConversion int, flags WriteFlags) *Converter {
	return &Converter{
		Sink:           sink,
		Music:          music,
		FnumConversion: fnumConversion,
		Flags:          flags,
		midiChannelMap: make(map[int]int),
	}
}

// Convert drives the dispatcher over c.Music in the given order and
// flushes any trailing cached delay once the traversal finishes.
func (c *Converter) Convert(order dispatch.Order, targetLoopCount int) (dispatch.Position, error) {
	d := dispatch.NewDispatcher()
	pos := d.HandleAllEvents(order, c.Music, targetLoopCount, c)
	if c.Err != nil {
		return pos, c.Err
	}
	c.flush()
	return pos, nil
}

func (c *Converter) flush() {
	if c.cachedDelay == 0 {
		return
	}
	c.Sink(RegisterWrite{Delay: c.cachedDelay})
	c.cachedDelay = 0
}

func (c *Converter) logf(format string, args ...any) {
	if c.Logger != nil {
		c.Logger.Printf(format, args...)
	}
}

// EndOfTrack implements dispatch.Handler; the OPL stream has no notion of
// separate tracks once merged into register writes.
func (c *Converter) EndOfTrack(int) {}

// EndOfPattern implements dispatch.Handler by folding trailing silence
// into the cached delay, to be written out with whatever register write
// comes next.
func (c *Converter) EndOfPattern(delay int) {
	c.cachedDelay += delay
}

func (c *Converter) Tempo(_ *dispatch.Dispatcher, delay, _, _ int, ev *gm.Event) bool {
	c.cachedDelay += delay
	w := RegisterWrite{HasTempo: true, Tempo: ev.Tempo, Delay: c.cachedDelay}
	c.cachedDelay = 0
	c.Sink(w)
	return true
}

func (c *Converter) trackMatches(ti gm.TrackInfo) bool {
	if c.BankMIDI != nil {
		return ti.ChannelType == gm.ChannelMIDI || ti.ChannelType == gm.ChannelAny
	}
	return ti.ChannelType == gm.ChannelOPL || ti.ChannelType == gm.ChannelOPLPerc || ti.ChannelType == gm.ChannelAny
}

func (c *Converter) NoteOn(_ *dispatch.Dispatcher, delay, trackIndex, _ int, ev *gm.Event) bool {
	c.cachedDelay += delay

	patch, ok := c.Music.Patches.At(ev.Instrument)
	if !ok {
		c.Err = fmt.Errorf("%w: instrument %d out of range (bank has %d patches)",
			gm.ErrBadPatch, ev.Instrument, c.Music.Patches.Len())
		return false
	}
	ti := c.Music.TrackInfo[trackIndex]
	if !c.trackMatches(ti) {
		return true
	}

	if c.BankMIDI != nil {
		if patch.Kind != gm.PatchMIDI {
			return true
		}
		target := patch.MIDI.MIDIPatchIndex()
		mpatch, ok := c.BankMIDI.At(target)
		if !ok {
			c.logf("opl: dropping MIDI note, no entry in MIDI bank for patch #%d", target)
			return true
		}
		patch = mpatch
	} else {
		if ti.ChannelType == gm.ChannelOPLPerc && !c.rhythm {
			c.logf("opl: ignoring rhythm channel %d, rhythm mode not enabled", ti.ChannelIndex)
			return true
		}
		if ti.ChannelType == gm.ChannelOPL && !c.opl3 && ti.ChannelIndex >= 9 {
			c.logf("opl: ignoring OPL3 channel %d in OPL2 mode", ti.ChannelIndex)
			return true
		}
	}
	if patch.Kind != gm.PatchOPL {
		return true
	}
	inst := patch.OPL

	chip, channel, mod, car, ok := c.allocateChannel(ti, trackIndex)
	if !ok {
		if c.Err != nil {
			return false
		}
		return true
	}

	if ti.ChannelType == gm.ChannelOPLPerc {
		keyBit := byte(1) << uint(ti.ChannelIndex)
		if c.regState[chip][0xBD]&keyBit != 0 {
			c.writeReg(chip, 0xBD, c.regState[chip][0xBD]^keyBit)
		}
	} else if c.regState[chip][0xB0|byte(channel)]&oplBitKeyOn != 0 {
		c.writeReg(chip, 0xB0|byte(channel), c.regState[chip][0xB0|byte(channel)]&^byte(oplBitKeyOn))
	}

	// The patch is rewritten unconditionally in case the velocity changed;
	// writeReg drops any register write whose value hasn't moved.
	if mod {
		c.writeOpSettings(chip, channel, 0, &inst, ev.Velocity)
	}
	if car {
		c.writeOpSettings(chip, channel, 1, &inst, ev.Velocity)
	}

	fnum, block := MilliHertzToFnum(ev.MilliHertz, c.FnumConversion)

	if ti.ChannelType != gm.ChannelOPLPerc {
		panning := byte(0)
		if c.opl3 {
			panning = 0x30
		}
		c.writeReg(chip, 0xC0|byte(channel), panning|byte((inst.Feedback&7)<<1)|boolBit(inst.Connection))
	}

	c.writeReg(chip, 0xA0|byte(channel), byte(fnum&0xFF))

	keyon := byte(0)
	if ti.ChannelType != gm.ChannelOPLPerc {
		keyon = oplBitKeyOn
	}
	c.writeReg(chip, 0xB0|byte(channel), keyon|byte(block<<2)|byte((fnum>>8)&0x03))

	if ti.ChannelType == gm.ChannelOPLPerc {
		keyBit := byte(1) << uint(ti.ChannelIndex)
		c.writeReg(chip, 0xBD, 0x20|c.regState[chip][0xBD]|keyBit)
	}
	return true
}

func (c *Converter) NoteOff(_ *dispatch.Dispatcher, delay, trackIndex, _ int, _ *gm.Event) bool {
	c.cachedDelay += delay

	ti := c.Music.TrackInfo[trackIndex]
	if !c.trackMatches(ti) {
		return true
	}

	if ti.ChannelType == gm.ChannelOPLPerc {
		keyBit := byte(1) << uint(ti.ChannelIndex)
		c.writeReg(0, 0xBD, c.regState[0][0xBD]&^keyBit)
		return true
	}

	chip, channel, _, _, ok := c.allocateChannel(ti, trackIndex)
	if ok {
		c.writeReg(chip, 0xB0|byte(channel), c.regState[chip][0xB0|byte(channel)]&^byte(oplBitKeyOn))
	}
	delete(c.midiChannelMap, trackIndex)
	return true
}

func (c *Converter) Effect(_ *dispatch.Dispatcher, delay, trackIndex, _ int, ev *gm.Event) bool {
	c.cachedDelay += delay

	ti := c.Music.TrackInfo[trackIndex]
	if !c.trackMatches(ti) {
		return true
	}

	chip, channel, _, car, ok := c.allocateChannel(ti, trackIndex)
	if !ok {
		return true
	}

	switch ev.EffectType {
	case gm.EffectPitchbendNote:
		fnum, block := MilliHertzToFnum(int(ev.EffectData), c.FnumConversion)
		c.writeReg(chip, 0xA0|byte(channel), byte(fnum&0xFF))
		keyon := c.regState[chip][0xB0|byte(channel)] & oplBitKeyOn
		c.writeReg(chip, 0xB0|byte(channel), keyon|byte(block<<2)|byte((fnum>>8)&0x03))
	case gm.EffectVolume:
		if car {
			op := byte(CarrierOffset(channel))
			outputLevel := VolumeEffectToOutputLevel(int(ev.EffectData))
			reg := byte(0x40) | op
			val := c.regState[chip][reg] &^ 0x3F
			c.writeReg(chip, reg, val|byte(outputLevel&0x3F))
		}
	}
	return true
}

func (c *Converter) Goto(_ *dispatch.Dispatcher, delay, _, _ int, _ *gm.Event) bool {
	// The OPL converter is sound-only; jump handling belongs to whatever
	// drives the dispatcher (playback orchestrator, or a full-traversal
	// length/seek pass), not to this Handler.
	c.cachedDelay += delay
	return true
}

func (c *Converter) Configuration(_ *dispatch.Dispatcher, delay, trackIndex, _ int, ev *gm.Event) bool {
	c.cachedDelay += delay

	ti := c.Music.TrackInfo[trackIndex]
	if !c.trackMatches(ti) {
		return true
	}

	switch ev.ConfigType {
	case gm.ConfigEmpty:
	case gm.ConfigEnableOPL3:
		want := ev.ConfigValue != 0
		if c.opl3 != want {
			v := byte(0)
			if want {
				v = 0x01
			}
			c.writeReg(1, 0x05, v)
			c.opl3 = want
		}
	case gm.ConfigEnableDeepTremolo:
		chip := int(ev.ConfigValue>>1) & 1
		v := c.regState[chip][0xBD] &^ 0x80
		if ev.ConfigValue&1 != 0 {
			v |= 0x80
		}
		c.writeReg(chip, 0xBD, v)
	case gm.ConfigEnableDeepVibrato:
		chip := int(ev.ConfigValue>>1) & 1
		v := c.regState[chip][0xBD] &^ 0x40
		if ev.ConfigValue&1 != 0 {
			v |= 0x40
		}
		c.writeReg(chip, 0xBD, v)
	case gm.ConfigEnableRhythm:
		want := ev.ConfigValue != 0
		if c.rhythm && !want {
			c.writeReg(0, 0xBD, c.regState[0][0xBD]&^0x3F)
			c.writeReg(1, 0xBD, c.regState[1][0xBD]&^0x3F)
		}
		c.rhythm = want
	case gm.ConfigEnableWaveSel:
		v := byte(0)
		if ev.ConfigValue != 0 {
			v = 0x20
		}
		c.writeReg(0, 0x01, v)
	}
	return true
}

// allocateChannel resolves which chip/channel a track's note should use,
// and whether it keys the modulator, the carrier, or both. ok is false
// (with no error) when the note must be silently dropped, e.g. all 18
// MIDI-over-OPL channels are busy; c.Err is set instead for a format
// violation (an explicitly reserved or out-of-range channel).
func (c *Converter) allocateChannel(ti gm.TrackInfo, trackIndex int) (chip, channel int, mod, car bool, ok bool) {
	switch {
	case ti.ChannelType == gm.ChannelOPLPerc:
		chip = 0
		switch ti.ChannelIndex {
		case 4:
			channel, mod, car = 6, true, true // bass drum
		case 3:
			channel, mod, car = 7, false, true // snare
		case 2:
			channel, mod, car = 8, true, false // tom-tom
		case 1:
			channel, mod, car = 8, false, true // top cymbal
		case 0:
			channel, mod, car = 7, true, false // hi-hat
		default:
			c.Err = fmt.Errorf("%w: OPL percussion channel %d out of range", gm.ErrInvalidData, ti.ChannelIndex)
			return 0, 0, false, false, false
		}
		return chip, channel, mod, car, true

	case c.BankMIDI != nil && ti.ChannelType == gm.ChannelMIDI,
		c.BankMIDI != nil && ti.ChannelType == gm.ChannelAny:
		mod, car = true, true
		raw, found := c.midiChannelMap[trackIndex]
		if !found {
			inUse := make([]bool, maxMIDIOverOPLChannels)
			for _, v := range c.midiChannelMap {
				if v >= 0 {
					inUse[v] = true
				}
			}
			raw = -1
			for j := 0; j < maxMIDIOverOPLChannels; j++ {
				if !inUse[j] {
					raw = j
					break
				}
			}
			c.midiChannelMap[trackIndex] = raw
			if raw == -1 {
				c.logf("opl: all %d channels in use for MIDI, dropping a note", maxMIDIOverOPLChannels)
			}
		}
		if raw < 0 {
			return 0, 0, mod, car, false
		}
		if raw >= 9 {
			return 1, raw - 9, mod, car, true
		}
		return 0, raw, mod, car, true

	default: // ChannelOPL
		if ti.ChannelIndex == 0 && c.Flags&ReserveFirstChannel != 0 {
			c.Err = fmt.Errorf("%w: OPL channel 0 cannot be used in this format", gm.ErrFormatLimitation)
			return 0, 0, false, false, false
		}
		if ti.ChannelIndex < 9 {
			return 0, ti.ChannelIndex, true, true, true
		}
		if ti.ChannelIndex < 18 && c.Flags&OPL2Only == 0 {
			return 1, ti.ChannelIndex - 9, true, true, true
		}
		c.Err = fmt.Errorf("%w: OPL channel %d out of range", gm.ErrFormatLimitation, ti.ChannelIndex)
		return 0, 0, false, false, false
	}
}

func (c *Converter) writeReg(chip int, reg byte, val byte) {
	if c.regSet[chip][reg] && c.regState[chip][reg] == val {
		return
	}
	w := RegisterWrite{HasRegister: true, Chip: chip, Reg: reg, Value: val, Delay: c.cachedDelay}
	c.cachedDelay = 0
	c.Sink(w)
	c.regState[chip][reg] = val
	c.regSet[chip][reg] = true
}

func (c *Converter) writeOpSettings(chip, channel, opNum int, inst *gm.OPLPatch, velocity int) {
	var op byte
	var o *gm.Operator
	if opNum == 0 {
		op = byte(ModulatorOffset(channel))
		o = &inst.Modulator
	} else {
		op = byte(CarrierOffset(channel))
		o = &inst.Carrier
	}

	outputLevel := o.OutputLevel
	if opNum == 1 && velocity != gm.DefaultVelocity {
		outputLevel = 63 - LinVelocityToLogVolume(velocity, 63)
	}

	c.writeReg(chip, 0x20|op, boolBit(o.EnableTremolo)<<7|boolBit(o.EnableVibrato)<<6|
		boolBit(o.EnableSustain)<<5|boolBit(o.EnableKSR)<<4|byte(o.FreqMult&0x0F))
	c.writeReg(chip, 0x40|op, byte(o.ScaleLevel<<6)|byte(outputLevel&0x3F))
	c.writeReg(chip, 0x60|op, byte(o.AttackRate<<4)|byte(o.DecayRate&0x0F))
	c.writeReg(chip, 0x80|op, byte(o.SustainRate<<4)|byte(o.ReleaseRate&0x0F))
	c.writeReg(chip, 0xE0|op, byte(o.WaveSelect&7))
}

func boolBit(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// VolumeEffectToOutputLevel converts an EffectVolume event's linear
// 0-255 volume into a carrier output-level register value, using the
// same logarithmic curve as the original AdLib volume effect (distinct
// from the velocity-to-output-level curve applied at NoteOn).
func VolumeEffectToOutputLevel(volume int) int {
	if volume <= 0 {
		return 0x3F
	}
	v := 0x3F - int(math.Round(float64(0x3F)*math.Log(float64(volume))/math.Log(256.0)))
	if v < 0 {
		v = 0
	}
	if v > 0x3F {
		v = 0x3F
	}
	return v
}
