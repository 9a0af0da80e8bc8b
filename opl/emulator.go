package opl

import "math"

// Emulator is a "good enough" dual-chip 2-operator FM synthesizer driven
// directly by the same RegisterWrite stream a Converter produces. It is
// not a cycle-accurate YMF262 core — no such core exists anywhere in the
// retrieval pack — but a register-addressable oscillator bank built the
// way _examples/other_examples' FM-instrument code models an operator
// chain (ratio, envelope, output level, Next()), generalised here from a
// note-trigger API to raw register decoding so it can sit directly
// behind a Converter's Sink.
type Emulator struct {
	SampleRate float64

	opl3   bool
	rhythm bool
	waveSelEnabled bool

	channels [2][9]fmChannel
}

// NewEmulator returns an Emulator rendering at sampleRate Hz.
func NewEmulator(sampleRate float64) *Emulator {
	return &Emulator{SampleRate: sampleRate}
}

// WriteRegister applies one OPL register write, exactly as a real chip
// would see it coming off the bus. It is the Emulator's Sink-compatible
// entry point: opl.NewConverter's RegisterWrite.Chip/Reg/Value map
// directly onto chip/reg/val here.
func (e *Emulator) WriteRegister(chip int, reg byte, val byte) {
	if chip < 0 || chip > 1 {
		return
	}

	switch {
	case reg == 0x01:
		e.waveSelEnabled = val&0x20 != 0
	case reg == 0x05 && chip == 1:
		e.opl3 = val&0x01 != 0
	case reg == 0xBD && chip == 0:
		e.rhythm = val&0x20 != 0
		e.applyRhythmKeys(val)
	case reg >= 0x20 && reg <= 0x35:
		e.writeOperatorReg(chip, reg-0x20, func(op *fmOperator, v byte) {
			op.enableTremolo = v&0x80 != 0
			op.enableVibrato = v&0x40 != 0
			op.enableSustainHold = v&0x20 != 0
			op.enableKSR = v&0x10 != 0
			op.freqMult = int(v & 0x0F)
		}, val)
	case reg >= 0x40 && reg <= 0x55:
		e.writeOperatorReg(chip, reg-0x40, func(op *fmOperator, v byte) {
			op.scaleLevel = int(v >> 6)
			op.outputLevel = int(v & 0x3F)
		}, val)
	case reg >= 0x60 && reg <= 0x75:
		e.writeOperatorReg(chip, reg-0x60, func(op *fmOperator, v byte) {
			op.attackRate = int(v >> 4)
			op.decayRate = int(v & 0x0F)
		}, val)
	case reg >= 0x80 && reg <= 0x95:
		e.writeOperatorReg(chip, reg-0x80, func(op *fmOperator, v byte) {
			op.sustainLevel = int(v >> 4)
			op.releaseRate = int(v & 0x0F)
		}, val)
	case reg >= 0xA0 && reg <= 0xA8:
		ch := int(reg - 0xA0)
		c := &e.channels[chip][ch]
		c.fnum = (c.fnum &^ 0xFF) | int(val)
	case reg >= 0xB0 && reg <= 0xB8:
		ch := int(reg - 0xB0)
		c := &e.channels[chip][ch]
		c.fnum = (c.fnum &^ 0x300) | (int(val&0x03) << 8)
		c.block = int((val >> 2) & 0x07)
		keyOn := val&oplBitKeyOn != 0
		if keyOn && !c.keyOn {
			c.mod.trigger()
			c.car.trigger()
		} else if !keyOn && c.keyOn {
			c.mod.release()
			c.car.release()
		}
		c.keyOn = keyOn
	case reg >= 0xC0 && reg <= 0xC8:
		ch := int(reg - 0xC0)
		c := &e.channels[chip][ch]
		c.feedback = int((val >> 1) & 0x07)
		c.connection = val&0x01 != 0
	case reg >= 0xE0 && reg <= 0xF5:
		e.writeOperatorReg(chip, reg-0xE0, func(op *fmOperator, v byte) {
			if e.waveSelEnabled {
				op.waveSelect = int(v & 0x07)
			} else {
				op.waveSelect = int(v & 0x03)
			}
		}, val)
	}
}

// writeOperatorReg maps an operator-register offset (0x00-0x15, the
// value after subtracting the register family's base) to the
// modulator/carrier of the channel it belongs to, in 2-operator mode.
func (e *Emulator) writeOperatorReg(chip int, offset byte, apply func(*fmOperator, byte), val byte) {
	ch := OffsetToChannel(int(offset))
	if ch < 0 || ch > 8 {
		return
	}
	c := &e.channels[chip][ch]
	if int(offset) == ModulatorOffset(ch) {
		apply(&c.mod, val)
	} else {
		apply(&c.car, val)
	}
}

// applyRhythmKeys maps 0xBD's percussion keyon bits onto the channels
// that rhythm mode repurposes: 6 (bass drum, both operators), 7
// (modulator hi-hat, carrier snare), 8 (modulator tom-tom, carrier top
// cymbal) — the same layout Converter.allocateChannel uses.
func (e *Emulator) applyRhythmKeys(val byte) {
	if !e.rhythm {
		return
	}
	keyTrigger(&e.channels[0][6].mod, val&0x10 != 0) // bass drum
	keyTrigger(&e.channels[0][6].car, val&0x10 != 0)
	keyTrigger(&e.channels[0][7].mod, val&0x01 != 0) // hi-hat
	keyTrigger(&e.channels[0][7].car, val&0x08 != 0) // snare
	keyTrigger(&e.channels[0][8].mod, val&0x04 != 0) // tom-tom
	keyTrigger(&e.channels[0][8].car, val&0x02 != 0) // top cymbal
}

func keyTrigger(op *fmOperator, on bool) {
	if on && !op.keyOn {
		op.trigger()
	} else if !on && op.keyOn {
		op.release()
	}
	op.keyOn = on
}

// Next renders one stereo sample (OPL3 panning is not modelled; the
// same mono sum is duplicated to both channels) by summing every active
// channel's FM output, scaled by its fnum/block frequency.
func (e *Emulator) Next() (left, right float32) {
	var sum float64
	nChips := 1
	if e.opl3 {
		nChips = 2
	}
	for chip := 0; chip < nChips; chip++ {
		for ch := 0; ch < 9; ch++ {
			if e.rhythm && chip == 0 && (ch == 6 || ch == 7 || ch == 8) {
				continue // rendered separately below, operators are shared
			}
			sum += e.channels[chip][ch].next(e.SampleRate)
		}
	}
	if e.rhythm {
		sum += e.channels[0][6].next(e.SampleRate)
		sum += e.channels[0][7].next(e.SampleRate)
		sum += e.channels[0][8].next(e.SampleRate)
	}
	v := float32(sum * 0.2)
	return v, v
}

// IsSilent reports whether every operator's envelope has fully released,
// i.e. further Next() calls would only produce silence until the next
// register write.
func (e *Emulator) IsSilent() bool {
	for chip := 0; chip < 2; chip++ {
		for ch := 0; ch < 9; ch++ {
			c := &e.channels[chip][ch]
			if !c.mod.idle() || !c.car.idle() {
				return false
			}
		}
	}
	return true
}

type fmChannel struct {
	mod, car   fmOperator
	fnum       int
	block      int
	feedback   int
	connection bool // false = FM (mod modulates car), true = additive
	keyOn      bool

	fbHist [2]float64
}

func (c *fmChannel) next(sampleRate float64) float64 {
	freqMHz := FnumToMilliHertz(c.fnum, c.block, FnumConversionDefault)
	freq := float64(freqMHz) / 1000.0

	modMult := freqMultRatio(c.mod.freqMult)
	carMult := freqMultRatio(c.car.freqMult)

	fbMod := (c.fbHist[0] + c.fbHist[1]) / 2 * feedbackGain(c.feedback)
	modOut := c.mod.next(sampleRate, freq*modMult, fbMod)
	c.fbHist[1] = c.fbHist[0]
	c.fbHist[0] = modOut

	if c.connection {
		carOut := c.car.next(sampleRate, freq*carMult, 0)
		return modOut*0.5 + carOut*0.5
	}
	return c.car.next(sampleRate, freq*carMult, modOut)
}

// freqMultTable is the standard OPL modulator-frequency-multiplier
// table: index is the 4-bit FreqMult register field.
var freqMultTable = [16]float64{0.5, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 10, 12, 12, 15, 15}

func freqMultRatio(mult int) float64 {
	if mult < 0 || mult > 15 {
		return 1
	}
	return freqMultTable[mult]
}

func feedbackGain(level int) float64 {
	if level <= 0 {
		return 0
	}
	return math.Pi * float64(level) / 8
}

type envStage int

const (
	envIdle envStage = iota
	envAttack
	envDecay
	envSustain
	envRelease
)

// fmOperator is one OPL operator cell: a phase-accumulator oscillator
// whose amplitude follows a simplified four-stage envelope driven by the
// same attack/decay/sustain/release rate fields as Operator in the root
// package.
type fmOperator struct {
	enableTremolo, enableVibrato, enableSustainHold, enableKSR bool
	freqMult                                                   int
	scaleLevel                                                 int
	outputLevel                                                int // 0-63, 0 = loudest
	attackRate, decayRate, sustainLevel, releaseRate           int
	waveSelect                                                 int

	keyOn bool
	phase float64
	stage envStage
	level float64 // current envelope amplitude, 0..1
}

func (op *fmOperator) trigger() {
	op.stage = envAttack
	op.phase = 0
}

func (op *fmOperator) release() {
	if op.stage != envIdle {
		op.stage = envRelease
	}
}

func (op *fmOperator) idle() bool {
	return op.stage == envIdle
}

// rateTime converts a 0-15 OPL rate field into an approximate stage
// duration in seconds; 0 is (near) infinitely slow, 15 is fastest. Not
// hardware-accurate, just monotonic and audibly plausible.
func rateTime(rate int) float64 {
	if rate <= 0 {
		return 8.0
	}
	return 2.0 / math.Pow(float64(rate), 1.6)
}

func (op *fmOperator) next(sampleRate, freqHz, modulation float64) float64 {
	if op.stage == envIdle {
		return 0
	}

	dt := 1.0 / sampleRate
	sustainLevel := 1 - float64(op.sustainLevel)/15.0

	switch op.stage {
	case envAttack:
		rate := rateTime(op.attackRate)
		op.level += dt / rate
		if op.level >= 1 {
			op.level = 1
			op.stage = envDecay
		}
	case envDecay:
		rate := rateTime(op.decayRate)
		op.level -= dt / rate
		if op.level <= sustainLevel {
			op.level = sustainLevel
			if op.enableSustainHold {
				op.stage = envSustain
			} else {
				op.stage = envRelease
			}
		}
	case envSustain:
		// held at sustainLevel while keyed
	case envRelease:
		rate := rateTime(op.releaseRate)
		op.level -= dt / rate
		if op.level <= 0 {
			op.level = 0
			op.stage = envIdle
		}
	}

	op.phase += 2 * math.Pi * freqHz * dt
	for op.phase > 2*math.Pi {
		op.phase -= 2 * math.Pi
	}

	out := waveform(op.waveSelect, op.phase+modulation)
	attenuation := 1 - float64(op.outputLevel)/63.0
	return out * op.level * attenuation
}

// waveform renders one of the OPL2/OPL3's 8 selectable operator
// waveforms; 0-3 are the OPL2 set, 4-7 add the OPL3 half-frequency
// variants. Approximate: real hardware uses a log-sine lookup table.
func waveform(sel int, phase float64) float64 {
	s := math.Sin(phase)
	switch sel & 0x07 {
	case 0: // sine
		return s
	case 1: // half sine
		if s < 0 {
			return 0
		}
		return s
	case 2: // absolute sine
		return math.Abs(s)
	case 3: // quarter sine (pulses, silent every other quarter)
		if math.Mod(phase, math.Pi) > math.Pi/2 {
			return 0
		}
		return math.Abs(s)
	case 4: // double-frequency sine, silent on negative half
		s2 := math.Sin(2 * phase)
		if s < 0 {
			return 0
		}
		return s2
	case 5: // double-frequency absolute sine, gated
		if s < 0 {
			return 0
		}
		return math.Abs(math.Sin(2 * phase))
	case 6: // square
		if s >= 0 {
			return 1
		}
		return -1
	default: // 7: derived square/sawtooth hybrid
		return 2 * (phase/(2*math.Pi) - math.Floor(phase/(2*math.Pi)+0.5))
	}
}
