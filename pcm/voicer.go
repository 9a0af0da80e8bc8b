// Package pcm implements the sampled-waveform side of the library: an
// active-sample list driven by NoteOn/NoteOff/Effect events, mixed with
// per-voice resampling into a caller-owned output buffer (C8).
package pcm

import (
	"log"

	"github.com/retrotonedev/gamemusic/dispatch"

	gm "github.com/retrotonedev/gamemusic"
)

// middleCMilliHertz is the frequency at which a PCMPatch's SampleRate
// field plays back at its recorded pitch.
const middleCMilliHertz = 261625

// volDampen divides the 0-255 volume scale down before mixing, the way
// the teacher's mixer shifts by 2 bits (>>2) to leave headroom for
// several simultaneously-sounding channels before the final clip.
const volDampen = 4

// voice is one currently-sounding PCM sample.
type voice struct {
	trackIndex int
	patch      *gm.PCMPatch
	rate       float64 // source samples advanced per output sample
	pos        float64 // position in source samples
	volume     int     // 0-255
}

// Voicer implements dispatch.Handler, maintaining the active-sample list
// and mixing it into a caller-supplied stereo int16 buffer a frame at a
// time (spec §4.6). Playback is monophonic per track: a NoteOn silences
// whatever that track was already sounding first.
type Voicer struct {
	Music      *gm.Music
	SampleRate int
	Logger     *log.Logger

	// BankMIDI, when set, switches this Voicer to "MIDI-over-PCM" mode:
	// NoteOn events on ChannelMIDI tracks resolve their MIDIPatch through
	// this bank instead of the music's own PatchBank, the PCM analogue of
	// opl.Converter.BankMIDI.
	BankMIDI *gm.PatchBank

	voices map[int]*voice
}

// NewVoicer returns a Voicer with an empty active-sample list.
func NewVoicer(music *gm.Music, sampleRate int) *Voicer {
	return &Voicer{Music: music, SampleRate: sampleRate, voices: make(map[int]*voice)}
}

func (v *Voicer) logf(format string, args ...any) {
	if v.Logger != nil {
		v.Logger.Printf(format, args...)
	}
}

func (v *Voicer) trackApplies(trackIndex int) bool {
	ti := v.Music.TrackInfo[trackIndex]
	if v.BankMIDI != nil {
		return ti.ChannelType == gm.ChannelMIDI || ti.ChannelType == gm.ChannelAny
	}
	return ti.ChannelType == gm.ChannelPCM || ti.ChannelType == gm.ChannelAny
}

// EndOfTrack and EndOfPattern implement dispatch.Handler; the active
// sample list is driven purely by NoteOn/NoteOff/Effect, so neither
// needs the trailing delay.
func (v *Voicer) EndOfTrack(int)   {}
func (v *Voicer) EndOfPattern(int) {}

func (v *Voicer) Tempo(_ *dispatch.Dispatcher, _, _, _ int, _ *gm.Event) bool { return true }

func (v *Voicer) NoteOn(_ *dispatch.Dispatcher, _, trackIndex, _ int, ev *gm.Event) bool {
	if !v.trackApplies(trackIndex) {
		return true
	}
	delete(v.voices, trackIndex)

	patch, ok := v.Music.Patches.At(ev.Instrument)
	if !ok {
		v.logf("pcm: dropping note on track %d, instrument %d out of range", trackIndex, ev.Instrument)
		return true
	}
	if v.BankMIDI != nil {
		if patch.Kind != gm.PatchMIDI {
			return true
		}
		target := patch.MIDI.MIDIPatchIndex()
		mpatch, ok := v.BankMIDI.At(target)
		if !ok {
			v.logf("pcm: dropping MIDI note, no entry in MIDI bank for patch #%d", target)
			return true
		}
		patch = mpatch
	}
	if patch.Kind != gm.PatchPCM {
		return true
	}
	if !patch.PCM.Valid() {
		v.logf("pcm: dropping note on track %d, patch loop points out of range", trackIndex)
		return true
	}

	volume := patch.DefaultVolume
	if ev.Velocity != gm.DefaultVelocity {
		volume = ev.Velocity
	}

	rate := float64(patch.PCM.SampleRate) * float64(ev.MilliHertz) / middleCMilliHertz / float64(v.SampleRate)
	v.voices[trackIndex] = &voice{
		trackIndex: trackIndex,
		patch:      &patch.PCM,
		rate:       rate,
		volume:     volume,
	}
	return true
}

func (v *Voicer) NoteOff(_ *dispatch.Dispatcher, _, trackIndex, _ int, _ *gm.Event) bool {
	if !v.trackApplies(trackIndex) {
		return true
	}
	delete(v.voices, trackIndex)
	return true
}

func (v *Voicer) Effect(_ *dispatch.Dispatcher, _, trackIndex, _ int, ev *gm.Event) bool {
	if !v.trackApplies(trackIndex) {
		return true
	}
	voc, ok := v.voices[trackIndex]
	if !ok {
		return true
	}
	switch ev.EffectType {
	case gm.EffectVolume:
		voc.volume = int(ev.EffectData)
	case gm.EffectPitchbendNote:
		voc.rate = float64(voc.patch.SampleRate) * float64(ev.EffectData) / middleCMilliHertz / float64(v.SampleRate)
	}
	return true
}

func (v *Voicer) Goto(_ *dispatch.Dispatcher, _, _, _ int, _ *gm.Event) bool { return true }

func (v *Voicer) Configuration(_ *dispatch.Dispatcher, _, _, _ int, _ *gm.Event) bool { return true }

// AllNotesOff clears the active-sample list, the PCM half of the
// orchestrator's allNotesOff sweep.
func (v *Voicer) AllNotesOff() {
	v.voices = make(map[int]*voice)
}

// fetchSample reads one sample of p's data at source-sample index i as a
// signed value on a common -32768..32767 scale, regardless of bit depth.
func fetchSample(p *gm.PCMPatch, i int) int {
	bytesPerSample := p.BitDepth / 8
	switch bytesPerSample {
	case 1:
		off := i * p.Channels
		if off >= len(p.Data) {
			return 0
		}
		return (int(p.Data[off]) << 8) - 32768
	case 2:
		off := i * p.Channels * 2
		if off+1 >= len(p.Data) {
			return 0
		}
		return int(int16(uint16(p.Data[off]) | uint16(p.Data[off+1])<<8))
	default:
		return 0
	}
}

// Mix adds this voicer's active samples into buf (interleaved stereo
// int16, len(buf)/2 frames), using MixPCM for saturating accumulation
// and removing any voice that runs off the end of a non-looped sample.
func (v *Voicer) Mix(buf []int16) {
	frames := len(buf) / 2
	for idx, voc := range v.voices {
		p := voc.patch
		loopLen := p.LoopEnd
		if loopLen == 0 {
			loopLen = p.SampleCount()
		}
		if loopLen == 0 {
			delete(v.voices, idx)
			continue
		}

		scaled := voc.volume * 32768 / 255 / volDampen

		finished := false
		for f := 0; f < frames; f++ {
			src := fetchSample(p, int(voc.pos))
			samp := src * scaled / 32768

			l, r := int(buf[f*2+0]), int(buf[f*2+1])
			buf[f*2+0] = int16(MixPCM(l, samp))
			buf[f*2+1] = int16(MixPCM(r, samp))

			voc.pos += voc.rate
			if int(voc.pos) >= loopLen {
				if p.Looped() {
					voc.pos -= float64(loopLen - p.LoopStart)
				} else {
					finished = true
					break
				}
			}
		}
		if finished {
			delete(v.voices, idx)
		}
	}
}

// MixPCM saturates two signed 16-bit samples into one without
// overflowing int16, reproduced from the teacher's saturating-add
// approach (mixer_scalar.go accumulates into a wider buffer and clips
// only at final output) combined with the original library's
// `mix_pcm` curve, which blends toward the rails instead of hard
// clipping once both inputs carry the same sign.
func MixPCM(a, b int) int {
	const sampMax = 32767
	const sampMin = -32768

	ua := a + 32768
	ub := b + 32768
	var m int64
	if ua < 32768 && ub < 32768 {
		m = int64(ua) * int64(ub) / 32768
	} else {
		m = 2*(int64(ua)+int64(ub)) - int64(ua)*int64(ub)/32768 - 65536
	}
	if m == 65536 {
		m = 65535
	}
	result := int(m) - 32768
	if result > sampMax {
		return sampMax
	}
	if result < sampMin {
		return sampMin
	}
	return result
}
