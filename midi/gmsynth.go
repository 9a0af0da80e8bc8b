package midi

import (
	"io"

	"github.com/sinshu/go-meltysynth/meltysynth"
)

// GMSynth renders a stream of Converter Messages to PCM using an
// embedded General MIDI soft-synth, the MIDI-backend analogue of the
// opl.Emulator collaborator: where EventConverter_MIDI only ever
// produced byte messages for an external device, this gives the MIDI
// half of the library an actual renderer when a SoundFont is supplied.
type GMSynth struct {
	synth *meltysynth.Synthesizer
}

// NewGMSynth loads a SoundFont2 bank and prepares a synthesizer at the
// given sample rate.
func NewGMSynth(soundFont io.Reader, sampleRate int) (*GMSynth, error) {
	sf, err := meltysynth.NewSoundFont(soundFont)
	if err != nil {
		return nil, err
	}
	settings := meltysynth.NewSynthesizerSettings(int32(sampleRate))
	synth, err := meltysynth.NewSynthesizer(sf, settings)
	if err != nil {
		return nil, err
	}
	return &GMSynth{synth: synth}, nil
}

// Write feeds one channel message to the synthesizer, the way
// Converter.Sink would be wired when the destination is this renderer
// rather than a wire protocol. Tempo-only Messages (HasMessage false)
// are ignored; tempo is the orchestrator's concern, not the synth's.
func (g *GMSynth) Write(msg Message) {
	if !msg.HasMessage {
		return
	}
	raw := msg.Msg.Bytes()
	if len(raw) == 0 {
		return
	}
	status := raw[0]
	var channel, command int32
	if status >= 0x80 && status < 0xF0 {
		channel = int32(status & 0x0F)
		command = int32(status & 0xF0)
	} else {
		command = int32(status)
	}
	var data1, data2 int32
	if len(raw) > 1 {
		data1 = int32(raw[1])
	}
	if len(raw) > 2 {
		data2 = int32(raw[2])
	}
	g.synth.ProcessMidiMessage(channel, command, data1, data2)
}

// AllNotesOff silences every channel, mirroring the orchestrator's
// allNotesOff sweep for the MIDI-over-OPL/PCM backends.
func (g *GMSynth) AllNotesOff() {
	for ch := int32(0); ch < midiChannelCount; ch++ {
		g.synth.ProcessMidiMessage(ch, 0xB0, 123, 0)
	}
}

// Render fills left/right with the next block of stereo samples,
// matching meltysynth's own Render(left, right []float32) signature.
func (g *GMSynth) Render(left, right []float32) {
	g.synth.Render(left, right)
}
