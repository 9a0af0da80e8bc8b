package midi

import (
	"testing"

	gitlabmidi "gitlab.com/gomidi/midi/v2"

	"github.com/retrotonedev/gamemusic/dispatch"

	gm "github.com/retrotonedev/gamemusic"
)

func gmPatch() gm.Patch {
	return gm.Patch{Kind: gm.PatchMIDI, MIDI: gm.MIDIPatch{MIDIPatchNum: 40}}
}

func singleNoteMusic() *gm.Music {
	m := gm.NewMusic()
	m.TicksPerTrack = 8
	m.TrackInfo = []gm.TrackInfo{{ChannelType: gm.ChannelMIDI, ChannelIndex: 0}}
	m.Patches.Add(gmPatch())
	m.Patterns = []gm.Pattern{
		{
			gm.Track{
				{Delay: 1, Event: gm.Event{Kind: gm.EventNoteOn, Instrument: 0, MilliHertz: 440000, Velocity: gm.DefaultVelocity}},
				{Delay: 4, Event: gm.Event{Kind: gm.EventNoteOff}},
			},
		},
	}
	m.PatternOrder = []int{0}
	return m
}

func TestConverterEmitsProgramChangeThenNoteOnOff(t *testing.T) {
	m := singleNoteMusic()
	var out []Message
	conv := NewConverter(func(msg Message) { out = append(out, msg) }, m, 0)

	if _, err := conv.Convert(dispatch.PatternRowTrack, 1); err != nil {
		t.Fatalf("Convert: %v", err)
	}

	var sawProgramChange, sawNoteOn, sawNoteOff bool
	for _, msg := range out {
		if !msg.HasMessage {
			continue
		}
		switch msg.Msg.Type() {
		case gitlabmidi.ProgramChangeMsg:
			sawProgramChange = true
		case gitlabmidi.NoteOnMsg:
			sawNoteOn = true
		case gitlabmidi.NoteOffMsg:
			sawNoteOff = true
		}
	}
	if !sawProgramChange {
		t.Error("expected a program-change message for the first note on a channel")
	}
	if !sawNoteOn {
		t.Error("expected a note-on message")
	}
	if !sawNoteOff {
		t.Error("expected a note-off message")
	}
}

func TestConverterBasicMIDIOnlyRejectsTempoChange(t *testing.T) {
	m := gm.NewMusic()
	m.TicksPerTrack = 4
	m.TrackInfo = []gm.TrackInfo{{ChannelType: gm.ChannelMIDI}}
	tempo := gm.DefaultTempo()
	tempo.SetBPM(140)
	m.Patterns = []gm.Pattern{
		{gm.Track{{Delay: 0, Event: gm.Event{Kind: gm.EventTempo, Tempo: tempo}}}},
	}
	m.PatternOrder = []int{0}

	conv := NewConverter(func(Message) {}, m, BasicMIDIOnly)
	if _, err := conv.Convert(dispatch.PatternRowTrack, 1); err == nil {
		t.Fatal("expected an error when a tempo change occurs under BasicMIDIOnly")
	}
}

func TestConverterIgnoresNonMIDITracksWithoutUsePatchIndex(t *testing.T) {
	m := gm.NewMusic()
	m.TicksPerTrack = 4
	m.TrackInfo = []gm.TrackInfo{{ChannelType: gm.ChannelOPL}}
	m.Patches.Add(gmPatch())
	m.Patterns = []gm.Pattern{
		{gm.Track{{Delay: 0, Event: gm.Event{Kind: gm.EventNoteOn, Instrument: 0, MilliHertz: 440000, Velocity: gm.DefaultVelocity}}}},
	}
	m.PatternOrder = []int{0}

	var out []Message
	conv := NewConverter(func(msg Message) { out = append(out, msg) }, m, 0)
	if _, err := conv.Convert(dispatch.PatternRowTrack, 1); err != nil {
		t.Fatalf("Convert: %v", err)
	}
	for _, msg := range out {
		if msg.HasMessage {
			t.Errorf("expected no MIDI messages for a non-MIDI track, got %+v", msg)
		}
	}
}

func TestConverterPitchbendOnOffGridNote(t *testing.T) {
	m := gm.NewMusic()
	m.TicksPerTrack = 8
	m.TrackInfo = []gm.TrackInfo{{ChannelType: gm.ChannelMIDI, ChannelIndex: 0}}
	m.Patches.Add(gmPatch())
	// 450000 mHz is not exactly on a MIDI note boundary.
	m.Patterns = []gm.Pattern{
		{gm.Track{
			{Delay: 0, Event: gm.Event{Kind: gm.EventNoteOn, Instrument: 0, MilliHertz: 450000, Velocity: gm.DefaultVelocity}},
		}},
	}
	m.PatternOrder = []int{0}

	var out []Message
	conv := NewConverter(func(msg Message) { out = append(out, msg) }, m, 0)
	if _, err := conv.Convert(dispatch.PatternRowTrack, 1); err != nil {
		t.Fatalf("Convert: %v", err)
	}

	var sawPitchbend bool
	for _, msg := range out {
		if msg.HasMessage && msg.Msg.Type() == gitlabmidi.PitchBendMsg {
			sawPitchbend = true
		}
	}
	if !sawPitchbend {
		t.Error("expected a pitchbend message for an off-grid note frequency")
	}
}
