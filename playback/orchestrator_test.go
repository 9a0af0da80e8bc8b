package playback

import (
	"testing"

	gm "github.com/retrotonedev/gamemusic"
)

// singleNoteMusic is a one-track, one-pattern, two-row song: a PCM note
// fired at row 0 on a 64-byte, non-looping sample. The patch has no
// DefaultVolume, so the note plays at volume 0 unless a test sets one.
func singleNoteMusic() *gm.Music {
	m := gm.NewMusic()
	m.TicksPerTrack = 2
	m.TrackInfo = []gm.TrackInfo{{ChannelType: gm.ChannelPCM}}

	data := make([]byte, 64)
	for i := range data {
		data[i] = byte(i * 4)
	}
	m.Patches.Add(gm.Patch{
		Kind: gm.PatchPCM,
		PCM:  gm.PCMPatch{SampleRate: 22050, BitDepth: 8, Channels: 1, Data: data},
	})

	m.Patterns = []gm.Pattern{{
		gm.Track{{Delay: 0, Event: gm.Event{
			Kind: gm.EventNoteOn, Instrument: 0, MilliHertz: 261625, Velocity: gm.DefaultVelocity,
		}}},
	}}
	m.PatternOrder = []int{0}
	m.LoopDest = -1
	return m
}

func TestOrchestratorMixesAndEnds(t *testing.T) {
	o := NewOrchestrator(22050)
	o.SetLoopCount(1)
	m := singleNoteMusic()
	m.Patches.Patches[0].DefaultVolume = 255
	o.SetSong(m)

	buf := make([]int16, 32)
	sawSound := false
	done := false
	for i := 0; i < 10000 && !done; i++ {
		for j := range buf {
			buf[j] = 0
		}
		done = o.Mix(buf)
		for _, s := range buf {
			if s != 0 {
				sawSound = true
			}
		}
	}
	if !sawSound {
		t.Error("expected non-silent output while the note is active")
	}
	if !done {
		t.Fatal("expected playback to end within the iteration budget")
	}
	if !o.Position().End {
		t.Error("Position().End should report true once playback ends")
	}
	if err := o.Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestOrchestratorAllNotesOffSilencesPCM(t *testing.T) {
	o := NewOrchestrator(22050)
	o.SetLoopCount(1)
	o.SetSong(singleNoteMusic())

	buf := make([]int16, 32)
	o.Mix(buf)
	o.AllNotesOff()

	done := false
	for i := 0; i < 50 && !done; i++ {
		for j := range buf {
			buf[j] = 0
		}
		done = o.Mix(buf)
		for _, s := range buf {
			if s != 0 {
				t.Fatal("expected silence after AllNotesOff")
			}
		}
	}
}

// threeOrderPCMMusic is a 3-pattern song, two ticks per pattern, each
// pattern holding a NoteOn at row 0 and a NoteOff at row 1 on a single
// PCM track — enough for the dispatcher's microsecond clock to advance
// once per pattern, so a time-based seek can land mid-song.
func threeOrderPCMMusic() *gm.Music {
	m := gm.NewMusic()
	m.TicksPerTrack = 2
	m.TrackInfo = []gm.TrackInfo{{ChannelType: gm.ChannelPCM}}

	data := make([]byte, 64)
	for i := range data {
		data[i] = byte(i * 4)
	}
	m.Patches.Add(gm.Patch{
		Kind: gm.PatchPCM,
		PCM:  gm.PCMPatch{SampleRate: 22050, BitDepth: 8, Channels: 1, Data: data},
	})

	pattern := gm.Pattern{gm.Track{
		{Delay: 0, Event: gm.Event{Kind: gm.EventNoteOn, Instrument: 0, MilliHertz: 261625, Velocity: gm.DefaultVelocity}},
		{Delay: 1, Event: gm.Event{Kind: gm.EventNoteOff}},
	}}
	m.Patterns = []gm.Pattern{pattern, pattern, pattern}
	m.PatternOrder = []int{0, 1, 2}
	m.LoopDest = -1
	return m
}

// TestOrchestratorSeekByTimeThenMixAdvancesToNextOrder guards against the
// orchestrator replaying the order it just sought into: once the pattern
// it landed in (order 1) runs out, playback must advance to order 2, not
// loop back onto order 1.
func TestOrchestratorSeekByTimeThenMixAdvancesToNextOrder(t *testing.T) {
	o := NewOrchestrator(22050)
	o.SetLoopCount(1)
	o.SetSong(threeOrderPCMMusic())

	o.SeekByTime(200, 1)
	if got := o.Position().Order; got != 1 {
		t.Fatalf("SeekByTime(200, 1) landed at order %d, want 1", got)
	}

	buf := make([]int16, 4096)
	reachedOrder2 := false
	for i := 0; i < 200 && !reachedOrder2; i++ {
		for j := range buf {
			buf[j] = 0
		}
		done := o.Mix(buf)
		if o.Position().Order == 2 {
			reachedOrder2 = true
		}
		if done {
			break
		}
	}
	if !reachedOrder2 {
		t.Fatalf("expected playback to advance to order 2 after seeking into order 1, got order %d", o.Position().Order)
	}
}

func TestOrchestratorSeekByOrderPastEndSetsEnd(t *testing.T) {
	o := NewOrchestrator(22050)
	o.SetSong(singleNoteMusic())

	o.SeekByOrder(5)
	if !o.Position().End {
		t.Fatal("expected End once the destination order is past the song")
	}
}
