package dispatch

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	gm "github.com/retrotonedev/gamemusic"
)

func twoTrackMusic() *gm.Music {
	m := gm.NewMusic()
	m.TicksPerTrack = 8
	m.TrackInfo = []gm.TrackInfo{{ChannelType: gm.ChannelOPL}, {ChannelType: gm.ChannelOPL}}
	m.Patterns = []gm.Pattern{
		{
			gm.Track{
				{Delay: 0, Event: gm.Event{Kind: gm.EventNoteOn, Instrument: 0, MilliHertz: 440000}},
				{Delay: 4, Event: gm.Event{Kind: gm.EventNoteOff}},
			},
			gm.Track{
				{Delay: 2, Event: gm.Event{Kind: gm.EventNoteOn, Instrument: 1, MilliHertz: 220000}},
				{Delay: 4, Event: gm.Event{Kind: gm.EventNoteOff}},
			},
		},
	}
	m.PatternOrder = []int{0}
	return m
}

type recordingHandler struct {
	kinds []gm.EventKind
}

func (r *recordingHandler) Tempo(_ *Dispatcher, _, _, _ int, ev *gm.Event) bool {
	r.kinds = append(r.kinds, ev.Kind)
	return true
}
func (r *recordingHandler) NoteOn(_ *Dispatcher, _, _, _ int, ev *gm.Event) bool {
	r.kinds = append(r.kinds, ev.Kind)
	return true
}
func (r *recordingHandler) NoteOff(_ *Dispatcher, _, _, _ int, ev *gm.Event) bool {
	r.kinds = append(r.kinds, ev.Kind)
	return true
}
func (r *recordingHandler) Effect(_ *Dispatcher, _, _, _ int, ev *gm.Event) bool {
	r.kinds = append(r.kinds, ev.Kind)
	return true
}
func (r *recordingHandler) Goto(_ *Dispatcher, _, _, _ int, ev *gm.Event) bool {
	r.kinds = append(r.kinds, ev.Kind)
	return true
}
func (r *recordingHandler) Configuration(_ *Dispatcher, _, _, _ int, ev *gm.Event) bool {
	r.kinds = append(r.kinds, ev.Kind)
	return true
}
func (r *recordingHandler) EndOfTrack(int)   {}
func (r *recordingHandler) EndOfPattern(int) {}

func TestPatternRowTrackDeliversAllEvents(t *testing.T) {
	m := twoTrackMusic()
	h := &recordingHandler{}
	d := NewDispatcher()
	d.HandleAllEvents(PatternRowTrack, m, 1, h)

	if len(h.kinds) != 4 {
		t.Fatalf("expected 4 events, got %d: %v", len(h.kinds), h.kinds)
	}
}

func TestMergeNoteOffSortsBeforeNoteOnAtSameTick(t *testing.T) {
	m := gm.NewMusic()
	m.TicksPerTrack = 4
	m.TrackInfo = []gm.TrackInfo{{ChannelType: gm.ChannelOPL}, {ChannelType: gm.ChannelOPL}}
	m.Patterns = []gm.Pattern{
		{
			gm.Track{{Delay: 2, Event: gm.Event{Kind: gm.EventNoteOn}}},
			gm.Track{{Delay: 2, Event: gm.Event{Kind: gm.EventNoteOff}}},
		},
	}
	m.PatternOrder = []int{0}

	h := &recordingHandler{}
	d := NewDispatcher()
	d.HandleAllEvents(PatternRowTrack, m, 1, h)

	if len(h.kinds) != 2 || h.kinds[0] != gm.EventNoteOff || h.kinds[1] != gm.EventNoteOn {
		t.Fatalf("expected [NoteOff, NoteOn], got %v", h.kinds)
	}
}

func TestOrderRowTrackRespectsPatternOrderRepeats(t *testing.T) {
	m := gm.NewMusic()
	m.TicksPerTrack = 2
	m.TrackInfo = []gm.TrackInfo{{ChannelType: gm.ChannelOPL}}
	m.Patterns = []gm.Pattern{
		{gm.Track{{Delay: 0, Event: gm.Event{Kind: gm.EventNoteOn}}}},
	}
	m.PatternOrder = []int{0, 0, 0}

	h := &recordingHandler{}
	d := NewDispatcher()
	d.HandleAllEvents(OrderRowTrack, m, 1, h)

	if len(h.kinds) != 3 {
		t.Fatalf("expected the single pattern visited 3 times, got %d events", len(h.kinds))
	}
}

func TestGotoSkipsForward(t *testing.T) {
	m := gm.NewMusic()
	m.TicksPerTrack = 8
	m.TrackInfo = []gm.TrackInfo{{ChannelType: gm.ChannelOPL}}
	m.Patterns = []gm.Pattern{
		{
			gm.Track{
				{Delay: 0, Event: gm.Event{Kind: gm.EventGoto, GotoType: gm.GotoSpecificOrder, TargetOrder: 0, TargetRow: 1}},
			},
		},
		{
			gm.Track{
				{Delay: 0, Event: gm.Event{Kind: gm.EventNoteOn}},
				{Delay: 1, Event: gm.Event{Kind: gm.EventNoteOff}},
			},
		},
	}
	m.PatternOrder = []int{0, 1}

	h := &gotoFollowingHandler{}
	d := NewDispatcher()
	d.HandleAllEvents(OrderRowTrack, m, 1, h)

	// The handler follows the goto to order 0, row 1, which skips past the
	// goto's own row, so the goto is seen once; order 1 then plays its
	// NoteOn and NoteOff: only Goto, NoteOn, NoteOff are seen.
	if len(h.kinds) == 0 || h.kinds[0] != gm.EventGoto {
		t.Fatalf("expected goto to be delivered first, got %v", h.kinds)
	}
	want := []gm.EventKind{gm.EventGoto, gm.EventNoteOn, gm.EventNoteOff}
	if len(h.kinds) != len(want) {
		t.Fatalf("expected %v, got %v", want, h.kinds)
	}
	for i := range want {
		if h.kinds[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, h.kinds)
		}
	}
}

// gotoFollowingHandler records events like recordingHandler and also
// performs every goto it is given.
type gotoFollowingHandler struct {
	recordingHandler
}

func (g *gotoFollowingHandler) Goto(d *Dispatcher, delay, trackIndex, patternIndex int, ev *gm.Event) bool {
	d.PerformGoto(ev)
	return g.recordingHandler.Goto(d, delay, trackIndex, patternIndex, ev)
}

// threeOrderMusic builds a 3-pattern, single-track song (default tempo,
// 2 ticks per pattern) where each pattern advances the dispatcher's
// microsecond clock by its full two ticks: a NoteOn at row 0, a NoteOff
// a tick later, then one tick to the pattern's end. Used to seek to a
// time that lands mid-pattern.
func threeOrderMusic() *gm.Music {
	m := gm.NewMusic()
	m.TicksPerTrack = 2
	m.TrackInfo = []gm.TrackInfo{{ChannelType: gm.ChannelOPL}}
	pattern := gm.Pattern{gm.Track{
		{Delay: 0, Event: gm.Event{Kind: gm.EventNoteOn}},
		{Delay: 1, Event: gm.Event{Kind: gm.EventNoteOff}},
	}}
	m.Patterns = []gm.Pattern{pattern, pattern, pattern}
	m.PatternOrder = []int{0, 1, 2}
	m.LoopDest = -1
	return m
}

// TestSeekByTimeToMidPatternPopulatesNextPosition covers spec's
// seek-to-mid-pattern case: SeekByTime must not only report where the
// traversal stopped, but also where the next segment resumes from, so
// live playback (playback.Orchestrator.SeekByTime) can pick up from
// exactly that point on its next Mix call instead of replaying the
// order it just sought into.
func TestSeekByTimeToMidPatternPopulatesNextPosition(t *testing.T) {
	m := threeOrderMusic()

	// Default tempo is 120000us/tick. Pattern 0 delivers its NoteOff at
	// 120000us and ends at 240000us; pattern 1 delivers its NoteOn at
	// 240000us and its NoteOff at 360000us. A target of 300000us falls
	// between those two, stopping the traversal mid-way through order 1.
	pos := SeekByTime(m, 300*time.Millisecond, 1)

	if pos.OrderIndex != 1 {
		t.Fatalf("OrderIndex = %d, want 1", pos.OrderIndex)
	}
	if pos.PatternIndex != 1 {
		t.Fatalf("PatternIndex = %d, want 1", pos.PatternIndex)
	}
	if pos.Row != 1 {
		t.Fatalf("Row = %d, want 1 (mid-pattern)", pos.Row)
	}
	if pos.StartRow != 0 {
		t.Fatalf("StartRow = %d, want 0", pos.StartRow)
	}
	if pos.NextOrderIndex != 2 {
		t.Fatalf("NextOrderIndex = %d, want 2 (the order after the one sought into)", pos.NextOrderIndex)
	}
	if pos.NextPatternIndex != 2 {
		t.Fatalf("NextPatternIndex = %d, want 2", pos.NextPatternIndex)
	}
}

// TestHandleAllEventsPreservesEventMultiset checks the property from
// spec §8 for the two Pattern_* orderings: both deliver every stored
// event exactly once for a single pass over storage order, just in a
// different sequence.
func TestHandleAllEventsPreservesEventMultiset(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("Pattern_Row_Track and Pattern_Track_Row see the same event count",
		prop.ForAll(
			func(nTracks, nEvents int) bool {
				m := gm.NewMusic()
				m.TicksPerTrack = nEvents + 1
				m.TrackInfo = make([]gm.TrackInfo, nTracks)
				pattern := make(gm.Pattern, nTracks)
				for t := 0; t < nTracks; t++ {
					track := make(gm.Track, nEvents)
					for e := 0; e < nEvents; e++ {
						track[e] = gm.TrackEvent{Delay: 1, Event: gm.Event{Kind: gm.EventNoteOn}}
					}
					pattern[t] = track
				}
				m.Patterns = []gm.Pattern{pattern}
				m.PatternOrder = []int{0}

				rt := &recordingHandler{}
				NewDispatcher().HandleAllEvents(PatternRowTrack, m, 1, rt)
				tr := &recordingHandler{}
				NewDispatcher().HandleAllEvents(PatternTrackRow, m, 1, tr)

				return len(rt.kinds) == len(tr.kinds) && len(rt.kinds) == nTracks*nEvents
			},
			gen.IntRange(1, 4),
			gen.IntRange(0, 4),
		))

	properties.TestingRun(t)
}
