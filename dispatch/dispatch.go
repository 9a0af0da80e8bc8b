// Package dispatch walks a Music's patterns and delivers each Event to a
// Handler in one of four traversal orders (spec §4.3). It is the only
// place that knows how to merge tracks chronologically, honour a
// GotoEvent, or turn ticks into microseconds; converters, the playback
// orchestrator and length/seek all build on it.
package dispatch

import (
	"math"
	"sort"
	"time"

	gm "github.com/retrotonedev/gamemusic"
)

// Order selects how handleAllEvents walks a song, mirroring the four
// traversal orderings from spec §4.3.
type Order int

const (
	// PatternRowTrack merges every track in a pattern into one chronological
	// stream, storage order, ignoring the play order list.
	PatternRowTrack Order = iota
	// PatternTrackRow processes each track of a pattern in full before the
	// next, storage order, ignoring the play order list.
	PatternTrackRow
	// OrderRowTrack is PatternRowTrack but following music.PatternOrder, so
	// patterns may be visited more than once.
	OrderRowTrack
	// OrderTrackRow is PatternTrackRow but following music.PatternOrder.
	OrderTrackRow
)

// Position describes where in the song a traversal stopped.
type Position struct {
	OrderIndex, PatternIndex         int
	NextOrderIndex, NextPatternIndex int
	StartRow, Row                    int
	Loop                             int
	Microseconds                     float64
}

// Handler receives events during a traversal. Every per-event method
// returns true to keep processing, false to stop handleAllEvents and
// return the Position of that event. The Dispatcher argument lets a
// handler read the running microsecond clock or, from Goto, call
// PerformGoto to honour the jump.
type Handler interface {
	Tempo(d *Dispatcher, delay, trackIndex, patternIndex int, ev *gm.Event) bool
	NoteOn(d *Dispatcher, delay, trackIndex, patternIndex int, ev *gm.Event) bool
	NoteOff(d *Dispatcher, delay, trackIndex, patternIndex int, ev *gm.Event) bool
	Effect(d *Dispatcher, delay, trackIndex, patternIndex int, ev *gm.Event) bool
	Goto(d *Dispatcher, delay, trackIndex, patternIndex int, ev *gm.Event) bool
	Configuration(d *Dispatcher, delay, trackIndex, patternIndex int, ev *gm.Event) bool

	// EndOfTrack is called once a track runs dry, with the number of ticks
	// of silence to the end of the pattern. Never called for the merged
	// (Row_Track) orderings.
	EndOfTrack(delay int)
	// EndOfPattern is called once every track in a pattern has been
	// exhausted, with the number of ticks of silence to the end of the
	// pattern.
	EndOfPattern(delay int)
}

// Dispatcher carries the state that spans the events of a single
// handleAllEvents call: the current tempo (so delays can be turned into
// microseconds) and a single pending-goto slot.
type Dispatcher struct {
	tempo      gm.Tempo
	us         float64
	pendingSet bool
	pending    gm.Event
}

// NewDispatcher returns a Dispatcher ready for one HandleAllEvents call.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Microseconds returns the running clock: the time elapsed since the
// start of the traversal, up to the event currently being delivered.
func (d *Dispatcher) Microseconds() float64 { return d.us }

// PerformGoto records ev as the jump to make before the next row is
// processed. Only meaningful from within a Handler.Goto callback during
// an Order_Row_Track/Order_Track_Row traversal; a goto recorded during a
// Pattern_* traversal (which does not follow the play order) is ignored.
func (d *Dispatcher) PerformGoto(ev *gm.Event) {
	d.pendingSet = true
	d.pending = *ev
}

// HandleAllEvents walks music in the given order, delivering every event
// to h. targetLoopCount is how many times in total an Order_* traversal
// plays the song: the first pass, then repeats from its loop destination
// (0 means loop until h returns false).
func (d *Dispatcher) HandleAllEvents(order Order, music *gm.Music, targetLoopCount int, h Handler) Position {
	d.tempo = music.InitialTempo
	d.us = 0
	d.pendingSet = false
	pos := Position{Loop: 1}

	switch order {
	case PatternRowTrack:
		for patternIdx := range music.Patterns {
			row, stopped := d.processMergeFrom(music, music.Patterns[patternIdx], patternIdx, 0, h)
			pos.PatternIndex = patternIdx
			pos.Row = row
			pos.Microseconds = d.us
			if stopped {
				return pos
			}
		}
	case PatternTrackRow:
		for patternIdx := range music.Patterns {
			row, stopped := d.processSeparateFrom(music, music.Patterns[patternIdx], patternIdx, 0, h)
			pos.PatternIndex = patternIdx
			pos.Row = row
			pos.Microseconds = d.us
			if stopped {
				return pos
			}
		}
	case OrderRowTrack, OrderTrackRow:
		d.runOrder(order, music, targetLoopCount, h, &pos)
	}
	return pos
}

func (d *Dispatcher) runOrder(order Order, music *gm.Music, targetLoopCount int, h Handler, pos *Position) {
	if len(music.PatternOrder) == 0 {
		return
	}

	loop := 1
	orderIdx := 0
	startRow := 0
	for {
		if orderIdx < 0 || orderIdx >= len(music.PatternOrder) {
			loop++
			if targetLoopCount != 0 && loop > targetLoopCount {
				return
			}
			dest := music.LoopDest
			if dest < 0 {
				dest = 0
			}
			orderIdx = dest
			startRow = 0
			continue
		}

		patternIdx := music.PatternOrder[orderIdx]
		if patternIdx < 0 || patternIdx >= len(music.Patterns) {
			orderIdx++
			startRow = 0
			continue
		}
		pattern := music.Patterns[patternIdx]

		var row int
		var stopped bool
		if order == OrderRowTrack {
			row, stopped = d.processMergeFrom(music, pattern, patternIdx, startRow, h)
		} else {
			row, stopped = d.processSeparateFrom(music, pattern, patternIdx, startRow, h)
		}

		pos.OrderIndex = orderIdx
		pos.PatternIndex = patternIdx
		pos.Row = row
		pos.StartRow = startRow
		pos.Loop = loop
		pos.Microseconds = d.us
		nextOrderIdx := orderIdx + 1
		pos.NextOrderIndex = nextOrderIdx
		if nextOrderIdx >= 0 && nextOrderIdx < len(music.PatternOrder) {
			pos.NextPatternIndex = music.PatternOrder[nextOrderIdx]
		} else {
			pos.NextPatternIndex = 0
		}
		if stopped {
			return
		}

		if d.pendingSet {
			g := d.pending
			d.pendingSet = false
			switch g.GotoType {
			case gm.GotoCurrentPattern:
				startRow = g.TargetRow
			case gm.GotoNextPattern:
				orderIdx++
				startRow = g.TargetRow
			case gm.GotoSpecificOrder:
				orderIdx = g.TargetOrder
				startRow = g.TargetRow
			}
			continue
		}
		orderIdx++
		startRow = 0
	}
}

type mergedEvent struct {
	absTime    int
	trackIndex int
	event      gm.Event
}

// mergeTracks flattens a pattern's tracks into one chronological stream,
// breaking ties at equal tick by putting NoteOff events first so a new
// note never has to share a voice with one that's about to release
// (spec §4.3 "NoteOff sorts before other events at the same tick").
func mergeTracks(pattern gm.Pattern) []mergedEvent {
	var full []mergedEvent
	for trackIdx, track := range pattern {
		t := 0
		for _, te := range track {
			t += te.Delay
			full = append(full, mergedEvent{absTime: t, trackIndex: trackIdx, event: te.Event})
		}
	}
	sort.SliceStable(full, func(i, j int) bool {
		a, b := full[i], full[j]
		if a.absTime != b.absTime {
			return a.absTime < b.absTime
		}
		aOff := a.event.Kind == gm.EventNoteOff
		bOff := b.event.Kind == gm.EventNoteOff
		if aOff != bOff {
			return aOff
		}
		return false
	})
	return full
}

func (d *Dispatcher) processMergeFrom(music *gm.Music, pattern gm.Pattern, patternIndex, startRow int, h Handler) (row int, stopped bool) {
	merged := mergeTracks(pattern)
	trackTime := startRow
	for _, me := range merged {
		if me.absTime < startRow {
			continue
		}
		delay := me.absTime - trackTime
		trackTime = me.absTime
		ev := me.event
		if !d.deliver(delay, me.trackIndex, patternIndex, &ev, h) {
			return trackTime, true
		}
	}
	d.us += float64(music.TicksPerTrack-trackTime) * d.tempo.UsPerTick
	h.EndOfPattern(music.TicksPerTrack - trackTime)
	return music.TicksPerTrack, false
}

func (d *Dispatcher) processSeparateFrom(music *gm.Music, pattern gm.Pattern, patternIndex, startRow int, h Handler) (row int, stopped bool) {
	maxTrackTime := 0
	for trackIdx, track := range pattern {
		trackTime := 0
		for _, te := range track {
			trackTime += te.Delay
			if trackTime < startRow {
				continue
			}
			ev := te.Event
			if !d.deliver(te.Delay, trackIdx, patternIndex, &ev, h) {
				return trackTime, true
			}
		}
		if trackTime > maxTrackTime {
			maxTrackTime = trackTime
		}
		h.EndOfTrack(music.TicksPerTrack - trackTime)
	}
	h.EndOfPattern(music.TicksPerTrack - maxTrackTime)
	return music.TicksPerTrack, false
}

func (d *Dispatcher) deliver(delay int, trackIndex, patternIndex int, ev *gm.Event, h Handler) bool {
	d.us += float64(delay) * d.tempo.UsPerTick

	switch ev.Kind {
	case gm.EventTempo:
		cont := h.Tempo(d, delay, trackIndex, patternIndex, ev)
		d.tempo = ev.Tempo
		return cont
	case gm.EventNoteOn:
		return h.NoteOn(d, delay, trackIndex, patternIndex, ev)
	case gm.EventNoteOff:
		return h.NoteOff(d, delay, trackIndex, patternIndex, ev)
	case gm.EventEffect:
		return h.Effect(d, delay, trackIndex, patternIndex, ev)
	case gm.EventGoto:
		return h.Goto(d, delay, trackIndex, patternIndex, ev)
	case gm.EventConfiguration:
		return h.Configuration(d, delay, trackIndex, patternIndex, ev)
	}
	return true
}

// seekHandler is a silent Handler used by Length and SeekByTime: it acts
// only on Goto (so looped/jumping songs are measured correctly) and
// stops once the running clock reaches target.
type seekHandler struct {
	targetUs float64
}

func (s *seekHandler) cont(d *Dispatcher) bool { return d.Microseconds() < s.targetUs }

func (s *seekHandler) Tempo(d *Dispatcher, _, _, _ int, _ *gm.Event) bool         { return s.cont(d) }
func (s *seekHandler) NoteOn(d *Dispatcher, _, _, _ int, _ *gm.Event) bool        { return s.cont(d) }
func (s *seekHandler) NoteOff(d *Dispatcher, _, _, _ int, _ *gm.Event) bool       { return s.cont(d) }
func (s *seekHandler) Effect(d *Dispatcher, _, _, _ int, _ *gm.Event) bool        { return s.cont(d) }
func (s *seekHandler) Configuration(d *Dispatcher, _, _, _ int, _ *gm.Event) bool { return s.cont(d) }
func (s *seekHandler) Goto(d *Dispatcher, _, _, _ int, ev *gm.Event) bool {
	d.PerformGoto(ev)
	return s.cont(d)
}
func (s *seekHandler) EndOfTrack(int)   {}
func (s *seekHandler) EndOfPattern(int) {}

// Length returns how long music plays for when it is played loopCount
// times in total: the first pass, then repeats from its loop destination
// (order 0 when it has none). Every pattern counts for its full
// TicksPerTrack. With loopCount 0 the song repeats without end and
// Length does not return.
func Length(music *gm.Music, loopCount int) time.Duration {
	d := NewDispatcher()
	h := &seekHandler{targetUs: math.MaxFloat64}
	pos := d.HandleAllEvents(OrderRowTrack, music, loopCount, h)
	return time.Duration(pos.Microseconds * float64(time.Microsecond))
}

// SeekByTime returns the Position reached after target has elapsed,
// following goto/loop structure exactly as playback would. The
// traversal stops only at an event, so the Position is that of the
// first event at or past target; where events are sparse this can lie
// several rows after target.
func SeekByTime(music *gm.Music, target time.Duration, loopCount int) Position {
	d := NewDispatcher()
	h := &seekHandler{targetUs: float64(target / time.Microsecond)}
	return d.HandleAllEvents(OrderRowTrack, music, loopCount, h)
}
