// Package mod decodes Amiga ProTracker MOD files into a gamemusic.Music,
// the demonstration codec showing how a real tracker format maps onto
// the library's data model: every MOD channel becomes a PCM track, every
// MOD sample becomes a PCMPatch, and the handful of row effects this
// package understands become Effect/Tempo events. Adapted from the
// teacher's NewMODSongFromBytes (mod.go) and the period/effect tables of
// its companion Player (player.go), generalised from "parse into a
// dedicated Song/Player pair" to "parse into the shared gamemusic.Music
// model" (spec §6 "format adapters").
package mod

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	gm "github.com/retrotonedev/gamemusic"
)

const (
	rowsPerPattern  = 64
	bytesPerChannel = 4
	numSamples      = 31

	// retraceNTSCHz is the Amiga NTSC vertical-blank clock a MOD period
	// value divides into to give a sample's playback frequency.
	retraceNTSCHz = 7159090.5

	// MOD row effects this decoder understands; everything else is
	// dropped, a deliberate scope limit for a demonstration codec rather
	// than a full tracker engine.
	effectSetVolume = 0xC
	effectSetSpeed  = 0xF
)

type sampleHeader struct {
	Name      string
	Length    int
	FineTune  int
	Volume    int
	LoopStart int
	LoopLen   int
}

// Decode parses a MOD file's bytes into a Music: one PCM track per
// channel, one PCMPatch per sample slot, and one Pattern per stored MOD
// pattern, addressed by the file's own order list.
func Decode(data []byte) (*gm.Music, error) {
	buf := bytes.NewReader(data)

	title := make([]byte, 20)
	if _, err := buf.Read(title); err != nil {
		return nil, fmt.Errorf("%w: reading title: %v", gm.ErrIO, err)
	}

	headers := make([]sampleHeader, numSamples)
	for i := range headers {
		h, err := readSampleHeader(buf)
		if err != nil {
			return nil, fmt.Errorf("%w: sample %d header: %v", gm.ErrInvalidData, i, err)
		}
		headers[i] = h
	}

	var orderHeader struct {
		SongLength uint8
		_          uint8
		OrderData  [128]byte
	}
	if err := binary.Read(buf, binary.BigEndian, &orderHeader); err != nil {
		return nil, fmt.Errorf("%w: reading order list: %v", gm.ErrIO, err)
	}
	order := make([]int, orderHeader.SongLength)
	maxPattern := 0
	for i := range order {
		p := int(orderHeader.OrderData[i])
		order[i] = p
		if p > maxPattern {
			maxPattern = p
		}
	}
	numPatterns := maxPattern + 1

	sig := make([]byte, 4)
	if n, err := buf.Read(sig); n != 4 || err != nil {
		return nil, fmt.Errorf("%w: reading format signature: %v", gm.ErrInvalidData, err)
	}
	channels, err := channelsFromSignature(sig)
	if err != nil {
		return nil, err
	}

	patternBytes := make([][]byte, numPatterns)
	for i := range patternBytes {
		raw := make([]byte, rowsPerPattern*channels*bytesPerChannel)
		if n, err := buf.Read(raw); n != len(raw) || err != nil {
			return nil, fmt.Errorf("%w: pattern %d: %v", gm.ErrIO, i, err)
		}
		patternBytes[i] = raw
	}

	patches := gm.NewPatchBank()
	for i := range headers {
		patches.Add(patchFromSample(headers[i], readSampleData(buf, headers[i].Length)))
	}

	music := gm.NewMusic()
	music.Patches = patches
	music.Attributes.Title = strings.TrimRight(string(title), "\x00")
	music.TicksPerTrack = rowsPerPattern
	music.LoopDest = 0
	music.InitialTempo = gm.DefaultTempo()

	// Track 0 is a conductor track (ChannelAny) carrying only Tempo
	// events: the orchestrator only wires its two OPL converters' sinks to
	// tempoChange (spec §4.8), and it routes events to them only from
	// OPL/OPLPerc/MIDI/Any tracks, so a tempo effect interleaved into a PCM
	// note channel would never reach them. Every other track is one MOD
	// channel's PCM voice.
	music.TrackInfo = make([]gm.TrackInfo, channels+1)
	music.TrackInfo[0] = gm.TrackInfo{ChannelType: gm.ChannelAny}
	for ch := 0; ch < channels; ch++ {
		music.TrackInfo[ch+1] = gm.TrackInfo{ChannelType: gm.ChannelPCM, ChannelIndex: ch}
	}

	// tempoState tracks the running (speed, bpm) pair Fxx effects modify,
	// walked in pattern-storage order: a reasonable approximation for a
	// demonstration codec, though a pattern reused at different points in
	// the order list with a different Fxx history upstream would see the
	// tempo this decoder assigns it diverge from a real player's.
	state := &tempoState{speed: 6, bpm: 125}
	music.Patterns = make([]gm.Pattern, numPatterns)
	for p, raw := range patternBytes {
		music.Patterns[p] = patternFromBytes(raw, channels, state)
	}
	music.PatternOrder = order

	return music, nil
}

func readSampleHeader(r *bytes.Reader) (sampleHeader, error) {
	var data struct {
		Name      [22]byte
		Length    uint16
		FineTune  uint8
		Volume    uint8
		LoopStart uint16
		LoopLen   uint16
	}
	if err := binary.Read(r, binary.BigEndian, &data); err != nil {
		return sampleHeader{}, err
	}
	h := sampleHeader{
		Name:      strings.TrimRight(string(data.Name[:]), "\x00"),
		Length:    int(data.Length) * 2,
		FineTune:  int(data.FineTune&7) - int(data.FineTune&8) + 8,
		Volume:    int(data.Volume),
		LoopStart: int(data.LoopStart) * 2,
		LoopLen:   int(data.LoopLen) * 2,
	}
	if h.LoopLen < 4 {
		h.LoopLen = 0
	}
	// Clamp a loop that overshoots the sample's length, the same
	// two-step correction MilkyTracker applies.
	if h.LoopStart+h.LoopLen > h.Length {
		dx := h.LoopStart + h.LoopLen - h.Length
		h.LoopStart -= dx
		if h.LoopStart+h.LoopLen > h.Length {
			dx = h.LoopStart + h.LoopLen - h.Length
			h.LoopLen -= dx
		}
	}
	if h.LoopLen < 2 {
		h.LoopLen = 0
	}
	return h, nil
}

// readSampleData reads up to length bytes of signed 8-bit PCM, truncating
// rather than failing if the file's declared sample length overruns what
// remains in the buffer (some MOD files are stored this way, e.g. a
// sample truncated by a lossy transfer).
func readSampleData(r *bytes.Reader, length int) []int8 {
	n := length
	if n > r.Len() {
		n = r.Len()
	}
	raw := make([]byte, n)
	r.Read(raw)
	out := make([]int8, n)
	for i, b := range raw {
		out[i] = int8(b)
	}
	return out
}

// patchFromSample converts a MOD sample into a PCMPatch, re-centring
// libxmp/ProTracker's signed 8-bit data onto the unsigned byte-plus-128
// convention package pcm's fetchSample expects (the same convention an
// 8-bit WAV file uses).
func patchFromSample(h sampleHeader, signed []int8) gm.Patch {
	pcmData := make([]byte, len(signed))
	for i, s := range signed {
		pcmData[i] = byte(int(s) + 128)
	}
	loopEnd := 0
	if h.LoopLen > 0 {
		loopEnd = h.LoopStart + h.LoopLen
	}
	volume := min(h.Volume*4, 255) // MOD volume is 0-64, patches use 0-255
	return gm.Patch{
		Kind:          gm.PatchPCM,
		Name:          h.Name,
		DefaultVolume: volume,
		PCM: gm.PCMPatch{
			SampleRate: fineTunedRate(h.FineTune),
			BitDepth:   8,
			Channels:   1,
			LoopStart:  h.LoopStart,
			LoopEnd:    loopEnd,
			Data:       pcmData,
		},
	}
}

// fineTunedRate returns the sample rate at which this patch's data plays
// back at middle C (period 214, C-3 in the Amiga period table), scaled
// by the sample's finetune value — the rate a PCMPatch's SampleRate
// field must carry for pcm.Voicer's middle-C-relative resampling to land
// on the right pitch.
func fineTunedRate(fineTune int) int {
	const middleCPeriod = 214.0
	semitoneShift := (float64(fineTune) - 8) / 8 // +-8 finetune = +-1 semitone
	period := middleCPeriod * math.Pow(2, -semitoneShift/12)
	hz := retraceNTSCHz / (period * 2)
	return int(math.Round(hz))
}

func channelsFromSignature(sig []byte) (int, error) {
	switch string(sig[2:]) {
	case "K.": // M.K.
		return 4, nil
	case "HN": // xCHN
		return int(sig[0]) - '0', nil
	case "CH": // xxCH
		return (int(sig[0])-'0')*10 + (int(sig[1]) - '0'), nil
	default:
		return 0, fmt.Errorf("%w: unrecognized MOD signature %q", gm.ErrInvalidData, string(sig))
	}
}

// tempoState is the running (speed, bpm) pair MOD Fxx effects modify;
// threaded through pattern decoding so a tempo event always carries the
// full pair, not just whichever half the triggering effect changed.
type tempoState struct {
	speed int
	bpm   int
}

// patternFromBytes decodes one pattern's raw (period,sample,effect,param)
// cells into a gm.Pattern: a conductor track (index 0) carrying any Fxx
// tempo changes, then one gm.Track per MOD channel carrying notes/volume.
func patternFromBytes(raw []byte, channels int, state *tempoState) gm.Pattern {
	pattern := make(gm.Pattern, channels+1)
	lastDelay := make([]int, channels+1)

	for row := 0; row < rowsPerPattern; row++ {
		for ch := 0; ch < channels; ch++ {
			cellIdx := (row*channels + ch) * bytesPerChannel
			cell := raw[cellIdx : cellIdx+bytesPerChannel]

			sampleNum := int(cell[0]&0xF0) | int(cell[2]>>4)
			period := int(cell[0]&0xF)<<8 | int(cell[1])
			effect := cell[2] & 0xF
			param := cell[3]

			if tempo, ok := tempoEvent(effect, param, state); ok {
				delay := row - lastDelay[0]
				pattern[0] = append(pattern[0], gm.TrackEvent{Delay: delay, Event: tempo})
				lastDelay[0] = row
			}

			ev, ok := noteEvent(sampleNum, period, effect, param)
			if !ok {
				continue
			}
			trackIdx := ch + 1
			delay := row - lastDelay[trackIdx]
			pattern[trackIdx] = append(pattern[trackIdx], gm.TrackEvent{Delay: delay, Event: ev})
			lastDelay[trackIdx] = row
		}
	}
	return pattern
}

func tempoEvent(effect byte, param byte, state *tempoState) (gm.Event, bool) {
	if effect != effectSetSpeed {
		return gm.Event{}, false
	}
	if param >= 0x20 {
		state.bpm = int(param)
	} else if param > 0 {
		state.speed = int(param)
	}
	tempo := gm.DefaultTempo()
	tempo.SetModule(state.speed, state.bpm)
	return gm.Event{Kind: gm.EventTempo, Tempo: tempo}, true
}

func noteEvent(sampleNum, period int, effect byte, param byte) (gm.Event, bool) {
	if period > 0 && sampleNum > 0 {
		// Note pitch relative to middle C (261625 mHz at period 214), the
		// reference a patch's fineTunedRate SampleRate is played against.
		mHz := int(math.Round(261625 * 214 / float64(period)))
		velocity := gm.DefaultVelocity
		if effect == effectSetVolume {
			v := int(param)
			if v > 64 {
				v = 64
			}
			velocity = min(v*4, 255)
		}
		return gm.Event{
			Kind:       gm.EventNoteOn,
			Instrument: sampleNum - 1,
			MilliHertz: mHz,
			Velocity:   velocity,
		}, true
	}
	if effect == effectSetVolume {
		v := int(param)
		if v > 64 {
			v = 64
		}
		return gm.Event{
			Kind:       gm.EventEffect,
			EffectType: gm.EffectVolume,
			EffectData: int32(min(v*4, 255)),
		}, true
	}
	return gm.Event{}, false
}
