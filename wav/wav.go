// Package wav renders a finished mix to a WAV file, by feeding zeroes
// through a playback.Orchestrator's Mix method until the song ends (spec
// §6 "WAV rendering") and writing every produced frame out via
// github.com/go-audio/wav, rather than hand-rolling RIFF chunk headers
// the way the teacher's own wav.Writer does.
package wav

import (
	"io"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const bitDepth = 16
const numChannels = 2

// Mixer is the subset of playback.Orchestrator's surface this package
// needs: fill buf (interleaved stereo int16) with the next samples, and
// report whether the song has reached its end.
type Mixer interface {
	Mix(buf []int16) bool
}

// Render drives m until it reports finished, writing every frame to w as
// a 16-bit stereo PCM WAV file at sampleRate. frameSize controls how many
// stereo frames are pulled from m per Mix call.
func Render(w io.WriteSeeker, m Mixer, sampleRate, frameSize int) error {
	enc := wav.NewEncoder(w, sampleRate, bitDepth, numChannels, 1)

	buf := make([]int16, frameSize*numChannels)
	intBuf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: numChannels, SampleRate: sampleRate},
		SourceBitDepth: bitDepth,
		Data:           make([]int, frameSize*numChannels),
	}

	for {
		for i := range buf {
			buf[i] = 0
		}
		done := m.Mix(buf)
		for i, s := range buf {
			intBuf.Data[i] = int(s)
		}
		if err := enc.Write(intBuf); err != nil {
			return err
		}
		if done {
			break
		}
	}
	return enc.Close()
}
