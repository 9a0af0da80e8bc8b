// Package gamemusic models vintage DOS-era game music as a single
// in-memory representation — patterns of timed note/effect events driving
// OPL FM synthesis, General MIDI, and sampled PCM playback — independent of
// any one game's on-disk file layout.
//
// The data model in this package (Tempo, Patch, PatchBank, TrackInfo,
// Event, Track, Pattern, Music) is produced by format-specific readers
// under formats/ and consumed by the event dispatcher (package dispatch),
// the OPL and MIDI event converters (packages opl and midi), the PCM
// voicer (package pcm), and the playback orchestrator (package playback).
package gamemusic
