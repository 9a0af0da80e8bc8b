package gamemusic

import "errors"

// Sentinel errors for the taxonomy in spec §7. Callers identify a failure
// with errors.Is; wrapped errors add context with fmt.Errorf("...: %w", ...).
var (
	// ErrIO indicates an underlying stream was truncated or failed.
	ErrIO = errors.New("gamemusic: i/o error")

	// ErrBadPatch indicates an attempt to use a patch of the wrong kind for
	// its target channel, or an out-of-range instrument index.
	ErrBadPatch = errors.New("gamemusic: bad patch")

	// ErrFormatLimitation indicates a song cannot be represented in a
	// requested format (too many channels, OPL-only format given PCM
	// patches, unsupported effects, and so on).
	ErrFormatLimitation = errors.New("gamemusic: format limitation")

	// ErrChannelMismatch indicates a patch's rhythm role disagrees with the
	// rhythm channel it is being played on.
	ErrChannelMismatch = errors.New("gamemusic: channel mismatch")

	// ErrInvalidData indicates file contents are inconsistent with the
	// declared format, detected during read.
	ErrInvalidData = errors.New("gamemusic: invalid data")

	// ErrOutOfRange indicates a caller-supplied index exceeds a
	// collection's size.
	ErrOutOfRange = errors.New("gamemusic: out of range")
)
