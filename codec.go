package gamemusic

import "io"

// Certainty is the result of a format's heuristic file-type detection.
type Certainty int

const (
	DefinitelyNo Certainty = iota
	Unsure
	PossiblyYes
	DefinitelyYes
)

// Caps is a bitset of the capabilities a format exposes, drawn from
// spec §6.
type Caps uint32

const (
	CapInstOPL Caps = 1 << iota
	CapInstOPLRhythm
	CapInstMIDI
	CapInstPCM
	CapHasEvents
	CapHasPatterns
	CapHasLoopDest
	CapHardwareOPL2
	CapHardwareOPL3
)

// Has reports whether all the bits in want are set.
func (c Caps) Has(want Caps) bool { return c&want == want }

// AttributeType discriminates the kind of value an Attribute holds.
type AttributeType int

const (
	AttributeInteger AttributeType = iota
	AttributeEnum
	AttributeFilename
	AttributeText
	AttributeImage
)

// Attribute describes one piece of metadata a format can round-trip
// (spec §6).
type Attribute struct {
	Type        AttributeType
	Name        string // e.g. "CAMOTO_ATTRIBUTE_TITLE"
	Description string

	IntMin, IntMax int      // AttributeInteger
	EnumValues     []string // AttributeEnum
	FileSpecs      []string // AttributeFilename

	TextMaxLength int // AttributeText
	ImageIndex    int // AttributeImage

	Value string
}

// SuppKind names an external file a format reader may need alongside its
// primary input (e.g. an external instrument bank).
type SuppKind string

// Codec is the contract every concrete format reader/writer implements
// (spec §6). Bit-level layouts live in each codec's own package; only this
// contract, and the Music model it produces/consumes, is specified here.
type Codec interface {
	Code() string
	FriendlyName() string
	FileExtensions() []string
	Caps() Caps

	// IsInstance never errors; malformed input yields DefinitelyNo.
	IsInstance(data []byte) Certainty

	// Read parses data (plus any required supplementary files) into a
	// Music. It returns an error wrapping ErrIO or ErrInvalidData.
	Read(data []byte, supps map[SuppKind][]byte) (*Music, error)

	// Write serialises music to sink. It returns an error wrapping
	// ErrFormatLimitation if music exceeds what the format can express, or
	// ErrIO on a write failure.
	Write(sink io.Writer, music *Music, supps map[SuppKind][]byte) error

	// RequiredSupps inspects data/filename and reports which supplementary
	// files (if any) Read will need.
	RequiredSupps(data []byte, filename string) map[SuppKind]string

	SupportedAttributes() []Attribute
}

// DetectCodec applies the autodetection gating policy from spec §7:
// DefinitelyYes wins immediately (first match), otherwise the best
// PossiblyYes/Unsure match is returned. suppsAvailable reports, for a
// given codec's required supp files, whether they could all be opened —
// a PossiblyYes match whose supp files are missing is demoted to Unsure.
func DetectCodec(data []byte, codecs []Codec, suppsAvailable func(Codec) bool) Codec {
	var best Codec
	bestCertainty := DefinitelyNo

	for _, c := range codecs {
		certainty := c.IsInstance(data)
		if certainty == DefinitelyYes {
			return c
		}
		if certainty == PossiblyYes && suppsAvailable != nil && !suppsAvailable(c) {
			certainty = Unsure
		}
		if certainty > bestCertainty {
			bestCertainty = certainty
			best = c
		}
	}
	return best
}
