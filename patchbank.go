package gamemusic

import clone "github.com/huandu/go-clone/generic"

// PatchBank is an ordered, zero-indexed sequence of patches. Patches may be
// of mixed Kind; a single bank can back a song that uses OPL, MIDI and PCM
// instruments side by side.
type PatchBank struct {
	Patches []Patch
}

// NewPatchBank returns an empty bank.
func NewPatchBank() *PatchBank {
	return &PatchBank{}
}

// Len returns the number of patches in the bank.
func (b *PatchBank) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Patches)
}

// At returns the patch at index i, and false if i is out of range — the
// caller is expected to turn that into ErrBadPatch/ErrOutOfRange with
// whatever context it has (instrument number, track, event).
func (b *PatchBank) At(i int) (Patch, bool) {
	if b == nil || i < 0 || i >= len(b.Patches) {
		return Patch{}, false
	}
	return b.Patches[i], true
}

// Add appends a patch and returns its index.
func (b *PatchBank) Add(p Patch) int {
	b.Patches = append(b.Patches, p)
	return len(b.Patches) - 1
}

// Clone returns a deep copy, so callers running an editing pass (retuning,
// instrument remapping) never mutate a bank shared with a live playback
// orchestrator. Mirrors the teacher's use of go-clone/generic to snapshot
// a Song for test fixtures (helpers_test.go).
func (b *PatchBank) Clone() *PatchBank {
	if b == nil {
		return nil
	}
	return clone.Clone(b)
}
