package opl

import gm "github.com/retrotonedev/gamemusic"

// NormaliseMethod selects how DenormalisePercussion resolves an operator
// conflict when a format only stores one operator pair per instrument but
// the rhythm role in question only uses one of modulator/carrier.
type NormaliseMethod int

const (
	// MatchingOps: the format stores both operators regardless of rhythm
	// role; no swap needed.
	MatchingOps NormaliseMethod = iota
	// CarFromMod: a carrier-only role (top cymbal, snare) should load its
	// sound from what the patch calls its modulator.
	CarFromMod
	// ModFromCar: a modulator-only role (hi-hat, tom-tom) should load its
	// sound from what the patch calls its carrier.
	ModFromCar
)

func carOnly(r gm.Rhythm) bool {
	return !r.UsesModulator() && r.UsesCarrier()
}

func modOnly(r gm.Rhythm) bool {
	return r.UsesModulator() && !r.UsesCarrier()
}

// purpose tracks, per original patch index, which rhythm roles have
// already been assigned to it and which derived-patch index covers each
// role once a patch is reused for more than one role.
type purpose struct {
	rhythm gm.Rhythm
	assigned bool
	byRole   [7]int // index into the (possibly grown) patch bank, -1 if unset
}

// DenormalisePercussion walks every NoteOnEvent in music and, where an OPL
// instrument is reused across more than one rhythm role (e.g. a melodic
// patch also played as a hi-hat), duplicates the patch so each role gets
// its own Patch with Rhythm set accordingly — mirroring
// original_source/src/util-opl.cpp's oplDenormalisePerc, used by format
// writers whose on-disk layout ties an instrument slot to exactly one
// rhythm role.
func DenormalisePercussion(music *gm.Music, method NormaliseMethod) {
	purposes := &[]purpose{}
	*purposes = make([]purpose, music.Patches.Len())
	for i := range *purposes {
		(*purposes)[i].rhythm = gm.RhythmUnknown
		for r := range (*purposes)[i].byRole {
			(*purposes)[i].byRole[r] = -1
		}
	}

	for patternIdx := range music.Patterns {
		pattern := music.Patterns[patternIdx]
		for trackIdx := range pattern {
			ti := music.TrackInfo[trackIdx]
			var role gm.Rhythm
			switch ti.ChannelType {
			case gm.ChannelOPL:
				role = gm.RhythmMelodic
			case gm.ChannelOPLPerc:
				role = gm.Rhythm(ti.ChannelIndex + 2) // HiHat=2 ... BassDrum=6
			default:
				continue
			}
			if role < gm.RhythmMelodic {
				continue
			}
			track := pattern[trackIdx]
			for i := range track {
				ev := &track[i].Event
				if ev.Kind != gm.EventNoteOn {
					continue
				}
				if ev.Instrument < 0 || ev.Instrument >= len(*purposes) {
					continue
				}
				ev.Instrument = mapInstrument(music, purposes, role, ev.Instrument)
			}
		}
	}

	for i := range music.Patches.Patches {
		p := &music.Patches.Patches[i]
		if p.Kind != gm.PatchOPL {
			continue
		}
		swapForMethod(p, method)
	}
}

func mapInstrument(music *gm.Music, purposes *[]purpose, role gm.Rhythm, inst int) int {
	p := &(*purposes)[inst]
	if p.byRole[role] >= 0 {
		return p.byRole[role]
	}
	if !p.assigned {
		p.assigned = true
		p.rhythm = role
		p.byRole[role] = inst
		music.Patches.Patches[inst].OPL.Rhythm = role
		return inst
	}
	// Already used for a different role: duplicate the patch.
	orig := music.Patches.Patches[inst]
	copyPatch := orig
	copyPatch.OPL.Rhythm = role
	newIdx := music.Patches.Add(copyPatch)
	p.byRole[role] = newIdx

	np := purpose{rhythm: role, assigned: true}
	for r := range np.byRole {
		np.byRole[r] = -1
	}
	np.byRole[role] = newIdx
	*purposes = append(*purposes, np)
	return newIdx
}

func swapForMethod(p *gm.Patch, method NormaliseMethod) {
	switch method {
	case CarFromMod:
		if carOnly(p.OPL.Rhythm) {
			p.OPL.Modulator, p.OPL.Carrier = p.OPL.Carrier, p.OPL.Modulator
		}
	case ModFromCar:
		if modOnly(p.OPL.Rhythm) {
			p.OPL.Modulator, p.OPL.Carrier = p.OPL.Carrier, p.OPL.Modulator
		}
	case MatchingOps:
	}
}

// NormalisePercussion returns a new PatchBank (music's patches are left
// untouched) with the same per-role operator swap applied non-destructively
// — the read-side mirror of DenormalisePercussion, used by a format reader
// that always stores both operators but whose hardware only sounds one of
// them for a given rhythm role.
func NormalisePercussion(music *gm.Music, method NormaliseMethod) *gm.PatchBank {
	out := music.Patches.Clone()
	for i := range out.Patches {
		p := &out.Patches[i]
		if p.Kind != gm.PatchOPL {
			continue
		}
		swapForMethod(p, method)
	}
	return out
}
