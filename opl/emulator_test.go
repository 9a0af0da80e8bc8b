package opl

import "testing"

func TestEmulatorSilentUntilKeyOn(t *testing.T) {
	e := NewEmulator(44100)
	if !e.IsSilent() {
		t.Fatal("fresh emulator should be silent")
	}

	e.WriteRegister(0, 0x20, 0x01) // modulator char/mult
	e.WriteRegister(0, 0x40, 0x00) // full output level
	e.WriteRegister(0, 0x60, 0xF0) // fast attack, slow decay
	e.WriteRegister(0, 0x80, 0x0F) // sustain level 0, release fast
	e.WriteRegister(0, 0x23, 0x01) // carrier char/mult
	e.WriteRegister(0, 0x43, 0x00)
	e.WriteRegister(0, 0x63, 0xF0)
	e.WriteRegister(0, 0x83, 0x0F)
	e.WriteRegister(0, 0xA0, 0x44) // fnum low
	e.WriteRegister(0, 0xB0, 0x21|oplBitKeyOn) // keyon, block=0

	if e.IsSilent() {
		t.Fatal("expected the emulator to be active once a channel is keyed on")
	}

	var sawNonZero bool
	for i := 0; i < 256; i++ {
		l, _ := e.Next()
		if l != 0 {
			sawNonZero = true
		}
	}
	if !sawNonZero {
		t.Error("expected at least one non-zero sample while a note is keyed on")
	}
}

func TestEmulatorReleasesAfterKeyOff(t *testing.T) {
	e := NewEmulator(44100)
	e.WriteRegister(0, 0x60, 0xFF)
	e.WriteRegister(0, 0x80, 0x0F) // sustain level 0, fast release
	e.WriteRegister(0, 0x63, 0xFF)
	e.WriteRegister(0, 0x83, 0x0F)
	e.WriteRegister(0, 0xA0, 0x44)
	e.WriteRegister(0, 0xB0, 0x21|oplBitKeyOn)
	for i := 0; i < 64; i++ {
		e.Next()
	}
	e.WriteRegister(0, 0xB0, 0x21) // keyoff

	for i := 0; i < 100000 && !e.IsSilent(); i++ {
		e.Next()
	}
	if !e.IsSilent() {
		t.Error("expected the envelope to reach idle well within 100000 samples of release")
	}
}
