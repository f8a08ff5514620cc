package page

import "testing"

func TestResetStampsIDAndZeroesPayload(t *testing.T) {
	p := New()
	p.Data()[0] = 0xff
	p.Reset(7)

	if p.ID() != 7 {
		t.Fatalf("ID() = %d, want 7", p.ID())
	}
	for i, b := range p.Data() {
		if b != 0 {
			t.Fatalf("Data()[%d] = %x, want 0 after Reset", i, b)
		}
	}
}

func TestPinCountIncrementDecrement(t *testing.T) {
	p := New()
	if p.GetPinCount() != 0 {
		t.Fatalf("GetPinCount() = %d, want 0", p.GetPinCount())
	}
	p.IncrementPinCount()
	p.IncrementPinCount()
	if p.GetPinCount() != 2 {
		t.Fatalf("GetPinCount() = %d, want 2", p.GetPinCount())
	}
	p.DecrementPinCount()
	if p.GetPinCount() != 1 {
		t.Fatalf("GetPinCount() = %d, want 1", p.GetPinCount())
	}
}

func TestDecrementPinCountFloorsAtZero(t *testing.T) {
	p := New()
	p.DecrementPinCount()
	if p.GetPinCount() != 0 {
		t.Fatalf("GetPinCount() = %d, want 0 (no underflow)", p.GetPinCount())
	}
}

func TestDirtyFlagRoundTrip(t *testing.T) {
	p := New()
	if p.IsDirty() {
		t.Fatalf("new page should not be dirty")
	}
	p.MarkDirty()
	if !p.IsDirty() {
		t.Fatalf("MarkDirty should set IsDirty")
	}
	p.ClearDirty()
	if p.IsDirty() {
		t.Fatalf("ClearDirty should clear IsDirty")
	}
}

func TestChecksumDetectsCorruption(t *testing.T) {
	p := New()
	p.Reset(1)
	p.Data()[0] = 0x42
	p.UpdateChecksum()

	if !p.VerifyChecksum() {
		t.Fatalf("VerifyChecksum should pass right after UpdateChecksum")
	}

	p.Data()[0] = 0x43
	if p.VerifyChecksum() {
		t.Fatalf("VerifyChecksum should fail after payload mutation")
	}
}

func TestUpdateChecksumSurvivesIDRestamp(t *testing.T) {
	p := New()
	p.Reset(1)
	p.Data()[0] = 0x42
	p.UpdateChecksum()

	p.SetID(2)
	if !p.VerifyChecksum() {
		t.Fatalf("VerifyChecksum should remain valid after re-stamping id, since id bytes are excluded from the CRC domain")
	}
}

func TestBytesLoadBytesRoundTrip(t *testing.T) {
	p := New()
	p.Reset(9)
	p.SetLSN(123)
	p.Data()[10] = 0x7a
	p.UpdateChecksum()

	raw := append([]byte(nil), p.Bytes()...)

	p2 := New()
	p2.LoadBytes(raw)

	if p2.ID() != 9 || p2.GetLSN() != 123 || p2.Data()[10] != 0x7a {
		t.Fatalf("LoadBytes did not round-trip page contents")
	}
	if !p2.VerifyChecksum() {
		t.Fatalf("loaded page should still verify its checksum")
	}
}

func TestLoadBytesPanicsOnWrongSize(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("LoadBytes should panic on a buffer of the wrong size")
		}
	}()
	New().LoadBytes(make([]byte, Size-1))
}
