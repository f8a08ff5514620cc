package manifest

import (
	"path/filepath"
	"testing"
)

func TestAddThenActiveSetContainsID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "MANIFEST")
	m, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer m.Close()

	if err := m.AddSSTable(1); err != nil {
		t.Fatalf("AddSSTable: %v", err)
	}
	if err := m.AddSSTable(2); err != nil {
		t.Fatalf("AddSSTable: %v", err)
	}

	active, err := m.GetActiveSSTables()
	if err != nil {
		t.Fatalf("GetActiveSSTables: %v", err)
	}
	if len(active) != 2 || active[0] != 1 || active[1] != 2 {
		t.Fatalf("active = %v, want [1 2]", active)
	}
}

func TestRemoveDropsFromActiveSet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "MANIFEST")
	m, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer m.Close()

	for _, id := range []uint64{1, 2, 3} {
		if err := m.AddSSTable(id); err != nil {
			t.Fatalf("AddSSTable: %v", err)
		}
	}
	if err := m.RemoveSSTables([]uint64{2}); err != nil {
		t.Fatalf("RemoveSSTables: %v", err)
	}

	active, err := m.GetActiveSSTables()
	if err != nil {
		t.Fatalf("GetActiveSSTables: %v", err)
	}
	if len(active) != 2 || active[0] != 1 || active[1] != 3 {
		t.Fatalf("active = %v, want [1 3]", active)
	}
}

func TestReplayIsCommutativeAcrossAddRemoveOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "MANIFEST")
	m, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer m.Close()

	if err := m.AddSSTable(7); err != nil {
		t.Fatalf("AddSSTable: %v", err)
	}
	if err := m.RemoveSSTables([]uint64{7}); err != nil {
		t.Fatalf("RemoveSSTables: %v", err)
	}
	if err := m.AddSSTable(7); err != nil {
		t.Fatalf("re-AddSSTable: %v", err)
	}

	active, err := m.GetActiveSSTables()
	if err != nil {
		t.Fatalf("GetActiveSSTables: %v", err)
	}
	if len(active) != 1 || active[0] != 7 {
		t.Fatalf("active = %v, want [7]", active)
	}
}

func TestReopenReplaysPersistedState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "MANIFEST")
	m, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := m.AddSSTable(42); err != nil {
		t.Fatalf("AddSSTable: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	m2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer m2.Close()

	active, err := m2.GetActiveSSTables()
	if err != nil {
		t.Fatalf("GetActiveSSTables: %v", err)
	}
	if len(active) != 1 || active[0] != 42 {
		t.Fatalf("active = %v, want [42]", active)
	}
}
