// Package manifest implements the append-only ADD/REMOVE ledger of live
// SSTable ids described in SPEC_FULL.md §4.9. Its authority model (file is
// the source of truth, replay is set-algebraic and commutative) and
// append-and-flush discipline are grounded in the teacher's WAL-adjacent
// append semantics (legacy/k4.go), with the live-set bookkeeping itself
// delegated to the adapted internal/idset hash set rather than a bare map.
package manifest

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/guycipher/vectorkv/internal/idset"
	"github.com/guycipher/vectorkv/storageerr"
)

// Manifest is a handle on the on-disk ADD/REMOVE log. It keeps no
// in-memory copy of the live set; GetActiveSSTables replays the file.
type Manifest struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

// Open creates the manifest file if missing and returns a handle
// positioned for appends.
func Open(path string) (*Manifest, error) {
	const op = "manifest.Open"
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, storageerr.New(op, storageerr.IoError, err)
	}
	return &Manifest{f: f, path: path}, nil
}

// AddSSTable appends `ADD <id>` and flushes.
func (m *Manifest) AddSSTable(id uint64) error {
	return m.appendLine("ADD", id)
}

// RemoveSSTables appends one `REMOVE <id>` line per id, in order, and
// flushes after each.
func (m *Manifest) RemoveSSTables(ids []uint64) error {
	for _, id := range ids {
		if err := m.appendLine("REMOVE", id); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manifest) appendLine(verb string, id uint64) error {
	const op = "manifest.appendLine"
	m.mu.Lock()
	defer m.mu.Unlock()

	line := fmt.Sprintf("%s %d\n", verb, id)
	if _, err := m.f.WriteString(line); err != nil {
		return storageerr.New(op, storageerr.IoError, err)
	}
	if err := m.f.Sync(); err != nil {
		return storageerr.New(op, storageerr.IoError, err)
	}
	return nil
}

// GetActiveSSTables replays the file from the start, applying ADD and
// REMOVE set-algebraically (order in the file is authoritative, but the
// final set is commutative over replay order per entry), and returns the
// sorted id list.
func (m *Manifest) GetActiveSSTables() ([]uint64, error) {
	const op = "manifest.GetActiveSSTables"
	m.mu.Lock()
	defer m.mu.Unlock()

	f, err := os.Open(m.path)
	if err != nil {
		return nil, storageerr.New(op, storageerr.IoError, err)
	}
	defer f.Close()

	live := idset.New()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, storageerr.Newf(op, storageerr.Corruption, "malformed manifest line %q", line)
		}
		id, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return nil, storageerr.New(op, storageerr.Corruption, err)
		}
		switch fields[0] {
		case "ADD":
			live.Add(id)
		case "REMOVE":
			live.Remove(id)
		default:
			return nil, storageerr.Newf(op, storageerr.Corruption, "unknown manifest verb %q", fields[0])
		}
	}
	if err := sc.Err(); err != nil {
		return nil, storageerr.New(op, storageerr.IoError, err)
	}

	return live.SortedSlice(), nil
}

// Close closes the underlying file.
func (m *Manifest) Close() error {
	return m.f.Close()
}
