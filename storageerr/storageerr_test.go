package storageerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorFormatsOpKindAndCause(t *testing.T) {
	err := New("diskmanager.ReadPage", IoError, errors.New("short read"))
	want := "diskmanager.ReadPage: io_error: short read"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestErrorFormatsWithoutCause(t *testing.T) {
	err := New("lsm.Get", NotFound, nil)
	want := "lsm.Get: not_found"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestNewfWrapsFormattedCause(t *testing.T) {
	err := Newf("sstable.OpenReader", Corruption, "bad magic %x", 0xdead)
	if err.Kind != Corruption {
		t.Fatalf("Kind = %v, want Corruption", err.Kind)
	}
	if err.Err.Error() != "bad magic dead" {
		t.Fatalf("Err = %q, want %q", err.Err.Error(), "bad magic dead")
	}
}

func TestKindOfUnwrapsThroughFmtErrorf(t *testing.T) {
	base := New("lockfile.Acquire", AlreadyExists, nil)
	wrapped := fmt.Errorf("open data dir: %w", base)

	if got := KindOf(wrapped); got != AlreadyExists {
		t.Fatalf("KindOf(wrapped) = %v, want AlreadyExists", got)
	}
	if !Is(wrapped, AlreadyExists) {
		t.Fatalf("Is(wrapped, AlreadyExists) = false, want true")
	}
}

func TestKindOfReturnsInternalForForeignErrors(t *testing.T) {
	if got := KindOf(errors.New("boom")); got != Internal {
		t.Fatalf("KindOf(foreign) = %v, want Internal", got)
	}
}

func TestKindOfNilIsOk(t *testing.T) {
	if got := KindOf(nil); got != Ok {
		t.Fatalf("KindOf(nil) = %v, want Ok", got)
	}
}

func TestKindStringCoversAllValues(t *testing.T) {
	cases := map[Kind]string{
		Ok:              "ok",
		NotFound:        "not_found",
		InvalidArgument: "invalid_argument",
		AlreadyExists:   "already_exists",
		IoError:         "io_error",
		Corruption:      "corruption",
		Internal:        "internal",
		Unimplemented:   "unimplemented",
	}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Fatalf("Kind(%d).String() = %q, want %q", k, got, want)
		}
	}
	if got := Kind(99).String(); got != "unknown" {
		t.Fatalf("Kind(99).String() = %q, want unknown", got)
	}
}
