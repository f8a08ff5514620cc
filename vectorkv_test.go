package vectorkv

import "testing"

func TestOpenPutGetClose(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(Config{Directory: dir})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if err := db.Put("hello", "world"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if v, ok := db.Get("hello"); !ok || v != "world" {
		t.Fatalf("Get(hello) = %q, %v, want world, true", v, ok)
	}
}

func TestPutVectorGetVectorRoundTrip(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(Config{Directory: dir})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	blob := []byte{0x01, 0x02, 0x03, 0xff, 0x00}
	if err := db.PutVector("embedding-1", blob); err != nil {
		t.Fatalf("PutVector: %v", err)
	}

	got, ok, err := db.GetVector("embedding-1")
	if err != nil {
		t.Fatalf("GetVector: %v", err)
	}
	if !ok {
		t.Fatalf("GetVector should find the stored blob")
	}
	if len(got) != len(blob) {
		t.Fatalf("GetVector length = %d, want %d", len(got), len(blob))
	}
	for i := range blob {
		if got[i] != blob[i] {
			t.Fatalf("GetVector byte %d = %x, want %x", i, got[i], blob[i])
		}
	}
}

func TestVectorKeyDoesNotCollideWithPlainKey(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(Config{Directory: dir})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if err := db.Put("embedding-1", "not-a-vector"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := db.PutVector("embedding-1", []byte("vector-bytes")); err != nil {
		t.Fatalf("PutVector: %v", err)
	}

	if v, ok := db.Get("embedding-1"); !ok || v != "not-a-vector" {
		t.Fatalf("Get(embedding-1) = %q, %v, want not-a-vector, true", v, ok)
	}
	if v, ok, err := db.GetVector("embedding-1"); err != nil || !ok || string(v) != "vector-bytes" {
		t.Fatalf("GetVector(embedding-1) = %q, %v, %v, want vector-bytes, true, nil", v, ok, err)
	}
}

func TestIsVectorKey(t *testing.T) {
	if !IsVectorKey("vec:abc") {
		t.Fatalf("vec:abc should be a vector key")
	}
	if IsVectorKey("abc") {
		t.Fatalf("abc should not be a vector key")
	}
}

func TestCheckpointAndStats(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(Config{Directory: dir})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if err := db.Put("a", "1"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := db.Checkpoint(); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	stats := db.Stats()
	if stats.TotalPuts == 0 {
		t.Fatalf("expected TotalPuts > 0")
	}
}
