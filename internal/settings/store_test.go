package settings

import (
	"bytes"
	"path/filepath"
	"testing"
)

func TestMemStoreDeletePrefix(t *testing.T) {
	s := NewMemStore()
	_ = s.SaveOne("mt/ep/onoff", []byte{1})
	_ = s.SaveOne("mt/ep/level", []byte{200})
	_ = s.SaveOne("net/panid", []byte{0x34, 0x12})

	if err := s.Delete("mt/"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := s.Get("mt/ep/onoff"); ok {
		t.Fatalf("mt/ep/onoff should be gone")
	}
	if _, ok := s.Get("net/panid"); !ok {
		t.Fatalf("net/panid should survive prefix delete")
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 key, got %d", s.Len())
	}
}

func TestMemStoreValLen(t *testing.T) {
	s := NewMemStore()
	if s.ValLen("absent") != 0 {
		t.Fatalf("absent key should have zero length")
	}
	_ = s.SaveOne("k", []byte{1, 2, 3})
	if s.ValLen("k") != 3 {
		t.Fatalf("ValLen = %d, want 3", s.ValLen("k"))
	}
}

func TestMemStoreGetCopies(t *testing.T) {
	s := NewMemStore()
	_ = s.SaveOne("k", []byte{1, 2, 3})
	v, _ := s.Get("k")
	v[0] = 9
	v2, _ := s.Get("k")
	if v2[0] != 1 {
		t.Fatalf("store value mutated through returned slice")
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")

	s, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	_ = s.SaveOne("mt/ep/onoff", []byte{1})
	_ = s.SaveOne("mt/ep/level", []byte{128})
	if err := s.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}

	s2, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	v, ok := s2.Get("mt/ep/level")
	if !ok || !bytes.Equal(v, []byte{128}) {
		t.Fatalf("level not restored: %v ok=%v", v, ok)
	}
}

func TestFileStoreMissingFile(t *testing.T) {
	s, err := NewFileStore(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("new on missing file: %v", err)
	}
	if _, ok := s.Get("anything"); ok {
		t.Fatalf("empty store should have no keys")
	}
}
