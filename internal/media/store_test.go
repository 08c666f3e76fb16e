package media

import (
	"strings"
	"testing"
)

func TestStoreAndResolveRoundtrip(t *testing.T) {
	s, err := NewDirStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewDirStore: %v", err)
	}
	ref, err := s.Store("owner1", "drop1", []byte("image bytes"))
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	url, err := s.Resolve(ref, "owner1", "drop1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if want := "/media/owner1/drop1/" + ref; url != want {
		t.Fatalf("url = %q, want %q", url, want)
	}
}

func TestResolveRejectsWrongOwnerOrDrop(t *testing.T) {
	s, err := NewDirStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewDirStore: %v", err)
	}
	ref, err := s.Store("owner1", "drop1", []byte("x"))
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	// The same ref under someone else's identity or another drop must fail;
	// this is the cross-drop hijack guard.
	if _, err := s.Resolve(ref, "owner2", "drop1"); err == nil {
		t.Fatal("resolve with wrong owner succeeded")
	}
	if _, err := s.Resolve(ref, "owner1", "drop2"); err == nil {
		t.Fatal("resolve with wrong drop succeeded")
	}
}

func TestResolveRejectsPathTraversal(t *testing.T) {
	s, err := NewDirStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewDirStore: %v", err)
	}
	for _, ref := range []string{"../secret", "a/b", ""} {
		if _, err := s.Resolve(ref, "owner1", "drop1"); err == nil {
			t.Fatalf("ref %q accepted", ref)
		}
	}
}

func TestStoreGeneratesDistinctRefs(t *testing.T) {
	s, err := NewDirStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewDirStore: %v", err)
	}
	seen := map[string]bool{}
	for i := 0; i < 8; i++ {
		ref, err := s.Store("owner1", "drop1", []byte("x"))
		if err != nil {
			t.Fatalf("Store: %v", err)
		}
		if strings.Contains(ref, "/") || seen[ref] {
			t.Fatalf("ref %q invalid or duplicated", ref)
		}
		seen[ref] = true
	}
}
