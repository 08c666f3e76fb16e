// Package media holds the media-store capability consumed by the core.
//
// A drop's media lives at a physical address computed from the drop's owning
// identity at upload time. That identity never changes, even after the
// recipient links an account, so Resolve must always be called with the
// drop's original owner. Passing the current caller's identity instead is
// how media silently goes missing.
package media

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Store is the opaque media capability: keep bytes for a drop, hand back a
// reference, later resolve the reference to a retrievable URL.
type Store interface {
	Store(ownerID, dropID string, data []byte) (string, error)
	Resolve(ref, ownerID, dropID string) (string, error)
}

var errBadRef = errors.New("media reference not found for drop")

// DirStore keeps media on the local filesystem under root/owner/drop/ref.
type DirStore struct {
	root string
}

func NewDirStore(root string) (*DirStore, error) {
	if root == "" {
		return nil, errors.New("media root required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create media root: %w", err)
	}
	return &DirStore{root: root}, nil
}

func (s *DirStore) Store(ownerID, dropID string, data []byte) (string, error) {
	if ownerID == "" || dropID == "" {
		return "", errors.New("owner and drop required")
	}
	dir := filepath.Join(s.root, ownerID, dropID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create media dir: %w", err)
	}
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	ref := hex.EncodeToString(buf)
	if err := os.WriteFile(filepath.Join(dir, ref), data, 0o644); err != nil {
		return "", fmt.Errorf("write media: %w", err)
	}
	return ref, nil
}

// Resolve returns a serving path for ref, verifying the reference genuinely
// lives under the given owner and drop. A reference belonging to a different
// drop fails here, which is what blocks cross-drop media hijacking.
func (s *DirStore) Resolve(ref, ownerID, dropID string) (string, error) {
	if ref == "" || ownerID == "" || dropID == "" {
		return "", errBadRef
	}
	if filepath.Base(ref) != ref {
		return "", errBadRef
	}
	path := filepath.Join(s.root, ownerID, dropID, ref)
	if _, err := os.Stat(path); err != nil {
		return "", errBadRef
	}
	return "/media/" + ownerID + "/" + dropID + "/" + ref, nil
}
