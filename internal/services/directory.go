package services

import (
	"strings"
	"time"
)

type DirectoryStore interface {
	FindUserByEmail(email string) (*User, error)
	AddUser(u *User) error
	EnsureConnection(identityA, identityB string) error
	SetDefaultVisibility(identityID string) error
}

// StoreDirectory is the default Identity/Connection Directory, backed by the
// contribution store's users and connections tables. Deployments with an
// external directory swap in their own Directory implementation.
type StoreDirectory struct {
	store DirectoryStore
	now   func() time.Time
	idGen func(prefix string, n int) string
}

func NewStoreDirectory(store DirectoryStore) *StoreDirectory {
	return &StoreDirectory{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		idGen: func(prefix string, n int) string { return prefix + shortID(n) },
	}
}

// FindOrCreate resolves a contact address to an identity id, creating a
// passwordless placeholder identity when none exists yet.
func (d *StoreDirectory) FindOrCreate(contactAddress string) (string, error) {
	email := strings.TrimSpace(contactAddress)
	if email == "" {
		return "", NewInvalidError("contact address required")
	}
	u, err := d.store.FindUserByEmail(email)
	if err != nil {
		return "", err
	}
	if u != nil {
		return u.ID, nil
	}
	id := d.idGen("u", 7)
	if err := d.store.AddUser(&User{ID: id, Email: email, CreatedAt: d.now()}); err != nil {
		return "", err
	}
	return id, nil
}

func (d *StoreDirectory) EnsureConnection(identityA, identityB string) error {
	if identityA == "" || identityB == "" || identityA == identityB {
		return nil
	}
	return d.store.EnsureConnection(identityA, identityB)
}

func (d *StoreDirectory) GrantDefaultVisibility(identityID string) error {
	if identityID == "" {
		return nil
	}
	return d.store.SetDefaultVisibility(identityID)
}

var _ Directory = (*StoreDirectory)(nil)
