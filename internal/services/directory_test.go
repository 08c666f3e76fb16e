package services

import "testing"

func newStoreDirectory(f *fakeStore) *StoreDirectory {
	d := NewStoreDirectory(f)
	d.now = fixedTime
	n := 0
	d.idGen = func(prefix string, _ int) string {
		n++
		return prefix + string(rune('0'+n))
	}
	return d
}

func TestFindOrCreateReusesExistingIdentity(t *testing.T) {
	f := newFakeStore()
	f.users["acct9"] = &User{ID: "acct9", Email: "sam@example.com"}
	d := newStoreDirectory(f)

	id, err := d.FindOrCreate("  sam@example.com ")
	if err != nil {
		t.Fatalf("FindOrCreate returned error: %v", err)
	}
	if id != "acct9" {
		t.Fatalf("id = %q, want acct9", id)
	}
	if len(f.users) != 1 {
		t.Fatalf("users = %d, want no placeholder beside the existing identity", len(f.users))
	}
}

func TestFindOrCreatePlaceholderIdentity(t *testing.T) {
	f := newFakeStore()
	d := newStoreDirectory(f)

	id, err := d.FindOrCreate("new@example.com")
	if err != nil {
		t.Fatalf("FindOrCreate returned error: %v", err)
	}
	u := f.users[id]
	if u == nil || u.Email != "new@example.com" {
		t.Fatalf("placeholder = %+v, want stored under %q", u, id)
	}
	// Placeholders carry no credentials; login stays closed until the person
	// registers properly.
	if len(u.PassHash) != 0 {
		t.Fatalf("placeholder has a password hash: %q", u.PassHash)
	}

	again, err := d.FindOrCreate("new@example.com")
	if err != nil || again != id {
		t.Fatalf("second FindOrCreate = %q, %v, want %q", again, err, id)
	}
}

func TestFindOrCreateBlankAddress(t *testing.T) {
	d := newStoreDirectory(newFakeStore())

	_, err := d.FindOrCreate("   ")
	se, ok := AsServiceError(err)
	if !ok || se.Code != ErrorInvalid {
		t.Fatalf("expected invalid error, got %v", err)
	}
}
