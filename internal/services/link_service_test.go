package services

import (
	"errors"
	"testing"
)

type fakeDirectory struct {
	connections []string
	visibility  []string
	err         error
}

func (d *fakeDirectory) EnsureConnection(a, b string) error {
	if d.err != nil {
		return d.err
	}
	d.connections = append(d.connections, a+"|"+b)
	return nil
}

func (d *fakeDirectory) GrantDefaultVisibility(id string) error {
	if d.err != nil {
		return d.err
	}
	d.visibility = append(d.visibility, id)
	return nil
}

func newLinkService(f *fakeStore, dir *fakeDirectory) *LinkService {
	svc := NewLinkService(f, dir, nil)
	svc.now = fixedTime
	n := 0
	svc.idGen = func() string {
		n++
		return "g" + string(rune('0'+n))
	}
	return svc
}

func TestLinkGrantsAskerEveryExistingDrop(t *testing.T) {
	f := newFakeStore()
	seedDistribution(f, "tok1")
	f.users["acct9"] = &User{ID: "acct9", Email: "sam@example.com"}
	// Two answers contributed anonymously before linking; asker owns both
	// drops, so grants for those would be redundant only if ownership were
	// checked. The binding rule is grant-always-if-absent.
	f.drops["d1"] = &Drop{ID: "d1", OwnerID: "asker1", Content: "a"}
	f.drops["d2"] = &Drop{ID: "d2", OwnerID: "asker1", Content: "b"}
	f.answers = append(f.answers,
		&Answer{ID: "a1", RecipientID: "rcpt1", QuestionID: "q1", DropID: "d1"},
		&Answer{ID: "a2", RecipientID: "rcpt1", QuestionID: "q2", DropID: "d2"},
	)
	svc := newLinkService(f, &fakeDirectory{})

	if err := svc.Link("tok1", "acct9"); err != nil {
		t.Fatalf("Link returned error: %v", err)
	}
	if got := f.recipients["rcpt1"].AccountID; got != "acct9" {
		t.Fatalf("recipient account = %q, want acct9", got)
	}
	if len(f.grants) != 2 {
		t.Fatalf("grants = %d, want 2 (one per pre-link drop)", len(f.grants))
	}
	for _, g := range f.grants {
		if g.IdentityID != "asker1" {
			t.Fatalf("grant identity = %q, want asker1", g.IdentityID)
		}
	}
	// Ownership never moved.
	if f.drops["d1"].OwnerID != "asker1" || f.drops["d2"].OwnerID != "asker1" {
		t.Fatal("drop ownership changed during link")
	}
}

func TestLinkSkipsExistingGrants(t *testing.T) {
	f := newFakeStore()
	seedDistribution(f, "tok1")
	f.users["acct9"] = &User{ID: "acct9", Email: "sam@example.com"}
	f.drops["d1"] = &Drop{ID: "d1", OwnerID: "asker1"}
	f.answers = append(f.answers, &Answer{ID: "a1", RecipientID: "rcpt1", QuestionID: "q1", DropID: "d1"})
	f.grants = append(f.grants, &AccessGrant{ID: "pre", IdentityID: "asker1", DropID: "d1"})
	svc := newLinkService(f, &fakeDirectory{})

	if err := svc.Link("tok1", "acct9"); err != nil {
		t.Fatalf("Link returned error: %v", err)
	}
	if len(f.grants) != 1 {
		t.Fatalf("grants = %d, want 1 (existing grant not duplicated)", len(f.grants))
	}
}

func TestLinkIdempotentSameAccount(t *testing.T) {
	f := newFakeStore()
	seedDistribution(f, "tok1")
	f.users["acct9"] = &User{ID: "acct9", Email: "sam@example.com"}
	f.recipients["rcpt1"].AccountID = "acct9"
	svc := newLinkService(f, &fakeDirectory{})

	if err := svc.Link("tok1", "acct9"); err != nil {
		t.Fatalf("repeat Link returned error: %v", err)
	}
}

func TestLinkDifferentAccountConflicts(t *testing.T) {
	f := newFakeStore()
	seedDistribution(f, "tok1")
	f.users["acct9"] = &User{ID: "acct9", Email: "sam@example.com"}
	f.users["other"] = &User{ID: "other", Email: "other@example.com"}
	f.recipients["rcpt1"].AccountID = "acct9"
	svc := newLinkService(f, &fakeDirectory{})

	if err := svc.Link("tok1", "other"); !errors.Is(err, ErrAlreadyLinked) {
		t.Fatalf("expected ErrAlreadyLinked, got %v", err)
	}
	if got := f.recipients["rcpt1"].AccountID; got != "acct9" {
		t.Fatalf("binding changed to %q, must stay acct9", got)
	}
}

func TestLinkLosingRaceReportsConflict(t *testing.T) {
	// Another link can land between the Bound() read and the store write; the
	// store then refuses the bind and the caller sees the usual conflict.
	f := newFakeStore()
	seedDistribution(f, "tok1")
	f.users["acct9"] = &User{ID: "acct9", Email: "sam@example.com"}
	f.failInsert = ErrRecipientBound
	svc := newLinkService(f, &fakeDirectory{})

	if err := svc.Link("tok1", "acct9"); !errors.Is(err, ErrAlreadyLinked) {
		t.Fatalf("expected ErrAlreadyLinked when the store refuses the bind, got %v", err)
	}
}

func TestLinkUnknownAccount(t *testing.T) {
	f := newFakeStore()
	seedDistribution(f, "tok1")
	svc := newLinkService(f, &fakeDirectory{})

	err := svc.Link("tok1", "ghost")
	se, ok := AsServiceError(err)
	if !ok || se.Code != ErrorInvalid {
		t.Fatalf("expected invalid error for unknown account, got %v", err)
	}
}

func TestLinkDirectoryFailureNotFatal(t *testing.T) {
	f := newFakeStore()
	seedDistribution(f, "tok1")
	f.users["acct9"] = &User{ID: "acct9", Email: "sam@example.com"}
	dir := &fakeDirectory{err: errors.New("directory down")}
	svc := newLinkService(f, dir)

	if err := svc.Link("tok1", "acct9"); err != nil {
		t.Fatalf("Link must not fail when the directory is down, got %v", err)
	}
	if got := f.recipients["rcpt1"].AccountID; got != "acct9" {
		t.Fatalf("binding = %q, want acct9 despite directory failure", got)
	}
}

func TestLinkDeadToken(t *testing.T) {
	f := newFakeStore()
	seedDistribution(f, "tok1")
	f.users["acct9"] = &User{ID: "acct9", Email: "sam@example.com"}
	f.recipients["rcpt1"].Active = false
	svc := newLinkService(f, &fakeDirectory{})

	err := svc.Link("tok1", "acct9")
	se, ok := AsServiceError(err)
	if !ok || se.Code != ErrorNotFound {
		t.Fatalf("expected not_found for deactivated token, got %v", err)
	}
}
