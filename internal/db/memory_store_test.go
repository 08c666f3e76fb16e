package db

import (
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/askdrop/askdrop/internal/services"
)

func seedStore(t *testing.T) *MemoryStore {
	t.Helper()
	s := NewMemoryStore()
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	if err := s.InsertQuestionSet(
		&services.QuestionSet{ID: "set1", OwnerID: "asker1", Name: "Checkin", CreatedAt: now},
		[]*services.Question{{ID: "q1", QuestionSetID: "set1", Text: "How was your week?", Position: 1}},
	); err != nil {
		t.Fatalf("InsertQuestionSet: %v", err)
	}
	if err := s.InsertDistribution(
		&services.Distribution{ID: "dist1", QuestionSetID: "set1", AskerID: "asker1", CreatedAt: now},
		[]*services.Recipient{{ID: "rcpt1", DistributionID: "dist1", Token: "tok1", Active: true, CreatedAt: now}},
	); err != nil {
		t.Fatalf("InsertDistribution: %v", err)
	}
	return s
}

func TestConcurrentCreateAnswerExactlyOneWins(t *testing.T) {
	s := seedStore(t)
	const racers = 32

	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := strconv.Itoa(i)
			errs[i] = s.CreateAnswer(
				&services.Answer{ID: "a" + id, RecipientID: "rcpt1", QuestionID: "q1", DropID: "d" + id},
				&services.Drop{ID: "d" + id, OwnerID: "asker1", Content: "racer " + id},
				nil,
			)
		}(i)
	}
	wg.Wait()

	wins, dupes := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, services.ErrAnswerExists):
			dupes++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || dupes != racers-1 {
		t.Fatalf("wins=%d dupes=%d, want exactly one winner", wins, dupes)
	}
	answers, err := s.ListAnswersByRecipient("rcpt1")
	if err != nil {
		t.Fatalf("ListAnswersByRecipient: %v", err)
	}
	if len(answers) != 1 {
		t.Fatalf("answers stored = %d, want 1", len(answers))
	}
	// The losers' drops were never stored as answer targets.
	if d, _ := s.GetDrop(answers[0].DropID); d == nil {
		t.Fatal("winning drop missing")
	}
}

func TestBindRecipientIdentityGrantsAreIdempotent(t *testing.T) {
	s := seedStore(t)
	if err := s.CreateAnswer(
		&services.Answer{ID: "a1", RecipientID: "rcpt1", QuestionID: "q1", DropID: "d1"},
		&services.Drop{ID: "d1", OwnerID: "asker1", Content: "hello"},
		nil,
	); err != nil {
		t.Fatalf("CreateAnswer: %v", err)
	}
	grants := []*services.AccessGrant{{ID: "g1", IdentityID: "asker1", DropID: "d1"}}
	if err := s.BindRecipientIdentity("rcpt1", "acct9", grants); err != nil {
		t.Fatalf("BindRecipientIdentity: %v", err)
	}
	// Re-binding with the same grant must not duplicate it.
	if err := s.BindRecipientIdentity("rcpt1", "acct9", []*services.AccessGrant{{ID: "g2", IdentityID: "asker1", DropID: "d1"}}); err != nil {
		t.Fatalf("repeat BindRecipientIdentity: %v", err)
	}
	out, err := s.ListAccessGrantsByIdentity("asker1")
	if err != nil {
		t.Fatalf("ListAccessGrantsByIdentity: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("grants = %d, want 1", len(out))
	}
	r, _ := s.GetRecipient("rcpt1")
	if r.AccountID != "acct9" {
		t.Fatalf("account = %q, want acct9", r.AccountID)
	}
}

func TestBindRecipientIdentityRejectsRebinding(t *testing.T) {
	s := seedStore(t)
	if err := s.BindRecipientIdentity("rcpt1", "acctA", nil); err != nil {
		t.Fatalf("first BindRecipientIdentity: %v", err)
	}
	// A second bind to a different account loses; the first binding stands.
	err := s.BindRecipientIdentity("rcpt1", "acctB", nil)
	if !errors.Is(err, services.ErrRecipientBound) {
		t.Fatalf("rebind error = %v, want ErrRecipientBound", err)
	}
	r, _ := s.GetRecipient("rcpt1")
	if r.AccountID != "acctA" {
		t.Fatalf("account = %q, want acctA", r.AccountID)
	}
}

func TestGetRecipientByToken(t *testing.T) {
	s := seedStore(t)
	r, err := s.GetRecipientByToken("tok1")
	if err != nil || r == nil || r.ID != "rcpt1" {
		t.Fatalf("GetRecipientByToken = %+v, %v", r, err)
	}
	r, err = s.GetRecipientByToken("nope")
	if err != nil || r != nil {
		t.Fatalf("unknown token should return nil, got %+v, %v", r, err)
	}
}

func TestReturnedValuesAreCopies(t *testing.T) {
	s := seedStore(t)
	r1, _ := s.GetRecipient("rcpt1")
	r1.Active = false
	r2, _ := s.GetRecipient("rcpt1")
	if !r2.Active {
		t.Fatal("mutation of a returned recipient leaked into the store")
	}
}

func TestCountAnswersByQuestion(t *testing.T) {
	s := seedStore(t)
	if err := s.CreateAnswer(
		&services.Answer{ID: "a1", RecipientID: "rcpt1", QuestionID: "q1", DropID: "d1"},
		&services.Drop{ID: "d1", OwnerID: "asker1"},
		nil,
	); err != nil {
		t.Fatalf("CreateAnswer: %v", err)
	}
	counts, err := s.CountAnswersByQuestion("set1")
	if err != nil {
		t.Fatalf("CountAnswersByQuestion: %v", err)
	}
	if counts["q1"] != 1 {
		t.Fatalf("counts = %v, want q1:1", counts)
	}
}
