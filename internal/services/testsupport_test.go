package services

import (
	"context"
	"errors"
	"time"
)

// fakeStore is the in-package stub used across service tests. It implements
// the full Store surface with plain maps; the duplicate-answer constraint is
// modeled the same way the real stores model it.
type fakeStore struct {
	questionSets map[string]*QuestionSet
	questions    map[string][]*Question

	distributions map[string]*Distribution
	recipients    map[string]*Recipient

	answers []*Answer
	drops   map[string]*Drop
	grants  []*AccessGrant

	users map[string]*User
	audit []AuditEntry

	connections []string
	failInsert  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		questionSets:  map[string]*QuestionSet{},
		questions:     map[string][]*Question{},
		distributions: map[string]*Distribution{},
		recipients:    map[string]*Recipient{},
		drops:         map[string]*Drop{},
		users:         map[string]*User{},
	}
}

func (f *fakeStore) InsertQuestionSet(qs *QuestionSet, qq []*Question) error {
	if f.failInsert != nil {
		return f.failInsert
	}
	f.questionSets[qs.ID] = qs
	f.questions[qs.ID] = qq
	return nil
}

func (f *fakeStore) GetQuestionSet(id string) (*QuestionSet, error) { return f.questionSets[id], nil }

func (f *fakeStore) ListQuestions(setID string) ([]*Question, error) { return f.questions[setID], nil }

func (f *fakeStore) UpdateQuestionSet(qs *QuestionSet, qq []*Question) error {
	f.questionSets[qs.ID] = qs
	f.questions[qs.ID] = qq
	return nil
}

func (f *fakeStore) ArchiveQuestionSet(id string) error {
	if qs := f.questionSets[id]; qs != nil {
		qs.Archived = true
	}
	return nil
}

func (f *fakeStore) CountAnswersByQuestion(setID string) (map[string]int, error) {
	out := map[string]int{}
	for _, q := range f.questions[setID] {
		for _, a := range f.answers {
			if a.QuestionID == q.ID {
				out[q.ID]++
			}
		}
	}
	return out, nil
}

func (f *fakeStore) InsertDistribution(d *Distribution, rr []*Recipient) error {
	if f.failInsert != nil {
		return f.failInsert
	}
	f.distributions[d.ID] = d
	for _, r := range rr {
		f.recipients[r.ID] = r
	}
	return nil
}

func (f *fakeStore) GetDistribution(id string) (*Distribution, error) {
	return f.distributions[id], nil
}

func (f *fakeStore) GetRecipient(id string) (*Recipient, error) { return f.recipients[id], nil }

func (f *fakeStore) GetRecipientByToken(token string) (*Recipient, error) {
	for _, r := range f.recipients {
		if r.Token == token {
			return r, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) ListRecipients(distributionID string) ([]*Recipient, error) {
	out := []*Recipient{}
	for _, r := range f.recipients {
		if r.DistributionID == distributionID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) DeactivateRecipient(id string) error {
	if r := f.recipients[id]; r != nil {
		r.Active = false
	}
	return nil
}

func (f *fakeStore) IncrementReminders(id string) error {
	if r := f.recipients[id]; r != nil {
		r.Reminders++
	}
	return nil
}

func (f *fakeStore) CreateAnswer(a *Answer, d *Drop, g *AccessGrant) error {
	for _, existing := range f.answers {
		if existing.RecipientID == a.RecipientID && existing.QuestionID == a.QuestionID {
			return ErrAnswerExists
		}
	}
	f.drops[d.ID] = d
	f.answers = append(f.answers, a)
	if g != nil {
		f.grants = append(f.grants, g)
	}
	return nil
}

func (f *fakeStore) GetAnswer(recipientID, questionID string) (*Answer, error) {
	for _, a := range f.answers {
		if a.RecipientID == recipientID && a.QuestionID == questionID {
			return a, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) ListAnswersByRecipient(recipientID string) ([]*Answer, error) {
	out := []*Answer{}
	for _, a := range f.answers {
		if a.RecipientID == recipientID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeStore) GetDrop(id string) (*Drop, error) { return f.drops[id], nil }

func (f *fakeStore) UpdateDrop(d *Drop) error {
	f.drops[d.ID] = d
	return nil
}

func (f *fakeStore) HasAccessGrant(identityID, dropID string) (bool, error) {
	for _, g := range f.grants {
		if g.IdentityID == identityID && g.DropID == dropID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) ListAccessGrantsByIdentity(identityID string) ([]*AccessGrant, error) {
	out := []*AccessGrant{}
	for _, g := range f.grants {
		if g.IdentityID == identityID {
			out = append(out, g)
		}
	}
	return out, nil
}

func (f *fakeStore) BindRecipientIdentity(recipientID, accountID string, grants []*AccessGrant) error {
	if f.failInsert != nil {
		return f.failInsert
	}
	if r := f.recipients[recipientID]; r != nil {
		if r.AccountID != "" && r.AccountID != accountID {
			return ErrRecipientBound
		}
		r.AccountID = accountID
	}
	f.grants = append(f.grants, grants...)
	return nil
}

func (f *fakeStore) AddUser(u *User) error {
	f.users[u.ID] = u
	return nil
}

func (f *fakeStore) GetUser(id string) (*User, error) { return f.users[id], nil }

func (f *fakeStore) FindUserByEmail(email string) (*User, error) {
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) EnsureConnection(a, b string) error {
	f.connections = append(f.connections, a+"|"+b)
	return nil
}

func (f *fakeStore) SetDefaultVisibility(id string) error {
	if u := f.users[id]; u != nil {
		u.DefaultVisibility = true
	}
	return nil
}

func (f *fakeStore) AddAudit(e AuditEntry) { f.audit = append(f.audit, e) }

var _ Store = (*fakeStore)(nil)

var errQueueFull = errors.New("queue full")

// fakeQueue records enqueued jobs, optionally rejecting everything.
type fakeQueue struct {
	jobs []FanoutJob
	err  error
}

func (q *fakeQueue) Enqueue(_ context.Context, job FanoutJob) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

// fakeMedia accepts every ref in allowed keyed by ref+"|"+ownerID+"|"+dropID.
type fakeMedia struct {
	allowed map[string]bool
	stored  int
}

func (m *fakeMedia) Resolve(ref, ownerID, dropID string) (string, error) {
	if m.allowed[ref+"|"+ownerID+"|"+dropID] {
		return "/media/" + ownerID + "/" + dropID + "/" + ref, nil
	}
	return "", errors.New("not found")
}

func (m *fakeMedia) Store(ownerID, dropID string, _ []byte) (string, error) {
	m.stored++
	ref := "ref-stored-" + string(rune('0'+m.stored))
	if m.allowed == nil {
		m.allowed = map[string]bool{}
	}
	m.allowed[ref+"|"+ownerID+"|"+dropID] = true
	return ref, nil
}

func fixedTime() time.Time { return time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC) }

// seedDistribution wires one asker, one question set with two questions, one
// distribution, one active recipient with the given token.
func seedDistribution(f *fakeStore, token string) {
	f.users["asker1"] = &User{ID: "asker1", Email: "asker@example.com", Name: "Avery"}
	f.questionSets["set1"] = &QuestionSet{ID: "set1", OwnerID: "asker1", Name: "Checkin", CreatedAt: fixedTime()}
	f.questions["set1"] = []*Question{
		{ID: "q1", QuestionSetID: "set1", Text: "How was your week?", Position: 1},
		{ID: "q2", QuestionSetID: "set1", Text: "Anything blocking you?", Position: 2},
	}
	f.distributions["dist1"] = &Distribution{ID: "dist1", QuestionSetID: "set1", AskerID: "asker1", CreatedAt: fixedTime()}
	f.recipients["rcpt1"] = &Recipient{
		ID:             "rcpt1",
		DistributionID: "dist1",
		Token:          token,
		Alias:          "Sam",
		Contact:        "sam@example.com",
		Active:         true,
		CreatedAt:      fixedTime(),
	}
}
