package db

import (
	"sort"
	"strings"
	"sync"

	"github.com/askdrop/askdrop/internal/services"
)

// MemoryStore is the in-process store used by tests and zero-config boots.
// Every invariant the SQLite store enforces with constraints is enforced
// here under one mutex, so concurrent duplicate submissions fail with the
// same deterministic services.ErrAnswerExists.
type MemoryStore struct {
	mu sync.RWMutex

	questionSets   map[string]*services.QuestionSet
	questionsBySet map[string][]*services.Question

	distributions map[string]*services.Distribution
	recipients    map[string]*services.Recipient
	tokenIndex    map[string]string // token -> recipient id

	answers      map[string]*services.Answer
	answerByPair map[string]string // recipient\x00question -> answer id
	answerOrder  map[string][]string
	drops        map[string]*services.Drop

	grants    map[string]*services.AccessGrant
	grantPair map[string]bool // identity\x00drop

	users       map[string]*services.User
	emailIndex  map[string]string
	connections map[string]bool

	audit []services.AuditEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		questionSets:   map[string]*services.QuestionSet{},
		questionsBySet: map[string][]*services.Question{},
		distributions:  map[string]*services.Distribution{},
		recipients:     map[string]*services.Recipient{},
		tokenIndex:     map[string]string{},
		answers:        map[string]*services.Answer{},
		answerByPair:   map[string]string{},
		answerOrder:    map[string][]string{},
		drops:          map[string]*services.Drop{},
		grants:         map[string]*services.AccessGrant{},
		grantPair:      map[string]bool{},
		users:          map[string]*services.User{},
		emailIndex:     map[string]string{},
		connections:    map[string]bool{},
	}
}

func pairKey(a, b string) string { return a + "\x00" + b }

// --- Question sets ---

func (s *MemoryStore) InsertQuestionSet(qs *services.QuestionSet, questions []*services.Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *qs
	s.questionSets[qs.ID] = &cp
	s.questionsBySet[qs.ID] = copyQuestions(questions)
	return nil
}

func (s *MemoryStore) GetQuestionSet(id string) (*services.QuestionSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	qs := s.questionSets[id]
	if qs == nil {
		return nil, nil
	}
	cp := *qs
	return &cp, nil
}

func (s *MemoryStore) ListQuestions(questionSetID string) ([]*services.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyQuestions(s.questionsBySet[questionSetID]), nil
}

func (s *MemoryStore) UpdateQuestionSet(qs *services.QuestionSet, questions []*services.Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *qs
	s.questionSets[qs.ID] = &cp
	s.questionsBySet[qs.ID] = copyQuestions(questions)
	return nil
}

func (s *MemoryStore) ArchiveQuestionSet(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if qs := s.questionSets[id]; qs != nil {
		qs.Archived = true
	}
	return nil
}

func (s *MemoryStore) CountAnswersByQuestion(questionSetID string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := map[string]bool{}
	for _, q := range s.questionsBySet[questionSetID] {
		ids[q.ID] = true
	}
	out := map[string]int{}
	for _, a := range s.answers {
		if ids[a.QuestionID] {
			out[a.QuestionID]++
		}
	}
	return out, nil
}

// --- Distributions and recipients ---

func (s *MemoryStore) InsertDistribution(d *services.Distribution, recipients []*services.Recipient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	s.distributions[d.ID] = &cp
	for _, r := range recipients {
		rc := *r
		s.recipients[r.ID] = &rc
		s.tokenIndex[r.Token] = r.ID
	}
	return nil
}

func (s *MemoryStore) GetDistribution(id string) (*services.Distribution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d := s.distributions[id]
	if d == nil {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (s *MemoryStore) GetRecipient(id string) (*services.Recipient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyRecipient(s.recipients[id]), nil
}

func (s *MemoryStore) GetRecipientByToken(token string) (*services.Recipient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyRecipient(s.recipients[s.tokenIndex[token]]), nil
}

func (s *MemoryStore) ListRecipients(distributionID string) ([]*services.Recipient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*services.Recipient{}
	for _, r := range s.recipients {
		if r.DistributionID == distributionID {
			out = append(out, copyRecipient(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) DeactivateRecipient(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r := s.recipients[id]; r != nil {
		r.Active = false
	}
	return nil
}

func (s *MemoryStore) IncrementReminders(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r := s.recipients[id]; r != nil {
		r.Reminders++
	}
	return nil
}

// --- Answers, drops, grants ---

func (s *MemoryStore) CreateAnswer(a *services.Answer, d *services.Drop, g *services.AccessGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey(a.RecipientID, a.QuestionID)
	if _, exists := s.answerByPair[key]; exists {
		return services.ErrAnswerExists
	}
	dc := *d
	s.drops[d.ID] = &dc
	ac := *a
	s.answers[a.ID] = &ac
	s.answerByPair[key] = a.ID
	s.answerOrder[a.RecipientID] = append(s.answerOrder[a.RecipientID], a.ID)
	if g != nil {
		s.insertGrantLocked(g)
	}
	return nil
}

func (s *MemoryStore) GetAnswer(recipientID, questionID string) (*services.Answer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.answerByPair[pairKey(recipientID, questionID)]
	if !ok {
		return nil, nil
	}
	cp := *s.answers[id]
	return &cp, nil
}

func (s *MemoryStore) ListAnswersByRecipient(recipientID string) ([]*services.Answer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*services.Answer{}
	for _, id := range s.answerOrder[recipientID] {
		cp := *s.answers[id]
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) GetDrop(id string) (*services.Drop, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d := s.drops[id]
	if d == nil {
		return nil, nil
	}
	cp := *d
	cp.MediaRefs = append([]string(nil), d.MediaRefs...)
	return &cp, nil
}

func (s *MemoryStore) UpdateDrop(d *services.Drop) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.drops[d.ID]
	if existing == nil {
		return nil
	}
	// OwnerID and CreatedAt are immutable; only content-bearing fields move.
	existing.Content = d.Content
	existing.MediaRefs = append([]string(nil), d.MediaRefs...)
	existing.UpdatedAt = d.UpdatedAt
	return nil
}

func (s *MemoryStore) insertGrantLocked(g *services.AccessGrant) {
	key := pairKey(g.IdentityID, g.DropID)
	if s.grantPair[key] {
		return
	}
	cp := *g
	s.grants[g.ID] = &cp
	s.grantPair[key] = true
}

func (s *MemoryStore) HasAccessGrant(identityID, dropID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.grantPair[pairKey(identityID, dropID)], nil
}

func (s *MemoryStore) ListAccessGrantsByIdentity(identityID string) ([]*services.AccessGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*services.AccessGrant{}
	for _, g := range s.grants {
		if g.IdentityID == identityID {
			cp := *g
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) BindRecipientIdentity(recipientID, accountID string, grants []*services.AccessGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.recipients[recipientID]
	if r == nil {
		return nil
	}
	// Binding is one-way: a recipient bound to another account stays bound.
	if r.AccountID != "" && r.AccountID != accountID {
		return services.ErrRecipientBound
	}
	r.AccountID = accountID
	for _, g := range grants {
		s.insertGrantLocked(g)
	}
	return nil
}

// --- Accounts and connections ---

func (s *MemoryStore) AddUser(u *services.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *u
	s.users[u.ID] = &cp
	s.emailIndex[strings.ToLower(u.Email)] = u.ID
	return nil
}

func (s *MemoryStore) GetUser(id string) (*services.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u := s.users[id]
	if u == nil {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) FindUserByEmail(email string) (*services.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u := s.users[s.emailIndex[strings.ToLower(email)]]
	if u == nil {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) EnsureConnection(identityA, identityB string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if identityB < identityA {
		identityA, identityB = identityB, identityA
	}
	s.connections[pairKey(identityA, identityB)] = true
	return nil
}

func (s *MemoryStore) SetDefaultVisibility(identityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u := s.users[identityID]; u != nil {
		u.DefaultVisibility = true
	}
	return nil
}

func (s *MemoryStore) AddAudit(e services.AuditEntry) {
	s.mu.Lock()
	s.audit = append(s.audit, e)
	s.mu.Unlock()
}

func (s *MemoryStore) ListAudit() []services.AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]services.AuditEntry, len(s.audit))
	copy(out, s.audit)
	return out
}

func copyQuestions(in []*services.Question) []*services.Question {
	out := make([]*services.Question, 0, len(in))
	for _, q := range in {
		cp := *q
		out = append(out, &cp)
	}
	return out
}

func copyRecipient(r *services.Recipient) *services.Recipient {
	if r == nil {
		return nil
	}
	cp := *r
	return &cp
}

var _ services.Store = (*MemoryStore)(nil)
