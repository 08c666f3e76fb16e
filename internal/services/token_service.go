package services

import "strings"

type TokenStore interface {
	GetRecipientByToken(token string) (*Recipient, error)
	GetDistribution(id string) (*Distribution, error)
	GetQuestionSet(id string) (*QuestionSet, error)
	ListQuestions(questionSetID string) ([]*Question, error)
	ListAnswersByRecipient(recipientID string) ([]*Answer, error)
	GetUser(id string) (*User, error)
}

// QuestionView is one question rendered for the token holder, with its
// answered state so the answer page needs no second round trip.
type QuestionView struct {
	ID       string `json:"id"`
	Text     string `json:"text"`
	Position int    `json:"position"`
	Answered bool   `json:"answered"`
	AnswerID string `json:"answer_id,omitempty"`
}

// RecipientContext is everything a bearer token resolves to.
type RecipientContext struct {
	RecipientID    string         `json:"recipient_id"`
	DistributionID string         `json:"distribution_id"`
	Alias          string         `json:"alias,omitempty"`
	Bound          bool           `json:"bound"`
	AccountID      string         `json:"-"`
	AskerID        string         `json:"-"`
	AskerName      string         `json:"asker_name"`
	Message        string         `json:"message,omitempty"`
	Questions      []QuestionView `json:"questions"`
}

type TokenService struct {
	store TokenStore
}

func NewTokenService(store TokenStore) *TokenService {
	return &TokenService{store: store}
}

// errDeadToken is the single not-found outcome for every failed resolve.
// A token that was deactivated and a token that never existed produce the
// identical error, so callers cannot probe which tokens exist.
func errDeadToken() error { return NewNotFoundError("this link is no longer active") }

// Resolve validates a bearer token and returns the bound context.
func (s *TokenService) Resolve(token string) (*RecipientContext, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errDeadToken()
	}
	r, err := s.store.GetRecipientByToken(token)
	if err != nil {
		return nil, err
	}
	if r == nil || !r.Active {
		return nil, errDeadToken()
	}
	d, err := s.store.GetDistribution(r.DistributionID)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, errDeadToken()
	}
	qq, err := s.store.ListQuestions(d.QuestionSetID)
	if err != nil {
		return nil, err
	}
	answers, err := s.store.ListAnswersByRecipient(r.ID)
	if err != nil {
		return nil, err
	}
	answered := make(map[string]string, len(answers))
	for _, a := range answers {
		answered[a.QuestionID] = a.ID
	}

	askerName := ""
	if u, err := s.store.GetUser(d.AskerID); err == nil && u != nil {
		askerName = u.Name
		if askerName == "" {
			askerName = u.Email
		}
	}

	ctx := &RecipientContext{
		RecipientID:    r.ID,
		DistributionID: d.ID,
		Alias:          r.Alias,
		Bound:          r.Bound(),
		AccountID:      r.AccountID,
		AskerID:        d.AskerID,
		AskerName:      askerName,
		Message:        d.Message,
	}
	for _, q := range qq {
		id, ok := answered[q.ID]
		ctx.Questions = append(ctx.Questions, QuestionView{
			ID:       q.ID,
			Text:     q.Text,
			Position: q.Position,
			Answered: ok,
			AnswerID: id,
		})
	}
	return ctx, nil
}
