package services

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	MaxQuestionsPerSet = 5
	MaxQuestionLength  = 500
)

type QuestionSetStore interface {
	InsertQuestionSet(qs *QuestionSet, questions []*Question) error
	GetQuestionSet(id string) (*QuestionSet, error)
	ListQuestions(questionSetID string) ([]*Question, error)
	UpdateQuestionSet(qs *QuestionSet, questions []*Question) error
	ArchiveQuestionSet(id string) error
	CountAnswersByQuestion(questionSetID string) (map[string]int, error)
	AddAudit(entry AuditEntry)
}

type QuestionSetService struct {
	store QuestionSetStore
	now   func() time.Time
	idGen func() string
}

func NewQuestionSetService(store QuestionSetStore) *QuestionSetService {
	return &QuestionSetService{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		idGen: func() string { return shortID(8) },
	}
}

func shortID(n int) string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:n]
}

// QuestionEdit carries one question of a create/update payload. An empty ID
// means a new question.
type QuestionEdit struct {
	ID   string `json:"id,omitempty"`
	Text string `json:"text"`
}

func validateQuestionTexts(edits []QuestionEdit) error {
	if len(edits) == 0 {
		return NewInvalidError("at least one question required")
	}
	if len(edits) > MaxQuestionsPerSet {
		return NewInvalidError("at most " + strconv.Itoa(MaxQuestionsPerSet) + " questions per set")
	}
	for _, e := range edits {
		text := strings.TrimSpace(e.Text)
		if text == "" {
			return NewInvalidError("question text required")
		}
		if len([]rune(text)) > MaxQuestionLength {
			return NewInvalidError("question text exceeds " + strconv.Itoa(MaxQuestionLength) + " characters")
		}
	}
	return nil
}

func (s *QuestionSetService) Create(ownerID, name string, questions []QuestionEdit) (*QuestionSet, []*Question, error) {
	if ownerID == "" {
		return nil, nil, NewUnauthorizedError("unauthorized")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil, NewInvalidError("name required")
	}
	if err := validateQuestionTexts(questions); err != nil {
		return nil, nil, err
	}
	qs := &QuestionSet{ID: s.idGen(), OwnerID: ownerID, Name: name, CreatedAt: s.now()}
	qq := make([]*Question, 0, len(questions))
	for i, e := range questions {
		qq = append(qq, &Question{ID: s.idGen(), QuestionSetID: qs.ID, Text: strings.TrimSpace(e.Text), Position: i + 1})
	}
	if err := s.store.InsertQuestionSet(qs, qq); err != nil {
		return nil, nil, err
	}
	return qs, qq, nil
}

// Update replaces the set's name and question list. A question that already
// has answers is immutable: it must stay in the list with unchanged text at
// its stored position, and an update that would drop, rewrite, or reorder it
// is rejected rather than silently applied.
func (s *QuestionSetService) Update(ownerID, setID, name string, questions []QuestionEdit) error {
	qs, err := s.authorize(ownerID, setID)
	if err != nil {
		return err
	}
	if qs.Archived {
		return NewConflictError("question set archived")
	}
	if err := validateQuestionTexts(questions); err != nil {
		return err
	}
	existing, err := s.store.ListQuestions(setID)
	if err != nil {
		return err
	}
	counts, err := s.store.CountAnswersByQuestion(setID)
	if err != nil {
		return err
	}
	byID := map[string]QuestionEdit{}
	posByID := map[string]int{}
	for i, e := range questions {
		if e.ID != "" {
			byID[e.ID] = e
			posByID[e.ID] = i + 1
		}
	}
	for _, q := range existing {
		if counts[q.ID] == 0 {
			continue
		}
		kept, ok := byID[q.ID]
		if !ok {
			return NewConflictError("cannot remove an answered question")
		}
		if strings.TrimSpace(kept.Text) != q.Text {
			return NewConflictError("cannot edit an answered question")
		}
		if posByID[q.ID] != q.Position {
			return NewConflictError("cannot move an answered question")
		}
	}

	if name = strings.TrimSpace(name); name != "" {
		qs.Name = name
	}
	qq := make([]*Question, 0, len(questions))
	for i, e := range questions {
		id := e.ID
		if id == "" {
			id = s.idGen()
		}
		qq = append(qq, &Question{ID: id, QuestionSetID: setID, Text: strings.TrimSpace(e.Text), Position: i + 1})
	}
	return s.store.UpdateQuestionSet(qs, qq)
}

// Archive soft-deletes a set. Sets are never hard-deleted once any question
// has answers, so archive is the only removal path offered at all.
func (s *QuestionSetService) Archive(ownerID, setID string) error {
	if _, err := s.authorize(ownerID, setID); err != nil {
		return err
	}
	if err := s.store.ArchiveQuestionSet(setID); err != nil {
		return err
	}
	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: ownerID, Action: "questionset.archive", Target: setID})
	return nil
}

func (s *QuestionSetService) Get(ownerID, setID string) (*QuestionSet, []*Question, error) {
	qs, err := s.authorize(ownerID, setID)
	if err != nil {
		return nil, nil, err
	}
	qq, err := s.store.ListQuestions(setID)
	if err != nil {
		return nil, nil, err
	}
	return qs, qq, nil
}

func (s *QuestionSetService) authorize(ownerID, setID string) (*QuestionSet, error) {
	if ownerID == "" {
		return nil, NewUnauthorizedError("unauthorized")
	}
	qs, err := s.store.GetQuestionSet(setID)
	if err != nil {
		return nil, err
	}
	if qs == nil {
		return nil, NewNotFoundError("question set not found")
	}
	if qs.OwnerID != ownerID {
		return nil, NewForbiddenError("forbidden")
	}
	return qs, nil
}
