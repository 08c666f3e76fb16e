package services

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// MaxAnswerLength is the content size ceiling for a single answer.
	MaxAnswerLength = 4000
	// AnonymousEditWindow is how long an unbound recipient may edit an
	// answer, measured from the original submission time. Bound identities
	// edit without a time limit.
	AnonymousEditWindow = 7 * 24 * time.Hour
)

type AnswerStore interface {
	GetRecipientByToken(token string) (*Recipient, error)
	GetDistribution(id string) (*Distribution, error)
	ListQuestions(questionSetID string) ([]*Question, error)
	GetAnswer(recipientID, questionID string) (*Answer, error)
	CreateAnswer(a *Answer, d *Drop, g *AccessGrant) error
	GetDrop(id string) (*Drop, error)
	UpdateDrop(d *Drop) error
	GetUser(id string) (*User, error)
	AddAudit(entry AuditEntry)
}

// MediaResolver resolves a stored media reference to a retrievable URL.
// Callers must pass the drop's original owning identity, never the identity
// of whoever is asking; the physical address was computed from the owner at
// upload time and does not move when visibility changes.
type MediaResolver interface {
	Resolve(ref, ownerID, dropID string) (string, error)
}

// MediaStore adds the upload half: bytes go in under the drop's owner and
// come back as an opaque reference.
type MediaStore interface {
	MediaResolver
	Store(ownerID, dropID string, data []byte) (string, error)
}

type AnswerService struct {
	store  AnswerStore
	queue  FanoutEnqueuer
	media  MediaStore
	logger *zap.Logger
	now    func() time.Time
	idGen  func() string
}

func NewAnswerService(store AnswerStore, queue FanoutEnqueuer, media MediaStore, logger *zap.Logger) *AnswerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnswerService{
		store:  store,
		queue:  queue,
		media:  media,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		idGen:  func() string { return shortID(12) },
	}
}

// Submit performs the idempotent create-or-reject decision for one
// (token, question) pair. The store's uniqueness constraint is the
// authoritative guard against concurrent duplicates; the pre-check only
// saves a round trip on the common repeat-click case.
func (s *AnswerService) Submit(token, questionID, content string, occurredOn time.Time) (*Answer, error) {
	r, dist, err := s.resolveActive(token)
	if err != nil {
		return nil, err
	}
	q, err := s.findQuestion(dist.QuestionSetID, questionID)
	if err != nil {
		return nil, err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, NewInvalidError("content required")
	}
	if len([]rune(content)) > MaxAnswerLength {
		return nil, NewInvalidError("content exceeds " + strconv.Itoa(MaxAnswerLength) + " characters")
	}

	if existing, err := s.store.GetAnswer(r.ID, q.ID); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, ErrAlreadyAnswered
	}

	// Anonymous contributions are provisionally owned by the asker until the
	// respondent links an account. Ownership is fixed at creation either way.
	owner := dist.AskerID
	if r.Bound() {
		owner = r.AccountID
	}
	now := s.now()
	// occurredOn comes from an unauthenticated client and feeds the anonymous
	// edit window, so it is clamped to the server clock: a future value would
	// hold the window open indefinitely.
	submittedAt := occurredOn
	if submittedAt.IsZero() || submittedAt.After(now) {
		submittedAt = now
	}
	drop := &Drop{ID: s.idGen(), OwnerID: owner, Content: content, CreatedAt: now, UpdatedAt: now}
	answer := &Answer{ID: s.idGen(), RecipientID: r.ID, QuestionID: q.ID, DropID: drop.ID, SubmittedAt: submittedAt}
	var grant *AccessGrant
	if owner != dist.AskerID {
		grant = &AccessGrant{ID: s.idGen(), IdentityID: dist.AskerID, DropID: drop.ID, CreatedAt: now}
	}
	if err := s.store.CreateAnswer(answer, drop, grant); err != nil {
		if errors.Is(err, ErrAnswerExists) {
			return nil, ErrAlreadyAnswered
		}
		return nil, err
	}

	// Best effort from here on: the answer is committed, a notification
	// problem must never surface to the respondent.
	s.notifyAsker(dist, r, q)
	return answer, nil
}

// Update edits an existing answer's content and media associations.
func (s *AnswerService) Update(token, questionID, content string, mediaRefs []string) (*Answer, error) {
	r, dist, err := s.resolveActive(token)
	if err != nil {
		return nil, err
	}
	q, err := s.findQuestion(dist.QuestionSetID, questionID)
	if err != nil {
		return nil, err
	}
	answer, err := s.store.GetAnswer(r.ID, q.ID)
	if err != nil {
		return nil, err
	}
	if answer == nil {
		return nil, NewNotFoundError("answer not found")
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, NewInvalidError("content required")
	}
	if len([]rune(content)) > MaxAnswerLength {
		return nil, NewInvalidError("content exceeds " + strconv.Itoa(MaxAnswerLength) + " characters")
	}
	if !r.Bound() && s.now().Sub(answer.SubmittedAt) > AnonymousEditWindow {
		return nil, ErrEditWindowExpired
	}
	drop, err := s.store.GetDrop(answer.DropID)
	if err != nil {
		return nil, err
	}
	if drop == nil {
		return nil, NewNotFoundError("answer not found")
	}
	for _, ref := range mediaRefs {
		if _, err := s.media.Resolve(ref, drop.OwnerID, drop.ID); err != nil {
			return nil, NewInvalidError("media reference does not belong to this answer")
		}
	}
	drop.Content = content
	drop.MediaRefs = mediaRefs
	drop.UpdatedAt = s.now()
	if err := s.store.UpdateDrop(drop); err != nil {
		return nil, err
	}
	return answer, nil
}

// MaxMediaBytes caps a single media attachment.
const MaxMediaBytes = 10 << 20

// AttachMedia stores one media blob for an existing answer and appends its
// reference to the drop. The blob is addressed by the drop's owner at storage
// time; that address is permanent.
func (s *AnswerService) AttachMedia(token, questionID string, data []byte) (string, error) {
	r, dist, err := s.resolveActive(token)
	if err != nil {
		return "", err
	}
	q, err := s.findQuestion(dist.QuestionSetID, questionID)
	if err != nil {
		return "", err
	}
	answer, err := s.store.GetAnswer(r.ID, q.ID)
	if err != nil {
		return "", err
	}
	if answer == nil {
		return "", NewNotFoundError("answer not found")
	}
	if len(data) == 0 {
		return "", NewInvalidError("media data required")
	}
	if len(data) > MaxMediaBytes {
		return "", NewInvalidError("media exceeds size limit")
	}
	if !r.Bound() && s.now().Sub(answer.SubmittedAt) > AnonymousEditWindow {
		return "", ErrEditWindowExpired
	}
	drop, err := s.store.GetDrop(answer.DropID)
	if err != nil {
		return "", err
	}
	if drop == nil {
		return "", NewNotFoundError("answer not found")
	}
	ref, err := s.media.Store(drop.OwnerID, drop.ID, data)
	if err != nil {
		return "", err
	}
	drop.MediaRefs = append(drop.MediaRefs, ref)
	drop.UpdatedAt = s.now()
	if err := s.store.UpdateDrop(drop); err != nil {
		return "", err
	}
	return ref, nil
}

func (s *AnswerService) resolveActive(token string) (*Recipient, *Distribution, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil, errDeadToken()
	}
	r, err := s.store.GetRecipientByToken(token)
	if err != nil {
		return nil, nil, err
	}
	if r == nil || !r.Active {
		return nil, nil, errDeadToken()
	}
	dist, err := s.store.GetDistribution(r.DistributionID)
	if err != nil {
		return nil, nil, err
	}
	if dist == nil {
		return nil, nil, errDeadToken()
	}
	return r, dist, nil
}

func (s *AnswerService) findQuestion(questionSetID, questionID string) (*Question, error) {
	qq, err := s.store.ListQuestions(questionSetID)
	if err != nil {
		return nil, err
	}
	for _, q := range qq {
		if q.ID == questionID {
			return q, nil
		}
	}
	return nil, NewNotFoundError("question not found")
}

func (s *AnswerService) notifyAsker(dist *Distribution, r *Recipient, q *Question) {
	asker, err := s.store.GetUser(dist.AskerID)
	if err != nil || asker == nil || asker.Email == "" {
		s.logger.Warn("answer notice skipped: no asker address",
			zap.String("distribution_id", dist.ID),
		)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), enqueueTimeout)
	defer cancel()
	job := FanoutJob{
		Kind:    JobAnswerNotice,
		Address: asker.Email,
		Data: map[string]string{
			"distribution_id": dist.ID,
			"recipient_alias": r.Alias,
			"question":        q.Text,
		},
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		s.logger.Warn("fanout enqueue failed",
			zap.String("kind", job.Kind),
			zap.Error(err),
		)
	}
}
