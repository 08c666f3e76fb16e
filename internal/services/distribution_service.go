package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// MaxRecipientsPerDistribution bounds one broadcast; the fan-out queue takes
// the burst, the request path only creates rows.
const MaxRecipientsPerDistribution = 500

const enqueueTimeout = 2 * time.Second

type DistributionStore interface {
	GetQuestionSet(id string) (*QuestionSet, error)
	InsertDistribution(d *Distribution, recipients []*Recipient) error
	GetDistribution(id string) (*Distribution, error)
	GetRecipient(id string) (*Recipient, error)
	DeactivateRecipient(id string) error
	IncrementReminders(id string) error
	GetUser(id string) (*User, error)
	AddAudit(entry AuditEntry)
}

type DistributionService struct {
	store    DistributionStore
	queue    FanoutEnqueuer
	logger   *zap.Logger
	now      func() time.Time
	idGen    func() string
	tokenGen func() string
}

func NewDistributionService(store DistributionStore, queue FanoutEnqueuer, logger *zap.Logger) *DistributionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DistributionService{
		store:    store,
		queue:    queue,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		idGen:    func() string { return shortID(8) },
		tokenGen: func() string { return newBearerToken(24) },
	}
}

// newBearerToken returns an unguessable URL-safe token of n random bytes.
func newBearerToken(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand never fails on supported platforms; an empty token is
		// rejected by the unique index rather than handed out.
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

type RecipientInput struct {
	Contact string `json:"contact,omitempty"`
	Alias   string `json:"alias,omitempty"`
}

type CreatedRecipient struct {
	RecipientID string `json:"recipient_id"`
	Token       string `json:"token"`
}

type DistributionResult struct {
	DistributionID string             `json:"distribution_id"`
	Recipients     []CreatedRecipient `json:"recipients"`
}

// Create mints one token-bound recipient per input and enqueues a
// distribution notice for every recipient that has a contact address.
// Recipient rows commit first; a failed enqueue never rolls them back.
func (s *DistributionService) Create(askerID, questionSetID string, recipients []RecipientInput, message string) (*DistributionResult, error) {
	if askerID == "" {
		return nil, NewUnauthorizedError("unauthorized")
	}
	if len(recipients) == 0 {
		return nil, NewInvalidError("at least one recipient required")
	}
	if len(recipients) > MaxRecipientsPerDistribution {
		return nil, NewInvalidError("at most " + strconv.Itoa(MaxRecipientsPerDistribution) + " recipients per distribution")
	}
	qs, err := s.store.GetQuestionSet(questionSetID)
	if err != nil {
		return nil, err
	}
	if qs == nil {
		return nil, NewNotFoundError("question set not found")
	}
	if qs.OwnerID != askerID {
		return nil, NewForbiddenError("forbidden")
	}
	if qs.Archived {
		return nil, NewConflictError("question set archived")
	}

	now := s.now()
	dist := &Distribution{
		ID:            s.idGen(),
		QuestionSetID: questionSetID,
		AskerID:       askerID,
		Message:       strings.TrimSpace(message),
		CreatedAt:     now,
	}
	rows := make([]*Recipient, 0, len(recipients))
	for _, in := range recipients {
		rows = append(rows, &Recipient{
			ID:             s.idGen(),
			DistributionID: dist.ID,
			Token:          s.tokenGen(),
			Contact:        strings.TrimSpace(in.Contact),
			Alias:          strings.TrimSpace(in.Alias),
			Active:         true,
			CreatedAt:      now,
		})
	}
	if err := s.store.InsertDistribution(dist, rows); err != nil {
		return nil, err
	}

	asker, err := s.store.GetUser(askerID)
	askerName := askerID
	if err == nil && asker != nil && asker.Name != "" {
		askerName = asker.Name
	}
	result := &DistributionResult{DistributionID: dist.ID}
	for _, r := range rows {
		result.Recipients = append(result.Recipients, CreatedRecipient{RecipientID: r.ID, Token: r.Token})
		if r.Contact == "" {
			continue
		}
		s.enqueue(FanoutJob{
			Kind:    JobDistributionNotice,
			Address: r.Contact,
			Data: map[string]string{
				"token":      r.Token,
				"asker_name": askerName,
				"message":    dist.Message,
			},
		})
	}
	s.store.AddAudit(AuditEntry{Time: now, Actor: askerID, Action: "distribution.create", Target: dist.ID, Note: strconv.Itoa(len(rows))})
	return result, nil
}

// Deactivate turns a recipient token off. Terminal for new answers; existing
// answers and their visibility are untouched. Asker-only.
func (s *DistributionService) Deactivate(askerID, recipientID string) error {
	r, err := s.authorizeRecipient(askerID, recipientID)
	if err != nil {
		return err
	}
	if !r.Active {
		return nil
	}
	if err := s.store.DeactivateRecipient(recipientID); err != nil {
		return err
	}
	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: askerID, Action: "recipient.deactivate", Target: recipientID})
	return nil
}

// Remind enqueues a reminder notice and bumps the reminder counter.
// Asker-only. Unlike distribution notices, the notification is the whole
// operation here, so a rejected enqueue surfaces as unavailable instead of
// being logged away.
func (s *DistributionService) Remind(askerID, recipientID string) error {
	r, err := s.authorizeRecipient(askerID, recipientID)
	if err != nil {
		return err
	}
	if !r.Active {
		return NewConflictError("recipient deactivated")
	}
	if r.Contact == "" {
		return NewInvalidError("recipient has no contact address")
	}
	ctx, cancel := context.WithTimeout(context.Background(), enqueueTimeout)
	defer cancel()
	if err := s.queue.Enqueue(ctx, FanoutJob{
		Kind:    JobReminderNotice,
		Address: r.Contact,
		Data:    map[string]string{"token": r.Token},
	}); err != nil {
		return NewUnavailableError("notification queue busy")
	}
	return s.store.IncrementReminders(recipientID)
}

func (s *DistributionService) authorizeRecipient(askerID, recipientID string) (*Recipient, error) {
	if askerID == "" {
		return nil, NewUnauthorizedError("unauthorized")
	}
	r, err := s.store.GetRecipient(recipientID)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, NewNotFoundError("recipient not found")
	}
	d, err := s.store.GetDistribution(r.DistributionID)
	if err != nil {
		return nil, err
	}
	if d == nil || d.AskerID != askerID {
		return nil, NewUnauthorizedError("only the asker may manage recipients")
	}
	return r, nil
}

func (s *DistributionService) enqueue(job FanoutJob) {
	ctx, cancel := context.WithTimeout(context.Background(), enqueueTimeout)
	defer cancel()
	if err := s.queue.Enqueue(ctx, job); err != nil {
		s.logger.Warn("fanout enqueue failed",
			zap.String("kind", job.Kind),
			zap.Error(err),
		)
	}
}
