package services

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

type LinkStore interface {
	GetRecipientByToken(token string) (*Recipient, error)
	GetDistribution(id string) (*Distribution, error)
	ListAnswersByRecipient(recipientID string) ([]*Answer, error)
	HasAccessGrant(identityID, dropID string) (bool, error)
	BindRecipientIdentity(recipientID, accountID string, grants []*AccessGrant) error
	GetUser(id string) (*User, error)
	AddAudit(entry AuditEntry)
}

// Directory is the external identity/connection capability. Failures here
// never unwind a committed binding; they are logged and left for a retry.
type Directory interface {
	EnsureConnection(identityA, identityB string) error
	GrantDefaultVisibility(identityID string) error
}

type LinkService struct {
	store     LinkStore
	directory Directory
	logger    *zap.Logger
	now       func() time.Time
	idGen     func() string
}

func NewLinkService(store LinkStore, directory Directory, logger *zap.Logger) *LinkService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LinkService{
		store:     store,
		directory: directory,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		idGen:     func() string { return shortID(12) },
	}
}

// Link binds a recipient token to an account identity. The transition is
// one-directional and happens at most once; linking the same account twice
// is a no-op, a different account is a conflict.
//
// Drop ownership is deliberately left untouched. Visibility is composed from
// (owner) plus access grants, so the asker gets an idempotent grant on every
// drop already contributed under this token, written in the same unit of
// work as the binding. No intermediate state is observable: either the token
// is bound and the asker holds every grant, or nothing changed.
func (s *LinkService) Link(token, accountID string) error {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return errDeadToken()
	}
	if accountID == "" {
		return NewUnauthorizedError("unauthorized")
	}
	account, err := s.store.GetUser(accountID)
	if err != nil {
		return err
	}
	if account == nil {
		return NewInvalidError("unknown account")
	}
	r, err := s.store.GetRecipientByToken(tok)
	if err != nil {
		return err
	}
	if r == nil || !r.Active {
		return errDeadToken()
	}
	if r.Bound() {
		if r.AccountID == accountID {
			return nil
		}
		return ErrAlreadyLinked
	}
	dist, err := s.store.GetDistribution(r.DistributionID)
	if err != nil {
		return err
	}
	if dist == nil {
		return errDeadToken()
	}

	answers, err := s.store.ListAnswersByRecipient(r.ID)
	if err != nil {
		return err
	}
	now := s.now()
	grants := make([]*AccessGrant, 0, len(answers))
	for _, a := range answers {
		has, err := s.store.HasAccessGrant(dist.AskerID, a.DropID)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		grants = append(grants, &AccessGrant{ID: s.idGen(), IdentityID: dist.AskerID, DropID: a.DropID, CreatedAt: now})
	}
	if err := s.store.BindRecipientIdentity(r.ID, accountID, grants); err != nil {
		// A concurrent link can bind the token between the Bound() check above
		// and the store write; the store's conditional bind is authoritative.
		if errors.Is(err, ErrRecipientBound) {
			return ErrAlreadyLinked
		}
		return err
	}
	s.store.AddAudit(AuditEntry{Time: now, Actor: accountID, Action: "recipient.link", Target: r.ID, Note: strconv.Itoa(len(grants))})

	if err := s.directory.EnsureConnection(dist.AskerID, accountID); err != nil {
		s.logger.Warn("ensure connection failed after link",
			zap.String("recipient_id", r.ID),
			zap.Error(err),
		)
	}
	if err := s.directory.GrantDefaultVisibility(accountID); err != nil {
		s.logger.Warn("grant default visibility failed after link",
			zap.String("account_id", accountID),
			zap.Error(err),
		)
	}
	return nil
}
