package services

import "errors"

// ErrAnswerExists is the deterministic duplicate signal every Store
// implementation must return when the (recipient, question) uniqueness
// constraint rejects an insert. Services translate it to ErrAlreadyAnswered;
// raw driver errors must never cross the store boundary for this case.
var ErrAnswerExists = errors.New("answer already exists for recipient and question")

// ErrRecipientBound is returned by BindRecipientIdentity when the recipient
// is already bound to a different account. The bind is conditional at the
// store layer; the service's own Bound() pre-check is only an optimization
// and two concurrent binds must not both succeed.
var ErrRecipientBound = errors.New("recipient already bound to another account")

// Store is the full contribution-store contract. Each service declares the
// narrow subset it needs; any Store satisfies those structurally.
type Store interface {
	// Question sets
	InsertQuestionSet(qs *QuestionSet, questions []*Question) error
	GetQuestionSet(id string) (*QuestionSet, error)
	ListQuestions(questionSetID string) ([]*Question, error)
	UpdateQuestionSet(qs *QuestionSet, questions []*Question) error
	ArchiveQuestionSet(id string) error
	CountAnswersByQuestion(questionSetID string) (map[string]int, error)

	// Distributions and recipients
	InsertDistribution(d *Distribution, recipients []*Recipient) error
	GetDistribution(id string) (*Distribution, error)
	GetRecipient(id string) (*Recipient, error)
	GetRecipientByToken(token string) (*Recipient, error)
	ListRecipients(distributionID string) ([]*Recipient, error)
	DeactivateRecipient(id string) error
	IncrementReminders(id string) error

	// Answers, drops, grants
	CreateAnswer(a *Answer, d *Drop, g *AccessGrant) error
	GetAnswer(recipientID, questionID string) (*Answer, error)
	ListAnswersByRecipient(recipientID string) ([]*Answer, error)
	GetDrop(id string) (*Drop, error)
	UpdateDrop(d *Drop) error
	HasAccessGrant(identityID, dropID string) (bool, error)
	ListAccessGrantsByIdentity(identityID string) ([]*AccessGrant, error)
	BindRecipientIdentity(recipientID, accountID string, grants []*AccessGrant) error

	// Accounts and connections
	AddUser(u *User) error
	GetUser(id string) (*User, error)
	FindUserByEmail(email string) (*User, error)
	EnsureConnection(identityA, identityB string) error
	SetDefaultVisibility(identityID string) error

	AddAudit(e AuditEntry)
}
