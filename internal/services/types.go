package services

import "time"

// QuestionSet is an asker-owned set of up to MaxQuestionsPerSet questions.
// Archiving is a soft delete; a set with answered questions is never removed.
type QuestionSet struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Name      string    `json:"name"`
	Archived  bool      `json:"archived,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Question struct {
	ID            string `json:"id"`
	QuestionSetID string `json:"question_set_id"`
	Text          string `json:"text"`
	Position      int    `json:"position"`
}

// Distribution is one "send this question set to some recipients" event.
// Immutable after creation.
type Distribution struct {
	ID            string    `json:"id"`
	QuestionSetID string    `json:"question_set_id"`
	AskerID       string    `json:"asker_id"`
	Message       string    `json:"message,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Recipient is the unit of external authorization: one bearer token per
// recipient of a distribution. AccountID stays empty while the identity is
// unbound; binding happens at most once and is never reversed.
type Recipient struct {
	ID             string    `json:"id"`
	DistributionID string    `json:"distribution_id"`
	Token          string    `json:"-"`
	Contact        string    `json:"contact,omitempty"`
	Alias          string    `json:"alias,omitempty"`
	AccountID      string    `json:"account_id,omitempty"`
	Active         bool      `json:"active"`
	Reminders      int       `json:"reminders"`
	CreatedAt      time.Time `json:"created_at"`
}

func (r *Recipient) Bound() bool { return r.AccountID != "" }

// Drop is the content artifact produced by an answer. OwnerID is fixed at
// creation; media addressing always derives from it, never from the caller.
type Drop struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Content   string    `json:"content"`
	MediaRefs []string  `json:"media_refs,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Answer links one recipient and one question to one drop. At most one
// answer exists per (recipient, question) pair; the store enforces this.
type Answer struct {
	ID          string    `json:"id"`
	RecipientID string    `json:"recipient_id"`
	QuestionID  string    `json:"question_id"`
	DropID      string    `json:"drop_id"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// AccessGrant is an additive visibility fact: identity may view drop.
// Grants are only ever added, never mutated or removed.
type AccessGrant struct {
	ID         string    `json:"id"`
	IdentityID string    `json:"identity_id"`
	DropID     string    `json:"drop_id"`
	CreatedAt  time.Time `json:"created_at"`
}

type User struct {
	ID                string
	Email             string
	Name              string
	PassHash          []byte
	DefaultVisibility bool
	CreatedAt         time.Time
}

type AuditEntry struct {
	Time   time.Time
	Actor  string
	Action string
	Target string
	Note   string
}
