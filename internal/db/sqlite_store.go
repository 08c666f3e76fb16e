package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/askdrop/askdrop/internal/services"
)

// SQLiteStore is the durable store. Multi-row operations that must be
// all-or-nothing (distribution creation, answer plus drop plus grant,
// identity binding) run inside a transaction; the unique index on
// (recipient_id, question_id) is the last line of defense against duplicate
// answers and its violation surfaces as services.ErrAnswerExists.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewSQLiteStore(db *sql.DB, logger *zap.Logger) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("nil db")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("apply sqlite pragma %q: %w", stmt, err)
		}
	}
	return &SQLiteStore{db: db, logger: logger}, nil
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
			se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func fmtTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func toNullString(s string) sql.NullString {
	if strings.TrimSpace(s) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolToInt64(v bool) int64 {
	if v {
		return 1
	}
	return 0
}

func encodeRefs(refs []string) (sql.NullString, error) {
	if len(refs) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(refs)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func (s *SQLiteStore) decodeRefs(ns sql.NullString) []string {
	if !ns.Valid || strings.TrimSpace(ns.String) == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(ns.String), &out); err != nil {
		s.logger.Warn("decode media refs", zap.Error(err))
		return nil
	}
	return out
}

// --- Question sets ---

func (s *SQLiteStore) InsertQuestionSet(qs *services.QuestionSet, questions []*services.Question) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	now := fmtTime(qs.CreatedAt)
	if _, err := tx.Exec(`INSERT INTO question_sets (id, asker_id, name, archived, created_at, updated_at)
      VALUES (?, ?, ?, 0, ?, ?)`, qs.ID, qs.OwnerID, qs.Name, now, now); err != nil {
		return fmt.Errorf("insert question set: %w", err)
	}
	for _, q := range questions {
		if _, err := tx.Exec(`INSERT INTO questions (id, question_set_id, text, position) VALUES (?, ?, ?, ?)`,
			q.ID, q.QuestionSetID, q.Text, q.Position); err != nil {
			return fmt.Errorf("insert question: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetQuestionSet(id string) (*services.QuestionSet, error) {
	row := s.db.QueryRow(`SELECT id, asker_id, name, archived, created_at FROM question_sets WHERE id = ?`, id)
	var qs services.QuestionSet
	var archived int64
	var created string
	if err := row.Scan(&qs.ID, &qs.OwnerID, &qs.Name, &archived, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	qs.Archived = archived != 0
	qs.CreatedAt = parseTime(created)
	return &qs, nil
}

func (s *SQLiteStore) ListQuestions(questionSetID string) ([]*services.Question, error) {
	rows, err := s.db.Query(`SELECT id, question_set_id, text, position FROM questions
      WHERE question_set_id = ? ORDER BY position ASC`, questionSetID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := []*services.Question{}
	for rows.Next() {
		var q services.Question
		if err := rows.Scan(&q.ID, &q.QuestionSetID, &q.Text, &q.Position); err != nil {
			return nil, err
		}
		out = append(out, &q)
	}
	return out, rows.Err()
}

// UpdateQuestionSet replaces the set's questions wholesale. The service layer
// has already verified that answered questions survive unchanged.
func (s *SQLiteStore) UpdateQuestionSet(qs *services.QuestionSet, questions []*services.Question) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.Exec(`UPDATE question_sets SET name = ?, updated_at = ? WHERE id = ?`,
		qs.Name, fmtTime(time.Now()), qs.ID); err != nil {
		return fmt.Errorf("update question set: %w", err)
	}
	keep := make([]any, 0, len(questions)+1)
	keep = append(keep, qs.ID)
	marks := make([]string, 0, len(questions))
	for _, q := range questions {
		keep = append(keep, q.ID)
		marks = append(marks, "?")
	}
	del := `DELETE FROM questions WHERE question_set_id = ?`
	if len(marks) > 0 {
		del += ` AND id NOT IN (` + strings.Join(marks, ",") + `)`
	}
	if _, err := tx.Exec(del, keep...); err != nil {
		return fmt.Errorf("delete removed questions: %w", err)
	}
	for _, q := range questions {
		if _, err := tx.Exec(`INSERT INTO questions (id, question_set_id, text, position) VALUES (?, ?, ?, ?)
          ON CONFLICT(id) DO UPDATE SET text = excluded.text, position = excluded.position`,
			q.ID, q.QuestionSetID, q.Text, q.Position); err != nil {
			return fmt.Errorf("upsert question: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) ArchiveQuestionSet(id string) error {
	_, err := s.db.Exec(`UPDATE question_sets SET archived = 1, updated_at = ? WHERE id = ?`, fmtTime(time.Now()), id)
	return err
}

func (s *SQLiteStore) CountAnswersByQuestion(questionSetID string) (map[string]int, error) {
	rows, err := s.db.Query(`SELECT a.question_id, COUNT(*) FROM answers a
      JOIN questions q ON q.id = a.question_id
      WHERE q.question_set_id = ? GROUP BY a.question_id`, questionSetID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := map[string]int{}
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		out[id] = n
	}
	return out, rows.Err()
}

// --- Distributions and recipients ---

func (s *SQLiteStore) InsertDistribution(d *services.Distribution, recipients []*services.Recipient) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.Exec(`INSERT INTO distributions (id, question_set_id, asker_id, message, created_at)
      VALUES (?, ?, ?, ?, ?)`, d.ID, d.QuestionSetID, d.AskerID, toNullString(d.Message), fmtTime(d.CreatedAt)); err != nil {
		return fmt.Errorf("insert distribution: %w", err)
	}
	for _, r := range recipients {
		if _, err := tx.Exec(`INSERT INTO recipients (id, distribution_id, token, alias, contact, account_id, active, reminders, created_at)
          VALUES (?, ?, ?, ?, ?, ?, 1, 0, ?)`,
			r.ID, r.DistributionID, r.Token, toNullString(r.Alias), toNullString(r.Contact),
			toNullString(r.AccountID), fmtTime(r.CreatedAt)); err != nil {
			return fmt.Errorf("insert recipient: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetDistribution(id string) (*services.Distribution, error) {
	row := s.db.QueryRow(`SELECT id, question_set_id, asker_id, message, created_at FROM distributions WHERE id = ?`, id)
	var d services.Distribution
	var msg sql.NullString
	var created string
	if err := row.Scan(&d.ID, &d.QuestionSetID, &d.AskerID, &msg, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	d.Message = msg.String
	d.CreatedAt = parseTime(created)
	return &d, nil
}

func (s *SQLiteStore) scanRecipient(row interface{ Scan(...any) error }) (*services.Recipient, error) {
	var r services.Recipient
	var alias, contact, account sql.NullString
	var active int64
	var created string
	if err := row.Scan(&r.ID, &r.DistributionID, &r.Token, &alias, &contact, &account, &active, &r.Reminders, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	r.Alias = alias.String
	r.Contact = contact.String
	r.AccountID = account.String
	r.Active = active != 0
	r.CreatedAt = parseTime(created)
	return &r, nil
}

const recipientCols = `id, distribution_id, token, alias, contact, account_id, active, reminders, created_at`

func (s *SQLiteStore) GetRecipient(id string) (*services.Recipient, error) {
	return s.scanRecipient(s.db.QueryRow(`SELECT `+recipientCols+` FROM recipients WHERE id = ?`, id))
}

func (s *SQLiteStore) GetRecipientByToken(token string) (*services.Recipient, error) {
	return s.scanRecipient(s.db.QueryRow(`SELECT `+recipientCols+` FROM recipients WHERE token = ?`, token))
}

func (s *SQLiteStore) ListRecipients(distributionID string) ([]*services.Recipient, error) {
	rows, err := s.db.Query(`SELECT `+recipientCols+` FROM recipients WHERE distribution_id = ? ORDER BY id ASC`, distributionID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := []*services.Recipient{}
	for rows.Next() {
		r, err := s.scanRecipient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeactivateRecipient(id string) error {
	_, err := s.db.Exec(`UPDATE recipients SET active = 0 WHERE id = ?`, id)
	return err
}

func (s *SQLiteStore) IncrementReminders(id string) error {
	_, err := s.db.Exec(`UPDATE recipients SET reminders = reminders + 1 WHERE id = ?`, id)
	return err
}

// --- Answers, drops, grants ---

func (s *SQLiteStore) CreateAnswer(a *services.Answer, d *services.Drop, g *services.AccessGrant) error {
	refs, err := encodeRefs(d.MediaRefs)
	if err != nil {
		return fmt.Errorf("encode media refs: %w", err)
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.Exec(`INSERT INTO drops (id, owner_id, content, media_refs, created_at, updated_at)
      VALUES (?, ?, ?, ?, ?, ?)`, d.ID, d.OwnerID, d.Content, refs, fmtTime(d.CreatedAt), fmtTime(d.UpdatedAt)); err != nil {
		return fmt.Errorf("insert drop: %w", err)
	}
	// The unique index on (recipient_id, question_id) decides the race; a
	// losing insert rolls the whole transaction back, drop included.
	if _, err := tx.Exec(`INSERT INTO answers (id, recipient_id, question_id, drop_id, submitted_at)
      VALUES (?, ?, ?, ?, ?)`, a.ID, a.RecipientID, a.QuestionID, a.DropID, fmtTime(a.SubmittedAt)); err != nil {
		if isUniqueViolation(err) {
			return services.ErrAnswerExists
		}
		return fmt.Errorf("insert answer: %w", err)
	}
	if g != nil {
		if err := insertGrant(tx, g); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func insertGrant(tx *sql.Tx, g *services.AccessGrant) error {
	if _, err := tx.Exec(`INSERT INTO access_grants (id, identity_id, drop_id, granted_at) VALUES (?, ?, ?, ?)
      ON CONFLICT(identity_id, drop_id) DO NOTHING`, g.ID, g.IdentityID, g.DropID, fmtTime(g.CreatedAt)); err != nil {
		return fmt.Errorf("insert access grant: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetAnswer(recipientID, questionID string) (*services.Answer, error) {
	row := s.db.QueryRow(`SELECT id, recipient_id, question_id, drop_id, submitted_at FROM answers
      WHERE recipient_id = ? AND question_id = ?`, recipientID, questionID)
	var a services.Answer
	var submitted string
	if err := row.Scan(&a.ID, &a.RecipientID, &a.QuestionID, &a.DropID, &submitted); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	a.SubmittedAt = parseTime(submitted)
	return &a, nil
}

func (s *SQLiteStore) ListAnswersByRecipient(recipientID string) ([]*services.Answer, error) {
	rows, err := s.db.Query(`SELECT id, recipient_id, question_id, drop_id, submitted_at FROM answers
      WHERE recipient_id = ? ORDER BY submitted_at ASC, id ASC`, recipientID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := []*services.Answer{}
	for rows.Next() {
		var a services.Answer
		var submitted string
		if err := rows.Scan(&a.ID, &a.RecipientID, &a.QuestionID, &a.DropID, &submitted); err != nil {
			return nil, err
		}
		a.SubmittedAt = parseTime(submitted)
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetDrop(id string) (*services.Drop, error) {
	row := s.db.QueryRow(`SELECT id, owner_id, content, media_refs, created_at, updated_at FROM drops WHERE id = ?`, id)
	var d services.Drop
	var refs sql.NullString
	var created, updated string
	if err := row.Scan(&d.ID, &d.OwnerID, &d.Content, &refs, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	d.MediaRefs = s.decodeRefs(refs)
	d.CreatedAt = parseTime(created)
	d.UpdatedAt = parseTime(updated)
	return &d, nil
}

// UpdateDrop touches content fields only; owner_id and created_at never move.
func (s *SQLiteStore) UpdateDrop(d *services.Drop) error {
	refs, err := encodeRefs(d.MediaRefs)
	if err != nil {
		return fmt.Errorf("encode media refs: %w", err)
	}
	_, err = s.db.Exec(`UPDATE drops SET content = ?, media_refs = ?, updated_at = ? WHERE id = ?`,
		d.Content, refs, fmtTime(d.UpdatedAt), d.ID)
	return err
}

func (s *SQLiteStore) HasAccessGrant(identityID, dropID string) (bool, error) {
	row := s.db.QueryRow(`SELECT COUNT(*) FROM access_grants WHERE identity_id = ? AND drop_id = ?`, identityID, dropID)
	var n int
	if err := row.Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteStore) ListAccessGrantsByIdentity(identityID string) ([]*services.AccessGrant, error) {
	rows, err := s.db.Query(`SELECT id, identity_id, drop_id, granted_at FROM access_grants
      WHERE identity_id = ? ORDER BY id ASC`, identityID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := []*services.AccessGrant{}
	for rows.Next() {
		var g services.AccessGrant
		var granted string
		if err := rows.Scan(&g.ID, &g.IdentityID, &g.DropID, &granted); err != nil {
			return nil, err
		}
		g.CreatedAt = parseTime(granted)
		out = append(out, &g)
	}
	return out, rows.Err()
}

// BindRecipientIdentity performs the one-way unbound-to-bound transition and
// the asker's retroactive grants in one transaction. The UPDATE is
// conditional on the recipient being unbound (or bound to the same account),
// so a concurrent bind to a different account loses with ErrRecipientBound
// instead of silently overwriting the winner.
func (s *SQLiteStore) BindRecipientIdentity(recipientID, accountID string, grants []*services.AccessGrant) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	res, err := tx.Exec(`UPDATE recipients SET account_id = ?
      WHERE id = ? AND (account_id IS NULL OR account_id = '' OR account_id = ?)`,
		accountID, recipientID, accountID)
	if err != nil {
		return fmt.Errorf("bind recipient: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("bind recipient: %w", err)
	} else if n == 0 {
		return services.ErrRecipientBound
	}
	for _, g := range grants {
		if err := insertGrant(tx, g); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// --- Accounts and connections ---

func (s *SQLiteStore) AddUser(u *services.User) error {
	_, err := s.db.Exec(`INSERT INTO users (id, email, pass_hash, display_name, default_visibility, created_at)
      VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, strings.ToLower(u.Email), u.PassHash, toNullString(u.Name),
		boolToInt64(u.DefaultVisibility), fmtTime(u.CreatedAt))
	return err
}

func (s *SQLiteStore) scanUser(row interface{ Scan(...any) error }) (*services.User, error) {
	var u services.User
	var name sql.NullString
	var vis int64
	var created string
	if err := row.Scan(&u.ID, &u.Email, &u.PassHash, &name, &vis, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	u.Name = name.String
	u.DefaultVisibility = vis != 0
	u.CreatedAt = parseTime(created)
	return &u, nil
}

func (s *SQLiteStore) GetUser(id string) (*services.User, error) {
	return s.scanUser(s.db.QueryRow(`SELECT id, email, pass_hash, display_name, default_visibility, created_at
      FROM users WHERE id = ?`, id))
}

func (s *SQLiteStore) FindUserByEmail(email string) (*services.User, error) {
	return s.scanUser(s.db.QueryRow(`SELECT id, email, pass_hash, display_name, default_visibility, created_at
      FROM users WHERE email = ?`, strings.ToLower(email)))
}

func (s *SQLiteStore) EnsureConnection(identityA, identityB string) error {
	if identityB < identityA {
		identityA, identityB = identityB, identityA
	}
	_, err := s.db.Exec(`INSERT INTO connections (identity_a, identity_b, created_at) VALUES (?, ?, ?)
      ON CONFLICT(identity_a, identity_b) DO NOTHING`, identityA, identityB, fmtTime(time.Now()))
	return err
}

func (s *SQLiteStore) SetDefaultVisibility(identityID string) error {
	_, err := s.db.Exec(`UPDATE users SET default_visibility = 1 WHERE id = ?`, identityID)
	return err
}

func (s *SQLiteStore) AddAudit(e services.AuditEntry) {
	ts := e.Time
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	if _, err := s.db.Exec(`INSERT INTO audit_log (ts, actor, action, target, note) VALUES (?, ?, ?, ?, ?)`,
		fmtTime(ts), e.Actor, e.Action, toNullString(e.Target), toNullString(e.Note)); err != nil {
		s.logger.Warn("insert audit entry", zap.Error(err))
	}
}

var _ services.Store = (*SQLiteStore)(nil)
