package services

import (
	"bytes"
	"encoding/csv"
	"strings"
	"time"
)

type ExportStore interface {
	GetDistribution(id string) (*Distribution, error)
	ListQuestions(questionSetID string) ([]*Question, error)
	ListRecipients(distributionID string) ([]*Recipient, error)
	ListAnswersByRecipient(recipientID string) ([]*Answer, error)
	GetDrop(id string) (*Drop, error)
	AddAudit(entry AuditEntry)
}

type ExportService struct {
	store ExportStore
	media MediaResolver
	now   func() time.Time
}

func NewExportService(store ExportStore, media MediaResolver) *ExportService {
	return &ExportService{
		store: store,
		media: media,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// DistributionCSV renders every collected answer of a distribution in long
// format, one row per (recipient, question) with an answer. Media references
// resolve against the drop's original owner; the asker requesting the export
// is explicitly not the identity used for media addressing.
func (s *ExportService) DistributionCSV(askerID, distributionID string) ([]byte, error) {
	if askerID == "" {
		return nil, NewUnauthorizedError("unauthorized")
	}
	dist, err := s.store.GetDistribution(distributionID)
	if err != nil {
		return nil, err
	}
	if dist == nil {
		return nil, NewNotFoundError("distribution not found")
	}
	if dist.AskerID != askerID {
		return nil, NewForbiddenError("forbidden")
	}
	questions, err := s.store.ListQuestions(dist.QuestionSetID)
	if err != nil {
		return nil, err
	}
	questionText := make(map[string]string, len(questions))
	for _, q := range questions {
		questionText[q.ID] = q.Text
	}
	recipients, err := s.store.ListRecipients(distributionID)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"recipient_id", "alias", "question", "content", "media", "submitted_at"}); err != nil {
		return nil, err
	}
	for _, r := range recipients {
		answers, err := s.store.ListAnswersByRecipient(r.ID)
		if err != nil {
			return nil, err
		}
		for _, a := range answers {
			drop, err := s.store.GetDrop(a.DropID)
			if err != nil {
				return nil, err
			}
			if drop == nil {
				continue
			}
			urls := make([]string, 0, len(drop.MediaRefs))
			for _, ref := range drop.MediaRefs {
				url, err := s.media.Resolve(ref, drop.OwnerID, drop.ID)
				if err != nil {
					continue
				}
				urls = append(urls, url)
			}
			row := []string{
				r.ID,
				r.Alias,
				questionText[a.QuestionID],
				drop.Content,
				strings.Join(urls, " "),
				a.SubmittedAt.UTC().Format(time.RFC3339),
			}
			if err := w.Write(row); err != nil {
				return nil, err
			}
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: askerID, Action: "distribution.export", Target: distributionID})
	return buf.Bytes(), nil
}
