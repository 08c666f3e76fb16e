package services

import (
	"strings"
	"testing"
	"time"
)

func TestDistributionCSVResolvesMediaAgainstDropOwner(t *testing.T) {
	f := newFakeStore()
	seedDistribution(f, "tok1")
	// A bound recipient's drop: owned by the account, asker holds a grant.
	f.recipients["rcpt1"].AccountID = "acct9"
	f.drops["d1"] = &Drop{ID: "d1", OwnerID: "acct9", Content: "busy week", MediaRefs: []string{"photo1"}}
	f.answers = append(f.answers, &Answer{
		ID: "a1", RecipientID: "rcpt1", QuestionID: "q1", DropID: "d1",
		SubmittedAt: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
	})
	media := &fakeMedia{allowed: map[string]bool{"photo1|acct9|d1": true}}
	svc := NewExportService(f, media)

	out, err := svc.DistributionCSV("asker1", "dist1")
	if err != nil {
		t.Fatalf("DistributionCSV returned error: %v", err)
	}
	body := string(out)
	if !strings.HasPrefix(body, "recipient_id,alias,question,content,media,submitted_at") {
		t.Fatalf("missing header: %q", body)
	}
	// The media URL resolved against acct9 (the drop owner), not asker1 (the
	// caller); a caller-addressed lookup would have failed and left the cell
	// empty.
	if !strings.Contains(body, "/media/acct9/d1/photo1") {
		t.Fatalf("media not resolved against drop owner: %q", body)
	}
	if !strings.Contains(body, "How was your week?") || !strings.Contains(body, "busy week") {
		t.Fatalf("row incomplete: %q", body)
	}
}

func TestDistributionCSVAuthorization(t *testing.T) {
	f := newFakeStore()
	seedDistribution(f, "tok1")
	svc := NewExportService(f, &fakeMedia{})

	_, err := svc.DistributionCSV("intruder", "dist1")
	se, ok := AsServiceError(err)
	if !ok || se.Code != ErrorForbidden {
		t.Fatalf("expected forbidden, got %v", err)
	}
	_, err = svc.DistributionCSV("asker1", "ghost")
	if se, ok = AsServiceError(err); !ok || se.Code != ErrorNotFound {
		t.Fatalf("expected not_found, got %v", err)
	}
}
