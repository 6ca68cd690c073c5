package badger

import (
	"testing"
	"time"

	"github.com/ternarybob/crawlservice/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

func TestDocumentStorageSaveAndFindByTextHash(t *testing.T) {
	db := openTestDB(t)
	s := NewDocumentStorage(db)

	doc := &models.Document{
		ID:         "doc-1",
		JobID:      "job-1",
		TextHash:   "hash-a",
		PrimaryURL: "https://example.com/a",
		CreatedAt:  time.Now(),
	}
	if err := s.Save(doc); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := s.FindByTextHash("job-1", "hash-a")
	if err != nil {
		t.Fatalf("FindByTextHash() error = %v", err)
	}
	if got.PrimaryURL != doc.PrimaryURL {
		t.Errorf("FindByTextHash().PrimaryURL = %q, want %q", got.PrimaryURL, doc.PrimaryURL)
	}
}

func TestDocumentStorageFindByTextHashMissReturnsNotFound(t *testing.T) {
	db := openTestDB(t)
	s := NewDocumentStorage(db)

	_, err := s.FindByTextHash("job-1", "no-such-hash")
	if err != badgerhold.ErrNotFound {
		t.Errorf("FindByTextHash() error = %v, want badgerhold.ErrNotFound", err)
	}
}

func TestDocumentStorageFindByTextHashScopedToJob(t *testing.T) {
	db := openTestDB(t)
	s := NewDocumentStorage(db)

	doc := &models.Document{ID: "doc-1", JobID: "job-1", TextHash: "hash-a", PrimaryURL: "https://example.com/a", CreatedAt: time.Now()}
	if err := s.Save(doc); err != nil {
		t.Fatal(err)
	}

	_, err := s.FindByTextHash("job-2", "hash-a")
	if err != badgerhold.ErrNotFound {
		t.Errorf("FindByTextHash() for different job error = %v, want badgerhold.ErrNotFound", err)
	}
}

func TestDocumentStorageSaveUpsertsAliases(t *testing.T) {
	db := openTestDB(t)
	s := NewDocumentStorage(db)

	doc := &models.Document{ID: "doc-1", JobID: "job-1", TextHash: "hash-a", PrimaryURL: "https://example.com/a", CreatedAt: time.Now()}
	if err := s.Save(doc); err != nil {
		t.Fatal(err)
	}

	doc.Aliases = append(doc.Aliases, models.DocumentAlias{URL: "https://example.com/b", MatchReason: "identical_text_hash", SeenAt: time.Now()})
	if err := s.Save(doc); err != nil {
		t.Fatalf("Save() (update) error = %v", err)
	}

	got, err := s.FindByTextHash("job-1", "hash-a")
	if err != nil {
		t.Fatalf("FindByTextHash() error = %v", err)
	}
	if len(got.Aliases) != 1 || got.Aliases[0].URL != "https://example.com/b" {
		t.Errorf("FindByTextHash().Aliases = %+v, want one alias for /b", got.Aliases)
	}
}

func TestDocumentStorageListAndDeleteByJob(t *testing.T) {
	db := openTestDB(t)
	s := NewDocumentStorage(db)

	d1 := &models.Document{ID: "doc-1", JobID: "job-1", TextHash: "hash-a", CreatedAt: time.Now()}
	d2 := &models.Document{ID: "doc-2", JobID: "job-1", TextHash: "hash-b", CreatedAt: time.Now()}
	d3 := &models.Document{ID: "doc-3", JobID: "job-2", TextHash: "hash-c", CreatedAt: time.Now()}
	for _, d := range []*models.Document{d1, d2, d3} {
		if err := s.Save(d); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.ListByJob("job-1")
	if err != nil {
		t.Fatalf("ListByJob() error = %v", err)
	}
	if len(got) != 2 {
		t.Errorf("ListByJob() len = %d, want 2", len(got))
	}

	if err := s.DeleteByJob("job-1"); err != nil {
		t.Fatalf("DeleteByJob() error = %v", err)
	}
	got, err = s.ListByJob("job-1")
	if err != nil {
		t.Fatalf("ListByJob() after delete error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("ListByJob() after delete = %v, want empty", got)
	}

	stillThere, err := s.ListByJob("job-2")
	if err != nil {
		t.Fatal(err)
	}
	if len(stillThere) != 1 {
		t.Errorf("ListByJob(job-2) after deleting job-1 = %v, want untouched", stillThere)
	}
}
