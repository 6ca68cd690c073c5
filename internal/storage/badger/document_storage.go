package badger

import (
	"fmt"

	"github.com/ternarybob/crawlservice/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// DocumentStorage persists content-hash identified Documents, the
// cross-page dedup unit the extraction pipeline's identity stage maintains.
type DocumentStorage struct {
	db *DB
}

// NewDocumentStorage constructs a DocumentStorage over db.
func NewDocumentStorage(db *DB) *DocumentStorage {
	return &DocumentStorage{db: db}
}

// FindByTextHash returns the Document already registered for jobID with the
// given text hash, or badgerhold.ErrNotFound if this is a new identity.
func (s *DocumentStorage) FindByTextHash(jobID, textHash string) (*models.Document, error) {
	var docs []*models.Document
	query := badgerhold.Where("JobID").Eq(jobID).And("TextHash").Eq(textHash).Limit(1)
	if err := s.db.Store().Find(&docs, query); err != nil {
		return nil, fmt.Errorf("find document by hash: %w", err)
	}
	if len(docs) == 0 {
		return nil, badgerhold.ErrNotFound
	}
	return docs[0], nil
}

// Save upserts a Document by ID.
func (s *DocumentStorage) Save(doc *models.Document) error {
	if err := s.db.Store().Upsert(doc.ID, doc); err != nil {
		return fmt.Errorf("save document %s: %w", doc.ID, err)
	}
	return nil
}

// ListByJob returns every Document identity registered for jobID.
func (s *DocumentStorage) ListByJob(jobID string) ([]*models.Document, error) {
	var docs []*models.Document
	if err := s.db.Store().Find(&docs, badgerhold.Where("JobID").Eq(jobID)); err != nil {
		return nil, fmt.Errorf("list documents for job %s: %w", jobID, err)
	}
	return docs, nil
}

// DeleteByJob removes all document identities for jobID.
func (s *DocumentStorage) DeleteByJob(jobID string) error {
	_, err := s.db.Store().DeleteMatching(&models.Document{}, badgerhold.Where("JobID").Eq(jobID))
	if err != nil {
		return fmt.Errorf("delete documents for job %s: %w", jobID, err)
	}
	return nil
}
