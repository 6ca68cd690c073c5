package badger

import (
	"fmt"

	"github.com/ternarybob/crawlservice/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// ArtifactStorage persists the artifact registry the finalizer populates.
type ArtifactStorage struct {
	db *DB
}

// NewArtifactStorage constructs an ArtifactStorage over db.
func NewArtifactStorage(db *DB) *ArtifactStorage {
	return &ArtifactStorage{db: db}
}

// Register upserts an artifact record by ID.
func (s *ArtifactStorage) Register(artifact *models.Artifact) error {
	if err := s.db.Store().Upsert(artifact.ID, artifact); err != nil {
		return fmt.Errorf("register artifact %s: %w", artifact.ID, err)
	}
	return nil
}

// ListByJob returns all artifacts registered for jobID.
func (s *ArtifactStorage) ListByJob(jobID string) ([]*models.Artifact, error) {
	var artifacts []*models.Artifact
	query := badgerhold.Where("JobID").Eq(jobID)
	if err := s.db.Store().Find(&artifacts, query); err != nil {
		return nil, fmt.Errorf("list artifacts for job %s: %w", jobID, err)
	}
	return artifacts, nil
}

// GetByJobAndKind returns the single artifact of kind for jobID, or
// badgerhold.ErrNotFound if it has not been registered yet.
func (s *ArtifactStorage) GetByJobAndKind(jobID string, kind models.ArtifactKind) (*models.Artifact, error) {
	var artifacts []*models.Artifact
	query := badgerhold.Where("JobID").Eq(jobID).And("Kind").Eq(kind).Limit(1)
	if err := s.db.Store().Find(&artifacts, query); err != nil {
		return nil, fmt.Errorf("get artifact %s/%s: %w", jobID, kind, err)
	}
	if len(artifacts) == 0 {
		return nil, badgerhold.ErrNotFound
	}
	return artifacts[0], nil
}

// DeleteByJob removes all artifact records for jobID.
func (s *ArtifactStorage) DeleteByJob(jobID string) error {
	_, err := s.db.Store().DeleteMatching(&models.Artifact{}, badgerhold.Where("JobID").Eq(jobID))
	if err != nil {
		return fmt.Errorf("delete artifacts for job %s: %w", jobID, err)
	}
	return nil
}
