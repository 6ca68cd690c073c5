package pipeline

import (
	"strings"
	"time"

	"github.com/ternarybob/crawlservice/internal/common"
	badgerstore "github.com/ternarybob/crawlservice/internal/storage/badger"

	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/crawlservice/internal/models"
)

// IdentityResolver assigns or looks up a page's Document identity by
// content hash, recording new URLs as aliases of an existing document when
// their normalized text matches.
type IdentityResolver struct {
	documents *badgerstore.DocumentStorage
}

// NewIdentityResolver constructs an IdentityResolver over the job's
// document store.
func NewIdentityResolver(documents *badgerstore.DocumentStorage) *IdentityResolver {
	return &IdentityResolver{documents: documents}
}

// Resolve finds or creates the Document for a page's text hash within jobID,
// returning its document ID and whether this URL is a duplicate of a
// previously seen one.
func (r *IdentityResolver) Resolve(jobID, url, textHash, title string, now time.Time) (documentID string, isDuplicate bool, err error) {
	contentHash := strings.TrimPrefix(textHash, "sha256:")
	if contentHash == "" {
		return "", false, nil
	}

	existing, err := r.documents.FindByTextHash(jobID, contentHash)
	if err == nil {
		existing.Aliases = append(existing.Aliases, models.DocumentAlias{
			URL:         url,
			MatchReason: "content_hash",
			SeenAt:      now,
		})
		if saveErr := r.documents.Save(existing); saveErr != nil {
			return "", false, saveErr
		}
		return existing.ID, true, nil
	}
	if err != badgerhold.ErrNotFound {
		return "", false, err
	}

	doc := &models.Document{
		ID:         common.NewDocumentID(),
		JobID:      jobID,
		TextHash:   contentHash,
		PrimaryURL: url,
		CreatedAt:  now,
	}
	if saveErr := r.documents.Save(doc); saveErr != nil {
		return "", false, saveErr
	}
	return doc.ID, false, nil
}
