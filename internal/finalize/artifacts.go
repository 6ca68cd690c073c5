package finalize

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"time"

	"github.com/ternarybob/crawlservice/internal/common"
	"github.com/ternarybob/crawlservice/internal/models"
	badgerstore "github.com/ternarybob/crawlservice/internal/storage/badger"
)

// sha256SkipThreshold is the file size above which hashing is skipped —
// hashing a large export would cost more than it's worth for an artifact
// that's already identified by its job ID and kind.
const sha256SkipThreshold = 100 * 1024 * 1024

type artifactFile struct {
	kind models.ArtifactKind
	rel  string
}

var jobArtifacts = []artifactFile{
	{models.ArtifactKindRawJSONL, "pages.raw.jsonl"},
	{models.ArtifactKindFinalJSONL, "pages.jsonl"},
	{models.ArtifactKindSummaryJSON, "summary.json"},
	{models.ArtifactKindRunnerLog, "runner.log"},
	{models.ArtifactKindKBManifest, "kb/manifest.json"},
}

// RegisterArtifacts records every output file a job produced that still
// exists on disk. Missing files (e.g. no runner.log because logging goes to
// a shared process log) are silently skipped.
func RegisterArtifacts(jobID, jobDir string, artifacts *badgerstore.ArtifactStorage, now time.Time) error {
	for _, af := range jobArtifacts {
		path := filepath.Join(jobDir, af.rel)
		info, err := os.Stat(path)
		if err != nil {
			continue
		}

		var hash string
		if info.Size() < sha256SkipThreshold {
			if data, err := os.ReadFile(path); err == nil {
				sum := sha256.Sum256(data)
				hash = hex.EncodeToString(sum[:])
			}
		}

		artifact := &models.Artifact{
			ID:        common.NewArtifactID(),
			JobID:     jobID,
			Kind:      af.kind,
			Path:      path,
			Bytes:     info.Size(),
			SHA256:    hash,
			CreatedAt: now,
		}
		if err := artifacts.Register(artifact); err != nil {
			return err
		}
	}
	return nil
}
