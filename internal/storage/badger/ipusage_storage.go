package badger

import (
	"fmt"

	"github.com/ternarybob/crawlservice/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// IPUsageStorage is a thin convenience wrapper over a cached per-IP counter
// that survives a restart. Admission does not read it: the concurrency check
// counts active jobs with JobStorage.CountActiveJobsByIPHash.
type IPUsageStorage struct {
	db *DB
}

// NewIPUsageStorage constructs an IPUsageStorage over db.
func NewIPUsageStorage(db *DB) *IPUsageStorage {
	return &IPUsageStorage{db: db}
}

// Increment bumps the cached count for ipHash by delta (negative to decrement)
// and returns the resulting count.
func (s *IPUsageStorage) Increment(ipHash string, delta int) (int, error) {
	var usage models.IPUsage
	err := s.db.Store().Get(ipHash, &usage)
	if err != nil && err != badgerhold.ErrNotFound {
		return 0, fmt.Errorf("get ip usage %s: %w", ipHash, err)
	}
	usage.IPHash = ipHash
	usage.Count += delta
	if usage.Count < 0 {
		usage.Count = 0
	}
	if err := s.db.Store().Upsert(ipHash, &usage); err != nil {
		return 0, fmt.Errorf("upsert ip usage %s: %w", ipHash, err)
	}
	return usage.Count, nil
}

// Get returns the cached concurrency count for ipHash, 0 if never seen.
func (s *IPUsageStorage) Get(ipHash string) (int, error) {
	var usage models.IPUsage
	err := s.db.Store().Get(ipHash, &usage)
	if err == badgerhold.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get ip usage %s: %w", ipHash, err)
	}
	return usage.Count, nil
}
