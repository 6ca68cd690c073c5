package badger

import (
	"fmt"
	"sync/atomic"

	"github.com/ternarybob/crawlservice/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// EventStorage persists the append-only JobEvent audit trail.
type EventStorage struct {
	db      *DB
	nextSeq uint64
}

// NewEventStorage constructs an EventStorage over db, seeding its in-memory
// sequence counter from the highest stored event ID.
func NewEventStorage(db *DB) (*EventStorage, error) {
	s := &EventStorage{db: db}
	var latest []*models.JobEvent
	if err := db.Store().Find(&latest, badgerhold.Where("ID").Ne(uint64(0)).SortBy("ID").Reverse().Limit(1)); err != nil {
		return nil, fmt.Errorf("seed event sequence: %w", err)
	}
	if len(latest) > 0 {
		s.nextSeq = latest[0].ID
	}
	return s, nil
}

// Append records a new event, assigning it the next sequence ID.
func (s *EventStorage) Append(event *models.JobEvent) error {
	event.ID = atomic.AddUint64(&s.nextSeq, 1)
	if err := s.db.Store().Insert(event.ID, event); err != nil {
		return fmt.Errorf("append job event: %w", err)
	}
	return nil
}

// ListByJob returns events for jobID in chronological order.
func (s *EventStorage) ListByJob(jobID string) ([]*models.JobEvent, error) {
	var events []*models.JobEvent
	query := badgerhold.Where("JobID").Eq(jobID).SortBy("At")
	if err := s.db.Store().Find(&events, query); err != nil {
		return nil, fmt.Errorf("list events for job %s: %w", jobID, err)
	}
	return events, nil
}

// DeleteByJob removes all events for jobID, used during retention cleanup.
func (s *EventStorage) DeleteByJob(jobID string) error {
	_, err := s.db.Store().DeleteMatching(&models.JobEvent{}, badgerhold.Where("JobID").Eq(jobID))
	if err != nil {
		return fmt.Errorf("delete events for job %s: %w", jobID, err)
	}
	return nil
}
