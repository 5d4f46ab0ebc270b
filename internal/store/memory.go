package store

import (
	"context"
	"errors"
	"sync"

	"github.com/joblens/joblens/internal/joblens"
)

// Memory provides an in-memory Store for development and testing. Records
// keep insertion order so ReadPending returns oldest first.
type Memory struct {
	mu      sync.RWMutex
	byID    map[string]joblens.StoredRecord
	byKey   map[joblens.IdentityKey]string
	ordered []string
	clock   joblens.Clock
}

// NewMemory constructs a Memory store.
func NewMemory(clock joblens.Clock) *Memory {
	return &Memory{
		byID:  make(map[string]joblens.StoredRecord),
		byKey: make(map[joblens.IdentityKey]string),
		clock: clock,
	}
}

// Exists reports whether a record with the identity key is stored.
func (s *Memory) Exists(_ context.Context, key joblens.IdentityKey) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byKey[key]
	return ok, nil
}

// Upsert inserts the record or replaces the record sharing its identity.
func (s *Memory) Upsert(_ context.Context, record joblens.StoredRecord) error {
	if record.ID == "" {
		return errors.New("record id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	record.UpdatedAt = s.clock.Now()
	if existingID, ok := s.byKey[record.Identity]; ok {
		// Keep the original ID and position on replace.
		record.ID = existingID
		s.byID[existingID] = record
		return nil
	}
	s.byKey[record.Identity] = record.ID
	s.byID[record.ID] = record
	s.ordered = append(s.ordered, record.ID)
	return nil
}

// ReadPending returns up to limit records in the given status, oldest
// first.
func (s *Memory) ReadPending(_ context.Context, status joblens.RecordStatus, limit int) ([]joblens.StoredRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var records []joblens.StoredRecord
	for _, id := range s.ordered {
		if len(records) == limit {
			break
		}
		record := s.byID[id]
		if record.Status == status {
			records = append(records, record)
		}
	}
	return records, nil
}

// UpdateStatus sets the record's status and any recognized extra fields.
func (s *Memory) UpdateStatus(_ context.Context, id string, status joblens.RecordStatus, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.byID[id]
	if !ok {
		return errors.New("record not found")
	}
	record.Status = status
	record.UpdatedAt = s.clock.Now()
	for name, value := range fields {
		switch name {
		case "description":
			text, ok := value.(string)
			if !ok {
				return errors.New("description must be a string")
			}
			record.Description = text
		case "score":
			score, ok := value.(int)
			if !ok {
				return errors.New("score must be an int")
			}
			record.Score = score
		default:
			return errors.New("unknown update field " + name)
		}
	}
	s.byID[id] = record
	return nil
}

// Len reports how many records are stored.
func (s *Memory) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ordered)
}
