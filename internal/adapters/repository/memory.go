package repository

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/lowmax205/eas/internal/domain/model"
)

// MemoryStore keeps everything in process memory. It backs tests and the
// single-node default deployment.
type MemoryStore struct {
	mu          sync.RWMutex
	submissions map[string]model.AttendanceSubmission
	events      map[string]model.EventWindow
	profiles    map[string]model.ReferenceProfile
	records     map[string]model.AttendanceRecord
	outcomes    map[string][]model.VerificationOutcome // by submission id, oldest first
	checks      map[string][]model.CheckResult         // by outcome id
	logs        map[string][]model.AttendanceLog       // by record id
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		submissions: make(map[string]model.AttendanceSubmission),
		events:      make(map[string]model.EventWindow),
		profiles:    make(map[string]model.ReferenceProfile),
		records:     make(map[string]model.AttendanceRecord),
		outcomes:    make(map[string][]model.VerificationOutcome),
		checks:      make(map[string][]model.CheckResult),
		logs:        make(map[string][]model.AttendanceLog),
	}
}

func (s *MemoryStore) CountAccepted(ctx context.Context, eventID, userID, excludeSubmissionID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, r := range s.records {
		if r.EventID == eventID && r.UserID == userID && r.IsVerified && r.SubmissionID != excludeSubmissionID {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) SaveVerification(ctx context.Context, v model.Verification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	r := v.Record
	if prev, ok := s.records[r.ID]; ok && prev.VerificationMethod == model.MethodAdminOverride {
		r.IsVerified = prev.IsVerified
		r.VerificationMethod = prev.VerificationMethod
	}
	s.records[r.ID] = r
	s.outcomes[v.Outcome.SubmissionID] = append(s.outcomes[v.Outcome.SubmissionID], cloneOutcome(v.Outcome))
	checks := make([]model.CheckResult, len(v.Checks))
	for i, c := range v.Checks {
		c.Details = maps.Clone(c.Details)
		checks[i] = c
	}
	s.checks[v.Outcome.ID] = checks
	for _, l := range v.Logs {
		l.Details = maps.Clone(l.Details)
		s.logs[l.RecordID] = append(s.logs[l.RecordID], l)
	}
	return nil
}

func (s *MemoryStore) SaveSubmission(_ context.Context, sub model.AttendanceSubmission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.submissions[sub.ID]; ok {
		if !prev.SameContent(sub) {
			return fmt.Errorf("submission %s: %w", sub.ID, ErrConflict)
		}
		return nil
	}
	sub.Photo = slices.Clone(sub.Photo)
	sub.Signature = slices.Clone(sub.Signature)
	s.submissions[sub.ID] = sub
	return nil
}

func (s *MemoryStore) Submission(_ context.Context, id string) (model.AttendanceSubmission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.submissions[id]
	if !ok {
		return model.AttendanceSubmission{}, fmt.Errorf("submission %s: %w", id, ErrNotFound)
	}
	return sub, nil
}

func (s *MemoryStore) SaveEvent(_ context.Context, w model.EventWindow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[w.EventID] = w
	return nil
}

func (s *MemoryStore) EventWindow(_ context.Context, eventID string) (model.EventWindow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.events[eventID]
	if !ok {
		return model.EventWindow{}, fmt.Errorf("event %s: %w", eventID, ErrNotFound)
	}
	return w, nil
}

func (s *MemoryStore) SaveProfile(_ context.Context, p model.ReferenceProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.UserID] = p
	return nil
}

func (s *MemoryStore) ReferenceProfile(_ context.Context, userID string) (model.ReferenceProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return model.ReferenceProfile{}, fmt.Errorf("profile %s: %w", userID, ErrNotFound)
	}
	return p, nil
}

func (s *MemoryStore) LatestVerification(_ context.Context, submissionID string) (StoredVerification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.outcomes[submissionID]
	if len(history) == 0 {
		return StoredVerification{}, fmt.Errorf("verification of %s: %w", submissionID, ErrNotFound)
	}
	o := history[len(history)-1]
	return StoredVerification{
		Outcome: cloneOutcome(o),
		Checks:  slices.Clone(s.checks[o.ID]),
	}, nil
}

func (s *MemoryStore) Record(_ context.Context, recordID string) (model.AttendanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[recordID]
	if !ok {
		return model.AttendanceRecord{}, fmt.Errorf("record %s: %w", recordID, ErrNotFound)
	}
	return r, nil
}

func (s *MemoryStore) Logs(_ context.Context, recordID string) ([]model.AttendanceLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.logs[recordID]), nil
}

func (s *MemoryStore) ApplyOverride(_ context.Context, recordID string, accepted bool, entry model.AttendanceLog) (model.AttendanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[recordID]
	if !ok {
		return model.AttendanceRecord{}, fmt.Errorf("record %s: %w", recordID, ErrNotFound)
	}
	r.IsVerified = accepted
	r.VerificationMethod = model.MethodAdminOverride
	s.records[recordID] = r
	entry.RecordID = recordID
	s.logs[recordID] = append(s.logs[recordID], entry)
	return r, nil
}

func (s *MemoryStore) Migrate(context.Context) error { return nil }

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func cloneOutcome(o model.VerificationOutcome) model.VerificationOutcome {
	o.Weights = maps.Clone(o.Weights)
	return o
}
