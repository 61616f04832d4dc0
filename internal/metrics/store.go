package metrics

import (
	"sort"
	"sync"
	"time"

	"igma/internal/model"
)

// Store keeps the diagnosed cycles of each subject, newest last, so the next
// cycle can be compared without a database round-trip. Subjects beyond limit
// are evicted oldest-update first.
type Store struct {
	mu        sync.RWMutex
	bySubject map[string][]model.Diagnosis
	updatedAt map[string]time.Time
	limit     int
	history   int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 5000
	}
	return &Store{
		bySubject: make(map[string][]model.Diagnosis),
		updatedAt: make(map[string]time.Time),
		limit:     limit,
		history:   8,
	}
}

// Update records d, replacing an earlier diagnosis of the same cycle.
func (s *Store) Update(d model.Diagnosis) {
	subject := d.Cycle.Subject
	if subject == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.bySubject[subject]
	replaced := false
	for i := range list {
		if list[i].Cycle.Sequence == d.Cycle.Sequence {
			list[i] = d
			replaced = true
			break
		}
	}
	if !replaced {
		list = append(list, d)
	}
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Cycle.Sequence < list[j].Cycle.Sequence
	})
	if len(list) > s.history {
		list = append([]model.Diagnosis(nil), list[len(list)-s.history:]...)
	}
	s.bySubject[subject] = list
	s.updatedAt[subject] = time.Now().UTC()
	if len(s.bySubject) > s.limit {
		s.evictOldest()
	}
}

// Cycle returns the diagnosis of one cycle if it is held.
func (s *Store) Cycle(subject string, sequence int) (model.Diagnosis, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.bySubject[subject] {
		if d.Cycle.Sequence == sequence {
			return d, true
		}
	}
	return model.Diagnosis{}, false
}

// Previous returns the latest diagnosis strictly before sequence.
func (s *Store) Previous(subject string, sequence int) (model.Diagnosis, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.bySubject[subject]
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].Cycle.Sequence < sequence {
			return list[i], true
		}
	}
	return model.Diagnosis{}, false
}

func (s *Store) Get(subject string) (model.Diagnosis, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list, ok := s.bySubject[subject]
	if !ok || len(list) == 0 {
		return model.Diagnosis{}, time.Time{}, false
	}
	return list[len(list)-1], s.updatedAt[subject], true
}

// GetAll returns the latest diagnosis of every subject, ordered by subject.
func (s *Store) GetAll() []model.Diagnosis {
	s.mu.RLock()
	defer s.mu.RUnlock()
	subjects := make([]string, 0, len(s.bySubject))
	for subject := range s.bySubject {
		subjects = append(subjects, subject)
	}
	sort.Strings(subjects)
	out := make([]model.Diagnosis, 0, len(subjects))
	for _, subject := range subjects {
		list := s.bySubject[subject]
		out = append(out, list[len(list)-1])
	}
	return out
}

func (s *Store) evictOldest() {
	var oldestSubject string
	var oldest time.Time
	for subject, ts := range s.updatedAt {
		if oldestSubject == "" || ts.Before(oldest) || (ts.Equal(oldest) && subject < oldestSubject) {
			oldestSubject = subject
			oldest = ts
		}
	}
	if oldestSubject != "" {
		delete(s.bySubject, oldestSubject)
		delete(s.updatedAt, oldestSubject)
	}
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bySubject = make(map[string][]model.Diagnosis)
	s.updatedAt = make(map[string]time.Time)
}
