package scheduler

import (
	"sort"
	"sync"
	"time"

	"rfp_scout/models"
)

// Registry is the in-memory view of the active schedules, plus one trigger
// lock per schedule. All methods are safe for concurrent use and hand out
// copies.
type Registry struct {
	mu        sync.RWMutex
	schedules map[string]*models.Schedule
	locks     map[string]*sync.Mutex
}

func NewRegistry() *Registry {
	return &Registry{
		schedules: make(map[string]*models.Schedule),
		locks:     make(map[string]*sync.Mutex),
	}
}

// Replace swaps in a fresh schedule set. Locks of schedules that remain are
// kept so an in-flight trigger stays exclusive.
func (r *Registry) Replace(schedules []models.Schedule) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := make(map[string]*models.Schedule, len(schedules))
	for _, s := range schedules {
		c := s.Clone()
		next[s.ID] = &c
		if _, ok := r.locks[s.ID]; !ok {
			r.locks[s.ID] = &sync.Mutex{}
		}
	}
	for id := range r.locks {
		if _, ok := next[id]; !ok {
			delete(r.locks, id)
		}
	}
	r.schedules = next
}

func (r *Registry) Put(s models.Schedule) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := s.Clone()
	r.schedules[s.ID] = &c
	if _, ok := r.locks[s.ID]; !ok {
		r.locks[s.ID] = &sync.Mutex{}
	}
}

func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.schedules[id]
	delete(r.schedules, id)
	delete(r.locks, id)
	return ok
}

func (r *Registry) Get(id string) (models.Schedule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.schedules[id]
	if !ok {
		return models.Schedule{}, false
	}
	return s.Clone(), true
}

// List returns every schedule ordered by name, then id.
func (r *Registry) List() []models.Schedule {
	r.mu.RLock()
	out := make([]models.Schedule, 0, len(r.schedules))
	for _, s := range r.schedules {
		out = append(out, s.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.schedules)
}

// MarkRun records a trigger at `at`. It returns false for unknown ids.
func (r *Registry) MarkRun(id string, at time.Time, next *time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.schedules[id]
	if !ok {
		return false
	}
	t := at
	s.LastRun = &t
	if next != nil {
		n := *next
		s.NextRun = &n
	}
	return true
}

func (r *Registry) SetNextRun(id string, next time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.schedules[id]
	if !ok {
		return false
	}
	s.NextRun = &next
	return true
}

// TryLock takes the trigger lock for id without waiting. ok is false when the
// lock is held or the schedule is unknown.
func (r *Registry) TryLock(id string) (unlock func(), ok bool) {
	r.mu.RLock()
	lock, found := r.locks[id]
	r.mu.RUnlock()

	if !found || !lock.TryLock() {
		return nil, false
	}
	return lock.Unlock, true
}
