// Package memory provides an in-process implementation of store.Repository.
// It is used for local runs without PostgreSQL and in tests.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/bissquit/incident-escalator/internal/domain"
	"github.com/bissquit/incident-escalator/internal/store"
)

// Repository keeps records in maps guarded by a single mutex.
type Repository struct {
	mu          sync.RWMutex
	incidents   map[string]*domain.IncidentRecord
	escalations map[string]*domain.EscalationRecord
}

// NewRepository creates an empty repository.
func NewRepository() *Repository {
	return &Repository{
		incidents:   make(map[string]*domain.IncidentRecord),
		escalations: make(map[string]*domain.EscalationRecord),
	}
}

// GetIncident returns a copy of the incident with the given id.
func (r *Repository) GetIncident(_ context.Context, id string) (*domain.IncidentRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inc, ok := r.incidents[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneIncident(inc), nil
}

// GetEscalation returns a copy of the escalation record with the given id.
func (r *Repository) GetEscalation(_ context.Context, id string) (*domain.EscalationRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	esc, ok := r.escalations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneEscalation(esc), nil
}

// CreateIncident stores both records if no incident with the same id exists.
func (r *Repository) CreateIncident(_ context.Context, incident *domain.IncidentRecord, escalation *domain.EscalationRecord) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.incidents[incident.ID]; ok {
		return false, nil
	}
	r.incidents[incident.ID] = cloneIncident(incident)
	r.escalations[incident.ID] = cloneEscalation(escalation)
	return true, nil
}

// UpdateIncident applies field-level changes.
func (r *Repository) UpdateIncident(_ context.Context, id string, update store.IncidentUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	inc, ok := r.incidents[id]
	if !ok {
		return store.ErrNotFound
	}
	update.Apply(inc)
	return nil
}

// UpdateEscalation applies field-level changes when preconditions hold.
func (r *Repository) UpdateEscalation(_ context.Context, id string, update store.EscalationUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	esc, ok := r.escalations[id]
	if !ok {
		return store.ErrNotFound
	}
	if !update.Matches(esc) {
		return store.ErrConflict
	}
	update.Apply(esc)
	return nil
}

// ListOpenEscalations returns open records ordered by creation time.
func (r *Repository) ListOpenEscalations(_ context.Context) ([]*domain.EscalationRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.EscalationRecord, 0, len(r.escalations))
	for _, esc := range r.escalations {
		if esc.IsOpen() {
			result = append(result, cloneEscalation(esc))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].IncidentID < result[j].IncidentID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// Ping always succeeds.
func (r *Repository) Ping(_ context.Context) error {
	return nil
}

// Count returns the number of stored incidents and escalations.
func (r *Repository) Count() (incidents, escalations int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.incidents), len(r.escalations)
}

func cloneIncident(in *domain.IncidentRecord) *domain.IncidentRecord {
	out := *in
	out.AffectedComponents = slices.Clone(in.AffectedComponents)
	if in.ResolvedAt != nil {
		t := *in.ResolvedAt
		out.ResolvedAt = &t
	}
	return &out
}

func cloneEscalation(in *domain.EscalationRecord) *domain.EscalationRecord {
	out := *in
	if in.AcknowledgmentTime != nil {
		t := *in.AcknowledgmentTime
		out.AcknowledgmentTime = &t
	}
	return &out
}
