// Package store defines the record store adapter shared by ingestion and escalation.
package store

import (
	"context"
	"time"

	"github.com/bissquit/incident-escalator/internal/domain"
)

// Repository defines access to incident and escalation records.
//
// Only one Escalation Engine is expected to run at a time. Conditional updates
// (Expect* fields) keep the state machine monotonic if that assumption is violated.
type Repository interface {
	GetIncident(ctx context.Context, id string) (*domain.IncidentRecord, error)
	GetEscalation(ctx context.Context, id string) (*domain.EscalationRecord, error)

	// CreateIncident writes the incident and its escalation record as one unit.
	// Returns created=false without error when a record with the same id exists.
	CreateIncident(ctx context.Context, incident *domain.IncidentRecord, escalation *domain.EscalationRecord) (created bool, err error)

	UpdateIncident(ctx context.Context, id string, update IncidentUpdate) error

	// UpdateEscalation applies update when the Expect* preconditions hold.
	// Returns ErrConflict if the record exists but a precondition failed.
	UpdateEscalation(ctx context.Context, id string, update EscalationUpdate) error

	// ListOpenEscalations returns every escalation whose status is not Resolved.
	ListOpenEscalations(ctx context.Context) ([]*domain.EscalationRecord, error)

	Ping(ctx context.Context) error
}

// IncidentUpdate holds field-level changes to an incident. Nil fields are left as is.
type IncidentUpdate struct {
	Status       *string
	LastUpdateID *string
	// ResolvedAt is only applied when the stored value is empty.
	ResolvedAt *time.Time
	UpdatedAt  *time.Time
}

// IsEmpty reports whether the update changes nothing.
func (u IncidentUpdate) IsEmpty() bool {
	return u.Status == nil && u.LastUpdateID == nil && u.ResolvedAt == nil && u.UpdatedAt == nil
}

// EscalationUpdate holds field-level changes to an escalation record.
type EscalationUpdate struct {
	ExpectIncidentStatus   *domain.IncidentStatus
	ExpectEscalationStatus *domain.EscalationStatus

	IncidentStatus           *domain.IncidentStatus
	EscalationStatus         *domain.EscalationStatus
	LastEscalationUpdateTime *time.Time
	LastIncidentUpdateTime   *time.Time
	AcknowledgmentTime       *time.Time
	ThreadID                 *string
	EscalationDetails        *string
}

// IsEmpty reports whether the update changes nothing.
func (u EscalationUpdate) IsEmpty() bool {
	return u.IncidentStatus == nil && u.EscalationStatus == nil &&
		u.LastEscalationUpdateTime == nil && u.LastIncidentUpdateTime == nil &&
		u.AcknowledgmentTime == nil && u.ThreadID == nil && u.EscalationDetails == nil
}

// Matches reports whether rec satisfies the update's preconditions.
func (u EscalationUpdate) Matches(rec *domain.EscalationRecord) bool {
	if u.ExpectIncidentStatus != nil && rec.IncidentStatus != *u.ExpectIncidentStatus {
		return false
	}
	if u.ExpectEscalationStatus != nil && rec.EscalationStatus != *u.ExpectEscalationStatus {
		return false
	}
	return true
}

// Apply copies the non-nil fields of u onto rec.
func (u EscalationUpdate) Apply(rec *domain.EscalationRecord) {
	if u.IncidentStatus != nil {
		rec.IncidentStatus = *u.IncidentStatus
	}
	if u.EscalationStatus != nil {
		rec.EscalationStatus = *u.EscalationStatus
	}
	if u.LastEscalationUpdateTime != nil {
		rec.LastEscalationUpdateTime = *u.LastEscalationUpdateTime
	}
	if u.LastIncidentUpdateTime != nil {
		rec.LastIncidentUpdateTime = *u.LastIncidentUpdateTime
	}
	if u.AcknowledgmentTime != nil {
		t := *u.AcknowledgmentTime
		rec.AcknowledgmentTime = &t
	}
	if u.ThreadID != nil {
		rec.ThreadID = *u.ThreadID
	}
	if u.EscalationDetails != nil {
		rec.EscalationDetails = *u.EscalationDetails
	}
}

// Apply copies the non-nil fields of u onto rec, keeping resolved_at write-once.
func (u IncidentUpdate) Apply(rec *domain.IncidentRecord) {
	if u.Status != nil {
		rec.Status = *u.Status
	}
	if u.LastUpdateID != nil {
		rec.LastUpdateID = *u.LastUpdateID
	}
	if u.ResolvedAt != nil && rec.ResolvedAt == nil {
		t := *u.ResolvedAt
		rec.ResolvedAt = &t
	}
	if u.UpdatedAt != nil {
		rec.UpdatedAt = *u.UpdatedAt
	}
}

// Tables names the two logical tables.
type Tables struct {
	Incidents   string
	Escalations string
}

// Default table names.
const (
	DefaultIncidentsTable   = "incidents"
	DefaultEscalationsTable = "escalations"
	TestTablePrefix         = "test_"
)

// ResolveTables picks table names for the given mode. Non-empty overrides win.
func ResolveTables(testMode bool, incidentsOverride, escalationsOverride string) Tables {
	t := Tables{Incidents: DefaultIncidentsTable, Escalations: DefaultEscalationsTable}
	if testMode {
		t.Incidents = TestTablePrefix + t.Incidents
		t.Escalations = TestTablePrefix + t.Escalations
	}
	if incidentsOverride != "" {
		t.Incidents = incidentsOverride
	}
	if escalationsOverride != "" {
		t.Escalations = escalationsOverride
	}
	return t
}
