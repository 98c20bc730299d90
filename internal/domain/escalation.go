package domain

import "time"

// EscalationStatus is the position of an incident on the escalation ladder.
type EscalationStatus string

// Escalation statuses. The ladder only moves forward; Resolved is terminal.
const (
	EscalationPending  EscalationStatus = "Pending"
	EscalationDevOps   EscalationStatus = "devops_escalation"
	EscalationDirector EscalationStatus = "director_escalation"
	EscalationResolved EscalationStatus = "Resolved"
)

// Rank orders escalation statuses. Unknown statuses rank below Pending.
func (s EscalationStatus) Rank() int {
	switch s {
	case EscalationPending:
		return 0
	case EscalationDevOps:
		return 1
	case EscalationDirector:
		return 2
	case EscalationResolved:
		return 3
	default:
		return -1
	}
}

// CanAdvanceTo reports whether moving from s to next keeps the ladder monotonic.
func (s EscalationStatus) CanAdvanceTo(next EscalationStatus) bool {
	if s == EscalationResolved {
		return false
	}
	return next.Rank() > s.Rank()
}

// IncidentStatus is the notification workflow sub-state of an escalation.
type IncidentStatus string

// Incident workflow statuses.
const (
	IncidentStatusNew          IncidentStatus = "new"
	IncidentStatusPublished    IncidentStatus = "published_to_slack"
	IncidentStatusAcknowledged IncidentStatus = "acknowledged"
	IncidentStatusResolved     IncidentStatus = "resolved"
)

// InitialEscalationDetails is stored on every freshly created escalation record.
const InitialEscalationDetails = "Initial escalation record created."

// EscalationRecord tracks internal handling of one IncidentRecord.
type EscalationRecord struct {
	IncidentID               string
	EscalationStatus         EscalationStatus
	IncidentStatus           IncidentStatus
	LastEscalationUpdateTime time.Time
	LastIncidentUpdateTime   time.Time
	AcknowledgmentTime       *time.Time
	ThreadID                 string
	EscalationDetails        string
	CreatedAt                time.Time
}

// NewEscalationRecord returns the companion record created with an incident.
func NewEscalationRecord(incidentID string, now time.Time) *EscalationRecord {
	return &EscalationRecord{
		IncidentID:               incidentID,
		EscalationStatus:         EscalationPending,
		IncidentStatus:           IncidentStatusNew,
		LastEscalationUpdateTime: now,
		LastIncidentUpdateTime:   now,
		EscalationDetails:        InitialEscalationDetails,
		CreatedAt:                now,
	}
}

// IsOpen reports whether the escalation engine still has work on the record.
func (r *EscalationRecord) IsOpen() bool {
	return r.EscalationStatus != EscalationResolved
}

// Tier is one escalation contact level.
type Tier struct {
	Name        string
	Status      EscalationStatus
	DisplayName string
	Phone       string
	After       time.Duration
}
