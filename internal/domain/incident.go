// Package domain contains the records shared by ingestion and escalation.
package domain

import (
	"strings"
	"time"
)

// Impact is the severity reported by the status page.
type Impact string

// Impact values.
const (
	ImpactCritical          Impact = "critical"
	ImpactHigh              Impact = "high"
	ImpactMedium            Impact = "medium"
	ImpactLow               Impact = "low"
	ImpactUnknown           Impact = "unknown"
	ImpactMonitoringFailure Impact = "monitoring_failure"
)

// ParseImpact maps a status page impact string onto Impact.
// Statuspage uses none/minor/major/critical; other feeds use the canonical names.
func ParseImpact(s string) Impact {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical":
		return ImpactCritical
	case "high", "major":
		return ImpactHigh
	case "medium":
		return ImpactMedium
	case "low", "minor", "none":
		return ImpactLow
	case "monitoring_failure":
		return ImpactMonitoringFailure
	default:
		return ImpactUnknown
	}
}

// Id prefixes for locally synthesized incidents.
const (
	GeneratedIDPrefix         = "generated-"
	MonitoringFailureIDPrefix = "monitoring-failure-"
)

// ComponentOperational is the status of a healthy component.
const ComponentOperational = "operational"

// MonitoringFailureStatus is the status of a synthetic feed outage incident.
const MonitoringFailureStatus = "Monitoring Failure"

// IncidentRecord is the canonical snapshot of one external incident or faulty component.
type IncidentRecord struct {
	ID                 string
	Name               string
	Impact             Impact
	Status             string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	ResolvedAt         *time.Time
	AffectedComponents []string
	LastUpdateID       string
}

// IsSynthetic reports whether the incident was generated locally rather than
// reported by the status page. Synthetic incidents have no update feed.
func (r *IncidentRecord) IsSynthetic() bool {
	return strings.HasPrefix(r.ID, GeneratedIDPrefix) || strings.HasPrefix(r.ID, MonitoringFailureIDPrefix)
}

// IsComponentFault reports whether the incident was synthesized from a faulty
// component with no linked status page incident.
func (r *IncidentRecord) IsComponentFault() bool {
	return strings.HasPrefix(r.ID, GeneratedIDPrefix)
}

// IsResolved reports whether resolved_at has been stamped.
func (r *IncidentRecord) IsResolved() bool {
	return r.ResolvedAt != nil
}

// IsResolvingStatus reports whether an external update status closes the incident.
func IsResolvingStatus(status string) bool {
	switch strings.ToLower(status) {
	case "resolved", "postmortem":
		return true
	}
	return false
}

// IncidentUpdate is the latest update published for an external incident.
type IncidentUpdate struct {
	ID        string
	Body      string
	Status    string
	CreatedAt time.Time
}
