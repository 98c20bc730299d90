// Package escalation drives the per-incident notification and escalation workflow.
package escalation

import (
	"time"

	"github.com/bissquit/incident-escalator/internal/domain"
)

// Action is a side effect requested by the transition table.
type Action int

// Actions, in the order they can appear in a plan.
const (
	ActionResolve Action = iota + 1
	ActionAnnounce
	ActionAcknowledge
	ActionRemind
	ActionEscalate
)

func (a Action) String() string {
	switch a {
	case ActionResolve:
		return "resolve"
	case ActionAnnounce:
		return "announce"
	case ActionAcknowledge:
		return "acknowledge"
	case ActionRemind:
		return "remind"
	case ActionEscalate:
		return "escalate"
	default:
		return "unknown"
	}
}

// State is the part of an escalation record the transition table reads.
type State struct {
	IncidentStatus     domain.IncidentStatus
	EscalationStatus   domain.EscalationStatus
	HasThread          bool
	LastIncidentUpdate time.Time
}

// StateOf extracts the transition table input from a stored record.
func StateOf(rec *domain.EscalationRecord) State {
	return State{
		IncidentStatus:     rec.IncidentStatus,
		EscalationStatus:   rec.EscalationStatus,
		HasThread:          rec.ThreadID != "",
		LastIncidentUpdate: rec.LastIncidentUpdateTime,
	}
}

// Observation holds the external signals collected for one cycle.
type Observation struct {
	Now          time.Time
	Resolved     bool
	Acknowledged bool
}

// Policy is the escalation ladder configuration.
type Policy struct {
	// Tiers are paged in order. Tier i is paged once the record sits in the
	// status of tier i-1 (Pending for the first tier) longer than Tiers[i].After.
	Tiers []domain.Tier
	// ReminderInterval re-notifies acknowledged incidents. Zero disables reminders.
	ReminderInterval time.Duration
}

// Step is one planned transition. From and To describe the field the step
// moves; the engine uses From as the expected previous value.
type Step struct {
	Action Action

	FromIncident   domain.IncidentStatus
	ToIncident     domain.IncidentStatus
	FromEscalation domain.EscalationStatus
	ToEscalation   domain.EscalationStatus

	// Tier is the index into Policy.Tiers for ActionEscalate.
	Tier int
}

// Plan evaluates the transition table for one record and one cycle.
// It is pure: the returned steps are executed by the Engine in order.
//
//	state                          condition                     next / action
//	any                            incident resolved             Resolved / resolve (terminal)
//	incident new                   -                             published_to_slack / announce
//	thread existed, not acked      acknowledgment observed       acknowledged / acknowledge (terminal)
//	acknowledged                   elapsed > reminder interval   - / remind (terminal)
//	new|published, tier i-1 status elapsed > Tiers[i].After      Tiers[i].Status / escalate
//
// The tier gate of an announcing cycle uses the pre-announce update time, so an
// overdue new record is announced and paged in the same cycle. At most one
// escalate step is produced per cycle: a record overdue for several tiers
// reaches the next one on the following cycle.
func Plan(s State, obs Observation, p Policy) []Step {
	if s.EscalationStatus == domain.EscalationResolved {
		return nil
	}

	if obs.Resolved {
		return []Step{{
			Action:         ActionResolve,
			FromIncident:   s.IncidentStatus,
			ToIncident:     domain.IncidentStatusResolved,
			FromEscalation: s.EscalationStatus,
			ToEscalation:   domain.EscalationResolved,
		}}
	}

	var steps []Step

	if s.IncidentStatus == domain.IncidentStatusNew {
		steps = append(steps, Step{
			Action:       ActionAnnounce,
			FromIncident: domain.IncidentStatusNew,
			ToIncident:   domain.IncidentStatusPublished,
		})
		s.IncidentStatus = domain.IncidentStatusPublished
	} else if s.HasThread && obs.Acknowledged && s.IncidentStatus != domain.IncidentStatusAcknowledged {
		return append(steps, Step{
			Action:       ActionAcknowledge,
			FromIncident: s.IncidentStatus,
			ToIncident:   domain.IncidentStatusAcknowledged,
		})
	}

	if s.IncidentStatus == domain.IncidentStatusAcknowledged {
		if p.ReminderInterval > 0 && obs.Now.Sub(s.LastIncidentUpdate) > p.ReminderInterval {
			steps = append(steps, Step{
				Action:       ActionRemind,
				FromIncident: s.IncidentStatus,
				ToIncident:   s.IncidentStatus,
			})
		}
		return steps
	}

	if s.IncidentStatus != domain.IncidentStatusNew && s.IncidentStatus != domain.IncidentStatusPublished {
		return steps
	}

	i := p.nextTier(s.EscalationStatus)
	if i < 0 {
		return steps
	}
	if obs.Now.Sub(s.LastIncidentUpdate) > p.Tiers[i].After {
		steps = append(steps, Step{
			Action:         ActionEscalate,
			FromEscalation: s.EscalationStatus,
			ToEscalation:   p.Tiers[i].Status,
			Tier:           i,
		})
	}

	return steps
}

// nextTier returns the index of the tier paged from status, or -1 at the top of the ladder.
func (p Policy) nextTier(status domain.EscalationStatus) int {
	if status == domain.EscalationPending {
		if len(p.Tiers) == 0 {
			return -1
		}
		return 0
	}
	for i, t := range p.Tiers {
		if t.Status == status {
			if i+1 < len(p.Tiers) {
				return i + 1
			}
			return -1
		}
	}
	return -1
}
