package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseImpact(t *testing.T) {
	tests := []struct {
		in   string
		want Impact
	}{
		{"critical", ImpactCritical},
		{"major", ImpactHigh},
		{"High", ImpactHigh},
		{"medium", ImpactMedium},
		{"minor", ImpactLow},
		{"none", ImpactLow},
		{" low ", ImpactLow},
		{"monitoring_failure", ImpactMonitoringFailure},
		{"", ImpactUnknown},
		{"catastrophic", ImpactUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseImpact(tt.in))
		})
	}
}

func TestEscalationStatus_Ladder(t *testing.T) {
	ladder := []EscalationStatus{EscalationPending, EscalationDevOps, EscalationDirector, EscalationResolved}

	for i, from := range ladder {
		for j, to := range ladder {
			if from == EscalationResolved {
				assert.False(t, from.CanAdvanceTo(to), "%s -> %s", from, to)
				continue
			}
			assert.Equal(t, j > i, from.CanAdvanceTo(to), "%s -> %s", from, to)
		}
	}

	assert.Equal(t, -1, EscalationStatus("bogus").Rank())
	assert.True(t, EscalationStatus("bogus").CanAdvanceTo(EscalationPending))
}

func TestIncidentRecord_Kinds(t *testing.T) {
	external := &IncidentRecord{ID: "k2fs0p3ltwq8"}
	component := &IncidentRecord{ID: GeneratedIDPrefix + "3b241101-e2bb-5255-8caf-4136c566a962"}
	failure := &IncidentRecord{ID: MonitoringFailureIDPrefix + "5e0c3f0e-6b2c-4c1e-9f3a-4a8cdb1e7d10"}

	assert.False(t, external.IsSynthetic())
	assert.False(t, external.IsComponentFault())

	assert.True(t, component.IsSynthetic())
	assert.True(t, component.IsComponentFault())

	assert.True(t, failure.IsSynthetic())
	assert.False(t, failure.IsComponentFault())
}

func TestIncidentRecord_IsResolved(t *testing.T) {
	rec := &IncidentRecord{ID: "abc"}
	assert.False(t, rec.IsResolved())

	now := time.Now()
	rec.ResolvedAt = &now
	assert.True(t, rec.IsResolved())
}

func TestIsResolvingStatus(t *testing.T) {
	assert.True(t, IsResolvingStatus("resolved"))
	assert.True(t, IsResolvingStatus("Resolved"))
	assert.True(t, IsResolvingStatus("postmortem"))
	assert.False(t, IsResolvingStatus("monitoring"))
	assert.False(t, IsResolvingStatus("investigating"))
	assert.False(t, IsResolvingStatus(""))
}

func TestNewEscalationRecord(t *testing.T) {
	now := time.Date(2024, 11, 23, 12, 0, 0, 0, time.UTC)

	rec := NewEscalationRecord("abc123", now)

	assert.Equal(t, "abc123", rec.IncidentID)
	assert.Equal(t, EscalationPending, rec.EscalationStatus)
	assert.Equal(t, IncidentStatusNew, rec.IncidentStatus)
	assert.Equal(t, InitialEscalationDetails, rec.EscalationDetails)
	assert.Equal(t, now, rec.LastEscalationUpdateTime)
	assert.Equal(t, now, rec.LastIncidentUpdateTime)
	assert.Equal(t, now, rec.CreatedAt)
	assert.Nil(t, rec.AcknowledgmentTime)
	assert.Empty(t, rec.ThreadID)
	assert.True(t, rec.IsOpen())

	rec.EscalationStatus = EscalationResolved
	assert.False(t, rec.IsOpen())
}
