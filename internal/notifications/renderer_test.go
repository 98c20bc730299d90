package notifications

import (
	"testing"
	"time"

	"github.com/bissquit/incident-escalator/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRenderer(t *testing.T) *Renderer {
	t.Helper()
	r, err := NewRenderer("Github")
	require.NoError(t, err)
	return r
}

func TestNewRenderer(t *testing.T) {
	r := newTestRenderer(t)
	assert.Len(t, r.templates, len(messageTypes))
}

func TestRenderer_Announcement(t *testing.T) {
	r := newTestRenderer(t)

	inc := &domain.IncidentRecord{ID: "abc123", Name: "API Outage", Impact: domain.ImpactCritical, Status: "investigating"}
	text, err := r.Render(AnnouncementType(inc), Incident(inc))
	require.NoError(t, err)
	assert.Equal(t, "New Github Incident, ID: abc123  Name: API Outage was detected. Impact: critical", text)
}

func TestRenderer_ComponentAnnouncement(t *testing.T) {
	r := newTestRenderer(t)

	inc := &domain.IncidentRecord{ID: "generated-1", Name: "Actions", Impact: domain.ImpactUnknown, Status: "partial_outage"}
	require.Equal(t, MessageComponent, AnnouncementType(inc))

	text, err := r.Render(MessageComponent, Incident(inc))
	require.NoError(t, err)
	assert.Equal(t,
		"Incident ID: generated-1, Component Actions in Github is currently in status partial_outage with no active Github Incident. Impact: unknown",
		text)
}

func TestRenderer_MonitoringFailure(t *testing.T) {
	inc := &domain.IncidentRecord{ID: "monitoring-failure-1", Impact: domain.ImpactMonitoringFailure}
	assert.Equal(t, MessageMonitoringFailure, AnnouncementType(inc))
}

func TestRenderer_Messages(t *testing.T) {
	r := newTestRenderer(t)
	resolvedAt := time.Date(2024, 11, 23, 14, 5, 0, 0, time.UTC)

	tests := []struct {
		name string
		mt   MessageType
		data MessageData
		want string
	}{
		{
			name: "attention",
			mt:   MessageAttention,
			data: MessageData{ID: "abc123", Mention: "<@U123>"},
			want: "Incident abc123 needs attention. <@U123>",
		},
		{
			name: "update",
			mt:   MessageUpdate,
			data: MessageData{Status: "monitoring", Body: "A fix has been deployed."},
			want: "new github update (Monitoring):\nA fix has been deployed.",
		},
		{
			name: "resolved",
			mt:   MessageResolved,
			data: MessageData{ID: "abc123", Status: "resolved", ResolvedAt: &resolvedAt},
			want: "Incident abc123 resolved at Nov 23, 2024 14:05 UTC. Final status: Resolved",
		},
		{
			name: "resolved without time",
			mt:   MessageResolved,
			data: MessageData{ID: "abc123", Status: "postmortem"},
			want: "Incident abc123 resolved. Final status: Postmortem",
		},
		{
			name: "reminder",
			mt:   MessageReminder,
			data: MessageData{ID: "abc123", Status: "major_outage", Since: 90 * time.Minute},
			want: "Incident abc123 was acknowledged and is still open after 1h 30m. Current status: Major Outage",
		},
		{
			name: "escalation",
			mt:   MessageEscalation,
			data: MessageData{Tier: "devops_manager", Mention: "<@U42>"},
			want: "escalating to DEVOPS_MANAGER: <@U42>",
		},
		{
			name: "sms",
			mt:   MessageSMS,
			data: MessageData{ID: "abc123", Name: "API Outage", Tier: "director", Impact: "critical"},
			want: "Github incident abc123 (API Outage) is not acknowledged, escalated to director. Impact: critical",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Render(tt.mt, tt.data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRenderer_UnknownTemplate(t *testing.T) {
	r := newTestRenderer(t)
	_, err := r.Render("missing", MessageData{})
	assert.Error(t, err)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "45s", formatDuration(45*time.Second))
	assert.Equal(t, "15m", formatDuration(15*time.Minute))
	assert.Equal(t, "2h", formatDuration(2*time.Hour))
	assert.Equal(t, "2h 5m", formatDuration(125*time.Minute))
}
