package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bissquit/incident-escalator/internal/domain"
	"github.com/bissquit/incident-escalator/internal/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFeed struct {
	summary string
	err     error
	calls   int
}

func (f *fakeFeed) Summary(_ context.Context) (json.RawMessage, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage(f.summary), nil
}

// failingRepo fails CreateIncident for one id.
type failingRepo struct {
	*memory.Repository
	failID string
}

func (r *failingRepo) CreateIncident(ctx context.Context, inc *domain.IncidentRecord, esc *domain.EscalationRecord) (bool, error) {
	if inc.ID == r.failID {
		return false, errors.New("connection reset")
	}
	return r.Repository.CreateIncident(ctx, inc, esc)
}

func newTestService(repo *memory.Repository, feed *fakeFeed) *Service {
	svc := NewService(DefaultConfig(), repo, feed)
	svc.now = func() time.Time { return testNow }
	return svc
}

func TestService_RunCycle_CreatesPairs(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()
	svc := newTestService(repo, &fakeFeed{summary: summaryWithIncident})

	svc.RunCycle(ctx)

	inc, err := repo.GetIncident(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, "API Outage", inc.Name)

	esc, err := repo.GetEscalation(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, domain.EscalationPending, esc.EscalationStatus)
	assert.Equal(t, domain.IncidentStatusNew, esc.IncidentStatus)
	assert.Equal(t, domain.InitialEscalationDetails, esc.EscalationDetails)
	assert.Equal(t, testNow, esc.LastIncidentUpdateTime)
	assert.Empty(t, esc.ThreadID)
	assert.Equal(t, testNow, svc.LastSuccess())
}

func TestService_RunCycle_Idempotent(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()
	summary := `{
		"incidents": [{"id": "abc123", "name": "API Outage", "status": "investigating", "impact": "critical",
			"created_at": "2024-11-23T12:00:00Z", "updated_at": "2024-11-23T12:00:00Z"}],
		"components": [{"id": "c9", "name": "Actions", "status": "major_outage", "group_id": null,
			"updated_at": "2024-11-23T12:00:00Z"}]
	}`
	svc := newTestService(repo, &fakeFeed{summary: summary})

	svc.RunCycle(ctx)
	incidents, escalations := repo.Count()
	assert.Equal(t, 2, incidents)
	assert.Equal(t, 2, escalations)

	svc.RunCycle(ctx)
	incidents, escalations = repo.Count()
	assert.Equal(t, 2, incidents)
	assert.Equal(t, 2, escalations)
}

func TestService_RunCycle_DoesNotOverwriteExisting(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()
	feed := &fakeFeed{summary: summaryWithIncident}
	svc := newTestService(repo, feed)

	svc.RunCycle(ctx)

	feed.summary = strings.Replace(summaryWithIncident, `"investigating"`, `"identified"`, 1)
	svc.RunCycle(ctx)

	inc, err := repo.GetIncident(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, "investigating", inc.Status)
}

func TestService_RunCycle_MonitoringFailure(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()
	feed := &fakeFeed{err: errors.New("connection refused")}
	svc := newTestService(repo, feed)

	svc.RunCycle(ctx)
	svc.RunCycle(ctx)
	incidents, _ := repo.Count()
	assert.Equal(t, 0, incidents, "no monitoring failure before max retries")

	svc.RunCycle(ctx)
	incidents, escalations := repo.Count()
	assert.Equal(t, 1, incidents)
	assert.Equal(t, 1, escalations)
	assert.Equal(t, 0, svc.consecutiveFailures)

	open, err := repo.ListOpenEscalations(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.True(t, strings.HasPrefix(open[0].IncidentID, domain.MonitoringFailureIDPrefix))

	inc, err := repo.GetIncident(ctx, open[0].IncidentID)
	require.NoError(t, err)
	assert.Equal(t, domain.ImpactMonitoringFailure, inc.Impact)
	assert.Equal(t, domain.MonitoringFailureStatus, inc.Status)
	assert.Empty(t, inc.AffectedComponents)
	assert.True(t, svc.LastSuccess().IsZero())

	// counter restarts after the synthetic incident
	svc.RunCycle(ctx)
	svc.RunCycle(ctx)
	incidents, _ = repo.Count()
	assert.Equal(t, 1, incidents)
}

func TestService_RunCycle_SuccessResetsFailures(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()
	feed := &fakeFeed{err: errors.New("timeout")}
	svc := newTestService(repo, feed)

	svc.RunCycle(ctx)
	svc.RunCycle(ctx)
	assert.Equal(t, 2, svc.consecutiveFailures)

	feed.err = nil
	feed.summary = `{"incidents": [], "components": []}`
	svc.RunCycle(ctx)
	assert.Equal(t, 0, svc.consecutiveFailures)

	feed.err = errors.New("timeout")
	svc.RunCycle(ctx)
	incidents, _ := repo.Count()
	assert.Equal(t, 0, incidents)
}

func TestService_RunCycle_MalformedSummary(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()
	svc := newTestService(repo, &fakeFeed{summary: `{"incidents": "nope"}`})

	svc.RunCycle(ctx)

	incidents, _ := repo.Count()
	assert.Equal(t, 0, incidents)
	assert.Equal(t, 0, svc.consecutiveFailures)
}

func TestService_RunCycle_WriteFailureContinues(t *testing.T) {
	ctx := context.Background()
	mem := memory.NewRepository()
	repo := &failingRepo{Repository: mem, failID: "i1"}
	summary := `{"incidents": [
		{"id": "i1", "name": "One", "status": "investigating", "impact": "minor", "created_at": "2024-11-23T12:00:00Z", "updated_at": "2024-11-23T12:00:00Z"},
		{"id": "i2", "name": "Two", "status": "investigating", "impact": "minor", "created_at": "2024-11-23T12:00:00Z", "updated_at": "2024-11-23T12:00:00Z"}
	]}`
	svc := NewService(DefaultConfig(), repo, &fakeFeed{summary: summary})

	svc.RunCycle(ctx)

	_, err := mem.GetIncident(ctx, "i2")
	assert.NoError(t, err)
	incidents, _ := mem.Count()
	assert.Equal(t, 1, incidents)
}

func TestService_RunCycle_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	repo := memory.NewRepository()
	svc := newTestService(repo, &fakeFeed{summary: summaryWithIncident})

	svc.RunCycle(ctx)

	incidents, _ := repo.Count()
	assert.Equal(t, 0, incidents)
}
