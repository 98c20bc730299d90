//go:build integration

package postgres

import (
	"context"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/bissquit/incident-escalator/internal/domain"
	pgutil "github.com/bissquit/incident-escalator/internal/pkg/postgres"
	"github.com/bissquit/incident-escalator/internal/store"
	"github.com/bissquit/incident-escalator/internal/testutil"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDB *pgxpool.Pool

func TestMain(m *testing.M) {
	ctx := context.Background()

	pgContainer, err := testutil.NewPostgresContainer(ctx)
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}

	if err := pgutil.Migrate(pgContainer.ConnectionString); err != nil {
		log.Fatalf("run migrations: %v", err)
	}

	testDB, err = pgutil.Connect(ctx, pgutil.Config{
		URL:             pgContainer.ConnectionString,
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: 5 * time.Minute,
		ConnectAttempts: 3,
	})
	if err != nil {
		log.Fatalf("connect: %v", err)
	}

	code := m.Run()

	testDB.Close()
	if err := pgContainer.Terminate(ctx); err != nil {
		log.Printf("terminate postgres: %v", err)
	}
	os.Exit(code)
}

func newRepo() *Repository {
	return NewRepository(testDB, store.ResolveTables(true, "", ""))
}

func newPair(t *testing.T) (*domain.IncidentRecord, *domain.EscalationRecord) {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	id := uuid.NewString()
	return &domain.IncidentRecord{
		ID:                 id,
		Name:               "Webhooks Latency",
		Impact:             domain.ImpactHigh,
		Status:             "monitoring",
		CreatedAt:          now,
		UpdatedAt:          now,
		AffectedComponents: []string{"Webhooks", "Actions"},
	}, domain.NewEscalationRecord(id, now)
}

func TestRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	repo := newRepo()
	inc, esc := newPair(t)

	created, err := repo.CreateIncident(ctx, inc, esc)
	require.NoError(t, err)
	assert.True(t, created)

	got, err := repo.GetIncident(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, inc.Name, got.Name)
	assert.Equal(t, domain.ImpactHigh, got.Impact)
	assert.Equal(t, []string{"Webhooks", "Actions"}, got.AffectedComponents)
	assert.Nil(t, got.ResolvedAt)
	assert.Empty(t, got.LastUpdateID)

	gotEsc, err := repo.GetEscalation(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EscalationPending, gotEsc.EscalationStatus)
	assert.Equal(t, domain.IncidentStatusNew, gotEsc.IncidentStatus)
	assert.Equal(t, domain.InitialEscalationDetails, gotEsc.EscalationDetails)
	assert.Nil(t, gotEsc.AcknowledgmentTime)
	assert.Empty(t, gotEsc.ThreadID)
}

func TestRepository_CreateIncident_ConcurrentCreatesOnce(t *testing.T) {
	ctx := context.Background()
	repo := newRepo()
	inc, esc := newPair(t)

	var wg sync.WaitGroup
	var mu sync.Mutex
	createdCount := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			created, err := repo.CreateIncident(ctx, inc, esc)
			assert.NoError(t, err)
			if created {
				mu.Lock()
				createdCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, createdCount)
}

func TestRepository_GetIncident_NotFound(t *testing.T) {
	_, err := newRepo().GetIncident(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRepository_UpdateIncident(t *testing.T) {
	ctx := context.Background()
	repo := newRepo()
	inc, esc := newPair(t)
	_, err := repo.CreateIncident(ctx, inc, esc)
	require.NoError(t, err)

	status := "resolved"
	updateID := "upd-2"
	resolvedAt := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, repo.UpdateIncident(ctx, inc.ID, store.IncidentUpdate{
		Status:       &status,
		LastUpdateID: &updateID,
		ResolvedAt:   &resolvedAt,
	}))

	later := resolvedAt.Add(time.Hour)
	require.NoError(t, repo.UpdateIncident(ctx, inc.ID, store.IncidentUpdate{ResolvedAt: &later}))

	got, err := repo.GetIncident(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, "resolved", got.Status)
	assert.Equal(t, "upd-2", got.LastUpdateID)
	require.NotNil(t, got.ResolvedAt)
	assert.True(t, resolvedAt.Equal(*got.ResolvedAt))
}

func TestRepository_UpdateEscalation_Conditional(t *testing.T) {
	ctx := context.Background()
	repo := newRepo()
	inc, esc := newPair(t)
	_, err := repo.CreateIncident(ctx, inc, esc)
	require.NoError(t, err)

	from := domain.EscalationPending
	to := domain.EscalationDevOps
	now := time.Now().UTC()
	update := store.EscalationUpdate{
		ExpectEscalationStatus:   &from,
		EscalationStatus:         &to,
		LastEscalationUpdateTime: &now,
	}

	require.NoError(t, repo.UpdateEscalation(ctx, inc.ID, update))
	assert.ErrorIs(t, repo.UpdateEscalation(ctx, inc.ID, update), store.ErrConflict)
	assert.ErrorIs(t, repo.UpdateEscalation(ctx, "missing", update), store.ErrNotFound)

	got, err := repo.GetEscalation(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EscalationDevOps, got.EscalationStatus)
}

func TestRepository_ListOpenEscalations(t *testing.T) {
	ctx := context.Background()
	repo := newRepo()

	openInc, openEsc := newPair(t)
	closedInc, closedEsc := newPair(t)
	for _, p := range []struct {
		inc *domain.IncidentRecord
		esc *domain.EscalationRecord
	}{{openInc, openEsc}, {closedInc, closedEsc}} {
		_, err := repo.CreateIncident(ctx, p.inc, p.esc)
		require.NoError(t, err)
	}

	resolved := domain.EscalationResolved
	require.NoError(t, repo.UpdateEscalation(ctx, closedInc.ID, store.EscalationUpdate{EscalationStatus: &resolved}))

	open, err := repo.ListOpenEscalations(ctx)
	require.NoError(t, err)

	ids := make([]string, 0, len(open))
	for _, e := range open {
		ids = append(ids, e.IncidentID)
	}
	assert.Contains(t, ids, openInc.ID)
	assert.NotContains(t, ids, closedInc.ID)
}

func TestRepository_Ping(t *testing.T) {
	require.NoError(t, newRepo().Ping(context.Background()))

	broken := NewRepository(testDB, store.Tables{Incidents: "missing_table", Escalations: "missing_table"})
	assert.Error(t, broken.Ping(context.Background()))
}
