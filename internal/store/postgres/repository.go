// Package postgres provides PostgreSQL implementation of store.Repository.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bissquit/incident-escalator/internal/domain"
	"github.com/bissquit/incident-escalator/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository implements store.Repository using PostgreSQL.
type Repository struct {
	db          *pgxpool.Pool
	incidents   string
	escalations string
}

// NewRepository creates a new PostgreSQL repository over the given tables.
func NewRepository(db *pgxpool.Pool, tables store.Tables) *Repository {
	return &Repository{
		db:          db,
		incidents:   pgx.Identifier{tables.Incidents}.Sanitize(),
		escalations: pgx.Identifier{tables.Escalations}.Sanitize(),
	}
}

const incidentColumns = `incident_id, name, impact, status, created_at, updated_at, resolved_at, affected_components, last_update_id`

const escalationColumns = `incident_id, escalation_status, incident_status, last_escalation_update_time,
	last_incident_update_time, acknowledgment_time, notification_thread_id, escalation_details, created_at`

// GetIncident retrieves an incident by id.
func (r *Repository) GetIncident(ctx context.Context, id string) (*domain.IncidentRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE incident_id = $1`, incidentColumns, r.incidents)

	inc, err := scanIncident(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get incident: %w", err)
	}
	return inc, nil
}

// GetEscalation retrieves an escalation record by incident id.
func (r *Repository) GetEscalation(ctx context.Context, id string) (*domain.EscalationRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE incident_id = $1`, escalationColumns, r.escalations)

	esc, err := scanEscalation(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get escalation: %w", err)
	}
	return esc, nil
}

// CreateIncident inserts the incident and its escalation record in one transaction.
// The incident insert is conditional on the primary key, so concurrent ingestion
// cycles cannot both create the pair.
func (r *Repository) CreateIncident(ctx context.Context, incident *domain.IncidentRecord, escalation *domain.EscalationRecord) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			slog.Error("failed to rollback transaction", "error", err)
		}
	}()

	components := incident.AffectedComponents
	if components == nil {
		components = []string{}
	}

	insertIncident := fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (incident_id) DO NOTHING
	`, r.incidents, incidentColumns)

	result, err := tx.Exec(ctx, insertIncident,
		incident.ID,
		incident.Name,
		string(incident.Impact),
		incident.Status,
		incident.CreatedAt,
		incident.UpdatedAt,
		incident.ResolvedAt,
		components,
		incident.LastUpdateID,
	)
	if err != nil {
		return false, fmt.Errorf("insert incident: %w", err)
	}
	if result.RowsAffected() == 0 {
		return false, nil
	}

	insertEscalation := fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, r.escalations, escalationColumns)

	if _, err := tx.Exec(ctx, insertEscalation,
		escalation.IncidentID,
		string(escalation.EscalationStatus),
		string(escalation.IncidentStatus),
		escalation.LastEscalationUpdateTime,
		escalation.LastIncidentUpdateTime,
		escalation.AcknowledgmentTime,
		escalation.ThreadID,
		escalation.EscalationDetails,
		escalation.CreatedAt,
	); err != nil {
		return false, fmt.Errorf("insert escalation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit transaction: %w", err)
	}

	return true, nil
}

// UpdateIncident applies field-level changes to an incident.
func (r *Repository) UpdateIncident(ctx context.Context, id string, update store.IncidentUpdate) error {
	if update.IsEmpty() {
		return nil
	}

	b := newUpdateBuilder(id)
	if update.Status != nil {
		b.set("status", *update.Status)
	}
	if update.LastUpdateID != nil {
		b.set("last_update_id", *update.LastUpdateID)
	}
	if update.ResolvedAt != nil {
		b.setExpr("resolved_at = COALESCE(resolved_at, %s)", *update.ResolvedAt)
	}
	if update.UpdatedAt != nil {
		b.set("updated_at", *update.UpdatedAt)
	}

	query, args := b.build(r.incidents)
	result, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update incident: %w", err)
	}
	if result.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// UpdateEscalation applies field-level changes guarded by the update's preconditions.
func (r *Repository) UpdateEscalation(ctx context.Context, id string, update store.EscalationUpdate) error {
	if update.IsEmpty() {
		return nil
	}

	b := newUpdateBuilder(id)
	if update.IncidentStatus != nil {
		b.set("incident_status", string(*update.IncidentStatus))
	}
	if update.EscalationStatus != nil {
		b.set("escalation_status", string(*update.EscalationStatus))
	}
	if update.LastEscalationUpdateTime != nil {
		b.set("last_escalation_update_time", *update.LastEscalationUpdateTime)
	}
	if update.LastIncidentUpdateTime != nil {
		b.set("last_incident_update_time", *update.LastIncidentUpdateTime)
	}
	if update.AcknowledgmentTime != nil {
		b.set("acknowledgment_time", *update.AcknowledgmentTime)
	}
	if update.ThreadID != nil {
		b.set("notification_thread_id", *update.ThreadID)
	}
	if update.EscalationDetails != nil {
		b.set("escalation_details", *update.EscalationDetails)
	}
	if update.ExpectIncidentStatus != nil {
		b.where("incident_status", string(*update.ExpectIncidentStatus))
	}
	if update.ExpectEscalationStatus != nil {
		b.where("escalation_status", string(*update.ExpectEscalationStatus))
	}

	query, args := b.build(r.escalations)
	result, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update escalation: %w", err)
	}
	if result.RowsAffected() > 0 {
		return nil
	}

	exists, err := r.escalationExists(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		return store.ErrNotFound
	}
	return store.ErrConflict
}

// ListOpenEscalations returns escalation records that are not resolved.
func (r *Repository) ListOpenEscalations(ctx context.Context) ([]*domain.EscalationRecord, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE escalation_status <> $1
		ORDER BY created_at, incident_id
	`, escalationColumns, r.escalations)

	rows, err := r.db.Query(ctx, query, string(domain.EscalationResolved))
	if err != nil {
		return nil, fmt.Errorf("list open escalations: %w", err)
	}
	defer rows.Close()

	result := make([]*domain.EscalationRecord, 0)
	for rows.Next() {
		esc, err := scanEscalation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan escalation: %w", err)
		}
		result = append(result, esc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate escalations: %w", err)
	}

	return result, nil
}

// Ping checks that the database is reachable and both tables exist.
func (r *Repository) Ping(ctx context.Context) error {
	for _, table := range []string{r.incidents, r.escalations} {
		if _, err := r.db.Exec(ctx, fmt.Sprintf(`SELECT 1 FROM %s LIMIT 1`, table)); err != nil {
			return fmt.Errorf("check table %s: %w", table, err)
		}
	}
	return nil
}

func (r *Repository) escalationExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	query := fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE incident_id = $1)`, r.escalations)
	if err := r.db.QueryRow(ctx, query, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("check escalation exists: %w", err)
	}
	return exists, nil
}

func scanIncident(row pgx.Row) (*domain.IncidentRecord, error) {
	var inc domain.IncidentRecord
	var impact string
	err := row.Scan(
		&inc.ID,
		&inc.Name,
		&impact,
		&inc.Status,
		&inc.CreatedAt,
		&inc.UpdatedAt,
		&inc.ResolvedAt,
		&inc.AffectedComponents,
		&inc.LastUpdateID,
	)
	if err != nil {
		return nil, err
	}
	inc.Impact = domain.Impact(impact)
	return &inc, nil
}

func scanEscalation(row pgx.Row) (*domain.EscalationRecord, error) {
	var esc domain.EscalationRecord
	var escalationStatus, incidentStatus string
	err := row.Scan(
		&esc.IncidentID,
		&escalationStatus,
		&incidentStatus,
		&esc.LastEscalationUpdateTime,
		&esc.LastIncidentUpdateTime,
		&esc.AcknowledgmentTime,
		&esc.ThreadID,
		&esc.EscalationDetails,
		&esc.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	esc.EscalationStatus = domain.EscalationStatus(escalationStatus)
	esc.IncidentStatus = domain.IncidentStatus(incidentStatus)
	return &esc, nil
}

// updateBuilder assembles an UPDATE ... WHERE incident_id = $1 statement.
type updateBuilder struct {
	sets       []string
	conditions []string
	args       []any
}

func newUpdateBuilder(id string) *updateBuilder {
	return &updateBuilder{
		conditions: []string{"incident_id = $1"},
		args:       []any{id},
	}
}

func (b *updateBuilder) placeholder(v any) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

func (b *updateBuilder) set(column string, v any) {
	b.sets = append(b.sets, fmt.Sprintf("%s = %s", column, b.placeholder(v)))
}

func (b *updateBuilder) setExpr(format string, v any) {
	b.sets = append(b.sets, fmt.Sprintf(format, b.placeholder(v)))
}

func (b *updateBuilder) where(column string, v any) {
	b.conditions = append(b.conditions, fmt.Sprintf("%s = %s", column, b.placeholder(v)))
}

func (b *updateBuilder) build(table string) (string, []any) {
	query := fmt.Sprintf(`UPDATE %s SET %s WHERE %s`,
		table,
		strings.Join(b.sets, ", "),
		strings.Join(b.conditions, " AND "),
	)
	return query, b.args
}
