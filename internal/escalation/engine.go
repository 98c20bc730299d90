package escalation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bissquit/incident-escalator/internal/domain"
	"github.com/bissquit/incident-escalator/internal/notifications"
	"github.com/bissquit/incident-escalator/internal/pkg/ctxlog"
	"github.com/bissquit/incident-escalator/internal/store"
)

// Dispatcher delivers chat and SMS notifications.
type Dispatcher interface {
	StartThread(ctx context.Context, subject string) (string, error)
	Reply(ctx context.Context, thread, text string) error
	HasAcknowledgment(ctx context.Context, thread string) (bool, error)
	NotifyTier(ctx context.Context, tier domain.Tier, thread, smsText string) error
	Mention(ctx context.Context, displayName string) string
}

// UpdateFetcher returns the latest external update of an incident, or nil if none.
type UpdateFetcher interface {
	LatestUpdate(ctx context.Context, incidentID string) (*domain.IncidentUpdate, error)
}

// Config contains escalation engine configuration.
type Config struct {
	Tiers            []domain.Tier
	ReminderInterval time.Duration
	// OnCall is the display name mentioned when an incident is first announced.
	OnCall string
}

// Engine evaluates open escalation records once per cycle.
// Only one Engine is expected to run against a store; conditional updates
// keep status fields monotonic if that is violated.
type Engine struct {
	config     Config
	policy     Policy
	repo       store.Repository
	feed       UpdateFetcher
	dispatcher Dispatcher
	renderer   *notifications.Renderer
	now        func() time.Time
}

// NewEngine creates a new escalation engine.
func NewEngine(
	config Config,
	repo store.Repository,
	feed UpdateFetcher,
	dispatcher Dispatcher,
	renderer *notifications.Renderer,
) *Engine {
	return &Engine{
		config: config,
		policy: Policy{
			Tiers:            config.Tiers,
			ReminderInterval: config.ReminderInterval,
		},
		repo:       repo,
		feed:       feed,
		dispatcher: dispatcher,
		renderer:   renderer,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// RunCycle scans open escalation records and advances each one.
// Errors are logged per record; the cycle never aborts early except on shutdown.
// Shutdown is observed between records only: a record in progress finishes its
// store writes and chat calls, so a persisted announcement is always posted.
func (e *Engine) RunCycle(ctx context.Context) {
	ctx, logger := ctxlog.With(ctx, "component", "escalation")
	start := time.Now()
	defer func() { recordCycleDuration(time.Since(start)) }()

	records, err := e.repo.ListOpenEscalations(ctx)
	if err != nil {
		logger.Error("failed to list open escalations", "error", err)
		recordCycle("store_error")
		return
	}
	setOpenEscalations(len(records))

	for i, rec := range records {
		if ctx.Err() != nil {
			logger.Info("escalation cycle interrupted by shutdown", "processed", i)
			return
		}
		recCtx, recLogger := ctxlog.With(context.WithoutCancel(ctx), "incident_id", rec.IncidentID)
		e.process(recCtx, recLogger, rec)
	}

	logger.Debug("escalation cycle finished", "open", len(records))
	recordCycle("ok")
}

func (e *Engine) process(ctx context.Context, logger *slog.Logger, rec *domain.EscalationRecord) {
	inc, err := e.repo.GetIncident(ctx, rec.IncidentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			logger.Warn("incident record missing, skipping escalation")
		} else {
			logger.Error("failed to load incident", "error", err)
		}
		return
	}

	if !inc.IsSynthetic() && !inc.IsResolved() {
		e.propagate(ctx, logger, inc, rec)
	}

	state := StateOf(rec)
	obs := Observation{
		Now:      e.now(),
		Resolved: inc.IsResolved(),
	}

	if state.HasThread && state.IncidentStatus == domain.IncidentStatusPublished && !obs.Resolved {
		acked, err := e.dispatcher.HasAcknowledgment(ctx, rec.ThreadID)
		if err != nil {
			logger.Warn("failed to check acknowledgment", "error", err)
		}
		obs.Acknowledged = acked
	}

	for _, step := range Plan(state, obs, e.policy) {
		if !e.execute(ctx, logger, step, inc, rec, obs.Now) {
			return
		}
		recordTransition(step.Action)
	}
}

// propagate applies the latest external update to inc and posts it into the thread.
func (e *Engine) propagate(ctx context.Context, logger *slog.Logger, inc *domain.IncidentRecord, rec *domain.EscalationRecord) {
	upd, err := e.feed.LatestUpdate(ctx, inc.ID)
	if err != nil {
		logger.Warn("failed to fetch latest update", "error", err)
		return
	}
	if upd == nil || upd.ID == "" || upd.ID == inc.LastUpdateID {
		return
	}

	change := store.IncidentUpdate{LastUpdateID: &upd.ID}
	if !upd.CreatedAt.IsZero() {
		change.UpdatedAt = &upd.CreatedAt
	}
	if upd.Status != "" && upd.Status != inc.Status {
		change.Status = &upd.Status
		if domain.IsResolvingStatus(upd.Status) {
			resolvedAt := upd.CreatedAt
			if resolvedAt.IsZero() {
				resolvedAt = e.now()
			}
			change.ResolvedAt = &resolvedAt
		}
	}

	if err := e.repo.UpdateIncident(ctx, inc.ID, change); err != nil {
		logger.Error("failed to persist incident update", "update_id", upd.ID, "error", err)
		return
	}
	change.Apply(inc)

	logger.Info("incident update recorded",
		"update_id", upd.ID,
		"status", inc.Status,
		"status_changed", change.Status != nil,
	)

	if rec.ThreadID == "" {
		return
	}
	text, err := e.renderer.Render(notifications.MessageUpdate, notifications.MessageData{
		Status: upd.Status,
		Body:   upd.Body,
	})
	if err == nil {
		err = e.dispatcher.Reply(ctx, rec.ThreadID, text)
	}
	if err != nil {
		logger.Error("failed to post update to thread", "update_id", upd.ID, "error", err)
		recordDispatchFailure("update")
	}
}

// execute performs one planned step. It returns false when the remaining
// steps must not run, which happens when the persisted state changed underneath.
func (e *Engine) execute(
	ctx context.Context,
	logger *slog.Logger,
	step Step,
	inc *domain.IncidentRecord,
	rec *domain.EscalationRecord,
	now time.Time,
) bool {
	var err error
	switch step.Action {
	case ActionResolve:
		err = e.resolve(ctx, logger, step, inc, rec, now)
	case ActionAnnounce:
		err = e.announce(ctx, logger, step, inc, rec, now)
	case ActionAcknowledge:
		err = e.acknowledge(ctx, logger, step, rec, now)
	case ActionRemind:
		err = e.remind(ctx, logger, inc, rec, now)
	case ActionEscalate:
		err = e.escalate(ctx, logger, step, inc, rec, now)
	default:
		err = fmt.Errorf("unknown action %d", step.Action)
	}

	switch {
	case err == nil:
		return true
	case errors.Is(err, store.ErrConflict):
		logger.Info("escalation record changed concurrently, skipping", "action", step.Action.String())
	default:
		logger.Error("failed to persist transition", "action", step.Action.String(), "error", err)
	}
	return false
}

func (e *Engine) resolve(ctx context.Context, logger *slog.Logger, step Step, inc *domain.IncidentRecord, rec *domain.EscalationRecord, now time.Time) error {
	details := fmt.Sprintf("Incident resolved with status %s.", inc.Status)
	err := e.repo.UpdateEscalation(ctx, rec.IncidentID, store.EscalationUpdate{
		ExpectEscalationStatus:   &step.FromEscalation,
		EscalationStatus:         &step.ToEscalation,
		IncidentStatus:           &step.ToIncident,
		LastEscalationUpdateTime: &now,
		EscalationDetails:        &details,
	})
	if err != nil {
		return err
	}
	logger.Info("incident resolved", "status", inc.Status)

	if rec.ThreadID != "" {
		e.reply(ctx, logger, "resolve", rec.ThreadID, notifications.MessageResolved, notifications.Incident(inc))
	}
	return nil
}

// announce persists the published state before posting, so a crash between the
// two loses the announcement instead of repeating it.
func (e *Engine) announce(ctx context.Context, logger *slog.Logger, step Step, inc *domain.IncidentRecord, rec *domain.EscalationRecord, now time.Time) error {
	details := "Incident announced to chat."
	err := e.repo.UpdateEscalation(ctx, rec.IncidentID, store.EscalationUpdate{
		ExpectIncidentStatus:   &step.FromIncident,
		IncidentStatus:         &step.ToIncident,
		LastIncidentUpdateTime: &now,
		EscalationDetails:      &details,
	})
	if err != nil {
		return err
	}
	rec.IncidentStatus = step.ToIncident
	rec.LastIncidentUpdateTime = now

	subject, err := e.renderer.Render(notifications.AnnouncementType(inc), notifications.Incident(inc))
	if err != nil {
		logger.Error("failed to render announcement", "error", err)
		recordDispatchFailure("announce")
		return nil
	}

	thread, err := e.dispatcher.StartThread(ctx, subject)
	if err != nil {
		logger.Error("failed to announce incident", "error", err)
		recordDispatchFailure("announce")
		return nil
	}

	if err := e.repo.UpdateEscalation(ctx, rec.IncidentID, store.EscalationUpdate{ThreadID: &thread}); err != nil {
		logger.Error("failed to record notification thread", "thread", thread, "error", err)
	}
	rec.ThreadID = thread
	logger.Info("incident announced", "thread", thread, "impact", inc.Impact)

	data := notifications.Incident(inc)
	data.Mention = e.dispatcher.Mention(ctx, e.config.OnCall)
	e.reply(ctx, logger, "announce", thread, notifications.MessageAttention, data)
	return nil
}

func (e *Engine) acknowledge(ctx context.Context, logger *slog.Logger, step Step, rec *domain.EscalationRecord, now time.Time) error {
	details := "Incident acknowledged in chat."
	err := e.repo.UpdateEscalation(ctx, rec.IncidentID, store.EscalationUpdate{
		ExpectIncidentStatus:   &step.FromIncident,
		IncidentStatus:         &step.ToIncident,
		AcknowledgmentTime:     &now,
		LastIncidentUpdateTime: &now,
		EscalationDetails:      &details,
	})
	if err != nil {
		return err
	}
	logger.Info("incident acknowledged", "escalation_status", rec.EscalationStatus)
	return nil
}

func (e *Engine) remind(ctx context.Context, logger *slog.Logger, inc *domain.IncidentRecord, rec *domain.EscalationRecord, now time.Time) error {
	expect := domain.IncidentStatusAcknowledged
	err := e.repo.UpdateEscalation(ctx, rec.IncidentID, store.EscalationUpdate{
		ExpectIncidentStatus:   &expect,
		LastIncidentUpdateTime: &now,
	})
	if err != nil {
		return err
	}
	if rec.ThreadID == "" {
		return nil
	}

	data := notifications.Incident(inc)
	if rec.AcknowledgmentTime != nil {
		data.Since = now.Sub(*rec.AcknowledgmentTime)
	}
	e.reply(ctx, logger, "remind", rec.ThreadID, notifications.MessageReminder, data)
	return nil
}

func (e *Engine) escalate(ctx context.Context, logger *slog.Logger, step Step, inc *domain.IncidentRecord, rec *domain.EscalationRecord, now time.Time) error {
	tier := e.policy.Tiers[step.Tier]
	details := fmt.Sprintf("Escalated to %s.", tier.Name)
	err := e.repo.UpdateEscalation(ctx, rec.IncidentID, store.EscalationUpdate{
		ExpectEscalationStatus:   &step.FromEscalation,
		EscalationStatus:         &step.ToEscalation,
		LastEscalationUpdateTime: &now,
		EscalationDetails:        &details,
	})
	if err != nil {
		return err
	}
	logger.Info("incident escalated",
		"from", step.FromEscalation,
		"to", step.ToEscalation,
		"tier", tier.Name,
	)

	data := notifications.Incident(inc)
	data.Tier = tier.Name
	smsText, err := e.renderer.Render(notifications.MessageSMS, data)
	if err != nil {
		logger.Error("failed to render tier notification", "error", err)
		recordDispatchFailure("escalate")
		return nil
	}
	if err := e.dispatcher.NotifyTier(ctx, tier, rec.ThreadID, smsText); err != nil {
		logger.Error("failed to notify tier", "tier", tier.Name, "error", err)
		recordDispatchFailure("escalate")
	}
	return nil
}

func (e *Engine) reply(ctx context.Context, logger *slog.Logger, action, thread string, mt notifications.MessageType, data notifications.MessageData) {
	text, err := e.renderer.Render(mt, data)
	if err == nil {
		err = e.dispatcher.Reply(ctx, thread, text)
	}
	if err != nil {
		logger.Error("failed to post reply", "message", mt, "error", err)
		recordDispatchFailure(action)
	}
}
