package engine

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"trustroom/internal/apperr"
	"trustroom/internal/domain"
	"trustroom/internal/engine/access"
	"trustroom/internal/events"
	"trustroom/internal/notify"
	tel "trustroom/internal/otel"
	"trustroom/internal/repo"
)

const (
	defaultTokenTTL = 90 * 24 * time.Hour
	defaultLinkPath = "/trust-room"
)

// CaseStore is the persistence the engine needs. repo.Repo and pgstore.Store
// both satisfy it.
type CaseStore interface {
	GetCase(ctx context.Context, id string) (domain.TrustCase, error)
	GetCaseByGuestToken(ctx context.Context, token string) (domain.TrustCase, error)
	InsertCase(ctx context.Context, c domain.TrustCase) (domain.TrustCase, error)
	ConditionalUpdate(ctx context.Context, id string, pred repo.Predicate, patch repo.Patch) (int64, error)
	ListCasesByAgent(ctx context.Context, agentID string, f repo.ListFilter) ([]domain.TrustCase, error)
	ListCasesByBuyer(ctx context.Context, buyerID string, f repo.ListFilter) ([]domain.TrustCase, error)
	GetProperty(ctx context.Context, id string) (domain.Property, error)
	InsertAuditEvent(ctx context.Context, evt domain.AuditEvent) (int64, error)
	AuditEvents(ctx context.Context, caseID string, limit int) ([]domain.AuditEvent, error)
}

type Notifier interface {
	Dispatch(ctx context.Context, n notify.Notification) error
}

type Engine struct {
	Store    CaseStore
	Access   *access.Control
	Audit    events.Writer
	Notifier Notifier
	Live     *notify.Hub
	Effects  *Effects
	Tracer   trace.Tracer
	Metrics  *tel.Metrics
	Logger   *slog.Logger
	Now      func() time.Time
	TokenTTL time.Duration
	LinkPath string
}

// Options carries the optional collaborators of New. Zero values fall back
// to no-op or default implementations.
type Options struct {
	Notifier       Notifier
	Live           *notify.Hub
	Logger         *slog.Logger
	Telemetry      *tel.Provider
	Metrics        *tel.Metrics
	EffectsTimeout time.Duration
	TokenTTL       time.Duration
	LinkPath       string
	Now            func() time.Time
}

func New(store CaseStore, ctl *access.Control, opts Options) Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	provider := opts.Telemetry
	if provider == nil {
		provider = tel.Disabled()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = tel.NoopMetrics()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	e := Engine{
		Store:    store,
		Access:   ctl,
		Notifier: opts.Notifier,
		Live:     opts.Live,
		Effects:  NewEffects(logger, metrics.SideEffectFailures, opts.EffectsTimeout),
		Tracer:   provider.Tracer,
		Metrics:  metrics,
		Logger:   logger,
		Now:      now,
		TokenTTL: opts.TokenTTL,
		LinkPath: opts.LinkPath,
	}
	e.Audit = events.Writer{Store: store, Now: now}
	if e.TokenTTL <= 0 {
		e.TokenTTL = defaultTokenTTL
	}
	if e.LinkPath == "" {
		e.LinkPath = defaultLinkPath
	}
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

// observe opens a span for op and returns the func that closes it with the
// outcome of the operation.
func (e Engine) observe(ctx context.Context, op, caseID string) (context.Context, func(*error)) {
	ctx, span := tel.StartSpan(ctx, e.Tracer, "trust."+op, tel.AttrCaseID.String(caseID))
	start := time.Now()
	return ctx, func(errp *error) {
		outcome := "ok"
		if err := *errp; err != nil {
			kind := apperr.KindOf(err)
			outcome = kind.String()
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
			switch kind {
			case apperr.KindInternal:
				e.Logger.Error("trust operation failed", "op", op, "case_id", caseID, "error", err)
			case apperr.KindConflict:
				e.Logger.Warn("concurrent update conflict", "op", op, "case_id", caseID)
			case apperr.KindUnauthorized, apperr.KindForbidden:
				e.Metrics.GuardRejections.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op), attribute.String("kind", outcome)))
			}
		}
		span.SetAttributes(tel.AttrOutcome.String(outcome))
		e.Metrics.OperationDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.String("op", op), attribute.String("outcome", outcome)))
		span.End()
	}
}

// authorize authenticates creds, loads the case and checks that the caller
// may perform action on it. Anonymous callers, and guests asking for an
// action only an identified caller may take, are turned away before the
// store is consulted.
func (e Engine) authorize(ctx context.Context, creds access.Credentials, caseID string, action access.Action) (domain.TrustCase, access.Principal, access.Role, error) {
	p, err := e.Access.Authenticate(ctx, creds)
	if err != nil {
		return domain.TrustCase{}, access.Principal{}, "", err
	}
	switch {
	case p.Kind == access.PrincipalAnonymous:
		return domain.TrustCase{}, p, "", apperr.New(apperr.KindUnauthorized, apperr.MsgTokenInvalid)
	case p.Kind == access.PrincipalGuest && !access.Allowed(access.RoleGuest, action):
		return domain.TrustCase{}, p, "", apperr.New(apperr.KindUnauthorized, apperr.MsgUnauthorized)
	}
	tc, err := e.Store.GetCase(ctx, caseID)
	if err != nil {
		return domain.TrustCase{}, p, "", storeErr(err)
	}
	role, err := e.Access.Authorize(p, tc, action)
	if err != nil {
		return tc, p, "", err
	}
	return tc, p, role, nil
}

// record schedules the audit append for a committed change.
func (e Engine) record(ctx context.Context, caseID string, p access.Principal, role access.Role, action string, payload events.EventPayload) {
	actor := access.ActorKind(role)
	ref := p.Reference()
	e.Effects.Go(ctx, caseID, "audit:"+action, func(ctx context.Context) error {
		return e.Audit.Append(ctx, caseID, actor, action, ref, p.IP, p.UserAgent, payload)
	})
}

// publish hands a committed change to live viewers of the case.
func (e Engine) publish(tc domain.TrustCase, action string) {
	if e.Live == nil {
		return
	}
	e.Live.Publish(notify.CaseChange{
		CaseID:      tc.ID,
		Version:     tc.Version,
		Status:      tc.Status,
		CurrentStep: tc.CurrentStep,
		Action:      action,
		At:          tc.UpdatedAt,
	})
}
