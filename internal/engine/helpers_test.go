package engine_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"trustroom/internal/apperr"
	"trustroom/internal/db"
	"trustroom/internal/domain"
	"trustroom/internal/engine"
	"trustroom/internal/engine/access"
	"trustroom/internal/identity"
	"trustroom/internal/migrate"
	"trustroom/internal/notify"
	"trustroom/internal/repo"
	"trustroom/internal/timeline"
)

const systemKey = "sys-secret"

var fixedNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

var seedSeq atomic.Int64

type stubVerifier struct {
	ids   map[string]identity.Identity
	calls atomic.Int32
}

func (v *stubVerifier) Verify(_ context.Context, token string) (identity.Identity, error) {
	v.calls.Add(1)
	id, ok := v.ids[token]
	if !ok {
		return identity.Identity{}, identity.ErrInvalidToken
	}
	return id, nil
}

type recordingNotifier struct {
	mu  sync.Mutex
	got []notify.Notification
	err error
}

func (r *recordingNotifier) Dispatch(_ context.Context, n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
	return r.err
}

func (r *recordingNotifier) all() []notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Notification(nil), r.got...)
}

type testEnv struct {
	Engine   engine.Engine
	Repo     repo.Repo
	Verifier *stubVerifier
	Notifier *recordingNotifier
	Ctx      context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.Repo{DB: conn}
	v := &stubVerifier{ids: map[string]identity.Identity{
		"tok-agent":       {ID: "agent-a", Role: "agent"},
		"tok-buyer":       {ID: "buyer-b", Role: "buyer"},
		"tok-plain-agent": {ID: "agent-a"},
		"tok-stranger":    {ID: "someone-else", Role: "agent"},
		"tok-other-buyer": {ID: "buyer-c", Role: "buyer"},
		"tok-sys-claim":   {ID: "agent-a", Role: "system"},
	}}
	ctl := access.New(systemKey, v)
	ctl.Now = func() time.Time { return fixedNow }
	n := &recordingNotifier{}
	eng := engine.New(r, ctl, engine.Options{
		Notifier: n,
		Live:     notify.NewHub(50 * time.Millisecond),
		Now:      func() time.Time { return fixedNow },
	})
	t.Cleanup(func() {
		eng.Effects.Wait()
		conn.Close()
	})
	return testEnv{Engine: eng, Repo: r, Verifier: v, Notifier: n, Ctx: context.Background()}
}

func bearer(tok string) access.Credentials { return access.Credentials{Bearer: tok} }

func system() access.Credentials { return access.Credentials{SystemKey: systemKey} }

func strptr(s string) *string { return &s }

type seed struct {
	Status domain.Status
	Buyer  *string
	Title  *string
}

func seedCase(t *testing.T, env testEnv, s seed) domain.TrustCase {
	t.Helper()
	if s.Status == "" {
		s.Status = domain.StatusActive
	}
	steps := timeline.Initial()
	n := seedSeq.Add(1)
	tc := domain.TrustCase{
		ID:             fmt.Sprintf("case-%04d", n),
		CaseName:       "信義區三房",
		AgentID:        "agent-a",
		AgentName:      "王小明",
		AgentCompany:   "信義房屋",
		BuyerID:        s.Buyer,
		PropertyTitle:  s.Title,
		GuestToken:     fmt.Sprintf("guest-%04d", n),
		TokenExpiresAt: fixedNow.Add(90 * 24 * time.Hour),
		CurrentStep:    1,
		Status:         s.Status,
		Steps:          steps,
		Version:        1,
		CreatedAt:      fixedNow.Add(-time.Hour),
		UpdatedAt:      fixedNow.Add(-time.Hour),
	}
	if s.Status == domain.StatusDormant {
		ts := fixedNow.Add(-30 * time.Minute)
		tc.DormantAt = &ts
	}
	if _, err := env.Repo.InsertCase(env.Ctx, tc); err != nil {
		t.Fatalf("seed case: %v", err)
	}
	return tc
}

func expectKind(t *testing.T, err error, want apperr.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", want)
	}
	if got := apperr.KindOf(err); got != want {
		t.Fatalf("expected %s, got %s (%v)", want, got, err)
	}
}

func auditActions(t *testing.T, env testEnv, caseID string) []string {
	t.Helper()
	env.Engine.Effects.Wait()
	evts, err := env.Repo.AuditEvents(env.Ctx, caseID, 100)
	if err != nil {
		t.Fatalf("audit events: %v", err)
	}
	out := make([]string, 0, len(evts))
	for i := len(evts) - 1; i >= 0; i-- {
		out = append(out, evts[i].Action)
	}
	return out
}

// countingStore counts reads and writes that reach the store.
type countingStore struct {
	engine.CaseStore
	reads  atomic.Int32
	writes atomic.Int32
}

func (s *countingStore) GetCase(ctx context.Context, id string) (domain.TrustCase, error) {
	s.reads.Add(1)
	return s.CaseStore.GetCase(ctx, id)
}

func (s *countingStore) ConditionalUpdate(ctx context.Context, id string, pred repo.Predicate, patch repo.Patch) (int64, error) {
	s.writes.Add(1)
	return s.CaseStore.ConditionalUpdate(ctx, id, pred, patch)
}

// gatedStore holds every write until n reads have happened, so concurrent
// callers all observe the same pre-write state.
type gatedStore struct {
	engine.CaseStore
	n     int32
	reads atomic.Int32
	ready chan struct{}
	once  sync.Once
}

func newGatedStore(inner engine.CaseStore, n int32) *gatedStore {
	return &gatedStore{CaseStore: inner, n: n, ready: make(chan struct{})}
}

func (s *gatedStore) GetCase(ctx context.Context, id string) (domain.TrustCase, error) {
	tc, err := s.CaseStore.GetCase(ctx, id)
	if s.reads.Add(1) >= s.n {
		s.once.Do(func() { close(s.ready) })
	}
	return tc, err
}

func (s *gatedStore) ConditionalUpdate(ctx context.Context, id string, pred repo.Predicate, patch repo.Patch) (int64, error) {
	select {
	case <-s.ready:
	case <-time.After(5 * time.Second):
		return 0, errors.New("gate never opened")
	}
	return s.CaseStore.ConditionalUpdate(ctx, id, pred, patch)
}

// racingStore lets another writer bump the case version right before the
// first conditional write lands.
type racingStore struct {
	engine.CaseStore
	once sync.Once
}

func (s *racingStore) ConditionalUpdate(ctx context.Context, id string, pred repo.Predicate, patch repo.Patch) (int64, error) {
	s.once.Do(func() {
		_, _ = s.CaseStore.ConditionalUpdate(ctx, id, repo.Predicate{}, repo.Patch{UpdatedAt: fixedNow})
	})
	return s.CaseStore.ConditionalUpdate(ctx, id, pred, patch)
}

// brokenAuditStore fails every audit append.
type brokenAuditStore struct {
	engine.CaseStore
}

func (brokenAuditStore) InsertAuditEvent(context.Context, domain.AuditEvent) (int64, error) {
	return 0, errors.New("audit store unreachable")
}

var errTestNotify = errors.New("push service down")

func asAppErr(err error, target **apperr.Error) bool {
	return errors.As(err, target)
}
