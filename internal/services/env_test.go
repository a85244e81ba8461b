package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/SAP-F-2025/copy-workflow-service/internal/artifacts"
	"github.com/SAP-F-2025/copy-workflow-service/internal/events"
	"github.com/SAP-F-2025/copy-workflow-service/internal/flattener"
	"github.com/SAP-F-2025/copy-workflow-service/internal/models"
	"github.com/SAP-F-2025/copy-workflow-service/internal/repositories"
	"github.com/SAP-F-2025/copy-workflow-service/internal/repositories/postgres"
	"github.com/SAP-F-2025/copy-workflow-service/pkg"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// stubFlattener returns a deterministic artifact, or the queued errors
// first when any are set. during, when set, runs inside every call.
type stubFlattener struct {
	mu     sync.Mutex
	errs   []error
	calls  int32
	during func()
}

func (f *stubFlattener) failNext(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, errs...)
}

func (f *stubFlattener) Flatten(_ context.Context, req flattener.Request) ([]byte, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.during != nil {
		f.during()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	return []byte(fmt.Sprintf("%%PDF copy=%s pages=%d annotations=%d", req.CopyID, len(req.Pages), len(req.Annotations))), nil
}

type testEnv struct {
	t         *testing.T
	ctx       context.Context
	db        *gorm.DB
	repo      repositories.Repository
	clock     *fakeClock
	publisher *events.MockEventPublisher
	flattener *stubFlattener
	services  ServiceManager

	copies      *copyService
	leases      *leaseService
	annotations *annotationService
	drafts      *draftService
	finalizer   *finalizeService
	dispatcher  *dispatchService
	audit       *auditService
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, pkg.AutoMigrate(db))
	return db
}

func newTestEnv(t *testing.T, configure ...func(*Dependencies)) *testEnv {
	t.Helper()
	db := newTestDB(t)
	repo := postgres.NewRepository(db)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	env := &testEnv{
		t:         t,
		ctx:       context.Background(),
		db:        db,
		repo:      repo,
		clock:     newFakeClock(),
		publisher: events.NewMockEventPublisher(log),
		flattener: &stubFlattener{},
	}

	deps := Dependencies{
		DB:        db,
		Repo:      repo,
		Publisher: env.publisher,
		Flattener: env.flattener,
		Artifacts: artifacts.NewDBStore(repo.Artifact()),
		Clock:     env.clock,
		Options:   Options{HashSalt: "test-salt"},
		Logger:    log,
	}
	for _, fn := range configure {
		fn(&deps)
	}

	env.services = NewServiceManager(deps)
	m := env.services.(*serviceManager)
	env.copies = m.copy
	env.leases = m.lease
	env.annotations = m.annotation
	env.drafts = m.draft
	env.finalizer = m.finalize
	env.dispatcher = m.dispatch
	env.audit = m.audit
	return env
}

func (e *testEnv) exam(maxScore float64, questions ...models.GradingQuestion) *models.Exam {
	e.t.Helper()
	exam, err := e.copies.RegisterExam(e.ctx, "admin", &CreateExamRequest{
		Name:      "Physics midterm",
		MaxScore:  maxScore,
		Questions: questions,
	})
	require.NoError(e.t, err)
	return exam
}

func (e *testEnv) stagingCopy(examID string, pages int) *models.Copy {
	e.t.Helper()
	refs := make([]string, pages)
	for i := range refs {
		refs[i] = fmt.Sprintf("scan://%s/%d.png", uuid.NewString()[:8], i)
	}
	req := &ImportCopyRequest{ExamID: examID, AnonymousID: "anon-" + uuid.NewString()[:8]}
	if pages > 0 {
		req.Booklets = []BookletRequest{{Pages: refs}}
	}
	cp, err := e.copies.ImportCopy(e.ctx, "importer", req)
	require.NoError(e.t, err)
	return cp
}

func (e *testEnv) readyCopy(examID string, pages int) *models.Copy {
	e.t.Helper()
	cp := e.stagingCopy(examID, pages)
	cp, err := e.copies.ValidateCopy(e.ctx, "admin", cp.ID)
	require.NoError(e.t, err)
	return cp
}

func (e *testEnv) acquire(copyID, owner string) *LeaseGrant {
	e.t.Helper()
	grant, err := e.leases.Acquire(e.ctx, copyID, owner, 0)
	require.NoError(e.t, err)
	return grant
}

func (e *testEnv) annotate(copyID, owner, token string, delta float64) *models.Annotation {
	e.t.Helper()
	a, err := e.annotations.Create(e.ctx, copyID, owner, token, &CreateAnnotationRequest{
		PageIndex:  0,
		X:          0.1,
		Y:          0.1,
		W:          0.2,
		H:          0.1,
		Type:       string(models.AnnotationScoreDelta),
		ScoreDelta: &delta,
	})
	require.NoError(e.t, err)
	return a
}

func (e *testEnv) reload(copyID string) *models.Copy {
	e.t.Helper()
	cp, err := e.repo.Copy().GetByID(e.ctx, nil, copyID)
	require.NoError(e.t, err)
	return cp
}

func (e *testEnv) history(copyID string) []*models.AuditEvent {
	e.t.Helper()
	trail, err := e.audit.History(e.ctx, copyID)
	require.NoError(e.t, err)
	return trail
}

func (e *testEnv) actions(copyID string) []models.AuditAction {
	return lo.Map(e.history(copyID), func(ev *models.AuditEvent, _ int) models.AuditAction { return ev.Action })
}

// actionsSince drops the intake events so tests can focus on grading.
func (e *testEnv) actionsSince(copyID string, after models.AuditAction) []models.AuditAction {
	all := e.actions(copyID)
	idx := lo.IndexOf(all, after)
	if idx < 0 {
		return all
	}
	return all[idx+1:]
}
