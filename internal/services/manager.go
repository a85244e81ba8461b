package services

import (
	"log/slog"

	"github.com/SAP-F-2025/copy-workflow-service/internal/artifacts"
	"github.com/SAP-F-2025/copy-workflow-service/internal/cache"
	"github.com/SAP-F-2025/copy-workflow-service/internal/events"
	"github.com/SAP-F-2025/copy-workflow-service/internal/flattener"
	"github.com/SAP-F-2025/copy-workflow-service/internal/repositories"
	"github.com/SAP-F-2025/copy-workflow-service/internal/validator"
	"gorm.io/gorm"
)

// Dependencies are the collaborators shared by all workflow services.
// Cache, Publisher and Clock may be left nil.
type Dependencies struct {
	DB        *gorm.DB
	Repo      repositories.Repository
	Publisher events.EventPublisher
	Cache     cache.CacheService
	Flattener flattener.Flattener
	Artifacts artifacts.Store
	Validator *validator.Validator
	Clock     Clock
	Options   Options
	Logger    *slog.Logger
}

type serviceManager struct {
	copy       *copyService
	lease      *leaseService
	annotation *annotationService
	draft      *draftService
	finalize   *finalizeService
	dispatch   *dispatchService
	audit      *auditService
}

func NewServiceManager(deps Dependencies) ServiceManager {
	if deps.Clock == nil {
		deps.Clock = SystemClock{}
	}
	if deps.Cache == nil {
		deps.Cache = cache.NewNoopCache()
	}
	if deps.Validator == nil {
		deps.Validator = validator.New()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	opts := deps.Options.withDefaults()

	audit := newAuditService(deps.DB, deps.Repo, deps.Publisher, deps.Clock, opts.HashSalt, deps.Logger)
	wf := &workflow{
		db:     deps.DB,
		repo:   deps.Repo,
		clock:  deps.Clock,
		audit:  audit,
		logger: deps.Logger,
		ops:    NewServiceLogger(deps.Logger, LogConfig{Service: "copy-workflow", Component: "workflow"}),
		opts:   opts,
	}

	return &serviceManager{
		copy:       &copyService{workflow: wf, validator: deps.Validator},
		lease:      &leaseService{workflow: wf},
		annotation: &annotationService{workflow: wf, validator: deps.Validator, cache: deps.Cache},
		draft:      &draftService{workflow: wf, validator: deps.Validator},
		finalize:   &finalizeService{workflow: wf, flattener: deps.Flattener, store: deps.Artifacts, cache: deps.Cache},
		dispatch:   &dispatchService{workflow: wf, validator: deps.Validator},
		audit:      audit,
	}
}

func (m *serviceManager) Copy() CopyService             { return m.copy }
func (m *serviceManager) Lease() LeaseService           { return m.lease }
func (m *serviceManager) Annotation() AnnotationService { return m.annotation }
func (m *serviceManager) Draft() DraftService           { return m.draft }
func (m *serviceManager) Finalize() FinalizeService     { return m.finalize }
func (m *serviceManager) Dispatch() DispatchService     { return m.dispatch }
func (m *serviceManager) Audit() AuditService           { return m.audit }
