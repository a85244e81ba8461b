package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	apperrors "github.com/SAP-F-2025/copy-workflow-service/internal/errors"
	"github.com/SAP-F-2025/copy-workflow-service/internal/events"
	"github.com/SAP-F-2025/copy-workflow-service/internal/models"
	"github.com/SAP-F-2025/copy-workflow-service/internal/repositories"
	"github.com/SAP-F-2025/copy-workflow-service/internal/requestctx"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// auditService appends hash-chained audit rows inside the caller's
// transaction and mirrors them to the event bus after commit.
type auditService struct {
	db        *gorm.DB
	repo      repositories.Repository
	publisher events.EventPublisher
	clock     Clock
	salt      string
	logger    *slog.Logger
	ops       *ServiceLogger
}

func newAuditService(db *gorm.DB, repo repositories.Repository, publisher events.EventPublisher, clock Clock, salt string, logger *slog.Logger) *auditService {
	return &auditService{
		db:        db,
		repo:      repo,
		publisher: publisher,
		clock:     clock,
		salt:      salt,
		logger:    logger,
		ops:       NewServiceLogger(logger, LogConfig{Service: "copy-workflow", Component: "audit"}),
	}
}

// changeSet collects the audit rows one transaction writes.
type changeSet struct {
	ctx    context.Context
	tx     *gorm.DB
	audit  *auditService
	events []*models.AuditEvent
}

func (s *auditService) newChangeSet(ctx context.Context, tx *gorm.DB) *changeSet {
	return &changeSet{ctx: ctx, tx: tx, audit: s}
}

func (cs *changeSet) record(copyID, actorID string, action models.AuditAction, metadata map[string]interface{}) error {
	event, err := cs.audit.append(cs.ctx, cs.tx, copyID, actorID, action, metadata)
	if err != nil {
		return err
	}
	cs.events = append(cs.events, event)
	return nil
}

func (s *auditService) append(ctx context.Context, tx *gorm.DB, copyID, actorID string, action models.AuditAction, metadata map[string]interface{}) (*models.AuditEvent, error) {
	last, err := s.repo.Audit().LastForCopy(ctx, tx, copyID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "failed to read audit chain")
	}

	// Postgres keeps microseconds; truncating first keeps the hash stable
	// across a round trip.
	occurredAt := s.clock.Now().UTC().Truncate(time.Microsecond)
	prevHash := ""
	if last != nil {
		prevHash = last.Hash
		if lastAt := last.OccurredAt.UTC(); occurredAt.Before(lastAt) {
			occurredAt = lastAt
		}
	}

	canonical, err := canonicalMetadata(SanitizeMetadata(metadata, s.salt))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "failed to encode audit metadata")
	}

	event := &models.AuditEvent{
		CopyID:     copyID,
		ActorID:    actorID,
		Action:     action,
		OccurredAt: occurredAt,
		RequestID:  requestctx.CorrelationID(ctx),
		Metadata:   datatypes.JSON(canonical),
		PrevHash:   prevHash,
	}
	event.Hash = chainHash(event, canonical)

	if err := s.repo.Audit().Append(ctx, tx, event); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "failed to append audit event")
	}
	return event, nil
}

// canonicalMetadata encodes metadata the way it reads back from a jsonb
// column: object keys sorted, numbers in their shortest form.
func canonicalMetadata(metadata interface{}) ([]byte, error) {
	raw, err := json.Marshal(metadata)
	if err != nil {
		return nil, err
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	if generic == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(generic)
}

func chainHash(event *models.AuditEvent, canonical []byte) string {
	h := sha256.New()
	h.Write([]byte(strings.Join([]string{
		event.PrevHash,
		event.CopyID,
		event.ActorID,
		string(event.Action),
		event.OccurredAt.UTC().Format(time.RFC3339Nano),
	}, "|")))
	h.Write([]byte("|"))
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil))
}

// publish is best-effort: the committed row is the source of truth.
func (s *auditService) publish(ctx context.Context, committed []*models.AuditEvent) {
	if s.publisher == nil {
		return
	}
	for _, event := range committed {
		var metadata map[string]interface{}
		if len(event.Metadata) > 0 {
			_ = json.Unmarshal(event.Metadata, &metadata)
		}
		record := events.AuditRecord{
			Sequence:   event.ID,
			CopyID:     event.CopyID,
			ActorID:    event.ActorID,
			Action:     string(event.Action),
			OccurredAt: event.OccurredAt,
			Metadata:   metadata,
			Hash:       event.Hash,
		}
		if err := s.publisher.PublishWorkflowEvent(ctx, events.NewWorkflowEvent(record, event.RequestID)); err != nil {
			s.logger.Warn("Failed to publish workflow event",
				"copy_id", event.CopyID,
				"action", event.Action,
				"sequence", event.ID,
				"error", err)
		}
	}
}

// ===== READ SIDE =====

type AuditPage struct {
	Events []*models.AuditEvent `json:"events"`
	Total  int64                `json:"total"`
	Limit  int                  `json:"limit"`
	Offset int                  `json:"offset"`
}

// ChainVerification is the result of re-hashing a copy's audit trail.
type ChainVerification struct {
	CopyID   string `json:"copy_id"`
	Events   int    `json:"events"`
	Valid    bool   `json:"valid"`
	BrokenAt *uint  `json:"broken_at,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

func (s *auditService) Query(ctx context.Context, filters repositories.AuditFilters) (*AuditPage, error) {
	var page *AuditPage
	err := s.read(ctx, "audit_query", filters.CopyID, func(ctx context.Context) error {
		if filters.From != nil && filters.To != nil && filters.To.Before(*filters.From) {
			return validationFailed("to", "must not be before from", filters.To)
		}
		found, total, err := s.repo.Audit().Query(ctx, nil, filters)
		if err != nil {
			return apperrors.Wrap(apperrors.CodeInternal, err, "failed to query audit log")
		}
		limit, offset := repositories.NormalizePaging(filters.Limit, filters.Offset)
		page = &AuditPage{Events: found, Total: total, Limit: limit, Offset: offset}
		return nil
	})
	return page, err
}

func (s *auditService) History(ctx context.Context, copyID string) ([]*models.AuditEvent, error) {
	var history []*models.AuditEvent
	err := s.read(ctx, "audit_history", copyID, func(ctx context.Context) error {
		var err error
		history, err = s.repo.Audit().ListForCopy(ctx, nil, copyID)
		if err != nil {
			return apperrors.Wrap(apperrors.CodeInternal, err, "failed to load audit history")
		}
		return nil
	})
	return history, err
}

// VerifyChain recomputes every hash of the copy's trail and reports the
// first row that does not match.
func (s *auditService) VerifyChain(ctx context.Context, copyID string) (*ChainVerification, error) {
	var result *ChainVerification
	err := s.read(ctx, "audit_verify", copyID, func(ctx context.Context) error {
		trail, err := s.repo.Audit().ListForCopy(ctx, nil, copyID)
		if err != nil {
			return apperrors.Wrap(apperrors.CodeInternal, err, "failed to load audit history")
		}
		result = verifyTrail(copyID, trail)
		return nil
	})
	return result, err
}

func verifyTrail(copyID string, trail []*models.AuditEvent) *ChainVerification {
	result := &ChainVerification{CopyID: copyID, Events: len(trail), Valid: true}
	prevHash := ""
	for _, event := range trail {
		broken := func(reason string) *ChainVerification {
			id := event.ID
			result.Valid = false
			result.BrokenAt = &id
			result.Reason = reason
			return result
		}
		if event.PrevHash != prevHash {
			return broken("prev_hash does not match the preceding event")
		}
		var metadata interface{}
		if len(event.Metadata) > 0 {
			if err := json.Unmarshal(event.Metadata, &metadata); err != nil {
				return broken("metadata is not valid JSON")
			}
		}
		canonical, err := canonicalMetadata(metadata)
		if err != nil {
			return broken("metadata cannot be encoded")
		}
		if chainHash(event, canonical) != event.Hash {
			return broken("hash does not match event content")
		}
		prevHash = event.Hash
	}
	return result
}

func (s *auditService) read(ctx context.Context, operation, resourceID string, fn func(ctx context.Context) error) error {
	cl := s.ops.WithOperation(ctx, operation, "")
	if err := fn(ctx); err != nil {
		werr := apperrors.Normalize(err, requestctx.CorrelationID(ctx))
		cl.LogResult(resourceID, "audit", werr)
		return werr
	}
	cl.LogResult(resourceID, "audit", nil)
	return nil
}

func describeMetadata(raw datatypes.JSON) string {
	if len(raw) == 0 {
		return ""
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return string(raw)
	}
	out, err := json.Marshal(generic)
	if err != nil {
		return fmt.Sprint(generic)
	}
	return string(out)
}
