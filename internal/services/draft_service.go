package services

import (
	"context"
	"encoding/json"

	apperrors "github.com/SAP-F-2025/copy-workflow-service/internal/errors"
	"github.com/SAP-F-2025/copy-workflow-service/internal/models"
	"github.com/SAP-F-2025/copy-workflow-service/internal/validator"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type PutDraftRequest struct {
	Payload  json.RawMessage `json:"payload" validate:"required"`
	ClientID string          `json:"client_id" validate:"required,max=64"`
}

type draftService struct {
	*workflow
	validator *validator.Validator
}

// Put saves the owner's autosave. A draft started from another client
// session is never overwritten.
func (s *draftService) Put(ctx context.Context, copyID, ownerID, token string, req *PutDraftRequest) (*models.Draft, error) {
	var saved *models.Draft
	err := s.run(ctx, "put_draft", ownerID, copyID, func(ctx context.Context) error {
		if err := s.validator.ValidateStruct(req); err != nil {
			return err
		}
		if err := s.validator.Annotation().ValidateDraftPayload(req.Payload, s.opts.DraftMaxBytes); err != nil {
			return err
		}
		return s.inCopyTx(ctx, copyID, func(tx *gorm.DB, cp *models.Copy, cs *changeSet) error {
			if _, err := s.requireLease(ctx, tx, cp, ownerID, token); err != nil {
				return err
			}

			draft, err := s.repo.Draft().Get(ctx, tx, copyID, ownerID)
			if err != nil {
				return apperrors.Wrap(apperrors.CodeInternal, err, "failed to load draft")
			}

			now := s.now()
			switch {
			case draft == nil:
				draft = &models.Draft{
					ID:        uuid.NewString(),
					CopyID:    copyID,
					OwnerID:   ownerID,
					ClientID:  req.ClientID,
					Payload:   datatypes.JSON(req.Payload),
					Version:   1,
					CreatedAt: now,
					UpdatedAt: now,
				}
				if err := s.repo.Draft().Create(ctx, tx, draft); err != nil {
					return apperrors.Wrap(apperrors.CodeInternal, err, "failed to create draft")
				}
			case draft.ClientID != req.ClientID:
				return apperrors.ErrDraftConflict.With("copy_id", copyID)
			default:
				draft.Payload = datatypes.JSON(req.Payload)
				draft.Version++
				draft.UpdatedAt = now
				if err := s.repo.Draft().Update(ctx, tx, draft); err != nil {
					return apperrors.Wrap(apperrors.CodeInternal, err, "failed to update draft")
				}
			}

			saved = draft
			return cs.record(copyID, ownerID, models.AuditDraftSave, map[string]interface{}{
				"draft_id":  draft.ID,
				"version":   draft.Version,
				"client_id": draft.ClientID,
				"size":      len(req.Payload),
			})
		})
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// Get returns ownerID's own draft only. Graded copies have none.
func (s *draftService) Get(ctx context.Context, copyID, ownerID string) (*models.Draft, error) {
	var draft *models.Draft
	err := s.run(ctx, "get_draft", ownerID, copyID, func(ctx context.Context) error {
		cp, err := s.repo.Copy().GetByID(ctx, nil, copyID)
		if err != nil {
			return notFoundOr(err, "copy")
		}
		if cp.IsGraded() {
			return apperrors.Newf(apperrors.CodeNotFound, "draft not found")
		}
		draft, err = s.repo.Draft().Get(ctx, nil, copyID, ownerID)
		if err != nil {
			return apperrors.Wrap(apperrors.CodeInternal, err, "failed to load draft")
		}
		if draft == nil {
			return apperrors.Newf(apperrors.CodeNotFound, "draft not found")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return draft, nil
}

// Delete drops the owner's draft. No lease is needed and deleting an
// absent draft is a no-op.
func (s *draftService) Delete(ctx context.Context, copyID, ownerID string) error {
	return s.run(ctx, "delete_draft", ownerID, copyID, func(ctx context.Context) error {
		return s.inCopyTx(ctx, copyID, func(tx *gorm.DB, cp *models.Copy, cs *changeSet) error {
			if cp.IsGraded() {
				return nil
			}
			deleted, err := s.repo.Draft().Delete(ctx, tx, copyID, ownerID)
			if err != nil {
				return apperrors.Wrap(apperrors.CodeInternal, err, "failed to delete draft")
			}
			if !deleted {
				return nil
			}
			return cs.record(copyID, ownerID, models.AuditDraftDelete, nil)
		})
	})
}
