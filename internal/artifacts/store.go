// Package artifacts stores the flattened output of graded copies. An
// artifact is written once per copy; writing different bytes for the
// same copy is an invariant violation.
package artifacts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	apperrors "github.com/SAP-F-2025/copy-workflow-service/internal/errors"
	"github.com/SAP-F-2025/copy-workflow-service/internal/models"
	"github.com/SAP-F-2025/copy-workflow-service/internal/repositories"
	"gorm.io/gorm"
)

const dbRefPrefix = "db:"

// Store persists artifacts. Put runs inside the finalize transaction so
// the artifact row commits or rolls back with the Graded transition.
type Store interface {
	Put(ctx context.Context, tx *gorm.DB, artifact *models.CopyArtifact) (string, error)
	Get(ctx context.Context, ref string) (*models.CopyArtifact, error)
}

// Digest is the sha256 hex digest artifacts are compared by.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

type DBStore struct {
	repo repositories.ArtifactRepository
}

func NewDBStore(repo repositories.ArtifactRepository) *DBStore {
	return &DBStore{repo: repo}
}

func (s *DBStore) Put(ctx context.Context, tx *gorm.DB, artifact *models.CopyArtifact) (string, error) {
	if artifact.Digest == "" {
		artifact.Digest = Digest(artifact.Data)
	}
	artifact.Size = int64(len(artifact.Data))

	existing, err := s.repo.GetByCopy(ctx, tx, artifact.CopyID)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeInternal, err, "failed to load artifact")
	}
	if existing != nil {
		return s.reuse(existing, artifact)
	}

	artifact.Location = dbRefPrefix + artifact.ID
	if err := s.repo.Create(ctx, tx, artifact); err != nil {
		return "", apperrors.Wrap(apperrors.CodeInternal, err, "failed to store artifact")
	}
	return artifact.Location, nil
}

func (s *DBStore) reuse(existing, artifact *models.CopyArtifact) (string, error) {
	if existing.Digest != artifact.Digest {
		return "", apperrors.New(apperrors.CodeInvariantViolation, "artifact already stored with different content").
			With("copy_id", artifact.CopyID)
	}
	return existing.Location, nil
}

func (s *DBStore) Get(ctx context.Context, ref string) (*models.CopyArtifact, error) {
	if !strings.HasPrefix(ref, dbRefPrefix) {
		return nil, apperrors.Newf(apperrors.CodeNotFound, "unknown artifact reference %q", ref)
	}
	artifact, err := s.repo.GetByID(ctx, nil, strings.TrimPrefix(ref, dbRefPrefix))
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, apperrors.Newf(apperrors.CodeNotFound, "artifact not found")
		}
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "failed to load artifact")
	}
	return artifact, nil
}
