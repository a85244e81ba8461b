package artifacts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	apperrors "github.com/SAP-F-2025/copy-workflow-service/internal/errors"
	"github.com/SAP-F-2025/copy-workflow-service/internal/models"
	"github.com/SAP-F-2025/copy-workflow-service/internal/repositories"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"gorm.io/gorm"
)

const digestMetadataKey = "sha256"

// GCSStore writes artifact bytes to a bucket with a does-not-exist
// precondition and keeps the artifact row, without the bytes, in the
// database transaction.
type GCSStore struct {
	client *gcs.Client
	bucket string
	prefix string
	repo   repositories.ArtifactRepository
}

func NewGCSStore(ctx context.Context, bucket, prefix string, repo repositories.ArtifactRepository, opts ...option.ClientOption) (*GCSStore, error) {
	if bucket == "" {
		return nil, fmt.Errorf("artifact bucket is required")
	}
	opts = append(opts, option.WithScopes(gcs.ScopeReadWrite))
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket, prefix: prefix, repo: repo}, nil
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}

func (s *GCSStore) objectKey(copyID string) string {
	return path.Join(s.prefix, "copies", copyID, "final.pdf")
}

func (s *GCSStore) ref(key string) string {
	return "gs://" + s.bucket + "/" + key
}

func (s *GCSStore) Put(ctx context.Context, tx *gorm.DB, artifact *models.CopyArtifact) (string, error) {
	if artifact.Digest == "" {
		artifact.Digest = Digest(artifact.Data)
	}
	artifact.Size = int64(len(artifact.Data))

	existing, err := s.repo.GetByCopy(ctx, tx, artifact.CopyID)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeInternal, err, "failed to load artifact")
	}
	if existing != nil {
		if existing.Digest != artifact.Digest {
			return "", apperrors.New(apperrors.CodeInvariantViolation, "artifact already stored with different content").
				With("copy_id", artifact.CopyID)
		}
		return existing.Location, nil
	}

	key := s.objectKey(artifact.CopyID)
	if err := s.upload(ctx, key, artifact); err != nil {
		return "", err
	}

	row := *artifact
	row.Data = nil
	row.Location = s.ref(key)
	if err := s.repo.Create(ctx, tx, &row); err != nil {
		return "", apperrors.Wrap(apperrors.CodeInternal, err, "failed to record artifact")
	}
	artifact.Location = row.Location
	return row.Location, nil
}

// upload tolerates an object left by an earlier attempt whose transaction
// rolled back, as long as its digest matches.
func (s *GCSStore) upload(ctx context.Context, key string, artifact *models.CopyArtifact) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	obj := s.client.Bucket(s.bucket).Object(key)
	w := obj.If(gcs.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = artifact.ContentType
	w.Metadata = map[string]string{digestMetadataKey: artifact.Digest, "copy_id": artifact.CopyID}

	if _, err := io.Copy(w, bytes.NewReader(artifact.Data)); err != nil {
		_ = w.Close()
		return apperrors.Wrap(apperrors.CodeInternal, err, "failed to write artifact to GCS")
	}
	err := w.Close()
	if err == nil {
		return nil
	}

	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) || apiErr.Code != http.StatusPreconditionFailed {
		return apperrors.Wrap(apperrors.CodeInternal, err, "failed to close GCS writer")
	}

	attrs, attrErr := obj.Attrs(ctx)
	if attrErr != nil {
		return apperrors.Wrap(apperrors.CodeInternal, attrErr, "failed to read existing artifact")
	}
	if attrs.Metadata[digestMetadataKey] != artifact.Digest {
		return apperrors.New(apperrors.CodeInvariantViolation, "artifact object exists with different content").
			With("copy_id", artifact.CopyID)
	}
	return nil
}

func (s *GCSStore) Get(ctx context.Context, ref string) (*models.CopyArtifact, error) {
	prefix := "gs://" + s.bucket + "/"
	if !strings.HasPrefix(ref, prefix) {
		return nil, apperrors.Newf(apperrors.CodeNotFound, "unknown artifact reference %q", ref)
	}
	key := strings.TrimPrefix(ref, prefix)

	r, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, apperrors.Newf(apperrors.CodeNotFound, "artifact not found")
		}
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "failed to open artifact")
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "failed to read artifact")
	}

	copyID := path.Base(path.Dir(key))
	artifact, err := s.repo.GetByCopy(ctx, nil, copyID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "failed to load artifact record")
	}
	if artifact == nil {
		artifact = &models.CopyArtifact{CopyID: copyID, Location: ref, Digest: Digest(data)}
	}
	artifact.Data = data
	return artifact, nil
}
