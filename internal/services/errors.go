package services

import (
	"errors"

	apperrors "github.com/SAP-F-2025/copy-workflow-service/internal/errors"
	"github.com/SAP-F-2025/copy-workflow-service/internal/flattener"
	"github.com/SAP-F-2025/copy-workflow-service/internal/repositories"
)

// ===== CUSTOM ERROR TYPES =====

// Use shared validation errors from errors package
type ValidationError = apperrors.ValidationError
type ValidationErrors = apperrors.ValidationErrors

// ===== ERROR HELPERS =====

// NewValidationError creates a new validation error using the shared type
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return apperrors.NewValidationError(field, message, value)
}

func validationFailed(field, message string, value interface{}) error {
	return ValidationErrors{*apperrors.NewValidationError(field, message, value)}
}

// notFoundOr maps a missing row to NotFound and anything else to an
// internal error.
func notFoundOr(err error, what string) error {
	if repositories.IsNotFoundError(err) {
		return apperrors.Newf(apperrors.CodeNotFound, "%s not found", what)
	}
	return apperrors.Wrap(apperrors.CodeInternal, err, "failed to load "+what)
}

// IsNotFound checks if error represents a "not found" condition
func IsNotFound(err error) bool {
	return errors.Is(err, apperrors.ErrNotFound) || repositories.IsNotFoundError(err)
}

// IsValidation checks if error represents a validation failure
func IsValidation(err error) bool {
	return apperrors.CodeOf(err) == apperrors.CodeValidation
}

// IsConflict reports the concurrency codes a caller resolves by backing
// off, refreshing or re-acquiring.
func IsConflict(err error) bool {
	switch apperrors.CodeOf(err) {
	case apperrors.CodeLockConflict, apperrors.CodeVersionConflict, apperrors.CodeDraftConflict,
		apperrors.CodeLeaseExpired, apperrors.CodeOwnerMismatch:
		return true
	}
	return false
}

// IsTransition checks if error represents an illegal state change
func IsTransition(err error) bool {
	code := apperrors.CodeOf(err)
	return code == apperrors.CodeTransition || code == apperrors.CodeAlreadyGraded
}

// IsRetryable reports whether a finalize attempt may be retried later.
func IsRetryable(err error) bool {
	return apperrors.CodeOf(err) == apperrors.CodeFlattenFailed && flattener.IsTransient(err)
}
