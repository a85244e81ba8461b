package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"time"

	apperrors "github.com/SAP-F-2025/copy-workflow-service/internal/errors"
	"github.com/SAP-F-2025/copy-workflow-service/internal/requestctx"
)

// LogLevel represents different log levels for service operations
type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

// ServiceLogger provides structured logging for service layer operations
type ServiceLogger struct {
	logger *slog.Logger
	config LogConfig
}

type LogConfig struct {
	Service     string
	Component   string
	EnableDebug bool
}

func NewServiceLogger(logger *slog.Logger, config LogConfig) *ServiceLogger {
	return &ServiceLogger{
		logger: logger.With("service", config.Service, "component", config.Component),
		config: config,
	}
}

// ===== OPERATION LOGGING =====

func (l *ServiceLogger) LogOperation(ctx context.Context, operation, actorID, resourceID, resourceType string, duration time.Duration, err error) {
	logLevel := LogLevelInfo
	status := "success"

	if err != nil {
		logLevel = LogLevelError
		status = "error"

		// Adjust log level based on error code
		switch {
		case IsValidation(err):
			logLevel = LogLevelWarn
			status = "validation_error"
		case IsConflict(err), IsTransition(err):
			logLevel = LogLevelWarn
			status = "conflict"
		case IsNotFound(err):
			logLevel = LogLevelInfo
			status = "not_found"
		}
	}

	attrs := []slog.Attr{
		slog.String("operation", operation),
		slog.String("actor_id", actorID),
		slog.String("resource_id", resourceID),
		slog.String("resource_type", resourceType),
		slog.String("status", status),
		slog.Duration("duration", duration),
	}

	if err != nil {
		attrs = append(attrs,
			slog.String("error", err.Error()),
			slog.String("error_code", string(apperrors.CodeOf(err))),
		)

		var validationErr ValidationErrors
		if errors.As(err, &validationErr) {
			attrs = append(attrs, slog.Int("validation_errors_count", len(validationErr)))
		}
	}

	if correlationID := requestctx.CorrelationID(ctx); correlationID != "" {
		attrs = append(attrs, slog.String("correlation_id", correlationID))
	}

	// Add caller information for errors
	if logLevel == LogLevelError {
		if pc, file, line, ok := runtime.Caller(2); ok {
			if fn := runtime.FuncForPC(pc); fn != nil {
				attrs = append(attrs,
					slog.String("caller_func", fn.Name()),
					slog.String("caller_file", file),
					slog.Int("caller_line", line),
				)
			}
		}
	}

	message := fmt.Sprintf("%s operation %s", operation, status)

	switch logLevel {
	case LogLevelDebug:
		if l.config.EnableDebug {
			l.logger.LogAttrs(ctx, slog.LevelDebug, message, attrs...)
		}
	case LogLevelInfo:
		l.logger.LogAttrs(ctx, slog.LevelInfo, message, attrs...)
	case LogLevelWarn:
		l.logger.LogAttrs(ctx, slog.LevelWarn, message, attrs...)
	case LogLevelError:
		l.logger.LogAttrs(ctx, slog.LevelError, message, attrs...)
	}
}

func (l *ServiceLogger) LogValidationError(ctx context.Context, operation, actorID string, validationErrors ValidationErrors) {
	attrs := []slog.Attr{
		slog.String("operation", operation),
		slog.String("actor_id", actorID),
		slog.Int("error_count", len(validationErrors)),
	}

	for i, err := range validationErrors {
		if i < 5 { // Limit to first 5 errors to avoid log spam
			attrs = append(attrs, slog.Group(fmt.Sprintf("error_%d", i+1),
				slog.String("field", err.Field),
				slog.String("message", err.Message),
				slog.Any("value", SanitizeForLogging(err.Value)),
			))
		}
	}

	l.logger.LogAttrs(ctx, slog.LevelWarn, "Validation failed", attrs...)
}

// ===== ERROR RECOVERY LOGGING =====

func (l *ServiceLogger) LogRecovery(ctx context.Context, operation string, recovered interface{}, stack []byte) {
	attrs := []slog.Attr{
		slog.String("operation", operation),
		slog.Any("panic_value", recovered),
		slog.String("stack_trace", string(stack)),
	}

	l.logger.LogAttrs(ctx, slog.LevelError, "Panic recovered", attrs...)
}

// ===== MIDDLEWARE AND HELPERS =====

// ContextualLogger wraps operations with automatic logging
type ContextualLogger struct {
	logger    *ServiceLogger
	operation string
	actorID   string
	startTime time.Time
	ctx       context.Context
}

func (l *ServiceLogger) WithOperation(ctx context.Context, operation, actorID string) *ContextualLogger {
	return &ContextualLogger{
		logger:    l,
		operation: operation,
		actorID:   actorID,
		startTime: time.Now(),
		ctx:       ctx,
	}
}

func (cl *ContextualLogger) LogResult(resourceID, resourceType string, err error) {
	duration := time.Since(cl.startTime)
	cl.logger.LogOperation(cl.ctx, cl.operation, cl.actorID, resourceID, resourceType, duration, err)

	var validationErrors ValidationErrors
	if err != nil && errors.As(err, &validationErrors) {
		cl.logger.LogValidationError(cl.ctx, cl.operation, cl.actorID, validationErrors)
	}
}

// ===== ERROR FORMATTING HELPERS =====

func FormatError(err error) map[string]interface{} {
	if err == nil {
		return nil
	}

	result := map[string]interface{}{
		"message": err.Error(),
		"code":    string(apperrors.CodeOf(err)),
	}

	var we *apperrors.WorkflowError
	if errors.As(err, &we) && we.CorrelationID != "" {
		result["correlation_id"] = we.CorrelationID
	}

	var validationErrs ValidationErrors
	if errors.As(err, &validationErrs) {
		fields := make([]map[string]interface{}, len(validationErrs))
		for i, validationErr := range validationErrs {
			fields[i] = map[string]interface{}{
				"field":   validationErr.Field,
				"message": validationErr.Message,
			}
		}
		result["errors"] = fields
	}

	return result
}

// ===== SANITIZING =====

var (
	sensitiveKeys = []string{"password", "token", "key", "secret", "auth", "credential"}
	identityKeys  = []string{"username", "email", "student_name", "student_id"}
)

// HashIdentity turns a personal identifier into a short salted digest that
// still correlates across events.
func HashIdentity(salt, value string) string {
	if value == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(salt + ":" + value))
	return "hash:" + hex.EncodeToString(sum[:])[:12]
}

// SanitizeForLogging removes sensitive information from data before logging
func SanitizeForLogging(data interface{}) interface{} {
	return sanitize(data, "")
}

// SanitizeMetadata is SanitizeForLogging for audit metadata: identity keys
// are replaced by their salted hash instead of being kept.
func SanitizeMetadata(metadata map[string]interface{}, salt string) map[string]interface{} {
	if metadata == nil {
		return map[string]interface{}{}
	}
	return sanitizeMap(metadata, salt)
}

func sanitize(data interface{}, salt string) interface{} {
	if data == nil {
		return nil
	}

	switch v := data.(type) {
	case string:
		return sanitizeString(v)
	case map[string]interface{}:
		return sanitizeMap(v, salt)
	case []interface{}:
		return sanitizeSlice(v, salt)
	default:
		return data
	}
}

func sanitizeString(s string) string {
	lowerS := strings.ToLower(s)

	for _, field := range []string{"password", "token", "secret"} {
		if strings.Contains(lowerS, field+"=") || strings.Contains(lowerS, field+":") {
			return "[REDACTED]"
		}
	}

	return s
}

func sanitizeMap(m map[string]interface{}, salt string) map[string]interface{} {
	result := make(map[string]interface{}, len(m))

	for k, v := range m {
		lowerK := strings.ToLower(k)

		switch {
		case containsAny(lowerK, sensitiveKeys):
			result[k] = "[REDACTED]"
		case containsAny(lowerK, identityKeys):
			if s, ok := v.(string); ok {
				result[k] = HashIdentity(salt, s)
			} else {
				result[k] = "[REDACTED]"
			}
		default:
			result[k] = sanitize(v, salt)
		}
	}

	return result
}

func sanitizeSlice(s []interface{}, salt string) []interface{} {
	result := make([]interface{}, len(s))
	for i, v := range s {
		result[i] = sanitize(v, salt)
	}
	return result
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
