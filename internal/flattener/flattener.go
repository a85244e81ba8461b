// Package flattener is the client side of the external service that burns
// annotations into page images and returns the graded artifact.
package flattener

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type Category string

const (
	CategoryTransient Category = "transient"
	CategoryFatal     Category = "fatal"
)

type Annotation struct {
	ID         string   `json:"id"`
	PageIndex  int      `json:"page_index"`
	X          float64  `json:"x"`
	Y          float64  `json:"y"`
	W          float64  `json:"w"`
	H          float64  `json:"h"`
	Type       string   `json:"type"`
	Content    string   `json:"content,omitempty"`
	ScoreDelta *float64 `json:"score_delta,omitempty"`
	Version    int      `json:"version"`
}

type Request struct {
	CopyID      string       `json:"copy_id"`
	Pages       []string     `json:"pages"`
	Annotations []Annotation `json:"annotations"`
}

// Flattener must be idempotent for a given request.
type Flattener interface {
	Flatten(ctx context.Context, req Request) ([]byte, error)
}

// Func adapts a plain function to Flattener.
type Func func(ctx context.Context, req Request) ([]byte, error)

func (f Func) Flatten(ctx context.Context, req Request) ([]byte, error) {
	return f(ctx, req)
}

// Error is a categorised flattening failure.
type Error struct {
	Category Category
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("flatten %s: %v", e.Category, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func Transient(err error) error { return &Error{Category: CategoryTransient, Err: err} }
func Fatal(err error) error     { return &Error{Category: CategoryFatal, Err: err} }

// CategoryOf classifies err. Deadline and cancellation count as transient,
// uncategorised errors as fatal.
func CategoryOf(err error) Category {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Category
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTransient
	}
	return CategoryFatal
}

func IsTransient(err error) bool {
	return err != nil && CategoryOf(err) == CategoryTransient
}

type timeoutFlattener struct {
	next    Flattener
	timeout time.Duration
}

// WithTimeout bounds every call of next by timeout.
func WithTimeout(next Flattener, timeout time.Duration) Flattener {
	if timeout <= 0 {
		return next
	}
	return &timeoutFlattener{next: next, timeout: timeout}
}

func (t *timeoutFlattener) Flatten(ctx context.Context, req Request) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		data, err := t.next.Flatten(ctx, req)
		done <- result{data, err}
	}()

	select {
	case r := <-done:
		if r.err != nil && ctx.Err() != nil {
			return nil, Transient(fmt.Errorf("flattener timed out after %s: %w", t.timeout, r.err))
		}
		return r.data, r.err
	case <-ctx.Done():
		return nil, Transient(fmt.Errorf("flattener timed out after %s: %w", t.timeout, ctx.Err()))
	}
}
