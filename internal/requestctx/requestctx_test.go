package requestctx

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCorrelationID(t *testing.T) {
	assert.Equal(t, "", CorrelationID(context.Background()))

	ctx := WithRequestData(context.Background(), &RequestData{CorrelationID: "req-1", ActorID: "t1"})
	assert.Equal(t, "req-1", CorrelationID(ctx))
	assert.Equal(t, "t1", GetRequestData(ctx).ActorID)
}

func TestEnsureDeadline(t *testing.T) {
	ctx, cancel := EnsureDeadline(context.Background(), time.Minute)
	defer cancel()
	deadline, ok := ctx.Deadline()
	assert.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Minute), deadline, 5*time.Second)

	parent, parentCancel := context.WithTimeout(context.Background(), time.Second)
	defer parentCancel()
	child, childCancel := EnsureDeadline(parent, time.Hour)
	defer childCancel()
	parentDeadline, _ := parent.Deadline()
	childDeadline, _ := child.Deadline()
	assert.Equal(t, parentDeadline, childDeadline)
}
