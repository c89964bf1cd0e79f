package logging

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScopedAddsRequestFields(t *testing.T) {
	logger, hook := test.NewNullLogger()
	base := logger.WithField("component", "files")

	ctx := WithLogger(context.Background(), logger.WithField("request_id", "r-1"))
	Scoped(ctx, base).Info("hello")

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "r-1", entry.Data["request_id"])
	assert.Equal(t, "files", entry.Data["component"])
}

func TestScopedWithoutRequestLogger(t *testing.T) {
	base := logrus.WithField("component", "files")
	assert.Same(t, base, Scoped(context.Background(), base))

	_, ok := FromContext(context.Background())
	assert.False(t, ok)
	assert.NotNil(t, GetLogger(context.Background()))
}
