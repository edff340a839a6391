package workflow

import (
	"context"
	"strings"
	"testing"
	"time"

	"utilitysign/internal/bankid"
	"utilitysign/internal/formstate"
	"utilitysign/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func stringsReader(s string) *strings.Reader {
	return strings.NewReader(s)
}

func TestRegistry_CreateGetRemove(t *testing.T) {
	r := NewRegistry(8, time.Minute, func(id string) *Controller {
		return New(id, Deps{Log: zap.NewNop()})
	})

	c := r.Create()
	require.NotEmpty(t, c.ID())

	got, err := r.Get(c.ID())
	require.NoError(t, err)
	assert.Same(t, c, got)
	assert.Equal(t, 1, r.Len())

	r.Remove(c.ID())
	_, err = r.Get(c.ID())
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
}

func TestRegistry_EvictionStopsPolling(t *testing.T) {
	f := newFixture(t, false)
	r := NewRegistry(1, time.Minute, func(id string) *Controller { return f.ctrl })

	first := r.Create()
	f.toSigning(t)
	_, err := first.Submit(context.Background(), formstate.StaticSource(validSnapshot()))
	require.NoError(t, err)
	require.True(t, first.State().Polling)

	// a second workflow pushes the first one out of the registry
	r.factory = func(id string) *Controller {
		return New(id, Deps{Launcher: bankid.NewLauncher(&fakeOpener{}, answer(false), zap.NewNop()), Log: zap.NewNop()})
	}
	r.Create()

	assert.False(t, first.State().Polling)
	f.status.set(model.StatusCompleted)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, model.StepStatus, first.State().Step)
	assert.Zero(t, f.notifier.calls.Load())
}
