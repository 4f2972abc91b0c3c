package jobs

import (
	"context"
	"testing"

	"github.com/RezaEskandarii/keyfire/internal/logging"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutorRegistry_RegisterAndExecute(t *testing.T) {
	registry := NewExecutorRegistry(nil)

	var got Execution
	err := registry.Register("report", func(ctx context.Context, exec Execution) error {
		got = exec
		return nil
	})
	require.NoError(t, err)
	assert.True(t, registry.Exists("report"))

	exec := Execution{JobID: uuid.New(), JobType: "report", Data: []byte(`{"a":1}`), Attempt: 1}
	require.NoError(t, registry.Execute(context.Background(), exec))
	assert.Equal(t, exec, got)
}

func TestExecutorRegistry_DuplicateRegistration(t *testing.T) {
	registry := NewExecutorRegistry(nil)
	noop := func(ctx context.Context, exec Execution) error { return nil }

	require.NoError(t, registry.Register("report", noop))
	err := registry.Register("report", noop)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestExecutorRegistry_InvalidRegistration(t *testing.T) {
	registry := NewExecutorRegistry(nil)
	assert.Error(t, registry.Register("", func(ctx context.Context, exec Execution) error { return nil }))
	assert.Error(t, registry.Register("report", nil))
}

func TestExecutorRegistry_UnknownTypeWithoutFallback(t *testing.T) {
	registry := NewExecutorRegistry(nil)
	err := registry.Execute(context.Background(), Execution{JobType: "missing"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestExecutorRegistry_UnknownTypeUsesFallback(t *testing.T) {
	called := false
	registry := NewExecutorRegistry(func(ctx context.Context, exec Execution) error {
		called = true
		return nil
	})

	require.NoError(t, registry.Execute(context.Background(), Execution{JobType: "anything"}))
	assert.True(t, called)
}

func TestExecutorRegistry_RecoversPanics(t *testing.T) {
	registry := NewExecutorRegistry(nil)
	require.NoError(t, registry.Register("explode", func(ctx context.Context, exec Execution) error {
		panic("kaboom")
	}))

	err := registry.Execute(context.Background(), Execution{JobType: "explode"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
}

func TestExecutorRegistry_PropagatesErrors(t *testing.T) {
	registry := NewExecutorRegistry(nil)
	require.NoError(t, registry.Register("fail", func(ctx context.Context, exec Execution) error {
		return errors.New("boom")
	}))

	err := registry.Execute(context.Background(), Execution{JobType: "fail"})
	assert.EqualError(t, err, "boom")
}

func TestExecutorRegistry_List(t *testing.T) {
	registry := NewExecutorRegistry(nil)
	noop := func(ctx context.Context, exec Execution) error { return nil }
	require.NoError(t, registry.Register("b", noop))
	require.NoError(t, registry.Register("a", noop))

	assert.Equal(t, []string{"a", "b"}, registry.List())
}

func TestLogPayloadExecutor(t *testing.T) {
	executor := LogPayloadExecutor(logging.Nop())
	assert.NoError(t, executor(context.Background(), Execution{JobID: uuid.New(), JobType: "report", Data: []byte(`{}`)}))
}
